package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/tradeline-backend/api/responses"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

const maxWebhookBody = 1 << 20

type PaystackWebhookService interface {
	HandleEvent(ctx context.Context, eventID string, event *paystack.Event) error
}

type paystackWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type signingSecret interface {
	SigningSecret() string
}

// PaystackWebhook verifies, deduplicates and applies gateway events. Every
// outcome the engines recorded is acknowledged with 200; only failures that
// left nothing behind return 5xx so the gateway redelivers.
func PaystackWebhook(svc PaystackWebhookService, secret signingSecret, guard paystackWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if secret == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "signing secret unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}
		if len(payload) > maxWebhookBody {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook body too large"))
			return
		}

		// nothing is parsed before the signature checks out
		if err := paystack.VerifySignature(secret.SigningSecret(), payload, r.Header.Get(paystack.SignatureHeader)); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid webhook signature"))
			return
		}

		event, err := paystack.ParseEvent(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload"))
			return
		}
		eventID := event.DedupKey()
		ctx = logg.WithFields(ctx, map[string]any{"event_id": eventID, "event": event.Event})

		if guard != nil {
			seen, err := guard.CheckAndMark(ctx, eventID)
			if err != nil {
				// redis is only an early filter; the ledger guards correctness
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "webhook idempotency guard unavailable")
			} else if seen {
				logg.Info(ctx, "duplicate webhook delivery ignored")
				responses.WriteSuccess(w, nil)
				return
			}
		}

		if err := svc.HandleEvent(ctx, eventID, event); err != nil {
			if guard != nil {
				_ = guard.Delete(ctx, eventID)
			}
			if pkgerrors.As(err) == nil {
				err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply webhook event")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		logg.Info(ctx, "paystack event processed")
		responses.WriteSuccess(w, nil)
	}
}
