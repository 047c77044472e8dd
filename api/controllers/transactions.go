package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/api/responses"
	"github.com/angelmondragon/tradeline-backend/api/validators"
	"github.com/angelmondragon/tradeline-backend/internal/payouts"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/storage/gcs"
)

type deliveryConfirmer interface {
	ConfirmDelivery(ctx context.Context, txID, userID uuid.UUID) (*payouts.Result, error)
}

type refundRequester interface {
	RequestRefund(ctx context.Context, txID, buyerID uuid.UUID, reason string) (*models.RefundRequest, error)
}

type receiptSigner interface {
	SignedReadURL(bucket, object string, expires time.Duration) (string, error)
}

type payoutResultView struct {
	Outcome     payouts.Outcome  `json:"outcome"`
	Transaction *transactionView `json:"transaction,omitempty"`
}

func newPayoutResultView(res *payouts.Result) payoutResultView {
	out := payoutResultView{Outcome: res.Outcome}
	if res.Transaction != nil {
		view := newTransactionView(res.Transaction)
		out.Transaction = &view
	}
	return out
}

// ConfirmDelivery records the buyer's delivery confirmation and releases the
// seller's share. A payout that cannot run now is deferred, not failed.
func ConfirmDelivery(svc deliveryConfirmer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txID, err := validators.ParseUUIDParam(r, "transactionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		res, err := svc.ConfirmDelivery(r.Context(), txID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPayoutResultView(res))
	}
}

type refundRequestBody struct {
	Reason string `json:"reason" validate:"required,notblank,min=3,max=1000"`
}

func RequestRefund(svc refundRequester, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, _, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txID, err := validators.ParseUUIDParam(r, "transactionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body refundRequestBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req, err := svc.RequestRefund(r.Context(), txID, buyerID, validators.SanitizeString(body.Reason, 1000))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newRefundView(req))
	}
}

// TransactionReceipt hands a party a short-lived download link for the
// receipt stored once the payout completed.
func TransactionReceipt(svc paymentService, signer receiptSigner, ttl time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txn, ok := loadTransaction(w, r, svc, logg)
		if !ok {
			return
		}
		if txn.ReceiptURL == nil || strings.TrimSpace(*txn.ReceiptURL) == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "receipt not available yet"))
			return
		}
		if signer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeDependency, "receipt storage unavailable"))
			return
		}

		bucket, object, err := gcs.ParseObjectURL(*txn.ReceiptURL)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stored receipt url is malformed"))
			return
		}
		signed, err := signer.SignedReadURL(bucket, object, ttl)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign receipt url"))
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"url":        signed,
			"expires_at": time.Now().UTC().Add(ttl),
		})
	}
}
