package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/tradeline-backend/internal/escrow"
	"github.com/angelmondragon/tradeline-backend/internal/payouts"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

const defaultBatchSize = 100

type PayoutRetryJobParams struct {
	Logger    *logger.Logger
	Reader    deferredPayoutReader
	Payer     deferredPayer
	BatchSize int
}

type deferredPayoutReader interface {
	ListPendingPayouts(ctx context.Context, limit int) ([]models.Transaction, error)
}

type deferredPayer interface {
	Balance(ctx context.Context) (int64, error)
	PayDeferred(ctx context.Context, txn *models.Transaction, actor string) (*payouts.Result, error)
}

// NewPayoutRetryJob builds the job that drains deferred payouts while the
// platform balance can cover them.
func NewPayoutRetryJob(params PayoutRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("pending payout reader required")
	}
	if params.Payer == nil {
		return nil, fmt.Errorf("payout engine required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &payoutRetryJob{
		logg:   params.Logger,
		reader: params.Reader,
		payer:  params.Payer,
		batch:  batch,
	}, nil
}

type payoutRetryJob struct {
	logg   *logger.Logger
	reader deferredPayoutReader
	payer  deferredPayer
	batch  int
}

func (j *payoutRetryJob) Name() string { return "payout-retry" }

// Run walks deferred payouts oldest first and stops at the first one the
// remaining balance cannot cover, so later sellers never jump the queue.
func (j *payoutRetryJob) Run(ctx context.Context) error {
	pending, err := j.reader.ListPendingPayouts(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list pending payouts: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	remaining, err := j.payer.Balance(ctx)
	if err != nil {
		return fmt.Errorf("payout retry balance: %w", err)
	}

	var (
		errs    error
		paid    int
		skipped int
	)
	for i := range pending {
		txn := &pending[i]
		itemCtx := j.logg.WithTransactionID(ctx, txn.ID.String())
		itemCtx = j.logg.WithReference(itemCtx, txn.PaymentReference)

		if txn.SellerShareKobo > remaining {
			j.logg.Info(j.logg.WithFields(itemCtx, map[string]any{
				"seller_share_kobo": txn.SellerShareKobo,
				"balance_kobo":      remaining,
				"left_in_queue":     len(pending) - i,
			}), "balance exhausted; remaining payouts wait for the next cycle")
			break
		}

		res, err := j.payer.PayDeferred(itemCtx, txn, escrow.ActorSystem)
		switch {
		case err == nil && res.Outcome == payouts.OutcomeAlreadyProcessed:
			skipped++
		case err == nil && res.Outcome == payouts.OutcomeFailed:
			j.logg.Warn(itemCtx, "deferred payout rejected by gateway")
		case err == nil:
			paid++
			remaining -= txn.SellerShareKobo
		case pkgerrors.IsCode(err, pkgerrors.CodeConflict):
			skipped++
		default:
			// the transfer may have left; do not spend the same money twice
			if pkgerrors.IsCode(err, pkgerrors.CodeUpstreamUnavailable) {
				remaining -= txn.SellerShareKobo
			}
			j.logg.Error(itemCtx, "deferred payout failed", err)
			errs = multierr.Append(errs, fmt.Errorf("payout %s: %w", txn.PaymentReference, err))
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates":   len(pending),
		"paid":         paid,
		"skipped":      skipped,
		"failed":       len(multierr.Errors(errs)),
		"balance_left": remaining,
	}), "payout retry pass complete")
	return errs
}
