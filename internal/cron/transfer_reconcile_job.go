package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/tradeline-backend/internal/payouts"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

const defaultTransferStaleAfter = 30 * time.Minute

type TransferReconcileJobParams struct {
	Logger     *logger.Logger
	Reader     staleTransferReader
	Reconciler transferReconciler
	StaleAfter time.Duration
	BatchSize  int
}

type staleTransferReader interface {
	ListStaleTransfers(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)
}

type transferReconciler interface {
	ReconcileTransfer(ctx context.Context, txn *models.Transaction) (*payouts.Result, error)
}

// NewTransferReconcileJob verifies transfers that have sat in
// transfer_initiated without a webhook.
func NewTransferReconcileJob(params TransferReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("transaction reader required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("payout engine required")
	}
	after := params.StaleAfter
	if after <= 0 {
		after = defaultTransferStaleAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &transferReconcileJob{
		logg:       params.Logger,
		reader:     params.Reader,
		reconciler: params.Reconciler,
		after:      after,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type transferReconcileJob struct {
	logg       *logger.Logger
	reader     staleTransferReader
	reconciler transferReconciler
	after      time.Duration
	batch      int
	now        func() time.Time
}

func (j *transferReconcileJob) Name() string { return "transfer-reconcile" }

func (j *transferReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.after)
	rows, err := j.reader.ListStaleTransfers(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale transfers: %w", err)
	}

	var errs error
	settled := 0
	for i := range rows {
		txn := &rows[i]
		itemCtx := j.logg.WithTransactionID(ctx, txn.ID.String())
		res, err := j.reconciler.ReconcileTransfer(itemCtx, txn)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconcile transfer %s: %w", txn.PaymentReference, err))
			continue
		}
		if res.Outcome != payouts.OutcomeTransferPending {
			settled++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(rows),
		"settled":    settled,
		"failed":     len(multierr.Errors(errs)),
	}), "transfer reconciliation pass complete")
	return errs
}
