package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/tradeline-backend/internal/reconciliation"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

const defaultVerifyAfter = 10 * time.Minute

type PaymentVerificationJobParams struct {
	Logger      *logger.Logger
	Reader      stalePaymentReader
	Verifier    referenceVerifier
	VerifyAfter time.Duration
	BatchSize   int
}

type stalePaymentReader interface {
	ListByStatusCreatedBefore(ctx context.Context, status enums.TransactionStatus, cutoff time.Time, limit int) ([]models.Transaction, error)
}

type referenceVerifier interface {
	VerifyByReference(ctx context.Context, reference string) (*reconciliation.Result, error)
}

// NewPaymentVerificationJob polls the gateway for unpaid transactions in case
// a charge webhook never arrived.
func NewPaymentVerificationJob(params PaymentVerificationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("transaction reader required")
	}
	if params.Verifier == nil {
		return nil, fmt.Errorf("reconciliation engine required")
	}
	after := params.VerifyAfter
	if after <= 0 {
		after = defaultVerifyAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &paymentVerificationJob{
		logg:     params.Logger,
		reader:   params.Reader,
		verifier: params.Verifier,
		after:    after,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type paymentVerificationJob struct {
	logg     *logger.Logger
	reader   stalePaymentReader
	verifier referenceVerifier
	after    time.Duration
	batch    int
	now      func() time.Time
}

func (j *paymentVerificationJob) Name() string { return "payment-verification" }

func (j *paymentVerificationJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.after)
	rows, err := j.reader.ListByStatusCreatedBefore(ctx, enums.TransactionStatusAwaitingPayment, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list unpaid transactions: %w", err)
	}

	var errs error
	outcomes := map[reconciliation.Outcome]int{}
	for _, txn := range rows {
		itemCtx := j.logg.WithReference(ctx, txn.PaymentReference)
		res, err := j.verifier.VerifyByReference(itemCtx, txn.PaymentReference)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
				outcomes[reconciliation.OutcomeUnmatched]++
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("verify %s: %w", txn.PaymentReference, err))
			continue
		}
		outcomes[res.Outcome]++
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(rows),
		"matched":    outcomes[reconciliation.OutcomeMatched],
		"not_paid":   outcomes[reconciliation.OutcomeNotPaid],
		"unmatched":  outcomes[reconciliation.OutcomeUnmatched],
		"failed":     len(multierr.Errors(errs)),
	}), "payment verification pass complete")
	return errs
}
