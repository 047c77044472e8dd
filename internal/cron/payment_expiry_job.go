package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

type PaymentExpiryJobParams struct {
	Logger    *logger.Logger
	Payments  paymentExpirer
	BatchSize int
}

type paymentExpirer interface {
	ExpireStale(ctx context.Context, now time.Time, limit int) (int, error)
}

// NewPaymentExpiryJob cancels awaiting_payment transactions whose payment
// window has closed.
func NewPaymentExpiryJob(params PaymentExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &paymentExpiryJob{
		logg:     params.Logger,
		payments: params.Payments,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type paymentExpiryJob struct {
	logg     *logger.Logger
	payments paymentExpirer
	batch    int
	now      func() time.Time
}

func (j *paymentExpiryJob) Name() string { return "payment-expiry" }

func (j *paymentExpiryJob) Run(ctx context.Context) error {
	expired, err := j.payments.ExpireStale(ctx, j.now(), j.batch)
	j.logg.Info(j.logg.WithField(ctx, "expired", expired), "payment expiry pass complete")
	if err != nil {
		return fmt.Errorf("payment expiry: %w", err)
	}
	return nil
}
