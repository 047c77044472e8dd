package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

type RefundRetryJobParams struct {
	Logger    *logger.Logger
	Refunds   gatewayRefundRetrier
	BatchSize int
}

type gatewayRefundRetrier interface {
	RetryPendingGatewayRefunds(ctx context.Context, limit int) (int, error)
}

// NewRefundRetryJob resubmits approved refunds whose gateway call failed.
func NewRefundRetryJob(params RefundRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refund service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &refundRetryJob{logg: params.Logger, refunds: params.Refunds, batch: batch}, nil
}

type refundRetryJob struct {
	logg    *logger.Logger
	refunds gatewayRefundRetrier
	batch   int
}

func (j *refundRetryJob) Name() string { return "refund-retry" }

func (j *refundRetryJob) Run(ctx context.Context) error {
	submitted, err := j.refunds.RetryPendingGatewayRefunds(ctx, j.batch)
	j.logg.Info(j.logg.WithField(ctx, "submitted", submitted), "refund retry pass complete")
	if err != nil {
		return fmt.Errorf("refund retry: %w", err)
	}
	return nil
}
