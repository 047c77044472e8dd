package app

import (
	"fmt"

	"github.com/angelmondragon/tradeline-backend/internal/cron"
	"github.com/angelmondragon/tradeline-backend/internal/notifications"
	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/db"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/metrics"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/redis"
)

const schedulerLockName = "cron-worker"

// BuildJobs returns the scheduled settlement jobs in the order a cycle runs
// them: stale payments are verified before they can expire, and transfers are
// reconciled before deferred payouts spend the balance again.
func BuildJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, engines *Engines) ([]cron.Job, error) {
	batch := cfg.Scheduler.BatchSize
	builders := []func() (cron.Job, error){
		func() (cron.Job, error) {
			return cron.NewPaymentVerificationJob(cron.PaymentVerificationJobParams{
				Logger:      logg,
				Reader:      engines.Store.Transactions,
				Verifier:    engines.Reconciliation,
				VerifyAfter: cfg.Escrow.VerifyAfter,
				BatchSize:   batch,
			})
		},
		func() (cron.Job, error) {
			return cron.NewPaymentExpiryJob(cron.PaymentExpiryJobParams{
				Logger:    logg,
				Payments:  engines.Payments,
				BatchSize: batch,
			})
		},
		func() (cron.Job, error) {
			return cron.NewTransferReconcileJob(cron.TransferReconcileJobParams{
				Logger:     logg,
				Reader:     engines.Store.Transactions,
				Reconciler: engines.Payouts,
				StaleAfter: cfg.Escrow.TransferStaleAfter,
				BatchSize:  batch,
			})
		},
		func() (cron.Job, error) {
			return cron.NewPayoutRetryJob(cron.PayoutRetryJobParams{
				Logger:    logg,
				Reader:    engines.Store.Transactions,
				Payer:     engines.Payouts,
				BatchSize: batch,
			})
		},
		func() (cron.Job, error) {
			return cron.NewRefundRetryJob(cron.RefundRetryJobParams{
				Logger:    logg,
				Refunds:   engines.Refunds,
				BatchSize: batch,
			})
		},
		func() (cron.Job, error) {
			return cron.NewRetentionJob(cron.RetentionJobParams{
				Logger:    logg,
				Name:      "notification-cleanup",
				Purger:    cron.PurgerFunc(notifications.NewRepository(dbClient.DB()).DeleteReadBefore),
				Retention: cfg.Notifications.RetentionPeriod,
			})
		},
		func() (cron.Job, error) {
			return cron.NewRetentionJob(cron.RetentionJobParams{
				Logger:    logg,
				Name:      "outbox-retention",
				Purger:    cron.PurgerFunc(outbox.NewRepository(dbClient.DB()).DeletePublishedBefore),
				Retention: cfg.Outbox.RetentionPeriod,
			})
		},
	}

	jobs := make([]cron.Job, 0, len(builders))
	for _, build := range builders {
		job, err := build()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// NewScheduler builds the cron service over jobs. Every process that runs
// jobs shares one Redis lock, so an operator run never overlaps the worker.
func NewScheduler(cfg *config.Config, logg *logger.Logger, redisClient *redis.Client, jobs []cron.Job, m *metrics.CronJobMetrics) (*cron.Service, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client required for cron lock")
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(schedulerLockName), cfg.Scheduler.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("cron lock: %w", err)
	}
	registry, err := cron.NewRegistry(jobs...)
	if err != nil {
		return nil, fmt.Errorf("cron registry: %w", err)
	}
	return cron.NewService(cron.ServiceParams{
		Logger:      logg,
		Registry:    registry,
		Lock:        lock,
		Metrics:     m,
		Interval:    cfg.Scheduler.Interval,
		LockRefresh: lock.TTL() / 3,
	})
}
