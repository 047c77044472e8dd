package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/internal/app"
	"github.com/angelmondragon/tradeline-backend/internal/payouts"
	"github.com/angelmondragon/tradeline-backend/internal/reconciliation"
	"github.com/angelmondragon/tradeline-backend/internal/refunds"
	"github.com/angelmondragon/tradeline-backend/pkg/auth/session"
	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/db"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
	"github.com/angelmondragon/tradeline-backend/pkg/redis"
)

type payoutOps interface {
	ForcePayout(ctx context.Context, txID, adminID uuid.UUID) (*payouts.Result, error)
	FinalizeOTP(ctx context.Context, txID, adminID uuid.UUID, otp string) (*payouts.Result, error)
	Balance(ctx context.Context) (int64, error)
}

type refundOps interface {
	ListPending(ctx context.Context, params pagination.Params) (*refunds.RefundPage, error)
	ResolveRefund(ctx context.Context, requestID uuid.UUID, decision refunds.Decision, adminID uuid.UUID, note string) (*models.RefundRequest, error)
}

type reconciliationOps interface {
	ListUnmatched(ctx context.Context, openOnly bool, params pagination.Params) (*reconciliation.UnmatchedPage, error)
	AssignUnmatched(ctx context.Context, eventID, txID, adminID uuid.UUID) (*reconciliation.Result, error)
	VerifyByReference(ctx context.Context, reference string) (*reconciliation.Result, error)
}

type jobRunner interface {
	RunOnce(ctx context.Context, name string) error
}

type deadLetterOps interface {
	List(ctx context.Context, limit int, reason enums.OutboxDLQErrorReason) ([]models.OutboxDLQ, error)
	Replay(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
}

type revoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// backend is everything a command may touch. Only commands that need it pay
// for the connections.
type backend struct {
	Payouts        payoutOps
	Refunds        refundOps
	Reconciliation reconciliationOps
	Jobs           jobRunner
	JobNames       []string
	Revocations    revoker
	DeadLetters    deadLetterOps
	close          func()
}

func (b *backend) Close() {
	if b != nil && b.close != nil {
		b.close()
	}
}

// connect wires the production engines the same way the services do.
func connect(ctx context.Context, cfg *config.Config) (*backend, error) {
	logg := logger.ForService("settlementctl", cfg.App)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	closeAll := func() {
		_ = redisClient.Close()
		_ = dbClient.Close()
	}

	gateway, err := app.NewGateway(cfg, nil)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("paystack client: %w", err)
	}
	engines, err := app.BuildEngines(cfg, logg, dbClient, gateway, nil)
	if err != nil {
		closeAll()
		return nil, err
	}
	jobs, err := app.BuildJobs(cfg, logg, dbClient, engines)
	if err != nil {
		closeAll()
		return nil, err
	}
	scheduler, err := app.NewScheduler(cfg, logg, redisClient, jobs, nil)
	if err != nil {
		closeAll()
		return nil, err
	}
	revocations, err := session.NewRevocationList(redisClient)
	if err != nil {
		closeAll()
		return nil, err
	}

	return &backend{
		Payouts:        engines.Payouts,
		Refunds:        engines.Refunds,
		Reconciliation: engines.Reconciliation,
		Jobs:           scheduler,
		JobNames:       scheduler.Names(),
		Revocations:    revocations,
		DeadLetters:    outbox.NewDLQRepository(dbClient.DB()),
		close:          closeAll,
	}, nil
}
