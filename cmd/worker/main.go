package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/tradeline-backend/internal/analytics/router"
	analyticsworker "github.com/angelmondragon/tradeline-backend/internal/analytics/worker"
	"github.com/angelmondragon/tradeline-backend/internal/analytics/writer"
	"github.com/angelmondragon/tradeline-backend/internal/ledger"
	"github.com/angelmondragon/tradeline-backend/internal/notifications"
	"github.com/angelmondragon/tradeline-backend/internal/receipts"
	"github.com/angelmondragon/tradeline-backend/pkg/bigquery"
	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/db"
	"github.com/angelmondragon/tradeline-backend/pkg/instance"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/tradeline-backend/pkg/pubsub"
	"github.com/angelmondragon/tradeline-backend/pkg/redis"
	"github.com/angelmondragon/tradeline-backend/pkg/storage/gcs"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.ForService("worker", cfg.App)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, pubsub.RoleConsumer, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	requireResource(ctx, logg, "gcs", err)
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(ctx, "failed to close gcs client", err)
		}
	}()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	notificationConsumer, err := notifications.NewConsumer(
		notifications.NewRepository(dbClient.DB()),
		ledger.NewUserRepository(dbClient.DB()),
		notifications.NewLogPusher(logg),
		notifications.NewInteractionCache(redisClient, cfg.Notifications.InteractionWindow),
		pubsubClient.NotificationSubscription(),
		manager,
		logg,
	)
	requireResource(ctx, logg, "notification consumer", err)

	generator, err := receipts.NewGenerator(gcsClient, ledger.NewTransactionRepository(dbClient.DB()), logg, receipts.Options{
		Bucket:     cfg.GCS.BucketName,
		PathPrefix: cfg.Receipts.PathPrefix,
		Timeout:    cfg.Receipts.Timeout,
	})
	requireResource(ctx, logg, "receipt generator", err)

	receiptConsumer, err := receipts.NewConsumer(generator, pubsubClient.ReceiptSubscription(), manager, logg)
	requireResource(ctx, logg, "receipt consumer", err)

	analyticsWriter, err := writer.New(bqClient, writer.Config{SettlementsTable: cfg.BigQuery.SettlementsTable})
	requireResource(ctx, logg, "analytics bigquery writer", err)

	routingHandler, err := router.NewRouter(analyticsWriter, logg, nil)
	requireResource(ctx, logg, "analytics router", err)

	analyticsConsumer, err := analyticsworker.NewService(pubsubClient.AnalyticsSubscription(), routingHandler, manager, logg)
	requireResource(ctx, logg, "analytics consumer", err)

	service, err := NewService(ServiceParams{
		Logger: logg,
		Dependencies: []namedPinger{
			{name: "database", pinger: dbClient},
			{name: "redis", pinger: redisClient},
			{name: "pubsub", pinger: pubsubClient},
			{name: "gcs", pinger: gcsClient},
			{name: "bigquery", pinger: bqClient},
		},
		Consumers: []namedRunner{
			{name: "notifications", runner: notificationConsumer},
			{name: "receipts", runner: receiptConsumer},
			{name: "analytics", runner: analyticsConsumer},
		},
		// rows still buffered in the writer would otherwise be lost
		OnShutdown: analyticsWriter.Flush,
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.ID(),
	})
	logg.Info(runCtx, "worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
