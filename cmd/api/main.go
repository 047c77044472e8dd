package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/tradeline-backend/api"
	"github.com/angelmondragon/tradeline-backend/api/controllers"
	"github.com/angelmondragon/tradeline-backend/api/routes"
	"github.com/angelmondragon/tradeline-backend/internal/analytics"
	"github.com/angelmondragon/tradeline-backend/internal/app"
	"github.com/angelmondragon/tradeline-backend/internal/notifications"
	paystackwebhook "github.com/angelmondragon/tradeline-backend/internal/webhooks/paystack"
	"github.com/angelmondragon/tradeline-backend/pkg/auth/session"
	"github.com/angelmondragon/tradeline-backend/pkg/bigquery"
	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/db"
	"github.com/angelmondragon/tradeline-backend/pkg/instance"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/metrics"
	"github.com/angelmondragon/tradeline-backend/pkg/migrate"
	"github.com/angelmondragon/tradeline-backend/pkg/redis"
	"github.com/angelmondragon/tradeline-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.ForService("api", cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing gcs", err)
		}
	}()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing bigquery", err)
		}
	}()

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)
	gateway, err := app.NewGateway(cfg, settlementMetrics)
	if err != nil {
		logg.Error(ctx, "failed to create paystack client", err)
		os.Exit(1)
	}

	engines, err := app.BuildEngines(cfg, logg, dbClient, gateway, settlementMetrics)
	if err != nil {
		logg.Error(ctx, "failed to build settlement engines", err)
		os.Exit(1)
	}

	revocations, err := session.NewRevocationList(redisClient)
	if err != nil {
		logg.Error(ctx, "failed to create revocation list", err)
		os.Exit(1)
	}

	webhookGuard, err := paystackwebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookGuardTTL)
	if err != nil {
		logg.Error(ctx, "failed to create webhook guard", err)
		os.Exit(1)
	}

	interactions := notifications.NewInteractionCache(redisClient, cfg.Notifications.InteractionWindow)
	notificationsService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()), interactions)
	if err != nil {
		logg.Error(ctx, "failed to create notifications service", err)
		os.Exit(1)
	}

	analyticsService, err := analytics.NewService(bqClient, redisClient, logg, analytics.Options{
		Project:  cfg.GCP.ProjectID,
		Dataset:  cfg.BigQuery.Dataset,
		Table:    cfg.BigQuery.SettlementsTable,
		CacheTTL: cfg.BigQuery.ReportCacheTTL,
	})
	if err != nil {
		logg.Error(ctx, "failed to create analytics service", err)
		os.Exit(1)
	}

	router := routes.NewRouter(cfg, logg, routes.Dependencies{
		Store:       redisClient,
		Revocations: revocations,
		Readiness: []controllers.ReadinessCheck{
			{Name: "postgres", Pinger: dbClient},
			{Name: "redis", Pinger: redisClient},
			{Name: "gcs", Pinger: gcsClient},
			{Name: "bigquery", Pinger: bqClient},
		},
		Payments:       engines.Payments,
		Payouts:        engines.Payouts,
		Refunds:        engines.Refunds,
		Reconciliation: engines.Reconciliation,
		Notifications:  notificationsService,
		Analytics:      analyticsService,
		Receipts:       gcsClient,
		Webhooks:       engines.Webhooks,
		WebhookGuard:   webhookGuard,
	})

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"port":     cfg.App.Port,
		"instance": instance.ID(),
	})
	logg.Info(ctx, "starting api server")

	if err := api.Serve(ctx, cfg, router, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
