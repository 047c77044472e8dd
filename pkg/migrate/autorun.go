package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/db"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

// MaybeRunDev applies pending migrations at startup in dev when
// TRADELINE_AUTO_MIGRATE is set. Elsewhere it only warns about drift, since
// production schema changes go through `migrate up`.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	runner, err := NewRunner(sqlDB, Embedded())
	if err != nil {
		return err
	}
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		pending, err := runner.Pending(ctx)
		if err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "could not check schema version")
			return nil
		}
		if pending {
			logg.Warn(ctx, "database schema is behind this build; run `migrate up`")
		}
		return nil
	}

	applied, err := runner.Up(ctx)
	if err != nil {
		return err
	}
	for _, step := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     step.Version,
			"file":        step.File,
			"duration_ms": step.Duration.Milliseconds(),
		}), "migration applied")
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "dev auto-migrate complete")
	return nil
}
