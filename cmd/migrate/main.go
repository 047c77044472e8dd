package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/db"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/migrate"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var dir string
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply and author goose migrations for the settlement schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", "", "read migrations from this directory instead of the embedded set")

	root.AddCommand(stepsCmd("up", "Apply all pending migrations", &dir, func(ctx context.Context, r *migrate.Runner, _ []string) ([]migrate.Step, error) {
		return r.Up(ctx)
	}))
	root.AddCommand(stepsCmd("down", "Roll back the most recent migration", &dir, func(ctx context.Context, r *migrate.Runner, _ []string) ([]migrate.Step, error) {
		return r.Down(ctx)
	}))
	version := stepsCmd("version [YYYYMMDDHHMMSS]", "Migrate up or down to an exact version", &dir, func(ctx context.Context, r *migrate.Runner, args []string) ([]migrate.Step, error) {
		return r.To(ctx, args[0])
	})
	version.Args = cobra.ExactArgs(1)
	root.AddCommand(version)

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List migrations and whether each is applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), "status", dir, func(ctx context.Context, r *migrate.Runner) error {
				statuses, err := r.Status(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, st := range statuses {
					applied := "pending"
					if st.Applied {
						applied = st.AppliedAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(out, "%d\t%-25s\t%s\n", st.Version, applied, st.File)
				}
				return nil
			})
		},
	})

	// create and validate only touch the filesystem
	root.AddCommand(&cobra.Command{
		Use:   "create [name]",
		Short: "Create a timestamped SQL migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := dir
			if target == "" {
				target = migrate.DefaultDir
			}
			path, err := migrate.CreateSQLMigration(target, args[0], time.Now())
			if err != nil {
				return fmt.Errorf("create migration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check migration files for goose annotations and naming",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := migrate.Validate(migrate.Source(dir)); err != nil {
				return fmt.Errorf("migration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
			return nil
		},
	})
	return root
}

func stepsCmd(use, short string, dir *string, run func(context.Context, *migrate.Runner, []string) ([]migrate.Step, error)) *cobra.Command {
	name, _, _ := strings.Cut(use, " ")
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd.Context(), name, *dir, func(ctx context.Context, r *migrate.Runner) error {
				steps, err := run(ctx, r, args)
				for _, step := range steps {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s (%s)\n", step.Direction, step.Version, step.File, step.Duration.Round(time.Millisecond))
				}
				if err != nil {
					return err
				}
				if len(steps) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "schema already current")
				}
				return nil
			})
		},
	}
}

func withRunner(ctx context.Context, command, dir string, fn func(context.Context, *migrate.Runner) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logg := logger.ForService("migrate", cfg.App)
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
		"cmd": command,
		"dir": dirLabel(dir),
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql database: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, migrate.Source(dir))
	if err != nil {
		return err
	}
	logg.Info(ctx, "migrate ready")
	return fn(ctx, runner)
}

func dirLabel(dir string) string {
	if dir == "" {
		return "embedded"
	}
	return dir
}
