package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/mobilization/internal/config"
	"github.com/ehr/mobilization/internal/domain/aggregate"
	"github.com/ehr/mobilization/internal/domain/engine"
	"github.com/ehr/mobilization/internal/domain/observation"
	"github.com/ehr/mobilization/internal/platform/dataset"
	"github.com/ehr/mobilization/internal/platform/db"
	"github.com/ehr/mobilization/internal/platform/middleware"
	"github.com/ehr/mobilization/internal/platform/reporting"
	"github.com/ehr/mobilization/internal/platform/tabular"
	"github.com/ehr/mobilization/internal/platform/telemetry"
	"github.com/ehr/mobilization/migrations"
)

const (
	aggregateTable = "aggregate_summary"
	chiSquareFile  = "chi_square.json"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "mobilization",
		Short:        "ICU mobilization eligibility engine",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(aggregateCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	if err := db.ValidateSchema(cfg.DBSchema); err != nil {
		return nil, err
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, logger)
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate every encounter hour and write the output tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			serveAfter, _ := cmd.Flags().GetBool("serve")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			site, err := config.LoadSite(cfg.SiteConfig)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			var pool *pgxpool.Pool
			if cfg.UsesPostgres() {
				if pool, err = openPool(ctx, cfg, logger); err != nil {
					return err
				}
				defer pool.Close()
			}

			reg := telemetry.NewRegistry()
			stage := func(name string, fn func() error) error {
				start := time.Now()
				if err := fn(); err != nil {
					return err
				}
				reg.ObserveStage(name, time.Since(start))
				return nil
			}

			src, err := buildSource(cfg, pool)
			if err != nil {
				return err
			}
			var tables *observation.Tables
			if err := stage("load", func() (err error) {
				tables, err = observation.LoadAll(ctx, src, logger)
				return err
			}); err != nil {
				return err
			}
			var res *engine.Result
			if err := stage("evaluate", func() (err error) {
				res, err = engine.New(site, cfg.Workers, logger).Run(ctx, tables)
				return err
			}); err != nil {
				return err
			}
			if err := stage("write", func() error {
				return buildSink(cfg, pool, logger).Write(ctx, res)
			}); err != nil {
				return fmt.Errorf("write outputs: %w", err)
			}
			reg.RecordRun(res.Summary)

			if serveAfter {
				return serve(ctx, cfg, logger, dataset.NewResultStore(res), pool, reg)
			}
			return nil
		},
	}
	cmd.Flags().Bool("serve", false, "Serve the result over HTTP after the run")
	return cmd
}

func buildSource(cfg *config.Config, pool *pgxpool.Pool) (observation.Source, error) {
	if cfg.Source == config.SourcePostgres {
		if err := db.ValidateSchema(cfg.InputSchema); err != nil {
			return nil, err
		}
		return observation.NewPGSource(pool, cfg.InputSchema), nil
	}
	return observation.NewFileSource(cfg.DataPath, cfg.FileType)
}

func buildSink(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) engine.Sink {
	file := engine.NewFileSink(cfg.OutputPath, cfg.OutputCSV, logger)
	switch cfg.Sink {
	case config.SinkPostgres:
		return engine.NewPGSink(pool, cfg.DBSchema, logger)
	case config.SinkBoth:
		return engine.MultiSink{file, engine.NewPGSink(pool, cfg.DBSchema, logger)}
	}
	return file
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the latest output tables as a read-only dataset API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signalContext()
			defer stop()

			var pool *pgxpool.Pool
			if cfg.DatabaseURL != "" {
				if pool, err = openPool(ctx, cfg, logger); err != nil {
					return err
				}
				defer pool.Close()
			}
			reg := telemetry.NewRegistry()
			store := dataset.NewFileStore(cfg.OutputPath, logger)
			if snap, err := store.Snapshot(ctx); err == nil {
				reg.RecordRun(snap.Summary)
			} else {
				logger.Warn().Err(err).Msg("no run loaded yet")
			}
			return serve(ctx, cfg, logger, store, pool, reg)
		},
	}
}

func newServer(cfg *config.Config, logger zerolog.Logger, store dataset.Store, pool *pgxpool.Pool, reg *telemetry.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(reg.Middleware())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.Gzip())

	dataset.NewHandler(store).RegisterRoutes(e)
	e.GET("/metrics", reg.Handler())
	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool, cfg.DBSchema))
		reporting.NewHandler(pool, cfg.DBSchema).RegisterRoutes(e.Group("/api/v1"))
	}
	return e
}

func serve(ctx context.Context, cfg *config.Config, logger zerolog.Logger, store dataset.Store, pool *pgxpool.Pool, reg *telemetry.Registry) error {
	e := newServer(cfg, logger, store, pool, reg)

	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting dataset server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func aggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate <site output dir or site_summary.json>...",
		Short: "Combine site summaries and test eligibility differences across sites",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			sites, err := loadSummaries(args)
			if err != nil {
				return err
			}
			tests, err := runAggregate(sites, out)
			if err != nil {
				return err
			}
			for _, t := range tests {
				evt := logger.Info().Str("criteria", t.Criteria).Str("unit", t.Unit).Int("sites", t.Sites)
				if t.Skipped != "" {
					evt.Str("skipped", t.Skipped).Msg("chi-square test skipped")
					continue
				}
				evt.Float64("statistic", t.Statistic).Int("df", t.DF).Float64("p_value", t.PValue).Msg("chi-square test")
			}
			logger.Info().Int("sites", len(sites)).Str("dir", out).Msg("aggregate written")
			return nil
		},
	}
	cmd.Flags().String("out", "./output/final", "Directory for the combined tables")
	return cmd
}

// loadSummaries accepts site output directories or summary files.
func loadSummaries(paths []string) ([]aggregate.SiteSummary, error) {
	sites := make([]aggregate.SiteSummary, 0, len(paths))
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			p = filepath.Join(p, aggregate.SiteSummaryFile)
		}
		s, err := aggregate.ReadSiteSummary(p)
		if err != nil {
			return nil, err
		}
		sites = append(sites, s)
	}
	return sites, nil
}

func runAggregate(sites []aggregate.SiteSummary, out string) ([]aggregate.ChiSquare, error) {
	tests, err := aggregate.Compare(sites)
	if err != nil {
		return nil, err
	}
	if err := tabular.WriteCSV(tabular.Path(out, aggregateTable, tabular.FormatCSV), aggregate.Rows(sites)); err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(tests, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode chi-square results: %w", err)
	}
	if err := os.WriteFile(filepath.Join(out, chiSquareFile), b, 0o644); err != nil {
		return nil, fmt.Errorf("write chi-square results: %w", err)
	}
	return tests, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the result schema",
	}

	withMigrator := func(schemaFlag string, fn func(context.Context, *db.Migrator, string) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if schemaFlag != "" {
			cfg.DBSchema = schemaFlag
		}
		logger := newLogger(cfg)

		ctx, stop := signalContext()
		defer stop()
		pool, err := openPool(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, migrations.FS, cfg.DBSchema), cfg.DBSchema)
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			return withMigrator(schema, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			return withMigrator(schema, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("Migration status for schema: %s\n", schema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
	cmd.AddCommand(statusCmd)

	return cmd
}
