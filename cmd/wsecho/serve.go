package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/wsecho/internal/config"
	"github.com/rickgao/wsecho/internal/connection"
	"github.com/rickgao/wsecho/internal/database"
	"github.com/rickgao/wsecho/internal/metrics"
	"github.com/rickgao/wsecho/internal/report"
	"github.com/rickgao/wsecho/internal/tracing"
	"github.com/rickgao/wsecho/internal/tracker"
	"github.com/rickgao/wsecho/internal/version"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override server.listen_addr")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Logging, os.Stdout)
	logger.Info("starting wsecho",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
	)

	shutdownTracing, err := tracing.Setup(cfg.Tracing.Enabled)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	registry := tracker.NewRegistry(cfg.Stats.ReportEvery)
	collectors := metrics.New()
	collectors.TrackOpenTrackers(registry.Len)

	opts := []connection.Option{
		connection.WithLogger(logger),
		connection.WithMetrics(collectors),
		connection.WithInstanceID(cfg.Instance.ID),
	}

	var pool *pgxpool.Pool
	var writer *report.Writer
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database.Timescale)
		if err != nil {
			return fmt.Errorf("connect timescale: %w", err)
		}
		defer pool.Close()

		if err := report.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer = report.NewWriter(writerConfig(cfg.Reports), pool, logger)
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start report writer: %w", err)
		}
		collectors.TrackReportQueue(func() (int, int64) {
			s := writer.QueueStats()
			return s.Count, s.Dropped
		})
		opts = append(opts, connection.WithReportSink(writer))
		logger.Info("database connected")
	}

	srv := connection.NewServer(serverConfig(cfg.Server), registry, opts...)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	var opsServer *http.Server
	if cfg.Metrics.IsEnabled() {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, collectors.Handler())
		health := healthDeps{instanceID: cfg.Instance.ID, openConns: registry.Len}
		if pool != nil {
			health.db = pool
		}
		mux.Handle("/health", createHealthHandler(health))
		opsServer = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
	}

	g, gctx := errgroup.WithContext(ctx)

	if opsServer != nil {
		g.Go(func() error {
			logger.Info("starting metrics server", "addr", opsServer.Addr, "path", cfg.Metrics.Path)
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Sessions first so their final reports reach the writer.
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("websocket server shutdown incomplete", "error", err)
		}
		if writer != nil {
			writer.Stop(shutdownCtx)
		}
		if opsServer != nil {
			opsServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	logger.Info("wsecho running",
		"listen_addr", srv.Addr().String(),
		"path", cfg.Server.Path,
		"report_every", registry.ReportEvery(),
	)

	err = g.Wait()
	logger.Info("wsecho stopped")
	return err
}
