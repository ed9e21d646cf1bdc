package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/imagequeue/internal/config"
	"github.com/3leaps/imagequeue/internal/observability"
	"github.com/3leaps/imagequeue/internal/server"
	"github.com/3leaps/imagequeue/internal/server/handlers"
	"github.com/3leaps/imagequeue/pkg/poller"
)

var serveWithWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API: POST /images, GET /jobs/{jobId}, the push delivery
endpoint POST /internal/deliveries, health probes, /version and /metrics.
With local storage (file or memory) generated images are served under /assets.

With the in-process memory queue a poll worker always runs alongside the API,
since no other process can consume it.

Examples:
  imagequeue serve
  imagequeue serve --with-worker
  IMAGEQUEUE_PORT=9000 imagequeue serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "also run a poll worker in this process")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := observability.InitServerLogger(appIdentity.BinaryName, cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(exitInvalidArgument, "Invalid logging configuration", err)
	}
	logger := observability.ServerLogger
	defer observability.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appParts{queue: true, generator: true, metrics: true})
	if err != nil {
		return exitError(exitServiceUnavailable, "Failed to initialize", err)
	}
	defer func() { _ = a.Close() }()

	health := handlers.InitHealthManager(versionInfo.Version)
	registerHealthCheckers(health, a)

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithTimeouts(server.Timeouts{
			Read:  cfg.Server.ReadTimeout,
			Write: cfg.Server.WriteTimeout,
			Idle:  cfg.Server.IdleTimeout,
		}),
		server.WithJobs(&handlers.JobHandlers{
			Gateway:   a.gateway,
			Status:    a.status,
			Processor: a.orchestrator,
			Logger:    logger,
		}),
	}
	if a.metrics != nil {
		opts = append(opts, server.WithMetrics(observability.MetricsHandler()))
	}
	if cfg.Storage.Provider != config.StorageS3 {
		opts = append(opts, server.WithMount("/assets", handlers.AssetsHandler(a.artifacts, logger)))
	}
	if cfg.Debug.PprofEnabled {
		opts = append(opts, server.WithMount("/debug", middleware.Profiler()))
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("Shutting down HTTP server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
		return srv.Shutdown(shutdownCtx)
	})

	if serveWithWorker || cfg.Queue.Driver == config.QueueMemory {
		p := newPoller(a, logger)
		g.Go(func() error {
			logger.Info("Poll worker started", zap.String("queue", cfg.Queue.Driver), zap.Int("workers", cfg.Workers))
			return p.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, poller.ErrTooManyErrors) {
			return exitError(exitServiceUnavailable, "Queue unavailable", err)
		}
		return exitError(exitFailure, "Server stopped with error", err)
	}
	logger.Info("Server stopped")
	return nil
}

func newPoller(a *app, logger *zap.Logger) *poller.Poller {
	opts := []poller.Option{poller.WithLogger(logger)}
	if a.metrics != nil {
		opts = append(opts, poller.WithRecorder(a.metrics))
	}
	return poller.New(a.queue, a.orchestrator, poller.Config{
		MinBackoff:           a.cfg.Poller.MinBackoff,
		MaxBackoff:           a.cfg.Poller.MaxBackoff,
		MaxConsecutiveErrors: a.cfg.Poller.MaxConsecutiveErrors,
	}, opts...)
}

func registerHealthCheckers(health *handlers.HealthManager, a *app) {
	health.RegisterChecker("signals", signalHealthChecker{})
	if appIdentity != nil {
		health.RegisterChecker("identity", identityHealthChecker{
			binaryName: appIdentity.BinaryName,
			envPrefix:  appIdentity.EnvPrefix,
			configName: appIdentity.ConfigName,
		})
	}
	if a.cfg.Metrics.Enabled {
		health.RegisterChecker("telemetry", telemetryHealthChecker{})
	}
	for name, c := range a.checkers {
		health.RegisterChecker(name, c)
	}
}

// signalHealthChecker reports healthy while the process is handling signals.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// telemetryHealthChecker reports whether the metrics registry is installed.
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.Registry == nil || observability.DefaultMetrics == nil {
		return fmt.Errorf("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker verifies the app identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return fmt.Errorf("identity: missing binary name")
	case c.envPrefix == "":
		return fmt.Errorf("identity: missing env prefix")
	case c.configName == "":
		return fmt.Errorf("identity: missing config name")
	}
	return nil
}
