package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/imagequeue/internal/config"
	"github.com/3leaps/imagequeue/internal/observability"
	"github.com/3leaps/imagequeue/internal/server"
	"github.com/3leaps/imagequeue/internal/server/handlers"
	"github.com/3leaps/imagequeue/pkg/poller"
	redisqueue "github.com/3leaps/imagequeue/pkg/queue/redis"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the long-poll worker",
	Long: `Receive job messages from the configured queue and process them until
interrupted. Messages are acknowledged only after their job reaches a terminal
state; failed deliveries are left for redelivery.

Health probes and /metrics are served on the metrics port when metrics are
enabled.

Examples:
  imagequeue worker
  IMAGEQUEUE_QUEUE_DRIVER=redis IMAGEQUEUE_REDIS_ADDR=localhost:6379 imagequeue worker`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Queue.Driver == config.QueueMemory {
		return exitError(exitInvalidArgument, "The memory queue only works inside 'imagequeue serve'",
			errors.New("set queue.driver to sqs or redis"))
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

	// Messages left in this worker's processing list by a previous crash go back
	// to the ready list before polling starts.
	if rq, ok := a.queue.(*redisqueue.Queue); ok {
		n, err := rq.Recover(ctx)
		if err != nil {
			return exitError(exitServiceUnavailable, "Failed to recover in-flight messages", err)
		}
		if n > 0 {
			logger.Info("Requeued in-flight messages", zap.Int("count", n))
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		health := handlers.InitHealthManager(versionInfo.Version)
		registerHealthCheckers(health, a)
		ops := server.New(cfg.Server.Host, cfg.Metrics.Port,
			server.WithLogger(logger),
			server.WithMetrics(observability.MetricsHandler()))
		g.Go(ops.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			return ops.Shutdown(shutdownCtx)
		})
	}

	p := newPoller(a, logger)
	g.Go(func() error {
		err := p.Run(gctx)
		stop()
		return err
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, poller.ErrTooManyErrors) {
			return exitError(exitServiceUnavailable, "Queue unavailable", err)
		}
		return exitError(exitFailure, "Worker stopped with error", err)
	}
	logger.Info("Worker stopped")
	return nil
}
