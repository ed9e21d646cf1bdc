package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/imagequeue/internal/config"
	"github.com/3leaps/imagequeue/internal/observability"
	"github.com/3leaps/imagequeue/internal/server/handlers"
	"github.com/3leaps/imagequeue/pkg/gateway"
	"github.com/3leaps/imagequeue/pkg/generator"
	"github.com/3leaps/imagequeue/pkg/jobstore"
	"github.com/3leaps/imagequeue/pkg/orchestrator"
	"github.com/3leaps/imagequeue/pkg/provider"
	"github.com/3leaps/imagequeue/pkg/provider/file"
	"github.com/3leaps/imagequeue/pkg/provider/memory"
	"github.com/3leaps/imagequeue/pkg/provider/s3"
	"github.com/3leaps/imagequeue/pkg/queue"
	redisqueue "github.com/3leaps/imagequeue/pkg/queue/redis"
	sqsqueue "github.com/3leaps/imagequeue/pkg/queue/sqs"
	"github.com/3leaps/imagequeue/pkg/secrets"
	"github.com/3leaps/imagequeue/pkg/status"
)

// healthProbeKey is read by the storage health check. A missing object is healthy.
const healthProbeKey = "jobs/.healthcheck"

// app holds the components a command needs. Fields a command did not ask for stay nil.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store     provider.Provider
	manifests *jobstore.ManifestStore
	artifacts *jobstore.ArtifactStore
	queue     queue.Queue
	metrics   *observability.Metrics

	gateway      *gateway.Gateway
	status       *status.Query
	orchestrator *orchestrator.Orchestrator

	checkers map[string]handlers.HealthChecker
	closers  []io.Closer
}

type appParts struct {
	queue     bool
	generator bool
	metrics   bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, parts appParts) (*app, error) {
	a := &app{cfg: cfg, logger: logger, checkers: make(map[string]handlers.HealthChecker)}

	store, err := buildProvider(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)
	a.checkers["storage"] = storageHealthChecker{p: store}

	a.manifests = jobstore.NewManifestStore(store, jobstore.WithLogger(logger))
	a.artifacts = jobstore.NewArtifactStore(store, jobstore.WithLogger(logger))
	a.status = status.New(a.manifests, cfg.CDN.BaseURL)

	if parts.metrics && cfg.Metrics.Enabled {
		a.metrics = observability.InitMetrics()
	}

	if parts.queue {
		q, err := buildQueue(ctx, cfg.Queue)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("queue: %w", err)
		}
		a.queue = q
		a.closers = append(a.closers, q)
		if hc, ok := q.(handlers.HealthChecker); ok {
			a.checkers["queue"] = hc
		}

		gwOpts := []gateway.Option{gateway.WithLogger(logger)}
		if a.metrics != nil {
			gwOpts = append(gwOpts, gateway.WithRecorder(a.metrics))
		}
		a.gateway = gateway.New(a.manifests, q, cfg.CDN.BaseURL, gwOpts...)
	}

	if parts.generator {
		gen, err := buildGenerator(ctx, cfg.Generator)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("generator: %w", err)
		}
		orchOpts := []orchestrator.Option{
			orchestrator.WithTimeout(cfg.Generator.Timeout),
			orchestrator.WithWorkers(cfg.Workers),
			orchestrator.WithLogger(logger),
		}
		if a.metrics != nil {
			orchOpts = append(orchOpts, orchestrator.WithRecorder(a.metrics))
		}
		a.orchestrator = orchestrator.New(a.manifests, a.artifacts, gen, orchOpts...)
	}

	return a, nil
}

// Close releases the queue and storage clients.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildProvider(ctx context.Context, cfg config.StorageConfig) (provider.Provider, error) {
	switch cfg.Provider {
	case config.StorageS3:
		return s3.New(ctx, s3.Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Profile:  cfg.Profile,
			// S3-compatible endpoints (moto, MinIO) need path-style URLs.
			ForcePathStyle: cfg.ForcePathStyle || cfg.Endpoint != "",
		})
	case config.StorageFile:
		return file.New(file.Config{BaseDir: cfg.BaseDir})
	case config.StorageMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.Provider)
	}
}

func buildQueue(ctx context.Context, cfg config.QueueConfig) (queue.Queue, error) {
	switch cfg.Driver {
	case config.QueueSQS:
		return sqsqueue.New(ctx, sqsqueue.Config{
			QueueURL:          cfg.URL,
			Region:            cfg.Region,
			Endpoint:          cfg.Endpoint,
			WaitTimeSeconds:   int32(cfg.WaitTime / time.Second),
			MaxMessages:       int32(cfg.MaxMessages),
			VisibilityTimeout: int32(cfg.VisibilityTimeout / time.Second),
		})
	case config.QueueRedis:
		return redisqueue.New(redisqueue.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Prefix:       cfg.Redis.Prefix,
			Name:         cfg.Redis.Name,
			WorkerID:     cfg.Redis.WorkerID,
			BlockTimeout: cfg.WaitTime,
		})
	case config.QueueMemory:
		return queue.NewMemory(cfg.WaitTime, cfg.MaxMessages), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

func buildGenerator(ctx context.Context, cfg config.GeneratorConfig) (generator.Generator, error) {
	var gen generator.Generator
	switch cfg.Provider {
	case config.GeneratorStub:
		gen = generator.Stub{}
	case config.GeneratorOpenAI:
		key, err := apiKeyFunc(ctx, cfg)
		if err != nil {
			return nil, err
		}
		gen = generator.NewOpenAI(cfg.BaseURL, cfg.Model, key)
	default:
		return nil, fmt.Errorf("unsupported generator provider %q", cfg.Provider)
	}

	if cfg.RateLimit > 0 {
		burst := max(cfg.RateBurst, 1)
		gen = generator.WithRateLimit(gen, rate.NewLimiter(rate.Limit(cfg.RateLimit), burst))
	}
	return gen, nil
}

// apiKeyFunc prefers a configured key. Otherwise the key is read from Secrets
// Manager on first use and kept for the life of the process.
func apiKeyFunc(ctx context.Context, cfg config.GeneratorConfig) (generator.KeyFunc, error) {
	if cfg.APIKey != "" {
		return generator.StaticKey(cfg.APIKey), nil
	}
	sm, err := secrets.NewSecretsManager(ctx, cfg.SecretsRegion, cfg.SecretsEndpoint)
	if err != nil {
		return nil, err
	}
	return secrets.NewCached(sm, cfg.APIKeySecretID).Get, nil
}

type storageHealthChecker struct {
	p provider.Provider
}

func (c storageHealthChecker) CheckHealth(ctx context.Context) error {
	_, err := c.p.Head(ctx, healthProbeKey)
	if err == nil || provider.IsNotFound(err) {
		return nil
	}
	return err
}
