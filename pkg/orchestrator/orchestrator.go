// Package orchestrator drives one job from trigger message to terminal
// manifest.
//
// Delivery is at-least-once, so Process is idempotent: the manifest in the
// object store is the source of truth, a terminal manifest is acknowledged
// without calling the generator again, and every manifest write is
// conditional on the version that was read. A lost race surfaces as
// jobstore.ErrConflict and the delivery is retried against the newer state.
//
// Error contract for Process:
//
//	nil                        job reached done, or was already terminal
//	*generator.ProviderError   generation failed and the job was recorded failed
//	jobstore.ErrConflict       a concurrent writer won; retry the delivery
//	*jobstore.StoreError       storage failed; nothing recorded, retry
//	queue.ErrMalformed         the message cannot describe a job
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/imagequeue/pkg/generator"
	"github.com/3leaps/imagequeue/pkg/jobstore"
	"github.com/3leaps/imagequeue/pkg/manifest"
	"github.com/3leaps/imagequeue/pkg/queue"
)

const (
	// DefaultTimeout bounds one generation call.
	DefaultTimeout = 2 * time.Minute

	// DefaultWorkers bounds concurrent jobs within one batch.
	DefaultWorkers = 4
)

// Manifests is the manifest persistence used by the orchestrator.
type Manifests interface {
	Get(ctx context.Context, jobID string) (*manifest.Manifest, string, error)
	Create(ctx context.Context, m *manifest.Manifest) (string, error)
	Update(ctx context.Context, m *manifest.Manifest, version string) (string, error)
}

// Artifacts stores generated images.
type Artifacts interface {
	Put(ctx context.Context, jobID string, data []byte) (string, error)
}

// Recorder receives processing outcomes for metrics.
type Recorder interface {
	JobFinished(status manifest.Status, elapsed time.Duration)
	DuplicateSkipped()
	DeliveryFailed(reason string)
}

// Orchestrator processes job trigger messages.
type Orchestrator struct {
	manifests Manifests
	artifacts Artifacts
	gen       generator.Generator

	timeout  time.Duration
	workers  int
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout bounds each generation call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithWorkers bounds batch concurrency. Non-positive values keep the default.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New returns an Orchestrator.
func New(manifests Manifests, artifacts Artifacts, gen generator.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		manifests: manifests,
		artifacts: artifacts,
		gen:       gen,
		timeout:   DefaultTimeout,
		workers:   DefaultWorkers,
		logger:    zap.NewNop(),
		recorder:  nopRecorder{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs one job to a terminal state.
func (o *Orchestrator) Process(ctx context.Context, msg queue.Message) error {
	start := o.now()
	log := o.logger.With(zap.String("job_id", msg.JobID))

	m, version, created, err := o.load(ctx, msg, log)
	if err != nil {
		return err
	}

	if m.Status.Terminal() {
		o.recorder.DuplicateSkipped()
		log.Info("job already terminal; acknowledging duplicate delivery",
			zap.String("status", string(m.Status)))
		return nil
	}

	// A queued manifest, or a processing one left by an attempt that died
	// mid-flight. Claiming it bumps the version so a concurrent worker on the
	// same job loses its next write.
	if !created {
		m.MarkProcessing(o.now())
		version, err = o.manifests.Update(ctx, m, version)
		if err != nil {
			return o.storeFailure(log, "mark processing", err)
		}
	}

	img, genErr := o.generate(ctx, m)
	if genErr != nil {
		if ctx.Err() != nil {
			// Shutdown, not a generation failure: leave the job processing
			// for redelivery.
			return ctx.Err()
		}
		return o.fail(ctx, log, m, version, genErr, start)
	}

	key, err := o.artifacts.Put(ctx, m.JobID, img)
	if err != nil {
		return o.storeFailure(log, "write artifact", err)
	}

	m.MarkDone(key, o.now())
	if _, err := o.manifests.Update(ctx, m, version); err != nil {
		return o.storeFailure(log, "mark done", err)
	}

	elapsed := o.now().Sub(start)
	o.recorder.JobFinished(manifest.StatusDone, elapsed)
	log.Info("job done",
		zap.String("artifact_key", key),
		zap.Int("bytes", len(img)),
		zap.Duration("elapsed", elapsed))
	return nil
}

// load returns the authoritative manifest and its version. When none exists
// it synthesizes one from the message, already processing, and reports
// created.
func (o *Orchestrator) load(ctx context.Context, msg queue.Message, log *zap.Logger) (*manifest.Manifest, string, bool, error) {
	if !manifest.ValidJobID(msg.JobID) {
		o.recorder.DeliveryFailed("malformed")
		return nil, "", false, fmt.Errorf("%w: invalid jobId %q", queue.ErrMalformed, msg.JobID)
	}

	m, version, err := o.manifests.Get(ctx, msg.JobID)
	if err == nil {
		return m, version, false, nil
	}
	if !jobstore.IsNotFound(err) {
		return nil, "", false, o.storeFailure(log, "read manifest", err)
	}

	req := msg.Request()
	if verr := manifest.ValidateRequest(req); verr != nil {
		o.recorder.DeliveryFailed("malformed")
		return nil, "", false, fmt.Errorf("%w: %v", queue.ErrMalformed, verr)
	}

	m = manifest.New(msg.JobID, manifest.StatusProcessing, req, o.now())
	version, err = o.manifests.Create(ctx, m)
	if err != nil {
		return nil, "", false, o.storeFailure(log, "synthesize manifest", err)
	}
	log.Warn("manifest missing; synthesized from message")
	return m, version, true, nil
}

func (o *Orchestrator) generate(ctx context.Context, m *manifest.Manifest) ([]byte, error) {
	genCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	img, err := o.gen.Generate(genCtx, generator.ParamsFrom(m.Request))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var pe *generator.ProviderError
		switch {
		case errors.As(err, &pe):
			return nil, pe
		case errors.Is(err, context.DeadlineExceeded):
			return nil, &generator.ProviderError{
				Message: fmt.Sprintf("generation timed out after %s", o.timeout),
				Err:     err,
			}
		default:
			return nil, &generator.ProviderError{Message: err.Error(), Err: err}
		}
	}
	if err := generator.ValidatePNG("", img); err != nil {
		return nil, err
	}
	return img, nil
}

func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, m *manifest.Manifest, version string, genErr error, start time.Time) error {
	m.MarkFailed(genErr.Error(), o.now())
	if _, err := o.manifests.Update(ctx, m, version); err != nil {
		return o.storeFailure(log, "mark failed", err)
	}

	elapsed := o.now().Sub(start)
	o.recorder.JobFinished(manifest.StatusFailed, elapsed)
	log.Warn("job failed",
		zap.String("error", m.Error),
		zap.Duration("elapsed", elapsed))
	return genErr
}

func (o *Orchestrator) storeFailure(log *zap.Logger, step string, err error) error {
	if jobstore.IsConflict(err) {
		o.recorder.DeliveryFailed("conflict")
		log.Info("lost manifest race; delivery will be retried", zap.String("step", step))
		return err
	}
	o.recorder.DeliveryFailed("store")
	log.Error("store operation failed", zap.String("step", step), zap.Error(err))
	if jobstore.IsStoreError(err) {
		return err
	}
	return &jobstore.StoreError{Op: step, Err: err}
}

type nopRecorder struct{}

func (nopRecorder) JobFinished(manifest.Status, time.Duration) {}
func (nopRecorder) DuplicateSkipped()                          {}
func (nopRecorder) DeliveryFailed(string)                      {}
