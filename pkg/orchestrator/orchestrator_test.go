package orchestrator

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/imagequeue/pkg/generator"
	"github.com/3leaps/imagequeue/pkg/jobstore"
	"github.com/3leaps/imagequeue/pkg/manifest"
	"github.com/3leaps/imagequeue/pkg/provider"
	"github.com/3leaps/imagequeue/pkg/provider/memory"
	"github.com/3leaps/imagequeue/pkg/queue"
)

var t0 = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

// stepClock advances one second per call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type harness struct {
	p         *memory.Provider
	manifests *jobstore.ManifestStore
	artifacts *jobstore.ArtifactStore
	calls     atomic.Int32
	orch      *Orchestrator
}

func newHarness(t *testing.T, gen generator.Generator, opts ...Option) *harness {
	t.Helper()
	h := &harness{p: memory.New()}
	h.manifests = jobstore.NewManifestStore(h.p)
	h.artifacts = jobstore.NewArtifactStore(h.p)
	counted := generator.Func(func(ctx context.Context, p generator.Params) ([]byte, error) {
		h.calls.Add(1)
		return gen.Generate(ctx, p)
	})
	clock := &stepClock{now: t0}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	h.orch = New(h.manifests, h.artifacts, counted, opts...)
	return h
}

func (h *harness) seed(t *testing.T, jobID string, status manifest.Status) {
	t.Helper()
	m := manifest.New(jobID, manifest.StatusQueued, manifest.Request{Prompt: "a lighthouse"}, t0)
	switch status {
	case manifest.StatusDone:
		m.MarkDone(manifest.ArtifactKey(jobID), t0)
	case manifest.StatusFailed:
		m.MarkFailed("earlier failure", t0)
	case manifest.StatusProcessing:
		m.MarkProcessing(t0)
	}
	_, err := h.manifests.Create(context.Background(), m)
	require.NoError(t, err)
}

func (h *harness) get(t *testing.T, jobID string) (*manifest.Manifest, string) {
	t.Helper()
	m, v, err := h.manifests.Get(context.Background(), jobID)
	require.NoError(t, err)
	return m, v
}

func msg(jobID string) queue.Message {
	return queue.Message{JobID: jobID, Prompt: "a lighthouse"}
}

func TestProcess_QueuedToDone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, generator.Stub{})
	h.seed(t, "job_1", manifest.StatusQueued)

	require.NoError(t, h.orch.Process(ctx, msg("job_1")))

	m, _ := h.get(t, "job_1")
	assert.Equal(t, manifest.StatusDone, m.Status)
	assert.Equal(t, "images/job_1.png", m.ArtifactKey)
	assert.Empty(t, m.Error)
	assert.Equal(t, t0, m.CreatedAt)
	assert.True(t, m.UpdatedAt.After(m.CreatedAt))

	body, meta, err := h.p.GetObject(ctx, "images/job_1.png")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	assert.Equal(t, generator.StubImage(), data)
	assert.Equal(t, "image/png", meta.ContentType)
	assert.Equal(t, jobstore.ArtifactCacheControl, meta.CacheControl)
}

func TestProcess_ProviderErrorRecordsFailed(t *testing.T) {
	h := newHarness(t, generator.Func(func(context.Context, generator.Params) ([]byte, error) {
		return nil, generator.NewProviderError("rate limited")
	}))
	h.seed(t, "job_1", manifest.StatusQueued)

	err := h.orch.Process(context.Background(), msg("job_1"))
	require.Error(t, err)
	assert.True(t, generator.IsProviderError(err))

	m, _ := h.get(t, "job_1")
	assert.Equal(t, manifest.StatusFailed, m.Status)
	assert.Equal(t, "rate limited", m.Error)
	assert.Empty(t, m.ArtifactKey)
	assert.Equal(t, 1, h.p.Len(), "no artifact written")
}

func TestProcess_DuplicateAfterTerminalIsNoop(t *testing.T) {
	for _, status := range []manifest.Status{manifest.StatusDone, manifest.StatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, generator.Stub{})
			h.seed(t, "job_1", status)
			before, beforeVersion := h.get(t, "job_1")

			require.NoError(t, h.orch.Process(context.Background(), msg("job_1")))

			after, afterVersion := h.get(t, "job_1")
			assert.Equal(t, int32(0), h.calls.Load(), "generator not invoked")
			assert.Equal(t, beforeVersion, afterVersion, "manifest untouched")
			assert.Equal(t, before, after)
		})
	}
}

func TestProcess_RedeliveryAfterDoneDoesNotRegenerate(t *testing.T) {
	h := newHarness(t, generator.Stub{})
	h.seed(t, "job_1", manifest.StatusQueued)

	require.NoError(t, h.orch.Process(context.Background(), msg("job_1")))
	require.NoError(t, h.orch.Process(context.Background(), msg("job_1")))

	assert.Equal(t, int32(1), h.calls.Load())
}

func TestProcess_ReclaimsStaleProcessing(t *testing.T) {
	h := newHarness(t, generator.Stub{})
	h.seed(t, "job_1", manifest.StatusProcessing)

	require.NoError(t, h.orch.Process(context.Background(), msg("job_1")))

	m, _ := h.get(t, "job_1")
	assert.Equal(t, manifest.StatusDone, m.Status)
}

func TestProcess_MissingManifestIsSynthesized(t *testing.T) {
	h := newHarness(t, generator.Stub{})

	err := h.orch.Process(context.Background(), queue.Message{JobID: "job_9", Prompt: "from message", Size: manifest.SizeAuto})
	require.NoError(t, err)

	m, _ := h.get(t, "job_9")
	assert.Equal(t, manifest.StatusDone, m.Status)
	assert.Equal(t, "from message", m.Request.Prompt)
	assert.Equal(t, manifest.SizeAuto, m.Request.Size)
	assert.Equal(t, manifest.QualityHigh, m.Request.Quality)
}

func TestProcess_ManifestWinsOverMessage(t *testing.T) {
	var seen generator.Params
	h := newHarness(t, generator.Func(func(_ context.Context, p generator.Params) ([]byte, error) {
		seen = p
		return generator.StubImage(), nil
	}))
	h.seed(t, "job_1", manifest.StatusQueued)

	require.NoError(t, h.orch.Process(context.Background(), queue.Message{JobID: "job_1", Prompt: "tampered"}))
	assert.Equal(t, "a lighthouse", seen.Prompt)
}

func TestProcess_MalformedMessage(t *testing.T) {
	h := newHarness(t, generator.Stub{})

	err := h.orch.Process(context.Background(), queue.Message{JobID: "../x", Prompt: "p"})
	assert.ErrorIs(t, err, queue.ErrMalformed)

	err = h.orch.Process(context.Background(), queue.Message{JobID: "job_2", Prompt: ""})
	assert.ErrorIs(t, err, queue.ErrMalformed)

	err = h.orch.Process(context.Background(), queue.Message{JobID: "job_3", Prompt: "p", Size: "huge"})
	assert.ErrorIs(t, err, queue.ErrMalformed)
	assert.Zero(t, h.p.Len())
}

func TestProcess_TimeoutRecordsFailed(t *testing.T) {
	h := newHarness(t, generator.Func(func(ctx context.Context, _ generator.Params) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), WithTimeout(30*time.Millisecond))
	h.seed(t, "job_1", manifest.StatusQueued)

	err := h.orch.Process(context.Background(), msg("job_1"))
	assert.True(t, generator.IsProviderError(err))

	m, _ := h.get(t, "job_1")
	assert.Equal(t, manifest.StatusFailed, m.Status)
	assert.Equal(t, "generation timed out after 30ms", m.Error)
}

func TestProcess_InvalidOutputRecordsFailed(t *testing.T) {
	h := newHarness(t, generator.Func(func(context.Context, generator.Params) ([]byte, error) {
		return []byte("not an image"), nil
	}))
	h.seed(t, "job_1", manifest.StatusQueued)

	err := h.orch.Process(context.Background(), msg("job_1"))
	assert.ErrorIs(t, err, generator.ErrInvalidOutput)

	m, _ := h.get(t, "job_1")
	assert.Equal(t, manifest.StatusFailed, m.Status)
}

func TestProcess_PlainGeneratorErrorBecomesProviderError(t *testing.T) {
	h := newHarness(t, generator.Func(func(context.Context, generator.Params) ([]byte, error) {
		return nil, errors.New("connection reset")
	}))
	h.seed(t, "job_1", manifest.StatusQueued)

	err := h.orch.Process(context.Background(), msg("job_1"))
	assert.True(t, generator.IsProviderError(err))
	m, _ := h.get(t, "job_1")
	assert.Equal(t, "connection reset", m.Error)
}

func TestProcess_ShutdownLeavesProcessing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, generator.Func(func(genCtx context.Context, _ generator.Params) ([]byte, error) {
		cancel()
		<-genCtx.Done()
		return nil, genCtx.Err()
	}))
	h.seed(t, "job_1", manifest.StatusQueued)

	err := h.orch.Process(ctx, msg("job_1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, generator.IsProviderError(err))

	m, _ := h.get(t, "job_1")
	assert.Equal(t, manifest.StatusProcessing, m.Status)
}

// flakyArtifacts fails every Put.
type flakyArtifacts struct{}

func (flakyArtifacts) Put(_ context.Context, jobID string, _ []byte) (string, error) {
	return "", &jobstore.StoreError{Op: "PutArtifact", Key: manifest.ArtifactKey(jobID), Err: provider.ErrProviderUnavailable}
}

func TestProcess_ArtifactStoreErrorNotRecorded(t *testing.T) {
	h := newHarness(t, generator.Stub{})
	h.orch.artifacts = flakyArtifacts{}
	h.seed(t, "job_1", manifest.StatusQueued)

	err := h.orch.Process(context.Background(), msg("job_1"))
	require.Error(t, err)
	assert.True(t, jobstore.IsStoreError(err))
	assert.False(t, generator.IsProviderError(err))

	m, _ := h.get(t, "job_1")
	assert.Equal(t, manifest.StatusProcessing, m.Status, "store failures never mark the job failed")
}

// brokenReads fails every Get with a store error.
type brokenReads struct{ *jobstore.ManifestStore }

func (brokenReads) Get(context.Context, string) (*manifest.Manifest, string, error) {
	return nil, "", &jobstore.StoreError{Op: "GetManifest", Err: provider.ErrThrottled}
}

func TestProcess_ReadStoreError(t *testing.T) {
	h := newHarness(t, generator.Stub{})
	h.orch.manifests = brokenReads{h.manifests}

	err := h.orch.Process(context.Background(), msg("job_1"))
	assert.True(t, jobstore.IsStoreError(err))
	assert.Equal(t, int32(0), h.calls.Load())
}

// racingManifests lets a competing writer finish the job just before this
// worker's final write.
type racingManifests struct {
	*jobstore.ManifestStore
	once sync.Once
}

func (r *racingManifests) Update(ctx context.Context, m *manifest.Manifest, version string) (string, error) {
	if m.Status == manifest.StatusDone {
		r.once.Do(func() {
			other, v, err := r.ManifestStore.Get(ctx, m.JobID)
			if err != nil {
				return
			}
			other.MarkFailed("competing worker", other.UpdatedAt)
			_, _ = r.ManifestStore.Update(ctx, other, v)
		})
	}
	return r.ManifestStore.Update(ctx, m, version)
}

func TestProcess_ConcurrentWriterCausesConflict(t *testing.T) {
	h := newHarness(t, generator.Stub{})
	h.orch.manifests = &racingManifests{ManifestStore: h.manifests}
	h.seed(t, "job_1", manifest.StatusQueued)

	err := h.orch.Process(context.Background(), msg("job_1"))
	require.Error(t, err)
	assert.True(t, jobstore.IsConflict(err))

	m, _ := h.get(t, "job_1")
	assert.Equal(t, manifest.StatusFailed, m.Status, "the competing terminal write is not overwritten")

	// Redelivery observes the terminal state and acknowledges without work.
	require.NoError(t, h.orch.Process(context.Background(), msg("job_1")))
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestProcess_ParallelDuplicatesReachOneTerminalState(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, generator.Func(func(ctx context.Context, _ generator.Params) ([]byte, error) {
		<-release
		return generator.StubImage(), nil
	}))
	h.seed(t, "job_1", manifest.StatusQueued)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- h.orch.Process(context.Background(), msg("job_1")) }()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	var okCount, conflicts int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			okCount++
		case jobstore.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, okCount)
	assert.Equal(t, 1, conflicts)

	m, _ := h.get(t, "job_1")
	assert.Equal(t, manifest.StatusDone, m.Status)
}
