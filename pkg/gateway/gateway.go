// Package gateway accepts image generation requests.
//
// Submit validates the request, writes a queued manifest with create-only
// semantics and then enqueues the trigger message. It never waits for the
// job to run. The manifest is written first so a status query issued right
// after the 202 always finds the job.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/imagequeue/pkg/manifest"
	"github.com/3leaps/imagequeue/pkg/queue"
)

// ManifestCreator stores a new manifest.
type ManifestCreator interface {
	Create(ctx context.Context, m *manifest.Manifest) (string, error)
}

// Sender enqueues a trigger message.
type Sender interface {
	Send(ctx context.Context, msg queue.Message) error
}

// Recorder receives submission outcomes for metrics.
type Recorder interface {
	JobSubmitted()
	SubmissionRejected(reason string)
}

// Receipt is returned for an accepted submission.
type Receipt struct {
	JobID     string `json:"jobId"`
	StatusURL string `json:"statusUrl"`
	ImageURL  string `json:"imageUrl"`
}

// Gateway is the submission front door.
type Gateway struct {
	manifests  ManifestCreator
	sender     Sender
	cdnBaseURL string

	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
	newID    func() (string, error)
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithIDGenerator overrides job id allocation.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(g *Gateway) { g.newID = fn }
}

// New returns a Gateway. cdnBaseURL prefixes artifact URLs in receipts.
func New(manifests ManifestCreator, sender Sender, cdnBaseURL string, opts ...Option) *Gateway {
	g := &Gateway{
		manifests:  manifests,
		sender:     sender,
		cdnBaseURL: cdnBaseURL,
		logger:     zap.NewNop(),
		recorder:   nopRecorder{},
		now:        time.Now,
		newID:      NewJobID,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewJobID returns "job_" followed by a time-ordered UUIDv7.
func NewJobID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("allocate job id: %w", err)
	}
	return "job_" + id.String(), nil
}

// Submit accepts a request. Absent enum fields take defaults; present but
// unsupported values are rejected with *ValidationError.
//
// Errors: *ValidationError (nothing stored), a jobstore error when the
// manifest write fails (nothing queued), *EnqueueError when the message
// could not be sent (manifest left queued).
func (g *Gateway) Submit(ctx context.Context, req manifest.Request) (Receipt, error) {
	req.ApplyDefaults()
	if err := manifest.ValidateRequest(req); err != nil {
		verr := toValidationError(err)
		g.recorder.SubmissionRejected("validation")
		return Receipt{}, verr
	}

	jobID, err := g.newID()
	if err != nil {
		return Receipt{}, err
	}

	m := manifest.New(jobID, manifest.StatusQueued, req, g.now())
	if _, err := g.manifests.Create(ctx, m); err != nil {
		g.recorder.SubmissionRejected("store")
		g.logger.Error("write queued manifest failed", zap.String("job_id", jobID), zap.Error(err))
		return Receipt{}, err
	}

	if err := g.sender.Send(ctx, queue.NewMessage(jobID, m.Request)); err != nil {
		g.recorder.SubmissionRejected("enqueue")
		g.logger.Error("enqueue failed; manifest left queued", zap.String("job_id", jobID), zap.Error(err))
		return Receipt{}, &EnqueueError{JobID: jobID, Err: err}
	}

	g.recorder.JobSubmitted()
	g.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("size", string(m.Request.Size)),
		zap.Int("references", len(m.Request.References)))

	return Receipt{
		JobID:     jobID,
		StatusURL: manifest.StatusPath(jobID),
		ImageURL:  manifest.ImageURL(g.cdnBaseURL, jobID),
	}, nil
}

func toValidationError(err error) *ValidationError {
	fields, ok := err.(manifest.ValidationErrors)
	if !ok || len(fields) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	for _, f := range fields {
		if f.Path == "/prompt" {
			return &ValidationError{Message: "prompt required", Fields: fields}
		}
	}
	return &ValidationError{Message: invalidMessage(fields), Fields: fields}
}

type nopRecorder struct{}

func (nopRecorder) JobSubmitted()             {}
func (nopRecorder) SubmissionRejected(string) {}
