// Package poller is the pull front door: it long-polls a queue, hands each
// batch to the orchestrator and settles every delivery from its own outcome.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/imagequeue/pkg/generator"
	"github.com/3leaps/imagequeue/pkg/jobstore"
	"github.com/3leaps/imagequeue/pkg/orchestrator"
	"github.com/3leaps/imagequeue/pkg/queue"
)

const (
	DefaultMinBackoff = 2 * time.Second
	DefaultMaxBackoff = 30 * time.Second

	settleTimeout = 10 * time.Second
)

// ErrTooManyErrors is returned by Run when consecutive receive failures reach
// the configured limit. The process is expected to exit and be restarted.
var ErrTooManyErrors = errors.New("too many consecutive receive errors")

// Processor handles one batch of deliveries.
type Processor interface {
	ProcessBatch(ctx context.Context, deliveries []queue.Delivery) orchestrator.BatchResult
}

// Recorder receives poll loop events for metrics.
type Recorder interface {
	BatchReceived(n int)
	ReceiveFailed()
}

// Config tunes the poll loop.
type Config struct {
	// MinBackoff is the first delay after a receive error, and before a
	// delivery that hit a store error is returned to the queue.
	MinBackoff time.Duration

	// MaxBackoff caps the exponential delay.
	MaxBackoff time.Duration

	// MaxConsecutiveErrors ends Run with ErrTooManyErrors. Zero never gives up.
	MaxConsecutiveErrors int
}

func (c *Config) applyDefaults() {
	if c.MinBackoff <= 0 {
		c.MinBackoff = DefaultMinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = max(DefaultMaxBackoff, c.MinBackoff)
	}
}

// Poller runs the receive, process, settle loop.
type Poller struct {
	q      queue.Queue
	proc   Processor
	cfg    Config
	logger *zap.Logger

	recorder Recorder
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Poller) {
		if r != nil {
			p.recorder = r
		}
	}
}

// New returns a Poller.
func New(q queue.Queue, proc Processor, cfg Config, opts ...Option) *Poller {
	cfg.applyDefaults()
	p := &Poller{
		q:        q,
		proc:     proc,
		cfg:      cfg,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled (returning nil) or the consecutive error
// limit is hit. A single job's failure never stops the loop.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		zap.Duration("min_backoff", p.cfg.MinBackoff),
		zap.Duration("max_backoff", p.cfg.MaxBackoff),
		zap.Int("max_consecutive_errors", p.cfg.MaxConsecutiveErrors))

	consecutive := 0
	for {
		if ctx.Err() != nil {
			p.logger.Info("poller stopping")
			return nil
		}

		deliveries, err := p.q.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("poller stopping")
				return nil
			}
			consecutive++
			p.recorder.ReceiveFailed()
			if p.cfg.MaxConsecutiveErrors > 0 && consecutive >= p.cfg.MaxConsecutiveErrors {
				p.logger.Error("giving up after consecutive receive errors",
					zap.Int("consecutive_errors", consecutive), zap.Error(err))
				return fmt.Errorf("%w: %d: %v", ErrTooManyErrors, consecutive, err)
			}
			delay := p.backoff(consecutive)
			p.logger.Warn("receive failed; backing off",
				zap.Int("consecutive_errors", consecutive),
				zap.Duration("backoff", delay),
				zap.Error(err))
			if err := p.sleep(ctx, delay); err != nil {
				p.logger.Info("poller stopping")
				return nil
			}
			continue
		}
		consecutive = 0

		if len(deliveries) == 0 {
			continue
		}
		p.recorder.BatchReceived(len(deliveries))
		p.handle(ctx, deliveries)
	}
}

// handle processes one batch and settles each delivery. Successes are acked.
// Conflicts and recorded generation failures are nacked so the redelivery
// quickly observes the newer manifest. Store errors are nacked after a
// backoff scaled by the delivery's attempt count. Malformed bodies are left
// to the queue's visibility timeout and redrive policy.
func (p *Poller) handle(ctx context.Context, deliveries []queue.Delivery) {
	result := p.proc.ProcessBatch(ctx, deliveries)

	byID := make(map[string]queue.Delivery, len(deliveries))
	for _, d := range deliveries {
		byID[d.ID] = d
	}

	// Settle with a fresh context so a shutdown mid-batch still acks work
	// that finished.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	var pending []queue.Delivery
	var delay time.Duration
	for _, o := range result.Outcomes {
		d := byID[o.MessageID]
		log := p.logger.With(zap.String("message_id", o.MessageID), zap.String("job_id", o.JobID))

		switch {
		case o.Err == nil:
			if err := p.q.Ack(settleCtx, d); err != nil {
				log.Warn("ack failed; message will be redelivered", zap.Error(err))
			}
		case jobstore.IsConflict(o.Err), generator.IsProviderError(o.Err):
			if err := p.q.Nack(settleCtx, d); err != nil {
				log.Warn("nack failed", zap.Error(err))
			}
		case errors.Is(o.Err, queue.ErrMalformed):
			log.Warn("malformed delivery; leaving for redrive",
				zap.Int("attempt", d.Attempt),
				zap.Error(o.Err))
		default:
			wait := p.backoff(d.Attempt)
			pending = append(pending, d)
			delay = max(delay, wait)
			log.Warn("delivery failed; retrying after backoff",
				zap.Int("attempt", d.Attempt),
				zap.Duration("backoff", wait),
				zap.Error(o.Err))
		}
	}

	if len(pending) > 0 {
		p.retry(ctx, pending, delay)
	}
}

// retry waits out delay and returns the deliveries to the queue. A shutdown
// cuts the wait short but still returns them.
func (p *Poller) retry(ctx context.Context, deliveries []queue.Delivery, delay time.Duration) {
	_ = p.sleep(ctx, delay)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	for _, d := range deliveries {
		if err := p.q.Nack(settleCtx, d); err != nil {
			p.logger.Warn("nack failed; waiting for visibility timeout",
				zap.String("message_id", d.ID), zap.Error(err))
		}
	}
}

func (p *Poller) backoff(consecutive int) time.Duration {
	d := p.cfg.MinBackoff
	for i := 1; i < consecutive; i++ {
		d *= 2
		if d >= p.cfg.MaxBackoff {
			return p.cfg.MaxBackoff
		}
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopRecorder struct{}

func (nopRecorder) BatchReceived(int) {}
func (nopRecorder) ReceiveFailed()    {}
