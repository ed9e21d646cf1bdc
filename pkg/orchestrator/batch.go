package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/imagequeue/pkg/queue"
)

// Outcome is the result of one delivery in a batch.
type Outcome struct {
	MessageID string
	JobID     string
	Err       error
}

// BatchResult lists one outcome per delivery, in input order.
type BatchResult struct {
	Outcomes []Outcome
}

// Failures returns the message ids whose processing failed.
func (r BatchResult) Failures() []string {
	var ids []string
	for _, o := range r.Outcomes {
		if o.Err != nil {
			ids = append(ids, o.MessageID)
		}
	}
	return ids
}

// Succeeded reports how many deliveries succeeded.
func (r BatchResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// ProcessDelivery decodes and processes one delivery. A malformed body fails
// with queue.ErrMalformed.
func (o *Orchestrator) ProcessDelivery(ctx context.Context, d queue.Delivery) (string, error) {
	msg, err := queue.Decode(d.Body)
	if err != nil {
		o.recorder.DeliveryFailed("malformed")
		o.logger.Warn("malformed delivery",
			zap.String("message_id", d.ID),
			zap.Error(err))
		return "", err
	}
	return msg.JobID, o.Process(ctx, msg)
}

// ProcessBatch processes deliveries independently with bounded concurrency.
// One delivery's failure never affects another's outcome.
func (o *Orchestrator) ProcessBatch(ctx context.Context, deliveries []queue.Delivery) BatchResult {
	outcomes := make([]Outcome, len(deliveries))
	sem := make(chan struct{}, o.workers)
	var wg sync.WaitGroup

	for i, d := range deliveries {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, d queue.Delivery) {
			defer wg.Done()
			defer func() { <-sem }()

			jobID, err := o.ProcessDelivery(ctx, d)
			outcomes[i] = Outcome{MessageID: d.ID, JobID: jobID, Err: err}
		}(i, d)
	}
	wg.Wait()

	result := BatchResult{Outcomes: outcomes}
	if failed := result.Failures(); len(failed) > 0 {
		o.logger.Info("batch finished with failures",
			zap.Int("total", len(deliveries)),
			zap.Int("failed", len(failed)),
			zap.Strings("failed_message_ids", failed))
	}
	return result
}
