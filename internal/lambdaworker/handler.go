// Package lambdaworker is the push front door for AWS Lambda SQS triggers.
//
// Each invocation carries a batch of SQS records. Records whose processing
// failed are returned in batchItemFailures so SQS redelivers only those; the
// function must be configured with ReportBatchItemFailures.
package lambdaworker

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/3leaps/imagequeue/pkg/orchestrator"
	"github.com/3leaps/imagequeue/pkg/queue"
)

// Processor runs a batch of deliveries.
type Processor interface {
	ProcessBatch(ctx context.Context, deliveries []queue.Delivery) orchestrator.BatchResult
}

// Handler adapts SQS events to the orchestrator.
type Handler struct {
	proc   Processor
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Handler. A nil logger disables logging.
func New(proc Processor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{proc: proc, logger: logger, now: time.Now}
}

// Handle processes one SQS event. It never returns an error for per-record
// failures; an error would make SQS redeliver the whole batch.
func (h *Handler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	receivedAt := h.now()
	deliveries := make([]queue.Delivery, 0, len(event.Records))
	for i, rec := range event.Records {
		d := FromRecord(rec, receivedAt)
		if d.ID == "" {
			d.ID = strconv.Itoa(i)
		}
		deliveries = append(deliveries, d)
	}

	result := h.proc.ProcessBatch(ctx, deliveries)

	resp := events.SQSEventResponse{BatchItemFailures: []events.SQSBatchItemFailure{}}
	for _, id := range result.Failures() {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}

	h.logger.Info("Processed SQS batch",
		zap.Int("batch_size", len(deliveries)),
		zap.Int("succeeded", result.Succeeded()),
		zap.Int("failed", len(resp.BatchItemFailures)))
	return resp, nil
}

// FromRecord converts a Lambda SQS record into a queue delivery.
func FromRecord(rec events.SQSMessage, receivedAt time.Time) queue.Delivery {
	d := queue.Delivery{
		ID:         rec.MessageId,
		Body:       []byte(rec.Body),
		Receipt:    rec.ReceiptHandle,
		ReceivedAt: receivedAt,
	}
	if n, err := strconv.Atoi(rec.Attributes["ApproximateReceiveCount"]); err == nil {
		d.Attempt = n
	}
	return d
}
