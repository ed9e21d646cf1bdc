package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/imagequeue/internal/errors"
	"github.com/3leaps/imagequeue/pkg/gateway"
	"github.com/3leaps/imagequeue/pkg/manifest"
	"github.com/3leaps/imagequeue/pkg/orchestrator"
	"github.com/3leaps/imagequeue/pkg/queue"
	"github.com/3leaps/imagequeue/pkg/status"
)

// Submitter accepts new jobs.
type Submitter interface {
	Submit(ctx context.Context, req manifest.Request) (gateway.Receipt, error)
}

// StatusReader answers job status lookups.
type StatusReader interface {
	Get(ctx context.Context, jobID string) (status.View, error)
}

// BatchProcessor runs the orchestrator over a batch of pushed deliveries.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, deliveries []queue.Delivery) orchestrator.BatchResult
}

// PushMessage is one message in a push delivery request.
type PushMessage struct {
	MessageID string `json:"messageId"`
	Body      string `json:"body"`
	Attempt   int    `json:"attempt,omitempty"`
}

// PushRequest is the body of POST /internal/deliveries.
type PushRequest struct {
	Messages []PushMessage `json:"messages"`
}

// BatchItemFailure names one message the caller must redeliver.
type BatchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// PushResponse lists failed messages. An empty list means every message is settled.
type PushResponse struct {
	BatchItemFailures []BatchItemFailure `json:"batchItemFailures"`
}

// JobHandlers serves the job API. Any nil dependency leaves its route unmounted.
type JobHandlers struct {
	Gateway   Submitter
	Status    StatusReader
	Processor BatchProcessor
	Logger    *zap.Logger
}

// Routes mounts the job endpoints on r.
func (h *JobHandlers) Routes(r chi.Router) {
	if h.Gateway != nil {
		r.Post("/images", h.SubmitHandler)
	}
	if h.Status != nil {
		r.Get("/jobs/{jobId}", h.StatusHandler)
	}
	if h.Processor != nil {
		r.Post("/internal/deliveries", h.DeliveriesHandler)
	}
}

func (h *JobHandlers) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// SubmitHandler handles POST /images.
func (h *JobHandlers) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	req, err := gateway.DecodeInput(r.Body)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	receipt, err := h.Gateway.Submit(r.Context(), req)
	if err != nil {
		if !gateway.IsValidationError(err) {
			h.logger().Error("Submission failed",
				zap.String("request_id", apperrors.RequestIDFrom(r.Context())),
				zap.Error(err))
		}
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusAccepted, receipt)
}

// StatusHandler handles GET /jobs/{jobId}.
func (h *JobHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.Status.Get(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	apperrors.WriteJSON(w, http.StatusOK, view)
}

// DeliveriesHandler handles POST /internal/deliveries, the HTTP push front door.
// The response always has status 200 once the body parses; per-message failures
// are listed in batchItemFailures.
func (h *JobHandlers) DeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	var push PushRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, gateway.MaxBodyBytes))
	if err := dec.Decode(&push); err != nil {
		respondWithError(w, r, apperrors.NewValidation("invalid JSON body", nil))
		return
	}

	now := time.Now()
	deliveries := make([]queue.Delivery, 0, len(push.Messages))
	for i, m := range push.Messages {
		// Failures are reported by id, so an unnamed message falls back to
		// its index in the batch.
		id := m.MessageID
		if id == "" {
			id = strconv.Itoa(i)
		}
		deliveries = append(deliveries, queue.Delivery{
			ID:         id,
			Body:       []byte(m.Body),
			Attempt:    m.Attempt,
			ReceivedAt: now,
		})
	}

	result := h.Processor.ProcessBatch(r.Context(), deliveries)
	resp := PushResponse{BatchItemFailures: []BatchItemFailure{}}
	for _, id := range result.Failures() {
		resp.BatchItemFailures = append(resp.BatchItemFailures, BatchItemFailure{ItemIdentifier: id})
	}
	if len(resp.BatchItemFailures) > 0 {
		h.logger().Warn("Push batch had failures",
			zap.Int("batch_size", len(deliveries)),
			zap.Int("failed", len(resp.BatchItemFailures)))
	}
	apperrors.WriteJSON(w, http.StatusOK, resp)
}
