// Package queue defines the job trigger queue used between the submission
// gateway and the orchestrator.
//
// Delivery is at-least-once: a message stays invisible while a worker holds
// it and reappears when the visibility window lapses or the worker Nacks it.
// Messages carry the job request so a worker can synthesize a manifest that
// is missing, but the manifest in the object store is always authoritative.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/3leaps/imagequeue/pkg/manifest"
)

// ErrMalformed indicates a delivery body that is not a valid job message.
var ErrMalformed = errors.New("malformed queue message")

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Queue is a durable at-least-once job trigger queue.
type Queue interface {
	// Send enqueues a message.
	Send(ctx context.Context, msg Message) error

	// Receive waits up to the queue's configured wait time for deliveries.
	// An empty result with a nil error means the wait elapsed.
	Receive(ctx context.Context) ([]Delivery, error)

	// Ack removes a delivery permanently.
	Ack(ctx context.Context, d Delivery) error

	// Nack makes a delivery visible again for redelivery.
	Nack(ctx context.Context, d Delivery) error

	// Close releases transport resources.
	Close() error
}

// Message is the queue payload. It triggers processing; it is never state.
type Message struct {
	JobID      string               `json:"jobId"`
	Prompt     string               `json:"prompt"`
	Size       manifest.Size        `json:"size,omitempty"`
	Quality    manifest.Quality     `json:"quality,omitempty"`
	Background manifest.Background  `json:"background,omitempty"`
	References []manifest.Reference `json:"references,omitempty"`
}

// NewMessage builds the message that triggers processing of a job.
func NewMessage(jobID string, req manifest.Request) Message {
	return Message{
		JobID:      jobID,
		Prompt:     req.Prompt,
		Size:       req.Size,
		Quality:    req.Quality,
		Background: req.Background,
		References: req.References,
	}
}

// Request returns the job request carried by the message with defaults
// applied to absent fields.
func (m Message) Request() manifest.Request {
	req := manifest.Request{
		Prompt:     m.Prompt,
		Size:       m.Size,
		Quality:    m.Quality,
		Background: m.Background,
		References: m.References,
	}
	req.ApplyDefaults()
	return req
}

// Encode serializes the message body.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a delivery body. It fails with ErrMalformed when the body is
// not JSON or lacks a usable job id.
func Decode(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !manifest.ValidJobID(m.JobID) {
		return Message{}, fmt.Errorf("%w: invalid jobId %q", ErrMalformed, m.JobID)
	}
	return m, nil
}

// Delivery is one received copy of a message.
type Delivery struct {
	// ID identifies the message across redeliveries.
	ID string

	// Body is the raw message payload.
	Body []byte

	// Receipt is the transport handle used to Ack or Nack this copy.
	Receipt string

	// Attempt is the 1-based receive count when the transport reports it.
	Attempt int

	// ReceivedAt is when this copy was received.
	ReceivedAt time.Time
}
