// Package redis implements queue.Queue as a reliable Redis list queue.
//
// Producers LPUSH onto <prefix>:<name>:ready. Each consumer BLMOVEs the
// oldest entry into its own <prefix>:<name>:processing:<worker> list, which
// holds the entry until Ack removes it or Nack puts it back on ready. Recover
// returns a crashed consumer's leftovers to ready when it restarts under the
// same worker id. Entries that are not valid envelopes are parked on
// <prefix>:<name>:dead when nacked.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/3leaps/imagequeue/pkg/queue"
)

// DefaultBlockTimeout matches the SQS long-poll window.
const DefaultBlockTimeout = 20 * time.Second

// Config configures the Redis queue.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces keys, e.g. "imagequeue".
	Prefix string

	// Name is the queue name, e.g. "jobs".
	Name string

	// WorkerID identifies this consumer's processing list.
	WorkerID string

	// BlockTimeout bounds each Receive.
	BlockTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "imagequeue"
	}
	if c.Name == "" {
		c.Name = "jobs"
	}
	if c.WorkerID == "" {
		c.WorkerID = "default"
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = DefaultBlockTimeout
	}
}

// envelope wraps a message body with a stable id and attempt count.
type envelope struct {
	ID       string          `json:"id"`
	Attempts int             `json:"attempts"`
	Body     json.RawMessage `json:"body"`
}

// Queue is a Redis-backed queue.Queue.
type Queue struct {
	client     goredis.UniversalClient
	cfg        Config
	ownsClient bool
}

var _ queue.Queue = (*Queue)(nil)

// New connects to Redis.
func New(cfg Config) (*Queue, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis: addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	q := NewWithClient(client, cfg)
	q.ownsClient = true
	return q, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership.
func NewWithClient(client goredis.UniversalClient, cfg Config) *Queue {
	cfg.applyDefaults()
	return &Queue{client: client, cfg: cfg}
}

func (q *Queue) readyKey() string {
	return fmt.Sprintf("%s:%s:ready", q.cfg.Prefix, q.cfg.Name)
}

func (q *Queue) deadKey() string {
	return fmt.Sprintf("%s:%s:dead", q.cfg.Prefix, q.cfg.Name)
}

func (q *Queue) processingKey() string {
	return fmt.Sprintf("%s:%s:processing:%s", q.cfg.Prefix, q.cfg.Name, q.cfg.WorkerID)
}

func (q *Queue) Send(ctx context.Context, msg queue.Message) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope{ID: uuid.NewString(), Body: body})
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.readyKey(), raw).Err(); err != nil {
		return fmt.Errorf("redis send %s: %w", msg.JobID, err)
	}
	return nil
}

func (q *Queue) Receive(ctx context.Context) ([]queue.Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", q.cfg.BlockTimeout).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis receive: %w", err)
	}

	d, err := decodeEnvelope(raw)
	if err != nil {
		// Keep the raw entry so Ack can remove it; the orchestrator reports
		// the body as malformed.
		return []queue.Delivery{{ID: "invalid-" + uuid.NewString(), Receipt: raw, Body: []byte(raw), Attempt: 1, ReceivedAt: time.Now()}}, nil
	}
	d.ReceivedAt = time.Now()
	return []queue.Delivery{d}, nil
}

func decodeEnvelope(raw string) (queue.Delivery, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return queue.Delivery{}, err
	}
	if env.ID == "" {
		return queue.Delivery{}, fmt.Errorf("envelope missing id")
	}
	return queue.Delivery{
		ID:      env.ID,
		Body:    []byte(env.Body),
		Receipt: raw,
		Attempt: env.Attempts + 1,
	}, nil
}

func (q *Queue) Ack(ctx context.Context, d queue.Delivery) error {
	if err := q.client.LRem(ctx, q.processingKey(), 1, d.Receipt).Err(); err != nil {
		return fmt.Errorf("redis ack %s: %w", d.ID, err)
	}
	return nil
}

// Nack moves the delivery back to the tail of the ready list with its
// attempt count incremented.
func (q *Queue) Nack(ctx context.Context, d queue.Delivery) error {
	target, requeued := q.deadKey(), d.Receipt
	var env envelope
	if err := json.Unmarshal([]byte(d.Receipt), &env); err == nil && env.ID != "" {
		env.Attempts++
		if b, err := json.Marshal(env); err == nil {
			target, requeued = q.readyKey(), string(b)
		}
	}

	_, err := q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(), 1, d.Receipt)
		pipe.LPush(ctx, target, requeued)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis nack %s: %w", d.ID, err)
	}
	return nil
}

// Recover moves every entry left in this worker's processing list back to
// ready. Call it once at startup before Receive.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.client.LMove(ctx, q.processingKey(), q.readyKey(), "RIGHT", "RIGHT").Result()
		if errors.Is(err, goredis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("redis recover: %w", err)
		}
		n++
	}
}

// CheckHealth pings the server.
func (q *Queue) CheckHealth(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	if q.ownsClient {
		return q.client.Close()
	}
	return nil
}
