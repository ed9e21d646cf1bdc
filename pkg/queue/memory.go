package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// DefaultMemoryWait is how long Memory.Receive waits for a message.
const DefaultMemoryWait = time.Second

// Memory is an in-process Queue for tests and single-binary development.
//
// Deliveries are FIFO. A received delivery stays in flight until acked or
// nacked; there is no visibility timeout.
type Memory struct {
	mu       sync.Mutex
	ready    []Delivery
	inflight map[string]Delivery
	attempts map[string]int
	seq      uint64
	closed   bool

	notify chan struct{}
	wait   time.Duration
	batch  int
}

var _ Queue = (*Memory)(nil)

// NewMemory returns an empty queue. wait <= 0 uses DefaultMemoryWait and
// batch <= 0 returns one delivery per Receive.
func NewMemory(wait time.Duration, batch int) *Memory {
	if wait <= 0 {
		wait = DefaultMemoryWait
	}
	if batch <= 0 {
		batch = 1
	}
	return &Memory{
		inflight: make(map[string]Delivery),
		attempts: make(map[string]int),
		notify:   make(chan struct{}, 1),
		wait:     wait,
		batch:    batch,
	}
}

func (q *Memory) Send(ctx context.Context, msg Message) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	return q.SendRaw(ctx, body)
}

// SendRaw enqueues an arbitrary body, including malformed ones.
func (q *Memory) SendRaw(ctx context.Context, body []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.seq++
	id := "m" + strconv.FormatUint(q.seq, 10)
	q.ready = append(q.ready, Delivery{ID: id, Receipt: id, Body: body})
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *Memory) Receive(ctx context.Context) ([]Delivery, error) {
	timer := time.NewTimer(q.wait)
	defer timer.Stop()

	for {
		if out, err := q.take(); err != nil || len(out) > 0 {
			return out, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

func (q *Memory) take() ([]Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	n := min(q.batch, len(q.ready))
	if n == 0 {
		return nil, nil
	}
	now := time.Now()
	out := make([]Delivery, 0, n)
	for _, d := range q.ready[:n] {
		q.attempts[d.ID]++
		d.Attempt = q.attempts[d.ID]
		d.ReceivedAt = now
		q.inflight[d.ID] = d
		out = append(out, d)
	}
	q.ready = q.ready[n:]
	if len(q.ready) > 0 {
		q.signal()
	}
	return out, nil
}

func (q *Memory) Ack(ctx context.Context, d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, d.Receipt)
	delete(q.attempts, d.Receipt)
	return nil
}

func (q *Memory) Nack(ctx context.Context, d Delivery) error {
	q.mu.Lock()
	held, ok := q.inflight[d.Receipt]
	if ok {
		delete(q.inflight, d.Receipt)
		q.ready = append(q.ready, held)
	}
	q.mu.Unlock()
	if ok {
		q.signal()
	}
	return nil
}

// Len reports ready and in-flight message counts.
func (q *Memory) Len() (ready, inflight int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.inflight)
}

func (q *Memory) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *Memory) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
