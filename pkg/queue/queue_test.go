package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/imagequeue/pkg/manifest"
)

func TestMessage_EncodeDecode(t *testing.T) {
	req := manifest.Request{Prompt: "a cat", Size: manifest.Size1536x1024}
	msg := NewMessage("job_1", req)

	body, err := msg.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobId":"job_1","prompt":"a cat","size":"1536x1024"}`, string(body))

	got, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	r := got.Request()
	assert.Equal(t, manifest.Size1536x1024, r.Size)
	assert.Equal(t, manifest.QualityHigh, r.Quality)
	assert.Equal(t, manifest.BackgroundOpaque, r.Background)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "garbage"},
		{"missing job id", `{"prompt":"x"}`},
		{"unsafe job id", `{"jobId":"../x","prompt":"x"}`},
		{"wrong type", `{"jobId":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			assert.True(t, errors.Is(err, ErrMalformed))
		})
	}
}

func TestMemory_SendReceiveAck(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(50*time.Millisecond, 10)

	require.NoError(t, q.Send(ctx, Message{JobID: "job_1", Prompt: "a"}))
	require.NoError(t, q.Send(ctx, Message{JobID: "job_2", Prompt: "b"}))

	ds, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, 1, ds[0].Attempt)

	ready, inflight := q.Len()
	assert.Equal(t, 0, ready)
	assert.Equal(t, 2, inflight)

	for _, d := range ds {
		require.NoError(t, q.Ack(ctx, d))
	}
	_, inflight = q.Len()
	assert.Equal(t, 0, inflight)
}

func TestMemory_NackRedelivers(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(50*time.Millisecond, 1)
	require.NoError(t, q.Send(ctx, Message{JobID: "job_1", Prompt: "a"}))

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NoError(t, q.Nack(ctx, first[0]))

	second, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 2, second[0].Attempt)
}

func TestMemory_ReceiveWaitElapses(t *testing.T) {
	q := NewMemory(10*time.Millisecond, 1)

	ds, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestMemory_ReceiveWakesOnSend(t *testing.T) {
	ctx := context.Background()
	q := NewMemory(5*time.Second, 1)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Send(ctx, Message{JobID: "job_1", Prompt: "a"})
	}()

	start := time.Now()
	ds, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Len(t, ds, 1)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestMemory_ContextCancel(t *testing.T) {
	q := NewMemory(5*time.Second, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_Closed(t *testing.T) {
	q := NewMemory(time.Second, 1)
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Send(context.Background(), Message{JobID: "job_1"}), ErrClosed)
	_, err := q.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
