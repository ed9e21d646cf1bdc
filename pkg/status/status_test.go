package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/imagequeue/pkg/jobstore"
	"github.com/3leaps/imagequeue/pkg/manifest"
	"github.com/3leaps/imagequeue/pkg/provider/memory"
)

func TestQuery_Get(t *testing.T) {
	ctx := context.Background()
	store := jobstore.NewManifestStore(memory.New())
	t0 := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	queued := manifest.New("job_q", manifest.StatusQueued, manifest.Request{Prompt: "p"}, t0)
	done := manifest.New("job_d", manifest.StatusProcessing, manifest.Request{Prompt: "p"}, t0)
	done.MarkDone(manifest.ArtifactKey("job_d"), t0)
	failed := manifest.New("job_f", manifest.StatusProcessing, manifest.Request{Prompt: "p"}, t0)
	failed.MarkFailed("rate limited", t0)
	for _, m := range []*manifest.Manifest{queued, done, failed} {
		_, err := store.Create(ctx, m)
		require.NoError(t, err)
	}

	q := New(store, "https://cdn.example.com")

	tests := []struct {
		id   string
		want View
	}{
		{"job_q", View{JobID: "job_q", Status: manifest.StatusQueued}},
		{"job_d", View{JobID: "job_d", Status: manifest.StatusDone, ImageURL: "https://cdn.example.com/images/job_d.png"}},
		{"job_f", View{JobID: "job_f", Status: manifest.StatusFailed, Error: "rate limited"}},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := q.Get(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := q.Get(ctx, "job_unknown")
	assert.True(t, jobstore.IsNotFound(err))
}

func TestQuery_IsReadOnly(t *testing.T) {
	ctx := context.Background()
	p := memory.New()
	store := jobstore.NewManifestStore(p)
	_, err := store.Create(ctx, manifest.New("job_1", manifest.StatusQueued, manifest.Request{Prompt: "p"}, time.Now()))
	require.NoError(t, err)
	_, before, err := store.Get(ctx, "job_1")
	require.NoError(t, err)

	_, err = New(store, "").Get(ctx, "job_1")
	require.NoError(t, err)

	_, after, err := store.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, p.Len())
}
