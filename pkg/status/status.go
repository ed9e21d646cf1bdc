// Package status answers "where is my job" from the manifest alone.
package status

import (
	"context"

	"github.com/3leaps/imagequeue/pkg/manifest"
)

// ManifestReader loads manifests.
type ManifestReader interface {
	Get(ctx context.Context, jobID string) (*manifest.Manifest, string, error)
}

// View is the client-facing job status.
type View struct {
	JobID    string          `json:"jobId"`
	Status   manifest.Status `json:"status"`
	Error    string          `json:"error,omitempty"`
	ImageURL string          `json:"imageUrl,omitempty"`
}

// Query is a read-only status lookup.
type Query struct {
	manifests  ManifestReader
	cdnBaseURL string
}

// New returns a Query. cdnBaseURL prefixes artifact URLs.
func New(manifests ManifestReader, cdnBaseURL string) *Query {
	return &Query{manifests: manifests, cdnBaseURL: cdnBaseURL}
}

// Get returns the job's view, or jobstore.ErrNotFound for an unknown job.
// ImageURL is set only when the job is done.
func (q *Query) Get(ctx context.Context, jobID string) (View, error) {
	m, _, err := q.manifests.Get(ctx, jobID)
	if err != nil {
		return View{}, err
	}
	return ViewOf(m, q.cdnBaseURL), nil
}

// ViewOf projects a manifest onto its client view.
func ViewOf(m *manifest.Manifest, cdnBaseURL string) View {
	v := View{JobID: m.JobID, Status: m.Status}
	switch m.Status {
	case manifest.StatusDone:
		v.ImageURL = manifest.ImageURL(cdnBaseURL, m.JobID)
	case manifest.StatusFailed:
		v.Error = m.Error
	}
	return v
}
