// Package manifest defines the job manifest document and its invariants.
//
// A manifest is the single durable record of one image generation job. It is
// stored as JSON at jobs/<jobId>.json and embeds the immutable request that
// created the job. Every write goes through Validate so a malformed document
// never reaches the object store.
//
// Example manifest (JSON):
//
//	{
//	  "jobId": "job_0192f0c4-7d4e-7b51-9a43-0c1c5f0e4a11",
//	  "status": "done",
//	  "artifactKey": "images/job_0192f0c4-7d4e-7b51-9a43-0c1c5f0e4a11.png",
//	  "createdAt": "2026-10-17T09:00:00Z",
//	  "updatedAt": "2026-10-17T09:00:12Z",
//	  "request": {
//	    "prompt": "a lighthouse at dusk",
//	    "size": "1024x1024",
//	    "quality": "high",
//	    "background": "opaque",
//	    "references": []
//	  }
//	}
package manifest

import (
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is done or failed. Terminal manifests are never
// rewritten.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// MaxErrorLength bounds the diagnostic stored on a failed manifest.
const MaxErrorLength = 500

// Manifest is the persisted state of one job.
type Manifest struct {
	// JobID is the opaque job identifier, e.g. "job_<uuidv7>".
	JobID string `json:"jobId"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Error is a short diagnostic. Present only when Status is failed.
	Error string `json:"error,omitempty"`

	// ArtifactKey locates the generated image. Present iff Status is done.
	ArtifactKey string `json:"artifactKey,omitempty"`

	// CreatedAt is set once when the manifest is first written.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is stamped on every write.
	UpdatedAt time.Time `json:"updatedAt"`

	// Request is the immutable job request.
	Request Request `json:"request"`
}

// New returns a manifest in the given initial status with both timestamps set
// to now. The request is copied with defaults applied.
func New(jobID string, status Status, req Request, now time.Time) *Manifest {
	req.ApplyDefaults()
	now = now.UTC()
	return &Manifest{
		JobID:     jobID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
		Request:   req,
	}
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	c := *m
	if m.Request.References != nil {
		c.Request.References = append([]Reference(nil), m.Request.References...)
	}
	return &c
}

// MarkProcessing moves the manifest to processing.
func (m *Manifest) MarkProcessing(now time.Time) {
	m.Status = StatusProcessing
	m.Error = ""
	m.ArtifactKey = ""
	m.touch(now)
}

// MarkDone records a successful generation.
func (m *Manifest) MarkDone(artifactKey string, now time.Time) {
	m.Status = StatusDone
	m.Error = ""
	m.ArtifactKey = artifactKey
	m.touch(now)
}

// MarkFailed records a failed generation. The diagnostic is truncated to
// MaxErrorLength.
func (m *Manifest) MarkFailed(diagnostic string, now time.Time) {
	m.Status = StatusFailed
	m.Error = TruncateError(diagnostic)
	if m.Error == "" {
		m.Error = "generation failed"
	}
	m.ArtifactKey = ""
	m.touch(now)
}

// touch stamps UpdatedAt without letting it move backwards, so a clock step
// on this host cannot violate updatedAt >= createdAt.
func (m *Manifest) touch(now time.Time) {
	now = now.UTC()
	if now.Before(m.UpdatedAt) {
		return
	}
	m.UpdatedAt = now
}

// TruncateError shortens s to at most MaxErrorLength bytes without splitting
// a UTF-8 sequence.
func TruncateError(s string) string {
	if len(s) <= MaxErrorLength {
		return s
	}
	cut := MaxErrorLength
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
