package manifest

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func validRequest() Request {
	return Request{Prompt: "a lighthouse at dusk"}
}

func TestNew_AppliesDefaults(t *testing.T) {
	m := New("job_1", StatusQueued, validRequest(), t0)

	assert.Equal(t, StatusQueued, m.Status)
	assert.Equal(t, t0, m.CreatedAt)
	assert.Equal(t, t0, m.UpdatedAt)
	assert.Equal(t, Size1024x1024, m.Request.Size)
	assert.Equal(t, QualityHigh, m.Request.Quality)
	assert.Equal(t, BackgroundOpaque, m.Request.Background)
	assert.NotNil(t, m.Request.References)
	require.NoError(t, Validate(m))
}

func TestTransitions(t *testing.T) {
	m := New("job_1", StatusQueued, validRequest(), t0)

	m.MarkProcessing(t0.Add(time.Second))
	assert.Equal(t, StatusProcessing, m.Status)
	require.NoError(t, Validate(m))

	m.MarkDone(ArtifactKey("job_1"), t0.Add(2*time.Second))
	assert.Equal(t, StatusDone, m.Status)
	assert.Equal(t, "images/job_1.png", m.ArtifactKey)
	assert.Equal(t, t0.Add(2*time.Second), m.UpdatedAt)
	assert.Empty(t, m.Error)
	require.NoError(t, Validate(m))
}

func TestMarkFailed_TruncatesDiagnostic(t *testing.T) {
	m := New("job_1", StatusProcessing, validRequest(), t0)

	m.MarkFailed(strings.Repeat("x", 2000), t0)
	assert.Equal(t, StatusFailed, m.Status)
	assert.Len(t, m.Error, MaxErrorLength)
	assert.Empty(t, m.ArtifactKey)
	require.NoError(t, Validate(m))

	m2 := New("job_2", StatusProcessing, validRequest(), t0)
	m2.MarkFailed("", t0)
	assert.Equal(t, "generation failed", m2.Error)
}

func TestTruncateError_KeepsRuneBoundary(t *testing.T) {
	s := strings.Repeat("a", MaxErrorLength-1) + "é" + "tail"
	out := TruncateError(s)
	assert.LessOrEqual(t, len(out), MaxErrorLength)
	assert.True(t, strings.HasSuffix(out, "a"))
}

func TestTouch_NeverMovesBackwards(t *testing.T) {
	m := New("job_1", StatusQueued, validRequest(), t0)
	m.MarkProcessing(t0.Add(-time.Hour))

	assert.Equal(t, t0, m.UpdatedAt)
	require.NoError(t, Validate(m))
}

func TestStatus(t *testing.T) {
	tests := []struct {
		status   Status
		valid    bool
		terminal bool
	}{
		{StatusQueued, true, false},
		{StatusProcessing, true, false},
		{StatusDone, true, true},
		{StatusFailed, true, true},
		{Status("cancelled"), false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.Valid())
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestValidate_Invariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Manifest)
		path   string
	}{
		{"done without artifact", func(m *Manifest) { m.Status = StatusDone }, "/artifactKey"},
		{"artifact while processing", func(m *Manifest) { m.ArtifactKey = "images/x.png" }, "/artifactKey"},
		{"error while processing", func(m *Manifest) { m.Error = "boom" }, "/error"},
		{"unknown status", func(m *Manifest) { m.Status = "paused" }, "/status"},
		{"updatedAt before createdAt", func(m *Manifest) { m.UpdatedAt = m.CreatedAt.Add(-time.Second) }, "/updatedAt"},
		{"missing createdAt", func(m *Manifest) { m.CreatedAt = time.Time{} }, "/createdAt"},
		{"unsafe job id", func(m *Manifest) { m.JobID = "../etc" }, "/jobId"},
		{"empty prompt", func(m *Manifest) { m.Request.Prompt = "   " }, "/request/prompt"},
		{"bad size", func(m *Manifest) { m.Request.Size = "800x600" }, "/request/size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New("job_1", StatusProcessing, validRequest(), t0)
			tt.mutate(m)

			err := Validate(m)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidationFailed))

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			paths := make([]string, 0, len(verrs))
			for _, v := range verrs {
				paths = append(paths, v.Path)
			}
			assert.Contains(t, paths, tt.path)
		})
	}
}

func TestValidateRequest_References(t *testing.T) {
	req := validRequest()
	req.ApplyDefaults()
	req.References = []Reference{
		{Type: ReferenceImageURL, URL: "https://example.com/a.png"},
		{Type: ReferenceBase64, Data: "aGVsbG8=", Filename: "a.png"},
	}
	require.NoError(t, ValidateRequest(req))

	req.References = append(req.References, Reference{Type: "s3"}, Reference{Type: ReferenceImageURL})
	err := ValidateRequest(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/references/2/type")
	assert.Contains(t, err.Error(), "/references/3/url")
}

func TestValidationErrors_Error(t *testing.T) {
	assert.Equal(t, "validation failed", ValidationErrors{}.Error())
	assert.Equal(t, "/a: bad", ValidationErrors{{Path: "/a", Message: "bad"}}.Error())

	multi := ValidationErrors{{Path: "/a", Message: "bad"}, {Message: "worse"}}.Error()
	assert.Contains(t, multi, "2 errors")
	assert.Contains(t, multi, "  - worse")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "jobs/job_abc.json", Key("job_abc"))
	assert.Equal(t, "images/job_abc.png", ArtifactKey("job_abc"))

	assert.True(t, ValidJobID("job_0192f0c4-7d4e-7b51-9a43-0c1c5f0e4a11"))
	assert.False(t, ValidJobID(""))
	assert.False(t, ValidJobID("job/1"))
	assert.False(t, ValidJobID("-leading"))
}

func TestJSONShape(t *testing.T) {
	m := New("job_1", StatusQueued, validRequest(), t0)
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "job_1", raw["jobId"])
	assert.Equal(t, "queued", raw["status"])
	assert.NotContains(t, raw, "error")
	assert.NotContains(t, raw, "artifactKey")
	req := raw["request"].(map[string]any)
	assert.Equal(t, []any{}, req["references"])
}

func TestClone_IsDeep(t *testing.T) {
	req := validRequest()
	req.References = []Reference{{Type: ReferenceImageURL, URL: "https://a"}}
	m := New("job_1", StatusQueued, req, t0)

	c := m.Clone()
	c.Request.References[0].URL = "https://b"
	assert.Equal(t, "https://a", m.Request.References[0].URL)
}

func TestImageURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/images/job_1.png", ImageURL("https://cdn.example.com/", "job_1"))
	assert.Equal(t, "/images/job_1.png", ImageURL("", "job_1"))
	assert.Equal(t, "/jobs/job_1", StatusPath("job_1"))
}
