package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidationFailed is wrapped by every ValidationErrors value.
var ErrValidationFailed = errors.New("manifest validation failed")

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/request/size").
	Path string

	// Message describes the validation failure.
	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString("manifest validation failed with ")
	b.WriteString(fmt.Sprintf("%d errors:\n", len(e)))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks the manifest invariants that hold for every stored version:
// a safe job id, a known status, artifactKey present iff done, error present
// only when failed, and updatedAt not before createdAt.
func Validate(m *Manifest) error {
	if m == nil {
		return ValidationErrors{{Message: "manifest is nil"}}
	}

	var errs ValidationErrors
	if !ValidJobID(m.JobID) {
		errs = append(errs, ValidationError{Path: "/jobId", Message: "invalid job id"})
	}
	if !m.Status.Valid() {
		errs = append(errs, ValidationError{Path: "/status", Message: fmt.Sprintf("unknown status %q", m.Status)})
	}
	if m.Status == StatusDone && m.ArtifactKey == "" {
		errs = append(errs, ValidationError{Path: "/artifactKey", Message: "required when status is done"})
	}
	if m.Status != StatusDone && m.ArtifactKey != "" {
		errs = append(errs, ValidationError{Path: "/artifactKey", Message: "only allowed when status is done"})
	}
	if m.Status != StatusFailed && m.Error != "" {
		errs = append(errs, ValidationError{Path: "/error", Message: "only allowed when status is failed"})
	}
	if len(m.Error) > MaxErrorLength {
		errs = append(errs, ValidationError{Path: "/error", Message: "diagnostic too long"})
	}
	if m.CreatedAt.IsZero() {
		errs = append(errs, ValidationError{Path: "/createdAt", Message: "required"})
	}
	if m.UpdatedAt.Before(m.CreatedAt) {
		errs = append(errs, ValidationError{Path: "/updatedAt", Message: "must not precede createdAt"})
	}
	errs = append(errs, requestErrors("/request", m.Request)...)

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateRequest checks a request after defaults have been applied.
func ValidateRequest(r Request) error {
	errs := requestErrors("", r)
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func requestErrors(prefix string, r Request) ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(r.Prompt) == "" {
		errs = append(errs, ValidationError{Path: prefix + "/prompt", Message: "prompt required"})
	}
	if !ValidSize(r.Size) {
		errs = append(errs, ValidationError{Path: prefix + "/size", Message: fmt.Sprintf("unsupported size %q", r.Size)})
	}
	if !ValidQuality(r.Quality) {
		errs = append(errs, ValidationError{Path: prefix + "/quality", Message: fmt.Sprintf("unsupported quality %q", r.Quality)})
	}
	if !ValidBackground(r.Background) {
		errs = append(errs, ValidationError{Path: prefix + "/background", Message: fmt.Sprintf("unsupported background %q", r.Background)})
	}
	for i, ref := range r.References {
		path := fmt.Sprintf("%s/references/%d", prefix, i)
		switch ref.Type {
		case ReferenceImageURL:
			if strings.TrimSpace(ref.URL) == "" {
				errs = append(errs, ValidationError{Path: path + "/url", Message: "url required"})
			}
		case ReferenceBase64:
			if strings.TrimSpace(ref.Data) == "" {
				errs = append(errs, ValidationError{Path: path + "/data", Message: "data required"})
			}
		default:
			errs = append(errs, ValidationError{Path: path + "/type", Message: fmt.Sprintf("unsupported reference type %q", ref.Type)})
		}
	}
	return errs
}
