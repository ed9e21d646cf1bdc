package gateway

import (
	"errors"
	"fmt"

	"github.com/3leaps/imagequeue/pkg/manifest"
)

// ValidationError rejects a submission before anything is stored or queued.
type ValidationError struct {
	// Message is the client-facing summary, e.g. "prompt required".
	Message string

	// Fields lists individual problems when known.
	Fields manifest.ValidationErrors
}

// Error returns the client-facing summary.
func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap exposes field errors for errors.Is(err, manifest.ErrValidationFailed).
func (e *ValidationError) Unwrap() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e.Fields
}

// EnqueueError reports that the manifest was written but the trigger message
// could not be sent. The queued manifest is left in place.
type EnqueueError struct {
	JobID string
	Err   error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("enqueue job %s: %v", e.JobID, e.Err)
}

func (e *EnqueueError) Unwrap() error {
	return e.Err
}

// IsValidationError returns true if err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsEnqueueError returns true if err is or wraps an *EnqueueError.
func IsEnqueueError(err error) bool {
	var ee *EnqueueError
	return errors.As(err, &ee)
}

func promptRequired() *ValidationError {
	return &ValidationError{
		Message: "prompt required",
		Fields:  manifest.ValidationErrors{{Path: "/prompt", Message: "prompt required"}},
	}
}
