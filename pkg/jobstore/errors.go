package jobstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates no manifest exists for the job id.
	ErrNotFound = errors.New("job not found")

	// ErrConflict indicates a conditional write lost to a concurrent writer.
	// The caller should re-read and retry, usually via redelivery.
	ErrConflict = errors.New("manifest version conflict")
)

// StoreError wraps a storage failure that is neither not-found nor a
// conflict: network, permissions, throttling or a corrupt document. It is
// retryable and never recorded on the manifest.
type StoreError struct {
	// Op is the store operation that failed (e.g., "GetManifest", "PutArtifact").
	Op string

	// Key is the object key involved.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("jobstore %s %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing manifest.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error indicates a lost optimistic write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsStoreError returns true if err is or wraps a *StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
