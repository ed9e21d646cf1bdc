// Package provider defines abstractions for object storage operations.
//
// Providers implement a minimal surface area focused on whole-object reads and
// writes. Job manifests and generated artifacts are both stored through this
// interface. Authentication uses SDK default credential chains - providers
// should not implement custom auth logic.
package provider

import (
	"context"
	"io"
	"time"
)

// Provider abstracts object storage operations.
//
// Implementations should:
//   - Use SDK default credential chains (AWS default config)
//   - Report a stable ETag per object version so callers can do optimistic writes
//   - Honour PutOptions.IfMatch / PutOptions.IfNoneMatch atomically
//   - Be safe for concurrent use
type Provider interface {
	// Head returns metadata for a single object.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// GetObject returns the object body and its metadata.
	// Returns ErrNotFound if the object does not exist.
	// The caller must close the returned body.
	GetObject(ctx context.Context, key string) (io.ReadCloser, *ObjectMeta, error)

	// PutObject creates or overwrites an object.
	// Returns ErrPreconditionFailed if a conditional option does not hold.
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts PutOptions) (*PutResult, error)

	// Close releases any resources held by the provider.
	Close() error
}

// PutOptions configures a PutObject operation.
type PutOptions struct {
	// ContentType is the MIME type stored with the object.
	ContentType string

	// CacheControl is the Cache-Control header stored with the object.
	CacheControl string

	// IfMatch makes the write conditional on the current ETag.
	// Empty string means unconditional (unless IfNoneMatch is set).
	IfMatch string

	// IfNoneMatch makes the write succeed only if the object does not exist.
	IfNoneMatch bool
}

// PutResult contains the outcome of a successful PutObject.
type PutResult struct {
	// ETag identifies the version that was written.
	ETag string
}

// ObjectSummary contains basic object metadata.
type ObjectSummary struct {
	// Key is the full object key (path) in the bucket.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag of the current object version.
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object.
// Returned by Head and GetObject operations.
type ObjectMeta struct {
	ObjectSummary

	// ContentType is the MIME type of the object.
	ContentType string

	// CacheControl is the stored Cache-Control header, if any.
	CacheControl string

	// Metadata contains user-defined metadata key-value pairs.
	Metadata map[string]string
}

// ProviderType identifies a storage provider.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderFile represents a local filesystem directory.
	ProviderFile ProviderType = "file"

	// ProviderMemory represents a process-local in-memory store.
	ProviderMemory ProviderType = "memory"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}
