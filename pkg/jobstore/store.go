// Package jobstore persists job manifests and generated artifacts in an
// object store.
//
// Layout:
//
//	jobs/<jobId>.json   manifest document
//	images/<jobId>.png  generated artifact
//
// Manifest writes are conditional on the version returned by the last read
// (the object ETag), which turns a lost update into ErrConflict instead of a
// silent overwrite.
package jobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/3leaps/imagequeue/pkg/manifest"
	"github.com/3leaps/imagequeue/pkg/provider"
)

// ManifestStore reads and writes job manifests.
type ManifestStore struct {
	p      provider.Provider
	logger *zap.Logger
}

// Option configures a store.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewManifestStore returns a ManifestStore backed by p.
func NewManifestStore(p provider.Provider, opts ...Option) *ManifestStore {
	o := buildOptions(opts)
	return &ManifestStore{p: p, logger: o.logger}
}

// Get loads the manifest for jobID together with its version.
//
// Returns ErrNotFound if no manifest exists.
func (s *ManifestStore) Get(ctx context.Context, jobID string) (*manifest.Manifest, string, error) {
	if !manifest.ValidJobID(jobID) {
		return nil, "", ErrNotFound
	}
	key := manifest.Key(jobID)

	body, meta, err := s.p.GetObject(ctx, key)
	if err != nil {
		if provider.IsNotFound(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", &StoreError{Op: "GetManifest", Key: key, Err: err}
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", &StoreError{Op: "GetManifest", Key: key, Err: err}
	}

	var m manifest.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", &StoreError{Op: "GetManifest", Key: key, Err: fmt.Errorf("decode manifest: %w", err)}
	}
	return &m, meta.ETag, nil
}

// Create writes a new manifest. It fails with ErrConflict if one already
// exists for the job.
func (s *ManifestStore) Create(ctx context.Context, m *manifest.Manifest) (string, error) {
	return s.put(ctx, "CreateManifest", m, provider.PutOptions{IfNoneMatch: true})
}

// Update overwrites the manifest only if its current version equals version.
func (s *ManifestStore) Update(ctx context.Context, m *manifest.Manifest, version string) (string, error) {
	if m != nil && version == "" {
		return "", &StoreError{Op: "UpdateManifest", Key: manifest.Key(m.JobID), Err: fmt.Errorf("version is required")}
	}
	return s.put(ctx, "UpdateManifest", m, provider.PutOptions{IfMatch: version})
}

func (s *ManifestStore) put(ctx context.Context, op string, m *manifest.Manifest, opts provider.PutOptions) (string, error) {
	if m == nil {
		return "", &StoreError{Op: op, Err: fmt.Errorf("manifest is nil")}
	}
	key := manifest.Key(m.JobID)
	if err := manifest.Validate(m); err != nil {
		return "", &StoreError{Op: op, Key: key, Err: err}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", &StoreError{Op: op, Key: key, Err: fmt.Errorf("encode manifest: %w", err)}
	}
	data = append(data, '\n')

	opts.ContentType = "application/json"
	res, err := s.p.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		if provider.IsPreconditionFailed(err) {
			s.logger.Debug("manifest write lost race",
				zap.String("job_id", m.JobID),
				zap.String("op", op),
				zap.String("status", string(m.Status)))
			return "", fmt.Errorf("%s %s: %w", op, key, ErrConflict)
		}
		return "", &StoreError{Op: op, Key: key, Err: err}
	}
	return res.ETag, nil
}
