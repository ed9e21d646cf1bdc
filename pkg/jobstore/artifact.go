package jobstore

import (
	"bytes"
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/3leaps/imagequeue/pkg/manifest"
	"github.com/3leaps/imagequeue/pkg/provider"
)

const (
	// ArtifactContentType is stored with every generated image.
	ArtifactContentType = "image/png"

	// ArtifactCacheControl marks artifacts as immutable for CDNs; the key is
	// derived from the job id and is never rewritten with different content.
	ArtifactCacheControl = "public, max-age=31536000, immutable"
)

// ArtifactStore writes generated images.
type ArtifactStore struct {
	p      provider.Provider
	logger *zap.Logger
}

// NewArtifactStore returns an ArtifactStore backed by p.
func NewArtifactStore(p provider.Provider, opts ...Option) *ArtifactStore {
	o := buildOptions(opts)
	return &ArtifactStore{p: p, logger: o.logger}
}

// Put stores data at the deterministic artifact key for jobID and returns the
// key. Rewriting the same job is idempotent.
func (s *ArtifactStore) Put(ctx context.Context, jobID string, data []byte) (string, error) {
	key := manifest.ArtifactKey(jobID)
	_, err := s.p.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)), provider.PutOptions{
		ContentType:  ArtifactContentType,
		CacheControl: ArtifactCacheControl,
	})
	if err != nil {
		return "", &StoreError{Op: "PutArtifact", Key: key, Err: err}
	}
	s.logger.Debug("artifact stored",
		zap.String("job_id", jobID),
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return key, nil
}

// Open returns a reader for a stored artifact.
func (s *ArtifactStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	body, _, err := s.p.GetObject(ctx, key)
	if err != nil {
		if provider.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, &StoreError{Op: "GetArtifact", Key: key, Err: err}
	}
	return body, nil
}
