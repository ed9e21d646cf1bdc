package file

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/3leaps/imagequeue/pkg/provider"
)

// Provider implements provider.Provider for local filesystem paths.
//
// Keys are treated as relative paths under BaseDir. ETags are content hashes,
// so conditional writes behave like S3's. Conditional checks are serialized
// within one process only; a directory shared by several processes degrades
// to last-writer-wins.
//
// This provider is intended for local development and tests.
type Provider struct {
	baseDir string

	// mu serializes the check-then-rename of conditional writes.
	mu sync.Mutex
}

// Ensure Provider implements the interface.
var _ provider.Provider = (*Provider)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := filepath.Clean(cfg.BaseDir)
	return &Provider{baseDir: base}, nil
}

func (p *Provider) Close() error { return nil }

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	return p.meta(key, data, st), nil
}

func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, *provider.ObjectMeta, error) {
	_ = ctx
	full, err := p.fullPath(key)
	if err != nil {
		return nil, nil, p.wrapError("GetObject", key, err)
	}
	// Read whole file so the ETag matches the returned bytes exactly.
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, nil, p.wrapError("GetObject", key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, nil, p.wrapError("GetObject", key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), p.meta(key, data, st), nil
}

func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts provider.PutOptions) (*provider.PutResult, error) {
	_ = ctx
	_ = contentLength
	full, err := p.fullPath(key)
	if err != nil {
		return nil, p.wrapError("PutObject", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, p.wrapError("PutObject", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), "imagequeue-put-*")
	if err != nil {
		return nil, p.wrapError("PutObject", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), body); err != nil {
		return nil, p.wrapError("PutObject", key, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, p.wrapError("PutObject", key, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if opts.IfMatch != "" || opts.IfNoneMatch {
		current, err := os.ReadFile(full)
		exists := err == nil
		if err != nil && !os.IsNotExist(err) {
			return nil, p.wrapError("PutObject", key, err)
		}
		if opts.IfNoneMatch && exists {
			return nil, &provider.ProviderError{Op: "PutObject", Provider: provider.ProviderFile, Key: key, Err: provider.ErrPreconditionFailed}
		}
		if opts.IfMatch != "" && (!exists || etagOf(current) != opts.IfMatch) {
			return nil, &provider.ProviderError{Op: "PutObject", Provider: provider.ProviderFile, Key: key, Err: provider.ErrPreconditionFailed}
		}
	}

	if err := os.Rename(tmpName, full); err != nil {
		return nil, p.wrapError("PutObject", key, err)
	}
	return &provider.PutResult{ETag: hex.EncodeToString(h.Sum(nil))[:32]}, nil
}

func (p *Provider) meta(key string, data []byte, st os.FileInfo) *provider.ObjectMeta {
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          strings.TrimPrefix(key, "/"),
			Size:         st.Size(),
			ETag:         etagOf(data),
			LastModified: st.ModTime(),
		},
		ContentType: mime.TypeByExtension(filepath.Ext(key)),
	}
}

func etagOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:32]
}

func (p *Provider) fullPath(key string) (string, error) {
	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(key, "/")
	// Prevent path traversal.
	clean := filepath.Clean("/" + key)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Key: key, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	// Normalize common filesystem errors to provider sentinels.
	if os.IsNotExist(err) {
		wrapped.Err = provider.ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}
