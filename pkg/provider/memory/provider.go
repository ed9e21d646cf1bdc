// Package memory implements provider.Provider in process memory.
//
// It backs the stub deployment profile and the package tests. Every write
// bumps a per-key generation which doubles as the ETag, so conditional
// writes are exact.
package memory

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/3leaps/imagequeue/pkg/provider"
)

type object struct {
	data         []byte
	etag         string
	contentType  string
	cacheControl string
	modified     time.Time
}

// Provider is a concurrency-safe in-memory object store.
type Provider struct {
	mu      sync.RWMutex
	objects map[string]object
	gen     uint64
}

var _ provider.Provider = (*Provider)(nil)

// New returns an empty store.
func New() *Provider {
	return &Provider{objects: make(map[string]object)}
}

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	obj, ok := p.objects[key]
	if !ok {
		return nil, notFound("Head", key)
	}
	return obj.meta(key), nil
}

func (p *Provider) GetObject(ctx context.Context, key string) (io.ReadCloser, *provider.ObjectMeta, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	obj, ok := p.objects[key]
	if !ok {
		return nil, nil, notFound("GetObject", key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.meta(key), nil
}

func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts provider.PutOptions) (*provider.PutResult, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &provider.ProviderError{Op: "PutObject", Provider: provider.ProviderMemory, Key: key, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current, exists := p.objects[key]
	if opts.IfNoneMatch && exists {
		return nil, precondition(key)
	}
	if opts.IfMatch != "" && (!exists || current.etag != opts.IfMatch) {
		return nil, precondition(key)
	}

	p.gen++
	obj := object{
		data:         data,
		etag:         "g" + strconv.FormatUint(p.gen, 10),
		contentType:  opts.ContentType,
		cacheControl: opts.CacheControl,
		modified:     time.Now().UTC(),
	}
	p.objects[key] = obj
	return &provider.PutResult{ETag: obj.etag}, nil
}

// Len reports the number of stored objects.
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.objects)
}

func (p *Provider) Close() error { return nil }

func (o object) meta(key string) *provider.ObjectMeta {
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          key,
			Size:         int64(len(o.data)),
			ETag:         o.etag,
			LastModified: o.modified,
		},
		ContentType:  o.contentType,
		CacheControl: o.cacheControl,
	}
}

func notFound(op, key string) error {
	return &provider.ProviderError{Op: op, Provider: provider.ProviderMemory, Key: key, Err: provider.ErrNotFound}
}

func precondition(key string) error {
	return &provider.ProviderError{Op: "PutObject", Provider: provider.ProviderMemory, Key: key, Err: provider.ErrPreconditionFailed}
}
