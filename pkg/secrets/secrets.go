// Package secrets fetches credentials from AWS Secrets Manager or the
// environment and caches them for the life of the process.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"golang.org/x/sync/singleflight"
)

// ErrEmpty indicates a secret exists but carries no payload.
var ErrEmpty = errors.New("secret has no payload")

// Source resolves a secret by id.
type Source interface {
	Fetch(ctx context.Context, id string) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, id string) (string, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context, id string) (string, error) {
	return f(ctx, id)
}

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManager reads secrets from AWS Secrets Manager.
type SecretsManager struct {
	client secretsManagerAPI
}

// NewSecretsManager builds a client from the AWS default credential chain.
// Region and endpoint are optional.
func NewSecretsManager(ctx context.Context, region, endpoint string) (*SecretsManager, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &SecretsManager{client: client}, nil
}

// Fetch returns SecretString, or SecretBinary decoded as UTF-8.
func (s *SecretsManager) Fetch(ctx context.Context, id string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get %s: %w", id, err)
	}
	if v := aws.ToString(out.SecretString); v != "" {
		return v, nil
	}
	if len(out.SecretBinary) > 0 {
		return string(out.SecretBinary), nil
	}
	return "", fmt.Errorf("secrets: %s: %w", id, ErrEmpty)
}

// Env reads secrets from environment variables; the id is the variable name.
type Env struct{}

func (Env) Fetch(_ context.Context, id string) (string, error) {
	v := strings.TrimSpace(os.Getenv(id))
	if v == "" {
		return "", fmt.Errorf("secrets: env %s: %w", id, ErrEmpty)
	}
	return v, nil
}

// Cached fetches one secret lazily, at most once concurrently, and keeps the
// first successful value. Failed fetches are not cached.
type Cached struct {
	src Source
	id  string

	group singleflight.Group

	mu    sync.RWMutex
	value string
	ok    bool
}

// NewCached returns a lazy cache for secret id from src.
func NewCached(src Source, id string) *Cached {
	return &Cached{src: src, id: id}
}

// Get returns the cached value, fetching it on first use.
func (c *Cached) Get(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.ok {
		v := c.value
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(c.id, func() (any, error) {
		c.mu.RLock()
		if c.ok {
			v := c.value
			c.mu.RUnlock()
			return v, nil
		}
		c.mu.RUnlock()

		v, err := c.src.Fetch(ctx, c.id)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.value, c.ok = v, true
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Reset drops the cached value so the next Get fetches again.
func (c *Cached) Reset() {
	c.mu.Lock()
	c.value, c.ok = "", false
	c.mu.Unlock()
}
