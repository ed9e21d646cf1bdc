// Package generator is the boundary to the external image generation
// capability.
//
// Implementations return raw PNG bytes or a *ProviderError. The orchestrator
// records ProviderError messages on the job manifest, so messages should be
// short and free of secrets.
package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/imagequeue/pkg/manifest"
)

// Generator produces an image for a prompt.
type Generator interface {
	Generate(ctx context.Context, p Params) ([]byte, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, p Params) ([]byte, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, p Params) ([]byte, error) {
	return f(ctx, p)
}

// Params are the generation inputs taken from the job request. Reference
// images are not forwarded; the images API used here accepts a prompt only.
type Params struct {
	Prompt     string
	Size       manifest.Size
	Quality    manifest.Quality
	Background manifest.Background
}

// ParamsFrom extracts generation params from a request.
func ParamsFrom(req manifest.Request) Params {
	return Params{
		Prompt:     req.Prompt,
		Size:       req.Size,
		Quality:    req.Quality,
		Background: req.Background,
	}
}

// ErrInvalidOutput indicates the provider answered but the payload is not a
// usable image.
var ErrInvalidOutput = errors.New("invalid image output")

// ProviderError is a generation failure attributable to the provider: an
// error response, a timeout or unusable output.
type ProviderError struct {
	// Provider names the backend (e.g., "openai", "stub").
	Provider string

	// StatusCode is the HTTP status, when there was one.
	StatusCode int

	// Message is the short diagnostic recorded on the manifest.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// NewProviderError returns a ProviderError carrying only a message.
func NewProviderError(message string) *ProviderError {
	return &ProviderError{Message: message}
}

// Error returns the diagnostic message.
func (e *ProviderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s provider error", e.Provider)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError returns true if err is or wraps a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// ValidatePNG returns a *ProviderError wrapping ErrInvalidOutput unless data
// starts with the PNG signature.
func ValidatePNG(provider string, data []byte) error {
	if len(data) == 0 {
		return &ProviderError{Provider: provider, Message: "provider returned empty image", Err: ErrInvalidOutput}
	}
	if !bytes.HasPrefix(data, pngMagic) {
		return &ProviderError{Provider: provider, Message: "provider returned non-PNG output", Err: ErrInvalidOutput}
	}
	return nil
}
