package generator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/3leaps/imagequeue/pkg/manifest"
)

const (
	// DefaultOpenAIBaseURL is the public OpenAI API root.
	DefaultOpenAIBaseURL = "https://api.openai.com"

	// DefaultOpenAIModel is the image model used when none is configured.
	DefaultOpenAIModel = "gpt-image-1"

	providerOpenAI = "openai"

	maxErrorBody = 4 << 10
)

// KeyFunc returns the API key. It is called on every request so rotation
// and caching stay with the caller.
type KeyFunc func(ctx context.Context) (string, error)

// StaticKey returns a KeyFunc for a fixed key.
func StaticKey(key string) KeyFunc {
	return func(context.Context) (string, error) { return key, nil }
}

// OpenAI calls the OpenAI images API.
type OpenAI struct {
	BaseURL string
	Model   string
	Key     KeyFunc
	HTTP    *http.Client
}

// NewOpenAI returns an OpenAI generator with defaults for empty fields.
func NewOpenAI(baseURL, model string, key KeyFunc) *OpenAI {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Key:     key,
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
	}
}

type openAIRequest struct {
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
	N          int    `json:"n"`
	Size       string `json:"size,omitempty"`
	Quality    string `json:"quality,omitempty"`
	Background string `json:"background,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *OpenAI) Generate(ctx context.Context, p Params) ([]byte, error) {
	if c.Key == nil {
		return nil, &ProviderError{Provider: providerOpenAI, Message: "openai api key not configured"}
	}
	key, err := c.Key(ctx)
	if err != nil {
		return nil, &ProviderError{Provider: providerOpenAI, Message: "openai api key unavailable", Err: err}
	}

	data, _ := json.Marshal(openAIRequest{
		Model:      c.Model,
		Prompt:     p.Prompt,
		N:          1,
		Size:       string(p.Size),
		Quality:    openAIQuality(p.Quality),
		Background: string(p.Background),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/images/generations", bytes.NewReader(data))
	if err != nil {
		return nil, &ProviderError{Provider: providerOpenAI, Message: "build openai request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &ProviderError{Provider: providerOpenAI, Message: fmt.Sprintf("openai request failed: %v", err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, openAIStatusError(resp)
	}

	var res openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, &ProviderError{Provider: providerOpenAI, StatusCode: resp.StatusCode, Message: "openai response not decodable", Err: ErrInvalidOutput}
	}
	if len(res.Data) == 0 || res.Data[0].B64JSON == "" {
		return nil, &ProviderError{Provider: providerOpenAI, StatusCode: resp.StatusCode, Message: "openai response contained no image", Err: ErrInvalidOutput}
	}
	img, err := base64.StdEncoding.DecodeString(res.Data[0].B64JSON)
	if err != nil {
		return nil, &ProviderError{Provider: providerOpenAI, StatusCode: resp.StatusCode, Message: "openai image is not valid base64", Err: ErrInvalidOutput}
	}
	if err := ValidatePNG(providerOpenAI, img); err != nil {
		return nil, err
	}
	return img, nil
}

func openAIStatusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := strings.TrimSpace(string(body))
	var parsed openAIErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		msg = "rate limited: " + msg
	}
	return &ProviderError{
		Provider:   providerOpenAI,
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("openai error (status %d): %s", resp.StatusCode, msg),
	}
}

func openAIQuality(q manifest.Quality) string {
	switch q {
	case manifest.QualityStandard:
		return "medium"
	case manifest.QualityHigh:
		return "high"
	}
	return ""
}
