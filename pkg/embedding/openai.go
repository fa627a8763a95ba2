package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// OpenAIConfig holds configuration for OpenAI-compatible embedding APIs.
type OpenAIConfig struct {
	// BaseURL is the API endpoint. Defaults to the OpenAI API.
	BaseURL string

	// APIKey is the bearer token. Falls back to OPENAI_API_KEY.
	APIKey string

	// Model is the embedding model name.
	Model string

	// Dimension is the embedding vector size.
	Dimension int

	// Timeout bounds a single HTTP call.
	Timeout time.Duration

	// MaxRetries bounds retries on transient failures.
	MaxRetries int
}

// OpenAIProvider implements Provider against any OpenAI-compatible
// embeddings endpoint.
type OpenAIProvider struct {
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	maxRetries int
	client     *http.Client
}

// NewOpenAIProvider creates an OpenAI-compatible embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 1536
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &OpenAIProvider{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxRetries: cfg.MaxRetries,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding for one text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for multiple texts in a single API call.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		vecs, retryable, err := p.call(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

// call performs one embeddings request. retryable marks transient failures.
func (p *OpenAIProvider) call(ctx context.Context, texts []string) (vecs [][]float32, retryable bool, err error) {
	body, err := json.Marshal(embedRequest{Input: texts, Model: p.model})
	if err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("embedding API error %d: %s", resp.StatusCode, string(raw))
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, false, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, false, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(result.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, item := range result.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, false, fmt.Errorf("embedding API returned out-of-range index %d", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	return out, false, nil
}

// Dimensions returns the embedding vector size.
func (p *OpenAIProvider) Dimensions() int {
	return p.dimension
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
	if d > 8*time.Second {
		d = 8 * time.Second
	}
	return d
}
