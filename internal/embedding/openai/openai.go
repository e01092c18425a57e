// Package openai embeds text through any OpenAI-compatible embeddings
// endpoint, including a local Ollama server.
package openai

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"docqa/internal/embedding"
	ragerr "docqa/internal/errors"
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "text-embedding-3-small"
	DefaultBatchSize = 64
)

// Config configures the embeddings client. APIKey takes precedence over the
// APIKeyEnv lookup.
type Config struct {
	BaseURL    string
	APIKey     string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	BatchSize  int
	MaxRetries int
}

// Client is an OpenAI-compatible embeddings client implementing
// embedding.Embedder. The output width is learned from the first response.
type Client struct {
	client     *openai.Client
	model      string
	batchSize  int
	maxRetries int
	dimension  atomic.Int64
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if key == "" && cfg.BaseURL == DefaultBaseURL {
		return nil, ragerr.New(ragerr.CodeEmbeddingRequestInvalid, "missing OpenAI API key",
			ragerr.Field("env", cfg.APIKeyEnv))
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}

	clientCfg := openai.DefaultConfig(key)
	clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Client{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		sleep:      sleepContext,
	}, nil
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Model() string { return c.model }

// Dimension returns the output width, or 0 before the first successful call.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

// WarmUp embeds a probe string once so Dimension is known before ingestion.
func (c *Client) WarmUp(ctx context.Context) error {
	if c.Dimension() > 0 {
		return nil
	}
	_, err := c.EmbedOne(ctx, "dimension probe")
	return err
}

func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, embedding.EmptyTextError()
	}
	vectors, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	texts = embedding.NonEmpty(texts)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vectors, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.model),
		Input: texts,
	}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err := c.client.CreateEmbeddings(ctx, req)
		if err != nil {
			lastErr = err
			if !retryable(err) || attempt == c.maxRetries {
				break
			}
			if err := c.sleep(ctx, retryDelay(attempt)); err != nil {
				return nil, ragerr.Wrap(err, ragerr.CodeEmbeddingUpstreamFailure, "embedding request cancelled")
			}
			continue
		}
		return c.decode(resp, len(texts))
	}
	return nil, ragerr.Wrap(lastErr, ragerr.CodeEmbeddingUpstreamFailure, "openai embeddings failed",
		ragerr.FieldProvider("openai"), ragerr.Field("model", c.model))
}

func (c *Client) decode(resp openai.EmbeddingResponse, want int) ([][]float32, error) {
	if len(resp.Data) != want {
		return nil, ragerr.New(ragerr.CodeEmbeddingResponseInvalid, "embedding count does not match input",
			ragerr.Field("want", want), ragerr.Field("got", len(resp.Data)))
	}
	data := resp.Data
	sort.SliceStable(data, func(a, b int) bool { return data[a].Index < data[b].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) == 0 {
			return nil, ragerr.New(ragerr.CodeEmbeddingResponseInvalid, "empty embedding returned")
		}
		v := make([]float32, len(d.Embedding))
		for j := range d.Embedding {
			v[j] = float32(d.Embedding[j])
		}
		out[i] = v
	}
	width := int64(len(out[0]))
	if !c.dimension.CompareAndSwap(0, width) && c.dimension.Load() != width {
		return nil, ragerr.New(ragerr.CodeEmbeddingResponseInvalid, "embedding width changed between calls",
			ragerr.FieldDimension(int(c.dimension.Load())), ragerr.Field("width", width))
	}
	return out, nil
}

// retryable reports whether the failure is a rate limit, a server error, or a
// transport error without any HTTP status.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
