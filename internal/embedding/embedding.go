// Package embedding turns text into vectors through an OpenAI-compatible API
// and caches the results.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "http://localhost:11434/v1"
	DefaultModel   = "nomic-embed-text"
	DefaultTimeout = 10 * time.Second

	maxBatch = 64
)

// Embedder maps texts to vectors, one per input and in input order.
// For a fixed model the result depends only on the input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Client wraps an OpenAI-compatible embeddings endpoint.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// New creates a new embedding client. An empty baseURL uses the OpenAI default.
func New(baseURL, apiKey, modelName string, timeout time.Duration) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		timeout: timeout,
	}
}

// Model returns the embedding model name.
func (c *Client) Model() string {
	return c.model
}

// Ping embeds a short text to check that the endpoint and model answer.
func (c *Client) Ping(ctx context.Context) error {
	vecs, err := c.Embed(ctx, []string{"ping"})
	if err != nil {
		return err
	}
	slog.Debug("embedding endpoint reachable", "model", c.model, "dim", len(vecs[0]))
	return nil
}

// Embed sends texts in batches and returns their vectors in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		if err := c.embedBatch(ctx, texts[start:end], out[start:end]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string, out [][]float32) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return fmt.Errorf("embedding API call: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return fmt.Errorf("embedding API returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return fmt.Errorf("embedding API returned index %d out of range", d.Index)
		}
		if len(d.Embedding) == 0 {
			return errors.New("embedding API returned an empty vector")
		}
		out[d.Index] = d.Embedding
	}
	for i, v := range out {
		if v == nil {
			return fmt.Errorf("embedding API returned no vector for input %d", i)
		}
	}
	return nil
}
