package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// VectorStore persists vectors per model, keyed by the embedded text.
type VectorStore interface {
	LoadVectors(model string, texts []string) (map[string][]float32, error)
	SaveVectors(model string, vectors map[string][]float32) error
}

// Cache memoizes an Embedder for the process lifetime, optionally backed by
// a VectorStore. Only texts missing from both reach the backend.
type Cache struct {
	backend Embedder
	model   string
	store   VectorStore // may be nil

	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewCache wraps backend. store may be nil for a memory-only cache.
func NewCache(backend Embedder, model string, store VectorStore) *Cache {
	return &Cache{
		backend: backend,
		model:   model,
		store:   store,
		vectors: make(map[string][]float32),
	}
}

// Len returns the number of vectors held in memory.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}

// Embed returns vectors for texts, computing only the ones not seen before.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	missing := c.lookup(texts)

	if len(missing) > 0 && c.store != nil {
		stored, err := c.store.LoadVectors(c.model, missing)
		if err != nil {
			slog.Warn("load cached embeddings", "error", err)
		} else if len(stored) > 0 {
			c.remember(stored)
			missing = c.lookup(texts)
		}
	}

	// Chunks that succeed stay cached when a later one fails.
	for start := 0; start < len(missing); start += maxBatch {
		if err := c.fill(ctx, missing[start:min(start+maxBatch, len(missing))]); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = c.vectors[t]
	}
	return out, nil
}

// fill embeds texts through the backend and records the vectors in memory
// and in the store.
func (c *Cache) fill(ctx context.Context, texts []string) error {
	vecs, err := c.backend.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("backend returned %d vectors for %d texts", len(vecs), len(texts))
	}
	fresh := make(map[string][]float32, len(texts))
	for i, t := range texts {
		fresh[t] = vecs[i]
	}
	c.remember(fresh)
	if c.store != nil {
		if err := c.store.SaveVectors(c.model, fresh); err != nil {
			slog.Warn("save embeddings", "error", err, "count", len(fresh))
		}
	}
	return nil
}

// lookup returns the distinct texts without an in-memory vector, in order.
func (c *Cache) lookup(texts []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool, len(texts))
	var missing []string
	for _, t := range texts {
		if _, ok := c.vectors[t]; ok || seen[t] {
			continue
		}
		seen[t] = true
		missing = append(missing, t)
	}
	return missing
}

func (c *Cache) remember(vectors map[string][]float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t, v := range vectors {
		c.vectors[t] = v
	}
}
