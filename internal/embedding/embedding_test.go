package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeEndpoint serves /v1/embeddings, answering each input with
// [len(input), 1] and listing the data in reverse order.
func fakeEndpoint(t *testing.T, batches *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if batches != nil {
			batches.Add(1)
		}

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{
				Object:    "embedding",
				Embedding: []float32{float32(len([]rune(req.Input[i]))), 1},
				Index:     i,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientEmbedOrderAndBatching(t *testing.T) {
	var batches atomic.Int32
	srv := fakeEndpoint(t, &batches)
	c := New(srv.URL+"/v1", "test-key", "test-model", time.Second)

	texts := make([]string, 0, maxBatch+6)
	for i := 0; i < maxBatch+6; i++ {
		texts = append(texts, string(make([]byte, i+1)))
	}

	vecs, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	for i, v := range vecs {
		if int(v[0]) != i+1 {
			t.Fatalf("vector %d misplaced: %v", i, v)
		}
	}
	if got := batches.Load(); got != 2 {
		t.Errorf("expected 2 batches, got %d", got)
	}
	if c.Model() != "test-model" {
		t.Errorf("Model() = %q", c.Model())
	}
}

func TestClientPing(t *testing.T) {
	srv := fakeEndpoint(t, nil)
	if err := New(srv.URL+"/v1", "", "m", time.Second).Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"model not found"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1", "", "missing", time.Second)
	if _, err := c.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error from failing endpoint")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected Ping error")
	}
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL+"/v1", "", "slow", 50*time.Millisecond)
	start := time.Now()
	if _, err := c.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout not applied, call took %s", elapsed)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cosine(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Cosine: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := Cosine([]float32{1}, []float32{1, 2}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

type countingEmbedder struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.texts = append(e.texts, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e *countingEmbedder) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.texts)
}

type memStore struct {
	vectors map[string][]float32
	saved   int
}

func (m *memStore) LoadVectors(model string, texts []string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	for _, t := range texts {
		if v, ok := m.vectors[model+"/"+t]; ok {
			out[t] = v
		}
	}
	return out, nil
}

func (m *memStore) SaveVectors(model string, vectors map[string][]float32) error {
	for t, v := range vectors {
		m.vectors[model+"/"+t] = v
		m.saved++
	}
	return nil
}

func TestCacheOnlyEmbedsMissingTexts(t *testing.T) {
	backend := &countingEmbedder{}
	c := NewCache(backend, "m", nil)
	ctx := context.Background()

	if _, err := c.Embed(ctx, []string{"a", "bb", "a"}); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := backend.calls(); got != 2 {
		t.Fatalf("backend embedded %d texts, want 2 (duplicates collapsed)", got)
	}

	vecs, err := c.Embed(ctx, []string{"bb", "ccc", "a"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := backend.calls(); got != 3 {
		t.Errorf("backend embedded %d texts, want 3", got)
	}
	if vecs[0][0] != 2 || vecs[1][0] != 3 || vecs[2][0] != 1 {
		t.Errorf("vectors out of order: %v", vecs)
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestCacheUsesStore(t *testing.T) {
	store := &memStore{vectors: map[string][]float32{"m/stored": {9, 9}}}
	backend := &countingEmbedder{}
	c := NewCache(backend, "m", store)

	vecs, err := c.Embed(context.Background(), []string{"stored", "fresh"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 9 {
		t.Errorf("stored vector not used: %v", vecs[0])
	}
	if got := backend.calls(); got != 1 {
		t.Errorf("backend embedded %d texts, want 1", got)
	}
	if store.saved != 1 {
		t.Errorf("store saved %d vectors, want 1", store.saved)
	}
	if _, ok := store.vectors["m/fresh"]; !ok {
		t.Error("fresh vector not persisted")
	}
}

func TestCachePropagatesBackendError(t *testing.T) {
	boom := errors.New("endpoint down")
	c := NewCache(&countingEmbedder{err: boom}, "m", nil)
	if _, err := c.Embed(context.Background(), []string{"x"}); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("failed call left %d vectors cached", c.Len())
	}
}

func TestCacheConcurrentUse(t *testing.T) {
	c := NewCache(&countingEmbedder{}, "m", nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Embed(context.Background(), []string{"a", "b", "c"}); err != nil {
				t.Errorf("Embed: %v", err)
			}
		}()
	}
	wg.Wait()
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

// cutoffEmbedder cancels its caller's context after allow calls, the way a
// request deadline cuts off a slow endpoint.
type cutoffEmbedder struct {
	allow  int
	calls  int
	cancel context.CancelFunc
	sizes  []int
}

func (e *cutoffEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.sizes = append(e.sizes, len(texts))
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{float32(i), 1}
	}
	e.calls++
	if e.calls%e.allow == 0 {
		e.cancel()
	}
	return out, nil
}

func TestCacheKeepsBatchesBeforeDeadline(t *testing.T) {
	texts := make([]string, 10*maxBatch)
	for i := range texts {
		texts[i] = "text " + string(rune('a'+i%26)) + string(rune('0'+i/26%10)) + string(rune('A'+i/260))
	}
	store := &memStore{vectors: map[string][]float32{}}
	backend := &cutoffEmbedder{allow: 3}
	c := NewCache(backend, "m", store)

	tests := []struct {
		wantErr bool
		cached  int
	}{
		{true, 3 * maxBatch},
		{true, 6 * maxBatch},
		{true, 9 * maxBatch},
		{false, 10 * maxBatch},
	}
	for round, tt := range tests {
		ctx, cancel := context.WithCancel(context.Background())
		backend.cancel = cancel
		vecs, err := c.Embed(ctx, texts)
		cancel()
		if (err != nil) != tt.wantErr {
			t.Fatalf("round %d: err = %v, wantErr %v", round+1, err, tt.wantErr)
		}
		if tt.wantErr && !errors.Is(err, context.Canceled) {
			t.Errorf("round %d: expected context error, got %v", round+1, err)
		}
		if got := c.Len(); got != tt.cached {
			t.Errorf("round %d: cached %d vectors, want %d", round+1, got, tt.cached)
		}
		if !tt.wantErr && len(vecs) != len(texts) {
			t.Errorf("round %d: got %d vectors", round+1, len(vecs))
		}
	}
	for _, n := range backend.sizes {
		if n > maxBatch {
			t.Errorf("backend received a batch of %d texts", n)
		}
	}
	if store.saved != len(texts) {
		t.Errorf("store saved %d vectors, want %d", store.saved, len(texts))
	}
}
