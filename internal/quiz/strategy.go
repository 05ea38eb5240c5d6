package quiz

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/pavelanni/kuralquiz/internal/embedding"
	"github.com/pavelanni/kuralquiz/internal/model"
)

const (
	StrategyRandom   = "random"
	StrategySemantic = "semantic"
)

var (
	ErrUnknownStrategy      = errors.New("unknown distractor strategy")
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
)

// DistractorStrategy picks up to k distinct wrong values of field for a
// question whose answer is correct. It never returns correct and never pads.
type DistractorStrategy interface {
	Name() string
	Sample(ctx context.Context, records []model.Record, field Field, correct string, k int) ([]string, error)
}

// NewStrategy returns the strategy called name. The semantic strategy needs embedder.
func NewStrategy(name string, rng *rand.Rand, embedder embedding.Embedder) (DistractorStrategy, error) {
	switch name {
	case StrategyRandom:
		return NewRandomStrategy(rng), nil
	case StrategySemantic:
		if embedder == nil {
			return nil, fmt.Errorf("%s strategy: no embedder configured", name)
		}
		return NewSemanticStrategy(embedder), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Candidates returns the distinct values of field across records, in corpus
// order, excluding correct. Values are compared in normalized form and the
// first spelling seen is kept.
func Candidates(records []model.Record, field Field, correct string) ([]string, error) {
	exclude := model.Normalize(correct)
	seen := map[string]bool{exclude: true}
	var out []string
	for _, r := range records {
		v, err := field.Value(r)
		if err != nil {
			return nil, err
		}
		key := model.Normalize(v)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out, nil
}

// RandomStrategy samples candidates uniformly without replacement.
type RandomStrategy struct {
	rng *lockedRand
}

// NewRandomStrategy uses rng, or a randomly seeded source when rng is nil.
func NewRandomStrategy(rng *rand.Rand) *RandomStrategy {
	return &RandomStrategy{rng: newLockedRand(rng)}
}

func (s *RandomStrategy) Name() string { return StrategyRandom }

func (s *RandomStrategy) Sample(_ context.Context, records []model.Record, field Field, correct string, k int) ([]string, error) {
	cands, err := Candidates(records, field, correct)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return []string{}, nil
	}
	if len(cands) <= k {
		return cands, nil
	}
	// Partial Fisher-Yates: the first k slots end up a uniform sample.
	for i := 0; i < k; i++ {
		j := i + s.rng.IntN(len(cands)-i)
		cands[i], cands[j] = cands[j], cands[i]
	}
	return cands[:k], nil
}

// SemanticStrategy prefers candidates whose embedding is closest to the
// correct value's, so wrong options look plausible.
type SemanticStrategy struct {
	embedder embedding.Embedder
}

func NewSemanticStrategy(embedder embedding.Embedder) *SemanticStrategy {
	return &SemanticStrategy{embedder: embedder}
}

func (s *SemanticStrategy) Name() string { return StrategySemantic }

// Sample ranks candidates by cosine similarity to correct, highest first.
// Equal scores keep corpus order.
func (s *SemanticStrategy) Sample(ctx context.Context, records []model.Record, field Field, correct string, k int) ([]string, error) {
	cands, err := Candidates(records, field, correct)
	if err != nil {
		return nil, err
	}
	if k <= 0 || len(cands) == 0 {
		return []string{}, nil
	}

	texts := make([]string, 0, len(cands)+1)
	texts = append(texts, correct)
	texts = append(texts, cands...)
	vecs, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingUnavailable, len(vecs), len(texts))
	}

	scores := make([]float64, len(cands))
	for i := range cands {
		scores[i], err = embedding.Cosine(vecs[0], vecs[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
		}
	}

	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(scores[b], scores[a])
	})

	out := make([]string, 0, min(k, len(cands)))
	for _, i := range order[:min(k, len(order))] {
		out = append(out, cands[i])
	}
	return out, nil
}
