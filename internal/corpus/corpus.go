// Package corpus loads the fixed couplet dataset once and serves read-only access to it.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/pavelanni/kuralquiz/internal/model"
)

var (
	ErrEmpty           = errors.New("corpus has no valid records")
	ErrNotLoaded       = errors.New("corpus not loaded")
	ErrIndexOutOfRange = errors.New("record index out of range")
	ErrNumberNotFound  = errors.New("record number not found")
)

// Source fetches the raw records of a dataset.
type Source interface {
	Fetch(ctx context.Context) ([]model.Record, error)
	String() string
}

// Store caches the records of a Source for the process lifetime.
type Store struct {
	src Source

	once    sync.Once
	records []model.Record
	err     error
}

// New creates a Store over src. Nothing is fetched until Load.
func New(src Source) *Store {
	return &Store{src: src}
}

// Load fetches and validates the dataset on first call. Later calls return
// the cached records, or the cached error.
func (s *Store) Load(ctx context.Context) ([]model.Record, error) {
	s.once.Do(func() {
		raw, err := s.src.Fetch(ctx)
		if err != nil {
			s.err = fmt.Errorf("fetch %s: %w", s.src, err)
			return
		}
		records, dropped := sanitize(raw)
		if dropped > 0 {
			slog.Warn("dropped malformed records", "source", s.src.String(), "dropped", dropped, "kept", len(records))
		}
		if len(records) == 0 {
			s.err = fmt.Errorf("load %s: %w", s.src, ErrEmpty)
			return
		}
		s.records = records
		slog.Info("corpus loaded", "source", s.src.String(), "records", len(records))
	})
	return s.records, s.err
}

// All returns the loaded records. The slice is shared and must not be modified.
func (s *Store) All() []model.Record {
	return s.records
}

// Len returns the number of loaded records.
func (s *Store) Len() int {
	return len(s.records)
}

// Get returns the record at index i.
func (s *Store) Get(i int) (model.Record, error) {
	if s.records == nil {
		return model.Record{}, ErrNotLoaded
	}
	if i < 0 || i >= len(s.records) {
		return model.Record{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	return s.records[i], nil
}

// ByNumber returns the record with the given couplet number.
func (s *Store) ByNumber(n int) (model.Record, error) {
	if s.records == nil {
		return model.Record{}, ErrNotLoaded
	}
	// Datasets are usually ordered by number, so try the direct slot first.
	if i := n - 1; i >= 0 && i < len(s.records) && s.records[i].Number == n {
		return s.records[i], nil
	}
	for _, r := range s.records {
		if r.Number == n {
			return r, nil
		}
	}
	return model.Record{}, fmt.Errorf("%w: %d", ErrNumberNotFound, n)
}

// Random returns a uniformly chosen record. A nil rng uses the global source.
func (s *Store) Random(rng *rand.Rand) (model.Record, error) {
	if len(s.records) == 0 {
		return model.Record{}, ErrNotLoaded
	}
	var i int
	if rng != nil {
		i = rng.IntN(len(s.records))
	} else {
		i = rand.IntN(len(s.records))
	}
	return s.records[i], nil
}

// sanitize keeps well-formed records, preserving order.
func sanitize(raw []model.Record) ([]model.Record, int) {
	out := make([]model.Record, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		if err := r.Validate(); err != nil {
			slog.Debug("skipping record", "error", err)
			dropped++
			continue
		}
		out = append(out, r)
	}
	return out, dropped
}
