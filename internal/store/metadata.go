package store

import (
	"database/sql"
	"errors"
	"time"
)

// Metadata keys written by the warm command.
const (
	KeyCorpusSource = "corpus_source"
	KeyCorpusSize   = "corpus_size"
	KeyWarmedAt     = "warmed_at"
)

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// MarkWarmed records when embeddings for model were last precomputed.
func (s *Store) MarkWarmed(model string, at time.Time) error {
	return s.SetMetadata(KeyWarmedAt+":"+model, at.UTC().Format(time.RFC3339))
}

// WarmedAt returns when model was last warmed, or the zero time.
func (s *Store) WarmedAt(model string) (time.Time, error) {
	v, err := s.GetMetadata(KeyWarmedAt + ":" + model)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}
