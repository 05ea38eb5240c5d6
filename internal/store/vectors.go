package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// SQLite's default limit on host parameters is 999; leave room for the model.
const lookupChunk = 500

// LoadVectors returns the stored vectors of model for those texts that have one.
func (s *Store) LoadVectors(model string, texts []string) (map[string][]float32, error) {
	byHash := make(map[string]string, len(texts))
	for _, t := range texts {
		byHash[textHash(t)] = t
	}
	hashes := make([]string, 0, len(byHash))
	for h := range byHash {
		hashes = append(hashes, h)
	}

	out := make(map[string][]float32)
	for start := 0; start < len(hashes); start += lookupChunk {
		chunk := hashes[start:min(start+lookupChunk, len(hashes))]
		args := make([]any, 0, len(chunk)+1)
		args = append(args, model)
		for _, h := range chunk {
			args = append(args, h)
		}
		query := `SELECT text_hash, dim, vector FROM embeddings
			WHERE model = ? AND text_hash IN (?` + strings.Repeat(",?", len(chunk)-1) + `)`

		rows, err := s.db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("query embeddings: %w", err)
		}
		for rows.Next() {
			var (
				hash string
				dim  int
				blob []byte
			)
			if err := rows.Scan(&hash, &dim, &blob); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan embedding: %w", err)
			}
			vec, err := decodeVector(blob, dim)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("embedding %s: %w", hash, err)
			}
			out[byHash[hash]] = vec
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate embeddings: %w", err)
		}
	}
	return out, nil
}

// SaveVectors upserts vectors of model in one transaction.
func (s *Store) SaveVectors(model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO embeddings (model, text_hash, dim, vector) VALUES (?, ?, ?, ?)
		 ON CONFLICT(model, text_hash) DO UPDATE SET dim = excluded.dim, vector = excluded.vector`,
	)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for text, vec := range vectors {
		if _, err := stmt.Exec(model, textHash(text), len(vec), encodeVector(vec)); err != nil {
			return fmt.Errorf("save embedding: %w", err)
		}
	}
	return tx.Commit()
}

// VectorCount returns how many vectors are stored for model.
func (s *Store) VectorCount(model string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM embeddings WHERE model = ?`, model).Scan(&n)
	return n, err
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob) != 4*dim {
		return nil, fmt.Errorf("blob of %d bytes does not hold %d floats", len(blob), dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec, nil
}
