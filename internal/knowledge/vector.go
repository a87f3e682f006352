package knowledge

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
)

// VectorSearchResult is one hit from a cosine-similarity vector search.
type VectorSearchResult struct {
	EntityID   string
	Similarity float32
}

// VectorIndex is a brute-force cosine-similarity index over in-memory
// embeddings, persisted to the store's embeddings table as little-endian
// float32 blobs. Production-scale (>100k vectors) deployments would swap
// this for an HNSW index; at current corpus sizes brute force wins on
// simplicity.
type VectorIndex struct {
	mu         sync.Mutex
	embeddings map[string][]float32
	dimensions int
}

// NewVectorIndex returns an empty index expecting vectors of the given
// dimensionality.
func NewVectorIndex(dimensions int) *VectorIndex {
	return &VectorIndex{embeddings: make(map[string][]float32), dimensions: dimensions}
}

// LoadVectorIndex loads every persisted embedding from the store's
// embeddings table into a fresh in-memory index, skipping any row whose
// dimension doesn't match.
func LoadVectorIndex(ctx context.Context, s *Store, dimensions int) (*VectorIndex, error) {
	idx := NewVectorIndex(dimensions)
	rows, err := s.db.QueryContext(ctx, `SELECT entity_id, vector, dimension FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("knowledge: load vector index: %w", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		var entityID string
		var blob []byte
		var dim int
		if err := rows.Scan(&entityID, &blob, &dim); err != nil {
			return nil, fmt.Errorf("knowledge: scan embedding: %w", err)
		}
		if dim != dimensions {
			continue
		}
		vec, ok := bytesToFloat32s(blob)
		if !ok || len(vec) != dimensions {
			continue
		}
		idx.embeddings[entityID] = vec
		count++
	}
	s.logger.Info("knowledge: loaded embeddings", "count", count)
	return idx, rows.Err()
}

// Insert stores (or replaces) the embedding for entityID, rejecting any
// vector whose length doesn't match the index's dimensionality.
func (v *VectorIndex) Insert(entityID string, vector []float32) error {
	if len(vector) != v.dimensions {
		return fmt.Errorf("knowledge: vector dimension mismatch: expected %d, got %d", v.dimensions, len(vector))
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.embeddings[entityID] = vector
	return nil
}

// Remove drops a stored embedding.
func (v *VectorIndex) Remove(entityID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.embeddings, entityID)
}

// Search returns the limit most similar embeddings to query by cosine
// similarity, descending.
func (v *VectorIndex) Search(query []float32, limit int) []VectorSearchResult {
	v.mu.Lock()
	results := make([]VectorSearchResult, 0, len(v.embeddings))
	for id, vec := range v.embeddings {
		results = append(results, VectorSearchResult{EntityID: id, Similarity: cosineSimilarity(query, vec)})
	}
	v.mu.Unlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if limit >= 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}

// PersistToStore writes every in-memory embedding to the store's
// embeddings table inside one transaction (insert-or-replace semantics).
func (v *VectorIndex) PersistToStore(ctx context.Context, s *Store) error {
	v.mu.Lock()
	snapshot := make(map[string][]float32, len(v.embeddings))
	for k, val := range v.embeddings {
		snapshot[k] = val
	}
	v.mu.Unlock()

	err := s.withRecover(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO embeddings (entity_id, vector, dimension) VALUES (?, ?, ?)
			 ON CONFLICT(entity_id) DO UPDATE SET vector = excluded.vector, dimension = excluded.dimension`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for id, vec := range snapshot {
			if _, err := stmt.ExecContext(ctx, id, float32sToBytes(vec), len(vec)); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("knowledge: persist vector index: %w", err)
	}
	s.logger.Info("knowledge: persisted embeddings", "count", len(snapshot))
	return nil
}

// Len reports how many embeddings are currently stored.
func (v *VectorIndex) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.embeddings)
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func float32sToBytes(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32s(b []byte) ([]float32, bool) {
	if len(b)%4 != 0 {
		return nil, false
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, true
}
