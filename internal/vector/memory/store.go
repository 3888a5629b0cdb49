// Package memory is an in-process vector store with optional file snapshots,
// used for local runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/vector"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
)

type Store struct {
	mu       sync.RWMutex
	dim      int
	rows     map[string]domain.EmbeddedChunk
	snapshot string
}

var _ vector.Store = (*Store)(nil)

// New returns an empty store. When snapshot is non-empty, Persist writes the
// collection there and Open reads it back.
func New(snapshot string) *Store {
	return &Store{rows: make(map[string]domain.EmbeddedChunk), snapshot: snapshot}
}

// Open loads a snapshot written by Persist, or returns an empty store when
// the file does not exist.
func Open(snapshot string) (*Store, error) {
	s := New(snapshot)
	data, err := os.ReadFile(snapshot)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var rows []domain.EmbeddedChunk
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	for _, r := range rows {
		s.rows[r.ID] = r
		s.dim = len(r.Vector)
	}
	logger.Info("Vector snapshot loaded", zap.String("path", snapshot), zap.Int("rows", len(rows)))
	return s, nil
}

func (s *Store) EnsureCollection(_ context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim != 0 && len(s.rows) > 0 && s.dim != dim {
		return fmt.Errorf("collection has dimension %d, embeddings have %d", s.dim, dim)
	}
	s.dim = dim
	return nil
}

func (s *Store) Upsert(_ context.Context, chunks []domain.EmbeddedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if s.dim != 0 && len(c.Vector) != s.dim {
			return fmt.Errorf("chunk %s has dimension %d, collection expects %d", c.ID, len(c.Vector), s.dim)
		}
	}
	for _, c := range chunks {
		c.Vector = append([]float32(nil), c.Vector...)
		s.rows[c.ID] = c
	}
	return nil
}

func (s *Store) Search(_ context.Context, query []float32, k int) ([]vector.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]vector.Hit, 0, len(s.rows))
	for _, r := range s.rows {
		hits = append(hits, vector.Hit{Chunk: r.Chunk, Score: cosine(query, r.Vector)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *Store) DeleteByIDs(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.rows, id)
	}
	return nil
}

func (s *Store) DeleteByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.rows {
		if r.Metadata.DocumentID == documentID {
			delete(s.rows, id)
		}
	}
	return nil
}

func (s *Store) Persist(_ context.Context) error {
	if s.snapshot == "" {
		return nil
	}

	s.mu.RLock()
	rows := make([]domain.EmbeddedChunk, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, r)
	}
	s.mu.RUnlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.snapshot), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	tmp := s.snapshot + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return os.Rename(tmp, s.snapshot)
}

func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rows)), nil
}

func (s *Store) Close() error { return nil }

// IDs returns all chunk ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
