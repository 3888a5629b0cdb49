// Package sparse is the lexical side of hybrid retrieval: a BM25-style
// in-memory bleve index over every chunk text, rebuilt after ingestion.
package sparse

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/lang/en"
	"github.com/blevesearch/bleve/mapping"
	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
)

const textField = "text"

// Hit is a lexical match with its bleve score.
type Hit struct {
	Chunk domain.Chunk
	Score float64
}

// snapshot is read-locked for the duration of a search. Retiring it takes
// the write lock, so the bleve index is closed only after in-flight searches
// return.
type snapshot struct {
	mu     sync.RWMutex
	closed bool
	index  bleve.Index
	chunks map[string]domain.Chunk
}

func (s *snapshot) retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if err := s.index.Close(); err != nil {
		logger.Warn("Failed to close sparse snapshot", zap.Error(err))
	}
}

// Index serves searches from an immutable snapshot; Rebuild swaps in a new
// one so readers never observe a partially built index.
type Index struct {
	current atomic.Pointer[snapshot]
}

func New() *Index {
	return &Index{}
}

func newMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = en.AnalyzerName
	text.Store = false
	text.IncludeTermVectors = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(textField, text)

	im := bleve.NewIndexMapping()
	im.DefaultMapping = doc
	im.DefaultAnalyzer = en.AnalyzerName
	return im
}

// Rebuild indexes chunks into a fresh snapshot and publishes it.
func (x *Index) Rebuild(ctx context.Context, chunks []domain.Chunk) error {
	idx, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return fmt.Errorf("failed to create sparse index: %w", err)
	}

	byID := make(map[string]domain.Chunk, len(chunks))
	batch := idx.NewBatch()
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			_ = idx.Close()
			return err
		}
		if err := batch.Index(c.ID, map[string]interface{}{textField: c.Text}); err != nil {
			_ = idx.Close()
			return fmt.Errorf("failed to index chunk %s: %w", c.ID, err)
		}
		byID[c.ID] = c
		if (i+1)%1000 == 0 {
			if err := idx.Batch(batch); err != nil {
				_ = idx.Close()
				return fmt.Errorf("failed to write sparse batch: %w", err)
			}
			batch = idx.NewBatch()
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return fmt.Errorf("failed to write sparse batch: %w", err)
	}

	// searches already running finish on the old snapshot before it closes
	if old := x.current.Swap(&snapshot{index: idx, chunks: byID}); old != nil {
		old.retire()
	}

	logger.Info("Sparse index rebuilt", zap.Int("chunks", len(chunks)))
	return nil
}

// Len is the number of chunks in the current snapshot.
func (x *Index) Len() int {
	s := x.current.Load()
	if s == nil {
		return 0
	}
	return len(s.chunks)
}

// Close releases the current snapshot. Later searches report the index as
// not built.
func (x *Index) Close() {
	if old := x.current.Swap(nil); old != nil {
		old.retire()
	}
}

// acquire returns the current snapshot read-locked. A snapshot retired
// between the load and the lock is skipped in favour of its successor.
func (x *Index) acquire() (*snapshot, bool) {
	for {
		s := x.current.Load()
		if s == nil {
			return nil, false
		}
		s.mu.RLock()
		if !s.closed {
			return s, true
		}
		s.mu.RUnlock()
	}
}

// Search returns up to k chunks in descending score order. An index that was
// never built is reported as unavailable.
func (x *Index) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	s, ok := x.acquire()
	if !ok {
		return nil, fmt.Errorf("%w: sparse index not built", domain.ErrStoreUnavailable)
	}
	defer s.mu.RUnlock()

	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return nil, nil
	}

	q := bleve.NewMatchQuery(query)
	q.SetField(textField)
	req := bleve.NewSearchRequestOptions(q, k, 0, false)

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: sparse search failed: %v", domain.ErrStoreUnavailable, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		c, ok := s.chunks[h.ID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Chunk: c, Score: h.Score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	return hits, nil
}
