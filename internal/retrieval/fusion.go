package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/embedding"
	"github.com/dilshanka/Rag-Pipeline/internal/metrics"
	"github.com/dilshanka/Rag-Pipeline/internal/sparse"
	"github.com/dilshanka/Rag-Pipeline/internal/vector"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
)

// DefaultRRFK is the rank offset of reciprocal rank fusion.
const DefaultRRFK = 60

type SparseSearcher interface {
	Search(ctx context.Context, query string, k int) ([]sparse.Hit, error)
}

type DenseSearcher interface {
	Search(ctx context.Context, query []float32, k int) ([]vector.Hit, error)
}

type FusionConfig struct {
	SparseWeight float64
	DenseWeight  float64
	RRFK         float64
	// Depth is how many results to pull from each side per requested
	// candidate.
	Depth int
}

func (c FusionConfig) withDefaults() FusionConfig {
	if c.SparseWeight == 0 && c.DenseWeight == 0 {
		c.SparseWeight, c.DenseWeight = 0.5, 0.5
	}
	if c.RRFK <= 0 {
		c.RRFK = DefaultRRFK
	}
	if c.Depth <= 0 {
		c.Depth = 4
	}
	return c
}

// FusionRetriever runs sparse and dense search in parallel and merges the
// two ranked lists with weighted reciprocal rank fusion.
type FusionRetriever struct {
	sparse   SparseSearcher
	dense    DenseSearcher
	embedder embedding.Provider
	cfg      FusionConfig
}

func NewFusionRetriever(sp SparseSearcher, dense DenseSearcher, embedder embedding.Provider, cfg FusionConfig) *FusionRetriever {
	return &FusionRetriever{sparse: sp, dense: dense, embedder: embedder, cfg: cfg.withDefaults()}
}

// Retrieve returns at most k fused candidates. When one side fails the other
// side's ranking is used alone; only when both fail is an error returned.
func (f *FusionRetriever) Retrieve(ctx context.Context, query string, k int) ([]domain.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	depth := k * f.cfg.Depth
	start := time.Now()

	var (
		wg                  sync.WaitGroup
		sparseHits          []sparse.Hit
		denseHits           []vector.Hit
		sparseErr, denseErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		sparseHits, sparseErr = f.sparse.Search(ctx, query, depth)
	}()
	go func() {
		defer wg.Done()
		vec, err := embedding.EmbedOne(ctx, f.embedder, query)
		if err != nil {
			denseErr = err
			return
		}
		denseHits, denseErr = f.dense.Search(ctx, vec, depth)
	}()
	wg.Wait()
	metrics.StageDuration.WithLabelValues("fusion").Observe(time.Since(start).Seconds())

	if sparseErr != nil && denseErr != nil {
		return nil, fmt.Errorf("%w: both indexes failed: %w", domain.ErrStoreUnavailable, errors.Join(sparseErr, denseErr))
	}
	if sparseErr != nil {
		metrics.StageFallbacks.WithLabelValues("sparse").Inc()
		logger.Warn("Sparse search failed, using dense results only", zap.Error(sparseErr))
	}
	if denseErr != nil {
		metrics.StageFallbacks.WithLabelValues("dense").Inc()
		logger.Warn("Dense search failed, using sparse results only", zap.Error(denseErr))
	}

	sparseList := make([]domain.Candidate, len(sparseHits))
	for i, h := range sparseHits {
		sparseList[i] = domain.Candidate{ChunkID: h.Chunk.ID, Text: h.Chunk.Text, Metadata: h.Chunk.Metadata, Score: h.Score, RankSource: domain.RankSparse}
	}
	denseList := make([]domain.Candidate, len(denseHits))
	for i, h := range denseHits {
		denseList[i] = domain.Candidate{ChunkID: h.Chunk.ID, Text: h.Chunk.Text, Metadata: h.Chunk.Metadata, Score: h.Score, RankSource: domain.RankDense}
	}

	fused := Fuse(sparseList, denseList, f.cfg)
	if len(fused) > k {
		fused = fused[:k]
	}

	logger.Debug("Fusion retrieval completed",
		zap.Int("sparse", len(sparseList)),
		zap.Int("dense", len(denseList)),
		zap.Int("fused", len(fused)),
	)
	return fused, nil
}

type fusedEntry struct {
	cand       domain.Candidate
	sparseRank int
	denseRank  int
}

// Fuse merges two ranked lists, best first, into one list scored by
//
//	score(c) = ws/(k0 + rank_s(c)) + wd/(k0 + rank_d(c))
//
// with 1-based ranks and a missing rank contributing nothing. Chunks are
// deduplicated by id. Ties are broken by sparse rank, then dense rank, then
// chunk id, with a missing rank ordering last.
func Fuse(sparseList, denseList []domain.Candidate, cfg FusionConfig) []domain.Candidate {
	cfg = cfg.withDefaults()

	entries := make(map[string]*fusedEntry)
	order := make([]string, 0, len(sparseList)+len(denseList))
	get := func(c domain.Candidate) *fusedEntry {
		e, ok := entries[c.ChunkID]
		if !ok {
			e = &fusedEntry{cand: c}
			entries[c.ChunkID] = e
			order = append(order, c.ChunkID)
		}
		return e
	}

	for i, c := range sparseList {
		if e := get(c); e.sparseRank == 0 {
			e.sparseRank = i + 1
		}
	}
	for i, c := range denseList {
		if e := get(c); e.denseRank == 0 {
			e.denseRank = i + 1
		}
	}

	out := make([]domain.Candidate, 0, len(order))
	ranks := make(map[string]*fusedEntry, len(order))
	for _, id := range order {
		e := entries[id]
		score := 0.0
		if e.sparseRank > 0 {
			score += cfg.SparseWeight / (cfg.RRFK + float64(e.sparseRank))
		}
		if e.denseRank > 0 {
			score += cfg.DenseWeight / (cfg.RRFK + float64(e.denseRank))
		}
		c := e.cand
		c.Score = score
		c.RankSource = domain.RankFused
		out = append(out, c)
		ranks[id] = e
	}

	rankOrInf := func(r int) int {
		if r == 0 {
			return math.MaxInt
		}
		return r
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ei, ej := ranks[out[i].ChunkID], ranks[out[j].ChunkID]
		if a, b := rankOrInf(ei.sparseRank), rankOrInf(ej.sparseRank); a != b {
			return a < b
		}
		if a, b := rankOrInf(ei.denseRank), rankOrInf(ej.denseRank); a != b {
			return a < b
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}
