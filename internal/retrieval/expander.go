package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/metrics"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
	"github.com/dilshanka/Rag-Pipeline/pkg/workerpool"
)

type Paraphraser interface {
	Paraphrase(ctx context.Context, query string, n int) ([]string, error)
}

// Expander widens recall by running fusion for the query and a handful of
// LLM paraphrases of it.
type Expander struct {
	paraphraser Paraphraser
	fusion      *FusionRetriever
	n           int
	parallelism int
}

func NewExpander(p Paraphraser, fusion *FusionRetriever, n, parallelism int) *Expander {
	if n <= 0 {
		n = 3
	}
	return &Expander{paraphraser: p, fusion: fusion, n: n, parallelism: parallelism}
}

func (e *Expander) Retrieve(ctx context.Context, query string, k int) ([]domain.Candidate, error) {
	base, err := e.fusion.Retrieve(ctx, query, k)
	if err != nil {
		return nil, err
	}
	return e.Expand(ctx, query, base, k)
}

// Expand merges base, the fused result of query itself, with the fused
// results of each paraphrase. It falls back to base when no usable
// paraphrase comes back. Only a cancelled context is returned as an error.
func (e *Expander) Expand(ctx context.Context, query string, base []domain.Candidate, k int) ([]domain.Candidate, error) {
	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("expansion").Observe(time.Since(start).Seconds())
	}()

	variants, err := e.paraphraser.Paraphrase(ctx, query, e.n)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		metrics.StageFallbacks.WithLabelValues("expansion").Inc()
		logger.Warn("Query expansion failed, using original query only",
			zap.Error(fmt.Errorf("%w: %w", domain.ErrExpansionFailure, err)))
		return base, nil
	}
	if len(variants) == 0 {
		metrics.StageFallbacks.WithLabelValues("expansion").Inc()
		logger.Debug("No usable paraphrases, using original query only")
		return base, nil
	}

	results := workerpool.Map(ctx, e.parallelism, variants, func(ctx context.Context, q string) ([]domain.Candidate, error) {
		return e.fusion.Retrieve(ctx, q, k)
	})

	lists := [][]domain.Candidate{base}
	for i, r := range results {
		if r.Err != nil {
			if errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded) {
				return nil, r.Err
			}
			logger.Warn("Paraphrase retrieval failed", zap.String("paraphrase", variants[i]), zap.Error(r.Err))
			continue
		}
		lists = append(lists, r.Value)
	}

	merged := unionMaxScore(lists)
	if len(merged) > k {
		merged = merged[:k]
	}

	logger.Debug("Query expansion completed",
		zap.Int("paraphrases", len(variants)),
		zap.Int("candidates", len(merged)),
	)
	return merged, nil
}

// unionMaxScore merges lists by chunk id keeping each chunk's best score.
// The result is sorted by score, then by first appearance.
func unionMaxScore(lists [][]domain.Candidate) []domain.Candidate {
	index := make(map[string]int)
	var out []domain.Candidate
	for _, list := range lists {
		for _, c := range list {
			if i, ok := index[c.ChunkID]; ok {
				if c.Score > out[i].Score {
					out[i].Score = c.Score
				}
				continue
			}
			index[c.ChunkID] = len(out)
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
