package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/metrics"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
	"github.com/dilshanka/Rag-Pipeline/pkg/workerpool"
)

type RelevanceExtractor interface {
	ExtractRelevant(ctx context.Context, query, passage string) (string, error)
}

// Compressor trims each candidate down to the sentences relevant to the
// query.
type Compressor struct {
	extractor   RelevanceExtractor
	parallelism int
}

func NewCompressor(extractor RelevanceExtractor, parallelism int) *Compressor {
	return &Compressor{extractor: extractor, parallelism: parallelism}
}

// Compress returns the surviving candidates in input order. A candidate with
// nothing relevant is dropped; one whose extraction failed is kept verbatim.
func (c *Compressor) Compress(ctx context.Context, query string, cands []domain.Candidate) []domain.Candidate {
	if len(cands) == 0 {
		return nil
	}
	start := time.Now()

	results := workerpool.Map(ctx, c.parallelism, cands, func(ctx context.Context, cand domain.Candidate) (string, error) {
		return c.extractor.ExtractRelevant(ctx, query, cand.Text)
	})

	out := make([]domain.Candidate, 0, len(cands))
	dropped, failed := 0, 0
	for i, r := range results {
		cand := cands[i]
		switch {
		case r.Err != nil:
			failed++
			logger.Warn("Compression failed, keeping passage verbatim",
				zap.String("chunk_id", cand.ChunkID),
				zap.Error(fmt.Errorf("%w: %w", domain.ErrCompressionFailure, r.Err)))
			out = append(out, cand)
		case r.Value == "":
			dropped++
		default:
			cand.Text = r.Value
			cand.RankSource = domain.RankCompressed
			out = append(out, cand)
		}
	}

	if failed > 0 {
		metrics.StageFallbacks.WithLabelValues("compression").Add(float64(failed))
	}
	metrics.StageDuration.WithLabelValues("compression").Observe(time.Since(start).Seconds())
	logger.Debug("Context compression completed",
		zap.Int("in", len(cands)),
		zap.Int("out", len(out)),
		zap.Int("dropped", dropped),
		zap.Int("failed", failed),
	)
	return out
}
