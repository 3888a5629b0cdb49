// Package retrieval turns a question into a short ranked list of context
// passages: hybrid fusion, optional query expansion, context compression and
// reranking.
package retrieval

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/metrics"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
)

type Config struct {
	K           int
	RerankTopN  int
	Expansion   bool
	Compression bool
	Rerank      bool
	// Timeout bounds expansion, compression and rerank together.
	Timeout time.Duration
}

// Context holds the retrieval components built once at startup. Expander,
// Compressor and Reranker may be nil when their stage is disabled.
type Context struct {
	Fusion     *FusionRetriever
	Expander   *Expander
	Compressor *Compressor
	Reranker   *Reranker
	Config     Config
}

type Result struct {
	Candidates []domain.Candidate
	// Stages lists the optional stages that completed.
	Stages []string
	// Degraded is set when the stage timeout fired and the fused set was
	// returned instead.
	Degraded bool
}

// Retrieve runs the full pipeline. Only a failure of both indexes or a
// cancelled caller context is returned as an error; every optional stage
// degrades to the result of the stage before it.
func (rc *Context) Retrieve(ctx context.Context, query string) (*Result, error) {
	k := rc.Config.K
	if k <= 0 {
		k = 5
	}
	topN := k
	if rc.rerankEnabled() && rc.Config.RerankTopN > 0 {
		topN = rc.Config.RerankTopN
	}
	// Later stages can drop candidates, so fetch a wider pool for them.
	pool := k
	if rc.compressionEnabled() || rc.rerankEnabled() {
		pool = k * 2
	}

	fused, err := rc.Fusion.Retrieve(ctx, query, pool)
	if err != nil {
		return nil, err
	}

	stageCtx := ctx
	if rc.Config.Timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, rc.Config.Timeout)
		defer cancel()
	}

	res := &Result{}
	cands, err := rc.runStages(stageCtx, query, fused, pool, res)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.StageFallbacks.WithLabelValues("timeout").Inc()
		logger.Warn("Retrieval stages timed out, using fused results",
			zap.Duration("timeout", rc.Config.Timeout),
			zap.Strings("completed", res.Stages),
			zap.Error(err),
		)
		cands = domain.CloneCandidates(fused)
		res.Degraded = true
	}

	if len(cands) > topN {
		cands = cands[:topN]
	}
	res.Candidates = cands
	metrics.CandidatesReturned.Observe(float64(len(cands)))
	return res, nil
}

func (rc *Context) runStages(ctx context.Context, query string, fused []domain.Candidate, pool int, res *Result) ([]domain.Candidate, error) {
	cands := fused

	if rc.expansionEnabled() {
		expanded, err := rc.Expander.Expand(ctx, query, cands, pool)
		if err != nil {
			return nil, err
		}
		cands = expanded
		res.Stages = append(res.Stages, "expansion")
	}

	if rc.compressionEnabled() {
		compressed := rc.Compressor.Compress(ctx, query, cands)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cands = compressed
		res.Stages = append(res.Stages, "compression")
	}

	if rc.rerankEnabled() {
		reranked, err := rc.Reranker.Rerank(ctx, query, cands)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			metrics.StageFallbacks.WithLabelValues("rerank").Inc()
			logger.Warn("Rerank failed, keeping previous order", zap.Error(err))
		} else {
			res.Stages = append(res.Stages, "rerank")
		}
		cands = reranked
	}

	return cands, nil
}

func (rc *Context) expansionEnabled() bool   { return rc.Config.Expansion && rc.Expander != nil }
func (rc *Context) compressionEnabled() bool { return rc.Config.Compression && rc.Compressor != nil }
func (rc *Context) rerankEnabled() bool      { return rc.Config.Rerank && rc.Reranker != nil }
