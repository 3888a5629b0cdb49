package query

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/llm"
	"github.com/dilshanka/Rag-Pipeline/internal/metrics"
	"github.com/dilshanka/Rag-Pipeline/internal/retrieval"
	"github.com/dilshanka/Rag-Pipeline/internal/storage/models"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
	"github.com/dilshanka/Rag-Pipeline/pkg/utils"
)

const excerptRunes = 300

var ErrEmptyQuery = errors.New("query is empty")

type Retriever interface {
	Retrieve(ctx context.Context, query string) (*retrieval.Result, error)
}

type Generator interface {
	GenerateAnswer(ctx context.Context, question string, passages []llm.ContextPassage) (string, error)
}

type AnswerCache interface {
	GetAnswer(ctx context.Context, queryHash string, answer interface{}) (bool, error)
	SetAnswer(ctx context.Context, queryHash string, answer interface{}) error
}

type History interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
	InsertQuerySource(ctx context.Context, source *models.QuerySource) error
}

// Engine answers questions from the ingested corpus. Cache and history are
// optional.
type Engine struct {
	retriever Retriever
	generator Generator
	cache     AnswerCache
	history   History
}

type QueryRequest struct {
	Query  string
	UserID string
	// Progress, if set, is told when the engine moves to a new phase.
	Progress func(status string)
}

type QueryResponse struct {
	ID        string        `json:"id"`
	Query     string        `json:"query"`
	Answer    domain.Answer `json:"answer"`
	Stages    []string      `json:"stages,omitempty"`
	Cached    bool          `json:"cached"`
	LatencyMS int           `json:"latency_ms"`
}

func NewEngine(retriever Retriever, generator Generator, cache AnswerCache, history History) *Engine {
	return &Engine{
		retriever: retriever,
		generator: generator,
		cache:     cache,
		history:   history,
	}
}

// Answer is the plain query entrypoint. It never fails: internal problems
// produce a degraded or insufficient-information answer.
func (e *Engine) Answer(ctx context.Context, query string) domain.Answer {
	resp, err := e.ProcessQuery(ctx, QueryRequest{Query: query})
	if err != nil {
		return domain.Answer{Text: domain.InsufficientInformation, Sources: []domain.Source{}}
	}
	return resp.Answer
}

// ProcessQuery returns an error only for an empty query.
func (e *Engine) ProcessQuery(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	startTime := time.Now()
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return nil, ErrEmptyQuery
	}

	resp := &QueryResponse{ID: uuid.New().String(), Query: q}
	progress := req.Progress
	if progress == nil {
		progress = func(string) {}
	}

	logger.Info("Processing query", zap.String("query_id", resp.ID), zap.String("query", q))

	cacheKey := utils.CacheKey("answer", q)
	if e.cache != nil {
		var cached domain.Answer
		hit, err := e.cache.GetAnswer(ctx, cacheKey, &cached)
		if err != nil {
			logger.Warn("Answer cache lookup failed", zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues("answer").Inc()
			resp.Answer = cached
			resp.Cached = true
			e.finish(ctx, req, resp, startTime, "cached")
			return resp, nil
		}
		metrics.CacheMisses.WithLabelValues("answer").Inc()
	}

	progress("retrieving")
	res, err := e.retriever.Retrieve(ctx, q)
	if err != nil {
		logger.Error("Retrieval failed", zap.String("query_id", resp.ID), zap.Error(err))
		resp.Answer = domain.Answer{Text: domain.InsufficientInformation, Sources: []domain.Source{}, Degraded: true}
		e.finish(ctx, req, resp, startTime, "degraded")
		return resp, nil
	}
	resp.Stages = res.Stages

	if len(res.Candidates) == 0 {
		resp.Answer = domain.Answer{Text: domain.InsufficientInformation, Sources: []domain.Source{}, Degraded: res.Degraded}
		e.finish(ctx, req, resp, startTime, "empty")
		return resp, nil
	}

	sources := make([]domain.Source, len(res.Candidates))
	passages := make([]llm.ContextPassage, len(res.Candidates))
	for i, c := range res.Candidates {
		sources[i] = domain.Source{
			ID:         c.ChunkID,
			SourceFile: c.Metadata.SourceFile,
			PageNumber: c.Metadata.PageNumber,
			Excerpt:    excerpt(c.Text, excerptRunes),
			Score:      c.Score,
		}
		passages[i] = llm.ContextPassage{
			SourceFile: c.Metadata.SourceFile,
			PageNumber: c.Metadata.PageNumber,
			Text:       c.Text,
		}
	}

	progress("generating")
	text, err := e.generator.GenerateAnswer(ctx, q, passages)
	if err != nil || strings.TrimSpace(text) == "" {
		logger.Error("Answer generation failed", zap.String("query_id", resp.ID), zap.Error(err))
		resp.Answer = domain.Answer{Text: domain.InsufficientInformation, Sources: sources, Degraded: true}
		e.finish(ctx, req, resp, startTime, "degraded")
		return resp, nil
	}

	resp.Answer = domain.Answer{Text: text, Sources: sources, Degraded: res.Degraded}
	if e.cache != nil && !res.Degraded {
		if err := e.cache.SetAnswer(ctx, cacheKey, resp.Answer); err != nil {
			logger.Warn("Failed to cache answer", zap.Error(err))
		}
	}

	status := "ok"
	if res.Degraded {
		status = "degraded"
	}
	e.finish(ctx, req, resp, startTime, status)
	return resp, nil
}

func (e *Engine) finish(ctx context.Context, req QueryRequest, resp *QueryResponse, startTime time.Time, status string) {
	elapsed := time.Since(startTime)
	resp.LatencyMS = int(elapsed.Milliseconds())
	metrics.QueryDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	metrics.QueryTotal.WithLabelValues(status).Inc()

	if e.history != nil {
		e.record(ctx, req.UserID, resp)
	}

	logger.Info("Query processed",
		zap.String("query_id", resp.ID),
		zap.String("status", status),
		zap.Int("sources", len(resp.Answer.Sources)),
		zap.Int("latency_ms", resp.LatencyMS),
	)
}

func (e *Engine) record(ctx context.Context, userID string, resp *QueryResponse) {
	// History outlives a cancelled request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	record := &models.QueryRecord{
		ID:              resp.ID,
		UserID:          userID,
		QueryText:       resp.Query,
		Response:        resp.Answer.Text,
		CandidatesCount: len(resp.Answer.Sources),
		Degraded:        resp.Answer.Degraded,
		CacheHit:        resp.Cached,
		LatencyMS:       resp.LatencyMS,
		CreatedAt:       time.Now(),
	}
	if err := e.history.InsertQueryRecord(ctx, record); err != nil {
		logger.Warn("Failed to record query", zap.Error(err))
		return
	}

	for _, s := range resp.Answer.Sources {
		if err := e.history.InsertQuerySource(ctx, &models.QuerySource{
			QueryID:    resp.ID,
			ChunkID:    s.ID,
			SourceFile: s.SourceFile,
			PageNumber: s.PageNumber,
			Score:      s.Score,
		}); err != nil {
			logger.Warn("Failed to record query source", zap.Error(err))
		}
	}
}

func excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return strings.TrimSpace(string(r[:n])) + "..."
}
