package retrieval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/sparse"
)

type fakeParaphraser struct {
	variants []string
	err      error
	calls    int
}

func (f *fakeParaphraser) Paraphrase(_ context.Context, _ string, _ int) ([]string, error) {
	f.calls++
	return f.variants, f.err
}

// querySparse returns a fixed ranking per query string.
type querySparse struct {
	mu      sync.Mutex
	byQuery map[string][]sparse.Hit
	seen    []string
}

func (q *querySparse) Search(_ context.Context, query string, _ int) ([]sparse.Hit, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seen = append(q.seen, query)
	hits, ok := q.byQuery[query]
	if !ok {
		return nil, errors.New("unknown query")
	}
	return hits, nil
}

func sparseOnlyFusion(sp SparseSearcher) *FusionRetriever {
	return NewFusionRetriever(sp, &fakeDense{err: errors.New("down")}, bagEmbedder{dim: 4}, FusionConfig{})
}

func TestExpander_UnionKeepsMaxScore(t *testing.T) {
	sp := &querySparse{byQuery: map[string][]sparse.Hit{
		"original":    sparseHits("a", "b"),
		"paraphrase1": sparseHits("b", "c"),
	}}
	e := NewExpander(&fakeParaphraser{variants: []string{"paraphrase1"}}, sparseOnlyFusion(sp), 3, 2)

	out, err := e.Retrieve(context.Background(), "original", 5)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids(out))
	for _, c := range out {
		if c.ChunkID == "b" {
			// Rank 1 under the paraphrase beats rank 2 under the original.
			assert.InDelta(t, 0.5/61, c.Score, 1e-12)
		}
	}
	assert.ElementsMatch(t, []string{"original", "paraphrase1"}, sp.seen)
}

func TestExpander_FallsBackToOriginal(t *testing.T) {
	tests := []struct {
		name string
		p    *fakeParaphraser
	}{
		{name: "llm failure", p: &fakeParaphraser{err: errors.New("rate limited")}},
		{name: "no usable paraphrases", p: &fakeParaphraser{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sp := &querySparse{byQuery: map[string][]sparse.Hit{"original": sparseHits("a", "b")}}
			e := NewExpander(tc.p, sparseOnlyFusion(sp), 3, 2)

			out, err := e.Retrieve(context.Background(), "original", 5)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids(out))
			assert.Equal(t, []string{"original"}, sp.seen)
			assert.Equal(t, 1, tc.p.calls)
		})
	}
}

func TestExpander_IgnoresFailedVariant(t *testing.T) {
	sp := &querySparse{byQuery: map[string][]sparse.Hit{
		"original": sparseHits("a"),
		"good":     sparseHits("g"),
	}}
	e := NewExpander(&fakeParaphraser{variants: []string{"good", "unknown"}}, sparseOnlyFusion(sp), 3, 2)

	out, err := e.Retrieve(context.Background(), "original", 5)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "g"}, ids(out))
}

type fakeExtractor struct {
	replies map[string]string
	fail    map[string]bool
}

func (f *fakeExtractor) ExtractRelevant(_ context.Context, _ string, passage string) (string, error) {
	if f.fail[passage] {
		return "", errors.New("timeout")
	}
	return f.replies[passage], nil
}

func TestCompressor(t *testing.T) {
	in := []domain.Candidate{
		{ChunkID: "keep", Text: "relevant. irrelevant.", RankSource: domain.RankFused},
		{ChunkID: "drop", Text: "nothing useful", RankSource: domain.RankFused},
		{ChunkID: "error", Text: "verbatim passage", RankSource: domain.RankFused},
	}
	ex := &fakeExtractor{
		replies: map[string]string{"relevant. irrelevant.": "relevant."},
		fail:    map[string]bool{"verbatim passage": true},
	}

	out := NewCompressor(ex, 2).Compress(context.Background(), "q", in)

	require.Equal(t, []string{"keep", "error"}, ids(out))
	assert.Equal(t, "relevant.", out[0].Text)
	assert.Equal(t, domain.RankCompressed, out[0].RankSource)
	assert.Equal(t, "verbatim passage", out[1].Text)
	assert.Equal(t, domain.RankFused, out[1].RankSource)
	assert.Equal(t, "relevant. irrelevant.", in[0].Text, "input must not change")
}

func TestCompressor_Empty(t *testing.T) {
	assert.Empty(t, NewCompressor(&fakeExtractor{}, 2).Compress(context.Background(), "q", nil))
}

type fixedScorer struct {
	scores []float64
	err    error
}

func (f fixedScorer) Score(_ context.Context, _ string, _ []string) ([]float64, error) {
	return f.scores, f.err
}

func TestReranker_SortsWithoutMutatingInput(t *testing.T) {
	in := []domain.Candidate{
		{ChunkID: "a", Score: 0.9, RankSource: domain.RankFused},
		{ChunkID: "b", Score: 0.8, RankSource: domain.RankFused},
		{ChunkID: "c", Score: 0.7, RankSource: domain.RankFused},
		{ChunkID: "d", Score: 0.6, RankSource: domain.RankFused},
	}
	snapshot := domain.CloneCandidates(in)

	out, err := NewReranker(fixedScorer{scores: []float64{0.1, 0.9, 0.5, 0.9}}).Rerank(context.Background(), "q", in)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "d", "c", "a"}, ids(out))
	for _, c := range out {
		assert.Equal(t, domain.RankReranked, c.RankSource)
	}
	assert.Equal(t, snapshot, in)
}

func TestReranker_ScorerFailureKeepsOrder(t *testing.T) {
	in := []domain.Candidate{{ChunkID: "a", Score: 2}, {ChunkID: "b", Score: 1}}

	out, err := NewReranker(fixedScorer{err: errors.New("503")}).Rerank(context.Background(), "q", in)
	require.Error(t, err)
	assert.Equal(t, in, out)

	out[0].ChunkID = "changed"
	assert.Equal(t, "a", in[0].ChunkID, "fallback must be a copy")

	_, err = NewReranker(fixedScorer{scores: []float64{1}}).Rerank(context.Background(), "q", in)
	assert.Error(t, err)
}

func TestLexicalScorer(t *testing.T) {
	scores, err := LexicalScorer{}.Score(context.Background(), "reserve forces pay", []string{
		"pay of members of the reserve forces",
		"annual leave for civilian staff",
		"reserve forces",
	})
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Greater(t, scores[0], scores[2])
	assert.Greater(t, scores[2], scores[1])
	assert.Zero(t, scores[1])

	again, _ := LexicalScorer{}.Score(context.Background(), "reserve forces pay", []string{"pay of members of the reserve forces"})
	assert.Equal(t, scores[0], again[0])
}

// slowExtractor blocks until its context is done.
type slowExtractor struct{}

func (slowExtractor) ExtractRelevant(ctx context.Context, _ string, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func pipeline(sp SparseSearcher, cfg Config, compressor *Compressor) *Context {
	fusion := sparseOnlyFusion(sp)
	return &Context{
		Fusion:     fusion,
		Compressor: compressor,
		Reranker:   NewReranker(LexicalScorer{}),
		Config:     cfg,
	}
}

func TestContext_RetrieveRunsStages(t *testing.T) {
	sp := &fakeSparse{hits: []sparse.Hit{
		{Chunk: domain.Chunk{ID: "a", Text: "civilian leave"}},
		{Chunk: domain.Chunk{ID: "b", Text: "reserve forces pay rates"}},
		{Chunk: domain.Chunk{ID: "c", Text: "court martial"}},
	}}
	ex := &fakeExtractor{replies: map[string]string{
		"civilian leave":           "civilian leave",
		"reserve forces pay rates": "reserve forces pay rates",
	}}
	rc := pipeline(sp, Config{K: 2, Compression: true, Rerank: true, RerankTopN: 2, Timeout: time.Second}, NewCompressor(ex, 2))

	res, err := rc.Retrieve(context.Background(), "reserve forces pay")
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, []string{"compression", "rerank"}, res.Stages)
	assert.Equal(t, []string{"b", "a"}, ids(res.Candidates))
}

func TestContext_TimeoutFallsBackToFused(t *testing.T) {
	sp := &fakeSparse{hits: sparseHits("a", "b", "c", "d")}
	rc := pipeline(sp, Config{K: 3, Compression: true, Timeout: 20 * time.Millisecond}, NewCompressor(slowExtractor{}, 4))

	res, err := rc.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{"a", "b", "c"}, ids(res.Candidates))
	for _, c := range res.Candidates {
		assert.Equal(t, domain.RankFused, c.RankSource)
	}
}

func TestContext_StoresDown(t *testing.T) {
	rc := &Context{
		Fusion: NewFusionRetriever(&fakeSparse{err: errors.New("x")}, &fakeDense{err: errors.New("y")}, bagEmbedder{dim: 4}, FusionConfig{}),
		Config: Config{K: 5},
	}
	_, err := rc.Retrieve(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestTerms_DropsStopwords(t *testing.T) {
	assert.Equal(t, "service person mean", strings.Join(terms("What does Service-Person mean?"), " "))
}
