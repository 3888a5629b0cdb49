package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/llm"
	"github.com/dilshanka/Rag-Pipeline/internal/retrieval"
	"github.com/dilshanka/Rag-Pipeline/internal/storage/models"
)

type fakeRetriever struct {
	result *retrieval.Result
	err    error
	calls  int
}

func (f *fakeRetriever) Retrieve(context.Context, string) (*retrieval.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeGenerator struct {
	answer   string
	err      error
	passages []llm.ContextPassage
}

func (f *fakeGenerator) GenerateAnswer(_ context.Context, _ string, passages []llm.ContextPassage) (string, error) {
	f.passages = passages
	return f.answer, f.err
}

type mapCache struct {
	data map[string][]byte
}

func (m *mapCache) GetAnswer(_ context.Context, key string, v interface{}) (bool, error) {
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

func (m *mapCache) SetAnswer(_ context.Context, key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[key] = b
	return nil
}

type memHistory struct {
	records []*models.QueryRecord
	sources []*models.QuerySource
}

func (h *memHistory) InsertQueryRecord(_ context.Context, r *models.QueryRecord) error {
	h.records = append(h.records, r)
	return nil
}

func (h *memHistory) InsertQuerySource(_ context.Context, s *models.QuerySource) error {
	h.sources = append(h.sources, s)
	return nil
}

func candidates() []domain.Candidate {
	return []domain.Candidate{
		{
			ChunkID: "doc-p2-c0",
			Text:    "In this Act \"service person\" means a member of the regular forces.",
			Score:   0.9,
			Metadata: domain.ChunkMetadata{
				SourceFile: "armed forces act.pdf",
				PageNumber: 2,
			},
		},
		{
			ChunkID:  "doc-p1-c0",
			Text:     strings.Repeat("x", 400),
			Score:    0.4,
			Metadata: domain.ChunkMetadata{SourceFile: "armed forces act.pdf", PageNumber: 1},
		},
	}
}

func TestProcessQuery_AnswersWithSources(t *testing.T) {
	r := &fakeRetriever{result: &retrieval.Result{Candidates: candidates(), Stages: []string{"rerank"}}}
	g := &fakeGenerator{answer: "A service person is a member of the regular forces [1]."}
	h := &memHistory{}
	var phases []string

	resp, err := NewEngine(r, g, nil, h).ProcessQuery(context.Background(), QueryRequest{
		Query:    "  What is a service person? ",
		UserID:   "u1",
		Progress: func(s string) { phases = append(phases, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, "What is a service person?", resp.Query)
	assert.Equal(t, g.answer, resp.Answer.Text)
	assert.False(t, resp.Answer.Degraded)
	require.Len(t, resp.Answer.Sources, 2)
	assert.Equal(t, "doc-p2-c0", resp.Answer.Sources[0].ID)
	assert.Equal(t, 2, resp.Answer.Sources[0].PageNumber)
	assert.True(t, strings.HasSuffix(resp.Answer.Sources[1].Excerpt, "..."))
	assert.Equal(t, []string{"rerank"}, resp.Stages)
	assert.Equal(t, []string{"retrieving", "generating"}, phases)

	require.Len(t, g.passages, 2)
	assert.Equal(t, "armed forces act.pdf", g.passages[0].SourceFile)

	require.Len(t, h.records, 1)
	assert.Equal(t, "u1", h.records[0].UserID)
	assert.Len(t, h.sources, 2)
}

func TestProcessQuery_NoCandidates(t *testing.T) {
	r := &fakeRetriever{result: &retrieval.Result{}}
	g := &fakeGenerator{answer: "should not be used"}

	resp, err := NewEngine(r, g, nil, nil).ProcessQuery(context.Background(), QueryRequest{Query: "unrelated"})
	require.NoError(t, err)
	assert.Equal(t, domain.InsufficientInformation, resp.Answer.Text)
	assert.Empty(t, resp.Answer.Sources)
	assert.Nil(t, g.passages)
}

func TestProcessQuery_Degrades(t *testing.T) {
	t.Run("retrieval failure", func(t *testing.T) {
		r := &fakeRetriever{err: domain.ErrStoreUnavailable}
		resp, err := NewEngine(r, &fakeGenerator{}, nil, nil).ProcessQuery(context.Background(), QueryRequest{Query: "q"})
		require.NoError(t, err)
		assert.Equal(t, domain.InsufficientInformation, resp.Answer.Text)
		assert.True(t, resp.Answer.Degraded)
	})

	t.Run("generation failure keeps sources", func(t *testing.T) {
		r := &fakeRetriever{result: &retrieval.Result{Candidates: candidates()}}
		g := &fakeGenerator{err: errors.New("circuit breaker is open")}
		resp, err := NewEngine(r, g, nil, nil).ProcessQuery(context.Background(), QueryRequest{Query: "q"})
		require.NoError(t, err)
		assert.Equal(t, domain.InsufficientInformation, resp.Answer.Text)
		assert.True(t, resp.Answer.Degraded)
		assert.Len(t, resp.Answer.Sources, 2)
	})
}

func TestProcessQuery_EmptyQuery(t *testing.T) {
	_, err := NewEngine(&fakeRetriever{}, &fakeGenerator{}, nil, nil).ProcessQuery(context.Background(), QueryRequest{Query: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestProcessQuery_Cache(t *testing.T) {
	r := &fakeRetriever{result: &retrieval.Result{Candidates: candidates()}}
	g := &fakeGenerator{answer: "cached answer"}
	cache := &mapCache{data: map[string][]byte{}}
	e := NewEngine(r, g, cache, nil)

	first, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "What is a service person?"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := e.ProcessQuery(context.Background(), QueryRequest{Query: "what is a SERVICE person?"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, 1, r.calls)
}

func TestProcessQuery_DegradedNotCached(t *testing.T) {
	r := &fakeRetriever{result: &retrieval.Result{Candidates: candidates(), Degraded: true}}
	cache := &mapCache{data: map[string][]byte{}}

	resp, err := NewEngine(r, &fakeGenerator{answer: "partial"}, cache, nil).ProcessQuery(context.Background(), QueryRequest{Query: "q"})
	require.NoError(t, err)
	assert.True(t, resp.Answer.Degraded)
	assert.Equal(t, "partial", resp.Answer.Text)
	assert.Empty(t, cache.data)
}

func TestAnswer_NeverFails(t *testing.T) {
	e := NewEngine(&fakeRetriever{}, &fakeGenerator{}, nil, nil)
	a := e.Answer(context.Background(), "")
	assert.Equal(t, domain.InsufficientInformation, a.Text)
	assert.NotNil(t, a.Sources)
}
