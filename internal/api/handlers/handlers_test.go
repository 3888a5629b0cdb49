package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dilshanka/Rag-Pipeline/internal/chunker"
	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/extract"
	"github.com/dilshanka/Rag-Pipeline/internal/ingestion"
	"github.com/dilshanka/Rag-Pipeline/internal/llm"
	"github.com/dilshanka/Rag-Pipeline/internal/query"
	"github.com/dilshanka/Rag-Pipeline/internal/retrieval"
	"github.com/dilshanka/Rag-Pipeline/internal/sparse"
	"github.com/dilshanka/Rag-Pipeline/internal/storage/sqlite"
	"github.com/dilshanka/Rag-Pipeline/internal/vector/memory"
)

type constEmbedder struct{}

func (constEmbedder) Dimension() int { return 2 }

func (constEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(i + 1)}
	}
	return out, nil
}

type echoGenerator struct{}

func (echoGenerator) GenerateAnswer(_ context.Context, q string, passages []llm.ContextPassage) (string, error) {
	return "answer to " + q, nil
}

type testServer struct {
	app  *fiber.App
	ic   *ingestion.Context
	root string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "catalogue.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { _ = db.Close() })

	store := memory.New("")
	sp := sparse.New()
	ic := &ingestion.Context{
		Collection: "legal_docs",
		Extractor:  extract.NewExtractor(extract.NewFileOpener(nil), nil, extract.Config{}),
		Chunker:    chunker.New(chunker.WithSentenceSplitter(chunker.RegexSentences)),
		Embedder:   constEmbedder{},
		Store:      store,
		Catalogue:  db,
		Sparse:     sp,
		Workers:    2,
	}
	require.NoError(t, ic.LoadSparse(context.Background()))

	rc := &retrieval.Context{
		Fusion: retrieval.NewFusionRetriever(sp, store, constEmbedder{}, retrieval.FusionConfig{}),
		Config: retrieval.Config{K: 3},
	}
	engine := query.NewEngine(rc, echoGenerator{}, nil, db)

	root := t.TempDir()
	qh := NewQueryHandler(engine, db)
	dh := NewDocumentHandler(ic, ingestion.IngestRequest{SourceDir: root, Collection: "legal_docs"})

	app := fiber.New()
	api := app.Group("/api/v1")
	api.Post("/query", qh.HandleQuery)
	api.Post("/chat", qh.HandleChat)
	api.Get("/query/history", qh.GetQueryHistory)
	api.Post("/documents/ingest", dh.Ingest)
	api.Get("/documents", dh.ListDocuments)
	api.Delete("/documents/:id", dh.DeleteDocument)
	api.Get("/stats", dh.Stats)

	return &testServer{app: app, ic: ic, root: root}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestIngestQueryDelete(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.root, "reserve forces order.txt"),
		[]byte("The Secretary of State may by order make provision about the pay of members of the reserve forces."), 0o644))

	status, body := s.do(t, "POST", "/api/v1/documents/ingest", "")
	require.Equal(t, fiber.StatusOK, status, body)
	assert.EqualValues(t, 1, body["processed"])

	status, body = s.do(t, "GET", "/api/v1/stats", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, body["documents"])
	assert.EqualValues(t, 1, body["vectors"])

	status, body = s.do(t, "POST", "/api/v1/chat", `{"message":"reserve forces pay","user_id":"u1"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "answer to reserve forces pay", body["response"])
	assert.Len(t, body["sources"], 1)

	status, body = s.do(t, "GET", "/api/v1/query/history?user_id=u1", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["history"], 1)

	status, body = s.do(t, "GET", "/api/v1/documents", "")
	require.Equal(t, fiber.StatusOK, status)
	docs := body["documents"].([]any)
	require.Len(t, docs, 1)
	id := docs[0].(map[string]any)["id"].(string)

	status, _ = s.do(t, "DELETE", "/api/v1/documents/"+id, "")
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = s.do(t, "DELETE", "/api/v1/documents/"+id, "")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = s.do(t, "POST", "/api/v1/query", `{"query":"reserve forces pay"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, domain.InsufficientInformation, body["answer"])
}

func TestIngest_EmptySource(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, "POST", "/api/v1/documents/ingest", "")
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Contains(t, body["error"], "no documents")
}

func TestHandleQuery_EmptyQuery(t *testing.T) {
	s := newTestServer(t)
	status, _ := s.do(t, "POST", "/api/v1/query", `{"query":"  "}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestSplitIntoWords(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "\n", "c"}, splitIntoWords("a  b\nc"))
	assert.Empty(t, splitIntoWords(""))
}
