package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dilshanka/Rag-Pipeline/internal/chunker"
	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/extract"
	"github.com/dilshanka/Rag-Pipeline/internal/identity"
	"github.com/dilshanka/Rag-Pipeline/internal/sparse"
	"github.com/dilshanka/Rag-Pipeline/internal/storage/sqlite"
	"github.com/dilshanka/Rag-Pipeline/internal/vector/memory"
)

// lengthEmbedder returns small deterministic vectors derived from text.
type lengthEmbedder struct {
	err   error
	calls int
}

func (e *lengthEmbedder) Dimension() int { return 3 }

func (e *lengthEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), float32(strings.Count(t, " ")), 1}
	}
	return out, nil
}

type countingCache struct{ calls int }

func (c *countingCache) InvalidateAnswers(context.Context) error {
	c.calls++
	return nil
}

type fixture struct {
	ic    *Context
	store *memory.Store
	db    *sqlite.Client
	emb   *lengthEmbedder
	cache *countingCache
	root  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "catalogue.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		store: memory.New(""),
		db:    db,
		emb:   &lengthEmbedder{},
		cache: &countingCache{},
		root:  t.TempDir(),
	}
	f.ic = &Context{
		Collection:         "legal_docs",
		Extractor:          extract.NewExtractor(extract.NewFileOpener(nil), nil, extract.Config{}),
		Chunker:            chunker.New(chunker.WithSentenceSplitter(chunker.RegexSentences)),
		Embedder:           f.emb,
		Store:              f.store,
		Catalogue:          db,
		Sparse:             sparse.New(),
		Cache:              f.cache,
		Workers:            2,
		EmbeddingBatchSize: 2,
	}
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) ingest(t *testing.T) (*IngestReport, error) {
	t.Helper()
	return f.ic.IngestDirectory(context.Background(), IngestRequest{SourceDir: f.root, Collection: "legal_docs"})
}

const (
	pageOne = "Part 1. The Secretary of State may by order make provision about the pay of members of the reserve forces."
	pageTwo = "Part 2. In this Act \"service person\" means a member of the regular forces or of the reserve forces."
)

func TestIngestDirectory_TwoPageDocument(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "Armed Forces/armed forces act.txt", pageOne+"\f"+pageTwo)

	report, err := f.ingest(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 2, report.Chunks)
	require.Len(t, report.Documents, 1)
	assert.Equal(t, OutcomeIngested, report.Documents[0].Outcome)
	assert.Equal(t, 2, report.Documents[0].Pages)

	docID, err := identity.DocumentID(path)
	require.NoError(t, err)
	assert.Equal(t, []string{docID + "-p1-c0", docID + "-p2-c0"}, f.store.IDs())

	chunks, err := f.db.AllChunks(context.Background(), "legal_docs")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 2, chunks[1].Metadata.PageNumber)
	assert.Equal(t, "armed forces", chunks[1].Metadata.Category)
	assert.Equal(t, "act", chunks[1].Metadata.DocumentType)
	assert.Equal(t, "armed forces act.txt", chunks[1].Metadata.SourceFile)

	hits, err := f.ic.Sparse.Search(context.Background(), "service person", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, docID+"-p2-c0", hits[0].Chunk.ID)
	assert.Equal(t, 2, hits[0].Chunk.Metadata.PageNumber)

	assert.Equal(t, 1, f.cache.calls)
	assert.Equal(t, 1, f.emb.calls, "two chunks fit in one batch")
}

func TestIngestDirectory_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", pageOne+"\f"+pageTwo)
	f.write(t, "b.md", "# Notes\n\n"+pageTwo)

	_, err := f.ingest(t)
	require.NoError(t, err)
	firstIDs := f.store.IDs()
	firstChunks, err := f.db.AllChunks(context.Background(), "legal_docs")
	require.NoError(t, err)

	report, err := f.ingest(t)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)

	assert.Equal(t, firstIDs, f.store.IDs())
	secondChunks, err := f.db.AllChunks(context.Background(), "legal_docs")
	require.NoError(t, err)
	assert.Equal(t, firstChunks, secondChunks)

	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(len(firstIDs)), n)
}

func TestIngestDirectory_RemovesStaleChunks(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", pageOne+"\f"+pageTwo)
	_, err := f.ingest(t)
	require.NoError(t, err)
	require.Len(t, f.store.IDs(), 2)

	f.write(t, "a.txt", pageOne)
	_, err = f.ingest(t)
	require.NoError(t, err)

	ids := f.store.IDs()
	require.Len(t, ids, 1)
	assert.True(t, strings.HasSuffix(ids[0], "-p1-c0"))
}

func TestIngestDirectory_IsolatesDocuments(t *testing.T) {
	f := newFixture(t)
	f.write(t, "good.txt", pageOne)
	f.write(t, "empty.txt", "   \n\n  ")
	f.write(t, "short.txt", "too short")
	f.write(t, "ignored.csv", pageOne)

	report, err := f.ingest(t)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Len(t, report.Documents, 3)

	stats, err := f.db.Stats(context.Background(), "legal_docs")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, "completed", stats.LastRun.Status)
	assert.Equal(t, 2, stats.LastRun.Skipped)
}

func TestIngestDirectory_NoDocuments(t *testing.T) {
	f := newFixture(t)
	f.write(t, "empty.txt", "")

	report, err := f.ingest(t)
	assert.ErrorIs(t, err, domain.ErrNoDocuments)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, f.emb.calls)
}

func TestIngestDirectory_EmbeddingFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", pageOne)
	f.emb.err = errors.New("503 from embedding service")

	_, err := f.ingest(t)
	require.ErrorIs(t, err, domain.ErrEmbeddingService)
	assert.Empty(t, f.store.IDs(), "no vectors may be written")

	stats, err := f.db.Stats(context.Background(), "legal_docs")
	require.NoError(t, err)
	assert.Zero(t, stats.Documents)
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, "failed", stats.LastRun.Status)
}

func TestIngestDirectory_MissingSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.ic.IngestDirectory(context.Background(), IngestRequest{SourceDir: filepath.Join(f.root, "nope")})
	assert.Error(t, err)
}

func TestIngestDirectory_CollectionsShareCatalogue(t *testing.T) {
	ctx := context.Background()
	legal := newFixture(t)
	legal.write(t, "act.txt", pageTwo)
	_, err := legal.ingest(t)
	require.NoError(t, err)

	// A second collection over the same catalogue file, as --collection does.
	policies := *legal.ic
	policies.Collection = "policies"
	policies.Store = memory.New("")
	policies.Sparse = sparse.New()
	require.NoError(t, policies.LoadSparse(ctx))
	assert.Zero(t, policies.Sparse.Len())

	policyRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(policyRoot, "leave policy.txt"), []byte(
		"Annual leave for a service person is thirty days, excluding public holidays."), 0o644))
	_, err = policies.IngestDirectory(ctx, IngestRequest{SourceDir: policyRoot, Collection: "policies"})
	require.NoError(t, err)

	hits, err := policies.Sparse.Search(ctx, "service person", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "leave policy.txt", hits[0].Chunk.Metadata.SourceFile)

	hits, err = legal.ic.Sparse.Search(ctx, "service person", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "act.txt", hits[0].Chunk.Metadata.SourceFile)

	stats, err := legal.db.Stats(ctx, "policies")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, "policies", stats.LastRun.Collection)

	// Reloading the first collection must not pick up the second one's rows.
	require.NoError(t, legal.ic.LoadSparse(ctx))
	assert.Equal(t, 1, legal.ic.Sparse.Len())
	assert.Len(t, legal.store.IDs(), 1)
}

func TestIngestDirectory_RejectsOtherCollection(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", pageOne)

	_, err := f.ic.IngestDirectory(context.Background(), IngestRequest{SourceDir: f.root, Collection: "policies"})
	require.ErrorIs(t, err, ErrCollectionMismatch)
	assert.Empty(t, f.store.IDs())
	assert.Zero(t, f.emb.calls)
}

func TestRemoveDocument(t *testing.T) {
	f := newFixture(t)
	keep := f.write(t, "keep.txt", pageOne)
	drop := f.write(t, "drop.txt", pageTwo)
	_, err := f.ingest(t)
	require.NoError(t, err)

	docID, err := f.ic.RemoveDocument(context.Background(), drop)
	require.NoError(t, err)

	keepID, _ := identity.DocumentID(keep)
	assert.Equal(t, []string{keepID + "-p1-c0"}, f.store.IDs())
	assert.Equal(t, 1, f.ic.Sparse.Len())

	_, err = f.ic.RemoveDocument(context.Background(), docID)
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestEnumerate(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"b/z.pdf", "a.txt", "b/a.html", ".hidden/x.txt", "notes.docx", "c.md"} {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	files, err := Enumerate(root)
	require.NoError(t, err)

	var rels []string
	for _, f := range files {
		rel, _ := filepath.Rel(root, f)
		rels = append(rels, filepath.ToSlash(rel))
	}
	assert.Equal(t, []string{"a.txt", "b/a.html", "b/z.pdf", "c.md"}, rels)
}
