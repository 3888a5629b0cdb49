package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
)

func row(id, doc string, vec ...float32) domain.EmbeddedChunk {
	return domain.EmbeddedChunk{
		Chunk:  domain.Chunk{ID: id, Text: "text of " + id, Metadata: domain.ChunkMetadata{DocumentID: doc}},
		Vector: vec,
	}
}

func TestStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New("")
	require.NoError(t, s.EnsureCollection(ctx, 2))

	require.NoError(t, s.Upsert(ctx, []domain.EmbeddedChunk{row("a", "d1", 1, 0), row("b", "d1", 0, 1)}))
	require.NoError(t, s.Upsert(ctx, []domain.EmbeddedChunk{row("a", "d1", 1, 0), row("b", "d1", 0, 1)}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_RejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	s := New("")
	require.NoError(t, s.EnsureCollection(ctx, 3))
	assert.Error(t, s.Upsert(ctx, []domain.EmbeddedChunk{row("a", "d1", 1, 0)}))
}

func TestStore_SearchOrdersByCosine(t *testing.T) {
	ctx := context.Background()
	s := New("")
	require.NoError(t, s.Upsert(ctx, []domain.EmbeddedChunk{
		row("far", "d", 0, 1),
		row("near", "d", 1, 0.1),
		row("mid", "d", 1, 1),
	}))

	hits, err := s.Search(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].Chunk.ID)
	assert.Equal(t, "mid", hits[1].Chunk.ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestStore_Deletes(t *testing.T) {
	ctx := context.Background()
	s := New("")
	require.NoError(t, s.Upsert(ctx, []domain.EmbeddedChunk{
		row("a", "d1", 1), row("b", "d1", 1), row("c", "d2", 1),
	}))

	require.NoError(t, s.DeleteByIDs(ctx, []string{"a"}))
	assert.Equal(t, []string{"b", "c"}, s.IDs())

	require.NoError(t, s.DeleteByDocument(ctx, "d1"))
	assert.Equal(t, []string{"c"}, s.IDs())
}

func TestStore_PersistAndOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "vectors.json")

	s := New(path)
	require.NoError(t, s.Upsert(ctx, []domain.EmbeddedChunk{row("a", "d1", 1, 2)}))
	require.NoError(t, s.Persist(ctx))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, reopened.IDs())

	hits, err := reopened.Search(ctx, []float32{1, 2}, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "d1", hits[0].Chunk.Metadata.DocumentID)
}

func TestOpen_MissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.Empty(t, s.IDs())
}
