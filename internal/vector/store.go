// Package vector defines the dense index port shared by ingestion and
// retrieval.
package vector

import (
	"context"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
)

// Hit is a nearest-neighbour result. Higher Score is closer.
type Hit struct {
	Chunk domain.Chunk
	Score float64
}

// Store is a collection of chunk vectors keyed by chunk id.
type Store interface {
	// EnsureCollection creates the collection with the given dimension if
	// it does not exist yet.
	EnsureCollection(ctx context.Context, dim int) error
	// Upsert inserts or replaces chunks by id.
	Upsert(ctx context.Context, chunks []domain.EmbeddedChunk) error
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteByDocument(ctx context.Context, documentID string) error
	// Persist makes every prior write durable.
	Persist(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	Close() error
}
