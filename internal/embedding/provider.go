// Package embedding defines the swappable embedding provider used by both
// ingestion and retrieval.
package embedding

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/metrics"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
	"github.com/dilshanka/Rag-Pipeline/pkg/utils"
)

// Provider turns texts into fixed-dimension vectors, one per text, in order.
// Implementations must be safe for concurrent use.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Lazy defers building a provider until first use and builds it at most once
// even under concurrent first calls.
type Lazy struct {
	factory func() (Provider, error)

	once     sync.Once
	provider Provider
	err      error
}

func NewLazy(factory func() (Provider, error)) *Lazy {
	return &Lazy{factory: factory}
}

func (l *Lazy) get() (Provider, error) {
	l.once.Do(func() {
		l.provider, l.err = l.factory()
		if l.err != nil {
			l.err = fmt.Errorf("%w: failed to initialize provider: %v", domain.ErrEmbeddingService, l.err)
		}
	})
	return l.provider, l.err
}

func (l *Lazy) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p, err := l.get()
	if err != nil {
		return nil, err
	}
	return p.Embed(ctx, texts)
}

func (l *Lazy) Dimension() int {
	p, err := l.get()
	if err != nil {
		return 0
	}
	return p.Dimension()
}

// Store is a vector cache keyed by text hash.
type Store interface {
	GetEmbeddings(ctx context.Context, hashes []string) ([][]float32, error)
	SetEmbeddings(ctx context.Context, hashes []string, vectors [][]float32) error
}

// Cached serves repeated texts from a Store and only sends misses to the
// wrapped provider. Cache errors are logged and treated as misses.
type Cached struct {
	next  Provider
	store Store
	model string
}

func NewCached(next Provider, store Store, model string) *Cached {
	return &Cached{next: next, store: store, model: model}
}

func (c *Cached) Dimension() int { return c.next.Dimension() }

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = utils.HashString(c.model + "\x00" + t)
	}

	out, err := c.store.GetEmbeddings(ctx, hashes)
	if err != nil || len(out) != len(texts) {
		if err != nil {
			logger.Warn("Embedding cache lookup failed", zap.Error(err))
		}
		out = make([][]float32, len(texts))
	}

	var missIdx []int
	var missTexts []string
	for i, v := range out {
		if v == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	metrics.CacheHits.WithLabelValues("embedding").Add(float64(len(texts) - len(missIdx)))
	metrics.CacheMisses.WithLabelValues("embedding").Add(float64(len(missIdx)))
	if len(missIdx) == 0 {
		return out, nil
	}

	fresh, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", domain.ErrEmbeddingService, len(missTexts), len(fresh))
	}

	missHashes := make([]string, len(missIdx))
	for j, i := range missIdx {
		out[i] = fresh[j]
		missHashes[j] = hashes[i]
	}
	if err := c.store.SetEmbeddings(ctx, missHashes, fresh); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}
	return out, nil
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding for query", domain.ErrEmbeddingService)
	}
	return vecs[0], nil
}
