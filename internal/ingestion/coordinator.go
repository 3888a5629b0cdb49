// Package ingestion walks a directory of documents, turns them into chunks in
// parallel and writes everything to the stores in one bulk step.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/chunker"
	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/embedding"
	"github.com/dilshanka/Rag-Pipeline/internal/extract"
	"github.com/dilshanka/Rag-Pipeline/internal/identity"
	"github.com/dilshanka/Rag-Pipeline/internal/metrics"
	"github.com/dilshanka/Rag-Pipeline/internal/sparse"
	"github.com/dilshanka/Rag-Pipeline/internal/storage/models"
	"github.com/dilshanka/Rag-Pipeline/internal/storage/sqlite"
	"github.com/dilshanka/Rag-Pipeline/internal/vector"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
	"github.com/dilshanka/Rag-Pipeline/pkg/workerpool"
)

const defaultEmbeddingBatch = 64

// AnswerCache is invalidated whenever the corpus changes.
type AnswerCache interface {
	InvalidateAnswers(ctx context.Context) error
}

// ErrCollectionMismatch is returned when a request names a collection other
// than the one the context's stores are bound to.
var ErrCollectionMismatch = errors.New("collection does not match the configured store")

// Context holds the components ingestion needs. Store and Sparse belong to
// Collection; catalogue rows are read and written under the same name. Cache
// may be nil.
type Context struct {
	Collection         string
	Extractor          *extract.Extractor
	Chunker            *chunker.Chunker
	Embedder           embedding.Provider
	Store              vector.Store
	Catalogue          *sqlite.Client
	Sparse             *sparse.Index
	Cache              AnswerCache
	Workers            int
	EmbeddingBatchSize int
}

// IngestRequest names the directory to ingest. Collection may be empty and
// otherwise must equal the context's collection; where vectors persist is
// decided when the Store is built.
type IngestRequest struct {
	SourceDir  string
	Collection string
}

type Outcome string

const (
	OutcomeIngested Outcome = "ingested"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

type DocumentReport struct {
	Path       string  `json:"path"`
	DocumentID string  `json:"document_id,omitempty"`
	Outcome    Outcome `json:"outcome"`
	Pages      int     `json:"pages"`
	OCRPages   int     `json:"ocr_pages"`
	Chunks     int     `json:"chunks"`
	Error      string  `json:"error,omitempty"`
}

type IngestReport struct {
	RunID     string           `json:"run_id"`
	Processed int              `json:"processed"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Chunks    int              `json:"chunks"`
	Documents []DocumentReport `json:"documents"`
	Duration  time.Duration    `json:"duration"`
}

type processed struct {
	doc    domain.Document
	stats  extract.PageStats
	chunks []domain.Chunk
}

// IngestDirectory ingests every eligible file under req.SourceDir. Documents
// fail independently; the run succeeds if at least one document was
// ingested. Embedding and store failures abort the whole write.
func (ic *Context) IngestDirectory(ctx context.Context, req IngestRequest) (*IngestReport, error) {
	start := time.Now()

	if req.Collection != "" && req.Collection != ic.Collection {
		return nil, fmt.Errorf("%w: requested %q, store holds %q", ErrCollectionMismatch, req.Collection, ic.Collection)
	}

	files, err := Enumerate(req.SourceDir)
	if err != nil {
		return nil, err
	}

	run := &models.IngestionRun{
		ID:         uuid.New().String(),
		SourceDir:  req.SourceDir,
		Collection: ic.Collection,
		Status:     "running",
		StartedAt:  start,
	}
	if err := ic.Catalogue.InsertIngestionRun(ctx, run); err != nil {
		return nil, err
	}

	logger.Info("Ingestion started",
		zap.String("run_id", run.ID),
		zap.String("source_dir", req.SourceDir),
		zap.String("collection", ic.Collection),
		zap.Int("files", len(files)),
		zap.Int("workers", ic.Workers),
	)

	assigner := identity.NewAssigner(req.SourceDir)
	results := workerpool.Map(ctx, ic.Workers, files, func(ctx context.Context, path string) (*processed, error) {
		return ic.processDocument(ctx, assigner, path)
	})

	report := &IngestReport{RunID: run.ID, Documents: make([]DocumentReport, len(files))}
	var ok []*processed
	for i, r := range results {
		dr := DocumentReport{Path: files[i]}
		switch {
		case errors.Is(r.Err, domain.ErrEmptyDocument):
			dr.Outcome = OutcomeSkipped
			dr.Error = r.Err.Error()
			report.Skipped++
			logger.Warn("Skipping document with no text", zap.String("path", files[i]))
		case r.Err != nil:
			dr.Outcome = OutcomeFailed
			dr.Error = r.Err.Error()
			report.Failed++
			logger.Error("Document failed", zap.String("path", files[i]), zap.Error(r.Err))
		default:
			p := r.Value
			dr.Outcome = OutcomeIngested
			dr.DocumentID = p.doc.ID
			dr.Pages = p.stats.Total
			dr.OCRPages = p.stats.OCR
			dr.Chunks = len(p.chunks)
			report.Processed++
			report.Chunks += len(p.chunks)
			ok = append(ok, p)
		}
		metrics.DocumentsProcessed.WithLabelValues(string(dr.Outcome)).Inc()
		report.Documents[i] = dr
	}

	if err := ctx.Err(); err != nil {
		ic.finishRun(run, report, err)
		return report, err
	}
	if len(ok) == 0 {
		err := fmt.Errorf("%w under %s", domain.ErrNoDocuments, req.SourceDir)
		ic.finishRun(run, report, err)
		return report, err
	}

	if err := ic.write(ctx, ok); err != nil {
		ic.finishRun(run, report, err)
		return report, err
	}

	report.Duration = time.Since(start)
	metrics.IngestionDuration.Observe(report.Duration.Seconds())
	ic.finishRun(run, report, nil)

	logger.Info("Ingestion completed",
		zap.String("run_id", run.ID),
		zap.Int("processed", report.Processed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("chunks", report.Chunks),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// Enumerate lists the ingestible files under root in lexical order.
func Enumerate(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || !extract.Supported(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func (ic *Context) processDocument(ctx context.Context, assigner *identity.Assigner, path string) (*processed, error) {
	doc, err := identity.Describe(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExtractionFailure, err)
	}

	pages, stats, err := ic.Extractor.ExtractDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	for method, n := range map[domain.ExtractionMethod]int{
		domain.MethodNative: stats.Native,
		domain.MethodOCR:    stats.OCR,
		domain.MethodFailed: stats.Dropped,
	} {
		metrics.PagesExtracted.WithLabelValues(string(method)).Add(float64(n))
	}

	var chunks []domain.Chunk
	for _, page := range pages {
		texts := ic.Chunker.Split(page.Text)
		chunks = append(chunks, assigner.Assign(doc, page.PageNumber, texts)...)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmptyDocument, doc.FileName)
	}

	logger.Debug("Document processed",
		zap.String("path", path),
		zap.Int("pages", stats.Total),
		zap.Int("ocr_pages", stats.OCR),
		zap.Int("chunks", len(chunks)),
	)
	return &processed{doc: doc, stats: stats, chunks: chunks}, nil
}

// write is the single bulk write after all workers have joined.
func (ic *Context) write(ctx context.Context, docs []*processed) error {
	var all []domain.Chunk
	for _, d := range docs {
		all = append(all, d.chunks...)
	}

	vectors, err := ic.embedAll(ctx, all)
	if err != nil {
		return err
	}
	dim := len(vectors[0])

	rows := make([]domain.EmbeddedChunk, len(all))
	for i, ch := range all {
		rows[i] = domain.EmbeddedChunk{Chunk: ch, Vector: vectors[i]}
	}

	if err := ic.Store.EnsureCollection(ctx, dim); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if err := ic.Store.Upsert(ctx, rows); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	metrics.ChunksWritten.Add(float64(len(rows)))

	stale, err := ic.staleChunkIDs(ctx, docs)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		if err := ic.Store.DeleteByIDs(ctx, stale); err != nil {
			return fmt.Errorf("%w: failed to delete stale chunks: %w", domain.ErrStoreUnavailable, err)
		}
		logger.Info("Stale chunks removed", zap.Int("count", len(stale)))
	}

	if err := ic.Store.Persist(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	for _, d := range docs {
		rec := &models.Document{
			ID:         d.doc.ID,
			SourcePath: d.doc.SourcePath,
			FileName:   d.doc.FileName,
			DocType:    identity.DocumentType(d.doc.FileName),
			Category:   d.chunks[0].Metadata.Category,
			UploadDate: d.doc.UploadDate,
			Pages:      d.stats.Total,
			OCRPages:   d.stats.OCR,
		}
		if err := ic.Catalogue.ReplaceDocument(ctx, ic.Collection, rec, d.chunks); err != nil {
			return err
		}
	}

	return ic.corpusChanged(ctx)
}

func (ic *Context) embedAll(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	batch := ic.EmbeddingBatchSize
	if batch <= 0 {
		batch = defaultEmbeddingBatch
	}

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batch {
		end := min(start+batch, len(chunks))
		texts := make([]string, 0, end-start)
		for _, ch := range chunks[start:end] {
			texts = append(texts, ch.Text)
		}

		vecs, err := ic.Embedder.Embed(ctx, texts)
		if err != nil {
			if errors.Is(err, domain.ErrEmbeddingService) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingService, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrEmbeddingService, len(vecs), len(texts))
		}
		vectors = append(vectors, vecs...)

		logger.Debug("Embedded batch", zap.Int("done", end), zap.Int("total", len(chunks)))
	}

	dim := len(vectors[0])
	if want := ic.Embedder.Dimension(); want > 0 && dim != want {
		return nil, fmt.Errorf("%w: vectors have dimension %d, expected %d", domain.ErrEmbeddingService, dim, want)
	}
	for i, v := range vectors {
		if len(v) != dim || dim == 0 {
			return nil, fmt.Errorf("%w: vector %d has dimension %d", domain.ErrEmbeddingService, i, len(v))
		}
	}
	return vectors, nil
}

// staleChunkIDs returns catalogued chunk ids of the re-ingested documents
// that the new chunking no longer produces.
func (ic *Context) staleChunkIDs(ctx context.Context, docs []*processed) ([]string, error) {
	var stale []string
	for _, d := range docs {
		old, err := ic.Catalogue.ChunkIDs(ctx, ic.Collection, d.doc.ID)
		if err != nil {
			return nil, err
		}
		if len(old) == 0 {
			continue
		}
		current := make(map[string]struct{}, len(d.chunks))
		for _, ch := range d.chunks {
			current[ch.ID] = struct{}{}
		}
		for _, id := range old {
			if _, ok := current[id]; !ok {
				stale = append(stale, id)
			}
		}
	}
	return stale, nil
}

// RemoveDocument deletes a document, given by path or id, from every store.
func (ic *Context) RemoveDocument(ctx context.Context, pathOrID string) (string, error) {
	docID := pathOrID
	if _, err := os.Stat(pathOrID); err == nil || extract.Supported(pathOrID) {
		id, err := identity.DocumentID(pathOrID)
		if err != nil {
			return "", err
		}
		docID = id
	}

	if _, err := ic.Catalogue.GetDocument(ctx, ic.Collection, docID); err != nil {
		return "", err
	}
	if err := ic.Store.DeleteByDocument(ctx, docID); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if err := ic.Store.Persist(ctx); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if err := ic.Catalogue.DeleteDocument(ctx, ic.Collection, docID); err != nil {
		return "", err
	}

	logger.Info("Document removed", zap.String("collection", ic.Collection), zap.String("doc_id", docID))
	return docID, ic.corpusChanged(ctx)
}

// LoadSparse rebuilds the sparse index from the collection's catalogued
// chunks.
func (ic *Context) LoadSparse(ctx context.Context) error {
	chunks, err := ic.Catalogue.AllChunks(ctx, ic.Collection)
	if err != nil {
		return err
	}
	if err := ic.Sparse.Rebuild(ctx, chunks); err != nil {
		return fmt.Errorf("failed to rebuild sparse index: %w", err)
	}
	logger.Info("Sparse index loaded", zap.String("collection", ic.Collection), zap.Int("chunks", len(chunks)))
	return nil
}

func (ic *Context) corpusChanged(ctx context.Context) error {
	if err := ic.LoadSparse(ctx); err != nil {
		return err
	}
	if ic.Cache != nil {
		if err := ic.Cache.InvalidateAnswers(ctx); err != nil {
			logger.Warn("Failed to invalidate answer cache", zap.Error(err))
		}
	}
	return nil
}

func (ic *Context) finishRun(run *models.IngestionRun, report *IngestReport, runErr error) {
	now := time.Now()
	run.Processed = report.Processed
	run.Skipped = report.Skipped
	run.Failed = report.Failed
	run.Chunks = report.Chunks
	run.FinishedAt = &now
	run.Status = "completed"
	if runErr != nil {
		run.Status = "failed"
		run.Error = runErr.Error()
	}

	// The caller's context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ic.Catalogue.FinishIngestionRun(ctx, run); err != nil {
		logger.Warn("Failed to record ingestion run", zap.String("run_id", run.ID), zap.Error(err))
	}
}
