package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/ingestion"
	"github.com/dilshanka/Rag-Pipeline/internal/storage/sqlite"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
)

type DocumentHandler struct {
	ingestion *ingestion.Context
	defaults  ingestion.IngestRequest
	timeout   time.Duration
	// only one bulk write may run at a time
	mu sync.Mutex
}

func NewDocumentHandler(ic *ingestion.Context, defaults ingestion.IngestRequest) *DocumentHandler {
	return &DocumentHandler{
		ingestion: ic,
		defaults:  defaults,
		timeout:   2 * time.Hour,
	}
}

// Ingest runs a full ingestion of the configured source directory, or of
// source_dir from the body.
func (h *DocumentHandler) Ingest(c *fiber.Ctx) error {
	var body struct {
		SourceDir string `json:"source_dir"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	req := h.defaults
	if body.SourceDir != "" {
		req.SourceDir = body.SourceDir
	}

	if !h.mu.TryLock() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "An ingestion run is already in progress",
		})
	}
	defer h.mu.Unlock()

	// Ingestion is not tied to the HTTP request; a dropped client must not
	// leave a half-written corpus.
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	report, err := h.ingestion.IngestDirectory(ctx, req)
	if err != nil {
		logger.Error("Ingestion failed", zap.String("source_dir", req.SourceDir), zap.Error(err))
		status := fiber.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrNoDocuments):
			status = fiber.StatusUnprocessableEntity
		case errors.Is(err, ingestion.ErrCollectionMismatch):
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{
			"error":  err.Error(),
			"report": report,
		})
	}

	return c.JSON(report)
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	docs, err := h.ingestion.Catalogue.ListDocuments(c.UserContext(), h.ingestion.Collection)
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	out := make([]fiber.Map, 0, len(docs))
	for _, d := range docs {
		out = append(out, fiber.Map{
			"id":          d.ID,
			"file_name":   d.FileName,
			"doc_type":    d.DocType,
			"category":    d.Category,
			"upload_date": d.UploadDate.Format(time.DateOnly),
			"pages":       d.Pages,
			"ocr_pages":   d.OCRPages,
			"chunks":      d.ChunkCount,
		})
	}
	return c.JSON(fiber.Map{"documents": out})
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	id := c.Params("id")

	if !h.mu.TryLock() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "An ingestion run is in progress",
		})
	}
	defer h.mu.Unlock()

	docID, err := h.ingestion.RemoveDocument(c.UserContext(), id)
	if errors.Is(err, sqlite.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	}
	if err != nil {
		logger.Error("Failed to remove document", zap.String("id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to remove document",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Document removed",
		"id":      docID,
	})
}

func (h *DocumentHandler) Stats(c *fiber.Ctx) error {
	ctx := c.UserContext()

	stats, err := h.ingestion.Catalogue.Stats(ctx, h.ingestion.Collection)
	if err != nil {
		logger.Error("Failed to get stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get stats",
		})
	}

	resp := fiber.Map{
		"collection":   h.ingestion.Collection,
		"documents":    stats.Documents,
		"chunks":       stats.Chunks,
		"ocr_pages":    stats.OCRPages,
		"sparse_index": h.ingestion.Sparse.Len(),
	}
	if n, err := h.ingestion.Store.Count(ctx); err != nil {
		logger.Warn("Failed to count vectors", zap.Error(err))
		resp["vectors"] = nil
	} else {
		resp["vectors"] = n
	}
	if run := stats.LastRun; run != nil {
		resp["last_run"] = fiber.Map{
			"id":         run.ID,
			"status":     run.Status,
			"processed":  run.Processed,
			"skipped":    run.Skipped,
			"failed":     run.Failed,
			"chunks":     run.Chunks,
			"started_at": run.StartedAt,
		}
	}

	return c.JSON(resp)
}
