// Package extract turns source documents into per-page normalized text,
// falling back to OCR for pages whose text layer is missing or too thin.
package extract

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/internal/metrics"
	"github.com/dilshanka/Rag-Pipeline/internal/normalize"
	"github.com/dilshanka/Rag-Pipeline/pkg/logger"
	"github.com/dilshanka/Rag-Pipeline/pkg/retry"
)

// DefaultMinNativeChars is the native text length below which OCR is tried.
const DefaultMinNativeChars = 50

// OCRClient reads the text of a rendered page image.
type OCRClient interface {
	ExtractPageText(ctx context.Context, png []byte) (string, error)
}

type Config struct {
	MinNativeChars int
	// OCR is skipped entirely when false or when no client is set.
	OCREnabled bool
	Retry      retry.Policy
}

type Extractor struct {
	opener Opener
	ocr    OCRClient
	cfg    Config
}

func NewExtractor(opener Opener, ocr OCRClient, cfg Config) *Extractor {
	if cfg.MinNativeChars <= 0 {
		cfg.MinNativeChars = DefaultMinNativeChars
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger.GetLogger()
	}
	return &Extractor{opener: opener, ocr: ocr, cfg: cfg}
}

// PageStats counts how each page of a document was resolved.
type PageStats struct {
	Total   int
	Native  int
	OCR     int
	Dropped int
}

// ExtractDocument returns the non-empty pages of doc in page order. Only a
// failure to open the document is returned as an error; page-level problems
// are logged and the page degrades.
func (e *Extractor) ExtractDocument(ctx context.Context, doc domain.Document) ([]domain.Page, PageStats, error) {
	src, err := e.opener.Open(ctx, doc.SourcePath)
	if err != nil {
		return nil, PageStats{}, fmt.Errorf("%w: %v", domain.ErrExtractionFailure, err)
	}
	defer src.Close()

	stats := PageStats{Total: src.NumPages()}
	pages := make([]domain.Page, 0, stats.Total)
	for n := 1; n <= stats.Total; n++ {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		page := e.ExtractPage(ctx, src, doc, n)
		switch page.Method {
		case domain.MethodNative:
			stats.Native++
		case domain.MethodOCR:
			stats.OCR++
		default:
			stats.Dropped++
			continue
		}
		pages = append(pages, page)
	}
	return pages, stats, nil
}

// ExtractPage applies the extraction policy to one 1-based page:
// native text first; OCR when the normalized native text is shorter than
// MinNativeChars; the OCR text replaces native text only when strictly
// longer. A page with no text either way has Method failed.
func (e *Extractor) ExtractPage(ctx context.Context, src PageSource, doc domain.Document, n int) domain.Page {
	page := domain.Page{DocumentID: doc.ID, PageNumber: n, Method: domain.MethodNative}

	native, err := src.NativeText(ctx, n)
	if err != nil {
		logger.Warn("Native text extraction failed",
			zap.String("document", doc.SourcePath),
			zap.Int("page", n),
			zap.Error(fmt.Errorf("%w: %v", domain.ErrExtractionFailure, err)),
		)
		native = ""
	}
	page.Text = normalize.Text(native)

	if e.NeedsOCR(page.Text) {
		if text, ok := e.tryOCR(ctx, src, doc, n); ok && utf8.RuneCountInString(text) > utf8.RuneCountInString(page.Text) {
			page.Text = text
			page.Method = domain.MethodOCR
		}
	}

	if page.Text == "" {
		page.Method = domain.MethodFailed
	}
	return page
}

// NeedsOCR reports whether normalized native text falls below the threshold
// and OCR is available.
func (e *Extractor) NeedsOCR(native string) bool {
	if !e.cfg.OCREnabled || e.ocr == nil {
		return false
	}
	return utf8.RuneCountInString(native) < e.cfg.MinNativeChars
}

func (e *Extractor) tryOCR(ctx context.Context, src PageSource, doc domain.Document, n int) (string, bool) {
	img, err := src.Render(ctx, n)
	if err != nil {
		if !errors.Is(err, ErrRasterUnsupported) {
			logger.Warn("Page rendering failed, keeping native text",
				zap.String("document", doc.SourcePath),
				zap.Int("page", n),
				zap.Error(err),
			)
		}
		return "", false
	}

	attempts := 0
	text, err := retry.DoWithResult(ctx, e.cfg.Retry, func() (string, error) {
		attempts++
		metrics.OCRAttempts.Inc()
		return e.ocr.ExtractPageText(ctx, img)
	})
	if err != nil {
		metrics.OCRFailures.Inc()
		logger.Error("Page unrecoverable by OCR, keeping native text",
			zap.String("document", doc.SourcePath),
			zap.Int("page", n),
			zap.Int("attempts", attempts),
			zap.Error(fmt.Errorf("%w: %v", domain.ErrOCRFailure, err)),
		)
		return "", false
	}
	return normalize.Text(text), true
}
