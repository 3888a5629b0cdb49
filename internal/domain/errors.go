package domain

import (
	"errors"

	"github.com/dilshanka/Rag-Pipeline/pkg/config"
)

// Ingestion failures. Extraction, OCR and empty-document errors fail a single
// document; an embedding failure aborts the whole bulk write.
var (
	ErrExtractionFailure = errors.New("extraction failure")
	ErrOCRFailure        = errors.New("ocr failure")
	ErrEmptyDocument     = errors.New("empty document")
	ErrEmbeddingService  = errors.New("embedding service error")
	ErrNoDocuments       = errors.New("no documents ingested")
)

// Retrieval failures. Expansion and compression errors fall back to the
// previous stage's candidates; a store error is fatal only when both indexes
// are down.
var (
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrExpansionFailure   = errors.New("query expansion failure")
	ErrCompressionFailure = errors.New("context compression failure")
)

// ErrMisconfiguredCredentials is shared with the config package.
var ErrMisconfiguredCredentials = config.ErrMisconfiguredCredentials
