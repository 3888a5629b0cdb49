package domain

import "time"

// ExtractionMethod records where a page's final text came from.
type ExtractionMethod string

const (
	MethodNative ExtractionMethod = "native"
	MethodOCR    ExtractionMethod = "ocr"
	MethodFailed ExtractionMethod = "failed"
)

// Document is a source file identified by its resolved absolute path.
type Document struct {
	ID         string
	SourcePath string
	FileName   string
	UploadDate time.Time
}

// Page is the text of one page after extraction and normalization.
// PageNumber is 1-based.
type Page struct {
	DocumentID string
	PageNumber int
	Text       string
	Method     ExtractionMethod
}
