package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrRasterUnsupported is returned by sources that have no page images.
	ErrRasterUnsupported = errors.New("page rendering not supported for this source")
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// PageSource gives page-level access to one opened document.
type PageSource interface {
	NumPages() int
	// NativeText returns the embedded text layer of a 1-based page.
	NativeText(ctx context.Context, page int) (string, error)
	// Render returns a PNG image of a 1-based page.
	Render(ctx context.Context, page int) ([]byte, error)
	Close() error
}

// Opener opens a document for page extraction.
type Opener interface {
	Open(ctx context.Context, path string) (PageSource, error)
}

var supportedExtensions = map[string]string{
	".pdf":  "pdf",
	".txt":  "text",
	".md":   "markdown",
	".html": "html",
	".htm":  "html",
}

// Supported reports whether path has an extension the pipeline can ingest.
func Supported(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Format returns the normalized format name of path, or "".
func Format(path string) string {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// FileOpener dispatches on file extension.
type FileOpener struct {
	Renderer *Renderer
}

func NewFileOpener(renderer *Renderer) *FileOpener {
	return &FileOpener{Renderer: renderer}
}

func (o *FileOpener) Open(ctx context.Context, path string) (PageSource, error) {
	switch Format(path) {
	case "pdf":
		return OpenPDF(path, o.Renderer)
	case "text", "markdown":
		return OpenText(path)
	case "html":
		return OpenHTML(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}
