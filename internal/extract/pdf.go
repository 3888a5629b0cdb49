package extract

import (
	"context"
	"fmt"
	"os"

	"github.com/ledongthuc/pdf"
)

type pdfSource struct {
	path     string
	file     *os.File
	reader   *pdf.Reader
	renderer *Renderer
}

// OpenPDF opens path for native text access. renderer may be nil, in which
// case Render returns ErrRasterUnsupported.
func OpenPDF(path string, renderer *Renderer) (PageSource, error) {
	f, r, err := openPDF(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf %s: %w", path, err)
	}
	return &pdfSource{path: path, file: f, reader: r, renderer: renderer}, nil
}

func openPDF(path string) (f *os.File, r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()
	return pdf.Open(path)
}

func (s *pdfSource) NumPages() int {
	return s.reader.NumPage()
}

func (s *pdfSource) NativeText(ctx context.Context, page int) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if page < 1 || page > s.reader.NumPage() {
		return "", fmt.Errorf("page %d out of range", page)
	}

	// the parser panics on some malformed content streams
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("failed to parse page %d: %v", page, rec)
		}
	}()

	p := s.reader.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

func (s *pdfSource) Render(ctx context.Context, page int) ([]byte, error) {
	if s.renderer == nil {
		return nil, ErrRasterUnsupported
	}
	return s.renderer.Render(ctx, s.path, page)
}

func (s *pdfSource) Close() error {
	return s.file.Close()
}
