package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// textSource serves pre-split pages of a text document.
type textSource struct {
	pages []string
}

// OpenText reads a plain text or markdown file. Form feeds separate pages.
func OpenText(path string) (PageSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), ""))
	}
	return &textSource{pages: strings.Split(string(data), "\f")}, nil
}

// OpenHTML reads an HTML file as a single page of body text.
func OpenHTML(path string) (PageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html %s: %w", path, err)
	}
	return &textSource{pages: []string{HTMLText(doc)}}, nil
}

// HTMLText returns readable body text with page chrome removed. Block
// elements are separated by blank lines so paragraph boundaries survive.
func HTMLText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, footer, header, aside").Remove()

	var b strings.Builder
	doc.Find("body").Find("h1, h2, h3, h4, h5, h6, p, li, td, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p, li").Length() > 0 {
			return
		}
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	})

	if b.Len() == 0 {
		return strings.TrimSpace(doc.Find("body").Text())
	}
	return b.String()
}

func (s *textSource) NumPages() int { return len(s.pages) }

func (s *textSource) NativeText(_ context.Context, page int) (string, error) {
	if page < 1 || page > len(s.pages) {
		return "", fmt.Errorf("page %d out of range", page)
	}
	return s.pages[page-1], nil
}

func (s *textSource) Render(context.Context, int) ([]byte, error) {
	return nil, ErrRasterUnsupported
}

func (s *textSource) Close() error { return nil }
