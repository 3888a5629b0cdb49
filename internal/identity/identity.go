// Package identity derives stable document and chunk identifiers and the
// metadata record attached to every chunk.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
	"github.com/dilshanka/Rag-Pipeline/pkg/utils"
)

const documentIDLen = 32

// DocumentID hashes the cleaned absolute path of a source file.
func DocumentID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	return utils.ShortHash(filepath.Clean(abs), documentIDLen), nil
}

func ChunkID(documentID string, page, seq int) string {
	return fmt.Sprintf("%s-p%d-c%d", documentID, page, seq)
}

// Describe builds the Document record for path.
func Describe(path string) (domain.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	abs = filepath.Clean(abs)

	info, err := os.Stat(abs)
	if err != nil {
		return domain.Document{}, fmt.Errorf("failed to stat %s: %w", abs, err)
	}

	return domain.Document{
		ID:         utils.ShortHash(abs, documentIDLen),
		SourcePath: abs,
		FileName:   filepath.Base(abs),
		UploadDate: info.ModTime().UTC(),
	}, nil
}

// Assigner turns the ordered chunk texts of one page into chunks.
type Assigner struct {
	root string
}

func NewAssigner(root string) *Assigner {
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = filepath.Clean(abs)
		}
	}
	return &Assigner{root: root}
}

// Assign numbers chunks of a page from zero. The same document, page and
// texts always yield the same ids and metadata.
func (a *Assigner) Assign(doc domain.Document, page int, texts []string) []domain.Chunk {
	base := domain.ChunkMetadata{
		SourceFile:   doc.FileName,
		SourcePath:   doc.SourcePath,
		PageNumber:   page,
		DocumentID:   doc.ID,
		DocumentType: DocumentType(doc.FileName),
		Category:     a.Category(doc.SourcePath),
		UploadDate:   doc.UploadDate.UTC().Format(time.DateOnly),
	}

	chunks := make([]domain.Chunk, 0, len(texts))
	for i, text := range texts {
		md := base
		md.ChunkIndex = i
		chunks = append(chunks, domain.Chunk{
			ID:       ChunkID(doc.ID, page, i),
			Text:     text,
			Metadata: md,
		})
	}
	return chunks
}

// Category is the first directory under the ingestion root, lower-cased, or
// "general" for files directly in the root.
func (a *Assigner) Category(path string) string {
	if a.root == "" {
		return "general"
	}
	rel, err := filepath.Rel(a.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "general"
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return "general"
	}
	return strings.ToLower(strings.TrimSpace(parts[0]))
}

var docTypes = []struct {
	keyword string
	docType string
}{
	{"regulation", "regulation"},
	{"rules", "regulation"},
	{"order", "order"},
	{"act", "act"},
	{"policy", "policy"},
	{"guidance", "guidance"},
	{"guide", "guidance"},
	{"manual", "guidance"},
	{"judgment", "judgment"},
	{"judgement", "judgment"},
	{"contract", "contract"},
	{"agreement", "contract"},
	{"notes", "notes"},
}

// DocumentType classifies a file by keywords in its name.
func DocumentType(fileName string) string {
	name := strings.ToLower(strings.TrimSuffix(fileName, filepath.Ext(fileName)))
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})

	for _, dt := range docTypes {
		for _, w := range words {
			if w == dt.keyword || w == dt.keyword+"s" {
				return dt.docType
			}
		}
	}
	return "document"
}
