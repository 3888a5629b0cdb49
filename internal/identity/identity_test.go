package identity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))
	mtime := time.Date(2024, 3, 14, 9, 30, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestDocumentID_Stable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.pdf")

	id1, err := DocumentID(path)
	require.NoError(t, err)
	id2, err := DocumentID(filepath.Join(dir, ".", "sub", "..", "a.pdf"))
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 32)

	other, err := DocumentID(filepath.Join(dir, "b.pdf"))
	require.NoError(t, err)
	assert.NotEqual(t, id1, other)
}

func TestChunkID(t *testing.T) {
	assert.Equal(t, "abc-p2-c0", ChunkID("abc", 2, 0))
	assert.Equal(t, "abc-p10-c13", ChunkID("abc", 10, 13))
}

func TestAssign_Reproducible(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "Army", "Armed Forces Act 2006.pdf")
	writeFile(t, path)

	doc, err := Describe(path)
	require.NoError(t, err)

	a := NewAssigner(root)
	first := a.Assign(doc, 3, []string{"one chunk of text", "two chunk of text"})

	doc2, err := Describe(path)
	require.NoError(t, err)
	second := NewAssigner(root).Assign(doc2, 3, []string{"one chunk of text", "two chunk of text"})

	assert.Equal(t, first, second)
	require.Len(t, first, 2)

	md := first[1].Metadata
	assert.Equal(t, doc.ID+"-p3-c1", first[1].ID)
	assert.Equal(t, "Armed Forces Act 2006.pdf", md.SourceFile)
	assert.Equal(t, doc.SourcePath, md.SourcePath)
	assert.Equal(t, 3, md.PageNumber)
	assert.Equal(t, 1, md.ChunkIndex)
	assert.Equal(t, doc.ID, md.DocumentID)
	assert.Equal(t, "act", md.DocumentType)
	assert.Equal(t, "army", md.Category)
	assert.Equal(t, "2024-03-14", md.UploadDate)
}

func TestCategory(t *testing.T) {
	root := t.TempDir()
	a := NewAssigner(root)

	assert.Equal(t, "general", a.Category(filepath.Join(root, "x.pdf")))
	assert.Equal(t, "navy", a.Category(filepath.Join(root, "Navy", "deep", "x.pdf")))
	assert.Equal(t, "general", a.Category("/elsewhere/x.pdf"))
	assert.Equal(t, "general", NewAssigner("").Category(filepath.Join(root, "Navy", "x.pdf")))
}

func TestDocumentType(t *testing.T) {
	tests := map[string]string{
		"Armed Forces Act 2006.pdf":      "act",
		"Service Discipline Rules.pdf":   "regulation",
		"uniform-policy.md":              "policy",
		"Procurement Guidance Notes.txt": "guidance",
		"Smith v MoD judgement.pdf":      "judgment",
		"Supply Agreement.html":          "contract",
		"meeting notes.txt":              "notes",
		"Annual report.pdf":              "document",
		"Factual statement.pdf":          "document",
	}
	for name, want := range tests {
		assert.Equal(t, want, DocumentType(name), name)
	}
}
