package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dilshanka/Rag-Pipeline/internal/domain"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := `
vector:
  backend: memory
  vectorDim: 8
sqlite:
  path: ` + filepath.Join(dir, "catalogue.db") + `
llm:
  apiKey: ""
  allowDisabled: true
ocr:
  enabled: false
retrieval:
  expansion: false
  compression: false
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"ingest", "remove", "ask", "stats"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("collection"))
	assert.NotNil(t, root.PersistentFlags().Lookup("persist"))
}

func TestStatsCmd_EmptyCorpus(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"stats", "--config", path, "--persist", filepath.Join(dir, "vectors"), "--collection", "cli_test"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "collection: cli_test")
	assert.Contains(t, out.String(), "documents:  0")
}

func TestRemoveCmd_RequiresArgument(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"remove"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute())
}

func TestPrintSources(t *testing.T) {
	long := strings.Repeat("reserve forces ", 20)
	var out bytes.Buffer
	printSources(&out, []domain.Source{
		{ID: "abc-p2-c0", SourceFile: "armed forces act.pdf", PageNumber: 2, Score: 0.0325, Excerpt: "In this Act\n\"service person\" means"},
		{ID: "def-p1-c3", SourceFile: "leave policy.md", PageNumber: 1, Score: 0.01, Excerpt: long},
	})

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "  [1] abc-p2-c0 (armed forces act.pdf, page 2, score 0.0325)", lines[0])
	assert.Equal(t, "      In this Act \"service person\" means", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "  [2] def-p1-c3 "))
	assert.Equal(t, "      "+strings.TrimSpace(long)[:150]+"...", lines[3])
}
