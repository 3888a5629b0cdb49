package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInit_WritesJSONToFile(t *testing.T) {
	t.Cleanup(func() { current.Store(zap.NewNop()) })

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Init("info", "json", path))

	Debug("hidden")
	Info("ingested", zap.String("document_id", "abc"))
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"ingested"`)
	assert.Contains(t, string(data), `"document_id":"abc"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestInit_RejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init("chatty", "json", "stdout"))
}

func TestNamed_BeforeInitIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		Named("retrieval").Info("dropped")
		Warn("dropped")
	})
}
