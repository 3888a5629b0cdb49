package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// ErrRendererNotFound is returned when the rasterizer binary is not on PATH.
var ErrRendererNotFound = errors.New("pdftoppm not found in PATH (install poppler-utils)")

// CommandRunner executes an external command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Renderer rasterizes single PDF pages to PNG through pdftoppm.
type Renderer struct {
	binary string
	dpi    int
	runner CommandRunner
}

func NewRenderer(binary string, dpi int) *Renderer {
	return NewRendererWithRunner(binary, dpi, execRunner{})
}

func NewRendererWithRunner(binary string, dpi int, runner CommandRunner) *Renderer {
	if binary == "" {
		binary = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 200
	}
	return &Renderer{binary: binary, dpi: dpi, runner: runner}
}

// CheckAvailable reports whether the renderer binary can be found.
func (r *Renderer) CheckAvailable() error {
	if _, err := exec.LookPath(r.binary); err != nil {
		return ErrRendererNotFound
	}
	return nil
}

func (r *Renderer) DPI() int { return r.dpi }

func (r *Renderer) Render(ctx context.Context, path string, page int) ([]byte, error) {
	dir, err := os.MkdirTemp("", "rag-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	n := strconv.Itoa(page)
	out, err := r.runner.Run(ctx, r.binary,
		"-png", "-r", strconv.Itoa(r.dpi),
		"-f", n, "-l", n, "-singlefile",
		path, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("%s failed on page %d: %w: %s", r.binary, page, err, string(out))
	}

	img, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered page %d: %w", page, err)
	}
	return img, nil
}
