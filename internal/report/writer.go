package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/miradorstack/mirador-netops/internal/models"
)

// FileWriter writes each run record as <dir>/<device>/<run id>.json.
type FileWriter struct {
	dir string
}

// NewFileWriter constructs a writer rooted at dir.
func NewFileWriter(dir string) *FileWriter {
	return &FileWriter{dir: dir}
}

// WriteRun persists run. The file is written atomically through a rename.
func (w *FileWriter) WriteRun(ctx context.Context, run models.PipelineRun) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir := filepath.Join(w.dir, filepath.Base(run.DeviceID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run: %w", err)
	}
	path := filepath.Join(dir, run.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("publish report: %w", err)
	}
	return path, nil
}
