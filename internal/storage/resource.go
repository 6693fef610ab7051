package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ResourceWriter stores raw artifacts such as final page markup.
type ResourceWriter struct {
	baseDir string
	now     func() time.Time
}

func NewResourceWriter(baseDir string) *ResourceWriter {
	return &ResourceWriter{baseDir: baseDir, now: time.Now}
}

// WriteRaw saves data to baseDir/<date>/<host>/<kind>/<filename> and returns
// the written path.
func (w *ResourceWriter) WriteRaw(host, kind, filename string, data []byte) (string, error) {
	date := w.now().UTC().Format("2006-01-02")
	dir := filepath.Join(w.baseDir, date, SafeName(host), SafeName(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, SafeName(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	slog.Debug("resource written", "path", path, "size", len(data))
	return path, nil
}
