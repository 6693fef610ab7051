package storage

import (
	"log/slog"
	"sync"
)

// WriterRegistry hands out one JSONLWriter per host and record type, so each
// target site journals into its own directory.
type WriterRegistry struct {
	baseDir    string
	fileName   string
	maxSizeMB  int
	bufferSize int

	mu      sync.Mutex
	writers map[string]*JSONLWriter
}

// NewWriterRegistry creates a registry whose writers all use fileName.
func NewWriterRegistry(baseDir, fileName string, bufferSize, maxSizeMB int) *WriterRegistry {
	return &WriterRegistry{
		baseDir:    baseDir,
		fileName:   fileName,
		maxSizeMB:  maxSizeMB,
		bufferSize: bufferSize,
		writers:    make(map[string]*JSONLWriter),
	}
}

// Writer returns the writer for host/dataType, creating it on first use.
func (r *WriterRegistry) Writer(host, dataType string) *JSONLWriter {
	subDir := SafeName(host) + "/" + SafeName(dataType)

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.writers[subDir]; ok {
		return w
	}
	w := NewJSONLWriter(r.baseDir, subDir, r.fileName, r.bufferSize, r.maxSizeMB)
	r.writers[subDir] = w
	slog.Debug("created journal writer", "host", host, "data_type", dataType)
	return w
}

// Len reports how many writers are open.
func (r *WriterRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writers)
}

// Close closes every writer and returns the last error seen.
func (r *WriterRegistry) Close() error {
	r.mu.Lock()
	writers := r.writers
	r.writers = make(map[string]*JSONLWriter)
	r.mu.Unlock()

	var lastErr error
	for subDir, w := range writers {
		if err := w.Close(); err != nil {
			slog.Error("failed to close journal writer", "subdir", subDir, "error", err)
			lastErr = err
		}
	}
	return lastErr
}
