// Package forwarder records qualifying alerts locally and delivers them to
// the ingestion service.
package forwarder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	sentinelerrors "cybervision-siem/internal/errors"
	"cybervision-siem/internal/models"
)

// Buffer appends forward payloads to a local JSONL file. Each append opens,
// writes one line, syncs and closes the file.
type Buffer struct {
	path string
	mu   sync.Mutex
}

// NewBuffer creates a buffer at path, creating the parent directory.
func NewBuffer(path string) (*Buffer, error) {
	if path == "" {
		return nil, sentinelerrors.NewConfigValidationError("output_filtered_path", path, "path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, sentinelerrors.NewStorageWriteError(path, fmt.Sprintf("create directory: %v", err))
		}
	}
	return &Buffer{path: path}, nil
}

// Path returns the buffer file path.
func (b *Buffer) Path() string {
	return b.path
}

// Append writes payload as one JSON line.
func (b *Buffer) Append(payload *models.ForwardPayload) error {
	data, err := payload.ToJSON()
	if err != nil {
		return sentinelerrors.NewForwardEncodingError(err)
	}
	data = append(data, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return sentinelerrors.NewStorageWriteError(b.path, err.Error())
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return sentinelerrors.NewStorageWriteError(b.path, err.Error())
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return sentinelerrors.NewStorageWriteError(b.path, err.Error())
	}
	if err := f.Close(); err != nil {
		return sentinelerrors.NewStorageWriteError(b.path, err.Error())
	}
	return nil
}
