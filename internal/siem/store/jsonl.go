package store

import (
	"bufio"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	sentinelerrors "cybervision-siem/internal/errors"
	"cybervision-siem/internal/models"
)

// JSONLStore keeps one JSON record per line in a file.
type JSONLStore struct {
	path  string
	mu    sync.Mutex
	count int
}

// NewJSONL opens the store at path, creating its directory. Existing
// records are counted once; unreadable lines are skipped.
func NewJSONL(path string) (*JSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, sentinelerrors.NewStorageWriteError(path, err.Error())
	}

	s := &JSONLStore{path: path}
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	s.count = len(records)
	return s, nil
}

// Path returns the backing file path.
func (s *JSONLStore) Path() string {
	return s.path
}

// Append writes record as one line.
func (s *JSONLStore) Append(_ context.Context, record *models.AlertRecord) error {
	data, err := record.ToJSON()
	if err != nil {
		return sentinelerrors.NewStorageWriteError(s.path, err.Error())
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return sentinelerrors.NewStorageWriteError(s.path, err.Error())
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return sentinelerrors.NewStorageWriteError(s.path, err.Error())
	}
	if err := f.Close(); err != nil {
		return sentinelerrors.NewStorageWriteError(s.path, err.Error())
	}

	s.count++
	return nil
}

// Recent returns the last limit records.
func (s *JSONLStore) Recent(_ context.Context, limit int) ([]*models.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// Count returns the number of stored records.
func (s *JSONLStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, nil
}

// Close is a no-op; the file is opened per operation.
func (s *JSONLStore) Close() error {
	return nil
}

func (s *JSONLStore) load() ([]*models.AlertRecord, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*models.AlertRecord{}, nil
		}
		return nil, sentinelerrors.NewStorageReadError(s.path, err.Error())
	}
	defer f.Close()

	records := make([]*models.AlertRecord, 0)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		record, err := models.RecordFromJSON(line)
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, sentinelerrors.NewStorageReadError(s.path, err.Error())
	}
	return records, nil
}
