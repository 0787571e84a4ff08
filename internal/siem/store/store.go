// Package store persists ingested alert records.
package store

import (
	"context"
	"fmt"

	"cybervision-siem/internal/models"
)

// Backend names.
const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

// Store is the persistence used by the ingestion service. Records are
// append-only and returned in arrival order.
type Store interface {
	Append(ctx context.Context, record *models.AlertRecord) error
	// Recent returns up to limit of the newest records, oldest first.
	Recent(ctx context.Context, limit int) ([]*models.AlertRecord, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Open creates the store for backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendJSONL:
		s, err := NewJSONL(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		s, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
