package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	sentinelerrors "cybervision-siem/internal/errors"
	"cybervision-siem/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS records (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	severity TEXT NOT NULL,
	source TEXT NOT NULL,
	received_at TEXT NOT NULL,
	body TEXT NOT NULL
);`

// SQLiteStore keeps records in a SQLite table using the pure Go driver.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, sentinelerrors.NewStorageWriteError(path, err.Error())
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, sentinelerrors.NewStorageWriteError(path, err.Error())
	}

	// WAL keeps readers off the writer's lock; failure only costs concurrency.
	_, _ = db.Exec("PRAGMA journal_mode=WAL;")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, sentinelerrors.NewStorageWriteError(path, err.Error())
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Append inserts record.
func (s *SQLiteStore) Append(ctx context.Context, record *models.AlertRecord) error {
	body, err := record.ToJSON()
	if err != nil {
		return sentinelerrors.NewStorageWriteError(s.path, err.Error())
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records(id, severity, source, received_at, body) VALUES(?,?,?,?,?)`,
		record.ID, string(record.Severity), record.Source, record.ReceivedAt.UTC().Format(time.RFC3339Nano), string(body))
	if err != nil {
		return sentinelerrors.NewStorageWriteError(s.path, err.Error())
	}
	return nil
}

// Recent returns the last limit records, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*models.AlertRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM (SELECT seq, body FROM records ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, sentinelerrors.NewStorageReadError(s.path, err.Error())
	}
	defer rows.Close()

	out := make([]*models.AlertRecord, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, sentinelerrors.NewStorageReadError(s.path, err.Error())
		}
		record, err := models.RecordFromJSON([]byte(body))
		if err != nil {
			continue
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, sentinelerrors.NewStorageReadError(s.path, err.Error())
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, sentinelerrors.NewStorageReadError(s.path, err.Error())
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
