package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cybervision-siem/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(t *testing.T, id string, level int) *models.AlertRecord {
	t.Helper()
	raw, err := models.NewRawAlert([]byte(fmt.Sprintf(`{"rule":{"level":%d,"id":%q}}`, level, id)))
	require.NoError(t, err)
	return models.NewAlertRecord(id, models.ForwardPayload{
		Severity: models.SeverityCritical,
		Source:   models.SourceWazuh,
		Alert:    raw,
		Analysis: &models.Analysis{Analysis: "note", Model: models.ModelLocal},
	}, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	jsonl, err := Open(BackendJSONL, filepath.Join(dir, "data", "siem-ingested.json"))
	require.NoError(t, err)
	sqlite, err := Open(BackendSQLite, filepath.Join(dir, "data", "siem.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = jsonl.Close()
		_ = sqlite.Close()
	})
	return map[string]Store{BackendJSONL: jsonl, BackendSQLite: sqlite}
}

func TestStore_AppendRecentCount(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			empty, err := s.Recent(ctx, 100)
			require.NoError(t, err)
			assert.Empty(t, empty)

			for i := 1; i <= 5; i++ {
				require.NoError(t, s.Append(ctx, testRecord(t, fmt.Sprintf("r%d", i), 10+i)))
			}

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 5, n)

			recent, err := s.Recent(ctx, 3)
			require.NoError(t, err)
			require.Len(t, recent, 3)
			assert.Equal(t, "r3", recent[0].ID, "oldest of the newest three first")
			assert.Equal(t, "r5", recent[2].ID)
			assert.Equal(t, 15, recent[2].Alert.Level())
			note, err := recent[2].DecodeAnalysis()
			require.NoError(t, err)
			require.NotNil(t, note)
			assert.Equal(t, models.ModelLocal, note.Model)
			assert.True(t, recent[2].ReceivedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))

			all, err := s.Recent(ctx, 100)
			require.NoError(t, err)
			assert.Len(t, all, 5)
		})
	}
}

func TestJSONL_SkipsUnreadableLinesAndCountsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "siem-ingested.json")
	good, err := testRecord(t, "ok", 12).ToJSON()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(string(good)+"\nnot json\n\n"), 0644))

	s, err := NewJSONL(path)
	require.NoError(t, err)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recent, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "ok", recent[0].ID)
}

func TestSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "siem.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), testRecord(t, "persisted", 13)))
	require.NoError(t, s.Close())

	s, err = NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("postgres", "/tmp/x")
	assert.Error(t, err)
}
