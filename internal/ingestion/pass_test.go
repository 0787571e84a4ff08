package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sentinelerrors "cybervision-siem/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

// readNewLines collects every complete line after offset with the new offset.
func readNewLines(path string, offset int64) ([]string, int64, error) {
	pass, err := OpenPass(path, offset)
	if err != nil {
		return nil, offset, err
	}
	defer pass.Close()

	var lines []string
	for pass.Next() {
		lines = append(lines, pass.Line())
	}
	return lines, pass.Offset(), pass.Err()
}

func TestCursor(t *testing.T) {
	c := NewCursor(-5)
	assert.Equal(t, int64(0), c.Offset())

	c.Set(128)
	assert.Equal(t, int64(128), c.Offset())

	c.Set(-1)
	assert.Equal(t, int64(0), c.Offset())

	c.Set(64)
	c.Reset()
	assert.Equal(t, int64(0), c.Offset())
}

func TestPass_ReadsCompleteLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	content := "{\"rule\":{\"level\":3}}\n{\"rule\":{\"level\":12}}\r\n  padded line  \n"
	writeFile(t, path, content)

	pass, err := OpenPass(path, 0)
	require.NoError(t, err)
	defer pass.Close()

	var lines []string
	for pass.Next() {
		lines = append(lines, pass.Line())
	}
	require.NoError(t, pass.Err())

	assert.Equal(t, []string{`{"rule":{"level":3}}`, `{"rule":{"level":12}}`, "padded line"}, lines)
	assert.Equal(t, int64(len(content)), pass.Offset())
	assert.Equal(t, int64(0), pass.Start())
	assert.False(t, pass.Truncated())
}

func TestPass_LeavesPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	complete := "{\"rule\":{\"level\":10}}\n"
	writeFile(t, path, complete+`{"rule":{"lev`)

	lines, offset, err := readNewLines(path, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"rule":{"level":10}}`}, lines)
	assert.Equal(t, int64(len(complete)), offset, "offset must stop before the partial line")

	// Writer finishes the line; the next pass yields it.
	appendFile(t, path, "el\":11}}\n")

	lines, offset2, err := readNewLines(path, offset)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"rule":{"level":11}}`}, lines)
	assert.Greater(t, offset2, offset)
}

func TestPass_IdempotentRescan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	writeFile(t, path, "a\nb\nc\n")

	lines, offset, err := readNewLines(path, 0)
	require.NoError(t, err)
	require.Len(t, lines, 3)

	lines, again, err := readNewLines(path, offset)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Equal(t, offset, again)
}

func TestPass_OnlyAppendedLinesVisible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	writeFile(t, path, "first\nsecond\n")

	_, offset, err := readNewLines(path, 0)
	require.NoError(t, err)

	appendFile(t, path, "third\nfourth\n")

	lines, _, err := readNewLines(path, offset)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "fourth"}, lines)
}

func TestPass_ResumesMidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	writeFile(t, path, "one\ntwo\nthree\n")

	lines, _, err := readNewLines(path, int64(len("one\n")))
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three"}, lines)
}

func TestPass_OffsetAtEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	writeFile(t, path, "one\n")

	pass, err := OpenPass(path, 4)
	require.NoError(t, err)
	defer pass.Close()

	assert.False(t, pass.Next())
	assert.NoError(t, pass.Err())
	assert.Equal(t, int64(4), pass.Offset())
}

func TestPass_TruncatedFileRestartsFromZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	writeFile(t, path, "rotated\n")

	pass, err := OpenPass(path, 4096)
	require.NoError(t, err)
	defer pass.Close()

	assert.True(t, pass.Truncated())
	assert.Equal(t, int64(0), pass.Start())
	require.True(t, pass.Next())
	assert.Equal(t, "rotated", pass.Line())
}

func TestPass_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	writeFile(t, path, "")

	lines, offset, err := readNewLines(path, 0)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Equal(t, int64(0), offset)
}

func TestPass_LargeLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	large := strings.Repeat("a", 200000)
	writeFile(t, path, "small\n"+large+"\nafter\n")

	lines, _, err := readNewLines(path, 0)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Len(t, lines[1], 200000)
}

func TestPass_MissingFile(t *testing.T) {
	_, err := OpenPass(filepath.Join(t.TempDir(), "missing.json"), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinelerrors.ErrSourceNotFound)
	assert.Equal(t, sentinelerrors.ErrCodeSourceNotFound, sentinelerrors.GetErrorCode(err))
}

func TestPass_CloseStopsIteration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	writeFile(t, path, "one\ntwo\n")

	pass, err := OpenPass(path, 0)
	require.NoError(t, err)

	require.True(t, pass.Next())
	require.NoError(t, pass.Close())
	assert.False(t, pass.Next())
	assert.NoError(t, pass.Close(), "second Close is a no-op")
}

func TestFollower_DeliversAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	writeFile(t, path, "skipped\n")

	follower := NewFollower(FollowerConfig{
		Path:   path,
		Offset: int64(len("skipped\n")),
		Poll:   true,
		Logger: zap.NewNop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []string
	var offsets []int64
	received := make(chan struct{}, 10)

	done := make(chan error, 1)
	go func() {
		done <- follower.Follow(ctx, func(_ context.Context, line string, offset int64) error {
			mu.Lock()
			got = append(got, line)
			offsets = append(offsets, offset)
			mu.Unlock()
			received <- struct{}{}
			return nil
		})
	}()

	appendFile(t, path, "first\nsecond\n")

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-ctx.Done():
			t.Fatal("timed out waiting for followed lines")
		}
	}
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, got)
	require.Len(t, offsets, 2)
	assert.Less(t, offsets[0], offsets[1])
}

func TestFollower_HoldsPartialLineUntilTerminated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.json")
	writeFile(t, path, "")

	follower := NewFollower(FollowerConfig{Path: path, Poll: true, Logger: zap.NewNop()})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type delivery struct {
		line   string
		offset int64
	}
	received := make(chan delivery, 10)

	done := make(chan error, 1)
	go func() {
		done <- follower.Follow(ctx, func(_ context.Context, line string, offset int64) error {
			received <- delivery{line, offset}
			return nil
		})
	}()

	appendFile(t, path, "{\"rule\":{\"level\":12}}\n{\"rule\":{\"level\":9")

	select {
	case d := <-received:
		assert.Equal(t, `{"rule":{"level":12}}`, d.line)
		assert.Equal(t, int64(22), d.offset)
	case <-ctx.Done():
		t.Fatal("timed out waiting for the complete line")
	}

	select {
	case d := <-received:
		t.Fatalf("partial line delivered: %q", d.line)
	case <-time.After(1500 * time.Millisecond):
	}

	appendFile(t, path, "}}\n")

	select {
	case d := <-received:
		assert.Equal(t, `{"rule":{"level":9}}`, d.line)
		assert.Equal(t, int64(43), d.offset)
	case <-ctx.Done():
		t.Fatal("timed out waiting for the completed line")
	}

	cancel()
	require.NoError(t, <-done)
}
