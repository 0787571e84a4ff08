package forwarder

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sentinelerrors "cybervision-siem/internal/errors"
	"cybervision-siem/internal/models"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testPayload(t *testing.T, line string, severity models.Severity) *models.ForwardPayload {
	t.Helper()
	raw, err := models.NewRawAlert([]byte(line))
	require.NoError(t, err)
	payload, err := models.NewForwardPayload(
		&models.ClassifiedAlert{Alert: raw, Severity: severity},
		&models.Analysis{Analysis: "note", Model: models.ModelLocal},
	)
	require.NoError(t, err)
	return payload
}

func newTestForwarder(t *testing.T, url string, mutate func(*Config)) *Forwarder {
	t.Helper()
	cfg := &Config{URL: url, Timeout: 2 * time.Second, Logger: zap.NewNop()}
	if mutate != nil {
		mutate(cfg)
	}
	f, err := New(cfg)
	require.NoError(t, err)
	return f
}

// echoServer answers like the ingestion service: the payload plus received_at.
func echoServer(t *testing.T, hits *int32, check func(r *http.Request, body []byte)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)

		var reader io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if !assert.NoError(t, err) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer zr.Close()
			reader = zr
		}
		body, err := io.ReadAll(reader)
		assert.NoError(t, err)
		if check != nil {
			check(r, body)
		}

		var record map[string]any
		if !assert.NoError(t, json.Unmarshal(body, &record)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		record["received_at"] = "2024-05-01T10:00:00Z"
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(record)
	}))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"valid", &Config{URL: "https://siem.example.com/api/v1/logs", Timeout: time.Second}, false},
		{"empty url", &Config{URL: "", Timeout: time.Second}, true},
		{"no scheme", &Config{URL: "localhost:8000/api", Timeout: time.Second}, true},
		{"zero timeout", &Config{URL: "http://siem", Timeout: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, sentinelerrors.ErrConfigValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestForward_Success(t *testing.T) {
	var hits int32
	srv := echoServer(t, &hits, func(r *http.Request, body []byte) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/logs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, err := uuid.Parse(r.Header.Get(RequestIDHeader))
		assert.NoError(t, err)
		assert.JSONEq(t,
			`{"severity":"critical","source":"wazuh","alert":{"rule":{"level":15}},"analysis":{"analysis":"note","model":"local"}}`,
			string(body))
	})
	defer srv.Close()

	f := newTestForwarder(t, srv.URL+"/api/v1/logs", nil)
	record, err := f.Forward(context.Background(), testPayload(t, `{"rule":{"level":15}}`, models.SeverityCritical))

	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.SeverityCritical, record.Severity)
	assert.Equal(t, "wazuh", record.Source)
	assert.Equal(t, 2024, record.ReceivedAt.Year())
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestForward_Compressed(t *testing.T) {
	var hits int32
	srv := echoServer(t, &hits, func(r *http.Request, body []byte) {
		assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
		assert.Contains(t, string(body), `"severity":"high"`)
	})
	defer srv.Close()

	f := newTestForwarder(t, srv.URL, func(c *Config) { c.EnableCompression = true })
	record, err := f.Forward(context.Background(), testPayload(t, `{"rule":{"level":8}}`, models.SeverityHigh))

	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.SeverityHigh, record.Severity)
}

func TestForward_Rejected(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"server error", http.StatusInternalServerError, true},
		{"too many requests", http.StatusTooManyRequests, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sentID := make(chan string, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sentID <- r.Header.Get(RequestIDHeader)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"detail":"` + strings.Repeat("x", 300) + `"}`))
			}))
			defer srv.Close()

			f := newTestForwarder(t, srv.URL, nil)
			_, err := f.Forward(context.Background(), testPayload(t, `{"rule":{"level":15}}`, models.SeverityCritical))

			require.Error(t, err)
			assert.ErrorIs(t, err, sentinelerrors.ErrForwardRejected)
			assert.Equal(t, tt.wantRetryable, sentinelerrors.IsRetryableError(err))

			var se *sentinelerrors.SentinelError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.Context["status_code"])
			assert.LessOrEqual(t, len(se.Context["body"].(string)), 203)
			assert.Equal(t, <-sentID, se.Context["request_id"])
		})
	}
}

func TestForward_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := newTestForwarder(t, url, nil)
	_, err := f.Forward(context.Background(), testPayload(t, `{"rule":{"level":15}}`, models.SeverityCritical))

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinelerrors.ErrForwardConnection)
	assert.True(t, sentinelerrors.IsRetryableError(err))
}

func TestForward_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := newTestForwarder(t, srv.URL, func(c *Config) { c.Timeout = 50 * time.Millisecond })
	_, err := f.Forward(context.Background(), testPayload(t, `{"rule":{"level":15}}`, models.SeverityCritical))

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinelerrors.ErrForwardTimeout)

	var se *sentinelerrors.SentinelError
	require.ErrorAs(t, err, &se)
	id, ok := se.Context["request_id"].(string)
	require.True(t, ok)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
}

func TestForward_UnreadableEcho(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("accepted"))
	}))
	defer srv.Close()

	f := newTestForwarder(t, srv.URL, nil)
	record, err := f.Forward(context.Background(), testPayload(t, `{"rule":{"level":15}}`, models.SeverityCritical))

	assert.NoError(t, err)
	assert.Nil(t, record)
}

func TestBuffer_Append(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "filtered.json")
	buf, err := NewBuffer(path)
	require.NoError(t, err)
	assert.Equal(t, path, buf.Path())

	require.NoError(t, buf.Append(testPayload(t, `{"rule":{"level":15}}`, models.SeverityCritical)))
	require.NoError(t, buf.Append(testPayload(t, `{"rule":{"level":8}}`, models.SeverityHigh)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)

	assert.JSONEq(t,
		`{"severity":"critical","source":"wazuh","alert":{"rule":{"level":15}},"analysis":{"analysis":"note","model":"local"}}`,
		lines[0])
	assert.Contains(t, lines[1], `"severity":"high"`)
}

func TestBuffer_AppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filtered.json")
	require.NoError(t, os.WriteFile(path, []byte("{\"existing\":true}\n"), 0644))

	buf, err := NewBuffer(path)
	require.NoError(t, err)
	require.NoError(t, buf.Append(testPayload(t, `{"rule":{"level":15}}`, models.SeverityCritical)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\"existing\":true}\n{"))
	assert.True(t, strings.HasSuffix(string(data), "}\n"))
}

func TestBuffer_WriteFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory where the file should be makes the open fail.
	path := filepath.Join(dir, "filtered.json")
	require.NoError(t, os.Mkdir(path, 0755))

	buf, err := NewBuffer(path)
	require.NoError(t, err)

	err = buf.Append(testPayload(t, `{"rule":{"level":15}}`, models.SeverityCritical))
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinelerrors.ErrStorageWriteFailed)
}

func TestNewBuffer_EmptyPath(t *testing.T) {
	_, err := NewBuffer("")
	assert.Error(t, err)
}
