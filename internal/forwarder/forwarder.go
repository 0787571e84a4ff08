package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	sentinelerrors "cybervision-siem/internal/errors"
	"cybervision-siem/internal/logging"
	"cybervision-siem/internal/models"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// RequestIDHeader carries the per-forward correlation ID.
const RequestIDHeader = "X-Request-ID"

const maxResponseBody = 1 << 20

// Config holds forwarder configuration.
type Config struct {
	// URL is the full ingestion endpoint.
	URL string

	// Timeout bounds a single POST.
	Timeout time.Duration

	// EnableCompression gzips request bodies.
	EnableCompression bool

	// HTTPClient overrides the default client. Its Timeout is left untouched.
	HTTPClient *http.Client

	// Logger is the logger instance.
	Logger *zap.Logger
}

// DefaultConfig returns the default forwarder configuration.
func DefaultConfig() *Config {
	return &Config{
		URL:     "http://localhost:8000/api/v1/logs",
		Timeout: 10 * time.Second,
		Logger:  logging.L(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.URL == "" {
		return sentinelerrors.NewConfigValidationError("URL", c.URL, "url is required")
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return sentinelerrors.NewConfigValidationError("URL", c.URL, "must be an http or https url")
	}
	if c.Timeout <= 0 {
		return sentinelerrors.NewConfigValidationError("Timeout", c.Timeout, "must be positive")
	}
	return nil
}

// Forwarder POSTs payloads to the ingestion endpoint. It does not retry.
type Forwarder struct {
	config *Config
	client *http.Client
	logger *zap.Logger
}

// New creates a forwarder.
func New(cfg *Config) (*Forwarder, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Forwarder{
		config: cfg,
		client: client,
		logger: logger.With(zap.String("component", "forwarder"), logging.URL(cfg.URL)),
	}, nil
}

// URL returns the ingestion endpoint.
func (f *Forwarder) URL() string {
	return f.config.URL
}

// Forward submits payload and returns the echoed record. Transport errors
// and non-2xx responses are returned as classified errors. A 2xx response
// whose body is not a record returns a nil record and no error.
func (f *Forwarder) Forward(ctx context.Context, payload *models.ForwardPayload) (*models.AlertRecord, error) {
	body, err := payload.ToJSON()
	if err != nil {
		return nil, sentinelerrors.NewForwardEncodingError(err)
	}

	var encoded []byte
	if f.config.EnableCompression {
		encoded, err = gzipBody(body)
		if err != nil {
			return nil, sentinelerrors.NewForwardEncodingError(err)
		}
	} else {
		encoded = body
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, f.config.URL, bytes.NewReader(encoded))
	if err != nil {
		return nil, sentinelerrors.NewForwardConnectionError(f.config.URL, err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if f.config.EnableCompression {
		req.Header.Set("Content-Encoding", "gzip")
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, sentinelerrors.NewForwardTimeoutError(f.config.URL, f.config.Timeout.Seconds()).
				WithContext("request_id", requestID)
		}
		return nil, sentinelerrors.NewForwardConnectionError(f.config.URL, err).
			WithContext("request_id", requestID)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, sentinelerrors.NewForwardConnectionError(f.config.URL, fmt.Errorf("read response: %w", err)).
			WithContext("request_id", requestID)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, sentinelerrors.NewForwardRejectedError(f.config.URL, resp.StatusCode, string(respBody)).
			WithContext("request_id", requestID)
	}

	f.logger.Debug("forward_complete",
		zap.String("request_id", requestID),
		zap.Int("status_code", resp.StatusCode),
		logging.Duration(time.Since(start)),
	)

	record, err := models.RecordFromJSON(respBody)
	if err != nil {
		f.logger.Warn("forward_echo_unreadable",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, nil
	}
	return record, nil
}

func gzipBody(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
