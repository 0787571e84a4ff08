// Package siem implements the ingestion service that receives forwarded
// alerts, stores them and exposes them to operators.
package siem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"cybervision-siem/internal/logging"
	"cybervision-siem/internal/metrics"
	"cybervision-siem/internal/models"
	"cybervision-siem/internal/siem/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

const (
	// DefaultListLimit is used when GET /api/v1/logs has no limit.
	DefaultListLimit = 100

	// RejectedSeverityDetail is returned for payloads outside the two tiers.
	RejectedSeverityDetail = "Only high and critical logs are accepted."

	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Config holds server configuration.
type Config struct {
	// Store persists records.
	Store store.Store

	// Metrics is optional; when set /metrics is served.
	Metrics *metrics.Metrics

	// Logger is the logger instance.
	Logger *zap.Logger

	// Now overrides the clock for received_at.
	Now func() time.Time
}

// Server is the ingestion HTTP service.
type Server struct {
	r         *chi.Mux
	store     store.Store
	metrics   *metrics.Metrics
	validator *validator
	logger    *zap.Logger
	now       func() time.Time
}

// NewServer creates the router and registers routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("siem: store is required")
	}

	v, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("load payload schema: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		r:         chi.NewRouter(),
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		validator: v,
		logger:    logger.With(zap.String("component", "siem_api")),
		now:       now,
	}

	s.r.Use(middleware.RequestID)
	s.r.Use(middleware.RealIP)
	s.r.Use(requestLogger(s.logger))
	s.r.Use(middleware.Recoverer)

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })

	s.r.Route("/api/v1", func(r chi.Router) {
		r.Post("/logs", s.ingestLog)
		r.Get("/logs", s.listLogs)
		r.Get("/status", s.status)
	})

	if s.metrics != nil {
		s.r.Handle("/metrics", s.metrics.Handler())
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.r }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("server_shutting_down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// ingestRequest is the accepted POST body. Analysis is any object or null
// and is stored as sent.
type ingestRequest struct {
	Severity models.Severity  `json:"severity"`
	Source   string           `json:"source"`
	Alert    *models.RawAlert `json:"alert"`
	Analysis json.RawMessage  `json:"analysis"`
}

func (s *Server) ingestLog(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.reject(w, http.StatusBadRequest, fmt.Sprintf("unreadable body: %v", err))
		return
	}

	problems, err := s.validator.validate(body)
	if err != nil {
		s.reject(w, http.StatusBadRequest, "body is not valid JSON")
		return
	}
	if len(problems) > 0 {
		s.rejectWith(w, http.StatusUnprocessableEntity, problems)
		return
	}

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.reject(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if req.Source == "" {
		req.Source = models.SourceWazuh
	}
	if !req.Severity.Valid() {
		s.reject(w, http.StatusBadRequest, RejectedSeverityDetail)
		return
	}

	record := &models.AlertRecord{
		ID:         uuid.NewString(),
		Severity:   req.Severity,
		Source:     req.Source,
		Alert:      req.Alert,
		Analysis:   req.Analysis,
		ReceivedAt: s.now().UTC(),
	}
	if err := s.store.Append(r.Context(), record); err != nil {
		s.logger.Error("record_store_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "failed to store record"})
		return
	}

	if s.metrics != nil {
		s.metrics.RecordsIngested.WithLabelValues(record.Severity.String()).Inc()
	}
	s.logger.Info("record_ingested",
		zap.String("record_id", record.ID),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		logging.Severity(record.Severity.String()),
		logging.RuleLevel(record.Alert.Level()),
	)

	writeJSON(w, http.StatusOK, record)
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	records, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("record_list_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "failed to read records"})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Error("record_count_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "failed to count records"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "records": n})
}

func (s *Server) reject(w http.ResponseWriter, status int, detail string) {
	if s.metrics != nil {
		s.metrics.IngestRejections.Inc()
	}
	writeJSON(w, status, map[string]any{"detail": detail})
}

func (s *Server) rejectWith(w http.ResponseWriter, status int, details []string) {
	if s.metrics != nil {
		s.metrics.IngestRejections.Inc()
	}
	writeJSON(w, status, map[string]any{"detail": details})
}

// readBody reads the request body, transparently decoding gzip.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	var reader io.Reader = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		reader = io.LimitReader(zr, maxBodyBytes)
	}
	return io.ReadAll(reader)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs each request with zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				logging.Duration(time.Since(start)),
			)
		})
	}
}
