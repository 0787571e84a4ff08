// Package pipeline runs the read, classify, enrich, buffer and forward loop
// over the Wazuh alert log.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"cybervision-siem/internal/config"
	sentinelerrors "cybervision-siem/internal/errors"
	"cybervision-siem/internal/ingestion"
	"cybervision-siem/internal/logging"
	"cybervision-siem/internal/metrics"
	"cybervision-siem/internal/models"
	"cybervision-siem/internal/parser"

	"go.uber.org/zap"
)

// Enricher annotates a classified alert. It must not fail.
type Enricher interface {
	Enrich(ctx context.Context, alert *models.ClassifiedAlert) models.Analysis
}

// Appender records a payload locally before it is forwarded.
type Appender interface {
	Append(payload *models.ForwardPayload) error
}

// Sender delivers a payload to the ingestion service.
type Sender interface {
	Forward(ctx context.Context, payload *models.ForwardPayload) (*models.AlertRecord, error)
}

// State is the loop state.
type State int32

const (
	// StateIdle is checking for the source file.
	StateIdle State = iota
	// StateReading is processing new lines.
	StateReading
	// StateSleeping is waiting for the next cycle.
	StateSleeping
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// Config holds pipeline configuration and collaborators.
type Config struct {
	// SourcePath is the alert log.
	SourcePath string

	// PollInterval is the sleep between poll cycles.
	PollInterval time.Duration

	// Mode is config.ModePoll or config.ModeFollow.
	Mode string

	// StartOffset is the initial cursor position.
	StartOffset int64

	Classifier *parser.Classifier
	Enricher   Enricher
	Appender   Appender
	Sender     Sender

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Logger is the logger instance.
	Logger *zap.Logger
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.SourcePath == "" {
		return sentinelerrors.NewConfigValidationError("SourcePath", c.SourcePath, "source path is required")
	}
	if c.PollInterval <= 0 {
		return sentinelerrors.NewConfigValidationError("PollInterval", c.PollInterval, "must be positive")
	}
	if c.Mode != "" && c.Mode != config.ModePoll && c.Mode != config.ModeFollow {
		return sentinelerrors.NewConfigValidationError("Mode", c.Mode, "must be poll or follow")
	}
	if c.Classifier == nil {
		return sentinelerrors.NewConfigValidationError("Classifier", nil, "classifier is required")
	}
	if c.Enricher == nil {
		return sentinelerrors.NewConfigValidationError("Enricher", nil, "enricher is required")
	}
	if c.Appender == nil {
		return sentinelerrors.NewConfigValidationError("Appender", nil, "appender is required")
	}
	if c.Sender == nil {
		return sentinelerrors.NewConfigValidationError("Sender", nil, "sender is required")
	}
	return nil
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	SourceMissing   bool
	Truncated       bool
	StartOffset     int64
	EndOffset       int64
	LinesRead       int
	Malformed       int
	Discarded       int
	Classified      int
	Forwarded       int
	ForwardFailures int
	BufferFailures  int
	// ForwardErrors holds the delivery error of each failed alert, in file order.
	ForwardErrors []error
	Duration      time.Duration
}

func (r *CycleReport) fields() []zap.Field {
	return []zap.Field{
		zap.Int64("start_offset", r.StartOffset),
		zap.Int64("end_offset", r.EndOffset),
		zap.Int("lines_read", r.LinesRead),
		zap.Int("malformed", r.Malformed),
		zap.Int("discarded", r.Discarded),
		zap.Int("classified", r.Classified),
		zap.Int("forwarded", r.Forwarded),
		zap.Int("forward_failures", r.ForwardFailures),
		zap.Int("buffer_failures", r.BufferFailures),
		logging.Duration(r.Duration),
	}
}

// Pipeline is a single sequential worker over one alert log.
type Pipeline struct {
	config  *Config
	cursor  *ingestion.Cursor
	metrics *metrics.Metrics
	base    *zap.Logger
	logger  *zap.Logger
	state   atomic.Int32
}

// New creates a pipeline.
func New(cfg *Config) (*Pipeline, error) {
	if cfg == nil {
		return nil, sentinelerrors.NewConfigInvalidError("pipeline config is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ModePoll
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &Pipeline{
		config:  cfg,
		cursor:  ingestion.NewCursor(cfg.StartOffset),
		metrics: m,
		base:    logger,
		logger:  logger.With(zap.String("component", "pipeline"), logging.Path(cfg.SourcePath)),
	}, nil
}

// State returns the current loop state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
}

// Offset returns the cursor position.
func (p *Pipeline) Offset() int64 {
	return p.cursor.Offset()
}

// RunCycle processes every complete line appended since the last cycle.
// A missing source file is not an error. Per-alert forward failures are
// collected in the report and never stop the cycle.
func (p *Pipeline) RunCycle(ctx context.Context) (CycleReport, error) {
	start := time.Now()
	report := CycleReport{StartOffset: p.cursor.Offset()}

	p.setState(StateIdle)

	pass, err := ingestion.OpenPass(p.config.SourcePath, p.cursor.Offset())
	if err != nil {
		report.EndOffset = report.StartOffset
		report.Duration = time.Since(start)
		if errors.Is(err, sentinelerrors.ErrSourceNotFound) {
			report.SourceMissing = true
			p.logger.Debug("source_missing")
			return report, nil
		}
		return report, err
	}
	defer pass.Close()

	p.setState(StateReading)

	if pass.Truncated() {
		report.Truncated = true
		report.StartOffset = pass.Start()
		p.logger.Warn("source_truncated",
			zap.Int64("previous_offset", p.cursor.Offset()),
		)
		p.cursor.Reset()
	}

	for ctx.Err() == nil && pass.Next() {
		p.process(ctx, pass.Line(), &report)
	}

	p.cursor.Set(pass.Offset())
	p.metrics.SetCursor(pass.Offset())
	report.EndOffset = pass.Offset()
	report.Duration = time.Since(start)

	if err := pass.Err(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	p.metrics.Cycles.Inc()
	if report.LinesRead > 0 {
		p.logger.Info("cycle_complete", report.fields()...)
	}
	return report, nil
}

// process runs classify, enrich, buffer and forward for one line.
func (p *Pipeline) process(ctx context.Context, line string, report *CycleReport) {
	report.LinesRead++
	p.metrics.LinesRead.Inc()

	alert, verdict := p.config.Classifier.ClassifyLine(line)
	switch verdict {
	case parser.VerdictMalformed:
		report.Malformed++
		p.metrics.MalformedLines.Inc()
		if line != "" {
			p.logger.Debug("line_skipped", zap.Error(sentinelerrors.NewMalformedLineError(line, "not a JSON alert object")))
		}
		return
	case parser.VerdictBelowThreshold:
		report.Discarded++
		p.metrics.AlertsDiscarded.Inc()
		return
	}

	report.Classified++
	p.metrics.ObserveClassified(alert.Severity.String())

	analysis := p.config.Enricher.Enrich(ctx, alert)
	p.metrics.ObserveEnrichment(analysis.Model)

	payload, err := models.NewForwardPayload(alert, &analysis)
	if err != nil {
		p.logger.Error("payload_invalid", zap.Error(err))
		return
	}

	if err := p.config.Appender.Append(payload); err != nil {
		report.BufferFailures++
		p.metrics.BufferErrors.Inc()
		p.logger.Warn("buffer_append_failed",
			zap.Error(err),
			logging.ErrorCode(string(sentinelerrors.GetErrorCode(err))),
		)
	}

	_, err = p.config.Sender.Forward(ctx, payload)
	p.metrics.ObserveForward(err)
	if err != nil {
		report.ForwardFailures++
		report.ForwardErrors = append(report.ForwardErrors, err)
		p.logger.Warn("forward_failed",
			zap.Error(err),
			logging.ErrorCode(string(sentinelerrors.GetErrorCode(err))),
			zap.Bool("retryable", sentinelerrors.IsRetryableError(err)),
			logging.Severity(alert.Severity.String()),
			logging.RuleLevel(alert.Alert.Level()),
			logging.RuleID(alert.Alert.RuleID()),
			zap.String("agent", alert.Alert.AgentName()),
		)
		return
	}

	report.Forwarded++
	p.logger.Info("alert_forwarded",
		logging.Severity(alert.Severity.String()),
		logging.RuleLevel(alert.Alert.Level()),
		logging.RuleID(alert.Alert.RuleID()),
		zap.String("agent", alert.Alert.AgentName()),
		logging.Model(analysis.Model),
	)
}

// Run loops until ctx is cancelled. Cancellation returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline_started",
		zap.String("mode", p.config.Mode),
		logging.Duration(p.config.PollInterval),
	)
	defer p.logger.Info("pipeline_stopped", logging.Offset(p.cursor.Offset()))

	if p.config.Mode == config.ModeFollow {
		return p.follow(ctx)
	}

	timer := time.NewTimer(p.config.PollInterval)
	defer timer.Stop()

	for {
		if _, err := p.RunCycle(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("cycle_failed",
				zap.Error(err),
				logging.ErrorCode(string(sentinelerrors.GetErrorCode(err))),
			)
		}
		if ctx.Err() != nil {
			return nil
		}

		p.setState(StateSleeping)
		timer.Reset(p.config.PollInterval)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}

// follow processes lines as the follower delivers them.
func (p *Pipeline) follow(ctx context.Context) error {
	follower := ingestion.NewFollower(ingestion.FollowerConfig{
		Path:   p.config.SourcePath,
		Offset: p.cursor.Offset(),
		Logger: p.base,
	})

	p.setState(StateReading)
	var report CycleReport
	return follower.Follow(ctx, func(ctx context.Context, line string, offset int64) error {
		p.process(ctx, line, &report)
		report.ForwardErrors = nil
		p.cursor.Set(offset)
		p.metrics.SetCursor(offset)
		return nil
	})
}
