// Package enrich annotates qualifying alerts with an external risk analysis.
//
// Enrichment never fails the pipeline. Every call ends in one of three
// outcomes and a single annotate step turns the outcome into the analysis
// attached to the forwarded payload:
//
//   - analyzed: the model answered, its text is used with the model name
//   - no credential: no API key is configured, a local note is used
//   - failed: the call errored or timed out, a fallback note carries the reason
package enrich

import (
	"context"
	"errors"
	"strings"
	"time"

	sentinelerrors "cybervision-siem/internal/errors"
	"cybervision-siem/internal/logging"
	"cybervision-siem/internal/models"

	"go.uber.org/zap"
)

const (
	// LocalAnalysisText is used when no credential is configured.
	LocalAnalysisText = "Gemini API key not configured; using rule-based severity."
	// FallbackAnalysisPrefix precedes the failure reason in fallback annotations.
	FallbackAnalysisPrefix = "Gemini analysis failed: "

	promptPrefix = "Analyze the Wazuh alert JSON and return a short risk summary with severity " +
		"(critical, high, medium, low). Alert JSON:\n"
)

// Generator produces free text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config holds enrichment client configuration.
type Config struct {
	// Model is the model identifier reported in successful annotations.
	Model string

	// Timeout bounds a single generate call.
	Timeout time.Duration

	// Generator performs the call. Nil means no credential is configured.
	Generator Generator

	// Logger is the logger instance.
	Logger *zap.Logger
}

// DefaultConfig returns a configuration without a generator.
func DefaultConfig() *Config {
	return &Config{
		Model:   "gemini-1.5-flash",
		Timeout: 30 * time.Second,
		Logger:  logging.L(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Model == "" {
		return sentinelerrors.NewConfigValidationError("Model", c.Model, "model is required")
	}
	if c.Timeout <= 0 {
		return sentinelerrors.NewConfigValidationError("Timeout", c.Timeout, "must be positive")
	}
	return nil
}

// OutcomeKind enumerates how an enrichment attempt ended.
type OutcomeKind int

const (
	OutcomeAnalyzed OutcomeKind = iota
	OutcomeNoCredential
	OutcomeFailed
)

// String returns the outcome name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAnalyzed:
		return "analyzed"
	case OutcomeNoCredential:
		return "no_credential"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one enrichment attempt.
type Outcome struct {
	Kind OutcomeKind
	// Text is the model response for OutcomeAnalyzed.
	Text string
	// Reason describes the failure for OutcomeFailed.
	Reason string
	// Err is the classified failure for OutcomeFailed.
	Err error
}

// Client enriches classified alerts.
type Client struct {
	config *Config
	logger *zap.Logger
}

// NewClient creates a new enrichment client.
func NewClient(cfg *Config) (*Client, error) {
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

	return &Client{
		config: cfg,
		logger: logger.With(zap.String("component", "enrich"), logging.Model(cfg.Model)),
	}, nil
}

// HasCredential reports whether external analysis will be attempted.
func (c *Client) HasCredential() bool {
	return c.config.Generator != nil
}

// Enrich returns the analysis annotation for an alert. It never fails.
func (c *Client) Enrich(ctx context.Context, alert *models.ClassifiedAlert) models.Analysis {
	outcome := c.Attempt(ctx, alert)

	switch outcome.Kind {
	case OutcomeFailed:
		c.logger.Warn("enrichment_failed",
			zap.String("reason", outcome.Reason),
			logging.ErrorCode(string(sentinelerrors.GetErrorCode(outcome.Err))),
			logging.RuleID(alert.Alert.RuleID()),
		)
	case OutcomeAnalyzed:
		c.logger.Debug("enrichment_complete", logging.RuleID(alert.Alert.RuleID()))
	}

	return c.annotate(outcome)
}

// Attempt performs one enrichment call and reports how it ended.
func (c *Client) Attempt(ctx context.Context, alert *models.ClassifiedAlert) Outcome {
	if c.config.Generator == nil {
		return Outcome{Kind: OutcomeNoCredential}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	text, err := c.config.Generator.Generate(callCtx, BuildPrompt(alert.Alert))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			timeoutErr := sentinelerrors.NewEnrichTimeoutError(c.config.Model, c.config.Timeout.Seconds())
			return Outcome{Kind: OutcomeFailed, Reason: timeoutErr.Message, Err: timeoutErr}
		}
		return Outcome{Kind: OutcomeFailed, Reason: err.Error(), Err: sentinelerrors.NewEnrichError(c.config.Model, err)}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		emptyErr := sentinelerrors.NewEnrichEmptyResponseError(c.config.Model)
		return Outcome{Kind: OutcomeFailed, Reason: emptyErr.Message, Err: emptyErr}
	}

	return Outcome{Kind: OutcomeAnalyzed, Text: text}
}

// annotate is the single place an outcome becomes an annotation.
func (c *Client) annotate(o Outcome) models.Analysis {
	switch o.Kind {
	case OutcomeAnalyzed:
		return models.Analysis{Analysis: o.Text, Model: c.config.Model}
	case OutcomeNoCredential:
		return models.Analysis{Analysis: LocalAnalysisText, Model: models.ModelLocal}
	default:
		return models.Analysis{Analysis: FallbackAnalysisPrefix + o.Reason, Model: models.ModelFallback}
	}
}

// BuildPrompt renders the analysis prompt for an alert.
func BuildPrompt(alert *models.RawAlert) string {
	raw := "{}"
	if alert != nil && len(alert.Raw()) > 0 {
		raw = string(alert.Raw())
	}
	return promptPrefix + raw
}
