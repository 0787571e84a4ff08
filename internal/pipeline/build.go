package pipeline

import (
	"context"
	"fmt"

	"cybervision-siem/internal/config"
	"cybervision-siem/internal/enrich"
	"cybervision-siem/internal/forwarder"
	"cybervision-siem/internal/metrics"
	"cybervision-siem/internal/parser"

	"go.uber.org/zap"
)

// Build wires a pipeline from loaded configuration: the classifier, the
// Gemini enricher (local mode without a key), the local buffer and the
// HTTP forwarder.
func Build(ctx context.Context, pc config.PipelineConfig, m *metrics.Metrics, logger *zap.Logger) (*Pipeline, error) {
	if err := pc.Validate(); err != nil {
		return nil, err
	}

	var generator enrich.Generator
	if pc.HasCredential() {
		gemini, err := enrich.NewGeminiGenerator(ctx, pc.GeminiAPIKey, pc.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		generator = gemini
	}

	enricher, err := enrich.NewClient(&enrich.Config{
		Model:     pc.GeminiModel,
		Timeout:   pc.GeminiTimeout,
		Generator: generator,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	buffer, err := forwarder.NewBuffer(pc.OutputFilteredPath)
	if err != nil {
		return nil, err
	}

	fwd, err := forwarder.New(&forwarder.Config{
		URL:               pc.IngestURL(),
		Timeout:           pc.ForwardTimeout,
		EnableCompression: pc.CompressForward,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	return New(&Config{
		SourcePath:   pc.AlertsLogPath,
		PollInterval: pc.PollInterval,
		Mode:         pc.Mode,
		Classifier:   parser.NewClassifier(pc.HighLevel, pc.CriticalLevel),
		Enricher:     enricher,
		Appender:     buffer,
		Sender:       fwd,
		Metrics:      m,
		Logger:       logger,
	})
}
