package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cybervision-siem/internal/config"
	"cybervision-siem/internal/logging"
	"cybervision-siem/internal/metrics"
	"cybervision-siem/internal/pipeline"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	ConfigPath  string
	Mode        string
	MetricsAddr string
	Once        bool
	Verbose     bool
}

// DefaultRunOptions returns the default run options.
func DefaultRunOptions() *RunOptions {
	return &RunOptions{
		ConfigPath:  DefaultConfigPath,
		Mode:        "",
		MetricsAddr: "",
		Once:        false,
	}
}

// PipelineRunner handles the forwarding workflow.
type PipelineRunner struct {
	options *RunOptions
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewPipelineRunner loads configuration and sets up logging.
func NewPipelineRunner(opts *RunOptions) (*PipelineRunner, error) {
	if opts == nil {
		opts = DefaultRunOptions()
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Mode != "" {
		cfg.Pipeline.Mode = opts.Mode
		if err := cfg.Pipeline.Validate(); err != nil {
			return nil, err
		}
	}

	logCfg := cfg.Logging
	if opts.Verbose {
		logCfg.Level = "debug"
	}
	if err := logging.Setup(&logCfg); err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	logger := logging.L().With(
		zap.String("command", "run"),
		logging.Path(cfg.Pipeline.AlertsLogPath),
	)

	return &PipelineRunner{
		options: opts,
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
	}, nil
}

// Run executes the pipeline until ctx is cancelled or a signal arrives.
// With Once set, a single cycle is run.
func (r *PipelineRunner) Run(ctx context.Context) error {
	pc := r.config.Pipeline
	r.logger.Info("pipeline_starting",
		zap.String("mode", pc.Mode),
		logging.URL(pc.IngestURL()),
		zap.Int("high_level", pc.HighLevel),
		zap.Int("critical_level", pc.CriticalLevel),
		zap.Bool("gemini_enabled", pc.HasCredential()),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			r.logger.Info("received_signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	p, err := pipeline.Build(ctx, pc, r.metrics, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	if r.options.MetricsAddr != "" {
		stop := r.serveMetrics(r.options.MetricsAddr)
		defer stop()
	}

	if r.options.Once {
		report, err := p.RunCycle(ctx)
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("cycle failed: %w", err)
		}
		r.logger.Info("run_complete",
			zap.Int("forwarded", report.Forwarded),
			zap.Int("forward_failures", report.ForwardFailures),
			logging.Offset(report.EndOffset),
		)
		return nil
	}

	return p.Run(ctx)
}

// serveMetrics exposes health and metrics endpoints and returns a stop func.
func (r *PipelineRunner) serveMetrics(addr string) func() {
	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	mux.Handle("/metrics", r.metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		r.logger.Info("metrics_listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics_server_failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// Close releases resources.
func (r *PipelineRunner) Close() error {
	return logging.Close()
}

// RunPipelineCommand executes the run command with the given options.
func RunPipelineCommand(ctx context.Context, opts *RunOptions) error {
	runner, err := NewPipelineRunner(opts)
	if err != nil {
		return err
	}
	defer func() { _ = runner.Close() }()

	return runner.Run(ctx)
}

// setupRunCmd configures the run command.
func setupRunCmd() *cobra.Command {
	opts := DefaultRunOptions()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Tail the Wazuh alert log and forward qualifying alerts",
		Long: `Run the forwarding pipeline. Each poll cycle reads the lines appended to
the alerts log since the last cycle, keeps high and critical alerts,
annotates them and forwards them to the SIEM ingestion API.

Examples:
  cybervision-siem run --config config.yaml
  cybervision-siem run --mode follow --metrics-addr :9102
  cybervision-siem run --once`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = configPath()
			opts.Verbose = verbose
			return RunPipelineCommand(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "", "override pipeline.mode (poll or follow)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single poll cycle and exit")

	return cmd
}
