package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"cybervision-siem/internal/config"
	sentinelerrors "cybervision-siem/internal/errors"
	"cybervision-siem/internal/logging"
	"cybervision-siem/internal/metrics"
	"cybervision-siem/internal/siem"
	"cybervision-siem/internal/siem/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ServeOptions holds options for the serve command. Empty fields fall back
// to the server section of the config file, or to the defaults when no
// file exists.
type ServeOptions struct {
	ConfigPath string
	ListenAddr string
	Backend    string
	Storage    string
	Verbose    bool
}

// resolveServerConfig merges the config file (if any) with flag overrides.
func resolveServerConfig(opts *ServeOptions) (config.ServerConfig, *logging.Config, error) {
	server := config.ServerConfigFromEnv()
	logCfg := logging.DefaultConfig()

	if opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		switch {
		case err == nil:
			server = cfg.Server
			logCfg = &cfg.Logging
		case errors.Is(err, sentinelerrors.ErrConfigMissing):
		default:
			return config.ServerConfig{}, nil, err
		}
	}

	if opts.ListenAddr != "" {
		server.ListenAddr = opts.ListenAddr
	}
	if opts.Backend != "" {
		server.StorageBackend = opts.Backend
	}
	if opts.Storage != "" {
		server.StoragePath = opts.Storage
	}
	if opts.Verbose {
		logCfg.Level = "debug"
	}

	if err := server.Validate(); err != nil {
		return config.ServerConfig{}, nil, err
	}
	return server, logCfg, nil
}

// RunServeCommand starts the ingestion service and blocks until a signal arrives.
func RunServeCommand(ctx context.Context, opts *ServeOptions) error {
	server, logCfg, err := resolveServerConfig(opts)
	if err != nil {
		return err
	}
	if err := logging.Setup(logCfg); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer func() { _ = logging.Close() }()

	logger := logging.L().With(zap.String("command", "serve"))

	st, err := store.Open(server.StorageBackend, server.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store_close_failed", zap.Error(err))
		}
	}()

	srv, err := siem.NewServer(siem.Config{
		Store:   st,
		Metrics: metrics.New(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("ingestion_service_starting",
		zap.String("backend", server.StorageBackend),
		logging.Path(server.StoragePath),
	)
	return srv.ListenAndServe(ctx, server.ListenAddr)
}

func setupServeCmd() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the SIEM ingestion API",
		Long: `Start the ingestion service that receives forwarded alerts:
  - POST /api/v1/logs accepts high and critical payloads
  - GET  /api/v1/logs lists the most recent records
  - GET  /api/v1/status reports the stored record count
  - Exposes /metrics and /healthz`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConfigPath = configPath()
			opts.Verbose = verbose
			return RunServeCommand(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.ListenAddr, "listen", "", "listen address (default "+config.DefaultListenAddr+")")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "storage backend (jsonl or sqlite)")
	cmd.Flags().StringVar(&opts.Storage, "storage", "", "storage path (overrides "+config.EnvStoragePath+")")

	return cmd
}

func setupCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and print the resolved settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printConfig(w io.Writer, cfg *config.Config) {
	p := cfg.Pipeline
	fmt.Fprintf(w, "alerts log:      %s\n", p.AlertsLogPath)
	fmt.Fprintf(w, "buffer:          %s\n", p.OutputFilteredPath)
	fmt.Fprintf(w, "mode:            %s (every %s)\n", p.Mode, p.PollInterval)
	fmt.Fprintf(w, "thresholds:      high>=%d critical>=%d\n", p.HighLevel, p.CriticalLevel)
	fmt.Fprintf(w, "ingest url:      %s\n", p.IngestURL())
	if p.HasCredential() {
		fmt.Fprintf(w, "enrichment:      gemini (%s)\n", p.GeminiModel)
	} else {
		fmt.Fprintf(w, "enrichment:      local (no %s)\n", config.EnvGeminiAPIKey)
	}
	fmt.Fprintf(w, "server:          %s %s at %s\n", cfg.Server.ListenAddr, cfg.Server.StorageBackend, cfg.Server.StoragePath)
}
