// Package config loads and validates the forwarder configuration.
//
// The configuration file is YAML with the layout used by the Wazuh deployment:
//
//	wazuh:
//	  alerts_log_path: /var/ossec/logs/alerts/alerts.json
//	pipeline:
//	  output_filtered_path: ./data/filtered-alerts.json
//	  poll_interval_seconds: 5
//	  severity_levels:
//	    high: 7
//	    critical: 12
//	siem:
//	  api_base_url: http://localhost:8000
//	  ingest_endpoint: /api/v1/logs
//
// The Gemini credential is never read from the file; it comes from the
// GEMINI_API_KEY environment variable, optionally populated from a .env file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	sentinelerrors "cybervision-siem/internal/errors"
	"cybervision-siem/internal/logging"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load.
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvStoragePath  = "SIEM_STORAGE_PATH"
)

// Reader modes.
const (
	ModePoll   = "poll"
	ModeFollow = "follow"
)

// Storage backends for the ingestion service.
const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

// Defaults for optional keys.
const (
	DefaultForwardTimeout = 10 * time.Second
	DefaultGeminiModel    = "gemini-1.5-flash"
	DefaultGeminiTimeout  = 30 * time.Second
	DefaultListenAddr     = ":8000"
	DefaultStoragePath    = "./data/siem-ingested.json"
	DefaultEnvFile        = ".env"
)

// PipelineConfig holds the validated pipeline parameters.
// It is built once by Load and passed by value.
type PipelineConfig struct {
	AlertsLogPath      string
	OutputFilteredPath string
	PollInterval       time.Duration
	HighLevel          int
	CriticalLevel      int
	APIBaseURL         string
	IngestEndpoint     string

	// Mode selects the line reader: ModePoll (default) or ModeFollow.
	Mode string
	// ForwardTimeout bounds each POST to the ingestion endpoint.
	ForwardTimeout time.Duration
	// CompressForward gzips the POST body.
	CompressForward bool

	// GeminiAPIKey is empty when enrichment runs in local mode.
	GeminiAPIKey  string
	GeminiModel   string
	GeminiTimeout time.Duration
}

// IngestURL returns the full forward target.
func (c PipelineConfig) IngestURL() string {
	return strings.TrimRight(c.APIBaseURL, "/") + c.IngestEndpoint
}

// HasCredential reports whether a Gemini API key is configured.
func (c PipelineConfig) HasCredential() bool {
	return c.GeminiAPIKey != ""
}

// Validate checks invariants that the file shape alone cannot express.
func (c PipelineConfig) Validate() error {
	if c.AlertsLogPath == "" {
		return sentinelerrors.NewConfigValidationError("wazuh.alerts_log_path", c.AlertsLogPath, "must not be empty")
	}
	if c.OutputFilteredPath == "" {
		return sentinelerrors.NewConfigValidationError("pipeline.output_filtered_path", c.OutputFilteredPath, "must not be empty")
	}
	if c.PollInterval <= 0 {
		return sentinelerrors.NewConfigValidationError("pipeline.poll_interval_seconds", c.PollInterval, "must be positive")
	}
	if c.CriticalLevel < c.HighLevel {
		return sentinelerrors.NewConfigValidationError("pipeline.severity_levels.critical", c.CriticalLevel,
			fmt.Sprintf("must be >= high (%d)", c.HighLevel))
	}
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return sentinelerrors.NewConfigValidationError("siem.api_base_url", c.APIBaseURL, "must be an absolute http(s) URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return sentinelerrors.NewConfigValidationError("siem.api_base_url", c.APIBaseURL, "scheme must be http or https")
	}
	if !strings.HasPrefix(c.IngestEndpoint, "/") {
		return sentinelerrors.NewConfigValidationError("siem.ingest_endpoint", c.IngestEndpoint, "must start with '/'")
	}
	if c.Mode != ModePoll && c.Mode != ModeFollow {
		return sentinelerrors.NewConfigValidationError("pipeline.mode", c.Mode, "must be poll or follow")
	}
	if c.ForwardTimeout <= 0 {
		return sentinelerrors.NewConfigValidationError("siem.timeout_seconds", c.ForwardTimeout, "must be positive")
	}
	if c.GeminiTimeout <= 0 {
		return sentinelerrors.NewConfigValidationError("gemini.timeout_seconds", c.GeminiTimeout, "must be positive")
	}
	return nil
}

// ServerConfig holds settings for the ingestion API.
type ServerConfig struct {
	ListenAddr     string
	StorageBackend string
	StoragePath    string
}

// Validate checks the server settings.
func (c ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		return sentinelerrors.NewConfigValidationError("server.listen_addr", c.ListenAddr, "must not be empty")
	}
	if c.StorageBackend != BackendJSONL && c.StorageBackend != BackendSQLite {
		return sentinelerrors.NewConfigValidationError("server.storage_backend", c.StorageBackend, "must be jsonl or sqlite")
	}
	if c.StoragePath == "" {
		return sentinelerrors.NewConfigValidationError("server.storage_path", c.StoragePath, "must not be empty")
	}
	return nil
}

// DefaultServerConfig returns the server settings used when the file has no server section.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     DefaultListenAddr,
		StorageBackend: BackendJSONL,
		StoragePath:    DefaultStoragePath,
	}
}

// ServerConfigFromEnv returns the default server settings with the
// SIEM_STORAGE_PATH override applied. Used when serving without a file.
func ServerConfigFromEnv() ServerConfig {
	cfg := DefaultServerConfig()
	if env := os.Getenv(EnvStoragePath); env != "" {
		cfg.StoragePath = env
	}
	return cfg
}

// Config is the complete loaded configuration.
type Config struct {
	Pipeline PipelineConfig
	Server   ServerConfig
	Logging  logging.Config
}

// fileConfig mirrors the YAML layout. Pointers mark required keys.
type fileConfig struct {
	Wazuh struct {
		AlertsLogPath *string `yaml:"alerts_log_path"`
	} `yaml:"wazuh"`
	Pipeline struct {
		OutputFilteredPath  *string `yaml:"output_filtered_path"`
		PollIntervalSeconds *int    `yaml:"poll_interval_seconds"`
		Mode                string  `yaml:"mode"`
		SeverityLevels      struct {
			High     *int `yaml:"high"`
			Critical *int `yaml:"critical"`
		} `yaml:"severity_levels"`
	} `yaml:"pipeline"`
	SIEM struct {
		APIBaseURL     *string  `yaml:"api_base_url"`
		IngestEndpoint *string  `yaml:"ingest_endpoint"`
		TimeoutSeconds *float64 `yaml:"timeout_seconds"`
		Compress       bool     `yaml:"compress"`
	} `yaml:"siem"`
	Gemini struct {
		Model          string   `yaml:"model"`
		TimeoutSeconds *float64 `yaml:"timeout_seconds"`
	} `yaml:"gemini"`
	Server struct {
		ListenAddr     string `yaml:"listen_addr"`
		StorageBackend string `yaml:"storage_backend"`
		StoragePath    string `yaml:"storage_path"`
	} `yaml:"server"`
	Logging *loggingFile `yaml:"logging"`
}

type loggingFile struct {
	Level         string `yaml:"level"`
	Dir           string `yaml:"dir"`
	File          string `yaml:"file"`
	MaxSizeMB     int    `yaml:"max_size_mb"`
	MaxBackups    int    `yaml:"max_backups"`
	MaxAgeDays    int    `yaml:"max_age_days"`
	ConsoleFormat string `yaml:"console_format"`
	EnableConsole *bool  `yaml:"enable_console"`
	EnableFile    *bool  `yaml:"enable_file"`
}

// Load reads the .env file (if present), then the YAML file at path.
func Load(path string) (*Config, error) {
	if err := LoadEnvFile(DefaultEnvFile); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, sentinelerrors.NewConfigMissingError(path)
		}
		return nil, sentinelerrors.NewConfigInvalidError(fmt.Sprintf("failed to read %s", path), err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs into the environment without
// overriding variables that are already set. A missing file is ignored.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return sentinelerrors.NewConfigInvalidError(fmt.Sprintf("failed to load %s", path), err)
	}
	return nil
}

// Parse decodes YAML bytes and resolves defaults and environment overrides.
func Parse(data []byte) (*Config, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, sentinelerrors.NewConfigInvalidError("failed to parse configuration", err)
	}

	if missing := fc.missingKeys(); len(missing) > 0 {
		return nil, sentinelerrors.NewConfigMissingKeyError(missing)
	}

	pipeline := PipelineConfig{
		AlertsLogPath:      *fc.Wazuh.AlertsLogPath,
		OutputFilteredPath: *fc.Pipeline.OutputFilteredPath,
		PollInterval:       time.Duration(*fc.Pipeline.PollIntervalSeconds) * time.Second,
		HighLevel:          *fc.Pipeline.SeverityLevels.High,
		CriticalLevel:      *fc.Pipeline.SeverityLevels.Critical,
		APIBaseURL:         *fc.SIEM.APIBaseURL,
		IngestEndpoint:     *fc.SIEM.IngestEndpoint,
		Mode:               orDefault(fc.Pipeline.Mode, ModePoll),
		ForwardTimeout:     seconds(fc.SIEM.TimeoutSeconds, DefaultForwardTimeout),
		CompressForward:    fc.SIEM.Compress,
		GeminiAPIKey:       strings.TrimSpace(os.Getenv(EnvGeminiAPIKey)),
		GeminiModel:        orDefault(fc.Gemini.Model, DefaultGeminiModel),
		GeminiTimeout:      seconds(fc.Gemini.TimeoutSeconds, DefaultGeminiTimeout),
	}
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}

	server := DefaultServerConfig()
	server.ListenAddr = orDefault(fc.Server.ListenAddr, server.ListenAddr)
	server.StorageBackend = orDefault(fc.Server.StorageBackend, server.StorageBackend)
	server.StoragePath = orDefault(fc.Server.StoragePath, server.StoragePath)
	if env := os.Getenv(EnvStoragePath); env != "" {
		server.StoragePath = env
	}
	if err := server.Validate(); err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	if fc.Logging != nil {
		mergeLogging(logCfg, fc.Logging)
	}

	return &Config{
		Pipeline: pipeline,
		Server:   server,
		Logging:  *logCfg,
	}, nil
}

func (fc *fileConfig) missingKeys() []string {
	var missing []string
	if fc.Wazuh.AlertsLogPath == nil {
		missing = append(missing, "wazuh.alerts_log_path")
	}
	if fc.Pipeline.OutputFilteredPath == nil {
		missing = append(missing, "pipeline.output_filtered_path")
	}
	if fc.Pipeline.PollIntervalSeconds == nil {
		missing = append(missing, "pipeline.poll_interval_seconds")
	}
	if fc.Pipeline.SeverityLevels.High == nil {
		missing = append(missing, "pipeline.severity_levels.high")
	}
	if fc.Pipeline.SeverityLevels.Critical == nil {
		missing = append(missing, "pipeline.severity_levels.critical")
	}
	if fc.SIEM.APIBaseURL == nil {
		missing = append(missing, "siem.api_base_url")
	}
	if fc.SIEM.IngestEndpoint == nil {
		missing = append(missing, "siem.ingest_endpoint")
	}
	return missing
}

// mergeLogging overlays the keys present in the file onto the defaults.
func mergeLogging(dst *logging.Config, src *loggingFile) {
	dst.Level = orDefault(src.Level, dst.Level)
	dst.LogDir = orDefault(src.Dir, dst.LogDir)
	dst.LogFile = orDefault(src.File, dst.LogFile)
	dst.ConsoleFormat = orDefault(src.ConsoleFormat, dst.ConsoleFormat)
	if src.MaxSizeMB > 0 {
		dst.MaxSizeMB = src.MaxSizeMB
	}
	if src.MaxBackups > 0 {
		dst.MaxBackups = src.MaxBackups
	}
	if src.MaxAgeDays > 0 {
		dst.MaxAgeDays = src.MaxAgeDays
	}
	if src.EnableConsole != nil {
		dst.EnableConsole = *src.EnableConsole
	}
	if src.EnableFile != nil {
		dst.EnableFile = *src.EnableFile
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func seconds(v *float64, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	return time.Duration(*v * float64(time.Second))
}
