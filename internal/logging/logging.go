// Package logging provides structured JSONL logging for the cybervision-siem forwarder.
//
// Each log entry is a single JSON object on its own line, written to a rotating
// file and optionally mirrored to the console:
//
//	{"level":"info","timestamp":"2024-01-15T10:30:00.000Z","service":"cybervision-siem","msg":"alert_forwarded","severity":"critical"}
package logging

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ServiceName is attached to every log entry.
const ServiceName = "cybervision-siem"

// Config holds logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string
	// LogDir is the directory for log files
	LogDir string
	// LogFile is the log filename (not full path)
	LogFile string
	// MaxSizeMB is the maximum size in MB before rotation
	MaxSizeMB int
	// MaxBackups is the number of backup files to keep
	MaxBackups int
	// MaxAgeDays is the maximum age in days to retain logs
	MaxAgeDays int
	// EnableConsole enables console output
	EnableConsole bool
	// EnableFile enables file output
	EnableFile bool
	// ConsoleFormat is the console format (json, plain)
	ConsoleFormat string
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:         "info",
		LogDir:        "logs",
		LogFile:       "cybervision-siem.jsonl",
		MaxSizeMB:     10,
		MaxBackups:    5,
		MaxAgeDays:    30,
		EnableConsole: true,
		EnableFile:    true,
		ConsoleFormat: "plain",
	}
}

var (
	mu sync.Mutex
	// globalLogger is the package-level logger instance
	globalLogger *zap.Logger
	// fileWriter holds the rotating file writer for cleanup
	fileWriter *lumberjack.Logger
)

// Setup initializes the global logger with the given configuration.
// Calling Setup again replaces the logger and closes the previous log file.
func Setup(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	jsonEncoder := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	consoleEncoder := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var cores []zapcore.Core
	var writer *lumberjack.Logger

	if cfg.EnableFile {
		logPath := filepath.Join(cfg.LogDir, cfg.LogFile)
		if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
			return err
		}

		writer = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
			LocalTime:  false, // UTC
		}

		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(jsonEncoder),
			zapcore.AddSync(writer),
			level,
		))
	}

	if cfg.EnableConsole {
		var encoder zapcore.Encoder
		if cfg.ConsoleFormat == "json" {
			encoder = zapcore.NewJSONEncoder(jsonEncoder)
		} else {
			encoder = zapcore.NewConsoleEncoder(consoleEncoder)
		}

		cores = append(cores, zapcore.NewCore(
			encoder,
			zapcore.AddSync(os.Stdout),
			level,
		))
	}

	core := zapcore.NewTee(cores...)

	hostname, _ := os.Hostname()
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).With(
		zap.String("service", ServiceName),
		zap.String("hostname", hostname),
		zap.Int("pid", os.Getpid()),
	)

	mu.Lock()
	previous := fileWriter
	globalLogger = logger
	fileWriter = writer
	mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

// parseLevel converts a string level to zapcore.Level.
func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	err := l.UnmarshalText([]byte(level))
	return l, err
}

// L returns the global logger, initializing it with defaults on first use.
func L() *zap.Logger {
	mu.Lock()
	logger := globalLogger
	mu.Unlock()
	if logger != nil {
		return logger
	}
	if err := Setup(DefaultConfig()); err != nil {
		return zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	return globalLogger
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return L().Sugar()
}

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// WithContext creates a child logger with context fields for request tracking.
func WithContext(requestID string, operationType string) *zap.Logger {
	return L().With(
		zap.String("request_id", requestID),
		zap.String("operation", operationType),
	)
}

// Sync flushes any buffered log entries.
func Sync() error {
	mu.Lock()
	logger := globalLogger
	mu.Unlock()
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

// Close flushes the logger and releases the rotating log file.
func Close() error {
	_ = Sync()

	mu.Lock()
	writer := fileWriter
	fileWriter = nil
	globalLogger = nil
	mu.Unlock()

	if writer != nil {
		return writer.Close()
	}
	return nil
}

// Field constructors for common log fields

// Path returns a field for file/directory paths.
func Path(path string) zap.Field {
	return zap.String("path", path)
}

// Count returns a field for counts/quantities.
func Count(n int) zap.Field {
	return zap.Int("count", n)
}

// Duration returns a field for time durations.
func Duration(d time.Duration) zap.Field {
	return zap.Duration("duration", d)
}

// ErrorCode returns a field for error codes.
func ErrorCode(code string) zap.Field {
	return zap.String("error_code", code)
}

// Offset returns a field for byte offsets into the alert log.
func Offset(n int64) zap.Field {
	return zap.Int64("offset", n)
}

// Severity returns a field for alert severity tiers.
func Severity(s string) zap.Field {
	return zap.String("severity", s)
}

// RuleLevel returns a field for the raw Wazuh rule level.
func RuleLevel(level int) zap.Field {
	return zap.Int("rule_level", level)
}

// RuleID returns a field for the Wazuh rule identifier.
func RuleID(id string) zap.Field {
	return zap.String("rule_id", id)
}

// Model returns a field for the analysis provenance tag.
func Model(name string) zap.Field {
	return zap.String("model", name)
}

// URL returns a field for remote endpoints.
func URL(u string) zap.Field {
	return zap.String("url", u)
}
