// Package logger provides structured logging for the engine
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with engine-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "quilldb").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Fatal().Str("msg", msg)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// DbLogger returns a child logger scoped to a storage-engine component
// (disk, buffer, btree, heap, catalog).
func (l *Logger) DbLogger(component string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", component).
			Logger(),
	}
}

// WalLogger returns a child logger scoped to the write-ahead log.
func (l *Logger) WalLogger() *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "wal").
			Logger(),
	}
}

// TxnLogger returns a child logger scoped to one transaction.
func (l *Logger) TxnLogger(txnID uint64) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "txn").
			Uint64("txn_id", txnID).
			Logger(),
	}
}

// LogPageIO logs a page-level disk read/write with structured fields.
func (l *Logger) LogPageIO(op string, pageID uint32, duration time.Duration, err error) {
	event := l.zlog.Debug().
		Str("component", "disk").
		Str("op", op).
		Uint32("page_id", pageID).
		Dur("duration_ms", duration)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "disk").
			Str("op", op).
			Uint32("page_id", pageID).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("page io")
}

// LogTxnEvent logs a transaction lifecycle transition.
func (l *Logger) LogTxnEvent(event string, txnID uint64, err error) {
	e := l.zlog.Info().
		Str("component", "txn").
		Str("event", event).
		Uint64("txn_id", txnID)

	if err != nil {
		e = l.zlog.Error().
			Str("component", "txn").
			Str("event", event).
			Uint64("txn_id", txnID).
			Err(err)
	}

	e.Msg("transaction event")
}

// LogEngineStart logs engine startup.
func (l *Logger) LogEngineStart(dataDir string, bufferPoolSize int) {
	l.zlog.Info().
		Str("event", "engine_start").
		Str("data_dir", dataDir).
		Int("buffer_pool_size", bufferPoolSize).
		Msg("quilldb engine starting")
}

// LogEngineReady logs engine readiness.
func (l *Logger) LogEngineReady() {
	l.zlog.Info().
		Str("event", "engine_ready").
		Msg("quilldb engine ready")
}

// LogEngineShutdown logs engine shutdown.
func (l *Logger) LogEngineShutdown() {
	l.zlog.Info().
		Str("event", "engine_shutdown").
		Msg("quilldb engine shutting down")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
