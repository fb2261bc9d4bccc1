// Package logging provides structured logging with correlation ID propagation.
//
// Loggers wrap a zap core. Fields are passed as maps so call sites read the
// same whether they log one field or ten:
//
//	logger.Infof("table cleaned", map[string]any{
//	    "database": db,
//	    "table":    table,
//	    "deleted":  n,
//	})
package logging

import (
	"io"
	"os"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the severity of a log message.
type Level int

const (
	// LevelDebug is for detailed debugging information.
	LevelDebug Level = iota
	// LevelInfo is for general information messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel converts a string to a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Format represents the output format for log messages.
type Format int

const (
	// FormatJSON outputs logs as JSON objects.
	FormatJSON Format = iota
	// FormatText outputs logs as human-readable console lines.
	FormatText
)

// ParseFormat converts a string to a Format. Unknown values map to FormatJSON.
func ParseFormat(s string) Format {
	switch s {
	case "json":
		return FormatJSON
	case "text":
		return FormatText
	default:
		return FormatJSON
	}
}

// CorrelationIDKey is the field name the correlation ID is written under.
const CorrelationIDKey = "correlationId"

// Logger provides structured logging with configurable levels and formats.
// A Logger is safe for concurrent use. Derived loggers share the level.
type Logger struct {
	base          *zap.Logger
	level         zap.AtomicLevel
	correlationID string
}

// Config holds configuration for a Logger.
type Config struct {
	Level      Level
	Format     Format
	Output     io.Writer
	AddCaller  bool
	CallerSkip int
}

// New creates a new Logger with the given configuration.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		CallerKey:      "caller",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	switch cfg.Format {
	case FormatText:
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	level := zap.NewAtomicLevelAt(cfg.Level.zapLevel())
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), level)

	var opts []zap.Option
	if cfg.AddCaller {
		// Skip log() and the exported level method.
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(2+cfg.CallerSkip))
	}

	return &Logger{
		base:  zap.New(core, opts...),
		level: level,
	}
}

// DefaultLogger returns a logger with default settings.
func DefaultLogger() *Logger {
	return New(Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: os.Stderr,
	})
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{
		base:  zap.NewNop(),
		level: zap.NewAtomicLevelAt(zapcore.ErrorLevel),
	}
}

// SetLevel updates the minimum logging level.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// GetLevel returns the current logging level.
func (l *Logger) GetLevel() Level {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.InfoLevel:
		return LevelInfo
	case zapcore.WarnLevel:
		return LevelWarn
	default:
		return LevelError
	}
}

// With returns a new Logger with the given fields added.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{
		base:          l.base.With(zapFields(fields)...),
		level:         l.level,
		correlationID: l.correlationID,
	}
}

// WithCorrelationID returns a new Logger with the correlation ID set.
func (l *Logger) WithCorrelationID(id string) *Logger {
	return &Logger{
		base:          l.base,
		level:         l.level,
		correlationID: id,
	}
}

// CorrelationID returns the correlation ID attached to the logger, if any.
func (l *Logger) CorrelationID() string {
	return l.correlationID
}

// Sync flushes any buffered entries.
func (l *Logger) Sync() error {
	return l.base.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.log(LevelDebug, msg, nil)
}

// Debugf logs a debug message with fields.
func (l *Logger) Debugf(msg string, fields map[string]any) {
	l.log(LevelDebug, msg, fields)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.log(LevelInfo, msg, nil)
}

// Infof logs an info message with fields.
func (l *Logger) Infof(msg string, fields map[string]any) {
	l.log(LevelInfo, msg, fields)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.log(LevelWarn, msg, nil)
}

// Warnf logs a warning message with fields.
func (l *Logger) Warnf(msg string, fields map[string]any) {
	l.log(LevelWarn, msg, fields)
}

// Error logs an error message.
func (l *Logger) Error(msg string) {
	l.log(LevelError, msg, nil)
}

// Errorf logs an error message with fields.
func (l *Logger) Errorf(msg string, fields map[string]any) {
	l.log(LevelError, msg, fields)
}

func (l *Logger) log(level Level, msg string, extra map[string]any) {
	ce := l.base.Check(level.zapLevel(), msg)
	if ce == nil {
		return
	}
	fields := zapFields(extra)
	if l.correlationID != "" {
		fields = append(fields, zap.String(CorrelationIDKey, l.correlationID))
	}
	ce.Write(fields...)
}

// zapFields converts a field map to zap fields in key order.
func zapFields(m map[string]any) []zap.Field {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys)+1)
	for _, k := range keys {
		if err, ok := m[k].(error); ok {
			fields = append(fields, zap.String(k, err.Error()))
			continue
		}
		fields = append(fields, zap.Any(k, m[k]))
	}
	return fields
}
