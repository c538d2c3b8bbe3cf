// Package logger provides the structured logger used across alarmpipe.
//
// Components take a Logger and attach their own context with With; the
// concrete implementation is a thin wrapper over log/slog so handlers can
// be swapped between text output, JSON output and rotated files.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel is the minimum severity a logger emits.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// String returns the lowercase level name.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "debug"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel converts a level name ("debug", "info", "warn", "error") to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Field is a single structured key/value pair.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field             { return Field{Key: key, Value: value} }
func Int(key string, value int) Field            { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field        { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field      { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field    { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field          { return Field{Key: key, Value: value} }
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d} }
func Any(key string, value any) Field            { return Field{Key: key, Value: value} }

// Error attaches err under the "error" key. A nil error is logged as an empty string.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Logger is the logging interface components depend on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Options tweaks the slog handler built by NewSlogLogger.
type Options struct {
	// JSON selects the JSON handler instead of the text handler.
	JSON bool
	// AddSource records the caller file and line.
	AddSource bool
}

// SlogLogger implements Logger on top of *slog.Logger.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger writes log records at or above level to w.
// opts may be nil, in which case a text handler is used.
func NewSlogLogger(w io.Writer, level LogLevel, opts *Options) *SlogLogger {
	if opts == nil {
		opts = &Options{}
	}
	hopts := &slog.HandlerOptions{Level: level.slogLevel(), AddSource: opts.AddSource}
	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return &SlogLogger{l: slog.New(h)}
}

// Rotation configures the size-based rotation of file logs.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFileLogger writes JSON records to path, rotating with lumberjack.
// The returned closer releases the underlying file.
func NewFileLogger(path string, level LogLevel, rotation Rotation) (*SlogLogger, io.Closer) {
	if rotation.MaxSizeMB <= 0 {
		rotation.MaxSizeMB = 10
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   rotation.Compress,
	}
	return NewSlogLogger(w, level, &Options{JSON: true}), w
}

// Slog exposes the wrapped *slog.Logger for libraries that want one.
func (s *SlogLogger) Slog() *slog.Logger {
	return s.l
}

func (s *SlogLogger) Debug(msg string, fields ...Field) { s.log(slog.LevelDebug, msg, fields) }
func (s *SlogLogger) Info(msg string, fields ...Field)  { s.log(slog.LevelInfo, msg, fields) }
func (s *SlogLogger) Warn(msg string, fields ...Field)  { s.log(slog.LevelWarn, msg, fields) }
func (s *SlogLogger) Error(msg string, fields ...Field) { s.log(slog.LevelError, msg, fields) }

// With returns a logger that adds fields to every record.
func (s *SlogLogger) With(fields ...Field) Logger {
	return &SlogLogger{l: s.l.With(toArgs(fields)...)}
}

func (s *SlogLogger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}
	s.l.Log(ctx, level, msg, toArgs(fields)...)
}

func toArgs(fields []Field) []any {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, slog.Any(f.Key, f.Value))
	}
	return args
}
