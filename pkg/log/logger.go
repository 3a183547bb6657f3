package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Level represents the severity of a log message.
type Level int

// Log levels, lowest to highest severity.
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the level's canonical lowercase name.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses a level name. Empty input is not accepted; callers
// decide their own default.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger is the structured logging interface handed to components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a derived logger carrying the given fields on every entry.
	With(fields ...Field) Logger
	// WithComponent tags entries with a component name.
	WithComponent(component string) Logger

	SetLevel(level Level)
	GetLevel() Level
}

// Config is the process-wide logging configuration surface.
type Config struct {
	Level  string `json:"level" env:"LOG_LEVEL"`
	Format string `json:"format" env:"LOG_FORMAT"` // text|json
}

// ApplyConfig builds a Logger from Config, defaulting to info/text.
func ApplyConfig(cfg *Config) (Logger, error) {
	level := InfoLevel
	if cfg.Level != "" {
		l, err := ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}
	switch cfg.Format {
	case "", "text", "json":
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return NewLogger(WithLevel(level), WithFormat(cfg.Format)), nil
}

// Option configures a logger at construction time.
type Option func(*options)

type options struct {
	level  Level
	format string
	writer io.Writer
}

// WithLevel sets the minimum level.
func WithLevel(level Level) Option { return func(o *options) { o.level = level } }

// WithFormat selects "text" or "json" output. Empty means text.
func WithFormat(format string) Option { return func(o *options) { o.format = format } }

// WithWriter sets the output sink. Defaults to stderr.
func WithWriter(w io.Writer) Option { return func(o *options) { o.writer = w } }

type baseLogger struct {
	sl  *slog.Logger
	lvl *slog.LevelVar
}

// NewLogger constructs a Logger backed by a slog handler.
func NewLogger(opts ...Option) Logger {
	o := options{level: InfoLevel, format: "text", writer: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	lvl := new(slog.LevelVar)
	lvl.Set(toSlogLevel(o.level))
	hopts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if o.format == "json" {
		h = slog.NewJSONHandler(o.writer, hopts)
	} else {
		h = slog.NewTextHandler(o.writer, hopts)
	}
	return &baseLogger{sl: slog.New(h), lvl: lvl}
}

func (l *baseLogger) Debug(msg string, fields ...Field) { l.sl.Debug(msg, args(fields)...) }
func (l *baseLogger) Info(msg string, fields ...Field)  { l.sl.Info(msg, args(fields)...) }
func (l *baseLogger) Warn(msg string, fields ...Field)  { l.sl.Warn(msg, args(fields)...) }
func (l *baseLogger) Error(msg string, fields ...Field) { l.sl.Error(msg, args(fields)...) }

func (l *baseLogger) With(fields ...Field) Logger {
	return &baseLogger{sl: l.sl.With(args(fields)...), lvl: l.lvl}
}

func (l *baseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

func (l *baseLogger) SetLevel(level Level) { l.lvl.Set(toSlogLevel(level)) }

func (l *baseLogger) GetLevel() Level { return fromSlogLevel(l.lvl.Level()) }

func args(fields []Field) []any {
	out := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

func toSlogLevel(l Level) slog.Level {
	switch l {
	case DebugLevel:
		return slog.LevelDebug
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fromSlogLevel(l slog.Level) Level {
	switch {
	case l <= slog.LevelDebug:
		return DebugLevel
	case l <= slog.LevelInfo:
		return InfoLevel
	case l <= slog.LevelWarn:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

// NopLogger returns a logger that discards everything. Useful in tests.
func NopLogger() Logger {
	return NewLogger(WithWriter(io.Discard), WithLevel(ErrorLevel))
}
