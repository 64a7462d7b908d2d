package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a structured logger backed by zerolog. zerolog cannot drop a
// context field, so the logger keeps its root and the fields added since, and
// WithComponent rebuilds from them to keep a single component key.
type Logger struct {
	zl        zerolog.Logger
	root      zerolog.Logger // no component, no derived fields
	component string
	with      []func(zerolog.Context) zerolog.Context
}

// Config holds logger configuration
type Config struct {
	Level       string `json:"level"`
	Output      string `json:"output"` // "stdout", "stderr", or file path
	Component   string `json:"component"`
	IncludeFile bool   `json:"include_file"` // Include file and line number
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	MaxSizeMB   int    `json:"max_size_mb"`  // rotation size for file output
	MaxBackups  int    `json:"max_backups"`
	MaxAgeDays  int    `json:"max_age_days"`
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
	once          sync.Once
)

// ParseLevel converts a string to a zerolog level
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a new logger with the given configuration
func New(cfg *Config) *Logger {
	var output io.Writer = os.Stdout

	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		output = os.Stderr
	default:
		output = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}

	if !cfg.JSONFormat {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	return NewWithWriter(output, cfg)
}

// NewWithWriter builds a logger that writes to w, used by tests
func NewWithWriter(w io.Writer, cfg *Config) *Logger {
	ctx := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.IncludeFile {
		ctx = ctx.Caller()
	}
	root := &Logger{root: ctx.Logger()}
	return root.WithComponent(cfg.Component)
}

// derive returns a child logger with fn applied on top of l
func (l *Logger) derive(fn func(zerolog.Context) zerolog.Context) *Logger {
	with := append(l.with[:len(l.with):len(l.with)], fn)
	return &Logger{zl: fn(l.zl.With()).Logger(), root: l.root, component: l.component, with: with}
}

// Default returns the default logger instance
func Default() *Logger {
	once.Do(func() {
		defaultMu.Lock()
		if defaultLogger == nil {
			defaultLogger = New(&Config{Level: "INFO", Output: "stdout", Component: "app", JSONFormat: true})
		}
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	once.Do(func() {})
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Zerolog exposes the underlying logger for packages that take one directly
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// WithComponent returns a new logger whose component replaces any inherited
// one. Other fields are kept.
func (l *Logger) WithComponent(component string) *Logger {
	ctx := l.root.With()
	if component != "" {
		ctx = ctx.Str("component", component)
	}
	for _, fn := range l.with {
		ctx = fn(ctx)
	}
	return &Logger{zl: ctx.Logger(), root: l.root, component: component, with: l.with}
}

// Component returns the logger's component, empty when unset
func (l *Logger) Component() string {
	return l.component
}

// WithTraceID returns a new logger with the specified trace ID
func (l *Logger) WithTraceID(traceID string) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Str("trace_id", traceID) })
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

// WithError returns a new logger with an error field
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

// WithDuration returns a new logger with duration field
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.derive(func(c zerolog.Context) zerolog.Context { return c.Dur("duration", d) })
}

// log supports both key/value pairs and printf-style args, like the
// callers across the repo expect.
func (l *Logger) log(ev *zerolog.Event, msg string, args ...interface{}) {
	if ev == nil {
		return
	}
	if len(args) >= 2 && len(args)%2 == 0 {
		if _, ok := args[0].(string); ok {
			for i := 0; i < len(args); i += 2 {
				key, ok := args[i].(string)
				if !ok {
					continue
				}
				if err, isErr := args[i+1].(error); isErr {
					ev = ev.AnErr(key, err)
					continue
				}
				ev = ev.Interface(key, args[i+1])
			}
			ev.Msg(msg)
			return
		}
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	ev.Msg(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) { l.log(l.zl.Debug(), msg, args...) }

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) { l.log(l.zl.Info(), msg, args...) }

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) { l.log(l.zl.Warn(), msg, args...) }

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) { l.log(l.zl.Error(), msg, args...) }

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log(l.zl.WithLevel(zerolog.FatalLevel), msg, args...)
	os.Exit(1)
}

// Package-level functions for default logger

func Debug(msg string, args ...interface{}) { Default().Debug(msg, args...) }
func Info(msg string, args ...interface{})  { Default().Info(msg, args...) }
func Warn(msg string, args ...interface{})  { Default().Warn(msg, args...) }
func Error(msg string, args ...interface{}) { Default().Error(msg, args...) }
func Fatal(msg string, args ...interface{}) { Default().Fatal(msg, args...) }

// WithComponent returns a new logger with the specified component
func WithComponent(component string) *Logger {
	return Default().WithComponent(component)
}

// WithError returns a new logger with an error field
func WithError(err error) *Logger {
	return Default().WithError(err)
}
