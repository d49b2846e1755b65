package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/phsym/console-slog"
)

// Format selects the record encoding of a slog-backed Logger.
type Format string

const (
	FormatJSON    Format = "json"
	FormatText    Format = "text"
	FormatConsole Format = "console" // colored, for terminals
)

// ParseFormat converts a format name into a Format. An empty name selects the
// environment default, see DefaultFormat.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return DefaultFormat(), nil
	case FormatJSON, FormatText, FormatConsole:
		return f, nil
	default:
		return "", fmt.Errorf("logger: unknown format %q", name)
	}
}

// DefaultFormat is FormatConsole when the ENV environment variable is
// "development" and FormatJSON otherwise.
func DefaultFormat() Format {
	if os.Getenv("ENV") == "development" {
		return FormatConsole
	}

	return FormatJSON
}

// Options configures New.
type Options struct {
	Level     Level
	Format    Format    // empty selects DefaultFormat
	AddSource bool      // always on for FormatConsole
	Output    io.Writer // defaults to os.Stdout
}

// SlogLogger is a Logger backed by log/slog. Children created with With share
// the level of their parent.
type SlogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

var _ Logger = (*SlogLogger)(nil)

// New creates a slog-backed Logger.
func New(opts Options) Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Format == "" {
		opts.Format = DefaultFormat()
	}

	level := &slog.LevelVar{}
	level.Set(toSlogLevel(opts.Level))

	var handler slog.Handler
	switch opts.Format {
	case FormatConsole:
		handler = console.NewHandler(opts.Output, &console.HandlerOptions{
			AddSource: true,
			Level:     level,
		})
	case FormatText:
		handler = slog.NewTextHandler(opts.Output, handlerOptions(level, opts.AddSource))
	default:
		handler = slog.NewJSONHandler(opts.Output, handlerOptions(level, opts.AddSource))
	}

	return &SlogLogger{logger: slog.New(handler), level: level}
}

// NewSlog creates a Logger writing to stdout in the default format.
func NewSlog(level Level, addSource bool) Logger {
	return New(Options{Level: level, AddSource: addSource})
}

// NewSlogWriter creates a Logger writing to w in the default format.
func NewSlogWriter(w io.Writer, level Level, addSource bool) Logger {
	return New(Options{Level: level, AddSource: addSource, Output: w})
}

func handlerOptions(level *slog.LevelVar, addSource bool) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		AddSource: addSource,
		Level:     level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "ts"
			}

			return a
		},
	}
}

func (l *SlogLogger) Debug(msg string, keysAndValues ...any) {
	l.log(slog.LevelDebug, msg, keysAndValues...)
}

func (l *SlogLogger) Info(msg string, keysAndValues ...any) {
	l.log(slog.LevelInfo, msg, keysAndValues...)
}

func (l *SlogLogger) Warn(msg string, keysAndValues ...any) {
	l.log(slog.LevelWarn, msg, keysAndValues...)
}

func (l *SlogLogger) Error(msg string, keysAndValues ...any) {
	l.log(slog.LevelError, msg, keysAndValues...)
}

func (l *SlogLogger) Fatal(msg string, keysAndValues ...any) {
	l.log(slog.LevelError, msg, keysAndValues...)
	os.Exit(1)
}

func (l *SlogLogger) With(keyValues ...any) Logger {
	return &SlogLogger{
		logger: l.logger.With(keyValues...),
		level:  l.level,
	}
}

func (l *SlogLogger) Level() Level {
	switch lv := l.level.Level(); {
	case lv <= slog.LevelDebug:
		return DebugLevel
	case lv <= slog.LevelInfo:
		return InfoLevel
	case lv <= slog.LevelWarn:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

func (l *SlogLogger) SetLevel(level Level) {
	l.level.Set(toSlogLevel(level))
}

// log must be called directly by an exported logging method: the source
// position is taken at a fixed call depth.
func (l *SlogLogger) log(level slog.Level, msg string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip runtime.Callers, log and the exported method

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.logger.Handler().Handle(ctx, r)
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
