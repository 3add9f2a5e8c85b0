package auth

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

// NamedLogger is a Logger that hands out component loggers.
type NamedLogger interface {
	Logger
	Fatal(msg string, args ...any)
	Named(component string) NamedLogger
}

// NewLogger picks the backend for format: "pretty" is the go-logger
// console logger, "json" and "text" are slog handlers writing to w.
func NewLogger(w io.Writer, level, format string) NamedLogger {
	if strings.EqualFold(strings.TrimSpace(format), "pretty") {
		return NewGlogLogger("storefront", level)
	}
	return NewSlogLogger(w, level, format)
}

// GlogLogger adapts a go-logger logger to Logger. Rich errors passed as
// attributes are expanded with their category, code and metadata.
type GlogLogger struct {
	glog.Logger
	base *glog.BaseLogger
}

var _ NamedLogger = (*GlogLogger)(nil)

func NewGlogLogger(name, level string) *GlogLogger {
	levelOpt := glog.WithLevel(glog.Info)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		levelOpt = glog.WithLevel(glog.Trace)
	case "debug":
		levelOpt = glog.WithLevel(glog.Debug)
	case "warn", "warning":
		levelOpt = glog.WithLevel(glog.Warn)
	case "error":
		levelOpt = glog.WithLevel(glog.Error)
	}

	base := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		levelOpt,
		glog.WithName(name),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
	return &GlogLogger{Logger: base.GetLogger(name), base: base}
}

func (l *GlogLogger) Named(component string) NamedLogger {
	return &GlogLogger{Logger: l.base.GetLogger(component), base: l.base}
}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	*slog.Logger
}

var _ NamedLogger = (*SlogLogger)(nil)

// NewSlogLogger builds a logger writing to w. format is "json" or "text",
// level one of debug, info, warn, error.
func NewSlogLogger(w io.Writer, level, format string) *SlogLogger {
	if w == nil {
		w = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: ParseLogLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &SlogLogger{Logger: slog.New(handler)}
}

// Named returns a child logger tagged with a component name.
func (l *SlogLogger) Named(component string) NamedLogger {
	return &SlogLogger{Logger: l.Logger.With("component", component)}
}

// Fatal is equivalent to Error followed by os.Exit(1).
func (l *SlogLogger) Fatal(msg string, args ...any) {
	l.Logger.Error(msg, args...)
	os.Exit(1)
}

func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	d.print("ERR", msg, args...)
}

func (d defLogger) Warn(msg string, args ...any) {
	d.print("WRN", msg, args...)
}

func (d defLogger) Info(msg string, args ...any) {
	d.print("INF", msg, args...)
}

func (d defLogger) Debug(msg string, args ...any) {
	d.print("DBG", msg, args...)
}

func (defLogger) print(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString("[" + level + "] AUTH " + msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	fmt.Println(b.String())
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}
