// Package logging configures slog for dyno and forwards errors to Sentry.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config holds logging configuration.
type Config struct {
	Level     string
	LogFile   string    // empty = Output
	Output    io.Writer // nil = stderr
	SentryDSN string
	Env       string
	Release   string
}

var (
	mu            sync.Mutex
	sentryEnabled bool
	logFile       *os.File
)

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Init installs the default slog logger. Records at Error and above are also
// sent to Sentry when a DSN is configured.
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	enabled := false
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Env,
			Release:          cfg.Release,
			TracesSampleRate: 0.1,
		})
		if err != nil {
			return fmt.Errorf("sentry init: %w", err)
		}
		enabled = true
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	var file *os.File
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		output = f
		file = f
	}

	if logFile != nil {
		logFile.Close()
	}
	logFile = file
	sentryEnabled = enabled

	handler := &sentryHandler{
		Handler: slog.NewTextHandler(output, &slog.HandlerOptions{
			Level:     level,
			AddSource: level == slog.LevelDebug,
		}),
		enabled: enabled,
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// Flush drains pending Sentry events and closes the log file.
func Flush(timeout time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	if sentryEnabled {
		sentry.Flush(timeout)
	}
	if logFile != nil {
		logFile.Sync()
		logFile.Close()
		logFile = nil
	}
}

func isSentryEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return sentryEnabled
}

// CaptureError logs err and reports it to Sentry with key/value context.
func CaptureError(err error, kv ...any) {
	if err == nil {
		return
	}
	slog.Error("captured error", append([]any{"error", err}, kv...)...)
	if !isSentryEnabled() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		setExtras(scope, kv)
		sentry.CaptureException(err)
	})
}

// CapturePanic reports a recovered panic value. Call it from a deferred
// recover. It returns the value so callers can re-panic.
func CapturePanic(panicValue any, kv ...any) any {
	if panicValue == nil {
		return nil
	}
	msg := fmt.Sprintf("panic: %v", panicValue)
	slog.Error(msg, append([]any{"stack", string(stack())}, kv...)...)

	if isSentryEnabled() {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelFatal)
			scope.SetTag("type", "panic")
			setExtras(scope, kv)
			if err, ok := panicValue.(error); ok {
				sentry.CaptureException(err)
			} else {
				sentry.CaptureMessage(msg)
			}
		})
		sentry.Flush(2 * time.Second)
	}
	return panicValue
}

func setExtras(scope *sentry.Scope, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			scope.SetExtra(key, kv[i+1])
		}
	}
}

func stack() []byte {
	buf := make([]byte, 16<<10)
	return buf[:runtime.Stack(buf, false)]
}

// sentryHandler wraps an slog.Handler and sends errors to Sentry.
type sentryHandler struct {
	slog.Handler
	enabled bool
	attrs   []slog.Attr
}

func (h *sentryHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}
	if h.enabled && r.Level >= slog.LevelError {
		sentry.CaptureEvent(h.event(r))
	}
	return nil
}

// event builds the Sentry event for r. An "error" attribute becomes the
// exception value.
func (h *sentryHandler) event(r slog.Record) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = sentryLevel(r.Level)
	event.Message = r.Message
	event.Timestamp = r.Time

	var cause error
	add := func(a slog.Attr) {
		if a.Key == "error" {
			if err, ok := a.Value.Any().(error); ok {
				cause = err
			}
		}
		event.Extra[a.Key] = a.Value.Any()
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})

	value := r.Message
	if cause != nil {
		value = r.Message + ": " + cause.Error()
	}
	exc := sentry.Exception{Type: "LogError", Value: value}
	if r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		exc.Stacktrace = &sentry.Stacktrace{Frames: []sentry.Frame{{
			Filename: frame.File,
			Function: frame.Function,
			Lineno:   frame.Line,
		}}}
	}
	if cause != nil {
		var typed interface{ Unwrap() error }
		if errors.As(cause, &typed) {
			exc.Type = fmt.Sprintf("%T", typed)
		}
	}
	event.Exception = []sentry.Exception{exc}
	return event
}

func (h *sentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sentryHandler{
		Handler: h.Handler.WithAttrs(attrs),
		enabled: h.enabled,
		attrs:   append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *sentryHandler) WithGroup(name string) slog.Handler {
	return &sentryHandler{
		Handler: h.Handler.WithGroup(name),
		enabled: h.enabled,
		attrs:   h.attrs,
	}
}

func sentryLevel(level slog.Level) sentry.Level {
	switch {
	case level >= slog.LevelError:
		return sentry.LevelError
	case level >= slog.LevelWarn:
		return sentry.LevelWarning
	case level >= slog.LevelInfo:
		return sentry.LevelInfo
	default:
		return sentry.LevelDebug
	}
}
