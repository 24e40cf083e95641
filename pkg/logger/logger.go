// Package logger provides component-scoped structured logging on top of log/slog.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	mu     sync.RWMutex
	level  = new(slog.LevelVar)
	active = newLogger(os.Stderr, false)
)

func newLogger(w io.Writer, jsonFormat bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if jsonFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// SetLevel changes the minimum level for every component.
func SetLevel(l LogLevel) {
	level.Set(l.slogLevel())
}

// SetOutput redirects log output. JSON output is used for non-terminal sinks in the gateway.
func SetOutput(w io.Writer, jsonFormat bool) {
	mu.Lock()
	defer mu.Unlock()
	active = newLogger(w, jsonFormat)
}

// Slog exposes the underlying logger for libraries that accept one.
func Slog() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

func logf(l slog.Level, component, msg string, fields map[string]interface{}) {
	lg := Slog()
	if !lg.Enabled(context.Background(), l) {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields)+1)
	if component != "" {
		attrs = append(attrs, slog.String("component", component))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	lg.LogAttrs(context.Background(), l, msg, attrs...)
}

func Debug(msg string) { logf(slog.LevelDebug, "", msg, nil) }
func Info(msg string)  { logf(slog.LevelInfo, "", msg, nil) }
func Warn(msg string)  { logf(slog.LevelWarn, "", msg, nil) }
func Error(msg string) { logf(slog.LevelError, "", msg, nil) }

func DebugC(component, msg string) { logf(slog.LevelDebug, component, msg, nil) }
func InfoC(component, msg string)  { logf(slog.LevelInfo, component, msg, nil) }
func WarnC(component, msg string)  { logf(slog.LevelWarn, component, msg, nil) }
func ErrorC(component, msg string) { logf(slog.LevelError, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	logf(slog.LevelDebug, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	logf(slog.LevelInfo, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	logf(slog.LevelWarn, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	logf(slog.LevelError, component, msg, fields)
}
