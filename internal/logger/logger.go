// Package logger is the project-wide console logger. Call sites tag every
// line with the subsystem that produced it ("ESI", "DB", "ENGINE", ...).
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// Setup replaces the process logger. level is debug|info|warn|error, format is text|json.
func Setup(w io.Writer, level, format string) {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	l := slog.New(h)
	current.Store(l)
	slog.SetDefault(l)
}

// ParseLevel maps a config string to a slog level; unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// L returns the underlying structured logger.
func L() *slog.Logger {
	return current.Load()
}

func Debug(tag, msg string, args ...any) {
	L().Debug(msg, append([]any{"tag", tag}, args...)...)
}

func Info(tag, msg string, args ...any) {
	L().Info(msg, append([]any{"tag", tag}, args...)...)
}

// Success is an info line marking a completed step.
func Success(tag, msg string, args ...any) {
	L().Info(msg, append([]any{"tag", tag, "ok", true}, args...)...)
}

func Warn(tag, msg string, args ...any) {
	L().Warn(msg, append([]any{"tag", tag}, args...)...)
}

func Error(tag, msg string, args ...any) {
	L().Error(msg, append([]any{"tag", tag}, args...)...)
}

// Banner prints the startup banner.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	fmt.Fprintf(os.Stdout, "\n  EVE Trade Profit Tracker %s\n  cross-region arbitrage + cycle planner\n\n", version)
}

// Section prints a section heading.
func Section(title string) {
	fmt.Fprintf(os.Stdout, "\n== %s ==\n", title)
}

// Stats prints a key/value pair under the current section.
func Stats(key string, value any) {
	fmt.Fprintf(os.Stdout, "  %-24s %v\n", key, value)
}

// Server logs the listen address.
func Server(addr string) {
	Info("Server", "listening", "addr", "http://"+addr)
}
