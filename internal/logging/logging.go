// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides structured logging for all netwarden components.
// It wraps log/slog with a component-scoped logger so log lines can be
// filtered per subsystem (capture, analyze, store, sched, api, ...).
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Level mirrors slog levels with string config names.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a config string into a Level. Unknown strings map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config controls logger construction.
type Config struct {
	Level  Level
	JSON   bool      // JSON handler instead of text
	Output io.Writer // defaults to stderr
}

// DefaultConfig returns the default logging configuration (text, info, stderr).
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// Logger is a component-scoped structured logger.
type Logger struct {
	sl *slog.Logger
}

// New creates a Logger from the given configuration.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level.slog()}
	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return &Logger{sl: slog.New(h)}
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{sl: l.sl.With("component", name)}
}

// With returns a child logger carrying extra key/value context.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{sl: l.sl.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.sl.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.sl.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.sl.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.sl.Error(msg, kv...) }

var (
	defaultMu sync.RWMutex
	defaultLg = New(DefaultConfig())
)

// Default returns the process-wide default logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLg
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLg = l
}

// WithComponent returns a component logger derived from the default logger.
func WithComponent(name string) *Logger {
	return Default().WithComponent(name)
}

// Package-level helpers logging through the default logger.

func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Default().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Default().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }
