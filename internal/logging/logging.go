// Package logging builds the process logger from the log section of the
// configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/recera/livecanvas/internal/config"
)

// Logger is a slog logger whose level can change at runtime.
type Logger struct {
	*slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New returns a logger writing to cfg.File, or to fallback when no file is
// set. A nil fallback means stderr.
func New(cfg config.LogConfig, fallback io.Writer) (*Logger, error) {
	l := &Logger{level: new(slog.LevelVar)}
	if err := l.SetLevel(cfg.Level); err != nil {
		return nil, err
	}

	w := fallback
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w, l.closer = f, f
	}
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: l.level}
	switch cfg.Format {
	case "json":
		l.Logger = slog.New(slog.NewJSONHandler(w, opts))
	case "", "text":
		l.Logger = slog.New(slog.NewTextHandler(w, opts))
	default:
		l.Close()
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return l, nil
}

// SetLevel changes the minimum level of every record logged from now on.
func (l *Logger) SetLevel(name string) error {
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	l.level.Set(level)
	return nil
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
