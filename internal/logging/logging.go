// Package logging builds the process logger. Records go to a file because the
// terminal belongs to the progress display.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dvtrack/internal/config"
	"dvtrack/internal/dirs"
)

// New opens the log file named by cfg (or the default one in the state dir)
// and returns a text logger writing to it. The returned closer closes the file.
func New(cfg config.Log, verbose bool) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}

	path := cfg.File
	if path == "" {
		if path, err = dirs.LogFile(); err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
	}
	if err := dirs.Ensure(filepath.Dir(path)); err != nil {
		return nil, nil, fmt.Errorf("log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return NewWriter(f, level), f, nil
}

// NewWriter returns a text logger on w.
func NewWriter(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return NewWriter(io.Discard, slog.LevelError)
}

// ParseLevel accepts debug, info, warn and error. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}
