// Package logging builds the firewall's structured logger.
//
// Logs go to stderr, never stdout: stdout carries the protocol stream to
// the agent. An optional file receives a copy of every record.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options configure New.
type Options struct {
	// Level is "debug", "info", "warn" or "error". Empty means info.
	Level string
	// Verbose forces debug level.
	Verbose bool
	// File, if set, is appended to alongside Stderr.
	File string
	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

// Logger is a slog.Logger with an adjustable level and an optional file.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
	file  *os.File
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// New creates the logger described by opts.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(level)

	var w io.Writer = os.Stderr
	if opts.Stderr != nil {
		w = opts.Stderr
	}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", opts.File, err)
		}
		l.file = f
		w = io.MultiWriter(w, f)
	}

	l.Logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l.level}))
	return l, nil
}

// SetDebug switches between debug and info level.
func (l *Logger) SetDebug(enabled bool) {
	if enabled {
		l.level.Set(slog.LevelDebug)
	} else {
		l.level.Set(slog.LevelInfo)
	}
}

// Level returns the current level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
