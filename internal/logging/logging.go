// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	maxLogSizeMB  = 10
	maxLogBackups = 5
	maxLogAgeDays = 14
)

// Config selects where and how logs are written.
type Config struct {
	// File is a log file path; empty logs to stdout.
	File string
	// Level is debug, info, warn or error.
	Level string
	// Format is text or json.
	Format string
}

// Init installs the default slog logger. When the log file directory cannot
// be created, logs go to stdout and the error is returned.
func Init(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var out io.Writer = os.Stdout
	var err error
	if path := strings.TrimSpace(cfg.File); path != "" {
		if err = os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			out = &lumberjack.Logger{
				Filename:   path,
				MaxSize:    maxLogSizeMB,
				MaxBackups: maxLogBackups,
				MaxAge:     maxLogAgeDays,
				Compress:   true,
			}
		}
	}

	logger := slog.New(newHandler(cfg.Format, out, opts))
	slog.SetDefault(logger)
	return logger, err
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
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

func newHandler(format string, out io.Writer, opts *slog.HandlerOptions) slog.Handler {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return slog.NewJSONHandler(out, opts)
	default:
		return slog.NewTextHandler(out, opts)
	}
}
