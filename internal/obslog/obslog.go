// Package obslog builds the structured logger that cmd/apitap hands to the
// vault and the browse service. Guardrail logs a security rejection — an
// unsafe URL, a redirect refused, a signature that doesn't verify — at warn
// with its reason; pkg/urlsafe, pkg/replay and pkg/skillstore report such
// rejections as returned errors and do not call it.
package obslog

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging configuration.
type Config struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"` // "json" or "text"
	FilePath       string `yaml:"filePath,omitempty"`
	FileMaxSizeMB  int    `yaml:"fileMaxSizeMb,omitempty"`
	FileMaxFiles   int    `yaml:"fileMaxFiles,omitempty"`
	FileMaxAgeDays int    `yaml:"fileMaxAgeDays,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults: info level, JSON
// to stdout only.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// New builds a ready-to-use logger from cfg and a close function that
// flushes and releases the log file, if one was configured. Callers
// should defer the returned closer.
func New(cfg Config) (*slog.Logger, func() error) {
	writer, closer := buildWriter(cfg)
	handler := buildHandler(writer, parseLevel(cfg.Level), cfg.Format)
	logger := slog.New(handler)

	closeFn := func() error {
		if closer == nil {
			return nil
		}
		return closer.Close()
	}
	return logger, closeFn
}

func buildWriter(cfg Config) (io.Writer, io.Closer) {
	if cfg.FilePath == "" {
		return os.Stdout, nil
	}

	maxSize := cfg.FileMaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxFiles := cfg.FileMaxFiles
	if maxFiles <= 0 {
		maxFiles = 3
	}
	maxAge := cfg.FileMaxAgeDays
	if maxAge <= 0 {
		maxAge = 30
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    maxSize,
		MaxBackups: maxFiles,
		MaxAge:     maxAge,
	}

	return io.MultiWriter(os.Stdout, lj), lj
}

func buildHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Guardrail logs a security decision — an SSRF rejection, a refused
// redirect, a failed signature verification — at warn, with a consistent
// [guardrails] component tag and the reason attached.
func Guardrail(log *slog.Logger, event, reason string, attrs ...any) {
	args := append([]any{"event", event, "reason", reason}, attrs...)
	log.With("component", "guardrails").Warn(event, args...)
}
