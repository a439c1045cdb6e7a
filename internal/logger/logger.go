// Package logger builds the application slog.Logger: a console handler
// teed into a rotating JSON log file.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/sivert-io/matchzy-auto-tournament/internal/config"
)

// New returns a logger writing to stderr and, when a path is given, to a
// rotating file. The returned closer flushes and closes the file writer;
// it is nil when no file is used.
func New(cfg config.LoggingConfig, filePath string) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Level)
	console := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	if filePath == "" {
		return slog.New(console), nil, nil
	}

	fw, err := NewFileWriter(filePath, RotationPolicy{
		MaxSize:    int64(cfg.MaxSizeMB) * 1024 * 1024,
		MaxBackups: cfg.MaxBackups,
	})
	if err != nil {
		return nil, nil, err
	}

	return slog.New(newTeeHandler(console, fw)), fw, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// teeHandler forwards records to the console handler and mirrors them
// into the file writer, best effort.
type teeHandler struct {
	console slog.Handler
	file    *FileWriter
}

func newTeeHandler(console slog.Handler, file *FileWriter) *teeHandler {
	return &teeHandler{console: console, file: file}
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.console.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.console.Handle(ctx, r); err != nil {
		return err
	}
	// A full disk must not take the application down with it.
	_ = h.file.WriteRecord(r)
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{console: h.console.WithAttrs(attrs), file: h.file}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{console: h.console.WithGroup(name), file: h.file}
}
