// Package logging sets up the process-wide slog logger. In monitor
// mode the TUI owns the terminal, so output can start out buffered and
// is flushed to its final destination once the TUI provides one.
package logging

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"kleinert.net/mcprig/config"
)

// teeWriter buffers log output until a target is set, and optionally
// duplicates everything to a log file.
type teeWriter struct {
	mu        sync.Mutex
	buffer    bytes.Buffer
	target    io.Writer
	file      *os.File
	buffering bool
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	if w.buffering {
		w.buffer.Write(p)
	} else if w.target != nil {
		if _, err := w.target.Write(p); err != nil {
			firstErr = err
		}
	}
	if w.file != nil {
		if _, err := w.file.Write(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(p), firstErr
}

var writer *teeWriter

// Init configures the default slog logger from the logging section of
// the configuration. With cfg.Buffered set, output is held back until
// SetOutput is called.
func Init(cfg config.LoggingConfig) error {
	writer = &teeWriter{buffering: cfg.Buffered}
	if !cfg.Buffered {
		writer.target = os.Stderr
	}

	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return err
		}
		writer.file = file
	}

	var level slog.Level
	switch strings.ToUpper(cfg.Level) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// SetOutput flushes any buffered output to the new target and switches
// to live logging.
func SetOutput(target io.Writer) error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	if writer.buffer.Len() > 0 {
		if _, err := target.Write(writer.buffer.Bytes()); err != nil {
			return err
		}
		writer.buffer.Reset()
	}
	writer.target = target
	writer.buffering = false
	return nil
}

// Close flushes whatever is still buffered and closes the log file.
// Output buffered with no target ends up on stderr rather than being
// lost.
func Close() error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	var firstErr error
	if writer.buffer.Len() > 0 {
		out := io.Writer(os.Stderr)
		if writer.file != nil {
			out = writer.file
		}
		if _, err := out.Write(writer.buffer.Bytes()); err != nil {
			firstErr = err
		}
		writer.buffer.Reset()
	}
	if writer.file != nil {
		if err := writer.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
