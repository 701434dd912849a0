// Package logging provides the structured logger shared by the sender and
// receiver processes, following the construction pattern of the teacher
// repository's internal/logging package: an slog.Logger configured with a
// level and a json/text handler, optionally fanned out to a log file
// alongside stdout.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds an slog.Logger for the given level ("debug", "info",
// "warn", "error"; default "info") and format ("json", default; or "text").
// If filePath is non-empty, log records are written to both stdout and the
// file via io.MultiWriter; the returned io.Closer must be closed on
// shutdown. If filePath is empty, the returned Closer is a no-op.
func NewLogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var w io.Writer = os.Stdout
	closer := io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), closer
}

func parseLevel(level string) slog.Level {
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
