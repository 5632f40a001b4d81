// Package logging configures structured logging for Tusflow using log/slog.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// serviceAttr tags every record so aggregators can separate upload-server
// traffic from whatever else shares the log stream.
const serviceAttr = "tusflow"

// Setup configures the default slog logger with the specified level and
// format. Supported levels: "debug", "info", "warn", "error" (default:
// "info"). Supported formats: "text", "json" (default: "text").
func Setup(level, format string, w io.Writer) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler).With("service", serviceAttr))
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
