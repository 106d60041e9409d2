// Package logging builds the process logger from config.
package logging

import (
	"io"
	"strings"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"cdr.dev/slog/sloggers/slogjson"
)

// New returns a logger writing to w in the given format ("human" or "json") at the given level.
// Unknown formats fall back to human; unknown levels fall back to info.
func New(format, level string, w io.Writer) slog.Logger {
	var sink slog.Sink
	if strings.EqualFold(format, "json") {
		sink = slogjson.Sink(w)
	} else {
		sink = sloghuman.Sink(w)
	}
	return slog.Make(sink).Leveled(ParseLevel(level))
}

// ParseLevel maps debug, info, warn and error to slog levels.
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
