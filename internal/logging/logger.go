package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process-wide JSON logger. The service attribute
// is stamped on every record so the dispatch server and the location
// consumer can be told apart in a shared log stream.
func NewLogger(service, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	if service != "" {
		log = log.With("service", service)
	}
	return log
}

// parseLevel maps a config string to a slog level, defaulting to info
// so a typo never silences the logs.
func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		return slog.LevelInfo
	}
	return l
}
