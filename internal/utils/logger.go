package utils

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ServiceName is attached to every record of the process logger.
const ServiceName = "mirador-netops"

// ParseLevel maps a configured level name onto a slog level. Names are
// case-insensitive and accept slog offsets such as "debug-2"; "warning" is an
// alias for warn. The empty string means info.
func ParseLevel(name string) (slog.Level, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return slog.LevelInfo, nil
	}
	if strings.EqualFold(name, "warning") {
		name = "warn"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// NewLogger builds the process logger writing text or JSON records to w.
func NewLogger(w io.Writer, level string, json bool) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("service", ServiceName)), nil
}

// Component scopes logger to one subsystem. A nil logger falls back to the
// process default.
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", name))
}

// RunLogger tags every record with the pipeline run and its device.
func RunLogger(logger *slog.Logger, runID, deviceID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("run_id", runID), slog.String("device_id", deviceID))
}
