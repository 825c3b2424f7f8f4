package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// NewLogger builds the process logger from LogLevel and LogFormat.
func NewLogger(cfg *Config) (*slog.Logger, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func defaultLogFormat(environment string) string {
	if strings.EqualFold(environment, "production") {
		return LogFormatJSON
	}
	return LogFormatText
}
