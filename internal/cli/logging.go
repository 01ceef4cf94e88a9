package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/maxdollinger/unistage/internal/config"
)

// NewLogger builds the process logger. JSON is the default so boot runs can
// be collected by dom0 log shippers.
func NewLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(orDefault(cfg.Level, "info")))); err != nil {
		return nil, fmt.Errorf("%w: log level %q", config.ErrInvalidConfig, cfg.Level)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch orDefault(cfg.Format, "json") {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: log format %q", config.ErrInvalidConfig, cfg.Format)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
