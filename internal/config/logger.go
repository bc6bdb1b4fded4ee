package config

import (
	"log/slog"
	"os"
	"strings"
)

// InitLogger installs the process-wide slog logger.
// Production emits plain JSON; other environments add source locations.
func InitLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}
	if cfg.Env != "production" {
		opts.AddSource = true
		opts.ReplaceAttr = replaceTimeAttr
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	slog.SetDefault(logger)
	return logger
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

func replaceTimeAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.String("time", a.Value.Time().Local().Format("2006-01-02 15:04:05"))
	}
	return a
}
