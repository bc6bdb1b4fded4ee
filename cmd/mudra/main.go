package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/config"
)

func main() {
	cfg := config.Load()
	config.InitLogger(cfg)
	slog.Info("Starting mudra",
		"addr", cfg.Addr,
		"models_dir", cfg.ModelsDir,
		"db_path", cfg.DBPath,
		"env", cfg.Env,
	)

	if cfg.StaticDir == "" {
		cfg.StaticDir = findWebDir()
	}
	if cfg.StaticDir != "" {
		slog.Info("Serving static files", "dir", cfg.StaticDir)
	}

	a, err := app.New(cfg, nil)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		slog.Error("Server failed", "error", err)
		a.Close()
		os.Exit(1)
	}
}

// findWebDir looks for a bundled browser client next to the working directory.
func findWebDir() string {
	for _, p := range []string{"web", "../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
	}
	return ""
}
