// Package app wires the mudra recognition service together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/events"
	"github.com/ayusman/mudra/internal/recognizer"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/window"
)

const (
	redisKeyPrefix  = "mudra:window:"
	pruneInterval   = time.Hour
	shutdownTimeout = 30 * time.Second
)

// App owns every long-lived component of the service.
type App struct {
	config    *config.Config
	store     *store.Store
	extractor detector.Extractor
	redis     *redis.Client
	publisher *events.Publisher
	sessions  *session.Manager
	registry  *recognizer.Registry
	server    *server.Server
}

// New creates an App from cfg. The extractor may be supplied by the caller;
// nil selects MediaPipe when its script is configured and the mock otherwise.
func New(cfg *config.Config, extractor detector.Extractor) (*App, error) {
	a := &App{config: cfg}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	if err := classifier.InitRuntime(cfg.ORTLibrary); err != nil {
		slog.Warn("ONNX Runtime not available, onnx recognizers are disabled", "error", err)
	}

	if extractor == nil {
		extractor = newExtractor(cfg)
	}
	a.extractor = extractor

	factory := window.Memory()
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := a.redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		factory = window.Redis(a.redis, redisKeyPrefix, cfg.SessionIdle)
		slog.Info("using redis window buffers", "addr", cfg.RedisAddr)
	}
	a.sessions = session.NewManager(factory, cfg.SessionIdle)

	a.registry = recognizer.NewRegistry()
	deps := recognizer.Deps{
		Extractor: a.extractor,
		Sessions:  a.sessions,
		Store:     a.store,
	}
	if cfg.MQTTBroker != "" {
		pub, err := events.Connect(events.Config{Broker: cfg.MQTTBroker, Topic: cfg.MQTTTopic, QoS: 1})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = pub
		deps.Publisher = pub
	}
	if err := a.registry.Load(cfg.ModelsDir, deps); err != nil {
		a.Close()
		return nil, fmt.Errorf("load recognizers: %w", err)
	}
	slog.Info("recognizers loaded", "count", len(a.registry.List()), "dir", cfg.ModelsDir)

	a.server = server.New(server.Config{
		StaticDir:      cfg.StaticDir,
		Store:          a.store,
		Registry:       a.registry,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	return a, nil
}

// newExtractor tries MediaPipe first and falls back to the mock extractor.
func newExtractor(cfg *config.Config) detector.Extractor {
	dc := detector.DefaultConfig()
	dc.Python = cfg.Python
	dc.Script = cfg.ExtractorScript

	mp, err := detector.NewMediaPipeExtractor(dc)
	if err != nil {
		slog.Error("MediaPipe not available, frames will not be analysed; set MUDRA_EXTRACTOR_SCRIPT",
			"error", err)
		return detector.NewMockExtractor()
	}
	slog.Info("using MediaPipe landmark extraction", "script", mp.Script())
	return mp
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler {
	return a.server
}

// Registry returns the loaded recognizers.
func (a *App) Registry() *recognizer.Registry {
	return a.registry
}

// Store returns the application store.
func (a *App) Store() *store.Store {
	return a.store
}

// Run serves HTTP on the configured address until ctx is cancelled, then
// shuts the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.config.Addr,
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if a.config.HistoryRetention > 0 {
		go a.pruneHistory(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "addr", a.config.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server gracefully stopped")
	return nil
}

func (a *App) pruneHistory(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		a.PruneHistory()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PruneHistory deletes predictions older than the retention period.
func (a *App) PruneHistory() int64 {
	if a.config.HistoryRetention <= 0 {
		return 0
	}
	n, err := a.store.Predictions().DeleteBefore(time.Now().UTC().Add(-a.config.HistoryRetention))
	if err != nil {
		slog.Warn("failed to prune prediction history", "error", err)
		return 0
	}
	if n > 0 {
		slog.Info("pruned prediction history", "deleted", n)
	}
	return n
}

// Close releases all resources in reverse order of creation.
func (a *App) Close() error {
	var errs []error

	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.extractor != nil {
		errs = append(errs, a.extractor.Close())
	}
	errs = append(errs, classifier.ShutdownRuntime())
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
