// Package tandem wires the conversation synchronization engine together:
// providers, state stores, registry, locks, engine, backup, watch daemon,
// and the observability surface, all from one configuration.
package tandem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tandem-dev/tandem/internal/observability"
	"github.com/tandem-dev/tandem/internal/watch"
	"github.com/tandem-dev/tandem/pkg/backup"
	"github.com/tandem-dev/tandem/pkg/config"
	metrics "github.com/tandem-dev/tandem/pkg/observability"
	"github.com/tandem-dev/tandem/pkg/provider"
	"github.com/tandem-dev/tandem/pkg/provider/claude"
	"github.com/tandem-dev/tandem/pkg/provider/gemini"
	"github.com/tandem-dev/tandem/pkg/registry"
	"github.com/tandem-dev/tandem/pkg/state"
	"github.com/tandem-dev/tandem/pkg/sync"
)

// Version is stamped on destination records written by sync.
const Version = "0.3.0"

// App is the assembled system. Construct it with New and release its
// resources with Close.
type App struct {
	Config      *config.Config
	Registry    *registry.Registry
	Engine      *sync.Engine
	Backup      *backup.Service
	Checkpoints *state.CheckpointStore

	handlers []provider.Handler
	backend  registry.Backend
	metrics  *metrics.Server
	logger   *log.Logger
	logSink  io.Closer
}

// New builds the full dependency graph from cfg. Nothing starts running:
// the watch daemon and metrics server are started explicitly.
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, logSink := newLogger(cfg.Log)

	refs, err := state.NewRefStore(filepath.Join(cfg.StateDir, "refs"))
	if err != nil {
		return nil, fmt.Errorf("init ref store: %w", err)
	}
	checkpoints, err := state.NewCheckpointStore(filepath.Join(cfg.StateDir, "checkpoints"))
	if err != nil {
		return nil, fmt.Errorf("init checkpoint store: %w", err)
	}

	cwd, _ := os.Getwd()
	claudeHandler, err := claude.NewHandler(claude.HandlerConfig{
		ProjectsDir: cfg.Providers.Claude.ProjectsDir,
		Project:     cfg.Providers.Claude.Project,
		Cwd:         cwd,
		Version:     Version,
		Refs:        refs,
		Checkpoints: checkpoints,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	geminiHandler, err := gemini.NewHandler(gemini.HandlerConfig{
		SessionsDir: cfg.Providers.Gemini.SessionsDir,
		Cwd:         cwd,
		Version:     Version,
		Refs:        refs,
		Checkpoints: checkpoints,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	handlers := []provider.Handler{claudeHandler, geminiHandler}

	backend, err := newBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(registry.Config{Backend: backend, Logger: logger})
	if err != nil {
		backend.Close()
		return nil, err
	}

	engine, err := sync.NewEngine(sync.EngineConfig{
		Handlers:      handlers,
		Registry:      reg,
		LockTTL:       cfg.Sync.LockTTL.Std(),
		MaxConcurrent: cfg.Sync.MaxConcurrent,
		Logger:        logger,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}

	backupSvc, err := backup.New(backup.Config{
		StateDir: cfg.StateDir,
		Handlers: handlers,
		Registry: reg,
		Logger:   logger,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}

	if err := observability.Init(observability.Config{
		Enabled:  cfg.Tracing.Enabled,
		Endpoint: cfg.Tracing.Endpoint,
	}); err != nil {
		logger.Printf("warning: tracing init failed: %v", err)
	}

	app := &App{
		Config:      cfg,
		Registry:    reg,
		Engine:      engine,
		Backup:      backupSvc,
		Checkpoints: checkpoints,
		handlers:    handlers,
		backend:     backend,
		logger:      logger,
		logSink:     logSink,
	}
	if cfg.Metrics.Enabled {
		metrics.InitMetrics()
		app.metrics = metrics.NewServer(cfg.Metrics.Addr, newHealthChecker(app))
	}
	return app, nil
}

// Handlers returns the wired provider handlers.
func (a *App) Handlers() []provider.Handler { return a.handlers }

// Handler returns the handler for a provider name, or nil.
func (a *App) Handler(name string) provider.Handler {
	for _, h := range a.handlers {
		if h.Name() == name {
			return h
		}
	}
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *log.Logger { return a.logger }

// NewWatchDaemon builds the watch daemon over this app's engine and the
// configured provider store directories.
func (a *App) NewWatchDaemon() (*watch.Daemon, error) {
	dirs := map[string]string{
		"claude": filepath.Join(a.Config.Providers.Claude.ProjectsDir, a.Config.Providers.Claude.Project),
		"gemini": a.Config.Providers.Gemini.SessionsDir,
	}
	burst := int(a.Config.Sync.RateLimit)
	if burst < 1 {
		burst = 1
	}
	return watch.New(a.Engine, &watch.Config{
		Dirs:      dirs,
		Debounce:  a.Config.Sync.Debounce.Std(),
		Schedule:  a.Config.Sync.Schedule,
		RateLimit: a.Config.Sync.RateLimit,
		Burst:     burst,
		Logger:    a.logger,
	})
}

// StartMetrics starts the metrics and health endpoint when enabled. It
// returns immediately; the server runs until Close.
func (a *App) StartMetrics() {
	if a.metrics == nil {
		return
	}
	go func() {
		if err := a.metrics.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Printf("metrics server: %v", err)
		}
	}()
}

// Close releases the registry backend, the metrics server, tracing, and the
// log sink.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var firstErr error
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := observability.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.backend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.logSink != nil {
		if err := a.logSink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// newBackend selects the registry backend from configuration.
func newBackend(cfg *config.Config, logger *log.Logger) (registry.Backend, error) {
	switch cfg.Registry.Backend {
	case "redis":
		return registry.NewRedisBackend(registry.RedisConfig{
			Addr:     cfg.Registry.Redis.Addr,
			Password: cfg.Registry.Redis.Password,
			DB:       cfg.Registry.Redis.DB,
			Prefix:   cfg.Registry.Redis.Prefix,
		})
	default:
		return registry.NewFileBackend(registry.FileBackendConfig{
			Dir:    cfg.StateDir,
			Logger: logger,
		})
	}
}

// newLogger builds the application logger: a rotating file when configured,
// stderr otherwise.
func newLogger(cfg config.LogConfig) (*log.Logger, io.Closer) {
	if cfg.File == "" {
		return log.New(os.Stderr, "[tandem] ", log.LstdFlags), nil
	}
	sink := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	return log.New(sink, "[tandem] ", log.LstdFlags), sink
}

// newHealthChecker registers the backend liveness probe.
func newHealthChecker(app *App) *metrics.HealthChecker {
	health := metrics.NewHealthChecker(Version)
	health.RegisterCheck(&metrics.HealthCheck{
		Name:     "registry",
		Critical: true,
		CheckFunc: func(ctx context.Context) error {
			_, err := app.Registry.Stats(ctx)
			return err
		},
	})
	return health
}
