// Package runtime provides the Engine struct and lifecycle management
// for the trade reconciliation service.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/tjfontaine/tradeflow/internal/adapters/events/direct"
	"github.com/tjfontaine/tradeflow/internal/adapters/identity/apikey"
	"github.com/tjfontaine/tradeflow/internal/api/trades"
	"github.com/tjfontaine/tradeflow/internal/core/ports"
	"github.com/tjfontaine/tradeflow/internal/pkg/config"
	"github.com/tjfontaine/tradeflow/internal/reconcile"
	"github.com/tjfontaine/tradeflow/internal/server"
)

// Engine is the main entry point for running the reconciliation service.
// It manages configuration, storage, sources, and HTTP server lifecycle.
// Engine can be embedded in larger applications or run standalone.
type Engine struct {
	// Dependencies (injected via options)
	config   ports.ConfigProvider
	identity ports.IdentityResolver
	storage  ports.StorageProvider
	events   ports.EventPublisher
	fetchers []ports.SourceFetcher

	// fetchersSet stops Start from building fetchers out of config.
	fetchersSet bool

	// Internal state
	service *reconcile.Service
	server  *server.Server
	logger  *slog.Logger

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	serving sync.WaitGroup
	mu      sync.RWMutex
}

// New creates a new Engine with the given options.
// Storage, events and identity left unset are built from config on Start.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if e.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfigProvider)")
	}

	return e, nil
}

// Start loads configuration, wires every component and starts serving HTTP
// in the background.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ctx, e.cancel = context.WithCancel(ctx)

	cfg, err := e.config.Load(e.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := e.initDependencies(cfg); err != nil {
		return err
	}
	if err := e.initService(cfg); err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	e.initServer(cfg)

	e.serving.Add(1)
	go func() {
		defer e.serving.Done()
		if err := e.server.Start(); err != nil {
			e.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	go e.watchConfig()

	e.logger.Info("engine started",
		slog.Int("port", cfg.Server.Port),
		slog.Int("sources", len(e.fetchers)),
		slog.String("storage", cfg.Storage.Type))

	return nil
}

// initDependencies fills in whatever the options left unset.
func (e *Engine) initDependencies(cfg *config.Config) error {
	if e.storage == nil {
		store, err := openStorage(cfg.Storage)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		e.storage = store
	}

	if e.events == nil {
		e.logger.Info("no event publisher specified, using direct storage")
		publisher, err := direct.NewPublisher(e.storage)
		if err != nil {
			return fmt.Errorf("create default event publisher: %w", err)
		}
		e.events = publisher
	}

	if e.identity == nil {
		e.identity = apikey.NewStaticProvider(cfg.Users)
	}
	if len(cfg.Users) == 0 {
		e.logger.Warn("no users configured, every API request will be rejected")
	}

	if !e.fetchersSet {
		fetchers, err := buildFetchers(cfg.Sources, e.logger)
		if err != nil {
			return fmt.Errorf("init sources: %w", err)
		}
		e.fetchers = fetchers
	}

	return nil
}

func (e *Engine) initService(cfg *config.Config) error {
	opts := []reconcile.Option{
		reconcile.WithFetchers(e.fetchers...),
		reconcile.WithPublisher(e.events),
		reconcile.WithHistory(e.storage),
		reconcile.WithLogger(e.logger),
		reconcile.WithMaxConflictRetries(cfg.Engine.MaxConflictRetries),
	}
	if cfg.Engine.DefaultTaxRate != "" {
		rate, err := decimal.NewFromString(cfg.Engine.DefaultTaxRate)
		if err != nil {
			return fmt.Errorf("invalid engine.default_tax_rate %q: %w", cfg.Engine.DefaultTaxRate, err)
		}
		opts = append(opts, reconcile.WithDefaultTaxRate(rate))
	}

	e.service = reconcile.New(e.storage, opts...)
	return nil
}

func (e *Engine) initServer(cfg *config.Config) {
	e.server = server.New(cfg.Server.Port, e.logger, server.Options{
		Identity:       e.identity,
		RequestTimeout: config.ParseDuration(cfg.Server.RequestTimeout, 0),
		RateLimiter:    server.NewRateLimiter(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst),
	})
	trades.NewHandler(e.service).Register(e.server.API)
}

// Handler returns the root HTTP handler. Nil before Start.
func (e *Engine) Handler() http.Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.server == nil {
		return nil
	}
	return e.server.Router
}

// Service returns the reconciliation facade. Nil before Start.
func (e *Engine) Service() *reconcile.Service {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.service
}

// Shutdown gracefully stops the engine.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Info("shutting down engine")

	if e.cancel != nil {
		e.cancel()
	}

	var errs []error
	if e.server != nil {
		if err := e.server.Shutdown(ctx); err != nil {
			e.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		e.serving.Wait()
	}

	if e.events != nil {
		if err := e.events.Close(); err != nil {
			e.logger.Error("failed to close events", slog.String("error", err.Error()))
		}
	}

	if e.storage != nil {
		if err := e.storage.Close(); err != nil {
			e.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if e.config != nil {
		if err := e.config.Close(); err != nil {
			e.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	e.logger.Info("engine shutdown complete")
	return errors.Join(errs...)
}

// watchConfig watches for config changes and reloads.
func (e *Engine) watchConfig() {
	onChange := func(newCfg *config.Config) {
		e.logger.Info("config changed, reloading")
		e.reload(newCfg)
	}

	if err := e.config.Watch(e.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			e.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

// reload applies the parts of the configuration that can change while
// running. Storage, sources and the listen port need a restart.
func (e *Engine) reload(cfg *config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if reloader, ok := e.identity.(interface{ ReloadFromConfig(*config.Config) }); ok {
		reloader.ReloadFromConfig(cfg)
	}

	e.logger.Info("reload complete", slog.Int("users", len(cfg.Users)))
}
