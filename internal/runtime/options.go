package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/tradeflow/internal/adapters/config/file"
	"github.com/tjfontaine/tradeflow/internal/adapters/events/direct"
	"github.com/tjfontaine/tradeflow/internal/adapters/identity/apikey"
	"github.com/tjfontaine/tradeflow/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/tradeflow/internal/core/ports"
	"github.com/tjfontaine/tradeflow/internal/storage/memory"
	"github.com/tjfontaine/tradeflow/internal/storage/sqldb"
)

// Option is a functional option for configuring an Engine.
type Option func(*Engine) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(e *Engine) error {
		provider, err := file.NewProvider(path)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		e.config = provider
		return nil
	}
}

// WithAPIKeyAuth authenticates callers against the users in config.
func WithAPIKeyAuth() Option {
	return func(e *Engine) error {
		if e.config == nil {
			return fmt.Errorf("config provider must be set before identity provider")
		}
		provider, err := apikey.NewProvider(e.config)
		if err != nil {
			return fmt.Errorf("create apikey identity provider: %w", err)
		}
		e.identity = provider
		return nil
	}
}

// WithSQLite uses SQLite storage (default for single-instance deployments).
func WithSQLite(path string) Option {
	return func(e *Engine) error {
		store, err := sqlite.NewProvider(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		e.storage = store
		return nil
	}
}

// WithPostgres uses PostgreSQL storage through the pgx driver.
// Recommended when several engine instances share one database.
func WithPostgres(dsn string) Option {
	return func(e *Engine) error {
		store, err := sqldb.New(sqldb.Config{Driver: "postgres", DSN: dsn})
		if err != nil {
			return fmt.Errorf("create postgres storage: %w", err)
		}
		e.storage = store
		return nil
	}
}

// WithMemoryStorage keeps trades in process memory. Nothing survives a restart.
func WithMemoryStorage() Option {
	return func(e *Engine) error {
		e.storage = memory.New()
		return nil
	}
}

// WithDirectEvents writes events directly to storage (default).
func WithDirectEvents() Option {
	return func(e *Engine) error {
		if e.storage == nil {
			return fmt.Errorf("storage provider must be set before event publisher")
		}
		publisher, err := direct.NewPublisher(e.storage)
		if err != nil {
			return fmt.Errorf("create direct event publisher: %w", err)
		}
		e.events = publisher
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(e *Engine) error {
		e.config = provider
		return nil
	}
}

// WithIdentityResolver sets a custom identity resolver.
func WithIdentityResolver(resolver ports.IdentityResolver) Option {
	return func(e *Engine) error {
		e.identity = resolver
		return nil
	}
}

// WithStorageProvider sets a custom storage provider.
func WithStorageProvider(provider ports.StorageProvider) Option {
	return func(e *Engine) error {
		e.storage = provider
		return nil
	}
}

// WithEventPublisher sets a custom event publisher.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(e *Engine) error {
		e.events = publisher
		return nil
	}
}

// WithSourceFetchers replaces the sources configured in config.
// Passing none runs the engine on stored trades only.
func WithSourceFetchers(fetchers ...ports.SourceFetcher) Option {
	return func(e *Engine) error {
		e.fetchers = fetchers
		e.fetchersSet = true
		return nil
	}
}
