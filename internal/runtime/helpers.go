package runtime

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tjfontaine/tradeflow/internal/adapters/source/httpsource"
	"github.com/tjfontaine/tradeflow/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/core/ports"
	"github.com/tjfontaine/tradeflow/internal/pkg/config"
	"github.com/tjfontaine/tradeflow/internal/storage/memory"
	"github.com/tjfontaine/tradeflow/internal/storage/sqldb"
)

// openStorage creates the store named by cfg.Type.
func openStorage(cfg config.StorageConfig) (ports.StorageProvider, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "sqlite":
		if cfg.Database.DSN != "" {
			return sqldb.New(sqldb.Config{Driver: "sqlite", DSN: cfg.Database.DSN})
		}
		return sqlite.NewProvider(cfg.SQLite.Path)
	case "postgres":
		if cfg.Database.DSN == "" {
			return nil, fmt.Errorf("postgres storage requires storage.database.dsn")
		}
		return sqldb.New(sqldb.Config{Driver: "postgres", DSN: cfg.Database.DSN})
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// buildFetchers creates an HTTP fetcher for each source with a base URL.
func buildFetchers(cfg config.SourcesConfig, logger *slog.Logger) ([]ports.SourceFetcher, error) {
	sources := []struct {
		origin domain.Origin
		cfg    config.SourceConfig
	}{
		{domain.OriginDirectNavi, cfg.Navi},
		{domain.OriginOnlineInquiry, cfg.Inquiry},
	}

	var fetchers []ports.SourceFetcher
	for _, src := range sources {
		if src.cfg.BaseURL == "" {
			logger.Info("source disabled", slog.String("origin", string(src.origin)))
			continue
		}
		f, err := httpsource.New(src.origin, src.cfg, httpsource.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		fetchers = append(fetchers, f)
	}
	return fetchers, nil
}
