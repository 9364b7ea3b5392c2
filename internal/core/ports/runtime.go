package ports

import (
	"context"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default), remote API, etc.
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// IdentityResolver maps a presented credential to the calling user.
// Implementations: API key (default), OAuth2, OIDC, etc.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*Actor, error)
}

// Actor is an authenticated caller. Its role is not part of the identity:
// BUYER or SELLER is decided per trade from the trade's parties.
type Actor struct {
	UserID string
	Name   string
}

// StorageProvider manages all storage operations.
// Implementations: SQLite (default), PostgreSQL, in-memory
type StorageProvider interface {
	TradeStore
	TradeEventStore
}

// SourceFetcher lists the raw records one origin holds for a user.
// Implementations: HTTP source API, static fixtures
type SourceFetcher interface {
	Origin() domain.Origin
	FetchRaw(ctx context.Context, userID string) ([]domain.RawRecord, error)
}

// EventPublisher publishes trade events.
// Implementations: direct storage (default), Kafka, NATS, etc.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.TradeEvent) error
	Close() error
}
