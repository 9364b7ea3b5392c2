package ports

import (
	"context"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
)

// TradeStore persists canonical trade records under optimistic concurrency.
// Implementations: memory, SQLite, PostgreSQL
type TradeStore interface {
	// GetTrade returns the stored record and its version, or nil when absent.
	GetTrade(ctx context.Context, id string) (*domain.StoredTrade, error)

	// ListTradesByOwner returns every trade in which userID plays role.
	ListTradesByOwner(ctx context.Context, userID string, role domain.Role) ([]*domain.StoredTrade, error)

	// WriteTrade stores rec if the current version equals expectedVersion
	// (0 means the trade must not exist yet) and returns the new version.
	// A version mismatch is reported as a domain conflict error.
	WriteTrade(ctx context.Context, rec *domain.TradeRecord, expectedVersion int64) (int64, error)

	// Close closes the storage connection
	Close() error
}

// TradeEventStore keeps the append-only event history of each trade.
type TradeEventStore interface {
	// AppendTradeEvent records one event
	AppendTradeEvent(ctx context.Context, event *domain.TradeEvent) error

	// ListTradeEvents returns a trade's events, oldest first
	ListTradeEvents(ctx context.Context, tradeID string) ([]*domain.TradeEvent, error)
}
