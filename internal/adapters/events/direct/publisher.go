// Package direct provides a direct event publisher that writes to storage.
package direct

import (
	"context"
	"fmt"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/core/ports"
)

// Publisher implements ports.EventPublisher by writing directly to storage.
// This is the default implementation for single-instance deployments.
type Publisher struct {
	store ports.TradeEventStore
}

// NewPublisher creates a new direct event publisher.
func NewPublisher(store ports.TradeEventStore) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("storage provider required")
	}

	return &Publisher{
		store: store,
	}, nil
}

// Publish appends a trade event to the trade's history.
func (p *Publisher) Publish(ctx context.Context, event *domain.TradeEvent) error {
	if event == nil || event.TradeID == "" {
		return fmt.Errorf("trade event has no trade id")
	}
	return p.store.AppendTradeEvent(ctx, event)
}

// Close is a no-op for direct publisher.
func (p *Publisher) Close() error {
	return nil
}
