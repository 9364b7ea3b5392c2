package domain

import (
	"time"
)

// TradeEvent is an append-only audit entry for one trade.
// Events are published after the corresponding write has been committed.
type TradeEvent struct {
	ID          string         `json:"id"`
	TradeID     string         `json:"trade_id"`
	Type        TradeEventType `json:"type"`
	FromStatus  Status         `json:"from_status,omitempty"`
	ToStatus    Status         `json:"to_status,omitempty"`
	ActorUserID string         `json:"actor_user_id,omitempty"`
	Action      Action         `json:"action,omitempty"`
	Version     int64          `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TradeEventType identifies the type of trade event.
type TradeEventType string

const (
	TradeEventImported      TradeEventType = "trade.imported"
	TradeEventStatusChanged TradeEventType = "trade.status_changed"
	TradeEventDraftMerged   TradeEventType = "trade.draft_merged"
)
