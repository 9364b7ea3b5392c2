package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
)

type entry struct {
	record  *domain.TradeRecord
	version int64
}

// Store is an in-memory implementation of ports.StorageProvider
type Store struct {
	mu     sync.RWMutex
	trades map[string]*entry
	events map[string][]*domain.TradeEvent
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		trades: make(map[string]*entry),
		events: make(map[string][]*domain.TradeEvent),
	}
}

func (s *Store) GetTrade(ctx context.Context, id string) (*domain.StoredTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.trades[id]
	if !exists {
		return nil, nil
	}
	return &domain.StoredTrade{Record: e.record.Clone(), Version: e.version}, nil
}

func (s *Store) ListTradesByOwner(ctx context.Context, userID string, role domain.Role) ([]*domain.StoredTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StoredTrade
	for _, e := range s.trades {
		if r, ok := e.record.RoleOf(userID); !ok || r != role {
			continue
		}
		result = append(result, &domain.StoredTrade{Record: e.record.Clone(), Version: e.version})
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i].Record, result[j].Record
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (s *Store) WriteTrade(ctx context.Context, rec *domain.TradeRecord, expectedVersion int64) (int64, error) {
	if rec == nil || rec.ID == "" {
		return 0, fmt.Errorf("trade record has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if e, exists := s.trades[rec.ID]; exists {
		current = e.version
	}
	if current != expectedVersion {
		return 0, domain.ErrConflict(fmt.Sprintf("trade %s is at version %d, expected %d", rec.ID, current, expectedVersion)).
			WithCode(domain.ErrorCodeVersionMismatch).
			WithTradeID(rec.ID)
	}

	stored := rec.Clone()
	stored.Todos = nil
	s.trades[rec.ID] = &entry{record: stored, version: current + 1}
	return current + 1, nil
}

func (s *Store) AppendTradeEvent(ctx context.Context, event *domain.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := *event
	s.events[event.TradeID] = append(s.events[event.TradeID], &ev)
	return nil
}

func (s *Store) ListTradeEvents(ctx context.Context, tradeID string) ([]*domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[tradeID]
	result := make([]*domain.TradeEvent, 0, len(events))
	for _, ev := range events {
		copied := *ev
		result = append(result, &copied)
	}
	return result, nil
}

func (s *Store) Close() error {
	return nil
}
