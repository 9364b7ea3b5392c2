// Package reconcile is the reconciliation facade. It composes the pure
// engine components with the record store, the raw-source fetchers and the
// event publisher, and is the only engine package that performs I/O.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/core/ports"
	"github.com/tjfontaine/tradeflow/internal/merge"
	"github.com/tjfontaine/tradeflow/internal/normalize"
	"github.com/tjfontaine/tradeflow/internal/permission"
	"github.com/tjfontaine/tradeflow/internal/status"
	"github.com/tjfontaine/tradeflow/internal/todo"
	"github.com/tjfontaine/tradeflow/internal/totals"
)

// DefaultMaxConflictRetries is how many times a write that lost an
// optimistic-concurrency race is retried before the conflict is surfaced.
const DefaultMaxConflictRetries = 3

const tracerName = "github.com/tjfontaine/tradeflow/internal/reconcile"

// Service answers trade queries and applies actions for one actor at a time.
// It is safe for concurrent use.
type Service struct {
	store      ports.TradeStore
	history    ports.TradeEventStore
	publisher  ports.EventPublisher
	fetchers   []ports.SourceFetcher
	logger     *slog.Logger
	tracer     trace.Tracer
	maxRetries int
	taxRate    decimal.Decimal
	now        func() time.Time
	newID      func() string
}

// Option configures a Service.
type Option func(*Service)

// WithFetchers sets the raw-source fetchers consulted by ListTrades.
func WithFetchers(fetchers ...ports.SourceFetcher) Option {
	return func(s *Service) {
		s.fetchers = append(s.fetchers, fetchers...)
	}
}

// WithPublisher sets where trade events are published.
func WithPublisher(p ports.EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithHistory sets the event store read by ListEvents.
func WithHistory(h ports.TradeEventStore) Option {
	return func(s *Service) {
		s.history = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxConflictRetries bounds the read-validate-write retry loop.
func WithMaxConflictRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithDefaultTaxRate sets the rate PreviewQuote uses when none is given.
func WithDefaultTaxRate(rate decimal.Decimal) Option {
	return func(s *Service) {
		s.taxRate = rate
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a Service over store.
func New(store ports.TradeStore, opts ...Option) *Service {
	s := &Service{
		store:      store,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		maxRetries: DefaultMaxConflictRetries,
		taxRate:    decimal.RequireFromString("0.10"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ListTrades returns every trade actorUserID is a party to, with todos for
// that actor. Raw records not yet stored are normalized and imported; a
// stored canonical record always wins over a raw one with the same id.
func (s *Service) ListTrades(ctx context.Context, actorUserID string) (out []*domain.TradeRecord, err error) {
	ctx, span := s.startSpan(ctx, "reconcile.ListTrades", attribute.String("actor.id", actorUserID))
	defer func() { endSpan(span, err) }()

	if actorUserID == "" {
		return nil, domain.ErrUnauthenticated("actor is required")
	}

	byID := make(map[string]*domain.TradeRecord)
	for _, role := range domain.Roles {
		stored, err := s.store.ListTradesByOwner(ctx, actorUserID, role)
		if err != nil {
			return nil, fmt.Errorf("list %s trades: %w", role, err)
		}
		for _, st := range stored {
			byID[st.Record.ID] = st.Record
		}
	}

	for _, f := range s.fetchers {
		raws, err := f.FetchRaw(ctx, actorUserID)
		if err != nil {
			s.logger.Warn("raw source unavailable, serving stored trades only",
				slog.String("origin", string(f.Origin())),
				slog.String("actor", actorUserID),
				slog.String("error", err.Error()))
			continue
		}
		for _, raw := range raws {
			rec, ok := s.importRaw(ctx, actorUserID, raw, byID)
			if ok {
				byID[rec.ID] = rec
			}
		}
	}

	out = make([]*domain.TradeRecord, 0, len(byID))
	for _, rec := range byID {
		role, _ := rec.RoleOf(actorUserID)
		rec.Todos = todo.Generate(rec.Status, role)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})

	span.SetAttributes(attribute.Int("trades.count", len(out)))
	return out, nil
}

// importRaw normalizes raw and stores it if no canonical row exists yet.
// Records that fail to normalize are logged and skipped so one bad source
// row cannot hide the rest of the actor's trades.
func (s *Service) importRaw(ctx context.Context, actorUserID string, raw domain.RawRecord, seen map[string]*domain.TradeRecord) (*domain.TradeRecord, bool) {
	rec, err := normalize.Normalize(raw)
	if err != nil {
		level := slog.LevelWarn
		if domain.IsType(err, domain.ErrorTypeUnsupportedOrigin) {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "skipping raw record",
			slog.String("origin", string(raw.Origin)),
			slog.String("error", err.Error()))
		return nil, false
	}

	if _, dup := seen[rec.ID]; dup {
		return nil, false
	}
	if _, party := rec.RoleOf(actorUserID); !party {
		s.logger.Warn("raw source returned a trade the actor is not party to",
			slog.String("trade_id", rec.ID),
			slog.String("actor", actorUserID))
		return nil, false
	}

	version, err := s.store.WriteTrade(ctx, rec, 0)
	if domain.IsType(err, domain.ErrorTypeConflict) {
		// Imported concurrently; the stored row wins.
		st, getErr := s.store.GetTrade(ctx, rec.ID)
		if getErr != nil || st == nil {
			s.logger.Warn("imported trade vanished", slog.String("trade_id", rec.ID))
			return nil, false
		}
		return st.Record, true
	}
	if err != nil {
		s.logger.Error("failed to import trade",
			slog.String("trade_id", rec.ID),
			slog.String("error", err.Error()))
		return rec, true
	}

	s.publish(ctx, &domain.TradeEvent{
		TradeID:  rec.ID,
		Type:     domain.TradeEventImported,
		ToStatus: rec.Status,
		Version:  version,
	})
	return rec, true
}

// GetTrade returns one trade with todos for actorUserID.
func (s *Service) GetTrade(ctx context.Context, tradeID, actorUserID string) (rec *domain.TradeRecord, err error) {
	ctx, span := s.startSpan(ctx, "reconcile.GetTrade",
		attribute.String("trade.id", tradeID),
		attribute.String("actor.id", actorUserID))
	defer func() { endSpan(span, err) }()

	st, role, err := s.load(ctx, tradeID, actorUserID)
	if err != nil {
		return nil, err
	}
	st.Record.Todos = todo.Generate(st.Record.Status, role)
	return st.Record, nil
}

// load reads a trade and resolves the actor's role in it.
func (s *Service) load(ctx context.Context, tradeID, actorUserID string) (*domain.StoredTrade, domain.Role, error) {
	if actorUserID == "" {
		return nil, "", domain.ErrUnauthenticated("actor is required")
	}
	st, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		return nil, "", fmt.Errorf("get trade %s: %w", tradeID, err)
	}
	if st == nil {
		return nil, "", domain.ErrNotFound(fmt.Sprintf("trade %s not found", tradeID)).WithTradeID(tradeID)
	}
	role, ok := st.Record.RoleOf(actorUserID)
	if !ok {
		return nil, "", domain.ErrForbidden("actor is not a party to this trade").
			WithCode(domain.ErrorCodeNotAParty).
			WithTradeID(tradeID)
	}
	return st, role, nil
}

// ApplyAction performs action on the trade on behalf of actorUserID.
//
// The permission gate is consulted before the state machine. A denial is
// Forbidden when some other role could act now, otherwise IllegalTransition.
// Lost write races are retried from a fresh read.
func (s *Service) ApplyAction(ctx context.Context, tradeID, actorUserID string, action domain.Action) (rec *domain.TradeRecord, err error) {
	ctx, span := s.startSpan(ctx, "reconcile.ApplyAction",
		attribute.String("trade.id", tradeID),
		attribute.String("actor.id", actorUserID),
		attribute.String("trade.action", string(action)))
	defer func() { endSpan(span, err) }()

	if !action.Valid() {
		return nil, domain.ErrInvalidInput(fmt.Sprintf("unknown action %q", action)).WithParam("action")
	}

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		st, role, err := s.load(ctx, tradeID, actorUserID)
		if err != nil {
			return nil, err
		}
		current := st.Record

		to, err := s.authorize(current, role, action)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := status.Transition(next, to); err != nil {
			return nil, err
		}
		now := s.now().UTC()
		next.Status = to
		next.UpdatedAt = now
		if action == domain.ActionApprove && next.ContractDate == nil {
			next.ContractDate = &now
		}

		version, err := s.store.WriteTrade(ctx, next, st.Version)
		if domain.IsType(err, domain.ErrorTypeConflict) {
			s.logger.Warn("trade changed during action, retrying",
				slog.String("trade_id", tradeID),
				slog.String("action", string(action)),
				slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("write trade %s: %w", tradeID, err)
		}

		s.logger.Info("trade transitioned",
			slog.String("trade_id", tradeID),
			slog.String("actor", actorUserID),
			slog.String("action", string(action)),
			slog.String("from", string(current.Status)),
			slog.String("to", string(to)))
		s.publish(ctx, &domain.TradeEvent{
			TradeID:     tradeID,
			Type:        domain.TradeEventStatusChanged,
			FromStatus:  current.Status,
			ToStatus:    to,
			ActorUserID: actorUserID,
			Action:      action,
			Version:     version,
		})

		next.Todos = todo.Generate(next.Status, role)
		return next, nil
	}

	return nil, s.exhausted(tradeID)
}

// authorize runs the permission gate and resolves the target status.
func (s *Service) authorize(rec *domain.TradeRecord, role domain.Role, action domain.Action) (domain.Status, error) {
	allowed := permission.IsAllowed(role, rec.Status, action)
	if !allowed && permission.AnyoneAllowed(rec.Status, action) {
		return "", domain.ErrForbidden(fmt.Sprintf("%s may not %s a trade at %s", role, action, rec.Status)).
			WithParam("action").
			WithTradeID(rec.ID)
	}

	to, err := status.Next(action, rec.Status)
	if err != nil {
		if tradeErr, ok := err.(*domain.TradeError); ok {
			return "", tradeErr.WithTradeID(rec.ID)
		}
		return "", err
	}
	if !allowed {
		// An edge no role may take is not an edge at all.
		return "", domain.ErrIllegalTransition(rec.Status, to).WithTradeID(rec.ID)
	}
	return to, nil
}

// MergeDraft applies a locally held draft to the latest stored trade and
// reports what happened to each draft field. Nothing is written when no
// draft field applies.
func (s *Service) MergeDraft(ctx context.Context, tradeID, actorUserID string, draft *domain.Draft) (rec *domain.TradeRecord, changes []domain.Change, err error) {
	ctx, span := s.startSpan(ctx, "reconcile.MergeDraft",
		attribute.String("trade.id", tradeID),
		attribute.String("actor.id", actorUserID))
	defer func() { endSpan(span, err) }()

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		st, role, err := s.load(ctx, tradeID, actorUserID)
		if err != nil {
			return nil, nil, err
		}

		changes = merge.Diff(st.Record, draft)
		merged, err := merge.Merge(st.Record, draft)
		if err != nil {
			return nil, changes, err
		}
		if !merge.Changed(changes) {
			st.Record.Todos = todo.Generate(st.Record.Status, role)
			return st.Record, changes, nil
		}
		merged.UpdatedAt = s.now().UTC()

		version, err := s.store.WriteTrade(ctx, merged, st.Version)
		if domain.IsType(err, domain.ErrorTypeConflict) {
			s.logger.Warn("trade changed during draft merge, retrying",
				slog.String("trade_id", tradeID),
				slog.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("write trade %s: %w", tradeID, err)
		}

		s.publish(ctx, &domain.TradeEvent{
			TradeID:     tradeID,
			Type:        domain.TradeEventDraftMerged,
			FromStatus:  merged.Status,
			ToStatus:    merged.Status,
			ActorUserID: actorUserID,
			Version:     version,
		})

		merged.Todos = todo.Generate(merged.Status, role)
		return merged, changes, nil
	}

	return nil, nil, s.exhausted(tradeID)
}

func (s *Service) exhausted(tradeID string) error {
	s.logger.Error("giving up after repeated write conflicts",
		slog.String("trade_id", tradeID),
		slog.Int("retries", s.maxRetries))
	return domain.ErrConflict("trade kept changing, try again").
		WithCode(domain.ErrorCodeRetriesExhausted).
		WithTradeID(tradeID)
}

// ComputeTotals previews the totals of a statement.
func (s *Service) ComputeTotals(items []domain.StatementItem, taxRate decimal.Decimal, fees *domain.Fees) (domain.Totals, error) {
	return totals.Compute(items, taxRate, fees)
}

// PreviewQuote is ComputeTotals with the configured default tax rate when
// taxRate is nil.
func (s *Service) PreviewQuote(items []domain.StatementItem, taxRate *decimal.Decimal, fees *domain.Fees) (domain.Totals, error) {
	rate := s.taxRate
	if taxRate != nil {
		rate = *taxRate
	}
	return totals.Compute(items, rate, fees)
}

// ListEvents returns a trade's event history, oldest first.
func (s *Service) ListEvents(ctx context.Context, tradeID, actorUserID string) (events []*domain.TradeEvent, err error) {
	ctx, span := s.startSpan(ctx, "reconcile.ListEvents", attribute.String("trade.id", tradeID))
	defer func() { endSpan(span, err) }()

	if _, _, err := s.load(ctx, tradeID, actorUserID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []*domain.TradeEvent{}, nil
	}
	events, err = s.history.ListTradeEvents(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", tradeID, err)
	}
	return events, nil
}

// publish sends ev after its write committed. Failures are logged and never
// undo the write.
func (s *Service) publish(ctx context.Context, ev *domain.TradeEvent) {
	if s.publisher == nil {
		return
	}
	ev.ID = s.newID()
	ev.CreatedAt = s.now().UTC()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Error("failed to publish trade event",
			slog.String("trade_id", ev.TradeID),
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()))
	}
}
