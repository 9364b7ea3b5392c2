package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/core/ports"
	"github.com/tjfontaine/tradeflow/internal/storage/memory"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func qty(n int64) *int64 { return &n }

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type fakeFetcher struct {
	origin domain.Origin
	raws   []domain.RawRecord
	err    error
}

func (f *fakeFetcher) Origin() domain.Origin { return f.origin }

func (f *fakeFetcher) FetchRaw(ctx context.Context, userID string) ([]domain.RawRecord, error) {
	return f.raws, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	sink   ports.TradeEventStore
	events []*domain.TradeEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev *domain.TradeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	if p.sink != nil {
		return p.sink.AppendTradeEvent(ctx, ev)
	}
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []domain.TradeEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.TradeEventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// racingStore simulates another writer winning the first failures updates.
type racingStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
	writes   int
}

func (s *racingStore) WriteTrade(ctx context.Context, rec *domain.TradeRecord, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	s.writes++
	lose := expectedVersion > 0 && s.failures > 0
	if lose {
		s.failures--
	}
	s.mu.Unlock()

	if lose {
		return 0, domain.ErrConflict("lost the race").WithCode(domain.ErrorCodeVersionMismatch)
	}
	return s.Store.WriteTrade(ctx, rec, expectedVersion)
}

func naviRaw(id, rawStatus string) domain.RawRecord {
	return domain.RawRecord{
		Origin: domain.OriginDirectNavi,
		Navi: &domain.NaviRequest{
			RequestID:    id,
			SellerUserID: "seller",
			BuyerUserID:  "buyer",
			Status:       rawStatus,
			Items: []domain.NaviItem{
				{LineID: "a", Name: "CNC lathe", Quantity: qty(10), UnitPrice: dec("80000"), Taxable: true},
			},
			TaxRate:   decimal.RequireFromString("0.10"),
			CreatedAt: testNow.Add(-48 * time.Hour),
			UpdatedAt: testNow.Add(-24 * time.Hour),
		},
	}
}

func withoutItems(raw domain.RawRecord) domain.RawRecord {
	raw.Navi.Items = nil
	return raw
}

func inquiryRaw(id, state string) domain.RawRecord {
	return domain.RawRecord{
		Origin: domain.OriginOnlineInquiry,
		Inquiry: &domain.InquiryThread{
			ThreadID:     id,
			MachineName:  "Press brake",
			SellerUserID: "seller",
			BuyerUserID:  "buyer",
			State:        state,
			TotalAmount:  decimal.NewFromInt(1650000),
			CreatedAt:    testNow.Add(-72 * time.Hour),
			UpdatedAt:    testNow.Add(-72 * time.Hour),
		},
	}
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memory.Store, *recordingPublisher) {
	t.Helper()
	store := memory.New()
	pub := &recordingPublisher{sink: store}
	base := []Option{
		WithPublisher(pub),
		WithHistory(store),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return testNow }),
	}
	return New(store, append(base, opts...)...), store, pub
}

func seed(t *testing.T, store *memory.Store, raw domain.RawRecord) *domain.TradeRecord {
	t.Helper()
	svc := New(store, WithFetchers(&fakeFetcher{origin: raw.Origin, raws: []domain.RawRecord{raw}}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	trades, err := svc.ListTrades(context.Background(), "seller")
	if err != nil {
		t.Fatalf("seed ListTrades() error = %v", err)
	}
	if len(trades) == 0 {
		t.Fatal("seed imported nothing")
	}
	return trades[0]
}

func TestListTrades_ImportsBothOrigins(t *testing.T) {
	svc, store, pub := newTestService(t, WithFetchers(
		&fakeFetcher{origin: domain.OriginDirectNavi, raws: []domain.RawRecord{naviRaw("1", "承認待ち")}},
		&fakeFetcher{origin: domain.OriginOnlineInquiry, raws: []domain.RawRecord{inquiryRaw("t-1", "accepted")}},
	))
	ctx := context.Background()

	trades, err := svc.ListTrades(ctx, "buyer")
	if err != nil {
		t.Fatalf("ListTrades() error = %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("ListTrades() = %d trades, want 2", len(trades))
	}
	// most recently updated first
	if trades[0].ID != "navi:1" || trades[1].ID != "inquiry:t-1" {
		t.Errorf("order = %s, %s, want navi:1, inquiry:t-1", trades[0].ID, trades[1].ID)
	}
	for _, rec := range trades {
		if len(rec.Todos) == 0 || rec.Todos[len(rec.Todos)-1].Description != "awaiting your approval" {
			t.Errorf("%s todos = %+v, want buyer approval todo", rec.ID, rec.Todos)
		}
	}

	stored, _ := store.GetTrade(ctx, "inquiry:t-1")
	if stored == nil || stored.Version != 1 {
		t.Fatalf("inquiry:t-1 stored = %+v, want version 1", stored)
	}

	types := pub.types()
	if len(types) != 2 || types[0] != domain.TradeEventImported {
		t.Errorf("events = %v, want two trade.imported", types)
	}
}

func TestListTrades_StoredRecordWins(t *testing.T) {
	raw := naviRaw("1", "承認待ち")
	svc, _, pub := newTestService(t, WithFetchers(&fakeFetcher{origin: domain.OriginDirectNavi, raws: []domain.RawRecord{raw}}))
	ctx := context.Background()

	if _, err := svc.ListTrades(ctx, "buyer"); err != nil {
		t.Fatalf("ListTrades() error = %v", err)
	}
	if _, err := svc.ApplyAction(ctx, "navi:1", "buyer", domain.ActionApprove); err != nil {
		t.Fatalf("ApplyAction() error = %v", err)
	}

	// The source still reports the old status; the stored canonical row wins.
	trades, err := svc.ListTrades(ctx, "seller")
	if err != nil {
		t.Fatalf("ListTrades() error = %v", err)
	}
	if len(trades) != 1 || trades[0].Status != domain.StatusAwaitingPayment {
		t.Errorf("ListTrades() = %+v, want one trade at AWAITING_PAYMENT", trades)
	}
	if got := len(pub.types()); got != 2 {
		t.Errorf("events = %d, want 2 (one import, one transition)", got)
	}
}

func TestListTrades_DegradesOnSourceErrors(t *testing.T) {
	svc, store, _ := newTestService(t, WithFetchers(
		&fakeFetcher{origin: domain.OriginDirectNavi, err: errors.New("connection refused")},
		&fakeFetcher{origin: domain.OriginOnlineInquiry, raws: []domain.RawRecord{
			inquiryRaw("t-1", "negotiating"),
			{Origin: domain.Origin("FAX")},
			inquiryRaw("t-2", "accepted"),
		}},
	))
	seed(t, store, naviRaw("9", "requested"))

	trades, err := svc.ListTrades(context.Background(), "seller")
	if err != nil {
		t.Fatalf("ListTrades() error = %v", err)
	}
	ids := map[string]bool{}
	for _, rec := range trades {
		ids[rec.ID] = true
	}
	if len(trades) != 2 || !ids["navi:9"] || !ids["inquiry:t-2"] {
		t.Errorf("ListTrades() ids = %v, want navi:9 and inquiry:t-2", ids)
	}
}

func TestListTrades_SkipsTradesOfOthers(t *testing.T) {
	raw := naviRaw("1", "requested")
	raw.Navi.BuyerUserID = "someone-else"
	svc, _, _ := newTestService(t, WithFetchers(&fakeFetcher{origin: domain.OriginDirectNavi, raws: []domain.RawRecord{raw}}))

	trades, err := svc.ListTrades(context.Background(), "buyer")
	if err != nil {
		t.Fatalf("ListTrades() error = %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("ListTrades() = %d trades, want 0", len(trades))
	}
}

func TestListTrades_RequiresActor(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.ListTrades(context.Background(), ""); !domain.IsType(err, domain.ErrorTypeUnauthenticated) {
		t.Errorf("ListTrades(\"\") error = %v, want unauthenticated", err)
	}
}

func TestApplyAction_FullLifecycle(t *testing.T) {
	svc, store, pub := newTestService(t)
	seed(t, store, naviRaw("1", "requested"))
	ctx := context.Background()

	steps := []struct {
		actor  string
		action domain.Action
		want   domain.Status
	}{
		{"seller", domain.ActionSubmit, domain.StatusApprovalRequired},
		{"buyer", domain.ActionApprove, domain.StatusAwaitingPayment},
		{"seller", domain.ActionMarkPaid, domain.StatusPaymentConfirmed},
	}
	for _, step := range steps {
		rec, err := svc.ApplyAction(ctx, "navi:1", step.actor, step.action)
		if err != nil {
			t.Fatalf("ApplyAction(%s) error = %v", step.action, err)
		}
		if rec.Status != step.want {
			t.Fatalf("ApplyAction(%s) status = %v, want %v", step.action, rec.Status, step.want)
		}
	}

	if _, _, err := svc.MergeDraft(ctx, "navi:1", "seller", &domain.Draft{
		Shipping: &domain.ShippingInfo{CompanyName: "Osaka Tools", Address: "Kita-ku, Osaka"},
	}); err != nil {
		t.Fatalf("MergeDraft() error = %v", err)
	}

	for _, step := range []struct {
		actor  string
		action domain.Action
		want   domain.Status
	}{
		{"seller", domain.ActionArrangeShipping, domain.StatusShippingArranged},
		{"buyer", domain.ActionMarkCompleted, domain.StatusCompleted},
	} {
		rec, err := svc.ApplyAction(ctx, "navi:1", step.actor, step.action)
		if err != nil {
			t.Fatalf("ApplyAction(%s) error = %v", step.action, err)
		}
		if rec.Status != step.want {
			t.Fatalf("ApplyAction(%s) status = %v, want %v", step.action, rec.Status, step.want)
		}
		if step.want == domain.StatusCompleted {
			for _, item := range rec.Todos {
				if item.Active {
					t.Errorf("completed trade has active todo %+v", item)
				}
			}
		}
	}

	st, _ := store.GetTrade(ctx, "navi:1")
	if st.Version != 7 {
		t.Errorf("Version = %d, want 7 (import, five transitions, one merge)", st.Version)
	}
	if st.Record.ContractDate == nil || !st.Record.ContractDate.Equal(testNow) {
		t.Errorf("ContractDate = %v, want %v", st.Record.ContractDate, testNow)
	}
	if got := len(pub.types()); got != 6 {
		t.Errorf("published events = %d, want 6", got)
	}

	if _, err := svc.ApplyAction(ctx, "navi:1", "seller", domain.ActionCancel); !domain.IsType(err, domain.ErrorTypeIllegalTransition) {
		t.Errorf("cancel after completion error = %v, want illegal_transition", err)
	}
}

func TestApplyAction_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     domain.RawRecord
		actor   string
		action  domain.Action
		errType domain.ErrorType
		code    domain.ErrorCode
	}{
		{"seller cannot approve", naviRaw("1", "approval_required"), "seller", domain.ActionApprove, domain.ErrorTypeForbidden, ""},
		{"buyer cannot mark paid", naviRaw("1", "awaiting_payment"), "buyer", domain.ActionMarkPaid, domain.ErrorTypeForbidden, ""},
		{"not a party", naviRaw("1", "approval_required"), "stranger", domain.ActionCancel, domain.ErrorTypeForbidden, domain.ErrorCodeNotAParty},
		{"skip to shipping", naviRaw("1", "awaiting_payment"), "seller", domain.ActionArrangeShipping, domain.ErrorTypeIllegalTransition, ""},
		{"shipping required", naviRaw("1", "payment_confirmed"), "seller", domain.ActionArrangeShipping, domain.ErrorTypeIllegalTransition, domain.ErrorCodeShippingRequired},
		{"approve twice", naviRaw("1", "awaiting_payment"), "buyer", domain.ActionApprove, domain.ErrorTypeIllegalTransition, ""},
		{"canceled is frozen", naviRaw("1", "canceled"), "buyer", domain.ActionCancel, domain.ErrorTypeIllegalTransition, domain.ErrorCodeTerminalStatus},
		{"unknown action", naviRaw("1", "requested"), "seller", domain.Action("REFUND"), domain.ErrorTypeInvalidInput, ""},
		{"submit without items", withoutItems(naviRaw("1", "requested")), "seller", domain.ActionSubmit, domain.ErrorTypeIllegalTransition, domain.ErrorCodeEmptyItems},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := newTestService(t)
			seed(t, store, tt.raw)

			before, _ := store.GetTrade(context.Background(), "navi:1")
			_, err := svc.ApplyAction(context.Background(), "navi:1", tt.actor, tt.action)
			if !domain.IsType(err, tt.errType) {
				t.Fatalf("ApplyAction() error = %v, want %s", err, tt.errType)
			}
			if tt.code != "" {
				if code := err.(*domain.TradeError).Code; code != tt.code {
					t.Errorf("Code = %v, want %v", code, tt.code)
				}
			}

			after, _ := store.GetTrade(context.Background(), "navi:1")
			if after.Version != before.Version || after.Record.Status != before.Record.Status {
				t.Errorf("rejected action changed the trade: %v@%d -> %v@%d",
					before.Record.Status, before.Version, after.Record.Status, after.Version)
			}
		})
	}
}

func TestApplyAction_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.ApplyAction(context.Background(), "navi:404", "seller", domain.ActionCancel)
	if !domain.IsType(err, domain.ErrorTypeNotFound) {
		t.Errorf("ApplyAction() error = %v, want not_found", err)
	}
}

func TestApplyAction_RetriesConflicts(t *testing.T) {
	mem := memory.New()
	seed(t, mem, naviRaw("1", "approval_required"))
	store := &racingStore{Store: mem, failures: 2}

	svc := New(store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMaxConflictRetries(3))

	rec, err := svc.ApplyAction(context.Background(), "navi:1", "buyer", domain.ActionApprove)
	if err != nil {
		t.Fatalf("ApplyAction() error = %v", err)
	}
	if rec.Status != domain.StatusAwaitingPayment {
		t.Errorf("Status = %v, want %v", rec.Status, domain.StatusAwaitingPayment)
	}
	if store.writes != 3 {
		t.Errorf("writes = %d, want 3", store.writes)
	}
}

func TestApplyAction_RetriesExhausted(t *testing.T) {
	mem := memory.New()
	seed(t, mem, naviRaw("1", "approval_required"))
	store := &racingStore{Store: mem, failures: 100}

	svc := New(store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMaxConflictRetries(2))

	_, err := svc.ApplyAction(context.Background(), "navi:1", "buyer", domain.ActionApprove)
	if !domain.IsType(err, domain.ErrorTypeConflict) {
		t.Fatalf("ApplyAction() error = %v, want conflict", err)
	}
	if code := err.(*domain.TradeError).Code; code != domain.ErrorCodeRetriesExhausted {
		t.Errorf("Code = %v, want %v", code, domain.ErrorCodeRetriesExhausted)
	}
	if store.writes != 3 {
		t.Errorf("writes = %d, want 3 (one attempt plus two retries)", store.writes)
	}
}

func TestApplyAction_ConcurrentActorsOneWins(t *testing.T) {
	svc, store, _ := newTestService(t, WithMaxConflictRetries(5))
	seed(t, store, naviRaw("1", "approval_required"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.ApplyAction(context.Background(), "navi:1", "buyer", domain.ActionApprove)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.ApplyAction(context.Background(), "navi:1", "seller", domain.ActionCancel)
	}()
	wg.Wait()

	// Cancel is open to the seller at both statuses the approve can leave
	// behind, so it always lands after a retry.
	if errs[1] != nil {
		t.Errorf("cancel error = %v, want nil", errs[1])
	}
	st, _ := store.GetTrade(context.Background(), "navi:1")
	if st.Record.Status != domain.StatusCanceled {
		t.Errorf("final status = %v, want %v", st.Record.Status, domain.StatusCanceled)
	}
	if errs[0] != nil && !domain.IsType(errs[0], domain.ErrorTypeIllegalTransition) {
		t.Errorf("approve error = %v, want nil or illegal_transition", errs[0])
	}
}

func TestMergeDraft(t *testing.T) {
	svc, store, pub := newTestService(t)
	seed(t, store, naviRaw("1", "approval_required"))
	ctx := context.Background()

	draft := &domain.Draft{
		Items: []domain.StatementItem{
			{LineID: "a", Name: "CNC lathe", Quantity: qty(12), UnitPrice: dec("80000"), IsTaxable: true},
		},
		Status: func() *domain.Status { s := domain.StatusCompleted; return &s }(),
	}

	rec, changes, err := svc.MergeDraft(ctx, "navi:1", "seller", draft)
	if err != nil {
		t.Fatalf("MergeDraft() error = %v", err)
	}
	if rec.Status != domain.StatusApprovalRequired {
		t.Errorf("Status = %v, want %v", rec.Status, domain.StatusApprovalRequired)
	}
	if !rec.TotalAmount.Equal(decimal.NewFromInt(1056000)) {
		t.Errorf("TotalAmount = %s, want 1056000", rec.TotalAmount)
	}
	if len(changes) != 2 || !changes[0].Applied || changes[1].Applied {
		t.Errorf("changes = %+v, want items applied and status ignored", changes)
	}
	if got := pub.types(); len(got) != 1 || got[0] != domain.TradeEventDraftMerged {
		t.Errorf("events = %v, want [trade.draft_merged]", got)
	}

	// Same draft again is a no-op and does not write.
	before, _ := store.GetTrade(ctx, "navi:1")
	if _, _, err := svc.MergeDraft(ctx, "navi:1", "seller", draft); err != nil {
		t.Fatalf("second MergeDraft() error = %v", err)
	}
	after, _ := store.GetTrade(ctx, "navi:1")
	if after.Version != before.Version {
		t.Errorf("Version = %d, want unchanged %d", after.Version, before.Version)
	}
}

func TestMergeDraft_InvalidItems(t *testing.T) {
	svc, store, _ := newTestService(t)
	seed(t, store, naviRaw("1", "approval_required"))

	_, _, err := svc.MergeDraft(context.Background(), "navi:1", "buyer", &domain.Draft{
		Items: []domain.StatementItem{{LineID: "a", Quantity: qty(-1), UnitPrice: dec("1")}},
	})
	if !domain.IsType(err, domain.ErrorTypeInvalidInput) {
		t.Errorf("MergeDraft() error = %v, want invalid_input", err)
	}
}

func TestMergeDraft_EmptiedRequestCannotBeSubmitted(t *testing.T) {
	svc, store, _ := newTestService(t)
	seed(t, store, naviRaw("1", "requested"))
	ctx := context.Background()

	rec, _, err := svc.MergeDraft(ctx, "navi:1", "seller", &domain.Draft{Items: []domain.StatementItem{}})
	if err != nil {
		t.Fatalf("MergeDraft() error = %v", err)
	}
	if len(rec.Items) != 0 {
		t.Fatalf("len(Items) = %d, want 0", len(rec.Items))
	}

	_, err = svc.ApplyAction(ctx, "navi:1", "seller", domain.ActionSubmit)
	if !domain.IsType(err, domain.ErrorTypeIllegalTransition) {
		t.Fatalf("ApplyAction(SUBMIT) error = %v, want illegal_transition", err)
	}
	if code := err.(*domain.TradeError).Code; code != domain.ErrorCodeEmptyItems {
		t.Errorf("Code = %v, want %v", code, domain.ErrorCodeEmptyItems)
	}

	got, err := svc.ApplyAction(ctx, "navi:1", "seller", domain.ActionCancel)
	if err != nil {
		t.Fatalf("ApplyAction(CANCEL) error = %v", err)
	}
	if got.Status != domain.StatusCanceled {
		t.Errorf("Status = %v, want %v", got.Status, domain.StatusCanceled)
	}
}

func TestGetTradeAndEvents(t *testing.T) {
	svc, store, _ := newTestService(t)
	seed(t, store, naviRaw("1", "approval_required"))
	ctx := context.Background()

	rec, err := svc.GetTrade(ctx, "navi:1", "seller")
	if err != nil {
		t.Fatalf("GetTrade() error = %v", err)
	}
	if active := rec.Todos[len(rec.Todos)-1]; active.Description != "awaiting buyer approval" {
		t.Errorf("seller todo = %q, want %q", active.Description, "awaiting buyer approval")
	}

	if _, err := svc.ApplyAction(ctx, "navi:1", "buyer", domain.ActionApprove); err != nil {
		t.Fatalf("ApplyAction() error = %v", err)
	}

	events, err := svc.ListEvents(ctx, "navi:1", "buyer")
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Action != domain.ActionApprove || events[0].ActorUserID != "buyer" {
		t.Errorf("ListEvents() = %+v, want one APPROVE by buyer", events)
	}
	if events[0].ID == "" || !events[0].CreatedAt.Equal(testNow) {
		t.Errorf("event id/time = %q/%v, want generated id at %v", events[0].ID, events[0].CreatedAt, testNow)
	}

	if _, err := svc.ListEvents(ctx, "navi:1", "stranger"); !domain.IsType(err, domain.ErrorTypeForbidden) {
		t.Errorf("ListEvents(stranger) error = %v, want forbidden", err)
	}
}

func TestPreviewQuote(t *testing.T) {
	svc, _, _ := newTestService(t, WithDefaultTaxRate(decimal.RequireFromString("0.08")))
	items := []domain.StatementItem{{LineID: "a", Quantity: qty(10), UnitPrice: dec("80000"), IsTaxable: true}}

	got, err := svc.PreviewQuote(items, nil, nil)
	if err != nil {
		t.Fatalf("PreviewQuote() error = %v", err)
	}
	if !got.Total.Equal(decimal.NewFromInt(864000)) {
		t.Errorf("Total = %s, want 864000", got.Total)
	}

	got, err = svc.ComputeTotals(items, decimal.RequireFromString("0.10"), nil)
	if err != nil {
		t.Fatalf("ComputeTotals() error = %v", err)
	}
	if !got.Total.Equal(decimal.NewFromInt(880000)) {
		t.Errorf("Total = %s, want 880000", got.Total)
	}
}
