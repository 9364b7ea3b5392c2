package merge

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/totals"
)

func qty(n int64) *int64 { return &n }

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func canonical(t *testing.T, st domain.Status) *domain.TradeRecord {
	t.Helper()
	rec := &domain.TradeRecord{
		ID:           "navi:1",
		OriginKind:   domain.OriginDirectNavi,
		SellerUserID: "u-seller",
		BuyerUserID:  "u-buyer",
		Items: []domain.StatementItem{
			{LineID: "a", Name: "CNC lathe", Quantity: qty(10), UnitPrice: dec("80000"), IsTaxable: true},
		},
		TaxRate: decimal.RequireFromString("0.10"),
		Status:  st,
	}
	if err := totals.Recompute(rec); err != nil {
		t.Fatalf("Recompute() error = %v", err)
	}
	return rec
}

var depot = &domain.ShippingInfo{
	CompanyName:   "Osaka Tools",
	PostalCode:    "530-0001",
	Address:       "Kita-ku, Osaka",
	Phone:         "06-0000-0000",
	ContactPerson: "Tanaka",
}

func editedItems() []domain.StatementItem {
	return []domain.StatementItem{
		{LineID: "a", Name: "CNC lathe", Quantity: qty(12), UnitPrice: dec("80000"), IsTaxable: true},
		{LineID: "b", Name: "crate", Amount: dec("15000"), IsTaxable: false},
	}
}

func TestMerge_AppliesItemsAndRecomputes(t *testing.T) {
	base := canonical(t, domain.StatusApprovalRequired)

	got, err := Merge(base, &domain.Draft{Items: editedItems()})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if len(got.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(got.Items))
	}
	// 960000 taxable + 15000 flat, tax on 960000 only
	if !got.TotalAmount.Equal(decimal.NewFromInt(1071000)) {
		t.Errorf("TotalAmount = %s, want 1071000", got.TotalAmount)
	}
	if got.Quantity != 12 {
		t.Errorf("Quantity = %d, want 12", got.Quantity)
	}
	if len(base.Items) != 1 {
		t.Error("Merge mutated the canonical record")
	}
}

func TestMerge_FillsBlankLineIDs(t *testing.T) {
	base := canonical(t, domain.StatusApprovalRequired)
	draft := &domain.Draft{Items: []domain.StatementItem{
		{Name: "CNC lathe", Quantity: qty(10), UnitPrice: dec("80000"), IsTaxable: true},
		{Name: "crate", Amount: dec("15000")},
	}}

	got, err := Merge(base, draft)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].LineID != "line-1" || got.Items[1].LineID != "line-2" {
		t.Fatalf("line ids = %+v, want line-1, line-2", got.Items)
	}
	if draft.Items[0].LineID != "" {
		t.Errorf("draft was modified: LineID = %q", draft.Items[0].LineID)
	}

	again, err := Merge(got, draft)
	if err != nil {
		t.Fatalf("second Merge() error = %v", err)
	}
	if !reflect.DeepEqual(again.Items, got.Items) {
		t.Errorf("second Merge() items = %+v, want %+v", again.Items, got.Items)
	}
	if changes := Diff(got, draft); Changed(changes) {
		t.Errorf("Diff() after merge = %+v, want nothing applied", changes)
	}
}

func TestMerge_StaleItemsKeepCanonical(t *testing.T) {
	base := canonical(t, domain.StatusShippingArranged)

	got, err := Merge(base, &domain.Draft{Items: editedItems(), Shipping: depot})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if !reflect.DeepEqual(got.Items, base.Items) {
		t.Errorf("Items = %+v, want canonical items", got.Items)
	}
	if !got.TotalAmount.Equal(base.TotalAmount) {
		t.Errorf("TotalAmount = %s, want %s", got.TotalAmount, base.TotalAmount)
	}
	if got.Shipping == nil || *got.Shipping != *depot {
		t.Errorf("Shipping = %+v, want draft shipping applied since canonical had none", got.Shipping)
	}
}

func TestMerge_StaleShippingDoesNotOverwrite(t *testing.T) {
	base := canonical(t, domain.StatusShippingArranged)
	base.Shipping = &domain.ShippingInfo{CompanyName: "Kanto Machinery", Address: "Saitama"}

	got, err := Merge(base, &domain.Draft{Shipping: depot})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if got.Shipping.CompanyName != "Kanto Machinery" {
		t.Errorf("Shipping.CompanyName = %q, want canonical value", got.Shipping.CompanyName)
	}
}

func TestMerge_FreshShippingOverwrites(t *testing.T) {
	base := canonical(t, domain.StatusPaymentConfirmed)
	base.Shipping = &domain.ShippingInfo{CompanyName: "old"}

	got, err := Merge(base, &domain.Draft{Shipping: depot})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if *got.Shipping != *depot {
		t.Errorf("Shipping = %+v, want %+v", got.Shipping, depot)
	}
}

func TestMerge_NeverDemotesStatus(t *testing.T) {
	base := canonical(t, domain.StatusAwaitingPayment)
	requested := domain.StatusRequested
	total := decimal.NewFromInt(1)

	got, err := Merge(base, &domain.Draft{Status: &requested, TotalAmount: &total})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if got.Status != domain.StatusAwaitingPayment {
		t.Errorf("Status = %v, want %v", got.Status, domain.StatusAwaitingPayment)
	}
	if !got.TotalAmount.Equal(base.TotalAmount) {
		t.Errorf("TotalAmount = %s, want %s", got.TotalAmount, base.TotalAmount)
	}
}

func TestMerge_TerminalIsFrozen(t *testing.T) {
	for _, st := range []domain.Status{domain.StatusCompleted, domain.StatusCanceled} {
		base := canonical(t, st)

		got, err := Merge(base, &domain.Draft{Shipping: depot, Items: editedItems()})
		if err != nil {
			t.Fatalf("Merge(%s) error = %v", st, err)
		}
		if !reflect.DeepEqual(got, base) {
			t.Errorf("Merge(%s) changed a closed trade: %+v", st, got)
		}
	}
}

func TestMerge_Idempotent(t *testing.T) {
	drafts := map[string]*domain.Draft{
		"items":          {Items: editedItems()},
		"shipping":       {Shipping: depot},
		"items+shipping": {Items: editedItems(), Shipping: depot},
		"nil":            nil,
	}

	for _, st := range domain.Statuses {
		for name, draft := range drafts {
			base := canonical(t, st)

			once, err := Merge(base, draft)
			if err != nil {
				t.Fatalf("Merge(%s, %s) error = %v", st, name, err)
			}
			twice, err := Merge(once, draft)
			if err != nil {
				t.Fatalf("second Merge(%s, %s) error = %v", st, name, err)
			}
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("Merge(%s, %s) not idempotent:\n once = %+v\ntwice = %+v", st, name, once, twice)
			}
		}
	}
}

func TestMerge_InvalidItems(t *testing.T) {
	tests := []struct {
		name  string
		items []domain.StatementItem
		code  domain.ErrorCode
	}{
		{"empty", []domain.StatementItem{}, domain.ErrorCodeEmptyItems},
		{"negative quantity", []domain.StatementItem{{LineID: "a", Quantity: qty(-2), UnitPrice: dec("1")}}, domain.ErrorCodeNegativeQuantity},
		{"duplicate line", []domain.StatementItem{{LineID: "a", Amount: dec("1")}, {LineID: "a", Amount: dec("2")}}, domain.ErrorCodeDuplicateLineID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(canonical(t, domain.StatusAwaitingPayment), &domain.Draft{Items: tt.items})
			if !domain.IsType(err, domain.ErrorTypeInvalidInput) {
				t.Fatalf("Merge() error = %v, want invalid_input", err)
			}
			if code := err.(*domain.TradeError).Code; code != tt.code {
				t.Errorf("Code = %v, want %v", code, tt.code)
			}
		})
	}
}

func TestDiff(t *testing.T) {
	base := canonical(t, domain.StatusShippingArranged)
	name := "Someone Else"

	got := Diff(base, &domain.Draft{Shipping: depot, Items: editedItems(), BuyerName: &name})
	want := []domain.Change{
		{Path: PathShipping, Applied: true, Reason: ReasonApplied},
		{Path: PathItems, Applied: false, Reason: ReasonStale},
		{Path: PathBuyerName, Applied: false, Reason: ReasonIgnored},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Diff() = %+v, want %+v", got, want)
	}
	if !Changed(got) {
		t.Error("Changed() = false, want true")
	}
}

func TestDiff_Unchanged(t *testing.T) {
	base := canonical(t, domain.StatusRequested)

	got := Diff(base, &domain.Draft{Items: base.Clone().Items})
	if len(got) != 1 || got[0].Reason != ReasonUnchanged {
		t.Errorf("Diff() = %+v, want one unchanged change", got)
	}
	if Changed(got) {
		t.Error("Changed() = true, want false")
	}
}
