package tradeflow

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeTotals(t *testing.T) {
	qty := int64(10)
	price := decimal.NewFromInt(80000)
	items := []StatementItem{{LineID: "a", Quantity: &qty, UnitPrice: &price, IsTaxable: true}}

	got, err := ComputeTotals(items, decimal.RequireFromString("0.10"), nil)
	if err != nil {
		t.Fatalf("ComputeTotals() error = %v", err)
	}
	if !got.Total.Equal(decimal.NewFromInt(880000)) {
		t.Errorf("Total = %s, want 880000", got.Total)
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	if _, err := New(WithMemoryStorage()); err == nil {
		t.Error("New() without config expected error")
	}
}
