// Package totals computes statement subtotals, consumption tax and totals.
//
// All arithmetic is done in shopspring/decimal so repeated calls over the same
// input always produce the same amounts. Tax is truncated with Floor, matching
// the yen convention of discarding fractions below one yen.
package totals

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
)

// Compute sums items and fees and derives tax and total.
//
// An item contributes Quantity x UnitPrice when both are set, otherwise its
// flat Amount. Only taxable items and the extra fees form the tax base;
// non-taxable items are part of the subtotal but never taxed. fees may be nil.
func Compute(items []domain.StatementItem, taxRate decimal.Decimal, fees *domain.Fees) (domain.Totals, error) {
	if taxRate.IsNegative() {
		return domain.Totals{}, domain.ErrInvalidInput("tax rate must not be negative").
			WithCode(domain.ErrorCodeNegativeTaxRate).
			WithParam("tax_rate")
	}
	if err := ValidateItems(items); err != nil {
		return domain.Totals{}, err
	}

	var out domain.Totals
	subtotal := decimal.Zero
	taxable := decimal.Zero

	for _, item := range items {
		amount := LineAmount(item)
		subtotal = subtotal.Add(amount)
		if item.IsTaxable {
			taxable = taxable.Add(amount)
		}
		if item.Quantity != nil {
			out.Quantity += *item.Quantity
		}
	}

	if fees != nil {
		extra := fees.Sum()
		subtotal = subtotal.Add(extra)
		taxable = taxable.Add(extra)
	}

	out.Subtotal = subtotal
	out.TaxableBase = taxable
	out.Tax = taxable.Mul(taxRate).Floor()
	out.Total = subtotal.Add(out.Tax)
	return out, nil
}

// LineAmount returns the amount one item contributes to the subtotal.
// Callers must have validated the item first.
func LineAmount(item domain.StatementItem) decimal.Decimal {
	if item.HasPricePair() {
		return item.UnitPrice.Mul(decimal.NewFromInt(*item.Quantity))
	}
	if item.Amount != nil {
		return *item.Amount
	}
	return decimal.Zero
}

// ValidateItems rejects negative quantities, unpriced lines and duplicate line ids.
func ValidateItems(items []domain.StatementItem) error {
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.Quantity != nil && *item.Quantity < 0 {
			return domain.ErrInvalidInput(fmt.Sprintf("quantity %d must not be negative", *item.Quantity)).
				WithCode(domain.ErrorCodeNegativeQuantity).
				WithParam(fmt.Sprintf("items[%d].quantity", i))
		}
		if !item.HasPricePair() && item.Amount == nil {
			return domain.ErrInvalidInput("item needs quantity and unit price, or an amount").
				WithCode(domain.ErrorCodeUnpricedItem).
				WithParam(fmt.Sprintf("items[%d]", i))
		}
		if item.LineID != "" {
			if _, dup := seen[item.LineID]; dup {
				return domain.ErrInvalidInput(fmt.Sprintf("line id %q appears more than once", item.LineID)).
					WithCode(domain.ErrorCodeDuplicateLineID).
					WithParam(fmt.Sprintf("items[%d].line_id", i))
			}
			seen[item.LineID] = struct{}{}
		}
	}
	return nil
}

// Recompute runs Compute over the record's own items, tax rate and fees and
// stores the result in its denormalized fields.
func Recompute(rec *domain.TradeRecord) error {
	t, err := Compute(rec.Items, rec.TaxRate, &rec.Fees)
	if err != nil {
		if tradeErr, ok := err.(*domain.TradeError); ok {
			return tradeErr.WithTradeID(rec.ID)
		}
		return err
	}
	rec.ApplyTotals(t)
	return nil
}
