// Package merge reconciles a locally held draft against the latest canonical
// trade record. Only shipping info and, before shipping is arranged, the
// statement items are ever taken from a draft.
package merge

import (
	"github.com/shopspring/decimal"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/totals"
)

// Reasons attached to a Change.
const (
	ReasonApplied    = "applied"
	ReasonUnchanged  = "unchanged"
	ReasonFrozen     = "trade is closed"
	ReasonStale      = "trade has moved past the point where this field is editable"
	ReasonAlreadySet = "shipping already set on the trade"
	ReasonInvalid    = "draft value is invalid"
	ReasonIgnored    = "field is not editable from a draft"
)

// Paths of the draft fields a Change can refer to.
const (
	PathShipping    = "shipping"
	PathItems       = "items"
	PathStatus      = "status"
	PathTaxRate     = "tax_rate"
	PathTotalAmount = "total_amount"
	PathSellerName  = "seller_name"
	PathBuyerName   = "buyer_name"
)

type plan struct {
	changes  []domain.Change
	shipping bool
	items    bool
	itemsErr error
	// newItems are the draft items with blank line ids filled in.
	newItems []domain.StatementItem
}

func (p *plan) add(path string, applied bool, reason string) {
	p.changes = append(p.changes, domain.Change{Path: path, Applied: applied, Reason: reason})
}

func newPlan(canonical *domain.TradeRecord, draft *domain.Draft) *plan {
	p := &plan{}
	if draft == nil {
		return p
	}
	frozen := canonical.Status.IsTerminal()
	itemsEditable := canonical.Status.Rank() < domain.StatusShippingArranged.Rank()

	if draft.Shipping != nil {
		switch {
		case frozen:
			p.add(PathShipping, false, ReasonFrozen)
		case canonical.Shipping != nil && *canonical.Shipping == *draft.Shipping:
			p.add(PathShipping, false, ReasonUnchanged)
		case itemsEditable || canonical.Shipping == nil:
			p.shipping = true
			p.add(PathShipping, true, ReasonApplied)
		default:
			p.add(PathShipping, false, ReasonAlreadySet)
		}
	}

	if draft.Items != nil {
		newItems := domain.FillLineIDs(draft.Items)
		switch {
		case frozen:
			p.add(PathItems, false, ReasonFrozen)
		case !itemsEditable:
			p.add(PathItems, false, ReasonStale)
		case itemsEqual(canonical.Items, newItems):
			p.add(PathItems, false, ReasonUnchanged)
		default:
			if err := validateItems(canonical, newItems); err != nil {
				p.itemsErr = err
				p.add(PathItems, false, ReasonInvalid)
				break
			}
			p.items = true
			p.newItems = newItems
			p.add(PathItems, true, ReasonApplied)
		}
	}

	if draft.Status != nil {
		p.add(PathStatus, false, ReasonIgnored)
	}
	if draft.TaxRate != nil {
		p.add(PathTaxRate, false, ReasonIgnored)
	}
	if draft.TotalAmount != nil {
		p.add(PathTotalAmount, false, ReasonIgnored)
	}
	if draft.SellerName != nil {
		p.add(PathSellerName, false, ReasonIgnored)
	}
	if draft.BuyerName != nil {
		p.add(PathBuyerName, false, ReasonIgnored)
	}
	return p
}

func validateItems(canonical *domain.TradeRecord, items []domain.StatementItem) error {
	if len(items) == 0 && canonical.Status != domain.StatusRequested {
		return domain.ErrInvalidInput("draft would leave the trade without items").
			WithCode(domain.ErrorCodeEmptyItems).
			WithParam("items").
			WithTradeID(canonical.ID)
	}
	if err := totals.ValidateItems(items); err != nil {
		if tradeErr, ok := err.(*domain.TradeError); ok {
			return tradeErr.WithTradeID(canonical.ID)
		}
		return err
	}
	return nil
}

// Merge returns a new record with the applicable draft fields applied to
// canonical. canonical is never modified and its status always wins.
// Stale or non-editable draft fields are dropped silently; use Diff to see
// which. Totals are recomputed when items change. The only error is
// InvalidInput for draft items that would be applied but are malformed.
func Merge(canonical *domain.TradeRecord, draft *domain.Draft) (*domain.TradeRecord, error) {
	out := canonical.Clone()
	p := newPlan(canonical, draft)
	if p.itemsErr != nil {
		return nil, p.itemsErr
	}

	if p.shipping {
		shipping := *draft.Shipping
		out.Shipping = &shipping
	}
	if p.items {
		out.Items = p.newItems
		if err := totals.Recompute(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Diff lists what Merge would do with every field present in draft.
func Diff(canonical *domain.TradeRecord, draft *domain.Draft) []domain.Change {
	return newPlan(canonical, draft).changes
}

// Changed reports whether any change in changes was applied.
func Changed(changes []domain.Change) bool {
	for _, c := range changes {
		if c.Applied {
			return true
		}
	}
	return false
}

func itemsEqual(a, b []domain.StatementItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.LineID != y.LineID || x.Name != y.Name || x.IsTaxable != y.IsTaxable {
			return false
		}
		if !intPtrEqual(x.Quantity, y.Quantity) ||
			!decimalPtrEqual(x.UnitPrice, y.UnitPrice) ||
			!decimalPtrEqual(x.Amount, y.Amount) {
			return false
		}
	}
	return true
}

func intPtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
