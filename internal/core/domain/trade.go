// Package domain provides the canonical trade types shared by every component
// of the reconciliation engine.
package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Origin identifies the raw source a trade was normalized from.
type Origin string

const (
	// OriginDirectNavi is a negotiated trade request submitted directly.
	OriginDirectNavi Origin = "DIRECT_NAVI"

	// OriginOnlineInquiry is an accepted marketplace inquiry thread.
	OriginOnlineInquiry Origin = "ONLINE_INQUIRY"
)

// Valid reports whether o is one of the known origins.
func (o Origin) Valid() bool {
	return o == OriginDirectNavi || o == OriginOnlineInquiry
}

// Status is the canonical workflow status of a trade.
type Status string

const (
	StatusRequested        Status = "REQUESTED"
	StatusApprovalRequired Status = "APPROVAL_REQUIRED"
	StatusAwaitingPayment  Status = "AWAITING_PAYMENT"
	StatusPaymentConfirmed Status = "PAYMENT_CONFIRMED"
	StatusShippingArranged Status = "SHIPPING_ARRANGED"
	StatusCompleted        Status = "COMPLETED"
	StatusCanceled         Status = "CANCELED"
)

// Statuses lists every canonical status in lattice order, terminal states last.
var Statuses = []Status{
	StatusRequested,
	StatusApprovalRequired,
	StatusAwaitingPayment,
	StatusPaymentConfirmed,
	StatusShippingArranged,
	StatusCompleted,
	StatusCanceled,
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// Valid reports whether s is a canonical status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Rank returns the position of s along the forward path.
// CANCELED ranks after COMPLETED so it is never considered a demotion.
func (s Status) Rank() int {
	for i, known := range Statuses {
		if s == known {
			return i
		}
	}
	return -1
}

// Role is the actor's role relative to one specific trade.
type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
)

// Roles lists both trade roles.
var Roles = []Role{RoleBuyer, RoleSeller}

// Action is a state-changing request an actor can make on a trade.
type Action string

const (
	ActionSubmit          Action = "SUBMIT"
	ActionApprove         Action = "APPROVE"
	ActionMarkPaid        Action = "MARK_PAID"
	ActionArrangeShipping Action = "ARRANGE_SHIPPING"
	ActionMarkCompleted   Action = "MARK_COMPLETED"
	ActionCancel          Action = "CANCEL"
)

// Actions lists every known action.
var Actions = []Action{
	ActionSubmit,
	ActionApprove,
	ActionMarkPaid,
	ActionArrangeShipping,
	ActionMarkCompleted,
	ActionCancel,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// StatementItem is one priced line (or flat fee) of a trade.
// Either Quantity and UnitPrice are both set, or Amount is set.
type StatementItem struct {
	LineID    string           `json:"line_id"`
	Name      string           `json:"name,omitempty"`
	Quantity  *int64           `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	IsTaxable bool             `json:"is_taxable"`
}

// HasPricePair reports whether the item is priced as quantity x unit price.
func (i StatementItem) HasPricePair() bool {
	return i.Quantity != nil && i.UnitPrice != nil
}

// FillLineIDs returns a deep copy of items in which every blank line id is
// replaced by "line-N", N being the item's 1-based position or the next free
// number when that id is already taken.
func FillLineIDs(items []StatementItem) []StatementItem {
	if items == nil {
		return nil
	}
	taken := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.LineID != "" {
			taken[item.LineID] = struct{}{}
		}
	}

	out := make([]StatementItem, len(items))
	for i, item := range items {
		out[i] = item.clone()
		if item.LineID != "" {
			continue
		}
		for n := i + 1; ; n++ {
			id := "line-" + strconv.Itoa(n)
			if _, dup := taken[id]; !dup {
				out[i].LineID = id
				taken[id] = struct{}{}
				break
			}
		}
	}
	return out
}

// Fees are the optional extra charges added on top of the line items.
type Fees struct {
	Shipping  decimal.Decimal `json:"shipping"`
	Handling  decimal.Decimal `json:"handling"`
	Cardboard decimal.Decimal `json:"cardboard"`
	NailSheet decimal.Decimal `json:"nail_sheet"`
	Insurance decimal.Decimal `json:"insurance"`
}

// Sum returns the total of every fee.
func (f Fees) Sum() decimal.Decimal {
	return f.Shipping.Add(f.Handling).Add(f.Cardboard).Add(f.NailSheet).Add(f.Insurance)
}

// Equal reports whether two fee sets carry the same amounts.
func (f Fees) Equal(other Fees) bool {
	return f.Shipping.Equal(other.Shipping) &&
		f.Handling.Equal(other.Handling) &&
		f.Cardboard.Equal(other.Cardboard) &&
		f.NailSheet.Equal(other.NailSheet) &&
		f.Insurance.Equal(other.Insurance)
}

// ShippingInfo is the delivery destination attached once known.
type ShippingInfo struct {
	CompanyName   string `json:"company_name"`
	PostalCode    string `json:"postal_code"`
	Address       string `json:"address"`
	Phone         string `json:"phone"`
	ContactPerson string `json:"contact_person"`
}

// TradeRecord is the canonical, origin-agnostic representation of one trade.
type TradeRecord struct {
	ID         string `json:"id"`
	OriginKind Origin `json:"origin_kind"`

	SellerUserID string `json:"seller_user_id"`
	BuyerUserID  string `json:"buyer_user_id"`
	SellerName   string `json:"seller_name,omitempty"`
	BuyerName    string `json:"buyer_name,omitempty"`

	Items   []StatementItem `json:"items"`
	TaxRate decimal.Decimal `json:"tax_rate"`
	Fees    Fees            `json:"fees"`

	// Quantity, Subtotal, Tax and TotalAmount are recomputed by the totals
	// calculator and never edited by hand.
	Quantity    int64           `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Tax         decimal.Decimal `json:"tax"`
	TotalAmount decimal.Decimal `json:"total_amount"`

	Status       Status     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ContractDate *time.Time `json:"contract_date,omitempty"`

	Shipping *ShippingInfo `json:"shipping,omitempty"`

	// Todos is derived per requesting actor and never persisted.
	Todos []TodoItem `json:"todos,omitempty"`
}

// RoleOf returns the role userID plays in the trade.
func (t *TradeRecord) RoleOf(userID string) (Role, bool) {
	switch {
	case userID == "":
		return "", false
	case userID == t.SellerUserID:
		return RoleSeller, true
	case userID == t.BuyerUserID:
		return RoleBuyer, true
	default:
		return "", false
	}
}

// Clone returns a deep copy so callers can mutate the result freely.
func (t *TradeRecord) Clone() *TradeRecord {
	if t == nil {
		return nil
	}
	out := *t
	if t.Items != nil {
		out.Items = make([]StatementItem, len(t.Items))
		for i, item := range t.Items {
			out.Items[i] = item.clone()
		}
	}
	if t.Shipping != nil {
		shipping := *t.Shipping
		out.Shipping = &shipping
	}
	if t.ContractDate != nil {
		date := *t.ContractDate
		out.ContractDate = &date
	}
	if t.Todos != nil {
		out.Todos = append([]TodoItem(nil), t.Todos...)
	}
	return &out
}

func (i StatementItem) clone() StatementItem {
	out := i
	if i.Quantity != nil {
		q := *i.Quantity
		out.Quantity = &q
	}
	if i.UnitPrice != nil {
		p := *i.UnitPrice
		out.UnitPrice = &p
	}
	if i.Amount != nil {
		a := *i.Amount
		out.Amount = &a
	}
	return out
}

// Totals is the output of the totals calculator.
type Totals struct {
	Quantity    int64           `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxableBase decimal.Decimal `json:"taxable_base"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
}

// ApplyTotals copies calculator output into the record's denormalized fields.
func (t *TradeRecord) ApplyTotals(totals Totals) {
	t.Quantity = totals.Quantity
	t.Subtotal = totals.Subtotal
	t.Tax = totals.Tax
	t.TotalAmount = totals.Total
}

// StoredTrade pairs a canonical record with its optimistic-concurrency version.
type StoredTrade struct {
	Record  *TradeRecord
	Version int64
}
