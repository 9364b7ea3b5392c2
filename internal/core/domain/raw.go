package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is an origin-tagged payload as delivered by a raw-source fetcher.
// Exactly one of Navi or Inquiry is set, matching Origin.
type RawRecord struct {
	Origin  Origin         `json:"origin"`
	Navi    *NaviRequest   `json:"navi,omitempty"`
	Inquiry *InquiryThread `json:"inquiry,omitempty"`
}

// NaviRequest is the raw shape of a directly submitted trade request.
type NaviRequest struct {
	RequestID    string          `json:"request_id"`
	SellerUserID string          `json:"seller_user_id"`
	BuyerUserID  string          `json:"buyer_user_id"`
	SellerName   string          `json:"seller_name"`
	BuyerName    string          `json:"buyer_name"`
	Status       string          `json:"status"`
	Items        []NaviItem      `json:"items"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	Fees         Fees            `json:"fees"`
	Shipping     *ShippingInfo   `json:"shipping,omitempty"`

	// TotalAmount is what the source believes the total is; it is never trusted.
	TotalAmount decimal.NullDecimal `json:"total_amount"`

	ContractDate *time.Time `json:"contract_date,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NaviItem is one line of a navi request statement.
type NaviItem struct {
	LineID    string           `json:"line_id"`
	Name      string           `json:"name"`
	Quantity  *int64           `json:"quantity,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Taxable   bool             `json:"taxable"`
}

// InquiryThread is the raw shape of a marketplace inquiry thread.
type InquiryThread struct {
	ThreadID     string          `json:"thread_id"`
	MachineName  string          `json:"machine_name"`
	SellerUserID string          `json:"seller_user_id"`
	BuyerUserID  string          `json:"buyer_user_id"`
	SellerName   string          `json:"seller_name"`
	BuyerName    string          `json:"buyer_name"`
	State        string          `json:"state"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	AcceptedAt   *time.Time      `json:"accepted_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
