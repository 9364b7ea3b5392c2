package domain

import "github.com/shopspring/decimal"

// Draft is a locally held, partial copy of a trade edited offline.
// Only Shipping and Items are ever taken from a draft; the remaining fields
// exist because clients send whole cached records and are ignored on merge.
type Draft struct {
	Shipping *ShippingInfo `json:"shipping,omitempty"`

	// Items is nil when the draft does not touch the statement.
	Items []StatementItem `json:"items,omitempty"`

	Status      *Status          `json:"status,omitempty"`
	TaxRate     *decimal.Decimal `json:"tax_rate,omitempty"`
	TotalAmount *decimal.Decimal `json:"total_amount,omitempty"`
	SellerName  *string          `json:"seller_name,omitempty"`
	BuyerName   *string          `json:"buyer_name,omitempty"`
}

// Change describes what happened to one draft field during a merge.
type Change struct {
	Path    string `json:"path"`
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}
