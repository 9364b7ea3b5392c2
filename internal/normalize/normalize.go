// Package normalize maps origin-tagged raw source records into canonical
// trade records. It is the only place that knows about raw source shapes.
package normalize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
	"github.com/tjfontaine/tradeflow/internal/status"
	"github.com/tjfontaine/tradeflow/internal/totals"
)

// ID prefixes keep trade ids unique across both origins.
const (
	naviPrefix    = "navi:"
	inquiryPrefix = "inquiry:"

	// inquiryLineID is the line id of the single synthetic inquiry item.
	inquiryLineID = "inquiry-total"
)

// TradeID returns the canonical trade id for a source-local id.
func TradeID(origin domain.Origin, sourceID string) string {
	switch origin {
	case domain.OriginDirectNavi:
		return naviPrefix + sourceID
	case domain.OriginOnlineInquiry:
		return inquiryPrefix + sourceID
	default:
		return strings.ToLower(string(origin)) + ":" + sourceID
	}
}

// Normalize converts raw into a canonical trade record with recomputed totals.
// The source's own total is never trusted.
func Normalize(raw domain.RawRecord) (*domain.TradeRecord, error) {
	switch raw.Origin {
	case domain.OriginDirectNavi:
		if raw.Navi == nil || raw.Inquiry != nil {
			return nil, originMismatch(raw.Origin)
		}
		return fromNavi(raw.Navi)
	case domain.OriginOnlineInquiry:
		if raw.Inquiry == nil || raw.Navi != nil {
			return nil, originMismatch(raw.Origin)
		}
		return fromInquiry(raw.Inquiry)
	default:
		return nil, domain.ErrUnsupportedOrigin(raw.Origin)
	}
}

func originMismatch(origin domain.Origin) error {
	return domain.ErrInvalidInput(fmt.Sprintf("raw payload does not match origin %s", origin)).
		WithCode(domain.ErrorCodeOriginMismatch).
		WithParam("origin")
}

func fromNavi(req *domain.NaviRequest) (*domain.TradeRecord, error) {
	if strings.TrimSpace(req.RequestID) == "" {
		return nil, domain.ErrInvalidInput("navi request has no id").
			WithCode(domain.ErrorCodeMissingID).
			WithParam("request_id")
	}
	id := TradeID(domain.OriginDirectNavi, req.RequestID)

	st, err := status.FromRaw(domain.OriginDirectNavi, req.Status)
	if err != nil {
		return nil, withTradeID(err, id)
	}

	rec := &domain.TradeRecord{
		ID:           id,
		OriginKind:   domain.OriginDirectNavi,
		SellerUserID: req.SellerUserID,
		BuyerUserID:  req.BuyerUserID,
		SellerName:   req.SellerName,
		BuyerName:    req.BuyerName,
		TaxRate:      req.TaxRate,
		Fees:         req.Fees,
		Status:       st,
		CreatedAt:    req.CreatedAt,
		UpdatedAt:    req.UpdatedAt,
	}
	if err := checkParties(rec); err != nil {
		return nil, err
	}

	rec.Items = make([]domain.StatementItem, 0, len(req.Items))
	for _, item := range req.Items {
		rec.Items = append(rec.Items, domain.StatementItem{
			LineID:    item.LineID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Amount:    item.Amount,
			IsTaxable: item.Taxable,
		})
	}
	rec.Items = domain.FillLineIDs(rec.Items)
	if len(rec.Items) == 0 && st != domain.StatusRequested {
		return nil, domain.ErrInvalidInput(fmt.Sprintf("trade at %s has no items", st)).
			WithCode(domain.ErrorCodeEmptyItems).
			WithParam("items").
			WithTradeID(id)
	}

	if req.Shipping != nil {
		shipping := *req.Shipping
		rec.Shipping = &shipping
	}
	if req.ContractDate != nil && executed(st) {
		date := *req.ContractDate
		rec.ContractDate = &date
	}

	if err := totals.Recompute(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func fromInquiry(thread *domain.InquiryThread) (*domain.TradeRecord, error) {
	if strings.TrimSpace(thread.ThreadID) == "" {
		return nil, domain.ErrInvalidInput("inquiry thread has no id").
			WithCode(domain.ErrorCodeMissingID).
			WithParam("thread_id")
	}
	id := TradeID(domain.OriginOnlineInquiry, thread.ThreadID)

	st, err := status.FromRaw(domain.OriginOnlineInquiry, thread.State)
	if err != nil {
		return nil, withTradeID(err, id)
	}
	if thread.TotalAmount.IsNegative() {
		return nil, domain.ErrInvalidInput("inquiry total must not be negative").
			WithCode(domain.ErrorCodeNegativeAmount).
			WithParam("total_amount").
			WithTradeID(id)
	}

	amount := thread.TotalAmount
	name := thread.MachineName
	if name == "" {
		name = "inquiry " + thread.ThreadID
	}

	// Tax was settled inside the thread, so the agreed total becomes one
	// non-taxable flat line.
	rec := &domain.TradeRecord{
		ID:           id,
		OriginKind:   domain.OriginOnlineInquiry,
		SellerUserID: thread.SellerUserID,
		BuyerUserID:  thread.BuyerUserID,
		SellerName:   thread.SellerName,
		BuyerName:    thread.BuyerName,
		Items: []domain.StatementItem{{
			LineID:    inquiryLineID,
			Name:      name,
			Amount:    &amount,
			IsTaxable: false,
		}},
		TaxRate:   decimal.Zero,
		Status:    st,
		CreatedAt: thread.CreatedAt,
		UpdatedAt: thread.UpdatedAt,
	}
	if err := checkParties(rec); err != nil {
		return nil, err
	}

	if err := totals.Recompute(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func checkParties(rec *domain.TradeRecord) error {
	switch {
	case rec.SellerUserID == "":
		return domain.ErrInvalidInput("seller is missing").
			WithCode(domain.ErrorCodeMissingParty).
			WithParam("seller_user_id").
			WithTradeID(rec.ID)
	case rec.BuyerUserID == "":
		return domain.ErrInvalidInput("buyer is missing").
			WithCode(domain.ErrorCodeMissingParty).
			WithParam("buyer_user_id").
			WithTradeID(rec.ID)
	}
	return nil
}

// executed reports whether a raw contract date may be kept at st. Before
// approval there is no contract. CANCELED may follow approval, so a date the
// source reports for a canceled trade is kept; one is never invented.
func executed(st domain.Status) bool {
	switch st {
	case domain.StatusRequested, domain.StatusApprovalRequired:
		return false
	default:
		return true
	}
}

func withTradeID(err error, id string) error {
	if tradeErr, ok := err.(*domain.TradeError); ok {
		return tradeErr.WithTradeID(id)
	}
	return err
}
