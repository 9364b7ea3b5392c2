// Package status holds the canonical trade status lattice and the per-origin
// lookup from raw source vocabularies into canonical statuses.
//
// The lattice is:
//
//	REQUESTED -> APPROVAL_REQUIRED -> AWAITING_PAYMENT -> PAYMENT_CONFIRMED
//	          -> SHIPPING_ARRANGED -> COMPLETED
//
// with CANCELED reachable from every non-terminal status. Any other edge is
// rejected with an illegal_transition error; nothing is clamped to a nearby state.
package status

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
)

// forward lists the single forward edge leaving each non-terminal status.
var forward = map[domain.Status]domain.Status{
	domain.StatusRequested:        domain.StatusApprovalRequired,
	domain.StatusApprovalRequired: domain.StatusAwaitingPayment,
	domain.StatusAwaitingPayment:  domain.StatusPaymentConfirmed,
	domain.StatusPaymentConfirmed: domain.StatusShippingArranged,
	domain.StatusShippingArranged: domain.StatusCompleted,
}

// actionEdges maps each forward action to the status it must start from.
var actionEdges = map[domain.Action]domain.Status{
	domain.ActionSubmit:          domain.StatusRequested,
	domain.ActionApprove:         domain.StatusApprovalRequired,
	domain.ActionMarkPaid:        domain.StatusAwaitingPayment,
	domain.ActionArrangeShipping: domain.StatusPaymentConfirmed,
	domain.ActionMarkCompleted:   domain.StatusShippingArranged,
}

// CanTransition reports whether from -> to is an edge of the lattice.
func CanTransition(from, to domain.Status) bool {
	if from.IsTerminal() || !from.Valid() {
		return false
	}
	if to == domain.StatusCanceled {
		return true
	}
	next, ok := forward[from]
	return ok && next == to
}

// Transition validates moving rec to the given status. It does not mutate rec.
// Leaving REQUESTED for anything but CANCELED requires at least one item, and
// entering SHIPPING_ARRANGED requires shipping info on the record.
func Transition(rec *domain.TradeRecord, to domain.Status) error {
	from := rec.Status
	if !CanTransition(from, to) {
		err := domain.ErrIllegalTransition(from, to).WithTradeID(rec.ID)
		if from.IsTerminal() {
			err = err.WithCode(domain.ErrorCodeTerminalStatus)
		}
		return err
	}
	if from == domain.StatusRequested && to != domain.StatusCanceled && len(rec.Items) == 0 {
		return domain.ErrIllegalTransition(from, to).
			WithCode(domain.ErrorCodeEmptyItems).
			WithParam("items").
			WithTradeID(rec.ID)
	}
	if to == domain.StatusShippingArranged && rec.Shipping == nil {
		return domain.ErrIllegalTransition(from, to).
			WithCode(domain.ErrorCodeShippingRequired).
			WithParam("shipping").
			WithTradeID(rec.ID)
	}
	return nil
}

// Target returns the status action leads to from the given status.
// ok is false when the action has no edge out of from.
func Target(action domain.Action, from domain.Status) (to domain.Status, ok bool) {
	if action == domain.ActionCancel {
		if from.IsTerminal() || !from.Valid() {
			return "", false
		}
		return domain.StatusCanceled, true
	}
	start, known := actionEdges[action]
	if !known || start != from {
		return "", false
	}
	return forward[from], true
}

// Next is Target as an error-returning call, for callers that need an
// illegal_transition error rather than a flag.
func Next(action domain.Action, from domain.Status) (domain.Status, error) {
	to, ok := Target(action, from)
	if !ok {
		err := domain.NewTradeError(domain.ErrorTypeIllegalTransition,
			fmt.Sprintf("action %s is not possible from %s", action, from)).
			WithParam("action")
		if from.IsTerminal() {
			err = err.WithCode(domain.ErrorCodeTerminalStatus)
		}
		return "", err
	}
	return to, nil
}

// naviVocabulary maps every raw status the direct-navi source emits.
var naviVocabulary = map[string]domain.Status{
	"requested":         domain.StatusRequested,
	"approval_required": domain.StatusApprovalRequired,
	"awaiting_payment":  domain.StatusAwaitingPayment,
	"payment_confirmed": domain.StatusPaymentConfirmed,
	"shipping_arranged": domain.StatusShippingArranged,
	"completed":         domain.StatusCompleted,
	"canceled":          domain.StatusCanceled,
	"cancelled":         domain.StatusCanceled,

	"申請中":   domain.StatusRequested,
	"承認待ち":  domain.StatusApprovalRequired,
	"入金待ち":  domain.StatusAwaitingPayment,
	"入金確認中": domain.StatusAwaitingPayment,
	"発送手配中": domain.StatusPaymentConfirmed,
	"発送済み":  domain.StatusShippingArranged,
	"完了":    domain.StatusCompleted,
	"キャンセル": domain.StatusCanceled,
}

// inquiryVocabulary maps inquiry thread states that represent a trade.
// Open or negotiating threads are not trades yet and are absent on purpose.
var inquiryVocabulary = map[string]domain.Status{
	"accepted":  domain.StatusApprovalRequired,
	"canceled":  domain.StatusCanceled,
	"cancelled": domain.StatusCanceled,
	"withdrawn": domain.StatusCanceled,
}

// FromRaw maps a raw source status into the canonical status for that origin.
func FromRaw(origin domain.Origin, raw string) (domain.Status, error) {
	var vocabulary map[string]domain.Status
	switch origin {
	case domain.OriginDirectNavi:
		vocabulary = naviVocabulary
	case domain.OriginOnlineInquiry:
		vocabulary = inquiryVocabulary
	default:
		return "", domain.ErrUnsupportedOrigin(origin)
	}

	key := strings.TrimSpace(raw)
	if s, ok := vocabulary[strings.ToLower(key)]; ok {
		return s, nil
	}
	if s, ok := vocabulary[key]; ok {
		return s, nil
	}

	code := domain.ErrorCodeUnknownRawStatus
	if origin == domain.OriginOnlineInquiry {
		code = domain.ErrorCodeInquiryNotSettled
	}
	return "", domain.ErrInvalidInput(fmt.Sprintf("unknown %s status %q", origin, raw)).
		WithCode(code).
		WithParam("status")
}
