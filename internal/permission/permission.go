// Package permission answers whether an actor role may perform an action
// while a trade is in a given status. It is a static lookup table and never
// touches the trade record.
package permission

import "github.com/tjfontaine/tradeflow/internal/core/domain"

type rule struct {
	action domain.Action
	status domain.Status
	role   domain.Role
}

// matrix holds every allowed (action, required status, role) triple.
var matrix = buildMatrix()

func buildMatrix() map[rule]struct{} {
	m := map[rule]struct{}{
		{domain.ActionSubmit, domain.StatusRequested, domain.RoleSeller}:                 {},
		{domain.ActionApprove, domain.StatusApprovalRequired, domain.RoleBuyer}:          {},
		{domain.ActionMarkPaid, domain.StatusAwaitingPayment, domain.RoleSeller}:         {},
		{domain.ActionArrangeShipping, domain.StatusPaymentConfirmed, domain.RoleSeller}: {},
		{domain.ActionMarkCompleted, domain.StatusShippingArranged, domain.RoleBuyer}:    {},
		{domain.ActionMarkCompleted, domain.StatusShippingArranged, domain.RoleSeller}:   {},
	}
	for _, s := range domain.Statuses {
		if s.IsTerminal() {
			continue
		}
		for _, r := range domain.Roles {
			m[rule{domain.ActionCancel, s, r}] = struct{}{}
		}
	}
	return m
}

// IsAllowed reports whether role may perform action at status.
func IsAllowed(role domain.Role, status domain.Status, action domain.Action) bool {
	_, ok := matrix[rule{action: action, status: status, role: role}]
	return ok
}

// AnyoneAllowed reports whether some role may perform action at status.
// The facade uses it to tell "not your turn" apart from "not possible at all".
func AnyoneAllowed(status domain.Status, action domain.Action) bool {
	for _, r := range domain.Roles {
		if IsAllowed(r, status, action) {
			return true
		}
	}
	return false
}

// AllowedActions lists the actions role may perform at status, in domain.Actions order.
func AllowedActions(role domain.Role, status domain.Status) []domain.Action {
	var out []domain.Action
	for _, a := range domain.Actions {
		if IsAllowed(role, status, a) {
			out = append(out, a)
		}
	}
	return out
}
