package permission

import (
	"testing"

	"github.com/tjfontaine/tradeflow/internal/core/domain"
)

func TestIsAllowed_Matrix(t *testing.T) {
	type key struct {
		role   domain.Role
		status domain.Status
		action domain.Action
	}
	allowed := map[key]bool{
		{domain.RoleSeller, domain.StatusRequested, domain.ActionSubmit}:                 true,
		{domain.RoleBuyer, domain.StatusApprovalRequired, domain.ActionApprove}:          true,
		{domain.RoleSeller, domain.StatusAwaitingPayment, domain.ActionMarkPaid}:         true,
		{domain.RoleSeller, domain.StatusPaymentConfirmed, domain.ActionArrangeShipping}: true,
		{domain.RoleBuyer, domain.StatusShippingArranged, domain.ActionMarkCompleted}:    true,
		{domain.RoleSeller, domain.StatusShippingArranged, domain.ActionMarkCompleted}:   true,
	}
	for _, s := range domain.Statuses {
		if s.IsTerminal() {
			continue
		}
		allowed[key{domain.RoleBuyer, s, domain.ActionCancel}] = true
		allowed[key{domain.RoleSeller, s, domain.ActionCancel}] = true
	}

	for _, r := range domain.Roles {
		for _, s := range domain.Statuses {
			for _, a := range domain.Actions {
				want := allowed[key{r, s, a}]
				if got := IsAllowed(r, s, a); got != want {
					t.Errorf("IsAllowed(%s, %s, %s) = %v, want %v", r, s, a, got, want)
				}
			}
		}
	}
}

func TestIsAllowed_SellerCannotApprove(t *testing.T) {
	if IsAllowed(domain.RoleSeller, domain.StatusApprovalRequired, domain.ActionApprove) {
		t.Error("seller must not be allowed to approve")
	}
	if !IsAllowed(domain.RoleBuyer, domain.StatusApprovalRequired, domain.ActionApprove) {
		t.Error("buyer must be allowed to approve")
	}
}

func TestIsAllowed_UnknownValues(t *testing.T) {
	if IsAllowed(domain.Role("ADMIN"), domain.StatusRequested, domain.ActionCancel) {
		t.Error("unknown role must be denied")
	}
	if IsAllowed(domain.RoleBuyer, domain.Status("DRAFT"), domain.ActionCancel) {
		t.Error("unknown status must be denied")
	}
}

func TestAnyoneAllowed(t *testing.T) {
	if !AnyoneAllowed(domain.StatusApprovalRequired, domain.ActionApprove) {
		t.Error("AnyoneAllowed(APPROVAL_REQUIRED, APPROVE) = false, want true")
	}
	if AnyoneAllowed(domain.StatusAwaitingPayment, domain.ActionApprove) {
		t.Error("AnyoneAllowed(AWAITING_PAYMENT, APPROVE) = true, want false")
	}
	if AnyoneAllowed(domain.StatusCompleted, domain.ActionCancel) {
		t.Error("AnyoneAllowed(COMPLETED, CANCEL) = true, want false")
	}
}

func TestAllowedActions(t *testing.T) {
	got := AllowedActions(domain.RoleSeller, domain.StatusAwaitingPayment)
	want := []domain.Action{domain.ActionMarkPaid, domain.ActionCancel}
	if len(got) != len(want) {
		t.Fatalf("AllowedActions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AllowedActions()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if got := AllowedActions(domain.RoleBuyer, domain.StatusCanceled); len(got) != 0 {
		t.Errorf("AllowedActions(CANCELED) = %v, want none", got)
	}
}
