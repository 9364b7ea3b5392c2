// Package todo derives the pending-action list shown to one side of a trade.
package todo

import "github.com/tjfontaine/tradeflow/internal/core/domain"

type descriptions struct {
	buyer  string
	seller string
}

func (d descriptions) forRole(role domain.Role) string {
	if role == domain.RoleSeller {
		return d.seller
	}
	return d.buyer
}

type milestone struct {
	kind   domain.TodoKind
	active descriptions
	done   descriptions
}

// milestones are listed in the order a trade passes through them.
var milestones = []milestone{
	{
		kind:   domain.TodoApplicationSent,
		active: descriptions{buyer: "awaiting your approval", seller: "awaiting buyer approval"},
		done:   descriptions{buyer: "application received", seller: "application sent"},
	},
	{
		kind:   domain.TodoApplicationApproved,
		active: descriptions{buyer: "awaiting your payment", seller: "awaiting buyer payment"},
		done:   descriptions{buyer: "application approved", seller: "buyer approved the application"},
	},
	{
		kind:   domain.TodoPaymentConfirmed,
		active: descriptions{buyer: "payment confirmed, awaiting shipment", seller: "payment confirmed, arrange shipping"},
		done:   descriptions{buyer: "payment confirmed", seller: "payment received"},
	},
	{
		kind:   domain.TodoTradeCompleted,
		active: descriptions{buyer: "trade completed", seller: "trade completed"},
		done:   descriptions{buyer: "trade completed", seller: "trade completed"},
	},
}

type entry struct {
	// index into milestones of the active (or last) milestone
	index  int
	active bool
	// overrides the active description for statuses sharing a milestone
	override *descriptions
}

// table is keyed by status only; role merely picks one of two fixed strings.
var table = map[domain.Status]entry{
	domain.StatusRequested: {index: 0, active: true, override: &descriptions{
		buyer:  "awaiting the seller's statement",
		seller: "send the statement to the buyer",
	}},
	domain.StatusApprovalRequired: {index: 0, active: true},
	domain.StatusAwaitingPayment:  {index: 1, active: true},
	domain.StatusPaymentConfirmed: {index: 2, active: true},
	domain.StatusShippingArranged: {index: 2, active: true, override: &descriptions{
		buyer:  "shipping arranged, confirm completion on delivery",
		seller: "shipping arranged, awaiting delivery confirmation",
	}},
	domain.StatusCompleted: {index: 3, active: false},
}

var canceled = descriptions{buyer: "trade canceled", seller: "trade canceled"}

// Generate returns the ordered todos for a trade at status as seen by role:
// completed milestones first (inactive), then at most one active todo.
// Terminal statuses yield only inactive history entries.
func Generate(status domain.Status, role domain.Role) []domain.TodoItem {
	if status == domain.StatusCanceled {
		return []domain.TodoItem{{
			Kind:        domain.TodoTradeCanceled,
			Description: canceled.forRole(role),
		}}
	}

	e, ok := table[status]
	if !ok {
		return nil
	}

	items := make([]domain.TodoItem, 0, e.index+1)
	for i := 0; i < e.index; i++ {
		items = append(items, domain.TodoItem{
			Kind:        milestones[i].kind,
			Description: milestones[i].done.forRole(role),
		})
	}

	current := milestones[e.index]
	desc := current.done
	if e.active {
		desc = current.active
		if e.override != nil {
			desc = *e.override
		}
	}
	items = append(items, domain.TodoItem{
		Kind:        current.kind,
		Description: desc.forRole(role),
		Active:      e.active,
	})
	return items
}

// Active returns the single active todo for status, if any.
func Active(status domain.Status, role domain.Role) (domain.TodoItem, bool) {
	for _, item := range Generate(status, role) {
		if item.Active {
			return item, true
		}
	}
	return domain.TodoItem{}, false
}
