package domain

// TodoKind is the stable tag of a pending-action indicator.
type TodoKind string

const (
	TodoApplicationSent     TodoKind = "application_sent"
	TodoApplicationApproved TodoKind = "application_approved"
	TodoPaymentConfirmed    TodoKind = "payment_confirmed"
	TodoTradeCompleted      TodoKind = "trade_completed"
	TodoTradeCanceled       TodoKind = "trade_canceled"
)

// TodoItem is a role-specific, status-derived pending action.
// Inactive items are historical milestones kept for display.
type TodoItem struct {
	Kind        TodoKind `json:"kind"`
	Description string   `json:"description"`
	Active      bool     `json:"active"`
}
