package installment

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusOverdue = "overdue"
)

// Request is a user's application to split an order into installments. At
// most one pending request may exist per order.
type Request struct {
	ID                    string          `json:"id"`
	UserID                string          `json:"user_id"`
	OrderID               string          `json:"order_id"`
	Total                 decimal.Decimal `json:"total_amount"`
	RequestedInstallments int             `json:"requested_installments"`
	Reason                string          `json:"reason"`
	Status                string          `json:"status"`
	AdminNotes            string          `json:"admin_notes,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

type Installment struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"request_id"`
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Number     int             `json:"installment_number"`
	Amount     decimal.Decimal `json:"amount"`
	DueDate    time.Time       `json:"due_date"`
	Status     string          `json:"status"`
	IntentRef  string          `json:"intent_ref,omitempty"`
	PaymentRef string          `json:"payment_ref,omitempty"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// PlanEntry is one approved installment slot.
type PlanEntry struct {
	Amount  decimal.Decimal
	DueDate time.Time
}
