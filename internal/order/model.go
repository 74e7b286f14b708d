package order

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

const (
	ModeFull        = "full"
	ModeInstallment = "installment"
)

type Order struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Status         string          `json:"status"`
	PaymentMode    string          `json:"payment_mode"`
	Total          decimal.Decimal `json:"total_amount"` // NUMERIC -> decimal
	IntentRef      string          `json:"intent_ref,omitempty"`
	PaymentRef     string          `json:"payment_ref,omitempty"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	StatusMessage  string          `json:"status_message,omitempty"`
	FailureMessage string          `json:"failure_message,omitempty"`
	Currency       string          `json:"currency,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Item struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	ProductID       string          `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

// Terminal reports whether the order is in an immutable state.
func (o *Order) Terminal() bool {
	return o.Status != StatusPending
}

// PaymentResult is the single-update payload the reconciliation engine
// persists after verifying a payment against gateway ground truth.
type PaymentResult struct {
	Status         string
	PaymentRef     string
	PaymentMethod  string
	StatusMessage  string
	FailureMessage string
	Currency       string
}
