// Package notify publishes storefront events to interested consumers (email
// workers, dashboards). Publishing is best-effort: callers log failures and
// move on, the ledger is never rolled back for a lost notification.
package notify

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
)

const (
	SubjectOrderCreated   = "orders.created"
	SubjectPaymentSettled = "payments.settled"
)

type OrderEvent struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Total   string `json:"total_amount"`
	Status  string `json:"status"`
}

type Notifier interface {
	OrderCreated(ctx context.Context, ev OrderEvent) error
	PaymentSettled(ctx context.Context, ev OrderEvent) error
}

type NATS struct{ conn *nats.Conn }

func Connect(url string) (*NATS, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATS{conn: conn}, nil
}

func (n *NATS) publish(subject string, ev OrderEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.conn.Publish(subject, data)
}

func (n *NATS) OrderCreated(_ context.Context, ev OrderEvent) error {
	return n.publish(SubjectOrderCreated, ev)
}

func (n *NATS) PaymentSettled(_ context.Context, ev OrderEvent) error {
	return n.publish(SubjectPaymentSettled, ev)
}

func (n *NATS) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

// Noop is used when no NATS_URL is configured.
type Noop struct{}

func (Noop) OrderCreated(context.Context, OrderEvent) error   { return nil }
func (Noop) PaymentSettled(context.Context, OrderEvent) error { return nil }
