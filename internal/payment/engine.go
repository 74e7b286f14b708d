// Package payment holds the reconciliation engine: the single state machine
// that initiates gateway intents and settles asynchronous payment outcomes
// against the ledger, for full orders and for individual installments alike.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/msinnovatics/storefront/internal/gateway"
	"github.com/msinnovatics/storefront/internal/installment"
	"github.com/msinnovatics/storefront/internal/money"
	"github.com/msinnovatics/storefront/internal/notify"
	"github.com/msinnovatics/storefront/internal/order"
)

var (
	ErrAlreadySettled   = errors.New("target already settled")
	ErrSignatureInvalid = errors.New("payment signature invalid")
	ErrTargetNotFound   = errors.New("payment target not found")
	ErrAmountMismatch   = errors.New("payment amount mismatch")
	ErrCurrencyMismatch = errors.New("payment currency mismatch")
)

// Checkout is what the client needs to hand the gateway's checkout UI.
type Checkout struct {
	TargetID    string `json:"target_id"`
	IntentRef   string `json:"intent_ref"`
	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`
	KeyID       string `json:"key_id"`
}

// Confirmation is the client-side callback after checkout.
type Confirmation struct {
	OrderRef   string
	PaymentRef string
	Signature  string
}

// Result is the outcome of one reconciliation pass.
type Result struct {
	TargetID string
	Status   string
	AllPaid  bool // installment targets: whole plan settled, order cascaded
}

type Engine struct {
	gw             gateway.Gateway
	orders         order.Repository
	installments   installment.Repository
	notifier       notify.Notifier
	currency       string
	toleranceMinor int64
}

func NewEngine(gw gateway.Gateway, orders order.Repository, installments installment.Repository,
	notifier notify.Notifier, currency string, toleranceMinor int64) *Engine {
	return &Engine{
		gw:             gw,
		orders:         orders,
		installments:   installments,
		notifier:       notifier,
		currency:       currency,
		toleranceMinor: toleranceMinor,
	}
}

// InitiateOrder creates a gateway intent for the order's ledger amount. The
// amount sent to the gateway is always the stored total, never client input.
func (e *Engine) InitiateOrder(ctx context.Context, orderID, userID string) (*Checkout, error) {
	o, err := e.orders.GetForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if o.Status == order.StatusCompleted {
		return nil, ErrAlreadySettled
	}
	if o.Status != order.StatusPending {
		return nil, ErrTargetNotFound
	}

	intent, err := e.gw.CreateIntent(ctx, money.ToMinor(o.Total), e.currency, "order_"+o.ID, map[string]string{
		"order_id": o.ID,
		"user_id":  o.UserID,
	})
	if err != nil {
		return nil, err
	}
	if err := e.orders.SetIntentRef(ctx, o.ID, intent.Ref); err != nil {
		return nil, err
	}
	return &Checkout{
		TargetID:    o.ID,
		IntentRef:   intent.Ref,
		AmountMinor: intent.AmountMinor,
		Currency:    intent.Currency,
		KeyID:       e.gw.KeyID(),
	}, nil
}

// InitiateInstallment creates a gateway intent for one installment's amount.
func (e *Engine) InitiateInstallment(ctx context.Context, installmentID, userID string) (*Checkout, error) {
	in, err := e.installments.GetInstallmentForUser(ctx, installmentID, userID)
	if err != nil {
		if errors.Is(err, installment.ErrNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	if in.Status == installment.StatusPaid {
		return nil, ErrAlreadySettled
	}

	intent, err := e.gw.CreateIntent(ctx, money.ToMinor(in.Amount), e.currency, "installment_"+in.ID, map[string]string{
		"installment_id": in.ID,
		"order_id":       in.OrderID,
	})
	if err != nil {
		return nil, err
	}
	if err := e.installments.SetIntentRef(ctx, in.ID, intent.Ref); err != nil {
		return nil, err
	}
	return &Checkout{
		TargetID:    in.ID,
		IntentRef:   intent.Ref,
		AmountMinor: intent.AmountMinor,
		Currency:    intent.Currency,
		KeyID:       e.gw.KeyID(),
	}, nil
}

// VerifyOrder reconciles a client-confirmed order payment: signature check,
// then a fresh fetch of payment details from the gateway as ground truth,
// then amount/currency equality against the ledger before any transition.
func (e *Engine) VerifyOrder(ctx context.Context, c Confirmation) (*Result, error) {
	if !e.gw.VerifySignature(c.OrderRef, c.PaymentRef, c.Signature) {
		log.Printf("[payment] security: invalid signature for intent=%s payment=%s", c.OrderRef, c.PaymentRef)
		return nil, ErrSignatureInvalid
	}
	p, err := e.gw.FetchPayment(ctx, c.PaymentRef)
	if err != nil {
		return nil, err
	}
	return e.settleOrder(ctx, c.OrderRef, p)
}

// settleOrder runs steps 3-7 of the reconciliation. The target is resolved
// through the server's own stored intent mapping, never a client-supplied id.
func (e *Engine) settleOrder(ctx context.Context, intentRef string, p *gateway.Payment) (*Result, error) {
	o, err := e.orders.GetByIntentRef(ctx, intentRef)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	if o.Terminal() {
		// Duplicate webhook or a replayed confirmation. No writes.
		return &Result{TargetID: o.ID, Status: o.Status}, nil
	}

	if diff := money.AbsDiffMinor(money.ToMinor(o.Total), p.AmountMinor); diff > e.toleranceMinor {
		log.Printf("[payment] security: amount mismatch order=%s ledger=%d gateway=%d",
			o.ID, money.ToMinor(o.Total), p.AmountMinor)
		if err := e.orders.MarkFailed(ctx, o.ID, "Amount mismatch"); err != nil && !errors.Is(err, order.ErrNotFound) {
			return nil, err
		}
		return nil, ErrAmountMismatch
	}
	if p.Currency != e.currency {
		log.Printf("[payment] security: currency mismatch order=%s ledger=%s gateway=%s",
			o.ID, e.currency, p.Currency)
		if err := e.orders.MarkFailed(ctx, o.ID, "Currency mismatch"); err != nil && !errors.Is(err, order.ErrNotFound) {
			return nil, err
		}
		return nil, ErrCurrencyMismatch
	}

	status := mapGatewayStatus(p.Status)
	res := order.PaymentResult{
		Status:        status,
		PaymentRef:    p.Ref,
		PaymentMethod: p.Method,
		StatusMessage: p.Status,
		Currency:      p.Currency,
	}
	if status == order.StatusFailed {
		res.FailureMessage = p.Description
	}
	if err := e.orders.ApplyPaymentResult(ctx, o.ID, res); err != nil {
		if errors.Is(err, order.ErrNotFound) {
			// Lost the race against a concurrent verification; re-read and
			// report whatever terminal state won.
			cur, rerr := e.orders.GetByIntentRef(ctx, intentRef)
			if rerr != nil {
				return nil, rerr
			}
			return &Result{TargetID: cur.ID, Status: cur.Status}, nil
		}
		return nil, err
	}

	if status == order.StatusCompleted {
		e.announceSettled(o, status)
	}
	return &Result{TargetID: o.ID, Status: status}, nil
}

// VerifyInstallment reconciles a client-confirmed installment payment and
// cascades the parent order to completed when the last installment settles.
func (e *Engine) VerifyInstallment(ctx context.Context, c Confirmation) (*Result, error) {
	if !e.gw.VerifySignature(c.OrderRef, c.PaymentRef, c.Signature) {
		log.Printf("[payment] security: invalid signature for intent=%s payment=%s", c.OrderRef, c.PaymentRef)
		return nil, ErrSignatureInvalid
	}
	p, err := e.gw.FetchPayment(ctx, c.PaymentRef)
	if err != nil {
		return nil, err
	}
	return e.settleInstallment(ctx, c.OrderRef, p)
}

func (e *Engine) settleInstallment(ctx context.Context, intentRef string, p *gateway.Payment) (*Result, error) {
	in, err := e.installments.GetByIntentRef(ctx, intentRef)
	if err != nil {
		if errors.Is(err, installment.ErrNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	if in.Status == installment.StatusPaid {
		return &Result{TargetID: in.ID, Status: in.Status}, nil
	}

	// Installments have no failed state; a mismatch rejects the payment and
	// leaves the row payable.
	if diff := money.AbsDiffMinor(money.ToMinor(in.Amount), p.AmountMinor); diff > e.toleranceMinor {
		log.Printf("[payment] security: amount mismatch installment=%s ledger=%d gateway=%d",
			in.ID, money.ToMinor(in.Amount), p.AmountMinor)
		return nil, ErrAmountMismatch
	}
	if p.Currency != e.currency {
		log.Printf("[payment] security: currency mismatch installment=%s ledger=%s gateway=%s",
			in.ID, e.currency, p.Currency)
		return nil, ErrCurrencyMismatch
	}

	switch mapGatewayStatus(p.Status) {
	case order.StatusCompleted:
		allPaid, err := e.installments.MarkPaid(ctx, in.ID, p.Ref)
		if err != nil {
			return nil, err
		}
		if allPaid {
			e.announceSettled(&order.Order{ID: in.OrderID, UserID: in.UserID}, order.StatusCompleted)
		}
		return &Result{TargetID: in.ID, Status: installment.StatusPaid, AllPaid: allPaid}, nil
	default:
		// Explicit failures and in-flight states alike leave the installment
		// pending; success is never assumed early.
		return &Result{TargetID: in.ID, Status: in.Status}, nil
	}
}

// webhookEvent mirrors the gateway's push notification shape.
type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID       string `json:"id"`
				OrderRef string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// HandleWebhook feeds an asynchronous gateway push through the same state
// machine as the client confirmation. The event body is only trusted to name
// the payment; every monetary decision re-derives ground truth via
// FetchPayment. Processing errors after an accepted signature are logged and
// swallowed so the HTTP layer can answer 200 and stop gateway retry storms.
func (e *Engine) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !e.gw.VerifyWebhook(body, signature) {
		log.Printf("[payment] security: invalid webhook signature")
		return ErrSignatureInvalid
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Printf("[payment] webhook: malformed body: %v", err)
		return nil
	}
	switch ev.Event {
	case "payment.captured", "payment.authorized", "payment.failed":
	default:
		return nil
	}
	entity := ev.Payload.Payment.Entity
	if entity.ID == "" || entity.OrderRef == "" {
		log.Printf("[payment] webhook: event %s missing payment identifiers", ev.Event)
		return nil
	}

	p, err := e.gw.FetchPayment(ctx, entity.ID)
	if err != nil {
		log.Printf("[payment] webhook: fetch payment %s: %v", entity.ID, err)
		return nil
	}

	if _, err := e.settleOrder(ctx, entity.OrderRef, p); err == nil {
		return nil
	} else if !errors.Is(err, ErrTargetNotFound) {
		log.Printf("[payment] webhook: order settle %s: %v", entity.OrderRef, err)
		return nil
	}

	// Not an order intent; the same reference may belong to an installment.
	if _, err := e.settleInstallment(ctx, entity.OrderRef, p); err != nil {
		log.Printf("[payment] webhook: installment settle %s: %v", entity.OrderRef, err)
	}
	return nil
}

func (e *Engine) announceSettled(o *order.Order, status string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.notifier.PaymentSettled(ctx, notify.OrderEvent{
			OrderID: o.ID,
			UserID:  o.UserID,
			Total:   o.Total.String(),
			Status:  status,
		}); err != nil {
			log.Printf("[payment] settlement notification failed: %v", err)
		}
	}()
}

// mapGatewayStatus maps the gateway's payment status onto the ledger state
// machine. Anything not explicitly terminal stays pending.
func mapGatewayStatus(s string) string {
	switch s {
	case "captured", "authorized":
		return order.StatusCompleted
	case "failed":
		return order.StatusFailed
	default:
		return order.StatusPending
	}
}
