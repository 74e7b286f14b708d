package order

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/msinnovatics/storefront/internal/notify"
)

var (
	ErrNoItems       = errors.New("order has no items")
	ErrBadQuantity   = errors.New("item quantity must be positive")
	ErrTotalMismatch = errors.New("order total does not match item prices")
)

// ItemInput is an item as submitted at order creation. Price is the caller's
// snapshot of the price at the moment of commitment; it is deliberately not
// re-fetched from the catalog.
type ItemInput struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

type Service struct {
	repo     Repository
	notifier notify.Notifier
	epsilon  decimal.Decimal
}

func NewService(repo Repository, notifier notify.Notifier, epsilon decimal.Decimal) *Service {
	return &Service{repo: repo, notifier: notifier, epsilon: epsilon}
}

// Create inserts a pending order and its item snapshots in one transaction.
// The supplied total must agree with sum(quantity * price) within the
// configured epsilon.
func (s *Service) Create(ctx context.Context, userID, paymentMode string, items []ItemInput, total decimal.Decimal) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	sum := decimal.Zero
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrBadQuantity
		}
		sum = sum.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	if sum.Sub(total).Abs().GreaterThan(s.epsilon) {
		return nil, ErrTotalMismatch
	}
	if paymentMode == "" {
		paymentMode = ModeFull
	}

	o := &Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		Status:      StatusPending,
		PaymentMode: paymentMode,
		Total:       total,
	}
	rows := make([]Item, 0, len(items))
	for _, it := range items {
		rows = append(rows, Item{
			ID:              uuid.NewString(),
			OrderID:         o.ID,
			ProductID:       it.ProductID,
			Quantity:        it.Quantity,
			PriceAtPurchase: it.Price,
		})
	}
	if err := s.repo.Create(ctx, o, rows); err != nil {
		return nil, err
	}

	// Notification is fired after commit and must never fail the request.
	go func() {
		nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.OrderCreated(nctx, notify.OrderEvent{
			OrderID: o.ID,
			UserID:  o.UserID,
			Total:   o.Total.String(),
			Status:  o.Status,
		}); err != nil {
			log.Printf("[order] order created notification failed: %v", err)
		}
	}()

	return o, nil
}

// Retry resets a caller-owned pending or failed order back to pending so the
// payment can be attempted again. Items are kept as-is.
func (s *Service) Retry(ctx context.Context, orderID, userID string) error {
	return s.repo.ResetForRetry(ctx, orderID, userID)
}

func (s *Service) Cancel(ctx context.Context, orderID, userID string) error {
	return s.repo.Cancel(ctx, orderID, userID)
}

// ItemsFor returns the item snapshots of an order the caller owns.
func (s *Service) ItemsFor(ctx context.Context, orderID, userID string) ([]Item, error) {
	if _, err := s.repo.GetForUser(ctx, orderID, userID); err != nil {
		return nil, err
	}
	return s.repo.GetItems(ctx, orderID)
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *Service) ListAll(ctx context.Context) ([]Order, error) {
	return s.repo.ListAll(ctx)
}
