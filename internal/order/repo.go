package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("order not found")
)

type Repository interface {
	Create(ctx context.Context, o *Order, items []Item) error
	GetForUser(ctx context.Context, id, userID string) (*Order, error)
	GetByIntentRef(ctx context.Context, intentRef string) (*Order, error)
	GetItems(ctx context.Context, orderID string) ([]Item, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	ResetForRetry(ctx context.Context, id, userID string) error
	Cancel(ctx context.Context, id, userID string) error
	SetIntentRef(ctx context.Context, id, intentRef string) error
	ApplyPaymentResult(ctx context.Context, id string, res PaymentResult) error
	MarkFailed(ctx context.Context, id, reason string) error
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

const orderCols = `
  id, user_id, status, payment_mode, total_amount::text,
  COALESCE(intent_ref,''), COALESCE(payment_ref,''), COALESCE(payment_method,''),
  COALESCE(status_message,''), COALESCE(failure_message,''), COALESCE(currency,''),
  created_at, updated_at
`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var total string
	if err := row.Scan(&o.ID, &o.UserID, &o.Status, &o.PaymentMode, &total,
		&o.IntentRef, &o.PaymentRef, &o.PaymentMethod,
		&o.StatusMessage, &o.FailureMessage, &o.Currency,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return nil, err
	}
	o.Total = d
	return &o, nil
}

func (r *PGRepo) Create(ctx context.Context, o *Order, items []Item) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
    INSERT INTO orders (id, user_id, status, payment_mode, total_amount, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
  `, o.ID, o.UserID, o.Status, o.PaymentMode, o.Total.String()); err != nil {
		return err
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
      INSERT INTO order_items (id, order_id, product_id, quantity, price_at_purchase)
      VALUES ($1,$2,$3,$4,$5)
    `, it.ID, o.ID, it.ProductID, it.Quantity, it.PriceAtPurchase.String()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) GetForUser(ctx context.Context, id, userID string) (*Order, error) {
	return scanOrder(r.db.QueryRow(ctx, `
    SELECT `+orderCols+` FROM orders WHERE id=$1 AND user_id=$2
  `, id, userID))
}

func (r *PGRepo) GetByIntentRef(ctx context.Context, intentRef string) (*Order, error) {
	return scanOrder(r.db.QueryRow(ctx, `
    SELECT `+orderCols+` FROM orders WHERE intent_ref=$1
  `, intentRef))
}

func (r *PGRepo) GetItems(ctx context.Context, orderID string) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
    SELECT id, order_id, product_id, quantity, price_at_purchase::text
    FROM order_items
    WHERE order_id = $1
  `, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var price string
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return nil, err
		}
		if it.PriceAtPurchase, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PGRepo) list(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return r.list(ctx, `
    SELECT `+orderCols+` FROM orders WHERE user_id=$1
    ORDER BY created_at DESC
  `, userID)
}

func (r *PGRepo) ListAll(ctx context.Context) ([]Order, error) {
	return r.list(ctx, `
    SELECT `+orderCols+` FROM orders ORDER BY created_at DESC
  `)
}

// ResetForRetry puts a failed (or still pending) order back into pending so a
// new payment attempt can be initiated. Ownership and the status guard live
// in the WHERE clause so two concurrent retries cannot disagree.
func (r *PGRepo) ResetForRetry(ctx context.Context, id, userID string) error {
	tag, err := r.db.Exec(ctx, `
    UPDATE orders
    SET status = 'pending', failure_message = NULL, updated_at = NOW()
    WHERE id = $1 AND user_id = $2 AND status IN ('pending','failed')
  `, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) Cancel(ctx context.Context, id, userID string) error {
	tag, err := r.db.Exec(ctx, `
    UPDATE orders
    SET status = 'cancelled', updated_at = NOW()
    WHERE id = $1 AND user_id = $2 AND status = 'pending'
  `, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) SetIntentRef(ctx context.Context, id, intentRef string) error {
	tag, err := r.db.Exec(ctx, `
    UPDATE orders SET intent_ref = $2, updated_at = NOW() WHERE id = $1
  `, id, intentRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyPaymentResult persists the outcome of a reconciliation as one update.
// The status guard keeps terminal orders immutable even if two verification
// paths race.
func (r *PGRepo) ApplyPaymentResult(ctx context.Context, id string, res PaymentResult) error {
	tag, err := r.db.Exec(ctx, `
    UPDATE orders
    SET status = $2,
        payment_ref = $3,
        payment_method = $4,
        status_message = $5,
        failure_message = NULLIF($6,''),
        currency = $7,
        updated_at = NOW()
    WHERE id = $1 AND status = 'pending'
  `, id, res.Status, res.PaymentRef, res.PaymentMethod, res.StatusMessage, res.FailureMessage, res.Currency)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) MarkFailed(ctx context.Context, id, reason string) error {
	tag, err := r.db.Exec(ctx, `
    UPDATE orders
    SET status = 'failed', failure_message = $2, updated_at = NOW()
    WHERE id = $1 AND status = 'pending'
  `, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
