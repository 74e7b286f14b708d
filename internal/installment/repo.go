package installment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("installment not found")
	// ErrAlreadyProcessed means the status-guarded update found the request in
	// a terminal state: another actor approved or rejected it first.
	ErrAlreadyProcessed = errors.New("request already processed")
)

type Repository interface {
	CreateRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	HasPendingRequest(ctx context.Context, orderID string) (bool, error)
	ListRequestsByUser(ctx context.Context, userID string) ([]Request, error)
	ListPendingRequests(ctx context.Context) ([]Request, error)
	ListAllRequests(ctx context.Context) ([]Request, error)
	Approve(ctx context.Context, requestID string, total decimal.Decimal, installments []Installment) error
	Reject(ctx context.Context, requestID, adminNotes string) error
	GetInstallmentForUser(ctx context.Context, id, userID string) (*Installment, error)
	GetByIntentRef(ctx context.Context, intentRef string) (*Installment, error)
	SetIntentRef(ctx context.Context, id, intentRef string) error
	MarkPaid(ctx context.Context, id, paymentRef string) (allPaid bool, err error)
	ListInstallmentsByUser(ctx context.Context, userID string) ([]Installment, error)
	ListAllInstallments(ctx context.Context) ([]Installment, error)
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

const requestCols = `
  id, user_id, order_id, total_amount::text, requested_installments,
  COALESCE(reason,''), status, COALESCE(admin_notes,''), created_at, updated_at
`

func scanRequest(row pgx.Row) (*Request, error) {
	var rq Request
	var total string
	if err := row.Scan(&rq.ID, &rq.UserID, &rq.OrderID, &total, &rq.RequestedInstallments,
		&rq.Reason, &rq.Status, &rq.AdminNotes, &rq.CreatedAt, &rq.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return nil, err
	}
	rq.Total = d
	return &rq, nil
}

const installmentCols = `
  id, request_id, order_id, user_id, installment_number, amount::text, due_date,
  status, COALESCE(intent_ref,''), COALESCE(payment_ref,''), paid_at, created_at
`

func scanInstallment(row pgx.Row) (*Installment, error) {
	var in Installment
	var amount string
	if err := row.Scan(&in.ID, &in.RequestID, &in.OrderID, &in.UserID, &in.Number,
		&amount, &in.DueDate, &in.Status, &in.IntentRef, &in.PaymentRef,
		&in.PaidAt, &in.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	in.Amount = d
	return &in, nil
}

func (r *PGRepo) CreateRequest(ctx context.Context, req *Request) error {
	_, err := r.db.Exec(ctx, `
    INSERT INTO installment_requests
      (id, user_id, order_id, total_amount, requested_installments, reason, status, created_at, updated_at)
    VALUES ($1,$2,$3,$4,$5,$6,'pending',NOW(),NOW())
  `, req.ID, req.UserID, req.OrderID, req.Total.String(), req.RequestedInstallments, req.Reason)
	return err
}

func (r *PGRepo) GetRequest(ctx context.Context, id string) (*Request, error) {
	return scanRequest(r.db.QueryRow(ctx, `
    SELECT `+requestCols+` FROM installment_requests WHERE id=$1
  `, id))
}

func (r *PGRepo) HasPendingRequest(ctx context.Context, orderID string) (bool, error) {
	var n int
	if err := r.db.QueryRow(ctx, `
    SELECT COUNT(*) FROM installment_requests WHERE order_id=$1 AND status='pending'
  `, orderID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PGRepo) listRequests(ctx context.Context, query string, args ...any) ([]Request, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		rq, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rq)
	}
	return out, rows.Err()
}

func (r *PGRepo) ListRequestsByUser(ctx context.Context, userID string) ([]Request, error) {
	return r.listRequests(ctx, `
    SELECT `+requestCols+` FROM installment_requests
    WHERE user_id=$1 ORDER BY created_at DESC
  `, userID)
}

func (r *PGRepo) ListPendingRequests(ctx context.Context) ([]Request, error) {
	return r.listRequests(ctx, `
    SELECT `+requestCols+` FROM installment_requests
    WHERE status='pending' ORDER BY created_at DESC
  `)
}

func (r *PGRepo) ListAllRequests(ctx context.Context) ([]Request, error) {
	return r.listRequests(ctx, `
    SELECT `+requestCols+` FROM installment_requests ORDER BY created_at DESC
  `)
}

// Approve flips the request to approved and inserts the installment plan in
// one transaction. The status-guarded UPDATE is the arbiter when two admins
// race: the loser sees zero affected rows and gets ErrAlreadyProcessed.
func (r *PGRepo) Approve(ctx context.Context, requestID string, total decimal.Decimal, installments []Installment) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
    UPDATE installment_requests
    SET status='approved', total_amount=$2, updated_at=NOW()
    WHERE id=$1 AND status='pending'
  `, requestID, total.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}

	for _, in := range installments {
		if _, err := tx.Exec(ctx, `
      INSERT INTO installments
        (id, request_id, order_id, user_id, installment_number, amount, due_date, status, created_at)
      VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',NOW())
    `, in.ID, in.RequestID, in.OrderID, in.UserID, in.Number, in.Amount.String(), in.DueDate); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) Reject(ctx context.Context, requestID, adminNotes string) error {
	tag, err := r.db.Exec(ctx, `
    UPDATE installment_requests
    SET status='rejected', admin_notes=$2, updated_at=NOW()
    WHERE id=$1 AND status='pending'
  `, requestID, adminNotes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

func (r *PGRepo) GetInstallmentForUser(ctx context.Context, id, userID string) (*Installment, error) {
	return scanInstallment(r.db.QueryRow(ctx, `
    SELECT `+installmentCols+` FROM installments WHERE id=$1 AND user_id=$2
  `, id, userID))
}

func (r *PGRepo) GetByIntentRef(ctx context.Context, intentRef string) (*Installment, error) {
	return scanInstallment(r.db.QueryRow(ctx, `
    SELECT `+installmentCols+` FROM installments WHERE intent_ref=$1
  `, intentRef))
}

func (r *PGRepo) SetIntentRef(ctx context.Context, id, intentRef string) error {
	tag, err := r.db.Exec(ctx, `
    UPDATE installments SET intent_ref=$2 WHERE id=$1
  `, id, intentRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaid settles one installment and, when it was the last unpaid one under
// its request, cascades the parent order to completed. Both writes share a
// transaction so a crash cannot leave the installment paid but the order
// stuck pending.
func (r *PGRepo) MarkPaid(ctx context.Context, id, paymentRef string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var requestID, orderID string
	err = tx.QueryRow(ctx, `
    UPDATE installments
    SET status='paid', payment_ref=$2, paid_at=NOW()
    WHERE id=$1 AND status <> 'paid'
    RETURNING request_id, order_id
  `, id, paymentRef).Scan(&requestID, &orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Already paid by a racing verification. Safe no-op.
		return false, tx.Commit(ctx)
	}
	if err != nil {
		return false, err
	}

	var remaining int
	if err := tx.QueryRow(ctx, `
    SELECT COUNT(*) FROM installments WHERE request_id=$1 AND status <> 'paid'
  `, requestID).Scan(&remaining); err != nil {
		return false, err
	}

	allPaid := remaining == 0
	if allPaid {
		if _, err := tx.Exec(ctx, `
      UPDATE orders SET status='completed', updated_at=NOW()
      WHERE id=$1 AND status='pending'
    `, orderID); err != nil {
			return false, err
		}
	}
	return allPaid, tx.Commit(ctx)
}

func (r *PGRepo) listInstallments(ctx context.Context, query string, args ...any) ([]Installment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Installment
	for rows.Next() {
		in, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func (r *PGRepo) ListInstallmentsByUser(ctx context.Context, userID string) ([]Installment, error) {
	return r.listInstallments(ctx, `
    SELECT `+installmentCols+` FROM installments
    WHERE user_id=$1 ORDER BY due_date ASC, installment_number ASC
  `, userID)
}

func (r *PGRepo) ListAllInstallments(ctx context.Context) ([]Installment, error) {
	return r.listInstallments(ctx, `
    SELECT `+installmentCols+` FROM installments
    ORDER BY due_date ASC, created_at DESC
  `)
}

// MarkOverdue flips pending installments whose due date has passed. Invoked
// lazily when admin listings are served; there is no background sweeper.
func (r *PGRepo) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
    UPDATE installments SET status='overdue'
    WHERE status='pending' AND due_date < $1
  `, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
