package installment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/msinnovatics/storefront/internal/order"
)

var (
	ErrBadCardinality = errors.New("unsupported installment count")
	ErrNotEligible    = errors.New("order is not eligible for installments")
	ErrPendingExists  = errors.New("an installment request already exists for this order")
	ErrEmptyPlan      = errors.New("installment plan is required")
)

// PlanMismatchError reports the expected and received plan totals so the
// approver can correct the plan.
type PlanMismatchError struct {
	Expected decimal.Decimal
	Received decimal.Decimal
}

func (e *PlanMismatchError) Error() string {
	return fmt.Sprintf("installment plan total %s does not match approved amount %s",
		e.Received, e.Expected)
}

// Service manages the request -> approve/reject -> per-installment-payment
// workflow on top of the order ledger.
type Service struct {
	repo    Repository
	orders  order.Repository
	count   int
	epsilon decimal.Decimal
}

func NewService(repo Repository, orders order.Repository, count int, epsilon decimal.Decimal) *Service {
	return &Service{repo: repo, orders: orders, count: count, epsilon: epsilon}
}

// Request files an installment application for an order the caller owns. The
// requested cardinality must match the configured policy exactly.
func (s *Service) Request(ctx context.Context, orderID, userID string, count int, reason string) (*Request, error) {
	if count != s.count {
		return nil, ErrBadCardinality
	}
	o, err := s.orders.GetForUser(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	// Completed orders stay eligible: a paid order can be converted into an
	// installment arrangement after the fact.
	if o.Status != order.StatusPending && o.Status != order.StatusCompleted {
		return nil, ErrNotEligible
	}
	exists, err := s.repo.HasPendingRequest(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrPendingExists
	}

	req := &Request{
		ID:                    uuid.NewString(),
		UserID:                userID,
		OrderID:               orderID,
		Total:                 o.Total,
		RequestedInstallments: count,
		Reason:                reason,
		Status:                RequestPending,
	}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// Approve validates the plan against the approved total and atomically flips
// the request while inserting the installment rows. approvedTotal may adjust
// the request total; nil keeps the original.
func (s *Service) Approve(ctx context.Context, requestID string, plan []PlanEntry, approvedTotal *decimal.Decimal) error {
	if len(plan) == 0 {
		return ErrEmptyPlan
	}
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != RequestPending {
		return ErrAlreadyProcessed
	}

	target := req.Total
	if approvedTotal != nil {
		target = *approvedTotal
	}
	sum := decimal.Zero
	for _, p := range plan {
		sum = sum.Add(p.Amount)
	}
	if sum.Sub(target).Abs().GreaterThan(s.epsilon) {
		return &PlanMismatchError{Expected: target, Received: sum}
	}

	installments := make([]Installment, 0, len(plan))
	for i, p := range plan {
		installments = append(installments, Installment{
			ID:        uuid.NewString(),
			RequestID: requestID,
			OrderID:   req.OrderID,
			UserID:    req.UserID,
			Number:    i + 1,
			Amount:    p.Amount,
			DueDate:   p.DueDate,
			Status:    StatusPending,
		})
	}
	// The repo re-checks pending inside the transaction, so a racing approval
	// still loses cleanly even though we validated above.
	return s.repo.Approve(ctx, requestID, target, installments)
}

func (s *Service) Reject(ctx context.Context, requestID, adminNotes string) error {
	return s.repo.Reject(ctx, requestID, adminNotes)
}

func (s *Service) RequestsByUser(ctx context.Context, userID string) ([]Request, error) {
	return s.repo.ListRequestsByUser(ctx, userID)
}

func (s *Service) InstallmentsByUser(ctx context.Context, userID string) ([]Installment, error) {
	return s.repo.ListInstallmentsByUser(ctx, userID)
}

func (s *Service) PendingRequests(ctx context.Context) ([]Request, error) {
	return s.repo.ListPendingRequests(ctx)
}

func (s *Service) AllRequests(ctx context.Context) ([]Request, error) {
	return s.repo.ListAllRequests(ctx)
}

// AllInstallments serves the admin dashboard; past-due pending rows are
// flipped to overdue first so the listing reflects reality.
func (s *Service) AllInstallments(ctx context.Context) ([]Installment, error) {
	if _, err := s.repo.MarkOverdue(ctx, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.repo.ListAllInstallments(ctx)
}
