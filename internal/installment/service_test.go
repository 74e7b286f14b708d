package installment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/msinnovatics/storefront/internal/order"
)

//
// ---------- STUBS ----------
//

type stubOrders struct {
	order *order.Order
}

func (s *stubOrders) Create(context.Context, *order.Order, []order.Item) error { return nil }

func (s *stubOrders) GetForUser(_ context.Context, id, userID string) (*order.Order, error) {
	if s.order == nil || s.order.ID != id || s.order.UserID != userID {
		return nil, order.ErrNotFound
	}
	cp := *s.order
	return &cp, nil
}

func (s *stubOrders) GetByIntentRef(context.Context, string) (*order.Order, error) {
	return nil, order.ErrNotFound
}
func (s *stubOrders) GetItems(context.Context, string) ([]order.Item, error)    { return nil, nil }
func (s *stubOrders) ListByUser(context.Context, string) ([]order.Order, error) { return nil, nil }
func (s *stubOrders) ListAll(context.Context) ([]order.Order, error)            { return nil, nil }
func (s *stubOrders) ResetForRetry(context.Context, string, string) error       { return nil }
func (s *stubOrders) Cancel(context.Context, string, string) error              { return nil }
func (s *stubOrders) SetIntentRef(context.Context, string, string) error        { return nil }
func (s *stubOrders) ApplyPaymentResult(context.Context, string, order.PaymentResult) error {
	return nil
}
func (s *stubOrders) MarkFailed(context.Context, string, string) error { return nil }

// stubRepo mimics the conditional-update semantics of the SQL repo: the
// status guard decides winners under concurrency, protected by a mutex the
// way the database serializes the UPDATE.
type stubRepo struct {
	mu        sync.Mutex
	request   *Request
	inserted  []Installment
	pendingBy map[string]bool
}

func (s *stubRepo) CreateRequest(_ context.Context, req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.request = &cp
	return nil
}

func (s *stubRepo) GetRequest(_ context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.request == nil || s.request.ID != id {
		return nil, ErrNotFound
	}
	cp := *s.request
	return &cp, nil
}

func (s *stubRepo) HasPendingRequest(_ context.Context, orderID string) (bool, error) {
	return s.pendingBy[orderID], nil
}

func (s *stubRepo) ListRequestsByUser(context.Context, string) ([]Request, error) { return nil, nil }
func (s *stubRepo) ListPendingRequests(context.Context) ([]Request, error)        { return nil, nil }
func (s *stubRepo) ListAllRequests(context.Context) ([]Request, error)            { return nil, nil }

func (s *stubRepo) Approve(_ context.Context, requestID string, total decimal.Decimal, installments []Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.request == nil || s.request.ID != requestID || s.request.Status != RequestPending {
		return ErrAlreadyProcessed
	}
	s.request.Status = RequestApproved
	s.request.Total = total
	s.inserted = append([]Installment(nil), installments...)
	return nil
}

func (s *stubRepo) Reject(_ context.Context, requestID, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.request == nil || s.request.ID != requestID || s.request.Status != RequestPending {
		return ErrAlreadyProcessed
	}
	s.request.Status = RequestRejected
	s.request.AdminNotes = notes
	return nil
}

func (s *stubRepo) GetInstallmentForUser(context.Context, string, string) (*Installment, error) {
	return nil, ErrNotFound
}
func (s *stubRepo) GetByIntentRef(context.Context, string) (*Installment, error) {
	return nil, ErrNotFound
}
func (s *stubRepo) SetIntentRef(context.Context, string, string) error { return nil }
func (s *stubRepo) MarkPaid(context.Context, string, string) (bool, error) {
	return false, nil
}
func (s *stubRepo) ListInstallmentsByUser(context.Context, string) ([]Installment, error) {
	return nil, nil
}
func (s *stubRepo) ListAllInstallments(context.Context) ([]Installment, error) { return nil, nil }
func (s *stubRepo) MarkOverdue(context.Context, time.Time) (int64, error)      { return 0, nil }

//
// ---------- HELPERS ----------
//

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func newSvc(repo *stubRepo, orders *stubOrders) *Service {
	return NewService(repo, orders, 2, decimal.New(1, -1)) // exactly 2, epsilon 0.1
}

func pendingRequest(t *testing.T, total string) *Request {
	t.Helper()
	return &Request{
		ID: "r1", UserID: "u1", OrderID: "o1",
		Total: dec(t, total), RequestedInstallments: 2, Status: RequestPending,
	}
}

func due(days int) time.Time { return time.Now().AddDate(0, 0, days) }

//
// ---------- TESTS ----------
//

func TestRequest_HappyPath(t *testing.T) {
	t.Parallel()

	orders := &stubOrders{order: &order.Order{ID: "o1", UserID: "u1", Status: order.StatusPending, Total: dec(t, "100.00")}}
	repo := &stubRepo{pendingBy: map[string]bool{}}
	svc := newSvc(repo, orders)

	req, err := svc.Request(context.Background(), "o1", "u1", 2, "salary cycle")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if req.Status != RequestPending || !req.Total.Equal(dec(t, "100.00")) {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestRequest_WrongCardinality(t *testing.T) {
	t.Parallel()

	orders := &stubOrders{order: &order.Order{ID: "o1", UserID: "u1", Status: order.StatusPending, Total: dec(t, "100.00")}}
	svc := newSvc(&stubRepo{pendingBy: map[string]bool{}}, orders)

	if _, err := svc.Request(context.Background(), "o1", "u1", 3, ""); !errors.Is(err, ErrBadCardinality) {
		t.Fatalf("err=%v, want ErrBadCardinality for 3 installments on a 2-installment policy", err)
	}
}

func TestRequest_IneligibleOrder(t *testing.T) {
	t.Parallel()

	orders := &stubOrders{order: &order.Order{ID: "o1", UserID: "u1", Status: order.StatusFailed, Total: dec(t, "100.00")}}
	svc := newSvc(&stubRepo{pendingBy: map[string]bool{}}, orders)

	if _, err := svc.Request(context.Background(), "o1", "u1", 2, ""); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("err=%v, want ErrNotEligible", err)
	}
}

func TestRequest_PendingAlreadyExists(t *testing.T) {
	t.Parallel()

	orders := &stubOrders{order: &order.Order{ID: "o1", UserID: "u1", Status: order.StatusCompleted, Total: dec(t, "100.00")}}
	repo := &stubRepo{pendingBy: map[string]bool{"o1": true}}
	svc := newSvc(repo, orders)

	if _, err := svc.Request(context.Background(), "o1", "u1", 2, ""); !errors.Is(err, ErrPendingExists) {
		t.Fatalf("err=%v, want ErrPendingExists", err)
	}
}

func TestRequest_ForeignOrder(t *testing.T) {
	t.Parallel()

	orders := &stubOrders{order: &order.Order{ID: "o1", UserID: "u1", Status: order.StatusPending, Total: dec(t, "100.00")}}
	svc := newSvc(&stubRepo{pendingBy: map[string]bool{}}, orders)

	if _, err := svc.Request(context.Background(), "o1", "u2", 2, ""); !errors.Is(err, order.ErrNotFound) {
		t.Fatalf("err=%v, want order.ErrNotFound", err)
	}
}

func TestApprove_HappyPath(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{request: pendingRequest(t, "100.00"), pendingBy: map[string]bool{}}
	svc := newSvc(repo, &stubOrders{})

	err := svc.Approve(context.Background(), "r1", []PlanEntry{
		{Amount: dec(t, "50.00"), DueDate: due(30)},
		{Amount: dec(t, "50.00"), DueDate: due(60)},
	}, nil)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if repo.request.Status != RequestApproved {
		t.Fatalf("status=%s, want approved", repo.request.Status)
	}
	if len(repo.inserted) != 2 || repo.inserted[0].Number != 1 || repo.inserted[1].Number != 2 {
		t.Fatalf("installments not numbered from 1: %+v", repo.inserted)
	}
	sum := repo.inserted[0].Amount.Add(repo.inserted[1].Amount)
	if !sum.Equal(repo.request.Total) {
		t.Fatalf("plan sum %s != approved total %s", sum, repo.request.Total)
	}
}

func TestApprove_PlanMismatch(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{request: pendingRequest(t, "100.00"), pendingBy: map[string]bool{}}
	svc := newSvc(repo, &stubOrders{})

	err := svc.Approve(context.Background(), "r1", []PlanEntry{
		{Amount: dec(t, "50.00"), DueDate: due(30)},
		{Amount: dec(t, "49.00"), DueDate: due(60)},
	}, nil)

	var mismatch *PlanMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err=%v, want PlanMismatchError", err)
	}
	if !mismatch.Expected.Equal(dec(t, "100.00")) || !mismatch.Received.Equal(dec(t, "99.00")) {
		t.Fatalf("expected=%s received=%s, want 100/99", mismatch.Expected, mismatch.Received)
	}
	if repo.request.Status != RequestPending {
		t.Fatalf("rejected plan must not transition the request")
	}
}

func TestApprove_AdminEditedTotal(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{request: pendingRequest(t, "100.00"), pendingBy: map[string]bool{}}
	svc := newSvc(repo, &stubOrders{})

	edited := dec(t, "90.00")
	err := svc.Approve(context.Background(), "r1", []PlanEntry{
		{Amount: dec(t, "45.00"), DueDate: due(30)},
		{Amount: dec(t, "45.00"), DueDate: due(60)},
	}, &edited)
	if err != nil {
		t.Fatalf("Approve with edited total: %v", err)
	}
	if !repo.request.Total.Equal(edited) {
		t.Fatalf("request total=%s, want edited 90.00", repo.request.Total)
	}
}

func TestApprove_WithinEpsilon(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{request: pendingRequest(t, "100.00"), pendingBy: map[string]bool{}}
	svc := newSvc(repo, &stubOrders{})

	err := svc.Approve(context.Background(), "r1", []PlanEntry{
		{Amount: dec(t, "50.00"), DueDate: due(30)},
		{Amount: dec(t, "49.95"), DueDate: due(60)},
	}, nil)
	if err != nil {
		t.Fatalf("0.05 rounding drift rejected: %v", err)
	}
}

func TestApprove_AlreadyProcessed(t *testing.T) {
	t.Parallel()

	req := pendingRequest(t, "100.00")
	req.Status = RequestRejected
	svc := newSvc(&stubRepo{request: req, pendingBy: map[string]bool{}}, &stubOrders{})

	err := svc.Approve(context.Background(), "r1", []PlanEntry{
		{Amount: dec(t, "50.00"), DueDate: due(30)},
		{Amount: dec(t, "50.00"), DueDate: due(60)},
	}, nil)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("err=%v, want ErrAlreadyProcessed", err)
	}
}

func TestConcurrentApprove_ExactlyOneWins(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{request: pendingRequest(t, "100.00"), pendingBy: map[string]bool{}}
	svc := newSvc(repo, &stubOrders{})

	plan := []PlanEntry{
		{Amount: dec(t, "50.00"), DueDate: due(30)},
		{Amount: dec(t, "50.00"), DueDate: due(60)},
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Approve(context.Background(), "r1", plan, nil)
		}(i)
	}
	wg.Wait()

	var ok, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyProcessed):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || lost != 1 {
		t.Fatalf("ok=%d lost=%d, want exactly one winner", ok, lost)
	}
}

func TestConcurrentApproveAndReject(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{request: pendingRequest(t, "100.00"), pendingBy: map[string]bool{}}
	svc := newSvc(repo, &stubOrders{})

	plan := []PlanEntry{
		{Amount: dec(t, "50.00"), DueDate: due(30)},
		{Amount: dec(t, "50.00"), DueDate: due(60)},
	}

	var wg sync.WaitGroup
	var approveErr, rejectErr error
	wg.Add(2)
	go func() { defer wg.Done(); approveErr = svc.Approve(context.Background(), "r1", plan, nil) }()
	go func() { defer wg.Done(); rejectErr = svc.Reject(context.Background(), "r1", "duplicate") }()
	wg.Wait()

	wins := 0
	if approveErr == nil {
		wins++
	} else if !errors.Is(approveErr, ErrAlreadyProcessed) {
		t.Fatalf("approve err=%v", approveErr)
	}
	if rejectErr == nil {
		wins++
	} else if !errors.Is(rejectErr, ErrAlreadyProcessed) {
		t.Fatalf("reject err=%v", rejectErr)
	}
	if wins != 1 {
		t.Fatalf("wins=%d, want exactly 1", wins)
	}
	if repo.request.Status == RequestPending {
		t.Fatalf("request left pending after concurrent decisions")
	}
}

func TestReject(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{request: pendingRequest(t, "100.00"), pendingBy: map[string]bool{}}
	svc := newSvc(repo, &stubOrders{})

	if err := svc.Reject(context.Background(), "r1", "insufficient history"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if repo.request.Status != RequestRejected || repo.request.AdminNotes != "insufficient history" {
		t.Fatalf("unexpected request: %+v", repo.request)
	}
	if err := svc.Reject(context.Background(), "r1", "again"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("second reject err=%v, want ErrAlreadyProcessed", err)
	}
}
