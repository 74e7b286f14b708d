package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/msinnovatics/storefront/internal/httpx"
	"github.com/msinnovatics/storefront/internal/installment"
	"github.com/msinnovatics/storefront/internal/order"
)

// InstallmentRequestInput applies for an installment plan on an order.
// swagger:model InstallmentRequestInput
type InstallmentRequestInput struct {
	OrderID               string `json:"order_id"`
	RequestedInstallments int    `json:"requested_installments"`
	Reason                string `json:"reason"`
}

// ApproveInstallmentsInput carries the plan an admin approves. ApprovedTotal
// may adjust the request total; omitted keeps the original.
// swagger:model ApproveInstallmentsInput
type ApproveInstallmentsInput struct {
	Installments []struct {
		Amount  decimal.Decimal `json:"amount"`
		DueDate string          `json:"due_date"` // YYYY-MM-DD
	} `json:"installments"`
	ApprovedTotal *decimal.Decimal `json:"approvedTotal"`
}

// RejectInstallmentsInput carries the reviewer's notes.
// swagger:model RejectInstallmentsInput
type RejectInstallmentsInput struct {
	AdminNotes string `json:"admin_notes"`
}

func installmentErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, installment.ErrBadCardinality),
		errors.Is(err, installment.ErrNotEligible),
		errors.Is(err, installment.ErrPendingExists),
		errors.Is(err, installment.ErrEmptyPlan):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, installment.ErrAlreadyProcessed):
		return http.StatusBadRequest, "Request has already been processed"
	case errors.Is(err, installment.ErrNotFound), errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "not found or unauthorized"
	default:
		return http.StatusInternalServerError, "error processing installment request"
	}
}

func requestInstallmentHandler(svc *installment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req InstallmentRequestInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid json"})
			return
		}
		if req.OrderID == "" || req.RequestedInstallments == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Order ID and number of installments are required"})
			return
		}
		created, err := svc.Request(c.Request.Context(), req.OrderID, httpx.User(c), req.RequestedInstallments, req.Reason)
		if err != nil {
			status, msg := installmentErrorStatus(err)
			c.JSON(status, gin.H{"message": msg})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"message": "Installment request submitted successfully",
			"request": created,
		})
	}
}

func myInstallmentRequestsHandler(svc *installment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs, err := svc.RequestsByUser(c.Request.Context(), httpx.User(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "error fetching installment requests"})
			return
		}
		if reqs == nil {
			reqs = []installment.Request{}
		}
		c.JSON(http.StatusOK, reqs)
	}
}

func myInstallmentsHandler(svc *installment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ins, err := svc.InstallmentsByUser(c.Request.Context(), httpx.User(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "error fetching installments"})
			return
		}
		if ins == nil {
			ins = []installment.Installment{}
		}
		c.JSON(http.StatusOK, ins)
	}
}

func pendingInstallmentRequestsHandler(svc *installment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs, err := svc.PendingRequests(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "error fetching pending requests"})
			return
		}
		if reqs == nil {
			reqs = []installment.Request{}
		}
		c.JSON(http.StatusOK, reqs)
	}
}

func allInstallmentRequestsHandler(svc *installment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs, err := svc.AllRequests(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "error fetching requests"})
			return
		}
		if reqs == nil {
			reqs = []installment.Request{}
		}
		c.JSON(http.StatusOK, reqs)
	}
}

func approveInstallmentRequestHandler(svc *installment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ApproveInstallmentsInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid json"})
			return
		}
		if len(req.Installments) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Installments configuration is required"})
			return
		}

		plan := make([]installment.PlanEntry, 0, len(req.Installments))
		for _, in := range req.Installments {
			dueDate, err := time.Parse("2006-01-02", in.DueDate)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"message": "due_date must be YYYY-MM-DD"})
				return
			}
			plan = append(plan, installment.PlanEntry{Amount: in.Amount, DueDate: dueDate})
		}

		if err := svc.Approve(c.Request.Context(), c.Param("requestId"), plan, req.ApprovedTotal); err != nil {
			var mismatch *installment.PlanMismatchError
			if errors.As(err, &mismatch) {
				// Surface expected/received so the admin can correct the plan.
				c.JSON(http.StatusBadRequest, gin.H{
					"message":  "Total installment amount must equal the approved amount",
					"expected": mismatch.Expected,
					"received": mismatch.Received,
				})
				return
			}
			status, msg := installmentErrorStatus(err)
			c.JSON(status, gin.H{"message": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Installment request approved successfully"})
	}
}

func rejectInstallmentRequestHandler(svc *installment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RejectInstallmentsInput
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid json"})
			return
		}
		if err := svc.Reject(c.Request.Context(), c.Param("requestId"), req.AdminNotes); err != nil {
			status, msg := installmentErrorStatus(err)
			c.JSON(status, gin.H{"message": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Installment request rejected"})
	}
}

func allInstallmentsHandler(svc *installment.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ins, err := svc.AllInstallments(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "error fetching installments"})
			return
		}
		if ins == nil {
			ins = []installment.Installment{}
		}
		c.JSON(http.StatusOK, ins)
	}
}
