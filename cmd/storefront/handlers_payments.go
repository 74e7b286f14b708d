package main

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/msinnovatics/storefront/internal/gateway"
	"github.com/msinnovatics/storefront/internal/httpx"
	"github.com/msinnovatics/storefront/internal/order"
	"github.com/msinnovatics/storefront/internal/payment"
)

// InitiatePaymentRequest starts a checkout: either against a fresh order built
// from items, or against an existing pending/failed order being retried.
// swagger:model InitiatePaymentRequest
type InitiatePaymentRequest struct {
	Items           []CreateOrderItem `json:"items"`
	TotalAmount     decimal.Decimal   `json:"total_amount"`
	ExistingOrderID string            `json:"existing_order_id"`
	PaymentMode     string            `json:"payment_mode"` // full | installment
}

// VerifyPaymentRequest is the client-side confirmation after gateway checkout.
// swagger:model VerifyPaymentRequest
type VerifyPaymentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
	OrderID          string `json:"order_id"`
}

func paymentErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, payment.ErrSignatureInvalid):
		// Generic on purpose: never tell the caller which check failed.
		return http.StatusBadRequest, "Payment verification failed"
	case errors.Is(err, payment.ErrAmountMismatch):
		return http.StatusBadRequest, "Payment amount mismatch"
	case errors.Is(err, payment.ErrCurrencyMismatch):
		return http.StatusBadRequest, "Payment currency mismatch"
	case errors.Is(err, payment.ErrAlreadySettled):
		return http.StatusBadRequest, "Payment already settled"
	case errors.Is(err, payment.ErrTargetNotFound), errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, "order not found or unauthorized"
	case errors.Is(err, gateway.ErrUnavailable):
		return http.StatusBadGateway, "Payment gateway unavailable, please retry"
	default:
		return http.StatusInternalServerError, "Error processing payment"
	}
}

func initiatePaymentHandler(orders *order.Service, engine *payment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req InitiatePaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid json"})
			return
		}
		uid := httpx.User(c)

		mode := req.PaymentMode
		if mode == "" {
			mode = order.ModeFull
		}

		var orderID string
		if req.ExistingOrderID != "" {
			if err := orders.Retry(c.Request.Context(), req.ExistingOrderID, uid); err != nil {
				status, msg := orderErrorStatus(err)
				c.JSON(status, gin.H{"message": msg})
				return
			}
			orderID = req.ExistingOrderID
		} else {
			o, err := orders.Create(c.Request.Context(), uid, mode, toItemInputs(req.Items), req.TotalAmount)
			if err != nil {
				status, msg := orderErrorStatus(err)
				c.JSON(status, gin.H{"message": msg})
				return
			}
			orderID = o.ID
		}

		// Installment checkouts do not touch the gateway here: the order waits
		// for an approved installment plan, then each installment pays on its
		// own intent.
		if mode == order.ModeInstallment {
			c.JSON(http.StatusOK, gin.H{
				"isInstallmentRequest": true,
				"orderId":              orderID,
				"message":              "Order recorded. Submit an installment request to continue.",
			})
			return
		}

		co, err := engine.InitiateOrder(c.Request.Context(), orderID, uid)
		if err != nil {
			status, msg := paymentErrorStatus(err)
			c.JSON(status, gin.H{"message": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"orderId":        co.TargetID,
			"gatewayOrderId": co.IntentRef,
			"amount":         co.AmountMinor,
			"currency":       co.Currency,
			"keyId":          co.KeyID,
		})
	}
}

func verifyPaymentHandler(engine *payment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VerifyPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid json"})
			return
		}
		res, err := engine.VerifyOrder(c.Request.Context(), payment.Confirmation{
			OrderRef:   req.GatewayOrderID,
			PaymentRef: req.GatewayPaymentID,
			Signature:  req.Signature,
		})
		if err != nil {
			status, msg := paymentErrorStatus(err)
			c.JSON(status, gin.H{"success": false, "message": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"orderId":   res.TargetID,
			"paymentId": req.GatewayPaymentID,
			"status":    res.Status,
		})
	}
}

func webhookHandler(engine *payment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "unreadable body"})
			return
		}
		sig := c.GetHeader("X-Gateway-Signature")
		if err := engine.HandleWebhook(c.Request.Context(), body, sig); err != nil {
			// Only a failed signature is rejected; everything after an accepted
			// signature answers 200 so the gateway stops retrying.
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid signature"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

//
// ---------- INSTALLMENT PAYMENTS ----------
//

// VerifyInstallmentRequest mirrors VerifyPaymentRequest for one installment.
// swagger:model VerifyInstallmentRequest
type VerifyInstallmentRequest struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
	InstallmentID    string `json:"installment_id"`
}

func initiateInstallmentHandler(engine *payment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		co, err := engine.InitiateInstallment(c.Request.Context(), c.Param("installmentId"), httpx.User(c))
		if err != nil {
			status, msg := paymentErrorStatus(err)
			if errors.Is(err, payment.ErrAlreadySettled) {
				msg = "Installment already paid"
			}
			c.JSON(status, gin.H{"message": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"installmentId":  co.TargetID,
			"gatewayOrderId": co.IntentRef,
			"amount":         co.AmountMinor,
			"currency":       co.Currency,
			"keyId":          co.KeyID,
		})
	}
}

func verifyInstallmentHandler(engine *payment.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VerifyInstallmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid json"})
			return
		}
		res, err := engine.VerifyInstallment(c.Request.Context(), payment.Confirmation{
			OrderRef:   req.GatewayOrderID,
			PaymentRef: req.GatewayPaymentID,
			Signature:  req.Signature,
		})
		if err != nil {
			status, msg := paymentErrorStatus(err)
			c.JSON(status, gin.H{"success": false, "message": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"installmentId": res.TargetID,
			"paymentId":     req.GatewayPaymentID,
			"status":        res.Status,
			"allPaid":       res.AllPaid,
		})
	}
}
