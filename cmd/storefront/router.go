package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/msinnovatics/storefront/internal/httpx"
	"github.com/msinnovatics/storefront/internal/installment"
	"github.com/msinnovatics/storefront/internal/order"
	"github.com/msinnovatics/storefront/internal/payment"
)

type app struct {
	orders       *order.Service
	installments *installment.Service
	engine       *payment.Engine
}

func newRouter(a *app) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	// The gateway pushes webhooks unauthenticated; the HMAC over the raw body
	// is the credential.
	r.POST("/payments/webhook", webhookHandler(a.engine))

	auth := r.Group("", httpx.UserID())
	{
		auth.POST("/orders", createOrderHandler(a.orders))
		auth.GET("/orders/myorders", listMyOrdersHandler(a.orders))
		auth.GET("/orders/:orderId/items", getOrderItemsHandler(a.orders))
		auth.POST("/orders/:orderId/retry", retryOrderHandler(a.orders))
		auth.POST("/orders/:orderId/cancel", cancelOrderHandler(a.orders))

		auth.POST("/payments/initiate", initiatePaymentHandler(a.orders, a.engine))
		auth.POST("/payments/verify", verifyPaymentHandler(a.engine))

		auth.POST("/installments/request", requestInstallmentHandler(a.installments))
		auth.GET("/installments/my-requests", myInstallmentRequestsHandler(a.installments))
		auth.GET("/installments/my-installments", myInstallmentsHandler(a.installments))
		auth.POST("/installment/initiate/:installmentId", initiateInstallmentHandler(a.engine))
		auth.POST("/installment/verify", verifyInstallmentHandler(a.engine))
	}

	admin := r.Group("", httpx.AdminOnly())
	{
		admin.GET("/orders/all", listAllOrdersHandler(a.orders))
		admin.GET("/installments/requests/pending", pendingInstallmentRequestsHandler(a.installments))
		admin.GET("/installments/requests/all", allInstallmentRequestsHandler(a.installments))
		admin.POST("/installments/approve/:requestId", approveInstallmentRequestHandler(a.installments))
		admin.POST("/installments/reject/:requestId", rejectInstallmentRequestHandler(a.installments))
		admin.GET("/installments/all", allInstallmentsHandler(a.installments))
	}

	return r
}
