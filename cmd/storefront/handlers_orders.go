package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/msinnovatics/storefront/internal/httpx"
	"github.com/msinnovatics/storefront/internal/order"
)

// CreateOrderItem is one order line as submitted by the client. Price is the
// snapshot the client committed to at checkout time.
// swagger:model CreateOrderItem
type CreateOrderItem struct {
	ProductID string          `json:"product_id" example:"4e7d4e5c-5cb9-4a3f-9f21-7e1a4f9f2b2a"`
	Quantity  int             `json:"quantity"  example:"2"`
	Price     decimal.Decimal `json:"price"     example:"100.00"`
}

// CreateOrderRequest is the order creation payload.
// swagger:model CreateOrderRequest
type CreateOrderRequest struct {
	Items       []CreateOrderItem `json:"items"`
	TotalAmount decimal.Decimal   `json:"total_amount" example:"200.00"`
}

func toItemInputs(items []CreateOrderItem) []order.ItemInput {
	out := make([]order.ItemInput, 0, len(items))
	for _, it := range items {
		out = append(out, order.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}
	return out
}

func orderErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrNoItems), errors.Is(err, order.ErrBadQuantity), errors.Is(err, order.ErrTotalMismatch):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, order.ErrNotFound):
		// Ownership misses and missing rows share one message so existence
		// does not leak.
		return http.StatusNotFound, "order not found or unauthorized"
	default:
		return http.StatusInternalServerError, "error processing order"
	}
}

func createOrderHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid json"})
			return
		}
		o, err := svc.Create(c.Request.Context(), httpx.User(c), order.ModeFull, toItemInputs(req.Items), req.TotalAmount)
		if err != nil {
			status, msg := orderErrorStatus(err)
			c.JSON(status, gin.H{"message": msg})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "Order created successfully", "orderId": o.ID})
	}
}

func listMyOrdersHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := svc.ListByUser(c.Request.Context(), httpx.User(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "error fetching orders"})
			return
		}
		if orders == nil {
			orders = []order.Order{}
		}
		c.JSON(http.StatusOK, orders)
	}
}

func getOrderItemsHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := svc.ItemsFor(c.Request.Context(), c.Param("orderId"), httpx.User(c))
		if err != nil {
			status, msg := orderErrorStatus(err)
			c.JSON(status, gin.H{"message": msg})
			return
		}
		if items == nil {
			items = []order.Item{}
		}
		c.JSON(http.StatusOK, items)
	}
}

func retryOrderHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("orderId")
		if err := svc.Retry(c.Request.Context(), orderID, httpx.User(c)); err != nil {
			status, msg := orderErrorStatus(err)
			c.JSON(status, gin.H{"message": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Order reset for retry", "orderId": orderID})
	}
}

func cancelOrderHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("orderId")
		if err := svc.Cancel(c.Request.Context(), orderID, httpx.User(c)); err != nil {
			status, msg := orderErrorStatus(err)
			c.JSON(status, gin.H{"message": msg})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Order cancelled", "orderId": orderID})
	}
}

func listAllOrdersHandler(svc *order.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := svc.ListAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "error fetching orders"})
			return
		}
		if orders == nil {
			orders = []order.Order{}
		}
		c.JSON(http.StatusOK, orders)
	}
}
