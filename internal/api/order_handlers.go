package api

import (
	"net/http"

	"cart-service/internal/auth"
	"cart-service/internal/service"

	"github.com/gin-gonic/gin"
)

// CancelOrderRequest is the optional body of POST /orders/:id/cancel
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// TransitionRequest is the body of POST /admin/orders/:id/status
type TransitionRequest struct {
	Status string `json:"status" binding:"required"`
}

// checkoutCart handles checkout
func (h *Handler) checkoutCart(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.checkout.Checkout(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), actorFrom(c), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req CancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
	}

	order, err := h.orders.Cancel(c.Request.Context(), actorFrom(c), orderID, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// transitionOrder applies an administrative status change
func (h *Handler) transitionOrder(c *gin.Context) {
	actor := actorFrom(c)
	if err := h.authorizer.Authorize(actor, auth.PermOrderTransition); err != nil {
		h.writeError(c, err)
		return
	}

	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.orders.Transition(c.Request.Context(), orderID, req.Status, actor.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
