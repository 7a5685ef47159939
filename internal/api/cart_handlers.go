package api

import (
	"net/http"

	"cart-service/internal/service"

	"github.com/gin-gonic/gin"
)

// AddLineRequest is the body of POST /cart/:id/lines
type AddLineRequest struct {
	SKUID    int64 `json:"sku_id" binding:"required"`
	Quantity int   `json:"quantity"`
}

// UpdateLineRequest is the body of PUT /cart/:id/lines/:line_id
type UpdateLineRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

// resolveCart creates or fetches the caller's open cart
func (h *Handler) resolveCart(c *gin.Context) {
	cart, outcome, err := h.carts.ResolveOrCreateCart(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	if outcome == service.CartCreated {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"outcome": outcome.String(),
		"cart":    cart,
	})
}

// mergeCart folds the caller's device guest cart into their user cart
func (h *Handler) mergeCart(c *gin.Context) {
	cart, err := h.carts.MergeDeviceCart(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// getCart handles get cart by ID
func (h *Handler) getCart(c *gin.Context) {
	cartID, ok := idParam(c, "id")
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(c.Request.Context(), cartID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) addLine(c *gin.Context) {
	cartID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req AddLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	cart, err := h.carts.AddLine(c.Request.Context(), actorFrom(c), cartID, req.SKUID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) updateLine(c *gin.Context) {
	cartID, ok := idParam(c, "id")
	if !ok {
		return
	}
	lineID, ok := idParam(c, "line_id")
	if !ok {
		return
	}

	var req UpdateLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	cart, err := h.carts.UpdateLine(c.Request.Context(), actorFrom(c), cartID, lineID, *req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) removeLine(c *gin.Context) {
	cartID, ok := idParam(c, "id")
	if !ok {
		return
	}
	lineID, ok := idParam(c, "line_id")
	if !ok {
		return
	}

	cart, err := h.carts.RemoveLine(c.Request.Context(), actorFrom(c), cartID, lineID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) clearCart(c *gin.Context) {
	cartID, ok := idParam(c, "id")
	if !ok {
		return
	}

	cart, err := h.carts.Clear(c.Request.Context(), actorFrom(c), cartID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}
