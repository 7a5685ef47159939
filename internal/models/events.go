package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeCartCreated        = "CART_CREATED"
	EventTypeCartMerged         = "CART_MERGED"
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderCancelled     = "ORDER_CANCELLED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"

	// Inbound from the fulfillment system
	EventTypeOrderShipped   = "ORDER_SHIPPED"
	EventTypeOrderDelivered = "ORDER_DELIVERED"
	EventTypeOrderRefunded  = "ORDER_REFUNDED"
	EventTypeOrderReturned  = "ORDER_RETURNED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CartCreatedEvent published when a cart is created lazily for an actor
type CartCreatedEvent struct {
	BaseEvent
	CartID   int64  `json:"cart_id"`
	UserID   *int64 `json:"user_id,omitempty"`
	DeviceIP string `json:"device_ip,omitempty"`
}

// CartMergedEvent published when a guest cart is absorbed into a user cart
type CartMergedEvent struct {
	BaseEvent
	SourceCartID int64 `json:"source_cart_id"`
	TargetCartID int64 `json:"target_cart_id"`
	UserID       int64 `json:"user_id"`
	LinesMerged  int   `json:"lines_merged"`
}

// OrderPlacedEvent published after a successful checkout
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	UserID      int64           `json:"user_id"`
	CartID      int64           `json:"cart_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderCancelledEvent published when a pending order is cancelled and its stock restored
type OrderCancelledEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Reason      string          `json:"reason"`
	Items       []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on administrative transitions
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	ChangedBy *int64 `json:"changed_by,omitempty"`
}

// FulfillmentEvent is consumed from the fulfillment topic
type FulfillmentEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	Note    string `json:"note,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	SKUID     int64           `json:"sku_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
