package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SKU is a purchasable product variant with its own price and stock counter
type SKU struct {
	ID        int64           `db:"id" json:"id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Code      string          `db:"code" json:"code"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Cart is owned either by a user or by a guest device IP, never both
type Cart struct {
	ID             int64           `db:"id" json:"id"`
	UserID         *int64          `db:"user_id" json:"user_id,omitempty"`
	DeviceIP       *string         `db:"device_ip" json:"device_ip,omitempty"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	CheckoutClosed bool            `db:"checkout_closed" json:"checkout_closed"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
	Lines          []CartLine      `db:"-" json:"lines"`
}

// IsGuest reports whether the cart is keyed by device IP
func (c *Cart) IsGuest() bool {
	return c.UserID == nil
}

// CartLine is one SKU/quantity pairing inside a cart. UnitPrice is the
// SKU's current price, joined at read time.
type CartLine struct {
	ID        int64           `db:"id" json:"id"`
	CartID    int64           `db:"cart_id" json:"cart_id"`
	SKUID     int64           `db:"sku_id" json:"sku_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Subtotal is quantity times the current unit price
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is the immutable result of a checkout; only Status, CancelReason
// and UpdatedBy change afterwards.
type Order struct {
	ID           int64            `db:"id" json:"id"`
	OrderNumber  string           `db:"order_number" json:"order_number"`
	UserID       int64            `db:"user_id" json:"user_id"`
	CartID       int64            `db:"cart_id" json:"cart_id"`
	TotalAmount  decimal.Decimal  `db:"total_amount" json:"total_amount"`
	Status       string           `db:"status" json:"status"`
	CancelReason *string          `db:"cancel_reason" json:"cancel_reason,omitempty"`
	UpdatedBy    *int64           `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updated_at"`
	Lines        []OrderLine      `db:"-" json:"lines,omitempty"`
	Shipping     *ShippingAddress `db:"-" json:"shipping_address,omitempty"`
	Payment      *PaymentRecord   `db:"-" json:"payment,omitempty"`
}

// OrderLine snapshots a cart line at checkout time
type OrderLine struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	SKUID     int64           `db:"sku_id" json:"sku_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal  decimal.Decimal `db:"subtotal" json:"subtotal"`
}

// AddressFields is shared by saved addresses and shipping snapshots
type AddressFields struct {
	RecipientName string `db:"recipient_name" json:"recipient_name"`
	Phone         string `db:"phone" json:"phone"`
	Line1         string `db:"line1" json:"line1"`
	Line2         string `db:"line2" json:"line2,omitempty"`
	City          string `db:"city" json:"city"`
	State         string `db:"state" json:"state,omitempty"`
	PostalCode    string `db:"postal_code" json:"postal_code"`
	Country       string `db:"country" json:"country"`
}

// Address is a user's stored address book entry
type Address struct {
	ID        int64 `db:"id" json:"id"`
	UserID    int64 `db:"user_id" json:"user_id"`
	IsDefault bool  `db:"is_default" json:"is_default"`
	AddressFields
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ShippingAddress is the address snapshot attached to an order
type ShippingAddress struct {
	ID      int64 `db:"id" json:"id"`
	OrderID int64 `db:"order_id" json:"order_id"`
	AddressFields
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PaymentRecord is the opaque payment attempt recorded at checkout
type PaymentRecord struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	Mode      string          `db:"mode" json:"mode"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Status    string          `db:"status" json:"status"`
	Reference string          `db:"reference" json:"reference"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Order statuses
const (
	OrderStatusPending   = "PENDING"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRefunded  = "REFUNDED"
	OrderStatusReturned  = "RETURNED"
)

// Payment statuses
const (
	PaymentStatusPending = "PENDING"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
