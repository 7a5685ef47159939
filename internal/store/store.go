package store

import (
	"context"

	"cart-service/internal/models"

	"github.com/shopspring/decimal"
)

// Store is the persistence boundary of the cart and order core. All state
// lives behind it; the service layer keeps nothing in memory between calls.
type Store interface {
	// WithTx runs fn in one transaction. A non-nil error from fn rolls
	// everything back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// GetCart returns a consistent snapshot of a cart and its lines
	GetCart(ctx context.Context, cartID int64) (*models.Cart, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	GetSKU(ctx context.Context, skuID int64) (*models.SKU, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx exposes the row-level operations available inside a transaction.
// Lock* methods take write locks that are held until the transaction ends.
type Tx interface {
	// LockActor serializes cart resolution for one actor key
	LockActor(ctx context.Context, key string) error

	// FindOpenCart* return nil when no open cart exists and lock the row otherwise
	FindOpenCartByUser(ctx context.Context, userID int64) (*models.Cart, error)
	FindOpenCartByDevice(ctx context.Context, deviceIP string) (*models.Cart, error)
	CreateCart(ctx context.Context, cart *models.Cart) error
	LockCart(ctx context.Context, cartID int64) (*models.Cart, error)
	DeleteCart(ctx context.Context, cartID int64) error
	CloseCart(ctx context.Context, cartID int64) error
	UpdateCartTotal(ctx context.Context, cartID int64, total decimal.Decimal) error

	ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error)
	InsertCartLine(ctx context.Context, line *models.CartLine) error
	UpdateCartLineQuantity(ctx context.Context, lineID int64, quantity int) error
	DeleteCartLine(ctx context.Context, lineID int64) error
	DeleteCartLines(ctx context.Context, cartID int64) error

	// LockSKUs locks the given SKU rows in ascending id order
	LockSKUs(ctx context.Context, skuIDs []int64) (map[int64]*models.SKU, error)
	AdjustStock(ctx context.Context, skuID int64, delta int) error

	// InsertOrder reports false without error when the order number is taken
	InsertOrder(ctx context.Context, order *models.Order) (bool, error)
	InsertOrderLine(ctx context.Context, line *models.OrderLine) error
	UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error
	InsertShippingAddress(ctx context.Context, addr *models.ShippingAddress) error
	InsertPayment(ctx context.Context, payment *models.PaymentRecord) error
	GetDefaultAddress(ctx context.Context, userID int64) (*models.Address, error)

	LockOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string, updatedBy *int64, reason *string) error

	// MarkEventProcessed reports false if the event was already recorded
	MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}
