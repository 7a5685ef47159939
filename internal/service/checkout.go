package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cart-service/internal/apperr"
	"cart-service/internal/auth"
	"cart-service/internal/models"
	"cart-service/internal/store"
	"cart-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ShippingInput carries either an inline address or a request to use the
// caller's saved default address, never both
type ShippingInput struct {
	UseSaved bool                  `json:"use_saved"`
	Address  *models.AddressFields `json:"address,omitempty"`
}

// PaymentInput describes the payment attempt recorded with the order
type PaymentInput struct {
	Mode      string           `json:"mode" binding:"required"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Reference string           `json:"reference,omitempty"`
}

// CheckoutRequest represents a request to check out a cart
type CheckoutRequest struct {
	CartID         int64         `json:"cart_id" binding:"required"`
	Shipping       ShippingInput `json:"shipping"`
	Payment        PaymentInput  `json:"payment"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
}

// OrderNumberFunc generates a human-readable order number
type OrderNumberFunc func(userID, cartID int64) string

// NewOrderNumberFunc returns prefix-<caller>-<cart>-<random> numbers, e.g.
// ORD-004217-88-9F1C2A7B. The caller part keeps the last six digits.
func NewOrderNumberFunc(prefix string) OrderNumberFunc {
	return func(userID, cartID int64) string {
		caller := fmt.Sprintf("%06d", userID)
		caller = caller[len(caller)-6:]
		suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
		return fmt.Sprintf("%s-%s-%d-%s", prefix, caller, cartID, suffix)
	}
}

// CheckoutService turns carts into orders
type CheckoutService struct {
	store       store.Store
	publisher   EventPublisher
	idempotency IdempotencyStore
	orderNumber OrderNumberFunc
	logger      *zap.Logger
}

// NewCheckoutService creates a new checkout service. idempotency may be nil.
func NewCheckoutService(
	store store.Store,
	publisher EventPublisher,
	idempotency IdempotencyStore,
	orderNumber OrderNumberFunc,
) *CheckoutService {
	return &CheckoutService{
		store:       store,
		publisher:   publisher,
		idempotency: idempotency,
		orderNumber: orderNumber,
		logger:      util.GetLogger(),
	}
}

// Checkout converts the caller's cart into a pending order in one
// transaction: stock is decremented, lines, shipping address and payment
// are snapshotted and the cart is closed. Any failure leaves no trace.
// A repeated IdempotencyKey returns the order the first request created.
func (s *CheckoutService) Checkout(ctx context.Context, actor auth.Actor, req *CheckoutRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if !actor.IsAuthenticated() {
		err = apperr.PermissionDenied("checkout requires an authenticated user")
		return nil, err
	}

	if req.IdempotencyKey != "" && s.idempotency != nil {
		orderID, claimed, claimErr := s.idempotency.Claim(ctx, req.IdempotencyKey)
		if claimErr != nil {
			err = claimErr
			return nil, err
		}
		if !claimed {
			s.logger.Info("Duplicate checkout request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", orderID))
			var order *models.Order
			order, err = s.store.GetOrder(ctx, orderID)
			if err != nil {
				return nil, err
			}
			if order.UserID != *actor.UserID {
				err = apperr.PermissionDenied("idempotency key belongs to another user")
				return nil, err
			}
			return order, nil
		}
	}

	start := time.Now()
	var order *models.Order
	order, err = s.checkout(ctx, actor, req)
	util.CheckoutLatency.Observe(time.Since(start).Seconds())

	if req.IdempotencyKey != "" && s.idempotency != nil {
		if err != nil {
			if relErr := s.idempotency.Release(ctx, req.IdempotencyKey); relErr != nil {
				s.logger.Warn("Failed to release idempotency key", zap.Error(relErr))
			}
		} else if compErr := s.idempotency.Complete(ctx, req.IdempotencyKey, order.ID); compErr != nil {
			s.logger.Warn("Failed to record idempotency key", zap.Error(compErr))
		}
	}

	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues(failureReason(err)).Inc()
		if errors.Is(err, apperr.ErrInsufficientStock) {
			util.StockRejectionsTotal.WithLabelValues("checkout").Inc()
		}
		return nil, err
	}

	util.CheckoutsTotal.Inc()
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("cart_id", order.CartID),
		zap.String("total", order.TotalAmount.String()))

	items := make([]models.OrderItemData, 0, len(order.Lines))
	for _, l := range order.Lines {
		items = append(items, models.OrderItemData{SKUID: l.SKUID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	logPublishError(s.logger, models.EventTypeOrderPlaced, s.publisher.PublishOrderPlaced(ctx, &models.OrderPlacedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderPlaced),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		CartID:      order.CartID,
		TotalAmount: order.TotalAmount,
		Items:       items,
	}))

	return order, nil
}

func (s *CheckoutService) checkout(ctx context.Context, actor auth.Actor, req *CheckoutRequest) (*models.Order, error) {
	userID := *actor.UserID
	if strings.TrimSpace(req.Payment.Mode) == "" {
		return nil, apperr.InvalidState("payment mode is required")
	}
	if req.Payment.Amount != nil && req.Payment.Amount.IsNegative() {
		return nil, apperr.InvalidState("payment amount must not be negative")
	}

	var order *models.Order
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		cart, err := tx.LockCart(ctx, req.CartID)
		if err != nil {
			return err
		}
		if err := authorizeCartMutation(actor, cart); err != nil {
			return err
		}
		if cart.CheckoutClosed {
			return apperr.InvalidState("cart %d is already checked out", cart.ID)
		}

		lines, err := tx.ListCartLines(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return apperr.InvalidState("cart %d is empty", cart.ID)
		}

		shipping, err := resolveShipping(ctx, tx, userID, req.Shipping)
		if err != nil {
			return err
		}

		skus, err := tx.LockSKUs(ctx, skuIDs(lines))
		if err != nil {
			return err
		}

		order = &models.Order{
			UserID:      userID,
			CartID:      cart.ID,
			TotalAmount: decimal.Zero,
			Status:      models.OrderStatusPending,
		}
		if err := s.insertOrder(ctx, tx, order); err != nil {
			return err
		}

		total := decimal.Zero
		for _, line := range lines {
			sku := skus[line.SKUID]
			if line.Quantity > sku.Stock {
				return apperr.InsufficientStock(sku.ID, sku.Stock, line.Quantity)
			}
			if err := tx.AdjustStock(ctx, sku.ID, -line.Quantity); err != nil {
				return err
			}
			sku.Stock -= line.Quantity

			orderLine := models.OrderLine{
				OrderID:   order.ID,
				SKUID:     sku.ID,
				Quantity:  line.Quantity,
				UnitPrice: sku.Price,
				Subtotal:  sku.Price.Mul(decimal.NewFromInt(int64(line.Quantity))),
			}
			if err := tx.InsertOrderLine(ctx, &orderLine); err != nil {
				return err
			}
			order.Lines = append(order.Lines, orderLine)
			total = total.Add(orderLine.Subtotal)
		}

		order.TotalAmount = total
		if err := tx.UpdateOrderTotal(ctx, order.ID, total); err != nil {
			return err
		}

		order.Shipping = &models.ShippingAddress{OrderID: order.ID, AddressFields: shipping}
		if err := tx.InsertShippingAddress(ctx, order.Shipping); err != nil {
			return err
		}

		amount := total
		if req.Payment.Amount != nil {
			amount = *req.Payment.Amount
		}
		reference := req.Payment.Reference
		if reference == "" {
			reference = "PAY-" + uuid.New().String()
		}
		order.Payment = &models.PaymentRecord{
			OrderID:   order.ID,
			Mode:      req.Payment.Mode,
			Amount:    amount,
			Status:    models.PaymentStatusPending,
			Reference: reference,
		}
		if err := tx.InsertPayment(ctx, order.Payment); err != nil {
			return err
		}

		// the closed cart row stays for audit; its lines do not
		if err := tx.DeleteCartLines(ctx, cart.ID); err != nil {
			return err
		}
		return tx.CloseCart(ctx, cart.ID)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// insertOrder retries a taken order number once
func (s *CheckoutService) insertOrder(ctx context.Context, tx store.Tx, order *models.Order) error {
	for attempt := 0; attempt < 2; attempt++ {
		order.OrderNumber = s.orderNumber(order.UserID, order.CartID)
		inserted, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}
		s.logger.Warn("Order number collision", zap.String("order_number", order.OrderNumber))
	}
	return fmt.Errorf("%w: %s", apperr.ErrOrderIDCollision, order.OrderNumber)
}

// resolveShipping validates the shipping input and returns the address to
// snapshot
func resolveShipping(ctx context.Context, tx store.Tx, userID int64, in ShippingInput) (models.AddressFields, error) {
	if in.UseSaved && in.Address != nil {
		return models.AddressFields{}, apperr.InvalidState("provide either an address or use_saved, not both")
	}

	if in.UseSaved {
		saved, err := tx.GetDefaultAddress(ctx, userID)
		if err != nil {
			return models.AddressFields{}, err
		}
		if saved == nil {
			return models.AddressFields{}, apperr.InvalidState("user %d has no saved default address", userID)
		}
		return saved.AddressFields, nil
	}

	if in.Address == nil {
		return models.AddressFields{}, apperr.InvalidState("shipping address is required")
	}
	if err := validateAddress(*in.Address); err != nil {
		return models.AddressFields{}, err
	}
	return *in.Address, nil
}

func validateAddress(a models.AddressFields) error {
	var missing []string
	for name, v := range map[string]string{
		"recipient_name": a.RecipientName,
		"line1":          a.Line1,
		"city":           a.City,
		"postal_code":    a.PostalCode,
		"country":        a.Country,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return apperr.InvalidState("shipping address missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, apperr.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, apperr.ErrBusy):
		return "busy"
	case errors.Is(err, apperr.ErrOrderIDCollision):
		return "order_id_collision"
	default:
		return "internal"
	}
}
