package service

import (
	"context"
	"time"

	"cart-service/internal/apperr"
	"cart-service/internal/auth"
	"cart-service/internal/models"
	"cart-service/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventPublisher is the audit sink for cart and order events. Publishing
// happens after commit and failures are only logged.
type EventPublisher interface {
	PublishCartCreated(ctx context.Context, event *models.CartCreatedEvent) error
	PublishCartMerged(ctx context.Context, event *models.CartMergedEvent) error
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// IdempotencyStore maps a checkout Idempotency-Key to the order it produced
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (orderID int64, claimed bool, err error)
	Complete(ctx context.Context, key string, orderID int64) error
	Release(ctx context.Context, key string) error
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func logPublishError(logger *zap.Logger, event string, err error) {
	if err != nil {
		logger.Error("Failed to publish event", zap.String("event", event), zap.Error(err))
	}
}

// authorizeCartMutation: the owning user, or for a guest cart the caller
// on the same device IP
func authorizeCartMutation(actor auth.Actor, cart *models.Cart) error {
	if cart.UserID != nil {
		if actor.UserID == nil || *actor.UserID != *cart.UserID {
			return apperr.PermissionDenied("cart %d belongs to another user", cart.ID)
		}
		return nil
	}
	if cart.DeviceIP == nil || *cart.DeviceIP != actor.DeviceIP {
		return apperr.PermissionDenied("cart %d belongs to another device", cart.ID)
	}
	return nil
}

// cartTotal sums quantity x current price over lines
func cartTotal(lines []models.CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// recalculateCart re-reads the cart lines, persists the derived total and
// returns the refreshed snapshot. It runs in the same transaction as the
// mutation that preceded it.
func recalculateCart(ctx context.Context, tx store.Tx, cart *models.Cart) error {
	lines, err := tx.ListCartLines(ctx, cart.ID)
	if err != nil {
		return err
	}

	total := cartTotal(lines)
	if err := tx.UpdateCartTotal(ctx, cart.ID, total); err != nil {
		return err
	}

	cart.Lines = lines
	cart.TotalAmount = total
	return nil
}

func skuIDs(lines []models.CartLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.SKUID)
	}
	return ids
}
