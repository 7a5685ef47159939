package service

import (
	"context"
	"time"

	"cart-service/internal/apperr"
	"cart-service/internal/auth"
	"cart-service/internal/models"
	"cart-service/internal/store"
	"cart-service/internal/util"

	"go.uber.org/zap"
)

// transitions lists the legal status moves. Statuses without an entry are
// terminal.
var transitions = map[string][]string{
	models.OrderStatusPending: {
		models.OrderStatusShipped,
		models.OrderStatusCancelled,
		models.OrderStatusRefunded,
		models.OrderStatusReturned,
	},
	models.OrderStatusShipped: {
		models.OrderStatusDelivered,
		models.OrderStatusRefunded,
		models.OrderStatusReturned,
	},
}

// CanTransition reports whether an order may move from one status to another
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

// OrderService manages orders after checkout
type OrderService struct {
	store     store.Store
	publisher EventPublisher
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store store.Store, publisher EventPublisher) *OrderService {
	return &OrderService{
		store:     store,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// Cancel moves the caller's pending order to cancelled and puts every line's
// quantity back into stock in the same transaction.
func (s *OrderService) Cancel(ctx context.Context, actor auth.Actor, orderID int64, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	var err error
	defer func() { util.EndSpan(span, err) }()

	var (
		order     *models.Order
		lines     []models.OrderLine
		reasonPtr *string
	)
	if reason != "" {
		reasonPtr = &reason
	}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := authorizeOrderAccess(actor, locked); err != nil {
			return err
		}
		if locked.Status != models.OrderStatusPending {
			return apperr.InvalidState("order %d is %s, only %s orders can be cancelled",
				locked.ID, locked.Status, models.OrderStatusPending)
		}

		lines, err = tx.ListOrderLines(ctx, locked.ID)
		if err != nil {
			return err
		}

		ids := make([]int64, 0, len(lines))
		for _, l := range lines {
			ids = append(ids, l.SKUID)
		}
		if _, err := tx.LockSKUs(ctx, ids); err != nil {
			return err
		}

		for _, l := range lines {
			if err := tx.AdjustStock(ctx, l.SKUID, l.Quantity); err != nil {
				return err
			}
		}

		if err := tx.UpdateOrderStatus(ctx, locked.ID, models.OrderStatusCancelled, actor.UserID, reasonPtr); err != nil {
			return err
		}
		order = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.OrdersCancelledTotal.Inc()
	util.OrderTransitionsTotal.WithLabelValues(models.OrderStatusCancelled).Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("reason", reason))

	items := make([]models.OrderItemData, 0, len(lines))
	for _, l := range lines {
		items = append(items, models.OrderItemData{SKUID: l.SKUID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	logPublishError(s.logger, models.EventTypeOrderCancelled, s.publisher.PublishOrderCancelled(ctx, &models.OrderCancelledEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCancelled),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Reason:      reason,
		Items:       items,
	}))

	order.Status = models.OrderStatusCancelled
	order.CancelReason = reasonPtr
	order.UpdatedBy = actor.UserID
	order.UpdatedAt = time.Now().UTC()
	order.Lines = lines
	return s.reload(ctx, order), nil
}

// Transition applies an administrative status change. Cancellation has its
// own path because it restores stock.
func (s *OrderService) Transition(ctx context.Context, orderID int64, to string, by *int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Transition")
	var err error
	defer func() { util.EndSpan(span, err) }()

	var order *models.Order
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = s.transition(ctx, tx, orderID, to, by)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, orderID, order.Status, to, by)
	order.Status = to
	order.UpdatedBy = by
	order.UpdatedAt = time.Now().UTC()
	return s.reload(ctx, order), nil
}

// reload re-reads an order after commit. A failed read is logged and the
// committed copy is returned instead.
func (s *OrderService) reload(ctx context.Context, committed *models.Order) *models.Order {
	order, err := s.store.GetOrder(ctx, committed.ID)
	if err != nil {
		s.logger.Warn("Failed to re-read order after commit",
			zap.Int64("order_id", committed.ID),
			zap.String("status", committed.Status),
			zap.Error(err))
		return committed
	}
	return order
}

// ApplyFulfillmentEvent applies an inbound fulfillment event exactly once.
// Redelivered events are acknowledged without effect.
func (s *OrderService) ApplyFulfillmentEvent(ctx context.Context, event *models.FulfillmentEvent) error {
	ctx, span := util.StartSpan(ctx, "OrderService.ApplyFulfillmentEvent")
	var err error
	defer func() { util.EndSpan(span, err) }()

	to, ok := fulfillmentStatus[event.EventType]
	if !ok {
		err = apperr.InvalidState("unsupported fulfillment event %s", event.EventType)
		return err
	}

	var (
		from  string
		fresh bool
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		fresh, err = tx.MarkEventProcessed(ctx, event.EventID, event.EventType)
		if err != nil || !fresh {
			return err
		}
		order, err := s.transition(ctx, tx, event.OrderID, to, nil)
		if err != nil {
			return err
		}
		from = order.Status
		return nil
	})
	if err != nil {
		return err
	}
	if !fresh {
		s.logger.Info("Event already processed, skipping",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType))
		return nil
	}

	s.afterTransition(ctx, event.OrderID, from, to, nil)
	return nil
}

var fulfillmentStatus = map[string]string{
	models.EventTypeOrderShipped:   models.OrderStatusShipped,
	models.EventTypeOrderDelivered: models.OrderStatusDelivered,
	models.EventTypeOrderRefunded:  models.OrderStatusRefunded,
	models.EventTypeOrderReturned:  models.OrderStatusReturned,
}

// transition returns the order as it was locked, before the update
func (s *OrderService) transition(ctx context.Context, tx store.Tx, orderID int64, to string, by *int64) (*models.Order, error) {
	if to == models.OrderStatusCancelled {
		return nil, apperr.InvalidState("use cancel to cancel order %d", orderID)
	}
	order, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(order.Status, to) {
		return nil, apperr.InvalidState("order %d cannot move from %s to %s", order.ID, order.Status, to)
	}
	if err := tx.UpdateOrderStatus(ctx, order.ID, to, by, nil); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) afterTransition(ctx context.Context, orderID int64, from, to string, by *int64) {
	util.OrderTransitionsTotal.WithLabelValues(to).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", from),
		zap.String("to", to))

	logPublishError(s.logger, models.EventTypeOrderStatusChanged, s.publisher.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   orderID,
		From:      from,
		To:        to,
		ChangedBy: by,
	}))
}

// GetOrder retrieves one of the caller's orders
func (s *OrderService) GetOrder(ctx context.Context, actor auth.Actor, orderID int64) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeOrderAccess(actor, order); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns the caller's orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, actor auth.Actor) ([]models.Order, error) {
	if !actor.IsAuthenticated() {
		return nil, apperr.PermissionDenied("listing orders requires an authenticated user")
	}
	return s.store.ListOrdersByUser(ctx, *actor.UserID)
}

func authorizeOrderAccess(actor auth.Actor, order *models.Order) error {
	if actor.UserID == nil || *actor.UserID != order.UserID {
		return apperr.PermissionDenied("order %d belongs to another user", order.ID)
	}
	return nil
}
