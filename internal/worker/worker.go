package worker

import (
	"context"
	"errors"

	"cart-service/internal/apperr"
	"cart-service/internal/broker"
	"cart-service/internal/models"
	"cart-service/internal/util"

	"go.uber.org/zap"
)

// FulfillmentApplier applies an inbound fulfillment event to an order
type FulfillmentApplier interface {
	ApplyFulfillmentEvent(ctx context.Context, event *models.FulfillmentEvent) error
}

// FulfillmentWorker moves orders through shipped/delivered/refunded/returned
// as the fulfillment system reports progress
type FulfillmentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	orders       FulfillmentApplier
	logger       *zap.Logger
}

// NewFulfillmentWorker creates a new fulfillment worker
func NewFulfillmentWorker(consumer *broker.Consumer, orders FulfillmentApplier) *FulfillmentWorker {
	w := &FulfillmentWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		orders:       orders,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnFulfillment(w.handle)
	return w
}

// Start consumes until ctx is cancelled
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting fulfillment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the consumer
func (w *FulfillmentWorker) Stop() error {
	w.logger.Info("Stopping fulfillment worker")
	return w.consumer.Close()
}

// handle acknowledges events the order can never accept so they are not
// redelivered; only retryable failures are returned to the consumer
func (w *FulfillmentWorker) handle(ctx context.Context, event *models.FulfillmentEvent) error {
	err := w.orders.ApplyFulfillmentEvent(ctx, event)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrInvalidState), errors.Is(err, apperr.ErrNotFound):
		w.logger.Warn("Dropping fulfillment event",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType),
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
		return nil
	default:
		return err
	}
}
