package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"cart-service/internal/models"
	"cart-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes cart and order domain events
type EventPublisher struct {
	producer   *Producer
	cartTopic  string
	orderTopic string
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer, cartTopic, orderTopic string) *EventPublisher {
	return &EventPublisher{producer: producer, cartTopic: cartTopic, orderTopic: orderTopic}
}

// PublishCartCreated publishes CartCreated event
func (ep *EventPublisher) PublishCartCreated(ctx context.Context, event *models.CartCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, ep.cartTopic, fmt.Sprintf("cart-%d", event.CartID), event)
}

// PublishCartMerged publishes CartMerged event, keyed by the surviving cart
func (ep *EventPublisher) PublishCartMerged(ctx context.Context, event *models.CartMergedEvent) error {
	return ep.producer.PublishEvent(ctx, ep.cartTopic, fmt.Sprintf("cart-%d", event.TargetCartID), event)
}

// PublishOrderPlaced publishes OrderPlaced event
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, ep.orderTopic, fmt.Sprintf("order-%d", event.OrderID), event)
}

// PublishOrderCancelled publishes OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, ep.orderTopic, fmt.Sprintf("order-%d", event.OrderID), event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, ep.orderTopic, fmt.Sprintf("order-%d", event.OrderID), event)
}

// NopPublisher drops every event; used when Kafka is disabled
type NopPublisher struct{}

func (NopPublisher) PublishCartCreated(context.Context, *models.CartCreatedEvent) error { return nil }
func (NopPublisher) PublishCartMerged(context.Context, *models.CartMergedEvent) error   { return nil }
func (NopPublisher) PublishOrderPlaced(context.Context, *models.OrderPlacedEvent) error { return nil }
func (NopPublisher) PublishOrderCancelled(context.Context, *models.OrderCancelledEvent) error {
	return nil
}
func (NopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}

// EventHandler routes inbound fulfillment events
type EventHandler struct {
	onFulfillment func(context.Context, *models.FulfillmentEvent) error
	logger        *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnFulfillment registers the handler for shipped/delivered/refunded/returned events
func (eh *EventHandler) OnFulfillment(handler func(context.Context, *models.FulfillmentEvent) error) {
	eh.onFulfillment = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderShipped,
		models.EventTypeOrderDelivered,
		models.EventTypeOrderRefunded,
		models.EventTypeOrderReturned:
		if eh.onFulfillment != nil {
			var event models.FulfillmentEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onFulfillment(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
