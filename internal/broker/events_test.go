package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cart-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fulfillmentMessage(t *testing.T, eventType string, orderID int64) kafka.Message {
	body, err := json.Marshal(models.FulfillmentEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: eventType, Timestamp: time.Now()},
		OrderID:   orderID,
	})
	require.NoError(t, err)
	return kafka.Message{Value: body}
}

func TestHandleMessageRoutesFulfillmentEvents(t *testing.T) {
	var got []*models.FulfillmentEvent
	eh := NewEventHandler()
	eh.OnFulfillment(func(ctx context.Context, e *models.FulfillmentEvent) error {
		got = append(got, e)
		return nil
	})

	for _, typ := range []string{
		models.EventTypeOrderShipped,
		models.EventTypeOrderDelivered,
		models.EventTypeOrderRefunded,
		models.EventTypeOrderReturned,
	} {
		require.NoError(t, eh.HandleMessage(context.Background(), fulfillmentMessage(t, typ, 9)))
	}

	require.Len(t, got, 4)
	assert.Equal(t, int64(9), got[0].OrderID)
	assert.Equal(t, models.EventTypeOrderReturned, got[3].EventType)
}

func TestHandleMessageIgnoresOwnEvents(t *testing.T) {
	called := false
	eh := NewEventHandler()
	eh.OnFulfillment(func(ctx context.Context, e *models.FulfillmentEvent) error {
		called = true
		return nil
	})

	err := eh.HandleMessage(context.Background(), fulfillmentMessage(t, models.EventTypeOrderPlaced, 1))
	assert.NoError(t, err)
	assert.False(t, called)
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	err := NewEventHandler().HandleMessage(context.Background(), kafka.Message{Value: []byte("{")})
	assert.Error(t, err)
}
