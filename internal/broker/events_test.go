package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-engine/internal/models"
)

type recordedEvent struct {
	key   string
	event interface{}
}

type fakeWriter struct {
	events []recordedEvent
	err    error
}

func (f *fakeWriter) PublishEvent(_ context.Context, key string, event interface{}) error {
	f.events = append(f.events, recordedEvent{key: key, event: event})
	return f.err
}

func TestEventPublisher_KeysBySale(t *testing.T) {
	w := &fakeWriter{}
	p := NewEventPublisher(w)
	ctx := context.Background()

	require.NoError(t, p.PublishOrderFulfilled(ctx, &models.OrderFulfilledEvent{SaleID: "0xabc"}))
	require.NoError(t, p.PublishOrderCancelled(ctx, &models.OrderCancelledEvent{SaleID: "0xdef"}))

	require.Len(t, w.events, 2)
	assert.Equal(t, "sale-0xabc", w.events[0].key)
	assert.Equal(t, "sale-0xdef", w.events[1].key)
}

func TestEventPublisher_PropagatesError(t *testing.T) {
	p := NewEventPublisher(&fakeWriter{err: errors.New("broker down")})

	err := p.PublishOrderFulfilled(context.Background(), &models.OrderFulfilledEvent{SaleID: "0xabc"})
	assert.EqualError(t, err, "broker down")
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestEventHandler_RoutesByType(t *testing.T) {
	h := NewEventHandler()

	var fulfilled *models.OrderFulfilledEvent
	var cancelled *models.OrderCancelledEvent
	h.OnOrderFulfilled(func(_ context.Context, e *models.OrderFulfilledEvent) error {
		fulfilled = e
		return nil
	})
	h.OnOrderCancelled(func(_ context.Context, e *models.OrderCancelledEvent) error {
		cancelled = e
		return nil
	})

	ctx := context.Background()
	require.NoError(t, h.HandleMessage(ctx, message(t, models.OrderFulfilledEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderFulfilled, Timestamp: time.Now()},
		SaleID:    "0xabc",
		Price:     "1000000000000000000",
	})))
	require.NoError(t, h.HandleMessage(ctx, message(t, models.OrderCancelledEvent{
		BaseEvent:   models.BaseEvent{EventID: "e2", EventType: models.EventTypeOrderCancelled},
		SaleID:      "0xdef",
		CancelledBy: "0x01",
	})))

	require.NotNil(t, fulfilled)
	assert.Equal(t, "0xabc", fulfilled.SaleID)
	assert.Equal(t, "1000000000000000000", fulfilled.Price)
	require.NotNil(t, cancelled)
	assert.Equal(t, "0x01", cancelled.CancelledBy)
}

func TestEventHandler_HandlerErrorPropagates(t *testing.T) {
	h := NewEventHandler()
	h.OnOrderFulfilled(func(context.Context, *models.OrderFulfilledEvent) error {
		return errors.New("db down")
	})

	err := h.HandleMessage(context.Background(), message(t, models.BaseEvent{EventType: models.EventTypeOrderFulfilled}))
	assert.EqualError(t, err, "db down")
}

func TestEventHandler_IgnoresUnknownAndUnregistered(t *testing.T) {
	h := NewEventHandler()

	assert.NoError(t, h.HandleMessage(context.Background(), message(t, models.BaseEvent{EventType: "SOMETHING_ELSE"})))
	assert.NoError(t, h.HandleMessage(context.Background(), message(t, models.BaseEvent{EventType: models.EventTypeOrderCancelled})))
}

func TestEventHandler_RejectsGarbage(t *testing.T) {
	err := NewEventHandler().HandleMessage(context.Background(), kafka.Message{Value: []byte("{not json")})
	assert.Error(t, err)
}
