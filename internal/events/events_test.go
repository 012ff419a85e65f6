package events

import (
	"encoding/json"
	"errors"
	"testing"

	"eventnet/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus(t *testing.T) {
	bus := NewBus(nil)

	var received *Event
	var callCount int

	bus.Subscribe(TopicFocus, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	require.NoError(t, bus.PublishJSON(TopicFocus, map[string]string{"foo": "bar"}))

	assert.Equal(t, 1, callCount)
	assert.Equal(t, TopicFocus, received.Topic)
	assert.NotEmpty(t, received.ID)
	assert.False(t, received.CreatedAt.IsZero())

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(received.Payload, &decoded))
	assert.Equal(t, "bar", decoded["foo"])
}

func TestBusSubscriptionOrder(t *testing.T) {
	bus := NewBus(nil)
	var order []int

	bus.Subscribe(TopicNetworkOnline, func(_ *Event) error { order = append(order, 1); return nil })
	bus.Subscribe(TopicNetworkOnline, func(_ *Event) error { order = append(order, 2); return errors.New("ignored") })
	bus.Subscribe(TopicNetworkOnline, func(_ *Event) error { order = append(order, 3); return nil })

	bus.Publish(&Event{Topic: TopicNetworkOnline})

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestBusHandlerPanicDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(nil)
	var delivered []string

	bus.Subscribe(TopicSessionEnded, func(_ *Event) error { panic("boom") })
	bus.Subscribe(TopicSessionEnded, func(e *Event) error {
		delivered = append(delivered, e.ID)
		return nil
	})

	assert.NotPanics(t, func() {
		bus.Publish(&Event{Topic: TopicSessionEnded, ID: "e1"})
		bus.Publish(&Event{Topic: TopicSessionEnded, ID: "e2"})
	})
	assert.Equal(t, []string{"e1", "e2"}, delivered)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(nil)
	var count1, count2 int

	unsub := bus.Subscribe(TopicFocus, func(_ *Event) error { count1++; return nil })
	bus.Subscribe(TopicFocus, func(_ *Event) error { count2++; return nil })
	assert.Equal(t, 2, bus.SubscriberCount(TopicFocus))

	unsub()
	unsub()
	assert.Equal(t, 1, bus.SubscriberCount(TopicFocus))

	bus.Publish(&Event{Topic: TopicFocus})
	assert.Equal(t, 0, count1)
	assert.Equal(t, 1, count2)
}

func TestBusNoSubscribers(t *testing.T) {
	bus := NewBus(nil)
	assert.NotPanics(t, func() {
		bus.Publish(&Event{Topic: "unknown"})
	})
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *Bus
	assert.NoError(t, nilBus.PublishJSON(TopicFocus, nil))
}

func TestOnDecodesPayload(t *testing.T) {
	bus := NewBus(nil)

	var got UpdatesPayload
	On(bus, TopicUpdatesReceived, func(p UpdatesPayload) error {
		got = p
		return nil
	})

	require.NoError(t, bus.PublishJSON(TopicUpdatesReceived, UpdatesPayload{
		Updates: []models.Update{{ID: "u1", Title: "New poll"}},
		Cursor:  "c1",
		Hidden:  true,
	}))

	require.Len(t, got.Updates, 1)
	assert.Equal(t, "u1", got.Updates[0].ID)
	assert.Equal(t, "c1", got.Cursor)
	assert.True(t, got.Hidden)
}

func TestDecodeInvalidPayload(t *testing.T) {
	_, err := Decode[NetworkPayload](&Event{Topic: TopicNetworkOnline, Payload: []byte("{")})
	assert.Error(t, err)

	p, err := Decode[NetworkPayload](&Event{Topic: TopicNetworkOnline})
	require.NoError(t, err)
	assert.False(t, p.Online)
}

func TestNewJSONEvent(t *testing.T) {
	event, err := NewJSONEvent(TopicSessionExpired, SessionPayload{Message: "expired"})
	require.NoError(t, err)

	assert.Equal(t, TopicSessionExpired, event.Topic)
	assert.False(t, event.CreatedAt.IsZero())

	decoded, err := Decode[SessionPayload](&event)
	require.NoError(t, err)
	assert.Equal(t, "expired", decoded.Message)

	_, err = NewJSONEvent(TopicFocus, make(chan int))
	assert.Error(t, err)
}
