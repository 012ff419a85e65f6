package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"eventnet/internal/logging"
	"eventnet/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Topic names a channel on the bus.
type Topic string

const (
	TopicNetworkOnline   Topic = "network.online"
	TopicNetworkOffline  Topic = "network.offline"
	TopicVisibility      Topic = "visibility.changed"
	TopicFocus           Topic = "focus"
	TopicUpdatesReceived Topic = "updates.received"
	TopicSessionStarted  Topic = "session.started"
	TopicSessionEnded    Topic = "session.ended"
	TopicSessionExpired  Topic = "session.expired"
	TopicAppUpdate       Topic = "app.update_available"
	TopicAppOfflineReady Topic = "app.offline_ready"
)

// NetworkPayload is carried by network.online and network.offline.
type NetworkPayload struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// VisibilityPayload is carried by visibility.changed.
type VisibilityPayload struct {
	Visible bool `json:"visible"`
}

// UpdatesPayload is carried by updates.received.
type UpdatesPayload struct {
	Updates []models.Update `json:"updates"`
	Cursor  string          `json:"cursor,omitempty"`
	Hidden  bool            `json:"hidden"`
}

// SessionPayload is carried by the session.* topics.
type SessionPayload struct {
	UserID  string `json:"user_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// AppPayload is carried by the app.* topics.
type AppPayload struct {
	Version string `json:"version,omitempty"`
}

// Event is a single message published on a topic.
type Event struct {
	ID        string
	Topic     Topic
	Payload   []byte
	CreatedAt time.Time
}

// Handler reacts to an event. Returned errors are logged by the bus.
type Handler func(event *Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus provides in-process pub/sub with named topics.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Topic][]subscription
	nextID      uint64
	logger      *zerolog.Logger
}

// NewBus constructs an empty bus. logger may be nil.
func NewBus(logger *zerolog.Logger) *Bus {
	return &Bus{subscribers: make(map[Topic][]subscription), logger: logging.Component(logger, "event-bus")}
}

// Subscribe registers a handler for a topic and returns a function that
// removes it. The returned function is safe to call more than once.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[topic] = append(b.subscribers[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}
}

func (b *Bus) unsubscribe(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[topic]) == 0 {
		delete(b.subscribers, topic)
	}
}

// Publish notifies subscribers of the event topic in subscription order.
// Handlers run synchronously on the caller's goroutine.
func (b *Bus) Publish(event *Event) {
	if b == nil || event == nil {
		return
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[event.Topic]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, s := range subs {
		b.dispatch(s.handler, event)
	}
}

// dispatch runs one handler; a panic is logged and does not stop delivery
// to the remaining subscribers.
func (b *Bus) dispatch(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Interface("panic", r).
				Str("topic", string(event.Topic)).
				Str("event_id", event.ID).
				Msg("event handler panicked")
		}
	}()

	if err := handler(event); err != nil {
		b.logger.Warn().Err(err).Str("topic", string(event.Topic)).Str("event_id", event.ID).Msg("event handler failed")
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *Bus) PublishJSON(topic Topic, payload any) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(topic, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// SubscriberCount reports the number of handlers registered for a topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(topic Topic, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", topic, err)
	}

	return Event{ID: uuid.NewString(), Topic: topic, Payload: raw, CreatedAt: time.Now()}, nil
}

// Decode unmarshals the event payload into T.
func Decode[T any](event *Event) (T, error) {
	var out T
	if event == nil || len(event.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(event.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", event.Topic, err)
	}
	return out, nil
}

// On subscribes a typed handler, decoding each payload into T first.
func On[T any](b *Bus, topic Topic, fn func(T) error) func() {
	return b.Subscribe(topic, func(event *Event) error {
		payload, err := Decode[T](event)
		if err != nil {
			return err
		}
		return fn(payload)
	})
}
