package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCancelled = "booking_cancelled"
	EventBookingPaid      = "booking_paid"
	EventReviewCreated    = "review_created"
)

// AllEvents subscribes a handler to every event type.
const AllEvents = "*"

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID string    `json:"booking_id"`
	ShortID   string    `json:"short_id"`
	UserID    string    `json:"user_id,omitempty"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	TourID    string    `json:"tour_id"`
	TourTitle string    `json:"tour_title"`
	Date      time.Time `json:"date"`
	People    int       `json:"people"`
	Total     int64     `json:"total"`
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	ChangedBy string    `json:"changed_by,omitempty"`
	Method    string    `json:"method,omitempty"`
}

type ReviewEventPayload struct {
	ReviewID    string  `json:"review_id"`
	SubjectType string  `json:"subject_type"`
	SubjectID   string  `json:"subject_id"`
	UserName    string  `json:"user_name"`
	Rating      int     `json:"rating"`
	Average     float64 `json:"average"`
	Count       int     `json:"count"`
}

// Event is one booking or review change as seen by subscribers.
// ID is assigned on publish and stays the same across every sink.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

type EventHandler func(event *Event) error

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus fans events out to in-process subscribers. Handlers run
// synchronously on the publishing goroutine, in subscription order.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
	logger *zerolog.Logger
}

func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subs: make(map[string][]subscription), logger: logger}
}

// Subscribe registers handler for eventType, or for every type with
// AllEvents. The returned func removes the subscription.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers event to its subscribers and then to the AllEvents ones.
// A failing or panicking handler is logged and does not stop the others.
func (b *EventBus) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs[event.Type])+len(b.subs[AllEvents]))
	subs = append(subs, b.subs[event.Type]...)
	subs = append(subs, b.subs[AllEvents]...)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.deliver(s.handler, event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Str("event_id", event.ID).Msg("event handler failed")
		}
	}
}

func (b *EventBus) deliver(handler EventHandler, event *Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
		}
	}()
	return handler(event)
}

// PublishJSON encodes payload and publishes it as eventType. A nil bus drops
// the event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	b.Publish(&Event{Type: eventType, Payload: raw})
	return nil
}
