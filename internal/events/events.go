package events

import (
	"encoding/json"
	"sync"
	"time"

	"yugi/internal/pricing"

	"github.com/google/uuid"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCancelled = "booking_cancelled"
	EventBookingCompleted = "booking_completed"
	EventFundsReleased    = "funds_released"
)

// BookingEventPayload is the booking snapshot delivered to notification
// consumers. It carries everything a confirmation message needs.
type BookingEventPayload struct {
	BookingID     int64             `json:"booking_id"`
	BookingNumber string            `json:"booking_number"`
	ClassID       int64             `json:"class_id"`
	ClassName     string            `json:"class_name"`
	ProviderName  string            `json:"provider_name"`
	ParentID      int64             `json:"parent_id"`
	ParentName    string            `json:"parent_name"`
	Children      []string          `json:"children"`
	SessionStart  time.Time         `json:"session_start"`
	SessionEnd    time.Time         `json:"session_end"`
	Pricing       pricing.Breakdown `json:"pricing"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	CancelReason  string            `json:"cancel_reason,omitempty"`
	RefundCents   int64             `json:"refund_cents,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
