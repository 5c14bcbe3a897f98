package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	EventBookingCreated   = "booking.created"
	EventBookingAssigned  = "booking.assigned"
	EventBookingStarted   = "booking.started"
	EventBookingCompleted = "booking.completed"
	EventBookingCancelled = "booking.cancelled"
	EventPayoutReady      = "payout.ready"
	EventBatchApproved    = "batch.approved"
	EventDiscrepancy      = "reconciliation.discrepancy"
)

// AllEventTypes lists every event the engine emits.
var AllEventTypes = []string{
	EventBookingCreated,
	EventBookingAssigned,
	EventBookingStarted,
	EventBookingCompleted,
	EventBookingCancelled,
	EventPayoutReady,
	EventBatchApproved,
	EventDiscrepancy,
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID     int64     `json:"booking_id"`
	ClientID      int64     `json:"client_id"`
	ProviderID    *int64    `json:"provider_id,omitempty"`
	ServiceID     int64     `json:"service_id"`
	Status        string    `json:"status"`
	PreviousState string    `json:"previous_status,omitempty"`
	FundingSource string    `json:"funding_source"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	ChangedBy     string    `json:"changed_by,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// PayoutEventPayload announces money that became payable.
type PayoutEventPayload struct {
	PayoutID   int64           `json:"payout_id,omitempty"`
	BatchID    int64           `json:"batch_id,omitempty"`
	BookingID  *int64          `json:"booking_id,omitempty"`
	ProviderID int64           `json:"provider_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"`
}

// BatchEventPayload describes a batch state change.
type BatchEventPayload struct {
	BatchID     int64           `json:"batch_id"`
	Reference   string          `json:"reference"`
	ProviderID  int64           `json:"provider_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      string          `json:"status"`
	ApprovedBy  string          `json:"approved_by,omitempty"`
}

// DiscrepancyEventPayload is raised for administrators; it is never
// corrected automatically.
type DiscrepancyEventPayload struct {
	From               time.Time       `json:"from"`
	To                 time.Time       `json:"to"`
	ExpectedCommission decimal.Decimal `json:"expected_commission"`
	ObservedCommission decimal.Decimal `json:"observed_commission"`
	Discrepancy        decimal.Decimal `json:"discrepancy"`
	BookingIDs         []int64         `json:"booking_ids"`
	UnpaidBookingIDs   []int64         `json:"unpaid_booking_ids,omitempty"`
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

// EventBus provides in-process, at-most-once pub/sub. Handler failures are
// logged and never reach the publisher.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. logger may be nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers handler for every engine event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	for _, eventType := range AllEventTypes {
		b.Subscribe(eventType, handler)
	}
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
		if err := safeCall(handler, event); err != nil {
			b.logger.Warn().Err(err).Str("event_id", event.ID).Str("event_type", event.Type).Msg("event handler failed")
		}
	}
}

func safeCall(handler EventHandler, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return handler(event)
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}
	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{ID: uuid.NewString(), Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
