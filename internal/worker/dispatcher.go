// Package worker forwards bus events to the external notification
// dispatcher off the request path.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"servicehub/internal/events"
	"servicehub/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by Enqueue when the buffer is saturated.
var ErrQueueFull = errors.New("dispatch queue full")

// Sink receives forwarded events.
type Sink interface {
	Publish(ctx context.Context, event *events.Event) error
}

// deadLetter is the persisted form of an event that exhausted its retries.
type deadLetter struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Error     string          `json:"error"`
	FailedAt  time.Time       `json:"failed_at"`
}

// Dispatcher buffers events and publishes them to the sink with retries.
// Events that exhaust their retries go to a redis dead-letter list when
// redis is configured, otherwise they are logged and dropped.
type Dispatcher struct {
	sink           Sink
	redis          *redis.Client
	retryPolicy    RetryPolicy
	queue          chan *events.Event
	deadLetterKey  string
	publishTimeout time.Duration
	logger         *zerolog.Logger
	wait           func(ctx context.Context, d time.Duration) bool
}

// NewDispatcher builds a dispatcher with sane defaults. redisClient may be nil.
func NewDispatcher(sink Sink, redisClient *redis.Client, retry RetryPolicy, queueSize int, logger *zerolog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Dispatcher{
		sink:           sink,
		redis:          redisClient,
		retryPolicy:    retry.withDefaults(),
		queue:          make(chan *events.Event, queueSize),
		deadLetterKey:  "servicehub:notify:deadletter",
		publishTimeout: 5 * time.Second,
		logger:         logger,
		wait:           sleepCtx,
	}
}

// Attach subscribes the dispatcher to every engine event on bus.
func (w *Dispatcher) Attach(bus *events.EventBus) {
	bus.SubscribeAll(func(event *events.Event) error {
		return w.Enqueue(event)
	})
}

// Enqueue never blocks the publisher.
func (w *Dispatcher) Enqueue(event *events.Event) error {
	if event == nil || event.Type == "" {
		return errors.New("event type is required")
	}
	select {
	case w.queue <- event:
		return nil
	default:
		metrics.IncNotification("dropped")
		return fmt.Errorf("%w: event %s dropped", ErrQueueFull, event.ID)
	}
}

// Start launches the main loop; stops when ctx is done.
func (w *Dispatcher) Start(ctx context.Context) {
	w.logger.Info().Msg("Notification dispatcher started")
	defer w.logger.Info().Msg("Notification dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			if n := len(w.queue); n > 0 {
				w.logger.Warn().Int("pending", n).Msg("Dispatcher stopped with undelivered events")
			}
			return
		case event := <-w.queue:
			w.processEvent(ctx, event)
		}
	}
}

func (w *Dispatcher) processEvent(ctx context.Context, event *events.Event) {
	for attempt := 1; ; attempt++ {
		err := w.publish(ctx, event)
		if err == nil {
			metrics.IncNotification("sent")
			return
		}

		if attempt >= w.retryPolicy.MaxRetries {
			w.pushDeadLetter(ctx, event, err)
			return
		}

		delay := w.retryPolicy.NextDelay(attempt)
		metrics.IncNotification("retry")
		w.logger.Warn().Err(err).Str("event_id", event.ID).Str("event_type", event.Type).
			Int("attempt", attempt).Dur("next_in", delay).Msg("Event forwarding failed, retrying")

		if !w.wait(ctx, delay) {
			metrics.IncNotification("dropped")
			return
		}
	}
}

func (w *Dispatcher) publish(ctx context.Context, event *events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, w.publishTimeout)
	defer cancel()
	return w.sink.Publish(ctx, event)
}

func (w *Dispatcher) pushDeadLetter(ctx context.Context, event *events.Event, cause error) {
	metrics.IncNotification("dead_letter")
	log := w.logger.Error().Err(cause).Str("event_id", event.ID).Str("event_type", event.Type)
	if w.redis == nil {
		log.Msg("Event dropped after retries")
		return
	}

	entry := deadLetter{
		ID:        event.ID,
		Type:      event.Type,
		CreatedAt: event.CreatedAt,
		Error:     cause.Error(),
		FailedAt:  time.Now().UTC(),
	}
	if json.Valid(event.Payload) {
		entry.Payload = event.Payload
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Msg("Event dropped after retries")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		log.AnErr("redis_error", err).Msg("Event dropped after retries")
		return
	}
	log.Msg("Event moved to dead letter list")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
