package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a post-commit notification about a decided reservation request.
// Events are advisory: the transaction has already committed when an event is
// published, and a dropped event never invalidates the decision.
type Event interface {
	Kind() string
}

// RequestApproved is emitted when an approval commits.
type RequestApproved struct {
	RequestID string   `json:"request_id"`
	UnitIDs   []string `json:"unit_ids"`
}

func (RequestApproved) Kind() string { return "request_approved" }

// RequestRejected is emitted when a manual rejection or cancellation commits.
type RequestRejected struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

func (RequestRejected) Kind() string { return "request_rejected" }

// RequestAutoRejected is emitted for every competitor rejected by an
// approval cascade.
type RequestAutoRejected struct {
	RequestID           string `json:"request_id"`
	Reason              string `json:"reason"`
	TriggeringRequestID string `json:"triggering_request_id"`
}

func (RequestAutoRejected) Kind() string { return "request_auto_rejected" }

// EventSink receives events published by the service.
type EventSink interface {
	Publish(ctx context.Context, event Event)
}

// EventHandler consumes dispatched event envelopes.
type EventHandler interface {
	Handle(ctx context.Context, envelope EventEnvelope) error
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc func(ctx context.Context, envelope EventEnvelope) error

// Handle implements EventHandler.
func (f EventHandlerFunc) Handle(ctx context.Context, envelope EventEnvelope) error {
	return f(ctx, envelope)
}

// EventEnvelope wraps an event with delivery metadata.
type EventEnvelope struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Event      Event     `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
	Attempts   int       `json:"attempts"`
}

// Dispatcher fans events out to registered handlers from a background
// goroutine. Publish never blocks the committing caller: when the buffer is
// full the event is counted as dropped instead.
type Dispatcher struct {
	queue    chan EventEnvelope
	attempts int

	mu       sync.RWMutex
	handlers []EventHandler
	dropped  int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueDepth sets the publish buffer size.
func WithQueueDepth(depth int) DispatcherOption {
	return func(d *Dispatcher) {
		if depth > 0 {
			d.queue = make(chan EventEnvelope, depth)
		}
	}
}

// WithDeliveryAttempts sets how many times a failing handler is retried.
func WithDeliveryAttempts(attempts int) DispatcherOption {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.attempts = attempts
		}
	}
}

// NewDispatcher constructs a dispatcher. Call Start before publishing.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:    make(chan EventEnvelope, 64),
		attempts: 3,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers a handler for all subsequent deliveries.
func (d *Dispatcher) Subscribe(handler EventHandler) {
	if handler == nil {
		return
	}
	d.mu.Lock()
	d.handlers = append(d.handlers, handler)
	d.mu.Unlock()
}

// Start begins delivering queued events.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.loop()
}

// Stop halts delivery and waits for the delivery goroutine to exit.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish implements EventSink.
func (d *Dispatcher) Publish(_ context.Context, event Event) {
	if event == nil {
		return
	}
	envelope := EventEnvelope{
		ID:         uuid.NewString(),
		Kind:       event.Kind(),
		Event:      event,
		OccurredAt: time.Now().UTC(),
	}
	select {
	case d.queue <- envelope:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
	}
}

// Dropped reports how many events were discarded on a full buffer.
func (d *Dispatcher) Dropped() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dropped
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case envelope := <-d.queue:
			d.deliver(envelope)
		}
	}
}

func (d *Dispatcher) deliver(envelope EventEnvelope) {
	d.mu.RLock()
	handlers := append([]EventHandler(nil), d.handlers...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		for attempt := 1; attempt <= d.attempts; attempt++ {
			envelope.Attempts = attempt
			if err := handler.Handle(d.ctx, envelope); err == nil {
				break
			}
			select {
			case <-d.ctx.Done():
				return
			default:
			}
		}
	}
}

// MemoryEventSink collects events for assertions.
type MemoryEventSink struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements EventSink.
func (s *MemoryEventSink) Publish(_ context.Context, event Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

// Events returns a defensive copy of collected events.
func (s *MemoryEventSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
