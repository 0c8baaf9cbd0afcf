package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalExecuted  EventType = "SIGNAL_EXECUTED"
	EventSignalSkipped   EventType = "SIGNAL_SKIPPED"
	EventSignalFailed    EventType = "SIGNAL_FAILED"
	EventPositionOpened  EventType = "POSITION_OPENED"
	EventPositionClosed  EventType = "POSITION_CLOSED"
	EventDriftDetected   EventType = "DRIFT_DETECTED"
	EventDriftCorrected  EventType = "DRIFT_CORRECTED"
	EventAccountSynced   EventType = "ACCOUNT_SYNCED"
	EventBreakerTripped  EventType = "BREAKER_TRIPPED"
	EventPassStarted     EventType = "PASS_STARTED"
	EventPassCompleted   EventType = "PASS_COMPLETED"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// recentCapacity bounds the in-memory event history served by the ops API
const recentCapacity = 200

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
	recent      []Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	eb.recent = append(eb.recent, event)
	if len(eb.recent) > recentCapacity {
		eb.recent = eb.recent[len(eb.recent)-recentCapacity:]
	}
	subs := append([]Subscriber(nil), eb.subscribers[event.Type]...)
	allSubs := append([]Subscriber(nil), eb.allSubs...)
	eb.mu.Unlock()

	// Run in goroutines to avoid blocking the pass
	for _, sub := range subs {
		go sub(event)
	}
	for _, sub := range allSubs {
		go sub(event)
	}
}

// Recent returns the most recent events, newest last
func (eb *EventBus) Recent(limit int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if limit <= 0 || limit > len(eb.recent) {
		limit = len(eb.recent)
	}
	out := make([]Event, limit)
	copy(out, eb.recent[len(eb.recent)-limit:])
	return out
}

// PublishSignalExecuted publishes a signal execution event
func (eb *EventBus) PublishSignalExecuted(accountID, ticker string, shares int, price float64) {
	eb.Publish(Event{
		Type: EventSignalExecuted,
		Data: map[string]interface{}{
			"account_id": accountID,
			"ticker":     ticker,
			"shares":     shares,
			"price":      price,
		},
	})
}

// PublishSignalSkipped publishes a signal skip event
func (eb *EventBus) PublishSignalSkipped(accountID, ticker, reason string) {
	eb.Publish(Event{
		Type: EventSignalSkipped,
		Data: map[string]interface{}{
			"account_id": accountID,
			"ticker":     ticker,
			"reason":     reason,
		},
	})
}

// PublishPositionClosed publishes a position close event
func (eb *EventBus) PublishPositionClosed(accountID, ticker, exitReason string, realizedPL float64) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"account_id":  accountID,
			"ticker":      ticker,
			"exit_reason": exitReason,
			"realized_pl": realizedPL,
		},
	})
}

// PublishDriftDetected publishes a reconciliation drift event
func (eb *EventBus) PublishDriftDetected(accountID, ticker, field string, local, remote float64) {
	eb.Publish(Event{
		Type: EventDriftDetected,
		Data: map[string]interface{}{
			"account_id": accountID,
			"ticker":     ticker,
			"field":      field,
			"local":      local,
			"remote":     remote,
			"difference": remote - local,
		},
	})
}

// PublishAccountSynced publishes a replication sync event
func (eb *EventBus) PublishAccountSynced(accountID string, buys, sells int) {
	eb.Publish(Event{
		Type: EventAccountSynced,
		Data: map[string]interface{}{
			"account_id": accountID,
			"buys":       buys,
			"sells":      sells,
		},
	})
}

// PublishBreakerTripped publishes a circuit breaker trip event
func (eb *EventBus) PublishBreakerTripped(name string, failures int) {
	eb.Publish(Event{
		Type: EventBreakerTripped,
		Data: map[string]interface{}{
			"breaker":  name,
			"failures": failures,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(component, message string) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"component": component,
			"message":   message,
		},
	})
}
