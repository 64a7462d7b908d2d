package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventGuardDecision        EventType = "GUARD_DECISION"
	EventSystemGuardUpdate    EventType = "SYSTEM_GUARD_UPDATE"
	EventRecoveryAttempt      EventType = "RECOVERY_ATTEMPT"
	EventCircuitBreakerUpdate EventType = "CIRCUIT_BREAKER_UPDATE"
	EventTradeExecuted        EventType = "TRADE_EXECUTED"
	EventExecutionFailed      EventType = "EXECUTION_FAILED"
	EventSignalGenerated      EventType = "SIGNAL_GENERATED"
	EventError                EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
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
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishDecision publishes a guard decision
func (eb *EventBus) PublishDecision(id, account, symbol string, allowed, recovered bool, reasons []string, size *float64) {
	data := map[string]interface{}{
		"id":        id,
		"account":   account,
		"symbol":    symbol,
		"allowed":   allowed,
		"recovered": recovered,
		"reasons":   reasons,
	}
	if size != nil {
		data["risk_adjusted_size"] = *size
	}
	eb.Publish(Event{Type: EventGuardDecision, Data: data})
}

// PublishSystemGuard publishes a system guard transition
func (eb *EventBus) PublishSystemGuard(action, status, trigger, reason string) {
	eb.Publish(Event{
		Type: EventSystemGuardUpdate,
		Data: map[string]interface{}{
			"action":  action,
			"status":  status,
			"trigger": trigger,
			"reason":  reason,
		},
	})
}

// PublishRecoveryAttempt publishes the outcome of an auto-recovery pass
func (eb *EventBus) PublishRecoveryAttempt(recovered bool, detail string) {
	eb.Publish(Event{
		Type: EventRecoveryAttempt,
		Data: map[string]interface{}{
			"recovered": recovered,
			"detail":    detail,
		},
	})
}

// PublishCircuitBreaker publishes a breaker transition
func (eb *EventBus) PublishCircuitBreaker(channel, status, action string, failures int, cooldown time.Duration) {
	eb.Publish(Event{
		Type: EventCircuitBreakerUpdate,
		Data: map[string]interface{}{
			"channel":              channel,
			"status":               status,
			"action":               action,
			"consecutive_failures": failures,
			"cooldown":             cooldown.String(),
		},
	})
}

// PublishTradeExecuted publishes an executed-trade report
func (eb *EventBus) PublishTradeExecuted(account, symbol string, notional, realizedPnL float64) {
	eb.Publish(Event{
		Type: EventTradeExecuted,
		Data: map[string]interface{}{
			"account":      account,
			"symbol":       symbol,
			"notional":     notional,
			"realized_pnl": realizedPnL,
		},
	})
}

// PublishExecutionFailed publishes a failed order report
func (eb *EventBus) PublishExecutionFailed(channel, symbol string, err error) {
	data := map[string]interface{}{
		"channel": channel,
		"symbol":  symbol,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventExecutionFailed, Data: data})
}

// PublishSignal publishes a generated signal
func (eb *EventBus) PublishSignal(symbol, direction, mode string, strength, confidence float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"direction":  direction,
			"mode":       mode,
			"strength":   strength,
			"confidence": confidence,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}
