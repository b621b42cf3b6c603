package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system.
type EventType string

const (
	EventMarketTick          EventType = "MARKET_TICK"
	EventPositionOpened      EventType = "POSITION_OPENED"
	EventPositionClosed      EventType = "POSITION_CLOSED"
	EventStopLossTriggered   EventType = "STOP_LOSS_TRIGGERED"
	EventTakeProfitTriggered EventType = "TAKE_PROFIT_TRIGGERED"
	EventTrailingStopUpdated EventType = "TRAILING_STOP_UPDATED"
	EventTimeLimitClose      EventType = "TIME_LIMIT_CLOSE"
	EventExternalClose       EventType = "EXTERNAL_CLOSE"
	EventEmergencyPosition   EventType = "EMERGENCY_POSITION"
	EventReconcileMismatch   EventType = "RECONCILE_MISMATCH"
	EventDailyLossLimit      EventType = "DAILY_LOSS_LIMIT"
	EventExchangeUnreachable EventType = "EXCHANGE_UNREACHABLE"
	EventBotStarted          EventType = "BOT_STARTED"
	EventBotStopped          EventType = "BOT_STOPPED"
	EventError               EventType = "ERROR"
)

// Event represents a system event.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events.
type Subscriber func(Event)

// Bus manages event publishing and subscriptions. Subscribers run in their
// own goroutine so a slow consumer never blocks a publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type.
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events.
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for _, sub := range b.subscribers[event.Type] {
		go sub(event)
	}
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishTick publishes a market data tick for a symbol.
func (b *Bus) PublishTick(symbol string, lastPrice string) {
	b.Publish(Event{
		Type: EventMarketTick,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"last_price": lastPrice,
		},
	})
}

// PublishError publishes an error event.
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{Type: EventError, Data: data})
}
