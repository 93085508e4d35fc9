package state

import (
	"sync"
	"time"
)

// EventCallback is a function that handles state events
type EventCallback func(event *Event)

// Subscription identifies a registered callback so it can be removed later
type Subscription struct {
	eventType EventType
	wildcard  bool
	id        uint64
}

type subscriber struct {
	id       uint64
	callback EventCallback
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	// mu protects concurrent access
	mu sync.RWMutex

	// subscribers stores callbacks by event type
	subscribers map[EventType][]subscriber

	// wildcards receive every event
	wildcards []subscriber

	// nextID is the next subscription id
	nextID uint64
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]subscriber),
	}
}

// Subscribe registers a callback for an event type
func (eb *EventBus) Subscribe(eventType EventType, callback EventCallback) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber{
		id:       eb.nextID,
		callback: callback,
	})

	return &Subscription{eventType: eventType, id: eb.nextID}
}

// SubscribeAll registers a callback for every event type
func (eb *EventBus) SubscribeAll(callback EventCallback) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	eb.wildcards = append(eb.wildcards, subscriber{
		id:       eb.nextID,
		callback: callback,
	})

	return &Subscription{wildcard: true, id: eb.nextID}
}

// Unsubscribe removes a previously registered callback
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if sub.wildcard {
		eb.wildcards = removeSubscriber(eb.wildcards, sub.id)
		return
	}

	eb.subscribers[sub.eventType] = removeSubscriber(eb.subscribers[sub.eventType], sub.id)
}

func removeSubscriber(subs []subscriber, id uint64) []subscriber {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Publish publishes an event to all subscribers asynchronously
func (eb *EventBus) Publish(event *Event) {
	for _, callback := range eb.callbacksFor(event.Type) {
		go callback(event)
	}
}

// PublishSync publishes an event synchronously (blocking)
func (eb *EventBus) PublishSync(event *Event) {
	for _, callback := range eb.callbacksFor(event.Type) {
		callback(event)
	}
}

func (eb *EventBus) callbacksFor(eventType EventType) []EventCallback {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	callbacks := make([]EventCallback, 0, len(eb.subscribers[eventType])+len(eb.wildcards))
	for _, s := range eb.subscribers[eventType] {
		callbacks = append(callbacks, s.callback)
	}
	for _, s := range eb.wildcards {
		callbacks = append(callbacks, s.callback)
	}

	return callbacks
}

// Clear removes all subscribers
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers = make(map[EventType][]subscriber)
	eb.wildcards = nil
}

// NewEvent is a helper to create a state event
func NewEvent(eventType EventType, roomID string, data interface{}) *Event {
	return &Event{
		Type:      eventType,
		RoomID:    roomID,
		Timestamp: time.Now(),
		Data:      data,
	}
}
