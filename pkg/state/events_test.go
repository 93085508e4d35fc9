package state

import (
	"testing"
)

func TestSubscribeAndPublishSync(t *testing.T) {
	bus := NewEventBus()

	var got []*Event
	bus.Subscribe(EventUserJoined, func(event *Event) {
		got = append(got, event)
	})

	bus.PublishSync(NewEvent(EventUserJoined, "room-1", nil))
	bus.PublishSync(NewEvent(EventUserLeft, "room-1", nil))

	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	if got[0].Type != EventUserJoined || got[0].RoomID != "room-1" {
		t.Errorf("Unexpected event %+v", got[0])
	}
}

func TestUnsubscribeByHandle(t *testing.T) {
	bus := NewEventBus()

	first, second := 0, 0
	sub := bus.Subscribe(EventHostChanged, func(*Event) { first++ })
	bus.Subscribe(EventHostChanged, func(*Event) { second++ })

	bus.PublishSync(NewEvent(EventHostChanged, "room-1", "bob"))

	bus.Unsubscribe(sub)
	bus.PublishSync(NewEvent(EventHostChanged, "room-1", "carol"))

	if first != 1 {
		t.Errorf("Removed subscriber called %d times, want 1", first)
	}
	if second != 2 {
		t.Errorf("Remaining subscriber called %d times, want 2", second)
	}
}

func TestWildcardSubscriber(t *testing.T) {
	bus := NewEventBus()

	count := 0
	sub := bus.SubscribeAll(func(*Event) { count++ })

	bus.PublishSync(NewEvent(EventUserJoined, "room-1", nil))
	bus.PublishSync(NewEvent(EventVideoStateChanged, "room-1", nil))

	bus.Unsubscribe(sub)
	bus.PublishSync(NewEvent(EventUserLeft, "room-1", nil))

	if count != 2 {
		t.Errorf("Wildcard called %d times, want 2", count)
	}
}

func TestClearRemovesSubscribers(t *testing.T) {
	bus := NewEventBus()

	count := 0
	bus.Subscribe(EventUserJoined, func(*Event) { count++ })
	bus.SubscribeAll(func(*Event) { count++ })

	bus.Clear()
	bus.PublishSync(NewEvent(EventUserJoined, "room-1", nil))

	if count != 0 {
		t.Errorf("Expected no calls after Clear, got %d", count)
	}
}
