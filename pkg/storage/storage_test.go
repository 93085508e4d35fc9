package storage

import (
	"context"
	"testing"
	"time"

	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/state"
)

func TestMemoryStoreRoomRoundTrip(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	room := &state.Room{
		ID:     "room-1",
		Name:   "movie night",
		HostID: "alice",
		Users: []*state.User{
			{ID: "alice", IsHost: true},
		},
	}

	if err := store.SaveRoom(ctx, room); err != nil {
		t.Fatalf("SaveRoom failed: %v", err)
	}

	// Mutating the original must not leak into the store
	room.Name = "mutated"

	loaded, err := store.LoadRoom(ctx)
	if err != nil {
		t.Fatalf("LoadRoom failed: %v", err)
	}
	if loaded.Name != "movie night" {
		t.Errorf("Loaded room name = %q", loaded.Name)
	}

	if err := store.ClearRoom(ctx); err != nil {
		t.Fatalf("ClearRoom failed: %v", err)
	}

	_, err = store.LoadRoom(ctx)
	if !errors.IsCode(err, errors.ErrCodeKeyNotFound) {
		t.Errorf("Expected key-not-found after clear, got %v", err)
	}
}

func TestMemoryStorePreferencesDefaults(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	prefs, err := store.LoadPreferences(ctx)
	if err != nil {
		t.Fatalf("LoadPreferences failed: %v", err)
	}
	if prefs.BackgroundTabSync {
		t.Error("Background tab sync must default off")
	}
	if prefs.DefaultControlMode != state.ControlModeHostOnly {
		t.Errorf("Default control mode = %s, want host_only", prefs.DefaultControlMode)
	}

	prefs.BackgroundTabSync = true
	prefs.DefaultControlMode = state.ControlModeFreeForAll
	if err := store.SavePreferences(ctx, prefs); err != nil {
		t.Fatalf("SavePreferences failed: %v", err)
	}

	loaded, err := store.LoadPreferences(ctx)
	if err != nil {
		t.Fatalf("LoadPreferences failed: %v", err)
	}
	if !loaded.BackgroundTabSync || loaded.DefaultControlMode != state.ControlModeFreeForAll {
		t.Errorf("Loaded preferences = %+v", loaded)
	}
}

func TestHistoryDeduplicatesAndOrders(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	now := time.Now()
	store.AppendHistory(ctx, HistoryEntry{RoomID: "a", RoomName: "first", LastJoinedAt: now.Add(-2 * time.Hour)})
	store.AppendHistory(ctx, HistoryEntry{RoomID: "b", RoomName: "second", LastJoinedAt: now.Add(-time.Hour)})
	store.AppendHistory(ctx, HistoryEntry{RoomID: "a", RoomName: "first again", LastJoinedAt: now})

	history, err := store.History(ctx)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}

	if len(history) != 2 {
		t.Fatalf("History length = %d, want 2 (rejoin deduplicated)", len(history))
	}
	if history[0].RoomID != "a" || history[0].RoomName != "first again" {
		t.Errorf("Most recent entry = %+v", history[0])
	}
	if history[1].RoomID != "b" {
		t.Errorf("Second entry = %+v", history[1])
	}
}

func TestHistoryBounded(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		store.AppendHistory(ctx, HistoryEntry{RoomID: id, LastJoinedAt: time.Now()})
	}

	history, err := store.History(ctx)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("History length = %d, want 3", len(history))
	}
	if history[0].RoomID != "e" || history[2].RoomID != "c" {
		t.Errorf("Expected newest three entries, got %s..%s", history[0].RoomID, history[2].RoomID)
	}
}

func TestHistoryCopyIsolated(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	store.AppendHistory(ctx, HistoryEntry{RoomID: "a", RoomName: "original"})

	history, _ := store.History(ctx)
	history[0].RoomName = "mutated"

	fresh, _ := store.History(ctx)
	if fresh[0].RoomName != "original" {
		t.Error("Mutating a returned history slice leaked into the store")
	}
}
