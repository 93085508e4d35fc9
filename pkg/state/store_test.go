package state

import (
	"testing"
	"time"

	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/logger"
)

func testRoom() *Room {
	now := time.Now()
	return &Room{
		ID:          "room-1",
		Name:        "movie night",
		HostID:      "alice",
		ControlMode: ControlModeHostOnly,
		CreatedAt:   now,
		Users: []*User{
			{ID: "alice", Name: "Alice", IsHost: true, JoinedAt: now.Add(-2 * time.Minute)},
			{ID: "bob", Name: "Bob", JoinedAt: now.Add(-1 * time.Minute)},
			{ID: "carol", Name: "Carol", JoinedAt: now},
		},
	}
}

func newTestStore() *Store {
	return NewStore(logger.Nop(), NewEventBus())
}

func TestSetRoomNormalizesHostFlags(t *testing.T) {
	store := newTestStore()

	room := testRoom()
	room.Users[1].IsHost = true // disagrees with HostID
	store.SetRoom(room)

	got := store.Room()
	for _, u := range got.Users {
		if u.IsHost != (u.ID == "alice") {
			t.Errorf("User %s IsHost = %v, HostID is alice", u.ID, u.IsHost)
		}
	}
}

func TestRoomReturnsDeepCopy(t *testing.T) {
	store := newTestStore()
	store.SetRoom(testRoom())

	snapshot := store.Room()
	snapshot.Users[0].Name = "mutated"
	snapshot.HostID = "mutated"

	fresh := store.Room()
	if fresh.Users[0].Name != "Alice" || fresh.HostID != "alice" {
		t.Error("Mutating a snapshot leaked into the store")
	}
}

func TestAddUserRejectsDuplicate(t *testing.T) {
	store := newTestStore()
	store.SetRoom(testRoom())

	err := store.AddUser(&User{ID: "bob", Name: "Bob again"})
	if !errors.IsCode(err, errors.ErrCodeDuplicateUser) {
		t.Errorf("Expected duplicate user error, got %v", err)
	}

	if len(store.Room().Users) != 3 {
		t.Errorf("User count changed on rejected add: %d", len(store.Room().Users))
	}
}

func TestAddUserWithoutRoom(t *testing.T) {
	store := newTestStore()

	err := store.AddUser(&User{ID: "dave"})
	if !errors.IsCode(err, errors.ErrCodeNotInRoom) {
		t.Errorf("Expected not-in-room error, got %v", err)
	}
}

func TestRemoveHostPromotesEarliestJoined(t *testing.T) {
	store := newTestStore()
	store.SetRoom(testRoom())

	removed, newHostID, err := store.RemoveUser("alice")
	if err != nil {
		t.Fatalf("RemoveUser failed: %v", err)
	}
	if removed.ID != "alice" {
		t.Errorf("Removed %s, want alice", removed.ID)
	}
	// Bob joined before Carol
	if newHostID != "bob" {
		t.Errorf("New host = %s, want bob (earliest joined)", newHostID)
	}

	room := store.Room()
	if room.HostID != "bob" {
		t.Errorf("Room HostID = %s", room.HostID)
	}
	hosts := 0
	for _, u := range room.Users {
		if u.IsHost {
			hosts++
		}
	}
	if hosts != 1 {
		t.Errorf("Expected exactly one host, got %d", hosts)
	}
}

func TestRemoveNonHostKeepsHost(t *testing.T) {
	store := newTestStore()
	store.SetRoom(testRoom())

	_, newHostID, err := store.RemoveUser("carol")
	if err != nil {
		t.Fatalf("RemoveUser failed: %v", err)
	}
	if newHostID != "" {
		t.Errorf("Expected no host change, got %s", newHostID)
	}
	if store.Room().HostID != "alice" {
		t.Errorf("HostID = %s, want alice", store.Room().HostID)
	}
}

func TestRemoveUnknownUser(t *testing.T) {
	store := newTestStore()
	store.SetRoom(testRoom())

	_, _, err := store.RemoveUser("mallory")
	if !errors.IsCode(err, errors.ErrCodeUserNotFound) {
		t.Errorf("Expected user-not-found error, got %v", err)
	}
}

func TestSetControlModeValidation(t *testing.T) {
	store := newTestStore()
	store.SetRoom(testRoom())

	if err := store.SetControlMode("anarchy"); err == nil {
		t.Error("Expected error for unknown control mode")
	}

	if err := store.SetControlMode(ControlModeFreeForAll); err != nil {
		t.Fatalf("SetControlMode failed: %v", err)
	}
	if store.ControlMode() != ControlModeFreeForAll {
		t.Errorf("ControlMode = %s", store.ControlMode())
	}
}

func TestIsLocalHost(t *testing.T) {
	store := newTestStore()
	store.SetRoom(testRoom())

	store.SetLocalUserID("bob")
	if store.IsLocalHost() {
		t.Error("bob is not host")
	}

	store.SetLocalUserID("alice")
	if !store.IsLocalHost() {
		t.Error("alice is host")
	}
}

func TestClearDropsEverything(t *testing.T) {
	store := newTestStore()
	store.SetRoom(testRoom())
	store.SetLocalUserID("alice")

	store.Clear()

	if store.InRoom() {
		t.Error("Expected no room after Clear")
	}
	if store.LocalUserID() != "" {
		t.Error("Expected no local user after Clear")
	}
	if store.IsLocalHost() {
		t.Error("Expected not host after Clear")
	}
}

func TestControlModeValid(t *testing.T) {
	if !ControlModeHostOnly.Valid() || !ControlModeFreeForAll.Valid() {
		t.Error("Known modes must be valid")
	}
	if ControlMode("anarchy").Valid() {
		t.Error("Unknown mode must be invalid")
	}
}
