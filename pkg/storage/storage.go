// Package storage persists session state that must survive a process
// restart: the current room snapshot, user preferences, and room history.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/state"
)

// Preferences are the user-tunable settings the coordinator consults
type Preferences struct {
	// BackgroundTabSync applies updates to every matching tab, not just the
	// active one
	BackgroundTabSync bool `json:"background_tab_sync"`

	// DefaultControlMode is the mode new rooms are created with
	DefaultControlMode state.ControlMode `json:"default_control_mode"`
}

// DefaultPreferences returns the preferences used before any are saved
func DefaultPreferences() Preferences {
	return Preferences{
		BackgroundTabSync:  false,
		DefaultControlMode: state.ControlModeHostOnly,
	}
}

// HistoryEntry records one previously joined room
type HistoryEntry struct {
	// RoomID is the room identifier
	RoomID string `json:"room_id"`

	// RoomName is the room display name
	RoomName string `json:"room_name"`

	// LastJoinedAt is when the room was last joined
	LastJoinedAt time.Time `json:"last_joined_at"`
}

// Store is the persistence interface the coordinator writes through
type Store interface {
	// SaveRoom persists the current room snapshot
	SaveRoom(ctx context.Context, room *state.Room) error

	// LoadRoom returns the persisted room snapshot
	LoadRoom(ctx context.Context) (*state.Room, error)

	// ClearRoom drops the persisted room snapshot
	ClearRoom(ctx context.Context) error

	// SavePreferences persists user preferences
	SavePreferences(ctx context.Context, prefs Preferences) error

	// LoadPreferences returns persisted preferences, or the defaults
	LoadPreferences(ctx context.Context) (Preferences, error)

	// AppendHistory records a joined room, most recent first, bounded
	AppendHistory(ctx context.Context, entry HistoryEntry) error

	// History returns the remembered rooms, most recent first
	History(ctx context.Context) ([]HistoryEntry, error)

	// Close releases backend resources
	Close() error
}

// MemoryStore is the in-process Store used when no backend is configured
type MemoryStore struct {
	// mu protects concurrent access
	mu sync.RWMutex

	// room is the persisted room snapshot
	room *state.Room

	// prefs are the persisted preferences
	prefs *Preferences

	// history is the remembered rooms, most recent first
	history []HistoryEntry

	// historyLimit bounds history length
	historyLimit int
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(historyLimit int) *MemoryStore {
	if historyLimit <= 0 {
		historyLimit = 20
	}

	return &MemoryStore{
		historyLimit: historyLimit,
	}
}

// SaveRoom persists the current room snapshot
func (ms *MemoryStore) SaveRoom(ctx context.Context, room *state.Room) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.room = room.Clone()
	return nil
}

// LoadRoom returns the persisted room snapshot
func (ms *MemoryStore) LoadRoom(ctx context.Context) (*state.Room, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.room == nil {
		return nil, errors.New(errors.ErrCodeKeyNotFound, "no persisted room")
	}
	return ms.room.Clone(), nil
}

// ClearRoom drops the persisted room snapshot
func (ms *MemoryStore) ClearRoom(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.room = nil
	return nil
}

// SavePreferences persists user preferences
func (ms *MemoryStore) SavePreferences(ctx context.Context, prefs Preferences) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	p := prefs
	ms.prefs = &p
	return nil
}

// LoadPreferences returns persisted preferences, or the defaults
func (ms *MemoryStore) LoadPreferences(ctx context.Context) (Preferences, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.prefs == nil {
		return DefaultPreferences(), nil
	}
	return *ms.prefs, nil
}

// AppendHistory records a joined room, most recent first, deduplicated by id
func (ms *MemoryStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.history = appendHistory(ms.history, entry, ms.historyLimit)
	return nil
}

// History returns the remembered rooms, most recent first
func (ms *MemoryStore) History(ctx context.Context) ([]HistoryEntry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]HistoryEntry, len(ms.history))
	copy(out, ms.history)
	return out, nil
}

// Close releases backend resources
func (ms *MemoryStore) Close() error {
	return nil
}

// appendHistory prepends an entry, removing any prior entry for the same
// room and truncating to the limit
func appendHistory(history []HistoryEntry, entry HistoryEntry, limit int) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(history)+1)
	out = append(out, entry)
	for _, h := range history {
		if h.RoomID == entry.RoomID {
			continue
		}
		out = append(out, h)
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
