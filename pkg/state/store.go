// Package state holds the authoritative in-memory room snapshot. The session
// coordinator is the only writer; everything else observes through the event
// bus or read accessors.
package state

import (
	"sync"
	"time"

	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/logger"
)

// Store is the authoritative room/user/video-state snapshot
type Store struct {
	// logger for logging
	logger logger.Logger

	// events is the bus state changes are published on
	events *EventBus

	// mu protects concurrent access
	mu sync.RWMutex

	// room is the current room snapshot, nil when not in a room
	room *Room

	// localUserID identifies this participant within room.Users
	localUserID string

	// observed is the local player's view, kept for display and diagnostics
	observed VideoState
}

// NewStore creates a new state store
func NewStore(log logger.Logger, events *EventBus) *Store {
	return &Store{
		logger: log,
		events: events,
	}
}

// Events returns the event bus
func (s *Store) Events() *EventBus {
	return s.events
}

// SetLocalUserID records which participant this process is
func (s *Store) SetLocalUserID(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localUserID = userID
}

// LocalUserID returns the local participant id
func (s *Store) LocalUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localUserID
}

// SetRoom adopts a fresh room snapshot, replacing the current one
func (s *Store) SetRoom(room *Room) {
	s.mu.Lock()
	s.room = room.Clone()
	s.normalizeHostLocked()
	roomID := s.room.ID
	s.mu.Unlock()

	s.events.Publish(NewEvent(EventRoomUpdated, roomID, s.Room()))
}

// Room returns a deep copy of the current room snapshot, or nil
func (s *Store) Room() *Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room.Clone()
}

// InRoom reports whether a room is active
func (s *Store) InRoom() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room != nil
}

// IsLocalHost reports whether the local participant is the current host
func (s *Store) IsLocalHost() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.room == nil || s.localUserID == "" {
		return false
	}
	return s.room.HostID == s.localUserID
}

// AddUser inserts a participant; users are unique by id
func (s *Store) AddUser(user *User) error {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return errors.New(errors.ErrCodeNotInRoom, "no active room")
	}

	if s.room.FindUser(user.ID) != nil {
		s.mu.Unlock()
		return errors.New(errors.ErrCodeDuplicateUser, "user already in room: "+user.ID)
	}

	uc := *user
	s.room.Users = append(s.room.Users, &uc)
	if uc.IsHost {
		s.room.HostID = uc.ID
	}
	s.normalizeHostLocked()
	s.room.LastActivityAt = time.Now()
	roomID := s.room.ID
	s.mu.Unlock()

	s.events.Publish(NewEvent(EventUserJoined, roomID, &uc))
	return nil
}

// RemoveUser removes a participant. When the departing user was host, the
// earliest-joined remaining user is promoted and its id is returned.
func (s *Store) RemoveUser(userID string) (removed *User, newHostID string, err error) {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return nil, "", errors.New(errors.ErrCodeNotInRoom, "no active room")
	}

	idx := -1
	for i, u := range s.room.Users {
		if u.ID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil, "", errors.NewUserNotFoundError(userID)
	}

	removed = s.room.Users[idx]
	s.room.Users = append(s.room.Users[:idx], s.room.Users[idx+1:]...)

	wasHost := removed.IsHost || s.room.HostID == userID
	if wasHost {
		s.room.HostID = ""
		if next := s.earliestJoinedLocked(); next != nil {
			s.room.HostID = next.ID
			newHostID = next.ID
		}
	}
	s.normalizeHostLocked()
	s.room.LastActivityAt = time.Now()
	roomID := s.room.ID
	s.mu.Unlock()

	s.events.Publish(NewEvent(EventUserLeft, roomID, removed))
	if newHostID != "" {
		s.events.Publish(NewEvent(EventHostChanged, roomID, newHostID))
	}

	return removed, newHostID, nil
}

// SetHost transfers host ownership to the given participant
func (s *Store) SetHost(userID string) error {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return errors.New(errors.ErrCodeNotInRoom, "no active room")
	}
	if s.room.FindUser(userID) == nil {
		s.mu.Unlock()
		return errors.NewUserNotFoundError(userID)
	}

	s.room.HostID = userID
	s.normalizeHostLocked()
	roomID := s.room.ID
	s.mu.Unlock()

	s.events.Publish(NewEvent(EventHostChanged, roomID, userID))
	return nil
}

// SetControlMode replaces the room's control mode
func (s *Store) SetControlMode(mode ControlMode) error {
	if !mode.Valid() {
		return errors.NewValidationError("unknown control mode: " + string(mode))
	}

	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return errors.New(errors.ErrCodeNotInRoom, "no active room")
	}
	if s.room.ControlMode == mode {
		s.mu.Unlock()
		return nil
	}

	s.room.ControlMode = mode
	s.room.LastActivityAt = time.Now()
	roomID := s.room.ID
	s.mu.Unlock()

	s.events.Publish(NewEvent(EventControlModeChanged, roomID, mode))
	return nil
}

// ControlMode returns the current control mode
func (s *Store) ControlMode() ControlMode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.room == nil {
		return ControlModeHostOnly
	}
	return s.room.ControlMode
}

// SetVideoState replaces the authoritative video state
func (s *Store) SetVideoState(vs VideoState) error {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return errors.New(errors.ErrCodeNotInRoom, "no active room")
	}

	s.room.VideoState = vs
	s.room.LastActivityAt = time.Now()
	roomID := s.room.ID
	s.mu.Unlock()

	s.events.Publish(NewEvent(EventVideoStateChanged, roomID, vs))
	return nil
}

// VideoState returns the authoritative video state
func (s *Store) VideoState() VideoState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.room == nil {
		return VideoState{}
	}
	return s.room.VideoState
}

// SetObserved records the local player's view of playback
func (s *Store) SetObserved(vs VideoState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed = vs
}

// Observed returns the local player's view of playback
func (s *Store) Observed() VideoState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observed
}

// Clear drops the room snapshot and local identity
func (s *Store) Clear() {
	s.mu.Lock()
	s.room = nil
	s.localUserID = ""
	s.observed = VideoState{}
	s.mu.Unlock()
}

// earliestJoinedLocked returns the remaining user with the oldest JoinedAt
func (s *Store) earliestJoinedLocked() *User {
	var next *User
	for _, u := range s.room.Users {
		if next == nil || u.JoinedAt.Before(next.JoinedAt) {
			next = u
		}
	}
	return next
}

// normalizeHostLocked enforces the exactly-one-host invariant against HostID
func (s *Store) normalizeHostLocked() {
	if s.room == nil {
		return
	}

	for _, u := range s.room.Users {
		u.IsHost = u.ID == s.room.HostID
	}
}
