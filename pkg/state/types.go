package state

import "time"

// ControlMode governs which users may emit authoritative video state changes
type ControlMode string

const (
	// ControlModeHostOnly allows only the host to drive playback
	ControlModeHostOnly ControlMode = "host_only"

	// ControlModeFreeForAll allows every participant to drive playback
	ControlModeFreeForAll ControlMode = "free_for_all"
)

// Valid reports whether the control mode is a known value
func (m ControlMode) Valid() bool {
	return m == ControlModeHostOnly || m == ControlModeFreeForAll
}

// User represents a room participant
type User struct {
	// ID is the user identifier
	ID string `json:"id"`

	// Name is the display name
	Name string `json:"name"`

	// IsHost marks the single authoritative participant
	IsHost bool `json:"is_host"`

	// IsConnected reflects the relay's view of the user's connection
	IsConnected bool `json:"is_connected"`

	// JoinedAt is when the user joined the room
	JoinedAt time.Time `json:"joined_at"`
}

// VideoState is a playback snapshot
type VideoState struct {
	// IsPlaying indicates whether playback is running
	IsPlaying bool `json:"is_playing"`

	// CurrentTime is the playback position in seconds
	CurrentTime float64 `json:"current_time"`

	// Duration is the total video duration in seconds
	Duration float64 `json:"duration"`

	// PlaybackRate is the playback speed multiplier
	PlaybackRate float64 `json:"playback_rate"`

	// URL is the logical video URL
	URL string `json:"url"`

	// LastUpdatedAt is when this snapshot was produced
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Room is the shared room snapshot
type Room struct {
	// ID is the room identifier
	ID string `json:"id"`

	// Name is the room display name
	Name string `json:"name"`

	// HostID is the current host's user id
	HostID string `json:"host_id"`

	// Users are the room participants, unique by id
	Users []*User `json:"users"`

	// ControlMode is the room's control mode
	ControlMode ControlMode `json:"control_mode"`

	// VideoState is the authoritative playback snapshot
	VideoState VideoState `json:"video_state"`

	// CreatedAt is when the room was created
	CreatedAt time.Time `json:"created_at"`

	// LastActivityAt is when the room last saw activity
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Clone returns a deep copy of the room snapshot
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}

	cp := *r
	cp.Users = make([]*User, len(r.Users))
	for i, u := range r.Users {
		uc := *u
		cp.Users[i] = &uc
	}

	return &cp
}

// FindUser returns the user with the given id, or nil
func (r *Room) FindUser(userID string) *User {
	for _, u := range r.Users {
		if u.ID == userID {
			return u
		}
	}
	return nil
}

// EventType represents the type of state event
type EventType string

const (
	// EventRoomUpdated fires when the room snapshot is replaced
	EventRoomUpdated EventType = "room.updated"
	// EventUserJoined fires when a participant joins
	EventUserJoined EventType = "user.joined"
	// EventUserLeft fires when a participant leaves
	EventUserLeft EventType = "user.left"
	// EventHostChanged fires when host ownership moves
	EventHostChanged EventType = "host.changed"
	// EventControlModeChanged fires when the control mode changes
	EventControlModeChanged EventType = "control_mode.changed"
	// EventVideoStateChanged fires when the authoritative video state changes
	EventVideoStateChanged EventType = "video_state.changed"
	// EventConnectionStatus fires on signaling connection-status transitions
	EventConnectionStatus EventType = "connection.status"
	// EventRecoveryFailed fires when auto-rejoin exhausts its attempts
	EventRecoveryFailed EventType = "recovery.failed"
)

// Event represents a state change notification
type Event struct {
	// Type is the event type
	Type EventType `json:"type"`
	// RoomID is the room identifier, if any
	RoomID string `json:"room_id,omitempty"`
	// Timestamp when the event occurred
	Timestamp time.Time `json:"timestamp"`
	// Data contains event-specific data
	Data interface{} `json:"data,omitempty"`
}
