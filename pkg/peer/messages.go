package peer

import (
	"time"

	"github.com/aminofox/syncroom/pkg/state"
)

// SyncType discriminates peer-to-peer data-channel messages
type SyncType string

const (
	// TypeHostStateUpdate is the authoritative playback broadcast
	TypeHostStateUpdate SyncType = "HOST_STATE_UPDATE"
	// TypeClientRequestPlay asks the host to start playback
	TypeClientRequestPlay SyncType = "CLIENT_REQUEST_PLAY"
	// TypeClientRequestPause asks the host to pause playback
	TypeClientRequestPause SyncType = "CLIENT_REQUEST_PAUSE"
	// TypeClientRequestSeek asks the host to seek
	TypeClientRequestSeek SyncType = "CLIENT_REQUEST_SEEK"
	// TypeDirectPlay commands playback in free-for-all mode
	TypeDirectPlay SyncType = "DIRECT_PLAY"
	// TypeDirectPause commands a pause in free-for-all mode
	TypeDirectPause SyncType = "DIRECT_PAUSE"
	// TypeDirectSeek commands a seek in free-for-all mode
	TypeDirectSeek SyncType = "DIRECT_SEEK"
	// TypeControlModeChange propagates the host's control mode
	TypeControlModeChange SyncType = "CONTROL_MODE_CHANGE"
)

// SyncMessage is the peer data-channel wire format. Timestamp carries the
// sender's wall clock for latency compensation.
type SyncMessage struct {
	// Type is the message discriminator
	Type SyncType `json:"type"`

	// UserID identifies the sender
	UserID string `json:"userId"`

	// Timestamp is the sender's wall clock in unix milliseconds
	Timestamp int64 `json:"timestamp"`

	// Time is the playback position in seconds at Timestamp
	Time float64 `json:"time,omitempty"`

	// IsPlaying carries the play/pause state on HOST_STATE_UPDATE
	IsPlaying bool `json:"isPlaying,omitempty"`

	// Duration is the video duration in seconds, when known
	Duration float64 `json:"duration,omitempty"`

	// PlaybackRate is the playback speed multiplier, when relevant
	PlaybackRate float64 `json:"playbackRate,omitempty"`

	// URL is the logical video URL, when relevant
	URL string `json:"url,omitempty"`

	// ControlMode carries the new mode on CONTROL_MODE_CHANGE
	ControlMode state.ControlMode `json:"controlMode,omitempty"`
}

// NewSyncMessage creates a sync message stamped with the current time
func NewSyncMessage(msgType SyncType, userID string) *SyncMessage {
	return &SyncMessage{
		Type:      msgType,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// IsDirect reports whether the message is a free-for-all direct command
func (t SyncType) IsDirect() bool {
	return t == TypeDirectPlay || t == TypeDirectPause || t == TypeDirectSeek
}

// IsClientRequest reports whether the message is a host-directed request
func (t SyncType) IsClientRequest() bool {
	return t == TypeClientRequestPlay || t == TypeClientRequestPause || t == TypeClientRequestSeek
}
