package signaling

import (
	"encoding/json"
	"time"

	"github.com/aminofox/syncroom/pkg/state"
	"github.com/gorilla/websocket"
)

// MessageType discriminates control-plane messages
type MessageType string

const (
	// TypeCreateRoom asks the relay to create a room
	TypeCreateRoom MessageType = "CREATE_ROOM"
	// TypeRoomCreated acknowledges room creation with a room snapshot
	TypeRoomCreated MessageType = "ROOM_CREATED"
	// TypeJoinRoom asks the relay to join an existing room
	TypeJoinRoom MessageType = "JOIN_ROOM"
	// TypeRoomJoined acknowledges a join with a room snapshot
	TypeRoomJoined MessageType = "ROOM_JOINED"
	// TypeLeaveRoom announces an intentional departure
	TypeLeaveRoom MessageType = "LEAVE_ROOM"
	// TypeUserJoined announces another participant joining
	TypeUserJoined MessageType = "USER_JOINED"
	// TypeUserLeft announces another participant leaving
	TypeUserLeft MessageType = "USER_LEFT"
	// TypeOffer relays a WebRTC offer between peers
	TypeOffer MessageType = "WEBRTC_OFFER"
	// TypeAnswer relays a WebRTC answer between peers
	TypeAnswer MessageType = "WEBRTC_ANSWER"
	// TypeICECandidate relays a WebRTC ICE candidate between peers
	TypeICECandidate MessageType = "WEBRTC_ICE_CANDIDATE"
	// TypePing is the heartbeat request
	TypePing MessageType = "PING"
	// TypePong is the heartbeat reply
	TypePong MessageType = "PONG"
	// TypeError carries a relay-side failure for a prior request
	TypeError MessageType = "ERROR"
)

// Message is the control-plane wire format: JSON with a required type
// discriminator and timestamp; room-scoped messages carry roomId/userId.
type Message struct {
	// Type is the message discriminator
	Type MessageType `json:"type"`

	// Timestamp is the sender's wall clock in unix milliseconds
	Timestamp int64 `json:"timestamp"`

	// RoomID scopes the message to a room
	RoomID string `json:"roomId,omitempty"`

	// UserID identifies the sending participant
	UserID string `json:"userId,omitempty"`

	// TargetUserID addresses peer-directed relays (offer/answer/candidate)
	TargetUserID string `json:"targetUserId,omitempty"`

	// RoomName is set on CREATE_ROOM
	RoomName string `json:"roomName,omitempty"`

	// UserName is set on CREATE_ROOM and JOIN_ROOM
	UserName string `json:"userName,omitempty"`

	// Room is the fresh room snapshot on response variants
	Room *state.Room `json:"room,omitempty"`

	// User is the affected participant on USER_JOINED/USER_LEFT
	User *state.User `json:"user,omitempty"`

	// SDP carries an offer or answer session description
	SDP json.RawMessage `json:"sdp,omitempty"`

	// Candidate carries an ICE candidate
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// Error is the failure reason on ERROR messages
	Error string `json:"error,omitempty"`
}

// NewMessage creates a message of the given type stamped with the current time
func NewMessage(msgType MessageType) *Message {
	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
}

// IsCritical reports whether a message kind expects a response and must fail
// fast instead of being queued while disconnected
func (t MessageType) IsCritical() bool {
	switch t {
	case TypeCreateRoom, TypeJoinRoom:
		return true
	default:
		return false
	}
}

// IsHeartbeat reports whether a message kind belongs to the heartbeat and is
// never queued
func (t MessageType) IsHeartbeat() bool {
	return t == TypePing || t == TypePong
}

// Application close codes the relay uses alongside the standard websocket ones
const (
	// CloseRoomIDMismatch means the connection URL and the request disagree on room
	CloseRoomIDMismatch = 4001
	// CloseDuplicateUser means the user id is already connected to the room
	CloseDuplicateUser = 4002
	// CloseRoomNotFound means the room does not exist
	CloseRoomNotFound = 4003
)

// IsPermanentCloseCode classifies transport close codes. Permanent closures
// never trigger reconnection; everything else is treated as transient.
func IsPermanentCloseCode(code int) bool {
	switch code {
	case websocket.CloseNormalClosure, CloseRoomIDMismatch, CloseDuplicateUser, CloseRoomNotFound:
		return true
	default:
		return false
	}
}
