// Package session coordinates a watch-together room: it drives the room
// protocol over the signaling client, fans peer negotiation out through the
// transport manager, enforces control-mode authorization, and keeps local
// players in lock-step with the authoritative playback state.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/aminofox/syncroom/pkg/config"
	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/logger"
	"github.com/aminofox/syncroom/pkg/peer"
	"github.com/aminofox/syncroom/pkg/signaling"
	"github.com/aminofox/syncroom/pkg/state"
	"github.com/aminofox/syncroom/pkg/storage"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// Coordinator is the single writer of room state. All signaling and peer
// events funnel through it; everything downstream observes via the event bus.
type Coordinator struct {
	// cfg is the engine configuration
	cfg *config.Config

	// logger for logging
	logger logger.Logger

	// signaling is the control-plane client
	signaling *signaling.Client

	// transport owns the per-peer connections
	transport *peer.Manager

	// store is the authoritative room snapshot
	store *state.Store

	// persist survives process restarts
	persist storage.Store

	// creds fetches relay credentials before negotiation
	creds *peer.CredentialClient

	// tabs tracks local players
	tabs *TabRegistry

	// mu protects the session identity below
	mu sync.Mutex

	// roomID, userID, userName are the active session identity
	roomID   string
	userID   string
	userName string

	// isHost is the local role, preserved across recovery
	isHost bool

	// leaving marks an intentional departure in progress
	leaving bool

	// reconnecting arms auto-rejoin after an unplanned signaling loss
	reconnecting bool

	// recovering is true while the rejoin loop runs
	recovering bool

	// prefs is the cached user preference set
	prefs storage.Preferences

	// lastBroadcast throttles position-only host broadcasts
	lastBroadcast time.Time
}

// NewCoordinator creates a coordinator wired to a fresh signaling client and
// peer transport
func NewCoordinator(cfg *config.Config, log logger.Logger, persist storage.Store) *Coordinator {
	events := state.NewEventBus()

	c := &Coordinator{
		cfg:       cfg,
		logger:    log,
		signaling: signaling.NewClient(cfg.Signaling, log),
		transport: peer.NewManager(cfg.Peer, log),
		store:     state.NewStore(log, events),
		persist:   persist,
		creds:     peer.NewCredentialClient(cfg.Peer, log),
		tabs:      NewTabRegistry(),
		prefs:     storage.DefaultPreferences(),
	}

	if prefs, err := persist.LoadPreferences(context.Background()); err == nil {
		c.prefs = prefs
	}

	c.wire()
	return c
}

// wire attaches the coordinator to signaling and transport events
func (c *Coordinator) wire() {
	c.signaling.OnStatusChange(c.handleStatusChange)
	c.signaling.OnMaxRetries(c.handleMaxRetries)

	c.signaling.On(signaling.TypeUserJoined, c.handleUserJoined)
	c.signaling.On(signaling.TypeUserLeft, c.handleUserLeft)
	c.signaling.On(signaling.TypeOffer, c.handleOffer)
	c.signaling.On(signaling.TypeAnswer, c.handleAnswer)
	c.signaling.On(signaling.TypeICECandidate, c.handleCandidate)

	c.transport.OnICECandidate(c.relayCandidate)
	c.transport.OnSyncMessage(c.handleSyncMessage)
	c.transport.OnRenegotiationNeeded(c.relayOffer)
	c.transport.OnChannelOpen(c.handleChannelOpen)
	c.transport.OnAllRestarted(func() {
		if c.store.IsLocalHost() {
			c.offerToAll()
		}
	})
}

// Events returns the bus state changes are published on
func (c *Coordinator) Events() *state.EventBus {
	return c.store.Events()
}

// Store returns the room state store
func (c *Coordinator) Store() *state.Store {
	return c.store
}

// Status returns the signaling connection status
func (c *Coordinator) Status() signaling.ConnectionStatus {
	return c.signaling.Status()
}

// InRoom reports whether a session is active
func (c *Coordinator) InRoom() bool {
	return c.store.InRoom()
}

// RoomID returns the active room id, empty when idle
func (c *Coordinator) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// UserID returns the local participant id, empty when idle
func (c *Coordinator) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// IsHost reports whether the local participant holds the host role
func (c *Coordinator) IsHost() bool {
	return c.store.IsLocalHost()
}

// Preferences returns the cached preference set
func (c *Coordinator) Preferences() storage.Preferences {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs
}

// SetPreferences persists and adopts a new preference set
func (c *Coordinator) SetPreferences(ctx context.Context, prefs storage.Preferences) error {
	if err := c.persist.SavePreferences(ctx, prefs); err != nil {
		return err
	}

	c.mu.Lock()
	c.prefs = prefs
	c.mu.Unlock()
	return nil
}

// History returns previously joined rooms, most recent first
func (c *Coordinator) History(ctx context.Context) ([]storage.HistoryEntry, error) {
	return c.persist.History(ctx)
}

// RegisterTab attaches a local player
func (c *Coordinator) RegisterTab(tabID, url string, controller PlayerController, active bool) {
	c.tabs.Insert(&Tab{ID: tabID, URL: url, Active: active, Controller: controller})

	c.logger.Info("Registered player tab",
		logger.String("tab_id", tabID),
		logger.String("url", url),
		logger.Bool("active", active),
	)
}

// UnregisterTab detaches a local player
func (c *Coordinator) UnregisterTab(tabID string) {
	c.tabs.Remove(tabID)
}

// ActivateTab marks the tab the user is looking at
func (c *Coordinator) ActivateTab(tabID string) {
	c.tabs.SetActive(tabID)
}

// CreateRoom creates a new room, connecting to the room-scoped relay endpoint
// and becoming host. Blocks until the relay acknowledges or the round trip
// times out.
func (c *Coordinator) CreateRoom(ctx context.Context, roomName, userName string) (*state.Room, error) {
	c.mu.Lock()
	if c.roomID != "" {
		c.mu.Unlock()
		return nil, errors.New(errors.ErrCodeAlreadyInRoom, "already in room: "+c.roomID)
	}

	roomID := uuid.NewString()
	userID := uuid.NewString()
	c.roomID = roomID
	c.userID = userID
	c.userName = userName
	c.isHost = true
	c.leaving = false
	c.reconnecting = false
	prefs := c.prefs
	c.mu.Unlock()

	c.store.SetLocalUserID(userID)

	room, err := c.enterRoom(ctx, enterParams{
		roomID:      roomID,
		userID:      userID,
		userName:    userName,
		roomName:    roomName,
		isHost:      true,
		requestType: signaling.TypeCreateRoom,
		ackType:     signaling.TypeRoomCreated,
	})
	if err != nil {
		c.resetIdentity()
		return nil, err
	}

	// A brand-new room starts in the user's preferred mode
	if !room.ControlMode.Valid() {
		room.ControlMode = prefs.DefaultControlMode
	}

	c.adoptRoom(ctx, room)

	c.logger.Info("Created room",
		logger.String("room_id", roomID),
		logger.String("user_id", userID),
	)

	return c.store.Room(), nil
}

// JoinRoom joins an existing room as a regular participant. Blocks until the
// relay acknowledges or the round trip times out.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID, userName string) (*state.Room, error) {
	c.mu.Lock()
	if c.roomID != "" {
		c.mu.Unlock()
		return nil, errors.New(errors.ErrCodeAlreadyInRoom, "already in room: "+c.roomID)
	}

	userID := uuid.NewString()
	c.roomID = roomID
	c.userID = userID
	c.userName = userName
	c.isHost = false
	c.leaving = false
	c.reconnecting = false
	c.mu.Unlock()

	c.store.SetLocalUserID(userID)

	room, err := c.enterRoom(ctx, enterParams{
		roomID:      roomID,
		userID:      userID,
		userName:    userName,
		isHost:      false,
		requestType: signaling.TypeJoinRoom,
		ackType:     signaling.TypeRoomJoined,
	})
	if err != nil {
		c.resetIdentity()
		return nil, err
	}

	if !room.ControlMode.Valid() {
		room.ControlMode = state.ControlModeHostOnly
	}

	c.adoptRoom(ctx, room)

	c.logger.Info("Joined room",
		logger.String("room_id", roomID),
		logger.String("user_id", userID),
	)

	return c.store.Room(), nil
}

// enterParams carries the create/join protocol variant
type enterParams struct {
	roomID      string
	userID      string
	userName    string
	roomName    string
	isHost      bool
	requestType signaling.MessageType
	ackType     signaling.MessageType
}

// enterRoom runs the shared create/join sequence: credentials, transport
// identity, room-scoped connect, request round trip.
func (c *Coordinator) enterRoom(ctx context.Context, p enterParams) (*state.Room, error) {
	servers, err := c.creds.Fetch(ctx, p.userID)
	if err != nil {
		c.logger.Warn("Proceeding with static ICE servers",
			logger.Err(err),
		)
	}
	c.transport.SetICEServers(servers)
	c.transport.Initialize(p.userID, p.isHost)

	c.signaling.UpdateURL(roomEndpoint(c.cfg.Signaling.URL, p.roomID))
	if err := c.signaling.Connect(); err != nil {
		return nil, err
	}

	msg := signaling.NewMessage(p.requestType)
	msg.RoomID = p.roomID
	msg.UserID = p.userID
	msg.RoomName = p.roomName
	msg.UserName = p.userName

	rctx, cancel := context.WithTimeout(ctx, c.cfg.Signaling.ResponseTimeout)
	defer cancel()

	resp, err := c.signaling.Request(rctx, msg, p.ackType, func(m *signaling.Message) bool {
		return m.Room == nil || m.Room.ID == p.roomID
	})
	if err != nil {
		c.signaling.Disconnect()
		return nil, err
	}

	room := resp.Room
	if room == nil {
		// Relays always echo a snapshot; tolerate the omission on create
		room = &state.Room{
			ID:        p.roomID,
			Name:      p.roomName,
			HostID:    p.userID,
			CreatedAt: time.Now(),
			Users: []*state.User{{
				ID:          p.userID,
				Name:        p.userName,
				IsHost:      p.isHost,
				IsConnected: true,
				JoinedAt:    time.Now(),
			}},
		}
	}

	return room, nil
}

// adoptRoom installs the room snapshot and records the visit
func (c *Coordinator) adoptRoom(ctx context.Context, room *state.Room) {
	c.store.SetRoom(room)

	if err := c.persist.SaveRoom(ctx, room); err != nil {
		c.logger.Warn("Failed to persist room snapshot",
			logger.Err(err),
		)
	}
	if err := c.persist.AppendHistory(ctx, storage.HistoryEntry{
		RoomID:       room.ID,
		RoomName:     room.Name,
		LastJoinedAt: time.Now(),
	}); err != nil {
		c.logger.Warn("Failed to record room history",
			logger.Err(err),
		)
	}
}

// LeaveRoom departs the room intentionally: announces LEAVE_ROOM best-effort,
// tears down every peer connection, and disconnects signaling without
// reconnection.
func (c *Coordinator) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	roomID := c.roomID
	userID := c.userID
	if roomID == "" {
		c.mu.Unlock()
		return errors.New(errors.ErrCodeNotInRoom, "no active room")
	}
	c.leaving = true
	c.reconnecting = false
	c.mu.Unlock()

	leave := signaling.NewMessage(signaling.TypeLeaveRoom)
	leave.RoomID = roomID
	leave.UserID = userID
	if err := c.signaling.Send(leave); err != nil {
		c.logger.Warn("Failed to announce departure",
			logger.Err(err),
		)
	}

	c.transport.CloseAllConnections()
	c.signaling.Disconnect()
	c.store.Clear()

	if err := c.persist.ClearRoom(ctx); err != nil {
		c.logger.Warn("Failed to clear persisted room",
			logger.Err(err),
		)
	}

	c.resetIdentity()

	c.logger.Info("Left room",
		logger.String("room_id", roomID),
	)

	return nil
}

// Close shuts the coordinator down, leaving any active room first
func (c *Coordinator) Close() error {
	if c.InRoom() {
		c.LeaveRoom(context.Background())
		return nil
	}

	c.transport.CloseAllConnections()
	c.signaling.Disconnect()
	return nil
}

// resetIdentity clears the session identity
func (c *Coordinator) resetIdentity() {
	c.mu.Lock()
	c.roomID = ""
	c.userID = ""
	c.userName = ""
	c.isHost = false
	c.leaving = false
	c.reconnecting = false
	c.mu.Unlock()
}

// localID returns the local participant id
func (c *Coordinator) localID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// handleUserJoined adopts a new participant; the host opens a connection
// toward them
func (c *Coordinator) handleUserJoined(msg *signaling.Message) {
	if msg.User == nil || msg.User.ID == c.localID() {
		return
	}

	if err := c.store.AddUser(msg.User); err != nil {
		c.logger.Warn("Ignoring user join",
			logger.String("user_id", msg.User.ID),
			logger.Err(err),
		)
		return
	}

	if c.store.IsLocalHost() {
		c.offerTo(msg.User.ID)
	}
}

// handleUserLeft drops the departing participant's peer connection and
// reconciles host ownership
func (c *Coordinator) handleUserLeft(msg *signaling.Message) {
	if msg.User == nil || msg.User.ID == c.localID() {
		return
	}
	peerID := msg.User.ID

	if err := c.transport.ClosePeerConnection(peerID); err != nil {
		c.logger.Debug("No peer connection for departed user",
			logger.String("user_id", peerID),
		)
	}

	_, newHostID, err := c.store.RemoveUser(peerID)
	if err != nil {
		c.logger.Warn("Ignoring user departure",
			logger.String("user_id", peerID),
			logger.Err(err),
		)
		return
	}
	if newHostID == "" {
		return
	}

	if newHostID == c.localID() {
		c.mu.Lock()
		c.isHost = true
		userID := c.userID
		c.mu.Unlock()

		c.transport.Initialize(userID, true)

		c.logger.Info("Promoted to host",
			logger.String("user_id", userID),
		)

		// The departed host owned the connections; the new host re-offers
		c.offerToAll()
		return
	}

	if err := c.transport.MarkPeerAsHost(newHostID); err != nil {
		c.logger.Debug("New host has no peer connection yet",
			logger.String("user_id", newHostID),
		)
	}
}

// handleOffer answers an inbound offer addressed to this participant
func (c *Coordinator) handleOffer(msg *signaling.Message) {
	if msg.TargetUserID != "" && msg.TargetUserID != c.localID() {
		return
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(msg.SDP, &offer); err != nil {
		c.logger.Warn("Dropping unparseable offer",
			logger.String("user_id", msg.UserID),
			logger.Err(err),
		)
		return
	}

	answer, err := c.transport.CreateAnswer(msg.UserID, offer)
	if err != nil {
		c.logger.Error("Failed to answer offer",
			logger.String("user_id", msg.UserID),
			logger.Err(err),
		)
		return
	}

	// An offer from the room host marks that peer authoritative
	if room := c.store.Room(); room != nil && room.HostID == msg.UserID {
		c.transport.MarkPeerAsHost(msg.UserID)
	}

	reply := signaling.NewMessage(signaling.TypeAnswer)
	reply.RoomID = c.RoomID()
	reply.UserID = c.localID()
	reply.TargetUserID = msg.UserID
	reply.SDP, _ = json.Marshal(answer)

	if err := c.signaling.Send(reply); err != nil {
		c.logger.Error("Failed to relay answer",
			logger.String("user_id", msg.UserID),
			logger.Err(err),
		)
	}
}

// handleAnswer applies an inbound answer to a pending offer
func (c *Coordinator) handleAnswer(msg *signaling.Message) {
	if msg.TargetUserID != "" && msg.TargetUserID != c.localID() {
		return
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(msg.SDP, &answer); err != nil {
		c.logger.Warn("Dropping unparseable answer",
			logger.String("user_id", msg.UserID),
			logger.Err(err),
		)
		return
	}

	if err := c.transport.HandleAnswer(msg.UserID, answer); err != nil {
		c.logger.Error("Failed to apply answer",
			logger.String("user_id", msg.UserID),
			logger.Err(err),
		)
	}
}

// handleCandidate applies an inbound remote ICE candidate
func (c *Coordinator) handleCandidate(msg *signaling.Message) {
	if msg.TargetUserID != "" && msg.TargetUserID != c.localID() {
		return
	}

	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Candidate, &candidate); err != nil {
		c.logger.Warn("Dropping unparseable candidate",
			logger.String("user_id", msg.UserID),
			logger.Err(err),
		)
		return
	}

	if err := c.transport.AddICECandidate(msg.UserID, candidate); err != nil {
		c.logger.Warn("Failed to apply remote candidate",
			logger.String("user_id", msg.UserID),
			logger.Err(err),
		)
	}
}

// relayCandidate forwards a locally gathered candidate through signaling.
// Candidates age out quickly, so while disconnected they are dropped rather
// than queued.
func (c *Coordinator) relayCandidate(peerID string, candidate webrtc.ICECandidateInit) {
	if c.signaling.Status() != signaling.StatusConnected {
		c.logger.Warn("Dropping local ICE candidate while disconnected",
			logger.String("peer_id", peerID),
		)
		return
	}

	msg := signaling.NewMessage(signaling.TypeICECandidate)
	msg.RoomID = c.RoomID()
	msg.UserID = c.localID()
	msg.TargetUserID = peerID
	msg.Candidate, _ = json.Marshal(candidate)

	if err := c.signaling.Send(msg); err != nil {
		c.logger.Warn("Failed to relay candidate",
			logger.String("peer_id", peerID),
			logger.Err(err),
		)
	}
}

// relayOffer forwards a restart offer produced by the transport
func (c *Coordinator) relayOffer(peerID string, offer webrtc.SessionDescription) {
	msg := signaling.NewMessage(signaling.TypeOffer)
	msg.RoomID = c.RoomID()
	msg.UserID = c.localID()
	msg.TargetUserID = peerID
	msg.SDP, _ = json.Marshal(offer)

	if err := c.signaling.Send(msg); err != nil {
		c.logger.Error("Failed to relay restart offer",
			logger.String("peer_id", peerID),
			logger.Err(err),
		)
	}
}

// handleChannelOpen pushes the authoritative state to a freshly connected
// peer so late joiners converge without waiting for the next broadcast
func (c *Coordinator) handleChannelOpen(peerID string) {
	if !c.store.IsLocalHost() {
		return
	}

	vs := c.store.VideoState()
	if vs.URL == "" {
		return
	}

	msg := peer.NewSyncMessage(peer.TypeHostStateUpdate, c.localID())
	msg.Time = vs.CurrentTime
	msg.IsPlaying = vs.IsPlaying
	msg.Duration = vs.Duration
	msg.PlaybackRate = vs.PlaybackRate
	msg.URL = vs.URL

	if _, err := c.transport.SendSyncMessage(msg, peerID); err != nil {
		c.logger.Warn("Failed to push state to new peer",
			logger.String("peer_id", peerID),
			logger.Err(err),
		)
	}
}

// offerTo starts negotiation toward one peer and relays the offer
func (c *Coordinator) offerTo(peerID string) {
	offer, err := c.transport.CreateOffer(peerID)
	if err != nil {
		c.logger.Error("Failed to create offer",
			logger.String("peer_id", peerID),
			logger.Err(err),
		)
		return
	}

	msg := signaling.NewMessage(signaling.TypeOffer)
	msg.RoomID = c.RoomID()
	msg.UserID = c.localID()
	msg.TargetUserID = peerID
	msg.SDP, _ = json.Marshal(offer)

	if err := c.signaling.Send(msg); err != nil {
		c.logger.Error("Failed to relay offer",
			logger.String("peer_id", peerID),
			logger.Err(err),
		)
	}
}

// offerToAll starts negotiation toward every other room participant
func (c *Coordinator) offerToAll() {
	room := c.store.Room()
	if room == nil {
		return
	}

	local := c.localID()
	for _, u := range room.Users {
		if u.ID == local {
			continue
		}
		c.offerTo(u.ID)
	}
}

// roomEndpoint derives the room-scoped relay URL
func roomEndpoint(base, roomID string) string {
	return strings.TrimRight(base, "/") + "/" + roomID
}
