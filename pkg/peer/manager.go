// Package peer negotiates and maintains one direct transport per remote
// participant and moves sync messages over ordered data channels.
package peer

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/aminofox/syncroom/pkg/config"
	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/logger"
	"github.com/pion/webrtc/v3"
)

// Manager owns zero-or-more peer connections keyed by participant id. Its
// lifecycle is tied to the session coordinator that created it.
type Manager struct {
	// config is the peer transport configuration
	config config.PeerConfig

	// logger for logging
	logger logger.Logger

	// mu protects the fields below
	mu sync.RWMutex

	// selfID is the local participant id
	selfID string

	// isHost is the local participant's role
	isHost bool

	// initialized is true once Initialize has run
	initialized bool

	// iceServers is the current ICE server set
	iceServers []webrtc.ICEServer

	// peers stores connection records by peer id
	peers map[string]*Record

	// callbacks raised upward
	onICECandidate          func(peerID string, candidate webrtc.ICECandidateInit)
	onConnectionStateChange func(peerID string, st webrtc.PeerConnectionState)
	onChannelOpen           func(peerID string)
	onChannelClose          func(peerID string)
	onChannelError          func(peerID string, err error)
	onSyncMessage           func(peerID string, msg *SyncMessage)
	onRenegotiationNeeded   func(peerID string, offer webrtc.SessionDescription)
	onAllRestarted          func()
}

// NewManager creates a new peer transport manager
func NewManager(cfg config.PeerConfig, log logger.Logger) *Manager {
	return &Manager{
		config:     cfg,
		logger:     log,
		iceServers: StaticICEServers(cfg),
		peers:      make(map[string]*Record),
	}
}

// OnICECandidate sets the callback for locally gathered candidates that need
// relaying through the signaling client
func (m *Manager) OnICECandidate(fn func(peerID string, candidate webrtc.ICECandidateInit)) {
	m.onICECandidate = fn
}

// OnConnectionStateChange sets the callback for peer connection state changes
func (m *Manager) OnConnectionStateChange(fn func(peerID string, st webrtc.PeerConnectionState)) {
	m.onConnectionStateChange = fn
}

// OnChannelOpen sets the callback for data channel open transitions
func (m *Manager) OnChannelOpen(fn func(peerID string)) {
	m.onChannelOpen = fn
}

// OnChannelClose sets the callback for data channel close transitions
func (m *Manager) OnChannelClose(fn func(peerID string)) {
	m.onChannelClose = fn
}

// OnChannelError sets the callback for data channel errors
func (m *Manager) OnChannelError(fn func(peerID string, err error)) {
	m.onChannelError = fn
}

// OnSyncMessage sets the callback for inbound sync messages
func (m *Manager) OnSyncMessage(fn func(peerID string, msg *SyncMessage)) {
	m.onSyncMessage = fn
}

// OnRenegotiationNeeded sets the callback for restart offers that need
// relaying to the peer
func (m *Manager) OnRenegotiationNeeded(fn func(peerID string, offer webrtc.SessionDescription)) {
	m.onRenegotiationNeeded = fn
}

// OnAllRestarted sets the callback fired when a bulk restart completes
func (m *Manager) OnAllRestarted(fn func()) {
	m.onAllRestarted = fn
}

// Initialize sets the local identity and role. Must precede negotiation.
func (m *Manager) Initialize(selfID string, isHost bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.selfID = selfID
	m.isHost = isHost
	m.initialized = true

	m.logger.Info("Peer transport initialized",
		logger.String("self_id", selfID),
		logger.Bool("is_host", isHost),
	)
}

// SetICEServers replaces the ICE server set used for new connections
func (m *Manager) SetICEServers(servers []webrtc.ICEServer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iceServers = servers
}

// StaticICEServers builds the ICE server list from static configuration
func StaticICEServers(cfg config.PeerConfig) []webrtc.ICEServer {
	var servers []webrtc.ICEServer

	if len(cfg.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs: cfg.STUNServers,
		})
	}

	for _, turn := range cfg.TURNServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn.URLs,
			Username:   turn.Username,
			Credential: turn.Credential,
		})
	}

	return servers
}

// CreateOffer starts negotiation toward a peer and returns the local offer
func (m *Manager) CreateOffer(peerID string) (*webrtc.SessionDescription, error) {
	record, err := m.createOrGetRecord(peerID)
	if err != nil {
		return nil, err
	}

	if _, ok := record.openChannel(); !ok && record.ChannelState() == ChannelStateNone {
		if err := m.createDataChannel(record); err != nil {
			return nil, err
		}
	}

	offer, err := record.pc.CreateOffer(nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNegotiationFailed, "create offer failed", err)
	}

	if err := record.pc.SetLocalDescription(offer); err != nil {
		return nil, errors.Wrap(errors.ErrCodeNegotiationFailed, "set local description failed", err)
	}

	m.logger.Info("Created offer",
		logger.String("peer_id", peerID),
	)

	return &offer, nil
}

// CreateAnswer applies a remote offer and returns the local answer. Buffered
// candidates are flushed once the remote description is set.
func (m *Manager) CreateAnswer(peerID string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	record, err := m.createOrGetRecord(peerID)
	if err != nil {
		return nil, err
	}

	if err := record.pc.SetRemoteDescription(offer); err != nil {
		return nil, errors.Wrap(errors.ErrCodeNegotiationFailed, "set remote description failed", err)
	}
	record.markRemoteDescSet()
	go m.drainCandidates(record)

	answer, err := record.pc.CreateAnswer(nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNegotiationFailed, "create answer failed", err)
	}

	if err := record.pc.SetLocalDescription(answer); err != nil {
		return nil, errors.Wrap(errors.ErrCodeNegotiationFailed, "set local description failed", err)
	}

	m.logger.Info("Created answer",
		logger.String("peer_id", peerID),
	)

	return &answer, nil
}

// HandleAnswer applies a remote answer to a pending offer and flushes any
// buffered candidates
func (m *Manager) HandleAnswer(peerID string, answer webrtc.SessionDescription) error {
	record, err := m.getRecord(peerID)
	if err != nil {
		return err
	}

	if err := record.pc.SetRemoteDescription(answer); err != nil {
		return errors.Wrap(errors.ErrCodeNegotiationFailed, "set remote description failed", err)
	}
	record.markRemoteDescSet()
	go m.drainCandidates(record)

	m.logger.Info("Applied answer",
		logger.String("peer_id", peerID),
	)

	return nil
}

// AddICECandidate applies a remote candidate, buffering it when the remote
// description is not yet set
func (m *Manager) AddICECandidate(peerID string, candidate webrtc.ICECandidateInit) error {
	record, err := m.createOrGetRecord(peerID)
	if err != nil {
		return err
	}

	if !record.hasRemoteDesc() {
		if dropped := record.pending.Push(candidate); dropped {
			m.logger.Warn("Candidate buffer full, dropped oldest",
				logger.String("peer_id", peerID),
			)
		}
		m.logger.Debug("Buffered ICE candidate",
			logger.String("peer_id", peerID),
			logger.Int("pending", record.pending.Len()),
		)
		return nil
	}

	if err := record.pc.AddICECandidate(candidate); err != nil {
		record.pending.Push(candidate)
		return errors.Wrap(errors.ErrCodeNegotiationFailed, "add candidate failed", err)
	}

	return nil
}

// drainCandidates applies buffered candidates one at a time with a small
// inter-send delay. A candidate that fails to apply is re-queued.
func (m *Manager) drainCandidates(record *Record) {
	for {
		candidate, ok := record.pending.Pop()
		if !ok {
			return
		}

		if err := record.pc.AddICECandidate(candidate); err != nil {
			record.pending.PushFront(candidate)
			m.logger.Warn("Failed to apply buffered candidate, re-queued",
				logger.String("peer_id", record.PeerID),
				logger.Err(err),
			)
			return
		}

		m.logger.Debug("Applied buffered candidate",
			logger.String("peer_id", record.PeerID),
		)

		time.Sleep(m.config.CandidateDrainDelay)
	}
}

// SendSyncMessage serializes and sends over the addressed peer's channel, or
// broadcasts to every open channel when no target is given. Returns the
// number of peers the message reached.
func (m *Manager) SendSyncMessage(msg *SyncMessage, targetPeerID string) (int, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeUnknown, "failed to marshal sync message", err)
	}

	if targetPeerID != "" {
		record, err := m.getRecord(targetPeerID)
		if err != nil {
			return 0, err
		}

		dc, ok := record.openChannel()
		if !ok {
			return 0, errors.New(errors.ErrCodeChannelNotOpen, "channel not open: "+targetPeerID)
		}

		if err := dc.SendText(string(data)); err != nil {
			return 0, errors.NewNetworkError("sync send failed", err)
		}
		return 1, nil
	}

	m.mu.RLock()
	records := make([]*Record, 0, len(m.peers))
	for _, r := range m.peers {
		records = append(records, r)
	}
	m.mu.RUnlock()

	sent := 0
	for _, record := range records {
		dc, ok := record.openChannel()
		if !ok {
			continue
		}
		if err := dc.SendText(string(data)); err != nil {
			m.logger.Warn("Broadcast send failed",
				logger.String("peer_id", record.PeerID),
				logger.Err(err),
			)
			continue
		}
		sent++
	}

	m.logger.Debug("Broadcast sync message",
		logger.String("type", string(msg.Type)),
		logger.Int("sent", sent),
	)

	return sent, nil
}

// MarkPeerAsHost flags a peer record as authoritative
func (m *Manager) MarkPeerAsHost(peerID string) error {
	record, err := m.getRecord(peerID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, r := range m.peers {
		r.MarkHost(r == record)
	}
	m.mu.Unlock()

	m.logger.Info("Marked peer as host",
		logger.String("peer_id", peerID),
	)

	return nil
}

// IsPeerHost reports whether a peer is marked authoritative
func (m *Manager) IsPeerHost(peerID string) bool {
	record, err := m.getRecord(peerID)
	if err != nil {
		return false
	}
	return record.IsHost()
}

// GetRecord returns the record for a peer
func (m *Manager) GetRecord(peerID string) (*Record, error) {
	return m.getRecord(peerID)
}

// PeerIDs returns the ids of all tracked peers
func (m *Manager) PeerIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	return ids
}

// PeerCount returns the number of tracked peers
func (m *Manager) PeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// ClosePeerConnection tears down one peer record
func (m *Manager) ClosePeerConnection(peerID string) error {
	m.mu.Lock()
	record, exists := m.peers[peerID]
	if !exists {
		m.mu.Unlock()
		return errors.NewPeerNotFoundError(peerID)
	}
	delete(m.peers, peerID)
	m.mu.Unlock()

	if err := record.close(); err != nil {
		m.logger.Warn("Failed to close peer connection",
			logger.String("peer_id", peerID),
			logger.Err(err),
		)
		return err
	}

	m.logger.Info("Closed peer connection",
		logger.String("peer_id", peerID),
	)

	return nil
}

// CloseAllConnections tears down every peer record
func (m *Manager) CloseAllConnections() {
	m.mu.Lock()
	records := m.peers
	m.peers = make(map[string]*Record)
	m.mu.Unlock()

	for _, record := range records {
		record.close()
	}

	m.logger.Info("Closed all peer connections",
		logger.Int("count", len(records)),
	)
}

// RestartAllConnections tears down every peer record and signals that bulk
// recovery completed. Renegotiation is the coordinator's responsibility.
func (m *Manager) RestartAllConnections() {
	m.CloseAllConnections()

	if m.onAllRestarted != nil {
		m.onAllRestarted()
	}
}

// createOrGetRecord returns the record for a peer, creating one when
// negotiation has not started yet
func (m *Manager) createOrGetRecord(peerID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, errors.New(errors.ErrCodeNotInitialized, "peer transport not initialized")
	}

	if record, exists := m.peers[peerID]; exists {
		return record, nil
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: m.iceServers,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNegotiationFailed, "create peer connection failed", err)
	}

	record := newRecord(peerID, pc, m.config.CandidateBufferSize)
	m.setupRecordHandlers(record)
	m.peers[peerID] = record

	m.logger.Info("Created peer record",
		logger.String("peer_id", peerID),
	)

	return record, nil
}

func (m *Manager) getRecord(peerID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.peers[peerID]
	if !exists {
		return nil, errors.NewPeerNotFoundError(peerID)
	}
	return record, nil
}

// createDataChannel opens the ordered, partially-reliable sync channel
func (m *Manager) createDataChannel(record *Record) error {
	ordered := true
	maxRetransmits := m.config.MaxRetransmits

	dc, err := record.pc.CreateDataChannel("sync", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeNegotiationFailed, "create data channel failed", err)
	}

	m.attachChannel(record, dc)
	return nil
}

// setupRecordHandlers wires peer connection events upward
func (m *Manager) setupRecordHandlers(record *Record) {
	record.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			m.logger.Debug("ICE gathering complete",
				logger.String("peer_id", record.PeerID),
			)
			return
		}

		if m.onICECandidate != nil {
			m.onICECandidate(record.PeerID, candidate.ToJSON())
		}
	})

	record.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		m.logger.Info("Peer connection state changed",
			logger.String("peer_id", record.PeerID),
			logger.String("state", st.String()),
		)

		if st == webrtc.PeerConnectionStateFailed {
			m.scheduleRestart(record)
		}

		if m.onConnectionStateChange != nil {
			m.onConnectionStateChange(record.PeerID, st)
		}
	})

	record.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		m.attachChannel(record, dc)
	})
}

// attachChannel wires data channel events upward
func (m *Manager) attachChannel(record *Record, dc *webrtc.DataChannel) {
	record.setChannel(dc, ChannelStateConnecting)

	dc.OnOpen(func() {
		record.setChannelState(ChannelStateOpen)
		record.resetRestartAttempts()

		m.logger.Info("Data channel open",
			logger.String("peer_id", record.PeerID),
		)

		if m.onChannelOpen != nil {
			m.onChannelOpen(record.PeerID)
		}
	})

	dc.OnClose(func() {
		record.setChannelState(ChannelStateClosed)

		if m.onChannelClose != nil {
			m.onChannelClose(record.PeerID)
		}
	})

	dc.OnError(func(err error) {
		m.logger.Warn("Data channel error",
			logger.String("peer_id", record.PeerID),
			logger.Err(err),
		)

		if m.onChannelError != nil {
			m.onChannelError(record.PeerID, err)
		}
	})

	dc.OnMessage(func(raw webrtc.DataChannelMessage) {
		var msg SyncMessage
		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			m.logger.Warn("Dropping unparseable sync message",
				logger.String("peer_id", record.PeerID),
				logger.Err(err),
			)
			return
		}

		if m.onSyncMessage != nil {
			m.onSyncMessage(record.PeerID, &msg)
		}
	})
}

// scheduleRestart arms a bounded, exponentially-backed-off restart of a
// single failed peer connection
func (m *Manager) scheduleRestart(record *Record) {
	attempt := record.nextRestartAttempt()
	if attempt > m.config.RestartMaxAttempts {
		m.logger.Error("Peer restart attempts exhausted",
			logger.String("peer_id", record.PeerID),
			logger.Int("attempts", attempt-1),
		)
		return
	}

	delay := m.config.RestartBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.RestartMaxDelay {
			delay = m.config.RestartMaxDelay
			break
		}
	}

	m.logger.Warn("Scheduling peer connection restart",
		logger.String("peer_id", record.PeerID),
		logger.Int("attempt", attempt),
		logger.Any("delay", delay),
	)

	record.setRestartTimer(time.AfterFunc(delay, func() {
		m.restartPeer(record)
	}))
}

// restartPeer attempts an ICE restart and hands the fresh offer upward for
// relaying. Unaffected peers are untouched.
func (m *Manager) restartPeer(record *Record) {
	offer, err := record.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		m.logger.Warn("ICE restart offer failed",
			logger.String("peer_id", record.PeerID),
			logger.Err(err),
		)
		m.scheduleRestart(record)
		return
	}

	if err := record.pc.SetLocalDescription(offer); err != nil {
		m.logger.Warn("ICE restart local description failed",
			logger.String("peer_id", record.PeerID),
			logger.Err(err),
		)
		m.scheduleRestart(record)
		return
	}

	m.logger.Info("ICE restart initiated",
		logger.String("peer_id", record.PeerID),
	)

	if m.onRenegotiationNeeded != nil {
		m.onRenegotiationNeeded(record.PeerID, offer)
	}
}
