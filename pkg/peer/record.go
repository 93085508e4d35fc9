package peer

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
)

// ChannelState represents the state of a peer's data channel
type ChannelState string

const (
	// ChannelStateNone means no data channel exists yet
	ChannelStateNone ChannelState = "none"
	// ChannelStateConnecting means the channel is negotiating
	ChannelStateConnecting ChannelState = "connecting"
	// ChannelStateOpen means the channel can carry sync messages
	ChannelStateOpen ChannelState = "open"
	// ChannelStateClosed means the channel has closed
	ChannelStateClosed ChannelState = "closed"
)

// Record tracks one remote participant's transport: the peer connection, its
// data channel, and candidates buffered until negotiation completes.
type Record struct {
	// PeerID is the remote participant id
	PeerID string

	// mu protects the mutable fields below
	mu sync.Mutex

	// pc is the underlying peer connection
	pc *webrtc.PeerConnection

	// channel is the ordered sync-message channel, nil until negotiated
	channel *webrtc.DataChannel

	// channelState is the data channel state
	channelState ChannelState

	// isHost flags the peer as the room's authoritative sender
	isHost bool

	// remoteDescSet is true once the remote description is applied
	remoteDescSet bool

	// pending buffers ICE candidates until remoteDescSet
	pending *candidateBuffer

	// restartAttempts counts connection-recovery retries
	restartAttempts int

	// restartTimer is the pending restart, if any
	restartTimer *time.Timer

	// createdAt is when negotiation started
	createdAt time.Time
}

func newRecord(peerID string, pc *webrtc.PeerConnection, bufferLimit int) *Record {
	return &Record{
		PeerID:       peerID,
		pc:           pc,
		channelState: ChannelStateNone,
		pending:      newCandidateBuffer(bufferLimit),
		createdAt:    time.Now(),
	}
}

// IsHost reports whether this peer is marked authoritative
func (r *Record) IsHost() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isHost
}

// MarkHost flags this peer as the room's authoritative sender
func (r *Record) MarkHost(isHost bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isHost = isHost
}

// ChannelState returns the data channel state
func (r *Record) ChannelState() ChannelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channelState
}

// ConnectionState returns the peer connection state
func (r *Record) ConnectionState() webrtc.PeerConnectionState {
	return r.pc.ConnectionState()
}

// PendingCandidates returns the number of buffered ICE candidates
func (r *Record) PendingCandidates() int {
	return r.pending.Len()
}

func (r *Record) setChannel(dc *webrtc.DataChannel, st ChannelState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel = dc
	r.channelState = st
}

func (r *Record) setChannelState(st ChannelState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channelState = st
}

func (r *Record) openChannel() (*webrtc.DataChannel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channelState != ChannelStateOpen || r.channel == nil {
		return nil, false
	}
	return r.channel, true
}

func (r *Record) markRemoteDescSet() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remoteDescSet = true
}

func (r *Record) hasRemoteDesc() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remoteDescSet
}

func (r *Record) resetRestartAttempts() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restartAttempts = 0
}

func (r *Record) nextRestartAttempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restartAttempts++
	return r.restartAttempts
}

func (r *Record) setRestartTimer(t *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.restartTimer != nil {
		r.restartTimer.Stop()
	}
	r.restartTimer = t
}

// close tears the record down, clearing buffered candidates and timers
func (r *Record) close() error {
	r.mu.Lock()
	if r.restartTimer != nil {
		r.restartTimer.Stop()
		r.restartTimer = nil
	}
	channel := r.channel
	r.channel = nil
	r.channelState = ChannelStateClosed
	r.mu.Unlock()

	r.pending.Clear()

	if channel != nil {
		channel.Close()
	}
	return r.pc.Close()
}
