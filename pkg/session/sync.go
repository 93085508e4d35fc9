package session

import (
	"math"
	"time"

	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/logger"
	"github.com/aminofox/syncroom/pkg/peer"
	"github.com/aminofox/syncroom/pkg/state"
)

// CompensatedTime advances an authoritative playback position by the relay
// latency, clamped to [0, maxComp]. A skewed sender clock can only add up to
// the cap, never rewind the position.
func CompensatedTime(position float64, sentAtMillis int64, now time.Time, maxComp time.Duration) float64 {
	latency := now.Sub(time.UnixMilli(sentAtMillis))
	if latency < 0 {
		latency = 0
	}
	if latency > maxComp {
		latency = maxComp
	}
	return position + latency.Seconds()
}

// HandlePlayerEvent is the authorization point for local player changes.
// Depending on role and control mode the event becomes an authoritative
// broadcast, a request to the host, or a direct command.
func (c *Coordinator) HandlePlayerEvent(evt PlayerEvent) error {
	if !c.store.InRoom() {
		return errors.New(errors.ErrCodeNotInRoom, "no active room")
	}

	c.store.SetObserved(state.VideoState{
		IsPlaying:     evt.Type == PlayerEventPlay || (evt.Type == PlayerEventTimeUpdate && c.tabIsPlaying(evt.TabID)),
		CurrentTime:   evt.Time,
		Duration:      evt.Duration,
		PlaybackRate:  evt.Rate,
		URL:           evt.URL,
		LastUpdatedAt: time.Now(),
	})

	// The in-flight half of a seek carries no final position
	if evt.Type == PlayerEventSeeking {
		return nil
	}

	isHost := c.store.IsLocalHost()

	if evt.Type == PlayerEventTimeUpdate {
		if !isHost {
			return nil
		}
		return c.broadcastHostState(evt, true)
	}

	if c.store.ControlMode() == state.ControlModeFreeForAll {
		return c.sendDirect(evt)
	}

	if isHost {
		return c.broadcastHostState(evt, false)
	}

	c.logger.Info("Local control blocked in host-only mode, requesting from host",
		logger.String("event", string(evt.Type)),
	)
	return c.requestFromHost(evt)
}

// broadcastHostState sends the authoritative playback snapshot to every peer.
// Position-only updates are throttled; play state never changes through them.
func (c *Coordinator) broadcastHostState(evt PlayerEvent, throttled bool) error {
	now := time.Now()

	c.mu.Lock()
	if throttled && now.Sub(c.lastBroadcast) < c.cfg.Sync.TimeUpdateInterval {
		c.mu.Unlock()
		return nil
	}
	c.lastBroadcast = now
	userID := c.userID
	c.mu.Unlock()

	playing := c.playStateFor(evt)

	vs := state.VideoState{
		IsPlaying:     playing,
		CurrentTime:   evt.Time,
		Duration:      evt.Duration,
		PlaybackRate:  evt.Rate,
		URL:           evt.URL,
		LastUpdatedAt: now,
	}
	if err := c.store.SetVideoState(vs); err != nil {
		return err
	}

	msg := peer.NewSyncMessage(peer.TypeHostStateUpdate, userID)
	msg.Time = evt.Time
	msg.IsPlaying = playing
	msg.Duration = evt.Duration
	msg.PlaybackRate = evt.Rate
	msg.URL = evt.URL

	_, err := c.transport.SendSyncMessage(msg, "")
	return err
}

// sendDirect broadcasts a free-for-all command to every peer
func (c *Coordinator) sendDirect(evt PlayerEvent) error {
	var syncType peer.SyncType
	switch evt.Type {
	case PlayerEventPlay:
		syncType = peer.TypeDirectPlay
	case PlayerEventPause:
		syncType = peer.TypeDirectPause
	case PlayerEventSeeked:
		syncType = peer.TypeDirectSeek
	default:
		return nil
	}

	msg := peer.NewSyncMessage(syncType, c.localID())
	msg.Time = evt.Time
	msg.URL = evt.URL

	_, err := c.transport.SendSyncMessage(msg, "")
	return err
}

// requestFromHost sends a host-directed request carrying the desired change
func (c *Coordinator) requestFromHost(evt PlayerEvent) error {
	room := c.store.Room()
	if room == nil || room.HostID == "" {
		return errors.New(errors.ErrCodeUserNotFound, "room has no host")
	}

	var syncType peer.SyncType
	switch evt.Type {
	case PlayerEventPlay:
		syncType = peer.TypeClientRequestPlay
	case PlayerEventPause:
		syncType = peer.TypeClientRequestPause
	case PlayerEventSeeked:
		syncType = peer.TypeClientRequestSeek
	default:
		return nil
	}

	msg := peer.NewSyncMessage(syncType, c.localID())
	msg.Time = evt.Time

	if _, err := c.transport.SendSyncMessage(msg, room.HostID); err != nil {
		c.logger.Warn("Failed to deliver request to host",
			logger.String("host_id", room.HostID),
			logger.Err(err),
		)
		return err
	}
	return nil
}

// handleSyncMessage is the authorization point for inbound peer messages
func (c *Coordinator) handleSyncMessage(peerID string, msg *peer.SyncMessage) {
	switch {
	case msg.Type == peer.TypeControlModeChange:
		c.adoptControlMode(peerID, msg)

	case msg.Type == peer.TypeHostStateUpdate:
		c.applyHostState(peerID, msg)

	case msg.Type.IsDirect():
		if c.store.ControlMode() != state.ControlModeFreeForAll {
			c.logger.Warn("Dropping direct command outside free-for-all",
				logger.String("peer_id", peerID),
				logger.String("type", string(msg.Type)),
			)
			return
		}
		c.applyDirect(msg)

	case msg.Type.IsClientRequest():
		if !c.store.IsLocalHost() {
			c.logger.Warn("Dropping client request addressed to a non-host",
				logger.String("peer_id", peerID),
				logger.String("type", string(msg.Type)),
			)
			return
		}
		c.executeClientRequest(msg)

	default:
		c.logger.Warn("Dropping unknown sync message",
			logger.String("peer_id", peerID),
			logger.String("type", string(msg.Type)),
		)
	}
}

// applyHostState adopts an authoritative update: latency-compensate the
// position, always honor the play state, and only seek when drift exceeds
// the tolerance.
func (c *Coordinator) applyHostState(peerID string, msg *peer.SyncMessage) {
	if !c.trustedHost(peerID, msg.UserID) {
		c.logger.Warn("Dropping state update from non-host peer",
			logger.String("peer_id", peerID),
			logger.String("user_id", msg.UserID),
		)
		return
	}

	now := time.Now()
	target := CompensatedTime(msg.Time, msg.Timestamp, now, c.cfg.Sync.MaxLatencyComp)

	c.store.SetVideoState(state.VideoState{
		IsPlaying:     msg.IsPlaying,
		CurrentTime:   target,
		Duration:      msg.Duration,
		PlaybackRate:  msg.PlaybackRate,
		URL:           msg.URL,
		LastUpdatedAt: now,
	})

	for _, tab := range c.targetTabs(msg.URL) {
		c.steerTab(tab, msg.IsPlaying, target, msg.PlaybackRate)
	}
}

// applyDirect executes a free-for-all command from any participant
func (c *Coordinator) applyDirect(msg *peer.SyncMessage) {
	tabs := c.targetTabs(msg.URL)

	switch msg.Type {
	case peer.TypeDirectPlay:
		for _, tab := range tabs {
			if err := tab.Controller.Play(); err != nil {
				c.logger.Warn("Play command failed",
					logger.String("tab_id", tab.ID),
					logger.Err(err),
				)
			}
		}
	case peer.TypeDirectPause:
		for _, tab := range tabs {
			if err := tab.Controller.Pause(); err != nil {
				c.logger.Warn("Pause command failed",
					logger.String("tab_id", tab.ID),
					logger.Err(err),
				)
			}
		}
	case peer.TypeDirectSeek:
		target := CompensatedTime(msg.Time, msg.Timestamp, time.Now(), c.cfg.Sync.MaxLatencyComp)
		for _, tab := range tabs {
			if err := tab.Controller.Seek(target); err != nil {
				c.logger.Warn("Seek command failed",
					logger.String("tab_id", tab.ID),
					logger.Err(err),
				)
			}
		}
	}
}

// executeClientRequest translates a participant's request into local player
// commands. The resulting local events re-enter HandlePlayerEvent and flow
// out as authoritative updates; the request itself is never rebroadcast.
func (c *Coordinator) executeClientRequest(msg *peer.SyncMessage) {
	tab := c.tabs.ActiveTab()
	if tab == nil {
		c.logger.Warn("No active player for client request",
			logger.String("type", string(msg.Type)),
		)
		return
	}

	var err error
	switch msg.Type {
	case peer.TypeClientRequestPlay:
		err = tab.Controller.Play()
	case peer.TypeClientRequestPause:
		err = tab.Controller.Pause()
	case peer.TypeClientRequestSeek:
		err = tab.Controller.Seek(msg.Time)
	}
	if err != nil {
		c.logger.Warn("Client request execution failed",
			logger.String("type", string(msg.Type)),
			logger.Err(err),
		)
	}
}

// steerTab converges one player on the authoritative state
func (c *Coordinator) steerTab(tab *Tab, playing bool, target, rate float64) {
	local, err := tab.Controller.CurrentTime()
	if err != nil {
		c.logger.Warn("Failed to read player position",
			logger.String("tab_id", tab.ID),
			logger.Err(err),
		)
	} else if math.Abs(target-local) > c.cfg.Sync.DriftTolerance.Seconds() {
		c.logger.Debug("Correcting drift",
			logger.String("tab_id", tab.ID),
			logger.Float64("local", local),
			logger.Float64("target", target),
		)
		if err := tab.Controller.Seek(target); err != nil {
			c.logger.Warn("Corrective seek failed",
				logger.String("tab_id", tab.ID),
				logger.Err(err),
			)
		}
	}

	paused, err := tab.Controller.IsPaused()
	if err == nil {
		if playing && paused {
			tab.Controller.Play()
		} else if !playing && !paused {
			tab.Controller.Pause()
		}
	}

	if rate > 0 {
		tab.Controller.SetPlaybackRate(rate)
	}
}

// targetTabs selects the players an inbound update applies to: every tab on
// the same video when background sync is on, otherwise only the active tab,
// and only when it is on the same video.
func (c *Coordinator) targetTabs(url string) []*Tab {
	c.mu.Lock()
	background := c.prefs.BackgroundTabSync
	c.mu.Unlock()

	if background && url != "" {
		return c.tabs.MatchingURL(url)
	}

	tab := c.tabs.ActiveTab()
	if tab == nil {
		return nil
	}
	if url != "" && tab.URL != url {
		c.logger.Debug("Active tab is on a different video, skipping",
			logger.String("tab_id", tab.ID),
		)
		return nil
	}
	return []*Tab{tab}
}

// trustedHost reports whether an inbound message may be treated as
// authoritative: the peer record is marked as host, or the sender matches
// the room's host id.
func (c *Coordinator) trustedHost(peerID, userID string) bool {
	if c.transport.IsPeerHost(peerID) {
		return true
	}

	room := c.store.Room()
	return room != nil && room.HostID != "" && room.HostID == userID && userID == peerID
}

// playStateFor resolves the play state an event implies, consulting the
// originating player when the event type alone does not carry it
func (c *Coordinator) playStateFor(evt PlayerEvent) bool {
	switch evt.Type {
	case PlayerEventPlay:
		return true
	case PlayerEventPause:
		return false
	default:
		return c.tabIsPlaying(evt.TabID)
	}
}

// tabIsPlaying reads the play state of a tab, defaulting to paused
func (c *Coordinator) tabIsPlaying(tabID string) bool {
	tab := c.tabs.Lookup(tabID)
	if tab == nil {
		return false
	}
	paused, err := tab.Controller.IsPaused()
	return err == nil && !paused
}
