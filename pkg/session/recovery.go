package session

import (
	"context"
	"time"

	"github.com/aminofox/syncroom/pkg/logger"
	"github.com/aminofox/syncroom/pkg/signaling"
	"github.com/aminofox/syncroom/pkg/state"
)

// handleStatusChange reacts to signaling connection transitions. An unplanned
// loss while a room is active arms auto-rejoin; the next successful connect
// runs it.
func (c *Coordinator) handleStatusChange(st signaling.ConnectionStatus) {
	c.store.Events().Publish(state.NewEvent(state.EventConnectionStatus, c.RoomID(), st))

	switch st {
	case signaling.StatusError, signaling.StatusDisconnected:
		c.mu.Lock()
		if c.roomID != "" && !c.leaving {
			c.reconnecting = true
		}
		c.mu.Unlock()

	case signaling.StatusConnected:
		c.mu.Lock()
		armed := c.reconnecting && !c.recovering && c.roomID != ""
		if armed {
			c.recovering = true
		}
		c.mu.Unlock()

		if armed {
			go c.recover()
		}
	}
}

// handleMaxRetries reacts to signaling giving up on reconnection
func (c *Coordinator) handleMaxRetries(err error) {
	c.logger.Error("Signaling reconnection exhausted",
		logger.Err(err),
	)

	c.store.Events().Publish(state.NewEvent(state.EventRecoveryFailed, c.RoomID(), err))
}

// recover re-enters the room after the signaling connection came back: stale
// peer connections are torn down, fresh relay credentials are fetched, the
// transport identity is rebuilt with the preserved role, and the join is
// replayed with the original room and user ids.
func (c *Coordinator) recover() {
	defer func() {
		c.mu.Lock()
		c.recovering = false
		c.mu.Unlock()
	}()

	c.mu.Lock()
	roomID := c.roomID
	userID := c.userID
	userName := c.userName
	isHost := c.isHost
	c.mu.Unlock()

	prev := c.store.Room()

	for attempt := 1; attempt <= c.cfg.Recovery.MaxAttempts; attempt++ {
		c.mu.Lock()
		leaving := c.leaving
		c.mu.Unlock()
		if leaving || c.signaling.Status() != signaling.StatusConnected {
			return
		}

		err := c.rejoin(roomID, userID, userName, isHost, prev)
		if err == nil {
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()

			c.logger.Info("Session recovered",
				logger.String("room_id", roomID),
				logger.Int("attempt", attempt),
			)
			return
		}

		c.logger.Warn("Rejoin attempt failed",
			logger.String("room_id", roomID),
			logger.Int("attempt", attempt),
			logger.Err(err),
		)

		time.Sleep(signaling.ReconnectDelay(c.cfg.Recovery.InitialDelay, c.cfg.Recovery.MaxDelay, attempt-1))
	}

	c.logger.Error("Session recovery failed",
		logger.String("room_id", roomID),
		logger.Int("attempts", c.cfg.Recovery.MaxAttempts),
	)

	c.store.Events().Publish(state.NewEvent(state.EventRecoveryFailed, roomID, nil))
}

// rejoin runs one recovery attempt
func (c *Coordinator) rejoin(roomID, userID, userName string, isHost bool, prev *state.Room) error {
	c.transport.CloseAllConnections()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Signaling.ResponseTimeout)
	defer cancel()

	// Relay credentials are time-boxed; the old set may have expired during
	// the outage
	servers, err := c.creds.Fetch(ctx, userID)
	if err != nil {
		c.logger.Warn("Recovering with static ICE servers",
			logger.Err(err),
		)
	}
	c.transport.SetICEServers(servers)
	c.transport.Initialize(userID, isHost)

	msg := signaling.NewMessage(signaling.TypeJoinRoom)
	msg.RoomID = roomID
	msg.UserID = userID
	msg.UserName = userName

	resp, err := c.signaling.Request(ctx, msg, signaling.TypeRoomJoined, func(m *signaling.Message) bool {
		return m.Room == nil || m.Room.ID == roomID
	})
	if err != nil {
		return err
	}

	if resp.Room != nil {
		c.store.SetRoom(resp.Room)
	}

	if prev != nil {
		if prev.ControlMode.Valid() {
			c.store.SetControlMode(prev.ControlMode)
		}
		c.store.SetVideoState(prev.VideoState)
	}

	// The host owns connection setup; offering here gives every surviving
	// participant a fresh transport
	if isHost {
		c.offerToAll()
	}

	return nil
}
