package session

import (
	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/logger"
	"github.com/aminofox/syncroom/pkg/peer"
	"github.com/aminofox/syncroom/pkg/state"
)

// ToggleControlMode flips the room between host-only and free-for-all.
// Only the host may change the mode; the change is broadcast to every peer.
func (c *Coordinator) ToggleControlMode() (state.ControlMode, error) {
	next := state.ControlModeFreeForAll
	if c.store.ControlMode() == state.ControlModeFreeForAll {
		next = state.ControlModeHostOnly
	}
	if err := c.SetControlMode(next); err != nil {
		return "", err
	}
	return next, nil
}

// SetControlMode sets the room's control mode. Only the host may change it.
func (c *Coordinator) SetControlMode(mode state.ControlMode) error {
	if !mode.Valid() {
		return errors.NewValidationError("unknown control mode: " + string(mode))
	}
	if !c.store.IsLocalHost() {
		return errors.NewNotHostError("change control mode")
	}

	if err := c.store.SetControlMode(mode); err != nil {
		return err
	}

	msg := peer.NewSyncMessage(peer.TypeControlModeChange, c.localID())
	msg.ControlMode = mode

	sent, err := c.transport.SendSyncMessage(msg, "")
	if err != nil {
		return err
	}

	c.logger.Info("Control mode changed",
		logger.String("mode", string(mode)),
		logger.Int("notified", sent),
	)

	return nil
}

// adoptControlMode applies a mode change announced by the host. Non-host
// recipients adopt it unconditionally from a trusted sender.
func (c *Coordinator) adoptControlMode(peerID string, msg *peer.SyncMessage) {
	if !c.trustedHost(peerID, msg.UserID) {
		c.logger.Warn("Dropping control mode change from non-host peer",
			logger.String("peer_id", peerID),
			logger.String("user_id", msg.UserID),
		)
		return
	}

	if err := c.store.SetControlMode(msg.ControlMode); err != nil {
		c.logger.Warn("Failed to adopt control mode",
			logger.String("mode", string(msg.ControlMode)),
			logger.Err(err),
		)
		return
	}

	c.logger.Info("Adopted control mode from host",
		logger.String("mode", string(msg.ControlMode)),
	)
}
