// Package syncroom is a room synchronization engine for lock-step video
// watching: participants share a room over a signaling relay, negotiate
// direct peer connections, and keep their players converged on a single
// authoritative playback state.
package syncroom

import (
	"context"

	"github.com/aminofox/syncroom/pkg/config"
	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/logger"
	"github.com/aminofox/syncroom/pkg/session"
	"github.com/aminofox/syncroom/pkg/signaling"
	"github.com/aminofox/syncroom/pkg/state"
	"github.com/aminofox/syncroom/pkg/storage"
)

// Engine is the main syncroom instance
type Engine struct {
	config      *config.Config
	logger      logger.Logger
	persist     storage.Store
	coordinator *session.Coordinator
}

// New creates a new syncroom engine
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, "invalid configuration", err)
	}

	logLevel := logger.ParseLevel(cfg.Logging.Level)
	log := logger.NewDefaultLogger(logLevel, cfg.Logging.Format)

	var persist storage.Store
	switch cfg.Storage.Type {
	case "redis":
		persist = storage.NewRedisStore(cfg.Storage.Redis, cfg.Storage.HistoryLimit)
	default:
		persist = storage.NewMemoryStore(cfg.Storage.HistoryLimit)
	}

	engine := &Engine{
		config:      cfg,
		logger:      log,
		persist:     persist,
		coordinator: session.NewCoordinator(cfg, log, persist),
	}

	return engine, nil
}

// Close shuts the engine down, leaving any active room
func (e *Engine) Close() error {
	e.coordinator.Close()
	return e.persist.Close()
}

// Config returns the engine configuration
func (e *Engine) Config() *config.Config {
	return e.config
}

// Logger returns the engine logger
func (e *Engine) Logger() logger.Logger {
	return e.logger
}

// Coordinator returns the underlying session coordinator
func (e *Engine) Coordinator() *session.Coordinator {
	return e.coordinator
}

// Room Lifecycle

// CreateRoom creates a new room and becomes its host
func (e *Engine) CreateRoom(ctx context.Context, roomName, userName string) (*state.Room, error) {
	return e.coordinator.CreateRoom(ctx, roomName, userName)
}

// JoinRoom joins an existing room by id
func (e *Engine) JoinRoom(ctx context.Context, roomID, userName string) (*state.Room, error) {
	return e.coordinator.JoinRoom(ctx, roomID, userName)
}

// LeaveRoom departs the active room
func (e *Engine) LeaveRoom(ctx context.Context) error {
	return e.coordinator.LeaveRoom(ctx)
}

// Room returns the current room snapshot, or nil
func (e *Engine) Room() *state.Room {
	return e.coordinator.Store().Room()
}

// InRoom reports whether a session is active
func (e *Engine) InRoom() bool {
	return e.coordinator.InRoom()
}

// IsHost reports whether the local participant holds the host role
func (e *Engine) IsHost() bool {
	return e.coordinator.IsHost()
}

// Status returns the signaling connection status
func (e *Engine) Status() signaling.ConnectionStatus {
	return e.coordinator.Status()
}

// Playback Control

// ToggleControlMode flips between host-only and free-for-all. Host only.
func (e *Engine) ToggleControlMode() (state.ControlMode, error) {
	return e.coordinator.ToggleControlMode()
}

// HandlePlayerEvent feeds a local player change into the session
func (e *Engine) HandlePlayerEvent(evt session.PlayerEvent) error {
	return e.coordinator.HandlePlayerEvent(evt)
}

// RegisterTab attaches a local player
func (e *Engine) RegisterTab(tabID, url string, controller session.PlayerController, active bool) {
	e.coordinator.RegisterTab(tabID, url, controller, active)
}

// UnregisterTab detaches a local player
func (e *Engine) UnregisterTab(tabID string) {
	e.coordinator.UnregisterTab(tabID)
}

// ActivateTab marks the tab the user is looking at
func (e *Engine) ActivateTab(tabID string) {
	e.coordinator.ActivateTab(tabID)
}

// Preferences and History

// Preferences returns the current preference set
func (e *Engine) Preferences() storage.Preferences {
	return e.coordinator.Preferences()
}

// SetPreferences persists and adopts a new preference set
func (e *Engine) SetPreferences(ctx context.Context, prefs storage.Preferences) error {
	return e.coordinator.SetPreferences(ctx, prefs)
}

// History returns previously joined rooms, most recent first
func (e *Engine) History(ctx context.Context) ([]storage.HistoryEntry, error) {
	return e.coordinator.History(ctx)
}

// Event Callbacks

// OnRoomUpdated registers a callback for room snapshot replacements
func (e *Engine) OnRoomUpdated(callback func(*state.Room)) {
	e.coordinator.Events().Subscribe(state.EventRoomUpdated, func(event *state.Event) {
		if room, ok := event.Data.(*state.Room); ok {
			callback(room)
		}
	})
}

// OnUserJoined registers a callback for participant joins
func (e *Engine) OnUserJoined(callback func(*state.User)) {
	e.coordinator.Events().Subscribe(state.EventUserJoined, func(event *state.Event) {
		if user, ok := event.Data.(*state.User); ok {
			callback(user)
		}
	})
}

// OnUserLeft registers a callback for participant departures
func (e *Engine) OnUserLeft(callback func(*state.User)) {
	e.coordinator.Events().Subscribe(state.EventUserLeft, func(event *state.Event) {
		if user, ok := event.Data.(*state.User); ok {
			callback(user)
		}
	})
}

// OnHostChanged registers a callback for host ownership moves
func (e *Engine) OnHostChanged(callback func(newHostID string)) {
	e.coordinator.Events().Subscribe(state.EventHostChanged, func(event *state.Event) {
		if hostID, ok := event.Data.(string); ok {
			callback(hostID)
		}
	})
}

// OnControlModeChanged registers a callback for control mode changes
func (e *Engine) OnControlModeChanged(callback func(state.ControlMode)) {
	e.coordinator.Events().Subscribe(state.EventControlModeChanged, func(event *state.Event) {
		if mode, ok := event.Data.(state.ControlMode); ok {
			callback(mode)
		}
	})
}

// OnVideoStateChanged registers a callback for authoritative playback changes
func (e *Engine) OnVideoStateChanged(callback func(state.VideoState)) {
	e.coordinator.Events().Subscribe(state.EventVideoStateChanged, func(event *state.Event) {
		if vs, ok := event.Data.(state.VideoState); ok {
			callback(vs)
		}
	})
}

// OnConnectionStatus registers a callback for signaling status transitions
func (e *Engine) OnConnectionStatus(callback func(signaling.ConnectionStatus)) {
	e.coordinator.Events().Subscribe(state.EventConnectionStatus, func(event *state.Event) {
		if st, ok := event.Data.(signaling.ConnectionStatus); ok {
			callback(st)
		}
	})
}

// OnRecoveryFailed registers a callback for exhausted auto-rejoin
func (e *Engine) OnRecoveryFailed(callback func(roomID string)) {
	e.coordinator.Events().Subscribe(state.EventRecoveryFailed, func(event *state.Event) {
		callback(event.RoomID)
	})
}

// Version returns the engine version
func (e *Engine) Version() string {
	return "1.0.0"
}
