package integration

import (
	"context"
	"testing"
	"time"

	"github.com/aminofox/syncroom"
	"github.com/aminofox/syncroom/pkg/config"
	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/session"
	"github.com/aminofox/syncroom/pkg/signaling"
	"github.com/aminofox/syncroom/pkg/state"
	"github.com/aminofox/syncroom/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPlayer is a minimal PlayerController for engine-level tests
type stubPlayer struct {
	position float64
	paused   bool
}

func (p *stubPlayer) Play() error                     { p.paused = false; return nil }
func (p *stubPlayer) Pause() error                    { p.paused = true; return nil }
func (p *stubPlayer) Seek(t float64) error            { p.position = t; return nil }
func (p *stubPlayer) SetPlaybackRate(_ float64) error { return nil }
func (p *stubPlayer) CurrentTime() (float64, error)   { return p.position, nil }
func (p *stubPlayer) Duration() (float64, error)      { return 0, nil }
func (p *stubPlayer) IsPaused() (bool, error)         { return p.paused, nil }

func TestEngineLifecycle(t *testing.T) {
	engine, err := syncroom.New(nil)
	require.NoError(t, err)
	defer engine.Close()

	assert.False(t, engine.InRoom())
	assert.False(t, engine.IsHost())
	assert.Nil(t, engine.Room())
	assert.Equal(t, signaling.StatusDisconnected, engine.Status())
}

func TestEngineRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Signaling.URL = ""

	_, err := syncroom.New(cfg)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestEnginePreferencesRoundTrip(t *testing.T) {
	engine, err := syncroom.New(nil)
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()

	prefs := engine.Preferences()
	assert.False(t, prefs.BackgroundTabSync)
	assert.Equal(t, state.ControlModeHostOnly, prefs.DefaultControlMode)

	prefs.BackgroundTabSync = true
	require.NoError(t, engine.SetPreferences(ctx, prefs))

	assert.True(t, engine.Preferences().BackgroundTabSync)
}

func TestEngineHistoryEmpty(t *testing.T) {
	engine, err := syncroom.New(nil)
	require.NoError(t, err)
	defer engine.Close()

	history, err := engine.History(context.Background())
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestEnginePlayerEventOutsideRoom(t *testing.T) {
	engine, err := syncroom.New(nil)
	require.NoError(t, err)
	defer engine.Close()

	engine.RegisterTab("tab-1", "https://videos.example/v/1", &stubPlayer{}, true)
	defer engine.UnregisterTab("tab-1")

	err = engine.HandlePlayerEvent(session.PlayerEvent{
		Type:  session.PlayerEventPlay,
		TabID: "tab-1",
		Time:  1.0,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotInRoom))
}

func TestEngineLeaveWithoutRoom(t *testing.T) {
	engine, err := syncroom.New(nil)
	require.NoError(t, err)
	defer engine.Close()

	err = engine.LeaveRoom(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotInRoom))
}

func TestEngineCreateRoomUnreachableRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := config.DefaultConfig()
	cfg.Signaling.URL = "ws://127.0.0.1:1/ws"
	cfg.Signaling.ConnectTimeout = 500 * time.Millisecond
	cfg.Signaling.MaxReconnectAttempts = 1

	engine, err := syncroom.New(cfg)
	require.NoError(t, err)
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = engine.CreateRoom(ctx, "movie night", "alice")
	require.Error(t, err)
	assert.False(t, engine.InRoom())
	assert.Empty(t, engine.Coordinator().RoomID())
}

func TestEngineStorageBackendSelection(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Type = "memory"
	cfg.Storage.HistoryLimit = 5

	engine, err := syncroom.New(cfg)
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()
	prefs := storage.Preferences{
		BackgroundTabSync:  true,
		DefaultControlMode: state.ControlModeFreeForAll,
	}
	require.NoError(t, engine.SetPreferences(ctx, prefs))
	assert.Equal(t, prefs, engine.Preferences())
}
