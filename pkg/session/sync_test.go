package session

import (
	"sync"
	"testing"
	"time"

	"github.com/aminofox/syncroom/pkg/config"
	"github.com/aminofox/syncroom/pkg/errors"
	"github.com/aminofox/syncroom/pkg/logger"
	"github.com/aminofox/syncroom/pkg/peer"
	"github.com/aminofox/syncroom/pkg/state"
	"github.com/aminofox/syncroom/pkg/storage"
)

// fakePlayer records the commands issued against it
type fakePlayer struct {
	mu       sync.Mutex
	position float64
	duration float64
	paused   bool
	rate     float64
	seeks    []float64
	plays    int
	pauses   int
}

func (f *fakePlayer) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	f.plays++
	return nil
}

func (f *fakePlayer) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	f.pauses++
	return nil
}

func (f *fakePlayer) Seek(time float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = time
	f.seeks = append(f.seeks, time)
	return nil
}

func (f *fakePlayer) SetPlaybackRate(rate float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate = rate
	return nil
}

func (f *fakePlayer) CurrentTime() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, nil
}

func (f *fakePlayer) Duration() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration, nil
}

func (f *fakePlayer) IsPaused() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused, nil
}

func (f *fakePlayer) seekCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seeks)
}

func (f *fakePlayer) lastSeek() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seeks) == 0 {
		return -1
	}
	return f.seeks[len(f.seeks)-1]
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return NewCoordinator(config.DefaultConfig(), logger.Nop(), storage.NewMemoryStore(0))
}

// hostedRoom installs a room with "host-1" as host and the given local user
func hostedRoom(c *Coordinator, localUserID string) {
	now := time.Now()
	c.store.SetRoom(&state.Room{
		ID:          "room-1",
		Name:        "movie night",
		HostID:      "host-1",
		ControlMode: state.ControlModeHostOnly,
		Users: []*state.User{
			{ID: "host-1", Name: "Host", IsHost: true, JoinedAt: now.Add(-time.Minute)},
			{ID: "guest-1", Name: "Guest", JoinedAt: now},
		},
	})
	c.store.SetLocalUserID(localUserID)
	c.mu.Lock()
	c.roomID = "room-1"
	c.userID = localUserID
	c.isHost = localUserID == "host-1"
	c.mu.Unlock()
}

func hostUpdate(position float64, latency time.Duration, playing bool) *peer.SyncMessage {
	msg := peer.NewSyncMessage(peer.TypeHostStateUpdate, "host-1")
	msg.Timestamp = time.Now().Add(-latency).UnixMilli()
	msg.Time = position
	msg.IsPlaying = playing
	msg.URL = "https://videos.example/v/1"
	msg.PlaybackRate = 1.0
	return msg
}

func TestCompensatedTime(t *testing.T) {
	now := time.Now()
	maxComp := 500 * time.Millisecond

	// 120ms in transit advances the position by 0.12s
	got := CompensatedTime(10.0, now.Add(-120*time.Millisecond).UnixMilli(), now, maxComp)
	if got < 10.11 || got > 10.13 {
		t.Errorf("CompensatedTime = %v, want ~10.12", got)
	}

	// Latency beyond the cap is clamped
	got = CompensatedTime(10.0, now.Add(-5*time.Second).UnixMilli(), now, maxComp)
	if got < 10.49 || got > 10.51 {
		t.Errorf("CompensatedTime = %v, want ~10.5 (clamped)", got)
	}

	// A sender clock ahead of ours never rewinds the position
	got = CompensatedTime(10.0, now.Add(2*time.Second).UnixMilli(), now, maxComp)
	if got != 10.0 {
		t.Errorf("CompensatedTime = %v, want 10.0 for future timestamp", got)
	}
}

func TestApplyHostStateSeeksOnDrift(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "guest-1")

	player := &fakePlayer{position: 9.5, paused: true}
	c.RegisterTab("tab-1", "https://videos.example/v/1", player, true)

	// Position 10.0 sent 120ms ago compensates to ~10.12; local 9.5 drifts
	// by ~0.62s, beyond the 0.5s tolerance
	c.handleSyncMessage("host-1", hostUpdate(10.0, 120*time.Millisecond, true))

	if player.seekCount() != 1 {
		t.Fatalf("Expected 1 corrective seek, got %d", player.seekCount())
	}
	if got := player.lastSeek(); got < 10.11 || got > 10.14 {
		t.Errorf("Seek target = %v, want ~10.12", got)
	}
	if player.plays != 1 {
		t.Errorf("Expected playback started, plays = %d", player.plays)
	}
}

func TestApplyHostStateSkipsSeekWithinTolerance(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "guest-1")

	player := &fakePlayer{position: 10.0}
	c.RegisterTab("tab-1", "https://videos.example/v/1", player, true)

	c.handleSyncMessage("host-1", hostUpdate(10.0, 120*time.Millisecond, true))

	if player.seekCount() != 0 {
		t.Errorf("Expected no seek within tolerance, got %d", player.seekCount())
	}
}

func TestApplyHostStateCompensatesPausedUpdates(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "guest-1")

	player := &fakePlayer{position: 41.7}
	c.RegisterTab("tab-1", "https://videos.example/v/1", player, true)

	// Position 42.0 sent 400ms ago compensates to ~42.4 regardless of play
	// state; local 41.7 drifts by ~0.7s, beyond the 0.5s tolerance
	c.handleSyncMessage("host-1", hostUpdate(42.0, 400*time.Millisecond, false))

	if player.seekCount() != 1 {
		t.Fatalf("Expected 1 corrective seek, got %d", player.seekCount())
	}
	if got := player.lastSeek(); got < 42.39 || got > 42.42 {
		t.Errorf("Seek target = %v, want ~42.4", got)
	}
	if player.pauses != 1 {
		t.Errorf("Expected pause, pauses = %d", player.pauses)
	}
}

func TestApplyHostStateIgnoresNonHostSender(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "guest-1")

	player := &fakePlayer{position: 0}
	c.RegisterTab("tab-1", "https://videos.example/v/1", player, true)

	msg := hostUpdate(99.0, 0, true)
	msg.UserID = "guest-2"
	c.handleSyncMessage("guest-2", msg)

	if player.seekCount() != 0 || player.plays != 0 {
		t.Error("State update from a non-host must be dropped")
	}
}

func TestDirectCommandDroppedInHostOnlyMode(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "guest-1")

	player := &fakePlayer{paused: true}
	c.RegisterTab("tab-1", "https://videos.example/v/1", player, true)

	msg := peer.NewSyncMessage(peer.TypeDirectPlay, "guest-2")
	c.handleSyncMessage("guest-2", msg)

	if player.plays != 0 {
		t.Error("Direct command must be dropped outside free-for-all")
	}
}

func TestDirectCommandAppliedInFreeForAll(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "guest-1")
	c.store.SetControlMode(state.ControlModeFreeForAll)

	player := &fakePlayer{paused: true}
	c.RegisterTab("tab-1", "https://videos.example/v/1", player, true)

	msg := peer.NewSyncMessage(peer.TypeDirectPlay, "guest-2")
	c.handleSyncMessage("guest-2", msg)

	if player.plays != 1 {
		t.Errorf("Expected direct play applied, plays = %d", player.plays)
	}
}

func TestClientRequestIgnoredByNonHost(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "guest-1")

	player := &fakePlayer{paused: true}
	c.RegisterTab("tab-1", "https://videos.example/v/1", player, true)

	msg := peer.NewSyncMessage(peer.TypeClientRequestPlay, "guest-2")
	c.handleSyncMessage("guest-2", msg)

	if player.plays != 0 {
		t.Error("Only the host executes client requests")
	}
}

func TestClientRequestExecutedByHost(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "host-1")

	player := &fakePlayer{paused: true}
	c.RegisterTab("tab-1", "https://videos.example/v/1", player, true)

	msg := peer.NewSyncMessage(peer.TypeClientRequestSeek, "guest-1")
	msg.Time = 33.0
	c.handleSyncMessage("guest-1", msg)

	if got := player.lastSeek(); got != 33.0 {
		t.Errorf("Seek target = %v, want 33.0", got)
	}
}

func TestControlModeAdoptedFromHost(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "guest-1")

	msg := peer.NewSyncMessage(peer.TypeControlModeChange, "host-1")
	msg.ControlMode = state.ControlModeFreeForAll
	c.handleSyncMessage("host-1", msg)

	if c.store.ControlMode() != state.ControlModeFreeForAll {
		t.Errorf("ControlMode = %s, want free_for_all", c.store.ControlMode())
	}
}

func TestControlModeIgnoredFromNonHost(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "guest-1")

	msg := peer.NewSyncMessage(peer.TypeControlModeChange, "guest-2")
	msg.ControlMode = state.ControlModeFreeForAll
	c.handleSyncMessage("guest-2", msg)

	if c.store.ControlMode() != state.ControlModeHostOnly {
		t.Error("Control mode change from a non-host must be dropped")
	}
}

func TestSetControlModeRequiresHost(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "guest-1")

	err := c.SetControlMode(state.ControlModeFreeForAll)
	if !errors.IsCode(err, errors.ErrCodeNotHost) {
		t.Errorf("Expected not-host error, got %v", err)
	}
}

func TestToggleControlModeAsHost(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "host-1")

	mode, err := c.ToggleControlMode()
	if err != nil {
		t.Fatalf("ToggleControlMode failed: %v", err)
	}
	if mode != state.ControlModeFreeForAll {
		t.Errorf("Toggled to %s, want free_for_all", mode)
	}

	mode, err = c.ToggleControlMode()
	if err != nil {
		t.Fatalf("ToggleControlMode failed: %v", err)
	}
	if mode != state.ControlModeHostOnly {
		t.Errorf("Toggled to %s, want host_only", mode)
	}
}

func TestHandlePlayerEventOutsideRoom(t *testing.T) {
	c := newTestCoordinator(t)

	err := c.HandlePlayerEvent(PlayerEvent{Type: PlayerEventPlay})
	if !errors.IsCode(err, errors.ErrCodeNotInRoom) {
		t.Errorf("Expected not-in-room error, got %v", err)
	}
}

func TestHostPlayEventBecomesAuthoritative(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "host-1")

	player := &fakePlayer{position: 12.0}
	c.RegisterTab("tab-1", "https://videos.example/v/1", player, true)

	err := c.HandlePlayerEvent(PlayerEvent{
		Type:  PlayerEventPlay,
		TabID: "tab-1",
		Time:  12.0,
		URL:   "https://videos.example/v/1",
		Rate:  1.0,
	})
	if err != nil {
		t.Fatalf("HandlePlayerEvent failed: %v", err)
	}

	vs := c.store.VideoState()
	if !vs.IsPlaying || vs.CurrentTime != 12.0 {
		t.Errorf("VideoState = %+v, want playing at 12.0", vs)
	}
}

func TestTimeUpdateThrottled(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "host-1")

	player := &fakePlayer{position: 5.0}
	c.RegisterTab("tab-1", "https://videos.example/v/1", player, true)

	evt := PlayerEvent{
		Type:  PlayerEventTimeUpdate,
		TabID: "tab-1",
		Time:  5.0,
		URL:   "https://videos.example/v/1",
	}
	if err := c.HandlePlayerEvent(evt); err != nil {
		t.Fatalf("HandlePlayerEvent failed: %v", err)
	}

	// A second update inside the throttle window must not replace the state
	evt.Time = 5.4
	if err := c.HandlePlayerEvent(evt); err != nil {
		t.Fatalf("HandlePlayerEvent failed: %v", err)
	}

	if got := c.store.VideoState().CurrentTime; got != 5.0 {
		t.Errorf("CurrentTime = %v, want 5.0 (second update throttled)", got)
	}
}

func TestNonHostTimeUpdateNotAuthoritative(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "guest-1")

	player := &fakePlayer{position: 5.0}
	c.RegisterTab("tab-1", "https://videos.example/v/1", player, true)

	err := c.HandlePlayerEvent(PlayerEvent{
		Type:  PlayerEventTimeUpdate,
		TabID: "tab-1",
		Time:  5.0,
		URL:   "https://videos.example/v/1",
	})
	if err != nil {
		t.Fatalf("HandlePlayerEvent failed: %v", err)
	}

	if got := c.store.VideoState().CurrentTime; got != 0 {
		t.Errorf("Non-host timeupdate mutated authoritative state: %v", got)
	}
}

func TestUpdateSkipsActiveTabOnDifferentVideo(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "guest-1")

	player := &fakePlayer{position: 0, paused: true}
	c.RegisterTab("tab-1", "https://videos.example/v/other", player, true)

	c.handleSyncMessage("host-1", hostUpdate(10.0, 0, true))

	if player.plays != 0 || player.seekCount() != 0 {
		t.Error("Update must not touch a tab on a different video")
	}
}

func TestBackgroundTabSyncReachesAllMatchingTabs(t *testing.T) {
	c := newTestCoordinator(t)
	hostedRoom(c, "guest-1")
	c.mu.Lock()
	c.prefs.BackgroundTabSync = true
	c.mu.Unlock()

	active := &fakePlayer{position: 0, paused: true}
	background := &fakePlayer{position: 0, paused: true}
	other := &fakePlayer{position: 0, paused: true}
	c.RegisterTab("tab-1", "https://videos.example/v/1", active, true)
	c.RegisterTab("tab-2", "https://videos.example/v/1", background, false)
	c.RegisterTab("tab-3", "https://videos.example/v/other", other, false)

	c.handleSyncMessage("host-1", hostUpdate(10.0, 0, true))

	if active.plays != 1 || background.plays != 1 {
		t.Error("Expected every matching tab steered")
	}
	if other.plays != 0 {
		t.Error("Tab on a different video must be untouched")
	}
}
