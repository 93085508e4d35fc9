package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aminofox/syncroom/pkg/config"
	"github.com/aminofox/syncroom/pkg/logger"
	"github.com/aminofox/syncroom/pkg/signaling"
	"github.com/aminofox/syncroom/pkg/state"
	"github.com/aminofox/syncroom/pkg/storage"
	"github.com/gorilla/websocket"
)

// newRelayServer runs a minimal in-process relay that acknowledges JOIN_ROOM
// with a room snapshot and reports every join it sees
func newRelayServer(t *testing.T) (*httptest.Server, chan *signaling.Message) {
	t.Helper()

	joins := make(chan *signaling.Message, 4)
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var msg signaling.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}

			switch msg.Type {
			case signaling.TypeJoinRoom:
				joins <- &msg

				reply := signaling.NewMessage(signaling.TypeRoomJoined)
				reply.RoomID = msg.RoomID
				reply.Room = &state.Room{
					ID:          msg.RoomID,
					Name:        "movie night",
					HostID:      "host-1",
					ControlMode: state.ControlModeHostOnly,
					Users: []*state.User{
						{ID: "host-1", Name: "Host", IsHost: true, IsConnected: true, JoinedAt: time.Now().Add(-time.Minute)},
						{ID: msg.UserID, Name: msg.UserName, IsConnected: true, JoinedAt: time.Now()},
					},
				}
				if err := conn.WriteJSON(reply); err != nil {
					return
				}

			case signaling.TypePing:
				if err := conn.WriteJSON(signaling.NewMessage(signaling.TypePong)); err != nil {
					return
				}
			}
		}
	}))

	return server, joins
}

func TestRecoveryRejoinsWithSameIDsAndRestoresState(t *testing.T) {
	server, joins := newRelayServer(t)
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Signaling.URL = "ws" + strings.TrimPrefix(server.URL, "http")
	cfg.Signaling.ResponseTimeout = 2 * time.Second
	cfg.Recovery.InitialDelay = 10 * time.Millisecond

	c := NewCoordinator(cfg, logger.Nop(), storage.NewMemoryStore(0))
	defer c.signaling.Disconnect()

	hostedRoom(c, "guest-1")
	if err := c.store.SetControlMode(state.ControlModeFreeForAll); err != nil {
		t.Fatalf("SetControlMode failed: %v", err)
	}
	if err := c.store.SetVideoState(state.VideoState{
		IsPlaying:    true,
		CurrentTime:  77.0,
		PlaybackRate: 1.0,
		URL:          "https://videos.example/v/1",
	}); err != nil {
		t.Fatalf("SetVideoState failed: %v", err)
	}

	// An unplanned loss while a room is active arms auto-rejoin; the next
	// successful connect runs it
	c.handleStatusChange(signaling.StatusError)

	if err := c.signaling.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case msg := <-joins:
		if msg.RoomID != "room-1" {
			t.Errorf("Rejoin room id = %q, want room-1", msg.RoomID)
		}
		if msg.UserID != "guest-1" {
			t.Errorf("Rejoin user id = %q, want guest-1", msg.UserID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Relay never received the replayed JOIN_ROOM")
	}

	// The relay's snapshot says host_only; the pre-disconnect mode and
	// playback state win
	restored := false
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.store.ControlMode() == state.ControlModeFreeForAll &&
			c.store.VideoState().CurrentTime == 77.0 {
			restored = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !restored {
		t.Fatalf("State not restored after rejoin: mode=%s time=%v",
			c.store.ControlMode(), c.store.VideoState().CurrentTime)
	}

	rearmed := true
	for time.Now().Before(deadline) {
		c.mu.Lock()
		rearmed = c.reconnecting
		c.mu.Unlock()
		if !rearmed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if rearmed {
		t.Error("Expected rejoin flag cleared after successful recovery")
	}
}
