// Command syncroom-agent is a headless room participant: it creates or joins
// a room and logs every state transition. Useful for soak-testing a relay and
// for keeping a room alive without a browser.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aminofox/syncroom"
	"github.com/aminofox/syncroom/pkg/config"
	"github.com/aminofox/syncroom/pkg/logger"
	"github.com/aminofox/syncroom/pkg/signaling"
	"github.com/aminofox/syncroom/pkg/state"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configFile := flag.String("config", "", "Path to config file")
	relayURL := flag.String("relay", "", "Relay endpoint override (ws:// or wss://)")
	roomID := flag.String("join", "", "Room id to join; creates a room when empty")
	roomName := flag.String("room-name", "syncroom-agent", "Room name when creating")
	userName := flag.String("name", "agent", "Display name")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("syncroom-agent %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *relayURL != "" {
		cfg.Signaling.URL = *relayURL
	}

	engine, err := syncroom.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create engine: %v\n", err)
		os.Exit(1)
	}
	log := engine.Logger()

	engine.OnUserJoined(func(user *state.User) {
		log.Info("User joined",
			logger.String("user_id", user.ID),
			logger.String("name", user.Name),
		)
	})
	engine.OnUserLeft(func(user *state.User) {
		log.Info("User left",
			logger.String("user_id", user.ID),
			logger.String("name", user.Name),
		)
	})
	engine.OnHostChanged(func(hostID string) {
		log.Info("Host changed",
			logger.String("host_id", hostID),
		)
	})
	engine.OnControlModeChanged(func(mode state.ControlMode) {
		log.Info("Control mode changed",
			logger.String("mode", string(mode)),
		)
	})
	engine.OnVideoStateChanged(func(vs state.VideoState) {
		log.Info("Video state changed",
			logger.Bool("playing", vs.IsPlaying),
			logger.Float64("time", vs.CurrentTime),
			logger.String("url", vs.URL),
		)
	})
	engine.OnConnectionStatus(func(st signaling.ConnectionStatus) {
		log.Info("Connection status",
			logger.String("status", string(st)),
		)
	})
	engine.OnRecoveryFailed(func(roomID string) {
		log.Error("Recovery failed",
			logger.String("room_id", roomID),
		)
	})

	ctx := context.Background()

	var room *state.Room
	if *roomID != "" {
		room, err = engine.JoinRoom(ctx, *roomID, *userName)
	} else {
		room, err = engine.CreateRoom(ctx, *roomName, *userName)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enter room: %v\n", err)
		os.Exit(1)
	}

	log.Info("Agent in room",
		logger.String("room_id", room.ID),
		logger.String("room_name", room.Name),
		logger.Bool("is_host", engine.IsHost()),
	)
	log.Info("Press Ctrl+C to leave")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutdown signal received, leaving room")

	if err := engine.LeaveRoom(ctx); err != nil {
		log.Error("Failed to leave room", logger.Err(err))
	}
	engine.Close()

	log.Info("Agent stopped")
}
