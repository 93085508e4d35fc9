package session

import (
	"sync"
)

// PlayerController is the narrow surface a video-site player must satisfy.
// The coordinator only consumes it; how a given site's player is driven is
// not its concern.
type PlayerController interface {
	// Play starts playback
	Play() error

	// Pause pauses playback
	Pause() error

	// Seek moves playback to the given position in seconds
	Seek(time float64) error

	// SetPlaybackRate sets the playback speed multiplier
	SetPlaybackRate(rate float64) error

	// CurrentTime returns the playback position in seconds
	CurrentTime() (float64, error)

	// Duration returns the video duration in seconds
	Duration() (float64, error)

	// IsPaused reports whether playback is paused
	IsPaused() (bool, error)
}

// PlayerEventType discriminates local player events
type PlayerEventType string

const (
	// PlayerEventPlay fires when local playback starts
	PlayerEventPlay PlayerEventType = "play"
	// PlayerEventPause fires when local playback pauses
	PlayerEventPause PlayerEventType = "pause"
	// PlayerEventSeeking fires when a local seek starts
	PlayerEventSeeking PlayerEventType = "seeking"
	// PlayerEventSeeked fires when a local seek lands
	PlayerEventSeeked PlayerEventType = "seeked"
	// PlayerEventTimeUpdate fires periodically with the playback position
	PlayerEventTimeUpdate PlayerEventType = "timeupdate"
)

// PlayerEvent is a local player change entering the coordinator
type PlayerEvent struct {
	// Type is the event type
	Type PlayerEventType

	// TabID identifies the originating tab
	TabID string

	// Time is the playback position in seconds
	Time float64

	// Duration is the video duration in seconds, when known
	Duration float64

	// Rate is the playback speed multiplier, when known
	Rate float64

	// URL is the tab's logical video URL
	URL string
}

// Tab is one browser tab with an attached player
type Tab struct {
	// ID is the tab identifier
	ID string

	// URL is the tab's logical video URL
	URL string

	// Active marks the tab the user is looking at
	Active bool

	// Controller drives the tab's player
	Controller PlayerController
}

// TabRegistry tracks tabs with attached players. It is owned by the
// coordinator; its lifecycle ends with the coordinator's.
type TabRegistry struct {
	// mu protects concurrent access
	mu sync.RWMutex

	// tabs stores tabs by id
	tabs map[string]*Tab
}

// NewTabRegistry creates an empty tab registry
func NewTabRegistry() *TabRegistry {
	return &TabRegistry{
		tabs: make(map[string]*Tab),
	}
}

// Insert adds or replaces a tab
func (tr *TabRegistry) Insert(tab *Tab) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tab.Active {
		for _, t := range tr.tabs {
			t.Active = false
		}
	}
	tr.tabs[tab.ID] = tab
}

// Remove deletes a tab by id
func (tr *TabRegistry) Remove(tabID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	delete(tr.tabs, tabID)
}

// Lookup returns the tab with the given id, or nil
func (tr *TabRegistry) Lookup(tabID string) *Tab {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	return tr.tabs[tabID]
}

// SetActive marks one tab active and the rest inactive
func (tr *TabRegistry) SetActive(tabID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for id, t := range tr.tabs {
		t.Active = id == tabID
	}
}

// ActiveTab returns the active tab, or nil
func (tr *TabRegistry) ActiveTab() *Tab {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	for _, t := range tr.tabs {
		if t.Active {
			return t
		}
	}
	return nil
}

// MatchingURL returns every tab on the given logical video URL
func (tr *TabRegistry) MatchingURL(url string) []*Tab {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	var out []*Tab
	for _, t := range tr.tabs {
		if t.URL == url {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of registered tabs
func (tr *TabRegistry) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	return len(tr.tabs)
}
