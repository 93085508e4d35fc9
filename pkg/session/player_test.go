package session

import (
	"testing"
)

func TestTabRegistryActiveTab(t *testing.T) {
	reg := NewTabRegistry()

	reg.Insert(&Tab{ID: "a", URL: "https://videos.example/v/1", Active: true})
	reg.Insert(&Tab{ID: "b", URL: "https://videos.example/v/1"})

	active := reg.ActiveTab()
	if active == nil || active.ID != "a" {
		t.Fatalf("ActiveTab = %+v, want a", active)
	}

	reg.SetActive("b")
	active = reg.ActiveTab()
	if active == nil || active.ID != "b" {
		t.Errorf("ActiveTab = %+v, want b", active)
	}
	if reg.Lookup("a").Active {
		t.Error("Only one tab may be active")
	}
}

func TestTabRegistryInsertActiveDemotesOthers(t *testing.T) {
	reg := NewTabRegistry()

	reg.Insert(&Tab{ID: "a", Active: true})
	reg.Insert(&Tab{ID: "b", Active: true})

	if reg.Lookup("a").Active {
		t.Error("Inserting an active tab must demote the previous one")
	}
	if !reg.Lookup("b").Active {
		t.Error("Newly inserted active tab lost its flag")
	}
}

func TestTabRegistryMatchingURL(t *testing.T) {
	reg := NewTabRegistry()

	reg.Insert(&Tab{ID: "a", URL: "https://videos.example/v/1"})
	reg.Insert(&Tab{ID: "b", URL: "https://videos.example/v/1"})
	reg.Insert(&Tab{ID: "c", URL: "https://videos.example/v/2"})

	matches := reg.MatchingURL("https://videos.example/v/1")
	if len(matches) != 2 {
		t.Errorf("MatchingURL returned %d tabs, want 2", len(matches))
	}
}

func TestTabRegistryRemove(t *testing.T) {
	reg := NewTabRegistry()

	reg.Insert(&Tab{ID: "a", Active: true})
	reg.Remove("a")

	if reg.Len() != 0 {
		t.Errorf("Len = %d after Remove, want 0", reg.Len())
	}
	if reg.ActiveTab() != nil {
		t.Error("Removed tab still active")
	}
	if reg.Lookup("a") != nil {
		t.Error("Removed tab still resolvable")
	}
}
