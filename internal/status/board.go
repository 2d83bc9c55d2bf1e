// Package status exposes the operator endpoints /healthz, /status and
// /journal. Handlers only read an immutable snapshot published by the
// scheduler, never engine state.
package status

import "sync/atomic"

// Snapshot is the published bridge state.
type Snapshot struct {
	Environment  string   `json:"environment"`
	State        string   `json:"state"`
	Transport    string   `json:"transport"`
	Address      string   `json:"address"`
	Attempts     int      `json:"attempts"`
	LastActivity string   `json:"lastActivity,omitempty"`
	LastPing     string   `json:"lastPing,omitempty"`
	Commands     uint64   `json:"commands"`
	LastCommand  string   `json:"lastCommand,omitempty"`
	Indicators   int      `json:"indicators"`
	Positions    int      `json:"positions"`
	Orders       int      `json:"orders"`
	Symbols      []string `json:"symbols,omitempty"`
	Healthy      bool     `json:"healthy"`
	UpdatedAt    string   `json:"updatedAt"`
}

// Board holds the latest snapshot.
type Board struct {
	current atomic.Pointer[Snapshot]
}

// NewBoard returns a board reporting a healthy, not yet started bridge.
func NewBoard() *Board {
	b := &Board{}
	b.current.Store(&Snapshot{State: "uninitialized", Healthy: true})
	return b
}

// Publish replaces the snapshot.
func (b *Board) Publish(s Snapshot) {
	b.current.Store(&s)
}

// Load returns the latest snapshot.
func (b *Board) Load() Snapshot {
	return *b.current.Load()
}
