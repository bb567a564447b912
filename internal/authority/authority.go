// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package authority implements the Authority Gate (spec §4.5): the single
// point where the coordinator's belief about its own role strength
// becomes visible to the downstream command publisher. Grounded on
// uptime.Manager's IsConnected-style boolean gate and on
// networking/benchlist.manager's lock-guarded single-writer/many-reader
// shape — readers (the servo publisher, on every output sample) must
// acquire the same lock as the writer (the coordinator, once per round).
package authority

import "sync"

// Gate exposes whether this peer is currently authoritative and at what
// ownership strength, for the downstream command publisher to consult
// before emitting a servo sample.
type Gate struct {
	mu       sync.Mutex
	enabled  bool
	strength uint32
}

// New returns a Gate that starts disabled at strength 0.
func New() *Gate {
	return &Gate{}
}

// Enable marks this peer eligible to publish authoritative output.
func (g *Gate) Enable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = true
}

// Disable marks this peer ineligible to publish authoritative output.
func (g *Gate) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = false
}

// SetStrength records the current ownership strength (spec §4.1's
// own_strength(): 30/20/10/0).
func (g *Gate) SetStrength(strength uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.strength = strength
}

// CurrentStrength returns the last strength recorded by the coordinator.
func (g *Gate) CurrentStrength() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.strength
}

// Enabled reports whether this peer is currently eligible to publish.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}
