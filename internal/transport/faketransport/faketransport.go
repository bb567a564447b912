// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package faketransport is an in-memory stand-in for internal/transport,
// used only in tests. Its shape — a fake implementation of the real
// transport's interface, wired directly to peers under test rather than
// a socket — follows the teacher's dropped networking/sender/sendertest
// idiom (see DESIGN.md).
package faketransport

import (
	"sync"

	"github.com/psmass/pixytracker/internal/peerid"
	"github.com/psmass/pixytracker/internal/vote"
)

// Bus is a shared in-memory broadcast medium connecting a set of Links.
// Delivery is synchronous: PublishHeartbeat and PublishBallot call every
// other registered Link's handler inline, on the caller's goroutine.
type Bus struct {
	mu    sync.Mutex
	links []*Link
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// NewLink creates a Link attached to the bus for the given peer id.
func (bus *Bus) NewLink(id peerid.ID) *Link {
	l := &Link{bus: bus, id: id}
	bus.mu.Lock()
	bus.links = append(bus.links, l)
	bus.mu.Unlock()
	return l
}

// Link is one peer's view of the bus: it implements heartbeat.Sender and
// coordinator.VotePublisher, and lets a test register handlers for
// inbound heartbeats and ballots.
type Link struct {
	bus *Bus
	id  peerid.ID

	mu              sync.Mutex
	heartbeatHandler func(peerid.ID)
	ballotHandler    func(vote.Ballot)

	lastBallots map[peerid.ID]vote.Ballot
}

// RegisterHeartbeatHandler wires fn to receive every heartbeat broadcast
// by any other Link on the bus.
func (l *Link) RegisterHeartbeatHandler(fn func(peerid.ID)) {
	l.mu.Lock()
	l.heartbeatHandler = fn
	l.mu.Unlock()
}

// RegisterBallotHandler wires fn to receive every ballot broadcast by any
// other Link on the bus.
func (l *Link) RegisterBallotHandler(fn func(vote.Ballot)) {
	l.mu.Lock()
	l.ballotHandler = fn
	l.mu.Unlock()
}

// PublishHeartbeat implements heartbeat.Sender.
func (l *Link) PublishHeartbeat(id peerid.ID) error {
	l.bus.mu.Lock()
	targets := append([]*Link(nil), l.bus.links...)
	l.bus.mu.Unlock()

	for _, other := range targets {
		if other == l {
			continue
		}
		other.mu.Lock()
		h := other.heartbeatHandler
		other.mu.Unlock()
		if h != nil {
			h(id)
		}
	}
	return nil
}

// PublishBallot implements coordinator.VotePublisher.
func (l *Link) PublishBallot(b vote.Ballot) error {
	l.bus.mu.Lock()
	targets := append([]*Link(nil), l.bus.links...)
	l.bus.mu.Unlock()

	for _, other := range targets {
		if other == l {
			continue
		}
		other.mu.Lock()
		if other.lastBallots == nil {
			other.lastBallots = make(map[peerid.ID]vote.Ballot)
		}
		other.lastBallots[b.SourceID] = b
		h := other.ballotHandler
		other.mu.Unlock()
		if h != nil {
			h(b)
		}
	}
	return nil
}

// ReplayDurable delivers every ballot this Link has observed to handle,
// mirroring internal/transport.Transport.ReplayDurable.
func (l *Link) ReplayDurable(handle func(vote.Ballot)) {
	l.mu.Lock()
	ballots := make([]vote.Ballot, 0, len(l.lastBallots))
	for _, b := range l.lastBallots {
		ballots = append(ballots, b)
	}
	l.mu.Unlock()

	for _, b := range ballots {
		handle(b)
	}
}
