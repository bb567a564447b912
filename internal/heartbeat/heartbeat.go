// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package heartbeat implements the publisher and subscriber halves of the
// heartbeat subsystem (spec §4.2). The per-peer liveness credit counter is
// adapted from the teacher's failure-count/benching shape
// (networking/benchlist.manager: RegisterFailure/RegisterResponse against
// a mutex-guarded map) into a credit-increment/zero-on-scan model — the
// Membership Table owns the counters and the mutex, this package only
// drives them.
package heartbeat

import (
	"context"
	"time"

	"github.com/psmass/pixytracker/internal/corelog"
	"github.com/psmass/pixytracker/internal/membership"
	"github.com/psmass/pixytracker/internal/peerid"
)

// DefaultPeriod is the heartbeat publication interval spec §4.2 names.
const DefaultPeriod = 250 * time.Millisecond

// Sender publishes one heartbeat sample at a time onto the transport.
type Sender interface {
	PublishHeartbeat(id peerid.ID) error
}

// Publisher emits one heartbeat per period carrying this peer's own id.
type Publisher struct {
	sender Sender
	ownID  peerid.ID
	period time.Duration
	log    corelog.Logger
}

// NewPublisher constructs a heartbeat Publisher.
func NewPublisher(sender Sender, ownID peerid.ID, period time.Duration, log corelog.Logger) *Publisher {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Publisher{sender: sender, ownID: ownID, period: period, log: log}
}

// Run blocks, publishing a heartbeat every period until ctx is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.sender.PublishHeartbeat(p.ownID); err != nil {
				p.log.Warn("heartbeat publish failed", "err", err)
			}
		}
	}
}

// NewPeerObserver is notified whenever the subscriber admits a
// previously-unknown peer into the table, so the coordinator can reset its
// Initialize settling counter (spec §4.4).
type NewPeerObserver interface {
	OnNewPeer(id peerid.ID)
}

// Subscriber consumes inbound heartbeat samples and updates the
// Membership Table.
type Subscriber struct {
	table    *membership.Table
	observer NewPeerObserver
	log      corelog.Logger
}

// NewSubscriber constructs a heartbeat Subscriber bound to table.
func NewSubscriber(table *membership.Table, observer NewPeerObserver, log corelog.Logger) *Subscriber {
	return &Subscriber{table: table, observer: observer, log: log}
}

// HandleSample processes one received heartbeat payload (a 16-byte peer
// id). It never removes peers — liveness judgement is the coordinator's
// prerogative (spec §4.2, §4.4).
func (s *Subscriber) HandleSample(id peerid.ID) {
	if s.table.IncrementHeartbeatCredits(id) {
		return
	}

	if s.table.PeerCount() >= membership.Capacity {
		s.log.Debug("heartbeat from unknown peer discarded: table full", "peer", id)
		return
	}

	if err := s.table.InsertPeer(id); err != nil {
		s.log.Warn("heartbeat insert_peer failed", "peer", id, "err", err)
		return
	}

	s.table.SetIsNewPeer(true)
	s.log.Info("admitted new peer", "peer", id)
	if s.observer != nil {
		s.observer.OnNewPeer(id)
	}
}
