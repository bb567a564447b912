// Copyright (C) 2020-2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport implements the keyed pub/sub, durable-history, and
// gate-checked servo output external interfaces named in spec §6, on
// top of github.com/luxfi/zmq/v4's networking transport. Grounded
// directly on the teacher's networking/zmq4.Transport wrapper
// (NewTransport/Broadcast/Send/RegisterHandler over
// networking.Transport), generalized from one consensus message type to
// the tracker's four named topics.
package transport

import (
	"context"
	"sync"

	"github.com/luxfi/zmq/v4/networking"

	"github.com/psmass/pixytracker/internal/authority"
	"github.com/psmass/pixytracker/internal/peerid"
	"github.com/psmass/pixytracker/internal/vote"
)

// Topic names the four external streams named in spec §6.
type Topic string

const (
	TopicHeartbeat    Topic = "tracker/heartbeat"
	TopicVote         Topic = "tracker/vote"
	TopicServoControl Topic = "tracker/servo_control"
	TopicObservation  Topic = "tracker/observation"
)

// Transport wraps the shared networking transport with the tracker's
// topic contract: heartbeats are volatile, ballots are durable
// (last-sample cached per sender), and servo control is sent only while
// the publisher's Authority Gate is enabled.
type Transport struct {
	*networking.Transport
	nodeID string

	mu          sync.Mutex
	lastBallots map[peerid.ID]vote.Ballot
}

// New creates a Transport bound to nodeID, listening from basePort.
func New(ctx context.Context, nodeID string, basePort int) *Transport {
	config := networking.DefaultConfig(nodeID, basePort)
	return &Transport{
		Transport:   networking.New(ctx, config),
		nodeID:      nodeID,
		lastBallots: make(map[peerid.ID]vote.Ballot),
	}
}

// PublishHeartbeat broadcasts one heartbeat sample carrying id. Implements
// heartbeat.Sender.
func (t *Transport) PublishHeartbeat(id peerid.ID) error {
	return t.Transport.Broadcast(&networking.Message{
		Type: string(TopicHeartbeat),
		From: t.nodeID,
		Data: id.Bytes(),
	})
}

// PublishBallot broadcasts b on the durable vote topic and records it as
// the last-known-good sample for its sender, so a peer that subscribes
// later can be caught up via ReplayDurable. Implements
// coordinator.VotePublisher.
func (t *Transport) PublishBallot(b vote.Ballot) error {
	t.mu.Lock()
	t.lastBallots[b.SourceID] = b
	t.mu.Unlock()

	return t.Transport.Broadcast(&networking.Message{
		Type: string(TopicVote),
		From: t.nodeID,
		Data: vote.Encode(b),
	})
}

// ReplayDurable delivers every cached last-known ballot to handle, mimicking
// a durable-transient-local subscription catching up a freshly joined
// reader — the functional equivalent of the transport's durable history
// buffer, implemented here because the underlying pub/sub has none.
func (t *Transport) ReplayDurable(handle func(vote.Ballot)) {
	t.mu.Lock()
	ballots := make([]vote.Ballot, 0, len(t.lastBallots))
	for _, b := range t.lastBallots {
		ballots = append(ballots, b)
	}
	t.mu.Unlock()

	for _, b := range ballots {
		handle(b)
	}
}

// PublishServoControl broadcasts payload on the servo control topic only
// if gate reports this peer currently enabled. It does not consult the
// gate's strength and there is no ownership-strength arbitration between
// peers: every peer whose gate is enabled publishes its samples.
func (t *Transport) PublishServoControl(gate *authority.Gate, payload []byte) error {
	if !gate.Enabled() {
		return nil
	}
	return t.Transport.Broadcast(&networking.Message{
		Type: string(TopicServoControl),
		From: t.nodeID,
		Data: payload,
	})
}

// PublishObservation broadcasts a pass-through observation sample.
func (t *Transport) PublishObservation(payload []byte) error {
	return t.Transport.Broadcast(&networking.Message{
		Type: string(TopicObservation),
		From: t.nodeID,
		Data: payload,
	})
}

// RegisterHeartbeatHandler wires fn to receive every inbound heartbeat
// sample's peer id.
func (t *Transport) RegisterHeartbeatHandler(fn func(peerid.ID)) {
	t.Transport.RegisterHandler(string(TopicHeartbeat), func(msg *networking.Message) error {
		fn(peerid.FromBytes(msg.Data))
		return nil
	})
}

// RegisterBallotHandler wires fn to receive every inbound ballot,
// decoded, and also caches it as the sender's last-known-good sample.
func (t *Transport) RegisterBallotHandler(fn func(vote.Ballot)) {
	t.Transport.RegisterHandler(string(TopicVote), func(msg *networking.Message) error {
		b, err := vote.Decode(msg.Data)
		if err != nil {
			return err
		}
		t.mu.Lock()
		t.lastBallots[b.SourceID] = b
		t.mu.Unlock()
		fn(b)
		return nil
	})
}

// RegisterObservationHandler wires fn to receive every inbound
// observation payload verbatim.
func (t *Transport) RegisterObservationHandler(fn func([]byte)) {
	t.Transport.RegisterHandler(string(TopicObservation), func(msg *networking.Message) error {
		fn(msg.Data)
		return nil
	})
}
