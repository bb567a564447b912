// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config holds the tracker's runtime configuration and a
// validator for it, generalized from the teacher's consensus sampling
// parameters (K/Alpha/Beta) onto this tracker's timing and endpoint
// parameters.
package config

import (
	"time"

	"github.com/psmass/pixytracker/internal/heartbeat"
	"github.com/psmass/pixytracker/internal/membership"
)

// Config holds every tunable the tracker's goroutines need at startup.
type Config struct {
	// TrackedSignal names the object this peer's gimbal tracks. Validate
	// requires it to be non-empty; nothing else in the tracker reads it.
	TrackedSignal string

	// ExpectedPeerCount is how many peers Initialize waits for before
	// settling early.
	ExpectedPeerCount int

	// HeartbeatPeriod is how often this peer publishes its own liveness
	// sample.
	HeartbeatPeriod time.Duration

	// DeadlineMultiplier scales HeartbeatPeriod into the window a peer is
	// allowed to stay silent before the 1s liveness scan judges it lost.
	// The scan itself runs on coordinator.TickPeriod regardless of this
	// value; DeadlineMultiplier only documents the intended ratio between
	// the two for operators tuning HeartbeatPeriod.
	DeadlineMultiplier float64

	// InitializeTimeoutTicks is a tick count (of coordinator.TickPeriod)
	// that Validate requires to be at least 1. It is not passed to the
	// coordinator: Initialize always settles after the coordinator's own
	// fixed ten-tick countdown, whatever this field holds.
	InitializeTimeoutTicks int

	// ServoEndpoint names the servo control sink. Validate warns when it
	// is empty; the transport does not use it, and servo_control samples
	// are broadcast like every other topic.
	ServoEndpoint string

	// TransportBasePort is the base port this peer's transport listens
	// from.
	TransportBasePort int

	// NodeID names this peer on the transport layer, distinct from its
	// internal PeerId.
	NodeID string
}

// Default returns a Config with every field at the value named in spec
// §4.2/§4.4.
func Default() Config {
	return Config{
		TrackedSignal:          "target",
		ExpectedPeerCount:      membership.Capacity,
		HeartbeatPeriod:        heartbeat.DefaultPeriod,
		DeadlineMultiplier:     4.0,
		InitializeTimeoutTicks: 10,
		ServoEndpoint:          "",
		TransportBasePort:      5000,
		NodeID:                 "",
	}
}
