// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"
)

// Mode selects how a ValidationResult should be treated once built.
type Mode int

const (
	// StrictMode treats both errors and warnings as fatal.
	StrictMode Mode = iota
	// SoftMode treats only errors as fatal; warnings are informational.
	SoftMode
)

// ValidationResult accumulates every problem found in a Config, kept
// separate as errors (always fatal) and warnings (fatal only under
// StrictMode).
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (r *ValidationResult) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// OK reports whether cfg passes validation under mode.
func (r *ValidationResult) OK(mode Mode) bool {
	if len(r.Errors) > 0 {
		return false
	}
	if mode == StrictMode && len(r.Warnings) > 0 {
		return false
	}
	return true
}

// Validate checks cfg against the bounds named in spec §4.2/§4.4 and
// returns every problem found. It never mutates cfg.
func Validate(cfg Config) *ValidationResult {
	r := &ValidationResult{}

	if cfg.TrackedSignal == "" {
		r.addError("tracked signal name must not be empty")
	}

	if cfg.ExpectedPeerCount < 1 || cfg.ExpectedPeerCount > 3 {
		r.addError("expected peer count %d out of range [1,3]", cfg.ExpectedPeerCount)
	}

	if cfg.HeartbeatPeriod <= 0 {
		r.addError("heartbeat period must be positive, got %s", cfg.HeartbeatPeriod)
	} else if cfg.HeartbeatPeriod > 500_000_000 { // 500ms, expressed in ns to avoid importing time here
		r.addWarning("heartbeat period %s is unusually long for a 1s liveness scan", cfg.HeartbeatPeriod)
	}

	if cfg.DeadlineMultiplier < 2.0 {
		r.addWarning("deadline multiplier %.1f leaves little margin before a peer is judged lost", cfg.DeadlineMultiplier)
	}

	if cfg.InitializeTimeoutTicks < 1 {
		r.addError("initialize timeout must be at least one tick, got %d", cfg.InitializeTimeoutTicks)
	}

	if cfg.TransportBasePort < 1 || cfg.TransportBasePort > 65535 {
		r.addError("transport base port %d out of range", cfg.TransportBasePort)
	}

	if cfg.NodeID == "" {
		r.addError("node id must not be empty")
	}

	if cfg.ServoEndpoint == "" {
		r.addWarning("servo endpoint unset: servo_control samples will be published with no configured sink")
	}

	return r
}
