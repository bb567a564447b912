// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package status models the GPIO/LED role indicator named in the
// original source's led.hpp: a small sink the coordinator reports role
// transitions to, with a no-op default and a console-line
// implementation so a run without real GPIO hardware still shows what
// the state machine decided.
package status

import (
	"fmt"
	"io"

	"github.com/psmass/pixytracker/internal/membership"
)

// Display is notified with the coordinator's own role and strength at the
// end of every voting round, whether or not they changed.
type Display interface {
	Show(role membership.Role, strength uint32)
}

// NoOp discards every update; the default for environments with no
// physical indicator attached.
type NoOp struct{}

// Show implements Display.
func (NoOp) Show(membership.Role, uint32) {}

// Console writes one line per update to w, standing in for an LED/GPIO
// driver in environments without the real hardware.
type Console struct {
	W io.Writer
}

// Show implements Display.
func (c Console) Show(role membership.Role, strength uint32) {
	fmt.Fprintf(c.W, "role=%s strength=%d\n", role, strength)
}
