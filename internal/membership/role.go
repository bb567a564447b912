// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package membership

// Role is a peer's responsibility for the current round.
type Role int

const (
	Primary Role = iota
	Secondary
	Tertiary
	Unassigned
)

func (r Role) String() string {
	switch r {
	case Primary:
		return "Primary"
	case Secondary:
		return "Secondary"
	case Tertiary:
		return "Tertiary"
	default:
		return "Unassigned"
	}
}

// Strength is the ownership-strength value the Authority Gate exposes to
// the downstream command publisher for a given role.
func (r Role) Strength() uint32 {
	switch r {
	case Primary:
		return 30
	case Secondary:
		return 20
	case Tertiary:
		return 10
	default:
		return 0
	}
}

// Health is a binary consistency/liveness flag recorded against a slot.
type Health int

const (
	Ok Health = iota
	Failed
)

func (h Health) String() string {
	if h == Ok {
		return "Ok"
	}
	return "Failed"
}
