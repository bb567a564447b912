// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package vote

import (
	"errors"

	"github.com/psmass/pixytracker/internal/membership"
	"github.com/psmass/pixytracker/internal/peerid"
	"github.com/psmass/pixytracker/utils/set"
)

// RejectReason names why an inbound ballot was not applied.
type RejectReason int

const (
	Accepted RejectReason = iota
	UnknownSender
	DuplicateBallot
	SelfInconsistent
	PhantomPeer
	IncompleteBallot
)

func (r RejectReason) String() string {
	switch r {
	case Accepted:
		return "Accepted"
	case UnknownSender:
		return "UnknownSender"
	case DuplicateBallot:
		return "DuplicateBallot"
	case SelfInconsistent:
		return "SelfInconsistent"
	case PhantomPeer:
		return "PhantomPeer"
	case IncompleteBallot:
		return "IncompleteBallot"
	default:
		return "Unknown"
	}
}

// Sentinel errors mirroring RejectReason, for callers that prefer error
// comparison over the enum.
var (
	ErrUnknownSender    = errors.New("vote: ballot source is not a known peer")
	ErrDuplicateBallot  = errors.New("vote: peer has already cast a ballot this round")
	ErrSelfInconsistent = errors.New("vote: ballot names the same peer in two roles")
	ErrPhantomPeer      = errors.New("vote: ballot names a peer absent from the table")
	ErrIncompleteBallot = errors.New("vote: ballot leaves a declared role unassigned")
)

// Validate checks the five rejection conditions named in spec §4.3 and
// returns the matching RejectReason, or Accepted if none apply. It does
// not mutate table.
func Validate(table *membership.Table, b Ballot) RejectReason {
	sourceRank, ok := table.FindRankByID(b.SourceID)
	if !ok {
		return UnknownSender
	}
	if table.HasCastBallot(sourceRank) {
		return DuplicateBallot
	}

	n := int(b.PeerCount)
	if n > membership.Capacity {
		n = membership.Capacity
	}
	seen := set.NewSet[peerid.ID](n)
	for r := 0; r < n; r++ {
		id := b.roleField(membership.Role(r))
		if id.IsNull() {
			return IncompleteBallot
		}
		if _, ok := table.FindRankByID(id); !ok {
			return PhantomPeer
		}
		if seen.Contains(id) {
			return SelfInconsistent
		}
		seen.Add(id)
	}
	return Accepted
}

// AsError converts a RejectReason into the matching sentinel error, or nil
// for Accepted.
func (r RejectReason) AsError() error {
	switch r {
	case Accepted:
		return nil
	case UnknownSender:
		return ErrUnknownSender
	case DuplicateBallot:
		return ErrDuplicateBallot
	case SelfInconsistent:
		return ErrSelfInconsistent
	case PhantomPeer:
		return ErrPhantomPeer
	case IncompleteBallot:
		return ErrIncompleteBallot
	default:
		return nil
	}
}

// Phase selects how Apply treats an incoming, already-Validated ballot. The
// coordinator maps its own state machine onto these four phases so this
// package never needs to import the coordinator (spec §4.3's application
// table, transposed to avoid an import cycle).
type Phase int

const (
	// PhaseDurableIncumbent is Initialize/Prevote: ingest an incumbent's
	// last-known-good ballot as a standing belief, not a tally vote.
	PhaseDurableIncumbent Phase = iota
	// PhaseNormalTally is Vote/WaitVotesIn: ordinary per-round tallying.
	PhaseNormalTally
	// PhaseLateArrival is VoteResults/SteadyState: accept only a peer that
	// joined after the round closed.
	PhaseLateArrival
	// PhaseIgnore is Shutdown/Error: drop the ballot silently.
	PhaseIgnore
)

// Apply applies an already-Validated ballot to table under the given
// phase. Callers must call Validate first and skip Apply on any
// RejectReason other than Accepted.
func Apply(table *membership.Table, phase Phase, b Ballot) {
	switch phase {
	case PhaseDurableIncumbent:
		applyDurableIncumbent(table, b)
	case PhaseNormalTally:
		applyNormalTally(table, b)
	case PhaseLateArrival:
		applyLateArrival(table, b)
	case PhaseIgnore:
		// no-op
	}
}

// applyDurableIncumbent locks in every role the ballot names at the
// tally the ballot itself declares, then assigns this peer's own role to
// the next-free slot in that same declared count and marks it a late
// joiner. See the Open Question discussion in DESIGN.md: the declared
// peer_count comes from the ballot, not the live table, so two peers
// bootstrapping from the same single incumbent can independently land on
// the same role — resolved later by resolveLateJoinerEdgeCase in
// CastBallot.
func applyDurableIncumbent(table *membership.Table, b Ballot) {
	n := int(b.PeerCount)
	if n > membership.Capacity {
		n = membership.Capacity
	}
	for r := 0; r < n; r++ {
		role := membership.Role(r)
		id := b.roleField(role)
		if id.IsNull() {
			continue
		}
		rank, ok := table.FindRankByID(id)
		if !ok {
			continue
		}
		table.SetVoteTally(rank, r, uint32(b.PeerCount))
		table.SetRole(rank, role)
	}

	ownRank, ok := table.FindRankByID(table.OwnID())
	if !ok {
		return
	}
	ownRoleIdx := int(b.PeerCount)
	if ownRoleIdx < membership.Capacity {
		table.SetRole(ownRank, membership.Role(ownRoleIdx))
		table.SetVoteTally(ownRank, ownRoleIdx, uint32(b.PeerCount))
	}
	table.SetLateJoiner(true)
	table.IncrementVotesIn()
}

// applyNormalTally increments the matching slot's tally for each role
// field named in the ballot and marks the source as having voted.
func applyNormalTally(table *membership.Table, b Ballot) {
	sourceRank, ok := table.FindRankByID(b.SourceID)
	if ok {
		table.SetHasCastBallot(sourceRank, true)
	}

	n := int(b.PeerCount)
	if n > membership.Capacity {
		n = membership.Capacity
	}
	for r := 0; r < n; r++ {
		role := membership.Role(r)
		id := b.roleField(role)
		if id.IsNull() {
			continue
		}
		rank, ok := table.FindRankByID(id)
		if !ok {
			continue
		}
		table.IncrementVoteTally(rank, r)
	}
	table.IncrementVotesIn()
}

// applyLateArrival accepts a ballot from a peer that joined after the
// round already closed: only if the new-peer flag is set, it assigns the
// source the next-free role and clears the flag, leaving every existing
// tally untouched.
func applyLateArrival(table *membership.Table, b Ballot) {
	if !table.IsNewPeer() {
		return
	}
	sourceRank, ok := table.FindRankByID(b.SourceID)
	if !ok {
		return
	}
	peerCount := table.PeerCount()
	table.SetRole(sourceRank, membership.Role(peerCount-1))
	table.SetIsNewPeer(false)
}
