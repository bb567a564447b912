// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vote implements the Vote Subsystem (spec §4.3): ballot
// construction, wire encoding, validation, and state-dependent
// application against the Membership Table. The request-keyed,
// tagged-result shape is grounded on the teacher's poll package
// (poll.Set/Poll/Factory — a map of in-flight polls with a Finished()
// check), generalized from N-of-K threshold sampling on one value to this
// spec's fixed three-role simultaneous tally.
package vote

import (
	"github.com/psmass/pixytracker/internal/membership"
	"github.com/psmass/pixytracker/internal/peerid"
	"github.com/psmass/pixytracker/internal/wire"
)

// Ballot is the wire form of one peer's role proposal for the round.
type Ballot struct {
	SourceID  peerid.ID
	PeerCount int32
	Primary   peerid.ID
	Secondary peerid.ID
	Tertiary  peerid.ID
}

// roleField returns the ballot's id for the given role, or Null for
// Unassigned/out-of-range roles.
func (b Ballot) roleField(r membership.Role) peerid.ID {
	switch r {
	case membership.Primary:
		return b.Primary
	case membership.Secondary:
		return b.Secondary
	case membership.Tertiary:
		return b.Tertiary
	default:
		return peerid.Null
	}
}

func (b *Ballot) setRoleField(r membership.Role, id peerid.ID) {
	switch r {
	case membership.Primary:
		b.Primary = id
	case membership.Secondary:
		b.Secondary = id
	case membership.Tertiary:
		b.Tertiary = id
	}
}

// Encode packs a Ballot into its wire form:
// {source_id:16, peer_count:4, primary:16, secondary:16, tertiary:16}.
func Encode(b Ballot) []byte {
	p := wire.NewPacker(peerid.Size*4 + 4)
	p.PackBytes(b.SourceID.Bytes())
	p.PackInt(uint32(b.PeerCount))
	p.PackBytes(b.Primary.Bytes())
	p.PackBytes(b.Secondary.Bytes())
	p.PackBytes(b.Tertiary.Bytes())
	return p.Bytes
}

// Decode unpacks a Ballot from its wire form.
func Decode(raw []byte) (Ballot, error) {
	u := wire.NewUnpacker(raw)
	b := Ballot{
		SourceID: peerid.FromBytes(u.UnpackBytes(peerid.Size)),
	}
	b.PeerCount = int32(u.UnpackInt())
	b.Primary = peerid.FromBytes(u.UnpackBytes(peerid.Size))
	b.Secondary = peerid.FromBytes(u.UnpackBytes(peerid.Size))
	b.Tertiary = peerid.FromBytes(u.UnpackBytes(peerid.Size))
	if u.Err != nil {
		return Ballot{}, u.Err
	}
	return b, nil
}

// CastBallot builds this round's outbound ballot, self-applies it to
// table, and returns it for publication. See spec §4.3.
func CastBallot(table *membership.Table) Ballot {
	peerCount := table.PeerCount()
	ballot := Ballot{
		SourceID:  table.OwnID(),
		PeerCount: int32(peerCount),
		Primary:   peerid.Null,
		Secondary: peerid.Null,
		Tertiary:  peerid.Null,
	}

	if !table.LateJoiner() {
		// Fresh election: assign Role(rank) to each occupied slot at rank,
		// Primary to the lowest id.
		for rank := 0; rank < peerCount; rank++ {
			role := membership.Role(rank)
			id := table.IDAt(rank)
			table.SetRole(rank, role)
			ballot.setRoleField(role, id)
			table.IncrementVoteTally(rank, rank)
		}
	} else {
		resolveLateJoinerEdgeCase(table, peerCount)

		for rank := 0; rank < peerCount; rank++ {
			role := table.SlotByRank(rank).Role
			if role == membership.Unassigned {
				continue
			}
			ballot.setRoleField(role, table.IDAt(rank))
		}
		// Late joiners never double-tally the self-vote: durable ingest
		// already locked every role's tally at peer_count (see Apply).
		//
		// The flag is a one-shot bootstrap signal, consumed here: once this
		// ballot echoes the incumbent's role assignment, any later Vote
		// round this peer participates in (a revote triggered by a further
		// peer loss) must be a fresh id-rank election like every other
		// peer's, not a replay of durable-incumbent inheritance against
		// tallies AssessVoteResults has since zeroed.
		table.SetLateJoiner(false)
	}

	ownRank, _ := table.FindRankByID(table.OwnID())
	table.SetHasCastBallot(ownRank, true)
	table.IncrementVotesIn()

	return ballot
}

// resolveLateJoinerEdgeCase handles the staggered-boot collision named in
// spec §4.3: if the table now sees all three peers and durable ingest had
// assigned this peer's own role to Secondary, a second peer independently
// reached the same conclusion first; this peer yields to Tertiary.
func resolveLateJoinerEdgeCase(table *membership.Table, peerCount int) {
	if peerCount != 3 {
		return
	}
	ownRank, ok := table.FindRankByID(table.OwnID())
	if !ok {
		return
	}
	if table.SlotByRank(ownRank).Role == membership.Secondary {
		table.SetRole(ownRank, membership.Tertiary)
		table.SetVoteTally(ownRank, int(membership.Secondary), 0)
	}
}
