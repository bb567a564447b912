// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package membership holds the Identity & Membership Table: the one piece
// of mutable state shared by every logical thread in a peer (heartbeat
// reader, vote reader, coordinator). All mutation happens under a single
// lock, grounded on the teacher's lock-guarded manager shape
// (networking/benchlist.manager, validators.manager) generalized from a
// map keyed by node id to a fixed 3-element sorted array, as the spec's
// sort/ordinal contract requires.
package membership

import (
	"errors"
	"sync"

	"github.com/psmass/pixytracker/internal/peerid"
)

// Capacity is the fixed ensemble size this core supports.
const Capacity = 3

// Errors returned by InsertPeer.
var (
	ErrFull      = errors.New("membership: table is full")
	ErrDuplicate = errors.New("membership: peer already known")
)

// PeerSlot is an immutable snapshot of one membership record, safe to read
// without holding the table's lock.
type PeerSlot struct {
	ID                     peerid.ID
	HeartbeatCredits       uint32
	HBHealth               Health
	VoteConsistency        Health
	Role                   Role
	VoteTally              [3]uint32
	HasCastBallotThisRound bool
}

// Occupied reports whether the slot holds a live peer.
func (s PeerSlot) Occupied() bool {
	return !s.ID.IsNull()
}

// Table is the Identity & Membership Table of a single peer.
//
// Invariants (checked by tests, maintained by every exported method):
//  1. sorted is a permutation of indices into slots with ids ascending;
//     Null entries sort strictly after all non-null entries.
//  2. peerCount equals the number of non-null entries in sorted.
//  3. ownOrdinal satisfies slots[sorted[ownOrdinal-1]].id == own id.
//  4. at most one slot per role among non-null slots after
//     AssessVoteResults.
//  5. each slot's VoteTally[r] is 0 or peerCount after a unanimous round.
//  6. slots[0].ID == own id at all times after construction.
type Table struct {
	mu sync.Mutex

	slots  [Capacity]PeerSlot
	sorted [Capacity]int // permutation of indices into slots
	own    int           // always 0; kept named for readability at call sites

	ownOrdinal int // 1..Capacity
	peerCount  int

	votesIn     int
	isNewPeer   bool
	lateJoiner  bool
}

// New creates a table for a peer whose own id is ownID. Slots 1 and 2
// start empty (NullId).
func New(ownID peerid.ID) *Table {
	t := &Table{
		own:        0,
		ownOrdinal: 1,
		peerCount:  1,
	}
	t.slots[0] = PeerSlot{ID: ownID, Role: Unassigned, HBHealth: Ok, VoteConsistency: Ok}
	t.slots[1] = PeerSlot{ID: peerid.Null, Role: Unassigned}
	t.slots[2] = PeerSlot{ID: peerid.Null, Role: Unassigned}
	t.sorted = [Capacity]int{0, 1, 2}
	return t
}

// OwnID returns this peer's own identifier.
func (t *Table) OwnID() peerid.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[0].ID
}

// OwnOrdinal returns this peer's 1-based rank within the sorted table.
func (t *Table) OwnOrdinal() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ownOrdinal
}

// PeerCount returns the number of occupied slots, 1..Capacity.
func (t *Table) PeerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peerCount
}

// SlotByRank returns a snapshot of the slot at the given 0-based rank
// within the sorted table.
func (t *Table) SlotByRank(rank int) PeerSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[t.sorted[rank]]
}

// OwnSlot returns a snapshot of this peer's own record.
func (t *Table) OwnSlot() PeerSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[0]
}

// Snapshot returns a copy of every slot in sorted order, for logging,
// metrics, and tests.
func (t *Table) Snapshot() [Capacity]PeerSlot {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out [Capacity]PeerSlot
	for i, idx := range t.sorted {
		out[i] = t.slots[idx]
	}
	return out
}

// InsertPeer places id into the first empty slot, resets its bookkeeping,
// and re-sorts. Returns ErrFull once Capacity is reached and ErrDuplicate
// if id is already known.
func (t *Table) InsertPeer(id peerid.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < Capacity; i++ {
		if t.slots[i].Occupied() && t.slots[i].ID.Equal(id) {
			return ErrDuplicate
		}
	}

	for i := 1; i < Capacity; i++ {
		if !t.slots[i].Occupied() {
			t.slots[i] = PeerSlot{
				ID:               id,
				HeartbeatCredits: 1,
				HBHealth:         Ok,
				VoteConsistency:  Ok,
				Role:             Unassigned,
			}
			t.peerCount++
			t.resort()
			return nil
		}
	}
	return ErrFull
}

// DropPeer clears the slot at the given sorted rank, demotes its role to
// Unassigned, and promotes every remaining peer whose role was
// numerically greater than the dropped peer's (Secondary->Primary,
// Tertiary->Secondary).
func (t *Table) DropPeer(rank int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.sorted[rank]
	if !t.slots[idx].Occupied() {
		return
	}
	droppedRole := t.slots[idx].Role

	t.slots[idx] = PeerSlot{ID: peerid.Null, Role: Unassigned, HBHealth: Failed, VoteConsistency: Failed}
	t.peerCount--

	for i := range t.slots {
		if i == idx || !t.slots[i].Occupied() {
			continue
		}
		if t.slots[i].Role > droppedRole && t.slots[i].Role != Unassigned {
			t.slots[i].Role--
		}
	}

	t.resort()
}

// Resort restores the sorted-by-id permutation after an insert or drop.
// Calling it twice in a row is a no-op.
func (t *Table) Resort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resort()
}

// resort performs a stable bubble pass over sorted, swapping indices (not
// slots) and tracking ownOrdinal through each swap that touches the own
// index (0). This only guarantees a correct full sort for the fixed
// Capacity==3 case — see the Open Question in SPEC_FULL.md §9.
func (t *Table) resort() {
	for {
		swapped := false
		for i := 0; i < Capacity-1; i++ {
			a, b := t.sorted[i], t.sorted[i+1]
			if t.slots[b].ID.Less(t.slots[a].ID) {
				t.sorted[i], t.sorted[i+1] = b, a
				switch t.own {
				case a:
					t.ownOrdinal++
				case b:
					t.ownOrdinal--
				}
				swapped = true
			}
		}
		if !swapped {
			break
		}
	}
}

// ValidateOwnOrdinal recomputes the own index's position in sorted and
// reports whether it matches ownOrdinal.
func (t *Table) ValidateOwnOrdinal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, idx := range t.sorted {
		if idx == t.own {
			return t.ownOrdinal == i+1
		}
	}
	return false
}

// ClearBallotState zeros every vote tally and cast-ballot flag.
func (t *Table) ClearBallotState() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearBallotState()
}

func (t *Table) clearBallotState() {
	for i := range t.slots {
		t.slots[i].VoteTally = [3]uint32{}
		t.slots[i].HasCastBallotThisRound = false
	}
}

// AssessVoteResults assigns each occupied slot the role with the highest
// tally, flags non-unanimous winners as VoteConsistency==Failed, and
// clears ballot state for the next round.
func (t *Table) AssessVoteResults() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if !t.slots[i].Occupied() {
			continue
		}
		best, bestCount := 0, t.slots[i].VoteTally[0]
		for r := 1; r < 3; r++ {
			if t.slots[i].VoteTally[r] > bestCount {
				best, bestCount = r, t.slots[i].VoteTally[r]
			}
		}
		t.slots[i].Role = Role(best)
		if int(bestCount) < t.peerCount {
			t.slots[i].VoteConsistency = Failed
		} else {
			t.slots[i].VoteConsistency = Ok
		}
	}
	t.clearBallotState()
}

// OwnStrength returns the ownership strength mapped from this peer's
// current role: 30/20/10/0 for Primary/Secondary/Tertiary/Unassigned.
func (t *Table) OwnStrength() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[0].Role.Strength()
}

// IncrementHeartbeatCredits increments the credit counter of the slot
// matching id, reporting whether a match was found.
func (t *Table) IncrementHeartbeatCredits(id peerid.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].Occupied() && t.slots[i].ID.Equal(id) {
			t.slots[i].HeartbeatCredits++
			return true
		}
	}
	return false
}

// ZeroHeartbeatCredits clears every slot's credit counter; called once at
// the end of each 1s liveness scan regardless of outcome.
func (t *Table) ZeroHeartbeatCredits() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		t.slots[i].HeartbeatCredits = 0
	}
}

// LostPeerRanks returns the sorted-table ranks (excluding this peer's own
// ordinal) of every occupied slot whose heartbeat credit counter is zero.
func (t *Table) LostPeerRanks() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ranks []int
	for rank := 0; rank < t.peerCount; rank++ {
		if rank == t.ownOrdinal-1 {
			continue
		}
		idx := t.sorted[rank]
		if t.slots[idx].Occupied() && t.slots[idx].HeartbeatCredits == 0 {
			ranks = append(ranks, rank)
		}
	}
	return ranks
}

// FindRankByID returns the sorted-table rank of the occupied slot holding
// id, if any.
func (t *Table) FindRankByID(id peerid.ID) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for rank, idx := range t.sorted {
		if t.slots[idx].Occupied() && t.slots[idx].ID.Equal(id) {
			return rank, true
		}
	}
	return 0, false
}

// IDAt returns the peer id at the given sorted rank.
func (t *Table) IDAt(rank int) peerid.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[t.sorted[rank]].ID
}

// SetRole assigns role to the slot at the given sorted rank.
func (t *Table) SetRole(rank int, role Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[t.sorted[rank]].Role = role
}

// IncrementVoteTally increments the tally for roleIdx at the given rank.
func (t *Table) IncrementVoteTally(rank int, roleIdx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[t.sorted[rank]].VoteTally[roleIdx]++
}

// SetVoteTally overwrites the tally for roleIdx at the given rank (used
// by durable-incumbent ingest, which locks in a tally rather than
// incrementing it).
func (t *Table) SetVoteTally(rank int, roleIdx int, value uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[t.sorted[rank]].VoteTally[roleIdx] = value
}

// SetHasCastBallot marks whether the slot at rank has contributed a
// ballot this round.
func (t *Table) SetHasCastBallot(rank int, v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[t.sorted[rank]].HasCastBallotThisRound = v
}

// HasCastBallot reports whether the slot at rank has already contributed
// a ballot this round.
func (t *Table) HasCastBallot(rank int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[t.sorted[rank]].HasCastBallotThisRound
}

// SetVoteConsistency records whether the slot at rank produced a
// consistent ballot.
func (t *Table) SetVoteConsistency(rank int, h Health) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[t.sorted[rank]].VoteConsistency = h
}

// VotesIn returns how many ballots have been collected this round.
func (t *Table) VotesIn() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.votesIn
}

// IncrementVotesIn records that one more ballot has been collected.
func (t *Table) IncrementVotesIn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.votesIn++
}

// ResetVotesIn zeros the collected-ballot counter for a new round.
func (t *Table) ResetVotesIn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.votesIn = 0
}

// IsNewPeer reports whether a peer joined since the last ballot round
// began, a flag consumed by late-arrival ballot handling in SteadyState.
func (t *Table) IsNewPeer() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isNewPeer
}

// SetIsNewPeer sets or clears the new-peer flag.
func (t *Table) SetIsNewPeer(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isNewPeer = v
}

// LateJoiner reports whether this peer classified itself as a late
// joiner during Initialize/Prevote.
func (t *Table) LateJoiner() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lateJoiner
}

// SetLateJoiner sets or clears the late-joiner flag.
func (t *Table) SetLateJoiner(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lateJoiner = v
}
