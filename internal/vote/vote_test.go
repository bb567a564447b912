// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package vote

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/psmass/pixytracker/internal/membership"
	"github.com/psmass/pixytracker/internal/peerid"
)

func threePeerTable(t *testing.T) (*membership.Table, peerid.ID, peerid.ID, peerid.ID) {
	t.Helper()
	a, b, c := peerid.New(), peerid.New(), peerid.New()
	// New() always seats the owner at slot 0; use a as the owner here.
	tbl := membership.New(a)
	require.NoError(t, tbl.InsertPeer(b))
	require.NoError(t, tbl.InsertPeer(c))
	return tbl, a, b, c
}

func TestCastBallotFreshElectionAssignsAscendingRoles(t *testing.T) {
	tbl, _, _, _ := threePeerTable(t)

	b := CastBallot(tbl)

	require.Equal(t, int32(3), b.PeerCount)
	snap := tbl.Snapshot()
	lowest := snap[0].ID
	require.True(t, b.Primary.Equal(lowest))
	require.False(t, b.Secondary.IsNull())
	require.False(t, b.Tertiary.IsNull())

	ownRank, ok := tbl.FindRankByID(tbl.OwnID())
	require.True(t, ok)
	require.True(t, tbl.HasCastBallot(ownRank))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tbl, _, _, _ := threePeerTable(t)
	want := CastBallot(tbl)

	got, err := Decode(Encode(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestValidateRejectsUnknownSender(t *testing.T) {
	tbl, _, _, _ := threePeerTable(t)
	b := Ballot{SourceID: peerid.New(), PeerCount: 1}
	require.Equal(t, UnknownSender, Validate(tbl, b))
}

func TestValidateRejectsDuplicateBallot(t *testing.T) {
	tbl, a, b, c := threePeerTable(t)
	ballot := Ballot{SourceID: a, PeerCount: 3, Primary: a, Secondary: b, Tertiary: c}
	rank, ok := tbl.FindRankByID(a)
	require.True(t, ok)
	tbl.SetHasCastBallot(rank, true)

	require.Equal(t, DuplicateBallot, Validate(tbl, ballot))
}

func TestValidateRejectsPhantomPeer(t *testing.T) {
	tbl, a, b, _ := threePeerTable(t)
	ballot := Ballot{SourceID: a, PeerCount: 3, Primary: a, Secondary: b, Tertiary: peerid.New()}
	require.Equal(t, PhantomPeer, Validate(tbl, ballot))
}

func TestValidateRejectsSelfInconsistentBallot(t *testing.T) {
	tbl, a, b, _ := threePeerTable(t)
	ballot := Ballot{SourceID: a, PeerCount: 3, Primary: a, Secondary: a, Tertiary: b}
	require.Equal(t, SelfInconsistent, Validate(tbl, ballot))
}

func TestValidateRejectsIncompleteBallot(t *testing.T) {
	tbl, a, b, _ := threePeerTable(t)
	ballot := Ballot{SourceID: a, PeerCount: 3, Primary: a, Secondary: b, Tertiary: peerid.Null}
	require.Equal(t, IncompleteBallot, Validate(tbl, ballot))
}

func TestApplyNormalTallyAccumulatesVotes(t *testing.T) {
	tbl, a, b, c := threePeerTable(t)
	ballot := Ballot{SourceID: b, PeerCount: 3, Primary: a, Secondary: b, Tertiary: c}

	Apply(tbl, PhaseNormalTally, ballot)

	rankA, _ := tbl.FindRankByID(a)
	require.Equal(t, uint32(1), tbl.SlotByRank(rankA).VoteTally[0])
	require.Equal(t, 1, tbl.VotesIn())
}

func TestApplyDurableIncumbentAssignsLateJoinerRole(t *testing.T) {
	a, bID := peerid.New(), peerid.New()
	tbl := membership.New(bID) // bID is "this peer", booting alone at first
	require.NoError(t, tbl.InsertPeer(a))

	// a was already established as sole Primary when it cast this ballot.
	incumbent := Ballot{SourceID: a, PeerCount: 1, Primary: a}

	Apply(tbl, PhaseDurableIncumbent, incumbent)

	require.True(t, tbl.LateJoiner())
	ownRank, _ := tbl.FindRankByID(bID)
	require.Equal(t, membership.Secondary, tbl.SlotByRank(ownRank).Role)
}

func TestCastBallotLateJoinerEdgeCaseYieldsToTertiary(t *testing.T) {
	a, bID := peerid.New(), peerid.New()
	tbl := membership.New(bID)
	require.NoError(t, tbl.InsertPeer(a))
	Apply(tbl, PhaseDurableIncumbent, Ballot{SourceID: a, PeerCount: 1, Primary: a})
	require.True(t, tbl.LateJoiner())

	c := peerid.New()
	require.NoError(t, tbl.InsertPeer(c))

	ballot := CastBallot(tbl)
	ownRank, _ := tbl.FindRankByID(bID)
	require.Equal(t, membership.Tertiary, tbl.SlotByRank(ownRank).Role)
	require.True(t, ballot.Tertiary.Equal(bID))
}
