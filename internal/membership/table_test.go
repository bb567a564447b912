// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package membership

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/psmass/pixytracker/internal/peerid"
)

func idWithByte(b byte) peerid.ID {
	var raw [peerid.Size]byte
	for i := range raw {
		raw[i] = b
	}
	return peerid.FromBytes(raw[:])
}

func TestNewTableStartsWithOwnOrdinalOne(t *testing.T) {
	own := idWithByte(0x02)
	table := New(own)
	require.Equal(t, own, table.OwnID())
	require.Equal(t, 1, table.OwnOrdinal())
	require.Equal(t, 1, table.PeerCount())
	require.True(t, table.ValidateOwnOrdinal())
}

func TestInsertPeerSortsAndTracksOwnOrdinal(t *testing.T) {
	own := idWithByte(0x02)
	table := New(own)

	// lower id inserted: own should now sort second.
	require.NoError(t, table.InsertPeer(idWithByte(0x01)))
	require.Equal(t, 2, table.OwnOrdinal())
	require.True(t, table.ValidateOwnOrdinal())

	// higher id inserted: own ordinal unaffected.
	require.NoError(t, table.InsertPeer(idWithByte(0x03)))
	require.Equal(t, 2, table.OwnOrdinal())
	require.Equal(t, 3, table.PeerCount())
	require.True(t, table.ValidateOwnOrdinal())

	require.Equal(t, idWithByte(0x01), table.IDAt(0))
	require.Equal(t, own, table.IDAt(1))
	require.Equal(t, idWithByte(0x03), table.IDAt(2))
}

func TestInsertPeerRejectsDuplicateAndFull(t *testing.T) {
	own := idWithByte(0x02)
	table := New(own)
	require.ErrorIs(t, table.InsertPeer(own), ErrDuplicate)

	require.NoError(t, table.InsertPeer(idWithByte(0x01)))
	require.NoError(t, table.InsertPeer(idWithByte(0x03)))
	require.ErrorIs(t, table.InsertPeer(idWithByte(0x04)), ErrFull)
}

func TestDropPeerPromotesSurvivingRoles(t *testing.T) {
	own := idWithByte(0x02)
	table := New(own)
	require.NoError(t, table.InsertPeer(idWithByte(0x01)))
	require.NoError(t, table.InsertPeer(idWithByte(0x03)))

	table.SetRole(0, Primary)
	table.SetRole(1, Secondary)
	table.SetRole(2, Tertiary)

	table.DropPeer(0) // drop the Primary (id 0x01)

	require.Equal(t, 2, table.PeerCount())
	ownRank, ok := table.FindRankByID(own)
	require.True(t, ok)
	require.Equal(t, Primary, table.SlotByRank(ownRank).Role)
}

func TestFindRankByIDMissingReturnsFalse(t *testing.T) {
	table := New(idWithByte(0x02))
	_, ok := table.FindRankByID(idWithByte(0x09))
	require.False(t, ok)
}

func TestHeartbeatCreditsIncrementAndZero(t *testing.T) {
	own := idWithByte(0x02)
	table := New(own)
	other := idWithByte(0x01)
	require.NoError(t, table.InsertPeer(other))

	require.True(t, table.IncrementHeartbeatCredits(other))
	require.False(t, table.IncrementHeartbeatCredits(idWithByte(0x09)))

	table.ZeroHeartbeatCredits()
	require.Equal(t, []int{0}, table.LostPeerRanks()) // zero credits everywhere: the other peer (rank 0) is lost, own rank excluded
}

func TestLostPeerRanksExcludesOwnRank(t *testing.T) {
	own := idWithByte(0x02)
	table := New(own)
	require.NoError(t, table.InsertPeer(idWithByte(0x01)))
	require.NoError(t, table.InsertPeer(idWithByte(0x03)))

	// Nobody has been credited this scan: both peers look lost, own rank
	// must never appear even though its own credit counter is also zero.
	// InsertPeer seeds each new peer with one credit, so clear them first.
	table.ZeroHeartbeatCredits()
	lost := table.LostPeerRanks()
	require.Len(t, lost, 2)
	ownRank, _ := table.FindRankByID(own)
	require.NotContains(t, lost, ownRank)
}

func TestAssessVoteResultsAssignsHighestTallyAndFlagsSplit(t *testing.T) {
	own := idWithByte(0x02)
	table := New(own)
	require.NoError(t, table.InsertPeer(idWithByte(0x01)))
	require.NoError(t, table.InsertPeer(idWithByte(0x03)))

	// Unanimous: all three tallies agree rank 0 -> Primary.
	table.SetVoteTally(0, int(Primary), 3)
	table.SetVoteTally(1, int(Secondary), 2)
	table.SetVoteTally(1, int(Tertiary), 1) // split decision for rank 1
	table.SetVoteTally(2, int(Tertiary), 3)

	table.AssessVoteResults()

	require.Equal(t, Primary, table.SlotByRank(0).Role)
	require.Equal(t, Ok, table.SlotByRank(0).VoteConsistency)
	require.Equal(t, Secondary, table.SlotByRank(1).Role)
	require.Equal(t, Failed, table.SlotByRank(1).VoteConsistency)
	require.Equal(t, Tertiary, table.SlotByRank(2).Role)
	require.Equal(t, Ok, table.SlotByRank(2).VoteConsistency)

	// Ballot state must be cleared for the next round.
	require.Equal(t, [3]uint32{}, table.SlotByRank(0).VoteTally)
	require.False(t, table.SlotByRank(0).HasCastBallotThisRound)
}

func TestOwnStrengthFollowsRole(t *testing.T) {
	table := New(idWithByte(0x02))
	ownRank, _ := table.FindRankByID(table.OwnID())
	table.SetRole(ownRank, Primary)
	require.Equal(t, uint32(30), table.OwnStrength())
	table.SetRole(ownRank, Unassigned)
	require.Equal(t, uint32(0), table.OwnStrength())
}
