// Copyright (C) 2025, The Pixytracker Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/psmass/pixytracker/internal/corelog"
	"github.com/psmass/pixytracker/internal/membership"
	"github.com/psmass/pixytracker/internal/peerid"
	"github.com/psmass/pixytracker/internal/status"
	"github.com/psmass/pixytracker/internal/vote"
	"github.com/psmass/pixytracker/metrics"
	"github.com/psmass/pixytracker/utils/bag"
)

var errInvariantViolation = errors.New("coordinator: own ordinal invariant violated")

// TickPeriod is the coordinator's driving cadence (spec §4.4, §5).
const TickPeriod = 1 * time.Second

// VotePublisher sends a freshly cast ballot onto the durable vote topic.
type VotePublisher interface {
	PublishBallot(b vote.Ballot) error
}

// Authority is the subset of the Authority Gate the coordinator drives.
type Authority interface {
	Enable()
	Disable()
	SetStrength(strength uint32)
}

// Metrics is the subset of counters and gauges the coordinator updates as
// it runs. Nil fields are skipped, so a caller can wire only what it
// cares about.
type Metrics struct {
	StateTransitions metrics.Counter
	BallotsRejected  metrics.Counter
	OwnStrength      metrics.Gauge
}

// Coordinator drives one peer's Membership Table through the state
// machine. It owns no transport connections directly; VotePublisher,
// Authority, and status.Display are injected so the same driver can run
// against a real transport or internal/transport/faketransport in tests.
type Coordinator struct {
	mu sync.Mutex

	table     *membership.Table
	publisher VotePublisher
	authority Authority
	display   status.Display
	log       corelog.Logger

	expectedPeerCount int
	state             State
	tenSecCount       int

	metrics *Metrics
	// roleHistory counts how many SteadyState rounds this peer has held
	// each role, surfaced for diagnostics via RoleHistory.
	roleHistory bag.Bag[membership.Role]
}

// New constructs a Coordinator starting in Initialize.
func New(table *membership.Table, publisher VotePublisher, authority Authority, display status.Display, log corelog.Logger, expectedPeerCount int) *Coordinator {
	if expectedPeerCount <= 0 {
		expectedPeerCount = membership.Capacity
	}
	if display == nil {
		display = status.NoOp{}
	}
	return &Coordinator{
		table:             table,
		publisher:         publisher,
		authority:         authority,
		display:           display,
		log:               log,
		expectedPeerCount: expectedPeerCount,
		state:             Initialize,
		tenSecCount:       initializeSettlePeriod,
		roleHistory:       bag.New[membership.Role](),
	}
}

// SetMetrics wires m into the coordinator; pass nil to disable metrics.
func (c *Coordinator) SetMetrics(m *Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// RoleHistory returns how many SteadyState rounds this peer has spent in
// each role so far, for diagnostics and tests.
func (c *Coordinator) RoleHistory() bag.Bag[membership.Role] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roleHistory
}

// State returns the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnNewPeer implements heartbeat.NewPeerObserver: every newly admitted
// peer resets the Initialize settling counter (spec §4.4).
func (c *Coordinator) OnNewPeer(_ peerid.ID) {
	c.ResetSettleCounter()
}

// Phase maps the coordinator's current state onto the vote-application
// phase described in spec §4.3's ballot application table.
func (c *Coordinator) Phase() vote.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return phaseForState(c.state)
}

func phaseForState(s State) vote.Phase {
	switch s {
	case Initialize, Prevote:
		return vote.PhaseDurableIncumbent
	case Vote, WaitVotesIn:
		return vote.PhaseNormalTally
	case VoteResults, SteadyState:
		return vote.PhaseLateArrival
	default:
		return vote.PhaseIgnore
	}
}

// HandleBallot validates b against the table and, if accepted, applies it
// under the phase matching the coordinator's current state. It is the
// entry point the vote subscriber calls for every inbound ballot.
func (c *Coordinator) HandleBallot(b vote.Ballot) {
	reason := vote.Validate(c.table, b)
	if reason != vote.Accepted {
		c.log.Warn("ballot rejected", "source", b.SourceID, "reason", reason.String())
		if counter := c.ballotsRejectedCounter(); counter != nil {
			counter.Inc()
		}
		return
	}
	vote.Apply(c.table, c.Phase(), b)
}

// ResetSettleCounter resets the Initialize countdown to its starting
// value; called whenever a new peer is admitted (spec §4.4).
func (c *Coordinator) ResetSettleCounter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenSecCount = initializeSettlePeriod
}

// Run blocks, ticking the state machine at TickPeriod until ctx is
// canceled or the machine reaches Shutdown. It returns a non-nil error
// only when Shutdown was entered via an invariant failure (Error state).
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()

	fatal := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			done, err := c.tick()
			if err != nil {
				fatal = true
			}
			if done {
				if fatal {
					return err
				}
				return nil
			}
		}
	}
}

// tick advances the state machine by exactly one step. It returns
// done==true once Shutdown is reached.
func (c *Coordinator) tick() (done bool, err error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case Initialize:
		c.tickInitialize()
	case Prevote:
		// A new round starts at Vote: any votes_in accumulated from
		// durable incumbent ingest during Initialize/Prevote belonged to
		// bootstrap bookkeeping, not this round's tally. Resetting here,
		// before any peer has published a Vote-round ballot, avoids
		// racing an early-arriving peer's own reset against a ballot it
		// already received this round.
		//
		// A late joiner is the exception: its votes_in already counts
		// each incumbent's durable ballot, and that count plus its own
		// upcoming self-cast is exactly what lets WaitVotesIn reach
		// votes_in == peer_count without requiring a fresh ballot from
		// peers that are already in SteadyState with nothing left to
		// (re)cast.
		if !c.table.LateJoiner() {
			c.table.ResetVotesIn()
		}
		c.setState(Vote)
	case Vote:
		c.tickVote()
	case WaitVotesIn:
		c.tickWaitVotesIn()
	case VoteResults:
		c.tickVoteResults()
	case SteadyState:
		return c.tickSteadyState()
	case Error:
		c.log.Error("coordinator entered Error state, shutting down")
		c.setState(Shutdown)
		return true, errInvariantViolation
	case Shutdown:
		return true, nil
	}
	return false, nil
}

func (c *Coordinator) tickInitialize() {
	c.mu.Lock()
	c.tenSecCount--
	settled := c.tenSecCount <= 0
	c.mu.Unlock()

	if c.table.PeerCount() == c.expectedPeerCount || settled {
		c.setState(Prevote)
	}
}

func (c *Coordinator) tickVote() {
	ballot := vote.CastBallot(c.table)
	if err := c.publisher.PublishBallot(ballot); err != nil {
		c.log.Warn("ballot publish failed", "err", err)
	}
	c.setState(WaitVotesIn)
}

func (c *Coordinator) tickWaitVotesIn() {
	if c.table.VotesIn() == c.table.PeerCount() {
		c.setState(VoteResults)
	}
}

func (c *Coordinator) tickVoteResults() {
	c.table.AssessVoteResults()
	c.table.ResetVotesIn()

	c.mu.Lock()
	c.roleHistory.Add(c.table.OwnSlot().Role)
	c.mu.Unlock()

	strength := c.table.OwnStrength()
	c.authority.SetStrength(strength)
	c.authority.Enable()
	c.display.Show(c.table.OwnSlot().Role, strength)
	if gauge := c.ownStrengthGauge(); gauge != nil {
		gauge.Set(float64(strength))
	}

	c.setState(SteadyState)
}

func (c *Coordinator) tickSteadyState() (done bool, err error) {
	lost := c.table.LostPeerRanks()
	if len(lost) > 0 {
		for len(lost) > 0 {
			c.table.DropPeer(lost[0])
			lost = c.table.LostPeerRanks()
		}
		c.table.SetIsNewPeer(false)
		c.table.ZeroHeartbeatCredits()
		c.table.ResetVotesIn()
		// A revote after a peer loss is a fresh election for every
		// survivor. CastBallot already clears lateJoiner the moment it
		// consumes it, so this peer should never still have it set here
		// — but a stuck flag would route it back into replaying a
		// durable-ingest role assignment against tallies AssessVoteResults
		// already zeroed, so clear it again defensively.
		c.table.SetLateJoiner(false)
		c.setState(Vote)
		return false, nil
	}

	c.table.ZeroHeartbeatCredits()
	if !c.table.ValidateOwnOrdinal() {
		c.setState(Error)
	}
	return false, nil
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	m := c.metrics
	c.mu.Unlock()

	if m != nil && m.StateTransitions != nil {
		m.StateTransitions.Inc()
	}
}

func (c *Coordinator) ballotsRejectedCounter() metrics.Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metrics == nil {
		return nil
	}
	return c.metrics.BallotsRejected
}

func (c *Coordinator) ownStrengthGauge() metrics.Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metrics == nil {
		return nil
	}
	return c.metrics.OwnStrength
}
