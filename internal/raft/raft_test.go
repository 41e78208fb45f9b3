package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcooper407/kvstore/internal/message"
)

func fiveNodeCluster() (*cluster, *Raft) {
	c := newCluster([]string{"A", "B", "C", "D", "E"})
	leader := c.electLeader(50)
	return c, leader
}

// Scenario 1 (spec.md §8): happy put/get.
func TestHappyPutThenGet(t *testing.T) {
	c, leader := fiveNodeCluster()
	require.NotNil(t, leader)

	resp := c.send(leader.ID(), message.Message{Src: "X", Type: message.Put, MID: "m1", Key: "x", Value: "1"})
	require.Len(t, resp, 1)
	assert.Equal(t, message.Ok, resp[0].Type)
	assert.Equal(t, "m1", resp[0].MID)

	resp = c.send(leader.ID(), message.Message{Src: "X", Type: message.Get, MID: "m2", Key: "x"})
	require.Len(t, resp, 1)
	assert.Equal(t, message.Ok, resp[0].Type)
	assert.Equal(t, "1", resp[0].Value)
}

// Scenario 2: a follower redirects instead of serving a write itself.
func TestFollowerRedirectsToLeader(t *testing.T) {
	c, leader := fiveNodeCluster()
	require.NotNil(t, leader)

	var follower string
	for _, id := range c.order {
		if id != leader.ID() {
			follower = id
			break
		}
	}
	require.NotEmpty(t, follower)

	resp := c.send(follower, message.Message{Src: "X", Type: message.Put, MID: "m3", Key: "y", Value: "2"})
	require.Len(t, resp, 1)
	assert.Equal(t, message.Redirect, resp[0].Type)
	assert.Equal(t, "m3", resp[0].MID)
	assert.Equal(t, leader.ID(), resp[0].Leader)

	resp = c.send(resp[0].Leader, message.Message{Src: "X", Type: message.Put, MID: "m3", Key: "y", Value: "2"})
	require.Len(t, resp, 1)
	assert.Equal(t, message.Ok, resp[0].Type)
}

// Scenario 3: a leader that stops hearing from its peers reverts to
// follower once it observes a higher term after a new election.
func TestOldLeaderRevertsOnHigherTerm(t *testing.T) {
	c, leader := fiveNodeCluster()
	require.NotNil(t, leader)
	oldTerm := leader.Term()

	// Deliver the leader's post-install broadcast once, so the followers
	// accept it (clearing their vote for this term) before the partition.
	c.advance(5 * time.Millisecond)
	c.pump()

	// Simulate the old leader being partitioned: pump only the remaining
	// four replicas against each other (never delivering the old
	// leader's heartbeats, and never delivering their traffic to it)
	// until one of them wins an election on its own.
	remaining := otherIDs(c.order, leader.ID())
	newLeader := func() *Raft {
		for _, id := range remaining {
			if c.replicas[id].Role() == Leader {
				return c.replicas[id]
			}
		}
		return nil
	}
	for i := 0; i < 400 && newLeader() == nil; i++ {
		c.advance(10 * time.Millisecond)
		var peerMsgs []message.Message
		for _, id := range remaining {
			r := c.replicas[id]
			r.ElectionTick()
			r.ReplicateTick()
			peerMsgs = append(peerMsgs, r.DrainPeerMessages()...)
			r.DrainClientMessages()
		}
		byDst := map[string][]message.Message{}
		for _, m := range peerMsgs {
			if m.Dst == message.Broadcast {
				for _, id := range remaining {
					if id != m.Src {
						byDst[id] = append(byDst[id], m)
					}
				}
				continue
			}
			if m.Dst == leader.ID() {
				continue
			}
			byDst[m.Dst] = append(byDst[m.Dst], m)
		}
		for id, msgs := range byDst {
			c.replicas[id].Dispatch(msgs)
		}
	}
	require.NotNil(t, newLeader())

	// Now the old leader observes an append_entry/request_vote at the
	// new, higher term and must step down.
	newTerm := oldTerm + 1
	leader.Dispatch([]message.Message{{Src: "Z", Type: message.RequestVote, Term: newTerm, LastLogIndex: 0, LastLogTerm: 0}})
	assert.Equal(t, Follower, leader.Role())
	assert.GreaterOrEqual(t, leader.Term(), newTerm)
}

// Scenario 4: a follower with a diverging tail truncates and accepts a
// new leader's reconciling append_entry.
func TestLogReconciliationTruncatesDivergingTail(t *testing.T) {
	clk := newFakeClock(600 * time.Millisecond)
	b := New(Config{ID: "B", Peers: []string{"C"}, Clock: clk})

	b.Dispatch([]message.Message{
		{Src: "C", Type: message.AppendEntry, Term: 1, PrevLogIndex: 0, PrevLogTerm: 0,
			Entries: []message.Entry{{Term: 1, Key: "a"}}, LeaderCommit: 0},
	})
	b.Dispatch([]message.Message{
		{Src: "C", Type: message.AppendEntry, Term: 1, PrevLogIndex: 1, PrevLogTerm: 1,
			Entries: []message.Entry{{Term: 1, Key: "b"}}, LeaderCommit: 0},
	})
	require.Equal(t, uint64(2), b.log.LastIndex())
	b.DrainPeerMessages()

	b.Dispatch([]message.Message{
		{Src: "C", Type: message.AppendEntry, Term: 2, PrevLogIndex: 1, PrevLogTerm: 1,
			Entries: []message.Entry{{Term: 2, Key: "c"}}, LeaderCommit: 0},
	})

	resp := b.DrainPeerMessages()
	require.Len(t, resp, 1)
	assert.True(t, resp[0].Success)
	assert.Equal(t, uint64(3), resp[0].NextIndex)
	assert.Equal(t, uint64(2), b.log.LastIndex())
	assert.Equal(t, "c", b.log.At(2).Key)
	assert.Equal(t, uint64(2), b.log.TermAt(2))
}

// Scenario 5: two puts arriving in the same tick are admitted one at a
// time, in order, via the client backlog.
func TestBackloggedPutsAdmittedInOrder(t *testing.T) {
	c, leader := fiveNodeCluster()
	require.NotNil(t, leader)

	leader.Dispatch([]message.Message{
		{Src: "X", Type: message.Put, MID: "m4", Key: "a", Value: "1"},
		{Src: "X", Type: message.Put, MID: "m5", Key: "a", Value: "2"},
	})

	var acks []message.Message
	for i := 0; i < 50 && len(acks) < 2; i++ {
		c.advance(5 * time.Millisecond)
		c.pump()
		acks = append(acks, c.clientInbox["X"]...)
		c.clientInbox["X"] = nil
	}

	require.Len(t, acks, 2)
	assert.Equal(t, "m4", acks[0].MID)
	assert.Equal(t, "m5", acks[1].MID)
}

// Scenario 6: a voter with a longer log rejects a candidate whose log is
// behind it, regardless of term.
func TestVoteRejectedOnShorterLog(t *testing.T) {
	clk := newFakeClock(600 * time.Millisecond)
	e := New(Config{ID: "E", Peers: []string{"D"}, Clock: clk})
	for i := 0; i < 5; i++ {
		e.log.Append(message.Entry{Term: 1, Key: "k"})
	}
	require.Equal(t, uint64(5), e.log.LastIndex())

	e.Dispatch([]message.Message{
		{Src: "D", Type: message.RequestVote, Term: 5, LastLogIndex: 2, LastLogTerm: 1},
	})

	assert.Empty(t, e.DrainPeerMessages())
}

// P1: at most one leader can exist for a given term.
func TestAtMostOneLeaderPerTerm(t *testing.T) {
	c, leader := fiveNodeCluster()
	require.NotNil(t, leader)

	leaders := 0
	term := leader.Term()
	for _, id := range c.order {
		r := c.replicas[id]
		if r.Role() == Leader {
			leaders++
			assert.Equal(t, term, r.Term())
		}
	}
	assert.Equal(t, 1, leaders)
}

// P7: put followed by repeated get returns the written value until
// overwritten.
func TestPutThenRepeatedGetIsStable(t *testing.T) {
	c, leader := fiveNodeCluster()
	require.NotNil(t, leader)

	c.send(leader.ID(), message.Message{Src: "X", Type: message.Put, MID: "m1", Key: "x", Value: "1"})
	for i := 0; i < 3; i++ {
		resp := c.send(leader.ID(), message.Message{Src: "X", Type: message.Get, MID: "m2", Key: "x"})
		require.Len(t, resp, 1)
		assert.Equal(t, "1", resp[0].Value)
	}

	c.send(leader.ID(), message.Message{Src: "X", Type: message.Put, MID: "m3", Key: "x", Value: "2"})
	resp := c.send(leader.ID(), message.Message{Src: "X", Type: message.Get, MID: "m4", Key: "x"})
	require.Len(t, resp, 1)
	assert.Equal(t, "2", resp[0].Value)
}

// P8: get on an absent key returns the empty string, not an error.
func TestGetAbsentKeyReturnsEmptyValue(t *testing.T) {
	c, leader := fiveNodeCluster()
	require.NotNil(t, leader)

	resp := c.send(leader.ID(), message.Message{Src: "X", Type: message.Get, MID: "m1", Key: "missing"})
	require.Len(t, resp, 1)
	assert.Equal(t, message.Ok, resp[0].Type)
	assert.Equal(t, "", resp[0].Value)
}

func TestNewReplicaStartsAsFollowerAtTermZero(t *testing.T) {
	clk := newFakeClock(600 * time.Millisecond)
	r := New(Config{ID: "A", Peers: []string{"B", "C"}, Clock: clk})
	assert.Equal(t, Follower, r.Role())
	assert.Equal(t, uint64(0), r.Term())
}

func TestElectionTickNoOpForLeader(t *testing.T) {
	_, leader := fiveNodeCluster()
	require.NotNil(t, leader)
	term := leader.Term()
	role := leader.Role()
	leader.ElectionTick()
	assert.Equal(t, role, leader.Role())
	assert.Equal(t, term, leader.Term())
}

// A candidate stuck in a split vote (no message arrives to grant a vote or
// reveal a new leader) must escalate to a new term on the next timer
// expiry rather than sitting a candidate forever, per spec.md §3/§4.3.
func TestCandidateRetriesElectionOnRepeatedTimeout(t *testing.T) {
	clk := newFakeClock(500 * time.Millisecond)
	a := New(Config{ID: "A", Peers: []string{"B", "C", "D", "E"}, Clock: clk})

	clk.Advance(600 * time.Millisecond)
	a.ElectionTick()
	require.Equal(t, Candidate, a.Role())
	firstTerm := a.Term()
	a.DrainPeerMessages()

	clk.Advance(600 * time.Millisecond)
	a.ElectionTick()
	assert.Equal(t, Candidate, a.Role())
	assert.Equal(t, firstTerm+1, a.Term())

	msgs := a.DrainPeerMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, message.RequestVote, msgs[0].Type)
	assert.Equal(t, firstTerm+1, msgs[0].Term)
}
