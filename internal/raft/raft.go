// Package raft implements the replica state machine specified in
// spec.md §3–§4: role lifecycle (follower/candidate/leader), the
// log-consistency and commit protocol, randomized-timeout elections, and
// the client write-commit pipeline. It is deliberately transport- and
// codec-agnostic — it only produces and consumes message.Message values
// and is driven externally by the event loop in internal/server, the
// same separation tinykv draws between its synchronous Raft core
// (Step/tick/msgs) and the raftstore layer that drives it over the wire.
package raft

import (
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/gcooper407/kvstore/internal/kvstore"
	"github.com/gcooper407/kvstore/internal/message"
)

// Role is one of follower / candidate / leader (spec.md §3).
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Config carries the fixed parameters a Raft needs at construction.
type Config struct {
	ID    string
	Peers []string // every other replica id in the cluster
	Clock Clock
}

// Raft is the single-threaded replica state machine. None of its methods
// are safe for concurrent use — it is driven entirely by one goroutine's
// event loop (spec.md §5).
type Raft struct {
	id    string
	peers []string
	clock Clock

	term          uint64
	votedThisTerm bool
	log           *Log

	commitIndex uint64
	lastApplied uint64
	store       *kvstore.Store
	leaderID    string
	role        Role

	lastHeard        time.Time
	electionDeadline time.Time

	// candidate-only
	votesReceived int

	// leader-only
	progressBy map[string]*progress
	pacingBy   map[string]*pacing
	stagedPut  *message.Message
	quorum     map[string]bool

	// client get/put messages held because no leader is known yet, or
	// because a write is already staged; reconsidered on the next tick
	// (ReplicateTick) or at the start of the next dispatch, whichever
	// comes first (spec.md §4.2, §4.7, I7).
	clientBacklog []message.Message

	outClient []message.Message
	outPeer   []message.Message
}

// New constructs a Raft starting in follower role with current_term = 0
// (spec.md §3 "Replica" lifecycle).
func New(cfg Config) *Raft {
	now := cfg.Clock.Now()
	r := &Raft{
		id:       cfg.ID,
		peers:    cfg.Peers,
		clock:    cfg.Clock,
		log:      NewLog(),
		store:    kvstore.New(),
		leaderID: message.Broadcast,
		role:     Follower,
	}
	r.lastHeard = now
	r.electionDeadline = now.Add(cfg.Clock.ElectionTimeout())
	return r
}

// ID returns the replica's own id.
func (r *Raft) ID() string { return r.id }

// Role returns the current role.
func (r *Raft) Role() Role { return r.role }

// Term returns current_term.
func (r *Raft) Term() uint64 { return r.term }

// quorumThreshold is the count of grants/acks (including self) that must
// be strictly exceeded for a majority of the full cluster: half the peer
// count, rounded down (spec.md §4.3, §4.8: "strictly greater than
// |others|/2").
func (r *Raft) quorumThreshold() int {
	return len(r.peers) / 2
}

// Dispatch drains msgs (reconsidering any held client backlog first),
// routing each through the current role handler. A handler may change
// role mid-drain; per spec.md §4.4 this reinserts the backlog (and, for
// the message types that call for it, the message that triggered the
// transition) ahead of whatever remains, then continues the same drain
// under the new role — modeled here as a loop over a queue instead of
// recursive re-entry.
func (r *Raft) Dispatch(msgs []message.Message) {
	queue := append(r.clientBacklog, msgs...)
	r.clientBacklog = nil

	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]

		roleBefore := r.role
		redispatch := r.step(m)

		if r.role != roleBefore {
			backlog := r.clientBacklog
			r.clientBacklog = nil
			rebuilt := backlog
			if redispatch {
				rebuilt = append(rebuilt, m)
			}
			queue = append(rebuilt, queue...)
		} else if redispatch {
			queue = append([]message.Message{m}, queue...)
		}
	}
}

// step applies the generic stale-term rule (spec.md §7: "any received
// message with term > current_term triggers reversion to follower and
// term adoption") before handing off to the per-role handler. It returns
// true when the message that was just processed should be reprocessed
// under the (possibly new) role.
func (r *Raft) step(m message.Message) bool {
	if m.Term > r.term {
		lead := message.Broadcast
		if m.Type == message.AppendEntry {
			lead = m.Src
		}
		log.Info("observed higher term, reverting to follower",
			zap.String("id", r.id), zap.Uint64("our_term", r.term), zap.Uint64("remote_term", m.Term))
		r.becomeFollower(m.Term, lead)
		return true
	}

	switch r.role {
	case Follower:
		r.stepFollower(m)
		return false
	case Candidate:
		return r.stepCandidate(m)
	case Leader:
		return r.stepLeader(m)
	}
	return false
}

// ReplicateTick implements spec.md §4.1 step (c). It first re-offers any
// held client backlog through Dispatch, so a backlogged get/put is
// reconsidered every tick even when no datagram arrives. Then, while
// leader, it emits per-peer append-entries — immediate when there is new
// log to send, otherwise a heartbeat once the per-peer pacing gap elapses.
// Non-leaders emit nothing.
func (r *Raft) ReplicateTick() {
	if len(r.clientBacklog) > 0 {
		r.Dispatch(nil)
	}
	if r.role != Leader {
		return
	}
	r.replicateAll(r.clock.Now())
}

// ElectionTick implements spec.md §4.1 step (f): if non-leader and the
// election timer has expired with no vote cast this term, begin an
// election. A candidate's own self-vote always satisfies votedThisTerm, so
// a candidate is exempted from that guard — otherwise a split vote would
// leave it stuck forever, contradicting §4.3/§3's "timer expires again
// while still candidate" retry. A no-op for the leader.
func (r *Raft) ElectionTick() {
	if r.role == Leader {
		return
	}
	now := r.clock.Now()
	if now.After(r.electionDeadline) && (r.role == Candidate || !r.votedThisTerm) {
		r.startElection()
	}
}

// becomeFollower adopts term (clearing the vote if the term changed, or
// unconditionally since a follower reversion always clears vote state —
// spec.md I6) and resets the election timer (spec.md §4.9).
func (r *Raft) becomeFollower(term uint64, lead string) {
	if term != r.term {
		r.term = term
		r.votedThisTerm = false
	} else {
		r.votedThisTerm = false
	}
	r.role = Follower
	r.leaderID = lead
	r.resetElectionTimer()
	log.Info("became follower", zap.String("id", r.id), zap.Uint64("term", r.term), zap.String("leader", lead))
}

func (r *Raft) resetElectionTimer() {
	now := r.clock.Now()
	r.lastHeard = now
	r.electionDeadline = now.Add(r.clock.ElectionTimeout())
}

// enqueueClient schedules a reply to a client.
func (r *Raft) enqueueClient(m message.Message) {
	m.Src = r.id
	m.Leader = r.leaderID
	r.outClient = append(r.outClient, m)
}

// enqueuePeer schedules a message to a peer (or a broadcast).
func (r *Raft) enqueuePeer(m message.Message) {
	m.Src = r.id
	m.Leader = r.leaderID
	r.outPeer = append(r.outPeer, m)
}

// DrainClientMessages returns and clears the client outbound queue
// (spec.md §4.1 step a).
func (r *Raft) DrainClientMessages() []message.Message {
	out := r.outClient
	r.outClient = nil
	return out
}

// DrainPeerMessages returns and clears the peer outbound queue
// (spec.md §4.1 step b).
func (r *Raft) DrainPeerMessages() []message.Message {
	out := r.outPeer
	r.outPeer = nil
	return out
}

// stepFollower implements spec.md §4.2.
func (r *Raft) stepFollower(m message.Message) {
	switch m.Type {
	case message.Get, message.Put:
		if r.leaderID != message.Broadcast {
			r.enqueueClient(message.Message{Dst: m.Src, Type: message.Redirect, MID: m.MID})
		} else {
			r.clientBacklog = append(r.clientBacklog, m)
		}

	case message.RequestVote:
		if m.Term < r.term {
			return // reject silently
		}
		upToDate := m.LastLogIndex >= r.log.LastIndex()
		if upToDate && !r.votedThisTerm {
			r.votedThisTerm = true
			r.resetElectionTimer()
			r.enqueuePeer(message.Message{Dst: m.Src, Type: message.Vote, Term: r.term})
		}
		// else: reject silently

	case message.AppendEntry:
		r.handleAppendEntry(m)

	default:
		// append_entry_response / vote / hello: not meaningful to a
		// follower, dropped.
	}
}

// handleAppendEntry implements the accept/reject branches of spec.md §4.2.
func (r *Raft) handleAppendEntry(m message.Message) {
	accept := m.Term >= r.term && r.log.HasPrevMatch(m.PrevLogIndex, m.PrevLogTerm)
	if !accept {
		r.enqueuePeer(message.Message{Dst: m.Src, Type: message.AppendEntryResponse, Term: r.term, Success: false, NextIndex: r.commitIndex})
		return
	}

	r.leaderID = m.Src
	r.votedThisTerm = false
	r.resetElectionTimer()

	if len(m.Entries) > 0 {
		r.log.TruncateAndAppend(m.PrevLogIndex, m.Entries)
	}

	if m.LeaderCommit > r.commitIndex {
		r.commitIndex = min(m.LeaderCommit, r.log.LastIndex())
		r.applyCommitted(nil)
	}

	r.enqueuePeer(message.Message{Dst: m.Src, Type: message.AppendEntryResponse, Term: r.term, Success: true, NextIndex: r.log.Len(), PutID: m.PutID})
}

// applyCommitted applies log[last_applied+1 .. commit_index] to the store
// in order (spec.md I5), optionally invoking onApply for each entry (the
// leader uses this to enqueue client acks; followers pass nil).
func (r *Raft) applyCommitted(onApply func(idx uint64, e message.Entry)) {
	for r.lastApplied < r.commitIndex {
		r.lastApplied++
		e := r.log.At(r.lastApplied)
		r.store.Apply(e.Key, e.Value)
		if onApply != nil {
			onApply(r.lastApplied, e)
		}
	}
}

func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
