package raft

import (
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/gcooper407/kvstore/internal/message"
)

// startElection implements spec.md §4.6. It is only ever invoked by
// ElectionTick once the election timer has expired: for a follower only if
// it has not voted this term, for a candidate unconditionally. The timer is
// restarted from now with the same timeout; a new timeout is drawn only on
// grant, a successful append-entries receipt, or reversion to follower
// (spec.md §4.9, §9).
func (r *Raft) startElection() {
	r.role = Candidate
	r.term++
	r.votedThisTerm = true
	r.votesReceived = 1
	r.leaderID = message.Broadcast
	now := r.clock.Now()
	r.electionDeadline = now.Add(r.electionDeadline.Sub(r.lastHeard))
	r.lastHeard = now

	log.Info("starting election", zap.String("id", r.id), zap.Uint64("term", r.term))

	req := message.Message{
		Dst:          message.Broadcast,
		Type:         message.RequestVote,
		Term:         r.term,
		LastLogIndex: r.log.LastIndex(),
		LastLogTerm:  r.log.LastTerm(),
	}
	r.enqueuePeer(req)
}

// stepCandidate implements spec.md §4.3. Returns true when the just
// processed message should be redispatched under the new role (an
// append_entry at this term or higher causing a revert to follower; a
// higher-term request_vote is reverted by step before it reaches here).
func (r *Raft) stepCandidate(m message.Message) bool {
	switch m.Type {
	case message.Get, message.Put:
		r.clientBacklog = append(r.clientBacklog, m)
		return false

	case message.AppendEntry:
		if m.Term >= r.term {
			r.becomeFollower(m.Term, m.Src)
			return true
		}
		r.enqueuePeer(message.Message{Dst: m.Src, Type: message.AppendEntryResponse, Term: r.term, Success: false, NextIndex: r.commitIndex})
		return false

	case message.Vote:
		if m.Term != r.term {
			return false
		}
		r.votesReceived++
		log.Debug("received vote", zap.String("id", r.id), zap.String("from", m.Src), zap.Int("votes", r.votesReceived))
		if r.votesReceived > r.quorumThreshold() {
			r.takeLead()
		}
		return false

	case message.RequestVote:
		// Higher term is already handled by the generic stale-term
		// check in step(); an equal-or-lower term challenger is
		// rejected silently, since this candidate already voted for
		// itself this term.
		return false

	default:
		return false
	}
}
