package raft

import (
	"time"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/gcooper407/kvstore/internal/message"
)

// takeLead implements spec.md §4.5: leader install on winning an
// election. The immediate empty broadcast uses prev_log_index=0,
// prev_log_term=0 unconditionally, which is safe only because the log's
// index-0 sentinel is fixed at {term: 0} for every replica.
func (r *Raft) takeLead() {
	r.role = Leader
	r.leaderID = r.id
	r.votesReceived = 0

	r.progressBy = make(map[string]*progress, len(r.peers))
	r.pacingBy = make(map[string]*pacing, len(r.peers))
	now := r.clock.Now()
	for _, p := range r.peers {
		r.progressBy[p] = &progress{next: r.log.Len(), match: 0}
		r.pacingBy[p] = &pacing{lastSentAt: now, gap: installGap}
	}
	r.stagedPut = nil
	r.quorum = nil

	log.Info("became leader", zap.String("id", r.id), zap.Uint64("term", r.term))

	r.enqueuePeer(message.Message{
		Dst:          message.Broadcast,
		Type:         message.AppendEntry,
		Term:         r.term,
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		LeaderCommit: r.commitIndex,
	})
}

// stepLeader implements spec.md §4.7 (client writes) and §4.8
// (append-entry-response handling). Returns true when m should be
// redispatched after a revert to follower.
func (r *Raft) stepLeader(m message.Message) bool {
	switch m.Type {
	case message.Get:
		r.enqueueClient(message.Message{Dst: m.Src, Type: message.Ok, MID: m.MID, Value: r.store.Get(m.Key)})
		return false

	case message.Put:
		r.admitOrBacklogPut(m)
		return false

	case message.AppendEntryResponse:
		return r.handleAppendEntryResponse(m)

	default:
		return false
	}
}

// admitOrBacklogPut implements spec.md §4.7: a put is admitted only when
// staged_put is empty (I7); otherwise it is held in arrival order and
// re-offered next tick.
func (r *Raft) admitOrBacklogPut(m message.Message) {
	if r.stagedPut != nil {
		r.clientBacklog = append(r.clientBacklog, m)
		return
	}
	entry := message.Entry{Term: r.term, Key: m.Key, Value: m.Value, Client: m.Src, PutID: m.MID}
	r.log.Append(entry)
	staged := m
	r.stagedPut = &staged
	r.quorum = map[string]bool{r.id: true}
}

// handleAppendEntryResponse implements spec.md §4.8's inbound-response
// rules, then advances commit_index by the generalized scan and applies
// newly committed entries.
func (r *Raft) handleAppendEntryResponse(m message.Message) bool {
	peer := m.Src
	prog, ok := r.progressBy[peer]
	if !ok {
		return false
	}

	if m.Success {
		if m.NextIndex < r.log.Len() {
			prog.next = m.NextIndex
		} else {
			prog.next = r.log.Len()
		}
		prog.match = prog.next - 1
		r.pacingBy[peer].gap = installGap

		if r.stagedPut != nil && m.PutID == r.stagedPut.MID {
			r.quorum[peer] = true
			if len(r.quorum) > r.quorumThreshold() {
				r.commitIndex = r.log.LastIndex()
				r.stagedPut = nil
				r.quorum = nil
			}
		}
	} else if m.Term > r.term {
		r.becomeFollower(m.Term, message.Broadcast)
		return true
	} else {
		// Log inconsistency: msg.next_index carries the follower's
		// commit_index, so resume from the entry right after it
		// (spec.md §4.8).
		prog.next = m.NextIndex + 1
	}

	r.advanceCommitIndex()
	r.applyCommitted(func(idx uint64, e message.Entry) {
		r.enqueueClient(message.Message{Dst: e.Client, Type: message.Ok, MID: e.PutID})
	})
	return false
}

// advanceCommitIndex implements spec.md §4.8's generalized commit scan:
// advance n from commit_index+1 upward while a strict majority of peers
// has match_index >= n and log[n].term == current_term; stop at the
// first n that fails either test.
func (r *Raft) advanceCommitIndex() {
	for n := r.commitIndex + 1; n <= r.log.LastIndex(); n++ {
		if r.log.TermAt(n) != r.term {
			break
		}
		count := 1 // self
		for _, p := range r.peers {
			if r.progressBy[p].match >= n {
				count++
			}
		}
		if count <= r.quorumThreshold() {
			break
		}
		r.commitIndex = n
	}
}

// replicateAll implements spec.md §4.8's per-tick replication loop: an
// immediate send when there is new log to deliver, otherwise a heartbeat
// once the per-peer pacing gap has elapsed.
func (r *Raft) replicateAll(now time.Time) {
	for _, p := range r.peers {
		pc := r.pacingBy[p]
		next := r.progressBy[p].next

		if r.log.LastIndex() >= next && !now.Before(pc.lastSentAt.Add(pc.gap)) {
			r.sendAppend(p, next, now)
			pc.lastSentAt = now
			pc.gap = retryGap
			continue
		}
		if !now.Before(pc.lastSentAt.Add(heartbeatGap)) {
			r.sendAppend(p, next, now)
			pc.lastSentAt = now
		}
	}
}

func (r *Raft) sendAppend(peer string, next uint64, now time.Time) {
	prevIndex := next - 1
	entries := r.log.Slice(next, next+maxEntriesPerAppend)
	m := message.Message{
		Dst:          peer,
		Type:         message.AppendEntry,
		Term:         r.term,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  r.log.TermAt(prevIndex),
		Entries:      entries,
		LeaderCommit: r.commitIndex,
		NumPuts:      len(entries),
	}
	if r.stagedPut != nil {
		m.PutID = r.stagedPut.MID
	}
	r.enqueuePeer(m)
}
