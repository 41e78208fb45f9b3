package raft

import "github.com/gcooper407/kvstore/internal/message"

// Log is the append-only ordered sequence of entries backing a replica
// (spec.md §3, §4.1 component "Log & State Machine"). Index 0 is always
// the fixed sentinel {Term: 0} with no payload; real entries are 1-based.
// The log is strictly appended except for the leader-driven truncation a
// follower performs when reconciling with a new leader's log.
type Log struct {
	entries []message.Entry
}

// NewLog returns a log containing only the index-0 sentinel.
func NewLog() *Log {
	return &Log{entries: []message.Entry{{Term: 0}}}
}

// Len returns len(log), i.e. one more than the last valid index.
func (l *Log) Len() uint64 {
	return uint64(len(l.entries))
}

// LastIndex returns the highest valid index (0 for an empty log).
func (l *Log) LastIndex() uint64 {
	return l.Len() - 1
}

// LastTerm returns the term of the last entry.
func (l *Log) LastTerm() uint64 {
	return l.entries[l.LastIndex()].Term
}

// At returns the entry at index i. Callers must ensure i < Len().
func (l *Log) At(i uint64) message.Entry {
	return l.entries[i]
}

// TermAt returns the term of the entry at index i, or 0 if i is out of
// range (mirrors the sentinel's term, and is a safe default for
// out-of-range comparisons during log-matching checks).
func (l *Log) TermAt(i uint64) uint64 {
	if i >= l.Len() {
		return 0
	}
	return l.entries[i].Term
}

// HasPrevMatch reports whether log[index].term == term and index is a
// valid position — the log-matching precondition append_entry checks
// against prev_log_index/prev_log_term (spec.md §4.2).
func (l *Log) HasPrevMatch(index, term uint64) bool {
	return index < l.Len() && l.entries[index].Term == term
}

// Append adds an entry and returns its new index.
func (l *Log) Append(e message.Entry) uint64 {
	l.entries = append(l.entries, e)
	return l.LastIndex()
}

// TruncateAndAppend removes any suffix after prevIndex and appends the
// given entries in its place (spec.md §4.2's "truncate log to
// prev_log_index + 1 and append the incoming entries").
func (l *Log) TruncateAndAppend(prevIndex uint64, entries []message.Entry) {
	l.entries = append(l.entries[:prevIndex+1:prevIndex+1], entries...)
}

// Slice returns entries in [from, to), clamped to the log's bounds. Used
// by the leader to build a bounded append-entries batch (spec.md §4.8,
// max 7 entries per message).
func (l *Log) Slice(from, to uint64) []message.Entry {
	if from >= l.Len() {
		return nil
	}
	if to > l.Len() {
		to = l.Len()
	}
	if to <= from {
		return nil
	}
	out := make([]message.Entry, to-from)
	copy(out, l.entries[from:to])
	return out
}
