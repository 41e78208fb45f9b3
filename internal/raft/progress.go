package raft

import "time"

// progress tracks a leader's view of one peer's log replication state
// (spec.md §3 "Leader-only state": next_index/match_index), grounded on
// tinykv's Progress{Match, Next} (raft.go).
type progress struct {
	next  uint64
	match uint64
}

// pacing tracks when a peer was last sent an append-entries/heartbeat and
// how long to wait before sending again (spec.md §3 per_peer_send,
// §4.8/§4.9).
type pacing struct {
	lastSentAt time.Time
	gap        time.Duration
}
