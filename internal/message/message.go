// Package message defines the wire format exchanged between clients,
// replicas, and the cluster controller: a single self-describing JSON
// object per datagram, keyed by a "type" field (spec.md §6).
package message

// Broadcast is the reserved destination id meaning "every replica", and
// also doubles as the sentinel value for "leader unknown".
const Broadcast = "FFFF"

// Type enumerates the message variants in spec.md §6.
type Type string

const (
	Hello                 Type = "hello"
	Get                   Type = "get"
	Put                   Type = "put"
	Ok                    Type = "ok"
	Redirect              Type = "redirect"
	RequestVote           Type = "request_vote"
	Vote                  Type = "vote"
	AppendEntry           Type = "append_entry"
	AppendEntryResponse   Type = "append_entry_response"
)

// Entry is a single replicated log record. Index 0 of any Log is always
// the fixed sentinel {Term: 0} with no payload; real entries are 1-based.
type Entry struct {
	Term   uint64 `json:"term"`
	Key    string `json:"key,omitempty"`
	Value  string `json:"value,omitempty"`
	Client string `json:"client,omitempty"`
	PutID  string `json:"put_id,omitempty"`
}

// Message is the flat, self-describing envelope used for every datagram.
// Fields beyond src/dst/leader/type are optional and only populated for
// the variants that use them (spec.md §6's table), mirroring the loosely
// typed "dict with a type key" wire objects this protocol was modeled on.
type Message struct {
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Leader string `json:"leader"`
	Type   Type   `json:"type"`

	// get / put / ok / redirect
	MID   string `json:"MID,omitempty"`
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	// request_vote / vote
	Term         uint64 `json:"term,omitempty"`
	LastLogIndex uint64 `json:"last_log_index,omitempty"`
	LastLogTerm  uint64 `json:"last_log_term,omitempty"`

	// append_entry
	PrevLogIndex uint64  `json:"prev_log_index,omitempty"`
	PrevLogTerm  uint64  `json:"prev_log_term,omitempty"`
	Entries      []Entry `json:"entries,omitempty"`
	LeaderCommit uint64  `json:"leader_commit,omitempty"`
	NumPuts      int     `json:"num_puts,omitempty"`
	PutID        string  `json:"put_id,omitempty"`

	// append_entry_response
	Success   bool   `json:"success,omitempty"`
	NextIndex uint64 `json:"next_index,omitempty"`
}
