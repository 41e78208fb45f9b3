// Package server implements the single-threaded event loop (spec.md
// §4.1, §5) that drives a Raft replica: draining the two outbound
// queues, emitting leader replication traffic, polling the UDP socket,
// dispatching inbound messages through the role handler, and firing
// election timeouts.
package server

import (
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/gcooper407/kvstore/internal/message"
	"github.com/gcooper407/kvstore/internal/raft"
	"github.com/gcooper407/kvstore/internal/transport"
)

// Server wires a Raft core to a UDP transport and runs the event loop.
type Server struct {
	id    string
	raft  *raft.Raft
	trans *transport.Transport
}

// New constructs a Server for replica id, with the given peer ids,
// listening through trans.
func New(id string, peers []string, trans *transport.Transport) *Server {
	return &Server{
		id:    id,
		raft:  raft.New(raft.Config{ID: id, Peers: peers, Clock: raft.NewSystemClock()}),
		trans: trans,
	}
}

// Announce sends the startup hello to the cluster controller (spec.md
// §6: "On startup, broadcast a hello message to FFFF on the given
// port").
func (s *Server) Announce() {
	s.trans.Send(message.Message{
		Src:    s.id,
		Dst:    message.Broadcast,
		Leader: message.Broadcast,
		Type:   message.Hello,
	})
}

// Run executes the event loop forever (spec.md §4.1). It never returns
// under normal operation; the process exits via signal (spec.md §6).
func (s *Server) Run() {
	for {
		s.Step()
	}
}

// Step performs exactly one iteration of the event loop, in the order
// spec.md §4.1 specifies:
//
//	(a) drain the client-response queue to the transport
//	(b) drain the peer-response queue to the transport
//	(c) re-offer any held client backlog, then, if leader, emit per-peer
//	    append-entries / heartbeats
//	(d) non-blocking receive of all pending datagrams
//	(e) dispatch the queue through the role handler
//	(f) if non-leader and the election timer has expired, begin an election
func (s *Server) Step() {
	for _, m := range s.raft.DrainClientMessages() {
		s.trans.Send(m)
	}
	for _, m := range s.raft.DrainPeerMessages() {
		s.trans.Send(m)
	}

	s.raft.ReplicateTick()

	incoming := s.trans.ReceiveAll()
	if len(incoming) > 0 {
		log.Debug("received datagrams", zap.String("id", s.id), zap.Int("count", len(incoming)))
		s.raft.Dispatch(incoming)
	}

	s.raft.ElectionTick()
}
