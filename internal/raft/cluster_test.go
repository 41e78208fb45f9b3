package raft

import (
	"time"

	"github.com/gcooper407/kvstore/internal/message"
)

// cluster wires a fixed set of in-memory Raft instances together for
// tests, standing in for the UDP transport: messages queued by one
// replica are handed directly to the addressed replica(s) on the next
// pump. This mirrors the network-simulation harnesses the course labs
// this project is modeled on (e.g. ReshiAdavan-Sentinel's rpc package)
// use to drive deterministic Raft tests without real sockets.
type cluster struct {
	clocks   map[string]*fakeClock
	replicas map[string]*Raft
	order    []string

	clientInbox map[string][]message.Message // by client id
}

func newCluster(ids []string) *cluster {
	c := &cluster{
		clocks:      map[string]*fakeClock{},
		replicas:    map[string]*Raft{},
		order:       append([]string{}, ids...),
		clientInbox: map[string][]message.Message{},
	}
	for i, id := range ids {
		peers := otherIDs(ids, id)
		// Stagger each replica's (otherwise deterministic) timeout so
		// elections in tests don't split-vote on a synchronized clock.
		clk := newFakeClock(time.Duration(500+i*20) * time.Millisecond)
		c.clocks[id] = clk
		c.replicas[id] = New(Config{ID: id, Peers: peers, Clock: clk})
	}
	return c
}

func otherIDs(ids []string, self string) []string {
	var out []string
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

// advance moves every replica's clock forward by d.
func (c *cluster) advance(d time.Duration) {
	for _, clk := range c.clocks {
		clk.Advance(d)
	}
}

// pump runs one election/replicate tick on each replica, then routes
// everything the replicas have queued: client replies to the client
// inbox, broadcasts to every other replica, and the rest to their
// destination replica.
func (c *cluster) pump() {
	var peerMsgs []message.Message
	var clientMsgs []message.Message
	for _, id := range c.order {
		r := c.replicas[id]
		r.ElectionTick()
		r.ReplicateTick()
		peerMsgs = append(peerMsgs, r.DrainPeerMessages()...)
		clientMsgs = append(clientMsgs, r.DrainClientMessages()...)
	}
	for _, m := range clientMsgs {
		c.clientInbox[m.Dst] = append(c.clientInbox[m.Dst], m)
	}

	byDst := map[string][]message.Message{}
	for _, m := range peerMsgs {
		if m.Dst == message.Broadcast {
			for _, id := range c.order {
				if id != m.Src {
					byDst[id] = append(byDst[id], m)
				}
			}
			continue
		}
		byDst[m.Dst] = append(byDst[m.Dst], m)
	}
	for id, msgs := range byDst {
		c.replicas[id].Dispatch(msgs)
	}
}

// send hands a client-originated message directly to a replica and pumps
// until a client reply addressed to the sending client (m.Src) is
// observed, returning every such reply (or nil once the pump budget is
// exhausted).
func (c *cluster) send(to string, m message.Message) []message.Message {
	c.replicas[to].Dispatch([]message.Message{m})
	for i := 0; i < 50; i++ {
		c.advance(5 * time.Millisecond)
		c.pump()
		if len(c.clientInbox[m.Src]) > 0 {
			out := c.clientInbox[m.Src]
			c.clientInbox[m.Src] = nil
			return out
		}
	}
	return nil
}

func (c *cluster) leader() *Raft {
	for _, id := range c.order {
		if c.replicas[id].Role() == Leader {
			return c.replicas[id]
		}
	}
	return nil
}

// electLeader pumps until some replica wins an election. It advances time
// in small steps so replicas' staggered election deadlines expire one at a
// time instead of all at once (which would split the vote every term).
func (c *cluster) electLeader(maxPumps int) *Raft {
	for i := 0; i < maxPumps; i++ {
		c.advance(20 * time.Millisecond)
		c.pump()
		if l := c.leader(); l != nil {
			return l
		}
	}
	return nil
}
