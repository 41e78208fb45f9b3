package raft

import (
	"math/rand"
	"sync"
	"time"
)

// electionTimeoutMin and electionTimeoutMax bound the uniform random
// election timeout (spec.md §4.9): [0.50, 0.65] seconds.
const (
	electionTimeoutMin = 500 * time.Millisecond
	electionTimeoutMax = 650 * time.Millisecond

	// heartbeatGap is the pacing interval for heartbeats with no new log
	// to send (spec.md §4.9).
	heartbeatGap = 450 * time.Millisecond
	// retryGap paces a peer that still has outstanding replication work.
	retryGap = 100 * time.Millisecond
	// installGap is the pacing immediately after a leader installs,
	// chosen to propagate authority quickly.
	installGap = 2500 * time.Microsecond
	// maxEntriesPerAppend caps the batch size of a single append-entries
	// message (spec.md §4.8).
	maxEntriesPerAppend = 7
)

// Clock abstracts wall-clock time and the randomized election timeout
// draw so tests can drive the event loop deterministically. The
// production implementation wraps time.Now and math/rand, mirroring the
// teacher's lockedRand wrapper around a shared *rand.Rand (tinykv
// raft.go's globalRand).
type Clock interface {
	Now() time.Time
	ElectionTimeout() time.Duration
}

type lockedRand struct {
	mu   sync.Mutex
	rand *rand.Rand
}

func (r *lockedRand) float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// systemClock is the default, real-time Clock.
type systemClock struct {
	rnd *lockedRand
}

// NewSystemClock returns a Clock backed by time.Now and a seeded PRNG.
func NewSystemClock() Clock {
	return &systemClock{rnd: &lockedRand{rand: rand.New(rand.NewSource(time.Now().UnixNano()))}}
}

func (c *systemClock) Now() time.Time { return time.Now() }

func (c *systemClock) ElectionTimeout() time.Duration {
	span := electionTimeoutMax - electionTimeoutMin
	return electionTimeoutMin + time.Duration(c.rnd.float64()*float64(span))
}
