// Package admission enforces a per-sender cooldown between accepted messages.
package admission

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 32

// Gate admits at most one message per sender per cooldown window.
//
// Each decision is one atomic read-modify-write on the sender's record.
// Senders are spread over independently locked shards, so different
// senders do not contend on a single lock.
type Gate struct {
	cooldown atomic.Int64 // nanoseconds
	shards   [shardCount]shard
}

type shard struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func New(cooldown time.Duration) *Gate {
	g := &Gate{}
	for i := range g.shards {
		g.shards[i].last = make(map[string]time.Time)
	}
	g.SetCooldown(cooldown)
	return g
}

// SetCooldown changes the window for subsequent decisions. Negative values are treated as zero.
func (g *Gate) SetCooldown(d time.Duration) {
	if d < 0 {
		d = 0
	}
	g.cooldown.Store(int64(d))
}

func (g *Gate) Cooldown() time.Duration { return time.Duration(g.cooldown.Load()) }

// TryAdmit is TryAdmitWithin using the gate's current cooldown.
func (g *Gate) TryAdmit(sender string, now time.Time) bool {
	return g.TryAdmitWithin(sender, now, g.Cooldown())
}

// TryAdmitWithin admits sender when it has no record or its last accepted
// message is at least cooldown before now. Admission records now; a
// rejection leaves the record unchanged.
func (g *Gate) TryAdmitWithin(sender string, now time.Time, cooldown time.Duration) bool {
	s := g.shardFor(sender)
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.last[sender]; ok && now.Sub(last) < cooldown {
		return false
	}
	s.last[sender] = now
	return true
}

// Sweep drops records whose last admission is older than ttl and returns
// how many were removed. A ttl shorter than the cooldown is raised to it
// so eviction never flips a rejection into an admission.
func (g *Gate) Sweep(now time.Time, ttl time.Duration) int {
	if cd := g.Cooldown(); ttl < cd {
		ttl = cd
	}
	removed := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		for sender, last := range s.last {
			if now.Sub(last) >= ttl {
				delete(s.last, sender)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked senders.
func (g *Gate) Len() int {
	n := 0
	for i := range g.shards {
		s := &g.shards[i]
		s.mu.Lock()
		n += len(s.last)
		s.mu.Unlock()
	}
	return n
}

func (g *Gate) shardFor(sender string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sender))
	return &g.shards[h.Sum32()%shardCount]
}
