package admission

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestCooldownWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		gap    time.Duration
		second bool
	}{
		{"inside window", 2999 * time.Millisecond, false},
		{"one second apart", time.Second, false},
		{"exactly cooldown", 3 * time.Second, true},
		{"after window", 10 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(3 * time.Second)
			require.True(t, g.TryAdmit("bob", t0))
			assert.Equal(t, tt.second, g.TryAdmit("bob", t0.Add(tt.gap)))
		})
	}
}

func TestRejectionLeavesRecordUnchanged(t *testing.T) {
	g := New(3 * time.Second)
	require.True(t, g.TryAdmit("bob", t0))
	require.False(t, g.TryAdmit("bob", t0.Add(2*time.Second)))
	// Measured from t0, not from the rejected attempt.
	assert.True(t, g.TryAdmit("bob", t0.Add(3*time.Second)))
}

func TestSendersAreIndependent(t *testing.T) {
	g := New(time.Minute)
	assert.True(t, g.TryAdmit("alice", t0))
	assert.True(t, g.TryAdmit("bob", t0))
	assert.False(t, g.TryAdmit("alice", t0.Add(time.Second)))
	assert.Equal(t, 2, g.Len())
}

func TestZeroCooldownAdmitsEverything(t *testing.T) {
	g := New(0)
	for i := 0; i < 5; i++ {
		assert.True(t, g.TryAdmit("carol", t0))
	}
}

func TestTryAdmitWithinOverridesCooldown(t *testing.T) {
	g := New(time.Hour)
	require.True(t, g.TryAdmitWithin("dan", t0, time.Second))
	assert.True(t, g.TryAdmitWithin("dan", t0.Add(time.Second), time.Second))
	assert.False(t, g.TryAdmit("dan", t0.Add(2*time.Second)))
}

func TestConcurrentSameSenderAdmitsOnce(t *testing.T) {
	t.Parallel()

	g := New(3 * time.Second)
	const n = 64
	var admitted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if g.TryAdmit("eve", t0.Add(time.Duration(i)*time.Millisecond)) {
				admitted.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
}

func TestConcurrentDistinctSendersAllAdmitted(t *testing.T) {
	t.Parallel()

	g := New(3 * time.Second)
	const n = 200
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if g.TryAdmit(fmt.Sprintf("sender-%d", i), t0) {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(n), admitted.Load())
	assert.Equal(t, n, g.Len())
}

func TestSweep(t *testing.T) {
	g := New(3 * time.Second)
	require.True(t, g.TryAdmit("old", t0))
	require.True(t, g.TryAdmit("fresh", t0.Add(9*time.Minute)))

	removed := g.Sweep(t0.Add(10*time.Minute), 5*time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, g.Len())
	assert.False(t, g.TryAdmit("fresh", t0.Add(9*time.Minute+time.Second)))
}

func TestSweepNeverShortensCooldown(t *testing.T) {
	g := New(time.Minute)
	require.True(t, g.TryAdmit("bob", t0))

	// ttl below cooldown must not evict a record still inside its window.
	assert.Zero(t, g.Sweep(t0.Add(10*time.Second), time.Second))
	assert.False(t, g.TryAdmit("bob", t0.Add(10*time.Second)))
}

func TestSetCooldown(t *testing.T) {
	g := New(time.Minute)
	g.SetCooldown(-time.Second)
	assert.Zero(t, g.Cooldown())
	g.SetCooldown(2 * time.Second)
	assert.Equal(t, 2*time.Second, g.Cooldown())
}
