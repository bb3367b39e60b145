package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	slept  []time.Duration
	cancel bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func TestAcquireWaitsForWindowAndCounterRestartsAtOne(t *testing.T) {
	clk := newFakeClock()
	l := New(Config{MaxCalls: 3, Window: 60 * time.Second}, WithClock(clk))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.Empty(t, clk.slept)
	assert.Equal(t, 3, l.Count())

	require.NoError(t, l.Acquire(ctx))
	require.Len(t, clk.slept, 1)
	assert.Equal(t, 60*time.Second, clk.slept[0])
	assert.Equal(t, 1, l.Count())
}

func TestReserveIsNonBlocking(t *testing.T) {
	clk := newFakeClock()
	l := New(Config{MaxCalls: 2, Window: 10 * time.Second}, WithClock(clk))

	assert.Zero(t, l.Reserve())
	assert.Zero(t, l.Reserve())

	clk.Advance(4 * time.Second)
	assert.Equal(t, 6*time.Second, l.Reserve())
	assert.Equal(t, 2, l.Count(), "denied reservation must not touch the counter")
}

func TestWindowRolloverResetsCounter(t *testing.T) {
	clk := newFakeClock()
	l := New(Config{MaxCalls: 2, Window: 10 * time.Second}, WithClock(clk))

	assert.Zero(t, l.Reserve())
	assert.Zero(t, l.Reserve())
	clk.Advance(11 * time.Second)
	assert.Zero(t, l.Reserve())
	assert.Equal(t, 1, l.Count())
}

func TestForceReset(t *testing.T) {
	clk := newFakeClock()
	l := New(Config{MaxCalls: 2, Window: 10 * time.Second}, WithClock(clk))
	l.Reserve()
	l.Reserve()
	clk.Advance(3 * time.Second)

	l.ForceReset()
	assert.Equal(t, 0, l.Count())
	rem, resetIn := l.Budget()
	assert.Equal(t, 2, rem)
	assert.Equal(t, 10*time.Second, resetIn)
}

func TestBudget(t *testing.T) {
	clk := newFakeClock()
	l := New(Config{MaxCalls: 5, Window: 30 * time.Second}, WithClock(clk))

	rem, resetIn := l.Budget()
	assert.Equal(t, 5, rem)
	assert.Zero(t, resetIn)

	l.Reserve()
	l.Reserve()
	clk.Advance(10 * time.Second)
	rem, resetIn = l.Budget()
	assert.Equal(t, 3, rem)
	assert.Equal(t, 20*time.Second, resetIn)

	clk.Advance(25 * time.Second)
	rem, resetIn = l.Budget()
	assert.Equal(t, 5, rem)
	assert.Zero(t, resetIn)
}

func TestAcquireHonoursContext(t *testing.T) {
	l := New(Config{MaxCalls: 1, Window: time.Hour})
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentReservationsNeverExceedBudget(t *testing.T) {
	clk := newFakeClock()
	l := New(Config{MaxCalls: 50, Window: time.Minute}, WithClock(clk))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Reserve() == 0 {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, granted)
}

func TestDefaults(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, 160, l.Max())
	assert.Equal(t, 300*time.Second, l.Window())
}
