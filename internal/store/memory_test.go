package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubkit/botguard/internal/audit"
)

// fakeClock is a settable time source for store tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
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

func TestMemoryStore_IncrementRate(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	// First event opens a window with count one.
	counter, err := s.IncrementRate(ctx, 1, "message", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter.Count)
	assert.Equal(t, clock.Now(), counter.WindowStart)

	// Subsequent events within the window increment.
	clock.Advance(10 * time.Second)
	counter, err = s.IncrementRate(ctx, 1, "message", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counter.Count)

	// Other actors and actions count independently.
	counter, err = s.IncrementRate(ctx, 2, "message", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter.Count)

	counter, err = s.IncrementRate(ctx, 1, "callback", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter.Count)
}

func TestMemoryStore_IncrementRate_WindowReset(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	start := clock.Now()
	_, err := s.IncrementRate(ctx, 1, "message", time.Minute)
	require.NoError(t, err)

	// The window is anchored at the first event: exactly one window
	// later a fresh window opens.
	clock.Advance(time.Minute)
	counter, err := s.IncrementRate(ctx, 1, "message", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter.Count)
	assert.Equal(t, start.Add(time.Minute), counter.WindowStart)
}

func TestMemoryStore_IncrementRate_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := s.IncrementRate(ctx, 1, "message", time.Minute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	counter, err := s.GetRateCounter(ctx, 1, "message")
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines), counter.Count)
}

func TestMemoryStore_IncrementRate_ConcurrentDistinctKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const actors = 10
	const perActor = 20

	var wg sync.WaitGroup
	for a := int64(1); a <= actors; a++ {
		for i := 0; i < perActor; i++ {
			wg.Add(1)
			go func(actor int64) {
				defer wg.Done()
				_, err := s.IncrementRate(ctx, actor, "message", time.Minute)
				assert.NoError(t, err)
			}(a)
		}
	}
	wg.Wait()

	// Each key counted independently, none lost an update.
	for a := int64(1); a <= actors; a++ {
		counter, err := s.GetRateCounter(ctx, a, "message")
		require.NoError(t, err)
		assert.Equal(t, int64(perActor), counter.Count)
	}
}

func TestMemoryStore_GetRateCounter_NotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.GetRateCounter(context.Background(), 1, "message")
	assert.True(t, IsNotFound(err))
}

func TestMemoryStore_Blocks(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	now := clock.Now()
	block := &Block{
		Actor:     1,
		Reason:    "spam",
		BlockedBy: 100,
		BlockedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, s.PutBlock(ctx, block))

	got, err := s.GetBlock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, block, got)

	count, err := s.CountBlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	existed, err := s.DeleteBlock(ctx, 1)
	require.NoError(t, err)
	assert.True(t, existed)

	_, err = s.GetBlock(ctx, 1)
	assert.True(t, IsNotFound(err))

	existed, err = s.DeleteBlock(ctx, 1)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestMemoryStore_ExpiredBlocks(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	now := clock.Now()
	require.NoError(t, s.PutBlock(ctx, &Block{Actor: 1, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.PutBlock(ctx, &Block{Actor: 2, ExpiresAt: now.Add(3 * time.Hour)}))
	require.NoError(t, s.PutBlock(ctx, &Block{Actor: 3})) // permanent

	expired, err := s.ExpiredBlocks(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(1), expired[0].Actor)

	// Permanent blocks never show up, however far ahead we look.
	expired, err = s.ExpiredBlocks(ctx, now.Add(1000*time.Hour))
	require.NoError(t, err)
	assert.Len(t, expired, 2)
}

func TestMemoryStore_Events(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	record := func(actor int64, eventType audit.EventType) {
		event := audit.NewEvent(eventType, actor, audit.SeverityWarning)
		event.Timestamp = clock.Now()
		require.NoError(t, s.AppendEvent(ctx, event))
	}

	record(1, audit.EventSuspiciousMessage)
	record(1, audit.EventSuspiciousMessage)
	record(2, audit.EventSuspiciousMessage)
	record(1, audit.EventRateLimitExceeded)

	count, err := s.CountActorEvents(ctx, 1, audit.EventSuspiciousMessage, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = s.CountEvents(ctx, audit.EventSuspiciousMessage, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	count, err = s.CountEvents(ctx, audit.EventRateLimitExceeded, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Events age out of the trailing window.
	clock.Advance(25 * time.Hour)
	count, err = s.CountActorEvents(ctx, 1, audit.EventSuspiciousMessage, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemoryStore_EventRetention(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now), WithEventRetention(time.Hour))
	ctx := context.Background()

	old := audit.NewEvent(audit.EventSuspiciousMessage, 1, audit.SeverityWarning)
	old.Timestamp = clock.Now()
	require.NoError(t, s.AppendEvent(ctx, old))

	clock.Advance(2 * time.Hour)
	fresh := audit.NewEvent(audit.EventSuspiciousMessage, 1, audit.SeverityWarning)
	fresh.Timestamp = clock.Now()
	require.NoError(t, s.AppendEvent(ctx, fresh))

	assert.Len(t, s.events, 1)
}

func TestMemoryStore_PingClose(t *testing.T) {
	s := NewMemoryStore()
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())
}
