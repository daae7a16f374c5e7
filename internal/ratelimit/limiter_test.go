package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubkit/botguard/internal/store"
)

// recordingAlerter captures operator alerts.
type recordingAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *recordingAlerter) AlertOperators(_ context.Context, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, text)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

// failingRateStore always errors.
type failingRateStore struct{}

func (failingRateStore) IncrementRate(_ context.Context, _ int64, _ string, _ time.Duration) (*store.RateCounter, error) {
	return nil, errors.New("store down")
}

func newTestLimiter(t *testing.T, limits map[string]Limit, opts ...Option) (*Limiter, *store.MemoryStore) {
	t.Helper()

	memStore := store.NewMemoryStore()
	opts = append(opts, WithRegisterer(prometheus.NewRegistry()))
	return New(memStore, limits, opts...), memStore
}

func TestLimiter_Check_WithinLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string]Limit{
		"message": {Events: 30, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		result := limiter.Check(ctx, 1, "message")
		require.True(t, result.Allowed, "event %d should be allowed", i)
		assert.Equal(t, int64(i), result.Count)
	}
}

func TestLimiter_Check_Exceeded(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string]Limit{
		"message": {Events: 30, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		require.True(t, limiter.Check(ctx, 1, "message").Allowed)
	}

	result := limiter.Check(ctx, 1, "message")
	assert.False(t, result.Allowed)
	assert.Equal(t, int64(31), result.Count)
	assert.Equal(t, 30, result.Limit)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, result.RetryAfter, time.Minute)
}

func TestLimiter_Check_IndependentActors(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string]Limit{
		"message": {Events: 2, Window: time.Minute},
	})
	ctx := context.Background()

	require.True(t, limiter.Check(ctx, 1, "message").Allowed)
	require.True(t, limiter.Check(ctx, 1, "message").Allowed)
	assert.False(t, limiter.Check(ctx, 1, "message").Allowed)

	// A different actor still has a fresh window.
	assert.True(t, limiter.Check(ctx, 2, "message").Allowed)
}

func TestLimiter_Check_UnknownActionAllowed(t *testing.T) {
	limiter, _ := newTestLimiter(t, map[string]Limit{
		"message": {Events: 1, Window: time.Minute},
	})

	result := limiter.Check(context.Background(), 1, "inline_query")
	assert.True(t, result.Allowed)
	assert.Zero(t, result.Limit)
}

func TestLimiter_Check_FailsOpen(t *testing.T) {
	alerter := &recordingAlerter{}
	limiter := New(failingRateStore{},
		map[string]Limit{"message": {Events: 1, Window: time.Minute}},
		WithAlerter(alerter),
		WithRegisterer(prometheus.NewRegistry()),
	)

	// Every check passes despite the broken store, and operators hear
	// about it.
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Check(context.Background(), 1, "message").Allowed)
	}
	assert.Equal(t, 5, alerter.count())
}

func TestLimiter_Check_EscalationAlert(t *testing.T) {
	alerter := &recordingAlerter{}
	limiter, _ := newTestLimiter(t, map[string]Limit{
		"message": {Events: 5, Window: time.Minute},
	}, WithAlerter(alerter))
	ctx := context.Background()

	// Flood far past the limit. The alert fires exactly once, at the
	// first event past double the limit.
	for i := 0; i < 20; i++ {
		limiter.Check(ctx, 1, "message")
	}
	assert.Equal(t, 1, alerter.count())
}
