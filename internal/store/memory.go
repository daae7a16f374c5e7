package store

import (
	"context"
	"sync"
	"time"

	"github.com/clubkit/botguard/internal/audit"
)

// defaultEventRetention bounds how long the in-memory store keeps audit
// events. Trailing-window queries never look further back than a day, so a
// week leaves ample headroom.
const defaultEventRetention = 7 * 24 * time.Hour

// rateKey identifies a fixed-window counter.
type rateKey struct {
	actor  int64
	action string
}

// rateEntry is one counter with its own lock, so contention stays scoped
// to a single (actor, action) key.
type rateEntry struct {
	mu      sync.Mutex
	counter RateCounter
}

// MemoryStore is an in-memory Store for single instance deployments and
// tests.
type MemoryStore struct {
	rates sync.Map // rateKey -> *rateEntry

	blocksMu sync.RWMutex
	blocks   map[int64]*Block

	eventsMu  sync.RWMutex
	events    []*audit.Event
	retention time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// MemoryOption is a functional option for the memory store.
type MemoryOption func(*MemoryStore)

// WithEventRetention overrides how long audit events are kept.
func WithEventRetention(retention time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.retention = retention
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		blocks:    make(map[int64]*Block),
		retention: defaultEventRetention,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// IncrementRate implements Store.
func (s *MemoryStore) IncrementRate(_ context.Context, actor int64, action string, window time.Duration) (*RateCounter, error) {
	now := s.now().UTC()

	v, _ := s.rates.LoadOrStore(rateKey{actor: actor, action: action}, &rateEntry{})
	entry := v.(*rateEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	counter := &entry.counter
	if counter.Count == 0 || now.Sub(counter.WindowStart) >= window {
		*counter = RateCounter{
			Actor:       actor,
			Action:      action,
			Count:       1,
			WindowStart: now,
		}
	} else {
		counter.Count++
	}
	counter.LastActivity = now

	snapshot := *counter
	return &snapshot, nil
}

// GetRateCounter implements Store.
func (s *MemoryStore) GetRateCounter(_ context.Context, actor int64, action string) (*RateCounter, error) {
	v, ok := s.rates.Load(rateKey{actor: actor, action: action})
	if !ok {
		return nil, ErrNotFound
	}
	entry := v.(*rateEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.counter.Count == 0 {
		return nil, ErrNotFound
	}

	snapshot := entry.counter
	return &snapshot, nil
}

// PutBlock implements Store.
func (s *MemoryStore) PutBlock(_ context.Context, block *Block) error {
	s.blocksMu.Lock()
	defer s.blocksMu.Unlock()

	entry := *block
	s.blocks[block.Actor] = &entry
	return nil
}

// GetBlock implements Store.
func (s *MemoryStore) GetBlock(_ context.Context, actor int64) (*Block, error) {
	s.blocksMu.RLock()
	defer s.blocksMu.RUnlock()

	block, ok := s.blocks[actor]
	if !ok {
		return nil, ErrNotFound
	}

	snapshot := *block
	return &snapshot, nil
}

// DeleteBlock implements Store.
func (s *MemoryStore) DeleteBlock(_ context.Context, actor int64) (bool, error) {
	s.blocksMu.Lock()
	defer s.blocksMu.Unlock()

	_, ok := s.blocks[actor]
	delete(s.blocks, actor)
	return ok, nil
}

// ExpiredBlocks implements Store.
func (s *MemoryStore) ExpiredBlocks(_ context.Context, now time.Time) ([]*Block, error) {
	s.blocksMu.RLock()
	defer s.blocksMu.RUnlock()

	var expired []*Block
	for _, block := range s.blocks {
		if block.Expired(now) {
			snapshot := *block
			expired = append(expired, &snapshot)
		}
	}
	return expired, nil
}

// CountBlocks implements Store.
func (s *MemoryStore) CountBlocks(_ context.Context) (int64, error) {
	s.blocksMu.RLock()
	defer s.blocksMu.RUnlock()

	return int64(len(s.blocks)), nil
}

// AppendEvent implements audit.EventStore.
func (s *MemoryStore) AppendEvent(_ context.Context, event *audit.Event) error {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	entry := *event
	s.events = append(s.events, &entry)
	s.pruneEventsLocked()
	return nil
}

// pruneEventsLocked drops events older than the retention horizon. Events
// arrive in roughly chronological order, so scanning from the front finds
// the cut point cheaply.
func (s *MemoryStore) pruneEventsLocked() {
	horizon := s.now().UTC().Add(-s.retention)

	cut := 0
	for cut < len(s.events) && s.events[cut].Timestamp.Before(horizon) {
		cut++
	}
	if cut > 0 {
		s.events = append([]*audit.Event(nil), s.events[cut:]...)
	}
}

// CountActorEvents implements audit.EventStore.
func (s *MemoryStore) CountActorEvents(_ context.Context, actor int64, eventType audit.EventType, since time.Duration) (int64, error) {
	horizon := s.now().UTC().Add(-since)

	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()

	var count int64
	for _, event := range s.events {
		if event.Actor == actor && event.Type == eventType && !event.Timestamp.Before(horizon) {
			count++
		}
	}
	return count, nil
}

// CountEvents implements audit.EventStore.
func (s *MemoryStore) CountEvents(_ context.Context, eventType audit.EventType, since time.Duration) (int64, error) {
	horizon := s.now().UTC().Add(-since)

	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()

	var count int64
	for _, event := range s.events {
		if event.Type == eventType && !event.Timestamp.Before(horizon) {
			count++
		}
	}
	return count, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// Ensure MemoryStore satisfies the interface.
var _ Store = (*MemoryStore)(nil)
