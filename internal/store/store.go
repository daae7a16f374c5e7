// Package store provides persistence for rate counters, blocks and the
// audit log. Two implementations exist: an in-memory store for single
// instance deployments and tests, and a Redis store for shared state.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/clubkit/botguard/internal/audit"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// RateCounter is the fixed-window counter state for one actor and action.
type RateCounter struct {
	// Actor is the external identity the counter belongs to.
	Actor int64 `json:"actor"`

	// Action is the action kind being counted.
	Action string `json:"action"`

	// Count is the number of events observed in the current window,
	// including the event that produced this snapshot.
	Count int64 `json:"count"`

	// WindowStart is when the current window opened. The window is
	// anchored at the first event after expiry, not at wall-clock
	// boundaries.
	WindowStart time.Time `json:"window_start"`

	// LastActivity is when the actor was last seen.
	LastActivity time.Time `json:"last_activity"`
}

// Block is a blocklist entry for one actor.
type Block struct {
	// Actor is the blocked identity.
	Actor int64 `json:"actor"`

	// Reason is the operator-visible reason for the block.
	Reason string `json:"reason"`

	// BlockedBy is the operator who imposed the block, or zero for
	// automatic blocks.
	BlockedBy int64 `json:"blocked_by"`

	// BlockedAt is when the block was imposed.
	BlockedAt time.Time `json:"blocked_at"`

	// ExpiresAt is when the block lapses. The zero time means the block
	// is permanent.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the block has lapsed at the given instant.
// Permanent blocks never expire.
func (b *Block) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && !now.Before(b.ExpiresAt)
}

// Store is the persistence surface for the security core. Implementations
// must be safe for concurrent use.
type Store interface {
	audit.EventStore

	// IncrementRate atomically advances the fixed-window counter for the
	// actor and action. When no counter exists, or the window has lapsed
	// (now minus window start is at least the window duration), a fresh
	// window is opened with count one; otherwise the count is
	// incremented. The returned snapshot reflects the state after the
	// increment.
	IncrementRate(ctx context.Context, actor int64, action string, window time.Duration) (*RateCounter, error)

	// GetRateCounter returns the counter for the actor and action, or
	// ErrNotFound when the actor has not been seen.
	GetRateCounter(ctx context.Context, actor int64, action string) (*RateCounter, error)

	// PutBlock upserts a block entry.
	PutBlock(ctx context.Context, block *Block) error

	// GetBlock returns the block entry for the actor, expired or not, or
	// ErrNotFound when none exists.
	GetBlock(ctx context.Context, actor int64) (*Block, error)

	// DeleteBlock removes the block entry for the actor. The first
	// return reports whether an entry existed.
	DeleteBlock(ctx context.Context, actor int64) (bool, error)

	// ExpiredBlocks returns the blocks that have lapsed at the given
	// instant.
	ExpiredBlocks(ctx context.Context, now time.Time) ([]*Block, error)

	// CountBlocks returns the number of block entries, active and
	// lapsed alike.
	CountBlocks(ctx context.Context) (int64, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
