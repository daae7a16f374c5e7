// Package blocklist manages the set of blocked actors: imposing and
// lifting blocks, answering block checks, and sweeping lapsed entries.
package blocklist

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/clubkit/botguard/internal/audit"
	"github.com/clubkit/botguard/internal/store"
)

// BlockStore is the subset of the store the registry needs.
type BlockStore interface {
	PutBlock(ctx context.Context, block *store.Block) error
	GetBlock(ctx context.Context, actor int64) (*store.Block, error)
	DeleteBlock(ctx context.Context, actor int64) (bool, error)
	ExpiredBlocks(ctx context.Context, now time.Time) ([]*store.Block, error)
	CountBlocks(ctx context.Context) (int64, error)
}

// Notifier delivers best-effort notifications to actors.
type Notifier interface {
	NotifyActor(ctx context.Context, actor int64, text string)
}

// Alerter delivers best-effort alerts to operators.
type Alerter interface {
	AlertOperators(ctx context.Context, text string)
}

// Registry manages block entries over the store, writing an audit event
// for every state change.
type Registry struct {
	store    BlockStore
	recorder audit.Recorder
	notifier Notifier
	alerter  Alerter
	logger   *zap.Logger
	metrics  *metrics

	now func() time.Time
}

// metrics contains blocklist metrics.
type metrics struct {
	swept prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &metrics{
		swept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "botguard",
				Subsystem: "blocklist",
				Name:      "swept_total",
				Help:      "Total number of expired blocks removed by the sweeper",
			},
		),
	}

	_ = registerer.Register(m.swept)

	return m
}

// Option is a functional option for the registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithNotifier sets the actor notifier.
func WithNotifier(notifier Notifier) Option {
	return func(r *Registry) {
		r.notifier = notifier
	}
}

// WithAlerter sets the operator alerter.
func WithAlerter(alerter Alerter) Option {
	return func(r *Registry) {
		r.alerter = alerter
	}
}

// WithRegisterer sets the Prometheus registerer for blocklist metrics.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(r *Registry) {
		r.metrics = newMetrics(registerer)
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a Registry over the given store.
func New(blockStore BlockStore, recorder audit.Recorder, opts ...Option) *Registry {
	r := &Registry{
		store:    blockStore,
		recorder: recorder,
		logger:   zap.NewNop(),
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.recorder == nil {
		r.recorder = audit.NewNopRecorder()
	}
	if r.metrics == nil {
		r.metrics = newMetrics(prometheus.DefaultRegisterer)
	}

	return r
}

// Block blocks an actor for the given duration. A non-positive duration
// means the block is permanent. blockedBy is the operator imposing the
// block, or zero for automatic blocks. Blocking an already blocked actor
// replaces the existing entry.
func (r *Registry) Block(ctx context.Context, actor int64, reason string, blockedBy int64, duration time.Duration) error {
	now := r.now().UTC()

	block := &store.Block{
		Actor:     actor,
		Reason:    reason,
		BlockedBy: blockedBy,
		BlockedAt: now,
	}
	if duration > 0 {
		block.ExpiresAt = now.Add(duration)
	}

	if err := r.store.PutBlock(ctx, block); err != nil {
		return fmt.Errorf("block actor %d: %w", actor, err)
	}

	event := audit.NewEvent(audit.EventUserBlocked, actor, audit.SeverityWarning).
		WithDetail("reason", reason).
		WithDetail("blocked_by", blockedBy)
	if !block.ExpiresAt.IsZero() {
		event.WithDetail("expires_at", block.ExpiresAt.Format(time.RFC3339))
	}
	r.recorder.Record(ctx, event)

	r.logger.Info("actor blocked",
		zap.Int64("actor", actor),
		zap.String("reason", reason),
		zap.Int64("blocked_by", blockedBy),
		zap.Time("expires_at", block.ExpiresAt),
	)

	if r.notifier != nil {
		r.notifier.NotifyActor(ctx, actor, blockedNotice(block))
	}
	if r.alerter != nil {
		r.alerter.AlertOperators(ctx, blockedAlert(block))
	}

	return nil
}

// Unblock removes an actor's block entry. The first return reports whether
// an entry existed.
func (r *Registry) Unblock(ctx context.Context, actor int64, unblockedBy int64) (bool, error) {
	existed, err := r.store.DeleteBlock(ctx, actor)
	if err != nil {
		return false, fmt.Errorf("unblock actor %d: %w", actor, err)
	}
	if !existed {
		return false, nil
	}

	r.recorder.Record(ctx, audit.NewEvent(audit.EventUserUnblocked, actor, audit.SeverityInfo).
		WithDetail("unblocked_by", unblockedBy))

	r.logger.Info("actor unblocked",
		zap.Int64("actor", actor),
		zap.Int64("unblocked_by", unblockedBy),
	)

	if r.notifier != nil {
		r.notifier.NotifyActor(ctx, actor, "Your access has been restored.")
	}
	if r.alerter != nil {
		r.alerter.AlertOperators(ctx, fmt.Sprintf(
			"Actor %d unblocked by operator %d", actor, unblockedBy))
	}

	return true, nil
}

// IsBlocked reports whether the actor has a block entry. Expiry is not
// checked here: a lapsed block stays enforced until the sweeper removes
// it, so staleness is bounded by the sweep interval.
func (r *Registry) IsBlocked(ctx context.Context, actor int64) (bool, *store.Block, error) {
	block, err := r.store.GetBlock(ctx, actor)
	if store.IsNotFound(err) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("check block for actor %d: %w", actor, err)
	}

	return true, block, nil
}

// SweepExpired removes all lapsed block entries and returns how many were
// removed. Each removal gets an audit event.
func (r *Registry) SweepExpired(ctx context.Context) (int, error) {
	now := r.now().UTC()

	expired, err := r.store.ExpiredBlocks(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired blocks: %w", err)
	}

	removed := 0
	for _, block := range expired {
		existed, err := r.store.DeleteBlock(ctx, block.Actor)
		if err != nil {
			return removed, fmt.Errorf("remove expired block for actor %d: %w", block.Actor, err)
		}
		if !existed {
			continue
		}

		removed++
		r.metrics.swept.Inc()
		r.recorder.Record(ctx, audit.NewEvent(audit.EventUserUnblocked, block.Actor, audit.SeverityInfo).
			WithDetail("expired", true).
			WithDetail("reason", block.Reason))
	}

	if removed > 0 {
		r.logger.Info("expired blocks removed", zap.Int("count", removed))
	}

	return removed, nil
}

// CountBlocked returns the number of block entries.
func (r *Registry) CountBlocked(ctx context.Context) (int64, error) {
	return r.store.CountBlocks(ctx)
}

// blockedNotice is the text sent to a newly blocked actor.
func blockedNotice(block *store.Block) string {
	if block.ExpiresAt.IsZero() {
		return fmt.Sprintf("You have been blocked.\nReason: %s", block.Reason)
	}
	return fmt.Sprintf("You have been blocked until %s.\nReason: %s",
		block.ExpiresAt.Format("2006-01-02 15:04 MST"), block.Reason)
}

// blockedAlert is the text sent to operators about a new block.
func blockedAlert(block *store.Block) string {
	until := "permanently"
	if !block.ExpiresAt.IsZero() {
		until = "until " + block.ExpiresAt.Format("2006-01-02 15:04 MST")
	}
	if block.BlockedBy == 0 {
		return fmt.Sprintf("Actor %d automatically blocked %s: %s",
			block.Actor, until, block.Reason)
	}
	return fmt.Sprintf("Actor %d blocked %s by operator %d: %s",
		block.Actor, until, block.BlockedBy, block.Reason)
}
