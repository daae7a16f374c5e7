// Package ratelimit provides per-actor fixed-window rate limiting over the
// shared store. Windows are anchored at the first event after expiry
// rather than at wall-clock boundaries, so a burst straddling a boundary
// can legitimately pass up to twice the limit.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/clubkit/botguard/internal/store"
)

// Limit is a fixed-window limit for one action kind.
type Limit struct {
	// Events is the maximum number of events allowed per window.
	Events int

	// Window is the fixed window duration.
	Window time.Duration
}

// Result is the outcome of a rate check.
type Result struct {
	// Allowed reports whether the event is within the limit.
	Allowed bool

	// Count is the number of events in the current window, including
	// this one.
	Count int64

	// Limit is the configured limit for the action, zero when the
	// action carries no limit.
	Limit int

	// RetryAfter is how long until the window lapses. Zero when the
	// event was allowed.
	RetryAfter time.Duration
}

// OperatorAlerter delivers alerts to operators. Delivery is best effort.
type OperatorAlerter interface {
	AlertOperators(ctx context.Context, text string)
}

// RateStore is the subset of the store the limiter needs.
type RateStore interface {
	IncrementRate(ctx context.Context, actor int64, action string, window time.Duration) (*store.RateCounter, error)
}

// Limiter enforces per-actor fixed-window limits.
type Limiter struct {
	store   RateStore
	limits  map[string]Limit
	alerter OperatorAlerter
	logger  *zap.Logger
	metrics *metrics

	now func() time.Time
}

// metrics contains rate limiter metrics.
type metrics struct {
	decisions *prometheus.CounterVec
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &metrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "botguard",
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Total number of rate limit decisions",
			},
			[]string{"action", "allowed"},
		),
	}

	_ = registerer.Register(m.decisions)

	return m
}

// Option is a functional option for the limiter.
type Option func(*Limiter)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithAlerter sets the operator alerter used for abuse escalation and
// store failure alerts.
func WithAlerter(alerter OperatorAlerter) Option {
	return func(l *Limiter) {
		l.alerter = alerter
	}
}

// WithRegisterer sets the Prometheus registerer for limiter metrics.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(l *Limiter) {
		l.metrics = newMetrics(registerer)
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a Limiter enforcing the given per-action limits. Actions
// without an entry are not limited.
func New(rateStore RateStore, limits map[string]Limit, opts ...Option) *Limiter {
	l := &Limiter{
		store:  rateStore,
		limits: limits,
		logger: zap.NewNop(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.metrics == nil {
		l.metrics = newMetrics(prometheus.DefaultRegisterer)
	}

	return l
}

// Check records one event for the actor and action and reports whether it
// is within the limit. On store failure the check fails open: the event is
// allowed, the failure is logged, and operators are alerted.
func (l *Limiter) Check(ctx context.Context, actor int64, action string) Result {
	limit, ok := l.limits[action]
	if !ok {
		return Result{Allowed: true}
	}

	counter, err := l.store.IncrementRate(ctx, actor, action, limit.Window)
	if err != nil {
		l.logger.Error("rate check failed, allowing event",
			zap.Int64("actor", actor),
			zap.String("action", action),
			zap.Error(err),
		)
		if l.alerter != nil {
			l.alerter.AlertOperators(ctx, fmt.Sprintf(
				"Rate limit store failure, failing open: %v", err))
		}
		return Result{Allowed: true, Limit: limit.Events}
	}

	allowed := counter.Count <= int64(limit.Events)
	l.metrics.decisions.WithLabelValues(action, strconv.FormatBool(allowed)).Inc()

	result := Result{
		Allowed: allowed,
		Count:   counter.Count,
		Limit:   limit.Events,
	}

	if !allowed {
		elapsed := l.now().UTC().Sub(counter.WindowStart)
		if remaining := limit.Window - elapsed; remaining > 0 {
			result.RetryAfter = remaining
		}

		l.logger.Warn("rate limit exceeded",
			zap.Int64("actor", actor),
			zap.String("action", action),
			zap.Int64("count", counter.Count),
			zap.Int("limit", limit.Events),
		)

		// Sustained flooding well past the limit gets one operator
		// alert per window, at the first event past double the limit.
		if l.alerter != nil && counter.Count == int64(2*limit.Events)+1 {
			l.alerter.AlertOperators(ctx, fmt.Sprintf(
				"Actor %d is flooding: %d %s events in the current window (limit %d)",
				actor, counter.Count, action, limit.Events))
		}
	}

	return result
}
