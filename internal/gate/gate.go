// Package gate is the decision point every inbound event passes through
// before the rest of the system sees it. It chains the blocklist, the
// rate limiter and the threat detector, short-circuiting at the first
// refusal, and exposes the operator-only administrative surface.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/clubkit/botguard/internal/audit"
	"github.com/clubkit/botguard/internal/blocklist"
	"github.com/clubkit/botguard/internal/ratelimit"
	"github.com/clubkit/botguard/internal/threat"
	"github.com/clubkit/botguard/internal/validation"
)

// ErrNotOperator is returned when a non-operator invokes an administrative
// operation.
var ErrNotOperator = errors.New("gate: caller is not an operator")

// Refusal reasons.
const (
	ReasonBlocked       = "blocked"
	ReasonRateLimited   = "rate_limited"
	ReasonAttackPattern = "attack_pattern"
)

// Notices sent to refused actors. Deliberately uniform and non-revealing:
// they never echo which pattern matched or what the limits are.
const (
	noticeBlocked     = "Your access is blocked."
	noticeRateLimited = "Too many requests. Please slow down."
	noticeRejected    = "Your message could not be processed."
)

// maxExcerptLen bounds how much of an offending message the audit log
// keeps.
const maxExcerptLen = 100

// InboundEvent is one event arriving from the outside.
type InboundEvent struct {
	// Actor is the external identity that produced the event.
	Actor int64

	// Kind is the action kind, one of the configured rate limit actions.
	Kind string

	// Text is the free-text payload, empty for non-text events.
	Text string

	// ChatID and MessageID locate the originating message for best
	// effort deletion. Zero values mean the location is unknown.
	ChatID    int64
	MessageID int
}

// Decision is the outcome of gating one inbound event.
type Decision struct {
	// Allowed reports whether the event may proceed.
	Allowed bool

	// Reason is the refusal reason, empty when allowed.
	Reason string

	// Notice is the text to show the actor, empty when allowed.
	Notice string

	// RetryAfter is how long a rate-limited actor should wait. Zero for
	// other refusals.
	RetryAfter time.Duration
}

// Messenger removes offending content at the transport layer and alerts
// operators. All delivery is best effort; refusal notices travel back to
// the handler layer inside the Decision instead.
type Messenger interface {
	AlertOperators(ctx context.Context, text string)
	DeleteMessage(ctx context.Context, chat int64, messageID int)
}

// AutoBlockPolicy configures escalation on repeated suspicious content.
type AutoBlockPolicy struct {
	// Threshold is the number of threat-matched events within Window
	// that triggers an automatic block.
	Threshold int

	// Window is the trailing duration over which offenses are counted.
	Window time.Duration

	// BlockDuration is how long the automatic block lasts.
	BlockDuration time.Duration
}

// Status is the security overview returned to operators.
type Status struct {
	// BlockedCount is the number of blocklist entries.
	BlockedCount int64 `json:"blocked_count"`

	// Suspicious24h is the number of threat-matched events in the last
	// 24 hours, across all actors.
	Suspicious24h int64 `json:"suspicious_24h"`

	// RateViolations24h is the number of rate limit refusals in the
	// last 24 hours, across all actors.
	RateViolations24h int64 `json:"rate_violations_24h"`
}

// Gate chains the access checks and exposes the administrative surface.
type Gate struct {
	registry  *blocklist.Registry
	limiter   *ratelimit.Limiter
	detector  *threat.Detector
	validator *validation.Validator
	recorder  audit.Recorder
	messenger Messenger
	operators map[int64]struct{}
	autoBlock AutoBlockPolicy
	logger    *zap.Logger
	metrics   *metrics
}

// metrics contains gate metrics.
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
				Subsystem: "gate",
				Name:      "decisions_total",
				Help:      "Total number of gate decisions",
			},
			[]string{"outcome"},
		),
	}

	_ = registerer.Register(m.decisions)

	return m
}

// Option is a functional option for the gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithRegisterer sets the Prometheus registerer for gate metrics.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(g *Gate) {
		g.metrics = newMetrics(registerer)
	}
}

// Config collects the gate's collaborators.
type Config struct {
	Registry  *blocklist.Registry
	Limiter   *ratelimit.Limiter
	Detector  *threat.Detector
	Validator *validation.Validator
	Recorder  audit.Recorder
	Messenger Messenger
	Operators []int64
	AutoBlock AutoBlockPolicy
}

// New creates a Gate.
func New(cfg Config, opts ...Option) *Gate {
	operators := make(map[int64]struct{}, len(cfg.Operators))
	for _, op := range cfg.Operators {
		operators[op] = struct{}{}
	}

	g := &Gate{
		registry:  cfg.Registry,
		limiter:   cfg.Limiter,
		detector:  cfg.Detector,
		validator: cfg.Validator,
		recorder:  cfg.Recorder,
		messenger: cfg.Messenger,
		operators: operators,
		autoBlock: cfg.AutoBlock,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.recorder == nil {
		g.recorder = audit.NewNopRecorder()
	}
	if g.metrics == nil {
		g.metrics = newMetrics(prometheus.DefaultRegisterer)
	}

	return g
}

// PreProcess gates one inbound event. Checks run in a fixed order and the
// first refusal wins: blocklist, then rate limit, then threat scan. A
// failing check infrastructure never refuses the event; the gate fails
// open and operators are alerted through the collaborators.
func (g *Gate) PreProcess(ctx context.Context, event InboundEvent) Decision {
	if decision, refused := g.checkBlocked(ctx, event); refused {
		g.metrics.decisions.WithLabelValues(ReasonBlocked).Inc()
		return decision
	}

	if decision, refused := g.checkRate(ctx, event); refused {
		g.metrics.decisions.WithLabelValues(ReasonRateLimited).Inc()
		return decision
	}

	if decision, refused := g.checkThreat(ctx, event); refused {
		g.metrics.decisions.WithLabelValues(ReasonAttackPattern).Inc()
		return decision
	}

	g.metrics.decisions.WithLabelValues("allowed").Inc()
	return Decision{Allowed: true}
}

// checkBlocked refuses events from blocked actors.
func (g *Gate) checkBlocked(ctx context.Context, event InboundEvent) (Decision, bool) {
	blocked, _, err := g.registry.IsBlocked(ctx, event.Actor)
	if err != nil {
		// Fail open: an unreachable store must not lock everyone out.
		g.logger.Error("block check failed, allowing event",
			zap.Int64("actor", event.Actor),
			zap.Error(err),
		)
		if g.messenger != nil {
			g.messenger.AlertOperators(ctx, fmt.Sprintf(
				"Block check store failure, failing open: %v", err))
		}
		return Decision{}, false
	}
	if !blocked {
		return Decision{}, false
	}

	g.recorder.Record(ctx, audit.NewEvent(audit.EventBlockedAttempt, event.Actor, audit.SeverityInfo).
		WithDetail("kind", event.Kind))

	return Decision{Reason: ReasonBlocked, Notice: noticeBlocked}, true
}

// checkRate refuses events past the actor's rate limit.
func (g *Gate) checkRate(ctx context.Context, event InboundEvent) (Decision, bool) {
	result := g.limiter.Check(ctx, event.Actor, event.Kind)
	if result.Allowed {
		return Decision{}, false
	}

	g.recorder.Record(ctx, audit.NewEvent(audit.EventRateLimitExceeded, event.Actor, audit.SeverityWarning).
		WithDetail("kind", event.Kind).
		WithDetail("count", result.Count).
		WithDetail("limit", result.Limit))

	return Decision{
		Reason:     ReasonRateLimited,
		Notice:     noticeRateLimited,
		RetryAfter: result.RetryAfter,
	}, true
}

// checkThreat refuses events whose text matches an attack signature and
// escalates repeat offenders to an automatic block.
func (g *Gate) checkThreat(ctx context.Context, event InboundEvent) (Decision, bool) {
	if event.Text == "" {
		return Decision{}, false
	}

	matched, pattern := g.detector.Scan(event.Text)
	if !matched {
		return Decision{}, false
	}

	g.recorder.Record(ctx, audit.NewEvent(audit.EventSuspiciousMessage, event.Actor, audit.SeverityWarning).
		WithDetail("pattern", pattern).
		WithDetail("excerpt", excerpt(event.Text)))

	g.logger.Warn("suspicious message refused",
		zap.Int64("actor", event.Actor),
		zap.String("pattern", pattern),
	)

	if g.messenger != nil {
		// Operators see which signature fired; the actor never does.
		g.messenger.AlertOperators(ctx, fmt.Sprintf(
			"Suspicious message from actor %d matched signature %q", event.Actor, pattern))
		if event.MessageID != 0 {
			g.messenger.DeleteMessage(ctx, event.ChatID, event.MessageID)
		}
	}

	g.escalate(ctx, event.Actor)

	return Decision{Reason: ReasonAttackPattern, Notice: noticeRejected}, true
}

// escalate blocks the actor when their recent offense count reaches the
// auto-block threshold.
func (g *Gate) escalate(ctx context.Context, actor int64) {
	if g.autoBlock.Threshold <= 0 {
		return
	}

	count, err := g.recorder.CountActor(ctx, actor, audit.EventSuspiciousMessage, g.autoBlock.Window)
	if err != nil {
		g.logger.Error("offense count failed, skipping escalation",
			zap.Int64("actor", actor),
			zap.Error(err),
		)
		if g.messenger != nil {
			g.messenger.AlertOperators(ctx, fmt.Sprintf(
				"Offense count store failure, skipping auto-block escalation for actor %d: %v",
				actor, err))
		}
		return
	}
	if count < int64(g.autoBlock.Threshold) {
		return
	}

	reason := "Automated block: repeated suspicious content"

	// The registry alerts operators about the new block.
	if err := g.registry.Block(ctx, actor, reason, 0, g.autoBlock.BlockDuration); err != nil {
		g.logger.Error("automatic block failed",
			zap.Int64("actor", actor),
			zap.Error(err),
		)
	}
}

// excerpt bounds offending text for the audit log.
func excerpt(text string) string {
	if len(text) <= maxExcerptLen {
		return text
	}
	return text[:maxExcerptLen]
}

// IsOperator reports whether the actor may invoke administrative
// operations.
func (g *Gate) IsOperator(actor int64) bool {
	_, ok := g.operators[actor]
	return ok
}

// Block imposes a block on target. Only operators may call it.
func (g *Gate) Block(ctx context.Context, operator, target int64, reason string, duration time.Duration) error {
	if !g.IsOperator(operator) {
		return ErrNotOperator
	}
	return g.registry.Block(ctx, target, reason, operator, duration)
}

// Unblock lifts a block on target. Only operators may call it. The first
// return reports whether a block existed.
func (g *Gate) Unblock(ctx context.Context, operator, target int64) (bool, error) {
	if !g.IsOperator(operator) {
		return false, ErrNotOperator
	}
	return g.registry.Unblock(ctx, target, operator)
}

// Status returns the security overview. Only operators may call it.
func (g *Gate) Status(ctx context.Context, operator int64) (*Status, error) {
	if !g.IsOperator(operator) {
		return nil, ErrNotOperator
	}
	return g.Overview(ctx)
}

// Overview returns the security overview without an operator check. It
// backs internal surfaces such as the ops server.
func (g *Gate) Overview(ctx context.Context) (*Status, error) {
	blocked, err := g.registry.CountBlocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("count blocked: %w", err)
	}

	suspicious, err := g.recorder.Count(ctx, audit.EventSuspiciousMessage, 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("count suspicious events: %w", err)
	}

	violations, err := g.recorder.Count(ctx, audit.EventRateLimitExceeded, 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("count rate violations: %w", err)
	}

	return &Status{
		BlockedCount:      blocked,
		Suspicious24h:     suspicious,
		RateViolations24h: violations,
	}, nil
}

// ValidateInput reports whether value is syntactically valid for the given
// structured field type.
func (g *Gate) ValidateInput(fieldType, value string) bool {
	if g.validator == nil {
		return true
	}
	return g.validator.Validate(fieldType, value)
}
