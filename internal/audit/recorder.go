// Package audit provides the append-only record of security-relevant
// events and trailing-window queries over it.
package audit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EventStore is the persistence surface the recorder writes to.
type EventStore interface {
	// AppendEvent appends an event. Events are never updated or deleted.
	AppendEvent(ctx context.Context, event *Event) error

	// CountActorEvents counts events of the given type for one actor
	// within the trailing duration.
	CountActorEvents(ctx context.Context, actor int64, eventType EventType, since time.Duration) (int64, error)

	// CountEvents counts events of the given type within the trailing
	// duration.
	CountEvents(ctx context.Context, eventType EventType, since time.Duration) (int64, error)
}

// Recorder writes security events and answers trailing-window counts.
type Recorder interface {
	// Record appends an event. Persistence failures are logged and
	// counted but never propagated; a lost audit record must not fail
	// the interaction that produced it.
	Record(ctx context.Context, event *Event)

	// CountActor counts an actor's events of the given type within the
	// trailing duration.
	CountActor(ctx context.Context, actor int64, eventType EventType, since time.Duration) (int64, error)

	// Count counts events of the given type within the trailing duration.
	Count(ctx context.Context, eventType EventType, since time.Duration) (int64, error)
}

// Metrics contains audit metrics.
type Metrics struct {
	eventsTotal    *prometheus.CounterVec
	appendFailures prometheus.Counter
}

// NewMetrics creates audit metrics registered with the given registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "botguard",
				Subsystem: "audit",
				Name:      "events_total",
				Help:      "Total number of security events recorded",
			},
			[]string{"type", "severity"},
		),
		appendFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "botguard",
				Subsystem: "audit",
				Name:      "append_failures_total",
				Help:      "Total number of failed audit appends",
			},
		),
	}

	// Duplicate registration is safe to ignore, descriptors are identical.
	_ = registerer.Register(m.eventsTotal)
	_ = registerer.Register(m.appendFailures)

	return m
}

// recorder is the store-backed Recorder.
type recorder struct {
	store   EventStore
	logger  *zap.Logger
	metrics *Metrics
}

// RecorderOption is a functional option for the recorder.
type RecorderOption func(*recorder)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) RecorderOption {
	return func(r *recorder) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) RecorderOption {
	return func(r *recorder) {
		r.metrics = metrics
	}
}

// NewRecorder creates a store-backed Recorder.
func NewRecorder(store EventStore, opts ...RecorderOption) Recorder {
	r := &recorder{
		store:  store,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.metrics == nil {
		r.metrics = NewMetrics(prometheus.DefaultRegisterer)
	}

	return r
}

// Record implements Recorder.
func (r *recorder) Record(ctx context.Context, event *Event) {
	if event == nil {
		return
	}

	if event.TraceID == "" {
		event.TraceID = extractTraceID(ctx)
	}

	r.metrics.eventsTotal.WithLabelValues(string(event.Type), string(event.Severity)).Inc()

	if err := r.store.AppendEvent(ctx, event); err != nil {
		r.metrics.appendFailures.Inc()
		r.logger.Error("failed to append security event",
			zap.String("event_type", string(event.Type)),
			zap.Int64("actor", event.Actor),
			zap.Error(err),
		)
		return
	}

	r.logger.Debug("security event recorded",
		zap.String("event_type", string(event.Type)),
		zap.Int64("actor", event.Actor),
		zap.String("severity", string(event.Severity)),
	)
}

// CountActor implements Recorder.
func (r *recorder) CountActor(ctx context.Context, actor int64, eventType EventType, since time.Duration) (int64, error) {
	return r.store.CountActorEvents(ctx, actor, eventType, since)
}

// Count implements Recorder.
func (r *recorder) Count(ctx context.Context, eventType EventType, since time.Duration) (int64, error) {
	return r.store.CountEvents(ctx, eventType, since)
}

// extractTraceID extracts the trace ID from the OpenTelemetry span context.
// Returns an empty string when no valid trace context is present.
func extractTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// nopRecorder discards all events.
type nopRecorder struct{}

// NewNopRecorder creates a Recorder that discards everything.
func NewNopRecorder() Recorder {
	return &nopRecorder{}
}

func (nopRecorder) Record(_ context.Context, _ *Event) {}

func (nopRecorder) CountActor(_ context.Context, _ int64, _ EventType, _ time.Duration) (int64, error) {
	return 0, nil
}

func (nopRecorder) Count(_ context.Context, _ EventType, _ time.Duration) (int64, error) {
	return 0, nil
}

// Ensure implementations satisfy the interface.
var (
	_ Recorder = (*recorder)(nil)
	_ Recorder = (nopRecorder{})
)
