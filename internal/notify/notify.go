// Package notify delivers messages to actors and alerts to operators over
// a pluggable transport. All delivery is best effort: a messenger outage
// must never take the security gate down with it.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Transport is the messaging backend notifications go out on.
type Transport interface {
	// SendMessage delivers text to the recipient.
	SendMessage(ctx context.Context, recipient int64, text string) error

	// DeleteMessage removes a previously delivered message.
	DeleteMessage(ctx context.Context, chat int64, messageID int) error
}

// LogTransport is a Transport that only logs. It serves deployments
// without a wired messenger and tests.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport creates a log-only transport.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

// SendMessage implements Transport.
func (t *LogTransport) SendMessage(_ context.Context, recipient int64, text string) error {
	t.logger.Info("outbound message",
		zap.Int64("recipient", recipient),
		zap.String("text", text),
	)
	return nil
}

// DeleteMessage implements Transport.
func (t *LogTransport) DeleteMessage(_ context.Context, chat int64, messageID int) error {
	t.logger.Info("message deletion requested",
		zap.Int64("chat", chat),
		zap.Int("message_id", messageID),
	)
	return nil
}

// Sink sends notifications to actors and alerts to operators. A circuit
// breaker around the transport stops hammering a messenger that is down.
type Sink struct {
	transport Transport
	operators []int64
	logger    *zap.Logger
	breaker   *gobreaker.CircuitBreaker
}

// SinkOption is a functional option for the sink.
type SinkOption func(*Sink)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) SinkOption {
	return func(s *Sink) {
		s.logger = logger
	}
}

// NewSink creates a Sink delivering operator alerts to the given operator
// ids.
func NewSink(transport Transport, operators []int64, opts ...SinkOption) *Sink {
	s := &Sink{
		transport: transport,
		operators: operators,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "notify",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("notification breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return s
}

// send pushes one message through the breaker.
func (s *Sink) send(ctx context.Context, recipient int64, text string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.transport.SendMessage(ctx, recipient, text)
	})
	return err
}

// NotifyActor sends text to one actor. Failures are logged, never
// propagated.
func (s *Sink) NotifyActor(ctx context.Context, actor int64, text string) {
	if err := s.send(ctx, actor, text); err != nil {
		s.logger.Warn("actor notification failed",
			zap.Int64("actor", actor),
			zap.Error(err),
		)
	}
}

// AlertOperators sends text to every configured operator. Each delivery is
// attempted independently; one failing recipient does not stop the rest.
func (s *Sink) AlertOperators(ctx context.Context, text string) {
	alert := fmt.Sprintf("🚨 Security alert:\n%s", text)
	for _, operator := range s.operators {
		if err := s.send(ctx, operator, alert); err != nil {
			s.logger.Warn("operator alert failed",
				zap.Int64("operator", operator),
				zap.Error(err),
			)
		}
	}
}

// DeleteMessage removes a delivered message, best effort.
func (s *Sink) DeleteMessage(ctx context.Context, chat int64, messageID int) {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.transport.DeleteMessage(ctx, chat, messageID)
	})
	if err != nil {
		s.logger.Debug("message deletion failed",
			zap.Int64("chat", chat),
			zap.Int("message_id", messageID),
			zap.Error(err),
		)
	}
}

// Ensure LogTransport satisfies the interface.
var _ Transport = (*LogTransport)(nil)
