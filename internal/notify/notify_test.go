package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records sends and can fail per recipient.
type fakeTransport struct {
	mu      sync.Mutex
	sent    map[int64][]string
	deleted []int
	failFor map[int64]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:    make(map[int64][]string),
		failFor: make(map[int64]error),
	}
}

func (t *fakeTransport) SendMessage(_ context.Context, recipient int64, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failFor[recipient]; err != nil {
		return err
	}
	t.sent[recipient] = append(t.sent[recipient], text)
	return nil
}

func (t *fakeTransport) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleted = append(t.deleted, messageID)
	return nil
}

func (t *fakeTransport) sentTo(recipient int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent[recipient]
}

func TestSink_NotifyActor(t *testing.T) {
	transport := newFakeTransport()
	sink := NewSink(transport, nil)

	sink.NotifyActor(context.Background(), 1, "hello")

	require.Len(t, transport.sentTo(1), 1)
	assert.Equal(t, "hello", transport.sentTo(1)[0])
}

func TestSink_NotifyActor_SwallowsErrors(t *testing.T) {
	transport := newFakeTransport()
	transport.failFor[1] = errors.New("unreachable")
	sink := NewSink(transport, nil)

	// Must not panic or propagate anything.
	sink.NotifyActor(context.Background(), 1, "hello")
}

func TestSink_AlertOperators(t *testing.T) {
	transport := newFakeTransport()
	sink := NewSink(transport, []int64{100, 200})

	sink.AlertOperators(context.Background(), "something happened")

	require.Len(t, transport.sentTo(100), 1)
	require.Len(t, transport.sentTo(200), 1)
	assert.Contains(t, transport.sentTo(100)[0], "Security alert")
	assert.Contains(t, transport.sentTo(100)[0], "something happened")
}

func TestSink_AlertOperators_RecipientIsolation(t *testing.T) {
	transport := newFakeTransport()
	transport.failFor[100] = errors.New("unreachable")
	sink := NewSink(transport, []int64{100, 200})

	// One failing operator does not stop delivery to the rest.
	sink.AlertOperators(context.Background(), "something happened")

	assert.Empty(t, transport.sentTo(100))
	assert.Len(t, transport.sentTo(200), 1)
}

func TestSink_DeleteMessage(t *testing.T) {
	transport := newFakeTransport()
	sink := NewSink(transport, nil)

	sink.DeleteMessage(context.Background(), 5, 42)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Equal(t, []int{42}, transport.deleted)
}

func TestSink_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	transport := newFakeTransport()
	transport.failFor[1] = errors.New("unreachable")
	sink := NewSink(transport, nil)

	for i := 0; i < 10; i++ {
		sink.NotifyActor(context.Background(), 1, "hello")
	}

	// Once the breaker is open the transport stops being hit; healthy
	// recipients are refused too until the breaker recovers.
	sink.NotifyActor(context.Background(), 2, "hello")
	assert.Empty(t, transport.sentTo(2))
}

func TestLogTransport(t *testing.T) {
	transport := NewLogTransport(nil)

	assert.NoError(t, transport.SendMessage(context.Background(), 1, "hello"))
	assert.NoError(t, transport.DeleteMessage(context.Background(), 1, 42))
}
