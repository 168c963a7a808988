package ws

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splax/confvault/internal/domain"
)

type memorySubscriber struct {
	mu       sync.Mutex
	received [][]byte
	failing  bool
	closed   bool
}

func (m *memorySubscriber) Send(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("broken pipe")
	}
	m.received = append(m.received, payload)
	return nil
}

func (m *memorySubscriber) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *memorySubscriber) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func (m *memorySubscriber) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func TestDeliverRoutesByTopic(t *testing.T) {
	hub := NewHub(10)
	defer hub.Close()

	all := &memorySubscriber{}
	variables := &memorySubscriber{}
	environments := &memorySubscriber{}
	hub.Register(TopicAll, all)
	hub.Register(domain.EntityVariable, variables)
	hub.Register(domain.EntityEnvironment, environments)

	hub.Deliver(&domain.AuditLog{EntityType: domain.EntityVariable}, []byte(`{"a":1}`))
	hub.Deliver(&domain.AuditLog{EntityType: domain.EntityEnvironment}, []byte(`{"a":2}`))

	require.Eventually(t, func() bool {
		return all.count() == 2 && variables.count() == 1 && environments.count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestFailingSubscriberIsDropped(t *testing.T) {
	hub := NewHub(10)
	defer hub.Close()

	broken := &memorySubscriber{failing: true}
	hub.Register(TopicAll, broken)
	hub.Broadcast(TopicAll, []byte("x"))

	require.Eventually(t, broken.isClosed, time.Second, 10*time.Millisecond)
}

func TestUnregister(t *testing.T) {
	hub := NewHub(10)
	defer hub.Close()

	sub := &memorySubscriber{}
	hub.Register(TopicAll, sub)
	hub.Unregister(TopicAll, sub)
	hub.Broadcast(TopicAll, []byte("x"))
	hub.Close()

	assert.Zero(t, sub.count())
}

func TestCloseClosesSubscribersAndStopsBroadcasts(t *testing.T) {
	hub := NewHub(1)
	sub := &memorySubscriber{}
	hub.Register(TopicAll, sub)
	hub.Close()
	hub.Close()

	assert.True(t, sub.isClosed())
	select {
	case <-hub.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
	hub.Broadcast(TopicAll, []byte("late"))

	late := &memorySubscriber{}
	hub.Register(TopicAll, late)
	assert.True(t, late.isClosed())
}

type flushRecorder struct {
	strings.Builder
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

func TestSSEClientFrames(t *testing.T) {
	rec := &flushRecorder{}
	client := NewSSEClient(rec, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, client.Comment("subscribed *"))
	require.NoError(t, client.Send([]byte(`{"seq":1}`)))
	require.NoError(t, client.Heartbeat())
	assert.Equal(t, ": subscribed *\n\nevent: audit\ndata: {\"seq\":1}\n\n: ping\n\n", rec.String())
	assert.Equal(t, 3, rec.flushes)

	client.Close()
	assert.Error(t, client.Send([]byte("late")))
}
