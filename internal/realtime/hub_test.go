package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBus is an in-process stand-in for Redis pub/sub. Like Redis, it loops
// published messages back to every subscriber, the publishing instance included.
type fakeBus struct {
	mu       sync.Mutex
	handlers map[uuid.UUID][]func(origin, event string, payload []byte)
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[uuid.UUID][]func(origin, event string, payload []byte))}
}

func (b *fakeBus) PublishSessionEvent(sessionID uuid.UUID, origin, event string, payload []byte) error {
	b.mu.Lock()
	hs := append([]func(origin, event string, payload []byte){}, b.handlers[sessionID]...)
	b.mu.Unlock()
	for _, h := range hs {
		h(origin, event, payload)
	}
	return nil
}

func (b *fakeBus) SubscribeSession(sessionID uuid.UUID, handler func(origin, event string, payload []byte)) (func(), error) {
	b.mu.Lock()
	b.handlers[sessionID] = append(b.handlers[sessionID], handler)
	b.mu.Unlock()
	return func() {}, nil
}

func newTestClient(sessionID uuid.UUID) *Client {
	return &Client{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		send:      make(chan WSMessage, 16),
	}
}

func received(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		case <-time.After(20 * time.Millisecond):
			return out
		}
	}
}

func TestBroadcastDeliveredOnceAcrossInstances(t *testing.T) {
	bus := newFakeBus()
	sessionID := uuid.New()

	hubA := NewHub(zap.NewNop(), bus, bus)
	hubB := NewHub(zap.NewNop(), bus, bus)

	clientA := newTestClient(sessionID)
	clientB := newTestClient(sessionID)
	hubA.Register(clientA)
	hubB.Register(clientB)

	hubA.BroadcastToSessionAndPublish(sessionID, EventBidAccepted, map[string]interface{}{"amount": 1200})

	// The publishing instance delivers locally once and drops its own loopback;
	// the other instance delivers via the bus.
	msgsA := received(clientA)
	require.Len(t, msgsA, 1)
	assert.Equal(t, EventBidAccepted, msgsA[0].Event)

	msgsB := received(clientB)
	require.Len(t, msgsB, 1)
	assert.Equal(t, EventBidAccepted, msgsB[0].Event)
}

func TestBroadcastWithoutRedis(t *testing.T) {
	sessionID := uuid.New()
	hub := NewHub(zap.NewNop(), nil, nil)
	client := newTestClient(sessionID)
	hub.Register(client)

	hub.BroadcastToSessionAndPublish(sessionID, EventViewerCount, map[string]interface{}{"count": 3})

	msgs := received(client)
	require.Len(t, msgs, 1)
	assert.Equal(t, EventViewerCount, msgs[0].Event)
}

func TestUnregisterCancelsSubscription(t *testing.T) {
	bus := newFakeBus()
	sessionID := uuid.New()

	hub := NewHub(zap.NewNop(), bus, bus)
	client := newTestClient(sessionID)
	hub.Register(client)
	assert.Equal(t, 1, hub.AudienceCount(sessionID))

	hub.Unregister(client)
	assert.Equal(t, 0, hub.AudienceCount(sessionID))
}
