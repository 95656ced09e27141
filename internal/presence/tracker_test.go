package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore mirrors counters in memory the way the live_sessions row does.
type memStore struct {
	mu      sync.Mutex
	current map[uuid.UUID]int
	total   map[uuid.UUID]int
}

func newMemStore() *memStore {
	return &memStore{
		current: make(map[uuid.UUID]int),
		total:   make(map[uuid.UUID]int),
	}
}

func (m *memStore) SetViewerCount(_ context.Context, sessionID uuid.UUID, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current[sessionID] = count
	return nil
}

func (m *memStore) IncrementTotalViewers(_ context.Context, sessionID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total[sessionID]++
	return m.total[sessionID], nil
}

func (m *memStore) ViewerCounts(_ context.Context, sessionID uuid.UUID) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current[sessionID], m.total[sessionID], nil
}

func (m *memStore) persisted(sessionID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current[sessionID]
}

func TestJoinIsIdempotent(t *testing.T) {
	tr := NewTracker(newMemStore(), time.Minute, nil)
	ctx := context.Background()
	sessionID, viewerID := uuid.New(), uuid.New()

	stats, first, err := tr.Join(ctx, sessionID, viewerID)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, 1, stats.Current)
	assert.Equal(t, 1, stats.Total)

	// a reconnect from the same viewer refreshes, it does not double count
	stats, first, err = tr.Join(ctx, sessionID, viewerID)
	require.NoError(t, err)
	assert.False(t, first)
	assert.Equal(t, 1, stats.Current)
	assert.Equal(t, 1, stats.Total)
}

func TestTotalViewersIsCumulative(t *testing.T) {
	tr := NewTracker(newMemStore(), time.Minute, nil)
	ctx := context.Background()
	sessionID := uuid.New()
	a, b := uuid.New(), uuid.New()

	_, _, err := tr.Join(ctx, sessionID, a)
	require.NoError(t, err)
	_, _, err = tr.Join(ctx, sessionID, b)
	require.NoError(t, err)
	_, err = tr.Leave(ctx, sessionID, a)
	require.NoError(t, err)

	// rejoin counts as a new total visit
	_, first, err := tr.Join(ctx, sessionID, a)
	require.NoError(t, err)
	assert.True(t, first)

	stats := tr.Stats(ctx, sessionID)
	assert.Equal(t, 2, stats.Current)
	assert.Equal(t, 3, stats.Total)
}

func TestLeaveAbsentViewerIsNoOp(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, time.Minute, nil)
	ctx := context.Background()
	sessionID := uuid.New()

	_, _, err := tr.Join(ctx, sessionID, uuid.New())
	require.NoError(t, err)

	stats, err := tr.Leave(ctx, sessionID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Current)
}

func TestSilentViewerExpires(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, 30*time.Millisecond, nil)
	ctx := context.Background()
	sessionID := uuid.New()

	_, _, err := tr.Join(ctx, sessionID, uuid.New())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tr.Stats(ctx, sessionID).Current == 0 && store.persisted(sessionID) == 0
	}, 2*time.Second, 10*time.Millisecond)

	// cumulative count survives the eviction
	assert.Equal(t, 1, tr.Stats(ctx, sessionID).Total)
}

func TestTouchKeepsViewerAlive(t *testing.T) {
	tr := NewTracker(newMemStore(), 200*time.Millisecond, nil)
	ctx := context.Background()
	sessionID, viewerID := uuid.New(), uuid.New()

	_, _, err := tr.Join(ctx, sessionID, viewerID)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		time.Sleep(100 * time.Millisecond)
		tr.Touch(sessionID, viewerID)
	}
	assert.Equal(t, 1, tr.Stats(ctx, sessionID).Current)
}

func TestLeaveCancelsExpiryTimer(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	tr := NewTracker(newMemStore(), 30*time.Millisecond, nil)
	tr.SetChangeHandler(func(uuid.UUID, int, int) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	ctx := context.Background()
	sessionID, viewerID := uuid.New(), uuid.New()

	_, _, err := tr.Join(ctx, sessionID, viewerID)
	require.NoError(t, err)
	_, err = tr.Leave(ctx, sessionID, viewerID)
	require.NoError(t, err)

	mu.Lock()
	after := calls
	mu.Unlock()

	// the canceled timer must not fire a third change
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, after, calls)
	mu.Unlock()
}

func TestCleanupSessionClearsEverything(t *testing.T) {
	store := newMemStore()
	tr := NewTracker(store, time.Minute, nil)
	ctx := context.Background()
	sessionID := uuid.New()

	for i := 0; i < 3; i++ {
		_, _, err := tr.Join(ctx, sessionID, uuid.New())
		require.NoError(t, err)
	}
	require.Equal(t, 3, tr.Stats(ctx, sessionID).Current)

	require.NoError(t, tr.CleanupSession(ctx, sessionID))
	assert.Equal(t, 0, store.persisted(sessionID))
}

func TestCleanupCancelsPendingTimers(t *testing.T) {
	var calls int
	var mu sync.Mutex
	store := newMemStore()
	tr := NewTracker(store, 40*time.Millisecond, nil)
	tr.SetChangeHandler(func(uuid.UUID, int, int) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	ctx := context.Background()
	sessionID := uuid.New()

	for i := 0; i < 3; i++ {
		_, _, err := tr.Join(ctx, sessionID, uuid.New())
		require.NoError(t, err)
	}
	require.NoError(t, tr.CleanupSession(ctx, sessionID))

	mu.Lock()
	after := calls
	mu.Unlock()

	// no expiry timer outlives the cleanup
	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, after, calls)
	mu.Unlock()
	assert.Equal(t, 0, store.persisted(sessionID))
}
