package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidstream/backend/internal/realtime"
)

const testTick = 5 * time.Millisecond

type finalizeRecorder struct {
	mu   sync.Mutex
	lots []uuid.UUID
	ch   chan uuid.UUID
}

func newFinalizeRecorder() *finalizeRecorder {
	return &finalizeRecorder{ch: make(chan uuid.UUID, 8)}
}

func (f *finalizeRecorder) finalize(_ context.Context, lotID uuid.UUID) {
	f.mu.Lock()
	f.lots = append(f.lots, lotID)
	f.mu.Unlock()
	f.ch <- lotID
}

func (f *finalizeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lots)
}

func newTestController(thresholdSec int) (*Controller, *recordHub, *finalizeRecorder) {
	hub := &recordHub{}
	fin := newFinalizeRecorder()
	c := NewController(hub, thresholdSec, testTick, nil)
	c.SetFinalizer(fin.finalize)
	return c, hub, fin
}

func TestCountdownExpiryFinalizes(t *testing.T) {
	c, hub, fin := newTestController(30)
	lotID := uuid.New()

	require.NoError(t, c.Start(uuid.New(), lotID, 3))

	select {
	case got := <-fin.ch:
		assert.Equal(t, lotID, got)
	case <-time.After(2 * time.Second):
		t.Fatal("countdown never expired")
	}

	_, running := c.Remaining(lotID)
	assert.False(t, running)
	assert.True(t, hub.has(realtime.EventCountdownTick))
	assert.True(t, hub.has(realtime.EventCountdownEnded))
}

func TestCountdownStartTwice(t *testing.T) {
	c, _, _ := newTestController(30)
	lotID := uuid.New()

	require.NoError(t, c.Start(uuid.New(), lotID, 60))
	assert.ErrorIs(t, c.Start(uuid.New(), lotID, 60), ErrCountdownRunning)
	require.NoError(t, c.Stop(lotID))
}

func TestStopNeverFinalizes(t *testing.T) {
	c, hub, fin := newTestController(30)
	lotID := uuid.New()

	require.NoError(t, c.Start(uuid.New(), lotID, 4))
	require.NoError(t, c.Stop(lotID))

	// wait out what would have been the full countdown
	time.Sleep(10 * testTick)
	assert.Equal(t, 0, fin.count())
	assert.True(t, hub.has(realtime.EventCountdownStopped))
	assert.False(t, hub.has(realtime.EventCountdownEnded))

	// stopping again reports no countdown
	assert.ErrorIs(t, c.Stop(lotID), ErrNoCountdown)
}

func TestAntiSnipingReflooring(t *testing.T) {
	hub := &recordHub{}
	// hour-long ticks freeze the clock so remaining is exact
	c := NewController(hub, 30, time.Hour, nil)
	lotID := uuid.New()

	// started below the threshold, so any bid re-floors the clock
	require.NoError(t, c.Start(uuid.New(), lotID, 5))
	c.OnBidAccepted(lotID)

	remaining, running := c.Remaining(lotID)
	require.True(t, running)
	assert.Equal(t, 30, remaining)
	assert.True(t, hub.has(realtime.EventCountdownExtended))

	// extensions never stack above the threshold
	c.OnBidAccepted(lotID)
	remaining, running = c.Remaining(lotID)
	require.True(t, running)
	assert.Equal(t, 30, remaining)

	require.NoError(t, c.Stop(lotID))
}

func TestBidAboveThresholdDoesNotExtend(t *testing.T) {
	hub := &recordHub{}
	c := NewController(hub, 10, time.Hour, nil)
	lotID := uuid.New()

	require.NoError(t, c.Start(uuid.New(), lotID, 300))
	c.OnBidAccepted(lotID)

	remaining, running := c.Remaining(lotID)
	require.True(t, running)
	assert.Equal(t, 300, remaining)
	assert.False(t, hub.has(realtime.EventCountdownExtended))

	require.NoError(t, c.Stop(lotID))
}

// Stop may be called while the caller holds a lot mutex that the expiry
// finalizer also needs. When expiry has already been committed, Stop must
// return without waiting for the run goroutine, which may be blocked inside
// that finalizer.
func TestStopAfterExpiryCommitReturnsImmediately(t *testing.T) {
	c := NewController(nil, 30, testTick, nil)
	lotID := uuid.New()

	// Expiry committed but the run goroutine has not finished: done stays open,
	// as it would while the finalize callback is still executing.
	_, cancel := context.WithCancel(context.Background())
	st := &countdownState{
		lotID:     lotID,
		sessionID: uuid.New(),
		remaining: 0,
		status:    countdownExpired,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.mu.Lock()
	c.lots[lotID] = st
	c.mu.Unlock()

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop(lotID) }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on an expired countdown's goroutine")
	}
}

func TestOnBidAcceptedWithoutCountdown(t *testing.T) {
	c, hub, _ := newTestController(30)

	// no clock running for this lot; nothing to extend
	c.OnBidAccepted(uuid.New())
	assert.False(t, hub.has(realtime.EventCountdownExtended))
}
