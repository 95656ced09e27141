package auction

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidstream/backend/internal/realtime"
)

// countdownStatus is the per-lot clock state: idle -> running -> expired|stopped.
type countdownStatus int

const (
	countdownRunning countdownStatus = iota
	countdownExpired
	countdownStopped
)

// Controller runs the auction clock for active lots. One goroutine per running
// countdown, registered per lot so a stopped clock can never tick again.
// Ticks are monotonically decreasing; the single exception is the anti-sniping
// re-floor, which raises remaining time back to the threshold but never lowers it.
type Controller struct {
	hub       Broadcaster
	finalize  func(ctx context.Context, lotID uuid.UUID)
	threshold int
	tick      time.Duration
	logger    *zap.Logger

	mu   sync.Mutex
	lots map[uuid.UUID]*countdownState
}

type countdownState struct {
	lotID     uuid.UUID
	sessionID uuid.UUID

	mu        sync.Mutex
	remaining int
	status    countdownStatus

	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates the countdown controller. thresholdSec is the
// anti-sniping window; tick is the clock resolution (one second in production,
// shorter in tests).
func NewController(hub Broadcaster, thresholdSec int, tick time.Duration, logger *zap.Logger) *Controller {
	if thresholdSec <= 0 {
		thresholdSec = 30
	}
	if tick <= 0 {
		tick = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		hub:       hub,
		threshold: thresholdSec,
		tick:      tick,
		logger:    logger,
		lots:      make(map[uuid.UUID]*countdownState),
	}
}

// SetFinalizer wires the lot finalization callback invoked on expiry.
// Set once during startup, before any countdown starts.
func (c *Controller) SetFinalizer(fn func(ctx context.Context, lotID uuid.UUID)) {
	c.finalize = fn
}

// Start begins a countdown for a lot and broadcasts one tick per interval.
func (c *Controller) Start(sessionID, lotID uuid.UUID, seconds int) error {
	if seconds <= 0 {
		seconds = c.threshold
	}
	c.mu.Lock()
	if _, ok := c.lots[lotID]; ok {
		c.mu.Unlock()
		return ErrCountdownRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	st := &countdownState{
		lotID:     lotID,
		sessionID: sessionID,
		remaining: seconds,
		status:    countdownRunning,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.lots[lotID] = st
	c.mu.Unlock()

	c.broadcastTick(st, seconds)
	go c.run(ctx, st)
	c.logger.Info("countdown started",
		zap.String("lot_id", lotID.String()),
		zap.Int("seconds", seconds))
	return nil
}

func (c *Controller) run(ctx context.Context, st *countdownState) {
	defer close(st.done)
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.mu.Lock()
			if st.status != countdownRunning {
				st.mu.Unlock()
				return
			}
			st.remaining--
			remaining := st.remaining
			expired := remaining <= 0
			if expired {
				st.status = countdownExpired
			}
			st.mu.Unlock()

			if !expired {
				c.broadcastTick(st, remaining)
				continue
			}

			c.remove(st.lotID)
			if c.hub != nil {
				c.hub.BroadcastToSessionAndPublish(st.sessionID, realtime.EventCountdownEnded, payload{
					"lot_id": st.lotID,
				})
			}
			c.logger.Info("countdown expired", zap.String("lot_id", st.lotID.String()))
			if c.finalize != nil {
				c.finalize(context.Background(), st.lotID)
			}
			return
		}
	}
}

// OnBidAccepted applies the anti-sniping rule: a bid landing at or below the
// threshold re-floors the clock to the threshold. Multiple late bids only
// re-floor; extensions never stack.
func (c *Controller) OnBidAccepted(lotID uuid.UUID) {
	c.mu.Lock()
	st := c.lots[lotID]
	c.mu.Unlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	extend := st.status == countdownRunning && st.remaining < c.threshold
	if extend {
		st.remaining = c.threshold
	}
	remaining := st.remaining
	st.mu.Unlock()

	if !extend {
		return
	}
	if c.hub != nil {
		c.hub.BroadcastToSessionAndPublish(st.sessionID, realtime.EventCountdownExtended, payload{
			"lot_id":    lotID,
			"remaining": remaining,
			"reason":    "anti_sniping",
		})
	}
	c.logger.Info("countdown extended",
		zap.String("lot_id", lotID.String()),
		zap.Int("remaining", remaining))
}

// Stop cancels a running countdown without finalizing; the caller decides
// what happens to the lot.
func (c *Controller) Stop(lotID uuid.UUID) error {
	c.mu.Lock()
	st := c.lots[lotID]
	delete(c.lots, lotID)
	c.mu.Unlock()
	if st == nil {
		return ErrNoCountdown
	}

	st.mu.Lock()
	alreadyDone := st.status != countdownRunning
	if !alreadyDone {
		st.status = countdownStopped
	}
	st.mu.Unlock()
	st.cancel()
	if alreadyDone {
		// The run goroutine already committed expiry (or a racing stop) and
		// owns cleanup from here; it may be finalizing under locks the caller
		// holds, so waiting on done here would deadlock.
		return nil
	}
	<-st.done
	if c.hub != nil {
		c.hub.BroadcastToSessionAndPublish(st.sessionID, realtime.EventCountdownStopped, payload{
			"lot_id": lotID,
		})
	}
	c.logger.Info("countdown stopped", zap.String("lot_id", lotID.String()))
	return nil
}

// Remaining returns the seconds left for a lot's countdown, false when none runs.
func (c *Controller) Remaining(lotID uuid.UUID) (int, bool) {
	c.mu.Lock()
	st := c.lots[lotID]
	c.mu.Unlock()
	if st == nil {
		return 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status != countdownRunning {
		return 0, false
	}
	return st.remaining, true
}

func (c *Controller) remove(lotID uuid.UUID) {
	c.mu.Lock()
	delete(c.lots, lotID)
	c.mu.Unlock()
}

func (c *Controller) broadcastTick(st *countdownState, remaining int) {
	if c.hub == nil {
		return
	}
	c.hub.BroadcastToSessionAndPublish(st.sessionID, realtime.EventCountdownTick, payload{
		"lot_id":    st.lotID,
		"remaining": remaining,
	})
}
