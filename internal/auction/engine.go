package auction

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidstream/backend/internal/models"
	"github.com/bidstream/backend/internal/realtime"
	"github.com/bidstream/backend/pkg/queue"
)

// Store is the persistence contract the engine depends on. The pgx Repository
// implements it; tests use an in-memory fake.
type Store interface {
	GetLot(ctx context.Context, lotID uuid.UUID) (*models.Lot, error)
	ActiveLot(ctx context.Context, sessionID uuid.UUID) (*models.Lot, error)
	NextQueuedLot(ctx context.Context, sessionID uuid.UUID) (*models.Lot, error)
	UpdateLotPrice(ctx context.Context, lotID uuid.UUID, priceCents int64) error
	UpdateLotStatus(ctx context.Context, lotID uuid.UUID, status models.LotStatus) error
	FinalizeLot(ctx context.Context, lotID uuid.UUID, status models.LotStatus, winnerID *uuid.UUID, finalPriceCents *int64) error
	InsertBid(ctx context.Context, bid *models.Bid) error
	HighestBid(ctx context.Context, lotID uuid.UUID) (*models.Bid, error)
	SetCurrentLot(ctx context.Context, sessionID uuid.UUID, lotID *uuid.UUID) error
}

// Broadcaster fans auction events out to all session subscribers.
type Broadcaster interface {
	BroadcastToSessionAndPublish(sessionID uuid.UUID, event string, payload interface{})
}

// CountdownNotifier receives engine-side countdown signals.
type CountdownNotifier interface {
	OnBidAccepted(lotID uuid.UUID)
	Stop(lotID uuid.UUID) error
}

// CheckoutEnqueuer hands a sold lot off to the checkout worker.
type CheckoutEnqueuer interface {
	EnqueueCheckout(ctx context.Context, payload queue.CheckoutPayload) error
}

// Engine owns the lot state machine and the bid processor. All state-changing
// operations for one lot are serialized on a per-lot mutex; different lots and
// different sessions proceed in parallel. The store row is the authoritative
// state between calls, so a failed write leaves the lot unchanged and the
// caller can safely retry the same request.
type Engine struct {
	store     Store
	hub       Broadcaster
	countdown CountdownNotifier
	checkout  CheckoutEnqueuer
	logger    *zap.Logger

	defaultIncrement int64

	mu           sync.Mutex
	lotLocks     map[uuid.UUID]*sync.Mutex
	sessionLocks map[uuid.UUID]*sync.Mutex
}

// NewEngine creates the auction engine. countdown and checkout may be nil
// (tests, or deployments without a worker).
func NewEngine(store Store, hub Broadcaster, checkout CheckoutEnqueuer, defaultIncrementCents int64, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultIncrementCents <= 0 {
		defaultIncrementCents = 100
	}
	return &Engine{
		store:            store,
		hub:              hub,
		checkout:         checkout,
		logger:           logger,
		defaultIncrement: defaultIncrementCents,
		lotLocks:         make(map[uuid.UUID]*sync.Mutex),
		sessionLocks:     make(map[uuid.UUID]*sync.Mutex),
	}
}

// SetCountdown wires the countdown controller. Set once during startup, before
// requests are served.
func (e *Engine) SetCountdown(cd CountdownNotifier) { e.countdown = cd }

func (e *Engine) lockLot(lotID uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.lotLocks[lotID]
	if !ok {
		m = &sync.Mutex{}
		e.lotLocks[lotID] = m
	}
	return m
}

func (e *Engine) lockSession(sessionID uuid.UUID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.sessionLocks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		e.sessionLocks[sessionID] = m
	}
	return m
}

// Activate moves a queued lot to active, first deactivating any other active
// lot in the same session so at most one lot per session is ever active.
// A previously active lot that was never finalized moves to completed.
func (e *Engine) Activate(ctx context.Context, lotID uuid.UUID) (*models.Lot, error) {
	lot, err := e.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}

	sl := e.lockSession(lot.SessionID)
	sl.Lock()
	defer sl.Unlock()

	// Re-read under the session lock: a concurrent Activate may have won.
	lot, err = e.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot.Status != models.LotQueued {
		if lot.Terminal() {
			return nil, ErrAlreadyFinalized
		}
		return nil, ErrNotQueued
	}

	current, err := e.store.ActiveLot(ctx, lot.SessionID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		if err := e.deactivate(ctx, current); err != nil {
			return nil, err
		}
	}

	if err := e.store.UpdateLotStatus(ctx, lotID, models.LotActive); err != nil {
		return nil, err
	}
	if err := e.store.SetCurrentLot(ctx, lot.SessionID, &lotID); err != nil {
		e.logger.Warn("set current lot failed", zap.Error(err), zap.String("lot_id", lotID.String()))
	}
	lot.Status = models.LotActive

	e.broadcast(lot.SessionID, realtime.EventLotActivated, payload{
		"lot_id":             lot.ID,
		"title":              lot.Title,
		"starting_price":     lot.StartingPriceCents,
		"current_price":      lot.CurrentPriceCents,
		"buy_now_price":      lot.BuyNowPriceCents,
		"min_increment":      e.increment(lot),
		"suggested_next_bid": lot.CurrentPriceCents + e.increment(lot),
	})
	e.logger.Info("lot activated", zap.String("lot_id", lotID.String()), zap.String("session_id", lot.SessionID.String()))
	return lot, nil
}

// deactivate closes out a still-active lot that was never finalized, caller
// holds the session lock.
func (e *Engine) deactivate(ctx context.Context, lot *models.Lot) error {
	lm := e.lockLot(lot.ID)
	lm.Lock()
	defer lm.Unlock()

	if e.countdown != nil {
		_ = e.countdown.Stop(lot.ID)
	}
	if err := e.store.UpdateLotStatus(ctx, lot.ID, models.LotCompleted); err != nil {
		return err
	}
	e.broadcast(lot.SessionID, realtime.EventLotCompleted, payload{"lot_id": lot.ID})
	return nil
}

// PlaceBid validates and applies a bid against an active lot. Acceptance is
// amount-based: any amount strictly above the current price wins, so jump bids
// are legal. The suggested increment is advisory only.
func (e *Engine) PlaceBid(ctx context.Context, lotID, bidderID uuid.UUID, amountCents int64) (*models.Bid, error) {
	lm := e.lockLot(lotID)
	lm.Lock()
	defer lm.Unlock()

	lot, err := e.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot.Status != models.LotActive {
		return nil, ErrStaleLot
	}
	if amountCents <= lot.CurrentPriceCents {
		return nil, ErrBidTooLow
	}

	bid := &models.Bid{
		ID:          uuid.New(),
		LotID:       lotID,
		BidderID:    bidderID,
		AmountCents: amountCents,
		Kind:        models.BidKindBid,
		CreatedAt:   time.Now(),
	}
	if err := e.store.InsertBid(ctx, bid); err != nil {
		return nil, err
	}
	if err := e.store.UpdateLotPrice(ctx, lotID, amountCents); err != nil {
		return nil, err
	}

	if e.countdown != nil {
		e.countdown.OnBidAccepted(lotID)
	}
	e.broadcast(lot.SessionID, realtime.EventBidAccepted, payload{
		"lot_id":             lotID,
		"bidder_id":          bidderID,
		"amount":             amountCents,
		"suggested_next_bid": amountCents + e.increment(lot),
	})
	return bid, nil
}

// BuyNow purchases the active lot at its fixed buy-now price, bypassing the
// countdown and finalizing immediately.
func (e *Engine) BuyNow(ctx context.Context, lotID, buyerID uuid.UUID) (*models.Lot, error) {
	lm := e.lockLot(lotID)
	lm.Lock()
	defer lm.Unlock()

	lot, err := e.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot.BuyNowPriceCents == nil {
		return nil, ErrNoBuyNowPrice
	}
	if lot.Status != models.LotActive {
		return nil, ErrAlreadyFinalized
	}

	price := *lot.BuyNowPriceCents
	bid := &models.Bid{
		ID:          uuid.New(),
		LotID:       lotID,
		BidderID:    buyerID,
		AmountCents: price,
		Kind:        models.BidKindBuyNow,
		CreatedAt:   time.Now(),
	}
	if err := e.store.InsertBid(ctx, bid); err != nil {
		return nil, err
	}

	if e.countdown != nil {
		_ = e.countdown.Stop(lotID)
	}
	if err := e.finalizeSold(ctx, lot, buyerID, price); err != nil {
		return nil, err
	}

	e.broadcast(lot.SessionID, realtime.EventBuyNow, payload{
		"lot_id":   lotID,
		"buyer_id": buyerID,
		"amount":   price,
	})
	return lot, nil
}

// Finalize closes the active lot: sold to the highest bidder when bids exist,
// completed otherwise. Called on countdown expiry or by explicit seller action.
// A zero-bid lot is terminal; re-offering means creating a new lot.
func (e *Engine) Finalize(ctx context.Context, lotID uuid.UUID) (*models.Lot, error) {
	lm := e.lockLot(lotID)
	lm.Lock()
	defer lm.Unlock()

	lot, err := e.store.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if lot.Terminal() {
		return lot, ErrAlreadyFinalized
	}
	if lot.Status != models.LotActive {
		return nil, ErrStaleLot
	}

	highest, err := e.store.HighestBid(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if highest == nil {
		if err := e.store.FinalizeLot(ctx, lotID, models.LotCompleted, nil, nil); err != nil {
			return nil, err
		}
		lot.Status = models.LotCompleted
		if err := e.store.SetCurrentLot(ctx, lot.SessionID, nil); err != nil {
			e.logger.Warn("clear current lot failed", zap.Error(err))
		}
		e.broadcast(lot.SessionID, realtime.EventLotCompleted, payload{"lot_id": lotID})
		e.logger.Info("lot completed without bids", zap.String("lot_id", lotID.String()))
		return lot, nil
	}

	if err := e.finalizeSold(ctx, lot, highest.BidderID, lot.CurrentPriceCents); err != nil {
		return nil, err
	}
	return lot, nil
}

// finalizeSold records the sale, clears the session's current lot and enqueues
// checkout. Caller holds the lot lock.
func (e *Engine) finalizeSold(ctx context.Context, lot *models.Lot, winnerID uuid.UUID, priceCents int64) error {
	if err := e.store.FinalizeLot(ctx, lot.ID, models.LotSold, &winnerID, &priceCents); err != nil {
		return err
	}
	lot.Status = models.LotSold
	lot.WinnerID = &winnerID
	lot.FinalPriceCents = &priceCents
	lot.CurrentPriceCents = priceCents

	if err := e.store.SetCurrentLot(ctx, lot.SessionID, nil); err != nil {
		e.logger.Warn("clear current lot failed", zap.Error(err))
	}

	if e.checkout != nil {
		err := e.checkout.EnqueueCheckout(ctx, queue.CheckoutPayload{
			LotID:       lot.ID,
			SessionID:   lot.SessionID,
			BuyerID:     winnerID,
			AmountCents: priceCents,
		})
		if err != nil {
			// The sale stands; checkout is retried from the lot row by ops tooling.
			e.logger.Error("enqueue checkout failed", zap.Error(err), zap.String("lot_id", lot.ID.String()))
		}
	}

	e.broadcast(lot.SessionID, realtime.EventLotSold, payload{
		"lot_id":      lot.ID,
		"winner_id":   winnerID,
		"final_price": priceCents,
	})
	e.logger.Info("lot sold",
		zap.String("lot_id", lot.ID.String()),
		zap.String("winner_id", winnerID.String()),
		zap.Int64("final_price_cents", priceCents))
	return nil
}

// ActiveLot returns the session's active lot straight from the store, or nil
// when none is active. The current_lot_id mirror on the session row is
// best-effort, so settlement paths ask the store directly.
func (e *Engine) ActiveLot(ctx context.Context, sessionID uuid.UUID) (*models.Lot, error) {
	return e.store.ActiveLot(ctx, sessionID)
}

// NextQueued returns the oldest queued lot for a session, or nil when the
// queue is empty.
func (e *Engine) NextQueued(ctx context.Context, sessionID uuid.UUID) (*models.Lot, error) {
	return e.store.NextQueuedLot(ctx, sessionID)
}

// SuggestedNextBid returns the advisory minimum for the next bid.
func (e *Engine) SuggestedNextBid(lot *models.Lot) int64 {
	return lot.CurrentPriceCents + e.increment(lot)
}

func (e *Engine) increment(lot *models.Lot) int64 {
	if lot.MinIncrementCents > 0 {
		return lot.MinIncrementCents
	}
	return e.defaultIncrement
}

func (e *Engine) broadcast(sessionID uuid.UUID, event string, payload interface{}) {
	if e.hub != nil {
		e.hub.BroadcastToSessionAndPublish(sessionID, event, payload)
	}
}

// payload mirrors gin.H without importing gin into the engine.
type payload = map[string]interface{}
