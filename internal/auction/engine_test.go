package auction

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidstream/backend/internal/models"
	"github.com/bidstream/backend/pkg/queue"
)

// memStore is an in-memory Store for engine tests.
type memStore struct {
	mu   sync.Mutex
	lots map[uuid.UUID]*models.Lot
	bids map[uuid.UUID][]*models.Bid

	currentLot map[uuid.UUID]*uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		lots:       make(map[uuid.UUID]*models.Lot),
		bids:       make(map[uuid.UUID][]*models.Bid),
		currentLot: make(map[uuid.UUID]*uuid.UUID),
	}
}

func (m *memStore) addLot(sessionID uuid.UUID, startingCents int64, buyNow *int64, status models.LotStatus) *models.Lot {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := &models.Lot{
		ID:                 uuid.New(),
		SessionID:          sessionID,
		Title:              "test lot",
		StartingPriceCents: startingCents,
		CurrentPriceCents:  startingCents,
		BuyNowPriceCents:   buyNow,
		MinIncrementCents:  100,
		Status:             status,
	}
	m.lots[l.ID] = l
	return l
}

func (m *memStore) snapshot(id uuid.UUID) models.Lot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.lots[id]
}

func (m *memStore) GetLot(_ context.Context, lotID uuid.UUID) (*models.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := *m.lots[lotID]
	return &l, nil
}

func (m *memStore) ActiveLot(_ context.Context, sessionID uuid.UUID) (*models.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lots {
		if l.SessionID == sessionID && l.Status == models.LotActive {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) NextQueuedLot(_ context.Context, sessionID uuid.UUID) (*models.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.lots {
		if l.SessionID == sessionID && l.Status == models.LotQueued {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdateLotPrice(_ context.Context, lotID uuid.UUID, priceCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.lots[lotID]; priceCents > l.CurrentPriceCents {
		l.CurrentPriceCents = priceCents
	}
	return nil
}

func (m *memStore) UpdateLotStatus(_ context.Context, lotID uuid.UUID, status models.LotStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[lotID].Status = status
	return nil
}

func (m *memStore) FinalizeLot(_ context.Context, lotID uuid.UUID, status models.LotStatus, winnerID *uuid.UUID, finalPriceCents *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lots[lotID]
	l.Status = status
	l.WinnerID = winnerID
	l.FinalPriceCents = finalPriceCents
	return nil
}

func (m *memStore) InsertBid(_ context.Context, bid *models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bids[bid.LotID] = append(m.bids[bid.LotID], bid)
	return nil
}

func (m *memStore) HighestBid(_ context.Context, lotID uuid.UUID) (*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.Bid
	for _, b := range m.bids[lotID] {
		if best == nil || b.AmountCents > best.AmountCents {
			best = b
		}
	}
	return best, nil
}

func (m *memStore) SetCurrentLot(_ context.Context, sessionID uuid.UUID, lotID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentLot[sessionID] = lotID
	return nil
}

// recordHub captures broadcast events.
type recordHub struct {
	mu     sync.Mutex
	events []string
}

func (h *recordHub) BroadcastToSessionAndPublish(_ uuid.UUID, event string, _ interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordHub) has(event string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == event {
			return true
		}
	}
	return false
}

// recordQueue captures enqueued checkout payloads.
type recordQueue struct {
	mu       sync.Mutex
	payloads []queue.CheckoutPayload
}

func (q *recordQueue) EnqueueCheckout(_ context.Context, p queue.CheckoutPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, p)
	return nil
}

// recordCountdown captures countdown notifications.
type recordCountdown struct {
	mu       sync.Mutex
	accepted []uuid.UUID
	stopped  []uuid.UUID
}

func (c *recordCountdown) OnBidAccepted(lotID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted = append(c.accepted, lotID)
}

func (c *recordCountdown) Stop(lotID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, lotID)
	return nil
}

func newTestEngine(store *memStore) (*Engine, *recordHub, *recordQueue, *recordCountdown) {
	hub := &recordHub{}
	q := &recordQueue{}
	cd := &recordCountdown{}
	e := NewEngine(store, hub, q, 100, nil)
	e.SetCountdown(cd)
	return e, hub, q, cd
}

func TestPlaceBidRaisesPrice(t *testing.T) {
	store := newMemStore()
	lot := store.addLot(uuid.New(), 1000, nil, models.LotActive)
	e, hub, _, cd := newTestEngine(store)

	bidder := uuid.New()
	bid, err := e.PlaceBid(context.Background(), lot.ID, bidder, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), bid.AmountCents)
	assert.Equal(t, models.BidKindBid, bid.Kind)

	got := store.snapshot(lot.ID)
	assert.Equal(t, int64(1500), got.CurrentPriceCents)
	assert.True(t, hub.has("bid_accepted"))
	assert.Len(t, cd.accepted, 1)
}

func TestPlaceBidTooLowLeavesStateUnchanged(t *testing.T) {
	store := newMemStore()
	lot := store.addLot(uuid.New(), 1000, nil, models.LotActive)
	e, hub, _, _ := newTestEngine(store)

	_, err := e.PlaceBid(context.Background(), lot.ID, uuid.New(), 1000)
	require.ErrorIs(t, err, ErrBidTooLow)
	_, err = e.PlaceBid(context.Background(), lot.ID, uuid.New(), 500)
	require.ErrorIs(t, err, ErrBidTooLow)

	got := store.snapshot(lot.ID)
	assert.Equal(t, int64(1000), got.CurrentPriceCents)
	assert.Empty(t, store.bids[lot.ID])
	assert.False(t, hub.has("bid_accepted"))
}

func TestPlaceBidOnNonActiveLot(t *testing.T) {
	store := newMemStore()
	queued := store.addLot(uuid.New(), 1000, nil, models.LotQueued)
	sold := store.addLot(uuid.New(), 1000, nil, models.LotSold)
	e, _, _, _ := newTestEngine(store)

	_, err := e.PlaceBid(context.Background(), queued.ID, uuid.New(), 2000)
	assert.ErrorIs(t, err, ErrStaleLot)
	_, err = e.PlaceBid(context.Background(), sold.ID, uuid.New(), 2000)
	assert.ErrorIs(t, err, ErrStaleLot)
}

func TestConcurrentBidsHighestWins(t *testing.T) {
	store := newMemStore()
	lot := store.addLot(uuid.New(), 1000, nil, models.LotActive)
	e, _, _, _ := newTestEngine(store)

	amounts := []int64{1100, 1200, 1300, 1250, 1150}
	var wg sync.WaitGroup
	for _, amt := range amounts {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			_, err := e.PlaceBid(context.Background(), lot.ID, uuid.New(), amount)
			if err != nil {
				assert.ErrorIs(t, err, ErrBidTooLow)
			}
		}(amt)
	}
	wg.Wait()

	got := store.snapshot(lot.ID)
	assert.Equal(t, int64(1300), got.CurrentPriceCents)
	for _, b := range store.bids[lot.ID] {
		assert.LessOrEqual(t, b.AmountCents, int64(1300))
	}
}

func TestActivateDeactivatesPreviousLot(t *testing.T) {
	store := newMemStore()
	sessionID := uuid.New()
	first := store.addLot(sessionID, 1000, nil, models.LotActive)
	second := store.addLot(sessionID, 2000, nil, models.LotQueued)
	e, hub, _, cd := newTestEngine(store)

	lot, err := e.Activate(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LotActive, lot.Status)

	// The interrupted lot is closed out, not left dangling.
	assert.Equal(t, models.LotCompleted, store.snapshot(first.ID).Status)
	assert.Contains(t, cd.stopped, first.ID)
	assert.True(t, hub.has("lot_completed"))
	assert.True(t, hub.has("lot_activated"))
}

func TestActivateRejectsNonQueued(t *testing.T) {
	store := newMemStore()
	sessionID := uuid.New()
	active := store.addLot(sessionID, 1000, nil, models.LotActive)
	sold := store.addLot(sessionID, 1000, nil, models.LotSold)
	e, _, _, _ := newTestEngine(store)

	_, err := e.Activate(context.Background(), active.ID)
	assert.ErrorIs(t, err, ErrNotQueued)
	_, err = e.Activate(context.Background(), sold.ID)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestBuyNowFinalizesImmediately(t *testing.T) {
	store := newMemStore()
	buyNow := int64(5000)
	lot := store.addLot(uuid.New(), 1000, &buyNow, models.LotActive)
	e, hub, q, cd := newTestEngine(store)

	buyer := uuid.New()
	got, err := e.BuyNow(context.Background(), lot.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, models.LotSold, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, buyer, *got.WinnerID)
	require.NotNil(t, got.FinalPriceCents)
	assert.Equal(t, buyNow, *got.FinalPriceCents)

	require.Len(t, store.bids[lot.ID], 1)
	assert.Equal(t, models.BidKindBuyNow, store.bids[lot.ID][0].Kind)
	assert.Contains(t, cd.stopped, lot.ID)
	require.Len(t, q.payloads, 1)
	assert.Equal(t, buyNow, q.payloads[0].AmountCents)
	assert.True(t, hub.has("buy_now"))
	assert.True(t, hub.has("lot_sold"))
}

func TestBuyNowWithoutPrice(t *testing.T) {
	store := newMemStore()
	active := store.addLot(uuid.New(), 1000, nil, models.LotActive)
	sold := store.addLot(uuid.New(), 1000, nil, models.LotSold)
	e, _, _, _ := newTestEngine(store)

	// No buy-now price always wins over any other failure mode.
	_, err := e.BuyNow(context.Background(), active.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNoBuyNowPrice)
	_, err = e.BuyNow(context.Background(), sold.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNoBuyNowPrice)

	// the failed purchase leaves no bid record behind
	assert.Empty(t, store.bids[active.ID])
	assert.Empty(t, store.bids[sold.ID])
}

func TestBuyNowOnFinalizedLot(t *testing.T) {
	store := newMemStore()
	buyNow := int64(5000)
	lot := store.addLot(uuid.New(), 1000, &buyNow, models.LotSold)
	e, _, _, _ := newTestEngine(store)

	_, err := e.BuyNow(context.Background(), lot.ID, uuid.New())
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestFinalizeWithoutBidsCompletes(t *testing.T) {
	store := newMemStore()
	lot := store.addLot(uuid.New(), 1000, nil, models.LotActive)
	e, hub, q, _ := newTestEngine(store)

	got, err := e.Finalize(context.Background(), lot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LotCompleted, got.Status)

	final := store.snapshot(lot.ID)
	assert.Nil(t, final.WinnerID)
	assert.Empty(t, q.payloads)
	assert.True(t, hub.has("lot_completed"))
}

func TestFinalizeSellsToHighestBidder(t *testing.T) {
	store := newMemStore()
	lot := store.addLot(uuid.New(), 1000, nil, models.LotActive)
	e, hub, q, _ := newTestEngine(store)

	low := uuid.New()
	high := uuid.New()
	_, err := e.PlaceBid(context.Background(), lot.ID, low, 1500)
	require.NoError(t, err)
	_, err = e.PlaceBid(context.Background(), lot.ID, high, 2000)
	require.NoError(t, err)

	got, err := e.Finalize(context.Background(), lot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LotSold, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, high, *got.WinnerID)
	require.NotNil(t, got.FinalPriceCents)
	assert.Equal(t, int64(2000), *got.FinalPriceCents)

	require.Len(t, q.payloads, 1)
	assert.Equal(t, high, q.payloads[0].BuyerID)
	assert.True(t, hub.has("lot_sold"))
}

func TestFinalizeIsIdempotentlyRejected(t *testing.T) {
	store := newMemStore()
	lot := store.addLot(uuid.New(), 1000, nil, models.LotActive)
	e, _, q, _ := newTestEngine(store)

	_, err := e.PlaceBid(context.Background(), lot.ID, uuid.New(), 1500)
	require.NoError(t, err)
	_, err = e.Finalize(context.Background(), lot.ID)
	require.NoError(t, err)

	_, err = e.Finalize(context.Background(), lot.ID)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	assert.Len(t, q.payloads, 1)
}

func TestBidAfterFinalizeIsStale(t *testing.T) {
	store := newMemStore()
	lot := store.addLot(uuid.New(), 1000, nil, models.LotActive)
	e, _, _, _ := newTestEngine(store)

	_, err := e.PlaceBid(context.Background(), lot.ID, uuid.New(), 1500)
	require.NoError(t, err)
	_, err = e.Finalize(context.Background(), lot.ID)
	require.NoError(t, err)

	_, err = e.PlaceBid(context.Background(), lot.ID, uuid.New(), 3000)
	assert.ErrorIs(t, err, ErrStaleLot)
}

func TestAuctionRoundTrip(t *testing.T) {
	store := newMemStore()
	sessionID := uuid.New()
	buyNow := int64(50)
	e, _, q, _ := newTestEngine(store)

	store.mu.Lock()
	lot := &models.Lot{
		ID:                 uuid.New(),
		SessionID:          sessionID,
		StartingPriceCents: 10,
		CurrentPriceCents:  10,
		BuyNowPriceCents:   &buyNow,
		MinIncrementCents:  1,
		Status:             models.LotQueued,
	}
	store.lots[lot.ID] = lot
	store.mu.Unlock()

	_, err := e.Activate(context.Background(), lot.ID)
	require.NoError(t, err)

	viewerA, viewerB := uuid.New(), uuid.New()
	_, err = e.PlaceBid(context.Background(), lot.ID, viewerA, 12)
	require.NoError(t, err)
	assert.Equal(t, int64(12), store.snapshot(lot.ID).CurrentPriceCents)

	// an underbid is rejected and changes nothing
	_, err = e.PlaceBid(context.Background(), lot.ID, viewerB, 11)
	require.ErrorIs(t, err, ErrBidTooLow)
	assert.Equal(t, int64(12), store.snapshot(lot.ID).CurrentPriceCents)

	// the outbid viewer takes the buy-now instead
	got, err := e.BuyNow(context.Background(), lot.ID, viewerB)
	require.NoError(t, err)
	assert.Equal(t, models.LotSold, got.Status)
	assert.Equal(t, viewerB, *got.WinnerID)
	assert.Equal(t, buyNow, *got.FinalPriceCents)
	require.Len(t, q.payloads, 1)
	assert.Equal(t, buyNow, q.payloads[0].AmountCents)

	// once sold, buy-now reports the lot is gone
	_, err = e.BuyNow(context.Background(), lot.ID, viewerA)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestSuggestedNextBid(t *testing.T) {
	store := newMemStore()
	e, _, _, _ := newTestEngine(store)

	lot := &models.Lot{CurrentPriceCents: 1000, MinIncrementCents: 250}
	assert.Equal(t, int64(1250), e.SuggestedNextBid(lot))

	// falls back to the engine default
	lot = &models.Lot{CurrentPriceCents: 1000}
	assert.Equal(t, int64(1100), e.SuggestedNextBid(lot))
}
