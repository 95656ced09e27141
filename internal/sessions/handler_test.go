package sessions

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bidstream/backend/internal/auction"
	"github.com/bidstream/backend/internal/models"
)

// lotStore is a minimal auction store: only ActiveLot matters here.
type lotStore struct {
	active map[uuid.UUID]*models.Lot // sessionID -> active lot
}

func (s *lotStore) GetLot(_ context.Context, _ uuid.UUID) (*models.Lot, error) { return nil, nil }

func (s *lotStore) ActiveLot(_ context.Context, sessionID uuid.UUID) (*models.Lot, error) {
	return s.active[sessionID], nil
}

func (s *lotStore) NextQueuedLot(_ context.Context, _ uuid.UUID) (*models.Lot, error) {
	return nil, nil
}

func (s *lotStore) UpdateLotPrice(_ context.Context, _ uuid.UUID, _ int64) error { return nil }

func (s *lotStore) UpdateLotStatus(_ context.Context, _ uuid.UUID, _ models.LotStatus) error {
	return nil
}

func (s *lotStore) FinalizeLot(_ context.Context, _ uuid.UUID, _ models.LotStatus, _ *uuid.UUID, _ *int64) error {
	return nil
}

func (s *lotStore) InsertBid(_ context.Context, _ *models.Bid) error { return nil }

func (s *lotStore) HighestBid(_ context.Context, _ uuid.UUID) (*models.Bid, error) {
	return nil, nil
}

func (s *lotStore) SetCurrentLot(_ context.Context, _ uuid.UUID, _ *uuid.UUID) error { return nil }

func newSettleHandler(store *lotStore) *Handler {
	engine := auction.NewEngine(store, nil, nil, 100, nil)
	return &Handler{engine: engine, logger: zap.NewNop()}
}

func TestSettleLotIDPrefersSessionMirror(t *testing.T) {
	sessionID := uuid.New()
	mirrored := uuid.New()
	h := newSettleHandler(&lotStore{active: map[uuid.UUID]*models.Lot{}})

	session := &models.LiveSession{ID: sessionID, Status: models.SessionLive, CurrentLotID: &mirrored}
	id := h.settleLotID(context.Background(), session)
	require.NotNil(t, id)
	assert.Equal(t, mirrored, *id)
}

func TestSettleLotIDFallsBackToStore(t *testing.T) {
	sessionID := uuid.New()
	lot := &models.Lot{ID: uuid.New(), SessionID: sessionID, Status: models.LotActive}
	h := newSettleHandler(&lotStore{active: map[uuid.UUID]*models.Lot{sessionID: lot}})

	// The current_lot_id mirror write is best-effort and can lag; the still
	// active lot must be found anyway.
	session := &models.LiveSession{ID: sessionID, Status: models.SessionLive}
	id := h.settleLotID(context.Background(), session)
	require.NotNil(t, id)
	assert.Equal(t, lot.ID, *id)
}

func TestSettleLotIDNoActiveLot(t *testing.T) {
	h := newSettleHandler(&lotStore{active: map[uuid.UUID]*models.Lot{}})

	session := &models.LiveSession{ID: uuid.New(), Status: models.SessionLive}
	assert.Nil(t, h.settleLotID(context.Background(), session))
}
