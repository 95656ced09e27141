package auction

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidstream/backend/internal/models"
)

const lotColumns = `id, session_id, title, description, starting_price_cents, current_price_cents,
	buy_now_price_cents, min_increment_cents, status, winner_id, final_price_cents,
	COALESCE(image_url,''), COALESCE(image_s3_key,''), created_at, updated_at`

// Repository handles lot and bid persistence. Implements Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auction repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanLot(row pgx.Row) (*models.Lot, error) {
	var l models.Lot
	err := row.Scan(&l.ID, &l.SessionID, &l.Title, &l.Description, &l.StartingPriceCents, &l.CurrentPriceCents,
		&l.BuyNowPriceCents, &l.MinIncrementCents, &l.Status, &l.WinnerID, &l.FinalPriceCents,
		&l.ImageURL, &l.ImageS3Key, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLot inserts a new queued lot.
func (r *Repository) CreateLot(ctx context.Context, l *models.Lot) error {
	const q = `INSERT INTO lots (id, session_id, title, description, starting_price_cents, current_price_cents,
			buy_now_price_cents, min_increment_cents, status)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $4, $5, $6, 'queued')
		RETURNING id, status, current_price_cents, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, l.SessionID, l.Title, l.Description, l.StartingPriceCents,
		l.BuyNowPriceCents, l.MinIncrementCents).
		Scan(&l.ID, &l.Status, &l.CurrentPriceCents, &l.CreatedAt, &l.UpdatedAt)
}

// GetLot returns a lot by ID.
func (r *Repository) GetLot(ctx context.Context, lotID uuid.UUID) (*models.Lot, error) {
	return scanLot(r.pool.QueryRow(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = $1`, lotID))
}

// ActiveLot returns the session's active lot, or nil when none is active.
func (r *Repository) ActiveLot(ctx context.Context, sessionID uuid.UUID) (*models.Lot, error) {
	l, err := scanLot(r.pool.QueryRow(ctx,
		`SELECT `+lotColumns+` FROM lots WHERE session_id = $1 AND status = 'active' LIMIT 1`, sessionID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// NextQueuedLot returns the oldest queued lot for a session (insertion order), or nil.
func (r *Repository) NextQueuedLot(ctx context.Context, sessionID uuid.UUID) (*models.Lot, error) {
	l, err := scanLot(r.pool.QueryRow(ctx,
		`SELECT `+lotColumns+` FROM lots WHERE session_id = $1 AND status = 'queued' ORDER BY created_at ASC LIMIT 1`,
		sessionID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// ListLotsBySession returns all lots of a session in insertion order.
func (r *Repository) ListLotsBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Lot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+lotColumns+` FROM lots WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *l)
	}
	return list, rows.Err()
}

// UpdateLotPrice sets the current price. The guard keeps the price monotonic
// even if a stale write slips past the per-lot lock (e.g. a retried request).
func (r *Repository) UpdateLotPrice(ctx context.Context, lotID uuid.UUID, priceCents int64) error {
	const q = `UPDATE lots SET current_price_cents = $1, updated_at = NOW()
		WHERE id = $2 AND $1 > current_price_cents`
	_, err := r.pool.Exec(ctx, q, priceCents, lotID)
	return err
}

// UpdateLotStatus sets the lot status.
func (r *Repository) UpdateLotStatus(ctx context.Context, lotID uuid.UUID, status models.LotStatus) error {
	const q = `UPDATE lots SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, string(status), lotID)
	return err
}

// FinalizeLot records the terminal state, winner and final price in one write.
func (r *Repository) FinalizeLot(ctx context.Context, lotID uuid.UUID, status models.LotStatus, winnerID *uuid.UUID, finalPriceCents *int64) error {
	const q = `UPDATE lots SET status = $1, winner_id = $2, final_price_cents = $3, updated_at = NOW()
		WHERE id = $4 AND status NOT IN ('sold','completed')`
	_, err := r.pool.Exec(ctx, q, string(status), winnerID, finalPriceCents, lotID)
	return err
}

// SetLotImage records the uploaded lot image location.
func (r *Repository) SetLotImage(ctx context.Context, lotID uuid.UUID, imageURL, s3Key string) error {
	const q = `UPDATE lots SET image_url = $1, image_s3_key = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, imageURL, s3Key, lotID)
	return err
}

// InsertBid appends an immutable bid record.
func (r *Repository) InsertBid(ctx context.Context, b *models.Bid) error {
	const q = `INSERT INTO bids (id, lot_id, bidder_id, amount_cents, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, q, b.ID, b.LotID, b.BidderID, b.AmountCents, string(b.Kind), b.CreatedAt)
	return err
}

// HighestBid returns the highest bid for a lot, nil when no bid exists.
func (r *Repository) HighestBid(ctx context.Context, lotID uuid.UUID) (*models.Bid, error) {
	const q = `SELECT id, lot_id, bidder_id, amount_cents, kind, created_at
		FROM bids WHERE lot_id = $1 ORDER BY amount_cents DESC, created_at ASC LIMIT 1`
	var b models.Bid
	err := r.pool.QueryRow(ctx, q, lotID).Scan(&b.ID, &b.LotID, &b.BidderID, &b.AmountCents, &b.Kind, &b.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// ListBids returns a lot's bids, newest first.
func (r *Repository) ListBids(ctx context.Context, lotID uuid.UUID) ([]models.Bid, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, lot_id, bidder_id, amount_cents, kind, created_at
		FROM bids WHERE lot_id = $1 ORDER BY created_at DESC`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Bid
	for rows.Next() {
		var b models.Bid
		if err := rows.Scan(&b.ID, &b.LotID, &b.BidderID, &b.AmountCents, &b.Kind, &b.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// CountBidsBySession counts accepted bids across all lots of a session,
// used by the ranking feed as a bid-activity signal.
func (r *Repository) CountBidsBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM bids b JOIN lots l ON l.id = b.lot_id WHERE l.session_id = $1`
	var n int
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&n)
	return n, err
}

// SetCurrentLot updates the session's active lot pointer.
func (r *Repository) SetCurrentLot(ctx context.Context, sessionID uuid.UUID, lotID *uuid.UUID) error {
	const q = `UPDATE live_sessions SET current_lot_id = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, lotID, sessionID)
	return err
}
