package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidstream/backend/internal/models"
)

const orderColumns = `id, lot_id, session_id, buyer_id, amount_cents, status, created_at, updated_at`

// Repository provides database access for checkout orders.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates an order repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a pending-payment order for a sold lot. The unique
// constraint on lot_id makes redelivered checkout jobs a no-op; created is
// false when the order already existed.
func (r *Repository) Create(ctx context.Context, lotID, sessionID, buyerID uuid.UUID, amountCents int64) (bool, error) {
	query := `
		INSERT INTO orders (lot_id, session_id, buyer_id, amount_cents, status)
		VALUES ($1, $2, $3, $4, 'pending_payment')
		ON CONFLICT (lot_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query, lotID, sessionID, buyerID, amountCents)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetByLotID fetches the order for a lot.
func (r *Repository) GetByLotID(ctx context.Context, lotID uuid.UUID) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE lot_id = $1`

	var o models.Order
	err := r.db.QueryRow(ctx, query, lotID).Scan(
		&o.ID, &o.LotID, &o.SessionID, &o.BuyerID, &o.AmountCents, &o.Status, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListByBuyer returns a buyer's orders, newest first.
func (r *Repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(
			&o.ID, &o.LotID, &o.SessionID, &o.BuyerID, &o.AmountCents, &o.Status, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
