package presence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository mirrors viewer counters onto the live_sessions row. Implements Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a presence counter repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SetViewerCount writes the current viewer count.
func (r *Repository) SetViewerCount(ctx context.Context, sessionID uuid.UUID, count int) error {
	const q = `UPDATE live_sessions SET viewer_count = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, count, sessionID)
	return err
}

// IncrementTotalViewers bumps the cumulative viewer counter and returns the new total.
func (r *Repository) IncrementTotalViewers(ctx context.Context, sessionID uuid.UUID) (int, error) {
	const q = `UPDATE live_sessions SET total_viewers = total_viewers + 1, updated_at = NOW()
		WHERE id = $1 RETURNING total_viewers`
	var total int
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&total)
	return total, err
}

// ViewerCounts reads the persisted current and cumulative counters.
func (r *Repository) ViewerCounts(ctx context.Context, sessionID uuid.UUID) (int, int, error) {
	const q = `SELECT viewer_count, total_viewers FROM live_sessions WHERE id = $1`
	var current, total int
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&current, &total)
	return current, total, err
}
