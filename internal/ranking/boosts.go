package ranking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidstream/backend/internal/models"
)

// BoostRepository handles visibility-boost persistence.
type BoostRepository struct {
	pool *pgxpool.Pool
}

// NewBoostRepository creates a boost repository.
func NewBoostRepository(pool *pgxpool.Pool) *BoostRepository {
	return &BoostRepository{pool: pool}
}

// Grant records a boost for a session.
func (r *BoostRepository) Grant(ctx context.Context, sessionID, grantedBy uuid.UUID, multiplier float64, duration time.Duration) (*models.Boost, error) {
	const q = `INSERT INTO boosts (id, session_id, multiplier, granted_by, expires_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id, session_id, multiplier, granted_by, expires_at, created_at`
	var b models.Boost
	err := r.pool.QueryRow(ctx, q, sessionID, multiplier, grantedBy, time.Now().Add(duration)).
		Scan(&b.ID, &b.SessionID, &b.Multiplier, &b.GrantedBy, &b.ExpiresAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ActiveMultiplier returns the strongest unexpired boost for a session, 1 when none.
func (r *BoostRepository) ActiveMultiplier(ctx context.Context, sessionID uuid.UUID) (float64, error) {
	const q = `SELECT multiplier FROM boosts
		WHERE session_id = $1 AND expires_at > NOW()
		ORDER BY multiplier DESC LIMIT 1`
	var m float64
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&m)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 1, nil
		}
		return 1, err
	}
	return m, nil
}
