package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bidstream/backend/internal/models"
)

const sessionColumns = `id, seller_id, title, description, status, current_lot_id,
	viewer_count, total_viewers, scheduled_at, started_at, ended_at, created_at, updated_at`

// Repository provides database access for live sessions.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a scheduled session.
func (r *Repository) Create(ctx context.Context, sellerID uuid.UUID, title, description string, scheduledAt time.Time) (*models.LiveSession, error) {
	query := `
		INSERT INTO live_sessions (seller_id, title, description, status, scheduled_at)
		VALUES ($1, $2, $3, 'scheduled', $4)
		RETURNING ` + sessionColumns

	var s models.LiveSession
	err := r.db.QueryRow(ctx, query, sellerID, title, description, scheduledAt).Scan(
		&s.ID, &s.SellerID, &s.Title, &s.Description, &s.Status, &s.CurrentLotID,
		&s.ViewerCount, &s.TotalViewers, &s.ScheduledAt, &s.StartedAt, &s.EndedAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByID fetches a session by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE id = $1`

	var s models.LiveSession
	err := r.db.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.SellerID, &s.Title, &s.Description, &s.Status, &s.CurrentLotID,
		&s.ViewerCount, &s.TotalViewers, &s.ScheduledAt, &s.StartedAt, &s.EndedAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListLive returns all sessions currently in 'live' status.
func (r *Repository) ListLive(ctx context.Context) ([]models.LiveSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE status = 'live' ORDER BY started_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LiveSession
	for rows.Next() {
		var s models.LiveSession
		if err := rows.Scan(
			&s.ID, &s.SellerID, &s.Title, &s.Description, &s.Status, &s.CurrentLotID,
			&s.ViewerCount, &s.TotalViewers, &s.ScheduledAt, &s.StartedAt, &s.EndedAt,
			&s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListBySeller returns a seller's sessions, newest first.
func (r *Repository) ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]models.LiveSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM live_sessions WHERE seller_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LiveSession
	for rows.Next() {
		var s models.LiveSession
		if err := rows.Scan(
			&s.ID, &s.SellerID, &s.Title, &s.Description, &s.Status, &s.CurrentLotID,
			&s.ViewerCount, &s.TotalViewers, &s.ScheduledAt, &s.StartedAt, &s.EndedAt,
			&s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkLive transitions a scheduled session to live. Returns false when the
// session was not in 'scheduled' status.
func (r *Repository) MarkLive(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE live_sessions
		SET status = 'live', started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkEnded transitions a live session to ended and clears the current lot.
// Returns false when the session was not live.
func (r *Repository) MarkEnded(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE live_sessions
		SET status = 'ended', ended_at = NOW(), current_lot_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'live'`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
