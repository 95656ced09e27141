package models

import (
	"time"

	"github.com/google/uuid"
)

// LotStatus is the lifecycle status of an auctioned lot.
// Transitions are forward-only: queued -> active -> sold|completed.
type LotStatus string

const (
	LotQueued    LotStatus = "queued"
	LotActive    LotStatus = "active"
	LotSold      LotStatus = "sold"
	LotCompleted LotStatus = "completed"
)

// Lot is one item up for auction within a live session. All amounts are in cents.
type Lot struct {
	ID                 uuid.UUID  `json:"id"`
	SessionID          uuid.UUID  `json:"session_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	StartingPriceCents int64      `json:"starting_price_cents"`
	CurrentPriceCents  int64      `json:"current_price_cents"`
	BuyNowPriceCents   *int64     `json:"buy_now_price_cents,omitempty"`
	MinIncrementCents  int64      `json:"min_increment_cents"`
	Status             LotStatus  `json:"status"`
	WinnerID           *uuid.UUID `json:"winner_id,omitempty"`
	FinalPriceCents    *int64     `json:"final_price_cents,omitempty"`
	ImageURL           string     `json:"image_url,omitempty"`
	ImageS3Key         string     `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Terminal reports whether the lot can no longer change state.
func (l *Lot) Terminal() bool {
	return l.Status == LotSold || l.Status == LotCompleted
}
