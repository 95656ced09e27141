package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle status of a live session.
type SessionStatus string

const (
	SessionScheduled SessionStatus = "scheduled"
	SessionLive      SessionStatus = "live"
	SessionEnded     SessionStatus = "ended"
)

// LiveSession represents one streaming event where a seller auctions lots.
type LiveSession struct {
	ID           uuid.UUID     `json:"id"`
	SellerID     uuid.UUID     `json:"seller_id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Status       SessionStatus `json:"status"`
	CurrentLotID *uuid.UUID    `json:"current_lot_id,omitempty"`
	ViewerCount  int           `json:"viewer_count"`
	TotalViewers int           `json:"total_viewers"`
	ScheduledAt  time.Time     `json:"scheduled_at"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
