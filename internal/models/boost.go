package models

import (
	"time"

	"github.com/google/uuid"
)

// Boost is an externally granted visibility multiplier for a session's ranking score.
type Boost struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	Multiplier float64   `json:"multiplier"`
	GrantedBy  uuid.UUID `json:"granted_by"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}
