package models

import (
	"time"

	"github.com/google/uuid"
)

// BidKind distinguishes a regular bid from a buy-now purchase.
type BidKind string

const (
	BidKindBid    BidKind = "bid"
	BidKindBuyNow BidKind = "buy_now"
)

// Bid is an immutable record of one accepted offer. Append-only.
type Bid struct {
	ID          uuid.UUID `json:"id"`
	LotID       uuid.UUID `json:"lot_id"`
	BidderID    uuid.UUID `json:"bidder_id"`
	AmountCents int64     `json:"amount_cents"`
	Kind        BidKind   `json:"kind"`
	CreatedAt   time.Time `json:"created_at"`
}
