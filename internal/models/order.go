package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the checkout status of a won lot.
type OrderStatus string

const (
	OrderPendingPayment OrderStatus = "pending_payment"
	OrderPaid           OrderStatus = "paid"
	OrderCancelled      OrderStatus = "cancelled"
)

// Order is the checkout record created after a lot is sold.
// Payment capture happens in the external payment processor; this row is the handoff.
type Order struct {
	ID          uuid.UUID   `json:"id"`
	LotID       uuid.UUID   `json:"lot_id"`
	SessionID   uuid.UUID   `json:"session_id"`
	BuyerID     uuid.UUID   `json:"buyer_id"`
	AmountCents int64       `json:"amount_cents"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
