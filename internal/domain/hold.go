package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HoldStatus mirrors the gateway-side state of an authorization.
type HoldStatus string

const (
	HoldStatusAuthorized HoldStatus = "authorized" // funds reserved
	HoldStatusCaptured   HoldStatus = "captured"   // settled against a sale
	HoldStatusCancelled  HoldStatus = "cancelled"  // released
)

// HoldPurpose distinguishes bid holds from registration deposits.
type HoldPurpose string

const (
	HoldPurposeBid     HoldPurpose = "bid"
	HoldPurposeDeposit HoldPurpose = "deposit"
)

// Hold is the local record of a payment gateway authorization.
//
// ReleasePending marks a hold whose cancel failed and is waiting for the
// reconciliation sweep.
type Hold struct {
	Ref            string           `json:"ref"             db:"ref"`
	BidderID       uuid.UUID        `json:"bidder_id"       db:"bidder_id"`
	EventID        uuid.UUID        `json:"event_id"        db:"event_id"`
	LotID          *uuid.UUID       `json:"lot_id"          db:"lot_id"`
	Purpose        HoldPurpose      `json:"purpose"         db:"purpose"`
	Amount         decimal.Decimal  `json:"amount"          db:"amount"`
	CapturedAmount *decimal.Decimal `json:"captured_amount" db:"captured_amount"`
	Status         HoldStatus       `json:"status"          db:"status"`
	IdempotencyKey string           `json:"idempotency_key" db:"idempotency_key"`
	ReleasePending bool             `json:"release_pending" db:"release_pending"`
	LastError      *string          `json:"last_error"      db:"last_error"`
	CreatedAt      time.Time        `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"      db:"updated_at"`
}

// Covers reports whether the hold can be captured for amount.
func (h *Hold) Covers(amount decimal.Decimal) bool {
	return h.Status == HoldStatusAuthorized && h.Amount.GreaterThanOrEqual(amount)
}

// CancelKey is the gateway idempotency key for releasing this hold.
func (h *Hold) CancelKey() string {
	return "cancel:" + h.Ref
}
