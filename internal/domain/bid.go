package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Bid
// ──────────────────────────────────────────────────────────────────────────────

// BidStatus represents the lifecycle stage of a bid.
type BidStatus string

const (
	BidStatusActive    BidStatus = "active"    // current leader of its lot
	BidStatusOutbid    BidStatus = "outbid"    // displaced, or beaten by the leader's ceiling on arrival
	BidStatusWon       BidStatus = "won"       // leader when the lot closed
	BidStatusCancelled BidStatus = "cancelled" // withdrawn before arbitration
)

// Bid is one accepted submission against a lot.
//
// HammerAmount is the public price at which the bid stands. MaxCeiling is the
// bidder's private proxy limit; it is never serialised to API clients.
type Bid struct {
	ID           uuid.UUID        `json:"id"            db:"id"`
	LotID        uuid.UUID        `json:"lot_id"        db:"lot_id"`
	BidderID     uuid.UUID        `json:"bidder_id"     db:"bidder_id"`
	HammerAmount decimal.Decimal  `json:"hammer_amount" db:"hammer_amount"`
	MaxCeiling   *decimal.Decimal `json:"-"             db:"max_ceiling"`
	Status       BidStatus        `json:"status"        db:"status"`
	HoldRef      string           `json:"-"             db:"hold_ref"`
	Attempt      int              `json:"attempt"       db:"attempt"`
	CreatedAt    time.Time        `json:"created_at"    db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"    db:"updated_at"`
}

// Ceiling returns the bid's proxy limit, falling back to the hammer amount
// for bids placed without one.
func (b *Bid) Ceiling() decimal.Decimal {
	if b.MaxCeiling == nil {
		return b.HammerAmount
	}
	return *b.MaxCeiling
}

// SubmitBidRequest is the inbound bid as seen by the arbitration service.
// Attempt is supplied by the client and bumped only when the client wants a
// fresh authorization instead of a retry of the previous one.
type SubmitBidRequest struct {
	LotID    uuid.UUID       `json:"lot_id"`
	BidderID uuid.UUID       `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
	Attempt  int             `json:"attempt"`
}

// HoldKey is the gateway idempotency key for the request's hold.
func (r SubmitBidRequest) HoldKey() string {
	attempt := r.Attempt
	if attempt < 1 {
		attempt = 1
	}
	return fmt.Sprintf("bid:%s:%s:%s:%d", r.BidderID, r.LotID, r.Amount.StringFixed(MoneyPlaces), attempt)
}

// BidAccepted is the synchronous answer to an accepted submission.
type BidAccepted struct {
	BidID         uuid.UUID       `json:"bid_id"`
	LotID         uuid.UUID       `json:"lot_id"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	EndsAt        time.Time       `json:"ends_at"`
	LeaderChanged bool            `json:"leader_changed"`
	Leading       bool            `json:"leading"`  // false when the challenger was immediately outbid
	Extended      bool            `json:"extended"` // ends_at moved by the soft close
}
