package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventStatus represents the lifecycle stage of an auction event.
type EventStatus string

const (
	EventStatusScheduled EventStatus = "scheduled" // registration open, lots still draft
	EventStatusRunning   EventStatus = "running"   // start_at passed, lots live
	EventStatusClosed    EventStatus = "closed"    // all lots closed
)

// Event groups lots that open together.
type Event struct {
	ID            uuid.UUID       `json:"id"             db:"id"`
	Title         string          `json:"title"          db:"title"`
	StartAt       time.Time       `json:"start_at"       db:"start_at"`
	EndsAt        time.Time       `json:"ends_at"        db:"ends_at"`
	DepositAmount decimal.Decimal `json:"deposit_amount" db:"deposit_amount"`
	Status        EventStatus     `json:"status"         db:"status"`
	CreatedAt     time.Time       `json:"created_at"     db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"     db:"updated_at"`
}

// HasStarted reports whether bidding on the event's lots may begin.
func (e *Event) HasStarted(now time.Time) bool {
	return !now.Before(e.StartAt)
}

// RequiresDeposit reports whether registration must secure a deposit hold.
func (e *Event) RequiresDeposit() bool {
	return e.DepositAmount.IsPositive()
}

// Registration admits a bidder to an event's lots.
type Registration struct {
	EventID        uuid.UUID `json:"event_id"         db:"event_id"`
	BidderID       uuid.UUID `json:"bidder_id"        db:"bidder_id"`
	InstrumentRef  string    `json:"-"                db:"instrument_ref"`
	DepositHoldRef *string   `json:"deposit_hold_ref" db:"deposit_hold_ref"`
	CreatedAt      time.Time `json:"created_at"       db:"created_at"`
}

// DepositKey is the gateway idempotency key for a registration deposit.
func DepositKey(eventID, bidderID uuid.UUID) string {
	return fmt.Sprintf("deposit:%s:%s", eventID, bidderID)
}
