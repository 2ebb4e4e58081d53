package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LotChange is published after every committed lot mutation. Delivery is
// at-least-once; consumers drop records whose Version they have already seen.
type LotChange struct {
	LotID        uuid.UUID       `json:"lot_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	EndsAt       time.Time       `json:"ends_at"`
	WinnerID     *uuid.UUID      `json:"winner_id,omitempty"`
	Status       LotStatus       `json:"status"`
	BidCount     int             `json:"bid_count"`
	Version      int64           `json:"version"`
}

// LeadershipChanged is emitted only when the leading bidder of a lot is
// replaced by another bidder. It drives outbid notifications.
type LeadershipChanged struct {
	LotID          uuid.UUID       `json:"lot_id"`
	PreviousLeader uuid.UUID       `json:"previous_leader"`
	NewLeader      uuid.UUID       `json:"new_leader"`
	NewAmount      decimal.Decimal `json:"new_amount"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
