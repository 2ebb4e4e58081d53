package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Lot
// ──────────────────────────────────────────────────────────────────────────────

// LotStatus represents the lifecycle stage of a lot.
type LotStatus string

const (
	LotStatusDraft LotStatus = "draft" // created by a curator, not yet biddable
	LotStatusLive  LotStatus = "live"  // accepting bids until ends_at
	LotStatusSold  LotStatus = "sold"  // closed with a winner, sale created
	LotStatusEnded LotStatus = "ended" // closed without bids
)

// Lot is a single item auctioned inside an event.
//
// While the lot is live, WinnerID holds the current leader. Once sold it is the
// final winner. CurrentPrice always mirrors the active bid's hammer amount, or
// StartPrice when there is none.
type Lot struct {
	ID           uuid.UUID       `json:"id"            db:"id"`
	EventID      uuid.UUID       `json:"event_id"      db:"event_id"`
	Title        string          `json:"title"         db:"title"`
	StartPrice   decimal.Decimal `json:"start_price"   db:"start_price"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	MinIncrement decimal.Decimal `json:"min_increment" db:"min_increment"`
	EndsAt       time.Time       `json:"ends_at"       db:"ends_at"`
	Status       LotStatus       `json:"status"        db:"status"`
	WinnerID     *uuid.UUID      `json:"winner_id"     db:"winner_id"`
	BidCount     int             `json:"bid_count"     db:"bid_count"`
	Version      int64           `json:"version"       db:"version"`
	CreatedAt    time.Time       `json:"created_at"    db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"    db:"updated_at"`
}

// IsLive reports whether the lot is in the biddable status.
func (l *Lot) IsLive() bool {
	return l.Status == LotStatusLive
}

// HasLeader reports whether an active bid currently leads the lot.
func (l *Lot) HasLeader() bool {
	return l.WinnerID != nil
}

// MinimumBid is the smallest desired amount arbitration will accept.
func (l *Lot) MinimumBid() decimal.Decimal {
	if !l.HasLeader() {
		return l.StartPrice
	}
	return l.CurrentPrice.Add(l.MinIncrement)
}

// AcceptsBidsAt reports whether the lot is live and now is before ends_at.
// The event start bound is checked by the caller, which owns the event row.
func (l *Lot) AcceptsBidsAt(now time.Time) bool {
	return l.IsLive() && now.Before(l.EndsAt)
}

// IsExpired reports whether a live lot is due for closing.
func (l *Lot) IsExpired(now time.Time) bool {
	return l.IsLive() && !now.Before(l.EndsAt)
}

// Change builds the public change-stream record for the lot's current state.
func (l *Lot) Change() LotChange {
	return LotChange{
		LotID:        l.ID,
		CurrentPrice: l.CurrentPrice,
		EndsAt:       l.EndsAt,
		WinnerID:     l.WinnerID,
		Status:       l.Status,
		BidCount:     l.BidCount,
		Version:      l.Version,
	}
}

// LotView is the public projection of a lot. It never carries bid ceilings.
// WinnerID is kept for minimum-bid and leader checks but is not serialised.
type LotView struct {
	ID           uuid.UUID       `json:"id"`
	EventID      uuid.UUID       `json:"event_id"`
	Title        string          `json:"title"`
	StartPrice   decimal.Decimal `json:"start_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MinIncrement decimal.Decimal `json:"min_increment"`
	MinimumBid   decimal.Decimal `json:"minimum_bid"`
	EndsAt       time.Time       `json:"ends_at"`
	Status       LotStatus       `json:"status"`
	WinnerID     *uuid.UUID      `json:"-"`
	BidCount     int             `json:"bid_count"`
	Version      int64           `json:"version"`
}

// View returns the public projection of l.
func (l *Lot) View() LotView {
	return LotView{
		ID:           l.ID,
		EventID:      l.EventID,
		Title:        l.Title,
		StartPrice:   l.StartPrice,
		CurrentPrice: l.CurrentPrice,
		MinIncrement: l.MinIncrement,
		MinimumBid:   l.MinimumBid(),
		EndsAt:       l.EndsAt,
		Status:       l.Status,
		WinnerID:     l.WinnerID,
		BidCount:     l.BidCount,
		Version:      l.Version,
	}
}

// Apply folds a newer change-stream record into the view. Older or duplicate
// versions are ignored and Apply reports false.
func (v *LotView) Apply(ch LotChange) bool {
	if ch.LotID != v.ID || ch.Version <= v.Version {
		return false
	}
	v.CurrentPrice = ch.CurrentPrice
	v.EndsAt = ch.EndsAt
	v.WinnerID = ch.WinnerID
	v.Status = ch.Status
	v.BidCount = ch.BidCount
	v.Version = ch.Version
	if ch.WinnerID == nil {
		v.MinimumBid = v.StartPrice
	} else {
		v.MinimumBid = ch.CurrentPrice.Add(v.MinIncrement)
	}
	return true
}
