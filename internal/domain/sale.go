package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleStatus represents the payment stage of a sale.
type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"   // created at close, capture not yet confirmed
	SaleStatusPaid      SaleStatus = "paid"      // winning hold captured
	SaleStatusCancelled SaleStatus = "cancelled" // voided by ops
)

// Sale is created exactly once, when a lot closes as sold.
//
// Rates are copied from the settings snapshot taken when closing ran, so later
// changes to premium or tax never touch an existing sale.
type Sale struct {
	ID           uuid.UUID       `json:"id"            db:"id"`
	LotID        uuid.UUID       `json:"lot_id"        db:"lot_id"`
	BidID        uuid.UUID       `json:"bid_id"        db:"bid_id"`
	WinnerID     uuid.UUID       `json:"winner_id"     db:"winner_id"`
	HoldRef      string          `json:"hold_ref"      db:"hold_ref"`
	HammerPrice  decimal.Decimal `json:"hammer_price"  db:"hammer_price"`
	PremiumRate  decimal.Decimal `json:"premium_rate"  db:"premium_rate"`
	TaxRate      decimal.Decimal `json:"tax_rate"      db:"tax_rate"`
	TotalAmount  decimal.Decimal `json:"total_amount"  db:"total_amount"`
	Status       SaleStatus      `json:"status"        db:"status"`
	NeedsReview  bool            `json:"needs_review"  db:"needs_review"`
	ReviewReason *string         `json:"review_reason" db:"review_reason"`
	CapturedAt   *time.Time      `json:"captured_at"   db:"captured_at"`
	CreatedAt    time.Time       `json:"created_at"    db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"    db:"updated_at"`
}

// NewSale builds the pending sale for a lot closing on its active bid.
func NewSale(lot *Lot, winning *Bid, settings Settings, now time.Time) *Sale {
	return &Sale{
		ID:          uuid.New(),
		LotID:       lot.ID,
		BidID:       winning.ID,
		WinnerID:    winning.BidderID,
		HoldRef:     winning.HoldRef,
		HammerPrice: lot.CurrentPrice,
		PremiumRate: settings.PremiumRate,
		TaxRate:     settings.TaxRate,
		TotalAmount: settings.TotalConsideration(lot.CurrentPrice),
		Status:      SaleStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CaptureKey is the gateway idempotency key for capturing this sale.
func (s *Sale) CaptureKey() string {
	return "capture:" + s.ID.String()
}

// CloseReport summarises one closing batch. A lot id can appear in both
// Closed and Failed when the transition committed but capture did not.
type CloseReport struct {
	Closed  []uuid.UUID `json:"closed"`
	Settled []uuid.UUID `json:"settled"`
	Failed  []uuid.UUID `json:"failed"`
}
