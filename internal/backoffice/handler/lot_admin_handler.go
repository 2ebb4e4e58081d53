package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LotBrowser lists lots by status. Implemented by repository.LotRepository.
type LotBrowser interface {
	ListByStatus(ctx context.Context, status domain.LotStatus, limit, offset int) ([]*domain.Lot, int, error)
}

// BidHistory lists a lot's bids. Implemented by repository.BidRepository.
type BidHistory interface {
	ListByLot(ctx context.Context, lotID uuid.UUID, limit, offset int) ([]*domain.Bid, error)
}

// LotAdminHandler serves operator views of lots and their bid history.
// Unlike the public API these include ceilings and hold references.
type LotAdminHandler struct {
	lots LotBrowser
	bids BidHistory
}

// bidRow is the operator view of a bid. domain.Bid hides these fields from JSON.
type bidRow struct {
	ID           uuid.UUID        `json:"id"`
	BidderID     uuid.UUID        `json:"bidder_id"`
	HammerAmount decimal.Decimal  `json:"hammer_amount"`
	MaxCeiling   decimal.Decimal  `json:"max_ceiling"`
	Status       domain.BidStatus `json:"status"`
	HoldRef      string           `json:"hold_ref"`
	Attempt      int              `json:"attempt"`
	CreatedAt    time.Time        `json:"created_at"`
}

// NewLotAdminHandler creates a LotAdminHandler.
func NewLotAdminHandler(lots LotBrowser, bids BidHistory) *LotAdminHandler {
	return &LotAdminHandler{lots: lots, bids: bids}
}

// List handles GET /admin/lots?status=live
func (h *LotAdminHandler) List(c *gin.Context) {
	status := domain.LotStatus(c.DefaultQuery("status", string(domain.LotStatusLive)))
	switch status {
	case domain.LotStatusDraft, domain.LotStatusLive, domain.LotStatusSold, domain.LotStatusEnded:
	default:
		respondError(c, http.StatusBadRequest, "ERR_INVALID_STATUS", "unknown lot status")
		return
	}

	page, limit := adminPagination(c)
	lots, total, err := h.lots.ListByStatus(c.Request.Context(), status, limit, (page-1)*limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "failed to list lots")
		return
	}
	if lots == nil {
		lots = []*domain.Lot{}
	}
	respondList(c, lots, total, page, limit)
}

// Bids handles GET /admin/lots/:id/bids
func (h *LotAdminHandler) Bids(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_LOT_ID", "invalid lot id")
		return
	}

	page, limit := adminPagination(c)
	bids, err := h.bids.ListByLot(c.Request.Context(), lotID, limit, (page-1)*limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "failed to list bids")
		return
	}
	rows := make([]bidRow, 0, len(bids))
	for _, b := range bids {
		rows = append(rows, bidRow{
			ID:           b.ID,
			BidderID:     b.BidderID,
			HammerAmount: b.HammerAmount,
			MaxCeiling:   b.Ceiling(),
			Status:       b.Status,
			HoldRef:      b.HoldRef,
			Attempt:      b.Attempt,
			CreatedAt:    b.CreatedAt,
		})
	}
	respondList(c, rows, len(rows), page, limit)
}
