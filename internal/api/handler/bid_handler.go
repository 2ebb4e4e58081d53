package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/evetabi/auction/internal/api/middleware"
	"github.com/evetabi/auction/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BidSubmitter is the arbitration entry point. *service.ArbitrationService
// implements it.
type BidSubmitter interface {
	SubmitBid(ctx context.Context, req domain.SubmitBidRequest, settings domain.Settings) (*domain.BidAccepted, error)
}

// SettingsProvider hands out the settings snapshot a request runs under.
type SettingsProvider interface {
	Snapshot() domain.Settings
}

// BidHandler serves bid submission.
type BidHandler struct {
	bids     BidSubmitter
	settings SettingsProvider
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(bids BidSubmitter, settings SettingsProvider) *BidHandler {
	return &BidHandler{bids: bids, settings: settings}
}

// SubmitBid godoc
// POST /api/lots/:id/bids [JWT]
// Body: {"amount":"350.00","attempt":1}
func (h *BidHandler) SubmitBid(c *gin.Context) {
	lotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_LOT_ID", "invalid lot id")
		return
	}

	var body struct {
		Amount  string `json:"amount"  binding:"required"`
		Attempt int    `json:"attempt"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		respondRejection(c, http.StatusBadRequest, domain.ErrInvalidAmount)
		return
	}

	req := domain.SubmitBidRequest{
		LotID:    lotID,
		BidderID: middleware.GetBidderID(c),
		Amount:   amount,
		Attempt:  body.Attempt,
	}
	res, err := h.bids.SubmitBid(c.Request.Context(), req, h.settings.Snapshot())
	if err != nil {
		respondRejection(c, bidStatus(err), err)
		return
	}
	respondSuccess(c, http.StatusCreated, res)
}

// bidStatus maps a bid rejection to its HTTP status.
func bidStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBidTooLow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotRegistered):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrLotNotLive), errors.Is(err, domain.ErrBiddingClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRaceLost), errors.Is(err, domain.ErrAttemptSpent):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAuthorizationDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case domain.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
