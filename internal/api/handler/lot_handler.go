package handler

import (
	"context"
	"net/http"

	"github.com/evetabi/auction/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// LotReader serves public lot views. *service.LotService implements it.
type LotReader interface {
	GetPublicLot(ctx context.Context, id uuid.UUID) (domain.LotView, error)
}

// LotHandler serves public lot endpoints.
type LotHandler struct {
	lots LotReader
}

// NewLotHandler creates a LotHandler.
func NewLotHandler(lots LotReader) *LotHandler {
	return &LotHandler{lots: lots}
}

// GetByID godoc
// GET /api/lots/:id
func (h *LotHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_LOT_ID", "invalid lot id")
		return
	}

	view, err := h.lots.GetPublicLot(c.Request.Context(), id)
	if err != nil {
		if domain.IsNotFound(err) {
			respondError(c, http.StatusNotFound, "ERR_LOT_NOT_FOUND", domain.ErrLotNotFound.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "could not fetch lot")
		return
	}
	respondSuccess(c, http.StatusOK, view)
}
