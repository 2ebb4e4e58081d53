package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/evetabi/auction/internal/api/middleware"
	"github.com/evetabi/auction/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Registrar admits bidders to events. *service.RegistrationService
// implements it.
type Registrar interface {
	RegisterForEvent(ctx context.Context, eventID, bidderID uuid.UUID, instrumentRef string) (*domain.Registration, error)
}

// RegistrationHandler serves event registration.
type RegistrationHandler struct {
	registrar Registrar
}

// NewRegistrationHandler creates a RegistrationHandler.
func NewRegistrationHandler(registrar Registrar) *RegistrationHandler {
	return &RegistrationHandler{registrar: registrar}
}

// Register godoc
// POST /api/events/:id/register [JWT]
// Body: {"instrument_ref":"pm_123"}
func (h *RegistrationHandler) Register(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_EVENT_ID", "invalid event id")
		return
	}

	var body struct {
		InstrumentRef string `json:"instrument_ref"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	reg, err := h.registrar.RegisterForEvent(c.Request.Context(), eventID, middleware.GetBidderID(c), body.InstrumentRef)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInstrumentRequired):
			respondRejection(c, http.StatusBadRequest, err)
		case errors.Is(err, domain.ErrEventClosed):
			respondRejection(c, http.StatusConflict, err)
		case errors.Is(err, domain.ErrAuthorizationDeclined):
			respondRejection(c, http.StatusPaymentRequired, err)
		case errors.Is(err, domain.ErrGatewayUnavailable):
			respondRejection(c, http.StatusServiceUnavailable, err)
		case domain.IsNotFound(err):
			respondError(c, http.StatusNotFound, "ERR_EVENT_NOT_FOUND", domain.ErrEventNotFound.Error())
		default:
			respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "registration failed")
		}
		return
	}
	respondSuccess(c, http.StatusCreated, reg)
}
