package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/evetabi/auction/internal/domain"
	"github.com/gin-gonic/gin"
)

// Closer runs a closing batch. *service.SettlementService implements it.
type Closer interface {
	CloseExpiredLots(ctx context.Context, settings domain.Settings) (*domain.CloseReport, error)
}

// SettingsSource hands out and reloads the settings snapshot.
// *config.SettingsSource implements it.
type SettingsSource interface {
	Snapshot() domain.Settings
	Reload() (domain.Settings, error)
}

// OpsHandler serves closing runs and settings.
type OpsHandler struct {
	closer   Closer
	settings SettingsSource
	logger   *slog.Logger
}

// NewOpsHandler creates an OpsHandler.
func NewOpsHandler(closer Closer, settings SettingsSource, logger *slog.Logger) *OpsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpsHandler{closer: closer, settings: settings, logger: logger}
}

// Close godoc
// POST /admin/settlement/close
func (h *OpsHandler) Close(c *gin.Context) {
	report, err := h.closer.CloseExpiredLots(c.Request.Context(), h.settings.Snapshot())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	h.logger.Info("closing run requested", "operator_id", operatorID(c),
		"closed", len(report.Closed), "settled", len(report.Settled), "failed", len(report.Failed))
	respondSuccess(c, http.StatusOK, report)
}

// Settings godoc
// GET /admin/settings
func (h *OpsHandler) Settings(c *gin.Context) {
	respondSuccess(c, http.StatusOK, settingsView(h.settings.Snapshot()))
}

// ReloadSettings godoc
// POST /admin/settings/reload
func (h *OpsHandler) ReloadSettings(c *gin.Context) {
	s, err := h.settings.Reload()
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, "ERR_INVALID_SETTINGS", err.Error())
		return
	}
	h.logger.Info("settings reload requested", "operator_id", operatorID(c))
	respondSuccess(c, http.StatusOK, settingsView(s))
}

func settingsView(s domain.Settings) gin.H {
	return gin.H{
		"premium_rate":        s.PremiumRate,
		"tax_rate":            s.TaxRate,
		"extension_threshold": s.ExtensionThreshold.String(),
		"extension_duration":  s.ExtensionDuration.String(),
		"loaded_at":           s.LoadedAt,
	}
}
