package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/evetabi/auction/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SaleSettler exposes flagged sales and capture retries.
// *service.SettlementService implements it.
type SaleSettler interface {
	ListFlaggedSales(ctx context.Context, limit, offset int) ([]*domain.Sale, int, error)
	RetryCapture(ctx context.Context, saleID uuid.UUID) (*domain.Sale, error)
}

// HoldReconciler exposes queued hold releases. *service.PaymentSaga
// implements it.
type HoldReconciler interface {
	ListPendingReleases(ctx context.Context, limit int) ([]*domain.Hold, error)
	ReconcileReleases(ctx context.Context, limit int) (int, error)
}

// FinanceHandler serves /admin/sales and /admin/holds.
type FinanceHandler struct {
	sales  SaleSettler
	holds  HoldReconciler
	logger *slog.Logger
}

// NewFinanceHandler creates a FinanceHandler.
func NewFinanceHandler(sales SaleSettler, holds HoldReconciler, logger *slog.Logger) *FinanceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FinanceHandler{sales: sales, holds: holds, logger: logger}
}

// FlaggedSales godoc
// GET /admin/sales/flagged?page=1&limit=50
func (h *FinanceHandler) FlaggedSales(c *gin.Context) {
	page, limit := adminPagination(c)
	sales, total, err := h.sales.ListFlaggedSales(c.Request.Context(), limit, (page-1)*limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondList(c, sales, total, page, limit)
}

// RetryCapture godoc
// POST /admin/sales/:id/retry-capture
func (h *FinanceHandler) RetryCapture(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid sale id")
		return
	}

	sale, err := h.sales.RetryCapture(c.Request.Context(), id)
	h.logger.Info("capture retry requested", "sale_id", id, "operator_id", operatorID(c), "err", err)
	if err != nil {
		switch {
		case domain.IsNotFound(err):
			respondError(c, http.StatusNotFound, "ERR_SALE_NOT_FOUND", domain.ErrSaleNotFound.Error())
		case domain.IsConflict(err):
			respondError(c, http.StatusConflict, "ERR_SALE_NOT_PENDING", domain.ErrSaleNotPending.Error())
		default:
			respondError(c, http.StatusBadGateway, "ERR_CAPTURE_FAILED", err.Error())
		}
		return
	}
	respondSuccess(c, http.StatusOK, sale)
}

// PendingReleases godoc
// GET /admin/holds/pending-release?limit=50
func (h *FinanceHandler) PendingReleases(c *gin.Context) {
	_, limit := adminPagination(c)
	holds, err := h.holds.ListPendingReleases(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	respondList(c, holds, len(holds), 1, limit)
}

// Reconcile godoc
// POST /admin/holds/reconcile?limit=50
func (h *FinanceHandler) Reconcile(c *gin.Context) {
	_, limit := adminPagination(c)
	released, err := h.holds.ReconcileReleases(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
		return
	}
	h.logger.Info("hold reconciliation run", "operator_id", operatorID(c), "released", released)
	respondSuccess(c, http.StatusOK, gin.H{"released": released})
}
