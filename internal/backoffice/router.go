package backoffice

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/evetabi/auction/internal/api/middleware"
	"github.com/evetabi/auction/internal/backoffice/handler"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/metrics"
	"github.com/evetabi/auction/internal/payment"
	"github.com/gin-gonic/gin"
)

// GatewayStatus is implemented by *payment.Client.
type GatewayStatus interface {
	BreakerState() payment.State
	Currency() string
}

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	Auth     middleware.TokenParser
	Closer   handler.Closer
	Sales    handler.SaleSettler
	Holds    handler.HoldReconciler
	Settings handler.SettingsSource
	Lots     handler.LotBrowser
	Bids     handler.BidHistory
	Gateway  GatewayStatus // optional, reported on /health
	Cfg      *config.Config
	Logger   *slog.Logger
}

// SetupBackofficeRouter creates the admin Gin engine.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	r.GET("/health", healthHandler(deps.Gateway))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "backoffice")
	opsH := handler.NewOpsHandler(deps.Closer, deps.Settings, logger)
	financeH := handler.NewFinanceHandler(deps.Sales, deps.Holds, logger)
	lotH := handler.NewLotAdminHandler(deps.Lots, deps.Bids)

	operate := middleware.RequireRole(domain.Role.CanOperate)

	admin := r.Group("/admin")
	admin.Use(middleware.JWTMiddleware(deps.Auth), middleware.RequireRole(domain.Role.CanAccessBackoffice))
	{
		// Closing
		admin.POST("/settlement/close", operate, opsH.Close)

		// Lots
		admin.GET("/lots", lotH.List)
		admin.GET("/lots/:id/bids", lotH.Bids)

		// Sales
		sales := admin.Group("/sales")
		{
			sales.GET("/flagged", financeH.FlaggedSales)
			sales.POST("/:id/retry-capture", operate, financeH.RetryCapture)
		}

		// Holds
		holds := admin.Group("/holds")
		{
			holds.GET("/pending-release", financeH.PendingReleases)
			holds.POST("/reconcile", operate, financeH.Reconcile)
		}

		// Settings
		admin.GET("/settings", opsH.Settings)
		admin.POST("/settings/reload", operate, opsH.ReloadSettings)
	}

	return r
}

// healthHandler reports "degraded" while the gateway breaker is not closed.
func healthHandler(gw GatewayStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		if gw == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		state := gw.BreakerState()
		status := "ok"
		if state != payment.StateClosed {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status": status,
			"gateway": gin.H{
				"breaker":  state.String(),
				"currency": gw.Currency(),
			},
		})
	}
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_IP_DENIED",
			})
			return
		}
		c.Next()
	}
}
