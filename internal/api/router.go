package api

import (
	"net/http"

	"github.com/evetabi/auction/internal/api/handler"
	"github.com/evetabi/auction/internal/api/middleware"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/metrics"
	"github.com/evetabi/auction/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	Auth      middleware.TokenParser
	Bids      handler.BidSubmitter
	Lots      handler.LotReader
	Registrar handler.Registrar
	Settings  handler.SettingsProvider
	Hub       *ws.Hub
	Cfg       *config.Config
}

// SetupRouter creates the public Gin engine with all routes, middleware,
// CORS and rate limiting.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health & metrics ─────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ── Handlers ─────────────────────────────────────────────────────────────
	lotH := handler.NewLotHandler(deps.Lots)
	bidH := handler.NewBidHandler(deps.Bids, deps.Settings)
	regH := handler.NewRegistrationHandler(deps.Registrar)

	jwtMW := middleware.JWTMiddleware(deps.Auth)
	bidRL := middleware.RateLimitMiddleware(deps.Cfg.Server.BidRateLimit)

	api := r.Group("/api")
	{
		// ── Lots (public) ────────────────────────────────────────────────────
		api.GET("/lots/:id", lotH.GetByID)

		// ── Authenticated routes ─────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW)
		{
			authed.POST("/events/:id/register", regH.Register)
			authed.POST("/lots/:id/bids", bidRL, bidH.SubmitBid)
		}
	}

	// ── WebSocket ────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware allows every origin in development and only the configured
// ones in production.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
