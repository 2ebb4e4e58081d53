package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxBidderID = "bidderID"
	CtxRole     = "role"
)

// TokenParser validates access tokens. *service.AuthService implements it.
type TokenParser interface {
	ParseAccessToken(token string) (*service.AppClaims, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// JWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// JWTMiddleware validates the Bearer token in the Authorization header.
// On success it stores the subject (uuid.UUID) and role (domain.Role) in the
// gin context.
func JWTMiddleware(auth TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			abort(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", domain.ErrUnauthorized)
			return
		}

		claims, err := auth.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			if errors.Is(err, domain.ErrTokenExpired) {
				abort(c, http.StatusUnauthorized, "ERR_TOKEN_EXPIRED", domain.ErrTokenExpired)
				return
			}
			abort(c, http.StatusUnauthorized, "ERR_TOKEN_INVALID", domain.ErrTokenInvalid)
			return
		}

		bidderID, err := claims.BidderID()
		if err != nil {
			abort(c, http.StatusUnauthorized, "ERR_TOKEN_INVALID", domain.ErrTokenInvalid)
			return
		}

		c.Set(CtxBidderID, bidderID)
		c.Set(CtxRole, domain.Role(claims.Role))
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// RequireRole
// ──────────────────────────────────────────────────────────────────────────────

// RequireRole lets the request through only when allow accepts the caller's
// role. Must be placed after JWTMiddleware in the chain.
func RequireRole(allow func(domain.Role) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !allow(GetRole(c)) {
			abort(c, http.StatusForbidden, "ERR_FORBIDDEN", domain.ErrForbidden)
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}

// GetBidderID retrieves the authenticated subject from the gin context.
// Returns uuid.Nil if the middleware was not applied.
func GetBidderID(c *gin.Context) uuid.UUID {
	v, exists := c.Get(CtxBidderID)
	if !exists {
		return uuid.Nil
	}
	id, _ := v.(uuid.UUID)
	return id
}

// GetRole retrieves the authenticated role from the gin context.
func GetRole(c *gin.Context) domain.Role {
	v, _ := c.Get(CtxRole)
	r, _ := v.(domain.Role)
	return r
}
