package handler

import (
	"errors"

	"github.com/evetabi/auction/internal/domain"
	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondRejection writes the error envelope for a domain rejection, with the
// stable reason code and whether the client may resubmit the bid.
func respondRejection(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":   false,
		"error":     rootMessage(err),
		"code":      domain.RejectCode(err),
		"retryable": domain.IsRetryable(err),
	})
}

// rootMessage hides internal wrapping prefixes from clients.
func rootMessage(err error) string {
	for _, target := range []error{
		domain.ErrInvalidAmount, domain.ErrBidTooLow, domain.ErrLotNotLive, domain.ErrBiddingClosed,
		domain.ErrNotRegistered, domain.ErrEventClosed, domain.ErrInstrumentRequired,
		domain.ErrAuthorizationDeclined, domain.ErrGatewayUnavailable, domain.ErrRaceLost, domain.ErrAttemptSpent,
		domain.ErrLotNotFound, domain.ErrEventNotFound,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "internal error"
}
