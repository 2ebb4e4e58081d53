package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors, compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Validation errors. Returned before any side effect has happened.
var (
	// ErrInvalidAmount is returned when a bid amount is zero or negative.
	ErrInvalidAmount = errors.New("bid amount must be positive")

	// ErrBidTooLow is returned when the desired amount is below the lot's
	// current minimum acceptable bid.
	ErrBidTooLow = errors.New("bid is below the minimum acceptable amount")

	// ErrLotNotLive is returned when the lot is not accepting bids
	// (draft, sold or ended).
	ErrLotNotLive = errors.New("lot is not live")

	// ErrBiddingClosed is returned when now is outside [event.start_at, lot.ends_at).
	ErrBiddingClosed = errors.New("bidding window is closed")

	// ErrNotRegistered is returned when the bidder has no registration for the
	// lot's event.
	ErrNotRegistered = errors.New("bidder is not registered for this event")

	// ErrEventClosed is returned when registering for an event that has closed.
	ErrEventClosed = errors.New("event is closed")

	// ErrInstrumentRequired is returned when registering without a payment
	// instrument reference.
	ErrInstrumentRequired = errors.New("payment instrument is required")
)

// Payment errors.
var (
	// ErrAuthorizationDeclined is returned when the gateway refuses a hold.
	ErrAuthorizationDeclined = errors.New("payment authorization declined")

	// ErrGatewayUnavailable is returned when the gateway times out, keeps
	// failing after retries, or the circuit breaker is open.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrCompensationFailed is returned when releasing a displaced or rejected
	// hold fails. The hold is queued for reconciliation.
	ErrCompensationFailed = errors.New("hold release failed")

	// ErrCaptureFailed is returned when the winning hold cannot be captured.
	ErrCaptureFailed = errors.New("settlement capture failed")

	// ErrCaptureExceedsHold is returned when a sale total is larger than the
	// amount the winning hold authorized.
	ErrCaptureExceedsHold = errors.New("sale total exceeds authorized hold")
)

// Arbitration errors.
var (
	// ErrRaceLost is returned when the lot advanced past the caller's floor (or
	// closed) between hold confirmation and arbitration. Safe to retry.
	ErrRaceLost = errors.New("lot state advanced, bid lost the race")

	// ErrAttemptSpent is returned when a retried bid maps to a hold that was
	// already released. The client must resubmit with a new attempt number.
	ErrAttemptSpent = errors.New("hold for this attempt was released, retry with a new attempt")
)

// Lookup / state errors.
var (
	ErrLotNotFound   = errors.New("lot not found")
	ErrEventNotFound = errors.New("event not found")
	ErrSaleNotFound  = errors.New("sale not found")
	ErrHoldNotFound  = errors.New("hold not found")

	// ErrSaleExists is returned when a second sale is inserted for a lot.
	ErrSaleExists = errors.New("sale already exists for lot")

	// ErrSaleNotPending is returned when retrying capture on a paid or cancelled sale.
	ErrSaleNotPending = errors.New("sale is not pending")

	// ErrAlreadyRegistered is returned on a duplicate registration insert.
	ErrAlreadyRegistered = errors.New("bidder already registered for event")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the authenticated user lacks the required role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenExpired is returned when a JWT has passed its TTL.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation reports a rejected request that had no side effects.
func IsValidation(err error) bool {
	return isAny(err, ErrInvalidAmount, ErrBidTooLow, ErrLotNotLive,
		ErrBiddingClosed, ErrNotRegistered, ErrEventClosed, ErrInstrumentRequired)
}

// IsAuthorizationFailure reports a gateway decline or timeout on hold creation.
func IsAuthorizationFailure(err error) bool {
	return isAny(err, ErrAuthorizationDeclined, ErrGatewayUnavailable)
}

// IsRaceLost reports a retryable arbitration rejection.
func IsRaceLost(err error) bool {
	return errors.Is(err, ErrRaceLost)
}

// IsRetryable reports a rejection the client may resubmit.
func IsRetryable(err error) bool {
	return isAny(err, ErrRaceLost, ErrAttemptSpent)
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors.
func IsNotFound(err error) bool {
	return isAny(err, ErrLotNotFound, ErrEventNotFound, ErrSaleNotFound, ErrHoldNotFound)
}

// IsConflict returns true for errors that represent a state conflict.
func IsConflict(err error) bool {
	return isAny(err, ErrSaleExists, ErrSaleNotPending, ErrAlreadyRegistered)
}

// IsAuthError returns true for authentication/authorisation errors.
func IsAuthError(err error) bool {
	return isAny(err, ErrUnauthorized, ErrForbidden, ErrTokenExpired, ErrTokenInvalid)
}

// RejectCode maps a bid rejection to the stable reason code returned to clients.
func RejectCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, ErrBidTooLow):
		return "BID_TOO_LOW"
	case errors.Is(err, ErrLotNotLive):
		return "LOT_NOT_LIVE"
	case errors.Is(err, ErrBiddingClosed):
		return "BIDDING_CLOSED"
	case errors.Is(err, ErrNotRegistered):
		return "NOT_REGISTERED"
	case errors.Is(err, ErrEventClosed):
		return "EVENT_CLOSED"
	case errors.Is(err, ErrInstrumentRequired):
		return "INSTRUMENT_REQUIRED"
	case errors.Is(err, ErrAuthorizationDeclined):
		return "AUTHORIZATION_DECLINED"
	case errors.Is(err, ErrGatewayUnavailable):
		return "GATEWAY_UNAVAILABLE"
	case errors.Is(err, ErrRaceLost):
		return "RACE_LOST"
	case errors.Is(err, ErrAttemptSpent):
		return "ATTEMPT_SPENT"
	case IsNotFound(err):
		return "NOT_FOUND"
	default:
		return "ERR_INTERNAL"
	}
}
