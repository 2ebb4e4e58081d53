// Package payment talks to the external payment gateway that authorizes,
// releases and captures holds. Every call carries an idempotency key, so
// retrying with the same key is always safe.
package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Gateway is the outbound contract with the payment provider.
type Gateway interface {
	// CreateHold reserves amount on the instrument. A repeated key returns
	// the original hold instead of reserving twice.
	CreateHold(ctx context.Context, req HoldRequest) (*HoldResult, error)

	// CancelHold releases an authorized hold. Cancelling an already
	// cancelled hold succeeds.
	CancelHold(ctx context.Context, ref, idempotencyKey string) error

	// CaptureHold settles amount (at most the authorized amount) against the
	// hold. A repeated key returns the original capture.
	CaptureHold(ctx context.Context, ref string, amount decimal.Decimal, idempotencyKey string) (*CaptureResult, error)
}

// HoldRequest asks the gateway to authorize funds.
type HoldRequest struct {
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	InstrumentRef  string            `json:"instrument_ref"`
	IdempotencyKey string            `json:"-"`
	BidderID       uuid.UUID         `json:"customer_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// HoldResult is the gateway's confirmation of an authorization.
type HoldResult struct {
	Ref    string          `json:"hold_ref"`
	Status string          `json:"status"`
	Amount decimal.Decimal `json:"amount"`
}

// CaptureResult is the gateway's confirmation of a capture.
type CaptureResult struct {
	Ref     string          `json:"capture_ref"`
	HoldRef string          `json:"hold_ref"`
	Status  string          `json:"status"`
	Amount  decimal.Decimal `json:"amount"`
}
