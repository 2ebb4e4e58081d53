package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/metrics"
	"github.com/evetabi/auction/internal/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentSaga owns every hold movement: authorization before arbitration,
// compensation on rejection, release of displaced holds and capture at
// settlement. Local hold rows mirror the gateway so failed releases can be
// reconciled later.
type PaymentSaga struct {
	gateway payment.Gateway
	holds   HoldStore
	logger  *slog.Logger
	now     func() time.Time

	// async tracks fire-and-forget releases so shutdown and tests can wait.
	async sync.WaitGroup
}

// NewPaymentSaga creates a PaymentSaga.
func NewPaymentSaga(gateway payment.Gateway, holds HoldStore, logger *slog.Logger) *PaymentSaga {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentSaga{
		gateway: gateway,
		holds:   holds,
		logger:  logger.With("component", "payment_saga"),
		now:     time.Now,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Authorization
// ──────────────────────────────────────────────────────────────────────────────

// AuthorizeBid secures amount for a bid before it reaches arbitration.
// The gateway key is derived from the request, so a client retry of the same
// bid returns the hold created the first time.
func (p *PaymentSaga) AuthorizeBid(ctx context.Context, req domain.SubmitBidRequest, eventID uuid.UUID, instrumentRef string, amount decimal.Decimal) (*domain.Hold, error) {
	lotID := req.LotID
	return p.authorize(ctx, &domain.Hold{
		BidderID:       req.BidderID,
		EventID:        eventID,
		LotID:          &lotID,
		Purpose:        domain.HoldPurposeBid,
		Amount:         amount,
		IdempotencyKey: req.HoldKey(),
	}, instrumentRef)
}

// AuthorizeDeposit secures the registration deposit for an event.
func (p *PaymentSaga) AuthorizeDeposit(ctx context.Context, ev *domain.Event, bidderID uuid.UUID, instrumentRef string) (*domain.Hold, error) {
	return p.authorize(ctx, &domain.Hold{
		BidderID:       bidderID,
		EventID:        ev.ID,
		Purpose:        domain.HoldPurposeDeposit,
		Amount:         ev.DepositAmount,
		IdempotencyKey: domain.DepositKey(ev.ID, bidderID),
	}, instrumentRef)
}

// authorize refuses to reuse a key whose hold was released or queued for
// release: the gateway would hand back the same, dead reference.
func (p *PaymentSaga) authorize(ctx context.Context, h *domain.Hold, instrumentRef string) (*domain.Hold, error) {
	prev, err := p.holds.GetByKey(ctx, h.IdempotencyKey)
	switch {
	case err == nil && (prev.Status != domain.HoldStatusAuthorized || prev.ReleasePending):
		return nil, fmt.Errorf("payment_saga.authorize: %w: %s is %s", domain.ErrAttemptSpent, prev.Ref, prev.Status)
	case err != nil && !errors.Is(err, domain.ErrHoldNotFound):
		return nil, fmt.Errorf("payment_saga.authorize: %w", err)
	}

	res, err := p.gateway.CreateHold(ctx, payment.HoldRequest{
		Amount:         h.Amount,
		InstrumentRef:  instrumentRef,
		IdempotencyKey: h.IdempotencyKey,
		BidderID:       h.BidderID,
		Metadata:       map[string]string{"purpose": string(h.Purpose), "event_id": h.EventID.String()},
	})
	if err != nil {
		if !domain.IsAuthorizationFailure(err) {
			// Anything the gateway could not answer cleanly is an authorization failure
			// from the bidder's point of view.
			err = fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, err)
		}
		return nil, fmt.Errorf("payment_saga.authorize: %w", err)
	}
	if res.Status != "" && res.Status != string(domain.HoldStatusAuthorized) {
		// Released before it was ever mirrored locally.
		return nil, fmt.Errorf("payment_saga.authorize: %w: %s is %s", domain.ErrAttemptSpent, res.Ref, res.Status)
	}

	now := p.now().UTC()
	h.Ref = res.Ref
	h.Status = domain.HoldStatusAuthorized
	h.CreatedAt = now
	h.UpdatedAt = now

	if err := p.holds.Save(ctx, h); err != nil {
		// The gateway hold exists but is not tracked locally: release it now so
		// funds are not stranded, then report the failure.
		if cErr := p.Compensate(ctx, h); cErr != nil {
			p.logger.Error("compensation failed", "hold_ref", h.Ref, "bidder_id", h.BidderID, "err", cErr)
		}
		return nil, fmt.Errorf("payment_saga.authorize: save hold: %w", err)
	}
	return h, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Release
// ──────────────────────────────────────────────────────────────────────────────

// Compensate cancels a hold synchronously. A failed cancel is queued for
// reconciliation and reported as ErrCompensationFailed; callers log it and
// carry on with their original result.
func (p *PaymentSaga) Compensate(ctx context.Context, h *domain.Hold) error {
	if err := p.release(ctx, h.Ref); err != nil {
		return fmt.Errorf("payment_saga.Compensate: %w", err)
	}
	return nil
}

// ReleaseAsync releases holds that no longer back an active bid. Best effort:
// failures are logged and queued, never returned.
func (p *PaymentSaga) ReleaseAsync(refs ...string) {
	if len(refs) == 0 {
		return
	}
	p.async.Add(1)
	go func() {
		defer p.async.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, ref := range refs {
			_ = p.release(ctx, ref)
		}
	}()
}

// Wait blocks until every asynchronous release has finished.
func (p *PaymentSaga) Wait() { p.async.Wait() }

func (p *PaymentSaga) release(ctx context.Context, ref string) error {
	key := (&domain.Hold{Ref: ref}).CancelKey()
	err := p.gateway.CancelHold(ctx, ref, key)
	if err != nil && !errors.Is(err, domain.ErrHoldNotFound) {
		metrics.TrackCompensationFailure()
		p.logger.Error("hold release failed, queued for reconciliation", "hold_ref", ref, "err", err)
		if qErr := p.holds.QueueRelease(ctx, ref, err.Error()); qErr != nil {
			p.logger.Error("failed to queue hold release", "hold_ref", ref, "err", qErr)
		}
		return fmt.Errorf("%w: %s: %w", domain.ErrCompensationFailed, ref, err)
	}
	if err := p.holds.MarkCancelled(ctx, ref); err != nil && !errors.Is(err, domain.ErrHoldNotFound) {
		p.logger.Warn("hold released but local mirror not updated", "hold_ref", ref, "err", err)
	}
	return nil
}

// ReconcileReleases retries cancels queued by failed compensations.
// Returns how many holds were released.
func (p *PaymentSaga) ReconcileReleases(ctx context.Context, limit int) (int, error) {
	pending, err := p.holds.ListPendingRelease(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("payment_saga.ReconcileReleases: %w", err)
	}
	released := 0
	for _, h := range pending {
		if ctx.Err() != nil {
			break
		}
		backing, err := p.holds.BacksActiveBid(ctx, h.Ref)
		if err != nil {
			p.logger.Error("failed to check queued release", "hold_ref", h.Ref, "err", err)
			continue
		}
		if backing {
			// A retried bid picked the hold back up; it is funding the leader now.
			p.logger.Warn("queued release dropped, hold backs the active bid", "hold_ref", h.Ref)
			if err := p.holds.ClearRelease(ctx, h.Ref); err != nil {
				p.logger.Error("failed to clear queued release", "hold_ref", h.Ref, "err", err)
			}
			continue
		}
		if err := p.release(ctx, h.Ref); err == nil {
			released++
		}
	}
	if released > 0 {
		p.logger.Info("reconciled hold releases", "released", released, "pending", len(pending))
	}
	return released, nil
}

// ListPendingReleases returns holds waiting for a reconciliation retry.
func (p *PaymentSaga) ListPendingReleases(ctx context.Context, limit int) ([]*domain.Hold, error) {
	pending, err := p.holds.ListPendingRelease(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("payment_saga.ListPendingReleases: %w", err)
	}
	return pending, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Capture
// ──────────────────────────────────────────────────────────────────────────────

// Capture settles a sale against its winning hold. It refuses totals the
// hold cannot cover instead of letting the gateway reject them.
func (p *PaymentSaga) Capture(ctx context.Context, sale *domain.Sale) error {
	hold, err := p.holds.GetByRef(ctx, sale.HoldRef)
	if err != nil {
		return fmt.Errorf("payment_saga.Capture: %w: %w", domain.ErrCaptureFailed, err)
	}
	if hold.Status == domain.HoldStatusCaptured {
		return nil
	}
	if !hold.Covers(sale.TotalAmount) {
		return fmt.Errorf("payment_saga.Capture: %w: total %s, hold %s (%s)",
			domain.ErrCaptureExceedsHold, sale.TotalAmount.StringFixed(domain.MoneyPlaces),
			hold.Amount.StringFixed(domain.MoneyPlaces), hold.Status)
	}

	if _, err := p.gateway.CaptureHold(ctx, hold.Ref, sale.TotalAmount, sale.CaptureKey()); err != nil {
		return fmt.Errorf("payment_saga.Capture: %w: %w", domain.ErrCaptureFailed, err)
	}
	if err := p.holds.MarkCaptured(ctx, hold.Ref, sale.TotalAmount); err != nil {
		p.logger.Warn("hold captured but local mirror not updated", "hold_ref", hold.Ref, "err", err)
	}
	return nil
}
