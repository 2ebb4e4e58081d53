package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/metrics"
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// ArbitrationService
// ──────────────────────────────────────────────────────────────────────────────

// ArbitrationService accepts or rejects bids. Funds are secured before the
// lot is locked; the proxy rule, soft close and all bid writes happen inside
// one per-lot section.
type ArbitrationService struct {
	lots      LotRegistry
	events    EventStore
	saga      *PaymentSaga
	notifier  Notifier        // injected after the Redis client is built
	publisher ChangePublisher // injected after the change stream is built
	logger    *slog.Logger
	now       func() time.Time
	async     sync.WaitGroup
}

// NewArbitrationService creates an ArbitrationService.
func NewArbitrationService(lots LotRegistry, events EventStore, saga *PaymentSaga, logger *slog.Logger) *ArbitrationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArbitrationService{
		lots:   lots,
		events: events,
		saga:   saga,
		logger: logger.With("component", "arbitration"),
		now:    time.Now,
	}
}

// SetNotifier injects the leadership notification dispatcher.
func (s *ArbitrationService) SetNotifier(n Notifier) { s.notifier = n }

// SetPublisher injects the lot change stream.
func (s *ArbitrationService) SetPublisher(p ChangePublisher) { s.publisher = p }

// SetClock overrides the time source.
func (s *ArbitrationService) SetClock(now func() time.Time) { s.now = now }

// Wait blocks until post-bid publishing and notification have finished.
func (s *ArbitrationService) Wait() { s.async.Wait() }

// arbitration is what the locked section hands back to SubmitBid.
type arbitration struct {
	accepted   domain.BidAccepted
	resolution domain.Resolution
	prevLeader *uuid.UUID
	change     domain.LotChange
	release    []string // holds no longer backing an active bid
	activeRef  string   // hold of the active bid seen inside the section
}

// ──────────────────────────────────────────────────────────────────────────────
// SubmitBid
// ──────────────────────────────────────────────────────────────────────────────

// SubmitBid validates the request, secures the hold, resolves the bid against
// the lot's leader and records the outcome atomically.
//
// Rejections after the hold was created cancel it before returning. On
// success, displaced holds are released, the lot change is published and the
// previous leader is notified, all asynchronously.
func (s *ArbitrationService) SubmitBid(ctx context.Context, req domain.SubmitBidRequest, settings domain.Settings) (*domain.BidAccepted, error) {
	if req.Attempt < 1 {
		req.Attempt = 1
	}

	// ── 1. Validation, no side effects ──────────────────────────────────────
	reg, err := s.validate(ctx, req)
	if err != nil {
		metrics.TrackBid(resultLabel(err))
		return nil, err
	}

	// ── 2. Secure funds at the bidder's ceiling ──────────────────────────────
	total := settings.TotalConsideration(req.Amount)
	hold, err := s.saga.AuthorizeBid(ctx, req, reg.EventID, reg.InstrumentRef, total)
	if err != nil {
		metrics.TrackBid(resultLabel(err))
		return nil, fmt.Errorf("arbitration.SubmitBid: %w", err)
	}

	// ── 3. Per-lot section: re-check, resolve, extend, write ────────────────
	start := time.Now()
	var out arbitration
	err = s.lots.WithLot(ctx, req.LotID, func(sec domain.LotSection) error {
		out = arbitration{}
		return s.arbitrate(ctx, sec, req, hold, settings, &out)
	})
	metrics.TrackArbitration(time.Since(start))

	// ── 4. Compensation ──────────────────────────────────────────────────────
	if err != nil {
		// An identical retry of the bid that is currently leading resolves to
		// the same hold; cancelling it would strip the leader of its funds.
		if hold.Ref != out.activeRef {
			if cErr := s.saga.Compensate(ctx, hold); cErr != nil {
				s.logger.Error("compensation failed", "lot_id", req.LotID, "bidder_id", req.BidderID, "err", cErr)
			}
		}
		metrics.TrackBid(resultLabel(err))
		return nil, fmt.Errorf("arbitration.SubmitBid: %w", err)
	}

	metrics.TrackBid(string(out.resolution.Outcome))
	if out.accepted.Extended {
		metrics.TrackExtension()
	}

	// ── 5. Async: releases, change stream, notification ──────────────────────
	s.saga.ReleaseAsync(out.release...)
	s.async.Add(1)
	go func() {
		defer s.async.Done()
		s.postBidAsync(out)
	}()

	return &out.accepted, nil
}

// validate runs every check that needs no lock. It returns the bidder's
// registration for the lot's event.
func (s *ArbitrationService) validate(ctx context.Context, req domain.SubmitBidRequest) (*domain.Registration, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	if req.Amount.Exponent() < -domain.MoneyPlaces {
		return nil, domain.ErrInvalidAmount
	}

	lot, err := s.lots.GetLot(ctx, req.LotID)
	if err != nil {
		return nil, fmt.Errorf("arbitration.validate: %w", err)
	}
	if !lot.IsLive() {
		return nil, domain.ErrLotNotLive
	}

	ev, err := s.events.GetByID(ctx, lot.EventID)
	if err != nil {
		return nil, fmt.Errorf("arbitration.validate: %w", err)
	}
	now := s.now()
	if !ev.HasStarted(now) || !lot.AcceptsBidsAt(now) {
		return nil, domain.ErrBiddingClosed
	}

	reg, err := s.events.GetRegistration(ctx, lot.EventID, req.BidderID)
	if err != nil {
		return nil, fmt.Errorf("arbitration.validate: %w", err)
	}

	if req.Amount.LessThan(lot.MinimumBid()) {
		return nil, domain.ErrBidTooLow
	}
	return reg, nil
}

// arbitrate runs inside the lot lock. It may run more than once if the
// transaction is retried, so it only writes through sec and out.
func (s *ArbitrationService) arbitrate(
	ctx context.Context,
	sec domain.LotSection,
	req domain.SubmitBidRequest,
	hold *domain.Hold,
	settings domain.Settings,
	out *arbitration,
) error {
	lot := sec.Lot()
	now := s.now().UTC()

	leader, err := sec.ActiveBid(ctx)
	if err != nil {
		return err
	}
	if leader != nil {
		out.activeRef = leader.HoldRef
	}

	// The lot moved between validation and the lock.
	if !lot.AcceptsBidsAt(now) {
		return fmt.Errorf("%w: lot no longer accepts bids", domain.ErrRaceLost)
	}
	res, err := domain.ResolveProxy(lot, leader, req.BidderID, req.Amount)
	if err != nil {
		if errors.Is(err, domain.ErrBidTooLow) {
			return fmt.Errorf("%w: minimum is now %s", domain.ErrRaceLost, lot.MinimumBid().StringFixed(domain.MoneyPlaces))
		}
		return err
	}

	// ── Bid writes per outcome ───────────────────────────────────────────────
	bidID, err := s.writeBids(ctx, sec, req, hold, leader, res, now, out)
	if err != nil {
		return err
	}

	// ── Lot writes ───────────────────────────────────────────────────────────
	if leader != nil && res.Outcome == domain.OutcomeOvertaken {
		prev := leader.BidderID
		out.prevLeader = &prev
	}
	winner := res.LeaderID
	prevEnds := lot.EndsAt

	lot.CurrentPrice = res.Price
	lot.WinnerID = &winner
	lot.BidCount++
	lot.EndsAt = settings.ExtendedEndsAt(lot.EndsAt, now)
	lot.UpdatedAt = now
	if err := sec.UpdateLot(ctx, lot); err != nil {
		return err
	}

	out.resolution = res
	out.change = lot.Change()
	out.accepted = domain.BidAccepted{
		BidID:         bidID,
		LotID:         lot.ID,
		CurrentPrice:  lot.CurrentPrice,
		EndsAt:        lot.EndsAt,
		LeaderChanged: res.LeaderChanged(),
		Leading:       res.LeaderID == req.BidderID,
		Extended:      lot.EndsAt.After(prevEnds),
	}
	return nil
}

func (s *ArbitrationService) writeBids(
	ctx context.Context,
	sec domain.LotSection,
	req domain.SubmitBidRequest,
	hold *domain.Hold,
	leader *domain.Bid,
	res domain.Resolution,
	now time.Time,
	out *arbitration,
) (uuid.UUID, error) {
	newBid := func(status domain.BidStatus, hammer domain.Resolution) *domain.Bid {
		ceiling := req.Amount
		return &domain.Bid{
			ID:           uuid.New(),
			LotID:        req.LotID,
			BidderID:     req.BidderID,
			HammerAmount: hammer.Price,
			MaxCeiling:   &ceiling,
			Status:       status,
			HoldRef:      hold.Ref,
			Attempt:      req.Attempt,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	switch res.Outcome {
	case domain.OutcomeOpening:
		b := newBid(domain.BidStatusActive, res)
		if err := sec.InsertBid(ctx, b); err != nil {
			return uuid.Nil, err
		}
		return b.ID, nil

	case domain.OutcomeRaised:
		if res.LeaderMax.GreaterThan(leader.Ceiling()) {
			// The new hold covers the raised ceiling; the old one is superseded.
			if leader.HoldRef != hold.Ref {
				out.release = append(out.release, leader.HoldRef)
			}
			ceiling := res.LeaderMax
			leader.MaxCeiling = &ceiling
			leader.HoldRef = hold.Ref
			leader.Attempt = req.Attempt
			leader.UpdatedAt = now
			if err := sec.UpdateBid(ctx, leader); err != nil {
				return uuid.Nil, err
			}
		} else if leader.HoldRef != hold.Ref {
			out.release = append(out.release, hold.Ref)
		}
		return leader.ID, nil

	case domain.OutcomeOvertaken:
		leader.Status = domain.BidStatusOutbid
		leader.UpdatedAt = now
		if err := sec.UpdateBid(ctx, leader); err != nil {
			return uuid.Nil, err
		}
		b := newBid(domain.BidStatusActive, res)
		if err := sec.InsertBid(ctx, b); err != nil {
			return uuid.Nil, err
		}
		out.release = append(out.release, leader.HoldRef)
		return b.ID, nil

	case domain.OutcomeOutbidOnce:
		// The leader's ceiling answers: the leader stands at the new price
		// and the challenger's bid is recorded already outbid.
		leader.HammerAmount = res.Price
		leader.UpdatedAt = now
		if err := sec.UpdateBid(ctx, leader); err != nil {
			return uuid.Nil, err
		}
		b := newBid(domain.BidStatusOutbid, domain.Resolution{Price: req.Amount})
		if err := sec.InsertBid(ctx, b); err != nil {
			return uuid.Nil, err
		}
		out.release = append(out.release, hold.Ref)
		return b.ID, nil
	}
	return uuid.Nil, fmt.Errorf("unknown proxy outcome %q", res.Outcome)
}

// postBidAsync publishes the lot change and notifies a displaced leader.
// Runs in a goroutine; failures are logged, never returned.
func (s *ArbitrationService) postBidAsync(out arbitration) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.publisher != nil {
		if err := s.publisher.PublishLotChange(ctx, out.change); err != nil {
			s.logger.Warn("lot change publish failed", "lot_id", out.change.LotID, "err", err)
		}
	}

	if out.prevLeader == nil {
		return
	}
	metrics.TrackLeadershipChange()
	if s.notifier == nil {
		return
	}
	ev := domain.LeadershipChanged{
		LotID:          out.change.LotID,
		PreviousLeader: *out.prevLeader,
		NewLeader:      out.resolution.LeaderID,
		NewAmount:      out.change.CurrentPrice,
		OccurredAt:     s.now().UTC(),
	}
	if err := s.notifier.NotifyLeadershipChanged(ctx, ev); err != nil {
		s.logger.Warn("leadership notification failed", "lot_id", ev.LotID, "previous_leader", ev.PreviousLeader, "err", err)
	}
}

// resultLabel turns a rejection into its metric label.
func resultLabel(err error) string {
	return strings.ToLower(domain.RejectCode(err))
}
