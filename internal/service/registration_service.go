package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
)

// RegistrationService admits bidders to events, securing the event deposit
// when one is required.
type RegistrationService struct {
	events EventStore
	saga   *PaymentSaga
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistrationService creates a RegistrationService.
func NewRegistrationService(events EventStore, saga *PaymentSaga, logger *slog.Logger) *RegistrationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RegistrationService{
		events: events,
		saga:   saga,
		logger: logger.With("component", "registration"),
		now:    time.Now,
	}
}

// RegisterForEvent registers bidderID for eventID. Calling it again for the
// same pair returns the existing registration without a second deposit.
func (s *RegistrationService) RegisterForEvent(ctx context.Context, eventID, bidderID uuid.UUID, instrumentRef string) (*domain.Registration, error) {
	instrumentRef = strings.TrimSpace(instrumentRef)
	if instrumentRef == "" {
		return nil, domain.ErrInstrumentRequired
	}

	// ── 1. Event must accept registrations ──────────────────────────────────
	ev, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("registration.RegisterForEvent: %w", err)
	}
	if ev.Status == domain.EventStatusClosed {
		return nil, domain.ErrEventClosed
	}

	// ── 2. Idempotent: an existing registration wins ─────────────────────────
	existing, err := s.events.GetRegistration(ctx, eventID, bidderID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotRegistered) {
		return nil, fmt.Errorf("registration.RegisterForEvent: %w", err)
	}

	// ── 3. Deposit hold ──────────────────────────────────────────────────────
	reg := &domain.Registration{
		EventID:       eventID,
		BidderID:      bidderID,
		InstrumentRef: instrumentRef,
		CreatedAt:     s.now().UTC(),
	}
	var deposit *domain.Hold
	if ev.RequiresDeposit() {
		deposit, err = s.saga.AuthorizeDeposit(ctx, ev, bidderID, instrumentRef)
		if err != nil {
			return nil, fmt.Errorf("registration.RegisterForEvent: %w", err)
		}
		ref := deposit.Ref
		reg.DepositHoldRef = &ref
	}

	// ── 4. Persist ───────────────────────────────────────────────────────────
	if err := s.events.CreateRegistration(ctx, reg); err != nil {
		if errors.Is(err, domain.ErrAlreadyRegistered) {
			// A concurrent call won. The deposit key is shared, so both saw
			// the same hold.
			return s.events.GetRegistration(ctx, eventID, bidderID)
		}
		if deposit != nil {
			if cErr := s.saga.Compensate(ctx, deposit); cErr != nil {
				s.logger.Error("deposit compensation failed", "event_id", eventID, "bidder_id", bidderID, "err", cErr)
			}
		}
		return nil, fmt.Errorf("registration.RegisterForEvent: %w", err)
	}

	s.logger.Info("bidder registered", "event_id", eventID, "bidder_id", bidderID, "deposit", deposit != nil)
	return reg, nil
}
