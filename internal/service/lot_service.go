package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
)

// LotViewCache serves public lot views, loading misses through load.
// Implemented by cache.LotCache.
type LotViewCache interface {
	Get(ctx context.Context, id uuid.UUID, load func(ctx context.Context, id uuid.UUID) (*domain.Lot, error)) (domain.LotView, error)
}

// LotService handles the lot lifecycle outside bidding and closing: opening
// lots when their event starts and serving the public view.
type LotService struct {
	lots      LotRegistry
	activator LotActivator
	events    EventStore
	cache     LotViewCache
	publisher ChangePublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewLotService creates a LotService. cache may be nil, in which case every
// read goes to the registry.
func NewLotService(lots LotRegistry, activator LotActivator, events EventStore, cache LotViewCache, logger *slog.Logger) *LotService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LotService{
		lots:      lots,
		activator: activator,
		events:    events,
		cache:     cache,
		logger:    logger.With("component", "lots"),
		now:       time.Now,
	}
}

// SetPublisher injects the lot change stream.
func (s *LotService) SetPublisher(p ChangePublisher) { s.publisher = p }

// SetClock overrides the time source.
func (s *LotService) SetClock(now func() time.Time) { s.now = now }

// ActivateDueLots makes the draft lots of started events live and publishes
// a change for each. Returns the number activated.
func (s *LotService) ActivateDueLots(ctx context.Context) (int, error) {
	now := s.now().UTC()
	if _, err := s.events.MarkStarted(ctx, now); err != nil {
		return 0, fmt.Errorf("lot_service.ActivateDueLots: %w", err)
	}

	lots, err := s.activator.ActivateDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("lot_service.ActivateDueLots: %w", err)
	}
	for _, l := range lots {
		if s.publisher == nil {
			break
		}
		if err := s.publisher.PublishLotChange(ctx, l.Change()); err != nil {
			s.logger.Warn("lot change publish failed", "lot_id", l.ID, "err", err)
		}
	}
	if len(lots) > 0 {
		s.logger.Info("lots activated", "count", len(lots))
	}
	return len(lots), nil
}

// GetPublicLot returns the public view of a lot. Ceilings are never part of it.
func (s *LotService) GetPublicLot(ctx context.Context, id uuid.UUID) (domain.LotView, error) {
	if s.cache == nil {
		lot, err := s.lots.GetLot(ctx, id)
		if err != nil {
			return domain.LotView{}, fmt.Errorf("lot_service.GetPublicLot: %w", err)
		}
		return lot.View(), nil
	}
	view, err := s.cache.Get(ctx, id, s.lots.GetLot)
	if err != nil {
		return domain.LotView{}, fmt.Errorf("lot_service.GetPublicLot: %w", err)
	}
	return view, nil
}
