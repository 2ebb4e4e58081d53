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
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SettlementService closes expired lots and captures their winning holds.
type SettlementService struct {
	lots      LotRegistry
	sales     SaleStore
	events    EventStore
	saga      *PaymentSaga
	publisher ChangePublisher
	logger    *slog.Logger
	now       func() time.Time

	batchSize int
	workers   int
}

// NewSettlementService creates a SettlementService. batchSize bounds how many
// expired lots one run picks up; workers bounds how many close in parallel.
func NewSettlementService(
	lots LotRegistry,
	sales SaleStore,
	events EventStore,
	saga *PaymentSaga,
	batchSize, workers int,
	logger *slog.Logger,
) *SettlementService {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize < 1 {
		batchSize = 200
	}
	if workers < 1 {
		workers = 1
	}
	return &SettlementService{
		lots:      lots,
		sales:     sales,
		events:    events,
		saga:      saga,
		logger:    logger.With("component", "settlement"),
		now:       time.Now,
		batchSize: batchSize,
		workers:   workers,
	}
}

// SetPublisher injects the lot change stream.
func (s *SettlementService) SetPublisher(p ChangePublisher) { s.publisher = p }

// SetClock overrides the time source.
func (s *SettlementService) SetClock(now func() time.Time) { s.now = now }

// ──────────────────────────────────────────────────────────────────────────────
// Closing (scheduler tick)
// ──────────────────────────────────────────────────────────────────────────────

// CloseExpiredLots closes every live lot whose ends_at has passed. Lots are
// processed in parallel; a failing lot is reported in Failed and never stops
// the others. Running it twice over the same lots is a no-op the second time.
func (s *SettlementService) CloseExpiredLots(ctx context.Context, settings domain.Settings) (*domain.CloseReport, error) {
	ids, err := s.lots.ExpiredLotIDs(ctx, s.now(), s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("settlement.CloseExpiredLots: fetch: %w", err)
	}

	report := &domain.CloseReport{}
	if len(ids) == 0 {
		return report, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.workers)

	for _, id := range ids {
		g.Go(func() error {
			closed, settled, err := s.closeLot(ctx, id, settings)

			mu.Lock()
			defer mu.Unlock()
			if closed {
				report.Closed = append(report.Closed, id)
			}
			if settled {
				report.Settled = append(report.Settled, id)
			}
			if err != nil {
				report.Failed = append(report.Failed, id)
				s.logger.Error("closing lot failed", "lot_id", id, "err", err)
			}
			// Never fail the group: one lot must not stop the batch.
			return nil
		})
	}
	_ = g.Wait()

	if len(report.Closed) > 0 {
		if n, err := s.events.MarkFinished(ctx); err != nil {
			s.logger.Warn("marking finished events failed", "err", err)
		} else if n > 0 {
			s.logger.Info("events closed", "count", n)
		}
	}

	s.logger.Info("closing batch finished",
		"candidates", len(ids),
		"closed", len(report.Closed),
		"settled", len(report.Settled),
		"failed", len(report.Failed),
	)
	return report, nil
}

// closeLot transitions one lot and, when sold, captures the winning hold.
// closed reports that this call made the transition; settled that the
// capture succeeded.
func (s *SettlementService) closeLot(ctx context.Context, lotID uuid.UUID, settings domain.Settings) (closed, settled bool, err error) {
	var (
		sale   *domain.Sale
		change domain.LotChange
	)

	err = s.lots.WithLot(ctx, lotID, func(sec domain.LotSection) error {
		closed, sale = false, nil
		lot := sec.Lot()
		now := s.now().UTC()

		// Extended by a late bid or closed by another run.
		if !lot.IsLive() || !lot.IsExpired(now) {
			return nil
		}

		active, err := sec.ActiveBid(ctx)
		if err != nil {
			return err
		}

		if active == nil {
			lot.Status = domain.LotStatusEnded
		} else {
			active.Status = domain.BidStatusWon
			active.UpdatedAt = now
			if err := sec.UpdateBid(ctx, active); err != nil {
				return err
			}
			winner := active.BidderID
			lot.Status = domain.LotStatusSold
			lot.WinnerID = &winner

			sale = domain.NewSale(lot, active, settings, now)
			if err := sec.CreateSale(ctx, sale); err != nil {
				return err
			}
		}

		lot.UpdatedAt = now
		if err := sec.UpdateLot(ctx, lot); err != nil {
			return err
		}
		closed = true
		change = lot.Change()
		return nil
	})
	if err != nil {
		metrics.TrackLotClosed("error")
		return false, false, fmt.Errorf("settlement.closeLot: %w", err)
	}
	if !closed {
		return false, false, nil
	}

	s.publish(ctx, change)
	if sale == nil {
		metrics.TrackLotClosed("ended")
		return true, false, nil
	}
	metrics.TrackLotClosed("sold")

	if err := s.settle(ctx, sale); err != nil {
		return true, false, err
	}
	return true, true, nil
}

// settle captures the sale's hold. On failure the sale stays pending and is
// flagged for review.
func (s *SettlementService) settle(ctx context.Context, sale *domain.Sale) error {
	if err := s.saga.Capture(ctx, sale); err != nil {
		metrics.TrackCapture("failed")
		if fErr := s.sales.Flag(ctx, sale.ID, err.Error()); fErr != nil {
			s.logger.Error("flagging sale failed", "sale_id", sale.ID, "err", fErr)
		}
		return fmt.Errorf("settlement.settle: sale %s: %w", sale.ID, err)
	}
	if err := s.sales.MarkPaid(ctx, sale.ID, s.now().UTC()); err != nil && !errors.Is(err, domain.ErrSaleNotPending) {
		return fmt.Errorf("settlement.settle: mark paid: %w", err)
	}
	metrics.TrackCapture("captured")
	return nil
}

func (s *SettlementService) publish(ctx context.Context, ch domain.LotChange) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishLotChange(ctx, ch); err != nil {
		s.logger.Warn("lot change publish failed", "lot_id", ch.LotID, "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Capture recovery
// ──────────────────────────────────────────────────────────────────────────────

// RetryCapture re-runs capture for a pending sale with its original
// idempotency key, so a capture the gateway already applied is not repeated.
func (s *SettlementService) RetryCapture(ctx context.Context, saleID uuid.UUID) (*domain.Sale, error) {
	sale, err := s.sales.GetByID(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("settlement.RetryCapture: %w", err)
	}
	if sale.Status != domain.SaleStatusPending {
		return nil, domain.ErrSaleNotPending
	}
	if err := s.settle(ctx, sale); err != nil {
		return nil, fmt.Errorf("settlement.RetryCapture: %w", err)
	}

	updated, err := s.sales.GetByID(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("settlement.RetryCapture: reload: %w", err)
	}
	return updated, nil
}

// RetryStaleCaptures settles unflagged pending sales older than olderThan,
// left behind when a process stopped between closing and capture.
// Returns how many were settled.
func (s *SettlementService) RetryStaleCaptures(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	stale, err := s.sales.ListStalePending(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("settlement.RetryStaleCaptures: %w", err)
	}

	settled := 0
	for _, sale := range stale {
		if ctx.Err() != nil {
			break
		}
		if err := s.settle(ctx, sale); err != nil {
			s.logger.Warn("stale capture failed", "sale_id", sale.ID, "lot_id", sale.LotID, "err", err)
			continue
		}
		settled++
	}
	return settled, nil
}

// ListFlaggedSales returns pending sales waiting for manual review.
func (s *SettlementService) ListFlaggedSales(ctx context.Context, limit, offset int) ([]*domain.Sale, int, error) {
	sales, total, err := s.sales.ListFlagged(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("settlement.ListFlaggedSales: %w", err)
	}
	return sales, total, nil
}
