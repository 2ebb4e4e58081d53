package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// maxTxAttempts bounds replays of a locked section aborted by a deadlock or
// serialization failure.
const maxTxAttempts = 3

// Registry is the Lot Registry: the one place where a lot's
// (current_price, winner_id, ends_at, status) tuple is read-modify-written.
// Arbitration and closing both run through WithLot, so they share the lock.
type Registry struct {
	db    *sqlx.DB
	lots  *LotRepository
	bids  *BidRepository
	sales *SaleRepository
}

// NewRegistry creates a Registry over the given repositories.
func NewRegistry(db *sqlx.DB, lots *LotRepository, bids *BidRepository, sales *SaleRepository) *Registry {
	return &Registry{db: db, lots: lots, bids: bids, sales: sales}
}

// GetLot reads a lot without locking it.
func (r *Registry) GetLot(ctx context.Context, id uuid.UUID) (*domain.Lot, error) {
	return r.lots.GetByID(ctx, id)
}

// ExpiredLotIDs lists live lots due for closing.
func (r *Registry) ExpiredLotIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return r.lots.ExpiredIDs(ctx, now, limit)
}

// WithLot runs fn while holding the row lock of lotID. fn's writes commit
// together when it returns nil and roll back otherwise. fn may be replayed
// after a deadlock, so it must derive everything from the section it is given.
func (r *Registry) WithLot(ctx context.Context, lotID uuid.UUID, fn func(sec domain.LotSection) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = r.withLotOnce(ctx, lotID, fn)
		if err == nil || !isRetryableTx(err) || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("registry.WithLot: gave up after %d attempts: %w", maxTxAttempts, err)
}

func (r *Registry) withLotOnce(ctx context.Context, lotID uuid.UUID, fn func(sec domain.LotSection) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry.WithLot: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	lot, err := r.lots.Lock(ctx, tx, lotID)
	if err != nil {
		return err
	}

	if err = fn(&lockedLot{tx: tx, lot: lot, reg: r}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("registry.WithLot: commit: %w", err)
	}
	return nil
}

// lockedLot implements domain.LotSection over one open transaction.
type lockedLot struct {
	tx  *sqlx.Tx
	lot *domain.Lot
	reg *Registry
}

func (s *lockedLot) Lot() *domain.Lot { return s.lot }

func (s *lockedLot) ActiveBid(ctx context.Context) (*domain.Bid, error) {
	return s.reg.bids.GetActive(ctx, s.tx, s.lot.ID)
}

func (s *lockedLot) InsertBid(ctx context.Context, b *domain.Bid) error {
	return s.reg.bids.Create(ctx, s.tx, b)
}

func (s *lockedLot) UpdateBid(ctx context.Context, b *domain.Bid) error {
	return s.reg.bids.Update(ctx, s.tx, b)
}

func (s *lockedLot) UpdateLot(ctx context.Context, l *domain.Lot) error {
	return s.reg.lots.Update(ctx, s.tx, l)
}

func (s *lockedLot) CreateSale(ctx context.Context, sale *domain.Sale) error {
	return s.reg.sales.Create(ctx, s.tx, sale)
}
