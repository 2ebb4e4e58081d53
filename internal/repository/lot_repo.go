package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// LotRepository handles all database operations for Lots.
type LotRepository struct {
	db *sqlx.DB
}

// NewLotRepository creates a new LotRepository.
func NewLotRepository(db *sqlx.DB) *LotRepository {
	return &LotRepository{db: db}
}

// GetByID fetches a lot by its primary key without locking it.
func (r *LotRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Lot, error) {
	var l domain.Lot
	err := r.db.GetContext(ctx, &l, `SELECT * FROM lots WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrLotNotFound
		}
		return nil, fmt.Errorf("lot_repo.GetByID: %w", err)
	}
	return &l, nil
}

// Lock reads the lot inside tx and holds its row lock until tx ends. Every
// writer of current_price, winner_id, ends_at or status goes through here.
func (r *LotRepository) Lock(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Lot, error) {
	var l domain.Lot
	err := tx.GetContext(ctx, &l, `SELECT * FROM lots WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrLotNotFound
		}
		return nil, fmt.Errorf("lot_repo.Lock: %w", err)
	}
	return &l, nil
}

// Update persists the mutable tuple of a locked lot and bumps its version.
// l.Version and l.UpdatedAt are refreshed from the database.
func (r *LotRepository) Update(ctx context.Context, tx *sqlx.Tx, l *domain.Lot) error {
	query := `
		UPDATE lots
		SET current_price = $1,
		    winner_id     = $2,
		    ends_at       = $3,
		    status        = $4,
		    bid_count     = $5,
		    version       = version + 1,
		    updated_at    = now()
		WHERE id = $6
		RETURNING version, updated_at`
	err := tx.QueryRowxContext(ctx, query,
		l.CurrentPrice, l.WinnerID, l.EndsAt, string(l.Status), l.BidCount, l.ID,
	).Scan(&l.Version, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrLotNotFound
		}
		return fmt.Errorf("lot_repo.Update: %w", err)
	}
	return nil
}

// ExpiredIDs returns live lots whose ends_at has passed, oldest first.
func (r *LotRepository) ExpiredIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.SelectContext(ctx, &ids,
		`SELECT id FROM lots WHERE status = 'live' AND ends_at <= $1 ORDER BY ends_at ASC LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("lot_repo.ExpiredIDs: %w", err)
	}
	return ids, nil
}

// ActivateDue moves draft lots whose event has started to live and returns
// them. Lots already past their own ends_at stay draft for a curator to fix.
func (r *LotRepository) ActivateDue(ctx context.Context, now time.Time) ([]*domain.Lot, error) {
	var lots []*domain.Lot
	err := r.db.SelectContext(ctx, &lots, `
		UPDATE lots AS l
		SET status     = 'live',
		    version    = l.version + 1,
		    updated_at = now()
		FROM events AS e
		WHERE l.event_id = e.id
		  AND l.status   = 'draft'
		  AND e.status  <> 'closed'
		  AND e.start_at <= $1
		  AND l.ends_at  >  $1
		RETURNING l.*`,
		now)
	if err != nil {
		return nil, fmt.Errorf("lot_repo.ActivateDue: %w", err)
	}
	return lots, nil
}

// ListByStatus returns a paginated slice of lots in the given status.
func (r *LotRepository) ListByStatus(ctx context.Context, status domain.LotStatus, limit, offset int) ([]*domain.Lot, int, error) {
	var lots []*domain.Lot
	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM lots WHERE status = $1`, string(status)); err != nil {
		return nil, 0, fmt.Errorf("lot_repo.ListByStatus count: %w", err)
	}
	if err := r.db.SelectContext(ctx, &lots,
		`SELECT * FROM lots WHERE status = $1 ORDER BY ends_at ASC LIMIT $2 OFFSET $3`,
		string(status), limit, offset); err != nil {
		return nil, 0, fmt.Errorf("lot_repo.ListByStatus select: %w", err)
	}
	return lots, total, nil
}
