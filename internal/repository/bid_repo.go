package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// BidRepository handles all database operations for Bids. Writes only happen
// inside a lot's locked section, so every mutator takes the section's tx.
type BidRepository struct {
	db *sqlx.DB
}

// NewBidRepository creates a new BidRepository.
func NewBidRepository(db *sqlx.DB) *BidRepository {
	return &BidRepository{db: db}
}

// Create inserts a bid within an existing transaction.
func (r *BidRepository) Create(ctx context.Context, tx *sqlx.Tx, b *domain.Bid) error {
	query := `
		INSERT INTO bids
			(id, lot_id, bidder_id, hammer_amount, max_ceiling, status, hold_ref, attempt, created_at, updated_at)
		VALUES
			(:id, :lot_id, :bidder_id, :hammer_amount, :max_ceiling, :status, :hold_ref, :attempt, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, b); err != nil {
		if isPgUniqueViolation(err, "bids_one_active_per_lot") {
			return domain.ErrRaceLost
		}
		return fmt.Errorf("bid_repo.Create: %w", err)
	}
	return nil
}

// GetActive returns the lot's active bid inside tx, or nil when none exists.
func (r *BidRepository) GetActive(ctx context.Context, tx *sqlx.Tx, lotID uuid.UUID) (*domain.Bid, error) {
	var b domain.Bid
	err := tx.GetContext(ctx, &b,
		`SELECT * FROM bids WHERE lot_id = $1 AND status = 'active'`, lotID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("bid_repo.GetActive: %w", err)
	}
	return &b, nil
}

const updateBidQuery = `
	UPDATE bids
	SET hammer_amount = :hammer_amount,
	    max_ceiling   = :max_ceiling,
	    status        = :status,
	    hold_ref      = :hold_ref,
	    attempt       = :attempt,
	    updated_at    = :updated_at
	WHERE id = :id`

// Update writes the mutable fields of a bid within an existing transaction.
func (r *BidRepository) Update(ctx context.Context, tx *sqlx.Tx, b *domain.Bid) error {
	res, err := tx.NamedExecContext(ctx, updateBidQuery, b)
	if err != nil {
		return fmt.Errorf("bid_repo.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("bid_repo.Update: bid %s not found", b.ID)
	}
	return nil
}

// ListByLot returns a lot's bid history, newest first.
func (r *BidRepository) ListByLot(ctx context.Context, lotID uuid.UUID, limit, offset int) ([]*domain.Bid, error) {
	var bids []*domain.Bid
	err := r.db.SelectContext(ctx, &bids,
		`SELECT * FROM bids WHERE lot_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		lotID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("bid_repo.ListByLot: %w", err)
	}
	return bids, nil
}
