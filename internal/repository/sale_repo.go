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

// SaleRepository handles all database operations for Sales.
type SaleRepository struct {
	db *sqlx.DB
}

// NewSaleRepository creates a new SaleRepository.
func NewSaleRepository(db *sqlx.DB) *SaleRepository {
	return &SaleRepository{db: db}
}

// Create inserts a sale within the closing transaction. The unique index on
// lot_id turns a second insert for the same lot into ErrSaleExists.
func (r *SaleRepository) Create(ctx context.Context, tx *sqlx.Tx, s *domain.Sale) error {
	query := `
		INSERT INTO sales
			(id, lot_id, bid_id, winner_id, hold_ref, hammer_price, premium_rate, tax_rate,
			 total_amount, status, needs_review, review_reason, captured_at, created_at, updated_at)
		VALUES
			(:id, :lot_id, :bid_id, :winner_id, :hold_ref, :hammer_price, :premium_rate, :tax_rate,
			 :total_amount, :status, :needs_review, :review_reason, :captured_at, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, s); err != nil {
		if isPgUniqueViolation(err, "sales_lot_id_key") {
			return domain.ErrSaleExists
		}
		return fmt.Errorf("sale_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a sale by its primary key.
func (r *SaleRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Sale, error) {
	var s domain.Sale
	err := r.db.GetContext(ctx, &s, `SELECT * FROM sales WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSaleNotFound
		}
		return nil, fmt.Errorf("sale_repo.GetByID: %w", err)
	}
	return &s, nil
}

// MarkPaid records a successful capture. Only pending sales transition.
func (r *SaleRepository) MarkPaid(ctx context.Context, id uuid.UUID, capturedAt time.Time) error {
	query := `
		UPDATE sales
		SET status        = 'paid',
		    needs_review  = false,
		    review_reason = NULL,
		    captured_at   = $1,
		    updated_at    = now()
		WHERE id = $2 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, capturedAt, id)
	if err != nil {
		return fmt.Errorf("sale_repo.MarkPaid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSaleNotPending
	}
	return nil
}

// Flag leaves a sale pending and marks it for manual follow-up.
func (r *SaleRepository) Flag(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE sales
		SET needs_review  = true,
		    review_reason = $1,
		    updated_at    = now()
		WHERE id = $2 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, reason, id)
	if err != nil {
		return fmt.Errorf("sale_repo.Flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSaleNotPending
	}
	return nil
}

// ListFlagged returns pending sales that need review, oldest first.
// Returns (sales, totalCount, error).
func (r *SaleRepository) ListFlagged(ctx context.Context, limit, offset int) ([]*domain.Sale, int, error) {
	var sales []*domain.Sale
	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM sales WHERE status = 'pending' AND needs_review`); err != nil {
		return nil, 0, fmt.Errorf("sale_repo.ListFlagged count: %w", err)
	}
	if err := r.db.SelectContext(ctx, &sales,
		`SELECT * FROM sales WHERE status = 'pending' AND needs_review
		 ORDER BY created_at ASC LIMIT $1 OFFSET $2`,
		limit, offset); err != nil {
		return nil, 0, fmt.Errorf("sale_repo.ListFlagged select: %w", err)
	}
	return sales, total, nil
}

// ListStalePending returns unflagged pending sales created before cutoff.
// These are sales whose capture never ran, e.g. after a crash right after
// the closing transaction committed.
func (r *SaleRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Sale, error) {
	var sales []*domain.Sale
	err := r.db.SelectContext(ctx, &sales,
		`SELECT * FROM sales WHERE status = 'pending' AND NOT needs_review AND created_at < $1
		 ORDER BY created_at ASC LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("sale_repo.ListStalePending: %w", err)
	}
	return sales, nil
}
