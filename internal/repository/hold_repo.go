package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evetabi/auction/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// HoldRepository keeps the local mirror of gateway holds and the queue of
// releases waiting for reconciliation.
type HoldRepository struct {
	db *sqlx.DB
}

// NewHoldRepository creates a new HoldRepository.
func NewHoldRepository(db *sqlx.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

// Save upserts a hold by gateway reference. A retried authorization returns
// the same reference, so the second write is a no-op on the key columns.
// A captured or cancelled hold is never moved back to authorized.
func (r *HoldRepository) Save(ctx context.Context, h *domain.Hold) error {
	query := `
		INSERT INTO holds
			(ref, bidder_id, event_id, lot_id, purpose, amount, captured_amount, status,
			 idempotency_key, release_pending, last_error, created_at, updated_at)
		VALUES
			(:ref, :bidder_id, :event_id, :lot_id, :purpose, :amount, :captured_amount, :status,
			 :idempotency_key, :release_pending, :last_error, :created_at, :updated_at)
		ON CONFLICT (ref) DO UPDATE
		SET status     = EXCLUDED.status,
		    updated_at = EXCLUDED.updated_at
		WHERE holds.status = 'authorized'`
	if _, err := r.db.NamedExecContext(ctx, query, h); err != nil {
		return fmt.Errorf("hold_repo.Save: %w", err)
	}
	return nil
}

// GetByRef fetches a hold by gateway reference.
func (r *HoldRepository) GetByRef(ctx context.Context, ref string) (*domain.Hold, error) {
	var h domain.Hold
	err := r.db.GetContext(ctx, &h, `SELECT * FROM holds WHERE ref = $1`, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrHoldNotFound
		}
		return nil, fmt.Errorf("hold_repo.GetByRef: %w", err)
	}
	return &h, nil
}

// GetByKey fetches the hold created under a gateway idempotency key.
func (r *HoldRepository) GetByKey(ctx context.Context, idempotencyKey string) (*domain.Hold, error) {
	var h domain.Hold
	err := r.db.GetContext(ctx, &h, `SELECT * FROM holds WHERE idempotency_key = $1`, idempotencyKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrHoldNotFound
		}
		return nil, fmt.Errorf("hold_repo.GetByKey: %w", err)
	}
	return &h, nil
}

// BacksActiveBid reports whether ref funds a lot's leading bid.
func (r *HoldRepository) BacksActiveBid(ctx context.Context, ref string) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok,
		`SELECT EXISTS (SELECT 1 FROM bids WHERE hold_ref = $1 AND status = 'active')`, ref)
	if err != nil {
		return false, fmt.Errorf("hold_repo.BacksActiveBid: %w", err)
	}
	return ok, nil
}

// MarkCancelled records a released hold and clears any queued release.
func (r *HoldRepository) MarkCancelled(ctx context.Context, ref string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE holds
		SET status = 'cancelled', release_pending = false, last_error = NULL, updated_at = now()
		WHERE ref = $1 AND status <> 'captured'`, ref)
	if err != nil {
		return fmt.Errorf("hold_repo.MarkCancelled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

// MarkCaptured records a settled hold.
func (r *HoldRepository) MarkCaptured(ctx context.Context, ref string, amount decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE holds
		SET status = 'captured', captured_amount = $1, last_error = NULL, updated_at = now()
		WHERE ref = $2`, amount, ref)
	if err != nil {
		return fmt.Errorf("hold_repo.MarkCaptured: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

// QueueRelease marks an authorized hold whose cancel failed.
func (r *HoldRepository) QueueRelease(ctx context.Context, ref, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE holds
		SET release_pending = true, last_error = $1, updated_at = now()
		WHERE ref = $2 AND status = 'authorized'`, reason, ref)
	if err != nil {
		return fmt.Errorf("hold_repo.QueueRelease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrHoldNotFound
	}
	return nil
}

// ClearRelease drops a queued release without touching the hold.
func (r *HoldRepository) ClearRelease(ctx context.Context, ref string) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE holds
		SET release_pending = false, last_error = NULL, updated_at = now()
		WHERE ref = $1`, ref); err != nil {
		return fmt.Errorf("hold_repo.ClearRelease: %w", err)
	}
	return nil
}

// ListPendingRelease returns queued releases, oldest first.
func (r *HoldRepository) ListPendingRelease(ctx context.Context, limit int) ([]*domain.Hold, error) {
	var holds []*domain.Hold
	err := r.db.SelectContext(ctx, &holds,
		`SELECT * FROM holds WHERE release_pending AND status = 'authorized'
		 ORDER BY updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("hold_repo.ListPendingRelease: %w", err)
	}
	return holds, nil
}
