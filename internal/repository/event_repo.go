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

// EventRepository handles events and bidder registrations.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// GetByID fetches an event by its primary key.
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	var e domain.Event
	err := r.db.GetContext(ctx, &e, `SELECT * FROM events WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("event_repo.GetByID: %w", err)
	}
	return &e, nil
}

// GetRegistration returns the bidder's registration for an event.
// Returns ErrNotRegistered when none exists.
func (r *EventRepository) GetRegistration(ctx context.Context, eventID, bidderID uuid.UUID) (*domain.Registration, error) {
	var reg domain.Registration
	err := r.db.GetContext(ctx, &reg,
		`SELECT * FROM registrations WHERE event_id = $1 AND bidder_id = $2`,
		eventID, bidderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotRegistered
		}
		return nil, fmt.Errorf("event_repo.GetRegistration: %w", err)
	}
	return &reg, nil
}

// CreateRegistration inserts a registration. Returns ErrAlreadyRegistered when
// the bidder is already admitted to the event.
func (r *EventRepository) CreateRegistration(ctx context.Context, reg *domain.Registration) error {
	query := `
		INSERT INTO registrations
			(event_id, bidder_id, instrument_ref, deposit_hold_ref, created_at)
		VALUES
			(:event_id, :bidder_id, :instrument_ref, :deposit_hold_ref, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, reg); err != nil {
		if isPgUniqueViolation(err, "registrations_pkey") {
			return domain.ErrAlreadyRegistered
		}
		return fmt.Errorf("event_repo.CreateRegistration: %w", err)
	}
	return nil
}

// MarkStarted moves scheduled events whose start_at has passed to running.
func (r *EventRepository) MarkStarted(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE events
		SET status = 'running', updated_at = now()
		WHERE status = 'scheduled' AND start_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("event_repo.MarkStarted: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MarkFinished closes running events that have no lot left open.
func (r *EventRepository) MarkFinished(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE events AS e
		SET status = 'closed', updated_at = now()
		WHERE e.status = 'running'
		  AND NOT EXISTS (
		      SELECT 1 FROM lots l
		      WHERE l.event_id = e.id AND l.status IN ('draft', 'live'))`)
	if err != nil {
		return 0, fmt.Errorf("event_repo.MarkFinished: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
