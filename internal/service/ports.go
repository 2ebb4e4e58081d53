package service

import (
	"context"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into the services to avoid import cycles.
// The repository package implements the stores, notify the publishers.
// ──────────────────────────────────────────────────────────────────────────────

// LotRegistry serialises mutations per lot. WithLot may run fn more than once
// when the database aborts the transaction, so fn must not have side effects
// outside the section.
type LotRegistry interface {
	GetLot(ctx context.Context, id uuid.UUID) (*domain.Lot, error)
	ExpiredLotIDs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	WithLot(ctx context.Context, lotID uuid.UUID, fn func(sec domain.LotSection) error) error
}

// LotActivator flips due draft lots to live.
type LotActivator interface {
	ActivateDue(ctx context.Context, now time.Time) ([]*domain.Lot, error)
}

// EventStore is implemented by repository.EventRepository.
type EventStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	GetRegistration(ctx context.Context, eventID, bidderID uuid.UUID) (*domain.Registration, error)
	CreateRegistration(ctx context.Context, reg *domain.Registration) error
	MarkStarted(ctx context.Context, now time.Time) (int64, error)
	MarkFinished(ctx context.Context) (int64, error)
}

// HoldStore is implemented by repository.HoldRepository.
type HoldStore interface {
	Save(ctx context.Context, h *domain.Hold) error
	GetByRef(ctx context.Context, ref string) (*domain.Hold, error)
	GetByKey(ctx context.Context, idempotencyKey string) (*domain.Hold, error)
	BacksActiveBid(ctx context.Context, ref string) (bool, error)
	MarkCancelled(ctx context.Context, ref string) error
	MarkCaptured(ctx context.Context, ref string, amount decimal.Decimal) error
	QueueRelease(ctx context.Context, ref, reason string) error
	ClearRelease(ctx context.Context, ref string) error
	ListPendingRelease(ctx context.Context, limit int) ([]*domain.Hold, error)
}

// SaleStore is implemented by repository.SaleRepository.
type SaleStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Sale, error)
	MarkPaid(ctx context.Context, id uuid.UUID, capturedAt time.Time) error
	Flag(ctx context.Context, id uuid.UUID, reason string) error
	ListFlagged(ctx context.Context, limit, offset int) ([]*domain.Sale, int, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Sale, error)
}

// Notifier hands leadership changes to the outbid-notification pipeline.
// Implemented by notify.RedisDispatcher.
type Notifier interface {
	NotifyLeadershipChanged(ctx context.Context, ev domain.LeadershipChanged) error
}

// ChangePublisher fans lot changes out to caches and live UIs.
// Implemented by notify.ChangeStream.
type ChangePublisher interface {
	PublishLotChange(ctx context.Context, ch domain.LotChange) error
}

// SettingsProvider returns the marketplace settings currently in force.
// Implemented by config.SettingsSource.
type SettingsProvider interface {
	Snapshot() domain.Settings
}
