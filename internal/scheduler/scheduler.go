// Package scheduler runs the background loops of the auction engine:
//  1. closingLoop    – closes and settles lots whose ends_at has passed.
//  2. activationLoop – makes draft lots of started events live.
//  3. reconcileLoop  – retries queued hold releases and stale captures.
//  4. settingsLoop   – reloads the auction settings overlay.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Collaborators
// ──────────────────────────────────────────────────────────────────────────────

// Closer closes expired lots.
type Closer interface {
	CloseExpiredLots(ctx context.Context, settings domain.Settings) (*domain.CloseReport, error)
	RetryStaleCaptures(ctx context.Context, olderThan time.Duration) (int, error)
}

// Activator makes due draft lots live.
type Activator interface {
	ActivateDueLots(ctx context.Context) (int, error)
}

// Releaser retries hold releases queued by failed compensations.
type Releaser interface {
	ReconcileReleases(ctx context.Context, limit int) (int, error)
}

// Settings hands out the current settings snapshot and reloads it.
type Settings interface {
	Snapshot() domain.Settings
	Reload() (domain.Settings, error)
}

const reconcileBatch = 100

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler runs the lifecycle loops. Call Start once from main and cancel the
// context to stop it.
type Scheduler struct {
	closer    Closer
	activator Activator
	releaser  Releaser
	settings  Settings
	cfg       config.AuctionConfig
	logger    *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	closer Closer,
	activator Activator,
	releaser Releaser,
	settings Settings,
	cfg config.AuctionConfig,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		closer:    closer,
		activator: activator,
		releaser:  releaser,
		settings:  settings,
		cfg:       cfg,
		logger:    logger.With("component", "scheduler"),
	}
}

// Start launches the loops and returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	go s.every(ctx, "closingLoop", s.cfg.CloseInterval, s.closeTick)
	go s.every(ctx, "activationLoop", s.cfg.ActivationInterval, s.activateTick)
	go s.every(ctx, "reconcileLoop", s.cfg.ReconcileInterval, s.reconcileTick)
	if s.cfg.SettingsFile != "" {
		go s.every(ctx, "settingsLoop", s.cfg.SettingsInterval, s.settingsTick)
	}
	s.logger.Info("scheduler started",
		"close_interval", s.cfg.CloseInterval,
		"activation_interval", s.cfg.ActivationInterval,
		"reconcile_interval", s.cfg.ReconcileInterval)
}

// every runs tick on a ticker until ctx is cancelled. A panicking tick is
// logged and the loop keeps going.
func (s *Scheduler) every(ctx context.Context, loop string, interval time.Duration, tick func(context.Context)) {
	if interval <= 0 {
		s.logger.Warn("loop disabled", "loop", loop)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("loop shutting down", "loop", loop)
			return
		case <-ticker.C:
			s.runTick(ctx, loop, tick)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context, loop string, tick func(context.Context)) {
	defer s.recoverAndLog(loop)
	tick(ctx)
}

// ──────────────────────────────────────────────────────────────────────────────
// Ticks
// ──────────────────────────────────────────────────────────────────────────────

// closeTick closes one batch with the settings in force at this moment.
func (s *Scheduler) closeTick(ctx context.Context) {
	report, err := s.closer.CloseExpiredLots(ctx, s.settings.Snapshot())
	if err != nil {
		s.logger.Error("closingLoop: CloseExpiredLots", "err", err)
		return
	}
	if len(report.Closed) > 0 || len(report.Failed) > 0 {
		s.logger.Info("closing batch done",
			"closed", len(report.Closed), "settled", len(report.Settled), "failed", len(report.Failed))
	}
}

func (s *Scheduler) activateTick(ctx context.Context) {
	if _, err := s.activator.ActivateDueLots(ctx); err != nil {
		s.logger.Error("activationLoop: ActivateDueLots", "err", err)
	}
}

func (s *Scheduler) reconcileTick(ctx context.Context) {
	if _, err := s.releaser.ReconcileReleases(ctx, reconcileBatch); err != nil {
		s.logger.Error("reconcileLoop: ReconcileReleases", "err", err)
	}
	if _, err := s.closer.RetryStaleCaptures(ctx, s.cfg.StaleCaptureAfter); err != nil {
		s.logger.Error("reconcileLoop: RetryStaleCaptures", "err", err)
	}
}

func (s *Scheduler) settingsTick(context.Context) {
	if _, err := s.settings.Reload(); err != nil {
		s.logger.Warn("settingsLoop: reload rejected, keeping previous settings", "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop", "loop", loop, "panic", r)
	}
}
