package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// settingsFile is the on-disk shape of the marketplace settings overlay.
// Absent keys keep the environment default.
//
//	premium_rate: "0.15"
//	tax_rate: "0.20"
//	extension_threshold: 2m
//	extension_duration: 2m
type settingsFile struct {
	PremiumRate        *string `yaml:"premium_rate"`
	TaxRate            *string `yaml:"tax_rate"`
	ExtensionThreshold *string `yaml:"extension_threshold"`
	ExtensionDuration  *string `yaml:"extension_duration"`
}

// SettingsSource serves immutable domain.Settings snapshots. Reload swaps the
// snapshot atomically; callers that already hold a snapshot keep using it.
type SettingsSource struct {
	defaults domain.Settings
	path     string
	current  atomic.Pointer[domain.Settings]
	logger   *slog.Logger
	now      func() time.Time
}

// NewSettingsSource builds a source seeded from the environment defaults and,
// when path is set, the YAML overlay.
func NewSettingsSource(cfg AuctionConfig, logger *slog.Logger) (*SettingsSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SettingsSource{
		defaults: domain.Settings{
			PremiumRate:        cfg.PremiumRate,
			TaxRate:            cfg.TaxRate,
			ExtensionThreshold: cfg.ExtensionThreshold,
			ExtensionDuration:  cfg.ExtensionDuration,
		},
		path:   cfg.SettingsFile,
		logger: logger.With("component", "settings"),
		now:    time.Now,
	}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the settings currently in force.
func (s *SettingsSource) Snapshot() domain.Settings {
	return *s.current.Load()
}

// Reload re-reads the overlay file. On any error the previous snapshot stays
// in force.
func (s *SettingsSource) Reload() (domain.Settings, error) {
	next := s.defaults
	if s.path != "" {
		raw, err := os.ReadFile(s.path)
		if err != nil {
			return s.fallback(), fmt.Errorf("config.settings.Reload: read %s: %w", s.path, err)
		}
		if err := applyOverlay(&next, raw); err != nil {
			return s.fallback(), fmt.Errorf("config.settings.Reload: %w", err)
		}
	}
	if err := validRate("premium_rate", next.PremiumRate); err != nil {
		return s.fallback(), err
	}
	if err := validRate("tax_rate", next.TaxRate); err != nil {
		return s.fallback(), err
	}
	if next.ExtensionThreshold < 0 || next.ExtensionDuration < 0 {
		return s.fallback(), errors.New("config.settings.Reload: extension windows must not be negative")
	}

	next.LoadedAt = s.now().UTC()
	if prev := s.current.Load(); prev != nil && !sameRules(*prev, next) {
		s.logger.Info("marketplace settings changed",
			"premium_rate", next.PremiumRate.String(),
			"tax_rate", next.TaxRate.String(),
			"extension_threshold", next.ExtensionThreshold,
			"extension_duration", next.ExtensionDuration,
		)
	}
	s.current.Store(&next)
	return next, nil
}

func (s *SettingsSource) fallback() domain.Settings {
	if cur := s.current.Load(); cur != nil {
		return *cur
	}
	return s.defaults
}

func applyOverlay(dst *domain.Settings, raw []byte) error {
	var f settingsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if f.PremiumRate != nil {
		d, err := decimal.NewFromString(*f.PremiumRate)
		if err != nil {
			return fmt.Errorf("premium_rate: invalid decimal %q", *f.PremiumRate)
		}
		dst.PremiumRate = d
	}
	if f.TaxRate != nil {
		d, err := decimal.NewFromString(*f.TaxRate)
		if err != nil {
			return fmt.Errorf("tax_rate: invalid decimal %q", *f.TaxRate)
		}
		dst.TaxRate = d
	}
	if f.ExtensionThreshold != nil {
		d, err := time.ParseDuration(*f.ExtensionThreshold)
		if err != nil {
			return fmt.Errorf("extension_threshold: %w", err)
		}
		dst.ExtensionThreshold = d
	}
	if f.ExtensionDuration != nil {
		d, err := time.ParseDuration(*f.ExtensionDuration)
		if err != nil {
			return fmt.Errorf("extension_duration: %w", err)
		}
		dst.ExtensionDuration = d
	}
	return nil
}

func sameRules(a, b domain.Settings) bool {
	return a.PremiumRate.Equal(b.PremiumRate) &&
		a.TaxRate.Equal(b.TaxRate) &&
		a.ExtensionThreshold == b.ExtensionThreshold &&
		a.ExtensionDuration == b.ExtensionDuration
}
