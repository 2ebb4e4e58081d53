package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places amounts are rounded to.
const MoneyPlaces = 2

// Settings is an immutable snapshot of the marketplace-wide knobs that affect
// arbitration and settlement. Callers take one snapshot per operation and pass
// it down explicitly; nothing below the service layer reads live settings.
type Settings struct {
	PremiumRate        decimal.Decimal `json:"premium_rate"`        // buyer's premium, e.g. 0.15
	TaxRate            decimal.Decimal `json:"tax_rate"`            // applied on top of hammer+premium
	ExtensionThreshold time.Duration   `json:"extension_threshold"` // late-bid window before ends_at
	ExtensionDuration  time.Duration   `json:"extension_duration"`  // minimum time left after a late bid
	LoadedAt           time.Time       `json:"loaded_at"`
}

// TotalConsideration returns amount × (1+premium) × (1+tax) rounded to cents.
// It sizes bid holds and sale totals alike.
func (s Settings) TotalConsideration(amount decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	return amount.
		Mul(one.Add(s.PremiumRate)).
		Mul(one.Add(s.TaxRate)).
		Round(MoneyPlaces)
}

// ExtendedEndsAt applies the soft-close rule: a bid landing less than
// ExtensionThreshold before endsAt pushes the close to at least
// now+ExtensionDuration. The result is never earlier than endsAt.
func (s Settings) ExtendedEndsAt(endsAt, now time.Time) time.Time {
	if s.ExtensionThreshold <= 0 || endsAt.Sub(now) >= s.ExtensionThreshold {
		return endsAt
	}
	candidate := now.Add(s.ExtensionDuration)
	if candidate.After(endsAt) {
		return candidate
	}
	return endsAt
}
