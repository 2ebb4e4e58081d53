package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Proxy-bid resolution
// ──────────────────────────────────────────────────────────────────────────────

// Outcome classifies how a proxy resolution changed the lot.
type Outcome string

const (
	OutcomeOpening    Outcome = "opening"    // first bid on the lot
	OutcomeRaised     Outcome = "raised"     // leader re-bid, ceiling possibly raised
	OutcomeOvertaken  Outcome = "overtaken"  // challenger beat the leader's ceiling
	OutcomeOutbidOnce Outcome = "outbid"     // leader's ceiling answered the challenger
)

// Resolution is the result of resolving one bid against the lot's leader.
type Resolution struct {
	Outcome   Outcome
	LeaderID  uuid.UUID
	LeaderMax decimal.Decimal // private, never returned to clients
	Price     decimal.Decimal // new public current_price
}

// LeaderChanged reports whether the resolution installed a new leader.
// The opening bid counts as a change but has no previous leader to notify.
func (r Resolution) LeaderChanged() bool {
	return r.Outcome == OutcomeOpening || r.Outcome == OutcomeOvertaken
}

// ResolveProxy applies the classic two-maxima proxy rule. leader is the lot's
// active bid or nil. It does not mutate its arguments.
//
// Challenger beats the ceiling:   price = min(desired, leaderMax + increment)
// Ceiling answers the challenger: price = min(leaderMax, desired + increment)
//
// Ties go to the earlier bid.
func ResolveProxy(lot *Lot, leader *Bid, bidderID uuid.UUID, desired decimal.Decimal) (Resolution, error) {
	if !desired.IsPositive() {
		return Resolution{}, ErrInvalidAmount
	}

	if leader == nil {
		if desired.LessThan(lot.StartPrice) {
			return Resolution{}, ErrBidTooLow
		}
		return Resolution{
			Outcome:   OutcomeOpening,
			LeaderID:  bidderID,
			LeaderMax: desired,
			Price:     lot.StartPrice,
		}, nil
	}

	if desired.LessThan(lot.CurrentPrice.Add(lot.MinIncrement)) {
		return Resolution{}, ErrBidTooLow
	}

	leaderMax := leader.Ceiling()

	if leader.BidderID == bidderID {
		return Resolution{
			Outcome:   OutcomeRaised,
			LeaderID:  bidderID,
			LeaderMax: decimal.Max(leaderMax, desired),
			Price:     lot.CurrentPrice,
		}, nil
	}

	if desired.GreaterThan(leaderMax) {
		return Resolution{
			Outcome:   OutcomeOvertaken,
			LeaderID:  bidderID,
			LeaderMax: desired,
			Price:     decimal.Min(desired, leaderMax.Add(lot.MinIncrement)),
		}, nil
	}

	return Resolution{
		Outcome:   OutcomeOutbidOnce,
		LeaderID:  leader.BidderID,
		LeaderMax: leaderMax,
		Price:     decimal.Min(leaderMax, desired.Add(lot.MinIncrement)),
	}, nil
}
