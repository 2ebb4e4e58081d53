package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	t *testing.T

	clock    *clock
	reg      *fakeRegistry
	sales    *fakeSales
	events   *fakeEvents
	holds    *fakeHolds
	gateway  *fakeGateway
	notifier *fakeNotifier
	pub      *fakePublisher

	saga       *service.PaymentSaga
	arbiter    *service.ArbitrationService
	settlement *service.SettlementService

	event    *domain.Event
	settings domain.Settings
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	h := &harness{
		t:        t,
		clock:    &clock{now: start},
		reg:      newFakeRegistry(),
		events:   newFakeEvents(),
		holds:    newFakeHolds(),
		gateway:  newFakeGateway(),
		notifier: &fakeNotifier{},
		pub:      &fakePublisher{},
		settings: domain.Settings{
			PremiumRate:        decimal.RequireFromString("0.15"),
			TaxRate:            decimal.RequireFromString("0.20"),
			ExtensionThreshold: 5 * time.Minute,
			ExtensionDuration:  10 * time.Minute,
		},
	}
	h.sales = newFakeSales(h.reg)
	h.holds.active = h.reg.backsActiveBid

	h.saga = service.NewPaymentSaga(h.gateway, h.holds, logger)
	h.arbiter = service.NewArbitrationService(h.reg, h.events, h.saga, logger)
	h.arbiter.SetClock(h.clock.Now)
	h.arbiter.SetNotifier(h.notifier)
	h.arbiter.SetPublisher(h.pub)

	h.settlement = service.NewSettlementService(h.reg, h.sales, h.events, h.saga, 100, 4, logger)
	h.settlement.SetClock(h.clock.Now)
	h.settlement.SetPublisher(h.pub)

	h.event = &domain.Event{
		ID:      uuid.New(),
		Title:   "Spring sale",
		StartAt: start.Add(-time.Hour),
		EndsAt:  start.Add(2 * time.Hour),
		Status:  domain.EventStatusRunning,
	}
	h.events.put(h.event)
	return h
}

// newLot adds a live lot to the harness event.
func (h *harness) newLot(startPrice, increment int64, endsIn time.Duration) uuid.UUID {
	lot := &domain.Lot{
		ID:           uuid.New(),
		EventID:      h.event.ID,
		Title:        "Lot",
		StartPrice:   decimal.NewFromInt(startPrice),
		CurrentPrice: decimal.NewFromInt(startPrice),
		MinIncrement: decimal.NewFromInt(increment),
		EndsAt:       h.clock.Now().Add(endsIn),
		Status:       domain.LotStatusLive,
		Version:      1,
	}
	h.reg.put(lot)
	return lot.ID
}

// bidder returns a new registered bidder.
func (h *harness) bidder() uuid.UUID {
	id := uuid.New()
	h.events.register(h.event.ID, id)
	return id
}

func (h *harness) bid(lotID, bidderID uuid.UUID, amount int64) (*domain.BidAccepted, error) {
	return h.bidAttempt(lotID, bidderID, amount, 1)
}

func (h *harness) bidAttempt(lotID, bidderID uuid.UUID, amount int64, attempt int) (*domain.BidAccepted, error) {
	return h.arbiter.SubmitBid(context.Background(), domain.SubmitBidRequest{
		LotID:    lotID,
		BidderID: bidderID,
		Amount:   decimal.NewFromInt(amount),
		Attempt:  attempt,
	}, h.settings)
}

func (h *harness) mustBid(lotID, bidderID uuid.UUID, amount int64) *domain.BidAccepted {
	h.t.Helper()
	res, err := h.bid(lotID, bidderID, amount)
	require.NoError(h.t, err)
	h.settle()
	return res
}

// settle waits for asynchronous releases, publishes and notifications.
func (h *harness) settle() {
	h.arbiter.Wait()
	h.saga.Wait()
}

// activeBids returns the lot's bids with status active.
func (h *harness) activeBids(lotID uuid.UUID) []domain.Bid {
	var out []domain.Bid
	for _, b := range h.reg.bidsFor(lotID) {
		if b.Status == domain.BidStatusActive {
			out = append(out, b)
		}
	}
	return out
}

// requirePriceInvariant checks current_price against the active bid.
func (h *harness) requirePriceInvariant(lotID uuid.UUID) {
	h.t.Helper()
	lot := h.reg.lot(lotID)
	active := h.activeBids(lotID)
	require.LessOrEqual(h.t, len(active), 1, "at most one active bid")
	if len(active) == 0 {
		require.True(h.t, lot.CurrentPrice.Equal(lot.StartPrice), "price %s without a leader", lot.CurrentPrice)
		return
	}
	require.True(h.t, lot.CurrentPrice.Equal(active[0].HammerAmount),
		"current_price %s != active hammer %s", lot.CurrentPrice, active[0].HammerAmount)
	require.Equal(h.t, active[0].BidderID, *lot.WinnerID)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
