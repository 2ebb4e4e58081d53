package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Registry: per-lot mutex, copy-in / copy-out transactions
// ──────────────────────────────────────────────────────────────────────────────

type fakeRegistry struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
	lots  map[uuid.UUID]*domain.Lot
	bids  map[uuid.UUID][]*domain.Bid // by lot
	sales map[uuid.UUID]*domain.Sale  // by sale id

	// inLock runs inside the section before fn, once per WithLot call.
	inLock func(lot *domain.Lot)

	// failNext is returned by the next WithLot call instead of running fn.
	failNext error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		locks: make(map[uuid.UUID]*sync.Mutex),
		lots:  make(map[uuid.UUID]*domain.Lot),
		bids:  make(map[uuid.UUID][]*domain.Bid),
		sales: make(map[uuid.UUID]*domain.Sale),
	}
}

func (r *fakeRegistry) put(l *domain.Lot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *l
	r.lots[l.ID] = &cp
	r.locks[l.ID] = &sync.Mutex{}
}

// seedLeader installs an active bid standing at hammer with the given ceiling.
func (r *fakeRegistry) seedLeader(lotID, bidderID uuid.UUID, hammer, ceiling decimal.Decimal, holdRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.lots[lotID]
	l.CurrentPrice = hammer
	l.WinnerID = &bidderID
	l.BidCount++
	r.bids[lotID] = append(r.bids[lotID], &domain.Bid{
		ID:           uuid.New(),
		LotID:        lotID,
		BidderID:     bidderID,
		HammerAmount: hammer,
		MaxCeiling:   &ceiling,
		Status:       domain.BidStatusActive,
		HoldRef:      holdRef,
		Attempt:      1,
	})
}

func (r *fakeRegistry) failOnce(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = err
}

// backsActiveBid reports whether any lot's active bid holds ref.
func (r *fakeRegistry) backsActiveBid(ref string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bids := range r.bids {
		for _, b := range bids {
			if b.Status == domain.BidStatusActive && b.HoldRef == ref {
				return true
			}
		}
	}
	return false
}

func (r *fakeRegistry) lot(id uuid.UUID) domain.Lot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.lots[id]
}

func (r *fakeRegistry) bidsFor(id uuid.UUID) []domain.Bid {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Bid, 0, len(r.bids[id]))
	for _, b := range r.bids[id] {
		out = append(out, *b)
	}
	return out
}

func (r *fakeRegistry) salesFor(lotID uuid.UUID) []domain.Sale {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Sale
	for _, s := range r.sales {
		if s.LotID == lotID {
			out = append(out, *s)
		}
	}
	return out
}

func (r *fakeRegistry) GetLot(_ context.Context, id uuid.UUID) (*domain.Lot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lots[id]
	if !ok {
		return nil, domain.ErrLotNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *fakeRegistry) ExpiredLotIDs(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id, l := range r.lots {
		if l.IsExpired(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (r *fakeRegistry) WithLot(ctx context.Context, lotID uuid.UUID, fn func(sec domain.LotSection) error) error {
	r.mu.Lock()
	lock, ok := r.locks[lotID]
	r.mu.Unlock()
	if !ok {
		return domain.ErrLotNotFound
	}
	r.mu.Lock()
	failed := r.failNext
	r.failNext = nil
	r.mu.Unlock()
	if failed != nil {
		return failed
	}
	lock.Lock()
	defer lock.Unlock()

	sec := r.snapshot(lotID)
	if r.inLock != nil {
		r.inLock(sec.lot)
	}
	if err := fn(sec); err != nil {
		return err
	}
	r.commit(sec)
	return nil
}

func (r *fakeRegistry) snapshot(lotID uuid.UUID) *fakeSection {
	r.mu.Lock()
	defer r.mu.Unlock()
	lot := *r.lots[lotID]
	sec := &fakeSection{reg: r, lot: &lot, bids: make(map[uuid.UUID]*domain.Bid)}
	for _, b := range r.bids[lotID] {
		cp := *b
		sec.bids[b.ID] = &cp
		sec.order = append(sec.order, b.ID)
	}
	return sec
}

func (r *fakeRegistry) commit(sec *fakeSection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sec.lotDirty {
		l := *sec.lot
		r.lots[l.ID] = &l
	}
	bids := make([]*domain.Bid, 0, len(sec.order))
	for _, id := range sec.order {
		bids = append(bids, sec.bids[id])
	}
	r.bids[sec.lot.ID] = bids
	for _, s := range sec.newSales {
		r.sales[s.ID] = s
	}
}

type fakeSection struct {
	reg      *fakeRegistry
	lot      *domain.Lot
	bids     map[uuid.UUID]*domain.Bid
	order    []uuid.UUID
	newSales []*domain.Sale
	lotDirty bool
}

func (s *fakeSection) Lot() *domain.Lot { return s.lot }

func (s *fakeSection) ActiveBid(context.Context) (*domain.Bid, error) {
	for _, id := range s.order {
		if b := s.bids[id]; b.Status == domain.BidStatusActive {
			return b, nil
		}
	}
	return nil, nil
}

func (s *fakeSection) InsertBid(ctx context.Context, b *domain.Bid) error {
	if b.Status == domain.BidStatusActive {
		if active, _ := s.ActiveBid(ctx); active != nil {
			return domain.ErrRaceLost
		}
	}
	cp := *b
	s.bids[b.ID] = &cp
	s.order = append(s.order, b.ID)
	return nil
}

func (s *fakeSection) UpdateBid(_ context.Context, b *domain.Bid) error {
	if _, ok := s.bids[b.ID]; !ok {
		return fmt.Errorf("bid %s not found", b.ID)
	}
	cp := *b
	s.bids[b.ID] = &cp
	return nil
}

func (s *fakeSection) UpdateLot(_ context.Context, l *domain.Lot) error {
	l.Version++
	s.lot = l
	s.lotDirty = true
	return nil
}

func (s *fakeSection) CreateSale(_ context.Context, sale *domain.Sale) error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	for _, existing := range s.reg.sales {
		if existing.LotID == sale.LotID {
			return domain.ErrSaleExists
		}
	}
	cp := *sale
	s.newSales = append(s.newSales, &cp)
	return nil
}

// fakeSales exposes the registry's sales as a SaleStore.
type fakeSales struct {
	reg     *fakeRegistry
	flagged map[uuid.UUID]string
}

func newFakeSales(reg *fakeRegistry) *fakeSales {
	return &fakeSales{reg: reg, flagged: make(map[uuid.UUID]string)}
}

func (f *fakeSales) GetByID(_ context.Context, id uuid.UUID) (*domain.Sale, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	s, ok := f.reg.sales[id]
	if !ok {
		return nil, domain.ErrSaleNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSales) MarkPaid(_ context.Context, id uuid.UUID, at time.Time) error {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	s, ok := f.reg.sales[id]
	if !ok || s.Status != domain.SaleStatusPending {
		return domain.ErrSaleNotPending
	}
	s.Status = domain.SaleStatusPaid
	s.NeedsReview = false
	s.ReviewReason = nil
	s.CapturedAt = &at
	return nil
}

func (f *fakeSales) Flag(_ context.Context, id uuid.UUID, reason string) error {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	s, ok := f.reg.sales[id]
	if !ok || s.Status != domain.SaleStatusPending {
		return domain.ErrSaleNotPending
	}
	s.NeedsReview = true
	s.ReviewReason = &reason
	f.flagged[id] = reason
	return nil
}

func (f *fakeSales) ListFlagged(_ context.Context, limit, offset int) ([]*domain.Sale, int, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	var out []*domain.Sale
	for _, s := range f.reg.sales {
		if s.Status == domain.SaleStatusPending && s.NeedsReview {
			cp := *s
			out = append(out, &cp)
		}
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (f *fakeSales) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*domain.Sale, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	var out []*domain.Sale
	for _, s := range f.reg.sales {
		if s.Status == domain.SaleStatusPending && !s.NeedsReview && s.CreatedAt.Before(cutoff) {
			cp := *s
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Events and registrations
// ──────────────────────────────────────────────────────────────────────────────

type regKey struct{ event, bidder uuid.UUID }

type fakeEvents struct {
	mu       sync.Mutex
	events   map[uuid.UUID]*domain.Event
	regs     map[regKey]*domain.Registration
	finished int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{
		events: make(map[uuid.UUID]*domain.Event),
		regs:   make(map[regKey]*domain.Registration),
	}
}

func (f *fakeEvents) put(ev *domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.ID] = ev
}

func (f *fakeEvents) register(eventID, bidderID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[regKey{eventID, bidderID}] = &domain.Registration{
		EventID:       eventID,
		BidderID:      bidderID,
		InstrumentRef: "card_" + bidderID.String()[:8],
	}
}

func (f *fakeEvents) GetByID(_ context.Context, id uuid.UUID) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeEvents) GetRegistration(_ context.Context, eventID, bidderID uuid.UUID) (*domain.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[regKey{eventID, bidderID}]
	if !ok {
		return nil, domain.ErrNotRegistered
	}
	cp := *reg
	return &cp, nil
}

func (f *fakeEvents) CreateRegistration(_ context.Context, reg *domain.Registration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := regKey{reg.EventID, reg.BidderID}
	if _, ok := f.regs[k]; ok {
		return domain.ErrAlreadyRegistered
	}
	cp := *reg
	f.regs[k] = &cp
	return nil
}

func (f *fakeEvents) MarkStarted(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, ev := range f.events {
		if ev.Status == domain.EventStatusScheduled && ev.HasStarted(now) {
			ev.Status = domain.EventStatusRunning
			n++
		}
	}
	return n, nil
}

func (f *fakeEvents) MarkFinished(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished++
	return 0, nil
}

// fakeActivator flips draft lots of the registry to live.
type fakeActivator struct{ reg *fakeRegistry }

func (a *fakeActivator) ActivateDue(_ context.Context, now time.Time) ([]*domain.Lot, error) {
	a.reg.mu.Lock()
	defer a.reg.mu.Unlock()
	var out []*domain.Lot
	for _, l := range a.reg.lots {
		if l.Status == domain.LotStatusDraft && now.Before(l.EndsAt) {
			l.Status = domain.LotStatusLive
			l.Version++
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Holds and gateway
// ──────────────────────────────────────────────────────────────────────────────

type fakeHolds struct {
	mu    sync.Mutex
	holds map[string]*domain.Hold

	// active answers BacksActiveBid; nil means no hold backs a bid.
	active func(ref string) bool

	saveErr error
}

func newFakeHolds() *fakeHolds { return &fakeHolds{holds: make(map[string]*domain.Hold)} }

func (f *fakeHolds) get(ref string) domain.Hold {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.holds[ref]; ok {
		return *h
	}
	return domain.Hold{}
}

func (f *fakeHolds) Save(_ context.Context, h *domain.Hold) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if existing, ok := f.holds[h.Ref]; ok {
		if existing.Status == domain.HoldStatusAuthorized {
			existing.Status = h.Status
		}
		return nil
	}
	cp := *h
	f.holds[h.Ref] = &cp
	return nil
}

func (f *fakeHolds) GetByRef(_ context.Context, ref string) (*domain.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[ref]
	if !ok {
		return nil, domain.ErrHoldNotFound
	}
	cp := *h
	return &cp, nil
}

func (f *fakeHolds) GetByKey(_ context.Context, key string) (*domain.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.holds {
		if h.IdempotencyKey == key {
			cp := *h
			return &cp, nil
		}
	}
	return nil, domain.ErrHoldNotFound
}

func (f *fakeHolds) BacksActiveBid(_ context.Context, ref string) (bool, error) {
	if f.active == nil {
		return false, nil
	}
	return f.active(ref), nil
}

func (f *fakeHolds) ClearRelease(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.holds[ref]; ok {
		h.ReleasePending = false
		h.LastError = nil
	}
	return nil
}

func (f *fakeHolds) MarkCancelled(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[ref]
	if !ok {
		return domain.ErrHoldNotFound
	}
	h.Status = domain.HoldStatusCancelled
	h.ReleasePending = false
	return nil
}

func (f *fakeHolds) MarkCaptured(_ context.Context, ref string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[ref]
	if !ok {
		return domain.ErrHoldNotFound
	}
	h.Status = domain.HoldStatusCaptured
	h.CapturedAmount = &amount
	return nil
}

func (f *fakeHolds) QueueRelease(_ context.Context, ref, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[ref]
	if !ok {
		return domain.ErrHoldNotFound
	}
	h.ReleasePending = true
	h.LastError = &reason
	return nil
}

func (f *fakeHolds) ListPendingRelease(_ context.Context, limit int) ([]*domain.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Hold
	for _, h := range f.holds {
		if h.ReleasePending && h.Status == domain.HoldStatusAuthorized {
			cp := *h
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	byKey    map[string]string
	released map[string]bool
	seq      int
	creates  []payment.HoldRequest
	cancels  []string
	captures []string

	createErr  error
	cancelErr  error
	captureErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{byKey: make(map[string]string), released: make(map[string]bool)}
}

func (g *fakeGateway) CreateHold(_ context.Context, req payment.HoldRequest) (*payment.HoldResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	ref, ok := g.byKey[req.IdempotencyKey]
	if !ok {
		g.seq++
		ref = fmt.Sprintf("hold_%d", g.seq)
		g.byKey[req.IdempotencyKey] = ref
	}
	status := "authorized"
	if g.released[ref] {
		status = "cancelled"
	}
	return &payment.HoldResult{Ref: ref, Status: status, Amount: req.Amount}, nil
}

func (g *fakeGateway) CancelHold(_ context.Context, ref, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels = append(g.cancels, ref)
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.released[ref] = true
	return nil
}

func (g *fakeGateway) CaptureHold(_ context.Context, ref string, amount decimal.Decimal, key string) (*payment.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures = append(g.captures, key)
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return &payment.CaptureResult{Ref: "cap_" + ref, HoldRef: ref, Status: "captured", Amount: amount}, nil
}

func (g *fakeGateway) cancelled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancels...)
}

func (g *fakeGateway) setCancelErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelErr = err
}

// ──────────────────────────────────────────────────────────────────────────────
// Publishers
// ──────────────────────────────────────────────────────────────────────────────

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.LeadershipChanged
}

func (n *fakeNotifier) NotifyLeadershipChanged(_ context.Context, ev domain.LeadershipChanged) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *fakeNotifier) all() []domain.LeadershipChanged {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.LeadershipChanged(nil), n.events...)
}

type fakePublisher struct {
	mu      sync.Mutex
	changes []domain.LotChange
}

func (p *fakePublisher) PublishLotChange(_ context.Context, ch domain.LotChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, ch)
	return nil
}

func (p *fakePublisher) all() []domain.LotChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.LotChange(nil), p.changes...)
}
