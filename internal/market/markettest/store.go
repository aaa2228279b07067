// Package markettest provides an in-memory market.Store for tests. A single
// mutex stands in for the row locks of the Postgres implementation.
package markettest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-recycling-market/internal/market"
	"github.com/google/uuid"
)

type Store struct {
	mu         sync.Mutex
	listings   map[string]market.Listing
	purchases  map[string]market.Purchase
	order      []string // purchase ids in creation order
	audit      []market.AuditEntry
	mismatches []market.Mismatch
	anomalies  []market.Anomaly
	folioSeq   int64
	writes     int

	// Err, when set, is returned by every method.
	Err error
}

var _ market.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		listings:  map[string]market.Listing{},
		purchases: map[string]market.Purchase{},
	}
}

// AddListing seeds a listing. An empty status means AVAILABLE.
func (s *Store) AddListing(l market.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.Status == "" {
		l.Status = market.ListingAvailable
	}
	s.listings[l.ID] = l
}

// Listing returns the stored listing, zero if absent.
func (s *Store) Listing(id string) market.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listings[id]
}

// SetListingStatus writes a listing status directly, bypassing every rule.
func (s *Store) SetListingStatus(id string, st market.ListingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.listings[id]
	l.Status = st
	s.listings[id] = l
}

// PutPurchase stores p as-is, bypassing every rule.
func (s *Store) PutPurchase(p market.Purchase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.purchases[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.purchases[p.ID] = p
}

// Writes counts committed mutations.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) Reserve(ctx context.Context, p market.ReserveParams) (market.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return market.Purchase{}, s.Err
	}
	l, ok := s.listings[p.ListingID]
	if !ok {
		return market.Purchase{}, market.ErrListingNotFound
	}
	if l.Status != market.ListingAvailable || s.openLocked(l.ID, "") > 0 {
		return market.Purchase{}, market.ErrReservationConflict
	}
	total, err := p.Prices.Total(l.Category, l.Quantity)
	if err != nil {
		return market.Purchase{}, err
	}

	l.Status = market.ListingPending
	l.UpdatedAt = p.Now
	s.listings[l.ID] = l
	pur := market.Purchase{
		ID:            uuid.NewString(),
		ListingID:     l.ID,
		BuyerID:       p.BuyerID,
		TotalCents:    total,
		Currency:      p.Currency,
		PaymentStatus: market.PaymentPending,
		Details:       p.Details,
		CreatedAt:     p.Now,
		UpdatedAt:     p.Now,
	}
	s.purchases[pur.ID] = pur
	s.order = append(s.order, pur.ID)
	s.writes++
	return pur, nil
}

func (s *Store) AttachAuthorization(ctx context.Context, purchaseID, processorRef string, split market.FeeSplit) (market.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return market.Purchase{}, s.Err
	}
	p, ok := s.purchases[purchaseID]
	if !ok {
		return market.Purchase{}, market.ErrNotFound
	}
	if p.PaymentStatus != market.PaymentPending || (p.ProcessorRef != "" && p.ProcessorRef != processorRef) {
		return market.Purchase{}, fmt.Errorf("%w: purchase %s is not awaiting authorization", market.ErrInvalidStateTransition, purchaseID)
	}
	for id, other := range s.purchases {
		if id != purchaseID && other.ProcessorRef == processorRef {
			return market.Purchase{}, fmt.Errorf("processor ref %s already attached to %s", processorRef, id)
		}
	}
	p.ProcessorRef = processorRef
	p.PlatformFeeCents = split.PlatformFeeCents
	p.SellerAmountCents = split.SellerAmountCents
	s.purchases[purchaseID] = p
	s.writes++
	return p, nil
}

func (s *Store) Apply(ctx context.Context, ref market.PurchaseRef, t market.Transition, now time.Time) (market.Purchase, market.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return market.Purchase{}, market.DecisionConflict, s.Err
	}
	if !t.Defined() {
		return market.Purchase{}, market.DecisionConflict, market.ErrInvalidStateTransition
	}
	cur, ok := s.findLocked(ref)
	if !ok {
		return market.Purchase{}, market.DecisionConflict, market.ErrNotFound
	}
	if d := market.Decide(cur.PaymentStatus, t); d != market.DecisionApply {
		return cur, d, nil
	}
	l, ok := s.listings[cur.ListingID]
	if !ok {
		return market.Purchase{}, market.DecisionConflict, market.ErrListingNotFound
	}

	next := cur
	next.PaymentStatus = t.To()
	next.UpdatedAt = now
	if t.To() == market.PaymentCompleted {
		s.completeLocked(&next, now)
	}
	l.Status = t.Listing()
	l.UpdatedAt = now
	s.listings[l.ID] = l
	s.purchases[next.ID] = next
	s.writes++
	return next, market.DecisionApply, nil
}

func (s *Store) GetPurchase(ctx context.Context, id string) (market.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return market.Purchase{}, s.Err
	}
	p, ok := s.purchases[id]
	if !ok {
		return market.Purchase{}, market.ErrNotFound
	}
	return p, nil
}

func (s *Store) FindByProcessorRef(ctx context.Context, processorRef string) (market.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return market.Purchase{}, s.Err
	}
	p, ok := s.findLocked(market.PurchaseRef{ProcessorRef: processorRef})
	if !ok {
		return market.Purchase{}, market.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetListing(ctx context.Context, id string) (market.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return market.Listing{}, s.Err
	}
	l, ok := s.listings[id]
	if !ok {
		return market.Listing{}, market.ErrListingNotFound
	}
	return l, nil
}

func (s *Store) Override(ctx context.Context, o market.Override) (market.Purchase, market.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return market.Purchase{}, market.AuditEntry{}, s.Err
	}
	cur, ok := s.purchases[o.PurchaseID]
	if !ok {
		return market.Purchase{}, market.AuditEntry{}, market.ErrNotFound
	}
	l := s.listings[cur.ListingID]
	next, entry, changed, err := market.PlanOverride(cur, l.Status, o)
	if err != nil || !changed {
		return cur, market.AuditEntry{}, err
	}
	if next.PaymentStatus.Open() && !cur.PaymentStatus.Open() && s.openLocked(cur.ListingID, cur.ID) > 0 {
		return market.Purchase{}, market.AuditEntry{}, fmt.Errorf("%w: listing %s already has an open purchase", market.ErrInvalidStateTransition, cur.ListingID)
	}
	if next.PaymentStatus == market.PaymentCompleted {
		s.completeLocked(&next, o.Now)
	}
	l.Status = entry.ToListing
	l.UpdatedAt = o.Now
	s.listings[l.ID] = l
	s.purchases[next.ID] = next
	s.audit = append(s.audit, entry)
	s.writes++
	return next, entry, nil
}

func (s *Store) DeleteAttempt(ctx context.Context, purchaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	p, ok := s.purchases[purchaseID]
	if !ok {
		return market.ErrNotFound
	}
	l := s.listings[p.ListingID]
	if err := market.CheckDeletable(p, l.Status, s.openLocked(p.ListingID, p.ID)); err != nil {
		return err
	}
	delete(s.purchases, purchaseID)
	for i, id := range s.order {
		if id == purchaseID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.writes++
	return nil
}

func (s *Store) AuditTrail(ctx context.Context, purchaseID string) ([]market.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []market.AuditEntry
	for _, e := range s.audit {
		if e.PurchaseID == purchaseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) RecordMismatch(ctx context.Context, m market.Mismatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	s.mismatches = append(s.mismatches, m)
	s.writes++
	return nil
}

func (s *Store) Mismatches(ctx context.Context, limit int) ([]market.Mismatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]market.Mismatch, 0, len(s.mismatches))
	for i := len(s.mismatches) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.mismatches[i])
	}
	return out, nil
}

func (s *Store) StalePending(ctx context.Context, createdBefore time.Time, limit int) ([]market.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []market.Purchase
	for _, id := range s.order {
		p := s.purchases[id]
		if p.PaymentStatus == market.PaymentPending && p.CreatedAt.Before(createdBefore) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) StatePairs(ctx context.Context) ([]market.StatePair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	latest := map[string]market.Purchase{}
	for _, id := range s.order {
		p := s.purchases[id]
		latest[p.ListingID] = p
	}
	out := make([]market.StatePair, 0, len(s.listings))
	for id, l := range s.listings {
		sp := market.StatePair{ListingID: id, ListingStatus: l.Status}
		if p, ok := latest[id]; ok {
			sp.PurchaseID, sp.PaymentStatus = p.ID, p.PaymentStatus
		}
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ListingID < out[j].ListingID })
	return out, nil
}

func (s *Store) ReplaceAnomalies(ctx context.Context, as []market.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.anomalies = append([]market.Anomaly(nil), as...)
	return nil
}

func (s *Store) Anomalies(ctx context.Context) ([]market.Anomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]market.Anomaly(nil), s.anomalies...), nil
}

func (s *Store) findLocked(ref market.PurchaseRef) (market.Purchase, bool) {
	if ref.ID != "" {
		p, ok := s.purchases[ref.ID]
		return p, ok
	}
	for _, p := range s.purchases {
		if ref.ProcessorRef != "" && p.ProcessorRef == ref.ProcessorRef {
			return p, true
		}
	}
	return market.Purchase{}, false
}

// openLocked counts PENDING/COMPLETED purchases on a listing, excluding one id.
func (s *Store) openLocked(listingID, exclude string) int {
	n := 0
	for id, p := range s.purchases {
		if id != exclude && p.ListingID == listingID && p.PaymentStatus.Open() {
			n++
		}
	}
	return n
}

func (s *Store) completeLocked(p *market.Purchase, now time.Time) {
	if p.Folio == "" {
		s.folioSeq++
		p.Folio = market.FormatFolio(s.folioSeq, now)
	}
	if p.CompletedAt == nil {
		p.CompletedAt = &now
	}
}
