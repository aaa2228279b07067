package purchase

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-recycling-market/internal/market"
)

// AdminOverride is an administrator's request to force a purchase and its
// listing into a given state.
type AdminOverride struct {
	PurchaseID    string
	Actor         string
	Reason        string
	ListingStatus *market.ListingStatus
	PaymentStatus *market.PaymentStatus
	ExpectListing *market.ListingStatus
	ExpectPayment *market.PaymentStatus
}

// AdminSetStatus writes the override atomically with an audit entry. It
// takes the same locks as ConfirmPayment, so neither can silently undo the
// other; Expect* turn it into a compare-and-set on what the admin saw.
func (s *Service) AdminSetStatus(ctx context.Context, o AdminOverride) (market.Purchase, error) {
	if o.Actor == "" {
		return market.Purchase{}, errors.New("override requires an actor")
	}
	if o.ListingStatus == nil && o.PaymentStatus == nil {
		return market.Purchase{}, fmt.Errorf("%w: nothing to change", market.ErrInvalidStateTransition)
	}
	p, entry, err := s.Store.Override(ctx, market.Override{
		PurchaseID:    o.PurchaseID,
		Actor:         o.Actor,
		Reason:        o.Reason,
		Listing:       o.ListingStatus,
		Payment:       o.PaymentStatus,
		ExpectListing: o.ExpectListing,
		ExpectPayment: o.ExpectPayment,
		Now:           s.now(),
	})
	if err != nil {
		return market.Purchase{}, err
	}
	if entry.ID == "" {
		return p, nil // no-op
	}
	s.Log.Warn("admin override",
		"purchase_id", p.ID, "actor", entry.Actor,
		"listing", string(entry.FromListing)+"->"+string(entry.ToListing),
		"payment", string(entry.FromPayment)+"->"+string(entry.ToPayment))
	s.changed(ctx, p)
	return p, nil
}

// DeleteAttempt removes a FAILED or REFUNDED purchase without touching the
// listing.
func (s *Service) DeleteAttempt(ctx context.Context, purchaseID string) error {
	if err := s.Store.DeleteAttempt(ctx, purchaseID); err != nil {
		return err
	}
	s.invalidate(ctx, purchaseID)
	s.Log.Info("purchase attempt deleted", "purchase_id", purchaseID)
	return nil
}

func (s *Service) AuditTrail(ctx context.Context, purchaseID string) ([]market.AuditEntry, error) {
	if _, err := s.Store.GetPurchase(ctx, purchaseID); err != nil && !errors.Is(err, market.ErrNotFound) {
		return nil, err
	}
	return s.Store.AuditTrail(ctx, purchaseID)
}

type AnomalyReport struct {
	Anomalies  []market.Anomaly  `json:"anomalies"`
	Mismatches []market.Mismatch `json:"mismatches"`
}

// Anomalies reads what the auditor last computed plus recorded mismatches.
func (s *Service) Anomalies(ctx context.Context, mismatchLimit int) (AnomalyReport, error) {
	as, err := s.Store.Anomalies(ctx)
	if err != nil {
		return AnomalyReport{}, err
	}
	ms, err := s.Store.Mismatches(ctx, mismatchLimit)
	if err != nil {
		return AnomalyReport{}, err
	}
	if as == nil {
		as = []market.Anomaly{}
	}
	if ms == nil {
		ms = []market.Mismatch{}
	}
	return AnomalyReport{Anomalies: as, Mismatches: ms}, nil
}
