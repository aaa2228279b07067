package purchase

import (
	"context"
	"time"

	"github.com/ariefcatur/go-recycling-market/internal/market"
)

// Audit classifies every listing against its most recent purchase and
// replaces the stored anomaly report. It returns the anomalies found.
func (s *Service) Audit(ctx context.Context) ([]market.Anomaly, error) {
	pairs, err := s.Store.StatePairs(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []market.Anomaly
	for _, sp := range pairs {
		if market.Classify(sp.ListingStatus, sp.PaymentStatus) == market.Consistent {
			continue
		}
		out = append(out, market.Anomaly{
			ListingID:     sp.ListingID,
			PurchaseID:    sp.PurchaseID,
			ListingStatus: sp.ListingStatus,
			PaymentStatus: sp.PaymentStatus,
			DetectedAt:    now,
		})
	}
	if err := s.Store.ReplaceAnomalies(ctx, out); err != nil {
		return nil, err
	}
	if len(out) > 0 {
		s.Log.Warn("inconsistent listings", "count", len(out))
	}
	return out, nil
}

func (s *Service) RunAuditor(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if _, err := s.Audit(ctx); err != nil && ctx.Err() == nil {
				s.Log.Error("audit", "err", err)
			}
		}
	}
}
