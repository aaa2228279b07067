package purchase

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/go-recycling-market/internal/market"
	"github.com/ariefcatur/go-recycling-market/internal/payments"
)

const sweepBatch = 100

// SweepStale releases reservations that stayed PENDING longer than ttl. The
// authorization is canceled at the processor first; a purchase whose
// authorization cannot be canceled is left for the outcome that is already
// on its way.
func (s *Service) SweepStale(ctx context.Context, ttl time.Duration) (int, error) {
	stale, err := s.Store.StalePending(ctx, s.now().Add(-ttl), sweepBatch)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, p := range stale {
		if ctx.Err() != nil {
			return released, ctx.Err()
		}
		if p.ProcessorRef != "" {
			if err := s.Processor.CancelAuthorization(ctx, p.ProcessorRef); err != nil {
				if errors.Is(err, payments.ErrNotCancelable) {
					s.Log.Info("stale purchase not cancelable, waiting for outcome", "purchase_id", p.ID, "processor_ref", p.ProcessorRef)
				} else {
					s.Log.Warn("cancel authorization", "purchase_id", p.ID, "processor_ref", p.ProcessorRef, "err", err)
				}
				continue
			}
		}
		got, d, err := s.Store.Apply(ctx, market.PurchaseRef{ID: p.ID}, market.Fail, s.now())
		if err != nil {
			s.Log.Error("release stale purchase", "purchase_id", p.ID, "err", err)
			continue
		}
		if d == market.DecisionApply {
			released++
			s.changed(ctx, got)
			s.Log.Info("stale reservation released", "purchase_id", p.ID, "listing_id", p.ListingID)
		}
	}
	return released, nil
}

// RunSweeper calls SweepStale every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n, err := s.SweepStale(ctx, ttl); err != nil && ctx.Err() == nil {
				s.Log.Error("sweep", "err", err)
			} else if n > 0 {
				s.Log.Info("sweep done", "released", n)
			}
		}
	}
}
