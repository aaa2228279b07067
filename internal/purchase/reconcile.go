package purchase

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-recycling-market/internal/market"
	"github.com/ariefcatur/go-recycling-market/internal/payments"
)

// ConfirmPayment applies a processor outcome to the purchase holding
// processorRef. Deliveries are at-least-once and unordered:
//
//   - a duplicate of an applied outcome returns the purchase unchanged;
//   - an outcome the purchase has already moved past is ignored;
//   - a failed outcome cancels the authorization before the listing is
//     released;
//   - an outcome that contradicts the current state, or a reference no
//     purchase holds, is recorded as a mismatch and returns
//     ErrReconciliationMismatch.
func (s *Service) ConfirmPayment(ctx context.Context, processorRef string, outcome market.Outcome) (market.Purchase, error) {
	log := s.Log.With("processor_ref", processorRef, "outcome", string(outcome))

	if !outcome.Valid() {
		return market.Purchase{}, fmt.Errorf("%w: unknown outcome %q", market.ErrInvalidStateTransition, outcome)
	}
	t, ok := market.TransitionFor(outcome)
	if !ok {
		// processing: tidak ada transisi, cukup pastikan purchase-nya ada
		p, err := s.Store.FindByProcessorRef(ctx, processorRef)
		if errors.Is(err, market.ErrNotFound) {
			return market.Purchase{}, s.mismatch(ctx, processorRef, outcome, "", "unknown processor reference")
		}
		if err == nil {
			log.Debug("outcome ignored", "purchase_id", p.ID, "payment_status", string(p.PaymentStatus))
		}
		return p, err
	}

	if t == market.Fail {
		if p, err := s.cancelBeforeFail(ctx, processorRef, outcome); err != nil {
			return p, err
		}
	}

	p, d, err := s.Store.Apply(ctx, market.PurchaseRef{ProcessorRef: processorRef}, t, s.now())
	if errors.Is(err, market.ErrNotFound) {
		return market.Purchase{}, s.mismatch(ctx, processorRef, outcome, "", "unknown processor reference")
	}
	if err != nil {
		return market.Purchase{}, fmt.Errorf("apply %s: %w", t, err)
	}

	log = log.With("purchase_id", p.ID, "payment_status", string(p.PaymentStatus))
	switch d {
	case market.DecisionApply:
		log.Info("payment reconciled", "transition", t.String(), "folio", p.Folio)
		s.changed(ctx, p)
	case market.DecisionDuplicate:
		log.Debug("duplicate outcome")
	case market.DecisionStale:
		log.Debug("stale outcome ignored")
	case market.DecisionConflict:
		reason := fmt.Sprintf("%s outcome on %s purchase", outcome, p.PaymentStatus)
		return p, s.mismatch(ctx, processorRef, outcome, p.ID, reason)
	}
	return p, nil
}

// cancelBeforeFail voids the authorization of a PENDING purchase before a
// failed outcome releases its listing. A failed authorization can still be
// retried by the buyer with another payment method, so it must be dead
// before the listing is sold again. If the processor refuses the cancel the
// payment has moved on: the purchase stays PENDING and the outcome is
// recorded as a mismatch.
func (s *Service) cancelBeforeFail(ctx context.Context, processorRef string, outcome market.Outcome) (market.Purchase, error) {
	p, err := s.Store.FindByProcessorRef(ctx, processorRef)
	if errors.Is(err, market.ErrNotFound) {
		return market.Purchase{}, nil // Apply mencatat mismatch-nya
	}
	if err != nil {
		return market.Purchase{}, fmt.Errorf("find %s: %w", processorRef, err)
	}
	if p.PaymentStatus != market.PaymentPending {
		return p, nil
	}
	err = s.Processor.CancelAuthorization(ctx, processorRef)
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, payments.ErrNotCancelable):
		return p, s.mismatch(ctx, processorRef, outcome, p.ID, "failed outcome but authorization can no longer be canceled")
	}
	return p, fmt.Errorf("cancel authorization %s: %w", processorRef, err)
}

// mismatch records an outcome that could not be applied so the auditor and
// administrators see it. The returned error always wraps
// ErrReconciliationMismatch, or the storage error if recording failed.
func (s *Service) mismatch(ctx context.Context, processorRef string, outcome market.Outcome, purchaseID, reason string) error {
	s.Log.Error("reconciliation mismatch",
		"processor_ref", processorRef, "outcome", string(outcome), "purchase_id", purchaseID, "reason", reason)
	err := s.Store.RecordMismatch(ctx, market.Mismatch{
		ProcessorRef: processorRef,
		Outcome:      outcome,
		PurchaseID:   purchaseID,
		Reason:       reason,
		DetectedAt:   s.now(),
	})
	if err != nil {
		return fmt.Errorf("record mismatch: %w", err)
	}
	return fmt.Errorf("%w: %s (%s)", market.ErrReconciliationMismatch, reason, processorRef)
}
