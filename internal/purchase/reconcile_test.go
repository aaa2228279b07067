package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ariefcatur/go-recycling-market/internal/market"
	"github.com/ariefcatur/go-recycling-market/internal/payments"
)

func TestConfirmPaymentSucceeded(t *testing.T) {
	h := newHarness(t)
	in := h.intent(t)
	ref := "pi_" + in.PurchaseID

	p, err := h.svc.ConfirmPayment(context.Background(), ref, market.OutcomeSucceeded)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	h.assertPair(t, p.ID, market.ListingPurchased, market.PaymentCompleted)
	if market.FormatCents(p.PlatformFeeCents) != "40.00" || market.FormatCents(p.SellerAmountCents) != "160.00" {
		t.Fatalf("split = %s/%s, want 40.00/160.00",
			market.FormatCents(p.PlatformFeeCents), market.FormatCents(p.SellerAmountCents))
	}
	if !strings.HasPrefix(p.Folio, "REC-2025-") {
		t.Fatalf("folio = %q", p.Folio)
	}
	if p.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	h := newHarness(t)
	in := h.intent(t)
	ref := "pi_" + in.PurchaseID

	first, err := h.svc.ConfirmPayment(context.Background(), ref, market.OutcomeSucceeded)
	if err != nil {
		t.Fatal(err)
	}
	writes, published := h.store.Writes(), h.pub.count()

	second, err := h.svc.ConfirmPayment(context.Background(), ref, market.OutcomeSucceeded)
	if err != nil {
		t.Fatalf("second ConfirmPayment: %v", err)
	}
	if second.Folio != first.Folio || second.PaymentStatus != market.PaymentCompleted {
		t.Fatalf("second = %s %q, first folio %q", second.PaymentStatus, second.Folio, first.Folio)
	}
	if h.store.Writes() != writes {
		t.Fatalf("duplicate outcome wrote %d times", h.store.Writes()-writes)
	}
	if h.pub.count() != published {
		t.Fatal("duplicate outcome published an event")
	}
}

func TestConfirmPaymentNeverMovesBackward(t *testing.T) {
	h := newHarness(t)
	in := h.intent(t)
	ref := "pi_" + in.PurchaseID
	ctx := context.Background()

	if _, err := h.svc.ConfirmPayment(ctx, ref, market.OutcomeSucceeded); err != nil {
		t.Fatal(err)
	}
	p, err := h.svc.ConfirmPayment(ctx, ref, market.OutcomeRefunded)
	if err != nil {
		t.Fatal(err)
	}
	h.assertPair(t, p.ID, market.ListingAvailable, market.PaymentRefunded)
	folio := p.Folio
	writes := h.store.Writes()

	// late redelivery of the success
	p, err = h.svc.ConfirmPayment(ctx, ref, market.OutcomeSucceeded)
	if err != nil {
		t.Fatalf("stale outcome: %v", err)
	}
	h.assertPair(t, p.ID, market.ListingAvailable, market.PaymentRefunded)
	if p.Folio != folio || h.store.Writes() != writes {
		t.Fatal("stale outcome changed state")
	}
}

func TestConfirmPaymentConflicts(t *testing.T) {
	cases := []struct {
		name  string
		first market.Outcome // "" leaves the purchase PENDING
		then  market.Outcome
		wantL market.ListingStatus
		wantP market.PaymentStatus
	}{
		{"succeeded after failed", market.OutcomeFailed, market.OutcomeSucceeded, market.ListingAvailable, market.PaymentFailed},
		{"failed after succeeded", market.OutcomeSucceeded, market.OutcomeFailed, market.ListingPurchased, market.PaymentCompleted},
		{"refunded while pending", "", market.OutcomeRefunded, market.ListingPending, market.PaymentPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			in := h.intent(t)
			ref := "pi_" + in.PurchaseID
			ctx := context.Background()
			if tc.first != "" {
				if _, err := h.svc.ConfirmPayment(ctx, ref, tc.first); err != nil {
					t.Fatal(err)
				}
			}

			_, err := h.svc.ConfirmPayment(ctx, ref, tc.then)
			if !errors.Is(err, market.ErrReconciliationMismatch) {
				t.Fatalf("err = %v, want ErrReconciliationMismatch", err)
			}
			h.assertPair(t, in.PurchaseID, tc.wantL, tc.wantP)

			ms, _ := h.store.Mismatches(ctx, 10)
			if len(ms) != 1 || ms[0].PurchaseID != in.PurchaseID || ms[0].Outcome != tc.then {
				t.Fatalf("mismatches = %+v", ms)
			}
		})
	}
}

func TestConfirmPaymentUnknownReference(t *testing.T) {
	h := newHarness(t)
	in := h.intent(t)
	ctx := context.Background()
	before, _ := h.store.GetPurchase(ctx, in.PurchaseID)

	for _, o := range []market.Outcome{market.OutcomeSucceeded, market.OutcomeProcessing} {
		_, err := h.svc.ConfirmPayment(ctx, "pi_unknown", o)
		if !errors.Is(err, market.ErrReconciliationMismatch) {
			t.Fatalf("%s: err = %v, want ErrReconciliationMismatch", o, err)
		}
	}

	after, _ := h.store.GetPurchase(ctx, in.PurchaseID)
	if after.PaymentStatus != before.PaymentStatus || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatal("unrelated purchase mutated")
	}
	h.assertPair(t, in.PurchaseID, market.ListingPending, market.PaymentPending)

	ms, _ := h.store.Mismatches(ctx, 10)
	if len(ms) != 2 || ms[0].ProcessorRef != "pi_unknown" || ms[0].PurchaseID != "" {
		t.Fatalf("mismatches = %+v", ms)
	}
}

func TestConfirmPaymentProcessingIsNoop(t *testing.T) {
	h := newHarness(t)
	in := h.intent(t)
	writes := h.store.Writes()

	p, err := h.svc.ConfirmPayment(context.Background(), "pi_"+in.PurchaseID, market.OutcomeProcessing)
	if err != nil {
		t.Fatal(err)
	}
	if p.PaymentStatus != market.PaymentPending || h.store.Writes() != writes {
		t.Fatal("processing outcome changed state")
	}
}

func TestConfirmPaymentRejectsUnknownOutcome(t *testing.T) {
	h := newHarness(t)
	in := h.intent(t)
	_, err := h.svc.ConfirmPayment(context.Background(), "pi_"+in.PurchaseID, market.Outcome("chargeback"))
	if !errors.Is(err, market.ErrInvalidStateTransition) {
		t.Fatalf("err = %v, want ErrInvalidStateTransition", err)
	}
}

func TestConfirmPaymentConcurrentDeliveries(t *testing.T) {
	h := newHarness(t)
	in := h.intent(t)
	ref := "pi_" + in.PurchaseID
	published := h.pub.count()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.ConfirmPayment(context.Background(), ref, market.OutcomeSucceeded); err != nil {
				t.Errorf("ConfirmPayment: %v", err)
			}
		}()
	}
	wg.Wait()

	h.assertPair(t, in.PurchaseID, market.ListingPurchased, market.PaymentCompleted)
	if got := h.pub.count() - published; got != 1 {
		t.Fatalf("published %d finalized events, want 1", got)
	}
}

func TestFoliosAreUnique(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const n = 25
	for i := 0; i < n; i++ {
		h.store.AddListing(market.Listing{ID: fmt.Sprintf("m%d", i), OwnerID: "s1", Category: market.CategoryPET, Quantity: int64(i + 1)})
	}

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		in, err := h.svc.CreatePurchaseIntent(ctx, fmt.Sprintf("m%d", i), "buyer-1", market.PurchaseDetails{})
		if err != nil {
			t.Fatal(err)
		}
		p, err := h.svc.ConfirmPayment(ctx, "pi_"+in.PurchaseID, market.OutcomeSucceeded)
		if err != nil {
			t.Fatal(err)
		}
		if p.Folio == "" || seen[p.Folio] {
			t.Fatalf("folio %q empty or reused", p.Folio)
		}
		seen[p.Folio] = true
	}
}

func TestConfirmPaymentFailedCancelsAuthorization(t *testing.T) {
	ctx := context.Background()

	t.Run("canceled before the listing is released", func(t *testing.T) {
		h := newHarness(t)
		in := h.intent(t)
		ref := "pi_" + in.PurchaseID

		if _, err := h.svc.ConfirmPayment(ctx, ref, market.OutcomeFailed); err != nil {
			t.Fatal(err)
		}
		if len(h.proc.canceled) != 1 || h.proc.canceled[0] != ref {
			t.Fatalf("canceled = %v, want [%s]", h.proc.canceled, ref)
		}
		h.assertPair(t, in.PurchaseID, market.ListingAvailable, market.PaymentFailed)

		// duplicate failed outcome does not cancel again
		if _, err := h.svc.ConfirmPayment(ctx, ref, market.OutcomeFailed); err != nil {
			t.Fatal(err)
		}
		if len(h.proc.canceled) != 1 {
			t.Fatalf("canceled = %v after duplicate", h.proc.canceled)
		}
	})

	t.Run("not cancelable keeps the reservation", func(t *testing.T) {
		h := newHarness(t)
		in := h.intent(t)
		ref := "pi_" + in.PurchaseID
		h.proc.cancelErr = payments.ErrNotCancelable

		_, err := h.svc.ConfirmPayment(ctx, ref, market.OutcomeFailed)
		if !errors.Is(err, market.ErrReconciliationMismatch) {
			t.Fatalf("err = %v, want ErrReconciliationMismatch", err)
		}
		h.assertPair(t, in.PurchaseID, market.ListingPending, market.PaymentPending)
		ms, _ := h.store.Mismatches(ctx, 10)
		if len(ms) != 1 || ms[0].PurchaseID != in.PurchaseID || ms[0].Outcome != market.OutcomeFailed {
			t.Fatalf("mismatches = %+v", ms)
		}
		if _, err := h.svc.Reserve(ctx, "l1", "buyer-2", market.PurchaseDetails{}); !errors.Is(err, market.ErrReservationConflict) {
			t.Fatalf("second buyer err = %v, want ErrReservationConflict", err)
		}

		// the payment that moved on still completes the purchase
		if _, err := h.svc.ConfirmPayment(ctx, ref, market.OutcomeSucceeded); err != nil {
			t.Fatal(err)
		}
		h.assertPair(t, in.PurchaseID, market.ListingPurchased, market.PaymentCompleted)
	})

	t.Run("transport error is returned for retry", func(t *testing.T) {
		h := newHarness(t)
		in := h.intent(t)
		ref := "pi_" + in.PurchaseID
		h.proc.cancelErr = errors.New("connection reset")

		_, err := h.svc.ConfirmPayment(ctx, ref, market.OutcomeFailed)
		if err == nil || errors.Is(err, market.ErrReconciliationMismatch) {
			t.Fatalf("err = %v, want a retryable error", err)
		}
		h.assertPair(t, in.PurchaseID, market.ListingPending, market.PaymentPending)

		h.proc.cancelErr = nil
		if _, err := h.svc.ConfirmPayment(ctx, ref, market.OutcomeFailed); err != nil {
			t.Fatal(err)
		}
		h.assertPair(t, in.PurchaseID, market.ListingAvailable, market.PaymentFailed)
	})
}
