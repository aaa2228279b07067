package purchase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ariefcatur/go-recycling-market/internal/market"
	"github.com/ariefcatur/go-recycling-market/internal/payments"
)

func TestCreatePurchaseIntentReservesAndSplits(t *testing.T) {
	h := newHarness(t)
	in := h.intent(t)

	if in.TotalCents != 20000 || in.PlatformFeeCents != 4000 || in.SellerAmountCents != 16000 {
		t.Fatalf("split = %+v, want 20000/4000/16000", in.FeeSplit)
	}
	if in.ClientToken != "secret_"+in.PurchaseID {
		t.Errorf("client token = %q", in.ClientToken)
	}
	h.assertPair(t, in.PurchaseID, market.ListingPending, market.PaymentPending)

	p, _ := h.svc.GetPurchase(context.Background(), in.PurchaseID)
	if p.ProcessorRef != "pi_"+in.PurchaseID {
		t.Errorf("processor ref = %q", p.ProcessorRef)
	}
	if p.PlatformFeeCents != 4000 || p.SellerAmountCents != 16000 {
		t.Errorf("stored split = %d/%d", p.PlatformFeeCents, p.SellerAmountCents)
	}

	req := h.proc.created[0]
	if req.AmountCents != 20000 || req.ApplicationFeeCents != 4000 || req.DestinationAccount != "acct_1" || req.Currency != "mxn" {
		t.Errorf("authorization request = %+v", req)
	}
}

func TestReserveConcurrentExactlyOneWins(t *testing.T) {
	h := newHarness(t)
	const n = 32

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.Reserve(context.Background(), "l1", fmt.Sprintf("buyer-%d", i), market.PurchaseDetails{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, market.ErrReservationConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != n-1 {
		t.Fatalf("wins=%d conflicts=%d, want 1 and %d", wins, conflicts, n-1)
	}
	if got := h.store.Listing("l1").Status; got != market.ListingPending {
		t.Fatalf("listing = %s, want PENDING", got)
	}
}

func TestReserveRejectsUnavailableListing(t *testing.T) {
	h := newHarness(t)
	h.store.SetListingStatus("l1", market.ListingPurchased)
	before := h.store.Writes()

	_, err := h.svc.Reserve(context.Background(), "l1", "buyer-1", market.PurchaseDetails{})
	if !errors.Is(err, market.ErrReservationConflict) {
		t.Fatalf("err = %v, want ErrReservationConflict", err)
	}
	if h.store.Writes() != before {
		t.Fatal("failed reservation wrote state")
	}
}

func TestCreatePurchaseIntentReleasesOnFailure(t *testing.T) {
	declined := fmt.Errorf("%w: card_declined", market.ErrAuthorizationDeclined)
	cases := []struct {
		name    string
		setup   func(h *harness)
		wantErr error
	}{
		{
			name: "charges disabled",
			setup: func(h *harness) {
				a := h.reg["s1"]
				a.CanAcceptCharges = false
				h.reg["s1"] = a
			},
			wantErr: market.ErrPayoutAccountNotReady,
		},
		{
			name:    "no payout account",
			setup:   func(h *harness) { delete(h.reg, "s1") },
			wantErr: market.ErrPayoutAccountNotReady,
		},
		{
			name:    "declined",
			setup:   func(h *harness) { h.proc.err = declined },
			wantErr: market.ErrAuthorizationDeclined,
		},
		{
			name:  "transport",
			setup: func(h *harness) { h.proc.err = errors.New("connection reset") },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h)

			_, err := h.svc.CreatePurchaseIntent(context.Background(), "l1", "buyer-1", market.PurchaseDetails{})
			if err == nil {
				t.Fatal("expected an error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}

			if got := h.store.Listing("l1").Status; got != market.ListingAvailable {
				t.Fatalf("listing = %s, want AVAILABLE", got)
			}
			pairs, _ := h.store.StatePairs(context.Background())
			if pairs[0].PaymentStatus != market.PaymentFailed {
				t.Fatalf("purchase = %s, want FAILED", pairs[0].PaymentStatus)
			}

			// the listing can be bought again
			h.proc.err = nil
			h.reg["s1"] = market.PayoutAccount{SellerID: "s1", ExternalRef: "acct_1", CanAcceptCharges: true, CanReceivePayouts: true}
			h.intent(t)
		})
	}
}

func TestCreatePurchaseIntentUnknownListing(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CreatePurchaseIntent(context.Background(), "nope", "buyer-1", market.PurchaseDetails{})
	if !errors.Is(err, market.ErrListingNotFound) {
		t.Fatalf("err = %v, want ErrListingNotFound", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	p, err := h.svc.Reserve(context.Background(), "l1", "buyer-1", market.PurchaseDetails{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := h.svc.Release(context.Background(), p.ID); err != nil {
			t.Fatalf("Release #%d: %v", i+1, err)
		}
	}
	h.assertPair(t, p.ID, market.ListingAvailable, market.PaymentFailed)
	if h.pub.count() != 1 {
		t.Fatalf("published %d events, want 1", h.pub.count())
	}
}

type failingAttach struct{ market.Store }

func (failingAttach) AttachAuthorization(ctx context.Context, purchaseID, processorRef string, split market.FeeSplit) (market.Purchase, error) {
	return market.Purchase{}, errors.New("db down")
}

func TestCreatePurchaseIntentAttachFailure(t *testing.T) {
	h := newHarness(t)
	h.svc.Store = failingAttach{h.store}

	if _, err := h.svc.CreatePurchaseIntent(context.Background(), "l1", "buyer-1", market.PurchaseDetails{}); err == nil {
		t.Fatal("expected an error")
	}
	if len(h.proc.created) != 1 {
		t.Fatalf("authorizations created = %d", len(h.proc.created))
	}
	id := h.proc.created[0].PurchaseID
	if len(h.proc.canceled) != 1 || h.proc.canceled[0] != "pi_"+id {
		t.Fatalf("canceled = %v, want [pi_%s]", h.proc.canceled, id)
	}
	h.assertPair(t, id, market.ListingAvailable, market.PaymentFailed)
}

func TestReleaseCancelsAuthorization(t *testing.T) {
	ctx := context.Background()

	t.Run("live authorization", func(t *testing.T) {
		h := newHarness(t)
		in := h.intent(t)
		if _, err := h.svc.Release(ctx, in.PurchaseID); err != nil {
			t.Fatal(err)
		}
		if len(h.proc.canceled) != 1 || h.proc.canceled[0] != "pi_"+in.PurchaseID {
			t.Fatalf("canceled = %v", h.proc.canceled)
		}
		h.assertPair(t, in.PurchaseID, market.ListingAvailable, market.PaymentFailed)
	})

	t.Run("not cancelable", func(t *testing.T) {
		h := newHarness(t)
		in := h.intent(t)
		h.proc.cancelErr = payments.ErrNotCancelable
		_, err := h.svc.Release(ctx, in.PurchaseID)
		if !errors.Is(err, market.ErrInvalidStateTransition) {
			t.Fatalf("err = %v, want ErrInvalidStateTransition", err)
		}
		h.assertPair(t, in.PurchaseID, market.ListingPending, market.PaymentPending)
	})
}
