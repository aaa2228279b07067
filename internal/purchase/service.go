// Package purchase is the reservation and payment reconciliation core. It
// reserves listings, asks the processor for a split authorization, applies
// asynchronous payment outcomes and serves the administrative corrections.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkax "github.com/ariefcatur/go-recycling-market/internal/kafka"
	"github.com/ariefcatur/go-recycling-market/internal/market"
	"github.com/ariefcatur/go-recycling-market/internal/payments"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

type PayoutRegistry interface {
	GetPayoutAccount(ctx context.Context, sellerID string) (market.PayoutAccount, error)
}

// Publisher hands an event to the broker. A nil error means the event is
// either written or queued, depending on the implementation.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

// StatusCache is told whenever a purchase changes so stale reads expire.
type StatusCache interface {
	Invalidate(ctx context.Context, purchaseID string)
}

type Service struct {
	Store      market.Store
	Registry   PayoutRegistry
	Processor  payments.Processor
	Events     Publisher   // purchase.finalized; optional
	Cache      StatusCache // optional
	Prices     market.PriceTable
	Commission decimal.Decimal
	Currency   string
	Name       string
	Log        *slog.Logger
	Now        func() time.Time
}

// Intent is what a buyer needs to complete payment on the client.
type Intent struct {
	PurchaseID  string `json:"purchase_id"`
	ClientToken string `json:"client_token"`
	Currency    string `json:"currency"`
	market.FeeSplit
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Reserve takes an AVAILABLE listing for buyerID. Of any number of
// concurrent calls on one listing exactly one succeeds.
func (s *Service) Reserve(ctx context.Context, listingID, buyerID string, details market.PurchaseDetails) (market.Purchase, error) {
	return s.Store.Reserve(ctx, market.ReserveParams{
		ListingID: listingID,
		BuyerID:   buyerID,
		Details:   details,
		Prices:    s.Prices,
		Currency:  s.Currency,
		Now:       s.now(),
	})
}

// Release gives the listing back and fails the purchase. A live
// authorization is canceled at the processor first; one that can no longer
// be canceled keeps the reservation.
func (s *Service) Release(ctx context.Context, purchaseID string) (market.Purchase, error) {
	cur, err := s.Store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return market.Purchase{}, fmt.Errorf("release %s: %w", purchaseID, err)
	}
	if cur.PaymentStatus == market.PaymentPending && cur.ProcessorRef != "" {
		err := s.Processor.CancelAuthorization(ctx, cur.ProcessorRef)
		if errors.Is(err, payments.ErrNotCancelable) {
			return cur, fmt.Errorf("%w: authorization %s can no longer be canceled", market.ErrInvalidStateTransition, cur.ProcessorRef)
		}
		if err != nil {
			return cur, fmt.Errorf("release %s: cancel authorization: %w", purchaseID, err)
		}
	}

	p, d, err := s.Store.Apply(ctx, market.PurchaseRef{ID: purchaseID}, market.Fail, s.now())
	if err != nil {
		return market.Purchase{}, fmt.Errorf("release %s: %w", purchaseID, err)
	}
	switch d {
	case market.DecisionApply:
		s.changed(ctx, p)
	case market.DecisionStale, market.DecisionConflict:
		return p, fmt.Errorf("%w: cannot release a %s purchase", market.ErrInvalidStateTransition, p.PaymentStatus)
	}
	return p, nil
}

// Authorize asks the processor to charge the buyer, route the seller's share
// to acct and keep the platform fee. The purchase stays PENDING; only the
// processor reference and the split are recorded.
func (s *Service) Authorize(ctx context.Context, p market.Purchase, acct market.PayoutAccount) (Intent, error) {
	if !acct.Ready() {
		s.compensate(ctx, p.ID, "payout account not ready")
		return Intent{}, market.ErrPayoutAccountNotReady
	}
	split, err := market.Split(p.TotalCents, s.Commission)
	if err != nil {
		s.compensate(ctx, p.ID, "fee split")
		return Intent{}, err
	}

	// listing sudah PENDING di DB; panggilan network ini tidak memegang lock apa pun
	auth, err := s.Processor.CreateAuthorization(ctx, payments.AuthorizationRequest{
		PurchaseID:          p.ID,
		ListingID:           p.ListingID,
		AmountCents:         split.TotalCents,
		ApplicationFeeCents: split.PlatformFeeCents,
		Currency:            p.Currency,
		DestinationAccount:  acct.ExternalRef,
	})
	if err != nil {
		s.compensate(ctx, p.ID, "authorization")
		if errors.Is(err, market.ErrAuthorizationDeclined) {
			return Intent{}, err
		}
		return Intent{}, fmt.Errorf("create authorization: %w", err)
	}

	if _, err := s.Store.AttachAuthorization(ctx, p.ID, auth.ProcessorRef, split); err != nil {
		// token belum pernah sampai ke buyer, jadi authorization-nya aman dibatalkan
		if cerr := s.Processor.CancelAuthorization(ctx, auth.ProcessorRef); cerr != nil {
			s.Log.Error("cancel unattached authorization", "purchase_id", p.ID, "processor_ref", auth.ProcessorRef, "err", cerr)
		}
		s.compensate(ctx, p.ID, "attach authorization")
		return Intent{}, fmt.Errorf("attach authorization: %w", err)
	}
	s.invalidate(ctx, p.ID)
	return Intent{PurchaseID: p.ID, ClientToken: auth.ClientToken, Currency: p.Currency, FeeSplit: split}, nil
}

// CreatePurchaseIntent reserves the listing and requests the authorization.
// Every failure after the reservation releases the listing again.
func (s *Service) CreatePurchaseIntent(ctx context.Context, listingID, buyerID string, details market.PurchaseDetails) (Intent, error) {
	l, err := s.Store.GetListing(ctx, listingID)
	if err != nil {
		return Intent{}, err
	}
	p, err := s.Reserve(ctx, listingID, buyerID, details)
	if err != nil {
		return Intent{}, err
	}
	s.Log.Info("listing reserved", "purchase_id", p.ID, "listing_id", listingID, "total", market.FormatCents(p.TotalCents))

	acct, err := s.Registry.GetPayoutAccount(ctx, l.OwnerID)
	if err != nil {
		s.compensate(ctx, p.ID, "payout registry")
		return Intent{}, fmt.Errorf("payout account: %w", err)
	}
	return s.Authorize(ctx, p, acct)
}

func (s *Service) GetPurchase(ctx context.Context, id string) (market.Purchase, error) {
	return s.Store.GetPurchase(ctx, id)
}

// compensate releases a reservation whose authorization step failed. A
// failure here is logged; the sweeper retries it once the TTL passes.
func (s *Service) compensate(ctx context.Context, purchaseID, step string) {
	if _, err := s.Release(ctx, purchaseID); err != nil {
		s.Log.Error("release after failed step", "purchase_id", purchaseID, "step", step, "err", err)
		return
	}
	s.Log.Info("reservation released", "purchase_id", purchaseID, "step", step)
}

// changed publishes the new state and drops the cached one.
func (s *Service) changed(ctx context.Context, p market.Purchase) {
	s.invalidate(ctx, p.ID)
	if s.Events == nil {
		return
	}
	ev := market.Envelope{
		EventID:       uuid.NewString(),
		EventType:     market.EventPurchaseFinalized,
		EventVersion:  1,
		OccurredAt:    s.now(),
		Producer:      s.Name,
		CorrelationID: p.ID,
		Payload: kafkax.MustMarshal(market.PurchaseFinalizedPayload{
			PurchaseID:        p.ID,
			ListingID:         p.ListingID,
			BuyerID:           p.BuyerID,
			PaymentStatus:     p.PaymentStatus,
			Folio:             p.Folio,
			TotalCents:        p.TotalCents,
			PlatformFeeCents:  p.PlatformFeeCents,
			SellerAmountCents: p.SellerAmountCents,
			Currency:          p.Currency,
		}),
	}
	err := s.Events.Publish(ctx, market.PartitionKey(p.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(market.EventPurchaseFinalized)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	if err != nil {
		s.Log.Warn("publish purchase.finalized", "purchase_id", p.ID, "err", err)
	}
}

func (s *Service) invalidate(ctx context.Context, purchaseID string) {
	if s.Cache != nil {
		s.Cache.Invalidate(ctx, purchaseID)
	}
}
