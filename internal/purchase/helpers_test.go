package purchase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-recycling-market/internal/market"
	"github.com/ariefcatur/go-recycling-market/internal/market/markettest"
	"github.com/ariefcatur/go-recycling-market/internal/payments"
	kafkago "github.com/segmentio/kafka-go"
)

var testNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

type fakeProcessor struct {
	mu        sync.Mutex
	err       error
	cancelErr error
	created   []payments.AuthorizationRequest
	canceled  []string
}

func (f *fakeProcessor) CreateAuthorization(ctx context.Context, req payments.AuthorizationRequest) (payments.Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return payments.Authorization{}, f.err
	}
	f.created = append(f.created, req)
	return payments.Authorization{ProcessorRef: "pi_" + req.PurchaseID, ClientToken: "secret_" + req.PurchaseID}, nil
}

func (f *fakeProcessor) CancelAuthorization(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, ref)
	return nil
}

type fakeRegistry map[string]market.PayoutAccount

func (r fakeRegistry) GetPayoutAccount(ctx context.Context, sellerID string) (market.PayoutAccount, error) {
	return r[sellerID], nil
}

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	msgs []kafkago.Message
}

func (p *fakePublisher) Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, kafkago.Message{Key: key, Value: value, Headers: headers})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type fakeCache struct {
	mu  sync.Mutex
	ids []string
}

func (c *fakeCache) Invalidate(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
}

type harness struct {
	svc   *Service
	store *markettest.Store
	proc  *fakeProcessor
	reg   fakeRegistry
	pub   *fakePublisher
	cache *fakeCache
}

// newHarness seeds listing "l1": 100 kg of cardboard at 2.00/kg, owned by
// seller "s1" whose payout account is ready.
func newHarness(t *testing.T) *harness {
	t.Helper()
	st := markettest.New()
	st.AddListing(market.Listing{ID: "l1", OwnerID: "s1", Category: market.CategoryCardboard, Quantity: 100})
	h := &harness{
		store: st,
		proc:  &fakeProcessor{},
		reg: fakeRegistry{
			"s1": {SellerID: "s1", ExternalRef: "acct_1", CanAcceptCharges: true, CanReceivePayouts: true, DetailsSubmitted: true},
		},
		pub:   &fakePublisher{},
		cache: &fakeCache{},
	}
	h.svc = &Service{
		Store:      st,
		Registry:   h.reg,
		Processor:  h.proc,
		Events:     h.pub,
		Cache:      h.cache,
		Prices:     market.DefaultPriceTable,
		Commission: market.DefaultCommissionRate,
		Currency:   "mxn",
		Name:       "market-test",
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:        func() time.Time { return testNow },
	}
	return h
}

// intent runs CreatePurchaseIntent on l1 and fails the test on error.
func (h *harness) intent(t *testing.T) Intent {
	t.Helper()
	in, err := h.svc.CreatePurchaseIntent(context.Background(), "l1", "buyer-1", market.PurchaseDetails{})
	if err != nil {
		t.Fatalf("CreatePurchaseIntent: %v", err)
	}
	return in
}

func (h *harness) assertPair(t *testing.T, purchaseID string, wantL market.ListingStatus, wantP market.PaymentStatus) {
	t.Helper()
	p, err := h.store.GetPurchase(context.Background(), purchaseID)
	if err != nil {
		t.Fatalf("GetPurchase: %v", err)
	}
	l := h.store.Listing(p.ListingID)
	if l.Status != wantL || p.PaymentStatus != wantP {
		t.Fatalf("state = (%s, %s), want (%s, %s)", l.Status, p.PaymentStatus, wantL, wantP)
	}
	if market.Classify(l.Status, p.PaymentStatus) != market.Consistent {
		t.Fatalf("(%s, %s) classified anomalous", l.Status, p.PaymentStatus)
	}
}
