package httpx

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	kafkax "github.com/ariefcatur/go-recycling-market/internal/kafka"
	"github.com/ariefcatur/go-recycling-market/internal/market"
	"github.com/ariefcatur/go-recycling-market/internal/payments"
	"github.com/ariefcatur/go-recycling-market/internal/purchase"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

const maxWebhookBody = 64 << 10

type AccountUpdater interface {
	UpdateCapabilities(ctx context.Context, u payments.AccountUpdate) (bool, error)
}

// WebhookHandler is the processor's callback endpoint. It only verifies and
// forwards: outcomes go to the payment.outcome topic keyed by processor
// reference and are applied by the reconciler.
type WebhookHandler struct {
	Parser   payments.EventParser
	Dedup    purchase.Deduper // optional
	Outcomes purchase.Publisher
	Accounts AccountUpdater
	Service  string
	Log      *slog.Logger
}

const webhookScope = "webhook"

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/processor", h.receive)
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	ev, err := h.Parser.ParseEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.Log.Warn("webhook rejected", "err", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.Dedup != nil {
		if seen, err := h.Dedup.Seen(ctx, webhookScope, ev.ID); err == nil && seen {
			writeJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
			return
		}
	}

	switch ev.Kind {
	case payments.EventOutcome:
		if err := h.publishOutcome(ctx, r, ev); err != nil {
			// belum di-dedup; processor akan mengirim ulang
			h.Log.Error("publish payment outcome", "processor_ref", ev.ProcessorRef, "event_id", ev.ID, "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "outcome not accepted, retry later"})
			return
		}
	case payments.EventAccount:
		ok, err := h.Accounts.UpdateCapabilities(ctx, ev.Account)
		if err != nil {
			// 5xx supaya processor mengirim ulang
			h.Log.Error("payout account update", "account", ev.Account.ExternalRef, "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		if !ok {
			h.Log.Info("account update for unknown payout account", "account", ev.Account.ExternalRef)
		}
	default:
		h.Log.Debug("webhook ignored", "event_id", ev.ID)
	}

	if h.Dedup != nil {
		if err := h.Dedup.Mark(ctx, webhookScope, ev.ID); err != nil {
			h.Log.Warn("dedup mark", "event_id", ev.ID, "err", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

// publishOutcome must see the outcome written before the processor gets its
// 200: Outcomes is expected to be a synchronous producer.
func (h *WebhookHandler) publishOutcome(ctx context.Context, r *http.Request, ev payments.Event) error {
	env := market.Envelope{
		EventID:       uuid.NewString(),
		EventType:     market.EventPaymentOutcome,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: ev.ProcessorRef,
		Payload: kafkax.MustMarshal(market.PaymentOutcomePayload{
			ProcessorRef:     ev.ProcessorRef,
			Outcome:          ev.Outcome,
			ProcessorEventID: ev.ID,
		}),
	}
	err := h.Outcomes.Publish(ctx, market.PartitionKey(ev.ProcessorRef), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(market.EventPaymentOutcome)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
	if err != nil {
		return err
	}
	h.Log.Info("payment outcome published", "processor_ref", ev.ProcessorRef, "outcome", string(ev.Outcome), "event_id", ev.ID)
	return nil
}
