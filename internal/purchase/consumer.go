package purchase

import (
	"context"
	"errors"

	kafkax "github.com/ariefcatur/go-recycling-market/internal/kafka"
	"github.com/ariefcatur/go-recycling-market/internal/market"
	kafkago "github.com/segmentio/kafka-go"
)

// Deduper remembers processed event ids.
type Deduper interface {
	Seen(ctx context.Context, scope, eventID string) (bool, error)
	Mark(ctx context.Context, scope, eventID string) error
}

const dedupScope = "reconciler"

// OutcomeHandler feeds payment.outcome messages into ConfirmPayment. It is
// installed as the consumer's handler; a nil return commits the offset.
type OutcomeHandler struct {
	Service *Service
	Dedup   Deduper // optional
}

func (h *OutcomeHandler) Handle(ctx context.Context, m kafkago.Message) error {
	log := h.Service.Log

	// 1) decode envelope; header dicek dulu supaya event lain tidak perlu di-decode
	if t := kafkax.HeaderValue(m, "x-event-type"); t != "" && t != market.EventPaymentOutcome {
		return nil
	}
	var env market.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		log.Error("drop undecodable message", "offset", m.Offset, "err", err)
		return nil
	}
	if env.EventType != market.EventPaymentOutcome {
		return nil
	} // ignore

	// 2) dedup via Redis (event_id); ditandai setelah sukses, bukan sebelum
	if h.Dedup != nil {
		if seen, err := h.Dedup.Seen(ctx, dedupScope, env.EventID); err == nil && seen {
			return nil
		}
	}

	// 3) decode payload
	p, err := kafkax.UnwrapPayload[market.PaymentOutcomePayload](env.Payload)
	if err != nil {
		log.Error("drop outcome", "event_id", env.EventID, "err", err)
		return nil
	}

	// 4) reconcile; mismatch sudah tercatat, jadi offset boleh di-commit
	_, err = h.Service.ConfirmPayment(ctx, p.ProcessorRef, p.Outcome)
	switch {
	case err == nil,
		errors.Is(err, market.ErrReconciliationMismatch),
		errors.Is(err, market.ErrInvalidStateTransition):
	default:
		return err
	}

	if h.Dedup != nil {
		if err := h.Dedup.Mark(ctx, dedupScope, env.EventID); err != nil {
			log.Warn("dedup mark", "event_id", env.EventID, "err", err)
		}
	}
	return nil
}
