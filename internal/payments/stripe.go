package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-recycling-market/internal/market"
	"github.com/cenkalti/backoff/v4"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe implements Processor with Connect destination charges: the
// PaymentIntent is created on the platform, transfer_data routes the
// remainder to the seller's connected account and application_fee_amount
// stays with the platform.
type Stripe struct {
	API           *client.API
	WebhookSecret string
	MaxRetries    uint64
	Log           *slog.Logger
}

func NewStripe(secretKey, webhookSecret string, maxRetries int, log *slog.Logger) *Stripe {
	api := &client.API{}
	api.Init(secretKey, nil)
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Stripe{API: api, WebhookSecret: webhookSecret, MaxRetries: uint64(maxRetries), Log: log}
}

func (s *Stripe) CreateAuthorization(ctx context.Context, req AuthorizationRequest) (Authorization, error) {
	params := &stripe.PaymentIntentParams{
		Amount:               stripe.Int64(req.AmountCents),
		Currency:             stripe.String(req.Currency),
		ApplicationFeeAmount: stripe.Int64(req.ApplicationFeeCents),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.DestinationAccount),
		},
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	// retry dengan key yang sama tidak membuat PaymentIntent kedua
	params.SetIdempotencyKey("purchase-" + req.PurchaseID)
	params.AddMetadata("purchase_id", req.PurchaseID)
	params.AddMetadata("listing_id", req.ListingID)

	var pi *stripe.PaymentIntent
	attempt := 0
	err := retry(ctx, s.MaxRetries, func() error {
		attempt++
		var err error
		pi, err = s.API.PaymentIntents.New(params)
		if err != nil {
			s.Log.Warn("create payment intent failed",
				"purchase_id", req.PurchaseID, "attempt", attempt, "err", err)
		}
		return classifyError(err)
	})
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{ProcessorRef: pi.ID, ClientToken: pi.ClientSecret}, nil
}

func (s *Stripe) CancelAuthorization(ctx context.Context, processorRef string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("abandoned"),
	}
	params.Context = ctx
	return retry(ctx, s.MaxRetries, func() error {
		_, err := s.API.PaymentIntents.Cancel(processorRef, params)
		return cancelError(err)
	})
}

// cancelError treats an intent that is already canceled as done, so a
// repeated cancel is harmless. Any other unexpected state means the payment
// moved on and is reported as ErrNotCancelable.
func cancelError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
		if se.PaymentIntent != nil && se.PaymentIntent.Status == stripe.PaymentIntentStatusCanceled {
			return nil
		}
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotCancelable, se.Msg))
	}
	return classifyError(err)
}

// classifyError marks declines and other client errors as permanent so the
// retry loop only repeats transport and server failures.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Type {
	case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
		return backoff.Permanent(fmt.Errorf("%w: %s", market.ErrAuthorizationDeclined, se.Msg))
	case stripe.ErrorTypeIdempotency:
		return backoff.Permanent(err)
	}
	if se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 && se.HTTPStatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

// ParseEvent verifies the Stripe-Signature header and reduces the event.
// Event types the core does not act on come back as EventIgnored.
//
// The endpoint's API version is not required to match the library's pin:
// only ids, statuses and the refunded flag are read, and those are stable
// across versions.
func (s *Stripe) ParseEvent(body []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(body, signature, s.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("verify webhook: %w", err)
	}
	out := Event{ID: ev.ID}

	switch string(ev.Type) {
	case "payment_intent.succeeded", "payment_intent.payment_failed",
		"payment_intent.canceled", "payment_intent.processing":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return Event{}, fmt.Errorf("decode payment intent: %w", err)
		}
		out.Kind, out.ProcessorRef = EventOutcome, pi.ID
		out.Outcome = intentOutcome(string(ev.Type))

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return Event{}, fmt.Errorf("decode charge: %w", err)
		}
		// partial refund tetap COMPLETED; hanya full refund yang melepas listing
		if !ch.Refunded || ch.PaymentIntent == nil {
			return out, nil
		}
		out.Kind, out.ProcessorRef, out.Outcome = EventOutcome, ch.PaymentIntent.ID, market.OutcomeRefunded

	case "account.updated":
		var acct stripe.Account
		if err := json.Unmarshal(ev.Data.Raw, &acct); err != nil {
			return Event{}, fmt.Errorf("decode account: %w", err)
		}
		out.Kind = EventAccount
		out.Account = AccountUpdate{
			ExternalRef:       acct.ID,
			CanAcceptCharges:  acct.ChargesEnabled,
			CanReceivePayouts: acct.PayoutsEnabled,
			DetailsSubmitted:  acct.DetailsSubmitted,
		}
	}
	return out, nil
}

func intentOutcome(eventType string) market.Outcome {
	switch eventType {
	case "payment_intent.succeeded":
		return market.OutcomeSucceeded
	case "payment_intent.processing":
		return market.OutcomeProcessing
	}
	return market.OutcomeFailed
}
