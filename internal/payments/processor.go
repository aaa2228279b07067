// Package payments talks to the external payment processor and reads the
// sellers' payout accounts.
package payments

import (
	"context"
	"errors"

	"github.com/ariefcatur/go-recycling-market/internal/market"
)

// ErrNotCancelable is returned when an authorization has already moved past
// the point where it can be voided (typically because it succeeded).
var ErrNotCancelable = errors.New("authorization can no longer be canceled")

type AuthorizationRequest struct {
	PurchaseID          string
	ListingID           string
	AmountCents         int64
	ApplicationFeeCents int64
	Currency            string
	DestinationAccount  string
}

type Authorization struct {
	ProcessorRef string
	ClientToken  string
}

type Processor interface {
	CreateAuthorization(ctx context.Context, req AuthorizationRequest) (Authorization, error)
	CancelAuthorization(ctx context.Context, processorRef string) error
}

type EventKind int

const (
	EventIgnored EventKind = iota
	EventOutcome
	EventAccount
)

// Event is a verified processor notification reduced to what the core uses.
type Event struct {
	ID           string
	Kind         EventKind
	ProcessorRef string
	Outcome      market.Outcome
	Account      AccountUpdate
}

// AccountUpdate carries payout capability flags reported by the processor.
type AccountUpdate struct {
	ExternalRef       string
	CanAcceptCharges  bool
	CanReceivePayouts bool
	DetailsSubmitted  bool
}

type EventParser interface {
	ParseEvent(body []byte, signature string) (Event, error)
}
