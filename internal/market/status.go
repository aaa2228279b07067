package market

type ListingStatus string

const (
	ListingAvailable ListingStatus = "AVAILABLE"
	ListingPending   ListingStatus = "PENDING"
	ListingPurchased ListingStatus = "PURCHASED"
)

func (s ListingStatus) Valid() bool {
	switch s {
	case ListingAvailable, ListingPending, ListingPurchased:
		return true
	}
	return false
}

// PaymentStatus of a purchase. PaymentNone stands for "no purchase" when a
// listing is classified on its own.
type PaymentStatus string

const (
	PaymentNone      PaymentStatus = ""
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// Open reports whether a purchase in this status holds its listing.
func (s PaymentStatus) Open() bool {
	return s == PaymentPending || s == PaymentCompleted
}

// lattice: PENDING -> {COMPLETED, FAILED}; COMPLETED -> REFUNDED
var validNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:   {PaymentCompleted: true, PaymentFailed: true},
	PaymentCompleted: {PaymentRefunded: true},
	PaymentFailed:    {},
	PaymentRefunded:  {},
}

func CanTransition(from, to PaymentStatus) bool {
	return validNext[from][to]
}

// Reaches reports whether to is s itself or lies after s in the lattice.
func (s PaymentStatus) Reaches(to PaymentStatus) bool {
	if s == to {
		return true
	}
	for next := range validNext[s] {
		if next.Reaches(to) {
			return true
		}
	}
	return false
}

// Outcome is what the payment processor reports for an authorization.
type Outcome string

const (
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
	OutcomeRefunded   Outcome = "refunded"
	OutcomeProcessing Outcome = "processing"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeRefunded, OutcomeProcessing:
		return true
	}
	return false
}

// Transition is one row of the reconciliation table. Its fields are
// unexported: Complete, Fail and Refund are the only usable values.
type Transition struct {
	name    string
	from    PaymentStatus
	to      PaymentStatus
	listing ListingStatus
}

var (
	Complete = Transition{name: "complete", from: PaymentPending, to: PaymentCompleted, listing: ListingPurchased}
	Fail     = Transition{name: "fail", from: PaymentPending, to: PaymentFailed, listing: ListingAvailable}
	Refund   = Transition{name: "refund", from: PaymentCompleted, to: PaymentRefunded, listing: ListingAvailable}
)

func (t Transition) From() PaymentStatus    { return t.from }
func (t Transition) To() PaymentStatus      { return t.to }
func (t Transition) Listing() ListingStatus { return t.listing }
func (t Transition) String() string         { return t.name }

// Defined is false for the zero Transition.
func (t Transition) Defined() bool { return t.name != "" }

// TransitionFor maps a processor outcome to its transition. Processing has
// no transition: the purchase is already PENDING.
func TransitionFor(o Outcome) (Transition, bool) {
	switch o {
	case OutcomeSucceeded:
		return Complete, true
	case OutcomeFailed:
		return Fail, true
	case OutcomeRefunded:
		return Refund, true
	}
	return Transition{}, false
}

type Decision int

const (
	DecisionApply Decision = iota
	DecisionDuplicate
	DecisionStale
	DecisionConflict
)

func (d Decision) String() string {
	switch d {
	case DecisionApply:
		return "apply"
	case DecisionDuplicate:
		return "duplicate"
	case DecisionStale:
		return "stale"
	}
	return "conflict"
}

// Decide what a transition means for a purchase currently in status cur.
// A target that precedes cur in the lattice is stale; a target that is
// neither reachable from cur nor before it is a conflict.
func Decide(cur PaymentStatus, t Transition) Decision {
	switch {
	case cur == t.to:
		return DecisionDuplicate
	case cur == t.from:
		return DecisionApply
	case t.to.Reaches(cur):
		return DecisionStale
	}
	return DecisionConflict
}
