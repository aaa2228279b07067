package market

import "testing"

func TestDecide(t *testing.T) {
	cases := []struct {
		cur  PaymentStatus
		t    Transition
		want Decision
	}{
		{PaymentPending, Complete, DecisionApply},
		{PaymentPending, Fail, DecisionApply},
		{PaymentCompleted, Refund, DecisionApply},

		{PaymentCompleted, Complete, DecisionDuplicate},
		{PaymentFailed, Fail, DecisionDuplicate},
		{PaymentRefunded, Refund, DecisionDuplicate},

		// succeeded arriving after the refund already landed
		{PaymentRefunded, Complete, DecisionStale},

		{PaymentPending, Refund, DecisionConflict},
		{PaymentFailed, Complete, DecisionConflict},
		{PaymentFailed, Refund, DecisionConflict},
		{PaymentCompleted, Fail, DecisionConflict},
		{PaymentRefunded, Fail, DecisionConflict},
	}
	for _, tc := range cases {
		t.Run(string(tc.cur)+"/"+tc.t.String(), func(t *testing.T) {
			if got := Decide(tc.cur, tc.t); got != tc.want {
				t.Errorf("Decide(%s, %s) = %s, want %s", tc.cur, tc.t, got, tc.want)
			}
		})
	}
}

func TestReaches(t *testing.T) {
	if !PaymentPending.Reaches(PaymentRefunded) {
		t.Error("PENDING should reach REFUNDED through COMPLETED")
	}
	if PaymentRefunded.Reaches(PaymentCompleted) {
		t.Error("REFUNDED must not reach COMPLETED")
	}
	if PaymentFailed.Reaches(PaymentCompleted) {
		t.Error("FAILED must not reach COMPLETED")
	}
	if !PaymentFailed.Reaches(PaymentFailed) {
		t.Error("Reaches is reflexive")
	}
}

func TestTransitionTable(t *testing.T) {
	for _, tr := range []Transition{Complete, Fail, Refund} {
		if !CanTransition(tr.From(), tr.To()) {
			t.Errorf("%s: %s -> %s missing from validNext", tr, tr.From(), tr.To())
		}
	}
	if got := Complete.Listing(); got != ListingPurchased {
		t.Errorf("complete moves listing to %s", got)
	}
	if Fail.Listing() != ListingAvailable || Refund.Listing() != ListingAvailable {
		t.Error("fail and refund must release the listing")
	}
	if (Transition{}).Defined() {
		t.Error("zero transition must not be usable")
	}
}

func TestTransitionFor(t *testing.T) {
	cases := map[Outcome]Transition{
		OutcomeSucceeded: Complete,
		OutcomeFailed:    Fail,
		OutcomeRefunded:  Refund,
	}
	for o, want := range cases {
		got, ok := TransitionFor(o)
		if !ok || got != want {
			t.Errorf("TransitionFor(%s) = %s, %v", o, got, ok)
		}
	}
	if _, ok := TransitionFor(OutcomeProcessing); ok {
		t.Error("processing has no transition")
	}
	if _, ok := TransitionFor("chargeback"); ok {
		t.Error("unknown outcome has no transition")
	}
}
