package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type envelope struct {
	EventID string          `json:"event_id"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

type payload struct {
	Ref     string `json:"ref"`
	Outcome string `json:"outcome"`
}

func TestUnwrapPayload(t *testing.T) {
	b := MustMarshal(envelope{
		EventID: "e1",
		At:      time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload: MustMarshal(payload{Ref: "pi_1", Outcome: "succeeded"}),
	})

	var env envelope
	if err := UnmarshalEnvelope(b, &env); err != nil {
		t.Fatal(err)
	}
	p, err := UnwrapPayload[payload](env.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if p.Ref != "pi_1" || p.Outcome != "succeeded" {
		t.Fatalf("payload = %+v", p)
	}

	if _, err := UnwrapPayload[payload](json.RawMessage(`[1,2]`)); err == nil {
		t.Fatal("expected decode error")
	}
	if err := UnmarshalEnvelope([]byte("  not json"), &env); err == nil {
		t.Fatal("expected error for non-object value")
	}
}

func TestHeaderValue(t *testing.T) {
	m := kafka.Message{Headers: []kafka.Header{
		{Key: "x-event-type", Value: []byte("PaymentOutcome")},
		{Key: "x-event-version", Value: []byte("1")},
	}}
	if got := HeaderValue(m, "x-event-type"); got != "PaymentOutcome" {
		t.Fatalf("HeaderValue = %q", got)
	}
	if got := HeaderValue(m, "missing"); got != "" {
		t.Fatalf("HeaderValue = %q", got)
	}
}

func TestMustMarshalPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustMarshal(make(chan int))
}

func TestWorkerForIsStable(t *testing.T) {
	for _, n := range []int{1, 3, 8} {
		a := workerFor([]byte("pi_123"), n)
		if a < 0 || a >= n {
			t.Fatalf("workerFor out of range: %d of %d", a, n)
		}
		for i := 0; i < 5; i++ {
			if workerFor([]byte("pi_123"), n) != a {
				t.Fatal("same key routed to different workers")
			}
		}
	}
}
