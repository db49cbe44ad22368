package ack

import (
	"testing"
	"time"

	"erebus/pubsub/internal/codec"
)

func TestRegisterResolveSuccess(t *testing.T) {
	m := New()
	results := make(chan Result, 1)
	m.Register("c1", KindPublish, "T1", time.Second, func(r Result) { results <- r })
	m.ResolveAck("c1", codec.AckResultDetail{OK: true, Seq: "0001", ServerMsgID: "m1"})

	select {
	case r := <-results:
		if r.Outcome != OutcomeSuccess || r.Seq != "0001" {
			t.Fatalf("unexpected result: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
	if m.Pending("c1") {
		t.Fatal("expected entry to be cleared after resolution")
	}
}

func TestRegisterResolveServerError(t *testing.T) {
	m := New()
	results := make(chan Result, 1)
	m.Register("c1", KindPublish, "forbidden", time.Second, func(r Result) { results <- r })
	m.ResolveAck("c1", codec.AckResultDetail{OK: false, Code: "FORBIDDEN", Message: "no"})

	r := <-results
	if r.Outcome != OutcomeServerError || r.Code != "FORBIDDEN" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestRegisterTimesOutExactlyOnce(t *testing.T) {
	m := New()
	results := make(chan Result, 2)
	m.Register("c1", KindPublish, "T1", 20*time.Millisecond, func(r Result) { results <- r })

	r := <-results
	if r.Outcome != OutcomeTimeout {
		t.Fatalf("expected timeout outcome, got %+v", r)
	}
	// A late ack after timeout must not invoke the callback again.
	m.ResolveAck("c1", codec.AckResultDetail{OK: true})
	select {
	case r := <-results:
		t.Fatalf("expected no second resolution, got %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelAllResolvesEveryPendingEntry(t *testing.T) {
	m := New()
	results := make(chan Result, 3)
	m.Register("c1", KindPublish, "T1", time.Minute, func(r Result) { results <- r })
	m.Register("c2", KindSubscribe, "T2", time.Minute, func(r Result) { results <- r })
	m.CancelAll()

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.Outcome != OutcomeCancelled {
				t.Fatalf("expected cancelled outcome, got %+v", r)
			}
		case <-time.After(time.Second):
			t.Fatal("expected both entries to resolve")
		}
	}
}

func TestExactlyOneResolutionPerEntry(t *testing.T) {
	m := New()
	var calls int
	m.Register("c1", KindPublish, "T1", 10*time.Millisecond, func(Result) { calls++ })
	m.ResolveAck("c1", codec.AckResultDetail{OK: true})
	time.Sleep(30 * time.Millisecond)
	m.CancelAll()
	if calls != 1 {
		t.Fatalf("expected exactly one resolution, got %d", calls)
	}
}
