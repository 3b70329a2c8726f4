package telephony

import (
	"context"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/clock"
)

type outcomeLog struct {
	mu     sync.Mutex
	events []OutcomeEvent
	bridge Bridge
}

func (l *outcomeLog) HandleOutcome(_ context.Context, ev OutcomeEvent) (Bridge, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	if ev.Outcome == OutcomeAnswered {
		return l.bridge, nil
	}
	return Bridge{}, nil
}

func TestParseSequence(t *testing.T) {
	seq, err := ParseSequence("answered:2s:30s, busy:1s ,no_answer")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	first := seq.Next()
	if first.Outcome != OutcomeAnswered || first.After != 2*time.Second || first.TalkFor != 30*time.Second {
		t.Fatalf("unexpected first step %+v", first)
	}
	if seq.Next().Outcome != OutcomeBusy || seq.Next().Outcome != OutcomeNoAnswer {
		t.Fatalf("unexpected order")
	}
	if seq.Next().Outcome != OutcomeAnswered {
		t.Fatalf("sequence should cycle")
	}
	if _, err := ParseSequence("ringing:1s"); err == nil {
		t.Fatalf("expected error for unknown outcome")
	}
	if _, err := ParseSequence(" , "); err == nil {
		t.Fatalf("expected error for empty sequence")
	}
}

func TestSimulatedDialer_DeliversOutcomesOnClock(t *testing.T) {
	fc := clock.NewFake(time.Unix(1700000000, 0))
	log := &outcomeLog{bridge: Bridge{Action: BridgeConnect, ConnectTo: "sip:a@b"}}
	d := NewSimulatedDialer(fc, NewSequence(
		Step{Outcome: OutcomeAnswered, After: 2 * time.Second, TalkFor: 10 * time.Second},
		Step{Outcome: OutcomeBusy, After: time.Second},
	), nil)
	d.SetHandler(log)

	a1, _ := d.Dial(context.Background(), DialRequest{LeadRef: "l1"})
	a2, _ := d.Dial(context.Background(), DialRequest{LeadRef: "l2"})
	if a1 == a2 {
		t.Fatalf("attempt ids must be unique")
	}

	fc.Advance(2 * time.Second)
	if len(log.events) != 2 || log.events[0].Outcome != OutcomeBusy || log.events[1].Outcome != OutcomeAnswered {
		t.Fatalf("unexpected events %+v", log.events)
	}
	if d.Pending() != 1 {
		t.Fatalf("expected the bridged call to be pending a remote hangup, got %d", d.Pending())
	}
	fc.Advance(10 * time.Second)
	if len(log.events) != 3 || log.events[2].Outcome != OutcomeCompleted || log.events[2].AttemptID != a1 {
		t.Fatalf("expected completed for %s, got %+v", a1, log.events)
	}
}

func TestSimulatedDialer_HangupCancelsPendingOutcome(t *testing.T) {
	fc := clock.NewFake(time.Unix(1700000000, 0))
	log := &outcomeLog{}
	d := NewSimulatedDialer(fc, NewSequence(Step{Outcome: OutcomeAnswered, After: time.Second}), nil)
	d.SetHandler(log)

	id, _ := d.Dial(context.Background(), DialRequest{})
	if err := d.Hangup(context.Background(), id); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if err := d.Hangup(context.Background(), id); err != nil {
		t.Fatalf("hangup must be idempotent: %v", err)
	}
	fc.Advance(time.Minute)
	if len(log.events) != 0 {
		t.Fatalf("expected no outcome after hangup, got %+v", log.events)
	}
}
