package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dialer-platform/internal/clock"
)

// Step is one scripted attempt result.
type Step struct {
	Outcome Outcome
	// After is the delay between Dial and the outcome.
	After time.Duration
	// TalkFor, for answered steps that get bridged, schedules a remote hangup.
	TalkFor time.Duration
}

// Sequence is a deterministic, cyclic outcome generator.
type Sequence struct {
	mu    sync.Mutex
	steps []Step
	next  int
}

func NewSequence(steps ...Step) *Sequence {
	return &Sequence{steps: steps}
}

// ParseSequence reads "answered:2s:30s,no_answer:20s,busy:1s" (outcome:after[:talk]).
func ParseSequence(spec string) (*Sequence, error) {
	var steps []Step
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		st := Step{Outcome: Outcome(strings.ToLower(fields[0]))}
		if !st.Outcome.Valid() {
			return nil, fmt.Errorf("telephony: unknown outcome %q", fields[0])
		}
		if len(fields) > 1 {
			d, err := time.ParseDuration(fields[1])
			if err != nil {
				return nil, fmt.Errorf("telephony: step %q: %w", part, err)
			}
			st.After = d
		}
		if len(fields) > 2 {
			d, err := time.ParseDuration(fields[2])
			if err != nil {
				return nil, fmt.Errorf("telephony: step %q: %w", part, err)
			}
			st.TalkFor = d
		}
		steps = append(steps, st)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("telephony: empty sequence")
	}
	return NewSequence(steps...), nil
}

func (s *Sequence) Next() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return Step{Outcome: OutcomeNoAnswer}
	}
	st := s.steps[s.next%len(s.steps)]
	s.next++
	return st
}

// SimulatedDialer replays a Sequence on a Clock. Used by tests and `dialerd simulate`.
type SimulatedDialer struct {
	clock clock.Clock
	seq   *Sequence
	log   *slog.Logger

	mu      sync.Mutex
	handler OutcomeHandler
	seqNo   int
	pending map[string]clock.Timer
	dialed  []DialRequest
}

func NewSimulatedDialer(c clock.Clock, seq *Sequence, log *slog.Logger) *SimulatedDialer {
	if log == nil {
		log = slog.Default()
	}
	return &SimulatedDialer{
		clock:   clock.OrReal(c),
		seq:     seq,
		log:     log,
		pending: map[string]clock.Timer{},
	}
}

func (d *SimulatedDialer) Name() string { return "simulated" }

// SetHandler sets where outcomes are delivered.
func (d *SimulatedDialer) SetHandler(h OutcomeHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

func (d *SimulatedDialer) Dial(_ context.Context, req DialRequest) (string, error) {
	step := d.seq.Next()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seqNo++
	id := fmt.Sprintf("sim-%06d", d.seqNo)
	d.dialed = append(d.dialed, req)
	d.pending[id] = d.clock.AfterFunc(step.After, func() { d.fire(id, step) })
	return id, nil
}

func (d *SimulatedDialer) Hangup(_ context.Context, attemptID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.pending[attemptID]; ok {
		t.Stop()
		delete(d.pending, attemptID)
	}
	return nil
}

// Dialed returns every request seen so far.
func (d *SimulatedDialer) Dialed() []DialRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DialRequest(nil), d.dialed...)
}

// Pending reports attempts still waiting for an outcome.
func (d *SimulatedDialer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *SimulatedDialer) fire(id string, step Step) {
	d.mu.Lock()
	if _, ok := d.pending[id]; !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, id)
	h := d.handler
	d.mu.Unlock()

	if h == nil {
		return
	}
	ev := OutcomeEvent{AttemptID: id, Outcome: step.Outcome, OccurredAt: d.clock.Now()}
	bridge, err := h.HandleOutcome(context.Background(), ev)
	if err != nil {
		d.log.Debug("simulated outcome rejected", "attempt_id", id, "outcome", string(step.Outcome), "err", err)
		return
	}
	if step.Outcome != OutcomeAnswered || bridge.Action != BridgeConnect || step.TalkFor <= 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[id] = d.clock.AfterFunc(step.TalkFor, func() {
		d.fire(id, Step{Outcome: OutcomeCompleted})
	})
}
