package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/clock"
	"dialer-platform/internal/dispositions"
	"dialer-platform/internal/events"
	"dialer-platform/internal/stats"
)

type recordingListener struct {
	mu          sync.Mutex
	bridged     []Session
	ended       []Session
	transferred [][2]Session
	archived    []Session
}

func (l *recordingListener) SessionBridged(s Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bridged = append(l.bridged, s)
}

func (l *recordingListener) SessionEnded(s Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended = append(l.ended, s)
}

func (l *recordingListener) SessionTransferred(origin, target Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transferred = append(l.transferred, [2]Session{origin, target})
}

func (l *recordingListener) SessionArchived(s Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.archived = append(l.archived, s)
}

type fixture struct {
	clock    *clock.Fake
	listener *recordingListener
	events   []events.Event
	mu       sync.Mutex
	catalog  *dispositions.Catalog
}

func newFixture() *fixture {
	return &fixture{
		clock:    clock.NewFake(time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)),
		listener: &recordingListener{},
		catalog: dispositions.NewCatalog(
			dispositions.Code{ID: "SALE", Selectable: true, IsSale: true},
			dispositions.Code{ID: "NI", Selectable: true},
			dispositions.Code{ID: "AM", Category: dispositions.CategoryMachine, Selectable: true},
		),
	}
}

func (f *fixture) machine(agentID string, cfg Config) *Machine {
	return NewMachine("camp-1", agentID, cfg, Options{
		Catalog:  f.catalog,
		Clock:    f.clock,
		Listener: f.listener,
		Events: events.PublisherFunc(func(e events.Event) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.events = append(f.events, e)
		}),
	})
}

func (f *fixture) eventsOfType(t events.Type) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.Event
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func mustInCall(t *testing.T, f *fixture, m *Machine) Session {
	t.Helper()
	s := New("camp-1", "lead-1", f.clock.Now())
	s.SlotID = "slot-1"
	if _, err := m.AssignLead(s); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	cur, _ := m.Current()
	return cur
}

func TestMachine_HappyPathFeedsArchivedOutcome(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{})

	s := mustInCall(t, f, m)
	if s.State != StateInCall || s.ConnectedAt == nil {
		t.Fatalf("expected connected in-call session, got %+v", s)
	}
	f.clock.Advance(30 * time.Second)
	if err := m.Hangup(); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if m.State() != StateWrapup {
		t.Fatalf("expected wrapup, got %s", m.State())
	}
	f.clock.Advance(5 * time.Second)
	out, err := m.RecordDisposition("sale")
	if err != nil {
		t.Fatalf("disposition: %v", err)
	}
	if out.Outcome != stats.OutcomeAnswered || out.Disposition != "SALE" {
		t.Fatalf("unexpected archive: %+v", out)
	}
	if out.TalkDuration() != 30*time.Second || out.WrapDuration() != 5*time.Second {
		t.Fatalf("unexpected durations talk=%s wrap=%s", out.TalkDuration(), out.WrapDuration())
	}
	if m.State() != StateReady {
		t.Fatalf("expected ready, got %s", m.State())
	}
	if _, ok := m.Current(); ok {
		t.Fatalf("expected no bound session after archive")
	}
	if len(f.listener.bridged) != 1 || len(f.listener.ended) != 1 || len(f.listener.archived) != 1 {
		t.Fatalf("unexpected listener calls: %+v", f.listener)
	}
	if f.listener.ended[0].SlotID != "slot-1" {
		t.Fatalf("expected ended session to carry its slot for release")
	}
}

func TestMachine_AssignLeadWhileInCallIsInvalid(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{})
	before := mustInCall(t, f, m)

	_, err := m.AssignLead(New("camp-1", "lead-2", f.clock.Now()))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var te *TransitionError
	if !errors.As(err, &te) || te.From != StateInCall {
		t.Fatalf("expected TransitionError from in_call, got %#v", err)
	}
	after, _ := m.Current()
	if after.ID != before.ID || after.LeadRef != "lead-1" || m.State() != StateInCall {
		t.Fatalf("failed command changed the machine: %+v", after)
	}
}

func TestMachine_ConnectRequiresRinging(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{})
	if err := m.Connect(); !errors.Is(err, ErrNotRinging) {
		t.Fatalf("expected ErrNotRinging, got %v", err)
	}
	mustInCall(t, f, m)
	if err := m.Connect(); !errors.Is(err, ErrNotRinging) {
		t.Fatalf("expected ErrNotRinging on second connect, got %v", err)
	}
}

func TestMachine_HoldAndMute(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{})

	if err := m.Mute(); !errors.Is(err, ErrNotInCall) {
		t.Fatalf("expected ErrNotInCall, got %v", err)
	}
	mustInCall(t, f, m)

	if err := m.Hold(); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if err := m.Hold(); err != nil {
		t.Fatalf("second hold should be a no-op: %v", err)
	}
	f.clock.Advance(10 * time.Second)
	if err := m.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := m.Resume(); err != nil {
		t.Fatalf("second resume should be a no-op: %v", err)
	}
	if err := m.Mute(); err != nil {
		t.Fatalf("mute: %v", err)
	}
	s, _ := m.Current()
	if !s.Muted || s.OnHold || s.HoldDuration != 10*time.Second {
		t.Fatalf("unexpected flags: %+v", s)
	}
	if m.State() != StateInCall {
		t.Fatalf("hold/mute must not move the machine, got %s", m.State())
	}
	if err := m.Unmute(); err != nil {
		t.Fatalf("unmute: %v", err)
	}
}

func TestMachine_HangupWhileHeldClosesHold(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{})
	mustInCall(t, f, m)
	_ = m.Hold()
	f.clock.Advance(4 * time.Second)
	if err := m.Hangup(); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	s, _ := m.Current()
	if s.OnHold || s.HoldDuration != 4*time.Second {
		t.Fatalf("expected hold closed at hangup, got %+v", s)
	}
}

func TestMachine_DispositionValidation(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{})

	if _, err := m.RecordDisposition("SALE"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition outside wrapup, got %v", err)
	}
	mustInCall(t, f, m)
	_ = m.Hangup()

	for _, code := range []string{"", "NOPE", dispositions.CodeDrop} {
		if _, err := m.RecordDisposition(code); !errors.Is(err, ErrMissingDisposition) {
			t.Fatalf("code %q: expected ErrMissingDisposition, got %v", code, err)
		}
	}
	if m.State() != StateWrapup {
		t.Fatalf("rejected disposition must leave wrapup, got %s", m.State())
	}
	if len(f.listener.archived) != 0 {
		t.Fatalf("nothing should be archived yet")
	}
}

func TestMachine_RingTimeoutAbandons(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{RingTimeout: 20 * time.Second})
	if _, err := m.AssignLead(New("camp-1", "lead-1", f.clock.Now())); err != nil {
		t.Fatalf("assign: %v", err)
	}
	f.clock.Advance(19 * time.Second)
	if m.State() != StateRinging {
		t.Fatalf("expected still ringing, got %s", m.State())
	}
	f.clock.Advance(time.Second)
	if m.State() != StateWrapup {
		t.Fatalf("expected wrapup after ring timeout, got %s", m.State())
	}
	out, err := m.RecordDisposition("NI")
	if err != nil {
		t.Fatalf("disposition: %v", err)
	}
	if out.Outcome != stats.OutcomeAbandoned || out.EndReason != "ring_timeout" {
		t.Fatalf("expected abandoned by ring timeout, got %+v", out)
	}
}

func TestMachine_ConnectCancelsRingTimer(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{RingTimeout: 5 * time.Second})
	mustInCall(t, f, m)
	f.clock.Advance(time.Minute)
	if m.State() != StateInCall {
		t.Fatalf("ring timer fired after connect, state %s", m.State())
	}
}

func TestMachine_WrapupTimeoutForcesSystemDisposition(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{WrapupTimeout: 30 * time.Second})
	mustInCall(t, f, m)
	_ = m.Hangup()

	f.clock.Advance(30 * time.Second)

	if m.State() != StateReady {
		t.Fatalf("expected ready after forced disposition, got %s", m.State())
	}
	if len(f.listener.archived) != 1 {
		t.Fatalf("expected one archived session, got %d", len(f.listener.archived))
	}
	got := f.listener.archived[0]
	if got.Disposition != dispositions.CodeWrapupTimeout || !got.ForcedDisposition || got.Outcome != stats.OutcomeAnswered {
		t.Fatalf("unexpected forced archive: %+v", got)
	}
	if len(f.eventsOfType(events.TypeForcedDisposition)) != 1 {
		t.Fatalf("expected a forced disposition event")
	}
}

func TestMachine_DispositionCancelsWrapupTimer(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{WrapupTimeout: 30 * time.Second})
	mustInCall(t, f, m)
	_ = m.Hangup()
	if _, err := m.RecordDisposition("NI"); err != nil {
		t.Fatalf("disposition: %v", err)
	}
	// A new call must not be force-closed by the old timer.
	mustInCall(t, f, m)
	f.clock.Advance(time.Minute)
	if m.State() != StateInCall {
		t.Fatalf("stale wrap-up timer affected the next call, state %s", m.State())
	}
	if len(f.listener.archived) != 1 {
		t.Fatalf("expected exactly one archive, got %d", len(f.listener.archived))
	}
}

func TestMachine_MachineCategoryAndCarrierOutcome(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{})

	mustInCall(t, f, m)
	_ = m.Hangup()
	out, _ := m.RecordDisposition("AM")
	if out.Outcome != stats.OutcomeFailed {
		t.Fatalf("answering machine should count as failed, got %s", out.Outcome)
	}

	if _, err := m.AssignLead(New("camp-1", "lead-2", f.clock.Now())); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := m.RemoteHangup(stats.OutcomeBusy); err != nil {
		t.Fatalf("remote hangup: %v", err)
	}
	out, _ = m.RecordDisposition("NI")
	if out.Outcome != stats.OutcomeBusy {
		t.Fatalf("carrier outcome should win, got %s", out.Outcome)
	}
}

func TestMachine_TransferToRingingAgentFails(t *testing.T) {
	f := newFixture()
	origin := f.machine("agent-1", Config{})
	target := f.machine("agent-2", Config{})

	before := mustInCall(t, f, origin)
	if _, err := target.AssignLead(New("camp-1", "lead-9", f.clock.Now())); err != nil {
		t.Fatalf("assign target: %v", err)
	}

	_, err := origin.RequestTransfer(target)
	if !errors.Is(err, ErrTargetUnavailable) {
		t.Fatalf("expected ErrTargetUnavailable, got %v", err)
	}
	after, _ := origin.Current()
	if origin.State() != StateInCall || after.ID != before.ID || after.TransferTargetID != "" {
		t.Fatalf("origin changed after failed transfer: %+v", after)
	}
	if target.State() != StateRinging {
		t.Fatalf("target changed after failed transfer: %s", target.State())
	}
}

func TestMachine_TransferToSelfOrOutsideCallFails(t *testing.T) {
	f := newFixture()
	a := f.machine("agent-1", Config{})
	b := f.machine("agent-2", Config{})

	if _, err := a.RequestTransfer(b); !errors.Is(err, ErrNotInCall) {
		t.Fatalf("expected ErrNotInCall, got %v", err)
	}
	mustInCall(t, f, a)
	if _, err := a.RequestTransfer(a); !errors.Is(err, ErrTargetUnavailable) {
		t.Fatalf("expected ErrTargetUnavailable for self, got %v", err)
	}
}

func TestMachine_BlindTransfer(t *testing.T) {
	f := newFixture()
	origin := f.machine("agent-1", Config{TransferPolicy: TransferBlind})
	target := f.machine("agent-2", Config{})
	orig := mustInCall(t, f, origin)

	ts, err := origin.RequestTransfer(target)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if target.State() != StateInCall || ts.TransferredFrom != orig.ID || ts.SlotID != "slot-1" {
		t.Fatalf("unexpected target session: %+v state=%s", ts, target.State())
	}
	if origin.State() != StateWrapup {
		t.Fatalf("blind transfer should move origin to wrapup, got %s", origin.State())
	}
	o, _ := origin.Current()
	if o.TransferTargetID != "agent-2" || o.SlotID != "" {
		t.Fatalf("origin should record target and give up slot: %+v", o)
	}
	if len(f.listener.transferred) != 1 || len(f.listener.ended) != 1 {
		t.Fatalf("unexpected listener calls: %+v", f.listener)
	}
	if f.listener.ended[0].SlotID != "" {
		t.Fatalf("ended origin must not release the transferred slot")
	}
}

func TestMachine_ConsultTransfer(t *testing.T) {
	f := newFixture()
	origin := f.machine("agent-1", Config{TransferPolicy: TransferConsult})
	target := f.machine("agent-2", Config{})
	mustInCall(t, f, origin)

	if _, err := origin.RequestTransfer(target); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if origin.State() != StateTransferring {
		t.Fatalf("consult transfer should keep origin bridged, got %s", origin.State())
	}
	if err := origin.Hold(); !errors.Is(err, ErrNotInCall) {
		t.Fatalf("expected ErrNotInCall while transferring, got %v", err)
	}
	if err := origin.Hangup(); err != nil {
		t.Fatalf("origin hangup: %v", err)
	}
	if origin.State() != StateWrapup {
		t.Fatalf("expected wrapup, got %s", origin.State())
	}
}

func TestMachine_ConcurrentTransfersClaimTargetOnce(t *testing.T) {
	f := newFixture()
	target := f.machine("agent-0", Config{})
	origins := make([]*Machine, 8)
	for i := range origins {
		origins[i] = f.machine(string(rune('a'+i))+"-agent", Config{})
		mustInCall(t, f, origins[i])
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, o := range origins {
		wg.Add(1)
		go func(o *Machine) {
			defer wg.Done()
			if _, err := o.RequestTransfer(target); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(o)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one transfer to win, got %d", wins)
	}
}

func TestMachine_NeverReturnsToRingingAfterInCall(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{RingTimeout: time.Second, WrapupTimeout: time.Second})
	mustInCall(t, f, m)

	var seen []string
	for _, e := range f.eventsOfType(events.TypeSessionState) {
		seen = append(seen, e.To)
	}
	_ = m.Hold()
	_ = m.Resume()
	_, _ = m.AssignLead(New("camp-1", "x", f.clock.Now()))
	_ = m.Connect()
	_ = m.Hangup()
	f.clock.Advance(5 * time.Second)

	reachedInCall := false
	for _, e := range f.eventsOfType(events.TypeSessionState) {
		if e.To == StateInCall.String() {
			reachedInCall = true
		}
		if reachedInCall && e.To == StateRinging.String() {
			t.Fatalf("machine re-entered ringing after in_call: %v", seen)
		}
	}
	if m.State() != StateReady {
		t.Fatalf("expected ready after forced disposition, got %s", m.State())
	}
}

func TestMachine_Pause(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{PauseCodes: []string{"BREAK", "LUNCH"}})

	if err := m.Pause("COFFEE"); !errors.Is(err, ErrUnknownPauseCode) {
		t.Fatalf("expected ErrUnknownPauseCode, got %v", err)
	}
	if err := m.Pause("lunch"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := m.AssignLead(New("camp-1", "lead-1", f.clock.Now())); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("paused agent must not take calls, got %v", err)
	}
	if st := m.Status(); st.State != StatePaused || st.PauseCode != "lunch" {
		t.Fatalf("unexpected status %+v", st)
	}
	if err := m.Unpause(); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := m.Unpause(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMachine_OneActiveSessionUnderConcurrentAssign(t *testing.T) {
	f := newFixture()
	m := f.machine("agent-1", Config{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.AssignLead(New("camp-1", "lead", f.clock.Now())); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("expected exactly one assignment, got %d", ok)
	}
}
