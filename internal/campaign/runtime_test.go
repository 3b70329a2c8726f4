package campaign

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/clock"
	"dialer-platform/internal/dispositions"
	"dialer-platform/internal/events"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/pacing"
	"dialer-platform/internal/session"
	"dialer-platform/internal/stats"
	"dialer-platform/internal/telephony"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memArchive struct {
	mu   sync.Mutex
	recs []calls.Record
}

func (a *memArchive) Enqueue(r calls.Record) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, r)
	return true
}

func (a *memArchive) records() []calls.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]calls.Record(nil), a.recs...)
}

type fixture struct {
	clk     *clock.Fake
	bus     *events.Bus
	dialer  *telephony.SimulatedDialer
	archive *memArchive
	rt      *Runtime
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDefinition() Definition {
	p := pacing.DefaultConfig()
	p.InitialCapacity = 2
	p.MinCapacity = 1
	p.MaxCapacity = 10
	p.Cooldown = 0
	return Definition{
		ID:          "camp",
		Name:        "Test campaign",
		Pacing:      p,
		Session:     session.Config{RingTimeout: 20 * time.Second, WrapupTimeout: time.Minute},
		AutoAnswer:  true,
		MaxAttempts: 2,
		Agents:      []Agent{{ID: "a1", Endpoint: "sip:a1@pbx.local"}, {ID: "a2"}},
		Codes: []dispositions.Code{
			{ID: "SALE", IsSale: true, Selectable: true},
			{ID: "NI", Selectable: true},
			{ID: "DNC", IsDNC: true, Selectable: true},
			{ID: "CB", IsCallback: true, Selectable: true},
		},
		Leads: []leads.Lead{
			{Ref: "L1", Phone: "+15550001"},
			{Ref: "L2", Phone: "+15550002"},
			{Ref: "L3", Phone: "+15550003"},
		},
	}
}

func newFixture(t *testing.T, def Definition, steps ...telephony.Step) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	bus := events.NewBus()
	bus.Now = clk.Now
	d := telephony.NewSimulatedDialer(clk, telephony.NewSequence(steps...), discardLogger())
	arch := &memArchive{}
	rt, err := New(def, Deps{Clock: clk, Events: bus, Dialer: d, Archive: arch, Logger: discardLogger()})
	require.NoError(t, err)
	d.SetHandler(rt)
	return &fixture{clk: clk, bus: bus, dialer: d, archive: arch, rt: rt}
}

func (f *fixture) agent(t *testing.T, id string) *session.Machine {
	t.Helper()
	m, err := f.rt.Agent(id)
	require.NoError(t, err)
	return m
}

func sawEvent(ch <-chan events.Event, typ events.Type) bool {
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return true
			}
		default:
			return false
		}
	}
}

func TestRuntime_StartRequiresLeadsAndEligibleAgents(t *testing.T) {
	def := testDefinition()
	def.Leads = nil
	f := newFixture(t, def, telephony.Step{Outcome: telephony.OutcomeAnswered, After: time.Second})

	require.ErrorIs(t, f.rt.Start(), ErrNotReady)
	assert.Equal(t, StatusDraft, f.rt.Status())

	assert.Equal(t, 1, f.rt.AddLeads(leads.Lead{Ref: "L1", Phone: "+15550001"}))
	require.NoError(t, f.agent(t, "a1").Pause("LUNCH"))
	require.NoError(t, f.agent(t, "a2").Pause("LUNCH"))
	require.ErrorIs(t, f.rt.Start(), ErrNotReady)

	require.NoError(t, f.agent(t, "a1").Unpause())
	require.NoError(t, f.rt.Start())
	assert.Equal(t, StatusRunning, f.rt.Status())
	assert.Equal(t, 2, f.rt.pool.Capacity())

	require.ErrorIs(t, f.rt.Start(), ErrInvalidStatus)
}

func TestRuntime_FillSlotsStopsAtCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testDefinition(), telephony.Step{Outcome: telephony.OutcomeAnswered, After: 5 * time.Second})

	assert.Equal(t, 0, f.rt.FillSlots(ctx), "draft campaigns never dial")
	require.NoError(t, f.rt.Start())

	assert.Equal(t, 2, f.rt.FillSlots(ctx))
	assert.Equal(t, 0, f.rt.FillSlots(ctx))
	assert.Equal(t, 2, f.rt.pool.Occupied())
	assert.LessOrEqual(t, f.rt.pool.Occupied(), f.rt.pool.Capacity())
	assert.Len(t, f.dialer.Dialed(), 2)
	assert.Equal(t, 1, f.rt.hopper.Len())
}

func TestRuntime_AnsweredCallGoesToLongestIdleAgent(t *testing.T) {
	ctx := context.Background()
	def := testDefinition()
	def.Pacing.InitialCapacity = 1
	f := newFixture(t, def, telephony.Step{Outcome: telephony.OutcomeAnswered, After: time.Second, TalkFor: 30 * time.Second})
	a1, a2 := f.agent(t, "a1"), f.agent(t, "a2")

	// a1 comes back from a break later than a2 has been waiting.
	f.clk.Advance(time.Second)
	require.NoError(t, a1.Pause("BREAK"))
	require.NoError(t, a1.Unpause())

	require.NoError(t, f.rt.Start())
	require.Equal(t, 1, f.rt.FillSlots(ctx))

	f.clk.Advance(time.Second)
	assert.Equal(t, session.StateInCall, a2.State())
	assert.Equal(t, session.StateReady, a1.State())
	_, bridged := f.rt.pool.Counts()
	assert.Equal(t, 1, bridged)

	f.clk.Advance(30 * time.Second)
	assert.Equal(t, session.StateWrapup, a2.State())
	assert.Equal(t, 0, f.rt.pool.Occupied())

	s, err := a2.RecordDisposition("sale")
	require.NoError(t, err)
	assert.Equal(t, stats.OutcomeAnswered, s.Outcome)
	assert.Equal(t, 1, f.rt.window.Snapshot().Connected)

	recs := f.archive.records()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsSale)
	assert.Equal(t, "a2", recs[0].AgentID)
	assert.Equal(t, 30, recs[0].TalkSeconds)

	snap := f.rt.Snapshot()
	assert.Equal(t, 1, snap.SalesToday)
	assert.Equal(t, 1, snap.Dialed)
	assert.Equal(t, 2, snap.AgentsReady)
}

func TestRuntime_AnsweredCallDroppedWithoutReadyAgent(t *testing.T) {
	ctx := context.Background()
	def := testDefinition()
	def.Agents = []Agent{{ID: "a1"}}
	f := newFixture(t, def, telephony.Step{Outcome: telephony.OutcomeAnswered, After: time.Second})
	sub, cancel := f.bus.Subscribe(128)
	defer cancel()

	require.NoError(t, f.rt.Start())
	require.Equal(t, 2, f.rt.FillSlots(ctx))
	f.clk.Advance(time.Second)

	assert.Equal(t, session.StateInCall, f.agent(t, "a1").State())
	counts := f.rt.window.Snapshot()
	assert.Equal(t, 1, counts.Abandoned)
	assert.Equal(t, 0, counts.Connected)
	assert.Equal(t, 1, f.rt.pool.Occupied())

	recs := f.archive.records()
	require.Len(t, recs, 1)
	assert.Equal(t, dispositions.CodeDrop, recs[0].Disposition)
	assert.Equal(t, stats.OutcomeAbandoned, recs[0].Outcome)
	assert.Equal(t, 1, f.rt.Snapshot().Dropped)
	assert.True(t, sawEvent(sub, events.TypeCallDropped))
}

func TestRuntime_CarrierFailuresRequeueUntilMaxAttempts(t *testing.T) {
	ctx := context.Background()
	def := testDefinition()
	def.Leads = []leads.Lead{{Ref: "L1", Phone: "+15550001"}}
	f := newFixture(t, def, telephony.Step{Outcome: telephony.OutcomeBusy, After: time.Second})

	require.NoError(t, f.rt.Start())
	require.Equal(t, 1, f.rt.FillSlots(ctx))
	f.clk.Advance(time.Second)

	assert.Equal(t, 1, f.rt.window.Snapshot().Busy)
	assert.Equal(t, 0, f.rt.pool.Occupied())
	assert.Equal(t, 1, f.rt.hopper.Len())
	recs := f.archive.records()
	require.Len(t, recs, 1)
	assert.Equal(t, dispositions.CodeBusy, recs[0].Disposition)
	assert.Equal(t, stats.OutcomeBusy, recs[0].Outcome)

	require.Equal(t, 1, f.rt.FillSlots(ctx))
	f.clk.Advance(time.Second)
	assert.Equal(t, 2, f.rt.window.Snapshot().Busy)
	assert.Equal(t, 0, f.rt.hopper.Len())
	assert.Equal(t, 0, f.rt.FillSlots(ctx))

	f.rt.drainHangups(ctx)
	assert.Equal(t, 0, f.dialer.Pending())
}

func TestRuntime_ManualDial(t *testing.T) {
	ctx := context.Background()
	def := testDefinition()
	def.Pacing.Method = pacing.MethodManual
	def.Pacing.InitialCapacity = 1
	f := newFixture(t, def, telephony.Step{Outcome: telephony.OutcomeAnswered, After: 2 * time.Second, TalkFor: 10 * time.Second})
	a1 := f.agent(t, "a1")

	_, err := f.rt.ManualDial(ctx, "a1", leads.Lead{Ref: "M1", Phone: "+15559999"})
	require.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, f.rt.Start())
	assert.Equal(t, 0, f.rt.FillSlots(ctx), "manual campaigns never auto-dial")

	_, err = f.rt.ManualDial(ctx, "a1", leads.Lead{Ref: "M1"})
	require.ErrorIs(t, err, ErrInvalidLead)
	_, err = f.rt.ManualDial(ctx, "nobody", leads.Lead{Ref: "M1", Phone: "+15559999"})
	require.ErrorIs(t, err, ErrUnknownAgent)

	s, err := f.rt.ManualDial(ctx, "a1", leads.Lead{Ref: "M1", Phone: "+15559999"})
	require.NoError(t, err)
	assert.Equal(t, session.StateRinging, s.State)
	assert.NotEmpty(t, s.AttemptID)

	_, err = f.rt.ManualDial(ctx, "a1", leads.Lead{Ref: "M2", Phone: "+15559998"})
	require.ErrorIs(t, err, session.ErrInvalidTransition)
	_, err = f.rt.ManualDial(ctx, "a2", leads.Lead{Ref: "M2", Phone: "+15559998"})
	require.ErrorIs(t, err, ErrBusy)

	f.clk.Advance(2 * time.Second)
	assert.Equal(t, session.StateInCall, a1.State())

	require.NoError(t, a1.Hangup())
	assert.Equal(t, session.StateWrapup, a1.State())
	assert.Equal(t, 0, f.rt.pool.Occupied())
	f.rt.drainHangups(ctx)
	assert.Equal(t, 0, f.dialer.Pending(), "agent hangup cancels the telephony leg")

	_, err = a1.RecordDisposition("DNC")
	require.NoError(t, err)
	assert.Equal(t, 0, f.rt.hopper.Add(leads.Lead{Ref: "M1", Phone: "+15559999"}), "DNC lead is blocked")
}

func TestRuntime_PauseAndResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testDefinition(), telephony.Step{Outcome: telephony.OutcomeNoAnswer, After: 10 * time.Second})

	require.ErrorIs(t, f.rt.Pause(), ErrInvalidStatus)
	require.NoError(t, f.rt.Start())
	require.NoError(t, f.rt.Pause())
	assert.Equal(t, 0, f.rt.pool.Capacity())
	assert.Equal(t, 0, f.rt.FillSlots(ctx))
	require.ErrorIs(t, f.rt.Pause(), ErrInvalidStatus)

	require.NoError(t, f.rt.Resume())
	assert.Equal(t, 2, f.rt.pool.Capacity())
	assert.Equal(t, 2, f.rt.FillSlots(ctx))
}

func TestRuntime_AttemptWithoutOutcomeExpires(t *testing.T) {
	ctx := context.Background()
	def := testDefinition()
	def.AttemptTimeout = time.Minute
	f := newFixture(t, def, telephony.Step{Outcome: telephony.OutcomeAnswered, After: time.Hour})

	require.NoError(t, f.rt.Start())
	require.Equal(t, 2, f.rt.FillSlots(ctx))
	hopper := f.rt.Snapshot().HopperAvailable

	f.clk.Advance(59 * time.Second)
	assert.Equal(t, 2, f.rt.pool.Occupied())

	f.clk.Advance(time.Second)
	assert.Equal(t, 0, f.rt.pool.Occupied())
	recs := f.archive.records()
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, stats.OutcomeNoAnswer, rec.Outcome)
		assert.Equal(t, dispositions.CodeNoAnswer, rec.Disposition)
		assert.Equal(t, "attempt_timeout", rec.EndReason)
	}
	assert.Equal(t, hopper+2, f.rt.Snapshot().HopperAvailable, "expired leads go back to the hopper")
	assert.Equal(t, 2, f.rt.window.Snapshot().NoAnswer)

	// A late carrier report for an expired attempt is rejected.
	f.clk.Advance(time.Hour)
	for _, st := range f.rt.Agents() {
		assert.Equal(t, session.StateReady, st.State)
	}
}

func TestRuntime_OutcomeStopsAttemptExpiry(t *testing.T) {
	ctx := context.Background()
	def := testDefinition()
	def.AttemptTimeout = time.Minute
	f := newFixture(t, def, telephony.Step{Outcome: telephony.OutcomeBusy, After: time.Second})

	require.NoError(t, f.rt.Start())
	require.Equal(t, 2, f.rt.FillSlots(ctx))
	f.clk.Advance(time.Second)
	require.Len(t, f.archive.records(), 2)
	assert.Equal(t, 2, f.rt.window.Snapshot().Busy)

	f.clk.Advance(2 * time.Minute)
	assert.Len(t, f.archive.records(), 2, "no expiry after the carrier reported")
}

func TestRuntime_StopAbandonsRingingButNotInCall(t *testing.T) {
	ctx := context.Background()
	def := testDefinition()
	def.AutoAnswer = false
	def.Pacing.InitialCapacity = 3
	f := newFixture(t, def,
		telephony.Step{Outcome: telephony.OutcomeAnswered, After: time.Second},
		telephony.Step{Outcome: telephony.OutcomeAnswered, After: time.Second},
		telephony.Step{Outcome: telephony.OutcomeNoAnswer, After: 10 * time.Second},
	)
	a1, a2 := f.agent(t, "a1"), f.agent(t, "a2")

	require.NoError(t, f.rt.Start())
	require.Equal(t, 3, f.rt.FillSlots(ctx))
	f.clk.Advance(time.Second)
	require.Equal(t, session.StateRinging, a1.State())
	require.Equal(t, session.StateRinging, a2.State())
	require.NoError(t, a2.Connect())

	require.NoError(t, f.rt.Stop())
	assert.Equal(t, StatusCompleted, f.rt.Status())
	assert.Equal(t, session.StateWrapup, a1.State())
	cur, ok := a1.Current()
	require.True(t, ok)
	assert.Equal(t, "campaign_stop", cur.EndReason)
	assert.Equal(t, session.StateInCall, a2.State())
	assert.Equal(t, 1, f.rt.pool.Occupied())

	recs := f.archive.records()
	require.Len(t, recs, 1)
	assert.Equal(t, dispositions.CodeCanceled, recs[0].Disposition)
	assert.Equal(t, 0, f.rt.window.Snapshot().Total())

	f.rt.drainHangups(ctx)
	assert.Equal(t, 0, f.dialer.Pending())

	require.ErrorIs(t, f.rt.Start(), ErrInvalidStatus)
	require.ErrorIs(t, f.rt.Resume(), ErrInvalidStatus)
}

func TestRuntime_TransferMovesSlotAndCountsOnce(t *testing.T) {
	ctx := context.Background()
	def := testDefinition()
	def.Pacing.InitialCapacity = 1
	f := newFixture(t, def, telephony.Step{Outcome: telephony.OutcomeAnswered, After: time.Second})
	a1, a2 := f.agent(t, "a1"), f.agent(t, "a2")

	require.NoError(t, f.rt.Start())
	require.Equal(t, 1, f.rt.FillSlots(ctx))
	f.clk.Advance(time.Second)
	require.Equal(t, session.StateInCall, a1.State())
	held := f.rt.pool.Snapshot()
	require.Len(t, held, 1)

	_, err := f.rt.Transfer("a1", "nobody")
	require.ErrorIs(t, err, ErrUnknownAgent)

	target, err := f.rt.Transfer("a1", "a2")
	require.NoError(t, err)
	assert.Equal(t, session.StateWrapup, a1.State())
	assert.Equal(t, session.StateInCall, a2.State())
	slot, ok := f.rt.pool.Get(held[0].ID)
	require.True(t, ok)
	assert.Equal(t, target.ID, slot.OccupiedBy)

	_, err = a1.RecordDisposition("NI")
	require.NoError(t, err)
	require.NoError(t, a2.Hangup())
	assert.Equal(t, 0, f.rt.pool.Occupied())
	_, err = a2.RecordDisposition("SALE")
	require.NoError(t, err)

	counts := f.rt.window.Snapshot()
	assert.Equal(t, 1, counts.Connected)
	assert.Equal(t, 1, counts.Total())
	assert.Len(t, f.archive.records(), 2)
}

func TestRuntime_TickAdjustsCapacity(t *testing.T) {
	ctx := context.Background()
	def := testDefinition()
	def.Pacing.InitialCapacity = 10
	def.Pacing.MaxCapacity = 20
	f := newFixture(t, def, telephony.Step{Outcome: telephony.OutcomeNoAnswer, After: time.Hour})

	_, err := f.rt.Tick(ctx)
	require.ErrorIs(t, err, pacing.ErrSuspended)

	require.NoError(t, f.rt.Start())
	for i := 0; i < 50; i++ {
		f.rt.window.Record(stats.OutcomeAnswered)
	}
	d, err := f.rt.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, d.From)
	assert.Equal(t, 12, d.To)
	assert.Equal(t, 12, f.rt.pool.Capacity())
	assert.Equal(t, 3, f.rt.pool.Occupied(), "tick tops up slots from the hopper")

	prev, err := f.rt.SetTargetDropRate(0.05)
	require.NoError(t, err)
	assert.Equal(t, 0.03, prev)
	_, err = f.rt.SetTargetDropRate(1.5)
	require.Error(t, err)
}

func TestRuntime_HandleOutcomeRejectsUnknownAttempts(t *testing.T) {
	f := newFixture(t, testDefinition(), telephony.Step{Outcome: telephony.OutcomeAnswered, After: time.Second})

	b, err := f.rt.HandleOutcome(context.Background(), telephony.OutcomeEvent{AttemptID: "nope", Outcome: telephony.OutcomeAnswered})
	require.ErrorIs(t, err, ErrUnknownAttempt)
	assert.Equal(t, telephony.BridgeHangup, b.Action)

	_, err = f.rt.HandleOutcome(context.Background(), telephony.OutcomeEvent{AttemptID: "nope", Outcome: "exploded"})
	require.Error(t, err)
}

func TestRuntime_RunDialsOnKickAndStopsOnCancel(t *testing.T) {
	def := testDefinition()
	def.Tick = 10 * time.Millisecond
	d := telephony.NewSimulatedDialer(clock.Real(), telephony.NewSequence(telephony.Step{Outcome: telephony.OutcomeNoAnswer, After: time.Hour}), discardLogger())
	rt, err := New(def, Deps{Dialer: d, Logger: discardLogger()})
	require.NoError(t, err)
	d.SetHandler(rt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	require.NoError(t, rt.Start())
	assert.Eventually(t, func() bool { return len(d.Dialed()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runtime loop did not stop")
	}

	require.NoError(t, rt.Stop())
	rt.drainHangups(context.Background())
	assert.Equal(t, 0, d.Pending())
}
