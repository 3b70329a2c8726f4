package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/clock"
	"dialer-platform/internal/dispositions"
	"dialer-platform/internal/events"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/pacing"
	"dialer-platform/internal/session"
	"dialer-platform/internal/slots"
	"dialer-platform/internal/stats"
	"dialer-platform/internal/telephony"
)

// Archive receives finished sessions. calls.Archiver satisfies it.
type Archive interface {
	Enqueue(r calls.Record) bool
}

type discardArchive struct{}

func (discardArchive) Enqueue(calls.Record) bool { return true }

type Deps struct {
	Clock   clock.Clock
	Events  events.Publisher
	Dialer  telephony.Dialer
	Archive Archive
	Logger  *slog.Logger
}

// attempt is one outbound call handed to the telephony layer.
type attempt struct {
	id        string
	sessionID string
	slotID    string
	lead      leads.Lead
	startedAt time.Time

	// agentID is empty until the answered call is offered to an agent.
	agentID  string
	offering bool
	// hungUp records a remote hangup that arrived while the call was being offered.
	hungUp bool
	// expiry closes the attempt if the carrier never reports back.
	expiry clock.Timer
}

// Runtime is one campaign: its slot pool, pacing controller, outcome window, lead hopper
// and the session machines of its agents. It implements session.Listener for its machines
// and telephony.OutcomeHandler for its attempts.
type Runtime struct {
	def     Definition
	clock   clock.Clock
	events  events.Publisher
	dialer  telephony.Dialer
	archive Archive
	log     *slog.Logger

	catalog    *dispositions.Catalog
	pool       *slots.Pool
	window     *stats.Window
	controller *pacing.Controller
	hopper     *leads.Hopper

	kick    chan struct{}
	hangups chan string

	// dialMu is held from Dial until the attempt is registered, so outcomes never
	// race ahead of their attempt.
	dialMu sync.Mutex

	mu         sync.Mutex
	status     Status
	machines   map[string]*session.Machine
	endpoints  map[string]string
	attempts   map[string]*attempt
	sessLeads  map[string]leads.Lead
	salesDay   string
	salesToday int
	dialed     int
	dropped    int
}

func New(def Definition, deps Deps) (*Runtime, error) {
	if strings.TrimSpace(def.ID) == "" {
		return nil, errors.New("campaign: id is required")
	}
	if deps.Dialer == nil {
		return nil, errors.New("campaign: dialer is required")
	}
	if deps.Archive == nil {
		deps.Archive = discardArchive{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if def.Tick <= 0 {
		def.Tick = 3 * time.Second
	}
	if def.Window <= 0 {
		def.Window = time.Minute
	}
	if def.AttemptTimeout <= 0 {
		def.AttemptTimeout = 2 * time.Minute
	}

	c := clock.OrReal(deps.Clock)
	pub := events.OrDiscard(deps.Events)
	r := &Runtime{
		def:       def,
		clock:     c,
		events:    pub,
		dialer:    deps.Dialer,
		archive:   deps.Archive,
		log:       deps.Logger.With("campaign_id", def.ID),
		catalog:   dispositions.NewCatalog(def.Codes...),
		pool:      slots.NewPool(def.ID, 0, pub),
		window:    stats.NewWindow(c, def.Window, def.WindowMaxSamples),
		hopper:    leads.NewHopper(def.MaxAttempts),
		kick:      make(chan struct{}, 1),
		hangups:   make(chan string, 256),
		status:    StatusDraft,
		machines:  map[string]*session.Machine{},
		endpoints: map[string]string{},
		attempts:  map[string]*attempt{},
		sessLeads: map[string]leads.Lead{},
	}

	ctrl, err := pacing.New(def.ID, def.Pacing, r.window, r.pool, pacing.Options{
		Clock:          c,
		Events:         pub,
		Logger:         deps.Logger,
		EligibleAgents: r.eligibleAgents,
	})
	if err != nil {
		return nil, err
	}
	r.controller = ctrl

	for _, a := range def.Agents {
		if err := r.AddAgent(a); err != nil {
			return nil, err
		}
	}
	r.hopper.Add(def.Leads...)
	return r, nil
}

func (r *Runtime) ID() string { return r.def.ID }

func (r *Runtime) Name() string { return r.def.Name }

func (r *Runtime) Catalog() *dispositions.Catalog { return r.catalog }

func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// AddAgent puts an agent on the campaign roster in Ready.
func (r *Runtime) AddAgent(a Agent) error {
	id := strings.TrimSpace(a.ID)
	if id == "" {
		return errors.New("campaign: agent id is required")
	}
	m := session.NewMachine(r.def.ID, id, r.def.Session, session.Options{
		Catalog:  r.catalog,
		Clock:    r.clock,
		Events:   r.events,
		Listener: r,
		Logger:   r.log,
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.machines[id]; ok {
		return fmt.Errorf("campaign: agent %q already on roster", id)
	}
	r.machines[id] = m
	r.endpoints[id] = a.Endpoint
	return nil
}

// Agent returns the session machine of an agent.
func (r *Runtime) Agent(id string) (*session.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.machines[id]
	if !ok {
		return nil, ErrUnknownAgent
	}
	return m, nil
}

// Transfer moves the call of one agent to another Ready agent of the campaign.
func (r *Runtime) Transfer(fromAgentID, toAgentID string) (session.Session, error) {
	from, err := r.Agent(fromAgentID)
	if err != nil {
		return session.Session{}, err
	}
	to, err := r.Agent(toAgentID)
	if err != nil {
		return session.Session{}, err
	}
	return from.RequestTransfer(to)
}

// Agents lists agent statuses ordered by id.
func (r *Runtime) Agents() []session.AgentStatus {
	ms := r.machineList()
	out := make([]session.AgentStatus, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Status())
	}
	return out
}

func (r *Runtime) machineList() []*session.Machine {
	r.mu.Lock()
	out := make([]*session.Machine, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, m)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID() < out[j].AgentID() })
	return out
}

// eligibleAgents counts agents that are logged in and not paused.
func (r *Runtime) eligibleAgents() int {
	n := 0
	for _, m := range r.machineList() {
		if m.State() != session.StatePaused {
			n++
		}
	}
	return n
}

// readyByIdle returns Ready agents, longest idle first.
func (r *Runtime) readyByIdle() []*session.Machine {
	type idle struct {
		m     *session.Machine
		since time.Time
	}
	var ready []idle
	for _, m := range r.machineList() {
		st := m.Status()
		if st.State == session.StateReady {
			ready = append(ready, idle{m: m, since: st.ReadySince})
		}
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].since.Before(ready[j].since) })
	out := make([]*session.Machine, len(ready))
	for i, x := range ready {
		out[i] = x.m
	}
	return out
}

// AddLeads feeds the hopper and returns how many leads were accepted.
func (r *Runtime) AddLeads(ls ...leads.Lead) int {
	n := r.hopper.Add(ls...)
	if n > 0 {
		r.kickDial()
	}
	return n
}

// SetTargetDropRate changes the pacing target and returns the previous one.
func (r *Runtime) SetTargetDropRate(t float64) (float64, error) {
	prev := r.controller.State().TargetDropRate
	if err := r.controller.SetTargetDropRate(t); err != nil {
		return prev, err
	}
	return prev, nil
}

// Start moves Draft -> Running. It needs leads in the hopper and at least one agent
// that is not paused.
func (r *Runtime) Start() error {
	if st := r.Status(); st != StatusDraft {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, st, StatusRunning)
	}
	if r.hopper.Len() == 0 {
		return fmt.Errorf("%w: lead hopper is empty", ErrNotReady)
	}
	if r.eligibleAgents() == 0 {
		return fmt.Errorf("%w: no eligible agents", ErrNotReady)
	}
	if err := r.transition(StatusRunning, StatusDraft); err != nil {
		return err
	}
	r.controller.Resume()
	r.kickDial()
	return nil
}

// Pause stops new dials. In-flight sessions drain normally.
func (r *Runtime) Pause() error {
	if err := r.transition(StatusPaused, StatusRunning); err != nil {
		return err
	}
	r.controller.Suspend()
	return nil
}

// Resume restores the last capacity and re-engages pacing.
func (r *Runtime) Resume() error {
	if err := r.transition(StatusRunning, StatusPaused); err != nil {
		return err
	}
	r.controller.Resume()
	r.kickDial()
	return nil
}

// Stop completes the campaign. Ringing sessions are abandoned and unanswered attempts
// canceled; sessions already in a call are left to finish.
func (r *Runtime) Stop() error {
	if err := r.transition(StatusCompleted, StatusDraft, StatusRunning, StatusPaused); err != nil {
		return err
	}
	r.controller.Suspend()

	abandoned := 0
	for _, m := range r.machineList() {
		if m.AbandonRinging("campaign_stop") {
			abandoned++
		}
	}

	r.mu.Lock()
	var pending []attempt
	for id, a := range r.attempts {
		if a.agentID == "" && !a.offering {
			stopExpiry(a)
			pending = append(pending, *a)
			delete(r.attempts, id)
		}
	}
	r.mu.Unlock()
	for _, a := range pending {
		r.finishAttempt(a, "", dispositions.CodeCanceled, "campaign_stop")
	}

	if abandoned > 0 || len(pending) > 0 {
		r.log.Warn("campaign stopped with calls in flight",
			"ringing_abandoned", abandoned,
			"attempts_canceled", len(pending),
		)
	}
	return nil
}

func (r *Runtime) transition(to Status, from ...Status) error {
	r.mu.Lock()
	cur := r.status
	allowed := false
	for _, f := range from {
		if cur == f {
			allowed = true
			break
		}
	}
	if !allowed {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, cur, to)
	}
	r.status = to
	r.mu.Unlock()

	r.log.Info("campaign status changed", "from", string(cur), "to", string(to))
	r.events.Publish(events.Event{
		Type:       events.TypeCampaignStatus,
		CampaignID: r.def.ID,
		From:       string(cur),
		To:         string(to),
	})
	return nil
}

// Tick runs one pacing step and tops up the slots.
func (r *Runtime) Tick(ctx context.Context) (pacing.Decision, error) {
	if r.Status() != StatusRunning {
		return pacing.Decision{}, pacing.ErrSuspended
	}
	d, err := r.controller.Tick()
	switch {
	case errors.Is(err, pacing.ErrInsufficientData):
		r.log.Debug("pacing skipped, no samples in window")
	case err != nil:
		r.log.Warn("pacing tick failed", "err", err)
	}
	r.FillSlots(ctx)
	return d, err
}

// Run drives the campaign until ctx is done: pacing ticks, dial kicks and telephony
// hangups all run on this goroutine.
func (r *Runtime) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.def.Tick)
	defer ticker.Stop()

	r.log.Info("campaign loop started", "tick", r.def.Tick.String(), "method", string(r.def.Pacing.Method))
	for {
		select {
		case <-ctx.Done():
			r.drainHangups(context.Background())
			r.log.Info("campaign loop stopped")
			return nil
		case <-ticker.C():
			_, _ = r.Tick(ctx)
		case <-r.kick:
			r.FillSlots(ctx)
		case id := <-r.hangups:
			r.hangup(ctx, id)
		}
	}
}

func (r *Runtime) kickDial() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// requestHangup tells the telephony layer an attempt is over. Every attempt the dialer
// returned is hung up exactly once, including ones the carrier already ended.
func (r *Runtime) requestHangup(attemptID string) {
	if attemptID == "" {
		return
	}
	select {
	case r.hangups <- attemptID:
	default:
		r.hangup(context.Background(), attemptID)
	}
}

func (r *Runtime) hangup(ctx context.Context, attemptID string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.dialer.Hangup(ctx, attemptID); err != nil {
		r.log.Warn("telephony hangup failed", "attempt_id", attemptID, "err", err)
	}
}

func (r *Runtime) drainHangups(ctx context.Context) {
	for {
		select {
		case id := <-r.hangups:
			r.hangup(ctx, id)
		default:
			return
		}
	}
}

// SessionBridged implements session.Listener.
func (r *Runtime) SessionBridged(s session.Session) {
	if s.SlotID != "" {
		r.pool.MarkBridged(s.SlotID)
	}
}

// SessionEnded implements session.Listener. The slot is released unless it was handed
// to a transfer target.
func (r *Runtime) SessionEnded(s session.Session) {
	if s.SlotID == "" {
		return
	}
	r.pool.Release(s.SlotID)
	r.mu.Lock()
	if a, ok := r.attempts[s.AttemptID]; ok && a.sessionID == s.ID {
		delete(r.attempts, s.AttemptID)
	}
	r.mu.Unlock()
	r.requestHangup(s.AttemptID)
	r.kickDial()
}

// SessionTransferred implements session.Listener.
func (r *Runtime) SessionTransferred(origin, target session.Session) {
	if target.SlotID != "" {
		r.pool.Reassign(target.SlotID, target.ID)
	}
	r.mu.Lock()
	if a, ok := r.attempts[target.AttemptID]; ok {
		a.agentID = target.AgentID
		a.sessionID = target.ID
	}
	if l, ok := r.sessLeads[origin.ID]; ok {
		delete(r.sessLeads, origin.ID)
		r.sessLeads[target.ID] = l
	}
	r.mu.Unlock()
}

// SessionArchived implements session.Listener. The outcome reaches the stats window
// before this returns. Sessions created by a transfer are not counted again.
func (r *Runtime) SessionArchived(s session.Session) {
	if s.TransferredFrom == "" {
		r.window.Record(s.Outcome)
	}
	code, _ := r.catalog.Lookup(s.Disposition)
	if !r.archive.Enqueue(calls.FromSession(s, code)) {
		r.log.Warn("session not archived", "session_id", s.ID)
	}

	now := r.clock.Now()
	r.mu.Lock()
	lead, hasLead := r.sessLeads[s.ID]
	delete(r.sessLeads, s.ID)
	if code.IsSale {
		r.countSaleLocked(now)
	}
	r.mu.Unlock()

	if hasLead {
		r.applyLeadPolicy(lead, code, s.Outcome)
	}
	r.kickDial()
}

func (r *Runtime) applyLeadPolicy(l leads.Lead, code dispositions.Code, outcome stats.Outcome) {
	switch {
	case code.IsDNC:
		r.hopper.Block(l.Ref)
	case code.IsCallback, outcome == stats.OutcomeBusy, outcome == stats.OutcomeNoAnswer:
		r.hopper.Requeue(l)
	}
}

func (r *Runtime) countSaleLocked(now time.Time) {
	day := now.Format("2006-01-02")
	if day != r.salesDay {
		r.salesDay = day
		r.salesToday = 0
	}
	r.salesToday++
}
