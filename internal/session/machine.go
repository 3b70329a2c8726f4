package session

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"dialer-platform/internal/clock"
	"dialer-platform/internal/dispositions"
	"dialer-platform/internal/events"
	"dialer-platform/internal/stats"

	"github.com/google/uuid"
)

// Listener receives the side effects of session transitions that touch shared campaign state.
// Callbacks run after the machine lock is released, before the triggering command returns.
type Listener interface {
	// SessionBridged fires on connect; the dial slot moves from Dialing to Bridged.
	SessionBridged(s Session)
	// SessionEnded fires when the call leg is gone (Wrapup entered). s.SlotID is empty
	// when the slot was handed to a transfer target.
	SessionEnded(s Session)
	// SessionTransferred fires once per successful transfer; the slot now belongs to target.
	SessionTransferred(origin, target Session)
	// SessionArchived fires when a disposition is recorded. It must apply s.Outcome to
	// campaign statistics before returning.
	SessionArchived(s Session)
}

type nopListener struct{}

func (nopListener) SessionBridged(Session)              {}
func (nopListener) SessionEnded(Session)                {}
func (nopListener) SessionTransferred(Session, Session) {}
func (nopListener) SessionArchived(Session)             {}

type Config struct {
	// RingTimeout abandons a Ringing session that is not connected in time. Zero disables.
	RingTimeout time.Duration
	// WrapupTimeout force-dispositions a session left in Wrapup. Zero disables.
	WrapupTimeout time.Duration

	TransferPolicy TransferPolicy

	// PauseCodes restricts Pause; empty accepts any non-empty code.
	PauseCodes []string
}

// Machine is the call-session state machine of a single agent.
// Safe for concurrent use; commands are serialized per agent.
type Machine struct {
	agentID    string
	campaignID string

	cfg      Config
	catalog  *dispositions.Catalog
	clock    clock.Clock
	events   events.Publisher
	listener Listener
	log      *slog.Logger

	mu         sync.Mutex
	state      State
	current    *Session
	pauseCode  string
	readySince time.Time
	ringTimer  clock.Timer
	wrapTimer  clock.Timer
}

type Options struct {
	Catalog  *dispositions.Catalog
	Clock    clock.Clock
	Events   events.Publisher
	Listener Listener
	Logger   *slog.Logger
}

// NewMachine returns a machine for agentID starting in Ready.
func NewMachine(campaignID, agentID string, cfg Config, opts Options) *Machine {
	if !cfg.TransferPolicy.Valid() {
		cfg.TransferPolicy = TransferBlind
	}
	if opts.Catalog == nil {
		opts.Catalog = dispositions.NewCatalog()
	}
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := clock.OrReal(opts.Clock)
	return &Machine{
		agentID:    agentID,
		campaignID: campaignID,
		cfg:        cfg,
		catalog:    opts.Catalog,
		clock:      c,
		events:     events.OrDiscard(opts.Events),
		listener:   opts.Listener,
		log:        opts.Logger.With("agent_id", agentID, "campaign_id", campaignID),
		state:      StateReady,
		readySince: c.Now(),
	}
}

func (m *Machine) AgentID() string { return m.agentID }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns a copy of the bound session, if any.
func (m *Machine) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

// AgentStatus is a read-only view of a machine.
type AgentStatus struct {
	AgentID    string    `json:"agent_id"`
	State      State     `json:"state"`
	StateName  string    `json:"state_name"`
	PauseCode  string    `json:"pause_code,omitempty"`
	ReadySince time.Time `json:"ready_since,omitempty"`
	Session    *Session  `json:"session,omitempty"`
}

func (m *Machine) Status() AgentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := AgentStatus{AgentID: m.agentID, State: m.state, StateName: m.state.String(), PauseCode: m.pauseCode}
	if m.state == StateReady {
		st.ReadySince = m.readySince
	}
	if m.current != nil {
		cp := *m.current
		st.Session = &cp
	}
	return st
}

// AssignLead binds s to this agent and starts ringing. Ready -> Ringing.
func (m *Machine) AssignLead(s Session) (Session, error) {
	m.mu.Lock()
	if m.state != StateReady {
		from := m.state
		m.mu.Unlock()
		return Session{}, reject("assign_lead", from, ErrInvalidTransition)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = m.clock.Now()
	}
	s.CampaignID = m.campaignID
	s.AgentID = m.agentID
	s.State = StateRinging
	m.current = &s
	m.state = StateRinging
	if m.cfg.RingTimeout > 0 {
		id := s.ID
		m.ringTimer = m.clock.AfterFunc(m.cfg.RingTimeout, func() { m.ringExpired(id) })
	}
	out := s
	m.mu.Unlock()

	m.publish(events.Event{Type: events.TypeSessionDialing, SessionID: out.ID, Code: out.LeadRef})
	m.publishState(out.ID, StateReady, StateRinging, "")
	return out, nil
}

// Connect bridges the ringing call to the agent. Ringing -> InCall.
func (m *Machine) Connect() error {
	m.mu.Lock()
	if m.state != StateRinging {
		from := m.state
		m.mu.Unlock()
		return reject("connect", from, ErrNotRinging)
	}
	stopTimer(&m.ringTimer)
	now := m.clock.Now()
	m.current.ConnectedAt = &now
	m.current.State = StateInCall
	m.state = StateInCall
	out := *m.current
	m.mu.Unlock()

	m.listener.SessionBridged(out)
	m.publishState(out.ID, StateRinging, StateInCall, "")
	return nil
}

// Hold puts the call on hold. No-op when already held.
func (m *Machine) Hold() error {
	return m.inCall("hold", func(s *Session, now time.Time) {
		if s.OnHold {
			return
		}
		s.OnHold = true
		s.holdStartedAt = now
	})
}

// Resume takes the call off hold. No-op when not held.
func (m *Machine) Resume() error {
	return m.inCall("resume", func(s *Session, now time.Time) {
		if !s.OnHold {
			return
		}
		s.OnHold = false
		s.HoldDuration += now.Sub(s.holdStartedAt)
		s.holdStartedAt = time.Time{}
	})
}

func (m *Machine) Mute() error {
	return m.inCall("mute", func(s *Session, _ time.Time) { s.Muted = true })
}

func (m *Machine) Unmute() error {
	return m.inCall("unmute", func(s *Session, _ time.Time) { s.Muted = false })
}

func (m *Machine) inCall(op string, fn func(s *Session, now time.Time)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateInCall {
		return reject(op, m.state, ErrNotInCall)
	}
	fn(m.current, m.clock.Now())
	return nil
}

// RequestTransfer hands the customer leg to target, which must be Ready.
//
// Both machines are locked (in agent id order) for the check-and-claim, so two concurrent
// transfers can never land on the same idle agent. The target enters InCall directly.
// Under TransferBlind the origin moves to Wrapup; under TransferConsult it stays bridged
// in Transferring until it hangs up.
func (m *Machine) RequestTransfer(target *Machine) (Session, error) {
	if target == nil || target == m {
		return Session{}, reject("request_transfer", m.State(), ErrTargetUnavailable)
	}
	first, second := m, target
	if target.agentID < m.agentID {
		first, second = target, m
	}
	first.mu.Lock()
	second.mu.Lock()

	if m.state != StateInCall {
		from := m.state
		second.mu.Unlock()
		first.mu.Unlock()
		return Session{}, reject("request_transfer", from, ErrNotInCall)
	}
	if target.state != StateReady || target.campaignID != m.campaignID {
		second.mu.Unlock()
		first.mu.Unlock()
		return Session{}, reject("request_transfer", StateInCall, ErrTargetUnavailable)
	}

	now := m.clock.Now()
	origin := m.current
	policy := m.cfg.TransferPolicy

	ts := &Session{
		ID:              uuid.NewString(),
		CampaignID:      origin.CampaignID,
		AgentID:         target.agentID,
		LeadRef:         origin.LeadRef,
		AttemptID:       origin.AttemptID,
		SlotID:          origin.SlotID,
		State:           StateInCall,
		StartedAt:       now,
		ConnectedAt:     &now,
		TransferredFrom: origin.ID,
		TransferPolicy:  policy,
	}
	target.current = ts
	target.state = StateInCall
	target.pauseCode = ""

	origin.TransferTargetID = target.agentID
	origin.TransferPolicy = policy
	origin.SlotID = ""
	closeHold(origin, now)

	var originTo State
	if policy == TransferConsult {
		origin.State = StateTransferring
		m.state = StateTransferring
		originTo = StateTransferring
	} else {
		m.endLocked(now, "transferred", "")
		originTo = StateWrapup
	}
	outOrigin, outTarget := *origin, *ts
	second.mu.Unlock()
	first.mu.Unlock()

	m.listener.SessionTransferred(outOrigin, outTarget)
	if originTo == StateWrapup {
		m.listener.SessionEnded(outOrigin)
	}
	m.publish(events.Event{
		Type:      events.TypeSessionTransfer,
		SessionID: outOrigin.ID,
		To:        target.agentID,
		Code:      string(policy),
	})
	m.publishState(outOrigin.ID, StateInCall, originTo, "transfer")
	target.publishState(outTarget.ID, StateReady, StateInCall, "transfer")
	return outTarget, nil
}

// Hangup ends the call from the agent side. Ringing/InCall/Transferring -> Wrapup.
func (m *Machine) Hangup() error {
	return m.end("hangup", "agent_hangup", "")
}

// RemoteHangup ends the call from the signaling side. A non-empty carrier outcome
// (failed, busy, no_answer) is kept and becomes the archived outcome.
func (m *Machine) RemoteHangup(carrier stats.Outcome) error {
	reason := "remote_hangup"
	if carrier != "" {
		reason = "carrier_" + string(carrier)
	}
	return m.end("remote_hangup", reason, carrier)
}

// AbandonRinging ends a session that is still Ringing; used when a campaign stops.
// Returns false when the machine was not ringing.
func (m *Machine) AbandonRinging(reason string) bool {
	m.mu.Lock()
	if m.state != StateRinging {
		m.mu.Unlock()
		return false
	}
	out := m.endLocked(m.clock.Now(), reason, "")
	m.mu.Unlock()

	m.afterEnd(out, StateRinging)
	return true
}

func (m *Machine) end(op, reason string, carrier stats.Outcome) error {
	m.mu.Lock()
	from := m.state
	switch from {
	case StateRinging, StateInCall, StateTransferring:
	default:
		m.mu.Unlock()
		return reject(op, from, ErrInvalidTransition)
	}
	out := m.endLocked(m.clock.Now(), reason, carrier)
	m.mu.Unlock()

	m.afterEnd(out, from)
	return nil
}

func (m *Machine) afterEnd(out Session, from State) {
	m.listener.SessionEnded(out)
	m.publishState(out.ID, from, StateWrapup, out.EndReason)
}

// endLocked moves the current session into Wrapup. Caller holds m.mu.
func (m *Machine) endLocked(now time.Time, reason string, carrier stats.Outcome) Session {
	stopTimer(&m.ringTimer)
	s := m.current
	closeHold(s, now)
	s.EndedAt = &now
	s.Muted = false
	s.EndReason = reason
	if carrier != "" && carrier != stats.OutcomeAnswered && carrier != stats.OutcomeAbandoned {
		s.CarrierOutcome = carrier
	}
	s.State = StateWrapup
	m.state = StateWrapup
	if m.cfg.WrapupTimeout > 0 {
		id := s.ID
		m.wrapTimer = m.clock.AfterFunc(m.cfg.WrapupTimeout, func() { m.wrapupExpired(id) })
	}
	return *s
}

// RecordDisposition archives the session with an agent-selectable code. Wrapup -> Ready.
func (m *Machine) RecordDisposition(codeID string) (Session, error) {
	m.mu.Lock()
	if m.state != StateWrapup {
		from := m.state
		m.mu.Unlock()
		return Session{}, reject("record_disposition", from, ErrInvalidTransition)
	}
	code, ok := m.catalog.Selectable(codeID)
	if !ok {
		m.mu.Unlock()
		return Session{}, reject("record_disposition", StateWrapup, ErrMissingDisposition)
	}
	out := m.archiveLocked(code, false)
	m.mu.Unlock()

	m.afterArchive(out)
	return out, nil
}

func (m *Machine) archiveLocked(code dispositions.Code, forced bool) Session {
	stopTimer(&m.wrapTimer)
	now := m.clock.Now()
	s := m.current
	s.Disposition = code.ID
	s.ForcedDisposition = forced
	s.Outcome = deriveOutcome(*s, code)
	s.ArchivedAt = &now
	out := *s

	m.current = nil
	m.state = StateReady
	m.readySince = now
	return out
}

func (m *Machine) afterArchive(out Session) {
	m.listener.SessionArchived(out)
	m.publish(events.Event{
		Type:      events.TypeSessionArchived,
		SessionID: out.ID,
		Code:      out.Disposition,
		Reason:    string(out.Outcome),
	})
	m.publishState(out.ID, StateWrapup, StateReady, "")
}

// deriveOutcome maps a finished session to the pacing feedback signal.
func deriveOutcome(s Session, code dispositions.Code) stats.Outcome {
	switch {
	case s.CarrierOutcome != "":
		return s.CarrierOutcome
	case code.Category == dispositions.CategoryMachine:
		return stats.OutcomeFailed
	case s.ConnectedAt != nil:
		return stats.OutcomeAnswered
	default:
		return stats.OutcomeAbandoned
	}
}

// Pause takes a Ready agent out of rotation. Ready -> Paused.
func (m *Machine) Pause(code string) error {
	code = strings.TrimSpace(code)
	m.mu.Lock()
	if m.state != StateReady {
		from := m.state
		m.mu.Unlock()
		return reject("pause", from, ErrInvalidTransition)
	}
	if !m.pauseCodeAllowed(code) {
		m.mu.Unlock()
		return reject("pause", StateReady, ErrUnknownPauseCode)
	}
	m.state = StatePaused
	m.pauseCode = code
	m.mu.Unlock()

	m.publish(events.Event{Type: events.TypeSessionState, From: StateReady.String(), To: StatePaused.String(), Code: code})
	return nil
}

// Unpause returns the agent to Ready. Paused -> Ready.
func (m *Machine) Unpause() error {
	m.mu.Lock()
	if m.state != StatePaused {
		from := m.state
		m.mu.Unlock()
		return reject("unpause", from, ErrInvalidTransition)
	}
	m.state = StateReady
	m.pauseCode = ""
	m.readySince = m.clock.Now()
	m.mu.Unlock()

	m.publish(events.Event{Type: events.TypeSessionState, From: StatePaused.String(), To: StateReady.String()})
	return nil
}

func (m *Machine) pauseCodeAllowed(code string) bool {
	if code == "" {
		return false
	}
	if len(m.cfg.PauseCodes) == 0 {
		return true
	}
	for _, c := range m.cfg.PauseCodes {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

func (m *Machine) ringExpired(sessionID string) {
	m.mu.Lock()
	if m.state != StateRinging || m.current == nil || m.current.ID != sessionID {
		m.mu.Unlock()
		return
	}
	m.ringTimer = nil
	out := m.endLocked(m.clock.Now(), "ring_timeout", "")
	m.mu.Unlock()

	m.log.Warn("ring timeout, customer abandoned", "session_id", sessionID)
	m.afterEnd(out, StateRinging)
}

func (m *Machine) wrapupExpired(sessionID string) {
	m.mu.Lock()
	if m.state != StateWrapup || m.current == nil || m.current.ID != sessionID {
		m.mu.Unlock()
		return
	}
	m.wrapTimer = nil
	code, ok := m.catalog.Lookup(dispositions.CodeWrapupTimeout)
	if !ok {
		code = dispositions.Code{ID: dispositions.CodeWrapupTimeout, Category: dispositions.CategorySystem}
	}
	out := m.archiveLocked(code, true)
	m.mu.Unlock()

	m.log.Warn("wrap-up timeout, forcing system disposition",
		"session_id", sessionID,
		"disposition", out.Disposition,
		"outcome", string(out.Outcome),
		"timeout", m.cfg.WrapupTimeout.String(),
	)
	m.publish(events.Event{
		Type:      events.TypeForcedDisposition,
		SessionID: sessionID,
		Code:      out.Disposition,
		Reason:    "wrapup_timeout",
	})
	m.afterArchive(out)
}

func (m *Machine) publish(e events.Event) {
	e.CampaignID = m.campaignID
	e.AgentID = m.agentID
	m.events.Publish(e)
}

func (m *Machine) publishState(sessionID string, from, to State, reason string) {
	m.publish(events.Event{
		Type:      events.TypeSessionState,
		SessionID: sessionID,
		From:      from.String(),
		To:        to.String(),
		Reason:    reason,
	})
}

func closeHold(s *Session, now time.Time) {
	if s.OnHold {
		s.HoldDuration += now.Sub(s.holdStartedAt)
		s.OnHold = false
		s.holdStartedAt = time.Time{}
	}
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
