package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/dispositions"
	"dialer-platform/internal/events"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/pacing"
	"dialer-platform/internal/session"
	"dialer-platform/internal/stats"
	"dialer-platform/internal/telephony"
)

// FillSlots dials hopper leads until the pool reports Busy, the hopper is empty or no
// agent is eligible. Returns the number of attempts placed.
func (r *Runtime) FillSlots(ctx context.Context) int {
	if r.Status() != StatusRunning || r.def.Pacing.Method == pacing.MethodManual {
		return 0
	}
	n := 0
	for ctx.Err() == nil {
		if r.hopper.Len() == 0 || r.eligibleAgents() == 0 {
			break
		}
		ok, err := r.dialNext(ctx)
		if err != nil {
			if errors.Is(err, telephony.ErrTrunkBusy) {
				r.log.Debug("trunk cap reached")
			} else {
				r.log.Warn("dial failed", "err", err)
			}
			break
		}
		if !ok {
			break
		}
		n++
	}
	return n
}

func (r *Runtime) dialNext(ctx context.Context) (bool, error) {
	sess := session.New(r.def.ID, "", r.clock.Now())
	slot, ok := r.pool.TryAcquire(sess.ID)
	if !ok {
		return false, nil
	}
	lead, ok := r.hopper.Next()
	if !ok {
		r.pool.Release(slot.ID)
		return false, nil
	}

	r.dialMu.Lock()
	defer r.dialMu.Unlock()
	attemptID, err := r.dialer.Dial(ctx, telephony.DialRequest{
		CampaignID: r.def.ID,
		SessionID:  sess.ID,
		LeadRef:    lead.Ref,
		To:         lead.Phone,
		CallerID:   r.def.CallerID,
	})
	if err != nil {
		r.pool.Release(slot.ID)
		if errors.Is(err, telephony.ErrTrunkBusy) {
			lead.Attempts--
		}
		r.hopper.Requeue(lead)
		return false, err
	}

	r.mu.Lock()
	r.attempts[attemptID] = &attempt{
		id:        attemptID,
		sessionID: sess.ID,
		slotID:    slot.ID,
		lead:      lead,
		startedAt: sess.StartedAt,
		expiry:    r.clock.AfterFunc(r.def.AttemptTimeout, func() { r.expireAttempt(attemptID) }),
	}
	r.dialed++
	r.mu.Unlock()

	r.publishDialed(sess.ID, "", lead.Ref, attemptID)
	return true, nil
}

// ManualDial places a call for a Ready agent. The agent's session starts Ringing at once.
func (r *Runtime) ManualDial(ctx context.Context, agentID string, lead leads.Lead) (session.Session, error) {
	lead.Ref = strings.TrimSpace(lead.Ref)
	lead.Phone = strings.TrimSpace(lead.Phone)
	if lead.Ref == "" || lead.Phone == "" {
		return session.Session{}, ErrInvalidLead
	}
	if r.Status() != StatusRunning {
		return session.Session{}, ErrNotRunning
	}
	m, err := r.Agent(agentID)
	if err != nil {
		return session.Session{}, err
	}
	if st := m.State(); st != session.StateReady {
		return session.Session{}, &session.TransitionError{Op: "assign_lead", From: st, Err: session.ErrInvalidTransition}
	}

	sess := session.New(r.def.ID, lead.Ref, r.clock.Now())
	slot, ok := r.pool.TryAcquire(sess.ID)
	if !ok {
		return session.Session{}, ErrBusy
	}
	sess.SlotID = slot.ID
	lead.Attempts++

	r.dialMu.Lock()
	defer r.dialMu.Unlock()
	attemptID, err := r.dialer.Dial(ctx, telephony.DialRequest{
		CampaignID: r.def.ID,
		SessionID:  sess.ID,
		LeadRef:    lead.Ref,
		To:         lead.Phone,
		CallerID:   r.def.CallerID,
	})
	if err != nil {
		r.pool.Release(slot.ID)
		return session.Session{}, fmt.Errorf("campaign: manual dial: %w", err)
	}
	sess.AttemptID = attemptID

	r.mu.Lock()
	r.attempts[attemptID] = &attempt{
		id:        attemptID,
		sessionID: sess.ID,
		slotID:    slot.ID,
		lead:      lead,
		startedAt: sess.StartedAt,
		agentID:   agentID,
	}
	r.sessLeads[sess.ID] = lead
	r.dialed++
	r.mu.Unlock()

	out, err := m.AssignLead(sess)
	if err != nil {
		r.mu.Lock()
		delete(r.attempts, attemptID)
		delete(r.sessLeads, sess.ID)
		r.mu.Unlock()
		r.pool.Release(slot.ID)
		r.requestHangup(attemptID)
		return session.Session{}, err
	}
	r.publishDialed(sess.ID, agentID, lead.Ref, attemptID)
	return out, nil
}

// Owns reports whether attemptID is an in-flight attempt of this campaign. Like
// HandleOutcome it waits for an in-flight Dial to register its attempt first.
func (r *Runtime) Owns(attemptID string) bool {
	r.dialMu.Lock()
	r.dialMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.attempts[attemptID]
	return ok
}

// HandleOutcome implements telephony.OutcomeHandler.
func (r *Runtime) HandleOutcome(ctx context.Context, ev telephony.OutcomeEvent) (telephony.Bridge, error) {
	hangup := telephony.Bridge{Action: telephony.BridgeHangup}
	if !ev.Outcome.Valid() {
		return hangup, fmt.Errorf("campaign: invalid outcome %q", ev.Outcome)
	}

	// Wait for an in-flight Dial to register its attempt.
	r.dialMu.Lock()
	r.dialMu.Unlock()

	r.mu.Lock()
	a, ok := r.attempts[ev.AttemptID]
	if !ok {
		r.mu.Unlock()
		return hangup, ErrUnknownAttempt
	}
	if a.offering {
		// Answer still being offered; the hangup is applied once an agent has it.
		if ev.Outcome != telephony.OutcomeAnswered {
			a.hungUp = true
		}
		r.mu.Unlock()
		return hangup, nil
	}
	cp := *a
	if cp.agentID == "" {
		stopExpiry(a)
		if ev.Outcome == telephony.OutcomeAnswered {
			a.offering = true
		} else {
			delete(r.attempts, ev.AttemptID)
		}
	}
	r.mu.Unlock()

	if cp.agentID != "" {
		return r.assignedOutcome(cp, ev)
	}
	if ev.Outcome == telephony.OutcomeAnswered {
		return r.offer(cp), nil
	}
	r.unansweredOutcome(cp, ev.Outcome)
	return hangup, nil
}

// offer hands an answered call to the longest-idle Ready agent, or drops it.
func (r *Runtime) offer(a attempt) telephony.Bridge {
	for _, m := range r.readyByIdle() {
		out, err := m.AssignLead(session.Session{
			ID:        a.sessionID,
			LeadRef:   a.lead.Ref,
			AttemptID: a.id,
			SlotID:    a.slotID,
			StartedAt: a.startedAt,
		})
		if err != nil {
			// Lost the agent to a concurrent assignment; try the next one.
			continue
		}

		agentID := m.AgentID()
		r.mu.Lock()
		hungUp := false
		if cur, ok := r.attempts[a.id]; ok {
			cur.agentID = agentID
			cur.offering = false
			hungUp = cur.hungUp
		}
		r.sessLeads[out.ID] = a.lead
		endpoint := r.endpoints[agentID]
		r.mu.Unlock()

		if r.def.AutoAnswer {
			if err := m.Connect(); err != nil {
				r.log.Warn("auto-answer failed", "agent_id", agentID, "session_id", out.ID, "err", err)
			}
		}
		if hungUp {
			_ = m.RemoteHangup("")
			return telephony.Bridge{Action: telephony.BridgeHangup}
		}
		if endpoint == "" {
			endpoint = agentID
		}
		return telephony.Bridge{
			Action:    telephony.BridgeConnect,
			ConnectTo: endpoint,
			SessionID: out.ID,
			AgentID:   agentID,
		}
	}

	r.mu.Lock()
	delete(r.attempts, a.id)
	r.dropped++
	r.mu.Unlock()

	r.window.Record(stats.OutcomeAbandoned)
	r.finishAttempt(a, stats.OutcomeAbandoned, dispositions.CodeDrop, "no_agent")
	r.log.Warn("answered call dropped, no agent ready", "attempt_id", a.id, "lead_ref", a.lead.Ref)
	r.events.Publish(events.Event{
		Type:       events.TypeCallDropped,
		CampaignID: r.def.ID,
		SessionID:  a.sessionID,
		Code:       dispositions.CodeDrop,
		Reason:     "no_agent",
	})
	return telephony.Bridge{Action: telephony.BridgeHangup}
}

// expireAttempt closes an attempt the carrier never reported on as no-answer, so its
// slot is not held forever.
func (r *Runtime) expireAttempt(attemptID string) {
	r.mu.Lock()
	a, ok := r.attempts[attemptID]
	if !ok || a.agentID != "" || a.offering {
		r.mu.Unlock()
		return
	}
	delete(r.attempts, attemptID)
	cp := *a
	r.mu.Unlock()

	r.log.Warn("attempt timed out without outcome", "attempt_id", attemptID, "lead_ref", cp.lead.Ref, "after", r.def.AttemptTimeout)
	r.window.Record(stats.OutcomeNoAnswer)
	r.finishAttempt(cp, stats.OutcomeNoAnswer, dispositions.CodeNoAnswer, "attempt_timeout")
	r.hopper.Requeue(cp.lead)
}

func stopExpiry(a *attempt) {
	if a.expiry != nil {
		a.expiry.Stop()
		a.expiry = nil
	}
}

// unansweredOutcome closes an attempt that never reached an agent.
func (r *Runtime) unansweredOutcome(a attempt, o telephony.Outcome) {
	if o == telephony.OutcomeCompleted {
		r.finishAttempt(a, "", dispositions.CodeCanceled, "remote_hangup")
		return
	}
	outcome, code := stats.OutcomeAbandoned, dispositions.CodeDrop
	if carrier, ok := o.Carrier(); ok {
		outcome = carrier
		code = carrierCode(o)
	}
	r.window.Record(outcome)
	r.finishAttempt(a, outcome, code, "carrier_"+string(o))
	if outcome == stats.OutcomeBusy || outcome == stats.OutcomeNoAnswer {
		r.hopper.Requeue(a.lead)
	}
}

func (r *Runtime) assignedOutcome(a attempt, ev telephony.OutcomeEvent) (telephony.Bridge, error) {
	hangup := telephony.Bridge{Action: telephony.BridgeHangup}
	m, err := r.Agent(a.agentID)
	if err != nil {
		return hangup, err
	}
	cur, ok := m.Current()
	if !ok || cur.ID != a.sessionID {
		return hangup, ErrUnknownAttempt
	}

	switch ev.Outcome {
	case telephony.OutcomeAnswered:
		if cur.State == session.StateRinging {
			if err := m.Connect(); err != nil {
				return hangup, err
			}
		}
		r.mu.Lock()
		endpoint := r.endpoints[a.agentID]
		r.mu.Unlock()
		if endpoint == "" {
			endpoint = a.agentID
		}
		return telephony.Bridge{Action: telephony.BridgeConnect, ConnectTo: endpoint, SessionID: cur.ID, AgentID: a.agentID}, nil
	case telephony.OutcomeCompleted, telephony.OutcomeAbandoned:
		return hangup, m.RemoteHangup("")
	default:
		carrier, _ := ev.Outcome.Carrier()
		return hangup, m.RemoteHangup(carrier)
	}
}

// finishAttempt releases the slot of an attempt no agent holds and archives it.
// The caller has already removed it from r.attempts.
func (r *Runtime) finishAttempt(a attempt, outcome stats.Outcome, codeID, reason string) {
	r.pool.Release(a.slotID)
	r.requestHangup(a.id)

	now := r.clock.Now()
	rec := calls.Record{
		SessionID:   a.sessionID,
		CampaignID:  r.def.ID,
		LeadRef:     a.lead.Ref,
		AttemptID:   a.id,
		Disposition: codeID,
		Outcome:     outcome,
		EndReason:   reason,
		StartedAt:   a.startedAt,
		EndedAt:     &now,
		ArchivedAt:  now,
	}
	if !r.archive.Enqueue(rec) {
		r.log.Warn("attempt not archived", "attempt_id", a.id)
	}
	r.kickDial()
}

func (r *Runtime) publishDialed(sessionID, agentID, leadRef, attemptID string) {
	r.events.Publish(events.Event{
		Type:       events.TypeCallDialed,
		CampaignID: r.def.ID,
		AgentID:    agentID,
		SessionID:  sessionID,
		Code:       leadRef,
		Reason:     attemptID,
	})
}

func carrierCode(o telephony.Outcome) string {
	switch o {
	case telephony.OutcomeBusy:
		return dispositions.CodeBusy
	case telephony.OutcomeNoAnswer:
		return dispositions.CodeNoAnswer
	default:
		return dispositions.CodeFailed
	}
}
