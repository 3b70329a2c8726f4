package telephony

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// TwilioCallForm captures the subset of voice/status webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
//
// Keep it provider-adapter-only; what an outcome means for a campaign is decided by the core.
type TwilioCallForm struct {
	CallSid         string `json:"CallSid"`
	AccountSid      string `json:"AccountSid"`
	From            string `json:"From"`
	To              string `json:"To"`
	Direction       string `json:"Direction"`
	CallStatus      string `json:"CallStatus"`
	AnsweredBy      string `json:"AnsweredBy,omitempty"`
	CallDuration    string `json:"CallDuration,omitempty"`
	SipResponseCode string `json:"SipResponseCode,omitempty"`
	Timestamp       string `json:"Timestamp,omitempty"`
}

func ParseTwilioCall(r *http.Request) (TwilioCallForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioCallForm{}, err
	}
	return TwilioCallForm{
		CallSid:         strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:      r.PostFormValue("AccountSid"),
		From:            strings.TrimSpace(r.PostFormValue("From")),
		To:              strings.TrimSpace(r.PostFormValue("To")),
		Direction:       r.PostFormValue("Direction"),
		CallStatus:      strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		AnsweredBy:      strings.ToLower(strings.TrimSpace(r.PostFormValue("AnsweredBy"))),
		CallDuration:    r.PostFormValue("CallDuration"),
		SipResponseCode: r.PostFormValue("SipResponseCode"),
		Timestamp:       r.PostFormValue("Timestamp"),
	}, nil
}

// Outcome maps the Twilio call status to an Outcome. ok is false for progress statuses
// (queued, initiated, ringing) that the core does not react to.
func (f TwilioCallForm) Outcome() (Outcome, bool) {
	switch f.CallStatus {
	case "in-progress", "answered":
		if strings.HasPrefix(f.AnsweredBy, "machine") || f.AnsweredBy == "fax" {
			return OutcomeMachine, true
		}
		return OutcomeAnswered, true
	case "completed":
		return OutcomeCompleted, true
	case "busy":
		return OutcomeBusy, true
	case "no-answer":
		return OutcomeNoAnswer, true
	case "failed", "canceled":
		return OutcomeFailed, true
	default:
		return "", false
	}
}

func (f TwilioCallForm) ToOutcomeEvent(o Outcome, occurredAt time.Time) OutcomeEvent {
	raw, _ := json.Marshal(f)
	return OutcomeEvent{
		AttemptID:  f.CallSid,
		Outcome:    o,
		OccurredAt: occurredAt,
		Raw:        string(raw),
	}
}
