package telephony

import (
	"net/http"
	"time"

	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TwilioWebhookHandler converts Twilio callbacks to OutcomeEvents and hands them to the core.
//
// Voice is the answer URL: Twilio fetches it when the lead picks up and expects TwiML back.
// Status receives terminal statuses (busy, no-answer, failed, completed) and returns 204.
type TwilioWebhookHandler struct {
	Outcomes OutcomeHandler

	Now func() time.Time
}

func (h TwilioWebhookHandler) Voice(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Outcomes == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "outcome handler not configured"})
		return
	}

	form, err := ParseTwilioCall(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("twilio voice webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	outcome, ok := form.Outcome()
	if !ok {
		// The answer URL is only fetched on pickup; missing status means answered.
		outcome = OutcomeAnswered
		if form.AnsweredBy != "" {
			form.CallStatus = "in-progress"
			outcome, _ = form.Outcome()
		}
	}

	bridge, err := h.Outcomes.HandleOutcome(c.Request.Context(), form.ToOutcomeEvent(outcome, h.now()))
	if err != nil {
		log.Warn("answered call not bridged", "call_sid", form.CallSid, "err", err)
		bridge = Bridge{Action: BridgeHangup}
	}

	twiml, err := RenderTwiML(bridge)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h TwilioWebhookHandler) Status(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Outcomes == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "outcome handler not configured"})
		return
	}

	form, err := ParseTwilioCall(c.Request)
	if err != nil || form.CallSid == "" {
		log.Warn("twilio status webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	outcome, ok := form.Outcome()
	if !ok || outcome == OutcomeAnswered {
		// Progress, or answered: the voice URL already carried that one.
		c.Status(http.StatusNoContent)
		return
	}
	if _, err := h.Outcomes.HandleOutcome(c.Request.Context(), form.ToOutcomeEvent(outcome, h.now())); err != nil {
		log.Info("status callback ignored", "call_sid", form.CallSid, "status", form.CallStatus, "err", err)
	}
	c.Status(http.StatusNoContent)
}

func (h TwilioWebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now()
}
