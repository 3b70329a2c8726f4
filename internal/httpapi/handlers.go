package httpapi

import (
	"errors"
	"net/http"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/reporting"
	"dialer-platform/internal/session"
	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call the campaign runtime, return JSON.
type Handlers struct {
	Campaigns *campaign.Manager
	Reports   *reporting.Service
	// Audit is optional; audit writes never fail a command.
	Audit *audit.Service

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now()
}

// runtime resolves :campaign_id or writes the error response.
func (h Handlers) runtime(c *gin.Context) (*campaign.Runtime, bool) {
	if h.Campaigns == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaigns not configured"})
		return nil, false
	}
	rt, err := h.Campaigns.Get(c.Param("campaign_id"))
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	return rt, true
}

// agent resolves :campaign_id and :agent_id.
func (h Handlers) agent(c *gin.Context) (*campaign.Runtime, *session.Machine, bool) {
	rt, ok := h.runtime(c)
	if !ok {
		return nil, nil, false
	}
	m, err := rt.Agent(c.Param("agent_id"))
	if err != nil {
		abortWithError(c, err)
		return nil, nil, false
	}
	return rt, m, true
}

func actor(c *gin.Context) audit.Actor {
	id, _ := auth.IdentityFrom(c.Request.Context())
	return audit.Actor{ID: id.UserID, Role: id.Role, IP: c.ClientIP()}
}

// StatusFor maps core errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, campaign.ErrUnknownCampaign),
		errors.Is(err, campaign.ErrUnknownAgent):
		return http.StatusNotFound
	case errors.Is(err, session.ErrMissingDisposition),
		errors.Is(err, session.ErrUnknownPauseCode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNotRinging),
		errors.Is(err, session.ErrNotInCall),
		errors.Is(err, session.ErrTargetUnavailable),
		errors.Is(err, campaign.ErrInvalidStatus),
		errors.Is(err, campaign.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, campaign.ErrNotReady):
		return http.StatusPreconditionFailed
	case errors.Is(err, campaign.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, campaign.ErrInvalidLead),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		logger.FromGin(c).Error("command failed", "err", err)
		c.AbortWithStatusJSON(code, gin.H{"error": "internal error"})
		return
	}
	body := gin.H{"error": err.Error()}
	var te *session.TransitionError
	if errors.As(err, &te) {
		body["state"] = te.From.String()
	}
	c.AbortWithStatusJSON(code, body)
}
