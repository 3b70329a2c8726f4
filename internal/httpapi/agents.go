package httpapi

import (
	"net/http"

	"dialer-platform/internal/leads"
	"dialer-platform/internal/session"

	"github.com/gin-gonic/gin"
)

type dialRequest struct {
	LeadRef string `json:"lead_ref"`
	Phone   string `json:"phone"`
	Name    string `json:"name,omitempty"`
}

type transferRequest struct {
	TargetAgentID string `json:"target_agent_id"`
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h Handlers) GetAgent(c *gin.Context) {
	_, m, ok := h.agent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m.Status())
}

// Dial is the manual-dial assignLead command: the agent picks the lead, the runtime
// takes a slot and rings it.
func (h Handlers) Dial(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s, err := rt.ManualDial(c.Request.Context(), c.Param("agent_id"), leads.Lead{Ref: req.LeadRef, Phone: req.Phone, Name: req.Name})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// command runs a no-argument machine command and answers with the agent status.
func (h Handlers) command(fn func(m *session.Machine) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, m, ok := h.agent(c)
		if !ok {
			return
		}
		if err := fn(m); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, m.Status())
	}
}

func (h Handlers) Connect() gin.HandlerFunc {
	return h.command((*session.Machine).Connect)
}

func (h Handlers) Hold() gin.HandlerFunc {
	return h.command((*session.Machine).Hold)
}

func (h Handlers) ResumeCall() gin.HandlerFunc {
	return h.command((*session.Machine).Resume)
}

func (h Handlers) Mute() gin.HandlerFunc {
	return h.command((*session.Machine).Mute)
}

func (h Handlers) Unmute() gin.HandlerFunc {
	return h.command((*session.Machine).Unmute)
}

func (h Handlers) Hangup() gin.HandlerFunc {
	return h.command((*session.Machine).Hangup)
}

func (h Handlers) Unpause() gin.HandlerFunc {
	return h.command((*session.Machine).Unpause)
}

func (h Handlers) Pause(c *gin.Context) {
	_, m, ok := h.agent(c)
	if !ok {
		return
	}
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := m.Pause(req.Code); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, m.Status())
}

func (h Handlers) Transfer(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TargetAgentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "target_agent_id required"})
		return
	}
	target, err := rt.Transfer(c.Param("agent_id"), req.TargetAgentID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, target)
}

func (h Handlers) RecordDisposition(c *gin.Context) {
	_, m, ok := h.agent(c)
	if !ok {
		return
	}
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s, err := m.RecordDisposition(req.Code)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}
