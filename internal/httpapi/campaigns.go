package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/leads"
	"dialer-platform/internal/reporting"
	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

type targetRequest struct {
	Target float64 `json:"target_drop_rate"`
}

type leadsRequest struct {
	Leads []leads.Lead `json:"leads"`
}

func (h Handlers) ListCampaigns(c *gin.Context) {
	if h.Campaigns == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaigns not configured"})
		return
	}
	out := make([]campaign.RealTime, 0)
	for _, rt := range h.Campaigns.List() {
		out = append(out, rt.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": out})
}

func (h Handlers) GetCampaign(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rt.Snapshot())
}

func (h Handlers) ListAgents(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": rt.Agents()})
}

func (h Handlers) ListCodes(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"codes": rt.Catalog().List()})
}

// CampaignCommand handles start, pause, resume and stop. Each accepted command is audited.
func (h Handlers) CampaignCommand(name string, fn func(*campaign.Runtime) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		rt, ok := h.runtime(c)
		if !ok {
			return
		}
		if err := fn(rt); err != nil {
			abortWithError(c, err)
			return
		}
		if h.Audit != nil {
			if err := h.Audit.LogCampaignCommand(c.Request.Context(), rt.ID(), name, actor(c)); err != nil {
				logger.FromGin(c).Warn("audit write failed", "campaign_id", rt.ID(), "command", name, "err", err)
			}
		}
		c.JSON(http.StatusOK, rt.Snapshot())
	}
}

func (h Handlers) SetTargetDropRate(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Target <= 0 || req.Target >= 1 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "target_drop_rate must be in (0,1)"})
		return
	}
	prev, err := rt.SetTargetDropRate(req.Target)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogTargetChange(c.Request.Context(), rt.ID(), prev, req.Target, actor(c)); err != nil {
			logger.FromGin(c).Warn("audit write failed", "campaign_id", rt.ID(), "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"previous": prev, "target_drop_rate": req.Target})
}

func (h Handlers) AddLeads(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	var req leadsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Leads) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "leads required"})
		return
	}
	for _, l := range req.Leads {
		if l.Ref == "" || l.Phone == "" {
			abortWithError(c, campaign.ErrInvalidLead)
			return
		}
	}
	n := rt.AddLeads(req.Leads...)
	c.JSON(http.StatusOK, gin.H{"accepted": n, "rejected": len(req.Leads) - n})
}

// Report summarizes archived calls. from/to are RFC 3339; the default range is the last 24h.
func (h Handlers) Report(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	to := h.now()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
	}

	req := reporting.CampaignSummaryRequest{CampaignID: rt.ID(), Range: reporting.TimeRange{From: from, To: to}}
	summary, err := h.Reports.CampaignSummary(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	agents, err := h.Reports.AgentSummaries(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "agents": agents})
}

// ListAudit returns the campaign's audit trail, newest first. Repeated type parameters
// filter by event type; limit caps the page.
func (h Handlers) ListAudit(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	rt, ok := h.runtime(c)
	if !ok {
		return
	}
	q := audit.Query{CampaignID: rt.ID()}
	for _, t := range c.QueryArray("type") {
		q.Types = append(q.Types, audit.EventType(t))
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		q.Limit = n
	}
	evs, err := h.Audit.List(c.Request.Context(), q)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}
