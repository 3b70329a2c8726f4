package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/campaign"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/metrics"
	"dialer-platform/internal/rbac"
	"dialer-platform/internal/reporting"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	Auth      *auth.Manager
	Campaigns *campaign.Manager
	Reports   *reporting.Service
	Audit     *audit.Service
	Outcomes  telephony.OutcomeHandler

	// Optional; checked by /healthz when set.
	DB    *sql.DB
	Redis *redis.Client
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", healthz(d.DB, d.Redis))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Provider webhooks (public).
	// NOTE: Twilio request signatures are not validated yet; keep these behind the edge allowlist.
	{
		h := telephony.TwilioWebhookHandler{Outcomes: d.Outcomes}
		r.POST("/webhooks/twilio/voice", h.Voice)
		r.POST("/webhooks/twilio/status", h.Status)
	}

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.Auth))

	h := httpapi.Handlers{
		Campaigns: d.Campaigns,
		Reports:   d.Reports,
		Audit:     d.Audit,
	}

	v1.GET("/me", func(c *gin.Context) {
		id, _ := auth.IdentityFrom(c.Request.Context())
		c.JSON(http.StatusOK, id)
	})

	// CAMPAIGN routes: supervisors run campaigns.
	campaigns := v1.Group("/campaigns")
	campaigns.Use(rbac.RequireAnyRole(rbac.RoleSupervisor))
	{
		campaigns.GET("", h.ListCampaigns)
		campaigns.GET("/:campaign_id", h.GetCampaign)
		campaigns.GET("/:campaign_id/agents", h.ListAgents)
		campaigns.GET("/:campaign_id/codes", h.ListCodes)
		campaigns.GET("/:campaign_id/report", h.Report)
		campaigns.GET("/:campaign_id/audit", h.ListAudit)

		campaigns.POST("/:campaign_id/start", h.CampaignCommand("start", (*campaign.Runtime).Start))
		campaigns.POST("/:campaign_id/pause", h.CampaignCommand("pause", (*campaign.Runtime).Pause))
		campaigns.POST("/:campaign_id/resume", h.CampaignCommand("resume", (*campaign.Runtime).Resume))
		campaigns.POST("/:campaign_id/stop", h.CampaignCommand("stop", (*campaign.Runtime).Stop))
		campaigns.PUT("/:campaign_id/target-drop-rate", h.SetTargetDropRate)
		campaigns.POST("/:campaign_id/leads", h.AddLeads)
	}

	// AGENT routes: an agent drives its own session; supervisors may drive anyone's.
	agents := v1.Group("/campaigns/:campaign_id/agents/:agent_id")
	agents.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleSupervisor))
	agents.Use(rbac.RequireSelfOrSupervisor("agent_id"))
	{
		agents.GET("", h.GetAgent)
		agents.POST("/dial", h.Dial)
		agents.POST("/connect", h.Connect())
		agents.POST("/hold", h.Hold())
		agents.POST("/resume", h.ResumeCall())
		agents.POST("/mute", h.Mute())
		agents.POST("/unmute", h.Unmute())
		agents.POST("/transfer", h.Transfer)
		agents.POST("/hangup", h.Hangup())
		agents.POST("/disposition", h.RecordDisposition)
		agents.POST("/pause", h.Pause)
		agents.POST("/unpause", h.Unpause())
	}
}

func healthz(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := gin.H{"status": "ok"}
		code := http.StatusOK
		if db != nil {
			if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
				out["status"], out["postgres"] = "degraded", err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		if rdb != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			err := rdb.Ping(ctx).Err()
			cancel()
			if err != nil {
				out["status"], out["redis"] = "degraded", err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		c.JSON(code, out)
	}
}
