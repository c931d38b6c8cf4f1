package main

import (
	"carecall-platform/internal/alert"
	"carecall-platform/internal/config"
	"carecall-platform/internal/httpapi"
	"carecall-platform/internal/outcome"
	"carecall-platform/internal/provider"
	"carecall-platform/internal/schedule"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	cfg       config.Config
	schedules *schedule.Service
	alerts    *alert.Service
	processor *outcome.Processor
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks. Authenticated by the provider's signed bearer
	// token rather than a session, so they stay outside /v1.
	wh := provider.WebhookHandler{
		Secret: []byte(deps.cfg.Provider.WebhookSecret),
		Events: deps.processor,
	}
	r.POST("/webhooks/provider/calls", wh.HandleCallEvent)

	v1 := r.Group("/v1")
	{
		h := httpapi.Handlers{
			Schedules: deps.schedules,
			Alerts:    deps.alerts,
		}

		schedules := v1.Group("/schedules")
		{
			schedules.POST("", h.CreateSchedule)
			schedules.GET("/:schedule_id", h.GetSchedule)
			schedules.PUT("/:schedule_id", h.UpdateSchedule)
			schedules.DELETE("/:schedule_id", h.DeleteSchedule)
			schedules.POST("/:schedule_id/pause", h.PauseSchedule)
			schedules.POST("/:schedule_id/resume", h.ResumeSchedule)
		}

		alerts := v1.Group("/alerts")
		{
			alerts.POST("/:alert_id/acknowledge", h.AcknowledgeAlert)
			alerts.POST("/:alert_id/resolve", h.ResolveAlert)
		}
	}
}
