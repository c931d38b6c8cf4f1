package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"carecall-platform/internal/alert"
	"carecall-platform/internal/schedule"
	"carecall-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Schedules *schedule.Service
	Alerts    *alert.Service
}

var validate = validator.New()

// --- Schedules ---

type scheduleRequest struct {
	PatientID string `json:"patient_id" validate:"required"`
	ScriptID  string `json:"script_id" validate:"required"`

	Frequency   string `json:"frequency" validate:"required,oneof=DAILY WEEKLY BI_WEEKLY MONTHLY"`
	Timezone    string `json:"timezone" validate:"required"`
	WindowStart string `json:"time_window_start" validate:"required"`
	WindowEnd   string `json:"time_window_end" validate:"required"`

	MaxAttempts              int `json:"max_attempts" validate:"required,min=1,max=10"`
	RetryIntervalMinutes     int `json:"retry_interval_minutes" validate:"required,min=1"`
	EstimatedDurationSeconds int `json:"estimated_duration_seconds" validate:"required,min=1"`

	// StartDate optionally anchors the recurrence (YYYY-MM-DD).
	StartDate string `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`

	Status string `json:"status" validate:"required,oneof=ACTIVE PAUSED"`
}

func (r scheduleRequest) toInput() (schedule.CreateInput, error) {
	in := schedule.CreateInput{
		PatientID:                r.PatientID,
		ScriptID:                 r.ScriptID,
		Frequency:                schedule.Frequency(r.Frequency),
		Timezone:                 r.Timezone,
		WindowStart:              r.WindowStart,
		WindowEnd:                r.WindowEnd,
		MaxAttempts:              r.MaxAttempts,
		RetryIntervalMinutes:     r.RetryIntervalMinutes,
		EstimatedDurationSeconds: r.EstimatedDurationSeconds,
		Status:                   schedule.Status(r.Status),
	}
	if r.StartDate != "" {
		loc, err := time.LoadLocation(r.Timezone)
		if err != nil {
			return schedule.CreateInput{}, err
		}
		d, err := time.ParseInLocation("2006-01-02", r.StartDate, loc)
		if err != nil {
			return schedule.CreateInput{}, err
		}
		in.StartDate = &d
	}
	return in, nil
}

func (h Handlers) bindScheduleRequest(c *gin.Context) (schedule.CreateInput, bool) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return schedule.CreateInput{}, false
	}
	if err := validate.Struct(req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return schedule.CreateInput{}, false
	}
	in, err := req.toInput()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return schedule.CreateInput{}, false
	}
	return in, true
}

func (h Handlers) CreateSchedule(c *gin.Context) {
	in, ok := h.bindScheduleRequest(c)
	if !ok {
		return
	}
	sched, err := h.Schedules.Create(c.Request.Context(), in)
	if err != nil {
		respondScheduleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

func (h Handlers) UpdateSchedule(c *gin.Context) {
	in, ok := h.bindScheduleRequest(c)
	if !ok {
		return
	}
	sched, err := h.Schedules.Update(c.Request.Context(), c.Param("schedule_id"), in)
	if err != nil {
		respondScheduleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h Handlers) GetSchedule(c *gin.Context) {
	sched, err := h.Schedules.Get(c.Request.Context(), c.Param("schedule_id"))
	if err != nil {
		respondScheduleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h Handlers) PauseSchedule(c *gin.Context) {
	sched, err := h.Schedules.Pause(c.Request.Context(), c.Param("schedule_id"))
	if err != nil {
		respondScheduleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h Handlers) ResumeSchedule(c *gin.Context) {
	sched, err := h.Schedules.Resume(c.Request.Context(), c.Param("schedule_id"))
	if err != nil {
		respondScheduleError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h Handlers) DeleteSchedule(c *gin.Context) {
	if err := h.Schedules.Delete(c.Request.Context(), c.Param("schedule_id")); err != nil {
		respondScheduleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Alerts ---

type alertTransitionRequest struct {
	Note string `json:"note,omitempty" validate:"max=2000"`
}

func (h Handlers) AcknowledgeAlert(c *gin.Context) {
	h.transitionAlert(c, h.Alerts.Acknowledge)
}

func (h Handlers) ResolveAlert(c *gin.Context) {
	h.transitionAlert(c, h.Alerts.Resolve)
}

func (h Handlers) transitionAlert(c *gin.Context, fn func(ctx context.Context, id, note string) (alert.Alert, error)) {
	var req alertTransitionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	a, err := fn(c.Request.Context(), c.Param("alert_id"), req.Note)
	if err != nil {
		switch {
		case errors.Is(err, alert.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		case errors.Is(err, alert.ErrInvalidTransition):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			logger.FromGin(c).Error("alert handler failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}
	c.JSON(http.StatusOK, a)
}

func respondScheduleError(c *gin.Context, err error) {
	log := logger.FromGin(c)

	var conflict *schedule.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": conflict.Error()})
	case errors.Is(err, schedule.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, schedule.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
	default:
		log.Error("schedule handler failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
