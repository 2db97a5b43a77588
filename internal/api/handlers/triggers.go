package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chronex-io/chronex/internal/api/response"
	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/logging"
	"github.com/chronex-io/chronex/internal/scheduler"
	"github.com/chronex-io/chronex/internal/store"
	"github.com/chronex-io/chronex/internal/trigger"
	"go.uber.org/zap"
)

// TriggerHandler exposes trigger scheduling on top of the scheduler.
type TriggerHandler struct {
	logger logging.Logger
	sched  *scheduler.Scheduler
}

// NewTriggerHandler creates a new trigger management handler.
func NewTriggerHandler(logger logging.Logger, sched *scheduler.Scheduler) *TriggerHandler {
	return &TriggerHandler{logger: logger, sched: sched}
}

// ScheduleRequest carries a trigger in its wire encoding, optionally together
// with the job detail it should be stored with.
type ScheduleRequest struct {
	Job     *JobRequest     `json:"job"`
	Trigger json.RawMessage `json:"trigger" binding:"required"`
}

// TriggerView is the wire form of a stored trigger plus its current state.
type TriggerView struct {
	State   trigger.State   `json:"state"`
	Trigger json.RawMessage `json:"trigger"`
}

func (h *TriggerHandler) view(c *gin.Context, t trigger.Operable) (TriggerView, bool) {
	raw, err := trigger.Encode(t)
	if err != nil {
		response.InternalServerError(c, "failed to encode trigger")
		return TriggerView{}, false
	}
	state, err := h.sched.GetTriggerState(c.Request.Context(), t.Key())
	if err != nil {
		state = trigger.StateNone
	}
	return TriggerView{State: state, Trigger: raw}, true
}

// Schedule stores a trigger, and its job when one is supplied inline.
func (h *TriggerHandler) Schedule(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	t, err := trigger.Decode(req.Trigger)
	if err != nil {
		response.BadRequest(c, "invalid trigger", err.Error())
		return
	}

	var firstFire any
	if req.Job != nil {
		ft, err := h.sched.ScheduleJob(c.Request.Context(), req.Job.toDetail(), t)
		if err != nil {
			h.scheduleError(c, err)
			return
		}
		firstFire = ft
	} else {
		ft, err := h.sched.ScheduleTrigger(c.Request.Context(), t)
		if err != nil {
			h.scheduleError(c, err)
			return
		}
		firstFire = ft
	}

	h.logger.Info("trigger scheduled",
		zap.String("trigger", t.Key().String()),
		zap.String("job", t.JobKey().String()))
	response.Created(c, gin.H{
		"trigger":         t.Key(),
		"first_fire_time": firstFire,
	}, "trigger scheduled")
}

// Reschedule replaces a trigger with a new one, keeping the job linkage.
func (h *TriggerHandler) Reschedule(c *gin.Context) {
	key := job.NewTriggerKeyWithGroup(c.Param("name"), c.Param("group"))

	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err.Error())
		return
	}
	t, err := trigger.Decode(req.Trigger)
	if err != nil {
		response.BadRequest(c, "invalid trigger", err.Error())
		return
	}

	next, err := h.sched.RescheduleJob(c.Request.Context(), key, t)
	if err != nil {
		h.scheduleError(c, err)
		return
	}
	if next == nil {
		response.NotFound(c, "trigger not found")
		return
	}
	response.OK(c, gin.H{
		"trigger":         t.Key(),
		"first_fire_time": next,
	})
}

// ListTriggers returns the trigger keys in a group, or in all groups.
func (h *TriggerHandler) ListTriggers(c *gin.Context) {
	keys, err := h.sched.GetTriggerKeys(c.Request.Context(), c.Query("group"))
	if err != nil {
		response.InternalServerError(c, "failed to list triggers")
		return
	}
	response.OK(c, keys)
}

// GetTrigger returns a stored trigger and its state.
func (h *TriggerHandler) GetTrigger(c *gin.Context) {
	key := job.NewTriggerKeyWithGroup(c.Param("name"), c.Param("group"))
	t, err := h.sched.GetTrigger(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrTriggerNotFound) {
			response.NotFound(c, "trigger not found")
			return
		}
		response.InternalServerError(c, "failed to load trigger")
		return
	}
	if v, ok := h.view(c, t); ok {
		response.OK(c, v)
	}
}

// DeleteTrigger unschedules a trigger.
func (h *TriggerHandler) DeleteTrigger(c *gin.Context) {
	key := job.NewTriggerKeyWithGroup(c.Param("name"), c.Param("group"))
	removed, err := h.sched.UnscheduleJob(c.Request.Context(), key)
	if err != nil {
		response.InternalServerError(c, "failed to unschedule trigger")
		return
	}
	if !removed {
		response.NotFound(c, "trigger not found")
		return
	}
	response.NoContent(c)
}

// PauseTrigger pauses a single trigger.
func (h *TriggerHandler) PauseTrigger(c *gin.Context) {
	key := job.NewTriggerKeyWithGroup(c.Param("name"), c.Param("group"))
	if err := h.sched.PauseTrigger(c.Request.Context(), key); err != nil {
		response.InternalServerError(c, "failed to pause trigger")
		return
	}
	response.Accepted(c, "trigger paused")
}

// ResumeTrigger resumes a single trigger, applying misfire handling to the
// time it spent paused.
func (h *TriggerHandler) ResumeTrigger(c *gin.Context) {
	key := job.NewTriggerKeyWithGroup(c.Param("name"), c.Param("group"))
	if err := h.sched.ResumeTrigger(c.Request.Context(), key); err != nil {
		response.InternalServerError(c, "failed to resume trigger")
		return
	}
	response.Accepted(c, "trigger resumed")
}

// ListTriggersForJob returns every trigger of one job, with states.
func (h *TriggerHandler) ListTriggersForJob(c *gin.Context) {
	key := job.NewKeyWithGroup(c.Param("name"), c.Param("group"))
	triggers, err := h.sched.GetTriggersOfJob(c.Request.Context(), key)
	if err != nil {
		response.InternalServerError(c, "failed to load triggers")
		return
	}

	views := make([]TriggerView, 0, len(triggers))
	for _, t := range triggers {
		v, ok := h.view(c, t)
		if !ok {
			return
		}
		views = append(views, v)
	}
	response.OK(c, views)
}

func (h *TriggerHandler) scheduleError(c *gin.Context, err error) {
	var exists *store.AlreadyExistsError
	switch {
	case errors.As(err, &exists):
		response.Conflict(c, "already exists", exists.Error())
	case errors.Is(err, store.ErrJobNotFound):
		response.NotFound(c, "job not found")
	case errors.Is(err, store.ErrTriggerNotFound):
		response.NotFound(c, "trigger not found")
	default:
		response.Error(c, http.StatusBadRequest, "failed to schedule trigger", err.Error())
	}
}
