package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/chronex-io/chronex/internal/api/response"
	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/logging"
	"github.com/chronex-io/chronex/internal/scheduler"
	"github.com/chronex-io/chronex/internal/store"
	"go.uber.org/zap"
)

// JobHandler exposes job detail management on top of the scheduler.
type JobHandler struct {
	logger logging.Logger
	sched  *scheduler.Scheduler
}

// NewJobHandler creates a new job management handler.
func NewJobHandler(logger logging.Logger, sched *scheduler.Scheduler) *JobHandler {
	return &JobHandler{logger: logger, sched: sched}
}

// JobRequest is the wire form of a job detail.
type JobRequest struct {
	Name        string         `json:"name" binding:"required"`
	Group       string         `json:"group"`
	Type        string         `json:"type" binding:"required"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data"`

	Durable                       bool `json:"durable"`
	ConcurrentExecutionDisallowed bool `json:"concurrent_execution_disallowed"`
	PersistDataAfterExecution     bool `json:"persist_data_after_execution"`
	RequestsRecovery              bool `json:"requests_recovery"`
}

func (r *JobRequest) toDetail() *job.Detail {
	b := job.NewBuilder().
		OfType(r.Type).
		WithIdentity(r.Name, r.Group).
		WithDescription(r.Description).
		UsingJobDataMap(job.DataMap(r.Data))
	if r.Durable {
		b.StoreDurably()
	}
	if r.ConcurrentExecutionDisallowed {
		b.DisallowConcurrentExecution()
	}
	if r.PersistDataAfterExecution {
		b.PersistJobDataAfterExecution()
	}
	if r.RequestsRecovery {
		b.RequestRecovery()
	}
	return b.Build()
}

// CreateJob stores a durable job without any trigger.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	detail := req.toDetail()
	replace := c.Query("replace") == "true"
	if err := h.sched.AddJob(c.Request.Context(), detail, replace); err != nil {
		var exists *store.AlreadyExistsError
		if errors.As(err, &exists) {
			response.Conflict(c, "job already exists", detail.Key.String())
			return
		}
		response.BadRequest(c, "failed to store job", err.Error())
		return
	}

	h.logger.Info("job stored", zap.String("job", detail.Key.String()))
	response.Created(c, detail, "job stored")
}

// ListJobs returns the job keys in a group, or in all groups.
func (h *JobHandler) ListJobs(c *gin.Context) {
	keys, err := h.sched.GetJobKeys(c.Request.Context(), c.Query("group"))
	if err != nil {
		response.InternalServerError(c, "failed to list jobs")
		return
	}
	response.OK(c, keys)
}

// GetJob returns a stored job detail.
func (h *JobHandler) GetJob(c *gin.Context) {
	key := job.NewKeyWithGroup(c.Param("name"), c.Param("group"))
	detail, err := h.sched.GetJobDetail(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			response.NotFound(c, "job not found")
			return
		}
		response.InternalServerError(c, "failed to load job")
		return
	}
	response.OK(c, detail)
}

// DeleteJob removes a job and every trigger pointing at it.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	key := job.NewKeyWithGroup(c.Param("name"), c.Param("group"))
	removed, err := h.sched.DeleteJob(c.Request.Context(), key)
	if err != nil {
		response.InternalServerError(c, "failed to delete job")
		return
	}
	if !removed {
		response.NotFound(c, "job not found")
		return
	}
	response.NoContent(c)
}

// TriggerJob fires a job immediately with an optional one-off data map.
func (h *JobHandler) TriggerJob(c *gin.Context) {
	key := job.NewKeyWithGroup(c.Param("name"), c.Param("group"))

	var data map[string]any
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&data); err != nil {
			response.BadRequest(c, "invalid request body", err.Error())
			return
		}
	}

	if err := h.sched.TriggerJob(c.Request.Context(), key, job.DataMap(data)); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			response.NotFound(c, "job not found")
			return
		}
		response.InternalServerError(c, "failed to trigger job")
		return
	}
	response.Accepted(c, "job triggered")
}

// PauseJob pauses all triggers of a job.
func (h *JobHandler) PauseJob(c *gin.Context) {
	key := job.NewKeyWithGroup(c.Param("name"), c.Param("group"))
	if err := h.sched.PauseJob(c.Request.Context(), key); err != nil {
		response.InternalServerError(c, "failed to pause job")
		return
	}
	response.Accepted(c, "job paused")
}

// ResumeJob resumes all triggers of a job.
func (h *JobHandler) ResumeJob(c *gin.Context) {
	key := job.NewKeyWithGroup(c.Param("name"), c.Param("group"))
	if err := h.sched.ResumeJob(c.Request.Context(), key); err != nil {
		response.InternalServerError(c, "failed to resume job")
		return
	}
	response.Accepted(c, "job resumed")
}
