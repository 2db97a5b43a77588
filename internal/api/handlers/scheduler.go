package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chronex-io/chronex/internal/api/response"
	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/logging"
	"github.com/chronex-io/chronex/internal/scheduler"
)

// SchedulerHandler exposes instance-level control and introspection.
type SchedulerHandler struct {
	logger logging.Logger
	sched  *scheduler.Scheduler
}

// NewSchedulerHandler creates a new scheduler control handler.
func NewSchedulerHandler(logger logging.Logger, sched *scheduler.Scheduler) *SchedulerHandler {
	return &SchedulerHandler{logger: logger, sched: sched}
}

// MetadataResponse is the wire form of the scheduler metadata.
type MetadataResponse struct {
	InstanceName         string    `json:"instance_name"`
	InstanceID           string    `json:"instance_id"`
	Started              bool      `json:"started"`
	InStandbyMode        bool      `json:"in_standby_mode"`
	Shutdown             bool      `json:"shutdown"`
	StartedAt            time.Time `json:"started_at,omitzero"`
	ThreadCount          int       `json:"thread_count"`
	NumberOfJobsExecuted int64     `json:"number_of_jobs_executed"`
}

// Metadata returns a snapshot of the scheduler instance.
func (h *SchedulerHandler) Metadata(c *gin.Context) {
	m := h.sched.GetMetadata()
	response.OK(c, MetadataResponse{
		InstanceName:         m.InstanceName,
		InstanceID:           m.InstanceID,
		Started:              m.Started,
		InStandbyMode:        m.InStandbyMode,
		Shutdown:             m.Shutdown,
		StartedAt:            m.StartedAt,
		ThreadCount:          m.ThreadCount,
		NumberOfJobsExecuted: m.NumberOfJobsExecuted,
	})
}

// Standby stops firing triggers without shutting the instance down.
func (h *SchedulerHandler) Standby(c *gin.Context) {
	h.sched.Standby()
	response.Accepted(c, "scheduler in standby mode")
}

// Start begins, or resumes, trigger firing.
func (h *SchedulerHandler) Start(c *gin.Context) {
	if err := h.sched.Start(c.Request.Context()); err != nil {
		response.InternalServerError(c, "failed to start scheduler")
		return
	}
	response.Accepted(c, "scheduler started")
}

// PauseAll pauses every trigger group.
func (h *SchedulerHandler) PauseAll(c *gin.Context) {
	if err := h.sched.PauseAll(c.Request.Context()); err != nil {
		response.InternalServerError(c, "failed to pause scheduler")
		return
	}
	response.Accepted(c, "all triggers paused")
}

// ResumeAll resumes every trigger group.
func (h *SchedulerHandler) ResumeAll(c *gin.Context) {
	if err := h.sched.ResumeAll(c.Request.Context()); err != nil {
		response.InternalServerError(c, "failed to resume scheduler")
		return
	}
	response.Accepted(c, "all triggers resumed")
}

// ExecutingJobView describes one currently running job execution.
type ExecutingJobView struct {
	Job         job.Key        `json:"job"`
	Trigger     job.TriggerKey `json:"trigger"`
	FireTime    time.Time      `json:"fire_time"`
	RefireCount int            `json:"refire_count"`
	Recovering  bool           `json:"recovering"`
}

// ExecutingJobs lists the jobs running on this instance right now.
func (h *SchedulerHandler) ExecutingJobs(c *gin.Context) {
	contexts := h.sched.GetCurrentlyExecutingJobs()
	views := make([]ExecutingJobView, 0, len(contexts))
	for _, jctx := range contexts {
		views = append(views, ExecutingJobView{
			Job:         jctx.Detail.Key,
			Trigger:     jctx.TriggerKey,
			FireTime:    jctx.FireTime,
			RefireCount: jctx.RefireCount,
			Recovering:  jctx.Recovering,
		})
	}
	response.OK(c, views)
}

// InterruptJob asks every running execution of a job to stop.
func (h *SchedulerHandler) InterruptJob(c *gin.Context) {
	key := job.NewKeyWithGroup(c.Param("name"), c.Param("group"))
	n := h.sched.Interrupt(key)
	response.OK(c, gin.H{"interrupted": n})
}
