package handlers

import (
	"github.com/chronex-io/chronex/internal/api/response"
	"github.com/chronex-io/chronex/internal/logging"
	"github.com/chronex-io/chronex/internal/scheduler"
	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check requests.
type HealthHandler struct {
	logger logging.Logger
	sched  *scheduler.Scheduler
}

// NewHealthHandler creates a new health check handler.
func NewHealthHandler(logger logging.Logger, sched *scheduler.Scheduler) *HealthHandler {
	return &HealthHandler{logger: logger, sched: sched}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Scheduler string `json:"scheduler"`
}

// Health reports process liveness and the scheduler's run state.
func (h *HealthHandler) Health(c *gin.Context) {
	state := "created"
	m := h.sched.GetMetadata()
	switch {
	case m.Shutdown:
		state = "shutdown"
	case m.InStandbyMode:
		state = "standby"
	case m.Started:
		state = "started"
	}
	response.OK(c, HealthResponse{
		Status:    "ok",
		Service:   "chronex",
		Scheduler: state,
	})
}
