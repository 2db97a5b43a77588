package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/chronex-io/chronex/internal/api/response"
	"github.com/chronex-io/chronex/internal/calendar"
	"github.com/chronex-io/chronex/internal/logging"
	"github.com/chronex-io/chronex/internal/scheduler"
	"github.com/chronex-io/chronex/internal/store"
	"go.uber.org/zap"
)

// CalendarHandler exposes exclusion calendar management.
type CalendarHandler struct {
	logger logging.Logger
	sched  *scheduler.Scheduler
}

// NewCalendarHandler creates a new calendar management handler.
func NewCalendarHandler(logger logging.Logger, sched *scheduler.Scheduler) *CalendarHandler {
	return &CalendarHandler{logger: logger, sched: sched}
}

// PutCalendar stores a calendar under the name in the path. The body is the
// calendar wire encoding. With update_triggers=true, triggers referencing the
// calendar get their next fire times recomputed.
func (h *CalendarHandler) PutCalendar(c *gin.Context) {
	name := c.Param("name")

	raw, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "failed to read request body", err.Error())
		return
	}
	cal, err := calendar.Decode(raw)
	if err != nil {
		response.BadRequest(c, "invalid calendar", err.Error())
		return
	}

	replace := c.Query("replace") == "true"
	updateTriggers := c.Query("update_triggers") == "true"
	if err := h.sched.AddCalendar(c.Request.Context(), name, cal, replace, updateTriggers); err != nil {
		var exists *store.AlreadyExistsError
		if errors.As(err, &exists) {
			response.Conflict(c, "calendar already exists", name)
			return
		}
		response.BadRequest(c, "failed to store calendar", err.Error())
		return
	}

	h.logger.Info("calendar stored", zap.String("calendar", name))
	response.Created(c, gin.H{"name": name}, "calendar stored")
}

// GetCalendar returns a stored calendar in its wire encoding.
func (h *CalendarHandler) GetCalendar(c *gin.Context) {
	name := c.Param("name")
	cal, err := h.sched.GetCalendar(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrCalendarNotFound) {
			response.NotFound(c, "calendar not found")
			return
		}
		response.InternalServerError(c, "failed to load calendar")
		return
	}

	raw, err := calendar.Encode(cal)
	if err != nil {
		response.InternalServerError(c, "failed to encode calendar")
		return
	}
	c.Data(200, "application/json", raw)
}

// ListCalendars returns the names of all stored calendars.
func (h *CalendarHandler) ListCalendars(c *gin.Context) {
	names, err := h.sched.GetCalendarNames(c.Request.Context())
	if err != nil {
		response.InternalServerError(c, "failed to list calendars")
		return
	}
	response.OK(c, names)
}

// DeleteCalendar removes a calendar. Deletion is refused while any trigger
// still references it.
func (h *CalendarHandler) DeleteCalendar(c *gin.Context) {
	name := c.Param("name")
	removed, err := h.sched.DeleteCalendar(c.Request.Context(), name)
	if err != nil {
		response.Conflict(c, "failed to delete calendar", err.Error())
		return
	}
	if !removed {
		response.NotFound(c, "calendar not found")
		return
	}
	response.NoContent(c)
}
