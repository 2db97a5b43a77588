// Package calendar provides the inclusion predicates that triggers consult
// before accepting a candidate fire time. Calendars chain: each may wrap a
// base calendar, and the effective predicate is the conjunction.
package calendar

import "time"

// endOfTimeYear bounds NextIncludedTime scans; a calendar that excludes every
// instant up to this year is treated as excluding everything.
const endOfTimeYear = 2299

// Calendar is a chainable inclusion predicate over instants.
type Calendar interface {
	// IsTimeIncluded reports whether t is an acceptable fire time under this
	// calendar and every base calendar beneath it.
	IsTimeIncluded(t time.Time) bool
	// NextIncludedTime returns the earliest instant >= t that is included,
	// or the zero Time when the scan crosses the far-future guard.
	NextIncludedTime(t time.Time) time.Time
	// Base returns the wrapped calendar, or nil.
	Base() Calendar
	// Description is free text describing the calendar's intent.
	Description() string
	// Clone returns a deep copy; stores hand out clones only.
	Clone() Calendar
}

// BaseCalendar supplies chaining and description plumbing for the concrete
// variants that embed it.
type BaseCalendar struct {
	CalendarBase Calendar `json:"-"`
	Desc         string   `json:"description,omitempty"`
}

func (b *BaseCalendar) Base() Calendar      { return b.CalendarBase }
func (b *BaseCalendar) Description() string { return b.Desc }

// SetBase wraps another calendar beneath this one.
func (b *BaseCalendar) SetBase(base Calendar) { b.CalendarBase = base }

// baseIncluded applies the wrapped calendar's predicate, vacuously true when
// there is none.
func (b *BaseCalendar) baseIncluded(t time.Time) bool {
	return b.CalendarBase == nil || b.CalendarBase.IsTimeIncluded(t)
}

func (b *BaseCalendar) cloneBase() BaseCalendar {
	out := BaseCalendar{Desc: b.Desc}
	if b.CalendarBase != nil {
		out.CalendarBase = b.CalendarBase.Clone()
	}
	return out
}

// nextIncludedByDay serves the whole-day-excluding variants: it lands on the
// first start-of-day (UTC) at or after t that the calendar includes.
func nextIncludedByDay(c Calendar, t time.Time) time.Time {
	if c.IsTimeIncluded(t) {
		return t
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	for day.Year() <= endOfTimeYear {
		if c.IsTimeIncluded(day) {
			return day
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}
