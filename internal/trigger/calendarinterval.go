package trigger

import (
	"fmt"
	"time"

	"github.com/chronex-io/chronex/internal/calendar"
)

// CalendarInterval fires every Interval units of calendar time from the start
// time. Month and year arithmetic uses calendar rules with end-of-month
// clamping; day-and-larger units honor the two DST flags.
type CalendarInterval struct {
	baseTrigger

	IntervalUnit IntervalUnit
	Interval     int
	Timezone     string

	// PreserveHourOfDay keeps the start time's wall-clock hour across DST
	// transitions for day-and-larger units; when false the trigger adds
	// absolute 24-hour blocks and the local hour drifts with the offset.
	PreserveHourOfDay bool
	// SkipDayIfHourDoesNotExist skips days on which the preserved hour
	// falls inside a spring-forward gap instead of normalising forward.
	SkipDayIfHourDoesNotExist bool

	TimesTriggered int
}

// NewCalendarInterval returns an unconfigured calendar-interval trigger.
func NewCalendarInterval() *CalendarInterval {
	return &CalendarInterval{baseTrigger: newBaseTrigger()}
}

func (c *CalendarInterval) Type() string { return TypeCalendarInterval }

func (c *CalendarInterval) Clone() Operable {
	out := *c
	out.baseTrigger = c.cloneBase()
	return &out
}

func (c *CalendarInterval) Validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if !c.IntervalUnit.valid() {
		return fmt.Errorf("trigger %s: invalid interval unit %q", c.key, c.IntervalUnit)
	}
	if c.Interval < 1 {
		return fmt.Errorf("trigger %s: interval must be >= 1, got %d", c.key, c.Interval)
	}
	if _, err := c.location(); err != nil {
		return err
	}
	return nil
}

func (c *CalendarInterval) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: invalid timezone %s: %w", c.key, c.Timezone, err)
	}
	return loc, nil
}

// FireTimeAfter is pure; nil means "now".
func (c *CalendarInterval) FireTimeAfter(after *time.Time) *time.Time {
	if c.Interval < 1 || !c.IntervalUnit.valid() {
		return nil
	}
	a := c.afterOrNow(after)
	if a.Before(c.startTime) {
		t := c.startTime
		if !c.withinEnd(t) {
			return nil
		}
		return &t
	}

	var t time.Time
	switch c.IntervalUnit {
	case IntervalSecond, IntervalMinute, IntervalHour:
		unit, _ := c.IntervalUnit.duration()
		step := unit * time.Duration(c.Interval)
		n := a.Sub(c.startTime)/step + 1
		t = c.startTime.Add(n * step)
	default:
		loc, err := c.location()
		if err != nil {
			return nil
		}
		t = c.nextCalendarTime(a, loc)
		if t.IsZero() {
			return nil
		}
	}

	u := t.UTC()
	if !c.withinEnd(u) {
		return nil
	}
	return &u
}

// nextCalendarTime walks day-or-larger intervals from the start time in the
// trigger's zone until it passes after. A coarse jump bounds the walk so far
// futures don't iterate one period at a time.
func (c *CalendarInterval) nextCalendarTime(after time.Time, loc *time.Location) time.Time {
	st := c.startTime.In(loc)
	candidate := st

	elapsed := after.Sub(c.startTime)
	switch c.IntervalUnit {
	case IntervalDay:
		if est := int(elapsed.Hours()/24)/c.Interval - 1; est > 0 {
			candidate = c.addDays(st, est*c.Interval, loc)
		}
	case IntervalWeek:
		if est := int(elapsed.Hours()/(24*7))/c.Interval - 1; est > 0 {
			candidate = c.addDays(st, est*c.Interval*7, loc)
		}
	case IntervalMonth:
		months := (after.Year()-st.Year())*12 + int(after.Month()) - int(st.Month())
		if est := months/c.Interval - 1; est > 0 {
			candidate = addMonthsClamped(st, est*c.Interval, loc)
		}
	case IntervalYear:
		if est := (after.Year()-st.Year())/c.Interval - 1; est > 0 {
			candidate = addMonthsClamped(st, est*c.Interval*12, loc)
		}
	}

	for !candidate.After(after) {
		if candidate.Year() > yearToGiveUp {
			return time.Time{}
		}
		switch c.IntervalUnit {
		case IntervalDay:
			candidate = c.addDays(candidate, c.Interval, loc)
		case IntervalWeek:
			candidate = c.addDays(candidate, c.Interval*7, loc)
		case IntervalMonth:
			candidate = addMonthsClamped(candidate, c.Interval, loc)
		case IntervalYear:
			candidate = addMonthsClamped(candidate, c.Interval*12, loc)
		}
	}
	return candidate
}

// addDays advances whole days honoring the DST flags.
func (c *CalendarInterval) addDays(t time.Time, days int, loc *time.Location) time.Time {
	if !c.PreserveHourOfDay {
		return t.Add(time.Duration(days) * 24 * time.Hour)
	}
	h, m, s := t.Clock()
	target := time.Date(t.Year(), t.Month(), t.Day()+days, h, m, s, 0, loc)
	if target.Hour() == h || !c.SkipDayIfHourDoesNotExist {
		// Normalisation forward out of a DST gap is acceptable unless the
		// skip flag demands otherwise.
		return target
	}
	for target.Hour() != h && target.Year() <= yearToGiveUp {
		target = time.Date(target.Year(), target.Month(), target.Day()+1, h, m, s, 0, loc)
	}
	return target
}

func (c *CalendarInterval) ComputeFirstFireTime(cal calendar.Calendar) *time.Time {
	return c.computeFirstFireTime(cal, c.FireTimeAfter)
}

func (c *CalendarInterval) Triggered(cal calendar.Calendar) {
	c.TimesTriggered++
	c.triggered(cal, c.FireTimeAfter)
}

func (c *CalendarInterval) UpdateWithNewCalendar(cal calendar.Calendar, misfireThreshold time.Duration) {
	c.updateWithNewCalendar(cal, misfireThreshold, c.FireTimeAfter)
}

// UpdateAfterMisfire interprets the misfire instruction; the smart policy
// resolves to FireOnceNow.
func (c *CalendarInterval) UpdateAfterMisfire(cal calendar.Calendar) {
	instr := c.misfire
	if instr == MisfireIgnorePolicy {
		return
	}
	if instr == MisfireSmartPolicy {
		instr = MisfireFireOnceNow
	}
	switch instr {
	case MisfireFireOnceNow:
		c.nextFireTime = timePtr(c.now())
	case MisfireDoNothing:
		now := c.now()
		next := nextIncluded(cal, c.FireTimeAfter(&now), c.FireTimeAfter)
		c.nextFireTime = copyTime(next)
	}
}

func (c *CalendarInterval) ScheduleBuilder() ScheduleBuilder {
	return &CalendarIntervalSchedule{
		IntervalUnit:              c.IntervalUnit,
		Interval:                  c.Interval,
		Timezone:                  c.Timezone,
		PreserveHourOfDay:         c.PreserveHourOfDay,
		SkipDayIfHourDoesNotExist: c.SkipDayIfHourDoesNotExist,
		Misfire:                   c.misfire,
	}
}
