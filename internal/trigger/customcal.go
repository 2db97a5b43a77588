package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/chronex-io/chronex/internal/calendar"
	"github.com/teambition/rrule-go"
)

// rruleOccurrenceCap caps the RRULE evaluator's work per computation. It is a
// safety bound: a single FireTimeAfter never needs more than one occurrence
// past the advanced start, but a degenerate by-filter could otherwise scan
// unbounded calendar space.
const rruleOccurrenceCap = 500

// CustomCalendar fires on occurrences of an iCalendar RRULE recurrence built
// from interval, BYMONTH, BYMONTHDAY and BYDAY components. Evaluation happens
// in the trigger's zone; the zone is fixed at construction.
type CustomCalendar struct {
	baseTrigger

	// IntervalUnit must be Day, Week, Month or Year.
	IntervalUnit IntervalUnit
	Interval     int
	// ByMonth is a month number 1-12; 0 means unset.
	ByMonth int
	// ByMonthDay is a comma-separated day-of-month list ("1,15,31"), kept
	// as a string end to end.
	ByMonthDay string
	// ByDay is a comma-separated BYDAY list ("MO", "1MO", "-1FR", "SU").
	ByDay string
	// RepeatCount bounds total firings; RepeatIndefinitely means unbounded.
	RepeatCount    int
	Timezone       string
	TimesTriggered int
}

// NewCustomCalendar returns a custom-calendar trigger with an unbounded
// repeat count.
func NewCustomCalendar() *CustomCalendar {
	return &CustomCalendar{baseTrigger: newBaseTrigger(), RepeatCount: RepeatIndefinitely}
}

func (c *CustomCalendar) Type() string { return TypeCustomCalendar }

func (c *CustomCalendar) Clone() Operable {
	out := *c
	out.baseTrigger = c.cloneBase()
	return &out
}

func (c *CustomCalendar) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: invalid timezone %s: %w", c.key, c.Timezone, err)
	}
	return loc, nil
}

func (c *CustomCalendar) Validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if c.Interval < 1 {
		return fmt.Errorf("trigger %s: interval must be >= 1, got %d", c.key, c.Interval)
	}
	if c.RepeatCount < RepeatIndefinitely {
		return fmt.Errorf("trigger %s: repeat count must be >= 0 or RepeatIndefinitely", c.key)
	}
	switch c.IntervalUnit {
	case IntervalYear:
		if c.ByMonth < 1 || c.ByMonth > 12 {
			return fmt.Errorf("trigger %s: yearly recurrence requires by-month 1-12, got %d", c.key, c.ByMonth)
		}
		if c.ByDay == "" && c.ByMonthDay == "" {
			return fmt.Errorf("trigger %s: yearly recurrence requires by-day or by-month-day", c.key)
		}
	case IntervalMonth:
		if c.ByDay == "" && c.ByMonthDay == "" {
			return fmt.Errorf("trigger %s: monthly recurrence requires by-day or by-month-day", c.key)
		}
	case IntervalWeek:
		if c.ByDay == "" {
			return fmt.Errorf("trigger %s: weekly recurrence requires by-day", c.key)
		}
	case IntervalDay:
	default:
		return fmt.Errorf("trigger %s: recurrence unit must be day, week, month or year, got %q", c.key, c.IntervalUnit)
	}
	if c.ByMonth < 0 || c.ByMonth > 12 {
		return fmt.Errorf("trigger %s: by-month must be 1-12, got %d", c.key, c.ByMonth)
	}
	if _, err := c.location(); err != nil {
		return err
	}
	// Compile once so malformed by-lists fail at validation, not at fire
	// computation.
	if _, err := rrule.StrToRRule(c.pattern()); err != nil {
		return fmt.Errorf("trigger %s: invalid recurrence: %w", c.key, err)
	}
	return nil
}

// pattern renders the RRULE string for the configured fields.
func (c *CustomCalendar) pattern() string {
	var sb strings.Builder
	switch c.IntervalUnit {
	case IntervalWeek:
		sb.WriteString("FREQ=WEEKLY")
	case IntervalMonth:
		sb.WriteString("FREQ=MONTHLY")
	case IntervalYear:
		sb.WriteString("FREQ=YEARLY")
	default:
		sb.WriteString("FREQ=DAILY")
	}
	fmt.Fprintf(&sb, ";INTERVAL=%d", c.Interval)
	if c.ByMonth > 0 {
		fmt.Fprintf(&sb, ";BYMONTH=%d", c.ByMonth)
	}
	if c.ByMonthDay != "" {
		fmt.Fprintf(&sb, ";BYMONTHDAY=%s", stripSpaces(c.ByMonthDay))
	}
	if c.ByDay != "" {
		fmt.Fprintf(&sb, ";BYDAY=%s", stripSpaces(c.ByDay))
	}
	fmt.Fprintf(&sb, ";COUNT=%d", rruleOccurrenceCap)
	return sb.String()
}

// advancedStart moves the effective recurrence start forward by whole
// interval periods so that it is as close to after as possible without
// exceeding it, bounding the evaluator's scan.
func (c *CustomCalendar) advancedStart(after time.Time, loc *time.Location) time.Time {
	st := c.startTime.In(loc)
	if !after.After(c.startTime) {
		return st
	}
	var periods int
	switch c.IntervalUnit {
	case IntervalDay:
		periods = int(after.Sub(c.startTime).Hours()/24) / c.Interval
	case IntervalWeek:
		periods = int(after.Sub(c.startTime).Hours()/(24*7)) / c.Interval
	case IntervalMonth:
		months := (after.Year()-st.Year())*12 + int(after.In(loc).Month()) - int(st.Month())
		periods = months / c.Interval
	case IntervalYear:
		periods = (after.In(loc).Year() - st.Year()) / c.Interval
	}
	if periods <= 0 {
		return st
	}
	var advanced time.Time
	switch c.IntervalUnit {
	case IntervalDay:
		advanced = st.AddDate(0, 0, periods*c.Interval)
	case IntervalWeek:
		advanced = st.AddDate(0, 0, periods*c.Interval*7)
	case IntervalMonth:
		advanced = addMonthsClamped(st, periods*c.Interval, loc)
	case IntervalYear:
		advanced = addMonthsClamped(st, periods*c.Interval*12, loc)
	}
	if advanced.After(after) {
		// Back off one period so occurrences within the current period are
		// not skipped.
		switch c.IntervalUnit {
		case IntervalDay:
			advanced = advanced.AddDate(0, 0, -c.Interval)
		case IntervalWeek:
			advanced = advanced.AddDate(0, 0, -c.Interval*7)
		case IntervalMonth:
			advanced = addMonthsClamped(advanced, -c.Interval, loc)
		case IntervalYear:
			advanced = addMonthsClamped(advanced, -c.Interval*12, loc)
		}
	}
	if advanced.Before(st) {
		return st
	}
	return advanced
}

// FireTimeAfter evaluates the recurrence from the advanced start and returns
// the first occurrence strictly greater than after. Pure; nil means "now".
func (c *CustomCalendar) FireTimeAfter(after *time.Time) *time.Time {
	if c.RepeatCount != RepeatIndefinitely && c.TimesTriggered > c.RepeatCount {
		return nil
	}
	a := c.afterOrNow(after)
	if c.endTime != nil && !a.Before(*c.endTime) {
		return nil
	}
	loc, err := c.location()
	if err != nil {
		return nil
	}

	rule, err := rrule.StrToRRule(c.pattern())
	if err != nil {
		return nil
	}
	rule.DTStart(c.advancedStart(a, loc))

	occurrence := rule.After(a, false)
	if occurrence.IsZero() {
		return nil
	}
	u := occurrence.UTC()
	if u.Before(c.startTime) || !c.withinEnd(u) {
		return nil
	}
	return &u
}

func (c *CustomCalendar) ComputeFirstFireTime(cal calendar.Calendar) *time.Time {
	pre := c.startTime.Add(-time.Second)
	first := c.FireTimeAfter(&pre)
	first = nextIncluded(cal, first, c.FireTimeAfter)
	c.nextFireTime = copyTime(first)
	return copyTime(first)
}

func (c *CustomCalendar) Triggered(cal calendar.Calendar) {
	c.TimesTriggered++
	c.triggered(cal, c.FireTimeAfter)
}

func (c *CustomCalendar) UpdateWithNewCalendar(cal calendar.Calendar, misfireThreshold time.Duration) {
	c.updateWithNewCalendar(cal, misfireThreshold, c.FireTimeAfter)
}

// UpdateAfterMisfire interprets the misfire instruction; the smart policy
// resolves to FireOnceNow.
func (c *CustomCalendar) UpdateAfterMisfire(cal calendar.Calendar) {
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

func (c *CustomCalendar) ScheduleBuilder() ScheduleBuilder {
	return &CustomCalendarSchedule{
		IntervalUnit: c.IntervalUnit,
		Interval:     c.Interval,
		ByMonth:      c.ByMonth,
		ByMonthDay:   c.ByMonthDay,
		ByDay:        c.ByDay,
		RepeatCount:  c.RepeatCount,
		Timezone:     c.Timezone,
		Misfire:      c.misfire,
	}
}

func stripSpaces(s string) string {
	return strings.ReplaceAll(s, " ", "")
}
