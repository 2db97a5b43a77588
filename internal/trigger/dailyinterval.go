package trigger

import (
	"fmt"
	"time"

	"github.com/chronex-io/chronex/internal/calendar"
)

// TimeOfDay is a wall-clock time within a day.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// NewTimeOfDay builds a TimeOfDay; validity is checked by the trigger.
func NewTimeOfDay(hour, minute, second int) TimeOfDay {
	return TimeOfDay{Hour: hour, Minute: minute, Second: second}
}

func (t TimeOfDay) validate() error {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 || t.Second < 0 || t.Second > 59 {
		return fmt.Errorf("invalid time of day %02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	return nil
}

// on places the time of day onto the date of day in loc.
func (t TimeOfDay) on(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, t.Second, 0, loc)
}

func (t TimeOfDay) duration() time.Duration {
	return time.Duration(t.Hour)*time.Hour + time.Duration(t.Minute)*time.Minute + time.Duration(t.Second)*time.Second
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// DailyInterval fires every Interval seconds/minutes/hours within a daily
// time-of-day window, on a configured set of weekdays.
type DailyInterval struct {
	baseTrigger

	StartTimeOfDay TimeOfDay
	EndTimeOfDay   TimeOfDay
	// DaysOfWeek restricts firing days; empty means every day.
	DaysOfWeek   []time.Weekday
	Interval     int
	IntervalUnit IntervalUnit
	// RepeatCount bounds total firings; RepeatIndefinitely means unbounded.
	RepeatCount    int
	Timezone       string
	TimesTriggered int
}

// NewDailyInterval returns a daily-interval trigger with an unbounded repeat
// count.
func NewDailyInterval() *DailyInterval {
	return &DailyInterval{baseTrigger: newBaseTrigger(), RepeatCount: RepeatIndefinitely}
}

func (d *DailyInterval) Type() string { return TypeDailyInterval }

func (d *DailyInterval) Clone() Operable {
	out := *d
	out.baseTrigger = d.cloneBase()
	out.DaysOfWeek = append([]time.Weekday(nil), d.DaysOfWeek...)
	return &out
}

func (d *DailyInterval) location() (*time.Location, error) {
	if d.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: invalid timezone %s: %w", d.key, d.Timezone, err)
	}
	return loc, nil
}

func (d *DailyInterval) Validate() error {
	if err := d.validateBase(); err != nil {
		return err
	}
	switch d.IntervalUnit {
	case IntervalSecond, IntervalMinute, IntervalHour:
	default:
		return fmt.Errorf("trigger %s: daily interval unit must be second, minute or hour, got %q", d.key, d.IntervalUnit)
	}
	if d.Interval < 1 {
		return fmt.Errorf("trigger %s: interval must be >= 1, got %d", d.key, d.Interval)
	}
	if err := d.StartTimeOfDay.validate(); err != nil {
		return fmt.Errorf("trigger %s: start %w", d.key, err)
	}
	if err := d.EndTimeOfDay.validate(); err != nil {
		return fmt.Errorf("trigger %s: end %w", d.key, err)
	}
	window := d.EndTimeOfDay.duration() - d.StartTimeOfDay.duration()
	if window <= 0 {
		return fmt.Errorf("trigger %s: end time of day %s must be after start time of day %s", d.key, d.EndTimeOfDay, d.StartTimeOfDay)
	}
	unit, _ := d.IntervalUnit.duration()
	if unit*time.Duration(d.Interval) > window {
		return fmt.Errorf("trigger %s: interval %d %s exceeds the daily window", d.key, d.Interval, d.IntervalUnit)
	}
	if d.RepeatCount < RepeatIndefinitely {
		return fmt.Errorf("trigger %s: repeat count must be >= 0 or RepeatIndefinitely", d.key)
	}
	if _, err := d.location(); err != nil {
		return err
	}
	return nil
}

func (d *DailyInterval) dayIncluded(w time.Weekday) bool {
	if len(d.DaysOfWeek) == 0 {
		return true
	}
	for _, day := range d.DaysOfWeek {
		if day == w {
			return true
		}
	}
	return false
}

// FireTimeAfter advances within the current day's window, then to the next
// included day. Pure; nil means "now".
func (d *DailyInterval) FireTimeAfter(after *time.Time) *time.Time {
	if d.RepeatCount != RepeatIndefinitely && d.TimesTriggered > d.RepeatCount {
		return nil
	}
	loc, err := d.location()
	if err != nil {
		return nil
	}
	unit, err := d.IntervalUnit.duration()
	if err != nil || d.Interval < 1 {
		return nil
	}
	step := unit * time.Duration(d.Interval)

	bound := d.afterOrNow(after)
	if preStart := d.startTime.Add(-time.Nanosecond); bound.Before(preStart) {
		bound = preStart
	}

	day := bound.In(loc)
	// 366 days covers any weekday set plus a leap year of excluded days.
	for i := 0; i < 366; i++ {
		if d.dayIncluded(day.Weekday()) {
			ws := d.StartTimeOfDay.on(day, loc)
			we := d.EndTimeOfDay.on(day, loc)
			var candidate time.Time
			if bound.Before(ws) {
				candidate = ws
			} else {
				n := bound.Sub(ws)/step + 1
				candidate = ws.Add(n * step)
			}
			if candidate.After(bound) && !candidate.After(we) {
				u := candidate.UTC()
				if !d.withinEnd(u) {
					return nil
				}
				return &u
			}
		}
		day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	}
	return nil
}

func (d *DailyInterval) ComputeFirstFireTime(cal calendar.Calendar) *time.Time {
	pre := d.startTime.Add(-time.Second)
	first := d.FireTimeAfter(&pre)
	first = nextIncluded(cal, first, d.FireTimeAfter)
	if first != nil && !d.withinEnd(*first) {
		first = nil
	}
	d.nextFireTime = copyTime(first)
	return copyTime(first)
}

func (d *DailyInterval) Triggered(cal calendar.Calendar) {
	d.TimesTriggered++
	d.triggered(cal, d.FireTimeAfter)
}

func (d *DailyInterval) UpdateWithNewCalendar(cal calendar.Calendar, misfireThreshold time.Duration) {
	d.updateWithNewCalendar(cal, misfireThreshold, d.FireTimeAfter)
}

// UpdateAfterMisfire interprets the misfire instruction; the smart policy
// resolves to FireOnceNow.
func (d *DailyInterval) UpdateAfterMisfire(cal calendar.Calendar) {
	instr := d.misfire
	if instr == MisfireIgnorePolicy {
		return
	}
	if instr == MisfireSmartPolicy {
		instr = MisfireFireOnceNow
	}
	switch instr {
	case MisfireFireOnceNow:
		d.nextFireTime = timePtr(d.now())
	case MisfireDoNothing:
		now := d.now()
		next := nextIncluded(cal, d.FireTimeAfter(&now), d.FireTimeAfter)
		d.nextFireTime = copyTime(next)
	}
}

func (d *DailyInterval) ScheduleBuilder() ScheduleBuilder {
	return &DailyIntervalSchedule{
		StartTimeOfDay: d.StartTimeOfDay,
		EndTimeOfDay:   d.EndTimeOfDay,
		DaysOfWeek:     append([]time.Weekday(nil), d.DaysOfWeek...),
		Interval:       d.Interval,
		IntervalUnit:   d.IntervalUnit,
		RepeatCount:    d.RepeatCount,
		Timezone:       d.Timezone,
		Misfire:        d.misfire,
	}
}
