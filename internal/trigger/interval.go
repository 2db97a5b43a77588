package trigger

import (
	"fmt"
	"time"
)

// IntervalUnit is the unit of a repeat interval for the calendar-interval,
// daily-interval and custom-calendar variants.
type IntervalUnit string

const (
	IntervalSecond IntervalUnit = "SECOND"
	IntervalMinute IntervalUnit = "MINUTE"
	IntervalHour   IntervalUnit = "HOUR"
	IntervalDay    IntervalUnit = "DAY"
	IntervalWeek   IntervalUnit = "WEEK"
	IntervalMonth  IntervalUnit = "MONTH"
	IntervalYear   IntervalUnit = "YEAR"
)

// duration returns the absolute length of time units; only valid for
// second/minute/hour.
func (u IntervalUnit) duration() (time.Duration, error) {
	switch u {
	case IntervalSecond:
		return time.Second, nil
	case IntervalMinute:
		return time.Minute, nil
	case IntervalHour:
		return time.Hour, nil
	default:
		return 0, fmt.Errorf("interval unit %s has no fixed duration", u)
	}
}

func (u IntervalUnit) valid() bool {
	switch u {
	case IntervalSecond, IntervalMinute, IntervalHour, IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return true
	}
	return false
}

// addMonthsClamped advances y/m by n months and clamps the day to the end of
// the target month, so "Jan 31 + 1 month" lands on the last day of February
// instead of normalising into March.
func addMonthsClamped(t time.Time, months int, loc *time.Location) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + months
	y += total / 12
	m = time.Month(total%12 + 1)
	if last := daysInMonth(y, m); d > last {
		d = last
	}
	h, min, sec := t.Clock()
	return time.Date(y, m, d, h, min, sec, t.Nanosecond(), loc)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1).Day()
}
