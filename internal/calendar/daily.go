package calendar

import (
	"fmt"
	"time"
)

// DailyCalendar excludes (or, inverted, includes only) a time-of-day window
// each day, evaluated as wall-clock time in the calendar's zone.
type DailyCalendar struct {
	BaseCalendar
	// RangeStart and RangeEnd are "HH:MM:SS" wall-clock bounds; the window is
	// [RangeStart, RangeEnd).
	RangeStart string `json:"range_start"`
	RangeEnd   string `json:"range_end"`
	// Invert makes the window the only included time of day.
	Invert bool `json:"invert,omitempty"`
	// Timezone is an IANA zone id; empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

// NewDaily builds a daily window calendar; bounds are "HH:MM:SS".
func NewDaily(rangeStart, rangeEnd, timezone string) (*DailyCalendar, error) {
	c := &DailyCalendar{RangeStart: rangeStart, RangeEnd: rangeEnd, Timezone: timezone}
	if _, _, err := c.bounds(); err != nil {
		return nil, err
	}
	if _, err := c.location(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *DailyCalendar) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *DailyCalendar) bounds() (start, end time.Duration, err error) {
	start, err = parseTimeOfDay(c.RangeStart)
	if err != nil {
		return 0, 0, err
	}
	end, err = parseTimeOfDay(c.RangeEnd)
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("daily calendar range end %s must be after start %s", c.RangeEnd, c.RangeStart)
	}
	return start, end, nil
}

func (c *DailyCalendar) IsTimeIncluded(t time.Time) bool {
	if !c.baseIncluded(t) {
		return false
	}
	start, end, err := c.bounds()
	if err != nil {
		return false
	}
	loc, err := c.location()
	if err != nil {
		return false
	}
	local := t.In(loc)
	elapsed := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second
	inWindow := elapsed >= start && elapsed < end
	if c.Invert {
		return inWindow
	}
	return !inWindow
}

func (c *DailyCalendar) NextIncludedTime(t time.Time) time.Time {
	if c.IsTimeIncluded(t) {
		return t
	}
	start, end, err := c.bounds()
	if err != nil {
		return time.Time{}
	}
	loc, err := c.location()
	if err != nil {
		return time.Time{}
	}
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	var candidate time.Time
	if c.Invert {
		// Next window start, today or tomorrow.
		candidate = midnight.Add(start)
		if !candidate.After(local) {
			candidate = midnight.AddDate(0, 0, 1).Add(start)
		}
	} else {
		candidate = midnight.Add(end)
		if !candidate.After(local) {
			candidate = midnight.AddDate(0, 0, 1).Add(end)
		}
	}
	// A base calendar may still exclude the candidate.
	for candidate.Year() <= endOfTimeYear {
		if c.IsTimeIncluded(candidate) {
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return time.Time{}
}

func (c *DailyCalendar) Clone() Calendar {
	out := *c
	out.BaseCalendar = c.cloneBase()
	return &out
}

func parseTimeOfDay(s string) (time.Duration, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}
