package calendar

import "time"

// AnnualCalendar excludes one or more (month, day) pairs every year.
type AnnualCalendar struct {
	BaseCalendar
	// ExcludedDays lists the excluded month/day pairs.
	ExcludedDays []MonthDay `json:"excluded_days"`
}

// MonthDay is a recurring day of the year.
type MonthDay struct {
	Month time.Month `json:"month"`
	Day   int        `json:"day"`
}

// NewAnnual builds an annual exclusion calendar.
func NewAnnual(days ...MonthDay) *AnnualCalendar {
	return &AnnualCalendar{ExcludedDays: days}
}

func (c *AnnualCalendar) IsTimeIncluded(t time.Time) bool {
	if !c.baseIncluded(t) {
		return false
	}
	u := t.UTC()
	for _, d := range c.ExcludedDays {
		if u.Month() == d.Month && u.Day() == d.Day {
			return false
		}
	}
	return true
}

func (c *AnnualCalendar) NextIncludedTime(t time.Time) time.Time {
	return nextIncludedByDay(c, t)
}

func (c *AnnualCalendar) Clone() Calendar {
	out := &AnnualCalendar{BaseCalendar: c.cloneBase()}
	out.ExcludedDays = append(out.ExcludedDays, c.ExcludedDays...)
	return out
}

// MonthlyCalendar excludes a set of days-of-month (1-31) every month.
type MonthlyCalendar struct {
	BaseCalendar
	ExcludedDays []int `json:"excluded_days"`
}

// NewMonthly builds a monthly exclusion calendar.
func NewMonthly(days ...int) *MonthlyCalendar {
	return &MonthlyCalendar{ExcludedDays: days}
}

func (c *MonthlyCalendar) IsTimeIncluded(t time.Time) bool {
	if !c.baseIncluded(t) {
		return false
	}
	day := t.UTC().Day()
	for _, d := range c.ExcludedDays {
		if day == d {
			return false
		}
	}
	return true
}

func (c *MonthlyCalendar) NextIncludedTime(t time.Time) time.Time {
	return nextIncludedByDay(c, t)
}

func (c *MonthlyCalendar) Clone() Calendar {
	out := &MonthlyCalendar{BaseCalendar: c.cloneBase()}
	out.ExcludedDays = append(out.ExcludedDays, c.ExcludedDays...)
	return out
}

// WeeklyCalendar excludes a set of weekdays every week.
type WeeklyCalendar struct {
	BaseCalendar
	ExcludedDays []time.Weekday `json:"excluded_days"`
}

// NewWeekly builds a weekly exclusion calendar.
func NewWeekly(days ...time.Weekday) *WeeklyCalendar {
	return &WeeklyCalendar{ExcludedDays: days}
}

func (c *WeeklyCalendar) IsTimeIncluded(t time.Time) bool {
	if !c.baseIncluded(t) {
		return false
	}
	wd := t.UTC().Weekday()
	for _, d := range c.ExcludedDays {
		if wd == d {
			return false
		}
	}
	return true
}

func (c *WeeklyCalendar) NextIncludedTime(t time.Time) time.Time {
	return nextIncludedByDay(c, t)
}

func (c *WeeklyCalendar) Clone() Calendar {
	out := &WeeklyCalendar{BaseCalendar: c.cloneBase()}
	out.ExcludedDays = append(out.ExcludedDays, c.ExcludedDays...)
	return out
}

// HolidayCalendar excludes an explicit set of dates (whole days, UTC).
type HolidayCalendar struct {
	BaseCalendar
	// ExcludedDates holds dates in "2006-01-02" form, kept sorted.
	ExcludedDates []string `json:"excluded_dates"`
}

// NewHoliday builds a holiday calendar from explicit dates.
func NewHoliday(dates ...time.Time) *HolidayCalendar {
	c := &HolidayCalendar{}
	for _, d := range dates {
		c.AddExcludedDate(d)
	}
	return c
}

// AddExcludedDate marks the date of d (UTC) as excluded.
func (c *HolidayCalendar) AddExcludedDate(d time.Time) {
	key := d.UTC().Format(time.DateOnly)
	for _, existing := range c.ExcludedDates {
		if existing == key {
			return
		}
	}
	c.ExcludedDates = append(c.ExcludedDates, key)
}

func (c *HolidayCalendar) IsTimeIncluded(t time.Time) bool {
	if !c.baseIncluded(t) {
		return false
	}
	key := t.UTC().Format(time.DateOnly)
	for _, d := range c.ExcludedDates {
		if d == key {
			return false
		}
	}
	return true
}

func (c *HolidayCalendar) NextIncludedTime(t time.Time) time.Time {
	return nextIncludedByDay(c, t)
}

func (c *HolidayCalendar) Clone() Calendar {
	out := &HolidayCalendar{BaseCalendar: c.cloneBase()}
	out.ExcludedDates = append(out.ExcludedDates, c.ExcludedDates...)
	return out
}
