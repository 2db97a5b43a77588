package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/pkg/clock"
)

func buildCustomCalendar(t *testing.T, start time.Time, sched *CustomCalendarSchedule) *CustomCalendar {
	t.Helper()
	built := NewBuilder().
		WithIdentity("custom", "tests").
		ForJob(job.NewKey("job")).
		WithSchedule(sched).
		StartAt(start).
		WithClock(clock.NewFixed(start)).
		Build()
	c, ok := built.(*CustomCalendar)
	require.True(t, ok)
	require.NoError(t, c.Validate())
	return c
}

func fireSequence(tr Operable, n int) []time.Time {
	var fired []time.Time
	for i := 0; i < n && tr.NextFireTime() != nil; i++ {
		fired = append(fired, *tr.NextFireTime())
		tr.Triggered(nil)
	}
	return fired
}

func TestCustomCalendar_WeeklyByDay(t *testing.T) {
	// 2026-01-06 is a Tuesday.
	start := time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)
	c := buildCustomCalendar(t, start, NewCustomCalendarSchedule(1, IntervalWeek).OnDays("TU,TH"))
	c.ComputeFirstFireTime(nil)

	day := func(dom int) time.Time {
		return time.Date(2026, 1, dom, 9, 0, 0, 0, time.UTC)
	}
	assert.Equal(t, []time.Time{day(6), day(8), day(13), day(15)}, fireSequence(c, 4))
}

func TestCustomCalendar_MonthlySkipsShortMonths(t *testing.T) {
	// Day 31 exists only in January, March and May during the first half of
	// the year; February and April produce no occurrence.
	start := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
	c := buildCustomCalendar(t, start, NewCustomCalendarSchedule(1, IntervalMonth).OnMonthDays("31"))
	c.ComputeFirstFireTime(nil)

	assert.Equal(t, []time.Time{
		time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 31, 12, 0, 0, 0, time.UTC),
	}, fireSequence(c, 3))
}

func TestCustomCalendar_YearlyFirstSundayOfNovember(t *testing.T) {
	start := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	c := buildCustomCalendar(t, start, NewCustomCalendarSchedule(1, IntervalYear).
		InMonth(11).
		OnDays("1SU"))
	c.ComputeFirstFireTime(nil)

	assert.Equal(t, []time.Time{
		time.Date(2026, 11, 1, 6, 0, 0, 0, time.UTC),
		time.Date(2027, 11, 7, 6, 0, 0, 0, time.UTC),
	}, fireSequence(c, 2))
}

func TestCustomCalendar_WeeklyMultiDaySequence(t *testing.T) {
	// 2024-07-15 is a Monday; the by-day list covers the rest of that week.
	start := time.Date(2024, 7, 15, 5, 0, 0, 0, time.UTC)
	c := buildCustomCalendar(t, start, NewCustomCalendarSchedule(1, IntervalWeek).OnDays("SU,WE,TH,SA"))

	day := func(dom int) time.Time {
		return time.Date(2024, 7, dom, 5, 0, 0, 0, time.UTC)
	}
	after := start
	var got []time.Time
	for i := 0; i < 5; i++ {
		next := c.FireTimeAfter(&after)
		require.NotNil(t, next)
		got = append(got, *next)
		after = *next
	}
	assert.Equal(t, []time.Time{day(17), day(18), day(20), day(21), day(24)}, got)
}

func TestCustomCalendar_YearlyOrdinalWeekdays(t *testing.T) {
	// May 2024: second Wednesday is the 8th, third Friday the 17th, last
	// Monday the 27th; there is no fifth Sunday.
	start := time.Date(2024, 4, 15, 5, 0, 0, 0, time.UTC)
	c := buildCustomCalendar(t, start, NewCustomCalendarSchedule(1, IntervalYear).
		InMonth(5).
		OnDays("2WE,3FR,5SU,-1MO"))

	after := start
	var got []time.Time
	for i := 0; i < 3; i++ {
		next := c.FireTimeAfter(&after)
		require.NotNil(t, next)
		got = append(got, *next)
		after = *next
	}
	assert.Equal(t, []time.Time{
		time.Date(2024, 5, 8, 5, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 17, 5, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 27, 5, 0, 0, 0, time.UTC),
	}, got)
}

func TestCustomCalendar_MisfireDoNothingAdvancesPastNow(t *testing.T) {
	start := time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)
	c := buildCustomCalendar(t, start, NewCustomCalendarSchedule(1, IntervalWeek).
		OnDays("TU").
		WithMisfireHandlingDoNothing())
	c.ComputeFirstFireTime(nil)

	// The trigger overslept by two hours.
	now := start.Add(2 * time.Hour)
	c.WithClock(clock.NewFixed(now))
	c.UpdateAfterMisfire(nil)

	require.NotNil(t, c.NextFireTime())
	assert.True(t, c.NextFireTime().After(now))
	assert.Equal(t, time.Date(2026, 1, 13, 9, 0, 0, 0, time.UTC), *c.NextFireTime())
}

func TestCustomCalendar_RepeatCountExhausts(t *testing.T) {
	start := time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)
	c := buildCustomCalendar(t, start, NewCustomCalendarSchedule(1, IntervalWeek).
		OnDays("TU").
		WithRepeatCount(1))
	c.ComputeFirstFireTime(nil)

	fired := fireSequence(c, 10)

	assert.Len(t, fired, 2)
	assert.Nil(t, c.NextFireTime())
}

func TestCustomCalendar_FireTimeAfterIsPure(t *testing.T) {
	start := time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)
	c := buildCustomCalendar(t, start, NewCustomCalendarSchedule(1, IntervalWeek).OnDays("TU,TH"))

	after := time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)
	got := c.FireTimeAfter(&after)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2026, 1, 13, 9, 0, 0, 0, time.UTC), *got)

	assert.Nil(t, c.NextFireTime())
	assert.Equal(t, 0, c.TimesTriggered)
}

func TestCustomCalendar_FarFutureAfterStaysOnPattern(t *testing.T) {
	// The advanced recurrence start keeps evaluation cheap without shifting
	// the occurrence grid.
	start := time.Date(2020, 1, 7, 9, 0, 0, 0, time.UTC) // a Tuesday
	c := buildCustomCalendar(t, start, NewCustomCalendarSchedule(2, IntervalWeek).OnDays("TU"))

	after := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	got := c.FireTimeAfter(&after)
	require.NotNil(t, got)

	assert.Equal(t, time.Tuesday, got.Weekday())
	// Every-other-week from 2020-01-07 puts occurrences on even week offsets.
	weeks := int(got.Sub(start).Hours() / (24 * 7))
	assert.Zero(t, weeks%2)
}

func TestCustomCalendar_ValidateRejectsBadConfig(t *testing.T) {
	mk := func(unit IntervalUnit) *CustomCalendar {
		c := NewCustomCalendar()
		c.SetKey(job.NewTriggerKey("bad"))
		c.SetJobKey(job.NewKey("job"))
		c.SetStartTime(time.Now())
		c.Interval = 1
		c.IntervalUnit = unit
		return c
	}

	c := mk(IntervalWeek)
	assert.Error(t, c.Validate(), "weekly recurrence needs a by-day list")

	c = mk(IntervalYear)
	c.ByDay = "1SU"
	assert.Error(t, c.Validate(), "yearly recurrence needs a month")

	c = mk(IntervalHour)
	assert.Error(t, c.Validate())

	c = mk(IntervalWeek)
	c.ByDay = "TU"
	c.Interval = 0
	assert.Error(t, c.Validate())

	c = mk(IntervalWeek)
	c.ByDay = "NOTADAY"
	assert.Error(t, c.Validate())
}
