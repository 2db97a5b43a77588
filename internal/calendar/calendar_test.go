package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeeklyCalendar_ExcludesWeekdays(t *testing.T) {
	c := NewWeekly(time.Saturday, time.Sunday)

	friday := time.Date(2026, 4, 3, 12, 0, 0, 0, time.UTC)
	saturday := friday.AddDate(0, 0, 1)

	assert.True(t, c.IsTimeIncluded(friday))
	assert.False(t, c.IsTimeIncluded(saturday))
	assert.Equal(t, time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC), c.NextIncludedTime(saturday),
		"scan lands on Monday midnight")
}

func TestMonthlyCalendar_ExcludesDaysOfMonth(t *testing.T) {
	c := NewMonthly(1, 15)

	assert.False(t, c.IsTimeIncluded(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)))
	assert.False(t, c.IsTimeIncluded(time.Date(2026, 4, 15, 9, 0, 0, 0, time.UTC)))
	assert.True(t, c.IsTimeIncluded(time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)))
}

func TestAnnualCalendar_ExcludesRecurringDates(t *testing.T) {
	c := NewAnnual(MonthDay{Month: time.December, Day: 25}, MonthDay{Month: time.January, Day: 1})

	assert.False(t, c.IsTimeIncluded(time.Date(2026, 12, 25, 10, 0, 0, 0, time.UTC)))
	assert.False(t, c.IsTimeIncluded(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, c.IsTimeIncluded(time.Date(2026, 12, 24, 10, 0, 0, 0, time.UTC)))
}

func TestHolidayCalendar_ExcludesExplicitDates(t *testing.T) {
	c := NewHoliday(
		time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC), // duplicate is deduped
	)

	require.Len(t, c.ExcludedDates, 1)
	assert.False(t, c.IsTimeIncluded(time.Date(2026, 7, 4, 18, 30, 0, 0, time.UTC)))
	assert.True(t, c.IsTimeIncluded(time.Date(2027, 7, 4, 18, 30, 0, 0, time.UTC)),
		"holiday exclusions do not recur")
	assert.Equal(t, time.Date(2026, 7, 5, 0, 0, 0, 0, time.UTC),
		c.NextIncludedTime(time.Date(2026, 7, 4, 6, 0, 0, 0, time.UTC)))
}

func TestDailyCalendar_WindowExclusionAndInversion(t *testing.T) {
	c, err := NewDaily("22:00:00", "23:59:59", "")
	require.NoError(t, err)

	inWindow := time.Date(2026, 4, 1, 22, 30, 0, 0, time.UTC)
	outside := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, c.IsTimeIncluded(inWindow))
	assert.True(t, c.IsTimeIncluded(outside))
	assert.Equal(t, time.Date(2026, 4, 1, 23, 59, 59, 0, time.UTC), c.NextIncludedTime(inWindow))

	c.Invert = true
	assert.True(t, c.IsTimeIncluded(inWindow))
	assert.False(t, c.IsTimeIncluded(outside))
	assert.Equal(t, time.Date(2026, 4, 1, 22, 0, 0, 0, time.UTC), c.NextIncludedTime(outside))
}

func TestDailyCalendar_RejectsBadBounds(t *testing.T) {
	_, err := NewDaily("17:00:00", "09:00:00", "")
	assert.Error(t, err)

	_, err = NewDaily("junk", "09:00:00", "")
	assert.Error(t, err)

	_, err = NewDaily("09:00:00", "17:00:00", "Mars/OlympusMons")
	assert.Error(t, err)
}

func TestCronCalendar_ExcludesMatchingInstants(t *testing.T) {
	// Exclude the first eight hours of every day.
	c, err := NewCron("* * 0-7 ? * *", "")
	require.NoError(t, err)

	assert.False(t, c.IsTimeIncluded(time.Date(2026, 4, 1, 3, 15, 0, 0, time.UTC)))
	assert.True(t, c.IsTimeIncluded(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		c.NextIncludedTime(time.Date(2026, 4, 1, 7, 59, 59, 0, time.UTC)))
}

func TestCronCalendar_RejectsBadExpression(t *testing.T) {
	_, err := NewCron("not a cron", "")
	assert.Error(t, err)
}

func TestBaseChaining_ConjunctionOfPredicates(t *testing.T) {
	weekends := NewWeekly(time.Saturday, time.Sunday)
	holidays := NewHoliday(time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC)) // a Monday
	holidays.SetBase(weekends)

	saturday := time.Date(2026, 4, 4, 12, 0, 0, 0, time.UTC)
	holidayMonday := time.Date(2026, 4, 6, 12, 0, 0, 0, time.UTC)
	tuesday := time.Date(2026, 4, 7, 12, 0, 0, 0, time.UTC)

	assert.False(t, holidays.IsTimeIncluded(saturday), "base calendar exclusion applies")
	assert.False(t, holidays.IsTimeIncluded(holidayMonday))
	assert.True(t, holidays.IsTimeIncluded(tuesday))
	assert.Equal(t, time.Date(2026, 4, 7, 0, 0, 0, 0, time.UTC), holidays.NextIncludedTime(saturday))
}

func TestClone_IsIndependentAndDeep(t *testing.T) {
	weekends := NewWeekly(time.Saturday, time.Sunday)
	holidays := NewHoliday(time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC))
	holidays.SetBase(weekends)

	clone := holidays.Clone().(*HolidayCalendar)
	clone.AddExcludedDate(time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC))
	clone.Base().(*WeeklyCalendar).ExcludedDays = nil

	assert.Len(t, holidays.ExcludedDates, 1)
	assert.Len(t, holidays.Base().(*WeeklyCalendar).ExcludedDays, 2)
	assert.Len(t, clone.ExcludedDates, 2)
}

func TestEncodeDecode_RoundTripsChain(t *testing.T) {
	weekends := NewWeekly(time.Saturday, time.Sunday)
	weekends.Desc = "skip weekends"
	holidays := NewHoliday(time.Date(2026, 7, 4, 0, 0, 0, 0, time.UTC))
	holidays.SetBase(weekends)

	raw, err := Encode(holidays)
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)

	h, ok := got.(*HolidayCalendar)
	require.True(t, ok)
	assert.Equal(t, holidays.ExcludedDates, h.ExcludedDates)

	base, ok := h.Base().(*WeeklyCalendar)
	require.True(t, ok)
	assert.Equal(t, "skip weekends", base.Description())
	assert.False(t, h.IsTimeIncluded(time.Date(2026, 4, 4, 12, 0, 0, 0, time.UTC)))
}

func TestEncodeDecode_CronCompilesOnDecode(t *testing.T) {
	c, err := NewCron("* * 0-7 ? * *", "America/New_York")
	require.NoError(t, err)

	raw, err := Encode(c)
	require.NoError(t, err)
	got, err := Decode(raw)
	require.NoError(t, err)

	// 03:00 New York in winter is excluded; 12:00 is not.
	assert.False(t, got.IsTimeIncluded(time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)))
	assert.True(t, got.IsTimeIncluded(time.Date(2026, 1, 15, 17, 0, 0, 0, time.UTC)))
}

func TestDecode_UnknownTypeFails(t *testing.T) {
	_, err := Decode([]byte(`{"type":"lunar","data":{}}`))
	assert.Error(t, err)
}
