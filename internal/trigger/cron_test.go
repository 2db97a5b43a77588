package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronex-io/chronex/internal/calendar"
	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/pkg/clock"
)

func buildCron(t *testing.T, start time.Time, sched *CronSchedule) *Cron {
	t.Helper()
	built := NewBuilder().
		WithIdentity("cron", "tests").
		ForJob(job.NewKey("job")).
		WithSchedule(sched).
		StartAt(start).
		WithClock(clock.NewFixed(start)).
		Build()
	c, ok := built.(*Cron)
	require.True(t, ok)
	require.NoError(t, c.Validate())
	return c
}

func TestCron_FirstFireTimeMatchesExpression(t *testing.T) {
	start := time.Date(2026, 4, 1, 10, 30, 0, 0, time.UTC)
	c := buildCron(t, start, NewCronSchedule("0 0 12 * * ?"))

	first := c.ComputeFirstFireTime(nil)
	require.NotNil(t, first)
	assert.Equal(t, time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC), *first)
}

func TestCron_FirstFireTimeAtStartWhenStartMatches(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	c := buildCron(t, start, NewCronSchedule("0 0 12 * * ?"))

	first := c.ComputeFirstFireTime(nil)
	require.NotNil(t, first)
	assert.Equal(t, start, *first)
}

func TestCron_TriggeredAdvances(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	c := buildCron(t, start, NewCronSchedule("0 0 12 * * ?"))
	c.ComputeFirstFireTime(nil)

	c.Triggered(nil)

	require.NotNil(t, c.PreviousFireTime())
	assert.Equal(t, start, *c.PreviousFireTime())
	require.NotNil(t, c.NextFireTime())
	assert.Equal(t, start.AddDate(0, 0, 1), *c.NextFireTime())
}

func TestCron_CalendarExcludesFireTimes(t *testing.T) {
	// Daily at noon, but weekends are excluded. 2026-04-03 is a Friday.
	start := time.Date(2026, 4, 3, 12, 0, 0, 0, time.UTC)
	c := buildCron(t, start, NewCronSchedule("0 0 12 * * ?"))
	cal := calendar.NewWeekly(time.Saturday, time.Sunday)

	first := c.ComputeFirstFireTime(cal)
	require.NotNil(t, first)
	assert.Equal(t, start, *first)

	c.Triggered(cal)

	require.NotNil(t, c.NextFireTime())
	assert.Equal(t, time.Date(2026, 4, 6, 12, 0, 0, 0, time.UTC), *c.NextFireTime(),
		"Saturday and Sunday noons must be skipped")
}

func TestCron_MisfireDoNothingMovesPastNow(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	now := time.Date(2026, 4, 3, 9, 0, 0, 0, time.UTC)
	c := buildCron(t, start, NewCronSchedule("0 0 12 * * ?").WithMisfireHandlingDoNothing())
	c.ComputeFirstFireTime(nil)
	c.WithClock(clock.NewFixed(now))

	c.UpdateAfterMisfire(nil)

	require.NotNil(t, c.NextFireTime())
	assert.True(t, c.NextFireTime().After(now))
	assert.Equal(t, time.Date(2026, 4, 3, 12, 0, 0, 0, time.UTC), *c.NextFireTime())
}

func TestCron_MisfireFireOnceNow(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	now := time.Date(2026, 4, 3, 9, 0, 0, 0, time.UTC)
	c := buildCron(t, start, NewCronSchedule("0 0 12 * * ?").WithMisfireHandlingFireAndProceed())
	c.ComputeFirstFireTime(nil)
	c.WithClock(clock.NewFixed(now))

	c.UpdateAfterMisfire(nil)

	require.NotNil(t, c.NextFireTime())
	assert.Equal(t, now, *c.NextFireTime())
}

func TestCron_SmartPolicyDefaultsToFireOnceNow(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(48 * time.Hour)
	c := buildCron(t, start, NewCronSchedule("0 0 12 * * ?"))
	c.ComputeFirstFireTime(nil)
	c.WithClock(clock.NewFixed(now))

	c.UpdateAfterMisfire(nil)

	require.NotNil(t, c.NextFireTime())
	assert.Equal(t, now, *c.NextFireTime())
}

func TestCron_TimezoneEvaluation(t *testing.T) {
	start := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	c := buildCron(t, start, NewCronSchedule("0 0 3 * * ?").InTimezone("America/New_York"))

	first := c.ComputeFirstFireTime(nil)
	require.NotNil(t, first)
	// 03:00 in New York is 08:00 UTC during winter.
	assert.Equal(t, time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC), *first)
}

func TestCron_ValidateRejectsBadExpression(t *testing.T) {
	c := NewCron()
	c.SetKey(job.NewTriggerKey("bad"))
	c.SetJobKey(job.NewKey("job"))
	c.SetStartTime(time.Now())
	c.Expression = "not a cron"
	assert.Error(t, c.Validate())

	c.Expression = "0 0 12 * * ?"
	c.Timezone = "Mars/OlympusMons"
	assert.Error(t, c.Validate())
}

func TestCron_EndTimeExhaustsSchedule(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	built := NewBuilder().
		WithIdentity("cron-end", "tests").
		ForJob(job.NewKey("job")).
		WithSchedule(NewCronSchedule("0 0 12 * * ?")).
		StartAt(start).
		EndAt(start.Add(24 * time.Hour)).
		Build()
	c := built.(*Cron)
	require.NoError(t, c.Validate())
	c.ComputeFirstFireTime(nil)

	c.Triggered(nil) // 04-01 noon
	require.NotNil(t, c.NextFireTime())
	c.Triggered(nil) // 04-02 noon, exactly at the end time

	assert.Nil(t, c.NextFireTime())
}
