package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/pkg/clock"
)

func buildSimple(t *testing.T, start time.Time, sched *SimpleSchedule) *Simple {
	t.Helper()
	built := NewBuilder().
		WithIdentity("simple", "tests").
		ForJob(job.NewKey("job")).
		WithSchedule(sched).
		StartAt(start).
		WithClock(clock.NewFixed(start)).
		Build()
	s, ok := built.(*Simple)
	require.True(t, ok)
	require.NoError(t, s.Validate())
	return s
}

func TestSimple_OneShotFiresOnceAtStart(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s := buildSimple(t, start, NewSimpleSchedule())

	first := s.ComputeFirstFireTime(nil)
	require.NotNil(t, first)
	assert.Equal(t, start, *first)

	s.Triggered(nil)

	assert.Equal(t, 1, s.TimesTriggered)
	require.NotNil(t, s.PreviousFireTime())
	assert.Equal(t, start, *s.PreviousFireTime())
	assert.Nil(t, s.NextFireTime(), "one-shot trigger must not fire again")
}

func TestSimple_RepeatSequence(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s := buildSimple(t, start, NewSimpleSchedule().WithInterval(10*time.Second).WithRepeatCount(3))

	first := s.ComputeFirstFireTime(nil)
	require.NotNil(t, first)

	var fired []time.Time
	for s.NextFireTime() != nil {
		fired = append(fired, *s.NextFireTime())
		s.Triggered(nil)
	}

	assert.Equal(t, []time.Time{
		start,
		start.Add(10 * time.Second),
		start.Add(20 * time.Second),
		start.Add(30 * time.Second),
	}, fired)
}

func TestSimple_EndTimeCutsSchedule(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	built := NewBuilder().
		WithIdentity("simple-end", "tests").
		ForJob(job.NewKey("job")).
		WithSchedule(NewSimpleSchedule().WithInterval(time.Minute).RepeatForever()).
		StartAt(start).
		EndAt(start.Add(2*time.Minute + 30*time.Second)).
		Build()
	s := built.(*Simple)
	require.NoError(t, s.Validate())

	s.ComputeFirstFireTime(nil)
	var fired []time.Time
	for s.NextFireTime() != nil {
		fired = append(fired, *s.NextFireTime())
		s.Triggered(nil)
	}

	assert.Len(t, fired, 3) // 12:00, 12:01, 12:02
}

func TestSimple_FireTimeAfterIsPure(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s := buildSimple(t, start, NewSimpleSchedule().WithInterval(time.Minute).RepeatForever())

	after := start.Add(90 * time.Second)
	got := s.FireTimeAfter(&after)
	require.NotNil(t, got)
	assert.Equal(t, start.Add(2*time.Minute), *got)

	// No state was touched.
	assert.Nil(t, s.NextFireTime())
	assert.Equal(t, 0, s.TimesTriggered)
}

func TestSimple_OneShotInThePastNeverFires(t *testing.T) {
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	s := buildSimple(t, start, NewSimpleSchedule())
	s.WithClock(clock.NewFixed(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)))

	assert.Nil(t, s.FireTimeAfter(nil), "the only firing was at the start time, long gone")
}

func TestSimple_MisfireRescheduleNowRemainingCount(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(7 * time.Minute)
	s := buildSimple(t, start, NewSimpleSchedule().WithInterval(time.Minute).WithRepeatCount(10))
	s.WithClock(clock.NewFixed(now))

	s.ComputeFirstFireTime(nil)
	s.Triggered(nil) // fired at 12:00
	s.Triggered(nil) // fired at 12:01
	require.Equal(t, 2, s.TimesTriggered)
	require.Equal(t, start.Add(2*time.Minute), *s.NextFireTime())

	// The trigger overslept until 12:07; the smart policy reschedules from
	// now with the remaining count.
	s.UpdateAfterMisfire(nil)

	require.NotNil(t, s.NextFireTime())
	assert.Equal(t, now, *s.NextFireTime())
	assert.Equal(t, 0, s.TimesTriggered)
	// 2 fired plus 5 missed (12:02 .. 12:06) leaves 3 of the original 10.
	assert.Equal(t, 3, s.RepeatCount)
	assert.Equal(t, now, s.StartTime())
}

func TestSimple_MisfireFireNowForOneShot(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	now := start.Add(10 * time.Minute)
	s := buildSimple(t, start, NewSimpleSchedule())
	s.WithClock(clock.NewFixed(now))
	s.ComputeFirstFireTime(nil)

	s.UpdateAfterMisfire(nil)

	require.NotNil(t, s.NextFireTime())
	assert.Equal(t, now, *s.NextFireTime())
}

func TestSimple_MisfireIgnoreLeavesStateAlone(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s := buildSimple(t, start, NewSimpleSchedule().WithInterval(time.Minute).RepeatForever().WithMisfireHandlingIgnoreMisfires())
	s.WithClock(clock.NewFixed(start.Add(time.Hour)))
	s.ComputeFirstFireTime(nil)

	s.UpdateAfterMisfire(nil)

	assert.Equal(t, start, *s.NextFireTime())
}

func TestSimple_ValidateRejectsBadConfig(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	s := NewSimple()
	s.SetKey(job.NewTriggerKey("bad"))
	s.SetJobKey(job.NewKey("job"))
	s.SetStartTime(start)
	s.RepeatCount = -2
	assert.Error(t, s.Validate())

	s.RepeatCount = 5
	s.RepeatInterval = 0
	assert.Error(t, s.Validate())

	s.RepeatInterval = time.Second
	end := start.Add(-time.Hour)
	s.SetEndTime(&end)
	assert.Error(t, s.Validate())
}

func TestSimple_CloneIsIndependent(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s := buildSimple(t, start, NewSimpleSchedule().WithInterval(time.Minute).WithRepeatCount(5))
	s.ComputeFirstFireTime(nil)

	c := s.Clone().(*Simple)
	c.Triggered(nil)

	assert.Equal(t, 0, s.TimesTriggered)
	assert.Equal(t, start, *s.NextFireTime())
	assert.Equal(t, 1, c.TimesTriggered)
}
