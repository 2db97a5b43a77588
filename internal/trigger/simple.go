package trigger

import (
	"fmt"
	"time"

	"github.com/chronex-io/chronex/internal/calendar"
)

// Simple fires at startTime + k*RepeatInterval for k = 0..RepeatCount.
type Simple struct {
	baseTrigger

	RepeatCount    int
	RepeatInterval time.Duration
	TimesTriggered int
}

// NewSimple returns a simple trigger with no repeats configured.
func NewSimple() *Simple {
	return &Simple{baseTrigger: newBaseTrigger()}
}

func (s *Simple) Type() string { return TypeSimple }

func (s *Simple) Clone() Operable {
	out := *s
	out.baseTrigger = s.cloneBase()
	return &out
}

func (s *Simple) Validate() error {
	if err := s.validateBase(); err != nil {
		return err
	}
	if s.RepeatCount != RepeatIndefinitely && s.RepeatCount < 0 {
		return fmt.Errorf("trigger %s: repeat count must be >= 0 or RepeatIndefinitely", s.key)
	}
	if s.RepeatCount != 0 && s.RepeatInterval < time.Millisecond {
		return fmt.Errorf("trigger %s: repeat interval must be at least 1ms", s.key)
	}
	return nil
}

// FireTimeAfter is pure; nil means "now".
func (s *Simple) FireTimeAfter(after *time.Time) *time.Time {
	if s.RepeatCount != RepeatIndefinitely && s.TimesTriggered > s.RepeatCount {
		return nil
	}
	a := s.afterOrNow(after)
	if a.Before(s.startTime) {
		t := s.startTime
		if !s.withinEnd(t) {
			return nil
		}
		return &t
	}
	if s.RepeatCount == 0 {
		// Only firing was at startTime, already <= after.
		return nil
	}

	elapsed := a.Sub(s.startTime)
	n := elapsed/s.RepeatInterval + 1
	if s.RepeatCount != RepeatIndefinitely && n > time.Duration(s.RepeatCount) {
		return nil
	}
	t := s.startTime.Add(n * s.RepeatInterval)
	if !s.withinEnd(t) {
		return nil
	}
	return &t
}

func (s *Simple) ComputeFirstFireTime(cal calendar.Calendar) *time.Time {
	return s.computeFirstFireTime(cal, s.FireTimeAfter)
}

func (s *Simple) Triggered(cal calendar.Calendar) {
	s.TimesTriggered++
	s.triggered(cal, s.FireTimeAfter)
}

func (s *Simple) UpdateWithNewCalendar(cal calendar.Calendar, misfireThreshold time.Duration) {
	s.updateWithNewCalendar(cal, misfireThreshold, s.FireTimeAfter)
}

// UpdateAfterMisfire interprets the trigger's misfire instruction. The smart
// policy resolves to FireNow for one-shot triggers, otherwise to
// RescheduleNowWithRemainingRepeatCount.
func (s *Simple) UpdateAfterMisfire(cal calendar.Calendar) {
	instr := s.misfire
	if instr == MisfireIgnorePolicy {
		return
	}
	if instr == MisfireSmartPolicy {
		if s.RepeatCount == 0 {
			instr = MisfireSimpleFireNow
		} else {
			instr = MisfireSimpleRescheduleNowRemainingCount
		}
	}
	if instr == MisfireSimpleFireNow && s.RepeatCount != 0 {
		// FireNow is only meaningful for one-shot triggers; repeating
		// triggers would otherwise drop their remaining repeats.
		instr = MisfireSimpleRescheduleNowRemainingCount
	}

	now := s.now()
	switch instr {
	case MisfireSimpleFireNow:
		s.nextFireTime = timePtr(now)

	case MisfireSimpleRescheduleNextExistingCount:
		next := nextIncluded(cal, s.FireTimeAfter(&now), s.FireTimeAfter)
		s.nextFireTime = copyTime(next)

	case MisfireSimpleRescheduleNextRemainingCount:
		next := nextIncluded(cal, s.FireTimeAfter(&now), s.FireTimeAfter)
		if next != nil && s.RepeatCount != RepeatIndefinitely {
			missed := s.timesFiredBetween(*s.nextFireTime, *next)
			s.RepeatCount -= s.TimesTriggered + missed
			s.TimesTriggered = 0
		}
		s.nextFireTime = copyTime(next)

	case MisfireSimpleRescheduleNowExistingCount:
		if s.RepeatCount != 0 && s.RepeatCount != RepeatIndefinitely {
			s.RepeatCount -= s.TimesTriggered
			s.TimesTriggered = 0
		}
		s.rescheduleFrom(now)

	case MisfireSimpleRescheduleNowRemainingCount:
		if s.RepeatCount != 0 && s.RepeatCount != RepeatIndefinitely {
			missed := 0
			if s.nextFireTime != nil {
				missed = s.timesFiredBetween(*s.nextFireTime, now)
			}
			s.RepeatCount -= s.TimesTriggered + missed
			if s.RepeatCount < 0 {
				s.RepeatCount = 0
			}
			s.TimesTriggered = 0
		}
		s.rescheduleFrom(now)
	}
}

// rescheduleFrom restarts the schedule at the given instant.
func (s *Simple) rescheduleFrom(now time.Time) {
	if s.endTime != nil && s.endTime.Before(now) {
		s.nextFireTime = nil
		return
	}
	s.startTime = now
	s.nextFireTime = timePtr(now)
}

// timesFiredBetween counts scheduled instants in (from, to].
func (s *Simple) timesFiredBetween(from, to time.Time) int {
	if s.RepeatInterval <= 0 || !to.After(from) {
		return 0
	}
	return int(to.Sub(from) / s.RepeatInterval)
}

func (s *Simple) ScheduleBuilder() ScheduleBuilder {
	return &SimpleSchedule{
		RepeatCount:    s.RepeatCount,
		RepeatInterval: s.RepeatInterval,
		Misfire:        s.misfire,
	}
}
