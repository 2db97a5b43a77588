package trigger

import (
	"fmt"
	"time"

	"github.com/chronex-io/chronex/internal/calendar"
	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/pkg/clock"
)

// baseTrigger carries the state shared by every trigger variant. Variants
// embed it by value so Clone copies are independent.
type baseTrigger struct {
	key          job.TriggerKey
	jobKey       job.Key
	description  string
	calendarName string
	priority     int
	misfire      int
	jobData      job.DataMap

	startTime        time.Time
	endTime          *time.Time
	nextFireTime     *time.Time
	previousFireTime *time.Time

	clk clock.Clock
}

func newBaseTrigger() baseTrigger {
	return baseTrigger{priority: DefaultPriority, clk: clock.RealClock{}}
}

func (b *baseTrigger) Key() job.TriggerKey          { return b.key }
func (b *baseTrigger) JobKey() job.Key              { return b.jobKey }
func (b *baseTrigger) Description() string          { return b.description }
func (b *baseTrigger) CalendarName() string         { return b.calendarName }
func (b *baseTrigger) Priority() int                { return b.priority }
func (b *baseTrigger) JobData() job.DataMap         { return b.jobData }
func (b *baseTrigger) StartTime() time.Time         { return b.startTime }
func (b *baseTrigger) EndTime() *time.Time          { return copyTime(b.endTime) }
func (b *baseTrigger) NextFireTime() *time.Time     { return copyTime(b.nextFireTime) }
func (b *baseTrigger) PreviousFireTime() *time.Time { return copyTime(b.previousFireTime) }
func (b *baseTrigger) MisfireInstruction() int      { return b.misfire }

func (b *baseTrigger) SetKey(k job.TriggerKey)          { b.key = k }
func (b *baseTrigger) SetJobKey(k job.Key)              { b.jobKey = k }
func (b *baseTrigger) SetDescription(d string)          { b.description = d }
func (b *baseTrigger) SetCalendarName(name string)      { b.calendarName = name }
func (b *baseTrigger) SetPriority(p int)                { b.priority = p }
func (b *baseTrigger) SetJobData(m job.DataMap)         { b.jobData = m }
func (b *baseTrigger) SetStartTime(t time.Time)         { b.startTime = t.UTC() }
func (b *baseTrigger) SetEndTime(t *time.Time)          { b.endTime = copyTimeUTC(t) }
func (b *baseTrigger) SetNextFireTime(t *time.Time)     { b.nextFireTime = copyTimeUTC(t) }
func (b *baseTrigger) SetPreviousFireTime(t *time.Time) { b.previousFireTime = copyTimeUTC(t) }
func (b *baseTrigger) SetMisfireInstruction(instr int)  { b.misfire = instr }

func (b *baseTrigger) WithClock(c clock.Clock) {
	if c != nil {
		b.clk = c
	}
}

func (b *baseTrigger) now() time.Time {
	if b.clk == nil {
		b.clk = clock.RealClock{}
	}
	return b.clk.Now().UTC()
}

// afterOrNow resolves the nil-means-now convention of FireTimeAfter.
func (b *baseTrigger) afterOrNow(after *time.Time) time.Time {
	if after == nil {
		return b.now()
	}
	return after.UTC()
}

// withinEnd reports whether t respects the trigger's end time (inclusive).
func (b *baseTrigger) withinEnd(t time.Time) bool {
	return b.endTime == nil || !t.After(*b.endTime)
}

// cloneBase copies the shared state; pointer fields are deep-copied.
func (b *baseTrigger) cloneBase() baseTrigger {
	out := *b
	out.endTime = copyTime(b.endTime)
	out.nextFireTime = copyTime(b.nextFireTime)
	out.previousFireTime = copyTime(b.previousFireTime)
	out.jobData = b.jobData.Clone()
	return out
}

func (b *baseTrigger) validateBase() error {
	if err := b.key.Validate(); err != nil {
		return err
	}
	if err := b.jobKey.Validate(); err != nil {
		return fmt.Errorf("trigger %s: %w", b.key, err)
	}
	if b.endTime != nil && !b.endTime.After(b.startTime) {
		return fmt.Errorf("trigger %s: end time %s is not after start time %s", b.key, b.endTime, b.startTime)
	}
	return nil
}

// nextIncluded advances candidate through fireTimeAfter until the calendar
// includes it, giving up past the far-future guard.
func nextIncluded(cal calendar.Calendar, candidate *time.Time, fireTimeAfter func(*time.Time) *time.Time) *time.Time {
	for candidate != nil && cal != nil && !cal.IsTimeIncluded(*candidate) {
		if candidate.Year() > yearToGiveUp {
			return nil
		}
		candidate = fireTimeAfter(candidate)
	}
	return candidate
}

// computeFirstFireTime implements the shared "first included instant at or
// after start" logic over a variant's pure fireTimeAfter.
func (b *baseTrigger) computeFirstFireTime(cal calendar.Calendar, fireTimeAfter func(*time.Time) *time.Time) *time.Time {
	first := &b.startTime
	if cal != nil && !cal.IsTimeIncluded(*first) {
		first = nextIncluded(cal, first, fireTimeAfter)
	}
	if first != nil && !b.withinEnd(*first) {
		first = nil
	}
	b.nextFireTime = copyTime(first)
	return copyTime(first)
}

// triggered implements the shared fire-advance logic over a variant's pure
// fireTimeAfter.
func (b *baseTrigger) triggered(cal calendar.Calendar, fireTimeAfter func(*time.Time) *time.Time) {
	b.previousFireTime = b.nextFireTime
	next := fireTimeAfter(b.nextFireTime)
	b.nextFireTime = nextIncluded(cal, next, fireTimeAfter)
}

// updateWithNewCalendar recomputes the next fire time from the previous one
// after the referenced calendar changed, over a variant's pure fireTimeAfter.
func (b *baseTrigger) updateWithNewCalendar(cal calendar.Calendar, misfireThreshold time.Duration, fireTimeAfter func(*time.Time) *time.Time) {
	from := b.previousFireTime
	next := fireTimeAfter(from)
	next = nextIncluded(cal, next, fireTimeAfter)
	if next == nil {
		b.nextFireTime = nil
		return
	}
	now := b.now()
	if next.Before(now) && now.Sub(*next) >= misfireThreshold {
		// The recomputed time already misfired under the new calendar;
		// resume from the next included instant after now.
		next = fireTimeAfter(&now)
		next = nextIncluded(cal, next, fireTimeAfter)
	}
	b.nextFireTime = copyTime(next)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

func copyTimeUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := t.UTC()
	return &out
}

func timePtr(t time.Time) *time.Time { return &t }
