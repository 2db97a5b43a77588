package trigger

import (
	"time"

	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/pkg/clock"
	"github.com/google/uuid"
)

// SimpleSchedule builds Simple triggers.
type SimpleSchedule struct {
	RepeatCount    int
	RepeatInterval time.Duration
	Misfire        int
}

// NewSimpleSchedule starts a one-shot schedule.
func NewSimpleSchedule() *SimpleSchedule { return &SimpleSchedule{} }

func (s *SimpleSchedule) WithInterval(d time.Duration) *SimpleSchedule {
	s.RepeatInterval = d
	return s
}

func (s *SimpleSchedule) WithRepeatCount(n int) *SimpleSchedule {
	s.RepeatCount = n
	return s
}

func (s *SimpleSchedule) RepeatForever() *SimpleSchedule {
	s.RepeatCount = RepeatIndefinitely
	return s
}

func (s *SimpleSchedule) WithMisfireHandlingFireNow() *SimpleSchedule {
	s.Misfire = MisfireSimpleFireNow
	return s
}

func (s *SimpleSchedule) WithMisfireHandlingNextWithRemainingCount() *SimpleSchedule {
	s.Misfire = MisfireSimpleRescheduleNextRemainingCount
	return s
}

func (s *SimpleSchedule) WithMisfireHandlingIgnoreMisfires() *SimpleSchedule {
	s.Misfire = MisfireIgnorePolicy
	return s
}

func (s *SimpleSchedule) Build() Operable {
	t := NewSimple()
	t.RepeatCount = s.RepeatCount
	t.RepeatInterval = s.RepeatInterval
	t.misfire = s.Misfire
	return t
}

// CronSchedule builds Cron triggers.
type CronSchedule struct {
	Expression string
	Timezone   string
	Misfire    int
}

// NewCronSchedule starts a cron schedule from an expression.
func NewCronSchedule(expression string) *CronSchedule {
	return &CronSchedule{Expression: expression}
}

func (s *CronSchedule) InTimezone(tz string) *CronSchedule {
	s.Timezone = tz
	return s
}

func (s *CronSchedule) WithMisfireHandlingFireAndProceed() *CronSchedule {
	s.Misfire = MisfireFireOnceNow
	return s
}

func (s *CronSchedule) WithMisfireHandlingDoNothing() *CronSchedule {
	s.Misfire = MisfireDoNothing
	return s
}

func (s *CronSchedule) WithMisfireHandlingIgnoreMisfires() *CronSchedule {
	s.Misfire = MisfireIgnorePolicy
	return s
}

func (s *CronSchedule) Build() Operable {
	t := NewCron()
	t.Expression = s.Expression
	t.Timezone = s.Timezone
	t.misfire = s.Misfire
	return t
}

// CalendarIntervalSchedule builds CalendarInterval triggers.
type CalendarIntervalSchedule struct {
	IntervalUnit              IntervalUnit
	Interval                  int
	Timezone                  string
	PreserveHourOfDay         bool
	SkipDayIfHourDoesNotExist bool
	Misfire                   int
}

// NewCalendarIntervalSchedule starts a calendar-interval schedule.
func NewCalendarIntervalSchedule(interval int, unit IntervalUnit) *CalendarIntervalSchedule {
	return &CalendarIntervalSchedule{Interval: interval, IntervalUnit: unit}
}

func (s *CalendarIntervalSchedule) InTimezone(tz string) *CalendarIntervalSchedule {
	s.Timezone = tz
	return s
}

func (s *CalendarIntervalSchedule) PreservingHourOfDay() *CalendarIntervalSchedule {
	s.PreserveHourOfDay = true
	return s
}

func (s *CalendarIntervalSchedule) SkippingDayIfHourDoesNotExist() *CalendarIntervalSchedule {
	s.SkipDayIfHourDoesNotExist = true
	return s
}

func (s *CalendarIntervalSchedule) WithMisfireHandlingFireAndProceed() *CalendarIntervalSchedule {
	s.Misfire = MisfireFireOnceNow
	return s
}

func (s *CalendarIntervalSchedule) WithMisfireHandlingDoNothing() *CalendarIntervalSchedule {
	s.Misfire = MisfireDoNothing
	return s
}

func (s *CalendarIntervalSchedule) WithMisfireHandlingIgnoreMisfires() *CalendarIntervalSchedule {
	s.Misfire = MisfireIgnorePolicy
	return s
}

func (s *CalendarIntervalSchedule) Build() Operable {
	t := NewCalendarInterval()
	t.IntervalUnit = s.IntervalUnit
	t.Interval = s.Interval
	t.Timezone = s.Timezone
	t.PreserveHourOfDay = s.PreserveHourOfDay
	t.SkipDayIfHourDoesNotExist = s.SkipDayIfHourDoesNotExist
	t.misfire = s.Misfire
	return t
}

// DailyIntervalSchedule builds DailyInterval triggers.
type DailyIntervalSchedule struct {
	StartTimeOfDay TimeOfDay
	EndTimeOfDay   TimeOfDay
	DaysOfWeek     []time.Weekday
	Interval       int
	IntervalUnit   IntervalUnit
	RepeatCount    int
	Timezone       string
	Misfire        int
}

// NewDailyIntervalSchedule starts a daily-interval schedule with an unbounded
// repeat count.
func NewDailyIntervalSchedule(interval int, unit IntervalUnit) *DailyIntervalSchedule {
	return &DailyIntervalSchedule{Interval: interval, IntervalUnit: unit, RepeatCount: RepeatIndefinitely}
}

func (s *DailyIntervalSchedule) BetweenTimes(start, end TimeOfDay) *DailyIntervalSchedule {
	s.StartTimeOfDay = start
	s.EndTimeOfDay = end
	return s
}

func (s *DailyIntervalSchedule) OnDaysOfWeek(days ...time.Weekday) *DailyIntervalSchedule {
	s.DaysOfWeek = days
	return s
}

func (s *DailyIntervalSchedule) WithRepeatCount(n int) *DailyIntervalSchedule {
	s.RepeatCount = n
	return s
}

func (s *DailyIntervalSchedule) InTimezone(tz string) *DailyIntervalSchedule {
	s.Timezone = tz
	return s
}

func (s *DailyIntervalSchedule) WithMisfireHandlingFireAndProceed() *DailyIntervalSchedule {
	s.Misfire = MisfireFireOnceNow
	return s
}

func (s *DailyIntervalSchedule) WithMisfireHandlingDoNothing() *DailyIntervalSchedule {
	s.Misfire = MisfireDoNothing
	return s
}

func (s *DailyIntervalSchedule) WithMisfireHandlingIgnoreMisfires() *DailyIntervalSchedule {
	s.Misfire = MisfireIgnorePolicy
	return s
}

func (s *DailyIntervalSchedule) Build() Operable {
	t := NewDailyInterval()
	t.StartTimeOfDay = s.StartTimeOfDay
	t.EndTimeOfDay = s.EndTimeOfDay
	t.DaysOfWeek = append([]time.Weekday(nil), s.DaysOfWeek...)
	t.Interval = s.Interval
	t.IntervalUnit = s.IntervalUnit
	t.RepeatCount = s.RepeatCount
	t.Timezone = s.Timezone
	t.misfire = s.Misfire
	return t
}

// CustomCalendarSchedule builds CustomCalendar (RRULE) triggers.
type CustomCalendarSchedule struct {
	IntervalUnit IntervalUnit
	Interval     int
	ByMonth      int
	ByMonthDay   string
	ByDay        string
	RepeatCount  int
	Timezone     string
	Misfire      int
}

// NewCustomCalendarSchedule starts a custom-calendar schedule with an
// unbounded repeat count.
func NewCustomCalendarSchedule(interval int, unit IntervalUnit) *CustomCalendarSchedule {
	return &CustomCalendarSchedule{Interval: interval, IntervalUnit: unit, RepeatCount: RepeatIndefinitely}
}

func (s *CustomCalendarSchedule) InMonth(month int) *CustomCalendarSchedule {
	s.ByMonth = month
	return s
}

func (s *CustomCalendarSchedule) OnMonthDays(days string) *CustomCalendarSchedule {
	s.ByMonthDay = days
	return s
}

func (s *CustomCalendarSchedule) OnDays(byDay string) *CustomCalendarSchedule {
	s.ByDay = byDay
	return s
}

func (s *CustomCalendarSchedule) WithRepeatCount(n int) *CustomCalendarSchedule {
	s.RepeatCount = n
	return s
}

func (s *CustomCalendarSchedule) InTimezone(tz string) *CustomCalendarSchedule {
	s.Timezone = tz
	return s
}

func (s *CustomCalendarSchedule) WithMisfireHandlingFireAndProceed() *CustomCalendarSchedule {
	s.Misfire = MisfireFireOnceNow
	return s
}

func (s *CustomCalendarSchedule) WithMisfireHandlingDoNothing() *CustomCalendarSchedule {
	s.Misfire = MisfireDoNothing
	return s
}

func (s *CustomCalendarSchedule) WithMisfireHandlingIgnoreMisfires() *CustomCalendarSchedule {
	s.Misfire = MisfireIgnorePolicy
	return s
}

func (s *CustomCalendarSchedule) Build() Operable {
	t := NewCustomCalendar()
	t.IntervalUnit = s.IntervalUnit
	t.Interval = s.Interval
	t.ByMonth = s.ByMonth
	t.ByMonthDay = s.ByMonthDay
	t.ByDay = s.ByDay
	t.RepeatCount = s.RepeatCount
	t.Timezone = s.Timezone
	t.misfire = s.Misfire
	return t
}

// Builder assembles a trigger: identity, job linkage, window, priority,
// calendar and a schedule.
type Builder struct {
	key          job.TriggerKey
	jobKey       job.Key
	description  string
	calendarName string
	priority     int
	startTime    time.Time
	endTime      *time.Time
	jobData      job.DataMap
	sched        ScheduleBuilder
	clk          clock.Clock
}

// NewBuilder starts a trigger builder; without WithIdentity the trigger gets
// a generated name in the default group.
func NewBuilder() *Builder {
	return &Builder{priority: DefaultPriority, jobData: job.NewDataMap(), clk: clock.RealClock{}}
}

func (b *Builder) WithIdentity(name, group string) *Builder {
	b.key = job.NewTriggerKeyWithGroup(name, group)
	return b
}

func (b *Builder) ForJob(k job.Key) *Builder {
	b.jobKey = k
	return b
}

func (b *Builder) WithDescription(desc string) *Builder {
	b.description = desc
	return b
}

// StartAt fixes the schedule start; without it the trigger starts now.
func (b *Builder) StartAt(t time.Time) *Builder {
	b.startTime = t.UTC()
	return b
}

func (b *Builder) EndAt(t time.Time) *Builder {
	u := t.UTC()
	b.endTime = &u
	return b
}

func (b *Builder) WithPriority(p int) *Builder {
	b.priority = p
	return b
}

// ModifiedByCalendar names the exclusion calendar applied to this trigger.
func (b *Builder) ModifiedByCalendar(name string) *Builder {
	b.calendarName = name
	return b
}

func (b *Builder) UsingJobData(key string, value any) *Builder {
	b.jobData.Put(key, value)
	return b
}

func (b *Builder) UsingJobDataMap(m job.DataMap) *Builder {
	b.jobData = b.jobData.Merge(m)
	return b
}

func (b *Builder) WithSchedule(s ScheduleBuilder) *Builder {
	b.sched = s
	return b
}

// WithClock overrides the time source used for defaulted start times and
// passed into the built trigger.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clk = c
	return b
}

// Build assembles the trigger. Schedule defaults to one-shot simple. The
// result has no computed fire times yet; the scheduler calls
// ComputeFirstFireTime when the trigger is scheduled.
func (b *Builder) Build() Operable {
	sched := b.sched
	if sched == nil {
		sched = NewSimpleSchedule()
	}
	t := sched.Build()
	t.WithClock(b.clk)

	key := b.key
	if key.IsZero() {
		key = job.NewTriggerKey(uuid.NewString())
	}
	t.SetKey(key)
	t.SetJobKey(b.jobKey)
	t.SetDescription(b.description)
	t.SetCalendarName(b.calendarName)
	t.SetPriority(b.priority)
	t.SetJobData(b.jobData.Clone())

	start := b.startTime
	if start.IsZero() {
		start = b.clk.Now().UTC()
	}
	t.SetStartTime(start)
	t.SetEndTime(b.endTime)
	return t
}
