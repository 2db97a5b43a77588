// Package trigger implements the five trigger state machines that translate
// declarative schedules into streams of UTC fire instants.
package trigger

import (
	"time"

	"github.com/chronex-io/chronex/internal/calendar"
	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/pkg/clock"
)

// DefaultPriority is assigned to triggers built without an explicit priority.
const DefaultPriority = 5

// RepeatIndefinitely is the repeat-count sentinel for unbounded schedules.
const RepeatIndefinitely = -1

// yearToGiveUp bounds calendar-skip loops; a schedule pushed past this year
// is treated as exhausted.
const yearToGiveUp = 2299

// State is the lifecycle state of a stored trigger.
type State string

const (
	// StateNone marks a trigger the store does not know.
	StateNone          State = "NONE"
	StateWaiting       State = "WAITING"
	StateAcquired      State = "ACQUIRED"
	StateExecuting     State = "EXECUTING"
	StateComplete      State = "COMPLETE"
	StatePaused        State = "PAUSED"
	StateBlocked       State = "BLOCKED"
	StatePausedBlocked State = "PAUSED_BLOCKED"
	StateError         State = "ERROR"
)

// Misfire instructions. Zero is always the smart policy; the positive values
// are variant-specific and stored as-is in the misfire_instr column.
const (
	// MisfireSmartPolicy lets the variant pick a sensible instruction.
	MisfireSmartPolicy = 0
	// MisfireIgnorePolicy skips misfire handling; late firings all happen.
	MisfireIgnorePolicy = -1

	// Simple-trigger instructions.
	MisfireSimpleFireNow                      = 1
	MisfireSimpleRescheduleNowExistingCount   = 2
	MisfireSimpleRescheduleNowRemainingCount  = 3
	MisfireSimpleRescheduleNextRemainingCount = 4
	MisfireSimpleRescheduleNextExistingCount  = 5

	// Instructions shared by the cron, calendar-interval, daily-interval and
	// custom-calendar variants.
	MisfireFireOnceNow = 1
	MisfireDoNothing   = 2
)

// CompletedExecutionInstruction steers the store after a job execution.
type CompletedExecutionInstruction int

const (
	InstructionNoInstruction CompletedExecutionInstruction = iota
	InstructionReExecuteJob
	InstructionSetTriggerComplete
	InstructionDeleteTrigger
	InstructionSetAllJobTriggersComplete
	InstructionSetTriggerError
	InstructionSetAllJobTriggersError
)

// Type discriminators, stored in the trigger_type column.
const (
	TypeSimple           = "SIMPLE"
	TypeCron             = "CRON"
	TypeCalendarInterval = "CAL_INT"
	TypeDailyInterval    = "DAILY_I"
	TypeCustomCalendar   = "CUSTOM_CAL"
	TypeBlob             = "BLOB"
)

// Trigger is the read-only view of a schedule plus its firing state.
type Trigger interface {
	Key() job.TriggerKey
	JobKey() job.Key
	Type() string
	Description() string
	CalendarName() string
	Priority() int
	JobData() job.DataMap
	StartTime() time.Time
	EndTime() *time.Time
	NextFireTime() *time.Time
	PreviousFireTime() *time.Time
	MisfireInstruction() int

	// FireTimeAfter returns the next valid fire instant strictly greater
	// than after (nil means "now"), or nil when the schedule is exhausted.
	// It is pure: no trigger state changes.
	FireTimeAfter(after *time.Time) *time.Time

	// ScheduleBuilder returns a builder that reproduces this trigger's
	// schedule-specific configuration.
	ScheduleBuilder() ScheduleBuilder

	Clone() Operable
}

// Operable extends Trigger with the mutating operations reserved for the
// scheduler and the stores.
type Operable interface {
	Trigger

	// ComputeFirstFireTime sets and returns the first fire time; call
	// exactly once, before the trigger is first stored.
	ComputeFirstFireTime(cal calendar.Calendar) *time.Time

	// Triggered advances the state machine for one firing: previous ←
	// next, next ← first calendar-included instant after it.
	Triggered(cal calendar.Calendar)

	// UpdateAfterMisfire applies the trigger's misfire instruction to a
	// nextFireTime that fell more than the misfire threshold in the past.
	UpdateAfterMisfire(cal calendar.Calendar)

	// UpdateWithNewCalendar recomputes nextFireTime from previousFireTime
	// after the referenced calendar changed.
	UpdateWithNewCalendar(cal calendar.Calendar, misfireThreshold time.Duration)

	// Validate rejects nonsensical parameterisations.
	Validate() error

	SetKey(k job.TriggerKey)
	SetJobKey(k job.Key)
	SetDescription(d string)
	SetCalendarName(name string)
	SetPriority(p int)
	SetJobData(m job.DataMap)
	SetStartTime(t time.Time)
	SetEndTime(t *time.Time)
	SetNextFireTime(t *time.Time)
	SetPreviousFireTime(t *time.Time)
	SetMisfireInstruction(instr int)

	// WithClock overrides the time source; constructors default to the
	// real clock.
	WithClock(c clock.Clock)
}

// ScheduleBuilder builds the schedule-specific half of a trigger.
type ScheduleBuilder interface {
	// Build returns a fresh trigger carrying only schedule configuration;
	// identity, times and job linkage come from the trigger Builder.
	Build() Operable
}
