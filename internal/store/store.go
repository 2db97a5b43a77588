// Package store defines the contract every job store implements: durable
// custody of jobs, triggers and calendars plus the atomic acquire, fire and
// complete pipeline the scheduling loop drives.
package store

import (
	"context"
	"time"

	"github.com/chronex-io/chronex/internal/calendar"
	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/trigger"
)

// Signaler lets a store poke the scheduling loop when state changes behind
// its back, for example when a misfired trigger is rescheduled earlier than
// the loop's current wait deadline.
type Signaler interface {
	// SignalSchedulingChange wakes the loop; candidateNextFireTime is the
	// earliest fire time the caller knows of, nil when unknown.
	SignalSchedulingChange(candidateNextFireTime *time.Time)
	// NotifyTriggerMisfired reports a trigger the misfire handler updated.
	NotifyTriggerMisfired(t trigger.Trigger)
}

// TriggerFiredBundle carries everything the execution shell needs for one
// firing. The trigger and job detail are clones owned by the caller.
type TriggerFiredBundle struct {
	Trigger           trigger.Operable
	JobDetail         *job.Detail
	Calendar          calendar.Calendar
	Recovering        bool
	FireTime          time.Time
	ScheduledFireTime *time.Time
	PrevFireTime      *time.Time
	NextFireTime      *time.Time
}

// TriggerFiredResult is the per-trigger outcome of TriggersFired. Exactly one
// of Bundle and Err is set; both nil means the firing was skipped because the
// trigger was no longer acquired.
type TriggerFiredResult struct {
	Bundle *TriggerFiredBundle
	Err    error
}

// JobStore is the persistence contract. Implementations must be safe for
// concurrent use by one scheduler instance; the SQL variant additionally
// coordinates multiple cluster instances through named row locks.
//
// Triggers and job details returned from a store are clones; the store owns
// the canonical copies.
type JobStore interface {
	// Initialize wires the signaler before any other call.
	Initialize(ctx context.Context, signaler Signaler) error
	// SchedulerStarted runs recovery work for the starting instance.
	SchedulerStarted(ctx context.Context) error
	SchedulerPaused()
	SchedulerResumed()
	Shutdown(ctx context.Context) error

	StoreJob(ctx context.Context, detail *job.Detail, replaceExisting bool) error
	StoreJobAndTrigger(ctx context.Context, detail *job.Detail, t trigger.Operable) error
	RemoveJob(ctx context.Context, key job.Key) (bool, error)
	RetrieveJob(ctx context.Context, key job.Key) (*job.Detail, error)
	CheckJobExists(ctx context.Context, key job.Key) (bool, error)

	StoreTrigger(ctx context.Context, t trigger.Operable, replaceExisting bool) error
	RemoveTrigger(ctx context.Context, key job.TriggerKey) (bool, error)
	// ReplaceTrigger swaps a trigger for a new one bound to the same job.
	ReplaceTrigger(ctx context.Context, key job.TriggerKey, t trigger.Operable) (bool, error)
	RetrieveTrigger(ctx context.Context, key job.TriggerKey) (trigger.Operable, error)
	CheckTriggerExists(ctx context.Context, key job.TriggerKey) (bool, error)
	GetTriggerState(ctx context.Context, key job.TriggerKey) (trigger.State, error)

	StoreCalendar(ctx context.Context, name string, cal calendar.Calendar, replaceExisting, updateTriggers bool) error
	RemoveCalendar(ctx context.Context, name string) (bool, error)
	RetrieveCalendar(ctx context.Context, name string) (calendar.Calendar, error)
	CalendarExists(ctx context.Context, name string) (bool, error)
	GetCalendarNames(ctx context.Context) ([]string, error)

	GetNumberOfJobs(ctx context.Context) (int, error)
	GetNumberOfTriggers(ctx context.Context) (int, error)
	GetNumberOfCalendars(ctx context.Context) (int, error)
	GetJobKeys(ctx context.Context, group string) ([]job.Key, error)
	GetTriggerKeys(ctx context.Context, group string) ([]job.TriggerKey, error)
	GetJobGroupNames(ctx context.Context) ([]string, error)
	GetTriggerGroupNames(ctx context.Context) ([]string, error)
	GetTriggersForJob(ctx context.Context, key job.Key) ([]trigger.Operable, error)

	PauseTrigger(ctx context.Context, key job.TriggerKey) error
	PauseTriggerGroup(ctx context.Context, group string) ([]string, error)
	PauseJob(ctx context.Context, key job.Key) error
	PauseJobGroup(ctx context.Context, group string) ([]string, error)
	ResumeTrigger(ctx context.Context, key job.TriggerKey) error
	ResumeTriggerGroup(ctx context.Context, group string) ([]string, error)
	ResumeJob(ctx context.Context, key job.Key) error
	ResumeJobGroup(ctx context.Context, group string) ([]string, error)
	PauseAll(ctx context.Context) error
	ResumeAll(ctx context.Context) error
	GetPausedTriggerGroups(ctx context.Context) ([]string, error)

	// AcquireNextTriggers atomically moves up to maxCount waiting triggers
	// whose next fire time falls at or before noLaterThan+timeWindow into
	// the acquired state, ordered by (nextFireTime ASC, priority DESC).
	AcquireNextTriggers(ctx context.Context, noLaterThan time.Time, maxCount int, timeWindow time.Duration) ([]trigger.Operable, error)
	// ReleaseAcquiredTrigger returns an acquired trigger to the waiting
	// state without firing it.
	ReleaseAcquiredTrigger(ctx context.Context, t trigger.Operable) error
	// TriggersFired confirms each acquired trigger, advances its fire
	// times and blocks concurrent-disallowed siblings.
	TriggersFired(ctx context.Context, triggers []trigger.Operable) ([]TriggerFiredResult, error)
	// TriggeredJobComplete applies the post-execution instruction, unblocks
	// siblings and removes the fired-trigger record.
	TriggeredJobComplete(ctx context.Context, t trigger.Operable, detail *job.Detail, instruction trigger.CompletedExecutionInstruction) error

	ClearAllSchedulingData(ctx context.Context) error
}
