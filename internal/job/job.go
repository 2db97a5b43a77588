package job

import (
	"context"
	"time"
)

// Context carries the per-firing state handed to a job. The data map is the
// merged view of job and trigger maps; whether mutations persist is governed
// by the detail's PersistDataAfterExecution flag.
type Context struct {
	Detail     *Detail
	TriggerKey TriggerKey
	Data       DataMap

	FireTime          time.Time
	ScheduledFireTime *time.Time
	PreviousFireTime  *time.Time
	NextFireTime      *time.Time

	// JobRunTime is filled in after the job returns.
	JobRunTime time.Duration

	// RefireCount is the number of immediate refires already attempted for
	// this firing.
	RefireCount int

	// Recovering is true when this firing recovers work from a failed
	// cluster instance.
	Recovering bool

	// Result may be set by the job for listeners to inspect.
	Result any
}

// Job is the unit of user code invoked when a trigger fires.
type Job interface {
	Execute(ctx context.Context, jctx *Context) error
}

// Interruptable is implemented by jobs that support cooperative interruption
// via Scheduler.Interrupt.
type Interruptable interface {
	Job
	Interrupt() error
}

// Func adapts a plain function to the Job interface.
type Func func(ctx context.Context, jctx *Context) error

func (f Func) Execute(ctx context.Context, jctx *Context) error { return f(ctx, jctx) }
