package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/store"
	"github.com/chronex-io/chronex/internal/trigger"
)

// runShell drives one trigger firing end to end: listener pre-fire, veto
// check, job invocation, error interpretation, completion notification and
// the store's completion transition.
type runShell struct {
	sched    *Scheduler
	bundle   *store.TriggerFiredBundle
	instance job.Job
	jctx     *job.Context
	fireID   string
}

func newRunShell(s *Scheduler, bundle *store.TriggerFiredBundle, fireID string) (*runShell, error) {
	detail := bundle.JobDetail
	instance, err := s.registry.NewJob(detail)
	if err != nil {
		return nil, err
	}

	// Stateful jobs see the live persisted map so mutations survive the
	// firing; everyone else gets a merged copy.
	var data job.DataMap
	if detail.PersistDataAfterExecution {
		data = detail.Data
	} else {
		data = detail.Data.Clone().Merge(bundle.Trigger.JobData())
	}

	jctx := &job.Context{
		Detail:            detail,
		TriggerKey:        bundle.Trigger.Key(),
		Data:              data,
		FireTime:          bundle.FireTime,
		ScheduledFireTime: bundle.ScheduledFireTime,
		PreviousFireTime:  bundle.PrevFireTime,
		NextFireTime:      bundle.NextFireTime,
		Recovering:        bundle.Recovering,
	}
	return &runShell{sched: s, bundle: bundle, instance: instance, jctx: jctx, fireID: fireID}, nil
}

// run executes the firing, re-entering for refire-immediately requests.
func (r *runShell) run(ctx context.Context) {
	s := r.sched
	t := r.bundle.Trigger

	s.trackExecution(r)
	defer s.untrackExecution(r.fireID)

	for {
		s.listeners.notifyTriggerFired(t, r.jctx)

		if s.listeners.notifyVeto(t, r.jctx) {
			s.listeners.notifyJobExecutionVetoed(r.jctx)
			if err := s.store.TriggeredJobComplete(ctx, t, r.bundle.JobDetail, trigger.InstructionSetTriggerComplete); err != nil {
				s.notifyError("vetoed trigger completion failed", err)
			}
			s.listeners.notifyTriggerComplete(t, r.jctx, trigger.InstructionSetTriggerComplete)
			return
		}

		s.listeners.notifyJobToBeExecuted(r.jctx)

		start := s.clk.Now()
		jobErr := r.execute(ctx)
		r.jctx.JobRunTime = s.clk.Now().Sub(start)

		instruction := trigger.InstructionNoInstruction
		var execErr *job.ExecutionError
		if jobErr != nil {
			if errors.As(jobErr, &execErr) {
				switch {
				case execErr.RefireImmediately:
					s.logger.Debug("job requested immediate refire",
						zap.String("job", r.bundle.JobDetail.Key.String()),
						zap.Int("refireCount", r.jctx.RefireCount))
					r.jctx.RefireCount++
					continue
				case execErr.UnscheduleAllTriggers:
					instruction = trigger.InstructionSetAllJobTriggersComplete
				case execErr.UnscheduleFiringTrigger:
					instruction = trigger.InstructionDeleteTrigger
				}
			} else {
				s.notifyError("job execution failed", jobErr)
			}
		}

		s.listeners.notifyJobWasExecuted(r.jctx, jobErr)

		if err := s.store.TriggeredJobComplete(ctx, t, r.bundle.JobDetail, instruction); err != nil {
			s.notifyError("trigger completion failed", err)
		}

		s.listeners.notifyTriggerComplete(t, r.jctx, instruction)

		if t.NextFireTime() == nil {
			s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.TriggerFinalized(t) })
		}
		return
	}
}

// execute invokes the job, converting a panic into an error so one bad job
// cannot take down a worker.
func (r *runShell) execute(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &job.ExecutionError{Cause: panicError(rec)}
		}
	}()
	return r.instance.Execute(ctx, r.jctx)
}

type recoveredPanic struct{ value any }

func (p recoveredPanic) Error() string { return "job panicked" }

func panicError(value any) error {
	if err, ok := value.(error); ok {
		return err
	}
	return recoveredPanic{value: value}
}

// fireAheadTime is how far ahead of the nominal fire time a firing may start.
const fireAheadTime = 2 * time.Millisecond
