package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronex-io/chronex/internal/trigger"
)

// acquireRetryDelay paces re-acquisition after a store failure.
const acquireRetryDelay = 5 * time.Second

// run is the dedicated scheduling goroutine: acquire a batch, sleep until
// fire time, fire, hand executions to the pool.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.loopDone)

	for {
		if ctx.Err() != nil {
			return
		}
		if s.InStandbyMode() {
			s.waitFor(ctx, s.cfg.IdleWaitTime)
			continue
		}

		available := s.pool.BlockForAvailableThreads()
		if available < 1 {
			return
		}
		if ctx.Err() != nil || s.InStandbyMode() {
			continue
		}

		now := s.clk.Now().UTC()
		maxCount := min(available, s.cfg.BatchMaxCount)
		acquired, err := s.store.AcquireNextTriggers(ctx, now.Add(s.cfg.IdleWaitTime), maxCount, s.cfg.BatchTimeWindow)
		if err != nil {
			s.notifyError("trigger acquisition failed", err)
			s.waitFor(ctx, acquireRetryDelay)
			continue
		}
		if len(acquired) == 0 {
			s.waitFor(ctx, s.cfg.IdleWaitTime)
			continue
		}

		if !s.waitUntilFireTime(ctx, acquired) {
			// Preempted by an earlier trigger or shutdown; put the batch
			// back and re-plan.
			s.releaseAll(ctx, acquired)
			continue
		}

		results, err := s.store.TriggersFired(ctx, acquired)
		if err != nil {
			s.notifyError("trigger firing failed", err)
			s.releaseAll(ctx, acquired)
			continue
		}

		for i, res := range results {
			if res.Err != nil {
				s.notifyError("trigger skipped", res.Err)
				if err := s.store.ReleaseAcquiredTrigger(ctx, acquired[i]); err != nil {
					s.notifyError("trigger release failed", err)
				}
				continue
			}
			if res.Bundle == nil {
				// No longer acquired; someone deleted or paused it.
				continue
			}
			shell, err := newRunShell(s, res.Bundle, uuid.NewString())
			if err != nil {
				s.notifyError("job instantiation failed", err)
				if cErr := s.store.TriggeredJobComplete(ctx, res.Bundle.Trigger, res.Bundle.JobDetail, trigger.InstructionSetTriggerError); cErr != nil {
					s.notifyError("error-state transition failed", cErr)
				}
				continue
			}
			if !s.pool.RunInThread(func() { shell.run(ctx) }) {
				s.logger.Warn("worker pool rejected execution",
					zap.String("trigger", res.Bundle.Trigger.Key().String()))
				if err := s.store.ReleaseAcquiredTrigger(ctx, acquired[i]); err != nil {
					s.notifyError("trigger release failed", err)
				}
			}
		}
	}
}

// waitUntilFireTime sleeps until the batch's first fire time is within the
// fire-ahead window. Returns false when the wait was preempted by a trigger
// earlier than the batch or by cancellation.
func (s *Scheduler) waitUntilFireTime(ctx context.Context, acquired []trigger.Operable) bool {
	first := acquired[0].NextFireTime()
	if first == nil {
		return true
	}
	for {
		wait := first.Sub(s.clk.Now()) - fireAheadTime
		if wait <= 0 {
			return true
		}
		switch s.waitFor(ctx, wait) {
		case wakeCancelled:
			return false
		case wakeSignalled:
			candidate := s.sig.takeCandidate()
			if candidate != nil && candidate.Before(*first) {
				return false
			}
			// Not earlier than the plan; keep sleeping.
		case wakeTimeout:
			return true
		}
	}
}

func (s *Scheduler) releaseAll(ctx context.Context, acquired []trigger.Operable) {
	for _, t := range acquired {
		if err := s.store.ReleaseAcquiredTrigger(ctx, t); err != nil {
			s.notifyError("trigger release failed", err)
		}
	}
}

type wakeReason int

const (
	wakeTimeout wakeReason = iota
	wakeSignalled
	wakeCancelled
)

// waitFor blocks for d, a scheduling-change signal or cancellation,
// whichever comes first.
func (s *Scheduler) waitFor(ctx context.Context, d time.Duration) wakeReason {
	if d <= 0 {
		return wakeTimeout
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return wakeCancelled
	case <-s.sig.wakeCh():
		return wakeSignalled
	case <-timer.C:
		return wakeTimeout
	}
}
