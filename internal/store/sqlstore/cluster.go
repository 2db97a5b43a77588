package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/store"
	"github.com/chronex-io/chronex/internal/trigger"
)

// maxClockSkew is the tolerance allowed between cluster instances' clocks
// when judging a peer's checkin stale.
const maxClockSkew = time.Second

// clusterLoop runs the checkin and failover protocol every checkin interval.
func (s *Store) clusterLoop() {
	defer s.wg.Done()
	for {
		if err := s.clusterCheckin(context.Background()); err != nil {
			s.logger.Error("cluster checkin failed", zap.Error(err))
		}
		select {
		case <-s.stop:
			return
		case <-time.After(s.cfg.CheckinInterval):
		}
	}
}

// clusterCheckin refreshes this instance's scheduler-state row, then claims
// and recovers any instance whose checkin has gone stale.
func (s *Store) clusterCheckin(ctx context.Context) error {
	var failed []schedulerStateRow
	err := s.executeInLock(ctx, LockStateAccess, func(tx *sql.Tx) error {
		now := s.clk.Now().UTC()
		n, err := s.delegate.updateSchedulerState(ctx, tx, s.cfg.InstanceID, now)
		if err != nil {
			return store.NewPersistenceError("cluster checkin", err)
		}
		if n == 0 {
			if err := s.delegate.insertSchedulerState(ctx, tx, s.cfg.InstanceID, now, s.cfg.CheckinInterval); err != nil {
				return store.NewPersistenceError("cluster checkin", err)
			}
		}

		states, err := s.delegate.selectSchedulerStates(ctx, tx)
		if err != nil {
			return store.NewPersistenceError("cluster checkin", err)
		}
		failed = failed[:0]
		for _, st := range states {
			if st.instanceName == s.cfg.InstanceID {
				continue
			}
			interval := st.checkinInterval
			if s.cfg.CheckinInterval > interval {
				interval = s.cfg.CheckinInterval
			}
			if st.lastCheckin.Add(interval).Before(now.Add(-maxClockSkew)) {
				failed = append(failed, st)
			}
		}
		return nil
	})
	if err != nil || len(failed) == 0 {
		return err
	}

	for _, st := range failed {
		if err := s.recoverFailedInstance(ctx, st.instanceName); err != nil {
			return fmt.Errorf("recover instance %s: %w", st.instanceName, err)
		}
	}
	return nil
}

// recoverFailedInstance claims a dead peer's in-flight work: every fired
// trigger goes back to waiting, recovery-requesting jobs get a one-shot
// recovery trigger carrying the original fire time, and the peer's rows are
// deleted.
func (s *Store) recoverFailedInstance(ctx context.Context, instanceName string) error {
	return s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		if err := s.locks.obtain(ctx, tx, LockStateAccess); err != nil {
			return err
		}

		fired, err := s.delegate.selectFiredTriggersByInstance(ctx, tx, instanceName)
		if err != nil {
			return store.NewPersistenceError("instance recovery", err)
		}

		recovered := 0
		for _, fr := range fired {
			if err := s.restoreFiredTrigger(ctx, tx, fr); err != nil {
				return err
			}
			if fr.requestsRecovery {
				if err := s.scheduleRecoveryTrigger(ctx, tx, fr); err != nil {
					return err
				}
				recovered++
			}
		}

		if err := s.delegate.deleteFiredTriggersByInstance(ctx, tx, instanceName); err != nil {
			return store.NewPersistenceError("instance recovery", err)
		}
		if err := s.delegate.deleteSchedulerState(ctx, tx, instanceName); err != nil {
			return store.NewPersistenceError("instance recovery", err)
		}

		s.logger.Info("recovered failed cluster instance",
			zap.String("failedInstance", instanceName),
			zap.Int("firedTriggers", len(fired)),
			zap.Int("recoveryJobs", recovered))
		if s.signaler != nil {
			s.signaler.SignalSchedulingChange(nil)
		}
		return nil
	})
}

// recoverOwnFiredTriggers handles a non-clean restart of this instance:
// whatever it had in flight when it died is restored the same way a peer
// would restore it.
func (s *Store) recoverOwnFiredTriggers(ctx context.Context, tx *sql.Tx) error {
	fired, err := s.delegate.selectFiredTriggersByInstance(ctx, tx, s.cfg.InstanceID)
	if err != nil {
		return err
	}
	for _, fr := range fired {
		if err := s.restoreFiredTrigger(ctx, tx, fr); err != nil {
			return err
		}
		if fr.requestsRecovery {
			if err := s.scheduleRecoveryTrigger(ctx, tx, fr); err != nil {
				return err
			}
		}
	}
	if len(fired) > 0 {
		s.logger.Info("recovered own in-flight triggers", zap.Int("count", len(fired)))
	}
	return s.delegate.deleteFiredTriggersByInstance(ctx, tx, s.cfg.InstanceID)
}

func (s *Store) restoreFiredTrigger(ctx context.Context, tx *sql.Tx, fr *firedRow) error {
	if _, err := s.delegate.updateTriggerStateFrom(ctx, tx, fr.triggerKey,
		trigger.StateWaiting, trigger.StateAcquired, trigger.StateExecuting, trigger.StateBlocked); err != nil {
		return store.NewPersistenceError("instance recovery", err)
	}
	if fr.isNonconcurrent {
		if err := s.delegate.updateJobTriggerStatesFrom(ctx, tx, fr.jobKey,
			trigger.StateWaiting, trigger.StateBlocked); err != nil {
			return store.NewPersistenceError("instance recovery", err)
		}
		if err := s.delegate.updateJobTriggerStatesFrom(ctx, tx, fr.jobKey,
			trigger.StatePaused, trigger.StatePausedBlocked); err != nil {
			return store.NewPersistenceError("instance recovery", err)
		}
	}
	return nil
}

func (s *Store) scheduleRecoveryTrigger(ctx context.Context, tx *sql.Tx, fr *firedRow) error {
	detail, err := s.delegate.selectJobDetail(ctx, tx, fr.jobKey)
	if errors.Is(err, sql.ErrNoRows) {
		// Job deleted since the crash; nothing to recover.
		return nil
	}
	if err != nil {
		return store.NewPersistenceError("instance recovery", err)
	}

	data := detail.Data.Clone()
	data.Put(DataKeyRecoveredFireTime, fr.firedTime.UnixMilli())

	t := trigger.NewSimple()
	t.SetKey(job.TriggerKey{
		Group: recoveringTriggerGroup,
		Name:  fmt.Sprintf("recover_%s_%s", fr.instanceName, fr.entryID),
	})
	t.SetJobKey(fr.jobKey)
	t.SetPriority(fr.priority)
	t.SetMisfireInstruction(trigger.MisfireIgnorePolicy)
	t.SetJobData(data)
	t.SetStartTime(fr.firedTime)
	next := fr.firedTime
	t.SetNextFireTime(&next)

	if err := s.delegate.insertTrigger(ctx, tx, t, trigger.StateWaiting); err != nil {
		return store.NewPersistenceError("instance recovery", err)
	}
	return nil
}
