package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chronex-io/chronex/internal/calendar"
	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/store"
	"github.com/chronex-io/chronex/internal/trigger"
)

// --- enumeration ---

func (s *Store) GetNumberOfJobs(ctx context.Context) (int, error) {
	return s.countTable(ctx, tableJobDetails)
}

func (s *Store) GetNumberOfTriggers(ctx context.Context) (int, error) {
	return s.countTable(ctx, tableTriggers)
}

func (s *Store) GetNumberOfCalendars(ctx context.Context) (int, error) {
	return s.countTable(ctx, tableCalendars)
}

func (s *Store) countTable(ctx context.Context, table string) (int, error) {
	var n int
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		var err error
		n, err = s.delegate.count(ctx, tx, table)
		return err
	})
	return n, err
}

func (s *Store) GetJobKeys(ctx context.Context, group string) ([]job.Key, error) {
	var keys []job.Key
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		var err error
		keys, err = s.delegate.selectJobKeys(ctx, tx, group)
		return err
	})
	return keys, err
}

func (s *Store) GetTriggerKeys(ctx context.Context, group string) ([]job.TriggerKey, error) {
	var keys []job.TriggerKey
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		var err error
		keys, err = s.delegate.selectTriggerKeys(ctx, tx, group)
		return err
	})
	return keys, err
}

func (s *Store) GetJobGroupNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		var err error
		names, err = s.delegate.selectGroups(ctx, tx, tableJobDetails, "job_group")
		return err
	})
	return names, err
}

func (s *Store) GetTriggerGroupNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		var err error
		names, err = s.delegate.selectGroups(ctx, tx, tableTriggers, "trigger_group")
		return err
	})
	return names, err
}

func (s *Store) GetTriggersForJob(ctx context.Context, key job.Key) ([]trigger.Operable, error) {
	var out []trigger.Operable
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		keys, err := s.delegate.selectTriggerKeysForJob(ctx, tx, key)
		if err != nil {
			return store.NewPersistenceError("triggers for job", err)
		}
		out = make([]trigger.Operable, 0, len(keys))
		for _, tk := range keys {
			row, err := s.delegate.selectTrigger(ctx, tx, tk)
			if err != nil {
				return store.NewPersistenceError("triggers for job", err)
			}
			out = append(out, row.trig)
		}
		return nil
	})
	return out, err
}

// --- pause / resume ---

func (s *Store) PauseTrigger(ctx context.Context, key job.TriggerKey) error {
	return s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		return s.pauseTriggerInTx(ctx, tx, key)
	})
}

func (s *Store) pauseTriggerInTx(ctx context.Context, tx *sql.Tx, key job.TriggerKey) error {
	state, err := s.delegate.selectTriggerState(ctx, tx, key)
	if err != nil {
		return store.NewPersistenceError("pause trigger", err)
	}
	switch state {
	case trigger.StateNone:
		return fmt.Errorf("%w: %s", store.ErrTriggerNotFound, key)
	case trigger.StateComplete, trigger.StatePaused, trigger.StatePausedBlocked:
		return nil
	case trigger.StateBlocked:
		return s.delegate.updateTriggerState(ctx, tx, key, trigger.StatePausedBlocked)
	default:
		return s.delegate.updateTriggerState(ctx, tx, key, trigger.StatePaused)
	}
}

func (s *Store) PauseTriggerGroup(ctx context.Context, group string) ([]string, error) {
	err := s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		if err := s.delegate.updateGroupTriggerStatesFrom(ctx, tx, group,
			trigger.StatePaused, trigger.StateWaiting, trigger.StateAcquired); err != nil {
			return store.NewPersistenceError("pause trigger group", err)
		}
		if err := s.delegate.updateGroupTriggerStatesFrom(ctx, tx, group,
			trigger.StatePausedBlocked, trigger.StateBlocked); err != nil {
			return store.NewPersistenceError("pause trigger group", err)
		}
		return s.delegate.insertPausedGroup(ctx, tx, group)
	})
	if err != nil {
		return nil, err
	}
	return []string{group}, nil
}

func (s *Store) PauseJob(ctx context.Context, key job.Key) error {
	return s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		keys, err := s.delegate.selectTriggerKeysForJob(ctx, tx, key)
		if err != nil {
			return store.NewPersistenceError("pause job", err)
		}
		for _, tk := range keys {
			if err := s.pauseTriggerInTx(ctx, tx, tk); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) PauseJobGroup(ctx context.Context, group string) ([]string, error) {
	err := s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		keys, err := s.delegate.selectJobKeys(ctx, tx, group)
		if err != nil {
			return store.NewPersistenceError("pause job group", err)
		}
		for _, jk := range keys {
			tks, err := s.delegate.selectTriggerKeysForJob(ctx, tx, jk)
			if err != nil {
				return store.NewPersistenceError("pause job group", err)
			}
			for _, tk := range tks {
				if err := s.pauseTriggerInTx(ctx, tx, tk); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []string{group}, nil
}

func (s *Store) ResumeTrigger(ctx context.Context, key job.TriggerKey) error {
	return s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		return s.resumeTriggerInTx(ctx, tx, key)
	})
}

func (s *Store) resumeTriggerInTx(ctx context.Context, tx *sql.Tx, key job.TriggerKey) error {
	row, err := s.delegate.selectTrigger(ctx, tx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrTriggerNotFound, key)
	}
	if err != nil {
		return store.NewPersistenceError("resume trigger", err)
	}
	if row.state != trigger.StatePaused && row.state != trigger.StatePausedBlocked {
		return nil
	}

	newState := trigger.StateWaiting
	if row.state == trigger.StatePausedBlocked {
		newState = trigger.StateBlocked
	}

	// Apply the misfire policy for time spent paused.
	if s.applyMisfireInTx(ctx, tx, row) {
		if err := s.delegate.updateTrigger(ctx, tx, row.trig); err != nil {
			return store.NewPersistenceError("resume trigger", err)
		}
		if row.trig.NextFireTime() == nil {
			newState = trigger.StateComplete
		}
	}
	if err := s.delegate.updateTriggerState(ctx, tx, key, newState); err != nil {
		return store.NewPersistenceError("resume trigger", err)
	}
	if s.signaler != nil {
		s.signaler.SignalSchedulingChange(row.trig.NextFireTime())
	}
	return nil
}

func (s *Store) ResumeTriggerGroup(ctx context.Context, group string) ([]string, error) {
	err := s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		if err := s.delegate.deletePausedGroup(ctx, tx, group); err != nil {
			return store.NewPersistenceError("resume trigger group", err)
		}
		keys, err := s.delegate.selectTriggerKeys(ctx, tx, group)
		if err != nil {
			return store.NewPersistenceError("resume trigger group", err)
		}
		for _, tk := range keys {
			if err := s.resumeTriggerInTx(ctx, tx, tk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []string{group}, nil
}

func (s *Store) ResumeJob(ctx context.Context, key job.Key) error {
	return s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		keys, err := s.delegate.selectTriggerKeysForJob(ctx, tx, key)
		if err != nil {
			return store.NewPersistenceError("resume job", err)
		}
		for _, tk := range keys {
			if err := s.resumeTriggerInTx(ctx, tx, tk); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) ResumeJobGroup(ctx context.Context, group string) ([]string, error) {
	err := s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		keys, err := s.delegate.selectJobKeys(ctx, tx, group)
		if err != nil {
			return store.NewPersistenceError("resume job group", err)
		}
		for _, jk := range keys {
			tks, err := s.delegate.selectTriggerKeysForJob(ctx, tx, jk)
			if err != nil {
				return store.NewPersistenceError("resume job group", err)
			}
			for _, tk := range tks {
				if err := s.resumeTriggerInTx(ctx, tx, tk); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []string{group}, nil
}

func (s *Store) PauseAll(ctx context.Context) error {
	groups, err := s.GetTriggerGroupNames(ctx)
	if err != nil {
		return err
	}
	for _, group := range groups {
		if _, err := s.PauseTriggerGroup(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ResumeAll(ctx context.Context) error {
	groups, err := s.GetTriggerGroupNames(ctx)
	if err != nil {
		return err
	}
	for _, group := range groups {
		if _, err := s.ResumeTriggerGroup(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetPausedTriggerGroups(ctx context.Context) ([]string, error) {
	var groups []string
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		var err error
		groups, err = s.delegate.selectPausedGroups(ctx, tx)
		return err
	})
	return groups, err
}

// --- acquire / fire / complete ---

func (s *Store) AcquireNextTriggers(ctx context.Context, noLaterThan time.Time, maxCount int, timeWindow time.Duration) ([]trigger.Operable, error) {
	if maxCount < 1 {
		maxCount = 1
	}
	lockName := LockTriggerAccess
	if !s.cfg.AcquireTriggersWithinLock && maxCount == 1 {
		// Single-trigger acquisition can rely on the conditional state
		// update alone.
		lockName = ""
	}

	var acquired []trigger.Operable
	err := s.executeInLock(ctx, lockName, func(tx *sql.Tx) error {
		acquired = acquired[:0]
		now := s.clk.Now().UTC()
		misfireHorizon := now.Add(-s.cfg.MisfireThreshold)

		candidates, err := s.delegate.selectTriggersToAcquire(ctx, tx, noLaterThan.Add(timeWindow), maxCount*2)
		if err != nil {
			return store.NewPersistenceError("acquire triggers", err)
		}

		jobsTaken := make(map[job.Key]struct{})
		var batchEnd time.Time
		for _, key := range candidates {
			if len(acquired) >= maxCount {
				break
			}
			row, err := s.delegate.selectTrigger(ctx, tx, key)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return store.NewPersistenceError("acquire triggers", err)
			}
			next := row.trig.NextFireTime()
			if next == nil {
				continue
			}
			// Leave badly late triggers to the misfire handler.
			if next.Before(misfireHorizon) && row.trig.MisfireInstruction() != trigger.MisfireIgnorePolicy {
				continue
			}
			if !batchEnd.IsZero() && next.After(batchEnd) {
				break
			}

			detail, err := s.delegate.selectJobDetail(ctx, tx, row.trig.JobKey())
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return store.NewPersistenceError("acquire triggers", err)
			}
			if detail.ConcurrentExecutionDisallowed {
				if _, taken := jobsTaken[detail.Key]; taken {
					continue
				}
				jobsTaken[detail.Key] = struct{}{}
			}

			n, err := s.delegate.updateTriggerStateFrom(ctx, tx, key, trigger.StateAcquired, trigger.StateWaiting)
			if err != nil {
				return store.NewPersistenceError("acquire triggers", err)
			}
			if n == 0 {
				continue
			}
			fr := &firedRow{
				entryID:          uuid.NewString(),
				triggerKey:       key,
				jobKey:           detail.Key,
				instanceName:     s.cfg.InstanceID,
				firedTime:        now,
				schedTime:        *next,
				priority:         row.trig.Priority(),
				state:            string(trigger.StateAcquired),
				isNonconcurrent:  detail.ConcurrentExecutionDisallowed,
				requestsRecovery: detail.RequestsRecovery,
			}
			if err := s.delegate.insertFiredTrigger(ctx, tx, fr); err != nil {
				return store.NewPersistenceError("acquire triggers", err)
			}
			if batchEnd.IsZero() {
				batchEnd = next.Add(timeWindow)
			}
			acquired = append(acquired, row.trig)
		}
		return nil
	})
	return acquired, err
}

func (s *Store) ReleaseAcquiredTrigger(ctx context.Context, t trigger.Operable) error {
	return s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		if _, err := s.delegate.updateTriggerStateFrom(ctx, tx, t.Key(),
			trigger.StateWaiting, trigger.StateAcquired); err != nil {
			return store.NewPersistenceError("release trigger", err)
		}
		if err := s.delegate.deleteFiredTriggersForTrigger(ctx, tx, t.Key()); err != nil {
			return store.NewPersistenceError("release trigger", err)
		}
		return nil
	})
}

func (s *Store) TriggersFired(ctx context.Context, triggers []trigger.Operable) ([]store.TriggerFiredResult, error) {
	var results []store.TriggerFiredResult
	err := s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		results = make([]store.TriggerFiredResult, 0, len(triggers))
		for _, t := range triggers {
			res := s.triggerFiredInTx(ctx, tx, t)
			results = append(results, res)
		}
		return nil
	})
	return results, err
}

func (s *Store) triggerFiredInTx(ctx context.Context, tx *sql.Tx, t trigger.Operable) store.TriggerFiredResult {
	row, err := s.delegate.selectTrigger(ctx, tx, t.Key())
	if errors.Is(err, sql.ErrNoRows) {
		return store.TriggerFiredResult{}
	}
	if err != nil {
		return store.TriggerFiredResult{Err: store.NewPersistenceError("trigger fired", err)}
	}
	if row.state != trigger.StateAcquired {
		return store.TriggerFiredResult{}
	}

	var cal calendar.Calendar
	if name := row.trig.CalendarName(); name != "" {
		cal, err = s.delegate.selectCalendar(ctx, tx, name)
		if errors.Is(err, sql.ErrNoRows) {
			return store.TriggerFiredResult{Err: fmt.Errorf("trigger %s: %w: %s", t.Key(), store.ErrCalendarNotFound, name)}
		}
		if err != nil {
			return store.TriggerFiredResult{Err: store.NewPersistenceError("trigger fired", err)}
		}
	}

	detail, err := s.delegate.selectJobDetail(ctx, tx, row.trig.JobKey())
	if errors.Is(err, sql.ErrNoRows) {
		return store.TriggerFiredResult{Err: fmt.Errorf("trigger %s: %w: %s", t.Key(), store.ErrJobNotFound, row.trig.JobKey())}
	}
	if err != nil {
		return store.TriggerFiredResult{Err: store.NewPersistenceError("trigger fired", err)}
	}

	prev := row.trig.PreviousFireTime()
	scheduled := row.trig.NextFireTime()
	row.trig.Triggered(cal)
	next := row.trig.NextFireTime()

	state := trigger.StateExecuting
	if next == nil {
		state = trigger.StateComplete
	}
	if err := s.delegate.updateTrigger(ctx, tx, row.trig); err != nil {
		return store.TriggerFiredResult{Err: store.NewPersistenceError("trigger fired", err)}
	}
	if err := s.delegate.updateTriggerState(ctx, tx, t.Key(), state); err != nil {
		return store.TriggerFiredResult{Err: store.NewPersistenceError("trigger fired", err)}
	}
	if err := s.delegate.updateFiredTriggerStateForTrigger(ctx, tx, t.Key(), string(trigger.StateExecuting)); err != nil {
		return store.TriggerFiredResult{Err: store.NewPersistenceError("trigger fired", err)}
	}

	if detail.ConcurrentExecutionDisallowed {
		if err := s.delegate.updateJobTriggerStatesFrom(ctx, tx, detail.Key,
			trigger.StateBlocked, trigger.StateWaiting, trigger.StateAcquired); err != nil {
			return store.TriggerFiredResult{Err: store.NewPersistenceError("trigger fired", err)}
		}
		if err := s.delegate.updateJobTriggerStatesFrom(ctx, tx, detail.Key,
			trigger.StatePausedBlocked, trigger.StatePaused); err != nil {
			return store.TriggerFiredResult{Err: store.NewPersistenceError("trigger fired", err)}
		}
		// The firing trigger itself stays out of the blocked set.
		if err := s.delegate.updateTriggerState(ctx, tx, t.Key(), state); err != nil {
			return store.TriggerFiredResult{Err: store.NewPersistenceError("trigger fired", err)}
		}
	}

	return store.TriggerFiredResult{Bundle: &store.TriggerFiredBundle{
		Trigger:           row.trig,
		JobDetail:         detail,
		Calendar:          cal,
		Recovering:        t.Key().Group == recoveringTriggerGroup,
		FireTime:          s.clk.Now().UTC(),
		ScheduledFireTime: scheduled,
		PrevFireTime:      prev,
		NextFireTime:      next,
	}}
}

func (s *Store) TriggeredJobComplete(ctx context.Context, t trigger.Operable, detail *job.Detail, instruction trigger.CompletedExecutionInstruction) error {
	return s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		if detail != nil {
			if detail.PersistDataAfterExecution {
				if err := s.delegate.updateJobData(ctx, tx, detail.Key, detail.Data); err != nil {
					return store.NewPersistenceError("complete trigger", err)
				}
			}
			if detail.ConcurrentExecutionDisallowed {
				if err := s.delegate.updateJobTriggerStatesFrom(ctx, tx, detail.Key,
					trigger.StateWaiting, trigger.StateBlocked); err != nil {
					return store.NewPersistenceError("complete trigger", err)
				}
				if err := s.delegate.updateJobTriggerStatesFrom(ctx, tx, detail.Key,
					trigger.StatePaused, trigger.StatePausedBlocked); err != nil {
					return store.NewPersistenceError("complete trigger", err)
				}
				if s.signaler != nil {
					s.signaler.SignalSchedulingChange(nil)
				}
			}
		}

		switch instruction {
		case trigger.InstructionDeleteTrigger:
			row, err := s.delegate.selectTrigger(ctx, tx, t.Key())
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return store.NewPersistenceError("complete trigger", err)
			}
			if err == nil {
				if next := row.trig.NextFireTime(); next == nil || t.NextFireTime() == nil || next.Equal(*t.NextFireTime()) {
					if _, err := s.delegate.deleteTrigger(ctx, tx, t.Key()); err != nil {
						return store.NewPersistenceError("complete trigger", err)
					}
				}
			}
		case trigger.InstructionSetTriggerComplete:
			if err := s.delegate.updateTriggerState(ctx, tx, t.Key(), trigger.StateComplete); err != nil {
				return store.NewPersistenceError("complete trigger", err)
			}
			if s.signaler != nil {
				s.signaler.SignalSchedulingChange(nil)
			}
		case trigger.InstructionSetTriggerError:
			if err := s.delegate.updateTriggerState(ctx, tx, t.Key(), trigger.StateError); err != nil {
				return store.NewPersistenceError("complete trigger", err)
			}
		case trigger.InstructionSetAllJobTriggersComplete:
			if err := s.delegate.updateAllJobTriggerStates(ctx, tx, t.JobKey(), trigger.StateComplete); err != nil {
				return store.NewPersistenceError("complete trigger", err)
			}
		case trigger.InstructionSetAllJobTriggersError:
			if err := s.delegate.updateAllJobTriggerStates(ctx, tx, t.JobKey(), trigger.StateError); err != nil {
				return store.NewPersistenceError("complete trigger", err)
			}
		default:
			if _, err := s.delegate.updateTriggerStateFrom(ctx, tx, t.Key(),
				trigger.StateWaiting, trigger.StateExecuting); err != nil {
				return store.NewPersistenceError("complete trigger", err)
			}
		}

		if err := s.delegate.deleteFiredTriggersForTrigger(ctx, tx, t.Key()); err != nil {
			return store.NewPersistenceError("complete trigger", err)
		}
		return nil
	})
}

func (s *Store) ClearAllSchedulingData(ctx context.Context) error {
	return s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		if err := s.delegate.deleteAll(ctx, tx); err != nil {
			return store.NewPersistenceError("clear scheduling data", err)
		}
		return nil
	})
}
