package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chronex-io/chronex/internal/calendar"
	"github.com/chronex-io/chronex/internal/store"
	"github.com/chronex-io/chronex/internal/trigger"
)

// misfireScanInterval paces the misfire handler between passes that did not
// fill a batch.
const misfireScanInterval = 15 * time.Second

// misfireLoop periodically sweeps misfired triggers. A full batch means more
// work is waiting, so the next pass runs immediately.
func (s *Store) misfireLoop() {
	defer s.wg.Done()
	for {
		hasMore, err := s.recoverMisfiredTriggers(context.Background())
		if err != nil {
			s.logger.Error("misfire handling failed", zap.Error(err))
		}

		wait := misfireScanInterval
		if hasMore {
			wait = time.Millisecond
		}
		select {
		case <-s.stop:
			return
		case <-time.After(wait):
		}
	}
}

// recoverMisfiredTriggers applies misfire instructions to one batch of
// overdue waiting triggers. Returns true when a full batch was processed.
func (s *Store) recoverMisfiredTriggers(ctx context.Context) (bool, error) {
	var hasMore bool
	err := s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		now := s.clk.Now().UTC()
		keys, more, err := s.delegate.selectMisfiredTriggers(ctx, tx,
			now.Add(-s.cfg.MisfireThreshold), s.cfg.MaxMisfiresToHandleAtTime)
		if err != nil {
			return store.NewPersistenceError("misfire scan", err)
		}
		hasMore = more

		var earliest *time.Time
		for _, key := range keys {
			row, err := s.delegate.selectTrigger(ctx, tx, key)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return store.NewPersistenceError("misfire scan", err)
			}
			if !s.applyMisfireInTx(ctx, tx, row) {
				continue
			}
			if err := s.delegate.updateTrigger(ctx, tx, row.trig); err != nil {
				return store.NewPersistenceError("misfire scan", err)
			}
			next := row.trig.NextFireTime()
			if next == nil {
				if err := s.delegate.updateTriggerState(ctx, tx, key, trigger.StateComplete); err != nil {
					return store.NewPersistenceError("misfire scan", err)
				}
				continue
			}
			if earliest == nil || next.Before(*earliest) {
				earliest = next
			}
		}
		if len(keys) > 0 {
			s.logger.Info("handled misfired triggers",
				zap.Int("count", len(keys)), zap.Bool("hasMore", hasMore))
		}
		if s.signaler != nil && earliest != nil {
			s.signaler.SignalSchedulingChange(earliest)
		}
		return nil
	})
	return hasMore, err
}

// applyMisfireInTx invokes the trigger's misfire instruction when its next
// fire time is more than the threshold behind the clock. The caller persists
// the mutated trigger. Returns true when the trigger changed.
func (s *Store) applyMisfireInTx(ctx context.Context, tx *sql.Tx, row *triggerRow) bool {
	next := row.trig.NextFireTime()
	if next == nil {
		return false
	}
	now := s.clk.Now().UTC()
	if now.Sub(*next) <= s.cfg.MisfireThreshold {
		return false
	}
	if row.trig.MisfireInstruction() == trigger.MisfireIgnorePolicy {
		return false
	}

	var cal calendar.Calendar
	if name := row.trig.CalendarName(); name != "" {
		if c, err := s.delegate.selectCalendar(ctx, tx, name); err == nil {
			cal = c
		}
	}
	if s.signaler != nil {
		s.signaler.NotifyTriggerMisfired(row.trig)
	}
	row.trig.UpdateAfterMisfire(cal)
	return true
}
