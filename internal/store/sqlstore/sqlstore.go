// Package sqlstore persists scheduling state in a relational database using
// the qrtz_* schema. All mutating operations serialise through named row
// locks, which is also what coordinates multiple cluster instances sharing
// one database.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chronex-io/chronex/internal/calendar"
	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/logging"
	"github.com/chronex-io/chronex/internal/store"
	"github.com/chronex-io/chronex/internal/trigger"
	"github.com/chronex-io/chronex/pkg/clock"
)

// Defaults for Config fields left zero.
const (
	DefaultMisfireThreshold = 60 * time.Second
	DefaultCheckinInterval  = 7500 * time.Millisecond
	DefaultMaxMisfires      = 20
	DefaultLockTimeout      = 10 * time.Second

	// recoveringTriggerGroup names the group recovery triggers are created
	// in; TriggersFired flags these bundles as recovering.
	recoveringTriggerGroup = "RECOVERING_JOBS"

	// DataKeyRecoveredFireTime is the job-data key carrying the original
	// fire time (epoch millis) into a recovered execution.
	DataKeyRecoveredFireTime = "recoveredFireTime"
)

// Config carries the persistent store's tunables.
type Config struct {
	// SchedulerName namespaces all rows; instances sharing work must agree
	// on it.
	SchedulerName string
	// InstanceID uniquely names this instance within the cluster.
	InstanceID string
	// Driver selects the dialect: "mysql" or "postgres".
	Driver string

	Clustered                 bool
	CheckinInterval           time.Duration
	MisfireThreshold          time.Duration
	MaxMisfiresToHandleAtTime int
	AcquireTriggersWithinLock bool
	LockTimeout               time.Duration
}

func (c Config) withDefaults() Config {
	if c.SchedulerName == "" {
		c.SchedulerName = "ChronexScheduler"
	}
	if c.InstanceID == "" {
		c.InstanceID = fmt.Sprintf("%s-%s", c.SchedulerName, uuid.NewString())
	}
	if c.CheckinInterval == 0 {
		c.CheckinInterval = DefaultCheckinInterval
	}
	if c.MisfireThreshold == 0 {
		c.MisfireThreshold = DefaultMisfireThreshold
	}
	if c.MaxMisfiresToHandleAtTime == 0 {
		c.MaxMisfiresToHandleAtTime = DefaultMaxMisfires
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	return c
}

// Store is the relational JobStore.
type Store struct {
	db       *sql.DB
	cfg      Config
	dialect  Dialect
	delegate *delegate
	locks    *lockHandler
	logger   logging.Logger
	clk      clock.Clock
	signaler store.Signaler

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clk = c }
}

// New builds a Store over an open database handle; the handle stays owned by
// the caller.
func New(db *sql.DB, cfg Config, logger logging.Logger, opts ...Option) (*Store, error) {
	cfg = cfg.withDefaults()
	dialect, err := DialectByName(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	s := &Store{
		db:       db,
		cfg:      cfg,
		dialect:  dialect,
		delegate: &delegate{dialect: dialect, schedName: cfg.SchedulerName},
		locks:    newLockHandler(dialect, cfg.SchedulerName, cfg.LockTimeout),
		logger:   logger,
		clk:      clock.RealClock{},
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Initialize(ctx context.Context, signaler store.Signaler) error {
	s.signaler = signaler
	if err := EnsureSchema(ctx, s.db, s.dialect); err != nil {
		return store.NewPersistenceError("initialize", err)
	}
	return nil
}

// SchedulerStarted recovers this instance's orphaned work and, when
// clustered, starts the checkin and misfire goroutines.
func (s *Store) SchedulerStarted(ctx context.Context) error {
	if err := s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		return s.recoverOwnFiredTriggers(ctx, tx)
	}); err != nil {
		return store.NewPersistenceError("startup recovery", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true

	if s.cfg.Clustered {
		s.wg.Add(1)
		go s.clusterLoop()
	}
	s.wg.Add(1)
	go s.misfireLoop()
	return nil
}

func (s *Store) SchedulerPaused()  {}
func (s *Store) SchedulerResumed() {}

func (s *Store) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		close(s.stop)
		s.started = false
	}
	s.mu.Unlock()
	s.wg.Wait()

	if s.cfg.Clustered {
		err := s.executeInLock(ctx, LockStateAccess, func(tx *sql.Tx) error {
			return s.delegate.deleteSchedulerState(ctx, tx, s.cfg.InstanceID)
		})
		if err != nil {
			s.logger.Warn("scheduler-state cleanup failed", zap.Error(err))
		}
	}
	s.logger.Info("sql store shut down", zap.String("instanceId", s.cfg.InstanceID))
	return nil
}

// executeInLock runs fn in a transaction that holds lockName, retrying
// transient failures. An empty lockName runs an unlocked transaction.
func (s *Store) executeInLock(ctx context.Context, lockName string, fn func(tx *sql.Tx) error) error {
	return withRetry(ctx, func() (err error) {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin transaction: %w", txErr)
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()

		if lockName != "" {
			if err = s.locks.obtain(ctx, tx, lockName); err != nil {
				return err
			}
		}
		if err = fn(tx); err != nil {
			return err
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// --- jobs ---

func (s *Store) StoreJob(ctx context.Context, detail *job.Detail, replaceExisting bool) error {
	if err := detail.Validate(); err != nil {
		return err
	}
	return s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		return s.storeJobInTx(ctx, tx, detail, replaceExisting)
	})
}

func (s *Store) storeJobInTx(ctx context.Context, tx *sql.Tx, detail *job.Detail, replaceExisting bool) error {
	exists, err := s.delegate.jobExists(ctx, tx, detail.Key)
	if err != nil {
		return store.NewPersistenceError("store job", err)
	}
	if exists {
		if !replaceExisting {
			return store.NewAlreadyExistsError("job", detail.Key.String())
		}
		if err := s.delegate.updateJobDetail(ctx, tx, detail); err != nil {
			return store.NewPersistenceError("store job", err)
		}
		return nil
	}
	if err := s.delegate.insertJobDetail(ctx, tx, detail); err != nil {
		return store.NewPersistenceError("store job", err)
	}
	return nil
}

func (s *Store) StoreJobAndTrigger(ctx context.Context, detail *job.Detail, t trigger.Operable) error {
	if err := detail.Validate(); err != nil {
		return err
	}
	return s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		if err := s.storeJobInTx(ctx, tx, detail, false); err != nil {
			return err
		}
		return s.storeTriggerInTx(ctx, tx, t, false)
	})
}

func (s *Store) RemoveJob(ctx context.Context, key job.Key) (bool, error) {
	var removed bool
	err := s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		keys, err := s.delegate.selectTriggerKeysForJob(ctx, tx, key)
		if err != nil {
			return store.NewPersistenceError("remove job", err)
		}
		for _, tk := range keys {
			if err := s.delegate.deleteFiredTriggersForTrigger(ctx, tx, tk); err != nil {
				return store.NewPersistenceError("remove job", err)
			}
			if _, err := s.delegate.deleteTrigger(ctx, tx, tk); err != nil {
				return store.NewPersistenceError("remove job", err)
			}
		}
		removed, err = s.delegate.deleteJobDetail(ctx, tx, key)
		if err != nil {
			return store.NewPersistenceError("remove job", err)
		}
		return nil
	})
	return removed, err
}

func (s *Store) RetrieveJob(ctx context.Context, key job.Key) (*job.Detail, error) {
	var detail *job.Detail
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		var err error
		detail, err = s.delegate.selectJobDetail(ctx, tx, key)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", store.ErrJobNotFound, key)
		}
		if err != nil {
			return store.NewPersistenceError("retrieve job", err)
		}
		return nil
	})
	return detail, err
}

func (s *Store) CheckJobExists(ctx context.Context, key job.Key) (bool, error) {
	var exists bool
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		var err error
		exists, err = s.delegate.jobExists(ctx, tx, key)
		return err
	})
	return exists, err
}

// --- triggers ---

func (s *Store) StoreTrigger(ctx context.Context, t trigger.Operable, replaceExisting bool) error {
	return s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		return s.storeTriggerInTx(ctx, tx, t, replaceExisting)
	})
}

func (s *Store) storeTriggerInTx(ctx context.Context, tx *sql.Tx, t trigger.Operable, replaceExisting bool) error {
	jobExists, err := s.delegate.jobExists(ctx, tx, t.JobKey())
	if err != nil {
		return store.NewPersistenceError("store trigger", err)
	}
	if !jobExists {
		return fmt.Errorf("trigger %s references %w: %s", t.Key(), store.ErrJobNotFound, t.JobKey())
	}

	state, err := s.delegate.selectTriggerState(ctx, tx, t.Key())
	if err != nil {
		return store.NewPersistenceError("store trigger", err)
	}
	exists := state != trigger.StateNone
	if exists && !replaceExisting {
		return store.NewAlreadyExistsError("trigger", t.Key().String())
	}

	newState := trigger.StateWaiting
	paused, err := s.delegate.isGroupPaused(ctx, tx, t.Key().Group)
	if err != nil {
		return store.NewPersistenceError("store trigger", err)
	}
	if paused {
		newState = trigger.StatePaused
	}

	if exists {
		if err := s.delegate.updateTrigger(ctx, tx, t); err != nil {
			return store.NewPersistenceError("store trigger", err)
		}
		if err := s.delegate.updateTriggerState(ctx, tx, t.Key(), newState); err != nil {
			return store.NewPersistenceError("store trigger", err)
		}
		return nil
	}
	if err := s.delegate.insertTrigger(ctx, tx, t, newState); err != nil {
		return store.NewPersistenceError("store trigger", err)
	}
	return nil
}

func (s *Store) RemoveTrigger(ctx context.Context, key job.TriggerKey) (bool, error) {
	var removed bool
	err := s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		row, err := s.delegate.selectTrigger(ctx, tx, key)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return store.NewPersistenceError("remove trigger", err)
		}
		if err := s.delegate.deleteFiredTriggersForTrigger(ctx, tx, key); err != nil {
			return store.NewPersistenceError("remove trigger", err)
		}
		removed, err = s.delegate.deleteTrigger(ctx, tx, key)
		if err != nil {
			return store.NewPersistenceError("remove trigger", err)
		}

		// Remove the job too when it is non-durable and orphaned.
		jobKey := row.trig.JobKey()
		remaining, err := s.delegate.selectTriggerKeysForJob(ctx, tx, jobKey)
		if err != nil {
			return store.NewPersistenceError("remove trigger", err)
		}
		if len(remaining) == 0 {
			detail, err := s.delegate.selectJobDetail(ctx, tx, jobKey)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return store.NewPersistenceError("remove trigger", err)
			}
			if detail != nil && !detail.Durable {
				if _, err := s.delegate.deleteJobDetail(ctx, tx, jobKey); err != nil {
					return store.NewPersistenceError("remove trigger", err)
				}
			}
		}
		return nil
	})
	return removed, err
}

func (s *Store) ReplaceTrigger(ctx context.Context, key job.TriggerKey, t trigger.Operable) (bool, error) {
	var replaced bool
	err := s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		row, err := s.delegate.selectTrigger(ctx, tx, key)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return store.NewPersistenceError("replace trigger", err)
		}
		if row.trig.JobKey() != t.JobKey() {
			return fmt.Errorf("new trigger %s is not related to job %s", t.Key(), row.trig.JobKey())
		}
		if err := s.delegate.deleteFiredTriggersForTrigger(ctx, tx, key); err != nil {
			return store.NewPersistenceError("replace trigger", err)
		}
		if _, err := s.delegate.deleteTrigger(ctx, tx, key); err != nil {
			return store.NewPersistenceError("replace trigger", err)
		}
		if err := s.storeTriggerInTx(ctx, tx, t, false); err != nil {
			return err
		}
		replaced = true
		return nil
	})
	return replaced, err
}

func (s *Store) RetrieveTrigger(ctx context.Context, key job.TriggerKey) (trigger.Operable, error) {
	var t trigger.Operable
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		row, err := s.delegate.selectTrigger(ctx, tx, key)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", store.ErrTriggerNotFound, key)
		}
		if err != nil {
			return store.NewPersistenceError("retrieve trigger", err)
		}
		t = row.trig
		return nil
	})
	return t, err
}

func (s *Store) CheckTriggerExists(ctx context.Context, key job.TriggerKey) (bool, error) {
	state, err := s.GetTriggerState(ctx, key)
	if err != nil {
		return false, err
	}
	return state != trigger.StateNone, nil
}

func (s *Store) GetTriggerState(ctx context.Context, key job.TriggerKey) (trigger.State, error) {
	var state trigger.State
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		var err error
		state, err = s.delegate.selectTriggerState(ctx, tx, key)
		return err
	})
	return state, err
}

// --- calendars ---

func (s *Store) StoreCalendar(ctx context.Context, name string, cal calendar.Calendar, replaceExisting, updateTriggers bool) error {
	return s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		exists, err := s.delegate.calendarExists(ctx, tx, name)
		if err != nil {
			return store.NewPersistenceError("store calendar", err)
		}
		if exists && !replaceExisting {
			return store.NewAlreadyExistsError("calendar", name)
		}
		if exists {
			if err := s.delegate.updateCalendar(ctx, tx, name, cal); err != nil {
				return store.NewPersistenceError("store calendar", err)
			}
		} else {
			if err := s.delegate.insertCalendar(ctx, tx, name, cal); err != nil {
				return store.NewPersistenceError("store calendar", err)
			}
		}

		if !updateTriggers {
			return nil
		}
		keys, err := s.delegate.selectTriggersForCalendar(ctx, tx, name)
		if err != nil {
			return store.NewPersistenceError("store calendar", err)
		}
		var earliest *time.Time
		for _, key := range keys {
			row, err := s.delegate.selectTrigger(ctx, tx, key)
			if err != nil {
				return store.NewPersistenceError("store calendar", err)
			}
			row.trig.UpdateWithNewCalendar(cal, s.cfg.MisfireThreshold)
			if err := s.delegate.updateTrigger(ctx, tx, row.trig); err != nil {
				return store.NewPersistenceError("store calendar", err)
			}
			if next := row.trig.NextFireTime(); next != nil && (earliest == nil || next.Before(*earliest)) {
				earliest = next
			}
		}
		if s.signaler != nil && earliest != nil {
			s.signaler.SignalSchedulingChange(earliest)
		}
		return nil
	})
}

func (s *Store) RemoveCalendar(ctx context.Context, name string) (bool, error) {
	var removed bool
	err := s.executeInLock(ctx, LockTriggerAccess, func(tx *sql.Tx) error {
		keys, err := s.delegate.selectTriggersForCalendar(ctx, tx, name)
		if err != nil {
			return store.NewPersistenceError("remove calendar", err)
		}
		if len(keys) > 0 {
			return fmt.Errorf("calendar %q is referenced by %d trigger(s) and cannot be removed", name, len(keys))
		}
		removed, err = s.delegate.deleteCalendar(ctx, tx, name)
		if err != nil {
			return store.NewPersistenceError("remove calendar", err)
		}
		return nil
	})
	return removed, err
}

func (s *Store) RetrieveCalendar(ctx context.Context, name string) (calendar.Calendar, error) {
	var cal calendar.Calendar
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		var err error
		cal, err = s.delegate.selectCalendar(ctx, tx, name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", store.ErrCalendarNotFound, name)
		}
		if err != nil {
			return store.NewPersistenceError("retrieve calendar", err)
		}
		return nil
	})
	return cal, err
}

func (s *Store) CalendarExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		var err error
		exists, err = s.delegate.calendarExists(ctx, tx, name)
		return err
	})
	return exists, err
}

func (s *Store) GetCalendarNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.executeInLock(ctx, "", func(tx *sql.Tx) error {
		var err error
		names, err = s.delegate.selectGroups(ctx, tx, tableCalendars, "calendar_name")
		return err
	})
	return names, err
}
