// Package memstore provides a volatile, in-process job store. It is the
// default store for single-node schedulers and the workhorse for tests; all
// data is lost on shutdown.
package memstore

import (
	"context"
	"fmt"
	"sort"
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

// DefaultMisfireThreshold matches the persistent store's default.
const DefaultMisfireThreshold = 60 * time.Second

type triggerRecord struct {
	trig  trigger.Operable
	state trigger.State
}

type firedRecord struct {
	id         string
	triggerKey job.TriggerKey
	jobKey     job.Key
	firedAt    time.Time
}

// Store is an in-memory JobStore. A single mutex guards all state; every
// public operation is a single critical section, which keeps the acquire,
// fire and complete transitions atomic without row locks.
type Store struct {
	mu sync.Mutex

	logger   logging.Logger
	clk      clock.Clock
	signaler store.Signaler

	misfireThreshold time.Duration

	jobs      map[job.Key]*job.Detail
	triggers  map[job.TriggerKey]*triggerRecord
	calendars map[string]calendar.Calendar

	pausedTriggerGroups map[string]struct{}
	pausedJobGroups     map[string]struct{}
	blockedJobs         map[job.Key]struct{}
	fired               map[string]*firedRecord
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clk = c }
}

// WithMisfireThreshold overrides the misfire threshold.
func WithMisfireThreshold(d time.Duration) Option {
	return func(s *Store) { s.misfireThreshold = d }
}

// New builds an empty in-memory store.
func New(logger logging.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	s := &Store{
		logger:              logger,
		clk:                 clock.RealClock{},
		misfireThreshold:    DefaultMisfireThreshold,
		jobs:                make(map[job.Key]*job.Detail),
		triggers:            make(map[job.TriggerKey]*triggerRecord),
		calendars:           make(map[string]calendar.Calendar),
		pausedTriggerGroups: make(map[string]struct{}),
		pausedJobGroups:     make(map[string]struct{}),
		blockedJobs:         make(map[job.Key]struct{}),
		fired:               make(map[string]*firedRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Initialize(_ context.Context, signaler store.Signaler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signaler = signaler
	return nil
}

func (s *Store) SchedulerStarted(context.Context) error { return nil }
func (s *Store) SchedulerPaused()                       {}
func (s *Store) SchedulerResumed()                      {}

func (s *Store) Shutdown(context.Context) error {
	s.logger.Info("in-memory store shut down")
	return nil
}

// --- jobs ---

func (s *Store) StoreJob(_ context.Context, detail *job.Detail, replaceExisting bool) error {
	if err := detail.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeJobLocked(detail, replaceExisting)
}

func (s *Store) storeJobLocked(detail *job.Detail, replaceExisting bool) error {
	if _, ok := s.jobs[detail.Key]; ok && !replaceExisting {
		return store.NewAlreadyExistsError("job", detail.Key.String())
	}
	s.jobs[detail.Key] = detail.Clone()
	return nil
}

func (s *Store) StoreJobAndTrigger(_ context.Context, detail *job.Detail, t trigger.Operable) error {
	if err := detail.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storeJobLocked(detail, false); err != nil {
		return err
	}
	if err := s.storeTriggerLocked(t, false); err != nil {
		delete(s.jobs, detail.Key)
		return err
	}
	return nil
}

func (s *Store) RemoveJob(_ context.Context, key job.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[key]; !ok {
		return false, nil
	}
	for tk, rec := range s.triggers {
		if rec.trig.JobKey() == key {
			s.removeFiredFor(tk)
			delete(s.triggers, tk)
		}
	}
	delete(s.jobs, key)
	delete(s.blockedJobs, key)
	return true, nil
}

func (s *Store) RetrieveJob(_ context.Context, key job.Key) (*job.Detail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	detail, ok := s.jobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, key)
	}
	return detail.Clone(), nil
}

func (s *Store) CheckJobExists(_ context.Context, key job.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok, nil
}

// --- triggers ---

func (s *Store) StoreTrigger(_ context.Context, t trigger.Operable, replaceExisting bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeTriggerLocked(t, replaceExisting)
}

func (s *Store) storeTriggerLocked(t trigger.Operable, replaceExisting bool) error {
	key := t.Key()
	if _, ok := s.triggers[key]; ok && !replaceExisting {
		return store.NewAlreadyExistsError("trigger", key.String())
	}
	if _, ok := s.jobs[t.JobKey()]; !ok {
		return fmt.Errorf("trigger %s references %w: %s", key, store.ErrJobNotFound, t.JobKey())
	}
	state := trigger.StateWaiting
	if s.triggerGroupPausedLocked(key.Group) || s.jobGroupPausedLocked(t.JobKey().Group) {
		state = trigger.StatePaused
		if _, blocked := s.blockedJobs[t.JobKey()]; blocked {
			state = trigger.StatePausedBlocked
		}
	} else if _, blocked := s.blockedJobs[t.JobKey()]; blocked {
		state = trigger.StateBlocked
	}
	s.triggers[key] = &triggerRecord{trig: t.Clone(), state: state}
	return nil
}

func (s *Store) RemoveTrigger(ctx context.Context, key job.TriggerKey) (bool, error) {
	return s.removeTrigger(key, true)
}

func (s *Store) removeTrigger(key job.TriggerKey, removeOrphanedJob bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.triggers[key]
	if !ok {
		return false, nil
	}
	s.removeFiredFor(key)
	delete(s.triggers, key)

	if removeOrphanedJob {
		jobKey := rec.trig.JobKey()
		if detail, ok := s.jobs[jobKey]; ok && !detail.Durable && !s.jobHasTriggersLocked(jobKey) {
			delete(s.jobs, jobKey)
		}
	}
	return true, nil
}

func (s *Store) ReplaceTrigger(_ context.Context, key job.TriggerKey, t trigger.Operable) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.triggers[key]
	if !ok {
		return false, nil
	}
	if rec.trig.JobKey() != t.JobKey() {
		return false, fmt.Errorf("new trigger %s is not related to job %s", t.Key(), rec.trig.JobKey())
	}
	s.removeFiredFor(key)
	delete(s.triggers, key)
	if err := s.storeTriggerLocked(t, false); err != nil {
		// Restore the old trigger so a failed replace is not a delete.
		s.triggers[key] = rec
		return false, err
	}
	return true, nil
}

func (s *Store) RetrieveTrigger(_ context.Context, key job.TriggerKey) (trigger.Operable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.triggers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTriggerNotFound, key)
	}
	return rec.trig.Clone(), nil
}

func (s *Store) CheckTriggerExists(_ context.Context, key job.TriggerKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.triggers[key]
	return ok, nil
}

func (s *Store) GetTriggerState(_ context.Context, key job.TriggerKey) (trigger.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.triggers[key]
	if !ok {
		return trigger.StateNone, nil
	}
	return rec.state, nil
}

// --- calendars ---

func (s *Store) StoreCalendar(_ context.Context, name string, cal calendar.Calendar, replaceExisting, updateTriggers bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calendars[name]; ok && !replaceExisting {
		return store.NewAlreadyExistsError("calendar", name)
	}
	s.calendars[name] = cal.Clone()

	if !updateTriggers {
		return nil
	}
	var earliest *time.Time
	for _, rec := range s.triggers {
		if rec.trig.CalendarName() != name {
			continue
		}
		rec.trig.UpdateWithNewCalendar(cal, s.misfireThreshold)
		if next := rec.trig.NextFireTime(); next != nil && (earliest == nil || next.Before(*earliest)) {
			earliest = next
		}
	}
	if s.signaler != nil && earliest != nil {
		s.signaler.SignalSchedulingChange(earliest)
	}
	return nil
}

func (s *Store) RemoveCalendar(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.triggers {
		if rec.trig.CalendarName() == name {
			return false, fmt.Errorf("calendar %q is referenced by trigger %s and cannot be removed", name, rec.trig.Key())
		}
	}
	if _, ok := s.calendars[name]; !ok {
		return false, nil
	}
	delete(s.calendars, name)
	return true, nil
}

func (s *Store) RetrieveCalendar(_ context.Context, name string) (calendar.Calendar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cal, ok := s.calendars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrCalendarNotFound, name)
	}
	return cal.Clone(), nil
}

func (s *Store) CalendarExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.calendars[name]
	return ok, nil
}

func (s *Store) GetCalendarNames(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.calendars))
	for name := range s.calendars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// --- enumeration ---

func (s *Store) GetNumberOfJobs(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs), nil
}

func (s *Store) GetNumberOfTriggers(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers), nil
}

func (s *Store) GetNumberOfCalendars(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calendars), nil
}

func (s *Store) GetJobKeys(_ context.Context, group string) ([]job.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]job.Key, 0)
	for key := range s.jobs {
		if group == "" || key.Group == group {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

func (s *Store) GetTriggerKeys(_ context.Context, group string) ([]job.TriggerKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]job.TriggerKey, 0)
	for key := range s.triggers {
		if group == "" || key.Group == group {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

func (s *Store) GetJobGroupNames(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for key := range s.jobs {
		seen[key.Group] = struct{}{}
	}
	return sortedKeys(seen), nil
}

func (s *Store) GetTriggerGroupNames(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for key := range s.triggers {
		seen[key.Group] = struct{}{}
	}
	return sortedKeys(seen), nil
}

func (s *Store) GetTriggersForJob(_ context.Context, key job.Key) ([]trigger.Operable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]trigger.Operable, 0)
	for _, rec := range s.triggers {
		if rec.trig.JobKey() == key {
			out = append(out, rec.trig.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out, nil
}

// --- pause / resume ---

func (s *Store) PauseTrigger(_ context.Context, key job.TriggerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseTriggerLocked(key)
}

func (s *Store) pauseTriggerLocked(key job.TriggerKey) error {
	rec, ok := s.triggers[key]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrTriggerNotFound, key)
	}
	switch rec.state {
	case trigger.StateComplete, trigger.StatePaused, trigger.StatePausedBlocked:
		return nil
	case trigger.StateBlocked:
		rec.state = trigger.StatePausedBlocked
	default:
		rec.state = trigger.StatePaused
	}
	return nil
}

func (s *Store) PauseTriggerGroup(_ context.Context, group string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pausedTriggerGroups[group] = struct{}{}
	for key := range s.triggers {
		if key.Group == group {
			_ = s.pauseTriggerLocked(key)
		}
	}
	return []string{group}, nil
}

func (s *Store) PauseJob(_ context.Context, key job.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tk, rec := range s.triggers {
		if rec.trig.JobKey() == key {
			_ = s.pauseTriggerLocked(tk)
		}
	}
	return nil
}

func (s *Store) PauseJobGroup(_ context.Context, group string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pausedJobGroups[group] = struct{}{}
	for tk, rec := range s.triggers {
		if rec.trig.JobKey().Group == group {
			_ = s.pauseTriggerLocked(tk)
		}
	}
	return []string{group}, nil
}

func (s *Store) ResumeTrigger(_ context.Context, key job.TriggerKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeTriggerLocked(key)
}

func (s *Store) resumeTriggerLocked(key job.TriggerKey) error {
	rec, ok := s.triggers[key]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrTriggerNotFound, key)
	}
	if rec.state != trigger.StatePaused && rec.state != trigger.StatePausedBlocked {
		return nil
	}
	if _, blocked := s.blockedJobs[rec.trig.JobKey()]; blocked {
		rec.state = trigger.StateBlocked
	} else {
		rec.state = trigger.StateWaiting
	}
	s.applyMisfireLocked(rec)
	if s.signaler != nil {
		s.signaler.SignalSchedulingChange(rec.trig.NextFireTime())
	}
	return nil
}

func (s *Store) ResumeTriggerGroup(_ context.Context, group string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pausedTriggerGroups, group)
	for key := range s.triggers {
		if key.Group == group {
			_ = s.resumeTriggerLocked(key)
		}
	}
	return []string{group}, nil
}

func (s *Store) ResumeJob(_ context.Context, key job.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tk, rec := range s.triggers {
		if rec.trig.JobKey() == key {
			_ = s.resumeTriggerLocked(tk)
		}
	}
	return nil
}

func (s *Store) ResumeJobGroup(_ context.Context, group string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pausedJobGroups, group)
	for tk, rec := range s.triggers {
		if rec.trig.JobKey().Group == group {
			_ = s.resumeTriggerLocked(tk)
		}
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

func (s *Store) GetPausedTriggerGroups(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.pausedTriggerGroups), nil
}

// --- acquire / fire / complete ---

// AcquireNextTriggers implements the batch acquisition protocol. Misfired
// candidates get their misfire instruction applied in-line before being
// considered again.
func (s *Store) AcquireNextTriggers(_ context.Context, noLaterThan time.Time, maxCount int, timeWindow time.Duration) ([]trigger.Operable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxCount < 1 {
		maxCount = 1
	}
	type candidate struct {
		key  job.TriggerKey
		rec  *triggerRecord
		next time.Time
	}

	gather := func() []candidate {
		out := make([]candidate, 0)
		for key, rec := range s.triggers {
			if rec.state != trigger.StateWaiting {
				continue
			}
			next := rec.trig.NextFireTime()
			if next == nil {
				rec.state = trigger.StateComplete
				continue
			}
			out = append(out, candidate{key: key, rec: rec, next: *next})
		}
		sort.Slice(out, func(i, j int) bool {
			if !out[i].next.Equal(out[j].next) {
				return out[i].next.Before(out[j].next)
			}
			return out[i].rec.trig.Priority() > out[j].rec.trig.Priority()
		})
		return out
	}

	acquired := make([]trigger.Operable, 0, maxCount)
	jobsTaken := make(map[job.Key]struct{})
	var batchEnd time.Time
	deadline := noLaterThan.Add(timeWindow)

	for _, c := range gather() {
		if len(acquired) >= maxCount {
			break
		}
		if c.next.After(deadline) {
			break
		}
		if !batchEnd.IsZero() && c.next.After(batchEnd) {
			break
		}
		if s.applyMisfireLocked(c.rec) {
			// State or fire time changed; re-evaluate this candidate where
			// it now sorts.
			next := c.rec.trig.NextFireTime()
			if next == nil || c.rec.state != trigger.StateWaiting || next.After(deadline) {
				continue
			}
			c.next = *next
		}
		jobKey := c.rec.trig.JobKey()
		if detail, ok := s.jobs[jobKey]; ok && detail.ConcurrentExecutionDisallowed {
			if _, taken := jobsTaken[jobKey]; taken {
				continue
			}
			jobsTaken[jobKey] = struct{}{}
		}
		c.rec.state = trigger.StateAcquired
		if batchEnd.IsZero() {
			batchEnd = c.next.Add(timeWindow)
		}
		acquired = append(acquired, c.rec.trig.Clone())
	}
	return acquired, nil
}

func (s *Store) ReleaseAcquiredTrigger(_ context.Context, t trigger.Operable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.triggers[t.Key()]
	if !ok {
		return nil
	}
	if rec.state == trigger.StateAcquired {
		rec.state = trigger.StateWaiting
	}
	return nil
}

func (s *Store) TriggersFired(_ context.Context, triggers []trigger.Operable) ([]store.TriggerFiredResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]store.TriggerFiredResult, 0, len(triggers))
	for _, t := range triggers {
		rec, ok := s.triggers[t.Key()]
		if !ok || rec.state != trigger.StateAcquired {
			// Deleted or paused since acquisition; skip quietly.
			results = append(results, store.TriggerFiredResult{})
			continue
		}

		var cal calendar.Calendar
		if name := rec.trig.CalendarName(); name != "" {
			cal, ok = s.calendars[name]
			if !ok {
				results = append(results, store.TriggerFiredResult{
					Err: fmt.Errorf("trigger %s: %w: %s", t.Key(), store.ErrCalendarNotFound, name),
				})
				continue
			}
		}

		prev := rec.trig.PreviousFireTime()
		scheduled := rec.trig.NextFireTime()
		rec.trig.Triggered(cal)
		next := rec.trig.NextFireTime()

		detail := s.jobs[rec.trig.JobKey()]
		if detail == nil {
			results = append(results, store.TriggerFiredResult{
				Err: fmt.Errorf("trigger %s: %w: %s", t.Key(), store.ErrJobNotFound, rec.trig.JobKey()),
			})
			continue
		}

		if next == nil {
			rec.state = trigger.StateComplete
		} else {
			rec.state = trigger.StateExecuting
		}

		if detail.ConcurrentExecutionDisallowed {
			s.blockedJobs[detail.Key] = struct{}{}
			for tk, sibling := range s.triggers {
				if tk == t.Key() || sibling.trig.JobKey() != detail.Key {
					continue
				}
				switch sibling.state {
				case trigger.StateWaiting:
					sibling.state = trigger.StateBlocked
				case trigger.StatePaused:
					sibling.state = trigger.StatePausedBlocked
				}
			}
		}

		fireTime := s.clk.Now().UTC()
		fireID := uuid.NewString()
		s.fired[fireID] = &firedRecord{
			id:         fireID,
			triggerKey: t.Key(),
			jobKey:     detail.Key,
			firedAt:    fireTime,
		}

		var scheduledCopy *time.Time
		if scheduled != nil {
			v := *scheduled
			scheduledCopy = &v
		}
		results = append(results, store.TriggerFiredResult{
			Bundle: &store.TriggerFiredBundle{
				Trigger:           rec.trig.Clone(),
				JobDetail:         detail.Clone(),
				Calendar:          cal,
				FireTime:          fireTime,
				ScheduledFireTime: scheduledCopy,
				PrevFireTime:      prev,
				NextFireTime:      next,
			},
		})
	}
	return results, nil
}

func (s *Store) TriggeredJobComplete(_ context.Context, t trigger.Operable, detail *job.Detail, instruction trigger.CompletedExecutionInstruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobKey := t.JobKey()
	if detail != nil {
		if canonical, ok := s.jobs[detail.Key]; ok {
			if detail.PersistDataAfterExecution {
				canonical.Data = detail.Data.Clone()
			}
			if detail.ConcurrentExecutionDisallowed {
				delete(s.blockedJobs, detail.Key)
				for _, sibling := range s.triggers {
					if sibling.trig.JobKey() != detail.Key {
						continue
					}
					switch sibling.state {
					case trigger.StateBlocked:
						sibling.state = trigger.StateWaiting
					case trigger.StatePausedBlocked:
						sibling.state = trigger.StatePaused
					}
				}
				if s.signaler != nil {
					s.signaler.SignalSchedulingChange(nil)
				}
			}
		}
	}

	rec, ok := s.triggers[t.Key()]
	if ok {
		switch instruction {
		case trigger.InstructionDeleteTrigger:
			// The canonical trigger may have been advanced past the caller's
			// copy by another firing; only delete when truly exhausted or
			// when the caller saw the same next fire time.
			if next := rec.trig.NextFireTime(); next == nil || t.NextFireTime() == nil || next.Equal(*t.NextFireTime()) {
				s.removeFiredFor(t.Key())
				delete(s.triggers, t.Key())
			}
		case trigger.InstructionSetTriggerComplete:
			rec.state = trigger.StateComplete
			if s.signaler != nil {
				s.signaler.SignalSchedulingChange(nil)
			}
		case trigger.InstructionSetTriggerError:
			s.logger.Error("trigger set to error state", zap.String("trigger", t.Key().String()))
			rec.state = trigger.StateError
		case trigger.InstructionSetAllJobTriggersError:
			s.setAllJobTriggerStatesLocked(jobKey, trigger.StateError)
		case trigger.InstructionSetAllJobTriggersComplete:
			s.setAllJobTriggerStatesLocked(jobKey, trigger.StateComplete)
		default:
			if rec.state == trigger.StateExecuting {
				rec.state = trigger.StateWaiting
			}
		}
	}

	s.removeFiredFor(t.Key())
	return nil
}

func (s *Store) ClearAllSchedulingData(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[job.Key]*job.Detail)
	s.triggers = make(map[job.TriggerKey]*triggerRecord)
	s.calendars = make(map[string]calendar.Calendar)
	s.pausedTriggerGroups = make(map[string]struct{})
	s.pausedJobGroups = make(map[string]struct{})
	s.blockedJobs = make(map[job.Key]struct{})
	s.fired = make(map[string]*firedRecord)
	return nil
}

// --- internals ---

// applyMisfireLocked applies the trigger's misfire instruction when its next
// fire time has fallen more than the threshold behind the clock. Returns true
// when the trigger was updated.
func (s *Store) applyMisfireLocked(rec *triggerRecord) bool {
	next := rec.trig.NextFireTime()
	if next == nil {
		return false
	}
	now := s.clk.Now().UTC()
	if now.Sub(*next) <= s.misfireThreshold {
		return false
	}
	if rec.trig.MisfireInstruction() == trigger.MisfireIgnorePolicy {
		return false
	}

	var cal calendar.Calendar
	if name := rec.trig.CalendarName(); name != "" {
		cal = s.calendars[name]
	}
	if s.signaler != nil {
		s.signaler.NotifyTriggerMisfired(rec.trig)
	}
	rec.trig.UpdateAfterMisfire(cal)
	if rec.trig.NextFireTime() == nil {
		rec.state = trigger.StateComplete
		if s.signaler != nil {
			s.signaler.SignalSchedulingChange(nil)
		}
	}
	return true
}

func (s *Store) setAllJobTriggerStatesLocked(key job.Key, state trigger.State) {
	for _, rec := range s.triggers {
		if rec.trig.JobKey() == key {
			rec.state = state
		}
	}
}

func (s *Store) jobHasTriggersLocked(key job.Key) bool {
	for _, rec := range s.triggers {
		if rec.trig.JobKey() == key {
			return true
		}
	}
	return false
}

func (s *Store) removeFiredFor(key job.TriggerKey) {
	for id, fr := range s.fired {
		if fr.triggerKey == key {
			delete(s.fired, id)
		}
	}
}

func (s *Store) triggerGroupPausedLocked(group string) bool {
	_, ok := s.pausedTriggerGroups[group]
	return ok
}

func (s *Store) jobGroupPausedLocked(group string) bool {
	_, ok := s.pausedJobGroups[group]
	return ok
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
