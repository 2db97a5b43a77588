// Package scheduler hosts the scheduling loop, the bounded worker pool and
// the public facade that jobs, triggers and calendars are managed through.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
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

// Defaults applied by Config.withDefaults.
const (
	DefaultIdleWaitTime    = 30 * time.Second
	DefaultBatchMaxCount   = 1
	DefaultThreadCount     = 10
	DefaultBatchTimeWindow = 0
)

// Config carries the tunables of one scheduler instance.
type Config struct {
	InstanceName    string
	InstanceID      string
	ThreadCount     int
	IdleWaitTime    time.Duration
	BatchMaxCount   int
	BatchTimeWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.InstanceName == "" {
		c.InstanceName = "ChronexScheduler"
	}
	if c.InstanceID == "" || c.InstanceID == "AUTO" {
		c.InstanceID = fmt.Sprintf("%s-%s", c.InstanceName, uuid.NewString())
	}
	if c.ThreadCount == 0 {
		c.ThreadCount = DefaultThreadCount
	}
	if c.IdleWaitTime == 0 {
		c.IdleWaitTime = DefaultIdleWaitTime
	}
	if c.BatchMaxCount == 0 {
		c.BatchMaxCount = DefaultBatchMaxCount
	}
	return c
}

func (c Config) validate() error {
	if c.ThreadCount < 1 {
		return newConfigError("threadCount", "must be >= 1")
	}
	if c.IdleWaitTime < time.Millisecond {
		return newConfigError("idleWaitTime", "must be >= 1ms")
	}
	if c.BatchMaxCount < 1 {
		return newConfigError("batchMaxCount", "must be >= 1")
	}
	if c.BatchTimeWindow < 0 {
		return newConfigError("batchTimeWindow", "must be >= 0")
	}
	return nil
}

type lifecycle int

const (
	lifecycleCreated lifecycle = iota
	lifecycleStarted
	lifecycleStandby
	lifecycleShutdown
)

// Scheduler is the facade over the store, the loop and the worker pool.
type Scheduler struct {
	cfg       Config
	store     store.JobStore
	pool      *WorkerPool
	registry  *job.Registry
	listeners *ListenerMux
	logger    logging.Logger
	clk       clock.Clock
	sig       *signaler

	mu         sync.Mutex
	state      lifecycle
	startedAt  time.Time
	loopDone   chan struct{}
	loopCancel context.CancelFunc
	executing  map[string]*runShell

	executedCount atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger; a no-op logger is the default.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clk = c }
}

// WithRegistry sets the job factory registry; the package default registry
// is used otherwise.
func WithRegistry(r *job.Registry) Option {
	return func(s *Scheduler) { s.registry = r }
}

// New builds a scheduler over the given store.
func New(cfg Config, jobStore store.JobStore, opts ...Option) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if jobStore == nil {
		return nil, newConfigError("store", "must not be nil")
	}

	s := &Scheduler{
		cfg:       cfg,
		store:     jobStore,
		registry:  job.DefaultRegistry(),
		listeners: NewListenerMux(),
		logger:    logging.NewNoOpLogger(),
		clk:       clock.RealClock{},
		executing: make(map[string]*runShell),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sig = newSignaler(s.listeners)

	pool, err := NewWorkerPool(cfg.ThreadCount, s.logger)
	if err != nil {
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// ListenerManager exposes listener registration.
func (s *Scheduler) ListenerManager() *ListenerMux { return s.listeners }

// Start begins (or resumes, after Standby) trigger acquisition.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case lifecycleShutdown:
		return ErrShutdown
	case lifecycleStarted:
		return nil
	case lifecycleStandby:
		s.state = lifecycleStarted
		s.store.SchedulerResumed()
		s.sig.SignalSchedulingChange(nil)
		s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.SchedulerStarted() })
		return nil
	}

	if err := s.store.Initialize(ctx, s.sig); err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	if err := s.store.SchedulerStarted(ctx); err != nil {
		return fmt.Errorf("store startup: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	s.state = lifecycleStarted
	s.startedAt = s.clk.Now().UTC()
	go s.run(loopCtx)

	s.logger.Info("scheduler started",
		zap.String("instanceName", s.cfg.InstanceName),
		zap.String("instanceId", s.cfg.InstanceID),
		zap.Int("threadCount", s.cfg.ThreadCount))
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.SchedulerStarted() })
	return nil
}

// Standby stops firing triggers without releasing resources; Start resumes.
func (s *Scheduler) Standby() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != lifecycleStarted {
		return
	}
	s.state = lifecycleStandby
	s.store.SchedulerPaused()
	s.logger.Info("scheduler placed in standby")
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.SchedulerInStandbyMode() })
}

// InStandbyMode reports whether the scheduler is in standby.
func (s *Scheduler) InStandbyMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == lifecycleStandby
}

// IsStarted reports whether Start has been called and Shutdown has not.
func (s *Scheduler) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == lifecycleStarted || s.state == lifecycleStandby
}

// Shutdown halts the loop and the pool. With waitForJobsToComplete the call
// blocks until running jobs return; without it, running jobs implementing
// job.Interruptable are interrupted.
func (s *Scheduler) Shutdown(ctx context.Context, waitForJobsToComplete bool) error {
	s.mu.Lock()
	if s.state == lifecycleShutdown {
		s.mu.Unlock()
		return nil
	}
	wasRunning := s.loopCancel != nil
	s.state = lifecycleShutdown
	if s.loopCancel != nil {
		s.loopCancel()
	}
	done := s.loopDone
	s.mu.Unlock()

	s.sig.SignalSchedulingChange(nil)
	if wasRunning && done != nil {
		<-done
	}

	if !waitForJobsToComplete {
		if count := s.interruptAll(); count > 0 {
			s.logger.Info("interrupted running jobs", zap.Int("count", count))
		}
	}
	s.pool.Shutdown(waitForJobsToComplete)

	if err := s.store.Shutdown(ctx); err != nil {
		return fmt.Errorf("store shutdown: %w", err)
	}
	s.logger.Info("scheduler shut down", zap.Bool("waitedForJobs", waitForJobsToComplete))
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.SchedulerShutdown() })
	return nil
}

// --- scheduling operations ---

// ScheduleJob stores the job and its trigger and returns the first fire
// time.
func (s *Scheduler) ScheduleJob(ctx context.Context, detail *job.Detail, t trigger.Operable) (time.Time, error) {
	if detail == nil {
		return time.Time{}, fmt.Errorf("job detail must not be nil")
	}
	if err := detail.Validate(); err != nil {
		return time.Time{}, err
	}
	if t.JobKey().IsZero() {
		t.SetJobKey(detail.Key)
	} else if t.JobKey() != detail.Key {
		return time.Time{}, fmt.Errorf("trigger %s references job %s, not %s", t.Key(), t.JobKey(), detail.Key)
	}
	first, err := s.prepareTrigger(ctx, t)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.store.StoreJobAndTrigger(ctx, detail, t); err != nil {
		return time.Time{}, err
	}
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) {
		l.JobAdded(detail)
		l.JobScheduled(t)
	})
	s.sig.SignalSchedulingChange(&first)
	return first, nil
}

// ScheduleTrigger attaches a trigger to an already stored job.
func (s *Scheduler) ScheduleTrigger(ctx context.Context, t trigger.Operable) (time.Time, error) {
	first, err := s.prepareTrigger(ctx, t)
	if err != nil {
		return time.Time{}, err
	}
	if err := s.store.StoreTrigger(ctx, t, false); err != nil {
		return time.Time{}, err
	}
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobScheduled(t) })
	s.sig.SignalSchedulingChange(&first)
	return first, nil
}

// prepareTrigger validates the trigger, resolves its calendar and computes
// the first fire time.
func (s *Scheduler) prepareTrigger(ctx context.Context, t trigger.Operable) (time.Time, error) {
	t.WithClock(s.clk)
	if err := t.Validate(); err != nil {
		return time.Time{}, err
	}
	var cal calendar.Calendar
	if name := t.CalendarName(); name != "" {
		var err error
		cal, err = s.store.RetrieveCalendar(ctx, name)
		if err != nil {
			return time.Time{}, fmt.Errorf("trigger %s: %w", t.Key(), err)
		}
	}
	first := t.ComputeFirstFireTime(cal)
	if first == nil {
		return time.Time{}, fmt.Errorf("trigger %s will never fire", t.Key())
	}
	return *first, nil
}

// UnscheduleJob removes the trigger; the job is removed too when it is
// non-durable and orphaned.
func (s *Scheduler) UnscheduleJob(ctx context.Context, key job.TriggerKey) (bool, error) {
	removed, err := s.store.RemoveTrigger(ctx, key)
	if err != nil {
		return false, err
	}
	if removed {
		s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobUnscheduled(key) })
	}
	return removed, nil
}

// RescheduleJob swaps the trigger under key for newTrigger, which must point
// at the same job. Returns the new first fire time, or nil when key was not
// found.
func (s *Scheduler) RescheduleJob(ctx context.Context, key job.TriggerKey, newTrigger trigger.Operable) (*time.Time, error) {
	old, err := s.store.RetrieveTrigger(ctx, key)
	if err != nil {
		return nil, err
	}
	if newTrigger.JobKey().IsZero() {
		newTrigger.SetJobKey(old.JobKey())
	}
	first, err := s.prepareTrigger(ctx, newTrigger)
	if err != nil {
		return nil, err
	}
	replaced, err := s.store.ReplaceTrigger(ctx, key, newTrigger)
	if err != nil {
		return nil, err
	}
	if !replaced {
		return nil, nil
	}
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) {
		l.JobUnscheduled(key)
		l.JobScheduled(newTrigger)
	})
	s.sig.SignalSchedulingChange(&first)
	return &first, nil
}

// AddJob stores a job without a trigger; the job must be durable.
func (s *Scheduler) AddJob(ctx context.Context, detail *job.Detail, replace bool) error {
	if detail == nil {
		return fmt.Errorf("job detail must not be nil")
	}
	if !detail.Durable {
		return fmt.Errorf("job %s is not durable and cannot be stored without a trigger", detail.Key)
	}
	if err := s.store.StoreJob(ctx, detail, replace); err != nil {
		return err
	}
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobAdded(detail) })
	return nil
}

// DeleteJob removes the job and all of its triggers.
func (s *Scheduler) DeleteJob(ctx context.Context, key job.Key) (bool, error) {
	removed, err := s.store.RemoveJob(ctx, key)
	if err != nil {
		return false, err
	}
	if removed {
		s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.JobDeleted(key) })
	}
	return removed, nil
}

// TriggerJob fires the stored job once, now, with an optional data map.
func (s *Scheduler) TriggerJob(ctx context.Context, key job.Key, data job.DataMap) error {
	detail, err := s.store.RetrieveJob(ctx, key)
	if err != nil {
		return err
	}
	t := trigger.NewBuilder().
		WithIdentity(fmt.Sprintf("MT_%s", uuid.NewString()), key.Group).
		ForJob(detail.Key).
		UsingJobDataMap(data).
		WithClock(s.clk).
		Build()
	if _, err := s.prepareTrigger(ctx, t); err != nil {
		return err
	}
	if err := s.store.StoreTrigger(ctx, t, false); err != nil {
		return err
	}
	s.sig.SignalSchedulingChange(t.NextFireTime())
	return nil
}

// --- pause / resume ---

func (s *Scheduler) PauseTrigger(ctx context.Context, key job.TriggerKey) error {
	if err := s.store.PauseTrigger(ctx, key); err != nil {
		return err
	}
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.TriggerPaused(key) })
	return nil
}

func (s *Scheduler) ResumeTrigger(ctx context.Context, key job.TriggerKey) error {
	if err := s.store.ResumeTrigger(ctx, key); err != nil {
		return err
	}
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.TriggerResumed(key) })
	return nil
}

func (s *Scheduler) PauseJob(ctx context.Context, key job.Key) error {
	return s.store.PauseJob(ctx, key)
}

func (s *Scheduler) ResumeJob(ctx context.Context, key job.Key) error {
	return s.store.ResumeJob(ctx, key)
}

func (s *Scheduler) PauseTriggerGroup(ctx context.Context, group string) ([]string, error) {
	return s.store.PauseTriggerGroup(ctx, group)
}

func (s *Scheduler) ResumeTriggerGroup(ctx context.Context, group string) ([]string, error) {
	return s.store.ResumeTriggerGroup(ctx, group)
}

func (s *Scheduler) PauseAll(ctx context.Context) error {
	return s.store.PauseAll(ctx)
}

func (s *Scheduler) ResumeAll(ctx context.Context) error {
	return s.store.ResumeAll(ctx)
}

// --- calendars ---

func (s *Scheduler) AddCalendar(ctx context.Context, name string, cal calendar.Calendar, replace, updateTriggers bool) error {
	return s.store.StoreCalendar(ctx, name, cal, replace, updateTriggers)
}

func (s *Scheduler) DeleteCalendar(ctx context.Context, name string) (bool, error) {
	return s.store.RemoveCalendar(ctx, name)
}

func (s *Scheduler) GetCalendar(ctx context.Context, name string) (calendar.Calendar, error) {
	return s.store.RetrieveCalendar(ctx, name)
}

func (s *Scheduler) GetCalendarNames(ctx context.Context) ([]string, error) {
	return s.store.GetCalendarNames(ctx)
}

// --- introspection ---

func (s *Scheduler) GetJobDetail(ctx context.Context, key job.Key) (*job.Detail, error) {
	return s.store.RetrieveJob(ctx, key)
}

func (s *Scheduler) GetTrigger(ctx context.Context, key job.TriggerKey) (trigger.Operable, error) {
	return s.store.RetrieveTrigger(ctx, key)
}

func (s *Scheduler) GetTriggerState(ctx context.Context, key job.TriggerKey) (trigger.State, error) {
	return s.store.GetTriggerState(ctx, key)
}

func (s *Scheduler) GetTriggersOfJob(ctx context.Context, key job.Key) ([]trigger.Operable, error) {
	return s.store.GetTriggersForJob(ctx, key)
}

func (s *Scheduler) GetJobKeys(ctx context.Context, group string) ([]job.Key, error) {
	return s.store.GetJobKeys(ctx, group)
}

func (s *Scheduler) GetTriggerKeys(ctx context.Context, group string) ([]job.TriggerKey, error) {
	return s.store.GetTriggerKeys(ctx, group)
}

// GetCurrentlyExecutingJobs snapshots the contexts of jobs running on this
// instance.
func (s *Scheduler) GetCurrentlyExecutingJobs() []*job.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*job.Context, 0, len(s.executing))
	for _, shell := range s.executing {
		out = append(out, shell.jctx)
	}
	return out
}

// Interrupt fans Interrupt out to all executing instances of the job on this
// node. Returns the number of instances interrupted.
func (s *Scheduler) Interrupt(key job.Key) int {
	s.mu.Lock()
	shells := make([]*runShell, 0)
	for _, shell := range s.executing {
		if shell.bundle.JobDetail.Key == key {
			shells = append(shells, shell)
		}
	}
	s.mu.Unlock()

	count := 0
	for _, shell := range shells {
		if in, ok := shell.instance.(job.Interruptable); ok {
			if err := in.Interrupt(); err != nil {
				s.logger.Warn("job interrupt failed",
					zap.String("job", key.String()), zap.Error(err))
				continue
			}
			count++
		}
	}
	return count
}

// Clear wipes all jobs, triggers and calendars.
func (s *Scheduler) Clear(ctx context.Context) error {
	if err := s.store.ClearAllSchedulingData(ctx); err != nil {
		return err
	}
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.SchedulingDataCleared() })
	return nil
}

// Metadata is a point-in-time summary of the scheduler instance.
type Metadata struct {
	InstanceName         string
	InstanceID           string
	Started              bool
	InStandbyMode        bool
	Shutdown             bool
	StartedAt            time.Time
	ThreadCount          int
	NumberOfJobsExecuted int64
}

// GetMetadata snapshots the instance state.
func (s *Scheduler) GetMetadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Metadata{
		InstanceName:         s.cfg.InstanceName,
		InstanceID:           s.cfg.InstanceID,
		Started:              s.state == lifecycleStarted || s.state == lifecycleStandby,
		InStandbyMode:        s.state == lifecycleStandby,
		Shutdown:             s.state == lifecycleShutdown,
		StartedAt:            s.startedAt,
		ThreadCount:          s.cfg.ThreadCount,
		NumberOfJobsExecuted: s.executedCount.Load(),
	}
}

// --- internals ---

func (s *Scheduler) trackExecution(shell *runShell) {
	s.mu.Lock()
	s.executing[shell.fireID] = shell
	s.mu.Unlock()
}

func (s *Scheduler) untrackExecution(fireID string) {
	s.mu.Lock()
	delete(s.executing, fireID)
	s.mu.Unlock()
	s.executedCount.Add(1)
}

func (s *Scheduler) interruptAll() int {
	s.mu.Lock()
	shells := make([]*runShell, 0, len(s.executing))
	for _, shell := range s.executing {
		shells = append(shells, shell)
	}
	s.mu.Unlock()

	count := 0
	for _, shell := range shells {
		if in, ok := shell.instance.(job.Interruptable); ok {
			if err := in.Interrupt(); err == nil {
				count++
			}
		}
	}
	return count
}

func (s *Scheduler) notifyError(msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	s.listeners.notifySchedulerListeners(func(l SchedulerListener) { l.SchedulerError(msg, err) })
}
