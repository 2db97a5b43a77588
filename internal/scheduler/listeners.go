package scheduler

import (
	"sync"

	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/trigger"
)

// TriggerListener observes the lifecycle of trigger firings. VetoJobExecution
// runs after TriggerFired; returning true cancels the execution.
type TriggerListener interface {
	Name() string
	TriggerFired(t trigger.Trigger, jctx *job.Context)
	VetoJobExecution(t trigger.Trigger, jctx *job.Context) bool
	TriggerMisfired(t trigger.Trigger)
	TriggerComplete(t trigger.Trigger, jctx *job.Context, instruction trigger.CompletedExecutionInstruction)
}

// JobListener observes job executions.
type JobListener interface {
	Name() string
	JobToBeExecuted(jctx *job.Context)
	JobExecutionVetoed(jctx *job.Context)
	JobWasExecuted(jctx *job.Context, jobErr error)
}

// SchedulerListener observes scheduler-wide events.
type SchedulerListener interface {
	JobScheduled(t trigger.Trigger)
	JobUnscheduled(key job.TriggerKey)
	TriggerFinalized(t trigger.Trigger)
	TriggerPaused(key job.TriggerKey)
	TriggerResumed(key job.TriggerKey)
	JobAdded(detail *job.Detail)
	JobDeleted(key job.Key)
	SchedulerError(msg string, err error)
	SchedulerStarted()
	SchedulerInStandbyMode()
	SchedulerShutdown()
	SchedulingDataCleared()
}

// ListenerMux fans events out to registered listeners in registration order.
// Listener callbacks run on the calling goroutine; a slow listener slows the
// pipeline, which is the contract.
type ListenerMux struct {
	mu        sync.RWMutex
	trigger   []TriggerListener
	job       []JobListener
	scheduler []SchedulerListener
}

// NewListenerMux returns an empty multiplexer.
func NewListenerMux() *ListenerMux { return &ListenerMux{} }

func (m *ListenerMux) AddTriggerListener(l TriggerListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trigger = append(m.trigger, l)
}

func (m *ListenerMux) RemoveTriggerListener(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.trigger {
		if l.Name() == name {
			m.trigger = append(m.trigger[:i], m.trigger[i+1:]...)
			return true
		}
	}
	return false
}

func (m *ListenerMux) AddJobListener(l JobListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.job = append(m.job, l)
}

func (m *ListenerMux) RemoveJobListener(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.job {
		if l.Name() == name {
			m.job = append(m.job[:i], m.job[i+1:]...)
			return true
		}
	}
	return false
}

func (m *ListenerMux) AddSchedulerListener(l SchedulerListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduler = append(m.scheduler, l)
}

func (m *ListenerMux) triggerListeners() []TriggerListener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TriggerListener(nil), m.trigger...)
}

func (m *ListenerMux) jobListeners() []JobListener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]JobListener(nil), m.job...)
}

func (m *ListenerMux) schedulerListeners() []SchedulerListener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SchedulerListener(nil), m.scheduler...)
}

func (m *ListenerMux) notifyTriggerFired(t trigger.Trigger, jctx *job.Context) {
	for _, l := range m.triggerListeners() {
		l.TriggerFired(t, jctx)
	}
}

// notifyVeto returns true as soon as any listener vetoes; listeners after
// the vetoing one are not consulted.
func (m *ListenerMux) notifyVeto(t trigger.Trigger, jctx *job.Context) bool {
	for _, l := range m.triggerListeners() {
		if l.VetoJobExecution(t, jctx) {
			return true
		}
	}
	return false
}

func (m *ListenerMux) notifyTriggerMisfired(t trigger.Trigger) {
	for _, l := range m.triggerListeners() {
		l.TriggerMisfired(t)
	}
}

func (m *ListenerMux) notifyTriggerComplete(t trigger.Trigger, jctx *job.Context, instruction trigger.CompletedExecutionInstruction) {
	for _, l := range m.triggerListeners() {
		l.TriggerComplete(t, jctx, instruction)
	}
}

func (m *ListenerMux) notifyJobToBeExecuted(jctx *job.Context) {
	for _, l := range m.jobListeners() {
		l.JobToBeExecuted(jctx)
	}
}

func (m *ListenerMux) notifyJobExecutionVetoed(jctx *job.Context) {
	for _, l := range m.jobListeners() {
		l.JobExecutionVetoed(jctx)
	}
}

func (m *ListenerMux) notifyJobWasExecuted(jctx *job.Context, jobErr error) {
	for _, l := range m.jobListeners() {
		l.JobWasExecuted(jctx, jobErr)
	}
}

func (m *ListenerMux) notifySchedulerListeners(fn func(SchedulerListener)) {
	for _, l := range m.schedulerListeners() {
		fn(l)
	}
}

// TriggerListenerBase is a no-op TriggerListener for embedding.
type TriggerListenerBase struct{}

func (TriggerListenerBase) TriggerFired(trigger.Trigger, *job.Context)          {}
func (TriggerListenerBase) VetoJobExecution(trigger.Trigger, *job.Context) bool { return false }
func (TriggerListenerBase) TriggerMisfired(trigger.Trigger)                     {}
func (TriggerListenerBase) TriggerComplete(trigger.Trigger, *job.Context, trigger.CompletedExecutionInstruction) {
}

// JobListenerBase is a no-op JobListener for embedding.
type JobListenerBase struct{}

func (JobListenerBase) JobToBeExecuted(*job.Context)       {}
func (JobListenerBase) JobExecutionVetoed(*job.Context)    {}
func (JobListenerBase) JobWasExecuted(*job.Context, error) {}

// SchedulerListenerBase is a no-op SchedulerListener for embedding.
type SchedulerListenerBase struct{}

func (SchedulerListenerBase) JobScheduled(trigger.Trigger)     {}
func (SchedulerListenerBase) JobUnscheduled(job.TriggerKey)    {}
func (SchedulerListenerBase) TriggerFinalized(trigger.Trigger) {}
func (SchedulerListenerBase) TriggerPaused(job.TriggerKey)     {}
func (SchedulerListenerBase) TriggerResumed(job.TriggerKey)    {}
func (SchedulerListenerBase) JobAdded(*job.Detail)             {}
func (SchedulerListenerBase) JobDeleted(job.Key)               {}
func (SchedulerListenerBase) SchedulerError(string, error)     {}
func (SchedulerListenerBase) SchedulerStarted()                {}
func (SchedulerListenerBase) SchedulerInStandbyMode()          {}
func (SchedulerListenerBase) SchedulerShutdown()               {}
func (SchedulerListenerBase) SchedulingDataCleared()           {}
