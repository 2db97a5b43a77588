package fakes

import (
	"sync"
	"time"

	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/trigger"
)

// RecordingSignaler captures scheduling-change signals for store tests.
type RecordingSignaler struct {
	mu       sync.Mutex
	signals  []*time.Time
	misfired []job.TriggerKey
}

func NewRecordingSignaler() *RecordingSignaler { return &RecordingSignaler{} }

func (r *RecordingSignaler) SignalSchedulingChange(candidate *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if candidate != nil {
		c := *candidate
		candidate = &c
	}
	r.signals = append(r.signals, candidate)
}

func (r *RecordingSignaler) NotifyTriggerMisfired(t trigger.Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misfired = append(r.misfired, t.Key())
}

// Signals snapshots the candidate times seen so far.
func (r *RecordingSignaler) Signals() []*time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*time.Time(nil), r.signals...)
}

// Misfired snapshots the keys of triggers reported as misfired.
func (r *RecordingSignaler) Misfired() []job.TriggerKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]job.TriggerKey(nil), r.misfired...)
}

// RecordingTriggerListener records trigger lifecycle callbacks. Veto controls
// the VetoJobExecution answer.
type RecordingTriggerListener struct {
	ListenerName string
	Veto         bool

	mu        sync.Mutex
	fired     []job.TriggerKey
	misfired  []job.TriggerKey
	completed []job.TriggerKey
}

func (l *RecordingTriggerListener) Name() string {
	if l.ListenerName == "" {
		return "recording-trigger-listener"
	}
	return l.ListenerName
}

func (l *RecordingTriggerListener) TriggerFired(t trigger.Trigger, _ *job.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fired = append(l.fired, t.Key())
}

func (l *RecordingTriggerListener) VetoJobExecution(trigger.Trigger, *job.Context) bool {
	return l.Veto
}

func (l *RecordingTriggerListener) TriggerMisfired(t trigger.Trigger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.misfired = append(l.misfired, t.Key())
}

func (l *RecordingTriggerListener) TriggerComplete(t trigger.Trigger, _ *job.Context, _ trigger.CompletedExecutionInstruction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, t.Key())
}

func (l *RecordingTriggerListener) Fired() []job.TriggerKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]job.TriggerKey(nil), l.fired...)
}

func (l *RecordingTriggerListener) Completed() []job.TriggerKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]job.TriggerKey(nil), l.completed...)
}

// RecordingJobListener records job lifecycle callbacks.
type RecordingJobListener struct {
	ListenerName string

	mu       sync.Mutex
	toRun    []job.Key
	vetoed   []job.Key
	executed []job.Key
	errs     []error
}

func (l *RecordingJobListener) Name() string {
	if l.ListenerName == "" {
		return "recording-job-listener"
	}
	return l.ListenerName
}

func (l *RecordingJobListener) JobToBeExecuted(jctx *job.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.toRun = append(l.toRun, jctx.Detail.Key)
}

func (l *RecordingJobListener) JobExecutionVetoed(jctx *job.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.vetoed = append(l.vetoed, jctx.Detail.Key)
}

func (l *RecordingJobListener) JobWasExecuted(jctx *job.Context, jobErr error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.executed = append(l.executed, jctx.Detail.Key)
	l.errs = append(l.errs, jobErr)
}

func (l *RecordingJobListener) Executed() []job.Key {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]job.Key(nil), l.executed...)
}

func (l *RecordingJobListener) Vetoed() []job.Key {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]job.Key(nil), l.vetoed...)
}

func (l *RecordingJobListener) Errors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}
