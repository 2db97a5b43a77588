package fakes

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/chronex-io/chronex/internal/job"
)

// ErrInterrupted is returned by WaitingJob executions that were interrupted.
var ErrInterrupted = errors.New("interrupted")

// CountingJob records every execution and optionally fails.
type CountingJob struct {
	mu       sync.Mutex
	contexts []*job.Context
	done     chan struct{}

	// Err, when set, is returned from Execute.
	Err error
}

// NewCountingJob returns a counting job whose Done channel receives one
// signal per execution.
func NewCountingJob() *CountingJob {
	return &CountingJob{done: make(chan struct{}, 64)}
}

func (j *CountingJob) Execute(_ context.Context, jctx *job.Context) error {
	j.mu.Lock()
	j.contexts = append(j.contexts, jctx)
	j.mu.Unlock()
	select {
	case j.done <- struct{}{}:
	default:
	}
	return j.Err
}

// Done signals once per completed execution.
func (j *CountingJob) Done() <-chan struct{} { return j.done }

// Count returns the number of executions so far.
func (j *CountingJob) Count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.contexts)
}

// Contexts snapshots the execution contexts seen so far.
func (j *CountingJob) Contexts() []*job.Context {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*job.Context(nil), j.contexts...)
}

// WaitingJob blocks in Execute until released or interrupted.
type WaitingJob struct {
	started   chan struct{}
	release   chan struct{}
	interrupt chan struct{}

	interrupted atomic.Bool
	releaseOnce sync.Once
	intOnce     sync.Once
}

func NewWaitingJob() *WaitingJob {
	return &WaitingJob{
		started:   make(chan struct{}, 64),
		release:   make(chan struct{}),
		interrupt: make(chan struct{}),
	}
}

func (j *WaitingJob) Execute(ctx context.Context, _ *job.Context) error {
	select {
	case j.started <- struct{}{}:
	default:
	}
	select {
	case <-j.release:
		return nil
	case <-j.interrupt:
		return ErrInterrupted
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt satisfies job.Interruptable.
func (j *WaitingJob) Interrupt() error {
	j.interrupted.Store(true)
	j.intOnce.Do(func() { close(j.interrupt) })
	return nil
}

// Started signals once per execution entering its blocking wait.
func (j *WaitingJob) Started() <-chan struct{} { return j.started }

// Release lets every blocked execution return nil.
func (j *WaitingJob) Release() { j.releaseOnce.Do(func() { close(j.release) }) }

// WasInterrupted reports whether Interrupt was called.
func (j *WaitingJob) WasInterrupted() bool { return j.interrupted.Load() }
