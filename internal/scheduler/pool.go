package scheduler

import (
	"sync"

	"go.uber.org/zap"

	"github.com/chronex-io/chronex/internal/logging"
)

// WorkerPool bounds job execution to a fixed number of concurrent workers.
// Each accepted task runs on its own goroutine; the pool only tracks the
// busy count, which is how a bounded pool is expressed without pinning OS
// threads.
type WorkerPool struct {
	size   int
	logger logging.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	busy     int
	shutdown bool
	wg       sync.WaitGroup
}

// NewWorkerPool builds a pool with size workers. Size must be >= 1.
func NewWorkerPool(size int, logger logging.Logger) (*WorkerPool, error) {
	if size < 1 {
		return nil, newConfigError("threadCount", "must be >= 1")
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	p := &WorkerPool{size: size, logger: logger}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// Size returns the configured worker count.
func (p *WorkerPool) Size() int { return p.size }

// BlockForAvailableThreads blocks until at least one worker is idle and
// returns the idle count. Returns 0 once the pool is shut down.
func (p *WorkerPool) BlockForAvailableThreads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.busy >= p.size && !p.shutdown {
		p.cond.Wait()
	}
	if p.shutdown {
		return 0
	}
	return p.size - p.busy
}

// RunInThread hands task to an idle worker. Returns false when the pool is
// shut down or saturated; callers pair it with BlockForAvailableThreads so
// saturation only happens on a race.
func (p *WorkerPool) RunInThread(task func()) bool {
	p.mu.Lock()
	if p.shutdown || p.busy >= p.size {
		p.mu.Unlock()
		return false
	}
	p.busy++
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker task panicked", zap.Any("panic", r))
			}
			p.mu.Lock()
			p.busy--
			p.cond.Broadcast()
			p.mu.Unlock()
			p.wg.Done()
		}()
		task()
	}()
	return true
}

// Shutdown stops accepting tasks. With waitForJobsToComplete it blocks until
// all running tasks return; otherwise running tasks are abandoned to finish
// on their own.
func (p *WorkerPool) Shutdown(waitForJobsToComplete bool) {
	p.mu.Lock()
	p.shutdown = true
	p.cond.Broadcast()
	p.mu.Unlock()
	if waitForJobsToComplete {
		p.wg.Wait()
	}
}
