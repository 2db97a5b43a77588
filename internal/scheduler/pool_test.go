package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkerPool_RejectsInvalidSize(t *testing.T) {
	_, err := NewWorkerPool(0, nil)
	assert.Error(t, err)

	p, err := NewWorkerPool(3, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Size())
}

func TestWorkerPool_RunInThreadTracksBusyCount(t *testing.T) {
	p, err := NewWorkerPool(2, nil)
	require.NoError(t, err)

	block := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	require.True(t, p.RunInThread(func() { defer wg.Done(); <-block }))
	require.True(t, p.RunInThread(func() { defer wg.Done(); <-block }))

	// Saturated; a third task is refused.
	assert.False(t, p.RunInThread(func() {}))

	close(block)
	wg.Wait()
	p.Shutdown(true)
}

func TestWorkerPool_BlockForAvailableThreadsWaitsForIdleWorker(t *testing.T) {
	p, err := NewWorkerPool(1, nil)
	require.NoError(t, err)

	block := make(chan struct{})
	require.True(t, p.RunInThread(func() { <-block }))

	got := make(chan int, 1)
	go func() { got <- p.BlockForAvailableThreads() }()

	select {
	case n := <-got:
		t.Fatalf("BlockForAvailableThreads returned %d while the pool was saturated", n)
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case n := <-got:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("BlockForAvailableThreads did not wake after the worker freed")
	}
	p.Shutdown(true)
}

func TestWorkerPool_ShutdownUnblocksWaitersAndRefusesWork(t *testing.T) {
	p, err := NewWorkerPool(1, nil)
	require.NoError(t, err)

	block := make(chan struct{})
	require.True(t, p.RunInThread(func() { <-block }))

	got := make(chan int, 1)
	go func() { got <- p.BlockForAvailableThreads() }()

	p.Shutdown(false)
	select {
	case n := <-got:
		assert.Zero(t, n, "shutdown reports no available workers")
	case <-time.After(time.Second):
		t.Fatal("BlockForAvailableThreads did not wake on shutdown")
	}
	assert.False(t, p.RunInThread(func() {}))
	close(block)
}

func TestWorkerPool_ShutdownWaitsForRunningTasks(t *testing.T) {
	p, err := NewWorkerPool(1, nil)
	require.NoError(t, err)

	finished := false
	release := make(chan struct{})
	require.True(t, p.RunInThread(func() {
		<-release
		finished = true
	}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	p.Shutdown(true)

	assert.True(t, finished, "Shutdown(true) returns only after tasks complete")
}

func TestWorkerPool_RecoversFromPanickingTask(t *testing.T) {
	p, err := NewWorkerPool(1, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	require.True(t, p.RunInThread(func() {
		defer close(done)
		panic("boom")
	}))
	<-done

	// The worker is back; the pool still accepts work.
	ran := make(chan struct{})
	assert.Eventually(t, func() bool {
		return p.RunInThread(func() { close(ran) })
	}, time.Second, 5*time.Millisecond)
	<-ran
	p.Shutdown(true)
}
