package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/store/memstore"
	"github.com/chronex-io/chronex/internal/testutil/fakes"
	"github.com/chronex-io/chronex/internal/trigger"
)

const testWait = 3 * time.Second

// newTestScheduler wires a scheduler over a fresh in-memory store with an
// isolated registry and fast loop timings.
func newTestScheduler(t *testing.T) (*Scheduler, *job.Registry) {
	t.Helper()
	registry := job.NewRegistry()
	sched, err := New(Config{
		InstanceName:  "test-scheduler",
		ThreadCount:   4,
		IdleWaitTime:  25 * time.Millisecond,
		BatchMaxCount: 5,
	}, memstore.New(nil), WithRegistry(registry))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sched.Shutdown(context.Background(), false)
	})
	return sched, registry
}

func oneShot(name string, jobKey job.Key) trigger.Operable {
	return trigger.NewBuilder().
		WithIdentity(name, "tests").
		ForJob(jobKey).
		Build()
}

func awaitSignal(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testWait):
		t.Fatal(msg)
	}
}

func TestScheduler_ScheduleJobFiresOnce(t *testing.T) {
	ctx := context.Background()
	sched, registry := newTestScheduler(t)

	counting := fakes.NewCountingJob()
	registry.Register("counting", func() job.Job { return counting })
	require.NoError(t, sched.Start(ctx))

	detail := job.NewBuilder().OfType("counting").WithIdentity("once", "tests").Build()
	first, err := sched.ScheduleJob(ctx, detail, oneShot("once-now", detail.Key))
	require.NoError(t, err)
	assert.False(t, first.IsZero())

	awaitSignal(t, counting.Done(), "job did not execute")

	ctxs := counting.Contexts()
	require.Len(t, ctxs, 1)
	assert.Equal(t, detail.Key, ctxs[0].Detail.Key)
	assert.Equal(t, job.NewTriggerKeyWithGroup("once-now", "tests"), ctxs[0].TriggerKey)
}

func TestScheduler_RepeatingTriggerFiresRepeatCountPlusOneTimes(t *testing.T) {
	ctx := context.Background()
	sched, registry := newTestScheduler(t)

	counting := fakes.NewCountingJob()
	registry.Register("counting", func() job.Job { return counting })
	require.NoError(t, sched.Start(ctx))

	detail := job.NewBuilder().OfType("counting").WithIdentity("repeating", "tests").Build()
	tr := trigger.NewBuilder().
		WithIdentity("every-20ms", "tests").
		ForJob(detail.Key).
		WithSchedule(trigger.NewSimpleSchedule().WithInterval(20 * time.Millisecond).WithRepeatCount(2)).
		Build()
	_, err := sched.ScheduleJob(ctx, detail, tr)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		awaitSignal(t, counting.Done(), "missing execution")
	}
	assert.Eventually(t, func() bool { return counting.Count() == 3 }, testWait, 10*time.Millisecond)
}

func TestScheduler_VetoedExecutionNeverRuns(t *testing.T) {
	ctx := context.Background()
	sched, registry := newTestScheduler(t)

	counting := fakes.NewCountingJob()
	registry.Register("counting", func() job.Job { return counting })

	veto := &fakes.RecordingTriggerListener{Veto: true}
	jl := &fakes.RecordingJobListener{}
	sched.ListenerManager().AddTriggerListener(veto)
	sched.ListenerManager().AddJobListener(jl)
	require.NoError(t, sched.Start(ctx))

	detail := job.NewBuilder().OfType("counting").WithIdentity("vetoed", "tests").Build()
	_, err := sched.ScheduleJob(ctx, detail, oneShot("vetoed-now", detail.Key))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(jl.Vetoed()) == 1 }, testWait, 10*time.Millisecond)
	assert.Zero(t, counting.Count())
	assert.NotEmpty(t, veto.Fired(), "the fired callback still runs before the veto")
}

func TestScheduler_TriggerJobFiresDurableJobWithData(t *testing.T) {
	ctx := context.Background()
	sched, registry := newTestScheduler(t)

	counting := fakes.NewCountingJob()
	registry.Register("counting", func() job.Job { return counting })
	require.NoError(t, sched.Start(ctx))

	detail := job.NewBuilder().OfType("counting").WithIdentity("durable", "tests").StoreDurably().Build()
	require.NoError(t, sched.AddJob(ctx, detail, false))

	data := job.NewDataMap()
	data.Put("requested_by", "operator")
	require.NoError(t, sched.TriggerJob(ctx, detail.Key, data))

	awaitSignal(t, counting.Done(), "manually triggered job did not execute")

	ctxs := counting.Contexts()
	require.Len(t, ctxs, 1)
	got, ok := ctxs[0].Data.GetString("requested_by")
	require.True(t, ok)
	assert.Equal(t, "operator", got)
}

func TestScheduler_TriggerDataOverlaysJobDataInContext(t *testing.T) {
	ctx := context.Background()
	sched, registry := newTestScheduler(t)

	counting := fakes.NewCountingJob()
	registry.Register("counting", func() job.Job { return counting })
	require.NoError(t, sched.Start(ctx))

	jobData := job.NewDataMap()
	jobData.Put("source", "detail")
	jobData.Put("retries", 3)
	detail := job.NewBuilder().
		OfType("counting").
		WithIdentity("layered", "tests").
		UsingJobDataMap(jobData).
		Build()

	tr := trigger.NewBuilder().
		WithIdentity("layered-now", "tests").
		ForJob(detail.Key).
		UsingJobData("source", "trigger").
		Build()
	_, err := sched.ScheduleJob(ctx, detail, tr)
	require.NoError(t, err)

	awaitSignal(t, counting.Done(), "job did not execute")

	ctxs := counting.Contexts()
	require.Len(t, ctxs, 1)

	// Trigger-level data wins conflicts; the rest of the job map stays.
	src, ok := ctxs[0].Data.GetString("source")
	require.True(t, ok)
	assert.Equal(t, "trigger", src)
	retries, ok := ctxs[0].Data.GetInt("retries")
	require.True(t, ok)
	assert.Equal(t, int64(3), retries)
}

func TestScheduler_AddJobRequiresDurability(t *testing.T) {
	ctx := context.Background()
	sched, _ := newTestScheduler(t)

	detail := job.NewBuilder().OfType("counting").WithIdentity("volatile", "tests").Build()
	err := sched.AddJob(ctx, detail, false)
	assert.Error(t, err)
}

func TestScheduler_ScheduleJobRejectsForeignJobKey(t *testing.T) {
	ctx := context.Background()
	sched, _ := newTestScheduler(t)

	detail := job.NewBuilder().OfType("counting").WithIdentity("mine", "tests").Build()
	tr := oneShot("stranger", job.NewKeyWithGroup("other", "tests"))
	_, err := sched.ScheduleJob(ctx, detail, tr)
	assert.Error(t, err)
}

func TestScheduler_StandbySuspendsFiring(t *testing.T) {
	ctx := context.Background()
	sched, registry := newTestScheduler(t)

	counting := fakes.NewCountingJob()
	registry.Register("counting", func() job.Job { return counting })
	require.NoError(t, sched.Start(ctx))
	sched.Standby()
	require.True(t, sched.InStandbyMode())

	detail := job.NewBuilder().OfType("counting").WithIdentity("paused-node", "tests").Build()
	_, err := sched.ScheduleJob(ctx, detail, oneShot("while-standby", detail.Key))
	require.NoError(t, err)

	select {
	case <-counting.Done():
		t.Fatal("standby scheduler must not fire triggers")
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, sched.Start(ctx))
	awaitSignal(t, counting.Done(), "resumed scheduler did not fire the pending trigger")
}

func TestScheduler_InterruptReachesRunningJob(t *testing.T) {
	ctx := context.Background()
	sched, registry := newTestScheduler(t)

	waiting := fakes.NewWaitingJob()
	registry.Register("waiting", func() job.Job { return waiting })
	jl := &fakes.RecordingJobListener{}
	sched.ListenerManager().AddJobListener(jl)
	require.NoError(t, sched.Start(ctx))

	detail := job.NewBuilder().OfType("waiting").WithIdentity("stuck", "tests").Build()
	_, err := sched.ScheduleJob(ctx, detail, oneShot("stuck-now", detail.Key))
	require.NoError(t, err)

	awaitSignal(t, waiting.Started(), "job never started")
	assert.Len(t, sched.GetCurrentlyExecutingJobs(), 1)

	assert.Equal(t, 1, sched.Interrupt(detail.Key))
	assert.True(t, waiting.WasInterrupted())

	assert.Eventually(t, func() bool { return len(jl.Executed()) == 1 }, testWait, 10*time.Millisecond)
	require.Len(t, jl.Errors(), 1)
	assert.ErrorIs(t, jl.Errors()[0], fakes.ErrInterrupted)
	assert.Eventually(t, func() bool {
		return len(sched.GetCurrentlyExecutingJobs()) == 0
	}, testWait, 10*time.Millisecond)
}

func TestScheduler_MetadataTracksLifecycleAndExecutions(t *testing.T) {
	ctx := context.Background()
	sched, registry := newTestScheduler(t)

	meta := sched.GetMetadata()
	assert.False(t, meta.Started)
	assert.Equal(t, "test-scheduler", meta.InstanceName)
	assert.NotEmpty(t, meta.InstanceID)

	counting := fakes.NewCountingJob()
	registry.Register("counting", func() job.Job { return counting })
	require.NoError(t, sched.Start(ctx))

	detail := job.NewBuilder().OfType("counting").WithIdentity("counted", "tests").Build()
	_, err := sched.ScheduleJob(ctx, detail, oneShot("counted-now", detail.Key))
	require.NoError(t, err)
	awaitSignal(t, counting.Done(), "job did not execute")

	assert.Eventually(t, func() bool {
		return sched.GetMetadata().NumberOfJobsExecuted == 1
	}, testWait, 10*time.Millisecond)

	meta = sched.GetMetadata()
	assert.True(t, meta.Started)
	assert.False(t, meta.StartedAt.IsZero())
	assert.Equal(t, 4, meta.ThreadCount)
}

func TestScheduler_ShutdownIsSafeAndFinal(t *testing.T) {
	ctx := context.Background()
	sched, _ := newTestScheduler(t)

	// Never started; shutdown is still clean and repeatable.
	require.NoError(t, sched.Shutdown(ctx, true))
	require.NoError(t, sched.Shutdown(ctx, true))

	err := sched.Start(ctx)
	assert.ErrorIs(t, err, ErrShutdown)

	meta := sched.GetMetadata()
	assert.True(t, meta.Shutdown)
}

func TestScheduler_RescheduleJobSwapsTrigger(t *testing.T) {
	ctx := context.Background()
	sched, registry := newTestScheduler(t)

	counting := fakes.NewCountingJob()
	registry.Register("counting", func() job.Job { return counting })

	detail := job.NewBuilder().OfType("counting").WithIdentity("moved", "tests").Build()
	far := trigger.NewBuilder().
		WithIdentity("far-future", "tests").
		ForJob(detail.Key).
		StartAt(time.Now().Add(time.Hour)).
		Build()
	require.NoError(t, sched.Start(ctx))
	_, err := sched.ScheduleJob(ctx, detail, far)
	require.NoError(t, err)

	soon := trigger.NewBuilder().
		WithIdentity("right-away", "tests").
		ForJob(detail.Key).
		Build()
	first, err := sched.RescheduleJob(ctx, far.Key(), soon)
	require.NoError(t, err)
	require.NotNil(t, first)

	awaitSignal(t, counting.Done(), "rescheduled trigger did not fire")

	_, err = sched.GetTrigger(ctx, far.Key())
	assert.Error(t, err, "the old trigger is gone")

	missing, err := sched.RescheduleJob(ctx, job.NewTriggerKey("ghost"), soon)
	assert.Error(t, err)
	assert.Nil(t, missing)
}

func TestScheduler_UnscheduleJobRemovesTrigger(t *testing.T) {
	ctx := context.Background()
	sched, registry := newTestScheduler(t)

	registry.Register("counting", func() job.Job { return fakes.NewCountingJob() })
	require.NoError(t, sched.Start(ctx))

	detail := job.NewBuilder().OfType("counting").WithIdentity("fleeting", "tests").Build()
	far := trigger.NewBuilder().
		WithIdentity("never-fires", "tests").
		ForJob(detail.Key).
		StartAt(time.Now().Add(time.Hour)).
		Build()
	_, err := sched.ScheduleJob(ctx, detail, far)
	require.NoError(t, err)

	removed, err := sched.UnscheduleJob(ctx, far.Key())
	require.NoError(t, err)
	assert.True(t, removed)

	// Non-durable and orphaned, so the job went with it.
	_, err = sched.GetJobDetail(ctx, detail.Key)
	assert.Error(t, err)

	removed, err = sched.UnscheduleJob(ctx, far.Key())
	require.NoError(t, err)
	assert.False(t, removed)
}
