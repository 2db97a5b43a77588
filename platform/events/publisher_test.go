package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/scheduler"
	"github.com/chronex-io/chronex/internal/trigger"
)

var (
	_ scheduler.TriggerListener   = (*Listener)(nil)
	_ scheduler.JobListener       = (*Listener)(nil)
	_ scheduler.SchedulerListener = (*Listener)(nil)
)

type recordingSink struct {
	events []Event
}

func (s *recordingSink) Publish(ev Event) { s.events = append(s.events, ev) }

func testTrigger(t *testing.T) trigger.Operable {
	t.Helper()
	return trigger.NewBuilder().
		WithIdentity("nightly", "reports").
		ForJob(job.NewKeyWithGroup("cleanup", "reports")).
		Build()
}

func testContext(tr trigger.Trigger, fireTime time.Time) *job.Context {
	return &job.Context{
		Detail: job.NewBuilder().
			OfType("noop").
			WithIdentity("cleanup", "reports").
			Build(),
		TriggerKey: tr.Key(),
		FireTime:   fireTime,
	}
}

func TestListener_TriggerFiredMapsKeysAndFireTime(t *testing.T) {
	sink := &recordingSink{}
	l := NewListener(sink)
	tr := testTrigger(t)
	fireTime := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	jctx := testContext(tr, fireTime)
	jctx.Recovering = true
	l.TriggerFired(tr, jctx)

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, TypeTriggerFired, ev.Type)
	assert.Equal(t, "reports.cleanup", ev.Job)
	assert.Equal(t, "reports.nightly", ev.Trigger)
	require.NotNil(t, ev.FireTime)
	assert.Equal(t, fireTime, *ev.FireTime)
	assert.True(t, ev.Recovering)
}

func TestListener_JobWasExecutedCarriesRunTimeAndError(t *testing.T) {
	sink := &recordingSink{}
	l := NewListener(sink)
	tr := testTrigger(t)

	jctx := testContext(tr, time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	jctx.JobRunTime = 1500 * time.Millisecond

	l.JobWasExecuted(jctx, errors.New("disk full"))

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, TypeJobExecuted, ev.Type)
	assert.Equal(t, int64(1500), ev.RunTimeMS)
	assert.Equal(t, "disk full", ev.Error)

	// A clean run leaves the error field empty.
	l.JobWasExecuted(jctx, nil)
	require.Len(t, sink.events, 2)
	assert.Empty(t, sink.events[1].Error)
}

func TestListener_VetoAndCompleteAndMisfire(t *testing.T) {
	sink := &recordingSink{}
	l := NewListener(sink)
	tr := testTrigger(t)
	jctx := testContext(tr, time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))

	l.JobExecutionVetoed(jctx)
	l.TriggerComplete(tr, jctx, trigger.InstructionNoInstruction)
	l.TriggerMisfired(tr)
	l.TriggerFinalized(tr)

	require.Len(t, sink.events, 4)
	assert.Equal(t, TypeJobVetoed, sink.events[0].Type)
	assert.Equal(t, TypeTriggerComplete, sink.events[1].Type)
	assert.Equal(t, TypeTriggerMisfired, sink.events[2].Type)
	assert.Equal(t, TypeTriggerFinalized, sink.events[3].Type)

	for _, ev := range sink.events {
		assert.Equal(t, "reports.cleanup", ev.Job)
		assert.Equal(t, "reports.nightly", ev.Trigger)
	}
}

func TestListener_SatisfiesListenerInterfaces(t *testing.T) {
	l := NewListener(&recordingSink{})
	assert.Equal(t, "kafka-event-publisher", l.Name())
}
