package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/logging"
	"github.com/chronex-io/chronex/internal/scheduler"
	"github.com/chronex-io/chronex/internal/trigger"
)

// Event types published to the scheduler event topic.
const (
	TypeJobExecuted      = "job.executed"
	TypeJobVetoed        = "job.vetoed"
	TypeTriggerFired     = "trigger.fired"
	TypeTriggerMisfired  = "trigger.misfired"
	TypeTriggerComplete  = "trigger.complete"
	TypeTriggerFinalized = "trigger.finalized"
)

const publishTimeout = 5 * time.Second

// Event is the wire form of one scheduler lifecycle event. Messages are keyed
// by job so consumers see per-job ordering.
type Event struct {
	Type       string     `json:"type"`
	Job        string     `json:"job,omitempty"`
	Trigger    string     `json:"trigger,omitempty"`
	FireTime   *time.Time `json:"fire_time,omitempty"`
	RunTimeMS  int64      `json:"run_time_ms,omitempty"`
	Recovering bool       `json:"recovering,omitempty"`
	Error      string     `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Publisher emits scheduler lifecycle events to Kafka.
type Publisher struct {
	writer *kafka.Writer
	logger logging.Logger
}

// NewPublisher builds a publisher writing to the given brokers and topic.
func NewPublisher(brokers []string, topic string, logger logging.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

// Publish sends one event. Failures are logged, not returned; a broker
// outage must not stall job execution.
func (p *Publisher) Publish(ev Event) {
	ev.Timestamp = time.Now().UTC()
	value, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to encode scheduler event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Job),
		Value: value,
	})
	if err != nil {
		p.logger.Error("failed to publish scheduler event",
			zap.String("type", ev.Type), zap.Error(err))
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Sink receives events; satisfied by Publisher.
type Sink interface {
	Publish(ev Event)
}

// Listener bridges scheduler callbacks onto the publisher. Register it as
// both a job listener and a trigger listener.
type Listener struct {
	scheduler.TriggerListenerBase
	scheduler.JobListenerBase
	scheduler.SchedulerListenerBase

	pub Sink
}

// NewListener wraps a publisher as a scheduler listener.
func NewListener(pub Sink) *Listener {
	return &Listener{pub: pub}
}

func (l *Listener) Name() string { return "kafka-event-publisher" }

func (l *Listener) TriggerFired(t trigger.Trigger, jctx *job.Context) {
	l.pub.Publish(Event{
		Type:       TypeTriggerFired,
		Job:        t.JobKey().String(),
		Trigger:    t.Key().String(),
		FireTime:   &jctx.FireTime,
		Recovering: jctx.Recovering,
	})
}

func (l *Listener) TriggerMisfired(t trigger.Trigger) {
	l.pub.Publish(Event{
		Type:     TypeTriggerMisfired,
		Job:      t.JobKey().String(),
		Trigger:  t.Key().String(),
		FireTime: t.NextFireTime(),
	})
}

func (l *Listener) TriggerComplete(t trigger.Trigger, jctx *job.Context, _ trigger.CompletedExecutionInstruction) {
	l.pub.Publish(Event{
		Type:     TypeTriggerComplete,
		Job:      t.JobKey().String(),
		Trigger:  t.Key().String(),
		FireTime: &jctx.FireTime,
	})
}

func (l *Listener) JobExecutionVetoed(jctx *job.Context) {
	l.pub.Publish(Event{
		Type:     TypeJobVetoed,
		Job:      jctx.Detail.Key.String(),
		Trigger:  jctx.TriggerKey.String(),
		FireTime: &jctx.FireTime,
	})
}

func (l *Listener) JobWasExecuted(jctx *job.Context, jobErr error) {
	ev := Event{
		Type:       TypeJobExecuted,
		Job:        jctx.Detail.Key.String(),
		Trigger:    jctx.TriggerKey.String(),
		FireTime:   &jctx.FireTime,
		RunTimeMS:  jctx.JobRunTime.Milliseconds(),
		Recovering: jctx.Recovering,
	}
	if jobErr != nil {
		ev.Error = jobErr.Error()
	}
	l.pub.Publish(ev)
}

func (l *Listener) TriggerFinalized(t trigger.Trigger) {
	l.pub.Publish(Event{
		Type:    TypeTriggerFinalized,
		Job:     t.JobKey().String(),
		Trigger: t.Key().String(),
	})
}
