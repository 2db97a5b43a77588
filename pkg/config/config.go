package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// App holds runtime configuration for the scheduler and API daemons.
type App struct {
	Environment string   `env:"ENVIRONMENT" envDefault:"production"`
	LogLevel    string   `env:"LOG_LEVEL" envDefault:"info"`
	APIPort     string   `env:"API_PORT" envDefault:"8080"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	// DatabaseDriver selects the persistent store dialect: "mysql" or "postgres".
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"mysql"`
	DatabaseURL    string `env:"DATABASE_URL"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"chronex.scheduler.events"`

	Quartz Quartz
}

// Quartz mirrors the enumerated quartz.* configuration keys. Values bind from
// environment variables and, via ApplyProperties, from a properties file; the
// file takes the property-key spelling, the env var the underscore spelling.
type Quartz struct {
	InstanceName string `env:"QUARTZ_SCHEDULER_INSTANCE_NAME" envDefault:"ChronexScheduler"`
	// InstanceID is a fixed id or "AUTO" to derive one from the hostname.
	InstanceID string `env:"QUARTZ_SCHEDULER_INSTANCE_ID" envDefault:"AUTO"`

	ThreadCount int `env:"QUARTZ_THREAD_POOL_THREAD_COUNT" envDefault:"10"`

	Clustered                  bool          `env:"QUARTZ_JOB_STORE_CLUSTERED" envDefault:"false"`
	ClusterCheckinInterval     time.Duration `env:"QUARTZ_JOB_STORE_CLUSTER_CHECKIN_INTERVAL" envDefault:"7500ms"`
	MisfireThreshold           time.Duration `env:"QUARTZ_JOB_STORE_MISFIRE_THRESHOLD" envDefault:"60s"`
	AcquireTriggersWithinLock  bool          `env:"QUARTZ_JOB_STORE_ACQUIRE_TRIGGERS_WITHIN_LOCK" envDefault:"false"`
	MaxMisfiresToHandleAtATime int           `env:"QUARTZ_JOB_STORE_MAX_MISFIRES_TO_HANDLE_AT_A_TIME" envDefault:"20"`

	BatchTriggerAcquisitionMaxCount            int           `env:"QUARTZ_SCHEDULER_BATCH_TRIGGER_ACQUISITION_MAX_COUNT" envDefault:"1"`
	BatchTriggerAcquisitionFireAheadTimeWindow time.Duration `env:"QUARTZ_SCHEDULER_BATCH_TRIGGER_ACQUISITION_FIRE_AHEAD_TIME_WINDOW" envDefault:"0"`
	IdleWaitTime                               time.Duration `env:"QUARTZ_SCHEDULER_IDLE_WAIT_TIME" envDefault:"30s"`
}

// FromEnv loads the application configuration from environment variables.
func FromEnv() (App, error) {
	var cfg App
	if err := env.Parse(&cfg); err != nil {
		return App{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

// ApplyProperties overlays quartz.* keys read from a properties file
// (key = value lines, '#' comments) onto the configuration. Interval-valued
// keys are integer milliseconds, matching the property-file convention.
func (c *App) ApplyProperties(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return fmt.Errorf("line %d: expected key = value", line)
		}
		if err := c.applyProperty(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return c.Validate()
}

func (c *App) applyProperty(key, value string) error {
	q := &c.Quartz
	switch key {
	case "quartz.scheduler.instanceName":
		q.InstanceName = value
	case "quartz.scheduler.instanceId":
		q.InstanceID = value
	case "quartz.threadPool.threadCount":
		return setInt(&q.ThreadCount, key, value)
	case "quartz.jobStore.clustered":
		return setBool(&q.Clustered, key, value)
	case "quartz.jobStore.clusterCheckinInterval":
		return setMillis(&q.ClusterCheckinInterval, key, value)
	case "quartz.jobStore.misfireThreshold":
		return setMillis(&q.MisfireThreshold, key, value)
	case "quartz.jobStore.acquireTriggersWithinLock":
		return setBool(&q.AcquireTriggersWithinLock, key, value)
	case "quartz.jobStore.maxMisfiresToHandleAtATime":
		return setInt(&q.MaxMisfiresToHandleAtATime, key, value)
	case "quartz.scheduler.batchTriggerAcquisitionMaxCount":
		return setInt(&q.BatchTriggerAcquisitionMaxCount, key, value)
	case "quartz.scheduler.batchTriggerAcquisitionFireAheadTimeWindow":
		return setMillis(&q.BatchTriggerAcquisitionFireAheadTimeWindow, key, value)
	case "quartz.scheduler.idleWaitTime":
		return setMillis(&q.IdleWaitTime, key, value)
	default:
		return fmt.Errorf("unknown property %q", key)
	}
	return nil
}

// Validate rejects configurations the scheduler cannot start with.
func (c *App) Validate() error {
	q := c.Quartz
	if q.InstanceName == "" {
		return fmt.Errorf("quartz.scheduler.instanceName must not be empty")
	}
	if q.ThreadCount < 1 {
		return fmt.Errorf("quartz.threadPool.threadCount must be >= 1, got %d", q.ThreadCount)
	}
	if q.Clustered && q.ClusterCheckinInterval <= 0 {
		return fmt.Errorf("quartz.jobStore.clusterCheckinInterval must be positive when clustered")
	}
	if q.MisfireThreshold < time.Millisecond {
		return fmt.Errorf("quartz.jobStore.misfireThreshold must be at least 1ms, got %s", q.MisfireThreshold)
	}
	if q.BatchTriggerAcquisitionMaxCount < 1 {
		return fmt.Errorf("quartz.scheduler.batchTriggerAcquisitionMaxCount must be >= 1, got %d", q.BatchTriggerAcquisitionMaxCount)
	}
	if q.IdleWaitTime < time.Second {
		return fmt.Errorf("quartz.scheduler.idleWaitTime must be at least 1s, got %s", q.IdleWaitTime)
	}
	return nil
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setMillis(dst *time.Duration, key, value string) error {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}
