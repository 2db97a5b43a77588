package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "8080", cfg.APIPort)
	assert.Equal(t, "mysql", cfg.DatabaseDriver)
	assert.Equal(t, "ChronexScheduler", cfg.Quartz.InstanceName)
	assert.Equal(t, "AUTO", cfg.Quartz.InstanceID)
	assert.Equal(t, 10, cfg.Quartz.ThreadCount)
	assert.Equal(t, 60*time.Second, cfg.Quartz.MisfireThreshold)
	assert.Equal(t, 7500*time.Millisecond, cfg.Quartz.ClusterCheckinInterval)
	assert.Equal(t, 1, cfg.Quartz.BatchTriggerAcquisitionMaxCount)
	assert.Equal(t, 30*time.Second, cfg.Quartz.IdleWaitTime)
	assert.False(t, cfg.Quartz.Clustered)
}

func TestFromEnv_WhenVariablesSet_ThenOverridesDefaults(t *testing.T) {
	t.Setenv("QUARTZ_SCHEDULER_INSTANCE_NAME", "MyScheduler")
	t.Setenv("QUARTZ_SCHEDULER_INSTANCE_ID", "node-1")
	t.Setenv("QUARTZ_THREAD_POOL_THREAD_COUNT", "25")
	t.Setenv("QUARTZ_JOB_STORE_CLUSTERED", "true")
	t.Setenv("QUARTZ_JOB_STORE_MISFIRE_THRESHOLD", "30s")
	t.Setenv("KAFKA_BROKERS", "kafka1:9092,kafka2:9092")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "MyScheduler", cfg.Quartz.InstanceName)
	assert.Equal(t, "node-1", cfg.Quartz.InstanceID)
	assert.Equal(t, 25, cfg.Quartz.ThreadCount)
	assert.True(t, cfg.Quartz.Clustered)
	assert.Equal(t, 30*time.Second, cfg.Quartz.MisfireThreshold)
	assert.Equal(t, []string{"kafka1:9092", "kafka2:9092"}, cfg.KafkaBrokers)
}

func TestFromEnv_WhenThreadCountInvalid_ThenFails(t *testing.T) {
	t.Setenv("QUARTZ_THREAD_POOL_THREAD_COUNT", "0")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestApplyProperties(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	props := `
# cluster settings
quartz.scheduler.instanceName = ClusteredScheduler
quartz.scheduler.instanceId = AUTO
quartz.jobStore.clustered = true
quartz.jobStore.clusterCheckinInterval = 5000
quartz.jobStore.misfireThreshold = 120000
quartz.threadPool.threadCount = 4
quartz.scheduler.batchTriggerAcquisitionMaxCount = 10
quartz.scheduler.idleWaitTime = 10000
`
	require.NoError(t, cfg.ApplyProperties(strings.NewReader(props)))

	assert.Equal(t, "ClusteredScheduler", cfg.Quartz.InstanceName)
	assert.True(t, cfg.Quartz.Clustered)
	assert.Equal(t, 5*time.Second, cfg.Quartz.ClusterCheckinInterval)
	assert.Equal(t, 2*time.Minute, cfg.Quartz.MisfireThreshold)
	assert.Equal(t, 4, cfg.Quartz.ThreadCount)
	assert.Equal(t, 10, cfg.Quartz.BatchTriggerAcquisitionMaxCount)
	assert.Equal(t, 10*time.Second, cfg.Quartz.IdleWaitTime)
}

func TestApplyProperties_UnknownKey(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	err = cfg.ApplyProperties(strings.NewReader("quartz.bogus.key = 1"))
	assert.ErrorContains(t, err, "unknown property")
}

func TestApplyProperties_MalformedLine(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	err = cfg.ApplyProperties(strings.NewReader("no separator here"))
	assert.ErrorContains(t, err, "expected key = value")
}

func TestValidate_RejectsBadValues(t *testing.T) {
	base, err := FromEnv()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*App)
	}{
		{"empty instance name", func(c *App) { c.Quartz.InstanceName = "" }},
		{"zero threads", func(c *App) { c.Quartz.ThreadCount = 0 }},
		{"tiny misfire threshold", func(c *App) { c.Quartz.MisfireThreshold = 0 }},
		{"zero batch count", func(c *App) { c.Quartz.BatchTriggerAcquisitionMaxCount = 0 }},
		{"sub-second idle wait", func(c *App) { c.Quartz.IdleWaitTime = 100 * time.Millisecond }},
		{"clustered without checkin", func(c *App) {
			c.Quartz.Clustered = true
			c.Quartz.ClusterCheckinInterval = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
