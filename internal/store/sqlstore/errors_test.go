package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.False(t, isRetryable(errors.New("syntax error")))

	assert.True(t, isRetryable(errors.New("Deadlock found when trying to get lock")))
	assert.True(t, isRetryable(errors.New("ERROR: could not serialize access due to concurrent update")))
	assert.True(t, isRetryable(errors.New("Lock wait timeout exceeded")))
	assert.True(t, isRetryable(&LockTimeoutError{LockName: LockTriggerAccess, Waited: time.Second}))
	assert.True(t, isRetryable(errors.New("wrapped: database is locked")))
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("deadlock detected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	attempts := 0
	wanted := errors.New("duplicate key value")
	err := withRetry(context.Background(), func() error {
		attempts++
		return wanted
	})
	assert.ErrorIs(t, err, wanted)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		return errors.New("deadlock detected")
	})
	assert.Error(t, err)
	assert.Equal(t, maxRetries+1, attempts)
}

func TestWithRetry_HonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withRetry(ctx, func() error {
		return errors.New("deadlock detected")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
