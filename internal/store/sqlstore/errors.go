package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Named row locks. TRIGGER_ACCESS guards trigger, job and fired-trigger
// mutation; STATE_ACCESS guards cluster state and recovery.
const (
	LockTriggerAccess = "TRIGGER_ACCESS"
	LockStateAccess   = "STATE_ACCESS"
)

// LockTimeoutError reports that a named row lock could not be acquired in
// time. It is retryable.
type LockTimeoutError struct {
	LockName string
	Waited   time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s acquiring lock %q", e.Waited, e.LockName)
}

// isRetryable reports whether err looks like a transient database failure
// worth retrying: deadlocks, serialization failures and lock timeouts.
// Driver-agnostic message sniffing keeps this working for both supported
// dialects.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var lockErr *LockTimeoutError
	if errors.As(err, &lockErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"deadlock",
		"could not serialize",
		"serialization failure",
		"lock wait timeout",
		"database is locked",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

const (
	maxRetries       = 4
	retryBackoffBase = 50 * time.Millisecond
)

// withRetry runs fn, retrying transient failures with linear backoff.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = fn(); err == nil || !isRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoffBase * time.Duration(attempt+1)):
		}
	}
	return err
}
