package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// lockHandler acquires named row locks in qrtz_locks. A lock is held for the
// lifetime of the surrounding transaction; commit or rollback releases it.
type lockHandler struct {
	dialect   Dialect
	schedName string
	timeout   time.Duration
}

func newLockHandler(dialect Dialect, schedName string, timeout time.Duration) *lockHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &lockHandler{dialect: dialect, schedName: schedName, timeout: timeout}
}

// obtain blocks on the lock row, creating it on demand the first time a
// cluster touches it.
func (h *lockHandler) obtain(ctx context.Context, tx *sql.Tx, lockName string) error {
	lockCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	start := time.Now()

	var name string
	err := tx.QueryRowContext(lockCtx, h.dialect.SelectForUpdate(), h.schedName, lockName).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err = tx.ExecContext(lockCtx, h.dialect.InsertIgnoreLock(), h.schedName, lockName); err != nil {
			return fmt.Errorf("create lock row %s: %w", lockName, err)
		}
		err = tx.QueryRowContext(lockCtx, h.dialect.SelectForUpdate(), h.schedName, lockName).Scan(&name)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(lockCtx.Err(), context.DeadlineExceeded) {
			return &LockTimeoutError{LockName: lockName, Waited: time.Since(start)}
		}
		return fmt.Errorf("obtain lock %s: %w", lockName, err)
	}
	return nil
}
