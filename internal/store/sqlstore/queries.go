package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chronex-io/chronex/internal/calendar"
	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/trigger"
)

// --- trigger state queries ---

func (d *delegate) selectTriggerState(ctx context.Context, tx *sql.Tx, key job.TriggerKey) (trigger.State, error) {
	var state string
	err := tx.QueryRowContext(ctx, d.q(`SELECT trigger_state FROM qrtz_triggers
		WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`),
		d.schedName, key.Name, key.Group).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return trigger.StateNone, nil
	}
	if err != nil {
		return trigger.StateNone, err
	}
	return trigger.State(state), nil
}

func (d *delegate) updateTriggerState(ctx context.Context, tx *sql.Tx, key job.TriggerKey, state trigger.State) error {
	_, err := tx.ExecContext(ctx, d.q(`UPDATE qrtz_triggers SET trigger_state = ?
		WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`),
		string(state), d.schedName, key.Name, key.Group)
	return err
}

// updateTriggerStateFrom transitions state only when the row currently holds
// one of the expected states. Returns the number of rows changed.
func (d *delegate) updateTriggerStateFrom(ctx context.Context, tx *sql.Tx, key job.TriggerKey, to trigger.State, from ...trigger.State) (int64, error) {
	query := `UPDATE qrtz_triggers SET trigger_state = ?
		WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ? AND trigger_state IN (` + statePlaceholders(len(from)) + `)`
	args := []any{string(to), d.schedName, key.Name, key.Group}
	for _, f := range from {
		args = append(args, string(f))
	}
	res, err := tx.ExecContext(ctx, d.q(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *delegate) updateJobTriggerStatesFrom(ctx context.Context, tx *sql.Tx, key job.Key, to trigger.State, from ...trigger.State) error {
	query := `UPDATE qrtz_triggers SET trigger_state = ?
		WHERE sched_name = ? AND job_name = ? AND job_group = ? AND trigger_state IN (` + statePlaceholders(len(from)) + `)`
	args := []any{string(to), d.schedName, key.Name, key.Group}
	for _, f := range from {
		args = append(args, string(f))
	}
	_, err := tx.ExecContext(ctx, d.q(query), args...)
	return err
}

func (d *delegate) updateAllJobTriggerStates(ctx context.Context, tx *sql.Tx, key job.Key, to trigger.State) error {
	_, err := tx.ExecContext(ctx, d.q(`UPDATE qrtz_triggers SET trigger_state = ?
		WHERE sched_name = ? AND job_name = ? AND job_group = ?`),
		string(to), d.schedName, key.Name, key.Group)
	return err
}

func (d *delegate) updateGroupTriggerStatesFrom(ctx context.Context, tx *sql.Tx, group string, to trigger.State, from ...trigger.State) error {
	query := `UPDATE qrtz_triggers SET trigger_state = ?
		WHERE sched_name = ? AND trigger_group = ? AND trigger_state IN (` + statePlaceholders(len(from)) + `)`
	args := []any{string(to), d.schedName, group}
	for _, f := range from {
		args = append(args, string(f))
	}
	_, err := tx.ExecContext(ctx, d.q(query), args...)
	return err
}

func statePlaceholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += "?"
	}
	return out
}

// --- acquisition ---

// selectTriggersToAcquire returns waiting triggers due at or before
// noLaterThan, ordered for acquisition. The state transition happens in the
// caller, row by row, so job-level concurrency checks can veto candidates.
func (d *delegate) selectTriggersToAcquire(ctx context.Context, tx *sql.Tx, noLaterThan time.Time, maxCount int) ([]job.TriggerKey, error) {
	rows, err := tx.QueryContext(ctx, d.q(`SELECT trigger_name, trigger_group
		FROM qrtz_triggers
		WHERE sched_name = ? AND trigger_state = ? AND next_fire_time IS NOT NULL AND next_fire_time <= ?
		ORDER BY next_fire_time ASC, priority DESC`),
		d.schedName, string(trigger.StateWaiting), noLaterThan.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]job.TriggerKey, 0, maxCount)
	for rows.Next() {
		var name, group string
		if err := rows.Scan(&name, &group); err != nil {
			return nil, err
		}
		keys = append(keys, job.TriggerKey{Group: group, Name: name})
		if len(keys) >= maxCount {
			break
		}
	}
	return keys, rows.Err()
}

// selectMisfiredTriggers returns waiting triggers whose next fire time fell
// behind ts, bounded by maxCount+1 so the caller can detect a full batch.
func (d *delegate) selectMisfiredTriggers(ctx context.Context, tx *sql.Tx, ts time.Time, maxCount int) ([]job.TriggerKey, bool, error) {
	rows, err := tx.QueryContext(ctx, d.q(`SELECT trigger_name, trigger_group
		FROM qrtz_triggers
		WHERE sched_name = ? AND trigger_state = ? AND misfire_instr <> ?
		  AND next_fire_time IS NOT NULL AND next_fire_time < ?
		ORDER BY next_fire_time ASC, priority DESC`),
		d.schedName, string(trigger.StateWaiting), trigger.MisfireIgnorePolicy, ts.UnixMilli())
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	keys := make([]job.TriggerKey, 0, maxCount)
	hasMore := false
	for rows.Next() {
		var name, group string
		if err := rows.Scan(&name, &group); err != nil {
			return nil, false, err
		}
		if len(keys) == maxCount {
			hasMore = true
			break
		}
		keys = append(keys, job.TriggerKey{Group: group, Name: name})
	}
	return keys, hasMore, rows.Err()
}

// --- fired triggers ---

type firedRow struct {
	entryID          string
	triggerKey       job.TriggerKey
	jobKey           job.Key
	instanceName     string
	firedTime        time.Time
	schedTime        time.Time
	priority         int
	state            string
	isNonconcurrent  bool
	requestsRecovery bool
}

func (d *delegate) insertFiredTrigger(ctx context.Context, tx *sql.Tx, fr *firedRow) error {
	_, err := tx.ExecContext(ctx, d.q(`INSERT INTO qrtz_fired_triggers
		(sched_name, entry_id, trigger_name, trigger_group, instance_name,
		 fired_time, sched_time, priority, state, job_name, job_group,
		 is_nonconcurrent, requests_recovery)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.schedName, fr.entryID, fr.triggerKey.Name, fr.triggerKey.Group,
		fr.instanceName, fr.firedTime.UnixMilli(), fr.schedTime.UnixMilli(),
		fr.priority, fr.state, fr.jobKey.Name, fr.jobKey.Group,
		fr.isNonconcurrent, fr.requestsRecovery)
	return err
}

func (d *delegate) updateFiredTriggerState(ctx context.Context, tx *sql.Tx, entryID, state string) error {
	_, err := tx.ExecContext(ctx, d.q(`UPDATE qrtz_fired_triggers SET state = ?
		WHERE sched_name = ? AND entry_id = ?`), state, d.schedName, entryID)
	return err
}

func (d *delegate) updateFiredTriggerStateForTrigger(ctx context.Context, tx *sql.Tx, key job.TriggerKey, state string) error {
	_, err := tx.ExecContext(ctx, d.q(`UPDATE qrtz_fired_triggers SET state = ?
		WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`),
		state, d.schedName, key.Name, key.Group)
	return err
}

func (d *delegate) deleteFiredTrigger(ctx context.Context, tx *sql.Tx, entryID string) error {
	_, err := tx.ExecContext(ctx, d.q(`DELETE FROM qrtz_fired_triggers
		WHERE sched_name = ? AND entry_id = ?`), d.schedName, entryID)
	return err
}

func (d *delegate) deleteFiredTriggersForTrigger(ctx context.Context, tx *sql.Tx, key job.TriggerKey) error {
	_, err := tx.ExecContext(ctx, d.q(`DELETE FROM qrtz_fired_triggers
		WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`),
		d.schedName, key.Name, key.Group)
	return err
}

func (d *delegate) selectFiredTriggersByInstance(ctx context.Context, tx *sql.Tx, instanceName string) ([]*firedRow, error) {
	rows, err := tx.QueryContext(ctx, d.q(`SELECT entry_id, trigger_name, trigger_group,
		fired_time, sched_time, priority, state, job_name, job_group,
		is_nonconcurrent, requests_recovery
		FROM qrtz_fired_triggers WHERE sched_name = ? AND instance_name = ?`),
		d.schedName, instanceName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*firedRow, 0)
	for rows.Next() {
		fr := &firedRow{instanceName: instanceName}
		var fired, sched int64
		var jobName, jobGroup sql.NullString
		var nonconcurrent, recovery sql.NullBool
		if err := rows.Scan(&fr.entryID, &fr.triggerKey.Name, &fr.triggerKey.Group,
			&fired, &sched, &fr.priority, &fr.state, &jobName, &jobGroup,
			&nonconcurrent, &recovery); err != nil {
			return nil, err
		}
		fr.firedTime = time.UnixMilli(fired).UTC()
		fr.schedTime = time.UnixMilli(sched).UTC()
		fr.jobKey = job.Key{Group: jobGroup.String, Name: jobName.String}
		fr.isNonconcurrent = nonconcurrent.Bool
		fr.requestsRecovery = recovery.Bool
		out = append(out, fr)
	}
	return out, rows.Err()
}

func (d *delegate) deleteFiredTriggersByInstance(ctx context.Context, tx *sql.Tx, instanceName string) error {
	_, err := tx.ExecContext(ctx, d.q(`DELETE FROM qrtz_fired_triggers
		WHERE sched_name = ? AND instance_name = ?`), d.schedName, instanceName)
	return err
}

// --- calendars ---

func (d *delegate) insertCalendar(ctx context.Context, tx *sql.Tx, name string, cal calendar.Calendar) error {
	raw, err := calendar.Encode(cal)
	if err != nil {
		return fmt.Errorf("encode calendar %s: %w", name, err)
	}
	_, err = tx.ExecContext(ctx, d.q(`INSERT INTO qrtz_calendars
		(sched_name, calendar_name, calendar) VALUES (?, ?, ?)`),
		d.schedName, name, raw)
	return err
}

func (d *delegate) updateCalendar(ctx context.Context, tx *sql.Tx, name string, cal calendar.Calendar) error {
	raw, err := calendar.Encode(cal)
	if err != nil {
		return fmt.Errorf("encode calendar %s: %w", name, err)
	}
	_, err = tx.ExecContext(ctx, d.q(`UPDATE qrtz_calendars SET calendar = ?
		WHERE sched_name = ? AND calendar_name = ?`), raw, d.schedName, name)
	return err
}

func (d *delegate) selectCalendar(ctx context.Context, tx *sql.Tx, name string) (calendar.Calendar, error) {
	var raw []byte
	err := tx.QueryRowContext(ctx, d.q(`SELECT calendar FROM qrtz_calendars
		WHERE sched_name = ? AND calendar_name = ?`), d.schedName, name).Scan(&raw)
	if err != nil {
		return nil, err
	}
	return calendar.Decode(raw)
}

func (d *delegate) deleteCalendar(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	res, err := tx.ExecContext(ctx, d.q(`DELETE FROM qrtz_calendars
		WHERE sched_name = ? AND calendar_name = ?`), d.schedName, name)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (d *delegate) calendarExists(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, d.q(`SELECT 1 FROM qrtz_calendars
		WHERE sched_name = ? AND calendar_name = ?`), d.schedName, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (d *delegate) selectTriggersForCalendar(ctx context.Context, tx *sql.Tx, name string) ([]job.TriggerKey, error) {
	rows, err := tx.QueryContext(ctx, d.q(`SELECT trigger_name, trigger_group
		FROM qrtz_triggers WHERE sched_name = ? AND calendar_name = ?`),
		d.schedName, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTriggerKeys(rows)
}

// --- paused groups ---

func (d *delegate) insertPausedGroup(ctx context.Context, tx *sql.Tx, group string) error {
	exists, err := d.isGroupPaused(ctx, tx, group)
	if err != nil || exists {
		return err
	}
	_, err = tx.ExecContext(ctx, d.q(`INSERT INTO qrtz_paused_trigger_grps
		(sched_name, trigger_group) VALUES (?, ?)`), d.schedName, group)
	return err
}

func (d *delegate) deletePausedGroup(ctx context.Context, tx *sql.Tx, group string) error {
	_, err := tx.ExecContext(ctx, d.q(`DELETE FROM qrtz_paused_trigger_grps
		WHERE sched_name = ? AND trigger_group = ?`), d.schedName, group)
	return err
}

func (d *delegate) isGroupPaused(ctx context.Context, tx *sql.Tx, group string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, d.q(`SELECT 1 FROM qrtz_paused_trigger_grps
		WHERE sched_name = ? AND trigger_group = ?`), d.schedName, group).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (d *delegate) selectPausedGroups(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, d.q(`SELECT trigger_group
		FROM qrtz_paused_trigger_grps WHERE sched_name = ? ORDER BY trigger_group`),
		d.schedName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// --- scheduler state ---

type schedulerStateRow struct {
	instanceName    string
	lastCheckin     time.Time
	checkinInterval time.Duration
}

func (d *delegate) insertSchedulerState(ctx context.Context, tx *sql.Tx, instanceName string, checkin time.Time, interval time.Duration) error {
	_, err := tx.ExecContext(ctx, d.q(`INSERT INTO qrtz_scheduler_state
		(sched_name, instance_name, last_checkin_time, checkin_interval)
		VALUES (?, ?, ?, ?)`),
		d.schedName, instanceName, checkin.UnixMilli(), interval.Milliseconds())
	return err
}

func (d *delegate) updateSchedulerState(ctx context.Context, tx *sql.Tx, instanceName string, checkin time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, d.q(`UPDATE qrtz_scheduler_state SET last_checkin_time = ?
		WHERE sched_name = ? AND instance_name = ?`),
		checkin.UnixMilli(), d.schedName, instanceName)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *delegate) deleteSchedulerState(ctx context.Context, tx *sql.Tx, instanceName string) error {
	_, err := tx.ExecContext(ctx, d.q(`DELETE FROM qrtz_scheduler_state
		WHERE sched_name = ? AND instance_name = ?`), d.schedName, instanceName)
	return err
}

func (d *delegate) selectSchedulerStates(ctx context.Context, tx *sql.Tx) ([]schedulerStateRow, error) {
	rows, err := tx.QueryContext(ctx, d.q(`SELECT instance_name, last_checkin_time, checkin_interval
		FROM qrtz_scheduler_state WHERE sched_name = ?`), d.schedName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]schedulerStateRow, 0)
	for rows.Next() {
		var row schedulerStateRow
		var checkin, interval int64
		if err := rows.Scan(&row.instanceName, &checkin, &interval); err != nil {
			return nil, err
		}
		row.lastCheckin = time.UnixMilli(checkin).UTC()
		row.checkinInterval = time.Duration(interval) * time.Millisecond
		out = append(out, row)
	}
	return out, rows.Err()
}

// --- enumeration ---

func (d *delegate) selectJobKeys(ctx context.Context, tx *sql.Tx, group string) ([]job.Key, error) {
	query := `SELECT job_name, job_group FROM qrtz_job_details WHERE sched_name = ?`
	args := []any{d.schedName}
	if group != "" {
		query += ` AND job_group = ?`
		args = append(args, group)
	}
	rows, err := tx.QueryContext(ctx, d.q(query+` ORDER BY job_group, job_name`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]job.Key, 0)
	for rows.Next() {
		var k job.Key
		if err := rows.Scan(&k.Name, &k.Group); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (d *delegate) selectTriggerKeys(ctx context.Context, tx *sql.Tx, group string) ([]job.TriggerKey, error) {
	query := `SELECT trigger_name, trigger_group FROM qrtz_triggers WHERE sched_name = ?`
	args := []any{d.schedName}
	if group != "" {
		query += ` AND trigger_group = ?`
		args = append(args, group)
	}
	rows, err := tx.QueryContext(ctx, d.q(query+` ORDER BY trigger_group, trigger_name`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTriggerKeys(rows)
}

func (d *delegate) selectTriggerKeysForJob(ctx context.Context, tx *sql.Tx, key job.Key) ([]job.TriggerKey, error) {
	rows, err := tx.QueryContext(ctx, d.q(`SELECT trigger_name, trigger_group
		FROM qrtz_triggers WHERE sched_name = ? AND job_name = ? AND job_group = ?
		ORDER BY trigger_group, trigger_name`),
		d.schedName, key.Name, key.Group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTriggerKeys(rows)
}

func (d *delegate) selectGroups(ctx context.Context, tx *sql.Tx, table, column string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, d.q(fmt.Sprintf(
		`SELECT DISTINCT %s FROM %s WHERE sched_name = ? ORDER BY %s`, column, table, column)),
		d.schedName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (d *delegate) count(ctx context.Context, tx *sql.Tx, table string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, d.q(fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE sched_name = ?`, table)), d.schedName).Scan(&n)
	return n, err
}

func (d *delegate) deleteAll(ctx context.Context, tx *sql.Tx) error {
	// Subtype and dependent tables first to satisfy foreign keys.
	tables := []string{
		tableSimpleTriggers, tableCronTriggers, tableSimpropTriggers,
		tableBlobTriggers, tableFiredTriggers, tableTriggers,
		tableJobDetails, tableCalendars, tablePausedGroups,
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, d.q(fmt.Sprintf(
			`DELETE FROM %s WHERE sched_name = ?`, table)), d.schedName); err != nil {
			return err
		}
	}
	return nil
}

func scanTriggerKeys(rows *sql.Rows) ([]job.TriggerKey, error) {
	out := make([]job.TriggerKey, 0)
	for rows.Next() {
		var k job.TriggerKey
		if err := rows.Scan(&k.Name, &k.Group); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	out := make([]string, 0)
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
