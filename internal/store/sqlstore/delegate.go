package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chronex-io/chronex/internal/job"
	"github.com/chronex-io/chronex/internal/trigger"
)

// delegate owns the SQL for jobs, triggers and their subtype tables. Every
// method runs inside a caller-provided transaction; the caller holds the
// appropriate named lock.
type delegate struct {
	dialect   Dialect
	schedName string
}

func (d *delegate) q(query string) string { return d.dialect.Rebind(query) }

// --- time conversions: fire times persist as epoch milliseconds ---

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// --- job details ---

func (d *delegate) insertJobDetail(ctx context.Context, tx *sql.Tx, detail *job.Detail) error {
	data, err := detail.Data.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode job data: %w", err)
	}
	_, err = tx.ExecContext(ctx, d.q(`INSERT INTO qrtz_job_details
		(sched_name, job_name, job_group, description, job_class_name,
		 is_durable, is_nonconcurrent, is_update_data, requests_recovery, job_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.schedName, detail.Key.Name, detail.Key.Group, nullString(detail.Description),
		detail.Type, detail.Durable, detail.ConcurrentExecutionDisallowed,
		detail.PersistDataAfterExecution, detail.RequestsRecovery, data)
	return err
}

func (d *delegate) updateJobDetail(ctx context.Context, tx *sql.Tx, detail *job.Detail) error {
	data, err := detail.Data.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode job data: %w", err)
	}
	_, err = tx.ExecContext(ctx, d.q(`UPDATE qrtz_job_details SET
		description = ?, job_class_name = ?, is_durable = ?, is_nonconcurrent = ?,
		is_update_data = ?, requests_recovery = ?, job_data = ?
		WHERE sched_name = ? AND job_name = ? AND job_group = ?`),
		nullString(detail.Description), detail.Type, detail.Durable,
		detail.ConcurrentExecutionDisallowed, detail.PersistDataAfterExecution,
		detail.RequestsRecovery, data,
		d.schedName, detail.Key.Name, detail.Key.Group)
	return err
}

func (d *delegate) updateJobData(ctx context.Context, tx *sql.Tx, key job.Key, data job.DataMap) error {
	raw, err := data.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode job data: %w", err)
	}
	_, err = tx.ExecContext(ctx, d.q(`UPDATE qrtz_job_details SET job_data = ?
		WHERE sched_name = ? AND job_name = ? AND job_group = ?`),
		raw, d.schedName, key.Name, key.Group)
	return err
}

func (d *delegate) selectJobDetail(ctx context.Context, tx *sql.Tx, key job.Key) (*job.Detail, error) {
	row := tx.QueryRowContext(ctx, d.q(`SELECT description, job_class_name,
		is_durable, is_nonconcurrent, is_update_data, requests_recovery, job_data
		FROM qrtz_job_details WHERE sched_name = ? AND job_name = ? AND job_group = ?`),
		d.schedName, key.Name, key.Group)

	detail := &job.Detail{Key: key}
	var desc sql.NullString
	var data []byte
	err := row.Scan(&desc, &detail.Type, &detail.Durable,
		&detail.ConcurrentExecutionDisallowed, &detail.PersistDataAfterExecution,
		&detail.RequestsRecovery, &data)
	if err != nil {
		return nil, err
	}
	detail.Description = desc.String
	detail.Data = job.DataMap{}
	if len(data) > 0 {
		if err := detail.Data.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("decode job data for %s: %w", key, err)
		}
	}
	return detail, nil
}

func (d *delegate) deleteJobDetail(ctx context.Context, tx *sql.Tx, key job.Key) (bool, error) {
	res, err := tx.ExecContext(ctx, d.q(`DELETE FROM qrtz_job_details
		WHERE sched_name = ? AND job_name = ? AND job_group = ?`),
		d.schedName, key.Name, key.Group)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (d *delegate) jobExists(ctx context.Context, tx *sql.Tx, key job.Key) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, d.q(`SELECT 1 FROM qrtz_job_details
		WHERE sched_name = ? AND job_name = ? AND job_group = ?`),
		d.schedName, key.Name, key.Group).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// --- trigger base rows ---

type triggerRow struct {
	trig  trigger.Operable
	state trigger.State
}

func (d *delegate) insertTrigger(ctx context.Context, tx *sql.Tx, t trigger.Operable, state trigger.State) error {
	data, err := t.JobData().MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode trigger data: %w", err)
	}
	start := t.StartTime()
	_, err = tx.ExecContext(ctx, d.q(`INSERT INTO qrtz_triggers
		(sched_name, trigger_name, trigger_group, job_name, job_group, description,
		 next_fire_time, prev_fire_time, priority, trigger_state, trigger_type,
		 start_time, end_time, calendar_name, misfire_instr, job_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.schedName, t.Key().Name, t.Key().Group, t.JobKey().Name, t.JobKey().Group,
		nullString(t.Description()), toMillis(t.NextFireTime()), toMillis(t.PreviousFireTime()),
		t.Priority(), string(state), t.Type(), start.UnixMilli(), toMillis(t.EndTime()),
		nullString(t.CalendarName()), t.MisfireInstruction(), data)
	if err != nil {
		return err
	}
	return d.insertSubtype(ctx, tx, t)
}

func (d *delegate) updateTrigger(ctx context.Context, tx *sql.Tx, t trigger.Operable) error {
	data, err := t.JobData().MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode trigger data: %w", err)
	}
	_, err = tx.ExecContext(ctx, d.q(`UPDATE qrtz_triggers SET
		job_name = ?, job_group = ?, description = ?, next_fire_time = ?,
		prev_fire_time = ?, priority = ?, trigger_type = ?, start_time = ?,
		end_time = ?, calendar_name = ?, misfire_instr = ?, job_data = ?
		WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`),
		t.JobKey().Name, t.JobKey().Group, nullString(t.Description()),
		toMillis(t.NextFireTime()), toMillis(t.PreviousFireTime()), t.Priority(),
		t.Type(), t.StartTime().UnixMilli(), toMillis(t.EndTime()),
		nullString(t.CalendarName()), t.MisfireInstruction(), data,
		d.schedName, t.Key().Name, t.Key().Group)
	if err != nil {
		return err
	}
	if err := d.deleteSubtype(ctx, tx, t.Key(), t.Type()); err != nil {
		return err
	}
	return d.insertSubtype(ctx, tx, t)
}

func (d *delegate) selectTrigger(ctx context.Context, tx *sql.Tx, key job.TriggerKey) (*triggerRow, error) {
	row := tx.QueryRowContext(ctx, d.q(`SELECT job_name, job_group, description,
		next_fire_time, prev_fire_time, priority, trigger_state, trigger_type,
		start_time, end_time, calendar_name, misfire_instr, job_data
		FROM qrtz_triggers WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`),
		d.schedName, key.Name, key.Group)

	var (
		jobName, jobGroup, state, triggerType string
		desc, calName                         sql.NullString
		next, prev, end                       sql.NullInt64
		startMillis                           int64
		priority, misfire                     int
		data                                  []byte
	)
	err := row.Scan(&jobName, &jobGroup, &desc, &next, &prev, &priority, &state,
		&triggerType, &startMillis, &end, &calName, &misfire, &data)
	if err != nil {
		return nil, err
	}

	t, err := d.selectSubtype(ctx, tx, key, triggerType)
	if err != nil {
		return nil, err
	}

	t.SetKey(key)
	t.SetJobKey(job.Key{Group: jobGroup, Name: jobName})
	t.SetDescription(desc.String)
	t.SetCalendarName(calName.String)
	t.SetPriority(priority)
	t.SetMisfireInstruction(misfire)
	t.SetStartTime(time.UnixMilli(startMillis).UTC())
	t.SetEndTime(fromMillis(end))
	t.SetNextFireTime(fromMillis(next))
	t.SetPreviousFireTime(fromMillis(prev))
	dm := job.DataMap{}
	if len(data) > 0 {
		if err := dm.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("decode trigger data for %s: %w", key, err)
		}
	}
	t.SetJobData(dm)
	return &triggerRow{trig: t, state: trigger.State(state)}, nil
}

func (d *delegate) deleteTrigger(ctx context.Context, tx *sql.Tx, key job.TriggerKey) (bool, error) {
	// Subtype rows cascade, but not every engine configuration honors the
	// constraint, so delete explicitly.
	for _, table := range []string{tableSimpleTriggers, tableCronTriggers, tableSimpropTriggers, tableBlobTriggers} {
		if _, err := tx.ExecContext(ctx, d.q(fmt.Sprintf(
			`DELETE FROM %s WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`, table)),
			d.schedName, key.Name, key.Group); err != nil {
			return false, err
		}
	}
	res, err := tx.ExecContext(ctx, d.q(`DELETE FROM qrtz_triggers
		WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`),
		d.schedName, key.Name, key.Group)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- trigger subtype rows ---

func (d *delegate) insertSubtype(ctx context.Context, tx *sql.Tx, t trigger.Operable) error {
	key := t.Key()
	switch v := t.(type) {
	case *trigger.Simple:
		_, err := tx.ExecContext(ctx, d.q(`INSERT INTO qrtz_simple_triggers
			(sched_name, trigger_name, trigger_group, repeat_count, repeat_interval, times_triggered)
			VALUES (?, ?, ?, ?, ?, ?)`),
			d.schedName, key.Name, key.Group, v.RepeatCount, v.RepeatInterval.Milliseconds(), v.TimesTriggered)
		return err
	case *trigger.Cron:
		_, err := tx.ExecContext(ctx, d.q(`INSERT INTO qrtz_cron_triggers
			(sched_name, trigger_name, trigger_group, cron_expression, time_zone_id)
			VALUES (?, ?, ?, ?, ?)`),
			d.schedName, key.Name, key.Group, v.Expression, nullString(v.Timezone))
		return err
	case *trigger.CalendarInterval:
		_, err := tx.ExecContext(ctx, d.q(`INSERT INTO qrtz_simprop_triggers
			(sched_name, trigger_name, trigger_group, int1, int2, str1, bool1, bool2, time_zone_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			d.schedName, key.Name, key.Group, v.Interval, v.TimesTriggered,
			string(v.IntervalUnit), v.PreserveHourOfDay, v.SkipDayIfHourDoesNotExist,
			nullString(v.Timezone))
		return err
	case *trigger.DailyInterval:
		_, err := tx.ExecContext(ctx, d.q(`INSERT INTO qrtz_simprop_triggers
			(sched_name, trigger_name, trigger_group, int1, int2, long1, str1, str2, str3, time_zone_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			d.schedName, key.Name, key.Group, v.Interval, v.TimesTriggered,
			v.RepeatCount, string(v.IntervalUnit), encodeWeekdays(v.DaysOfWeek),
			fmt.Sprintf("%s-%s", v.StartTimeOfDay, v.EndTimeOfDay), nullString(v.Timezone))
		return err
	case *trigger.CustomCalendar:
		_, err := tx.ExecContext(ctx, d.q(`INSERT INTO qrtz_simprop_triggers
			(sched_name, trigger_name, trigger_group, int1, int2, long1, long2, str1, str2, str3, time_zone_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			d.schedName, key.Name, key.Group, v.Interval, v.TimesTriggered,
			v.RepeatCount, v.ByMonth, string(v.IntervalUnit),
			nullString(v.ByMonthDay), nullString(v.ByDay), nullString(v.Timezone))
		return err
	default:
		raw, err := trigger.Encode(t)
		if err != nil {
			return fmt.Errorf("encode blob trigger %s: %w", key, err)
		}
		_, err = tx.ExecContext(ctx, d.q(`INSERT INTO qrtz_blob_triggers
			(sched_name, trigger_name, trigger_group, blob_data) VALUES (?, ?, ?, ?)`),
			d.schedName, key.Name, key.Group, raw)
		return err
	}
}

func (d *delegate) deleteSubtype(ctx context.Context, tx *sql.Tx, key job.TriggerKey, triggerType string) error {
	var table string
	switch triggerType {
	case trigger.TypeSimple:
		table = tableSimpleTriggers
	case trigger.TypeCron:
		table = tableCronTriggers
	case trigger.TypeCalendarInterval, trigger.TypeDailyInterval, trigger.TypeCustomCalendar:
		table = tableSimpropTriggers
	default:
		table = tableBlobTriggers
	}
	_, err := tx.ExecContext(ctx, d.q(fmt.Sprintf(
		`DELETE FROM %s WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`, table)),
		d.schedName, key.Name, key.Group)
	return err
}

func (d *delegate) selectSubtype(ctx context.Context, tx *sql.Tx, key job.TriggerKey, triggerType string) (trigger.Operable, error) {
	switch triggerType {
	case trigger.TypeSimple:
		v := trigger.NewSimple()
		var intervalMillis int64
		err := tx.QueryRowContext(ctx, d.q(`SELECT repeat_count, repeat_interval, times_triggered
			FROM qrtz_simple_triggers WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`),
			d.schedName, key.Name, key.Group).Scan(&v.RepeatCount, &intervalMillis, &v.TimesTriggered)
		if err != nil {
			return nil, err
		}
		v.RepeatInterval = time.Duration(intervalMillis) * time.Millisecond
		return v, nil

	case trigger.TypeCron:
		v := trigger.NewCron()
		var tz sql.NullString
		err := tx.QueryRowContext(ctx, d.q(`SELECT cron_expression, time_zone_id
			FROM qrtz_cron_triggers WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`),
			d.schedName, key.Name, key.Group).Scan(&v.Expression, &tz)
		if err != nil {
			return nil, err
		}
		v.Timezone = tz.String
		return v, nil

	case trigger.TypeCalendarInterval:
		v := trigger.NewCalendarInterval()
		var unit string
		var tz sql.NullString
		err := tx.QueryRowContext(ctx, d.q(`SELECT int1, int2, str1, bool1, bool2, time_zone_id
			FROM qrtz_simprop_triggers WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`),
			d.schedName, key.Name, key.Group).Scan(&v.Interval, &v.TimesTriggered,
			&unit, &v.PreserveHourOfDay, &v.SkipDayIfHourDoesNotExist, &tz)
		if err != nil {
			return nil, err
		}
		v.IntervalUnit = trigger.IntervalUnit(unit)
		v.Timezone = tz.String
		return v, nil

	case trigger.TypeDailyInterval:
		v := trigger.NewDailyInterval()
		var unit, window string
		var days, tz sql.NullString
		err := tx.QueryRowContext(ctx, d.q(`SELECT int1, int2, long1, str1, str2, str3, time_zone_id
			FROM qrtz_simprop_triggers WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`),
			d.schedName, key.Name, key.Group).Scan(&v.Interval, &v.TimesTriggered,
			&v.RepeatCount, &unit, &days, &window, &tz)
		if err != nil {
			return nil, err
		}
		v.IntervalUnit = trigger.IntervalUnit(unit)
		v.DaysOfWeek = decodeWeekdays(days.String)
		v.Timezone = tz.String
		start, end, err := splitWindow(window)
		if err != nil {
			return nil, fmt.Errorf("trigger %s: %w", key, err)
		}
		v.StartTimeOfDay, v.EndTimeOfDay = start, end
		return v, nil

	case trigger.TypeCustomCalendar:
		v := trigger.NewCustomCalendar()
		var unit string
		var byMonthDay, byDay, tz sql.NullString
		err := tx.QueryRowContext(ctx, d.q(`SELECT int1, int2, long1, long2, str1, str2, str3, time_zone_id
			FROM qrtz_simprop_triggers WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`),
			d.schedName, key.Name, key.Group).Scan(&v.Interval, &v.TimesTriggered,
			&v.RepeatCount, &v.ByMonth, &unit, &byMonthDay, &byDay, &tz)
		if err != nil {
			return nil, err
		}
		v.IntervalUnit = trigger.IntervalUnit(unit)
		v.ByMonthDay = byMonthDay.String
		v.ByDay = byDay.String
		v.Timezone = tz.String
		return v, nil

	default:
		var raw []byte
		err := tx.QueryRowContext(ctx, d.q(`SELECT blob_data FROM qrtz_blob_triggers
			WHERE sched_name = ? AND trigger_name = ? AND trigger_group = ?`),
			d.schedName, key.Name, key.Group).Scan(&raw)
		if err != nil {
			return nil, err
		}
		return trigger.Decode(raw)
	}
}

func encodeWeekdays(days []time.Weekday) string {
	parts := make([]string, 0, len(days))
	for _, day := range days {
		parts = append(parts, strconv.Itoa(int(day)))
	}
	return strings.Join(parts, ",")
}

func decodeWeekdays(s string) []time.Weekday {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, time.Weekday(n))
	}
	return out
}

func splitWindow(s string) (trigger.TimeOfDay, trigger.TimeOfDay, error) {
	var sh, sm, ss, eh, em, es int
	if _, err := fmt.Sscanf(s, "%d:%d:%d-%d:%d:%d", &sh, &sm, &ss, &eh, &em, &es); err != nil {
		return trigger.TimeOfDay{}, trigger.TimeOfDay{}, fmt.Errorf("malformed daily window %q", s)
	}
	return trigger.NewTimeOfDay(sh, sm, ss), trigger.NewTimeOfDay(eh, em, es), nil
}
