package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// Table names. All tables are namespaced by sched_name so several scheduler
// clusters can share one database.
const (
	tableJobDetails       = "qrtz_job_details"
	tableTriggers         = "qrtz_triggers"
	tableSimpleTriggers   = "qrtz_simple_triggers"
	tableCronTriggers     = "qrtz_cron_triggers"
	tableSimpropTriggers  = "qrtz_simprop_triggers"
	tableBlobTriggers     = "qrtz_blob_triggers"
	tableCalendars        = "qrtz_calendars"
	tablePausedGroups     = "qrtz_paused_trigger_grps"
	tableFiredTriggers    = "qrtz_fired_triggers"
	tableSchedulerState   = "qrtz_scheduler_state"
	tableLocks            = "qrtz_locks"
)

// ddl lists the schema in dependency order. The statements use portable
// types; BYTEA vs BLOB is patched per dialect below.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS qrtz_job_details (
		sched_name        VARCHAR(120) NOT NULL,
		job_name          VARCHAR(190) NOT NULL,
		job_group         VARCHAR(190) NOT NULL,
		description       VARCHAR(250),
		job_class_name    VARCHAR(250) NOT NULL,
		is_durable        BOOLEAN      NOT NULL,
		is_nonconcurrent  BOOLEAN      NOT NULL,
		is_update_data    BOOLEAN      NOT NULL,
		requests_recovery BOOLEAN      NOT NULL,
		job_data          BLOB,
		PRIMARY KEY (sched_name, job_name, job_group)
	)`,
	`CREATE TABLE IF NOT EXISTS qrtz_triggers (
		sched_name     VARCHAR(120) NOT NULL,
		trigger_name   VARCHAR(190) NOT NULL,
		trigger_group  VARCHAR(190) NOT NULL,
		job_name       VARCHAR(190) NOT NULL,
		job_group      VARCHAR(190) NOT NULL,
		description    VARCHAR(250),
		next_fire_time BIGINT,
		prev_fire_time BIGINT,
		priority       INTEGER,
		trigger_state  VARCHAR(16)  NOT NULL,
		trigger_type   VARCHAR(10)  NOT NULL,
		start_time     BIGINT       NOT NULL,
		end_time       BIGINT,
		calendar_name  VARCHAR(190),
		misfire_instr  SMALLINT,
		job_data       BLOB,
		PRIMARY KEY (sched_name, trigger_name, trigger_group),
		FOREIGN KEY (sched_name, job_name, job_group)
			REFERENCES qrtz_job_details (sched_name, job_name, job_group)
	)`,
	`CREATE TABLE IF NOT EXISTS qrtz_simple_triggers (
		sched_name      VARCHAR(120) NOT NULL,
		trigger_name    VARCHAR(190) NOT NULL,
		trigger_group   VARCHAR(190) NOT NULL,
		repeat_count    BIGINT NOT NULL,
		repeat_interval BIGINT NOT NULL,
		times_triggered BIGINT NOT NULL,
		PRIMARY KEY (sched_name, trigger_name, trigger_group),
		FOREIGN KEY (sched_name, trigger_name, trigger_group)
			REFERENCES qrtz_triggers (sched_name, trigger_name, trigger_group) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS qrtz_cron_triggers (
		sched_name      VARCHAR(120) NOT NULL,
		trigger_name    VARCHAR(190) NOT NULL,
		trigger_group   VARCHAR(190) NOT NULL,
		cron_expression VARCHAR(120) NOT NULL,
		time_zone_id    VARCHAR(80),
		PRIMARY KEY (sched_name, trigger_name, trigger_group),
		FOREIGN KEY (sched_name, trigger_name, trigger_group)
			REFERENCES qrtz_triggers (sched_name, trigger_name, trigger_group) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS qrtz_simprop_triggers (
		sched_name    VARCHAR(120) NOT NULL,
		trigger_name  VARCHAR(190) NOT NULL,
		trigger_group VARCHAR(190) NOT NULL,
		str1          VARCHAR(512),
		str2          VARCHAR(512),
		str3          VARCHAR(512),
		int1          INTEGER,
		int2          INTEGER,
		long1         BIGINT,
		long2         BIGINT,
		dec1          NUMERIC(13,4),
		dec2          NUMERIC(13,4),
		bool1         BOOLEAN,
		bool2         BOOLEAN,
		time_zone_id  VARCHAR(80),
		PRIMARY KEY (sched_name, trigger_name, trigger_group),
		FOREIGN KEY (sched_name, trigger_name, trigger_group)
			REFERENCES qrtz_triggers (sched_name, trigger_name, trigger_group) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS qrtz_blob_triggers (
		sched_name    VARCHAR(120) NOT NULL,
		trigger_name  VARCHAR(190) NOT NULL,
		trigger_group VARCHAR(190) NOT NULL,
		blob_data     BLOB,
		PRIMARY KEY (sched_name, trigger_name, trigger_group),
		FOREIGN KEY (sched_name, trigger_name, trigger_group)
			REFERENCES qrtz_triggers (sched_name, trigger_name, trigger_group) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS qrtz_calendars (
		sched_name    VARCHAR(120) NOT NULL,
		calendar_name VARCHAR(190) NOT NULL,
		calendar      BLOB NOT NULL,
		PRIMARY KEY (sched_name, calendar_name)
	)`,
	`CREATE TABLE IF NOT EXISTS qrtz_paused_trigger_grps (
		sched_name    VARCHAR(120) NOT NULL,
		trigger_group VARCHAR(190) NOT NULL,
		PRIMARY KEY (sched_name, trigger_group)
	)`,
	`CREATE TABLE IF NOT EXISTS qrtz_fired_triggers (
		sched_name        VARCHAR(120) NOT NULL,
		entry_id          VARCHAR(95)  NOT NULL,
		trigger_name      VARCHAR(190) NOT NULL,
		trigger_group     VARCHAR(190) NOT NULL,
		instance_name     VARCHAR(190) NOT NULL,
		fired_time        BIGINT NOT NULL,
		sched_time        BIGINT NOT NULL,
		priority          INTEGER NOT NULL,
		state             VARCHAR(16) NOT NULL,
		job_name          VARCHAR(190),
		job_group         VARCHAR(190),
		is_nonconcurrent  BOOLEAN,
		requests_recovery BOOLEAN,
		PRIMARY KEY (sched_name, entry_id)
	)`,
	`CREATE TABLE IF NOT EXISTS qrtz_scheduler_state (
		sched_name        VARCHAR(120) NOT NULL,
		instance_name     VARCHAR(190) NOT NULL,
		last_checkin_time BIGINT NOT NULL,
		checkin_interval  BIGINT NOT NULL,
		PRIMARY KEY (sched_name, instance_name)
	)`,
	`CREATE TABLE IF NOT EXISTS qrtz_locks (
		sched_name VARCHAR(120) NOT NULL,
		lock_name  VARCHAR(40)  NOT NULL,
		PRIMARY KEY (sched_name, lock_name)
	)`,
}

// EnsureSchema creates the qrtz_* tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB, dialect Dialect) error {
	for _, stmt := range ddl {
		if dialect.Name() == "postgres" {
			stmt = replaceBlob(stmt)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func replaceBlob(stmt string) string {
	out := make([]byte, 0, len(stmt))
	for i := 0; i < len(stmt); {
		if i+4 <= len(stmt) && stmt[i:i+4] == "BLOB" {
			out = append(out, "BYTEA"...)
			i += 4
			continue
		}
		out = append(out, stmt[i])
		i++
	}
	return string(out)
}
