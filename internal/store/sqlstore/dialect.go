package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect abstracts the differences between supported databases: placeholder
// style and the row-lock acquisition statement.
type Dialect interface {
	Name() string
	// Rebind converts '?' placeholders to the dialect's native style.
	Rebind(query string) string
	// SelectForUpdate returns the statement that locks a qrtz_locks row.
	SelectForUpdate() string
	// InsertIgnoreLock returns the statement that creates a lock row,
	// tolerating a concurrent insert of the same row.
	InsertIgnoreLock() string
}

// MySQLDialect targets MySQL and compatible servers via go-sql-driver.
type MySQLDialect struct{}

func (MySQLDialect) Name() string               { return "mysql" }
func (MySQLDialect) Rebind(query string) string { return query }

func (MySQLDialect) SelectForUpdate() string {
	return "SELECT lock_name FROM qrtz_locks WHERE sched_name = ? AND lock_name = ? FOR UPDATE"
}

func (MySQLDialect) InsertIgnoreLock() string {
	return "INSERT IGNORE INTO qrtz_locks (sched_name, lock_name) VALUES (?, ?)"
}

// PostgresDialect targets PostgreSQL via the pgx stdlib driver.
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) Rebind(query string) string {
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (PostgresDialect) SelectForUpdate() string {
	return "SELECT lock_name FROM qrtz_locks WHERE sched_name = $1 AND lock_name = $2 FOR UPDATE"
}

func (PostgresDialect) InsertIgnoreLock() string {
	return "INSERT INTO qrtz_locks (sched_name, lock_name) VALUES ($1, $2) ON CONFLICT DO NOTHING"
}

// DialectByName resolves a driver name to its dialect.
func DialectByName(name string) (Dialect, error) {
	switch name {
	case "mysql":
		return MySQLDialect{}, nil
	case "postgres", "pgx":
		return PostgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", name)
	}
}
