package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Querier is the subset of *sql.DB and *sql.Tx used by the stores.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLDB is a Querier that can also start transactions.
type SQLDB interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

var (
	_ SQLDB   = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

const schemaName = "calblock"

// Open opens the SQLite database at path with foreign keys, WAL and
// immediate transactions enabled.
func Open(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database %s unreachable: %w", path, err)
	}
	return db, nil
}

// migrations are applied in order; the db_version row records how many ran.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS calendars (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		enable_blocking INTEGER NOT NULL DEFAULT 0,
		receive_blocks INTEGER NOT NULL DEFAULT 0,
		remote_id TEXT NOT NULL DEFAULT '',
		provider_config TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		calendar_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		start_at INTEGER NOT NULL,
		end_at INTEGER NOT NULL,
		is_blocking INTEGER NOT NULL DEFAULT 0,
		source_event_id TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (calendar_id) REFERENCES calendars(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_events_calendar_range ON events (calendar_id, start_at, end_at);
	CREATE INDEX IF NOT EXISTS idx_events_range ON events (start_at, end_at);

	CREATE TABLE IF NOT EXISTS tokens (
		account_name TEXT PRIMARY KEY,
		token TEXT NOT NULL
	);`,

	`CREATE TABLE IF NOT EXISTS blocking_relationships (
		id TEXT PRIMARY KEY,
		source_calendar_id TEXT NOT NULL,
		source_event_id TEXT NOT NULL UNIQUE
	);
	CREATE INDEX IF NOT EXISTS idx_relationships_source_calendar ON blocking_relationships (source_calendar_id);

	CREATE TABLE IF NOT EXISTS blocked_events (
		id TEXT PRIMARY KEY,
		relationship_id TEXT NOT NULL,
		target_calendar_id TEXT NOT NULL,
		target_event_id TEXT NOT NULL,
		FOREIGN KEY (relationship_id) REFERENCES blocking_relationships(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_blocked_events_target ON blocked_events (target_calendar_id);
	CREATE INDEX IF NOT EXISTS idx_blocked_events_relationship ON blocked_events (relationship_id);`,

	`CREATE INDEX IF NOT EXISTS idx_events_external ON events (calendar_id, external_id);`,
}

// SchemaVersion is the version InitDB migrates to.
func SchemaVersion() int {
	return len(migrations)
}

// InitDB creates the version table and applies every pending migration.
// PRE: db was opened with Open (foreign keys on)
// POST: schema is at SchemaVersion()
func InitDB(ctx context.Context, db SQLDB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS db_version (
		name TEXT PRIMARY KEY,
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create db_version table: %w", err)
	}

	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM db_version WHERE name = ?`, schemaName).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := db.ExecContext(ctx, `INSERT INTO db_version (name, version) VALUES (?, 0)`, schemaName); err != nil {
			return fmt.Errorf("initialize db_version: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("read db_version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		step := i + 1
		err := WithTx(ctx, db, func(q Querier) error {
			if _, err := q.ExecContext(ctx, migrations[i]); err != nil {
				return err
			}
			_, err := q.ExecContext(ctx, `UPDATE db_version SET version = ? WHERE name = ?`, step, schemaName)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %d: %w", step, err)
		}
	}
	return nil
}

// WithTx runs fn inside a transaction. When q cannot begin a transaction
// (it already is one) fn runs directly against q and the caller owns
// commit and rollback.
func WithTx(ctx context.Context, q Querier, fn func(Querier) error) error {
	db, ok := q.(SQLDB)
	if !ok {
		return fn(q)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Placeholders returns "?, ?, ..." with n markers and the values as args.
func Placeholders(values []string) (string, []any) {
	if len(values) == 0 {
		return "", nil
	}
	args := make([]any, len(values))
	marks := make([]byte, 0, len(values)*3)
	for i, v := range values {
		if i > 0 {
			marks = append(marks, ", "...)
		}
		marks = append(marks, '?')
		args[i] = v
	}
	return string(marks), args
}
