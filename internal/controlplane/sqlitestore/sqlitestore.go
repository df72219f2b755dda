// Package sqlitestore is a pure-Go, modernc.org/sqlite-backed
// implementation of controlplane.Store. It exists for fast unit tests and
// local development that don't want a live PostgreSQL instance; it
// implements the exact same invariants (atomic lock acquisition via a
// transaction, one active config plan per parent, etc.) as the
// production pgstore implementation.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB opened against the modernc.org/sqlite driver.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) a sqlite database at dsn (":memory:" for an
// ephemeral test database) and applies the control-plane schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1) // avoid SQLITE_BUSY across writers; fine for tests
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaDDL)
	return err
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS loaders (
	loader_code TEXT PRIMARY KEY,
	sql TEXT NOT NULL,
	source_database_id TEXT NOT NULL,
	min_interval_seconds INTEGER NOT NULL,
	max_interval_seconds INTEGER NOT NULL,
	max_query_period_seconds INTEGER NOT NULL,
	max_parallel_executions INTEGER NOT NULL,
	purge_strategy TEXT NOT NULL,
	source_timezone_offset_hours INTEGER NOT NULL DEFAULT 0,
	aggregation_period_seconds INTEGER,
	last_load_timestamp INTEGER,
	failed_since INTEGER,
	consecutive_zero_record_runs INTEGER NOT NULL DEFAULT 0,
	load_status TEXT NOT NULL DEFAULT 'IDLE',
	enabled INTEGER NOT NULL DEFAULT 0,
	approval_status TEXT NOT NULL DEFAULT 'PENDING_APPROVAL',
	version_number INTEGER NOT NULL DEFAULT 1,
	parent_version_id TEXT,
	version_status TEXT NOT NULL DEFAULT 'DRAFT'
);

CREATE TABLE IF NOT EXISTS source_databases (
	db_code TEXT PRIMARY KEY,
	db_type TEXT NOT NULL,
	host TEXT NOT NULL,
	port INTEGER NOT NULL,
	db_name TEXT NOT NULL,
	user_name TEXT NOT NULL,
	password TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS loader_execution_locks (
	lock_id TEXT PRIMARY KEY,
	loader_code TEXT NOT NULL,
	replica_name TEXT NOT NULL,
	acquired_at INTEGER NOT NULL,
	released_at INTEGER,
	released INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_locks_loader_active ON loader_execution_locks(loader_code, released);

CREATE TABLE IF NOT EXISTS load_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	loader_code TEXT NOT NULL,
	replica_name TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	end_time INTEGER,
	query_from_time INTEGER NOT NULL,
	query_to_time INTEGER NOT NULL,
	actual_from_time INTEGER,
	actual_to_time INTEGER,
	records_loaded INTEGER NOT NULL DEFAULT 0,
	records_ingested INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_history_loader ON load_history(loader_code, start_time);

CREATE TABLE IF NOT EXISTS signal_history (
	loader_code TEXT NOT NULL,
	load_timestamp INTEGER NOT NULL,
	segment_code INTEGER NOT NULL,
	rec_count INTEGER NOT NULL,
	min REAL NOT NULL,
	max REAL NOT NULL,
	avg REAL NOT NULL,
	sum REAL NOT NULL,
	create_time INTEGER NOT NULL,
	PRIMARY KEY (loader_code, load_timestamp, segment_code)
);
CREATE INDEX IF NOT EXISTS idx_signals_range ON signal_history(loader_code, load_timestamp);

CREATE TABLE IF NOT EXISTS segment_combinations (
	loader_code TEXT NOT NULL,
	segment1 TEXT, segment2 TEXT, segment3 TEXT, segment4 TEXT, segment5 TEXT,
	segment6 TEXT, segment7 TEXT, segment8 TEXT, segment9 TEXT, segment10 TEXT,
	segment_code INTEGER NOT NULL,
	PRIMARY KEY (loader_code, segment_code)
);

CREATE TABLE IF NOT EXISTS backfill_jobs (
	id TEXT PRIMARY KEY,
	loader_code TEXT NOT NULL,
	from_epoch INTEGER NOT NULL,
	to_epoch INTEGER NOT NULL,
	purge_strategy TEXT NOT NULL,
	status TEXT NOT NULL,
	requested_by TEXT NOT NULL,
	requested_at INTEGER NOT NULL,
	replica_name TEXT,
	start_time INTEGER,
	end_time INTEGER,
	records_purged INTEGER NOT NULL DEFAULT 0,
	records_loaded INTEGER NOT NULL DEFAULT 0,
	records_ingested INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_backfill_loader_status ON backfill_jobs(loader_code, status);

CREATE TABLE IF NOT EXISTS approval_requests (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	status TEXT NOT NULL,
	request_data BLOB,
	submitted_by TEXT NOT NULL,
	submitted_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_approval_entity ON approval_requests(entity_type, entity_id, status);

CREATE TABLE IF NOT EXISTS approval_actions (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	action_by TEXT NOT NULL,
	action_at INTEGER NOT NULL,
	previous_status TEXT NOT NULL,
	new_status TEXT NOT NULL,
	justification TEXT
);
CREATE INDEX IF NOT EXISTS idx_actions_request ON approval_actions(request_id);

CREATE TABLE IF NOT EXISTS loader_archive (
	loader_code TEXT NOT NULL,
	version_number INTEGER NOT NULL,
	loader_json BLOB NOT NULL,
	archived_at INTEGER,
	archived_by TEXT,
	archive_reason TEXT,
	rejected INTEGER NOT NULL DEFAULT 0,
	rejected_by TEXT,
	rejection_reason TEXT,
	PRIMARY KEY (loader_code, version_number)
);

CREATE TABLE IF NOT EXISTS config_plans (
	parent TEXT NOT NULL,
	plan_name TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 0,
	description TEXT,
	PRIMARY KEY (parent, plan_name)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_config_plans_active ON config_plans(parent) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS config_values (
	parent TEXT NOT NULL,
	plan_name TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (parent, plan_name, key)
);
`
