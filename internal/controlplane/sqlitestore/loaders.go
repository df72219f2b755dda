package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func epochPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	e := t.Unix()
	return &e
}

func timePtr(e *int64) *time.Time {
	if e == nil {
		return nil
	}
	t := time.Unix(*e, 0).UTC()
	return &t
}

func scanLoader(row interface{ Scan(...any) error }) (*domain.Loader, error) {
	var l domain.Loader
	var lastLoad, failedSince, aggPeriod sql.NullInt64
	var parentVersion sql.NullString
	var enabled int

	err := row.Scan(
		&l.LoaderCode, &l.SQL, &l.SourceDatabaseID,
		&l.MinIntervalSeconds, &l.MaxIntervalSeconds, &l.MaxQueryPeriodSeconds, &l.MaxParallelExecutions,
		&l.PurgeStrategy, &l.SourceTimezoneOffsetHours, &aggPeriod,
		&lastLoad, &failedSince, &l.ConsecutiveZeroRecordRuns,
		&l.LoadStatus, &enabled, &l.ApprovalStatus,
		&l.VersionNumber, &parentVersion, &l.VersionStatus,
	)
	if err != nil {
		return nil, err
	}
	l.Enabled = enabled != 0
	if lastLoad.Valid {
		l.LastLoadTimestamp = timePtr(&lastLoad.Int64)
	}
	if failedSince.Valid {
		l.FailedSince = timePtr(&failedSince.Int64)
	}
	if aggPeriod.Valid {
		v := int(aggPeriod.Int64)
		l.AggregationPeriodSeconds = &v
	}
	if parentVersion.Valid {
		l.ParentVersionID = &parentVersion.String
	}
	return &l, nil
}

const loaderColumns = `loader_code, sql, source_database_id,
	min_interval_seconds, max_interval_seconds, max_query_period_seconds, max_parallel_executions,
	purge_strategy, source_timezone_offset_hours, aggregation_period_seconds,
	last_load_timestamp, failed_since, consecutive_zero_record_runs,
	load_status, enabled, approval_status,
	version_number, parent_version_id, version_status`

func (s *Store) GetLoader(ctx context.Context, loaderCode string) (*domain.Loader, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loaderColumns+` FROM loaders WHERE loader_code = ?`, loaderCode)
	l, err := scanLoader(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("loader %q not found", loaderCode)
	}
	return l, err
}

func (s *Store) ListEligibleLoaders(ctx context.Context) ([]*domain.Loader, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+loaderColumns+` FROM loaders
		WHERE enabled = 1 AND approval_status = 'APPROVED' AND version_status = 'ACTIVE'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Loader
	for rows.Next() {
		l, err := scanLoader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) ListLoaders(ctx context.Context) ([]*domain.Loader, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+loaderColumns+` FROM loaders ORDER BY loader_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Loader
	for rows.Next() {
		l, err := scanLoader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) InsertLoader(ctx context.Context, l *domain.Loader) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO loaders (`+loaderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.LoaderCode, l.SQL, l.SourceDatabaseID,
		l.MinIntervalSeconds, l.MaxIntervalSeconds, l.MaxQueryPeriodSeconds, l.MaxParallelExecutions,
		l.PurgeStrategy, l.SourceTimezoneOffsetHours, l.AggregationPeriodSeconds,
		epochPtr(l.LastLoadTimestamp), epochPtr(l.FailedSince), l.ConsecutiveZeroRecordRuns,
		l.LoadStatus, boolToInt(l.Enabled), l.ApprovalStatus,
		l.VersionNumber, l.ParentVersionID, l.VersionStatus,
	)
	if isUniqueViolation(err) {
		return domain.NewConflictError("loader %q already exists", l.LoaderCode)
	}
	return err
}

func (s *Store) UpdateLoaderState(ctx context.Context, loaderCode string, u controlplane.LoaderStateUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var currentLast sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT last_load_timestamp FROM loaders WHERE loader_code = ?`, loaderCode).Scan(&currentLast); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewNotFoundError("loader %q not found", loaderCode)
		}
		return err
	}

	newLast := currentLast
	if u.LastLoadTimestamp != nil {
		if !currentLast.Valid || *u.LastLoadTimestamp >= currentLast.Int64 {
			newLast = sql.NullInt64{Int64: *u.LastLoadTimestamp, Valid: true}
		}
		// a regression is silently discarded per the monotonicity invariant
	}

	query := `UPDATE loaders SET last_load_timestamp = ?, load_status = ? `
	args := []any{nullableInt64(newLast), u.LoadStatus}

	if u.ResetZeroRecordRuns {
		query += `, consecutive_zero_record_runs = 0 `
	} else if u.ConsecutiveZeroRecordRuns != nil {
		query += `, consecutive_zero_record_runs = ? `
		args = append(args, *u.ConsecutiveZeroRecordRuns)
	}

	if u.ClearFailedSince {
		query += `, failed_since = NULL `
	} else if u.FailedSince != nil {
		query += `, failed_since = COALESCE(failed_since, ?) `
		args = append(args, *u.FailedSince)
	}

	query += `WHERE loader_code = ?`
	args = append(args, loaderCode)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func nullableInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return &n.Int64
}

func (s *Store) SetEnabled(ctx context.Context, loaderCode string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE loaders SET enabled = ? WHERE loader_code = ?`, boolToInt(enabled), loaderCode)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, loaderCode)
}

func (s *Store) DeleteLoader(ctx context.Context, loaderCode string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM loaders WHERE loader_code = ?`, loaderCode)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, loaderCode)
}

func checkRowsAffected(res sql.Result, loaderCode string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewNotFoundError("loader %q not found", loaderCode)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
