package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

const loaderColumns = `loader_code, sql, source_database_id,
	min_interval_seconds, max_interval_seconds, max_query_period_seconds, max_parallel_executions,
	purge_strategy, source_timezone_offset_hours, aggregation_period_seconds,
	last_load_timestamp, failed_since, consecutive_zero_record_runs,
	load_status, enabled, approval_status,
	version_number, parent_version_id, version_status`

func scanLoader(row pgx.Row) (*domain.Loader, error) {
	var l domain.Loader
	err := row.Scan(
		&l.LoaderCode, &l.SQL, &l.SourceDatabaseID,
		&l.MinIntervalSeconds, &l.MaxIntervalSeconds, &l.MaxQueryPeriodSeconds, &l.MaxParallelExecutions,
		&l.PurgeStrategy, &l.SourceTimezoneOffsetHours, &l.AggregationPeriodSeconds,
		&l.LastLoadTimestamp, &l.FailedSince, &l.ConsecutiveZeroRecordRuns,
		&l.LoadStatus, &l.Enabled, &l.ApprovalStatus,
		&l.VersionNumber, &l.ParentVersionID, &l.VersionStatus,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) GetLoader(ctx context.Context, loaderCode string) (*domain.Loader, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+loaderColumns+` FROM loaders WHERE loader_code = $1`, loaderCode)
	l, err := scanLoader(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("loader %q not found", loaderCode)
	}
	return l, err
}

func (s *Store) ListEligibleLoaders(ctx context.Context) ([]*domain.Loader, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+loaderColumns+` FROM loaders
		WHERE enabled AND approval_status = 'APPROVED' AND version_status = 'ACTIVE'`)
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
	rows, err := s.pool.Query(ctx, `SELECT `+loaderColumns+` FROM loaders ORDER BY loader_code`)
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
	_, err := s.pool.Exec(ctx, `INSERT INTO loaders (`+loaderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		l.LoaderCode, l.SQL, l.SourceDatabaseID,
		l.MinIntervalSeconds, l.MaxIntervalSeconds, l.MaxQueryPeriodSeconds, l.MaxParallelExecutions,
		l.PurgeStrategy, l.SourceTimezoneOffsetHours, l.AggregationPeriodSeconds,
		l.LastLoadTimestamp, l.FailedSince, l.ConsecutiveZeroRecordRuns,
		l.LoadStatus, l.Enabled, l.ApprovalStatus,
		l.VersionNumber, l.ParentVersionID, l.VersionStatus,
	)
	if isUniqueViolation(err) {
		return domain.NewConflictError("loader %q already exists", l.LoaderCode)
	}
	return err
}

func (s *Store) UpdateLoaderState(ctx context.Context, loaderCode string, u controlplane.LoaderStateUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var currentLast *int64
	if err := tx.QueryRow(ctx, `SELECT last_load_timestamp FROM loaders WHERE loader_code = $1 FOR UPDATE`, loaderCode).Scan(&currentLast); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("loader %q not found", loaderCode)
		}
		return err
	}

	newLast := currentLast
	if u.LastLoadTimestamp != nil {
		if currentLast == nil || *u.LastLoadTimestamp >= *currentLast {
			v := *u.LastLoadTimestamp
			newLast = &v
		}
		// a regression is silently discarded per the monotonicity invariant
	}

	query := `UPDATE loaders SET last_load_timestamp = $1, load_status = $2`
	args := []any{newLast, u.LoadStatus}
	n := 3

	switch {
	case u.ResetZeroRecordRuns:
		query += `, consecutive_zero_record_runs = 0`
	case u.ConsecutiveZeroRecordRuns != nil:
		query += fmt.Sprintf(`, consecutive_zero_record_runs = $%d`, n)
		args = append(args, *u.ConsecutiveZeroRecordRuns)
		n++
	}

	switch {
	case u.ClearFailedSince:
		query += `, failed_since = NULL`
	case u.FailedSince != nil:
		query += fmt.Sprintf(`, failed_since = COALESCE(failed_since, $%d)`, n)
		args = append(args, *u.FailedSince)
		n++
	}

	query += fmt.Sprintf(` WHERE loader_code = $%d`, n)
	args = append(args, loaderCode)

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) SetEnabled(ctx context.Context, loaderCode string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE loaders SET enabled = $1 WHERE loader_code = $2`, enabled, loaderCode)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("loader %q not found", loaderCode)
	}
	return nil
}

func (s *Store) DeleteLoader(ctx context.Context, loaderCode string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM loaders WHERE loader_code = $1`, loaderCode)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("loader %q not found", loaderCode)
	}
	return nil
}
