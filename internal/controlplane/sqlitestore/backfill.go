package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func scanBackfill(row interface{ Scan(...any) error }) (*domain.BackfillJob, error) {
	var j domain.BackfillJob
	var requestedAt int64
	var replica, errMsg sql.NullString
	var start, end sql.NullInt64

	err := row.Scan(&j.ID, &j.LoaderCode, &j.FromEpoch, &j.ToEpoch, &j.PurgeStrategy, &j.Status,
		&j.RequestedBy, &requestedAt, &replica, &start, &end,
		&j.RecordsPurged, &j.RecordsLoaded, &j.RecordsIngested, &errMsg)
	if err != nil {
		return nil, err
	}
	j.RequestedAt = time.Unix(requestedAt, 0).UTC()
	j.ReplicaName = replica.String
	j.ErrorMessage = errMsg.String
	if start.Valid {
		t := time.Unix(start.Int64, 0).UTC()
		j.StartTime = &t
	}
	if end.Valid {
		t := time.Unix(end.Int64, 0).UTC()
		j.EndTime = &t
	}
	return &j, nil
}

const backfillColumns = `id, loader_code, from_epoch, to_epoch, purge_strategy, status,
	requested_by, requested_at, replica_name, start_time, end_time,
	records_purged, records_loaded, records_ingested, error_message`

func (s *Store) InsertBackfill(ctx context.Context, j *domain.BackfillJob) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO backfill_jobs (`+backfillColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.LoaderCode, j.FromEpoch, j.ToEpoch, j.PurgeStrategy, j.Status,
		j.RequestedBy, j.RequestedAt.Unix(), nullString(j.ReplicaName), nil, nil, 0, 0, 0, nullString(j.ErrorMessage))
	return err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) GetBackfill(ctx context.Context, id string) (*domain.BackfillJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+backfillColumns+` FROM backfill_jobs WHERE id = ?`, id)
	j, err := scanBackfill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("backfill job %q not found", id)
	}
	return j, err
}

func (s *Store) ListBackfillsByLoader(ctx context.Context, loaderCode string) ([]*domain.BackfillJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+backfillColumns+` FROM backfill_jobs WHERE loader_code = ? ORDER BY requested_at`, loaderCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.BackfillJob
	for rows.Next() {
		j, err := scanBackfill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) ListBackfillsByStatus(ctx context.Context, status domain.BackfillStatus) ([]*domain.BackfillJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+backfillColumns+` FROM backfill_jobs WHERE status = ? ORDER BY requested_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.BackfillJob
	for rows.Next() {
		j, err := scanBackfill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) CountActiveBackfillsForLoader(ctx context.Context, loaderCode string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM backfill_jobs WHERE loader_code = ? AND status IN ('PENDING','RUNNING')`, loaderCode).Scan(&n)
	return n, err
}

func (s *Store) UpdateBackfill(ctx context.Context, j *domain.BackfillJob) error {
	var start, end *int64
	if j.StartTime != nil {
		v := j.StartTime.Unix()
		start = &v
	}
	if j.EndTime != nil {
		v := j.EndTime.Unix()
		end = &v
	}
	_, err := s.db.ExecContext(ctx, `UPDATE backfill_jobs SET
		status = ?, replica_name = ?, start_time = ?, end_time = ?,
		records_purged = ?, records_loaded = ?, records_ingested = ?, error_message = ?
		WHERE id = ?`,
		j.Status, nullString(j.ReplicaName), start, end,
		j.RecordsPurged, j.RecordsLoaded, j.RecordsIngested, nullString(j.ErrorMessage), j.ID)
	return err
}
