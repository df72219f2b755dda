package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

const backfillColumns = `id, loader_code, from_epoch, to_epoch, purge_strategy, status,
	requested_by, requested_at, replica_name, start_time, end_time,
	records_purged, records_loaded, records_ingested, error_message`

func scanBackfill(row pgx.Row) (*domain.BackfillJob, error) {
	var j domain.BackfillJob
	if err := row.Scan(&j.ID, &j.LoaderCode, &j.FromEpoch, &j.ToEpoch, &j.PurgeStrategy, &j.Status,
		&j.RequestedBy, &j.RequestedAt, &j.ReplicaName, &j.StartTime, &j.EndTime,
		&j.RecordsPurged, &j.RecordsLoaded, &j.RecordsIngested, &j.ErrorMessage); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) InsertBackfill(ctx context.Context, j *domain.BackfillJob) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO backfill_jobs (`+backfillColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		j.ID, j.LoaderCode, j.FromEpoch, j.ToEpoch, j.PurgeStrategy, j.Status,
		j.RequestedBy, j.RequestedAt, j.ReplicaName, j.StartTime, j.EndTime, 0, 0, 0, j.ErrorMessage)
	return err
}

func (s *Store) GetBackfill(ctx context.Context, id string) (*domain.BackfillJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+backfillColumns+` FROM backfill_jobs WHERE id = $1`, id)
	j, err := scanBackfill(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("backfill job %q not found", id)
	}
	return j, err
}

func (s *Store) ListBackfillsByLoader(ctx context.Context, loaderCode string) ([]*domain.BackfillJob, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+backfillColumns+` FROM backfill_jobs WHERE loader_code = $1 ORDER BY requested_at`, loaderCode)
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
	rows, err := s.pool.Query(ctx, `SELECT `+backfillColumns+` FROM backfill_jobs WHERE status = $1 ORDER BY requested_at`, status)
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
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM backfill_jobs WHERE loader_code = $1 AND status IN ('PENDING','RUNNING')`, loaderCode).Scan(&n)
	return n, err
}

func (s *Store) UpdateBackfill(ctx context.Context, j *domain.BackfillJob) error {
	_, err := s.pool.Exec(ctx, `UPDATE backfill_jobs SET
		status = $1, replica_name = $2, start_time = $3, end_time = $4,
		records_purged = $5, records_loaded = $6, records_ingested = $7, error_message = $8
		WHERE id = $9`,
		j.Status, j.ReplicaName, j.StartTime, j.EndTime,
		j.RecordsPurged, j.RecordsLoaded, j.RecordsIngested, j.ErrorMessage, j.ID)
	return err
}
