package pgstore

import (
	"context"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func (s *Store) InsertRunning(ctx context.Context, h *domain.LoadHistory) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `INSERT INTO load_history
		(loader_code, replica_name, start_time, query_from_time, query_to_time, status)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		h.LoaderCode, h.ReplicaName, h.StartTime, h.QueryFromTime, h.QueryToTime, domain.ExecutionRunning).Scan(&id)
	return id, err
}

func (s *Store) CompleteHistory(ctx context.Context, id int64, h *domain.LoadHistory) error {
	_, err := s.pool.Exec(ctx, `UPDATE load_history SET
		end_time = $1, actual_from_time = $2, actual_to_time = $3,
		records_loaded = $4, records_ingested = $5, status = $6, error_message = $7
		WHERE id = $8`,
		h.EndTime, h.ActualFromTime, h.ActualToTime,
		h.RecordsLoaded, h.RecordsIngested, h.Status, h.ErrorMessage, id)
	return err
}

func (s *Store) ListRecentForLoader(ctx context.Context, loaderCode string, sinceEpoch int64) ([]*domain.LoadHistory, error) {
	rows, err := s.pool.Query(ctx, `SELECT
		id, loader_code, replica_name, start_time, end_time, query_from_time, query_to_time,
		actual_from_time, actual_to_time, records_loaded, records_ingested, status, error_message
		FROM load_history WHERE loader_code = $1 AND start_time >= to_timestamp($2) ORDER BY start_time ASC`,
		loaderCode, sinceEpoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.LoadHistory
	for rows.Next() {
		var h domain.LoadHistory
		if err := rows.Scan(&h.ID, &h.LoaderCode, &h.ReplicaName, &h.StartTime, &h.EndTime,
			&h.QueryFromTime, &h.QueryToTime, &h.ActualFromTime, &h.ActualToTime,
			&h.RecordsLoaded, &h.RecordsIngested, &h.Status, &h.ErrorMessage); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}
