package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func (s *Store) InsertRunning(ctx context.Context, h *domain.LoadHistory) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO load_history
		(loader_code, replica_name, start_time, query_from_time, query_to_time, status)
		VALUES (?,?,?,?,?,?)`,
		h.LoaderCode, h.ReplicaName, h.StartTime.Unix(), h.QueryFromTime.Unix(), h.QueryToTime.Unix(), domain.ExecutionRunning)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) CompleteHistory(ctx context.Context, id int64, h *domain.LoadHistory) error {
	var actualFrom, actualTo *int64
	if h.ActualFromTime != nil {
		v := h.ActualFromTime.Unix()
		actualFrom = &v
	}
	if h.ActualToTime != nil {
		v := h.ActualToTime.Unix()
		actualTo = &v
	}
	_, err := s.db.ExecContext(ctx, `UPDATE load_history SET
		end_time = ?, actual_from_time = ?, actual_to_time = ?,
		records_loaded = ?, records_ingested = ?, status = ?, error_message = ?
		WHERE id = ?`,
		h.EndTime.Unix(), actualFrom, actualTo,
		h.RecordsLoaded, h.RecordsIngested, h.Status, h.ErrorMessage, id)
	return err
}

func (s *Store) ListRecentForLoader(ctx context.Context, loaderCode string, sinceEpoch int64) ([]*domain.LoadHistory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, loader_code, replica_name, start_time, end_time, query_from_time, query_to_time,
		actual_from_time, actual_to_time, records_loaded, records_ingested, status, error_message
		FROM load_history WHERE loader_code = ? AND start_time >= ? ORDER BY start_time ASC`,
		loaderCode, sinceEpoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.LoadHistory
	for rows.Next() {
		var h domain.LoadHistory
		var start, queryFrom, queryTo int64
		var end, actualFrom, actualTo sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&h.ID, &h.LoaderCode, &h.ReplicaName, &start, &end,
			&queryFrom, &queryTo, &actualFrom, &actualTo,
			&h.RecordsLoaded, &h.RecordsIngested, &h.Status, &errMsg); err != nil {
			return nil, err
		}
		h.StartTime = time.Unix(start, 0).UTC()
		h.QueryFromTime = time.Unix(queryFrom, 0).UTC()
		h.QueryToTime = time.Unix(queryTo, 0).UTC()
		if end.Valid {
			t := time.Unix(end.Int64, 0).UTC()
			h.EndTime = &t
		}
		if actualFrom.Valid {
			t := time.Unix(actualFrom.Int64, 0).UTC()
			h.ActualFromTime = &t
		}
		if actualTo.Valid {
			t := time.Unix(actualTo.Int64, 0).UTC()
			h.ActualToTime = &t
		}
		h.ErrorMessage = errMsg.String
		out = append(out, &h)
	}
	return out, rows.Err()
}
