package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func (s *Store) Append(ctx context.Context, sig *domain.SignalHistory) error {
	if sig.CreateTime.IsZero() {
		sig.CreateTime = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO signal_history
		(loader_code, load_timestamp, segment_code, rec_count, min, max, avg, sum, create_time)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		sig.LoaderCode, sig.LoadTimestamp, sig.SegmentCode, sig.RecCount, sig.Min, sig.Max, sig.Avg, sig.Sum, sig.CreateTime.Unix())
	return err
}

func (s *Store) BulkAppend(ctx context.Context, signals []*domain.SignalHistory, strategy domain.PurgeStrategy) (int64, int64, error) {
	if len(signals) == 0 {
		return 0, 0, nil
	}
	var purged int64
	var inserted int64

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	loaderCode := signals[0].LoaderCode
	minTs, maxTs := signals[0].LoadTimestamp, signals[0].LoadTimestamp
	for _, sig := range signals {
		if sig.LoadTimestamp < minTs {
			minTs = sig.LoadTimestamp
		}
		if sig.LoadTimestamp > maxTs {
			maxTs = sig.LoadTimestamp
		}
	}

	switch strategy {
	case domain.PurgeAndReload:
		res, err := tx.ExecContext(ctx, `DELETE FROM signal_history WHERE loader_code = ? AND load_timestamp BETWEEN ? AND ?`,
			loaderCode, minTs, maxTs)
		if err != nil {
			return 0, 0, err
		}
		purged, _ = res.RowsAffected()
	case domain.FailOnDuplicate:
		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM signal_history WHERE loader_code = ? AND load_timestamp BETWEEN ? AND ?`,
			loaderCode, minTs, maxTs).Scan(&existing); err != nil {
			return 0, 0, err
		}
		if existing > 0 {
			return 0, 0, domain.NewDuplicateDataError("signal rows already exist for loader %q in range [%d,%d]", loaderCode, minTs, maxTs)
		}
	case domain.SkipDuplicates:
		// handled per-row below via INSERT OR IGNORE
	}

	now := time.Now().UTC().Unix()
	for _, sig := range signals {
		var res sql.Result
		var err error
		if strategy == domain.SkipDuplicates {
			res, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO signal_history
				(loader_code, load_timestamp, segment_code, rec_count, min, max, avg, sum, create_time)
				VALUES (?,?,?,?,?,?,?,?,?)`,
				sig.LoaderCode, sig.LoadTimestamp, sig.SegmentCode, sig.RecCount, sig.Min, sig.Max, sig.Avg, sig.Sum, now)
		} else {
			res, err = tx.ExecContext(ctx, `INSERT INTO signal_history
				(loader_code, load_timestamp, segment_code, rec_count, min, max, avg, sum, create_time)
				VALUES (?,?,?,?,?,?,?,?,?)`,
				sig.LoaderCode, sig.LoadTimestamp, sig.SegmentCode, sig.RecCount, sig.Min, sig.Max, sig.Avg, sig.Sum, now)
		}
		if err != nil {
			return 0, 0, err
		}
		n, _ := res.RowsAffected()
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return purged, inserted, nil
}

func (s *Store) Query(ctx context.Context, loaderCode string, fromEpoch, toEpoch int64, segmentCode *int) ([]*domain.SignalHistory, error) {
	query := `SELECT loader_code, load_timestamp, segment_code, rec_count, min, max, avg, sum, create_time
		FROM signal_history WHERE loader_code = ? AND load_timestamp >= ? AND load_timestamp < ?`
	args := []any{loaderCode, fromEpoch, toEpoch}
	if segmentCode != nil {
		query += ` AND segment_code = ?`
		args = append(args, *segmentCode)
	}
	query += ` ORDER BY load_timestamp`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.SignalHistory
	for rows.Next() {
		var sig domain.SignalHistory
		var createTime int64
		if err := rows.Scan(&sig.LoaderCode, &sig.LoadTimestamp, &sig.SegmentCode,
			&sig.RecCount, &sig.Min, &sig.Max, &sig.Avg, &sig.Sum, &createTime); err != nil {
			return nil, err
		}
		sig.CreateTime = time.Unix(createTime, 0).UTC()
		out = append(out, &sig)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRange(ctx context.Context, loaderCode string, fromEpoch, toEpoch int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM signal_history WHERE loader_code = ? AND load_timestamp >= ? AND load_timestamp < ?`,
		loaderCode, fromEpoch, toEpoch)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ExistsInRange(ctx context.Context, loaderCode string, fromEpoch, toEpoch int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signal_history WHERE loader_code = ? AND load_timestamp >= ? AND load_timestamp < ?`,
		loaderCode, fromEpoch, toEpoch).Scan(&n)
	return n > 0, err
}

func (s *Store) GetOrCreateSegmentCode(ctx context.Context, loaderCode string, segments [10]*string) (int, error) {
	for attempt := 0; attempt < 3; attempt++ {
		code, err := s.tryGetOrCreateSegmentCode(ctx, loaderCode, segments)
		if err == nil {
			return code, nil
		}
		if !isUniqueViolation(err) {
			return 0, err
		}
		// collision on concurrent insert: retry, the next read will see it
	}
	return 0, domain.NewConflictError("could not allocate segment code for loader %q after retries", loaderCode)
}

func (s *Store) tryGetOrCreateSegmentCode(ctx context.Context, loaderCode string, segments [10]*string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT segment1,segment2,segment3,segment4,segment5,
		segment6,segment7,segment8,segment9,segment10,segment_code
		FROM segment_combinations WHERE loader_code = ?`, loaderCode)
	if err != nil {
		return 0, err
	}
	var maxCode int
	found := -1
	for rows.Next() {
		var vals [10]sql.NullString
		var code int
		if err := rows.Scan(&vals[0], &vals[1], &vals[2], &vals[3], &vals[4],
			&vals[5], &vals[6], &vals[7], &vals[8], &vals[9], &code); err != nil {
			rows.Close()
			return 0, err
		}
		if code > maxCode {
			maxCode = code
		}
		var candidate [10]*string
		for i, v := range vals {
			if v.Valid {
				s := v.String
				candidate[i] = &s
			}
		}
		if domain.SegmentsEqual(candidate, segments) {
			found = code
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if found >= 0 {
		return found, nil
	}

	newCode := maxCode + 1
	_, err = tx.ExecContext(ctx, `INSERT INTO segment_combinations
		(loader_code, segment1,segment2,segment3,segment4,segment5,segment6,segment7,segment8,segment9,segment10, segment_code)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		loaderCode, segments[0], segments[1], segments[2], segments[3], segments[4],
		segments[5], segments[6], segments[7], segments[8], segments[9], newCode)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return newCode, nil
}
