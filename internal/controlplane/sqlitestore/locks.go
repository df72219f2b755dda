package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func scanLock(row interface{ Scan(...any) error }) (*domain.LoaderExecutionLock, error) {
	var l domain.LoaderExecutionLock
	var acquiredAt int64
	var releasedAt sql.NullInt64
	var released int
	if err := row.Scan(&l.LockID, &l.LoaderCode, &l.ReplicaName, &acquiredAt, &releasedAt, &released); err != nil {
		return nil, err
	}
	l.AcquiredAt = time.Unix(acquiredAt, 0).UTC()
	l.Released = released != 0
	if releasedAt.Valid {
		t := time.Unix(releasedAt.Int64, 0).UTC()
		l.ReleasedAt = &t
	}
	return &l, nil
}

const lockColumns = `lock_id, loader_code, replica_name, acquired_at, released_at, released`

func (s *Store) CountActiveForLoader(ctx context.Context, loaderCode string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loader_execution_locks WHERE loader_code = ? AND released = 0`, loaderCode).Scan(&n)
	return n, err
}

func (s *Store) CountActiveGlobal(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM loader_execution_locks WHERE released = 0`).Scan(&n)
	return n, err
}

func (s *Store) InsertLock(ctx context.Context, lock *domain.LoaderExecutionLock) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO loader_execution_locks (`+lockColumns+`) VALUES (?,?,?,?,?,?)`,
		lock.LockID, lock.LoaderCode, lock.ReplicaName, lock.AcquiredAt.Unix(), nil, 0)
	return err
}

func (s *Store) ReleaseLock(ctx context.Context, lockID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE loader_execution_locks SET released = 1, released_at = ? WHERE lock_id = ? AND released = 0`,
		time.Now().UTC().Unix(), lockID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// TryAcquireAtomic runs count-for-loader, count-global, insert inside one
// transaction, giving the equivalent of a serializable ordering for
// acquisition attempts against a single sqlite connection.
func (s *Store) TryAcquireAtomic(ctx context.Context, loaderCode, replicaName string, maxParallel, globalLimit int) (*domain.LoaderExecutionLock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var forLoader, global int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM loader_execution_locks WHERE loader_code = ? AND released = 0`, loaderCode).Scan(&forLoader); err != nil {
		return nil, err
	}
	if forLoader >= maxParallel {
		return nil, nil
	}
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM loader_execution_locks WHERE released = 0`).Scan(&global); err != nil {
		return nil, err
	}
	if global >= globalLimit {
		return nil, nil
	}

	lock := &domain.LoaderExecutionLock{
		LockID:      uuid.NewString(),
		LoaderCode:  loaderCode,
		ReplicaName: replicaName,
		AcquiredAt:  time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO loader_execution_locks (`+lockColumns+`) VALUES (?,?,?,?,?,?)`,
		lock.LockID, lock.LoaderCode, lock.ReplicaName, lock.AcquiredAt.Unix(), nil, 0); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return lock, nil
}

func (s *Store) MarkStaleReleased(ctx context.Context, staleBeforeEpoch int64) ([]*domain.LoaderExecutionLock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lockColumns+` FROM loader_execution_locks WHERE released = 0 AND acquired_at < ?`, staleBeforeEpoch)
	if err != nil {
		return nil, err
	}
	var stale []*domain.LoaderExecutionLock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Unix()
	for _, l := range stale {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE loader_execution_locks SET released = 1, released_at = ? WHERE lock_id = ?`, now, l.LockID); err != nil {
			return nil, err
		}
		l.Released = true
		t := time.Unix(now, 0).UTC()
		l.ReleasedAt = &t
	}
	return stale, nil
}

func (s *Store) DeleteReleasedBefore(ctx context.Context, beforeEpoch int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM loader_execution_locks WHERE released = 1 AND released_at < ?`, beforeEpoch)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
