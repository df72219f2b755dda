package pgstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

const lockColumns = `lock_id, loader_code, replica_name, acquired_at, released_at, released`

func scanLock(row pgx.Row) (*domain.LoaderExecutionLock, error) {
	var l domain.LoaderExecutionLock
	if err := row.Scan(&l.LockID, &l.LoaderCode, &l.ReplicaName, &l.AcquiredAt, &l.ReleasedAt, &l.Released); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) CountActiveForLoader(ctx context.Context, loaderCode string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM loader_execution_locks WHERE loader_code = $1 AND NOT released`, loaderCode).Scan(&n)
	return n, err
}

func (s *Store) CountActiveGlobal(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM loader_execution_locks WHERE NOT released`).Scan(&n)
	return n, err
}

func (s *Store) InsertLock(ctx context.Context, lock *domain.LoaderExecutionLock) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO loader_execution_locks (`+lockColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		lock.LockID, lock.LoaderCode, lock.ReplicaName, lock.AcquiredAt, lock.ReleasedAt, lock.Released)
	return err
}

func (s *Store) ReleaseLock(ctx context.Context, lockID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE loader_execution_locks SET released = true, released_at = $1
		WHERE lock_id = $2 AND NOT released`, time.Now().UTC(), lockID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TryAcquireAtomic runs the loader-level and global caps check plus the
// insert inside one serializable transaction, so two replicas racing to
// acquire the same loader's lock never both succeed. Postgres's default
// READ COMMITTED isolation is not enough here because two concurrent
// transactions could both see the pre-insert count; SERIALIZABLE forces one
// to retry-and-fail instead.
func (s *Store) TryAcquireAtomic(ctx context.Context, loaderCode, replicaName string, maxParallel, globalLimit int) (*domain.LoaderExecutionLock, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var forLoader, global int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM loader_execution_locks WHERE loader_code = $1 AND NOT released`, loaderCode).Scan(&forLoader); err != nil {
		return nil, err
	}
	if forLoader >= maxParallel {
		return nil, nil
	}
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM loader_execution_locks WHERE NOT released`).Scan(&global); err != nil {
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
	if _, err := tx.Exec(ctx, `INSERT INTO loader_execution_locks (`+lockColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		lock.LockID, lock.LoaderCode, lock.ReplicaName, lock.AcquiredAt, lock.ReleasedAt, lock.Released); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return lock, nil
}

func (s *Store) MarkStaleReleased(ctx context.Context, staleBeforeEpoch int64) ([]*domain.LoaderExecutionLock, error) {
	cutoff := time.Unix(staleBeforeEpoch, 0).UTC()
	rows, err := s.pool.Query(ctx, `SELECT `+lockColumns+` FROM loader_execution_locks WHERE NOT released AND acquired_at < $1`, cutoff)
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

	for _, l := range stale {
		now := time.Now().UTC()
		if _, err := s.pool.Exec(ctx, `UPDATE loader_execution_locks SET released = true, released_at = $1 WHERE lock_id = $2`, now, l.LockID); err != nil {
			return nil, err
		}
		l.Released = true
		l.ReleasedAt = &now
	}
	return stale, nil
}

func (s *Store) DeleteReleasedBefore(ctx context.Context, beforeEpoch int64) (int, error) {
	cutoff := time.Unix(beforeEpoch, 0).UTC()
	tag, err := s.pool.Exec(ctx, `DELETE FROM loader_execution_locks WHERE released AND released_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
