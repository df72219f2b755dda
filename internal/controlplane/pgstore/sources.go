package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func (s *Store) GetSourceDatabase(ctx context.Context, dbCode string) (*domain.SourceDatabase, error) {
	var sd domain.SourceDatabase
	err := s.pool.QueryRow(ctx, `SELECT db_code, db_type, host, port, db_name, user_name, password
		FROM source_databases WHERE db_code = $1`, dbCode).
		Scan(&sd.DBCode, &sd.DBType, &sd.Host, &sd.Port, &sd.DBName, &sd.UserName, &sd.Password)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewSourceUnknownError("source database %q not registered", dbCode)
	}
	return &sd, err
}

func (s *Store) ListSourceDatabases(ctx context.Context) ([]*domain.SourceDatabase, error) {
	rows, err := s.pool.Query(ctx, `SELECT db_code, db_type, host, port, db_name, user_name, password FROM source_databases`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.SourceDatabase
	for rows.Next() {
		var sd domain.SourceDatabase
		if err := rows.Scan(&sd.DBCode, &sd.DBType, &sd.Host, &sd.Port, &sd.DBName, &sd.UserName, &sd.Password); err != nil {
			return nil, err
		}
		out = append(out, &sd)
	}
	return out, rows.Err()
}

func (s *Store) UpsertSourceDatabase(ctx context.Context, sd *domain.SourceDatabase) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO source_databases (db_code, db_type, host, port, db_name, user_name, password)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT(db_code) DO UPDATE SET db_type=excluded.db_type, host=excluded.host, port=excluded.port,
			db_name=excluded.db_name, user_name=excluded.user_name, password=excluded.password`,
		sd.DBCode, sd.DBType, sd.Host, sd.Port, sd.DBName, sd.UserName, sd.Password)
	return err
}
