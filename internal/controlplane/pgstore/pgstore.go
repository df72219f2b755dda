// Package pgstore is the production implementation of controlplane.Store,
// backed by a pgxpool.Pool against PostgreSQL. It reuses the teacher's
// internal/database/postgres connection and retry conventions rather than
// opening its own pool: callers construct a *postgres.PostgresPool once at
// bootstrap and hand it to New.
package pgstore

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a live pgxpool.Pool and implements controlplane.Store.
// Schema migrations run separately via goose against a stdlib *sql.DB
// (see cmd/loaderctl's migrate command); Store only ever reads and writes.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pgxpool.Pool. The caller owns the pool's
// lifecycle (connect/close); Store never closes it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}
