// Package sources is the SourceRegistry (spec component C1): it owns one
// connection pool per registered SourceDatabase and exposes a single
// read-only query operation, runQuery, to the pipeline. PostgreSQL sources
// are pooled with pgxpool (shared convention with internal/database/postgres);
// MySQL sources are pooled with database/sql + go-sql-driver/mysql, the
// only ecosystem driver in the example pack for that wire protocol.
package sources

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	_ "github.com/go-sql-driver/mysql"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane"
	"github.com/vitaliisemenov/etl-monitor/internal/crypto"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
	"github.com/vitaliisemenov/etl-monitor/internal/metrics"
)

// PoolConfig bounds a single source connection pool, mirroring spec.md
// §4.1's defaults.
type PoolConfig struct {
	MaxSize           int
	MinIdle           int
	IdleTimeout       time.Duration
	ConnectTimeout    time.Duration
	QueryTimeout      time.Duration
	RateLimitPerSec   float64
	RateLimitBurst    int
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxSize:         5,
		MinIdle:         1,
		IdleTimeout:     5 * time.Minute,
		ConnectTimeout:  30 * time.Second,
		QueryTimeout:    60 * time.Second,
		RateLimitPerSec: 20,
		RateLimitBurst:  40,
	}
}

// Row is one result row, column name to decoded value.
type Row map[string]any

type pooledHandle struct {
	pg      *pgxpool.Pool
	mysql   *sql.DB
	dbType  domain.DBType
	limiter *rate.Limiter
}

// Registry materializes and owns one pooledHandle per dbCode. The handle
// map is bounded by an LRU rather than a plain map: a misconfigured or
// very large source-database table should degrade by evicting the
// least-recently-queried pool, not by growing unbounded.
type Registry struct {
	mu    sync.RWMutex
	pools *lru.Cache[string, *pooledHandle]

	store   controlplane.SourceStore
	codec   *crypto.FieldCodec
	cfg     PoolConfig
	logger  *slog.Logger
	metrics *metrics.SourceMetrics
}

// maxOpenSourcePools bounds how many per-dbCode pools live in memory at
// once; evicted pools are closed via the LRU's eviction callback.
const maxOpenSourcePools = 256

func New(store controlplane.SourceStore, codec *crypto.FieldCodec, cfg PoolConfig, logger *slog.Logger, m *metrics.SourceMetrics) *Registry {
	r := &Registry{store: store, codec: codec, cfg: cfg, logger: logger, metrics: m}
	pools, _ := lru.NewWithEvict(maxOpenSourcePools, func(_ string, h *pooledHandle) {
		r.closeHandle(h)
	})
	r.pools = pools
	return r
}

// LoadAll loads every registered SourceDatabase and builds its pool. Call
// at process start and on explicit Reload.
func (r *Registry) LoadAll(ctx context.Context) error {
	sourceDBs, err := r.store.ListSourceDatabases(ctx)
	if err != nil {
		return fmt.Errorf("listing source databases: %w", err)
	}

	newHandles := make(map[string]*pooledHandle, len(sourceDBs))
	for _, sd := range sourceDBs {
		h, err := r.buildPool(ctx, sd)
		if err != nil {
			for _, built := range newHandles {
				r.closeHandle(built)
			}
			return fmt.Errorf("building pool for %q: %w", sd.DBCode, err)
		}
		newHandles[sd.DBCode] = h
	}

	r.mu.Lock()
	r.pools.Purge() // closes every existing handle via the eviction callback
	for dbCode, h := range newHandles {
		r.pools.Add(dbCode, h)
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.PoolsOpen.Set(float64(len(newHandles)))
	}
	return nil
}

// Reload re-reads SourceDatabase rows and atomically swaps the pool map.
func (r *Registry) Reload(ctx context.Context) error { return r.LoadAll(ctx) }

func (r *Registry) buildPool(ctx context.Context, sd *domain.SourceDatabase) (*pooledHandle, error) {
	plainPassword, err := r.codec.DecryptString(sd.Password)
	if err != nil {
		return nil, fmt.Errorf("decrypting password for %q: %w", sd.DBCode, err)
	}

	limiter := rate.NewLimiter(rate.Limit(r.cfg.RateLimitPerSec), r.cfg.RateLimitBurst)

	switch sd.DBType {
	case domain.DBTypePostgreSQL:
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?connect_timeout=%d",
			sd.UserName, plainPassword, sd.Host, sd.Port, sd.DBName, int(r.cfg.ConnectTimeout.Seconds()))
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, err
		}
		poolCfg.MaxConns = int32(r.cfg.MaxSize)
		poolCfg.MinConns = int32(r.cfg.MinIdle)
		poolCfg.MaxConnIdleTime = r.cfg.IdleTimeout

		connectCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
		defer cancel()
		pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(connectCtx); err != nil {
			pool.Close()
			return nil, err
		}
		return &pooledHandle{pg: pool, dbType: sd.DBType, limiter: limiter}, nil

	case domain.DBTypeMySQL:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=%s&parseTime=true",
			sd.UserName, plainPassword, sd.Host, sd.Port, sd.DBName, r.cfg.ConnectTimeout)
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(r.cfg.MaxSize)
		db.SetMaxIdleConns(r.cfg.MinIdle)
		db.SetConnMaxIdleTime(r.cfg.IdleTimeout)

		connectCtx, cancel := context.WithTimeout(ctx, r.cfg.ConnectTimeout)
		defer cancel()
		if err := db.PingContext(connectCtx); err != nil {
			db.Close()
			return nil, err
		}
		return &pooledHandle{mysql: db, dbType: sd.DBType, limiter: limiter}, nil

	default:
		return nil, domain.NewValidationError("unsupported source database type %q for %q", sd.DBType, sd.DBCode)
	}
}

func (r *Registry) closeHandle(h *pooledHandle) {
	if h.pg != nil {
		h.pg.Close()
	}
	if h.mysql != nil {
		h.mysql.Close()
	}
}

// RunQuery executes sql against dbCode and returns decoded rows, column
// order preserved by the underlying driver but not guaranteed to callers
// (they key into the map by name).
func (r *Registry) RunQuery(ctx context.Context, dbCode, query string) ([]Row, error) {
	r.mu.RLock()
	h, ok := r.pools.Get(dbCode)
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewSourceUnknownError("source database %q not registered", dbCode)
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return nil, domain.WithCause(domain.NewSourceUnavailableError("rate limit wait cancelled for %q", dbCode), err)
	}

	queryCtx, cancel := context.WithTimeout(ctx, r.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := r.runOn(queryCtx, h, query)
	duration := time.Since(start)
	if r.metrics != nil {
		r.metrics.QueryDuration.WithLabelValues(dbCode).Observe(duration.Seconds())
		r.metrics.QueriesTotal.WithLabelValues(dbCode, outcomeLabel(err)).Inc()
	}
	if err != nil {
		return nil, domain.WithCause(domain.NewSourceUnavailableError("query against %q failed", dbCode), err)
	}
	return rows, nil
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (r *Registry) runOn(ctx context.Context, h *pooledHandle, query string) ([]Row, error) {
	switch {
	case h.pg != nil:
		rows, err := h.pg.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		fields := rows.FieldDescriptions()
		var out []Row
		for rows.Next() {
			vals, err := rows.Values()
			if err != nil {
				return nil, err
			}
			row := make(Row, len(fields))
			for i, f := range fields {
				row[string(f.Name)] = vals[i]
			}
			out = append(out, row)
		}
		return out, rows.Err()

	case h.mysql != nil:
		rows, err := h.mysql.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		var out []Row
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return nil, err
			}
			row := make(Row, len(cols))
			for i, c := range cols {
				row[c] = vals[i]
			}
			out = append(out, row)
		}
		return out, rows.Err()

	default:
		return nil, fmt.Errorf("pool has neither a postgres nor mysql handle")
	}
}

// Shutdown closes every pool.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools.Purge()
}
