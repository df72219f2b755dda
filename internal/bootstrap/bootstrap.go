// Package bootstrap wires every component (C1-C12) into a running
// process: it owns construction order, not behavior.
package bootstrap

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/etl-monitor/internal/approval"
	"github.com/vitaliisemenov/etl-monitor/internal/backfill"
	"github.com/vitaliisemenov/etl-monitor/internal/config"
	"github.com/vitaliisemenov/etl-monitor/internal/configplan"
	"github.com/vitaliisemenov/etl-monitor/internal/controlplane"
	"github.com/vitaliisemenov/etl-monitor/internal/controlplane/pgstore"
	"github.com/vitaliisemenov/etl-monitor/internal/crypto"
	postgrespool "github.com/vitaliisemenov/etl-monitor/internal/database/postgres"
	"github.com/vitaliisemenov/etl-monitor/internal/eventbus"
	"github.com/vitaliisemenov/etl-monitor/internal/gapscan"
	"github.com/vitaliisemenov/etl-monitor/internal/leaderlock"
	"github.com/vitaliisemenov/etl-monitor/internal/lock"
	"github.com/vitaliisemenov/etl-monitor/internal/metrics"
	"github.com/vitaliisemenov/etl-monitor/internal/pipeline"
	"github.com/vitaliisemenov/etl-monitor/internal/scheduler"
	"github.com/vitaliisemenov/etl-monitor/internal/signals"
	"github.com/vitaliisemenov/etl-monitor/internal/sources"
)

// App holds every wired component and owns shutdown of the resources it
// opened (the Postgres pool and the Redis client).
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store      controlplane.Store
	Sources    *sources.Registry
	Locks      *lock.Manager
	Pipeline   *pipeline.Pipeline
	ConfigPlan *configplan.Store
	Signals    *signals.Facade
	Scheduler  *scheduler.Scheduler
	Approval   *approval.Workflow
	Backfill   *backfill.Service
	GapScan    *gapscan.Scanner
	Leader     *leaderlock.Manager
	Registry   *prometheus.Registry

	pgPool *postgrespool.PostgresPool
	redis  *redis.Client
}

// New connects to Postgres and Redis, builds C1-C12, and returns a
// ready-to-Run App. Callers are responsible for invoking Close on
// shutdown.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()

	pgCfg := &postgrespool.PostgresConfig{
		Host: cfg.Database.Host, Port: cfg.Database.Port, Database: cfg.Database.Database,
		User: cfg.Database.User, Password: cfg.Database.Password, SSLMode: cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns, MinConns: cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime, MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod, ConnectTimeout: cfg.Database.ConnectTimeout,
	}
	pgPool := postgrespool.NewPostgresPool(pgCfg, logger)
	if err := pgPool.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	store := pgstore.New(pgPool.Pool())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize, DialTimeout: cfg.Redis.DialTimeout,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		pgPool.Disconnect(ctx)
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	key, err := decodeKey(cfg.Crypto.KeyBase64)
	if err != nil {
		pgPool.Disconnect(ctx)
		redisClient.Close()
		return nil, err
	}
	codec, err := crypto.NewFieldCodec(key)
	if err != nil {
		pgPool.Disconnect(ctx)
		redisClient.Close()
		return nil, err
	}

	replicaName := resolveReplicaName(cfg.App.ReplicaName)
	bus := eventbus.NewRedisBus(redisClient, logger)
	leader := leaderlock.NewManager(redisClient, logger, cfg.Redis.LeaderLeaseTTL)

	poolCfg := sources.PoolConfig{
		MaxSize: cfg.Sources.MaxCachedPools, IdleTimeout: cfg.Sources.IdleTimeout,
		ConnectTimeout: cfg.Sources.ConnectTimeout, QueryTimeout: cfg.Sources.QueryTimeout,
		RateLimitPerSec: cfg.Sources.RateLimitPerSec, RateLimitBurst: cfg.Sources.RateLimitBurst,
	}
	registry := sources.New(store, codec, poolCfg, logger, metrics.NewSourceMetrics(reg))

	locks := lock.New(store, logger, metrics.NewLockMetrics(reg))
	pipe := pipeline.New(store, store, store, registry, logger, metrics.NewPipelineMetrics(reg))
	cfgPlan := configplan.New(store, bus, logger, metrics.NewConfigPlanMetrics(reg))
	sigFacade := signals.New(store, store)
	sched := scheduler.New(store, locks, pipe, cfgPlan, replicaName, logger, metrics.NewSchedulerMetrics(reg))
	workflow := approval.New(store, store, logger, metrics.NewApprovalMetrics(reg))
	backfillSvc := backfill.New(store, store, pipe, logger, metrics.NewBackfillMetrics(reg))
	scanner := gapscan.New(store, store, store, backfillSvc, logger, metrics.NewGapScanMetrics(reg))

	return &App{
		Config: cfg, Logger: logger,
		Store: store, Sources: registry, Locks: locks, Pipeline: pipe,
		ConfigPlan: cfgPlan, Signals: sigFacade, Scheduler: sched,
		Approval: workflow, Backfill: backfillSvc, GapScan: scanner,
		Leader: leader, Registry: reg,
		pgPool: pgPool, redis: redisClient,
	}, nil
}

// Run starts every background loop (scheduler tick, config-plan
// subscription, approval materializer, gap scanner, lock retention) and
// blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	go func() {
		if err := a.ConfigPlan.Subscribe(ctx); err != nil && ctx.Err() == nil {
			a.Logger.Error("bootstrap: config plan subscription ended", "error", err)
		}
	}()
	go a.runLeaderElected(ctx, "approval-materializer", a.Approval.Run)
	go a.runLeaderElected(ctx, "gap-scanner", a.GapScan.Run)
	go a.runLeaderElected(ctx, "lock-retention", a.runLockRetention)

	a.Scheduler.Run(ctx)
}

// lockRetentionInterval is how often a leader-elected replica purges
// released loader_execution_locks rows older than the manager's
// retention window (domain.DefaultReleasedRetention).
const lockRetentionInterval = 24 * time.Hour

// runLockRetention loops RunRetention once a day until ctx is cancelled.
// Passed to runLeaderElected, so it only runs on the elected replica.
func (a *App) runLockRetention(ctx context.Context) {
	ticker := time.NewTicker(lockRetentionInterval)
	defer ticker.Stop()
	for {
		if n, err := a.Locks.RunRetention(ctx); err != nil {
			a.Logger.Error("bootstrap: lock retention failed", "error", err)
		} else if n > 0 {
			a.Logger.Info("bootstrap: lock retention purged rows", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runLeaderElected wraps a periodic background task so only the replica
// holding taskName's leaderlock lease executes it; others retry the
// election once per lease TTL.
func (a *App) runLeaderElected(ctx context.Context, taskName string, fn func(context.Context)) {
	ticker := time.NewTicker(a.Leader.LeaseTTL())
	defer ticker.Stop()
	for {
		handle, err := a.Leader.TryAcquire(ctx, taskName)
		if err == nil {
			// Renew the lease at half its TTL while fn runs, so no other
			// replica can acquire taskName mid-run.
			done := make(chan struct{})
			go func() {
				renew := time.NewTicker(a.Leader.LeaseTTL() / 2)
				defer renew.Stop()
				for {
					select {
					case <-done:
						return
					case <-renew.C:
						_ = handle.Extend(ctx, a.Leader.LeaseTTL())
					}
				}
			}()
			fn(ctx)
			close(done)
			_ = handle.Release(ctx)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close releases the Postgres pool and Redis client. Safe to call once
// after Run returns.
func (a *App) Close(ctx context.Context) {
	a.pgPool.Disconnect(ctx)
	a.redis.Close()
}

// Ready pings Postgres and Redis, the two dependencies every component
// needs to make progress. Used by internal/httpapi's /readyz handler.
func (a *App) Ready(ctx context.Context) error {
	if err := a.pgPool.Pool().Ping(ctx); err != nil {
		return fmt.Errorf("postgres not ready: %w", err)
	}
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis not ready: %w", err)
	}
	return nil
}

func decodeKey(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, fmt.Errorf("crypto.key_base64 must be set")
	}
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoding crypto.key_base64: %w", err)
	}
	return key, nil
}

// resolveReplicaName follows the teacher's HOSTNAME -> COMPUTERNAME ->
// os.Hostname() -> "unknown-replica" fallback chain, unless an explicit
// name was configured.
func resolveReplicaName(configured string) string {
	if configured != "" {
		return configured
	}
	if v := os.Getenv("HOSTNAME"); v != "" {
		return v
	}
	if v := os.Getenv("COMPUTERNAME"); v != "" {
		return v
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown-replica"
}
