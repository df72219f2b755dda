package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/etl-monitor/internal/configplan"
	"github.com/vitaliisemenov/etl-monitor/internal/controlplane/sqlitestore"
	"github.com/vitaliisemenov/etl-monitor/internal/crypto"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
	"github.com/vitaliisemenov/etl-monitor/internal/eventbus"
	"github.com/vitaliisemenov/etl-monitor/internal/lock"
	"github.com/vitaliisemenov/etl-monitor/internal/pipeline"
	"github.com/vitaliisemenov/etl-monitor/internal/sources"
)

func TestIsDue(t *testing.T) {
	now := time.Now()
	idle := &domain.Loader{LoadStatus: domain.LoadStatusIdle}
	require.True(t, isDue(idle, now))

	recentlyFailed := &domain.Loader{LoadStatus: domain.LoadStatusFailed}
	failedAt := now.Add(-time.Minute)
	recentlyFailed.FailedSince = &failedAt
	require.False(t, isDue(recentlyFailed, now))

	longFailed := &domain.Loader{LoadStatus: domain.LoadStatusFailed}
	longAgo := now.Add(-30 * time.Minute)
	longFailed.FailedSince = &longAgo
	require.True(t, isDue(longFailed, now))

	running := &domain.Loader{LoadStatus: domain.LoadStatusRunning}
	require.False(t, isDue(running, now))
}

func TestScheduler_TickDispatchesEligibleLoaderAndReleasesLock(t *testing.T) {
	ctx := context.Background()
	store, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	loader := &domain.Loader{
		LoaderCode: "L1", SQL: "SELECT load_timestamp FROM t", SourceDatabaseID: "db1",
		MinIntervalSeconds: 1, MaxIntervalSeconds: 60, MaxQueryPeriodSeconds: 3600, MaxParallelExecutions: 1,
		PurgeStrategy: domain.SkipDuplicates, LoadStatus: domain.LoadStatusIdle,
		Enabled: true, ApprovalStatus: domain.ApprovalApproved, VersionStatus: domain.VersionActive,
	}
	require.NoError(t, store.InsertLoader(ctx, loader))

	lockMgr := lock.New(store, slog.Default(), nil)

	key := make([]byte, 32)
	codec, err := crypto.NewFieldCodec(key)
	require.NoError(t, err)
	registry := sources.New(store, codec, sources.DefaultPoolConfig(), slog.Default(), nil)
	pipe := pipeline.New(store, store, store, registry, slog.Default(), nil)
	cfg := configplan.New(store, eventbus.NewInMemoryBus(), slog.Default(), nil)

	sch := New(store, lockMgr, pipe, cfg, "replica-a", slog.Default(), nil)
	sch.Tick(ctx)
	sch.wg.Wait()

	active, err := store.CountActiveForLoader(ctx, "L1")
	require.NoError(t, err)
	require.Equal(t, 0, active, "worker must release its lock on exit even though the query failed")
}
