package lock

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane/sqlitestore"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func newTestManager(t *testing.T) (*Manager, *sqlitestore.Store) {
	ctx := context.Background()
	store, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, slog.Default(), nil), store
}

func TestManager_TryAcquireRespectsPerLoaderLimit(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	loader := &domain.Loader{LoaderCode: "loader-1", MaxParallelExecutions: 1}

	l1, err := mgr.TryAcquire(ctx, loader, "replica-a", func() {})
	require.NoError(t, err)
	require.NotNil(t, l1)

	l2, err := mgr.TryAcquire(ctx, loader, "replica-a", func() {})
	require.NoError(t, err)
	require.Nil(t, l2, "second acquire must be denied while loader-1's one slot is held")

	require.NoError(t, mgr.Release(ctx, l1.LockID))

	l3, err := mgr.TryAcquire(ctx, loader, "replica-a", func() {})
	require.NoError(t, err)
	require.NotNil(t, l3, "slot must be available again after release")
}

func TestManager_ReleaseUnknownLockIsNoOp(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Release(context.Background(), "does-not-exist"))
}

func TestManager_CleanupStaleCancelsInProcessHandle(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.staleThreshold = -time.Minute // cutoff lies a minute ahead, so every acquired lock counts as stale
	ctx := context.Background()
	loader := &domain.Loader{LoaderCode: "loader-2", MaxParallelExecutions: 5}

	cancelled := false
	l1, err := mgr.TryAcquire(ctx, loader, "replica-a", func() { cancelled = true })
	require.NoError(t, err)
	require.NotNil(t, l1)

	n, err := mgr.CleanupStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, cancelled, "cleanupStale must cancel the in-process handle for a reaped lock")
}

func TestManager_ShouldCleanupStaleThrottles(t *testing.T) {
	mgr, _ := newTestManager(t)
	now := mgr.lastScan // zero value
	require.True(t, mgr.ShouldCleanupStale(now, 0))
	require.False(t, mgr.ShouldCleanupStale(now, domain.DefaultStaleThreshold))
}
