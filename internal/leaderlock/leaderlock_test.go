package leaderlock

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewManager(client, slog.Default(), time.Minute)
}

func TestManager_OnlyOneLeaderAtATime(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	h1, err := mgr.TryAcquire(ctx, "gap-scan")
	require.NoError(t, err)
	require.NotNil(t, h1)

	_, err = mgr.TryAcquire(ctx, "gap-scan")
	assert.ErrorIs(t, err, ErrNotLeader)

	require.NoError(t, h1.Release(ctx))

	h2, err := mgr.TryAcquire(ctx, "gap-scan")
	require.NoError(t, err)
	require.NotNil(t, h2)
}

func TestManager_IndependentTasksDoNotContend(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.TryAcquire(ctx, "gap-scan")
	require.NoError(t, err)

	_, err = mgr.TryAcquire(ctx, "approval-materializer")
	require.NoError(t, err)
}

func TestHandle_ReleaseIsNoOpIfTokenMismatch(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	h1, err := mgr.TryAcquire(ctx, "gap-scan")
	require.NoError(t, err)

	// Simulate a stale handle whose key was re-acquired by someone else.
	h1.token = "stale-token"
	require.NoError(t, h1.Release(ctx))

	_, err = mgr.TryAcquire(ctx, "gap-scan")
	assert.ErrorIs(t, err, ErrNotLeader, "release with mismatched token must not have deleted the real owner's key")
}
