package configplan

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane/sqlitestore"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
	"github.com/vitaliisemenov/etl-monitor/internal/eventbus"
)

func newTestStore(t *testing.T) (*Store, *sqlitestore.Store) {
	ctx := context.Background()
	store, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, eventbus.NewInMemoryBus(), slog.Default(), nil), store
}

func TestStore_GetStringFallsBackToDefaultWithNoActivePlan(t *testing.T) {
	s, _ := newTestStore(t)
	v := s.GetString(context.Background(), "scheduler", "polling-interval-seconds", "1")
	require.Equal(t, "1", v)
}

func TestStore_ActivateMakesValuesVisibleAndInvalidatesOnSwitch(t *testing.T) {
	ctx := context.Background()
	s, raw := newTestStore(t)

	require.NoError(t, raw.UpsertPlan(ctx, &domain.ConfigPlan{Parent: "scheduler", PlanName: "fast"}))
	require.NoError(t, raw.SetValues(ctx, "scheduler", "fast", map[string]string{"polling-interval-seconds": "1"}))
	require.NoError(t, s.Activate(ctx, "scheduler", "fast", "admin"))

	require.Equal(t, 1, s.GetInt(ctx, "scheduler", "polling-interval-seconds", 5))

	require.NoError(t, raw.UpsertPlan(ctx, &domain.ConfigPlan{Parent: "scheduler", PlanName: "slow"}))
	require.NoError(t, raw.SetValues(ctx, "scheduler", "slow", map[string]string{"polling-interval-seconds": "30"}))
	require.NoError(t, s.Activate(ctx, "scheduler", "slow", "admin"))

	require.Equal(t, 30, s.GetInt(ctx, "scheduler", "polling-interval-seconds", 5), "activation must invalidate the cache for the parent")
}

func TestStore_GetIntParseFailureFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	s, raw := newTestStore(t)

	require.NoError(t, raw.UpsertPlan(ctx, &domain.ConfigPlan{Parent: "p", PlanName: "only"}))
	require.NoError(t, raw.SetValues(ctx, "p", "only", map[string]string{"k": "not-a-number"}))
	require.NoError(t, s.Activate(ctx, "p", "only", "admin"))

	require.Equal(t, 42, s.GetInt(ctx, "p", "k", 42))
}

func TestStore_SubscribeRefreshesCacheOnRemoteSwitch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.NewInMemoryBus()
	store, err := sqlitestore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := New(store, bus, slog.Default(), nil)
	require.NoError(t, s.Subscribe(ctx))

	require.NoError(t, store.UpsertPlan(ctx, &domain.ConfigPlan{Parent: "p", PlanName: "a"}))
	require.NoError(t, store.SetValues(ctx, "p", "a", map[string]string{"k": "1"}))
	require.NoError(t, store.Activate(ctx, "p", "a"))

	// Prime this instance's cache without going through s.Activate, then
	// simulate a remote replica's activation event.
	require.Equal(t, 1, s.GetInt(ctx, "p", "k", 0))

	require.NoError(t, store.UpsertPlan(ctx, &domain.ConfigPlan{Parent: "p", PlanName: "b"}))
	require.NoError(t, store.SetValues(ctx, "p", "b", map[string]string{"k": "2"}))
	require.NoError(t, store.Activate(ctx, "p", "b"))
	require.NoError(t, bus.Publish(ctx, eventbus.ConfigPlanSwitched{Parent: "p", PlanName: "b"}))

	require.Eventually(t, func() bool {
		return s.GetInt(ctx, "p", "k", 0) == 2
	}, time.Second, 5*time.Millisecond, "cache should reflect the remote switch once the subscriber goroutine processes it")
}
