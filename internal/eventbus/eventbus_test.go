package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	event := ConfigPlanSwitched{Parent: "scheduler", PlanName: "aggressive", Actor: "admin", At: time.Now()}
	require.NoError(t, bus.Publish(ctx, event))

	select {
	case got := <-ch:
		assert.Equal(t, event.Parent, got.Parent)
		assert.Equal(t, event.PlanName, got.PlanName)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	bus := NewRedisBus(client, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	event := ConfigPlanSwitched{Parent: "lock", PlanName: "strict", Actor: "ops", At: time.Now()}
	require.NoError(t, bus.Publish(ctx, event))

	select {
	case got := <-ch:
		assert.Equal(t, event.Parent, got.Parent)
		assert.Equal(t, event.Actor, got.Actor)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
