// Package eventbus provides the publish/subscribe channel ConfigPlanStore
// uses to announce ConfigPlanSwitched events. configplan.Store.Subscribe
// drops its cached values on each event, so the scheduler, which re-reads
// its polling interval every tick, picks up a new one without restarting.
//
// Grounded on the teacher's Redis cache client conventions (connection via
// redis.Options, context-scoped calls, a small interface so tests can swap
// in the process-local InMemoryBus or run RedisBus against miniredis).
package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConfigPlanSwitched is emitted whenever ConfigPlanStore.Activate commits.
type ConfigPlanSwitched struct {
	Parent   string    `json:"parent"`
	PlanName string    `json:"planName"`
	Actor    string    `json:"actor"`
	At       time.Time `json:"at"`
}

// Bus publishes and subscribes to ConfigPlanSwitched events. Subscribers
// receive events for as long as the returned channel's context remains
// live; the channel is closed when the subscription ends.
type Bus interface {
	Publish(ctx context.Context, event ConfigPlanSwitched) error
	Subscribe(ctx context.Context) (<-chan ConfigPlanSwitched, error)
	Close() error
}

const channelName = "etlmonitor:config-plan-switched"

// RedisBus implements Bus over a Redis pub/sub channel.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBus wraps an existing client. The caller owns the client's
// lifecycle: Close does nothing (each subscription ends when its context
// is cancelled) and does not close the client, since the same client is
// typically shared with internal/leaderlock.
func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, event ConfigPlanSwitched) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelName, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan ConfigPlanSwitched, error) {
	pubsub := b.client.Subscribe(ctx, channelName)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}

	out := make(chan ConfigPlanSwitched, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event ConfigPlanSwitched
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn("eventbus: dropping unparsable config plan switch event", "error", err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBus) Close() error { return nil }
