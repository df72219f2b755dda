// Package leaderlock provides Redis-based leader election for periodic
// singleton tasks — the gap scanner's 6-hour sweep and the approval
// materializer's 10-second pass. Every replica runs the same ticker;
// leaderlock ensures only one replica actually executes the work per
// period. This is an optimization, not a correctness requirement: both
// tasks are idempotent, so a brief double-run at failover is harmless.
//
// Adapted from the teacher's Redis SET-NX distributed lock (atomic
// acquire via SET NX PX, atomic compare-and-delete release via a Lua
// script keyed on an owner token, to prevent one replica releasing a
// lock it no longer holds).
package leaderlock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// ErrNotLeader is returned by Acquire when another replica currently holds
// the lock for this task name.
var ErrNotLeader = errors.New("leaderlock: another replica is leader for this task")

// Handle represents a held leadership lease. Call Release when the
// periodic task finishes, or Extend to keep leadership across a
// longer-than-TTL run.
type Handle struct {
	client *redis.Client
	key    string
	token  string
	logger *slog.Logger
}

// Manager acquires per-task-name leadership leases over Redis.
type Manager struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
	ttl    time.Duration
}

func NewManager(client *redis.Client, logger *slog.Logger, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Manager{client: client, logger: logger, prefix: "etlmonitor:leader:", ttl: ttl}
}

// LeaseTTL returns the lease duration this manager was constructed with,
// the interval a non-leader replica should wait before retrying
// TryAcquire for the same task.
func (m *Manager) LeaseTTL() time.Duration {
	return m.ttl
}

// TryAcquire attempts to become leader for taskName. Returns ErrNotLeader
// (not a fatal error) if another replica already holds the lease.
func (m *Manager) TryAcquire(ctx context.Context, taskName string) (*Handle, error) {
	key := m.prefix + taskName
	token := uuid.NewString()

	ok, err := m.client.SetNX(ctx, key, token, m.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotLeader
	}
	return &Handle{client: m.client, key: key, token: token, logger: m.logger}, nil
}

// Release gives up leadership, but only if this handle's token still
// owns the key (it may have expired and been re-acquired by another
// replica in the meantime, in which case Release is a safe no-op).
func (h *Handle) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, h.client, []string{h.key}, h.token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		h.logger.Warn("leaderlock: release failed", "key", h.key, "error", err)
		return err
	}
	return nil
}

// Extend refreshes the lease TTL, for a task whose single run may exceed
// the manager's configured TTL.
func (h *Handle) Extend(ctx context.Context, ttl time.Duration) error {
	_, err := extendScript.Run(ctx, h.client, []string{h.key}, h.token, ttl.Milliseconds()).Result()
	return err
}
