// Package lock is the LockManager (spec component C3): it bounds
// concurrent executions per loader and globally, using the control
// plane's atomic acquire primitive, and tracks an in-process registry of
// cancelable execution handles so the stale-lock reaper can interrupt a
// worker that is still running under a lock whose age exceeds the stale
// threshold.
package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
	"github.com/vitaliisemenov/etl-monitor/internal/metrics"
)

// Manager implements spec.md §4.2 on top of a controlplane.LockStore.
type Manager struct {
	store             controlplane.LockStore
	logger            *slog.Logger
	metrics           *metrics.LockMetrics
	staleThreshold    time.Duration
	releasedRetention time.Duration
	globalLimit       int

	mu       sync.Mutex
	handles  map[string]context.CancelFunc // lockId -> cancel for a running worker
	lastScan time.Time
}

func New(store controlplane.LockStore, logger *slog.Logger, m *metrics.LockMetrics) *Manager {
	return &Manager{
		store:             store,
		logger:            logger,
		metrics:           m,
		staleThreshold:    domain.DefaultStaleThreshold,
		releasedRetention: domain.DefaultReleasedRetention,
		globalLimit:       domain.GlobalLockLimit,
		handles:           make(map[string]context.CancelFunc),
	}
}

// TryAcquire attempts to acquire an execution slot for loader. Returns
// (nil, nil) if denied by either cap — that is not an error, just "not
// now". cancel is registered against the returned lock's ID so a later
// cleanupStale pass can interrupt this worker.
func (m *Manager) TryAcquire(ctx context.Context, loader *domain.Loader, replicaName string, cancel context.CancelFunc) (*domain.LoaderExecutionLock, error) {
	lockItem, err := m.store.TryAcquireAtomic(ctx, loader.LoaderCode, replicaName, loader.MaxParallelExecutions, m.globalLimit)
	if err != nil {
		if m.metrics != nil {
			m.metrics.AcquireAttemptsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	if lockItem == nil {
		if m.metrics != nil {
			m.metrics.AcquireAttemptsTotal.WithLabelValues("denied").Inc()
		}
		return nil, nil
	}

	m.mu.Lock()
	m.handles[lockItem.LockID] = cancel
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.AcquireAttemptsTotal.WithLabelValues("granted").Inc()
		m.metrics.ActiveLocks.Inc()
	}
	return lockItem, nil
}

// Release sets the lock released. Releasing an already-released or
// unknown lock is a no-op that logs a warning, per spec.md §4.2.
func (m *Manager) Release(ctx context.Context, lockID string) error {
	released, err := m.store.ReleaseLock(ctx, lockID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.handles, lockID)
	m.mu.Unlock()

	if !released {
		m.logger.Warn("lock: release called on an already-released or unknown lock", "lock_id", lockID)
		return nil
	}
	if m.metrics != nil {
		m.metrics.ActiveLocks.Dec()
	}
	return nil
}

// CleanupStale marks released any lock held past staleThreshold and
// cancels the in-process worker owning it, if this replica owns it.
// Returns the number of locks reaped.
func (m *Manager) CleanupStale(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-m.staleThreshold).Unix()
	stale, err := m.store.MarkStaleReleased(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	for _, l := range stale {
		m.mu.Lock()
		cancel, ok := m.handles[l.LockID]
		delete(m.handles, l.LockID)
		m.mu.Unlock()
		if ok {
			cancel()
			m.logger.Warn("lock: cancelled in-process worker for stale lock", "lock_id", l.LockID, "loader_code", l.LoaderCode)
		}
	}

	if m.metrics != nil && len(stale) > 0 {
		for range stale {
			m.metrics.StaleReapedTotal.Inc()
		}
		m.metrics.ActiveLocks.Sub(float64(len(stale)))
	}
	return len(stale), nil
}

// ShouldCleanupStale reports whether enough time has passed since the
// last CleanupStale pass, per the scheduler's "at most once per
// staleLockThresholdHours" cadence (spec.md §4.4 step 1).
func (m *Manager) ShouldCleanupStale(now time.Time, interval time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.lastScan) < interval {
		return false
	}
	m.lastScan = now
	return true
}

// RunRetention deletes released lock rows older than releasedRetention.
func (m *Manager) RunRetention(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-m.releasedRetention).Unix()
	n, err := m.store.DeleteReleasedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if m.metrics != nil && n > 0 {
		for i := 0; i < n; i++ {
			m.metrics.RetentionDeletedTotal.Inc()
		}
	}
	return n, nil
}
