// Package scheduler is the LoaderScheduler (spec component C5): a single
// periodic tick per replica that fetches eligible loaders, computes which
// are due, and dispatches them to a bounded worker pool that invokes the
// execution pipeline under a distributed lock.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/vitaliisemenov/etl-monitor/internal/configplan"
	"github.com/vitaliisemenov/etl-monitor/internal/controlplane"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
	"github.com/vitaliisemenov/etl-monitor/internal/lock"
	"github.com/vitaliisemenov/etl-monitor/internal/metrics"
	"github.com/vitaliisemenov/etl-monitor/internal/pipeline"
)

// autoRecoverAfter is how long a FAILED loader is treated as due again
// without any DB mutation, per spec.md §4.3's auto-recovery rule.
const autoRecoverAfter = 20 * time.Minute

const (
	configParent          = "scheduler"
	keyPollingInterval    = "scheduler.polling-interval-seconds"
	keyStaleThresholdHours = "loader.locking.stale-threshold-hours"
)

// Scheduler ticks on a configurable interval and dispatches due loaders to
// a bounded worker pool sized at domain.GlobalLockLimit.
type Scheduler struct {
	loaders     controlplane.LoaderStore
	locks       *lock.Manager
	pipeline    *pipeline.Pipeline
	cfg         *configplan.Store
	replicaName string
	logger      *slog.Logger
	metrics     *metrics.SchedulerMetrics

	sem chan struct{}
	wg  sync.WaitGroup
}

func New(loaders controlplane.LoaderStore, locks *lock.Manager, p *pipeline.Pipeline, cfg *configplan.Store, replicaName string, logger *slog.Logger, m *metrics.SchedulerMetrics) *Scheduler {
	return &Scheduler{
		loaders:     loaders,
		locks:       locks,
		pipeline:    p,
		cfg:         cfg,
		replicaName: replicaName,
		logger:      logger,
		metrics:     m,
		sem:         make(chan struct{}, domain.GlobalLockLimit),
	}
}

// Run ticks until ctx is cancelled, then waits for in-flight workers to
// finish (each worker observes ctx cancellation on its own).
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.pollingInterval(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.Tick(ctx)
			if next := s.pollingInterval(ctx); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (s *Scheduler) pollingInterval(ctx context.Context) time.Duration {
	if s.cfg == nil {
		return time.Second
	}
	seconds := s.cfg.GetInt(ctx, configParent, keyPollingInterval, 1)
	if seconds <= 0 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

func (s *Scheduler) staleThresholdHours(ctx context.Context) int {
	if s.cfg == nil {
		return 2
	}
	return s.cfg.GetInt(ctx, configParent, keyStaleThresholdHours, 2)
}

// Tick runs one scheduling pass: stale-lock cleanup (throttled), fetch
// eligible loaders, compute due, shuffle, try-acquire-and-dispatch.
func (s *Scheduler) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.TickDurationSeconds.Observe(time.Since(start).Seconds())
		}
	}()

	threshold := time.Duration(s.staleThresholdHours(ctx)) * time.Hour
	if s.locks.ShouldCleanupStale(start, threshold) {
		if _, err := s.locks.CleanupStale(ctx); err != nil {
			s.logger.Warn("scheduler: cleanupStale failed", "error", err)
		}
	}

	loaders, err := s.loaders.ListEligibleLoaders(ctx)
	if err != nil {
		s.logger.Error("scheduler: listing eligible loaders failed", "error", err)
		return
	}

	now := time.Now()
	type due struct {
		loader *domain.Loader
		window domain.TimeWindow
	}
	var dueLoaders []due
	for _, l := range loaders {
		if !isDue(l, now) {
			continue
		}
		w, ok := pipeline.Window(l, now)
		if !ok {
			continue
		}
		dueLoaders = append(dueLoaders, due{loader: l, window: w})
	}
	if s.metrics != nil {
		s.metrics.LoadersDue.Set(float64(len(dueLoaders)))
	}

	rand.Shuffle(len(dueLoaders), func(i, j int) { dueLoaders[i], dueLoaders[j] = dueLoaders[j], dueLoaders[i] })

	for _, d := range dueLoaders {
		workerCtx, cancel := context.WithCancel(ctx)
		lockItem, err := s.locks.TryAcquire(workerCtx, d.loader, s.replicaName, cancel)
		if err != nil {
			s.logger.Error("scheduler: tryAcquire failed", "loader_code", d.loader.LoaderCode, "error", err)
			cancel()
			continue
		}
		if lockItem == nil {
			if s.metrics != nil {
				s.metrics.SkippedLockedTotal.Inc()
			}
			cancel()
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			cancel()
			_ = s.locks.Release(context.Background(), lockItem.LockID)
			return
		}

		if s.metrics != nil {
			s.metrics.DispatchedTotal.Inc()
		}
		s.wg.Add(1)
		go s.runWorker(workerCtx, cancel, lockItem, d.loader, d.window)
	}
}

func (s *Scheduler) runWorker(ctx context.Context, cancel context.CancelFunc, lockItem *domain.LoaderExecutionLock, loader *domain.Loader, window domain.TimeWindow) {
	defer s.wg.Done()
	defer func() { <-s.sem }()
	defer cancel()
	defer func() {
		if err := s.locks.Release(context.Background(), lockItem.LockID); err != nil {
			s.logger.Error("scheduler: releasing lock failed", "lock_id", lockItem.LockID, "error", err)
		}
	}()

	if _, err := s.pipeline.Execute(ctx, loader, window, s.replicaName); err != nil {
		s.logger.Error("scheduler: pipeline execution failed", "loader_code", loader.LoaderCode, "error", err)
	}
}

// isDue reports whether l is a scheduling candidate: IDLE, or FAILED long
// enough ago to auto-recover (spec.md §4.3/§4.4).
func isDue(l *domain.Loader, now time.Time) bool {
	switch l.LoadStatus {
	case domain.LoadStatusIdle:
		return true
	case domain.LoadStatusFailed:
		return l.FailedSince != nil && now.Sub(*l.FailedSince) >= autoRecoverAfter
	default:
		return false
	}
}
