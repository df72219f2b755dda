// Package configplan is the ConfigPlanStore wrapper (spec component C10):
// named key/value configuration sets, at most one active plan per
// parent namespace, with an in-process cache invalidated on switch and a
// bus-driven invalidation path so every replica picks up an activation
// without restarting.
package configplan

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane"
	"github.com/vitaliisemenov/etl-monitor/internal/eventbus"
	"github.com/vitaliisemenov/etl-monitor/internal/metrics"
)

const maxCachedParents = 64

// Store wraps a controlplane.ConfigPlanStore with a per-parent values
// cache and ConfigPlanSwitched event publication.
type Store struct {
	store   controlplane.ConfigPlanStore
	bus     eventbus.Bus
	logger  *slog.Logger
	metrics *metrics.ConfigPlanMetrics

	mu    sync.RWMutex
	cache *lru.Cache[string, map[string]string]
}

func New(store controlplane.ConfigPlanStore, bus eventbus.Bus, logger *slog.Logger, m *metrics.ConfigPlanMetrics) *Store {
	cache, _ := lru.New[string, map[string]string](maxCachedParents)
	return &Store{store: store, bus: bus, logger: logger, metrics: m, cache: cache}
}

// Activate atomically switches the active plan for parent and publishes
// ConfigPlanSwitched so every replica's cache is invalidated, including
// this one.
func (s *Store) Activate(ctx context.Context, parent, planName, actor string) error {
	if err := s.store.Activate(ctx, parent, planName); err != nil {
		return err
	}
	s.RefreshCache(parent)
	if s.metrics != nil {
		s.metrics.ActivationsTotal.Inc()
	}
	if s.bus == nil {
		return nil
	}
	event := eventbus.ConfigPlanSwitched{Parent: parent, PlanName: planName, Actor: actor, At: time.Now().UTC()}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("configplan: failed to publish ConfigPlanSwitched", "parent", parent, "plan", planName, "error", err)
	}
	return nil
}

// RefreshCache drops the cached values for parent; the next typed getter
// reloads them from the store.
func (s *Store) RefreshCache(parent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(parent)
}

// Subscribe starts a goroutine that invalidates the local cache whenever
// another replica activates a plan. It returns immediately; the
// subscription runs until ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	events, err := s.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	go func() {
		for event := range events {
			s.RefreshCache(event.Parent)
		}
	}()
	return nil
}

func (s *Store) valuesFor(ctx context.Context, parent string) map[string]string {
	s.mu.RLock()
	if v, ok := s.cache.Get(parent); ok {
		s.mu.RUnlock()
		if s.metrics != nil {
			s.metrics.CacheHitsTotal.WithLabelValues("hit").Inc()
		}
		return v
	}
	s.mu.RUnlock()

	if s.metrics != nil {
		s.metrics.CacheHitsTotal.WithLabelValues("miss").Inc()
	}

	plan, err := s.store.GetActivePlan(ctx, parent)
	if err != nil {
		s.logger.Warn("configplan: no active plan, falling back to defaults", "parent", parent, "error", err)
		return nil
	}
	values, err := s.store.GetValues(ctx, parent, plan.PlanName)
	if err != nil {
		s.logger.Warn("configplan: failed to load plan values, falling back to defaults", "parent", parent, "plan", plan.PlanName, "error", err)
		return nil
	}

	s.mu.Lock()
	s.cache.Add(parent, values)
	s.mu.Unlock()
	return values
}

// GetString returns the configured value for key under parent's active
// plan, or def on miss.
func (s *Store) GetString(ctx context.Context, parent, key, def string) string {
	if v, ok := s.valuesFor(ctx, parent)[key]; ok {
		return v
	}
	return def
}

// GetInt parses the configured value as an int, returning def and
// logging a warning on miss or parse failure.
func (s *Store) GetInt(ctx context.Context, parent, key string, def int) int {
	v, ok := s.valuesFor(ctx, parent)[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		s.logger.Warn("configplan: failed to parse int config value, using default", "parent", parent, "key", key, "value", v, "error", err)
		return def
	}
	return n
}

// GetLong parses the configured value as an int64.
func (s *Store) GetLong(ctx context.Context, parent, key string, def int64) int64 {
	v, ok := s.valuesFor(ctx, parent)[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		s.logger.Warn("configplan: failed to parse long config value, using default", "parent", parent, "key", key, "value", v, "error", err)
		return def
	}
	return n
}

// GetDouble parses the configured value as a float64.
func (s *Store) GetDouble(ctx context.Context, parent, key string, def float64) float64 {
	v, ok := s.valuesFor(ctx, parent)[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		s.logger.Warn("configplan: failed to parse double config value, using default", "parent", parent, "key", key, "value", v, "error", err)
		return def
	}
	return n
}

// GetBool parses the configured value as a bool.
func (s *Store) GetBool(ctx context.Context, parent, key string, def bool) bool {
	v, ok := s.valuesFor(ctx, parent)[key]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		s.logger.Warn("configplan: failed to parse bool config value, using default", "parent", parent, "key", key, "value", v, "error", err)
		return def
	}
	return b
}
