// Package gapscan is the GapScanner (spec component C9): a periodic job
// that diffs each enabled loader's queried windows against what actually
// landed in LoadHistory and submits a backfill for every gap it finds.
package gapscan

import (
	"context"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/etl-monitor/internal/backfill"
	"github.com/vitaliisemenov/etl-monitor/internal/controlplane"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
	"github.com/vitaliisemenov/etl-monitor/internal/metrics"
)

// minGap is the smallest difference between queried and actually-loaded
// bounds that counts as a gap worth backfilling.
const minGap = 5 * time.Minute

// lookback bounds how far back into LoadHistory a scan looks.
const lookback = 7 * 24 * time.Hour

// Interval is how often Run invokes a scan.
const Interval = 6 * time.Hour

// Scanner periodically reconciles queried vs. actually-loaded ranges.
type Scanner struct {
	loaders  controlplane.LoaderStore
	history  controlplane.HistoryStore
	backfill controlplane.BackfillStore
	jobs     *backfill.Service
	logger   *slog.Logger
	metrics  *metrics.GapScanMetrics
}

func New(loaders controlplane.LoaderStore, history controlplane.HistoryStore, backfillStore controlplane.BackfillStore, jobs *backfill.Service, logger *slog.Logger, m *metrics.GapScanMetrics) *Scanner {
	return &Scanner{loaders: loaders, history: history, backfill: backfillStore, jobs: jobs, logger: logger, metrics: m}
}

// Run invokes Scan every Interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

type gap struct {
	kind     domain.GapKind
	from, to time.Time
}

// Scan reconciles every enabled loader's recent LoadHistory and submits a
// backfill job for each gap found.
func (s *Scanner) Scan(ctx context.Context) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ScanDuration.Observe(time.Since(start).Seconds())
		}
	}()

	loaders, err := s.loaders.ListLoaders(ctx)
	if err != nil {
		s.logger.Error("gapscan: listing loaders failed", "error", err)
		return
	}

	since := start.Add(-lookback).Unix()
	for _, l := range loaders {
		if !l.Enabled {
			continue
		}
		if err := s.scanLoader(ctx, l, since); err != nil {
			s.logger.Error("gapscan: scanning loader failed", "loader_code", l.LoaderCode, "error", err)
		}
	}
}

func (s *Scanner) scanLoader(ctx context.Context, l *domain.Loader, since int64) error {
	rows, err := s.history.ListRecentForLoader(ctx, l.LoaderCode, since)
	if err != nil {
		return err
	}

	var successRows []*domain.LoadHistory
	for _, h := range rows {
		if h.Status == domain.ExecutionSuccess && h.RecordsLoaded > 0 {
			successRows = append(successRows, h)
		}
	}

	var gaps []gap
	for i, h := range successRows {
		if h.ActualFromTime == nil || h.ActualToTime == nil {
			continue
		}
		if h.ActualFromTime.Sub(h.QueryFromTime) >= minGap {
			gaps = append(gaps, gap{kind: domain.GapStart, from: h.QueryFromTime, to: *h.ActualFromTime})
		}
		if h.QueryToTime.Sub(*h.ActualToTime) >= minGap {
			gaps = append(gaps, gap{kind: domain.GapEnd, from: *h.ActualToTime, to: h.QueryToTime})
		}
		if i > 0 {
			prev := successRows[i-1]
			if prev.ActualToTime != nil && h.ActualFromTime.Sub(*prev.ActualToTime) >= minGap {
				gaps = append(gaps, gap{kind: domain.GapTimeline, from: *prev.ActualToTime, to: *h.ActualFromTime})
			}
		}
	}

	if len(gaps) == 0 {
		return nil
	}

	active, err := s.backfill.CountActiveBackfillsForLoader(ctx, l.LoaderCode)
	if err != nil {
		return err
	}
	if active > domain.MaxActiveBackfillsPerLoader {
		s.logger.Warn("gapscan: skipping loader, too many active backfills", "loader_code", l.LoaderCode, "active", active)
		return nil
	}

	for _, g := range gaps {
		if _, err := s.jobs.Submit(ctx, l.LoaderCode, g.from, g.to, domain.PurgeAndReload, g.kind.RequestedBy()); err != nil {
			s.logger.Error("gapscan: submitting backfill failed", "loader_code", l.LoaderCode, "kind", g.kind, "error", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.GapsFoundTotal.WithLabelValues(string(g.kind)).Inc()
			s.metrics.BackfillsSubmitted.Inc()
		}
	}
	return nil
}
