// Package pipeline is the ExecutionPipeline (spec component C4): it turns
// one (loader, TimeWindow) pair into rows queried from a source database,
// transformed into SignalHistory records, ingested under the loader's
// purge strategy, and recorded in LoadHistory. Both the scheduler (C5) and
// the backfill service (C8) drive it with windows computed differently but
// executed identically.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
	"github.com/vitaliisemenov/etl-monitor/internal/metrics"
	"github.com/vitaliisemenov/etl-monitor/internal/sources"
)

// rowColumn names are the contract a loader's stored SQL SELECT list must
// honor: the result set is mapped into a SignalHistory by these column
// names, matched exactly as the source driver reports them (so the SELECT
// list must produce these lowercase names), with segmentN columns optional.
const (
	colTimestamp = "load_timestamp"
	colRecCount  = "rec_count"
	colMin       = "min"
	colMax       = "max"
	colAvg       = "avg"
	colSum       = "sum"
)

var forbiddenKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|truncate|alter|create)\b`)

// queryRunner is the slice of *sources.Registry the pipeline needs; tests
// substitute a fake instead of standing up real source pools.
type queryRunner interface {
	RunQuery(ctx context.Context, dbCode, query string) ([]sources.Row, error)
}

// Pipeline wires the components C4 needs: the source registry for rows,
// the signal and history stores for writes, and the loader store for the
// post-execution state update.
type Pipeline struct {
	loaders controlplane.LoaderStore
	history controlplane.HistoryStore
	signals controlplane.SignalStore
	src     queryRunner
	logger  *slog.Logger
	metrics *metrics.PipelineMetrics
}

func New(loaders controlplane.LoaderStore, history controlplane.HistoryStore, signals controlplane.SignalStore, src *sources.Registry, logger *slog.Logger, m *metrics.PipelineMetrics) *Pipeline {
	return &Pipeline{loaders: loaders, history: history, signals: signals, src: src, logger: logger, metrics: m}
}

// Window computes the scheduled-run window for loader as of now. ok is
// false if the loader is not yet due (window shorter than
// minIntervalSeconds).
func Window(l *domain.Loader, now time.Time) (domain.TimeWindow, bool) {
	var from time.Time
	if l.LastLoadTimestamp == nil {
		from = now.Add(-time.Duration(l.MinIntervalSeconds) * time.Second)
	} else {
		from = *l.LastLoadTimestamp
	}

	maxTo := from.Add(time.Duration(l.MaxQueryPeriodSeconds) * time.Second)
	to := now
	if maxTo.Before(to) {
		to = maxTo
	}

	if to.Sub(from) < time.Duration(l.MinIntervalSeconds)*time.Second {
		return domain.TimeWindow{}, false
	}
	return domain.TimeWindow{FromTime: from, ToTime: to}, true
}

// substitute replaces :fromTime/:toTime (UTC) and :fromTimeTz/:toTimeTz
// (shifted by sourceTimezoneOffsetHours) with quoted ISO-8601 literals. No
// user-supplied values ever reach this function; tz offset is server-owned.
func substitute(sql string, w domain.TimeWindow, tzOffsetHours int) string {
	const layout = "2006-01-02T15:04:05Z"
	tz := time.Duration(tzOffsetHours) * time.Hour

	// The Tz placeholders go first: NewReplacer tries patterns in argument
	// order, so :fromTime would otherwise consume the start of :fromTimeTz.
	r := strings.NewReplacer(
		":fromTimeTz", "'"+w.FromTime.UTC().Add(tz).Format(layout)+"'",
		":toTimeTz", "'"+w.ToTime.UTC().Add(tz).Format(layout)+"'",
		":fromTime", "'"+w.FromTime.UTC().Format(layout)+"'",
		":toTime", "'"+w.ToTime.UTC().Format(layout)+"'",
	)
	return r.Replace(sql)
}

// checkQuerySafety enforces the read-only gate on the substituted SQL: it
// must begin with SELECT and must not contain any mutating keyword as a
// whole word.
func checkQuerySafety(sql string) error {
	if !domain.StartsWithReadOnlyKeyword(sql) {
		return domain.NewValidationError("query must begin with a read-only SELECT")
	}
	if forbiddenKeyword.MatchString(sql) {
		return domain.NewValidationError("query contains a forbidden mutating keyword")
	}
	return nil
}

// Execute runs loader's stored query over window, ingests the result, and
// writes the corresponding LoadHistory row. It never returns an error for
// a query/ingestion failure — those are recorded as a FAILED history row
// and reported via the returned *domain.LoadHistory; err is reserved for
// failures to even start or finish bookkeeping (history insert, state
// update).
func (p *Pipeline) Execute(ctx context.Context, loader *domain.Loader, window domain.TimeWindow, replicaName string) (*domain.LoadHistory, error) {
	start := time.Now()
	h := &domain.LoadHistory{
		LoaderCode:    loader.LoaderCode,
		ReplicaName:   replicaName,
		StartTime:     start,
		QueryFromTime: window.FromTime,
		QueryToTime:   window.ToTime,
		Status:        domain.ExecutionRunning,
	}
	id, err := p.history.InsertRunning(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("inserting running history row: %w", err)
	}
	h.ID = id

	signals, runErr := p.runAndTransform(ctx, loader, window)

	end := time.Now()
	h.EndTime = &end
	if runErr != nil {
		h.Status = domain.ExecutionFailed
		h.ErrorMessage = runErr.Error()
		p.recordOutcome(h)
		if err := p.history.CompleteHistory(ctx, id, h); err != nil {
			return nil, fmt.Errorf("completing failed history row: %w", err)
		}
		if err := p.updateLoaderAfterFailure(ctx, loader); err != nil {
			return nil, fmt.Errorf("updating loader state after failure: %w", err)
		}
		return h, nil
	}

	purged, inserted, ingestErr := p.ingest(ctx, loader, window, signals)
	h.RecordsLoaded = int64(len(signals))
	h.RecordsIngested = inserted
	h.RecordsPurged = purged
	if from, to, ok := actualRange(signals); ok {
		h.ActualFromTime = &from
		h.ActualToTime = &to
	}
	if ingestErr != nil {
		h.Status = domain.ExecutionFailed
		h.ErrorMessage = ingestErr.Error()
	} else if inserted < int64(len(signals)) {
		h.Status = domain.ExecutionPartial
	} else {
		h.Status = domain.ExecutionSuccess
	}

	p.recordOutcome(h)
	if err := p.history.CompleteHistory(ctx, id, h); err != nil {
		return nil, fmt.Errorf("completing history row: %w", err)
	}

	if h.Status == domain.ExecutionFailed {
		if err := p.updateLoaderAfterFailure(ctx, loader); err != nil {
			return nil, fmt.Errorf("updating loader state after failure: %w", err)
		}
		return h, nil
	}
	if err := p.updateLoaderAfterSuccess(ctx, loader, window, h); err != nil {
		return nil, fmt.Errorf("updating loader state after success: %w", err)
	}
	return h, nil
}

func (p *Pipeline) recordOutcome(h *domain.LoadHistory) {
	if p.metrics == nil {
		return
	}
	p.metrics.ExecutionsTotal.WithLabelValues(string(h.Status)).Inc()
	p.metrics.ExecutionDuration.Observe(h.DurationSeconds())
	p.metrics.RecordsIngested.Add(float64(h.RecordsIngested))
}

func (p *Pipeline) runAndTransform(ctx context.Context, loader *domain.Loader, window domain.TimeWindow) ([]*domain.SignalHistory, error) {
	query := substitute(loader.SQL, window, loader.SourceTimezoneOffsetHours)
	if err := checkQuerySafety(query); err != nil {
		return nil, err
	}

	rows, err := p.src.RunQuery(ctx, loader.SourceDatabaseID, query)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.SignalHistory, 0, len(rows))
	for _, row := range rows {
		s, err := p.transformRow(ctx, loader, row)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (p *Pipeline) transformRow(ctx context.Context, loader *domain.Loader, row sources.Row) (*domain.SignalHistory, error) {
	ts, ok := rowTimestamp(row[colTimestamp])
	if !ok {
		return nil, domain.NewValidationError("row missing or unparseable %q column", colTimestamp)
	}
	ts = ts.Add(-time.Duration(loader.SourceTimezoneOffsetHours) * time.Hour).UTC()

	var segs [10]*string
	for i := 0; i < 10; i++ {
		col := fmt.Sprintf("segment%d", i+1)
		if v, present := row[col]; present && v != nil {
			s := fmt.Sprintf("%v", v)
			segs[i] = &s
		}
	}

	segmentCode, err := p.signals.GetOrCreateSegmentCode(ctx, loader.LoaderCode, segs)
	if err != nil {
		return nil, err
	}

	return &domain.SignalHistory{
		LoaderCode:    loader.LoaderCode,
		LoadTimestamp: ts.Unix(),
		SegmentCode:   segmentCode,
		RecCount:      toInt64(row[colRecCount]),
		Min:           toFloat64(row[colMin]),
		Max:           toFloat64(row[colMax]),
		Avg:           toFloat64(row[colAvg]),
		Sum:           toFloat64(row[colSum]),
		CreateTime:    time.Now().UTC(),
	}, nil
}

func (p *Pipeline) ingest(ctx context.Context, loader *domain.Loader, window domain.TimeWindow, signals []*domain.SignalHistory) (purged int64, inserted int64, err error) {
	fromEpoch, toEpoch := window.FromTime.Unix(), window.ToTime.Unix()

	switch loader.PurgeStrategy {
	case domain.FailOnDuplicate:
		exists, err := p.signals.ExistsInRange(ctx, loader.LoaderCode, fromEpoch, toEpoch)
		if err != nil {
			return 0, 0, err
		}
		if exists {
			return 0, 0, domain.NewDuplicateDataError("signal rows already exist for %q in [%d,%d)", loader.LoaderCode, fromEpoch, toEpoch)
		}
	case domain.PurgeAndReload, domain.SkipDuplicates:
		// handled inside BulkAppend, which knows the strategy.
	}

	if len(signals) == 0 {
		return 0, 0, nil
	}
	purged, inserted, err = p.signals.BulkAppend(ctx, signals, loader.PurgeStrategy)
	if err != nil {
		return purged, inserted, err
	}
	if p.metrics != nil {
		p.metrics.RecordsPurged.Add(float64(purged))
	}
	return purged, inserted, nil
}

func (p *Pipeline) updateLoaderAfterSuccess(ctx context.Context, loader *domain.Loader, window domain.TimeWindow, h *domain.LoadHistory) error {
	update := controlplane.LoaderStateUpdate{
		LoadStatus:       domain.LoadStatusIdle,
		ClearFailedSince: true,
	}
	if h.RecordsIngested > 0 && h.ActualToTime != nil {
		epoch := h.ActualToTime.Unix()
		update.LastLoadTimestamp = &epoch
		zero := 0
		update.ConsecutiveZeroRecordRuns = &zero
		update.ResetZeroRecordRuns = true
	} else {
		epoch := window.ToTime.Unix()
		update.LastLoadTimestamp = &epoch
		delta := loader.ConsecutiveZeroRecordRuns + 1
		update.ConsecutiveZeroRecordRuns = &delta
	}
	return p.loaders.UpdateLoaderState(ctx, loader.LoaderCode, update)
}

func (p *Pipeline) updateLoaderAfterFailure(ctx context.Context, loader *domain.Loader) error {
	update := controlplane.LoaderStateUpdate{LoadStatus: domain.LoadStatusFailed}
	if loader.FailedSince == nil {
		now := time.Now().Unix()
		update.FailedSince = &now
	}
	return p.loaders.UpdateLoaderState(ctx, loader.LoaderCode, update)
}

func actualRange(signals []*domain.SignalHistory) (from, to time.Time, ok bool) {
	if len(signals) == 0 {
		return time.Time{}, time.Time{}, false
	}
	from = time.Unix(signals[0].LoadTimestamp, 0).UTC()
	to = from
	for _, s := range signals[1:] {
		t := time.Unix(s.LoadTimestamp, 0).UTC()
		if t.Before(from) {
			from = t
		}
		if t.After(to) {
			to = t
		}
	}
	return from, to, true
}

func rowTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case int64:
		return time.Unix(t, 0).UTC(), true
	case int:
		return time.Unix(int64(t), 0).UTC(), true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
		if parsed, err := time.Parse("2006-01-02 15:04:05", t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}
