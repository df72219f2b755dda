package pipeline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane/sqlitestore"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
	"github.com/vitaliisemenov/etl-monitor/internal/sources"
)

func TestWindow_NeverLoaded(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	l := &domain.Loader{MinIntervalSeconds: 60, MaxQueryPeriodSeconds: 3600}
	w, ok := Window(l, now)
	require.True(t, ok)
	require.Equal(t, now.Add(-60*time.Second), w.FromTime)
	require.Equal(t, now, w.ToTime)
}

func TestWindow_NotYetDue(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	last := now.Add(-10 * time.Second)
	l := &domain.Loader{MinIntervalSeconds: 60, MaxQueryPeriodSeconds: 3600, LastLoadTimestamp: &last}
	_, ok := Window(l, now)
	require.False(t, ok, "window shorter than minIntervalSeconds must not be due")
}

func TestWindow_CappedByMaxQueryPeriod(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	last := now.Add(-2 * time.Hour)
	l := &domain.Loader{MinIntervalSeconds: 60, MaxQueryPeriodSeconds: 3600}
	l.LastLoadTimestamp = &last
	w, ok := Window(l, now)
	require.True(t, ok)
	require.Equal(t, last.Add(time.Hour), w.ToTime, "toTime must be capped at fromTime+maxQueryPeriodSeconds")
}

func TestSubstitute_QuotesISO8601AndAppliesTzOffset(t *testing.T) {
	w := domain.TimeWindow{
		FromTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ToTime:   time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	out := substitute("SELECT * FROM t WHERE ts BETWEEN :fromTime AND :toTime AND local BETWEEN :fromTimeTz AND :toTimeTz", w, 3)
	require.Contains(t, out, "'2026-01-01T00:00:00Z'")
	require.Contains(t, out, "'2026-01-02T00:00:00Z'")
	require.Contains(t, out, "'2026-01-01T03:00:00Z'")
	require.Contains(t, out, "'2026-01-02T03:00:00Z'")
}

func TestCheckQuerySafety(t *testing.T) {
	require.NoError(t, checkQuerySafety("SELECT 1"))
	require.Error(t, checkQuerySafety("DELETE FROM t"))
	require.Error(t, checkQuerySafety("UPDATE t SET x=1"))
	require.Error(t, checkQuerySafety("-- comment\nINSERT INTO t VALUES (1)"))
}

type fakeRunner struct {
	rows []sources.Row
	err  error
}

func (f *fakeRunner) RunQuery(ctx context.Context, dbCode, query string) ([]sources.Row, error) {
	return f.rows, f.err
}

func TestExecute_SuccessfulIngestionAdvancesLastLoadTimestamp(t *testing.T) {
	ctx := context.Background()
	store, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	loader := &domain.Loader{
		LoaderCode:            "L1",
		SQL:                   "SELECT load_timestamp, rec_count, min, max, avg, sum FROM t WHERE ts BETWEEN :fromTime AND :toTime",
		SourceDatabaseID:      "db1",
		MinIntervalSeconds:    60,
		MaxIntervalSeconds:    3600,
		MaxQueryPeriodSeconds: 3600,
		MaxParallelExecutions: 1,
		PurgeStrategy:         domain.PurgeAndReload,
		LoadStatus:            domain.LoadStatusIdle,
	}
	require.NoError(t, store.InsertLoader(ctx, loader))

	window := domain.TimeWindow{
		FromTime: time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC),
		ToTime:   time.Date(2026, 7, 30, 11, 0, 0, 0, time.UTC),
	}
	runner := &fakeRunner{rows: []sources.Row{
		{"load_timestamp": window.FromTime.Add(30 * time.Minute), "rec_count": int64(10), "min": 1.0, "max": 5.0, "avg": 3.0, "sum": 30.0},
	}}

	p := &Pipeline{loaders: store, history: store, signals: store, src: runner, logger: slog.Default()}

	h, err := p.Execute(ctx, loader, window, "replica-a")
	require.NoError(t, err)
	require.Equal(t, domain.ExecutionSuccess, h.Status)
	require.EqualValues(t, 1, h.RecordsIngested)

	updated, err := store.GetLoader(ctx, "L1")
	require.NoError(t, err)
	require.NotNil(t, updated.LastLoadTimestamp)
	require.Equal(t, window.FromTime.Add(30*time.Minute).Unix(), updated.LastLoadTimestamp.Unix())
	require.Equal(t, domain.LoadStatusIdle, updated.LoadStatus)
}

func TestExecute_ZeroRowsAdvancesToWindowEndAndCountsZeroRun(t *testing.T) {
	ctx := context.Background()
	store, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	loader := &domain.Loader{
		LoaderCode:            "L2",
		SQL:                   "SELECT load_timestamp FROM t WHERE ts BETWEEN :fromTime AND :toTime",
		SourceDatabaseID:      "db1",
		MinIntervalSeconds:    60,
		MaxIntervalSeconds:    3600,
		MaxQueryPeriodSeconds: 3600,
		MaxParallelExecutions: 1,
		PurgeStrategy:         domain.SkipDuplicates,
		LoadStatus:            domain.LoadStatusIdle,
	}
	require.NoError(t, store.InsertLoader(ctx, loader))

	window := domain.TimeWindow{
		FromTime: time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC),
		ToTime:   time.Date(2026, 7, 30, 11, 0, 0, 0, time.UTC),
	}
	runner := &fakeRunner{rows: nil}
	p := &Pipeline{loaders: store, history: store, signals: store, src: runner, logger: slog.Default()}

	h, err := p.Execute(ctx, loader, window, "replica-a")
	require.NoError(t, err)
	require.Equal(t, domain.ExecutionSuccess, h.Status)

	updated, err := store.GetLoader(ctx, "L2")
	require.NoError(t, err)
	require.NotNil(t, updated.LastLoadTimestamp)
	require.Equal(t, window.ToTime.Unix(), updated.LastLoadTimestamp.Unix())
	require.Equal(t, 1, updated.ConsecutiveZeroRecordRuns)
}

func TestExecute_UnsafeQueryFailsAndRecordsFailure(t *testing.T) {
	ctx := context.Background()
	store, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	loader := &domain.Loader{
		LoaderCode:            "L3",
		SQL:                   "SELECT 1; DELETE FROM signal_history",
		SourceDatabaseID:      "db1",
		MinIntervalSeconds:    60,
		MaxIntervalSeconds:    3600,
		MaxQueryPeriodSeconds: 3600,
		MaxParallelExecutions: 1,
		PurgeStrategy:         domain.SkipDuplicates,
		LoadStatus:            domain.LoadStatusIdle,
	}
	require.NoError(t, store.InsertLoader(ctx, loader))

	window := domain.TimeWindow{
		FromTime: time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC),
		ToTime:   time.Date(2026, 7, 30, 11, 0, 0, 0, time.UTC),
	}
	p := &Pipeline{loaders: store, history: store, signals: store, src: &fakeRunner{}, logger: slog.Default()}

	h, err := p.Execute(ctx, loader, window, "replica-a")
	require.NoError(t, err)
	require.Equal(t, domain.ExecutionFailed, h.Status)

	updated, err := store.GetLoader(ctx, "L3")
	require.NoError(t, err)
	require.Equal(t, domain.LoadStatusFailed, updated.LoadStatus)
	require.NotNil(t, updated.FailedSince)
}
