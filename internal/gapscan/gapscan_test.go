package gapscan

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/etl-monitor/internal/backfill"
	"github.com/vitaliisemenov/etl-monitor/internal/controlplane/sqlitestore"
	"github.com/vitaliisemenov/etl-monitor/internal/crypto"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
	"github.com/vitaliisemenov/etl-monitor/internal/pipeline"
	"github.com/vitaliisemenov/etl-monitor/internal/sources"
)

func newTestScanner(t *testing.T) (*Scanner, *sqlitestore.Store) {
	ctx := context.Background()
	store, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	codec, err := crypto.NewFieldCodec(make([]byte, 32))
	require.NoError(t, err)
	registry := sources.New(store, codec, sources.DefaultPoolConfig(), slog.Default(), nil)
	pipe := pipeline.New(store, store, store, registry, slog.Default(), nil)
	jobs := backfill.New(store, store, pipe, slog.Default(), nil)
	return New(store, store, store, jobs, slog.Default(), nil), store
}

func insertHistoryRow(t *testing.T, store *sqlitestore.Store, loaderCode string, start time.Time, queryFrom, queryTo, actualFrom, actualTo time.Time, recordsLoaded int64) {
	ctx := context.Background()
	h := &domain.LoadHistory{
		LoaderCode: loaderCode, ReplicaName: "replica-a", StartTime: start,
		QueryFromTime: queryFrom, QueryToTime: queryTo, Status: domain.ExecutionRunning,
	}
	id, err := store.InsertRunning(ctx, h)
	require.NoError(t, err)
	h.ID = id
	end := start.Add(time.Second)
	h.EndTime = &end
	h.ActualFromTime = &actualFrom
	h.ActualToTime = &actualTo
	h.RecordsLoaded = recordsLoaded
	h.Status = domain.ExecutionSuccess
	require.NoError(t, store.CompleteHistory(ctx, id, h))
}

func TestScanner_DetectsTimelineGapAndSubmitsBackfill(t *testing.T) {
	ctx := context.Background()
	s, store := newTestScanner(t)

	require.NoError(t, store.InsertLoader(ctx, &domain.Loader{
		LoaderCode: "L1", SQL: "SELECT 1 FROM t", SourceDatabaseID: "db1",
		MinIntervalSeconds: 1, MaxIntervalSeconds: 60, MaxQueryPeriodSeconds: 3600, MaxParallelExecutions: 1,
		PurgeStrategy: domain.SkipDuplicates, Enabled: true,
	}))

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	t0 := base
	t1 := base.Add(20 * time.Minute)

	// Row A: actualTo = t0, row B: actualFrom = t0 + 10min -> timeline gap.
	insertHistoryRow(t, store, "L1", t0, t0, t0, t0.Add(-time.Minute), t0, 10)
	insertHistoryRow(t, store, "L1", t1, t1, t1, t0.Add(10*time.Minute), t1, 10)

	s.Scan(ctx)

	jobs, err := store.ListBackfillsByLoader(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, domain.GapTimeline.RequestedBy(), jobs[0].RequestedBy)
	require.Equal(t, domain.BackfillPending, jobs[0].Status)
}

func TestScanner_ZeroRecordSuccessIsNotAGap(t *testing.T) {
	ctx := context.Background()
	s, store := newTestScanner(t)

	require.NoError(t, store.InsertLoader(ctx, &domain.Loader{
		LoaderCode: "L1", SQL: "SELECT 1 FROM t", SourceDatabaseID: "db1",
		MinIntervalSeconds: 1, MaxIntervalSeconds: 60, MaxQueryPeriodSeconds: 3600, MaxParallelExecutions: 1,
		PurgeStrategy: domain.SkipDuplicates, Enabled: true,
	}))

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	// A big START gap, but zero records loaded -> must not count.
	insertHistoryRow(t, store, "L1", base, base, base.Add(time.Hour), base.Add(50*time.Minute), base.Add(time.Hour), 0)

	s.Scan(ctx)

	jobs, err := store.ListBackfillsByLoader(ctx, "L1")
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestScanner_SkipsDisabledLoader(t *testing.T) {
	ctx := context.Background()
	s, store := newTestScanner(t)

	require.NoError(t, store.InsertLoader(ctx, &domain.Loader{
		LoaderCode: "L1", SQL: "SELECT 1 FROM t", SourceDatabaseID: "db1",
		MinIntervalSeconds: 1, MaxIntervalSeconds: 60, MaxQueryPeriodSeconds: 3600, MaxParallelExecutions: 1,
		PurgeStrategy: domain.SkipDuplicates, Enabled: false,
	}))

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	insertHistoryRow(t, store, "L1", base, base, base.Add(time.Hour), base.Add(50*time.Minute), base.Add(time.Hour), 10)

	s.Scan(ctx)

	jobs, err := store.ListBackfillsByLoader(ctx, "L1")
	require.NoError(t, err)
	require.Empty(t, jobs)
}
