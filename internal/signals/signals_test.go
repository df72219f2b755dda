package signals

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane/sqlitestore"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func newTestFacade(t *testing.T) (*Facade, *sqlitestore.Store) {
	ctx := context.Background()
	store, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, store), store
}

func TestFacade_AppendRejectsUnknownLoader(t *testing.T) {
	f, _ := newTestFacade(t)
	err := f.Append(context.Background(), &domain.SignalHistory{LoaderCode: "NOPE", LoadTimestamp: 100})
	require.Error(t, err)
	code, ok := domain.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeNotFound, code)
}

func TestFacade_AppendAssignsCreateTimeAndSucceeds(t *testing.T) {
	ctx := context.Background()
	f, raw := newTestFacade(t)
	require.NoError(t, raw.InsertLoader(ctx, &domain.Loader{
		LoaderCode: "L1", SQL: "SELECT 1 FROM t", SourceDatabaseID: "db1",
		MinIntervalSeconds: 1, MaxIntervalSeconds: 2, MaxQueryPeriodSeconds: 3, MaxParallelExecutions: 1,
		PurgeStrategy: domain.SkipDuplicates,
	}))

	sig := &domain.SignalHistory{LoaderCode: "L1", LoadTimestamp: 1000, SegmentCode: 1, RecCount: 1, Sum: 1}
	require.NoError(t, f.Append(ctx, sig))
	require.False(t, sig.CreateTime.IsZero())

	got, err := f.Query(ctx, "L1", 0, 2000, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestFacade_QueryRejectsInvalidRange(t *testing.T) {
	f, _ := newTestFacade(t)
	_, err := f.Query(context.Background(), "L1", -1, 10, nil)
	require.Error(t, err)
	_, err = f.Query(context.Background(), "L1", 10, 10, nil)
	require.Error(t, err)
}
