package backfill

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane/sqlitestore"
	"github.com/vitaliisemenov/etl-monitor/internal/crypto"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
	"github.com/vitaliisemenov/etl-monitor/internal/pipeline"
	"github.com/vitaliisemenov/etl-monitor/internal/sources"
)

func newTestService(t *testing.T) (*Service, *sqlitestore.Store) {
	ctx := context.Background()
	store, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	codec, err := crypto.NewFieldCodec(make([]byte, 32))
	require.NoError(t, err)
	registry := sources.New(store, codec, sources.DefaultPoolConfig(), slog.Default(), nil)
	pipe := pipeline.New(store, store, store, registry, slog.Default(), nil)
	return New(store, store, pipe, slog.Default(), nil), store
}

func insertTestLoader(t *testing.T, store *sqlitestore.Store, code string) {
	require.NoError(t, store.InsertLoader(context.Background(), &domain.Loader{
		LoaderCode: code, SQL: "SELECT load_timestamp FROM t", SourceDatabaseID: "db1",
		MinIntervalSeconds: 1, MaxIntervalSeconds: 60, MaxQueryPeriodSeconds: 3600, MaxParallelExecutions: 1,
		PurgeStrategy: domain.SkipDuplicates, LoadStatus: domain.LoadStatusIdle,
	}))
}

func TestService_SubmitRejectsUnknownLoader(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Submit(context.Background(), "NOPE", time.Unix(0, 0), time.Unix(100, 0), "", "alice")
	require.Error(t, err)
	code, ok := domain.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeNotFound, code)
}

func TestService_SubmitRejectsInvertedRange(t *testing.T) {
	svc, store := newTestService(t)
	insertTestLoader(t, store, "L1")
	_, err := svc.Submit(context.Background(), "L1", time.Unix(100, 0), time.Unix(100, 0), "", "alice")
	require.Error(t, err)
}

func TestService_SubmitDefaultsPurgeStrategyAndPersistsPending(t *testing.T) {
	svc, store := newTestService(t)
	insertTestLoader(t, store, "L1")

	job, err := svc.Submit(context.Background(), "L1", time.Unix(0, 0), time.Unix(1000, 0), "", "alice")
	require.NoError(t, err)
	require.Equal(t, domain.PurgeAndReload, job.PurgeStrategy)
	require.Equal(t, domain.BackfillPending, job.Status)
	require.NotEmpty(t, job.ID)

	got, err := store.GetBackfill(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BackfillPending, got.Status)
}

func TestService_ExecuteRunsPipelineAndRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	insertTestLoader(t, store, "L1")

	job, err := svc.Submit(ctx, "L1", time.Unix(0, 0), time.Unix(3600, 0), domain.SkipDuplicates, "alice")
	require.NoError(t, err)

	got, err := svc.Execute(ctx, job.ID, "replica-a")
	require.NoError(t, err)
	// There is no source database registered, so the pipeline run itself
	// fails at the query step; the job still transitions out of PENDING.
	require.Equal(t, domain.BackfillFailed, got.Status)
	require.NotNil(t, got.StartTime)
	require.NotNil(t, got.EndTime)

	stored, err := store.GetBackfill(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BackfillFailed, stored.Status)
}

func TestService_ExecuteRejectsNonPendingJob(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	insertTestLoader(t, store, "L1")

	job, err := svc.Submit(ctx, "L1", time.Unix(0, 0), time.Unix(3600, 0), "", "alice")
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, job.ID)
	require.NoError(t, err)

	_, err = svc.Execute(ctx, job.ID, "replica-a")
	require.Error(t, err)
	code, ok := domain.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeIllegalState, code)
}

func TestService_CancelOnlyAllowedWhilePending(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	insertTestLoader(t, store, "L1")

	job, err := svc.Submit(ctx, "L1", time.Unix(0, 0), time.Unix(3600, 0), "", "alice")
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BackfillCancelled, cancelled.Status)
	require.NotNil(t, cancelled.EndTime)

	_, err = svc.Cancel(ctx, job.ID)
	require.Error(t, err)
}
