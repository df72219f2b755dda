package approval

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane/sqlitestore"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func newTestWorkflow(t *testing.T) (*Workflow, *sqlitestore.Store) {
	ctx := context.Background()
	store, err := sqlitestore.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, store, slog.Default(), nil), store
}

func draftLoader(code string) *domain.Loader {
	return &domain.Loader{
		LoaderCode: code, SQL: "SELECT 1 FROM t", SourceDatabaseID: "db1",
		MinIntervalSeconds: 1, MaxIntervalSeconds: 60, MaxQueryPeriodSeconds: 3600, MaxParallelExecutions: 1,
		PurgeStrategy: domain.SkipDuplicates,
	}
}

func TestWorkflow_SubmitRejectsSecondPendingForSameEntity(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWorkflow(t)

	_, err := w.Submit(ctx, domain.EntityLoader, "L1", draftLoader("L1"), "alice")
	require.NoError(t, err)

	_, err = w.Submit(ctx, domain.EntityLoader, "L1", draftLoader("L1"), "bob")
	require.Error(t, err)
	code, ok := domain.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, domain.CodeConflict, code)
}

func TestWorkflow_ApproveNewLoaderIsMaterializedByNextPass(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWorkflow(t)

	req, err := w.Submit(ctx, domain.EntityLoader, "L1", draftLoader("L1"), "alice")
	require.NoError(t, err)

	approved, err := w.Approve(ctx, req.ID, "carol")
	require.NoError(t, err)
	require.Equal(t, domain.RequestApproved, approved.Status)

	// Not yet materialized: no live loader row.
	_, err = store.GetLoader(ctx, "L1")
	require.Error(t, err)

	n, err := w.RunMaterializer(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	l, err := store.GetLoader(ctx, "L1")
	require.NoError(t, err)
	require.Equal(t, 1, l.VersionNumber)
	require.Equal(t, domain.VersionActive, l.VersionStatus)
	require.False(t, l.Enabled)

	// A second pass is a no-op.
	n, err = w.RunMaterializer(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestWorkflow_ApproveUpdateArchivesPreviousVersion(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWorkflow(t)

	existing := draftLoader("L1")
	existing.VersionNumber = 1
	existing.VersionStatus = domain.VersionActive
	existing.ApprovalStatus = domain.ApprovalApproved
	require.NoError(t, store.InsertLoader(ctx, existing))

	update := draftLoader("L1")
	update.MaxIntervalSeconds = 120
	req, err := w.Submit(ctx, domain.EntityLoader, "L1", update, "alice")
	require.NoError(t, err)

	approved, err := w.Approve(ctx, req.ID, "carol")
	require.NoError(t, err)
	require.Equal(t, domain.RequestApproved, approved.Status)

	current, err := store.GetLoader(ctx, "L1")
	require.NoError(t, err)
	require.Equal(t, 2, current.VersionNumber)
	require.Equal(t, 120, current.MaxIntervalSeconds)

	archive, err := store.ListArchive(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, archive, 1)
	require.Equal(t, 1, archive[0].VersionNumber)
	require.False(t, archive[0].Rejected)
}

func TestWorkflow_RejectRequiresJustificationAndArchivesDraft(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWorkflow(t)

	req, err := w.Submit(ctx, domain.EntityLoader, "L1", draftLoader("L1"), "alice")
	require.NoError(t, err)

	_, err = w.Reject(ctx, req.ID, "carol", "")
	require.Error(t, err)

	rejected, err := w.Reject(ctx, req.ID, "carol", "insufficient testing")
	require.NoError(t, err)
	require.Equal(t, domain.RequestRejected, rejected.Status)

	archive, err := store.ListArchive(ctx, "L1")
	require.NoError(t, err)
	require.Len(t, archive, 1)
	require.True(t, archive[0].Rejected)
	require.Equal(t, "insufficient testing", archive[0].RejectionReason)
}

func TestWorkflow_ResubmitReturnsRejectedRequestToPending(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWorkflow(t)

	req, err := w.Submit(ctx, domain.EntityLoader, "L1", draftLoader("L1"), "alice")
	require.NoError(t, err)
	_, err = w.Reject(ctx, req.ID, "carol", "needs work")
	require.NoError(t, err)

	resubmitted, err := w.Resubmit(ctx, req.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.RequestPending, resubmitted.Status)
}

func TestWorkflow_RevokeRequiresJustification(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWorkflow(t)

	req, err := w.Submit(ctx, domain.EntityLoader, "L1", draftLoader("L1"), "alice")
	require.NoError(t, err)
	_, err = w.Approve(ctx, req.ID, "carol")
	require.NoError(t, err)

	_, err = w.Revoke(ctx, req.ID, "carol", "")
	require.Error(t, err)

	revoked, err := w.Revoke(ctx, req.ID, "carol", "policy change")
	require.NoError(t, err)
	require.Equal(t, domain.RequestPending, revoked.Status)
}
