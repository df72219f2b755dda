// Package controlplane defines the persistence interfaces every domain
// component depends on, plus two implementations: pgstore (production,
// pgxpool-backed) and sqlitestore (modernc.org/sqlite, pure Go, used by
// fast unit tests and local development). Both implementations satisfy
// the same interfaces so component code never imports a driver directly.
package controlplane

import (
	"context"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

// LoaderStore owns the Loader table: creation, lookup, listing eligible
// loaders, and the atomic post-execution state update.
type LoaderStore interface {
	GetLoader(ctx context.Context, loaderCode string) (*domain.Loader, error)
	ListEligibleLoaders(ctx context.Context) ([]*domain.Loader, error)
	ListLoaders(ctx context.Context) ([]*domain.Loader, error)
	InsertLoader(ctx context.Context, l *domain.Loader) error
	UpdateLoaderState(ctx context.Context, loaderCode string, update LoaderStateUpdate) error
	SetEnabled(ctx context.Context, loaderCode string, enabled bool) error
	DeleteLoader(ctx context.Context, loaderCode string) error
}

// LoaderStateUpdate is the single atomic write applied after a pipeline
// execution, per spec.md §4.3.
type LoaderStateUpdate struct {
	LastLoadTimestamp         *int64 // epoch seconds, nil = leave unchanged
	ConsecutiveZeroRecordRuns *int
	ResetZeroRecordRuns       bool
	LoadStatus                domain.LoadStatus
	FailedSince               *int64 // epoch seconds; explicit nil-clear signaled by ClearFailedSince
	ClearFailedSince          bool
}

// SourceStore owns the SourceDatabase table.
type SourceStore interface {
	GetSourceDatabase(ctx context.Context, dbCode string) (*domain.SourceDatabase, error)
	ListSourceDatabases(ctx context.Context) ([]*domain.SourceDatabase, error)
	UpsertSourceDatabase(ctx context.Context, s *domain.SourceDatabase) error
}

// LockStore owns LoaderExecutionLock rows.
type LockStore interface {
	CountActiveForLoader(ctx context.Context, loaderCode string) (int, error)
	CountActiveGlobal(ctx context.Context) (int, error)
	InsertLock(ctx context.Context, lock *domain.LoaderExecutionLock) error
	ReleaseLock(ctx context.Context, lockID string) (bool, error)
	// TryAcquireAtomic performs count-for-loader, count-global, and insert
	// within a single serializable transaction, returning the new lock or
	// nil if either cap was exceeded.
	TryAcquireAtomic(ctx context.Context, loaderCode, replicaName string, maxParallel, globalLimit int) (*domain.LoaderExecutionLock, error)
	MarkStaleReleased(ctx context.Context, staleBeforeEpoch int64) ([]*domain.LoaderExecutionLock, error)
	DeleteReleasedBefore(ctx context.Context, beforeEpoch int64) (int, error)
}

// HistoryStore owns LoadHistory rows.
type HistoryStore interface {
	InsertRunning(ctx context.Context, h *domain.LoadHistory) (int64, error)
	CompleteHistory(ctx context.Context, id int64, h *domain.LoadHistory) error
	ListRecentForLoader(ctx context.Context, loaderCode string, sinceEpoch int64) ([]*domain.LoadHistory, error)
}

// SignalStore owns SignalHistory and SegmentCombination rows.
type SignalStore interface {
	Append(ctx context.Context, s *domain.SignalHistory) error
	BulkAppend(ctx context.Context, signals []*domain.SignalHistory, strategy domain.PurgeStrategy) (purged int64, inserted int64, err error)
	Query(ctx context.Context, loaderCode string, fromEpoch, toEpoch int64, segmentCode *int) ([]*domain.SignalHistory, error)
	DeleteRange(ctx context.Context, loaderCode string, fromEpoch, toEpoch int64) (int64, error)
	ExistsInRange(ctx context.Context, loaderCode string, fromEpoch, toEpoch int64) (bool, error)
	GetOrCreateSegmentCode(ctx context.Context, loaderCode string, segments [10]*string) (int, error)
}

// BackfillStore owns BackfillJob rows.
type BackfillStore interface {
	InsertBackfill(ctx context.Context, j *domain.BackfillJob) error
	GetBackfill(ctx context.Context, id string) (*domain.BackfillJob, error)
	ListBackfillsByLoader(ctx context.Context, loaderCode string) ([]*domain.BackfillJob, error)
	ListBackfillsByStatus(ctx context.Context, status domain.BackfillStatus) ([]*domain.BackfillJob, error)
	CountActiveBackfillsForLoader(ctx context.Context, loaderCode string) (int, error)
	UpdateBackfill(ctx context.Context, j *domain.BackfillJob) error
}

// ApprovalStore owns ApprovalRequest, ApprovalAction, and LoaderArchive rows.
type ApprovalStore interface {
	InsertRequest(ctx context.Context, r *domain.ApprovalRequest) error
	GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	HasPendingForEntity(ctx context.Context, entityType domain.EntityType, entityID string) (bool, error)
	ListPending(ctx context.Context) ([]*domain.ApprovalRequest, error)
	ListApprovedWithoutMaterialization(ctx context.Context, entityType domain.EntityType) ([]*domain.ApprovalRequest, error)
	UpdateRequestStatus(ctx context.Context, id string, status domain.RequestStatus) error
	AppendAction(ctx context.Context, a *domain.ApprovalAction) error
	ListActionsForRequest(ctx context.Context, requestID string) ([]*domain.ApprovalAction, error)
	InsertArchive(ctx context.Context, a *domain.LoaderArchive) error
	ListArchive(ctx context.Context, loaderCode string) ([]*domain.LoaderArchive, error)
	// ApproveLoaderVersion performs, in a single transaction, the request's
	// status transition, its action record, archiving the currently active
	// loader row, and replacing it with draft at the bumped version. Used
	// only by Approve's version-handoff path, per spec.md's requirement
	// that the transition, action append, and archival move share one
	// atomic boundary.
	ApproveLoaderVersion(ctx context.Context, requestID string, newStatus domain.RequestStatus, action *domain.ApprovalAction, archive *domain.LoaderArchive, draft *domain.Loader) error
}

// ConfigPlanStore owns ConfigPlan and ConfigValue rows.
type ConfigPlanStore interface {
	GetActivePlan(ctx context.Context, parent string) (*domain.ConfigPlan, error)
	ListPlans(ctx context.Context, parent string) ([]*domain.ConfigPlan, error)
	UpsertPlan(ctx context.Context, p *domain.ConfigPlan) error
	SetValues(ctx context.Context, parent, planName string, values map[string]string) error
	GetValues(ctx context.Context, parent, planName string) (map[string]string, error)
	Activate(ctx context.Context, parent, planName string) error
}

// Store aggregates every sub-store. Both implementations build one Store
// backed by a single pool/connection.
type Store interface {
	LoaderStore
	SourceStore
	LockStore
	HistoryStore
	SignalStore
	BackfillStore
	ApprovalStore
	ConfigPlanStore
}
