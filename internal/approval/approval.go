// Package approval is the generic ApprovalWorkflow (C6) and the
// LOADER-specific VersioningArchive (C7) materializer built on top of it.
package approval

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
	"github.com/vitaliisemenov/etl-monitor/internal/metrics"
)

// MaterializerInterval is the default period of the loader materializer
// pass (spec.md §4.5: "periodic, default every 10 s").
const MaterializerInterval = 10 * time.Second

// Workflow drives ApprovalRequest transitions and, for LOADER entities,
// the version handoff that happens at APPROVE/REJECT time plus the
// periodic materialization of brand-new loaders.
type Workflow struct {
	approvals controlplane.ApprovalStore
	loaders   controlplane.LoaderStore
	logger    *slog.Logger
	metrics   *metrics.ApprovalMetrics
}

func New(approvals controlplane.ApprovalStore, loaders controlplane.LoaderStore, logger *slog.Logger, m *metrics.ApprovalMetrics) *Workflow {
	return &Workflow{approvals: approvals, loaders: loaders, logger: logger, metrics: m}
}

// Submit creates a PENDING_APPROVAL request for a LOADER draft. Only one
// PENDING_APPROVAL request may exist per (entityType, entityId).
func (w *Workflow) Submit(ctx context.Context, entityType domain.EntityType, entityID string, draft *domain.Loader, submittedBy string) (*domain.ApprovalRequest, error) {
	pending, err := w.approvals.HasPendingForEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, domain.NewConflictError("entity %s/%s already has a pending approval request", entityType, entityID)
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(draft)
	if err != nil {
		return nil, err
	}
	req := &domain.ApprovalRequest{
		ID:          uuid.NewString(),
		EntityType:  entityType,
		EntityID:    entityID,
		Status:      domain.RequestPending,
		RequestData: data,
		SubmittedBy: submittedBy,
		SubmittedAt: time.Now().UTC(),
	}
	if err := w.approvals.InsertRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// Approve transitions requestID to APPROVED. For a LOADER entity that
// already has a live ACTIVE loader, this also performs the version
// handoff: the current row is archived, then overwritten in place by the
// draft with versionNumber bumped. The status transition, its action
// record, and the archive-and-replace all happen inside a single
// store transaction (ApproveLoaderVersion), so a crash partway through
// never leaves the loader row deleted with no replacement. A brand-new
// LOADER (no existing row) is left APPROVED for the periodic
// materializer to pick up.
func (w *Workflow) Approve(ctx context.Context, requestID, actor string) (*domain.ApprovalRequest, error) {
	req, err := w.approvals.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	next, err := domain.NextStatus(req.Status, domain.ActionApprove)
	if err != nil {
		return nil, err
	}

	if req.EntityType != domain.EntityLoader {
		return w.transition(ctx, requestID, domain.ActionApprove, actor, "")
	}

	existing, err := w.loaders.GetLoader(ctx, req.EntityID)
	if err != nil {
		if code, ok := domain.CodeOf(err); ok && code == domain.CodeNotFound {
			return w.transition(ctx, requestID, domain.ActionApprove, actor, "") // left for the materializer
		}
		return nil, err
	}

	draft, err := unmarshalDraft(req.RequestData)
	if err != nil {
		return nil, err
	}
	draft.LoaderCode = existing.LoaderCode
	draft.VersionNumber = existing.VersionNumber + 1
	draft.VersionStatus = domain.VersionActive
	draft.ApprovalStatus = domain.ApprovalApproved
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	prev := req.Status
	action := &domain.ApprovalAction{
		ID:             uuid.NewString(),
		RequestID:      requestID,
		ActionType:     domain.ActionApprove,
		ActionBy:       actor,
		ActionAt:       time.Now().UTC(),
		PreviousStatus: prev,
		NewStatus:      next,
	}
	archive := &domain.LoaderArchive{
		LoaderCode:    existing.LoaderCode,
		VersionNumber: existing.VersionNumber,
		Loader:        *existing,
		ArchivedAt:    time.Now().UTC(),
		ArchivedBy:    actor,
		ArchiveReason: "superseded by approved update",
	}
	if err := w.approvals.ApproveLoaderVersion(ctx, requestID, next, action, archive, draft); err != nil {
		return nil, err
	}
	if w.metrics != nil {
		w.metrics.TransitionsTotal.WithLabelValues(string(domain.ActionApprove)).Inc()
	}
	req.Status = next
	return req, nil
}

// Reject transitions requestID to REJECTED (justification required). For
// a LOADER entity, the draft is preserved in the archive marked Rejected.
func (w *Workflow) Reject(ctx context.Context, requestID, actor, justification string) (*domain.ApprovalRequest, error) {
	req, err := w.transition(ctx, requestID, domain.ActionReject, actor, justification)
	if err != nil {
		return nil, err
	}
	if req.EntityType != domain.EntityLoader {
		return req, nil
	}

	draft, err := unmarshalDraft(req.RequestData)
	if err != nil {
		return nil, err
	}
	version, err := w.nextArchiveVersion(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}
	if err := w.approvals.InsertArchive(ctx, &domain.LoaderArchive{
		LoaderCode:      req.EntityID,
		VersionNumber:   version,
		Loader:          *draft,
		Rejected:        true,
		RejectedBy:      actor,
		RejectionReason: justification,
	}); err != nil {
		return nil, err
	}
	return req, nil
}

// Resubmit moves a REJECTED request back to PENDING_APPROVAL.
func (w *Workflow) Resubmit(ctx context.Context, requestID, actor string) (*domain.ApprovalRequest, error) {
	req, err := w.approvals.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	pending, err := w.approvals.HasPendingForEntity(ctx, req.EntityType, req.EntityID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, domain.NewConflictError("entity %s/%s already has a pending approval request", req.EntityType, req.EntityID)
	}
	return w.transition(ctx, requestID, domain.ActionResubmit, actor, "")
}

// Revoke moves an APPROVED request back to PENDING_APPROVAL (justification
// required) for re-review; it does not touch the already-materialized
// entity.
func (w *Workflow) Revoke(ctx context.Context, requestID, actor, justification string) (*domain.ApprovalRequest, error) {
	return w.transition(ctx, requestID, domain.ActionRevoke, actor, justification)
}

func (w *Workflow) transition(ctx context.Context, requestID string, action domain.ActionType, actor, justification string) (*domain.ApprovalRequest, error) {
	if action.RequiresJustification() && justification == "" {
		return nil, domain.NewValidationError("action %s requires a justification", action)
	}
	req, err := w.approvals.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	next, err := domain.NextStatus(req.Status, action)
	if err != nil {
		return nil, err
	}
	prev := req.Status
	if err := w.approvals.UpdateRequestStatus(ctx, requestID, next); err != nil {
		return nil, err
	}
	if err := w.approvals.AppendAction(ctx, &domain.ApprovalAction{
		ID:             uuid.NewString(),
		RequestID:      requestID,
		ActionType:     action,
		ActionBy:       actor,
		ActionAt:       time.Now().UTC(),
		PreviousStatus: prev,
		NewStatus:      next,
		Justification:  justification,
	}); err != nil {
		return nil, err
	}
	if w.metrics != nil {
		w.metrics.TransitionsTotal.WithLabelValues(string(action)).Inc()
	}
	req.Status = next
	return req, nil
}

func (w *Workflow) nextArchiveVersion(ctx context.Context, loaderCode string) (int, error) {
	max := 0
	if existing, err := w.loaders.GetLoader(ctx, loaderCode); err == nil {
		max = existing.VersionNumber
	}
	archive, err := w.approvals.ListArchive(ctx, loaderCode)
	if err != nil {
		return 0, err
	}
	for _, a := range archive {
		if a.VersionNumber > max {
			max = a.VersionNumber
		}
	}
	return max + 1, nil
}

func unmarshalDraft(data []byte) (*domain.Loader, error) {
	var l domain.Loader
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// RunMaterializer performs one pass: every APPROVED LOADER request with
// no live loader row is materialized as a new ACTIVE, disabled loader at
// version 1. Idempotent — a request already materialized is simply not
// returned by the store's selection query on the next pass.
func (w *Workflow) RunMaterializer(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		if w.metrics != nil {
			w.metrics.MaterializerRunDuration.Observe(time.Since(start).Seconds())
		}
	}()

	requests, err := w.approvals.ListApprovedWithoutMaterialization(ctx, domain.EntityLoader)
	if err != nil {
		return 0, err
	}

	materialized := 0
	for _, req := range requests {
		draft, err := unmarshalDraft(req.RequestData)
		if err != nil {
			w.logger.Error("approval: materializer failed to unmarshal draft", "request_id", req.ID, "error", err)
			continue
		}
		draft.LoaderCode = req.EntityID
		draft.ApprovalStatus = domain.ApprovalApproved
		draft.VersionNumber = 1
		draft.VersionStatus = domain.VersionActive
		draft.Enabled = false
		if err := draft.Validate(); err != nil {
			w.logger.Error("approval: materializer draft invalid", "request_id", req.ID, "error", err)
			continue
		}
		if err := w.loaders.InsertLoader(ctx, draft); err != nil {
			w.logger.Error("approval: materializer insert failed", "request_id", req.ID, "error", err)
			continue
		}
		materialized++
		if w.metrics != nil {
			w.metrics.MaterializedTotal.Inc()
		}
	}
	return materialized, nil
}

// Run invokes RunMaterializer every MaterializerInterval until ctx is
// cancelled.
func (w *Workflow) Run(ctx context.Context) {
	ticker := time.NewTicker(MaterializerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunMaterializer(ctx); err != nil {
				w.logger.Error("approval: materializer pass failed", "error", err)
			}
		}
	}
}
