package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func (s *Store) InsertRequest(ctx context.Context, r *domain.ApprovalRequest) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO approval_requests
		(id, entity_type, entity_id, status, request_data, submitted_by, submitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.EntityType, r.EntityID, r.Status, r.RequestData, r.SubmittedBy, r.SubmittedAt)
	return err
}

func (s *Store) GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	var r domain.ApprovalRequest
	err := s.pool.QueryRow(ctx, `SELECT id, entity_type, entity_id, status, request_data, submitted_by, submitted_at
		FROM approval_requests WHERE id = $1`, id).
		Scan(&r.ID, &r.EntityType, &r.EntityID, &r.Status, &r.RequestData, &r.SubmittedBy, &r.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewNotFoundError("approval request %q not found", id)
	}
	return &r, err
}

func (s *Store) HasPendingForEntity(ctx context.Context, entityType domain.EntityType, entityID string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM approval_requests WHERE entity_type = $1 AND entity_id = $2 AND status = $3`,
		entityType, entityID, domain.RequestPending).Scan(&n)
	return n > 0, err
}

func (s *Store) ListPending(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	return s.listByStatus(ctx, domain.RequestPending)
}

func (s *Store) listByStatus(ctx context.Context, status domain.RequestStatus) ([]*domain.ApprovalRequest, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, entity_type, entity_id, status, request_data, submitted_by, submitted_at
		FROM approval_requests WHERE status = $1 ORDER BY submitted_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ApprovalRequest
	for rows.Next() {
		var r domain.ApprovalRequest
		if err := rows.Scan(&r.ID, &r.EntityType, &r.EntityID, &r.Status, &r.RequestData, &r.SubmittedBy, &r.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) ListApprovedWithoutMaterialization(ctx context.Context, entityType domain.EntityType) ([]*domain.ApprovalRequest, error) {
	rows, err := s.pool.Query(ctx, `SELECT ar.id, ar.entity_type, ar.entity_id, ar.status, ar.request_data, ar.submitted_by, ar.submitted_at
		FROM approval_requests ar
		LEFT JOIN loaders l ON l.loader_code = ar.entity_id
		WHERE ar.entity_type = $1 AND ar.status = $2 AND l.loader_code IS NULL`,
		entityType, domain.RequestApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ApprovalRequest
	for rows.Next() {
		var r domain.ApprovalRequest
		if err := rows.Scan(&r.ID, &r.EntityType, &r.EntityID, &r.Status, &r.RequestData, &r.SubmittedBy, &r.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateRequestStatus(ctx context.Context, id string, status domain.RequestStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE approval_requests SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("approval request %q not found", id)
	}
	return nil
}

func (s *Store) AppendAction(ctx context.Context, a *domain.ApprovalAction) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO approval_actions
		(id, request_id, action_type, action_by, action_at, previous_status, new_status, justification)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.RequestID, a.ActionType, a.ActionBy, a.ActionAt, a.PreviousStatus, a.NewStatus, a.Justification)
	return err
}

func (s *Store) ListActionsForRequest(ctx context.Context, requestID string) ([]*domain.ApprovalAction, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, request_id, action_type, action_by, action_at, previous_status, new_status, justification
		FROM approval_actions WHERE request_id = $1 ORDER BY action_at`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ApprovalAction
	for rows.Next() {
		var a domain.ApprovalAction
		if err := rows.Scan(&a.ID, &a.RequestID, &a.ActionType, &a.ActionBy, &a.ActionAt, &a.PreviousStatus, &a.NewStatus, &a.Justification); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) InsertArchive(ctx context.Context, a *domain.LoaderArchive) error {
	loaderJSON, err := marshalLoader(a.Loader)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO loader_archive
		(loader_code, version_number, loader_json, archived_at, archived_by, archive_reason, rejected, rejected_by, rejection_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.LoaderCode, a.VersionNumber, loaderJSON, a.ArchivedAt, a.ArchivedBy, a.ArchiveReason,
		a.Rejected, a.RejectedBy, a.RejectionReason)
	return err
}

// ApproveLoaderVersion runs the request transition, action append,
// archive insert, and loader delete+reinsert inside one transaction: a
// crash partway through leaves the prior commit point intact instead of
// deleting the loader row with no replacement.
func (s *Store) ApproveLoaderVersion(ctx context.Context, requestID string, newStatus domain.RequestStatus, action *domain.ApprovalAction, archive *domain.LoaderArchive, draft *domain.Loader) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE approval_requests SET status = $1 WHERE id = $2`, newStatus, requestID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("approval request %q not found", requestID)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO approval_actions
		(id, request_id, action_type, action_by, action_at, previous_status, new_status, justification)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		action.ID, action.RequestID, action.ActionType, action.ActionBy, action.ActionAt,
		action.PreviousStatus, action.NewStatus, action.Justification); err != nil {
		return err
	}

	loaderJSON, err := marshalLoader(archive.Loader)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO loader_archive
		(loader_code, version_number, loader_json, archived_at, archived_by, archive_reason, rejected, rejected_by, rejection_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		archive.LoaderCode, archive.VersionNumber, loaderJSON, archive.ArchivedAt, archive.ArchivedBy, archive.ArchiveReason,
		archive.Rejected, archive.RejectedBy, archive.RejectionReason); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM loaders WHERE loader_code = $1`, archive.LoaderCode); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `INSERT INTO loaders (`+loaderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		draft.LoaderCode, draft.SQL, draft.SourceDatabaseID,
		draft.MinIntervalSeconds, draft.MaxIntervalSeconds, draft.MaxQueryPeriodSeconds, draft.MaxParallelExecutions,
		draft.PurgeStrategy, draft.SourceTimezoneOffsetHours, draft.AggregationPeriodSeconds,
		draft.LastLoadTimestamp, draft.FailedSince, draft.ConsecutiveZeroRecordRuns,
		draft.LoadStatus, draft.Enabled, draft.ApprovalStatus,
		draft.VersionNumber, draft.ParentVersionID, draft.VersionStatus); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Store) ListArchive(ctx context.Context, loaderCode string) ([]*domain.LoaderArchive, error) {
	rows, err := s.pool.Query(ctx, `SELECT loader_code, version_number, loader_json, archived_at, archived_by,
		archive_reason, rejected, rejected_by, rejection_reason
		FROM loader_archive WHERE loader_code = $1 ORDER BY version_number`, loaderCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.LoaderArchive
	for rows.Next() {
		var a domain.LoaderArchive
		var loaderJSON []byte
		if err := rows.Scan(&a.LoaderCode, &a.VersionNumber, &loaderJSON, &a.ArchivedAt, &a.ArchivedBy,
			&a.ArchiveReason, &a.Rejected, &a.RejectedBy, &a.RejectionReason); err != nil {
			return nil, err
		}
		l, err := unmarshalLoader(loaderJSON)
		if err != nil {
			return nil, err
		}
		a.Loader = *l
		out = append(out, &a)
	}
	return out, rows.Err()
}
