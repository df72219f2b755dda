package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

func (s *Store) InsertRequest(ctx context.Context, r *domain.ApprovalRequest) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO approval_requests
		(id, entity_type, entity_id, status, request_data, submitted_by, submitted_at)
		VALUES (?,?,?,?,?,?,?)`,
		r.ID, r.EntityType, r.EntityID, r.Status, r.RequestData, r.SubmittedBy, r.SubmittedAt.Unix())
	return err
}

func (s *Store) GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	var r domain.ApprovalRequest
	var submittedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT id, entity_type, entity_id, status, request_data, submitted_by, submitted_at
		FROM approval_requests WHERE id = ?`, id).
		Scan(&r.ID, &r.EntityType, &r.EntityID, &r.Status, &r.RequestData, &r.SubmittedBy, &submittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("approval request %q not found", id)
	}
	r.SubmittedAt = time.Unix(submittedAt, 0).UTC()
	return &r, err
}

func (s *Store) HasPendingForEntity(ctx context.Context, entityType domain.EntityType, entityID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approval_requests WHERE entity_type = ? AND entity_id = ? AND status = ?`,
		entityType, entityID, domain.RequestPending).Scan(&n)
	return n > 0, err
}

func (s *Store) ListPending(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	return s.listByStatus(ctx, domain.RequestPending)
}

func (s *Store) listByStatus(ctx context.Context, status domain.RequestStatus) ([]*domain.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, entity_type, entity_id, status, request_data, submitted_by, submitted_at
		FROM approval_requests WHERE status = ? ORDER BY submitted_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ApprovalRequest
	for rows.Next() {
		var r domain.ApprovalRequest
		var submittedAt int64
		if err := rows.Scan(&r.ID, &r.EntityType, &r.EntityID, &r.Status, &r.RequestData, &r.SubmittedBy, &submittedAt); err != nil {
			return nil, err
		}
		r.SubmittedAt = time.Unix(submittedAt, 0).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ListApprovedWithoutMaterialization returns APPROVED requests of
// entityType for which no loader currently exists — the materializer's
// idempotent selection criterion.
func (s *Store) ListApprovedWithoutMaterialization(ctx context.Context, entityType domain.EntityType) ([]*domain.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ar.id, ar.entity_type, ar.entity_id, ar.status, ar.request_data, ar.submitted_by, ar.submitted_at
		FROM approval_requests ar
		LEFT JOIN loaders l ON l.loader_code = ar.entity_id
		WHERE ar.entity_type = ? AND ar.status = ? AND l.loader_code IS NULL`,
		entityType, domain.RequestApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ApprovalRequest
	for rows.Next() {
		var r domain.ApprovalRequest
		var submittedAt int64
		if err := rows.Scan(&r.ID, &r.EntityType, &r.EntityID, &r.Status, &r.RequestData, &r.SubmittedBy, &submittedAt); err != nil {
			return nil, err
		}
		r.SubmittedAt = time.Unix(submittedAt, 0).UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateRequestStatus(ctx context.Context, id string, status domain.RequestStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE approval_requests SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return domain.NewNotFoundError("approval request %q not found", id)
	}
	return err
}

func (s *Store) AppendAction(ctx context.Context, a *domain.ApprovalAction) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO approval_actions
		(id, request_id, action_type, action_by, action_at, previous_status, new_status, justification)
		VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.RequestID, a.ActionType, a.ActionBy, a.ActionAt.Unix(), a.PreviousStatus, a.NewStatus, nullString(a.Justification))
	return err
}

func (s *Store) ListActionsForRequest(ctx context.Context, requestID string) ([]*domain.ApprovalAction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, request_id, action_type, action_by, action_at, previous_status, new_status, justification
		FROM approval_actions WHERE request_id = ? ORDER BY action_at`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.ApprovalAction
	for rows.Next() {
		var a domain.ApprovalAction
		var actionAt int64
		var justification sql.NullString
		if err := rows.Scan(&a.ID, &a.RequestID, &a.ActionType, &a.ActionBy, &actionAt, &a.PreviousStatus, &a.NewStatus, &justification); err != nil {
			return nil, err
		}
		a.ActionAt = time.Unix(actionAt, 0).UTC()
		a.Justification = justification.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) InsertArchive(ctx context.Context, a *domain.LoaderArchive) error {
	loaderJSON, err := marshalLoader(a.Loader)
	if err != nil {
		return err
	}
	var archivedAt *int64
	if !a.ArchivedAt.IsZero() {
		v := a.ArchivedAt.Unix()
		archivedAt = &v
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO loader_archive
		(loader_code, version_number, loader_json, archived_at, archived_by, archive_reason, rejected, rejected_by, rejection_reason)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.LoaderCode, a.VersionNumber, loaderJSON, archivedAt, nullString(a.ArchivedBy), nullString(a.ArchiveReason),
		boolToInt(a.Rejected), nullString(a.RejectedBy), nullString(a.RejectionReason))
	return err
}

// ApproveLoaderVersion runs the request transition, action append,
// archive insert, and loader delete+reinsert inside one transaction: a
// crash partway through leaves the prior commit point intact instead of
// deleting the loader row with no replacement.
func (s *Store) ApproveLoaderVersion(ctx context.Context, requestID string, newStatus domain.RequestStatus, action *domain.ApprovalAction, archive *domain.LoaderArchive, draft *domain.Loader) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE approval_requests SET status = ? WHERE id = ?`, newStatus, requestID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return domain.NewNotFoundError("approval request %q not found", requestID)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO approval_actions
		(id, request_id, action_type, action_by, action_at, previous_status, new_status, justification)
		VALUES (?,?,?,?,?,?,?,?)`,
		action.ID, action.RequestID, action.ActionType, action.ActionBy, action.ActionAt.Unix(),
		action.PreviousStatus, action.NewStatus, nullString(action.Justification)); err != nil {
		return err
	}

	loaderJSON, err := marshalLoader(archive.Loader)
	if err != nil {
		return err
	}
	var archivedAt *int64
	if !archive.ArchivedAt.IsZero() {
		v := archive.ArchivedAt.Unix()
		archivedAt = &v
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO loader_archive
		(loader_code, version_number, loader_json, archived_at, archived_by, archive_reason, rejected, rejected_by, rejection_reason)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		archive.LoaderCode, archive.VersionNumber, loaderJSON, archivedAt, nullString(archive.ArchivedBy),
		nullString(archive.ArchiveReason), boolToInt(archive.Rejected), nullString(archive.RejectedBy), nullString(archive.RejectionReason)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM loaders WHERE loader_code = ?`, archive.LoaderCode); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO loaders (`+loaderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		draft.LoaderCode, draft.SQL, draft.SourceDatabaseID,
		draft.MinIntervalSeconds, draft.MaxIntervalSeconds, draft.MaxQueryPeriodSeconds, draft.MaxParallelExecutions,
		draft.PurgeStrategy, draft.SourceTimezoneOffsetHours, draft.AggregationPeriodSeconds,
		epochPtr(draft.LastLoadTimestamp), epochPtr(draft.FailedSince), draft.ConsecutiveZeroRecordRuns,
		draft.LoadStatus, boolToInt(draft.Enabled), draft.ApprovalStatus,
		draft.VersionNumber, draft.ParentVersionID, draft.VersionStatus); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ListArchive(ctx context.Context, loaderCode string) ([]*domain.LoaderArchive, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT loader_code, version_number, loader_json, archived_at, archived_by,
		archive_reason, rejected, rejected_by, rejection_reason
		FROM loader_archive WHERE loader_code = ? ORDER BY version_number`, loaderCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.LoaderArchive
	for rows.Next() {
		var a domain.LoaderArchive
		var loaderJSON []byte
		var archivedAt sql.NullInt64
		var archivedBy, archiveReason, rejectedBy, rejectionReason sql.NullString
		var rejected int
		if err := rows.Scan(&a.LoaderCode, &a.VersionNumber, &loaderJSON, &archivedAt, &archivedBy,
			&archiveReason, &rejected, &rejectedBy, &rejectionReason); err != nil {
			return nil, err
		}
		l, err := unmarshalLoader(loaderJSON)
		if err != nil {
			return nil, err
		}
		a.Loader = *l
		if archivedAt.Valid {
			a.ArchivedAt = time.Unix(archivedAt.Int64, 0).UTC()
		}
		a.ArchivedBy = archivedBy.String
		a.ArchiveReason = archiveReason.String
		a.Rejected = rejected != 0
		a.RejectedBy = rejectedBy.String
		a.RejectionReason = rejectionReason.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
