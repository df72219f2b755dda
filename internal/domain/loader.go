// Package domain holds the control-plane entity types shared by every
// component: loaders, source databases, signals, locks, approvals, and the
// backfill/config-plan bookkeeping around them.
package domain

import (
	"regexp"
	"time"
)

// PurgeStrategy controls how a window's pre-existing signal rows are
// handled before a fresh ingestion of the same window.
type PurgeStrategy string

const (
	PurgeAndReload  PurgeStrategy = "PURGE_AND_RELOAD"
	FailOnDuplicate PurgeStrategy = "FAIL_ON_DUPLICATE"
	SkipDuplicates  PurgeStrategy = "SKIP_DUPLICATES"
)

// Valid reports whether s is one of the known purge strategies.
func (s PurgeStrategy) Valid() bool {
	switch s {
	case PurgeAndReload, FailOnDuplicate, SkipDuplicates:
		return true
	default:
		return false
	}
}

// LoadStatus is the coarse run-state hint carried on the Loader row.
// It is a scheduling hint only; LoadHistory is the authoritative
// per-execution record (see spec §4.3, §9).
type LoadStatus string

const (
	LoadStatusIdle    LoadStatus = "IDLE"
	LoadStatusRunning LoadStatus = "RUNNING"
	LoadStatusFailed  LoadStatus = "FAILED"
	LoadStatusPaused  LoadStatus = "PAUSED"
)

// ApprovalStatus is the loader-local approval gate field (distinct from
// the generic ApprovalRequest workflow in the approval package).
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING_APPROVAL"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// VersionStatus tracks where a loader row sits in its version lifecycle.
type VersionStatus string

const (
	VersionDraft    VersionStatus = "DRAFT"
	VersionActive   VersionStatus = "ACTIVE"
	VersionArchived VersionStatus = "ARCHIVED"
	VersionRejected VersionStatus = "REJECTED"
)

var loaderCodePattern = regexp.MustCompile(`^[A-Z0-9_]{1,64}$`)

// ValidLoaderCode reports whether code satisfies the upper-alphanumeric
// plus underscore, 1-64 char constraint from the data model.
func ValidLoaderCode(code string) bool {
	return loaderCodePattern.MatchString(code)
}

var readOnlyQueryKeyword = regexp.MustCompile(`(?i)^\s*(--[^\n]*\n|\s)*select\b`)

// StartsWithReadOnlyKeyword reports whether sql begins (ignoring leading
// whitespace/comments) with a read-only query keyword, per the stored-SQL
// invariant in the data model.
func StartsWithReadOnlyKeyword(sql string) bool {
	return readOnlyQueryKeyword.MatchString(sql)
}

// Loader is the schedulable unit: a source query, a schedule, and a
// time-series target.
type Loader struct {
	LoaderCode      string `validate:"required,max=64"`
	SQL             string `validate:"required,min=10,max=10000"`
	SourceDatabaseID string `validate:"required"`

	MinIntervalSeconds    int `validate:"required,min=1,max=86400"`
	MaxIntervalSeconds    int `validate:"required,min=1,max=86400"`
	MaxQueryPeriodSeconds int `validate:"required,min=1,max=604800"`
	MaxParallelExecutions int `validate:"required,min=1,max=100"`

	PurgeStrategy             PurgeStrategy
	SourceTimezoneOffsetHours int  `validate:"min=-12,max=14"`
	AggregationPeriodSeconds  *int

	LastLoadTimestamp       *time.Time
	FailedSince             *time.Time
	ConsecutiveZeroRecordRuns int

	LoadStatus LoadStatus
	Enabled    bool

	ApprovalStatus ApprovalStatus

	VersionNumber   int
	ParentVersionID *string
	VersionStatus   VersionStatus
}

// Validate enforces the invariants that are not expressible via struct
// tags alone (cross-field bounds, stored-SQL shape, enum membership).
// The validate struct tags themselves are not evaluated here or anywhere
// else in the module, so the per-field bounds they declare are not checked.
func (l *Loader) Validate() error {
	if !ValidLoaderCode(l.LoaderCode) {
		return NewValidationError("loaderCode must be 1-64 upper-alphanumeric/underscore characters")
	}
	if l.MinIntervalSeconds > l.MaxIntervalSeconds {
		return NewValidationError("minIntervalSeconds must be <= maxIntervalSeconds")
	}
	if !l.PurgeStrategy.Valid() {
		return NewValidationError("invalid purgeStrategy")
	}
	if !StartsWithReadOnlyKeyword(l.SQL) {
		return NewValidationError("loader sql must begin with a read-only query keyword")
	}
	if l.Enabled && !(l.ApprovalStatus == ApprovalApproved && l.VersionStatus == VersionActive) {
		return NewValidationError("a loader can only be enabled while approved and active")
	}
	return nil
}

// CanEnable reports whether the invariant in spec §3 / invariant 6 of §8
// permits flipping Enabled to true.
func (l *Loader) CanEnable() bool {
	return l.ApprovalStatus == ApprovalApproved && l.VersionStatus == VersionActive
}
