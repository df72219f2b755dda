package domain

import "time"

// GlobalLockLimit bounds total active execution locks across all loaders
// and all replicas sharing the control plane (spec invariant 2).
const GlobalLockLimit = 100

// DefaultStaleThreshold is the age after which a non-released lock is
// considered abandoned by a crashed replica.
const DefaultStaleThreshold = 2 * time.Hour

// DefaultReleasedRetention is how long released lock rows are kept before
// the retention job deletes them.
const DefaultReleasedRetention = 7 * 24 * time.Hour

// LoaderExecutionLock bounds concurrent executions of one loader across
// replicas. Semantic uniqueness is on LockID; "active" means Released is
// false.
type LoaderExecutionLock struct {
	LockID      string
	LoaderCode  string
	ReplicaName string
	AcquiredAt  time.Time
	ReleasedAt  *time.Time
	Released    bool
}

// IsStale reports whether the lock has been held, unreleased, for longer
// than threshold as of now.
func (l *LoaderExecutionLock) IsStale(now time.Time, threshold time.Duration) bool {
	return !l.Released && now.Sub(l.AcquiredAt) > threshold
}
