package domain

import "time"

// ExecutionStatus is the per-run outcome recorded in LoadHistory.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "RUNNING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
	ExecutionPartial ExecutionStatus = "PARTIAL"
)

// LoadHistory is one row per execution attempt of the pipeline (scheduled
// run or backfill window). Written at entry (RUNNING) and updated once at
// exit; never deleted.
type LoadHistory struct {
	ID              int64
	LoaderCode      string
	ReplicaName     string
	StartTime       time.Time
	EndTime         *time.Time
	QueryFromTime   time.Time
	QueryToTime     time.Time
	ActualFromTime  *time.Time
	ActualToTime    *time.Time
	RecordsLoaded   int64
	RecordsIngested int64
	RecordsPurged   int64
	Status          ExecutionStatus
	ErrorMessage    string
}

// DurationSeconds returns the elapsed wall time of a completed execution,
// zero if it has not ended yet.
func (h *LoadHistory) DurationSeconds() float64 {
	if h.EndTime == nil {
		return 0
	}
	return h.EndTime.Sub(h.StartTime).Seconds()
}

// TimeWindow is the half-open [FromTime, ToTime) range a pipeline
// invocation queries against the source and reconciles against for gap
// detection.
type TimeWindow struct {
	FromTime time.Time
	ToTime   time.Time
}

func (w TimeWindow) Valid() bool { return w.FromTime.Before(w.ToTime) }
