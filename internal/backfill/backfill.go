// Package backfill is the BackfillService (spec component C8): manual or
// system-submitted reloads of a fixed time range under a purge strategy,
// executed through the same ExecutionPipeline the scheduler drives.
package backfill

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
	"github.com/vitaliisemenov/etl-monitor/internal/metrics"
	"github.com/vitaliisemenov/etl-monitor/internal/pipeline"
)

// Service owns the BackfillJob lifecycle: submit, execute, cancel.
type Service struct {
	jobs     controlplane.BackfillStore
	loaders  controlplane.LoaderStore
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
	metrics  *metrics.BackfillMetrics
}

func New(jobs controlplane.BackfillStore, loaders controlplane.LoaderStore, p *pipeline.Pipeline, logger *slog.Logger, m *metrics.BackfillMetrics) *Service {
	return &Service{jobs: jobs, loaders: loaders, pipeline: p, logger: logger, metrics: m}
}

// Submit validates loaderCode exists and fromTime < toTime, defaults
// purgeStrategy to PURGE_AND_RELOAD, and persists a PENDING job.
func (s *Service) Submit(ctx context.Context, loaderCode string, fromTime, toTime time.Time, purgeStrategy domain.PurgeStrategy, requestedBy string) (*domain.BackfillJob, error) {
	if _, err := s.loaders.GetLoader(ctx, loaderCode); err != nil {
		return nil, err
	}
	if !fromTime.Before(toTime) {
		return nil, domain.NewValidationError("fromTime must be before toTime")
	}
	if purgeStrategy == "" {
		purgeStrategy = domain.PurgeAndReload
	} else if !purgeStrategy.Valid() {
		return nil, domain.NewValidationError("invalid purgeStrategy %q", purgeStrategy)
	}

	job := &domain.BackfillJob{
		ID:            uuid.NewString(),
		LoaderCode:    loaderCode,
		FromEpoch:     fromTime.Unix(),
		ToEpoch:       toTime.Unix(),
		PurgeStrategy: purgeStrategy,
		Status:        domain.BackfillPending,
		RequestedBy:   requestedBy,
		RequestedAt:   time.Now().UTC(),
	}
	if err := s.jobs.InsertBackfill(ctx, job); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
		s.metrics.ActiveJobs.Inc()
	}
	return job, nil
}

// Execute runs jobId's window through the pipeline. Only a PENDING job
// may be executed.
func (s *Service) Execute(ctx context.Context, jobID, replicaName string) (*domain.BackfillJob, error) {
	job, err := s.jobs.GetBackfill(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.BackfillPending {
		return nil, domain.NewIllegalStateError("backfill job %q is %s, not PENDING", jobID, job.Status)
	}

	loader, err := s.loaders.GetLoader(ctx, job.LoaderCode)
	if err != nil {
		return nil, err
	}

	start := time.Now().UTC()
	job.Status = domain.BackfillRunning
	job.StartTime = &start
	job.ReplicaName = replicaName
	if err := s.jobs.UpdateBackfill(ctx, job); err != nil {
		return nil, err
	}

	// The loader's own purgeStrategy is overridden for the duration of this
	// window by the job's requested strategy.
	windowLoader := *loader
	windowLoader.PurgeStrategy = job.PurgeStrategy
	window := domain.TimeWindow{FromTime: time.Unix(job.FromEpoch, 0).UTC(), ToTime: time.Unix(job.ToEpoch, 0).UTC()}

	h, err := s.pipeline.Execute(ctx, &windowLoader, window, replicaName)
	end := time.Now().UTC()
	job.EndTime = &end
	if err != nil {
		job.Status = domain.BackfillFailed
		job.ErrorMessage = err.Error()
		if updErr := s.jobs.UpdateBackfill(ctx, job); updErr != nil {
			return nil, updErr
		}
		s.recordOutcome(job)
		return job, nil
	}

	job.RecordsLoaded = h.RecordsLoaded
	job.RecordsIngested = h.RecordsIngested
	job.RecordsPurged = h.RecordsPurged
	if h.Status == domain.ExecutionFailed {
		job.Status = domain.BackfillFailed
		job.ErrorMessage = h.ErrorMessage
	} else {
		job.Status = domain.BackfillSuccess
	}
	if err := s.jobs.UpdateBackfill(ctx, job); err != nil {
		return nil, err
	}
	s.recordOutcome(job)
	return job, nil
}

// Cancel sets a PENDING job CANCELLED; any other status is an error.
func (s *Service) Cancel(ctx context.Context, jobID string) (*domain.BackfillJob, error) {
	job, err := s.jobs.GetBackfill(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.BackfillPending {
		return nil, domain.NewIllegalStateError("backfill job %q is %s, not PENDING", jobID, job.Status)
	}
	now := time.Now().UTC()
	job.Status = domain.BackfillCancelled
	job.EndTime = &now
	if err := s.jobs.UpdateBackfill(ctx, job); err != nil {
		return nil, err
	}
	s.recordOutcome(job)
	return job, nil
}

func (s *Service) recordOutcome(job *domain.BackfillJob) {
	if s.metrics == nil {
		return
	}
	s.metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
	s.metrics.ActiveJobs.Dec()
	if job.StartTime != nil && job.EndTime != nil {
		s.metrics.JobDuration.Observe(job.DurationSeconds())
	}
}
