package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LockMetrics covers internal/lock's acquire/release/reap activity.
type LockMetrics struct {
	AcquireAttemptsTotal *prometheus.CounterVec
	ActiveLocks          prometheus.Gauge
	StaleReapedTotal      prometheus.Counter
	RetentionDeletedTotal prometheus.Counter
}

func NewLockMetrics(reg prometheus.Registerer) *LockMetrics {
	f := promauto.With(reg)
	return &LockMetrics{
		AcquireAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "lock", Name: "acquire_attempts_total",
			Help: "Lock acquisition attempts by outcome (granted, denied, error).",
		}, []string{"outcome"}),
		ActiveLocks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "etlmonitor", Subsystem: "lock", Name: "active_locks",
			Help: "Currently non-released execution locks.",
		}),
		StaleReapedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "lock", Name: "stale_reaped_total",
			Help: "Locks marked released by the stale reaper.",
		}),
		RetentionDeletedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "lock", Name: "retention_deleted_total",
			Help: "Released lock rows purged by the retention job.",
		}),
	}
}

// SchedulerMetrics covers internal/scheduler's tick loop.
type SchedulerMetrics struct {
	TickDurationSeconds prometheus.Histogram
	LoadersDue          prometheus.Gauge
	DispatchedTotal     prometheus.Counter
	SkippedLockedTotal  prometheus.Counter
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	f := promauto.With(reg)
	return &SchedulerMetrics{
		TickDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "etlmonitor", Subsystem: "scheduler", Name: "tick_duration_seconds",
			Help: "Duration of one scheduler tick.", Buckets: prometheus.DefBuckets,
		}),
		LoadersDue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "etlmonitor", Subsystem: "scheduler", Name: "loaders_due",
			Help: "Loaders judged due in the most recent tick.",
		}),
		DispatchedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "scheduler", Name: "dispatched_total",
			Help: "Executions dispatched to the worker pool.",
		}),
		SkippedLockedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "scheduler", Name: "skipped_locked_total",
			Help: "Due loaders skipped because tryAcquire was denied.",
		}),
	}
}

// PipelineMetrics covers internal/pipeline's execution outcomes.
type PipelineMetrics struct {
	ExecutionsTotal     *prometheus.CounterVec
	ExecutionDuration   prometheus.Histogram
	RecordsIngested     prometheus.Counter
	RecordsPurged       prometheus.Counter
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	f := promauto.With(reg)
	return &PipelineMetrics{
		ExecutionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "pipeline", Name: "executions_total",
			Help: "Pipeline executions by final status.",
		}, []string{"status"}),
		ExecutionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "etlmonitor", Subsystem: "pipeline", Name: "execution_duration_seconds",
			Help: "Duration of one pipeline execution.", Buckets: prometheus.DefBuckets,
		}),
		RecordsIngested: f.NewCounter(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "pipeline", Name: "records_ingested_total",
			Help: "Signal rows ingested across all executions.",
		}),
		RecordsPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "pipeline", Name: "records_purged_total",
			Help: "Signal rows deleted by PURGE_AND_RELOAD.",
		}),
	}
}

// ApprovalMetrics covers internal/approval's workflow and materializer.
type ApprovalMetrics struct {
	TransitionsTotal       *prometheus.CounterVec
	MaterializedTotal      prometheus.Counter
	MaterializerRunDuration prometheus.Histogram
}

func NewApprovalMetrics(reg prometheus.Registerer) *ApprovalMetrics {
	f := promauto.With(reg)
	return &ApprovalMetrics{
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "approval", Name: "transitions_total",
			Help: "Approval request transitions by action.",
		}, []string{"action"}),
		MaterializedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "approval", Name: "materialized_total",
			Help: "Loaders materialized from approved requests.",
		}),
		MaterializerRunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "etlmonitor", Subsystem: "approval", Name: "materializer_run_duration_seconds",
			Help: "Duration of one materializer pass.", Buckets: prometheus.DefBuckets,
		}),
	}
}

// BackfillMetrics covers internal/backfill's job lifecycle.
type BackfillMetrics struct {
	JobsTotal       *prometheus.CounterVec
	ActiveJobs      prometheus.Gauge
	JobDuration     prometheus.Histogram
}

func NewBackfillMetrics(reg prometheus.Registerer) *BackfillMetrics {
	f := promauto.With(reg)
	return &BackfillMetrics{
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "backfill", Name: "jobs_total",
			Help: "Backfill jobs by final status.",
		}, []string{"status"}),
		ActiveJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "etlmonitor", Subsystem: "backfill", Name: "active_jobs",
			Help: "Backfill jobs currently PENDING or RUNNING.",
		}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "etlmonitor", Subsystem: "backfill", Name: "job_duration_seconds",
			Help: "Duration of completed backfill jobs.", Buckets: prometheus.DefBuckets,
		}),
	}
}

// GapScanMetrics covers internal/gapscan's periodic scan.
type GapScanMetrics struct {
	ScanDuration     prometheus.Histogram
	GapsFoundTotal   *prometheus.CounterVec
	BackfillsSubmitted prometheus.Counter
}

func NewGapScanMetrics(reg prometheus.Registerer) *GapScanMetrics {
	f := promauto.With(reg)
	return &GapScanMetrics{
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "etlmonitor", Subsystem: "gapscan", Name: "scan_duration_seconds",
			Help: "Duration of one gap scan pass.", Buckets: prometheus.DefBuckets,
		}),
		GapsFoundTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "gapscan", Name: "gaps_found_total",
			Help: "Gaps found by kind.",
		}, []string{"kind"}),
		BackfillsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "gapscan", Name: "backfills_submitted_total",
			Help: "Backfill jobs submitted by the gap scanner.",
		}),
	}
}

// SourceMetrics covers internal/sources's per-dbCode pools.
type SourceMetrics struct {
	QueriesTotal    *prometheus.CounterVec
	QueryDuration   *prometheus.HistogramVec
	PoolsOpen       prometheus.Gauge
	RateLimitedTotal prometheus.Counter
}

func NewSourceMetrics(reg prometheus.Registerer) *SourceMetrics {
	f := promauto.With(reg)
	return &SourceMetrics{
		QueriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "sources", Name: "queries_total",
			Help: "Source queries by dbCode and outcome.",
		}, []string{"db_code", "status"}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "etlmonitor", Subsystem: "sources", Name: "query_duration_seconds",
			Help: "Source query duration by dbCode.", Buckets: prometheus.DefBuckets,
		}, []string{"db_code"}),
		PoolsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "etlmonitor", Subsystem: "sources", Name: "pools_open",
			Help: "Source connection pools currently open.",
		}),
		RateLimitedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "sources", Name: "rate_limited_total",
			Help: "Source queries rejected by the per-source rate limiter.",
		}),
	}
}

// ConfigPlanMetrics covers internal/configplan's activation and cache.
type ConfigPlanMetrics struct {
	ActivationsTotal prometheus.Counter
	CacheHitsTotal   *prometheus.CounterVec
}

func NewConfigPlanMetrics(reg prometheus.Registerer) *ConfigPlanMetrics {
	f := promauto.With(reg)
	return &ConfigPlanMetrics{
		ActivationsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "configplan", Name: "activations_total",
			Help: "ConfigPlan activate() calls.",
		}),
		CacheHitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "configplan", Name: "cache_lookups_total",
			Help: "Config value cache lookups by outcome.",
		}, []string{"outcome"}),
	}
}

// HTTPMetrics covers internal/httpapi's request instrumentation.
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	f := promauto.With(reg)
	return &HTTPMetrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "etlmonitor", Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "etlmonitor", Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request duration by method and route.",
		}, []string{"method", "route"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "etlmonitor", Subsystem: "http", Name: "requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
	}
}
