// Package signals is the SignalsStore facade (spec component C11): it
// wraps controlplane.SignalStore with the validation rules API
// collaborators depend on (loader existence, timestamp bounds,
// server-assigned createTime) so neither the pipeline nor an external
// caller can write or query malformed ranges.
package signals

import (
	"context"
	"time"

	"github.com/vitaliisemenov/etl-monitor/internal/controlplane"
	"github.com/vitaliisemenov/etl-monitor/internal/domain"
)

// Facade validates inputs before delegating to the underlying stores.
type Facade struct {
	loaders controlplane.LoaderStore
	signals controlplane.SignalStore
}

func New(loaders controlplane.LoaderStore, signals controlplane.SignalStore) *Facade {
	return &Facade{loaders: loaders, signals: signals}
}

// Append validates loader existence and a non-zero timestamp, assigns
// CreateTime if absent, then writes a single SignalHistory row.
func (f *Facade) Append(ctx context.Context, s *domain.SignalHistory) error {
	if err := f.checkLoaderExists(ctx, s.LoaderCode); err != nil {
		return err
	}
	if s.LoadTimestamp == 0 {
		return domain.NewValidationError("signal loadTimestamp must be set")
	}
	if s.CreateTime.IsZero() {
		s.CreateTime = time.Now().UTC()
	}
	return f.signals.Append(ctx, s)
}

// BulkAppend validates loader existence once for the whole batch, then
// delegates to the underlying strategy-aware bulk insert.
func (f *Facade) BulkAppend(ctx context.Context, loaderCode string, sigs []*domain.SignalHistory, strategy domain.PurgeStrategy) (purged, inserted int64, err error) {
	if err := f.checkLoaderExists(ctx, loaderCode); err != nil {
		return 0, 0, err
	}
	now := time.Now().UTC()
	for _, s := range sigs {
		if s.LoadTimestamp == 0 {
			return 0, 0, domain.NewValidationError("signal loadTimestamp must be set")
		}
		if s.CreateTime.IsZero() {
			s.CreateTime = now
		}
	}
	return f.signals.BulkAppend(ctx, sigs, strategy)
}

// Query returns signals for loaderCode in [fromEpoch, toEpoch), optionally
// filtered to one segmentCode.
func (f *Facade) Query(ctx context.Context, loaderCode string, fromEpoch, toEpoch int64, segmentCode *int) ([]*domain.SignalHistory, error) {
	if fromEpoch < 0 || fromEpoch >= toEpoch {
		return nil, domain.NewValidationError("fromEpoch must be >= 0 and < toEpoch")
	}
	return f.signals.Query(ctx, loaderCode, fromEpoch, toEpoch, segmentCode)
}

// DeleteRange is used only by the pipeline's PURGE_AND_RELOAD step; it is
// exposed here so administrative callers can invoke the same validated
// path.
func (f *Facade) DeleteRange(ctx context.Context, loaderCode string, fromEpoch, toEpoch int64) (int64, error) {
	if fromEpoch < 0 || fromEpoch >= toEpoch {
		return 0, domain.NewValidationError("fromEpoch must be >= 0 and < toEpoch")
	}
	return f.signals.DeleteRange(ctx, loaderCode, fromEpoch, toEpoch)
}

// GetOrCreateSegmentCode resolves a segment tuple to its dense code,
// allocating one if this is the first time loaderCode has seen it.
func (f *Facade) GetOrCreateSegmentCode(ctx context.Context, loaderCode string, segments [10]*string) (int, error) {
	return f.signals.GetOrCreateSegmentCode(ctx, loaderCode, segments)
}

func (f *Facade) checkLoaderExists(ctx context.Context, loaderCode string) error {
	_, err := f.loaders.GetLoader(ctx, loaderCode)
	return err
}
