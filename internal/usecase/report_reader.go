package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
)

// ReportCacheMetrics observes report cache efficiency.
type ReportCacheMetrics interface {
	IncCacheHit()
	IncCacheMiss()
}

// CachedReportReader serves report projections from the cache and falls back to storage.
// Cache failures are logged and never fail the lookup.
type CachedReportReader struct {
	source  port.ReportReader
	cache   port.ReportCache
	ttl     time.Duration
	logger  *zap.Logger
	metrics ReportCacheMetrics
}

// NewCachedReportReader wraps source with cache. A nil cache returns reads straight from source.
func NewCachedReportReader(source port.ReportReader, cache port.ReportCache, ttl time.Duration) *CachedReportReader {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedReportReader{source: source, cache: cache, ttl: ttl, logger: zap.NewNop()}
}

// WithLogger attaches a structured logger.
func (r *CachedReportReader) WithLogger(logger *zap.Logger) *CachedReportReader {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithMetrics wires cache hit/miss observers.
func (r *CachedReportReader) WithMetrics(metrics ReportCacheMetrics) *CachedReportReader {
	if metrics != nil {
		r.metrics = metrics
	}
	return r
}

// GetReport implements port.ReportReader.
func (r *CachedReportReader) GetReport(ctx context.Context, reportID string) (*domain.Report, error) {
	if r.cache != nil {
		report, ok, err := r.cache.GetReport(ctx, reportID)
		switch {
		case err != nil:
			r.logger.Warn("report cache lookup failed",
				zap.String("report_id", reportID),
				zap.String("degradation_reason", string(domain.DegradationReasonReportCacheUnavailable)),
				zap.Error(err),
			)
		case ok:
			if r.metrics != nil {
				r.metrics.IncCacheHit()
			}
			return report, nil
		}
		if r.metrics != nil {
			r.metrics.IncCacheMiss()
		}
	}

	report, err := r.source.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if cacheErr := r.cache.SetReport(ctx, *report, r.ttl); cacheErr != nil {
			r.logger.Warn("failed to populate report cache", zap.String("report_id", reportID), zap.Error(cacheErr))
		}
	}
	return report, nil
}
