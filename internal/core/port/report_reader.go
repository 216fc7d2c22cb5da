package port

import (
	"context"
	"time"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
)

// ReportReader fetches the read-only report projection.
type ReportReader interface {
	GetReport(ctx context.Context, reportID string) (*domain.Report, error)
}

// ReportCache stores report projections keyed by report id.
type ReportCache interface {
	GetReport(ctx context.Context, reportID string) (*domain.Report, bool, error)
	SetReport(ctx context.Context, report domain.Report, ttl time.Duration) error
	InvalidateReport(ctx context.Context, reportID string) error
}
