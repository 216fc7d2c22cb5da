package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/repository"
)

func TestCachedReportReader_MissPopulatesCache(t *testing.T) {
	source := newFakeReportReader(foundReportWithQuestions())
	cache := &fakeReportCache{}
	metrics := &recordingMetrics{}
	reader := NewCachedReportReader(source, cache, time.Minute).WithLogger(zaptest.NewLogger(t)).WithMetrics(metrics)

	report, err := reader.GetReport(context.Background(), "report-found")
	if err != nil {
		t.Fatalf("GetReport returned error: %v", err)
	}
	if report.OwnerUserID != finderID {
		t.Fatalf("unexpected report %+v", report)
	}
	if cache.sets != 1 || metrics.cacheMisses != 1 {
		t.Fatalf("expected one cache fill and miss, got sets=%d misses=%d", cache.sets, metrics.cacheMisses)
	}

	if _, err := reader.GetReport(context.Background(), "report-found"); err != nil {
		t.Fatalf("GetReport returned error: %v", err)
	}
	if source.calls != 1 || metrics.cacheHits != 1 {
		t.Fatalf("expected second read served from cache, source calls=%d hits=%d", source.calls, metrics.cacheHits)
	}
}

func TestCachedReportReader_CacheFailureFallsBack(t *testing.T) {
	source := newFakeReportReader(lostReport())
	cache := &fakeReportCache{getErr: errBackendDown, setErr: errBackendDown}
	reader := NewCachedReportReader(source, cache, 0).WithLogger(zaptest.NewLogger(t))

	report, err := reader.GetReport(context.Background(), "report-lost")
	if err != nil {
		t.Fatalf("cache failure must fall back to storage, got %v", err)
	}
	if report.Kind != domain.ReportLost {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestCachedReportReader_SourceErrorPropagates(t *testing.T) {
	reader := NewCachedReportReader(newFakeReportReader(), nil, time.Minute)

	if _, err := reader.GetReport(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
