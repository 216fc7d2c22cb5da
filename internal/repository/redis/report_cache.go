package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
)

const defaultReportCachePrefix = "matching:report"

type cachedQuestion struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Answer string `json:"answer"`
}

type cachedReport struct {
	ID                       string           `json:"id"`
	OwnerUserID              string           `json:"owner_user_id"`
	Kind                     string           `json:"kind"`
	HasOwnershipVerification bool             `json:"has_ownership_verification"`
	Questions                []cachedQuestion `json:"questions,omitempty"`
}

// ReportCache caches report projections for low-latency workflow loads.
type ReportCache struct {
	client *red.Client
	prefix string
}

// NewReportCache constructs the report cache helper.
func NewReportCache(client *red.Client, keyPrefix string) *ReportCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultReportCachePrefix
	}
	return &ReportCache{client: client, prefix: prefix}
}

var _ port.ReportCache = (*ReportCache)(nil)

// GetReport returns the cached report and whether it was present.
func (c *ReportCache) GetReport(ctx context.Context, reportID string) (*domain.Report, bool, error) {
	key := c.key(reportID)
	if key == "" {
		return nil, false, fmt.Errorf("report id is required")
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get report: %w", err)
	}

	var cached cachedReport
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false, fmt.Errorf("decode cached report: %w", err)
	}

	report := &domain.Report{
		ID:                       cached.ID,
		OwnerUserID:              cached.OwnerUserID,
		Kind:                     domain.ReportKind(cached.Kind),
		HasOwnershipVerification: cached.HasOwnershipVerification,
	}
	for _, q := range cached.Questions {
		report.SecurityQuestions = append(report.SecurityQuestions, domain.SecurityQuestion{
			ID:               q.ID,
			QuestionText:     q.Text,
			NormalizedAnswer: q.Answer,
		})
	}
	return report, true, nil
}

// SetReport stores the report with ttl.
func (c *ReportCache) SetReport(ctx context.Context, report domain.Report, ttl time.Duration) error {
	key := c.key(report.ID)
	if key == "" {
		return fmt.Errorf("report id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	cached := cachedReport{
		ID:                       report.ID,
		OwnerUserID:              report.OwnerUserID,
		Kind:                     string(report.Kind),
		HasOwnershipVerification: report.HasOwnershipVerification,
	}
	for _, q := range report.SecurityQuestions {
		cached.Questions = append(cached.Questions, cachedQuestion{ID: q.ID, Text: q.QuestionText, Answer: q.NormalizedAnswer})
	}

	payload, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set report: %w", err)
	}
	return nil
}

// InvalidateReport removes a cached report, used when the reporting service announces a change.
func (c *ReportCache) InvalidateReport(ctx context.Context, reportID string) error {
	key := c.key(reportID)
	if key == "" {
		return fmt.Errorf("report id is required")
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete report: %w", err)
	}
	return nil
}

func (c *ReportCache) key(reportID string) string {
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.prefix, reportID)
}
