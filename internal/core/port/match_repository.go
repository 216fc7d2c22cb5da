package port

import (
	"context"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
)

// MatchRepository persists match requests with optimistic concurrency.
type MatchRepository interface {
	// Create stores a new match. Version is set to 1 on success.
	Create(ctx context.Context, match domain.MatchRequest) (domain.MatchRequest, error)
	Get(ctx context.Context, matchID string) (*domain.MatchRequest, error)
	// Save writes match only if the stored version equals expectedVersion and
	// returns the match carrying its new version.
	Save(ctx context.Context, match domain.MatchRequest, expectedVersion int64) (domain.MatchRequest, error)
	ListByReport(ctx context.Context, reportID string) ([]domain.MatchRequest, error)
}
