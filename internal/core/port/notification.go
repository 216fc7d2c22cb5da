package port

import (
	"context"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
)

// NotificationPort informs both parties of a persisted workflow transition.
// Delivery is fire-and-forget from the workflow's point of view.
type NotificationPort interface {
	NotifyParties(ctx context.Context, notification domain.MatchNotification) error
}

// NotificationOutbox buffers notifications in storage until a relay delivers them.
type NotificationOutbox interface {
	Enqueue(ctx context.Context, notification domain.MatchNotification) error
	FetchPending(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// OutboxEntry is a stored notification awaiting delivery.
type OutboxEntry struct {
	ID           string
	Notification domain.MatchNotification
	Attempts     int
}

// MatchOutboxWriter saves a match transition and queues its notifications in one
// transaction, so a committed transition always has its outbox rows.
type MatchOutboxWriter interface {
	SaveWithNotifications(ctx context.Context, match domain.MatchRequest, expectedVersion int64, notifications []domain.MatchNotification) (domain.MatchRequest, error)
}
