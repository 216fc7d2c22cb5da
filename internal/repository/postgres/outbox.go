package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
	"github.com/Ozonelabrada/resqhub-sub000/internal/repository"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusDelivered = "delivered"
	outboxStatusFailed    = "failed"
)

// OutboxRepository stores notifications until the relay hands them to the transport.
type OutboxRepository struct {
	exec        pgExecutor
	builder     squirrel.StatementBuilderType
	maxAttempts int
	now         func() time.Time
	newID       func() string
}

// NewOutboxRepository constructs an OutboxRepository. Entries are parked as failed after maxAttempts.
func NewOutboxRepository(exec pgExecutor, maxAttempts int) *OutboxRepository {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &OutboxRepository{
		exec:        exec,
		builder:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		maxAttempts: maxAttempts,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// WithTx returns a copy of the repository that writes through tx.
func (r *OutboxRepository) WithTx(tx pgx.Tx) *OutboxRepository {
	if tx == nil {
		return r
	}
	clone := *r
	clone.exec = tx
	return &clone
}

var _ port.NotificationOutbox = (*OutboxRepository)(nil)

type outboxPayload struct {
	EventID           string         `json:"event_id"`
	MatchID           string         `json:"match_id"`
	EventType         string         `json:"event_type"`
	Status            string         `json:"status"`
	SourceReportID    string         `json:"source_report_id"`
	TargetReportID    string         `json:"target_report_id"`
	InitiatedByUserID string         `json:"initiated_by_user_id"`
	TargetOwnerUserID string         `json:"target_owner_user_id,omitempty"`
	OccurredAt        time.Time      `json:"occurred_at"`
	HandoverDeadline  *time.Time     `json:"handover_deadline,omitempty"`
	RejectionReason   *string        `json:"rejection_reason,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func toOutboxPayload(n domain.MatchNotification) outboxPayload {
	p := outboxPayload{
		EventID:           n.EventID,
		MatchID:           n.MatchID,
		EventType:         string(n.EventType),
		Status:            string(n.Status),
		SourceReportID:    n.SourceReportID,
		TargetReportID:    n.TargetReportID,
		InitiatedByUserID: n.InitiatedByUserID,
		TargetOwnerUserID: n.TargetOwnerUserID,
		OccurredAt:        n.OccurredAt,
		HandoverDeadline:  n.HandoverDeadline,
		Metadata:          n.Metadata,
	}
	if n.RejectionReason != nil {
		reason := string(*n.RejectionReason)
		p.RejectionReason = &reason
	}
	return p
}

func (p outboxPayload) notification() domain.MatchNotification {
	n := domain.MatchNotification{
		EventID:           p.EventID,
		MatchID:           p.MatchID,
		EventType:         domain.MatchEventType(p.EventType),
		Status:            domain.MatchStatus(p.Status),
		SourceReportID:    p.SourceReportID,
		TargetReportID:    p.TargetReportID,
		InitiatedByUserID: p.InitiatedByUserID,
		TargetOwnerUserID: p.TargetOwnerUserID,
		OccurredAt:        p.OccurredAt,
		HandoverDeadline:  p.HandoverDeadline,
		Metadata:          p.Metadata,
	}
	if p.RejectionReason != nil {
		reason := domain.RejectionReasonCode(*p.RejectionReason)
		n.RejectionReason = &reason
	}
	return n
}

// Enqueue stores a notification as pending.
func (r *OutboxRepository) Enqueue(ctx context.Context, notification domain.MatchNotification) error {
	payload, err := json.Marshal(toOutboxPayload(notification))
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	id := notification.EventID
	if id == "" {
		id = r.newID()
	}

	stmt, args, err := r.builder.Insert("matching.notification_outbox").
		Columns("id", "match_id", "event_type", "payload", "status", "attempts", "created_at").
		Values(id, notification.MatchID, string(notification.EventType), payload, outboxStatusPending, 0, r.now().UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert outbox sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// FetchPending returns up to limit pending entries, oldest first.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]port.OutboxEntry, error) {
	stmt, args, err := r.builder.
		Select("id", "payload", "attempts").
		From("matching.notification_outbox").
		Where(squirrel.Eq{"status": outboxStatusPending}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select outbox sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []port.OutboxEntry
	for rows.Next() {
		var (
			entry port.OutboxEntry
			raw   []byte
		)
		if err := rows.Scan(&entry.ID, &raw, &entry.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		var payload outboxPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal outbox payload %s: %w", entry.ID, err)
		}
		entry.Notification = payload.notification()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

// MarkDelivered flags an entry as delivered.
func (r *OutboxRepository) MarkDelivered(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update("matching.notification_outbox").
		Set("status", outboxStatusDelivered).
		Set("delivered_at", r.now().UTC()).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark delivered sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark outbox entry delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkFailed records a failed delivery and parks the entry once it reached maxAttempts.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	stmt, args, err := r.builder.Update("matching.notification_outbox").
		Set("attempts", squirrel.Expr("attempts + 1")).
		Set("last_error", reason).
		Set("status", squirrel.Expr("CASE WHEN attempts + 1 >= ? THEN ? ELSE status END", r.maxAttempts, outboxStatusFailed)).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark failed sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark outbox entry failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
