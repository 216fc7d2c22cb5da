package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/repository"
)

func TestOutboxRepository_EnqueueAndFetch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := NewOutboxRepository(mock, 3)
	repo.now = func() time.Time { return now }

	reason := domain.ReasonNotMyItem
	notification := domain.MatchNotification{
		EventID:           "evt-1",
		MatchID:           "match-1",
		EventType:         domain.EventRejected,
		Status:            domain.MatchRejected,
		InitiatedByUserID: "user-1",
		TargetOwnerUserID: "user-2",
		OccurredAt:        now,
		RejectionReason:   &reason,
	}

	mock.ExpectExec(`INSERT INTO matching\.notification_outbox`).
		WithArgs("evt-1", "match-1", "rejected", pgxmock.AnyArg(), "pending", 0, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Enqueue(context.Background(), notification); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	payload, _ := json.Marshal(toOutboxPayload(notification))
	mock.ExpectQuery(`SELECT id, payload, attempts FROM matching\.notification_outbox WHERE status = \$1 ORDER BY created_at ASC LIMIT 10`).
		WithArgs("pending").
		WillReturnRows(pgxmock.NewRows([]string{"id", "payload", "attempts"}).AddRow("evt-1", payload, 1))

	entries, err := repo.FetchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchPending returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Attempts != 1 || got.Notification.EventType != domain.EventRejected {
		t.Fatalf("unexpected entry %+v", got)
	}
	if got.Notification.RejectionReason == nil || *got.Notification.RejectionReason != domain.ReasonNotMyItem {
		t.Fatalf("expected rejection reason to round-trip")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOutboxRepository_MarkFailedParksAtMaxAttempts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewOutboxRepository(mock, 5)

	mock.ExpectExec(`UPDATE matching\.notification_outbox SET attempts = attempts \+ 1, last_error = \$1, status = CASE WHEN attempts \+ 1 >= \$2 THEN \$3 ELSE status END WHERE id = \$4`).
		WithArgs("broker down", 5, "failed", "evt-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.MarkFailed(context.Background(), "evt-1", "broker down"); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}

	mock.ExpectExec(`UPDATE matching\.notification_outbox SET status = \$1, delivered_at = \$2 WHERE id = \$3`).
		WithArgs("delivered", pgxmock.AnyArg(), "evt-2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.MarkDelivered(context.Background(), "evt-2"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
