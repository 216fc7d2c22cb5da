package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
	"github.com/Ozonelabrada/resqhub-sub000/internal/repository"
)

const uniqueViolation = "23505"

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var matchColumns = []string{
	"id",
	"source_report_id",
	"target_report_id",
	"status",
	"initiated_by_user_id",
	"target_owner_user_id",
	"ownership_verification",
	"handover_checklist",
	"rejection",
	"dismissal",
	"version",
	"created_at",
	"updated_at",
	"confirmed_at",
	"handover_deadline",
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// MatchRepository implements port.MatchRepository backed by PostgreSQL.
// Embedded sub-states are stored as JSONB next to the status so a transition is a single row write.
type MatchRepository struct {
	beginner txBeginner
	exec     pgExecutor
	outbox   *OutboxRepository
	builder  squirrel.StatementBuilderType
}

// NewMatchRepository constructs a repository backed by any executor that satisfies pgExecutor.
// Executors that can begin transactions (pools) also enable SaveWithNotifications.
func NewMatchRepository(exec pgExecutor) *MatchRepository {
	repo := &MatchRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if beginner, ok := exec.(txBeginner); ok {
		repo.beginner = beginner
	}
	return repo
}

// WithOutbox attaches the outbox written by SaveWithNotifications.
func (r *MatchRepository) WithOutbox(outbox *OutboxRepository) *MatchRepository {
	r.outbox = outbox
	return r
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *MatchRepository) WithTx(tx pgx.Tx) *MatchRepository {
	if tx == nil {
		return r
	}
	return &MatchRepository{
		exec:    tx,
		outbox:  r.outbox,
		builder: r.builder,
	}
}

var (
	_ port.MatchRepository   = (*MatchRepository)(nil)
	_ port.MatchOutboxWriter = (*MatchRepository)(nil)
)

// Create inserts a new match at version 1.
func (r *MatchRepository) Create(ctx context.Context, match domain.MatchRequest) (domain.MatchRequest, error) {
	match.Version = 1

	cols, err := encodeMatchState(match)
	if err != nil {
		return domain.MatchRequest{}, err
	}

	stmt, args, err := r.builder.Insert("matching.matches").
		Columns(matchColumns...).
		Values(
			match.ID,
			match.SourceReportID,
			match.TargetReportID,
			string(match.Status),
			match.InitiatedByUserID,
			nullableString(match.TargetOwnerUserID),
			cols.ownership,
			cols.checklist,
			cols.rejection,
			cols.dismissal,
			match.Version,
			match.CreatedAt,
			match.UpdatedAt,
			match.ConfirmedAt,
			match.HandoverDeadline,
		).
		ToSql()
	if err != nil {
		return domain.MatchRequest{}, fmt.Errorf("build insert match sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.MatchRequest{}, fmt.Errorf("open match for reports %s/%s: %w", match.SourceReportID, match.TargetReportID, repository.ErrDuplicate)
		}
		return domain.MatchRequest{}, fmt.Errorf("insert match: %w", err)
	}

	return match, nil
}

// Get returns a match by identifier.
func (r *MatchRepository) Get(ctx context.Context, matchID string) (*domain.MatchRequest, error) {
	stmt, args, err := r.builder.
		Select(matchColumns...).
		From("matching.matches").
		Where(squirrel.Eq{"id": matchID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select match sql: %w", err)
	}

	match, err := scanMatch(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select match: %w", err)
	}
	return match, nil
}

// Save overwrites the mutable columns when the stored version equals expectedVersion.
func (r *MatchRepository) Save(ctx context.Context, match domain.MatchRequest, expectedVersion int64) (domain.MatchRequest, error) {
	cols, err := encodeMatchState(match)
	if err != nil {
		return domain.MatchRequest{}, err
	}

	stmt, args, err := r.builder.Update("matching.matches").
		Set("status", string(match.Status)).
		Set("target_owner_user_id", nullableString(match.TargetOwnerUserID)).
		Set("ownership_verification", cols.ownership).
		Set("handover_checklist", cols.checklist).
		Set("rejection", cols.rejection).
		Set("dismissal", cols.dismissal).
		Set("updated_at", match.UpdatedAt).
		Set("confirmed_at", match.ConfirmedAt).
		Set("handover_deadline", match.HandoverDeadline).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"id": match.ID, "version": expectedVersion}).
		Suffix("RETURNING version").
		ToSql()
	if err != nil {
		return domain.MatchRequest{}, fmt.Errorf("build update match sql: %w", err)
	}

	var newVersion int64
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&newVersion); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MatchRequest{}, r.classifyMissedUpdate(ctx, match.ID)
		}
		return domain.MatchRequest{}, fmt.Errorf("update match: %w", err)
	}

	match.Version = newVersion
	return match, nil
}

// SaveWithNotifications runs Save and enqueues every notification inside one transaction.
// A stale version or a failed enqueue rolls back both.
func (r *MatchRepository) SaveWithNotifications(ctx context.Context, match domain.MatchRequest, expectedVersion int64, notifications []domain.MatchNotification) (saved domain.MatchRequest, err error) {
	if r.beginner == nil || r.outbox == nil {
		return domain.MatchRequest{}, fmt.Errorf("transactional match save: %w", repository.ErrNotImplemented)
	}

	tx, err := r.beginner.Begin(ctx)
	if err != nil {
		return domain.MatchRequest{}, fmt.Errorf("begin match transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	saved, err = r.WithTx(tx).Save(ctx, match, expectedVersion)
	if err != nil {
		return domain.MatchRequest{}, err
	}

	outbox := r.outbox.WithTx(tx)
	for _, n := range notifications {
		if err = outbox.Enqueue(ctx, n); err != nil {
			return domain.MatchRequest{}, fmt.Errorf("queue %s notification for match %s: %w", n.EventType, n.MatchID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.MatchRequest{}, fmt.Errorf("commit match transaction: %w", err)
	}
	return saved, nil
}

func (r *MatchRepository) classifyMissedUpdate(ctx context.Context, matchID string) error {
	var stored int64
	err := r.exec.QueryRow(ctx, "SELECT version FROM matching.matches WHERE id = $1", matchID).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return repository.ErrNotFound
	case err != nil:
		return fmt.Errorf("select match version: %w", err)
	default:
		return fmt.Errorf("match %s at version %d: %w", matchID, stored, repository.ErrConcurrencyConflict)
	}
}

// ListByReport returns matches that reference reportID on either side, newest first.
func (r *MatchRepository) ListByReport(ctx context.Context, reportID string) ([]domain.MatchRequest, error) {
	stmt, args, err := r.builder.
		Select(matchColumns...).
		From("matching.matches").
		Where(squirrel.Or{
			squirrel.Eq{"source_report_id": reportID},
			squirrel.Eq{"target_report_id": reportID},
		}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list matches sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var matches []domain.MatchRequest
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, *match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return matches, nil
}

type encodedMatchState struct {
	ownership []byte
	checklist []byte
	rejection []byte
	dismissal []byte
}

func encodeMatchState(match domain.MatchRequest) (encodedMatchState, error) {
	var (
		out encodedMatchState
		err error
	)
	if match.OwnershipVerification != nil {
		if out.ownership, err = json.Marshal(match.OwnershipVerification); err != nil {
			return out, fmt.Errorf("marshal ownership verification: %w", err)
		}
	}
	if out.checklist, err = json.Marshal(match.HandoverChecklist); err != nil {
		return out, fmt.Errorf("marshal handover checklist: %w", err)
	}
	if match.Rejection != nil {
		if out.rejection, err = json.Marshal(match.Rejection); err != nil {
			return out, fmt.Errorf("marshal rejection: %w", err)
		}
	}
	if match.Dismissal != nil {
		if out.dismissal, err = json.Marshal(match.Dismissal); err != nil {
			return out, fmt.Errorf("marshal dismissal: %w", err)
		}
	}
	return out, nil
}

func scanMatch(row pgx.Row) (*domain.MatchRequest, error) {
	var (
		match       domain.MatchRequest
		status      string
		targetOwner *string
		ownership   []byte
		checklist   []byte
		rejection   []byte
		dismissal   []byte
		confirmedAt *time.Time
		deadline    *time.Time
	)
	if err := row.Scan(
		&match.ID,
		&match.SourceReportID,
		&match.TargetReportID,
		&status,
		&match.InitiatedByUserID,
		&targetOwner,
		&ownership,
		&checklist,
		&rejection,
		&dismissal,
		&match.Version,
		&match.CreatedAt,
		&match.UpdatedAt,
		&confirmedAt,
		&deadline,
	); err != nil {
		return nil, err
	}

	match.Status = domain.MatchStatus(status)
	if !match.Status.Valid() {
		return nil, fmt.Errorf("unknown match status %q", status)
	}
	if targetOwner != nil {
		match.TargetOwnerUserID = *targetOwner
	}
	match.ConfirmedAt = confirmedAt
	match.HandoverDeadline = deadline

	if hasJSON(ownership) {
		var state domain.OwnershipChallengeState
		if err := json.Unmarshal(ownership, &state); err != nil {
			return nil, fmt.Errorf("unmarshal ownership verification: %w", err)
		}
		match.OwnershipVerification = &state
	}
	if hasJSON(checklist) {
		if err := json.Unmarshal(checklist, &match.HandoverChecklist); err != nil {
			return nil, fmt.Errorf("unmarshal handover checklist: %w", err)
		}
	}
	if hasJSON(rejection) {
		var record domain.RejectionRecord
		if err := json.Unmarshal(rejection, &record); err != nil {
			return nil, fmt.Errorf("unmarshal rejection: %w", err)
		}
		match.Rejection = &record
	}
	if hasJSON(dismissal) {
		var d domain.Dismissal
		if err := json.Unmarshal(dismissal, &d); err != nil {
			return nil, fmt.Errorf("unmarshal dismissal: %w", err)
		}
		match.Dismissal = &d
	}

	return &match, nil
}

func hasJSON(raw []byte) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func nullableString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
