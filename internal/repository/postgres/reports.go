package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
	"github.com/Ozonelabrada/resqhub-sub000/internal/repository"
)

// ReportRepository reads the report projection owned by the reporting service.
// The workflow never writes reports.
type ReportRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewReportRepository constructs a ReportRepository.
func NewReportRepository(exec pgExecutor) *ReportRepository {
	return &ReportRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

var _ port.ReportReader = (*ReportRepository)(nil)

// GetReport loads a report together with its security questions in configured order.
func (r *ReportRepository) GetReport(ctx context.Context, reportID string) (*domain.Report, error) {
	stmt, args, err := r.builder.
		Select("id", "owner_user_id", "kind", "has_ownership_verification").
		From("matching.reports").
		Where(squirrel.Eq{"id": reportID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select report sql: %w", err)
	}

	var (
		report domain.Report
		kind   string
	)
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&report.ID, &report.OwnerUserID, &kind, &report.HasOwnershipVerification); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select report: %w", err)
	}
	report.Kind = domain.ReportKind(kind)

	if !report.HasOwnershipVerification {
		return &report, nil
	}

	stmt, args, err = r.builder.
		Select("id", "question_text", "normalized_answer").
		From("matching.report_security_questions").
		Where(squirrel.Eq{"report_id": reportID}).
		OrderBy("position ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select security questions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select security questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q domain.SecurityQuestion
		if err := rows.Scan(&q.ID, &q.QuestionText, &q.NormalizedAnswer); err != nil {
			return nil, fmt.Errorf("scan security question: %w", err)
		}
		report.SecurityQuestions = append(report.SecurityQuestions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security questions: %w", err)
	}

	return &report, nil
}
