package usecase

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/core/port"
	"github.com/Ozonelabrada/resqhub-sub000/internal/repository"
)

var (
	// ErrMatchIDRequired indicates the match identifier is missing.
	ErrMatchIDRequired = fmt.Errorf("%w: match id is required", domain.ErrValidation)
	// ErrReportIDRequired indicates the report identifier is missing.
	ErrReportIDRequired = fmt.Errorf("%w: report id is required", domain.ErrValidation)
	// ErrMatchLocked indicates another request currently mutates the match.
	ErrMatchLocked = fmt.Errorf("%w: match is being updated by another request", domain.ErrConcurrencyConflict)
)

const defaultLockTTL = 5 * time.Second

// MatchWorkflowMetrics captures telemetry hooks for workflow operations.
type MatchWorkflowMetrics interface {
	IncTransition(from, to domain.MatchStatus)
	IncAnswerAttempt(correct bool)
	IncConflict(operation string)
	IncNotificationFailure(eventType domain.MatchEventType)
}

// MatchWorkflowOptions configures optional behaviours for the service.
type MatchWorkflowOptions struct {
	AttestationMode   domain.AttestationMode
	HandoverWindow    time.Duration
	LockTTL           time.Duration
	DegradationPolicy domain.DegradationPolicy
}

// AnswerOutcome reports the result of a submitted security answer.
type AnswerOutcome struct {
	Correct           bool
	AttemptsRemaining int
	Status            domain.MatchStatus
}

// MatchWorkflowService drives match requests through verification, handover and confirmation.
// Every mutating call runs lock, load, decide, persist and notify before the lock is released.
type MatchWorkflowService struct {
	matches  port.MatchRepository
	reports  port.ReportReader
	notifier port.NotificationPort
	outbox   port.MatchOutboxWriter
	locker   port.MatchLocker
	opts     MatchWorkflowOptions
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
	metrics  MatchWorkflowMetrics
	tracer   trace.Tracer
}

// NewMatchWorkflowService constructs the workflow service. locker may be nil, in which case
// the version check at the repository is the only writer guard.
func NewMatchWorkflowService(matches port.MatchRepository, reports port.ReportReader, notifier port.NotificationPort, locker port.MatchLocker, opts MatchWorkflowOptions) *MatchWorkflowService {
	if opts.AttestationMode == "" {
		opts.AttestationMode = domain.AttestationSingleParty
	}
	if opts.HandoverWindow <= 0 {
		opts.HandoverWindow = domain.DefaultHandoverWindow
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.DegradationPolicy.Mode() == "" {
		opts.DegradationPolicy = domain.NewDegradationPolicy(domain.DegradationPolicyModeLenient)
	}

	return &MatchWorkflowService{
		matches:  matches,
		reports:  reports,
		notifier: notifier,
		locker:   locker,
		opts:     opts,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
		tracer:   otel.Tracer("match-workflow"),
	}
}

// WithLogger attaches a structured logger.
func (s *MatchWorkflowService) WithLogger(logger *zap.Logger) *MatchWorkflowService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithNow overrides the clock, primarily for deterministic testing.
func (s *MatchWorkflowService) WithNow(now func() time.Time) *MatchWorkflowService {
	if now != nil {
		s.now = now
	}
	return s
}

// WithIDGenerator overrides id generation for matches and notifications.
func (s *MatchWorkflowService) WithIDGenerator(newID func() string) *MatchWorkflowService {
	if newID != nil {
		s.newID = newID
	}
	return s
}

// WithMetrics wires telemetry observers.
func (s *MatchWorkflowService) WithMetrics(metrics MatchWorkflowMetrics) *MatchWorkflowService {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// WithOutboxWriter routes transition saves through writer so notifications are queued in the
// same transaction as the match. Notifications are then left to the outbox relay.
func (s *MatchWorkflowService) WithOutboxWriter(writer port.MatchOutboxWriter) *MatchWorkflowService {
	s.outbox = writer
	return s
}

// ProposeMatch creates a match between two existing reports in the proposed state.
func (s *MatchWorkflowService) ProposeMatch(ctx context.Context, sourceReportID, targetReportID, initiatorUserID string) (m *domain.MatchRequest, err error) {
	ctx, span := s.startSpan(ctx, "ProposeMatch", attribute.String("source_report_id", sourceReportID), attribute.String("target_report_id", targetReportID))
	defer func() { endSpan(span, err) }()

	match, err := domain.NewMatchRequest(s.newID(), sourceReportID, targetReportID, strings.TrimSpace(initiatorUserID), "", s.opts.AttestationMode, s.now())
	if err != nil {
		return nil, err
	}

	if _, err := s.reports.GetReport(ctx, match.SourceReportID); err != nil {
		return nil, fmt.Errorf("load source report %s: %w", match.SourceReportID, err)
	}
	target, err := s.reports.GetReport(ctx, match.TargetReportID)
	if err != nil {
		return nil, fmt.Errorf("load target report %s: %w", match.TargetReportID, err)
	}
	match.TargetOwnerUserID = target.OwnerUserID

	created, err := s.matches.Create(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("create match: %w", err)
	}

	s.logger.Info("match proposed",
		zap.String("match_id", created.ID),
		zap.String("source_report_id", created.SourceReportID),
		zap.String("target_report_id", created.TargetReportID),
		zap.String("initiated_by", created.InitiatedByUserID),
	)
	return &created, nil
}

// GetMatch returns the match, applying the implicit transition out of proposed on first load.
func (s *MatchWorkflowService) GetMatch(ctx context.Context, matchID string) (m *domain.MatchRequest, err error) {
	ctx, span := s.startSpan(ctx, "GetMatch", attribute.String("match_id", matchID))
	defer func() { endSpan(span, err) }()

	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return nil, ErrMatchIDRequired
	}

	current, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("load match %s: %w", matchID, err)
	}
	if current.Status != domain.MatchProposed {
		return current, nil
	}

	return s.mutate(ctx, "get", matchID, func(*domain.MatchRequest) ([]domain.MatchNotification, error) {
		return nil, nil
	})
}

// ListMatchesByReport lists every match that references reportID on either side.
func (s *MatchWorkflowService) ListMatchesByReport(ctx context.Context, reportID string) ([]domain.MatchRequest, error) {
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return nil, ErrReportIDRequired
	}
	matches, err := s.matches.ListByReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("list matches for report %s: %w", reportID, err)
	}
	return matches, nil
}

// GetNextSecurityQuestion presents the question the claimant must answer next.
func (s *MatchWorkflowService) GetNextSecurityQuestion(ctx context.Context, matchID string) (q domain.Question, err error) {
	ctx, span := s.startSpan(ctx, "GetNextSecurityQuestion", attribute.String("match_id", matchID))
	defer func() { endSpan(span, err) }()

	var question domain.Question
	_, err = s.mutate(ctx, "next_question", matchID, func(m *domain.MatchRequest) ([]domain.MatchNotification, error) {
		var qErr error
		question, qErr = m.NextQuestion(s.now())
		return nil, qErr
	})
	if err != nil {
		return domain.Question{}, err
	}
	return question, nil
}

// SubmitSecurityAnswer checks a claimant answer. The attempt that exhausts the challenge
// dismisses the match and notifies both parties.
func (s *MatchWorkflowService) SubmitSecurityAnswer(ctx context.Context, matchID, questionID, answer string) (out AnswerOutcome, err error) {
	ctx, span := s.startSpan(ctx, "SubmitSecurityAnswer", attribute.String("match_id", matchID), attribute.String("question_id", questionID))
	defer func() { endSpan(span, err) }()

	var result domain.AnswerResult
	updated, err := s.mutate(ctx, "submit_answer", matchID, func(m *domain.MatchRequest) ([]domain.MatchNotification, error) {
		var (
			events []domain.MatchNotification
			aErr   error
		)
		result, events, aErr = m.SubmitAnswer(strings.TrimSpace(questionID), answer, s.now())
		return events, aErr
	})
	if err != nil {
		return AnswerOutcome{}, err
	}

	if s.metrics != nil {
		s.metrics.IncAnswerAttempt(result.Correct)
	}
	span.SetAttributes(attribute.Bool("correct", result.Correct), attribute.Int("attempts_remaining", result.AttemptsRemaining))

	return AnswerOutcome{
		Correct:           result.Correct,
		AttemptsRemaining: result.AttemptsRemaining,
		Status:            updated.Status,
	}, nil
}

// SetHandoverFlag sets one handover checklist flag on behalf of actingUserID.
func (s *MatchWorkflowService) SetHandoverFlag(ctx context.Context, matchID, actingUserID, flagName string, value bool) (state domain.HandoverChecklistState, err error) {
	ctx, span := s.startSpan(ctx, "SetHandoverFlag", attribute.String("match_id", matchID), attribute.String("flag", flagName), attribute.Bool("value", value))
	defer func() { endSpan(span, err) }()

	flag, err := domain.ParseHandoverFlag(flagName)
	if err != nil {
		return domain.HandoverChecklistState{}, err
	}

	updated, err := s.mutate(ctx, "set_handover_flag", matchID, func(m *domain.MatchRequest) ([]domain.MatchNotification, error) {
		_, fErr := m.SetHandoverFlag(strings.TrimSpace(actingUserID), flag, value, s.now())
		return nil, fErr
	})
	if err != nil {
		return domain.HandoverChecklistState{}, err
	}
	return updated.HandoverChecklist, nil
}

// ConfirmMatch finalises the match and starts the handover window.
func (s *MatchWorkflowService) ConfirmMatch(ctx context.Context, matchID string) (m *domain.MatchRequest, err error) {
	ctx, span := s.startSpan(ctx, "ConfirmMatch", attribute.String("match_id", matchID))
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, "confirm", matchID, func(m *domain.MatchRequest) ([]domain.MatchNotification, error) {
		return m.Confirm(s.now(), s.opts.HandoverWindow)
	})
}

// RejectMatch declines the match with a reason code and optional detail.
func (s *MatchWorkflowService) RejectMatch(ctx context.Context, matchID, reasonCode, detailText, actingUserID string) (m *domain.MatchRequest, err error) {
	ctx, span := s.startSpan(ctx, "RejectMatch", attribute.String("match_id", matchID), attribute.String("reason_code", reasonCode))
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, "reject", matchID, func(m *domain.MatchRequest) ([]domain.MatchNotification, error) {
		return m.Reject(reasonCode, detailText, strings.TrimSpace(actingUserID), s.now())
	})
}

// DismissForVerificationFailure terminates a match whose challenge failed. Safe to retry.
func (s *MatchWorkflowService) DismissForVerificationFailure(ctx context.Context, matchID string) (m *domain.MatchRequest, err error) {
	ctx, span := s.startSpan(ctx, "DismissForVerificationFailure", attribute.String("match_id", matchID))
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, "dismiss", matchID, func(m *domain.MatchRequest) ([]domain.MatchNotification, error) {
		_, events, dErr := m.DismissForVerificationFailure(s.now())
		return events, dErr
	})
}

type decideFunc func(m *domain.MatchRequest) ([]domain.MatchNotification, error)

func (s *MatchWorkflowService) mutate(ctx context.Context, operation, matchID string, decide decideFunc) (*domain.MatchRequest, error) {
	matchID = strings.TrimSpace(matchID)
	if matchID == "" {
		return nil, ErrMatchIDRequired
	}

	release, err := s.acquire(ctx, operation, matchID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.loadResolved(ctx, operation, matchID)
	if err != nil {
		return nil, err
	}

	working := current.Clone()
	events, err := decide(&working)
	if err != nil {
		s.logger.Debug("match operation refused",
			zap.String("operation", operation),
			zap.String("match_id", matchID),
			zap.String("status", string(current.Status)),
			zap.Error(err),
		)
		return nil, err
	}

	if reflect.DeepEqual(working, current.Clone()) {
		return &working, nil
	}

	for i := range events {
		events[i].EventID = s.newID()
	}

	if s.outbox != nil {
		saved, err := s.saveWithNotifications(ctx, operation, working, current.Version, events)
		if err != nil {
			return nil, err
		}
		s.recordTransition(current.Status, saved.Status)
		return &saved, nil
	}

	saved, err := s.save(ctx, operation, working, current.Version)
	if err != nil {
		return nil, err
	}
	s.recordTransition(current.Status, saved.Status)
	s.dispatch(ctx, events)

	return &saved, nil
}

func (s *MatchWorkflowService) loadResolved(ctx context.Context, operation, matchID string) (*domain.MatchRequest, error) {
	current, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("load match %s: %w", matchID, err)
	}
	if current.Status != domain.MatchProposed {
		return current, nil
	}

	target, err := s.reports.GetReport(ctx, current.TargetReportID)
	if err != nil {
		return nil, fmt.Errorf("load target report %s: %w", current.TargetReportID, err)
	}

	resolved := current.Clone()
	if !resolved.Resolve(*target, s.now()) {
		return current, nil
	}

	saved, err := s.save(ctx, operation, resolved, current.Version)
	if err != nil {
		return nil, err
	}
	s.recordTransition(current.Status, saved.Status)
	return &saved, nil
}

func (s *MatchWorkflowService) save(ctx context.Context, operation string, match domain.MatchRequest, expectedVersion int64) (domain.MatchRequest, error) {
	saved, err := s.matches.Save(ctx, match, expectedVersion)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) && s.metrics != nil {
			s.metrics.IncConflict(operation)
		}
		return domain.MatchRequest{}, fmt.Errorf("persist match %s: %w", match.ID, err)
	}
	return saved, nil
}

func (s *MatchWorkflowService) saveWithNotifications(ctx context.Context, operation string, match domain.MatchRequest, expectedVersion int64, events []domain.MatchNotification) (domain.MatchRequest, error) {
	saved, err := s.outbox.SaveWithNotifications(ctx, match, expectedVersion, events)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) && s.metrics != nil {
			s.metrics.IncConflict(operation)
		}
		return domain.MatchRequest{}, fmt.Errorf("persist match %s: %w", match.ID, err)
	}
	for _, event := range events {
		s.logger.Info("match notification queued",
			zap.String("match_id", event.MatchID),
			zap.String("event_type", string(event.EventType)),
		)
	}
	return saved, nil
}

func (s *MatchWorkflowService) acquire(ctx context.Context, operation, matchID string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}

	unlock, err := s.locker.Acquire(ctx, matchID, s.opts.LockTTL)
	switch {
	case err == nil:
		return func() {
			if relErr := unlock(context.WithoutCancel(ctx)); relErr != nil {
				s.logger.Warn("failed to release match lock", zap.String("match_id", matchID), zap.Error(relErr))
			}
		}, nil
	case errors.Is(err, port.ErrLockHeld):
		if s.metrics != nil {
			s.metrics.IncConflict(operation)
		}
		return nil, ErrMatchLocked
	case s.opts.DegradationPolicy.AllowsFallback(domain.DegradationReasonLockUnavailable):
		s.logger.Warn("match lock unavailable, relying on version check",
			zap.String("match_id", matchID),
			zap.String("operation", operation),
			zap.Error(err),
		)
		return noop, nil
	default:
		return nil, fmt.Errorf("acquire match lock: %w", err)
	}
}

func (s *MatchWorkflowService) dispatch(ctx context.Context, events []domain.MatchNotification) {
	if s.notifier == nil {
		return
	}
	for _, event := range events {
		if err := s.notifier.NotifyParties(ctx, event); err != nil {
			s.logger.Warn("failed to notify match parties",
				zap.String("match_id", event.MatchID),
				zap.String("event_type", string(event.EventType)),
				zap.Error(err),
			)
			if s.metrics != nil {
				s.metrics.IncNotificationFailure(event.EventType)
			}
			continue
		}
		s.logger.Info("match parties notified",
			zap.String("match_id", event.MatchID),
			zap.String("event_type", string(event.EventType)),
		)
	}
}

func (s *MatchWorkflowService) recordTransition(from, to domain.MatchStatus) {
	if from == to || s.metrics == nil {
		return
	}
	s.metrics.IncTransition(from, to)
}

func (s *MatchWorkflowService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "MatchWorkflow."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
