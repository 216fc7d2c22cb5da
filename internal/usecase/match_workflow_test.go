package usecase

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/repository"
)

var workflowNow = time.Date(2025, 4, 10, 9, 30, 0, 0, time.UTC)

const (
	claimantID = "user-claimant"
	finderID   = "user-finder"
)

func lostReport() domain.Report {
	return domain.Report{ID: "report-lost", OwnerUserID: claimantID, Kind: domain.ReportLost}
}

func foundReportWithQuestions() domain.Report {
	return domain.Report{
		ID:                       "report-found",
		OwnerUserID:              finderID,
		Kind:                     domain.ReportFound,
		HasOwnershipVerification: true,
		SecurityQuestions: []domain.SecurityQuestion{
			{ID: "q1", QuestionText: "What colour is the strap?", NormalizedAnswer: "red"},
			{ID: "q2", QuestionText: "What is engraved on the back?", NormalizedAnswer: "for anna"},
		},
	}
}

func foundReportOpen() domain.Report {
	return domain.Report{ID: "report-open", OwnerUserID: finderID, Kind: domain.ReportFound}
}

type workflowFixture struct {
	svc      *MatchWorkflowService
	repo     *fakeMatchRepository
	reports  *fakeReportReader
	notifier *recordingNotifier
	locker   *fakeLocker
	metrics  *recordingMetrics
}

func newWorkflowFixture(t *testing.T, opts MatchWorkflowOptions) *workflowFixture {
	t.Helper()

	f := &workflowFixture{
		repo:     newFakeMatchRepository(),
		reports:  newFakeReportReader(lostReport(), foundReportWithQuestions(), foundReportOpen()),
		notifier: &recordingNotifier{},
		locker:   newFakeLocker(),
		metrics:  &recordingMetrics{},
	}

	seq := 0
	f.svc = NewMatchWorkflowService(f.repo, f.reports, f.notifier, f.locker, opts).
		WithLogger(zaptest.NewLogger(t)).
		WithNow(func() time.Time { return workflowNow }).
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}).
		WithMetrics(f.metrics)
	return f
}

func (f *workflowFixture) propose(t *testing.T, targetReportID string) *domain.MatchRequest {
	t.Helper()
	m, err := f.svc.ProposeMatch(context.Background(), "report-lost", targetReportID, claimantID)
	if err != nil {
		t.Fatalf("ProposeMatch returned error: %v", err)
	}
	return m
}

func (f *workflowFixture) completeChecklist(t *testing.T, matchID string) {
	t.Helper()
	for _, flag := range domain.HandoverFlags() {
		if _, err := f.svc.SetHandoverFlag(context.Background(), matchID, claimantID, string(flag), true); err != nil {
			t.Fatalf("SetHandoverFlag(%s) returned error: %v", flag, err)
		}
	}
}

func TestProposeMatchStoresProposedMatch(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{})

	m := f.propose(t, "report-found")
	if m.Status != domain.MatchProposed || m.Version != 1 {
		t.Fatalf("unexpected proposed match %+v", m)
	}
	if m.TargetOwnerUserID != finderID {
		t.Fatalf("expected target owner %q, got %q", finderID, m.TargetOwnerUserID)
	}
	if len(f.notifier.events) != 0 {
		t.Fatalf("proposal must not notify, got %v", f.notifier.types())
	}

	if _, err := f.svc.ProposeMatch(context.Background(), "report-lost", "report-missing", claimantID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found for unknown report, got %v", err)
	}
	if _, err := f.svc.ProposeMatch(context.Background(), "report-lost", "report-lost", claimantID); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for same report, got %v", err)
	}
}

func TestGetMatchResolvesProposedOnce(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{})
	m := f.propose(t, "report-found")

	loaded, err := f.svc.GetMatch(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetMatch returned error: %v", err)
	}
	if loaded.Status != domain.MatchVerifyingOwnership || loaded.Version != 2 {
		t.Fatalf("expected verifying_ownership at version 2, got %s v%d", loaded.Status, loaded.Version)
	}
	if loaded.OwnershipVerification == nil || len(loaded.OwnershipVerification.Questions) != 2 {
		t.Fatalf("expected challenge created from report questions")
	}

	again, err := f.svc.GetMatch(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetMatch returned error: %v", err)
	}
	if again.Version != 2 {
		t.Fatalf("second load must not persist again, got version %d", again.Version)
	}
	if !reflect.DeepEqual(f.metrics.transitions, []string{"proposed->verifying_ownership"}) {
		t.Fatalf("unexpected transitions %v", f.metrics.transitions)
	}

	if _, err := f.svc.GetMatch(context.Background(), " "); !errors.Is(err, ErrMatchIDRequired) {
		t.Fatalf("expected ErrMatchIDRequired, got %v", err)
	}
}

// Claimant answers correctly, both sides complete the checklist, match is confirmed.
func TestWorkflowVerifiedHandoverConfirmed(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{})
	ctx := context.Background()
	m := f.propose(t, "report-found")

	q, err := f.svc.GetNextSecurityQuestion(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetNextSecurityQuestion returned error: %v", err)
	}
	if q.ID != "q1" {
		t.Fatalf("expected q1 first, got %s", q.ID)
	}

	if _, err := f.svc.ConfirmMatch(ctx, m.ID); !errors.Is(err, domain.ErrOwnershipUnverified) {
		t.Fatalf("expected ErrOwnershipUnverified before answering, got %v", err)
	}
	if _, err := f.svc.SetHandoverFlag(ctx, m.ID, claimantID, "identity_verified", true); !domain.IsPrecondition(err) {
		t.Fatalf("expected precondition error setting flag during verification, got %v", err)
	}

	outcome, err := f.svc.SubmitSecurityAnswer(ctx, m.ID, "q1", "  RED ")
	if err != nil {
		t.Fatalf("SubmitSecurityAnswer returned error: %v", err)
	}
	if !outcome.Correct || outcome.Status != domain.MatchAwaitingHandover || outcome.AttemptsRemaining != domain.MaxVerificationAttempts {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	if _, err := f.svc.ConfirmMatch(ctx, m.ID); !errors.Is(err, domain.ErrChecklistIncomplete) {
		t.Fatalf("expected ErrChecklistIncomplete, got %v", err)
	}

	f.completeChecklist(t, m.ID)

	confirmed, err := f.svc.ConfirmMatch(ctx, m.ID)
	if err != nil {
		t.Fatalf("ConfirmMatch returned error: %v", err)
	}
	if confirmed.Status != domain.MatchConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}
	if confirmed.HandoverDeadline == nil || !confirmed.HandoverDeadline.Equal(workflowNow.Add(domain.DefaultHandoverWindow)) {
		t.Fatalf("unexpected handover deadline %v", confirmed.HandoverDeadline)
	}

	want := []domain.MatchEventType{domain.EventVerified, domain.EventConfirmed}
	if got := f.notifier.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected notifications %v, got %v", want, got)
	}
	for _, event := range f.notifier.events {
		if event.EventID == "" {
			t.Fatalf("expected event id to be assigned")
		}
		if !reflect.DeepEqual(event.Recipients(), []string{claimantID, finderID}) {
			t.Fatalf("unexpected recipients %v", event.Recipients())
		}
	}
	if !reflect.DeepEqual(f.metrics.answers, []bool{true}) {
		t.Fatalf("unexpected answer metrics %v", f.metrics.answers)
	}

	if _, err := f.svc.RejectMatch(ctx, m.ID, "other", "", finderID); !errors.Is(err, domain.ErrMatchTerminal) {
		t.Fatalf("expected terminal error after confirm, got %v", err)
	}
	if _, err := f.svc.RejectMatch(ctx, m.ID, "bogus", strings.Repeat("x", 501), ""); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state for malformed rejection of confirmed match, got %v", err)
	}
	if f.locker.acquired != f.locker.released {
		t.Fatalf("lock leak: acquired %d released %d", f.locker.acquired, f.locker.released)
	}
}

// Three wrong answers dismiss the match without a rejection record.
func TestWorkflowVerificationFailureDismisses(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{})
	ctx := context.Background()
	m := f.propose(t, "report-found")

	wantQuestions := []string{"q1", "q2", "q1"}
	wantRemaining := []int{2, 1, 0}
	for i := range wantQuestions {
		q, err := f.svc.GetNextSecurityQuestion(ctx, m.ID)
		if err != nil {
			t.Fatalf("attempt %d: GetNextSecurityQuestion returned error: %v", i+1, err)
		}
		if q.ID != wantQuestions[i] {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, wantQuestions[i], q.ID)
		}
		outcome, err := f.svc.SubmitSecurityAnswer(ctx, m.ID, q.ID, "blue")
		if err != nil {
			t.Fatalf("attempt %d: SubmitSecurityAnswer returned error: %v", i+1, err)
		}
		if outcome.Correct || outcome.AttemptsRemaining != wantRemaining[i] {
			t.Fatalf("attempt %d: unexpected outcome %+v", i+1, outcome)
		}
	}

	stored := f.repo.stored(m.ID)
	if stored.Status != domain.MatchDismissed || stored.Dismissal == nil || stored.Rejection != nil {
		t.Fatalf("expected dismissed without rejection, got %s dismissal=%v rejection=%v", stored.Status, stored.Dismissal, stored.Rejection)
	}
	if got := f.notifier.types(); !reflect.DeepEqual(got, []domain.MatchEventType{domain.EventDismissedVerificationFailed}) {
		t.Fatalf("unexpected notifications %v", got)
	}

	dismissed, err := f.svc.DismissForVerificationFailure(ctx, m.ID)
	if err != nil {
		t.Fatalf("DismissForVerificationFailure returned error: %v", err)
	}
	if dismissed.Version != stored.Version {
		t.Fatalf("idempotent dismiss must not persist, version %d -> %d", stored.Version, dismissed.Version)
	}
	if len(f.notifier.events) != 1 {
		t.Fatalf("idempotent dismiss must not notify again")
	}

	if _, err := f.svc.SubmitSecurityAnswer(ctx, m.ID, "q1", "red"); !errors.Is(err, domain.ErrMatchTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if _, err := f.svc.GetNextSecurityQuestion(ctx, m.ID); !domain.IsInvalidState(err) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestWorkflowRejectMatch(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{})
	ctx := context.Background()
	m := f.propose(t, "report-open")

	if _, err := f.svc.RejectMatch(ctx, m.ID, "made_up", "", finderID); !errors.Is(err, domain.ErrUnknownReasonCode) {
		t.Fatalf("expected unknown reason code, got %v", err)
	}
	if stored := f.repo.stored(m.ID); stored.Status.IsTerminal() || stored.Rejection != nil {
		t.Fatalf("invalid rejection must not reject the match, got %s", stored.Status)
	}
	if len(f.notifier.events) != 0 {
		t.Fatalf("invalid rejection must not notify, got %v", f.notifier.types())
	}

	rejected, err := f.svc.RejectMatch(ctx, m.ID, "not_my_item", "different brand", finderID)
	if err != nil {
		t.Fatalf("RejectMatch returned error: %v", err)
	}
	if rejected.Status != domain.MatchRejected || rejected.Rejection == nil {
		t.Fatalf("expected rejected match with record, got %+v", rejected)
	}
	if rejected.Rejection.ReasonCode != domain.ReasonNotMyItem || rejected.Rejection.RejectedByUserID != finderID {
		t.Fatalf("unexpected rejection record %+v", rejected.Rejection)
	}

	notifications := f.notifier.events
	if len(notifications) != 1 || notifications[0].EventType != domain.EventRejected {
		t.Fatalf("unexpected notifications %v", f.notifier.types())
	}
	if notifications[0].RejectionReason == nil || *notifications[0].RejectionReason != domain.ReasonNotMyItem {
		t.Fatalf("expected rejection reason on notification")
	}

	if _, err := f.svc.ConfirmMatch(ctx, m.ID); !domain.IsInvalidState(err) {
		t.Fatalf("expected invalid state on confirm after reject, got %v", err)
	}
	if _, err := f.svc.DismissForVerificationFailure(ctx, m.ID); !domain.IsInvalidState(err) {
		t.Fatalf("expected invalid state on dismiss after reject, got %v", err)
	}
}

func TestWorkflowWithoutVerificationGoesStraightToHandover(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{HandoverWindow: 24 * time.Hour})
	ctx := context.Background()
	m := f.propose(t, "report-open")

	if _, err := f.svc.GetNextSecurityQuestion(ctx, m.ID); !errors.Is(err, domain.ErrNotVerifyingOwnership) {
		t.Fatalf("expected ErrNotVerifyingOwnership, got %v", err)
	}
	if _, err := f.svc.ConfirmMatch(ctx, m.ID); !errors.Is(err, domain.ErrChecklistIncomplete) {
		t.Fatalf("expected ErrChecklistIncomplete, got %v", err)
	}

	f.completeChecklist(t, m.ID)
	confirmed, err := f.svc.ConfirmMatch(ctx, m.ID)
	if err != nil {
		t.Fatalf("ConfirmMatch returned error: %v", err)
	}
	if !confirmed.HandoverDeadline.Equal(workflowNow.Add(24 * time.Hour)) {
		t.Fatalf("expected configured handover window, got %v", confirmed.HandoverDeadline)
	}
}

func TestWorkflowSetHandoverFlagNoopDoesNotPersist(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{})
	ctx := context.Background()
	m := f.propose(t, "report-open")

	state, err := f.svc.SetHandoverFlag(ctx, m.ID, claimantID, "conditionVerified", true)
	if err != nil {
		t.Fatalf("SetHandoverFlag returned error: %v", err)
	}
	if !state.ConditionVerified {
		t.Fatalf("expected condition flag set")
	}
	saves := f.repo.saveCalls

	if _, err := f.svc.SetHandoverFlag(ctx, m.ID, claimantID, "condition_verified", true); err != nil {
		t.Fatalf("SetHandoverFlag returned error: %v", err)
	}
	if f.repo.saveCalls != saves {
		t.Fatalf("unchanged flag must not persist, saves %d -> %d", saves, f.repo.saveCalls)
	}

	if _, err := f.svc.SetHandoverFlag(ctx, m.ID, claimantID, "keys_returned", true); !errors.Is(err, domain.ErrUnknownHandoverFlag) {
		t.Fatalf("expected ErrUnknownHandoverFlag, got %v", err)
	}
}

func TestWorkflowCrossPartyAttestation(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{AttestationMode: domain.AttestationCrossParty})
	ctx := context.Background()
	m := f.propose(t, "report-open")

	for _, flag := range domain.HandoverFlags() {
		state, err := f.svc.SetHandoverFlag(ctx, m.ID, claimantID, string(flag), true)
		if err != nil {
			t.Fatalf("claimant attest %s: %v", flag, err)
		}
		if state.Flag(flag) {
			t.Fatalf("flag %s must wait for the other party", flag)
		}
	}
	if _, err := f.svc.ConfirmMatch(ctx, m.ID); !errors.Is(err, domain.ErrChecklistIncomplete) {
		t.Fatalf("expected ErrChecklistIncomplete, got %v", err)
	}
	if _, err := f.svc.SetHandoverFlag(ctx, m.ID, "user-stranger", "identity_verified", true); !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}

	for _, flag := range domain.HandoverFlags() {
		if _, err := f.svc.SetHandoverFlag(ctx, m.ID, finderID, string(flag), true); err != nil {
			t.Fatalf("finder attest %s: %v", flag, err)
		}
	}
	if _, err := f.svc.ConfirmMatch(ctx, m.ID); err != nil {
		t.Fatalf("ConfirmMatch returned error: %v", err)
	}
}

func TestWorkflowAnswerValidation(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{})
	ctx := context.Background()
	m := f.propose(t, "report-found")

	if _, err := f.svc.GetNextSecurityQuestion(ctx, m.ID); err != nil {
		t.Fatalf("GetNextSecurityQuestion returned error: %v", err)
	}
	if _, err := f.svc.SubmitSecurityAnswer(ctx, m.ID, "q2", "for anna"); !errors.Is(err, domain.ErrQuestionNotPending) {
		t.Fatalf("expected ErrQuestionNotPending, got %v", err)
	}
	if _, err := f.svc.SubmitSecurityAnswer(ctx, m.ID, "q9", "red"); !errors.Is(err, domain.ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
	if _, err := f.svc.SubmitSecurityAnswer(ctx, m.ID, "q1", "   "); !errors.Is(err, domain.ErrEmptyAnswer) {
		t.Fatalf("expected ErrEmptyAnswer, got %v", err)
	}

	stored := f.repo.stored(m.ID)
	if stored.OwnershipVerification.AttemptsUsed != 0 {
		t.Fatalf("validation failures must not consume attempts, got %d", stored.OwnershipVerification.AttemptsUsed)
	}
	if len(f.metrics.answers) != 0 {
		t.Fatalf("refused answers must not be counted")
	}
}

func TestWorkflowLockContention(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{})
	ctx := context.Background()
	m := f.propose(t, "report-open")

	release, err := f.locker.Acquire(ctx, m.ID, time.Second)
	if err != nil {
		t.Fatalf("pre-acquire lock: %v", err)
	}

	_, err = f.svc.ConfirmMatch(ctx, m.ID)
	if !errors.Is(err, ErrMatchLocked) || !domain.IsConcurrencyConflict(err) {
		t.Fatalf("expected locked conflict, got %v", err)
	}
	if !reflect.DeepEqual(f.metrics.conflicts, []string{"confirm"}) {
		t.Fatalf("unexpected conflict metrics %v", f.metrics.conflicts)
	}
	if f.repo.saveCalls != 0 {
		t.Fatalf("locked operation must not write")
	}

	_ = release(ctx)
	if _, err := f.svc.SetHandoverFlag(ctx, m.ID, claimantID, "identity_verified", true); err != nil {
		t.Fatalf("expected success after release, got %v", err)
	}
}

func TestWorkflowStaleVersionDoesNotNotify(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{})
	ctx := context.Background()
	m := f.propose(t, "report-open")
	if _, err := f.svc.GetMatch(ctx, m.ID); err != nil {
		t.Fatalf("GetMatch returned error: %v", err)
	}

	f.repo.bumpBeforeSave = true
	_, err := f.svc.RejectMatch(ctx, m.ID, "other", "", finderID)
	if !domain.IsConcurrencyConflict(err) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if len(f.notifier.events) != 0 {
		t.Fatalf("failed save must not notify, got %v", f.notifier.types())
	}
	if f.repo.stored(m.ID).Status != domain.MatchAwaitingHandover {
		t.Fatalf("stale write must leave the stored match untouched")
	}
	if !reflect.DeepEqual(f.metrics.conflicts, []string{"reject"}) {
		t.Fatalf("unexpected conflict metrics %v", f.metrics.conflicts)
	}
}

func TestWorkflowLockUnavailableFollowsDegradationPolicy(t *testing.T) {
	lenient := newWorkflowFixture(t, MatchWorkflowOptions{})
	lenient.locker.err = errBackendDown
	m := lenient.propose(t, "report-open")
	if _, err := lenient.svc.SetHandoverFlag(context.Background(), m.ID, claimantID, "identity_verified", true); err != nil {
		t.Fatalf("lenient policy should proceed without lock, got %v", err)
	}

	strict := newWorkflowFixture(t, MatchWorkflowOptions{DegradationPolicy: domain.NewDegradationPolicy(domain.DegradationPolicyModeStrict)})
	strict.locker.err = errBackendDown
	m = strict.propose(t, "report-open")
	if _, err := strict.svc.SetHandoverFlag(context.Background(), m.ID, claimantID, "identity_verified", true); !errors.Is(err, errBackendDown) {
		t.Fatalf("strict policy should fail, got %v", err)
	}
}

func TestWorkflowNotificationFailureIsNotFatal(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{})
	f.notifier.err = errBackendDown
	m := f.propose(t, "report-open")

	rejected, err := f.svc.RejectMatch(context.Background(), m.ID, "already_found", "", claimantID)
	if err != nil {
		t.Fatalf("notification failure must not fail the operation, got %v", err)
	}
	if rejected.Status != domain.MatchRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if !reflect.DeepEqual(f.metrics.notificationFailures, []domain.MatchEventType{domain.EventRejected}) {
		t.Fatalf("unexpected notification failure metrics %v", f.metrics.notificationFailures)
	}
}

func TestListMatchesByReport(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{})
	f.propose(t, "report-open")
	f.propose(t, "report-found")

	matches, err := f.svc.ListMatchesByReport(context.Background(), "report-lost")
	if err != nil {
		t.Fatalf("ListMatchesByReport returned error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if _, err := f.svc.ListMatchesByReport(context.Background(), ""); !errors.Is(err, ErrReportIDRequired) {
		t.Fatalf("expected ErrReportIDRequired, got %v", err)
	}
}

func failVerification(t *testing.T, f *workflowFixture, matchID string) error {
	t.Helper()
	ctx := context.Background()
	var err error
	for i := 0; i < domain.MaxVerificationAttempts; i++ {
		q, qErr := f.svc.GetNextSecurityQuestion(ctx, matchID)
		if qErr != nil {
			t.Fatalf("attempt %d: GetNextSecurityQuestion returned error: %v", i+1, qErr)
		}
		if _, err = f.svc.SubmitSecurityAnswer(ctx, matchID, q.ID, "blue"); err != nil {
			return err
		}
	}
	return nil
}

func TestWorkflowOutboxWriterQueuesWithTransition(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{})
	writer := &fakeOutboxWriter{repo: f.repo}
	f.svc.WithOutboxWriter(writer)
	m := f.propose(t, "report-found")

	if err := failVerification(t, f, m.ID); err != nil {
		t.Fatalf("SubmitSecurityAnswer returned error: %v", err)
	}

	if stored := f.repo.stored(m.ID); stored.Status != domain.MatchDismissed {
		t.Fatalf("expected dismissed match, got %s", stored.Status)
	}
	if len(writer.queued) != 1 || writer.queued[0].EventType != domain.EventDismissedVerificationFailed {
		t.Fatalf("expected dismissal queued with the transition, got %v", writer.queued)
	}
	if writer.queued[0].EventID == "" {
		t.Fatalf("expected queued event id")
	}
	if len(f.notifier.events) != 0 {
		t.Fatalf("outbox mode must leave delivery to the relay, got %v", f.notifier.types())
	}
}

func TestWorkflowOutboxFailureKeepsTransitionUncommitted(t *testing.T) {
	f := newWorkflowFixture(t, MatchWorkflowOptions{})
	m := f.propose(t, "report-found")
	if _, err := f.svc.GetMatch(context.Background(), m.ID); err != nil {
		t.Fatalf("GetMatch returned error: %v", err)
	}

	f.svc.WithOutboxWriter(&fakeOutboxWriter{repo: f.repo, enqueueErr: errors.New("outbox unavailable")})
	if err := failVerification(t, f, m.ID); err == nil {
		t.Fatalf("expected outbox failure to surface")
	}

	stored := f.repo.stored(m.ID)
	if stored.Status != domain.MatchVerifyingOwnership || stored.Dismissal != nil {
		t.Fatalf("dismissal must not commit without its notification, got %s", stored.Status)
	}
	if got := stored.OwnershipVerification.AttemptsUsed; got != domain.MaxVerificationAttempts-1 {
		t.Fatalf("expected the final attempt to roll back, got %d attempts", got)
	}
	if len(f.notifier.events) != 0 {
		t.Fatalf("failed transition must not notify, got %v", f.notifier.types())
	}
}
