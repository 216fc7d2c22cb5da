package domain

import (
	"strings"
	"time"
)

// MatchStatus is the workflow state of a match.
type MatchStatus string

const (
	MatchProposed           MatchStatus = "proposed"
	MatchVerifyingOwnership MatchStatus = "verifying_ownership"
	MatchAwaitingHandover   MatchStatus = "awaiting_handover"
	MatchConfirmed          MatchStatus = "confirmed"
	MatchRejected           MatchStatus = "rejected"
	MatchDismissed          MatchStatus = "dismissed"
)

// IsTerminal reports whether no further transition is permitted.
func (s MatchStatus) IsTerminal() bool {
	switch s {
	case MatchConfirmed, MatchRejected, MatchDismissed:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s MatchStatus) Valid() bool {
	switch s {
	case MatchProposed, MatchVerifyingOwnership, MatchAwaitingHandover, MatchConfirmed, MatchRejected, MatchDismissed:
		return true
	}
	return false
}

// DefaultHandoverWindow is how long the parties have to exchange the item after confirmation.
const DefaultHandoverWindow = 48 * time.Hour

// MatchRequest is a proposed pairing between a lost report and a found report.
// All mutations go through the methods below; each validates before touching state,
// so a returned error leaves the match unchanged.
type MatchRequest struct {
	ID                    string
	SourceReportID        string
	TargetReportID        string
	Status                MatchStatus
	InitiatedByUserID     string
	TargetOwnerUserID     string
	OwnershipVerification *OwnershipChallengeState
	HandoverChecklist     HandoverChecklistState
	Rejection             *RejectionRecord
	Dismissal             *Dismissal
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
	ConfirmedAt           *time.Time
	HandoverDeadline      *time.Time
}

// NewMatchRequest builds a match in the proposed state.
func NewMatchRequest(id, sourceReportID, targetReportID, initiatorUserID, targetOwnerUserID string, mode AttestationMode, now time.Time) (MatchRequest, error) {
	sourceReportID = strings.TrimSpace(sourceReportID)
	targetReportID = strings.TrimSpace(targetReportID)
	if sourceReportID == "" || targetReportID == "" {
		return MatchRequest{}, ErrMissingReportReference
	}
	if sourceReportID == targetReportID {
		return MatchRequest{}, ErrSameReport
	}
	if strings.TrimSpace(initiatorUserID) == "" {
		return MatchRequest{}, ErrMissingActor
	}

	now = now.UTC()
	return MatchRequest{
		ID:                id,
		SourceReportID:    sourceReportID,
		TargetReportID:    targetReportID,
		Status:            MatchProposed,
		InitiatedByUserID: initiatorUserID,
		TargetOwnerUserID: targetOwnerUserID,
		HandoverChecklist: NewHandoverChecklist(mode),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// PartyOf maps a user to their side of the match.
func (m MatchRequest) PartyOf(userID string) (Party, bool) {
	switch {
	case userID == "":
		return "", false
	case userID == m.InitiatedByUserID:
		return PartyInitiator, true
	case userID == m.TargetOwnerUserID:
		return PartyTargetOwner, true
	}
	return "", false
}

// Resolve applies the implicit load transition out of proposed. It reports whether state changed.
func (m *MatchRequest) Resolve(target Report, now time.Time) bool {
	if m.Status != MatchProposed {
		return false
	}
	if target.RequiresOwnershipVerification() {
		challenge := NewOwnershipChallenge(target.SecurityQuestions)
		m.OwnershipVerification = &challenge
		m.Status = MatchVerifyingOwnership
	} else {
		m.Status = MatchAwaitingHandover
	}
	if m.TargetOwnerUserID == "" {
		m.TargetOwnerUserID = target.OwnerUserID
	}
	m.UpdatedAt = now.UTC()
	return true
}

// NextQuestion presents the next security question to the claimant.
func (m *MatchRequest) NextQuestion(now time.Time) (Question, error) {
	if m.Status.IsTerminal() {
		return Question{}, ErrMatchTerminal
	}
	if m.Status != MatchVerifyingOwnership || m.OwnershipVerification == nil {
		return Question{}, ErrNotVerifyingOwnership
	}

	before := m.OwnershipVerification.PendingQuestionID
	q, err := m.OwnershipVerification.NextQuestion()
	if err != nil {
		return Question{}, err
	}
	if before != m.OwnershipVerification.PendingQuestionID {
		m.UpdatedAt = now.UTC()
	}
	return q, nil
}

// SubmitAnswer feeds an answer to the challenge and applies the resulting transition:
// verified moves to awaiting_handover, failed dismisses the match.
func (m *MatchRequest) SubmitAnswer(questionID, answer string, now time.Time) (AnswerResult, []MatchNotification, error) {
	if m.Status.IsTerminal() {
		return AnswerResult{}, nil, ErrMatchTerminal
	}
	if m.Status != MatchVerifyingOwnership || m.OwnershipVerification == nil {
		return AnswerResult{}, nil, ErrNotVerifyingOwnership
	}

	challenge := m.OwnershipVerification.Clone()
	result, err := challenge.SubmitAnswer(questionID, answer)
	if err != nil {
		return AnswerResult{}, nil, err
	}

	now = now.UTC()
	m.OwnershipVerification = &challenge
	m.UpdatedAt = now

	switch {
	case challenge.Verified:
		m.Status = MatchAwaitingHandover
		return result, []MatchNotification{m.notification(EventVerified, now)}, nil
	case challenge.Failed:
		m.dismiss(now)
		return result, []MatchNotification{m.notification(EventDismissedVerificationFailed, now)}, nil
	}
	return result, nil, nil
}

// SetHandoverFlag updates one checklist flag on behalf of actingUserID.
// In cross-party mode the flag only turns true once both parties attested it.
func (m *MatchRequest) SetHandoverFlag(actingUserID string, flag HandoverFlag, value bool, now time.Time) (HandoverChecklistState, error) {
	if m.Status.IsTerminal() {
		return HandoverChecklistState{}, ErrMatchTerminal
	}
	if m.Status != MatchAwaitingHandover {
		return HandoverChecklistState{}, ErrOwnershipPending
	}
	if _, err := ParseHandoverFlag(string(flag)); err != nil {
		return HandoverChecklistState{}, err
	}

	next := m.HandoverChecklist
	if m.HandoverChecklist.Mode == AttestationCrossParty {
		party, ok := m.PartyOf(actingUserID)
		if !ok {
			return HandoverChecklistState{}, ErrNotParticipant
		}
		next = next.Attest(party, flag, value)
	} else {
		next = next.SetFlag(flag, value)
	}

	if next.Equal(m.HandoverChecklist) {
		return next, nil
	}
	m.HandoverChecklist = next
	m.UpdatedAt = now.UTC()
	return next, nil
}

// Confirm finalises the match once ownership and the checklist allow it.
func (m *MatchRequest) Confirm(now time.Time, handoverWindow time.Duration) ([]MatchNotification, error) {
	if m.Status.IsTerminal() {
		return nil, ErrMatchTerminal
	}
	if m.OwnershipVerification != nil && !m.OwnershipVerification.Verified {
		return nil, ErrOwnershipUnverified
	}
	if m.Status != MatchAwaitingHandover {
		return nil, ErrOwnershipPending
	}
	if !m.HandoverChecklist.IsComplete() {
		return nil, ErrChecklistIncomplete
	}
	if handoverWindow <= 0 {
		handoverWindow = DefaultHandoverWindow
	}

	now = now.UTC()
	deadline := now.Add(handoverWindow)
	m.Status = MatchConfirmed
	m.ConfirmedAt = &now
	m.HandoverDeadline = &deadline
	m.UpdatedAt = now
	return []MatchNotification{m.notification(EventConfirmed, now)}, nil
}

// Reject declines the match with a structured reason. The record and the status change together.
func (m *MatchRequest) Reject(reasonCode, detailText, actingUserID string, now time.Time) ([]MatchNotification, error) {
	if m.Status.IsTerminal() {
		return nil, ErrMatchTerminal
	}
	record, err := NewRejectionRecord(reasonCode, detailText, actingUserID, now)
	if err != nil {
		return nil, err
	}

	m.Status = MatchRejected
	m.Rejection = &record
	m.UpdatedAt = record.RejectedAt
	return []MatchNotification{m.notification(EventRejected, record.RejectedAt)}, nil
}

// DismissForVerificationFailure terminates a match whose challenge failed.
// Re-invoking it on a dismissed match is a no-op and reports changed=false.
func (m *MatchRequest) DismissForVerificationFailure(now time.Time) (bool, []MatchNotification, error) {
	if m.Status == MatchDismissed {
		return false, nil, nil
	}
	if m.Status.IsTerminal() {
		return false, nil, ErrMatchTerminal
	}
	if m.OwnershipVerification == nil || !m.OwnershipVerification.Failed {
		return false, nil, ErrVerificationNotExceeded
	}

	now = now.UTC()
	m.dismiss(now)
	return true, []MatchNotification{m.notification(EventDismissedVerificationFailed, now)}, nil
}

func (m *MatchRequest) dismiss(at time.Time) {
	m.Status = MatchDismissed
	m.Dismissal = &Dismissal{Reason: DismissalVerificationFailed, DismissedAt: at}
	m.UpdatedAt = at
}

// Clone returns a deep copy so callers can decide on a scratch value.
func (m MatchRequest) Clone() MatchRequest {
	out := m
	if m.OwnershipVerification != nil {
		c := m.OwnershipVerification.Clone()
		out.OwnershipVerification = &c
	}
	out.HandoverChecklist = m.HandoverChecklist.clone()
	if m.Rejection != nil {
		r := *m.Rejection
		out.Rejection = &r
	}
	if m.Dismissal != nil {
		d := *m.Dismissal
		out.Dismissal = &d
	}
	if m.ConfirmedAt != nil {
		t := *m.ConfirmedAt
		out.ConfirmedAt = &t
	}
	if m.HandoverDeadline != nil {
		t := *m.HandoverDeadline
		out.HandoverDeadline = &t
	}
	return out
}
