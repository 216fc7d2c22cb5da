package domain

import "time"

// MatchEventType names a workflow transition that parties are notified about.
type MatchEventType string

const (
	EventVerified                    MatchEventType = "verified"
	EventDismissedVerificationFailed MatchEventType = "dismissed_verification_failed"
	EventRejected                    MatchEventType = "rejected"
	EventConfirmed                   MatchEventType = "confirmed"
)

// Valid reports whether t is a known event type.
func (t MatchEventType) Valid() bool {
	switch t {
	case EventVerified, EventDismissedVerificationFailed, EventRejected, EventConfirmed:
		return true
	}
	return false
}

// MatchNotification is the payload handed to NotifyParties after a transition is persisted.
// EventID is assigned by the workflow service.
type MatchNotification struct {
	EventID           string
	MatchID           string
	EventType         MatchEventType
	Status            MatchStatus
	SourceReportID    string
	TargetReportID    string
	InitiatedByUserID string
	TargetOwnerUserID string
	OccurredAt        time.Time
	HandoverDeadline  *time.Time
	RejectionReason   *RejectionReasonCode
	Metadata          map[string]any
}

// Recipients returns the distinct user ids to notify.
func (n MatchNotification) Recipients() []string {
	out := make([]string, 0, 2)
	if n.InitiatedByUserID != "" {
		out = append(out, n.InitiatedByUserID)
	}
	if n.TargetOwnerUserID != "" && n.TargetOwnerUserID != n.InitiatedByUserID {
		out = append(out, n.TargetOwnerUserID)
	}
	return out
}

func (m MatchRequest) notification(eventType MatchEventType, at time.Time) MatchNotification {
	n := MatchNotification{
		MatchID:           m.ID,
		EventType:         eventType,
		Status:            m.Status,
		SourceReportID:    m.SourceReportID,
		TargetReportID:    m.TargetReportID,
		InitiatedByUserID: m.InitiatedByUserID,
		TargetOwnerUserID: m.TargetOwnerUserID,
		OccurredAt:        at,
	}
	if m.HandoverDeadline != nil {
		deadline := *m.HandoverDeadline
		n.HandoverDeadline = &deadline
	}
	if m.Rejection != nil {
		code := m.Rejection.ReasonCode
		n.RejectionReason = &code
	}
	return n
}

// CandidateMatchEvent is consumed from the matching engine when it finds a plausible pair of reports.
type CandidateMatchEvent struct {
	EventID        string
	SourceReportID string
	TargetReportID string
	ProposedBy     string
	Score          float64
	ProposedAt     time.Time
}
