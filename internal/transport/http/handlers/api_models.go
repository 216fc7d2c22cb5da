package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// HealthResponse describes the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse lists the state of each dependency.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ProposeMatchRequest is the payload for creating a match.
type ProposeMatchRequest struct {
	SourceReportID string `json:"source_report_id" binding:"required"`
	TargetReportID string `json:"target_report_id" binding:"required"`
}

// SubmitAnswerRequest carries the claimant's answer to the presented question.
type SubmitAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
	Answer     string `json:"answer"`
}

// SetHandoverFlagRequest sets or clears one checklist flag.
type SetHandoverFlagRequest struct {
	Value *bool `json:"value" binding:"required"`
}

// RejectMatchRequest carries the structured rejection feedback.
type RejectMatchRequest struct {
	ReasonCode string `json:"reason_code" binding:"required"`
	DetailText string `json:"detail_text"`
}

// QuestionResponse is the claimant-facing security question.
type QuestionResponse struct {
	QuestionID string `json:"question_id"`
	Text       string `json:"text"`
}

// AnswerResponse reports the outcome of one answer.
type AnswerResponse struct {
	Correct           bool               `json:"correct"`
	AttemptsRemaining int                `json:"attempts_remaining"`
	Status            domain.MatchStatus `json:"status"`
}

// HandoverChecklistPayload mirrors the checklist flags.
type HandoverChecklistPayload struct {
	Mode                 domain.AttestationMode `json:"mode"`
	IdentityVerified     bool                   `json:"identity_verified"`
	HandoverMethodAgreed bool                   `json:"handover_method_agreed"`
	ConditionVerified    bool                   `json:"condition_verified"`
	Attestations         []domain.Attestation   `json:"attestations,omitempty"`
	Complete             bool                   `json:"complete"`
}

// OwnershipVerificationPayload summarizes the challenge without exposing answers.
type OwnershipVerificationPayload struct {
	Phase             domain.ChallengePhase `json:"phase"`
	QuestionCount     int                   `json:"question_count"`
	AttemptsUsed      int                   `json:"attempts_used"`
	AttemptsRemaining int                   `json:"attempts_remaining"`
}

// RejectionPayload is the rejection feedback of a rejected match.
type RejectionPayload struct {
	ReasonCode       domain.RejectionReasonCode `json:"reason_code"`
	DetailText       string                     `json:"detail_text,omitempty"`
	RejectedByUserID string                     `json:"rejected_by_user_id"`
	RejectedAt       time.Time                  `json:"rejected_at"`
}

// DismissalPayload is the system reason of a dismissed match.
type DismissalPayload struct {
	Reason      domain.DismissalReason `json:"reason"`
	DismissedAt time.Time              `json:"dismissed_at"`
}

// MatchResponse is the API view of a match request.
type MatchResponse struct {
	ID                    string                        `json:"id"`
	SourceReportID        string                        `json:"source_report_id"`
	TargetReportID        string                        `json:"target_report_id"`
	Status                domain.MatchStatus            `json:"status"`
	InitiatedByUserID     string                        `json:"initiated_by_user_id"`
	TargetOwnerUserID     string                        `json:"target_owner_user_id,omitempty"`
	OwnershipVerification *OwnershipVerificationPayload `json:"ownership_verification,omitempty"`
	HandoverChecklist     HandoverChecklistPayload      `json:"handover_checklist"`
	Rejection             *RejectionPayload             `json:"rejection,omitempty"`
	Dismissal             *DismissalPayload             `json:"dismissal,omitempty"`
	Version               int64                         `json:"version"`
	CreatedAt             time.Time                     `json:"created_at"`
	UpdatedAt             time.Time                     `json:"updated_at"`
	ConfirmedAt           *time.Time                    `json:"confirmed_at,omitempty"`
	HandoverDeadline      *time.Time                    `json:"handover_deadline,omitempty"`
}

// MatchListResponse wraps the matches of a report.
type MatchListResponse struct {
	Matches []MatchResponse `json:"matches"`
}

func newChecklistPayload(state domain.HandoverChecklistState) HandoverChecklistPayload {
	return HandoverChecklistPayload{
		Mode:                 state.Mode,
		IdentityVerified:     state.IdentityVerified,
		HandoverMethodAgreed: state.HandoverMethodAgreed,
		ConditionVerified:    state.ConditionVerified,
		Attestations:         state.Attestations,
		Complete:             state.IsComplete(),
	}
}

func newMatchResponse(m domain.MatchRequest) MatchResponse {
	resp := MatchResponse{
		ID:                m.ID,
		SourceReportID:    m.SourceReportID,
		TargetReportID:    m.TargetReportID,
		Status:            m.Status,
		InitiatedByUserID: m.InitiatedByUserID,
		TargetOwnerUserID: m.TargetOwnerUserID,
		HandoverChecklist: newChecklistPayload(m.HandoverChecklist),
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
		ConfirmedAt:       m.ConfirmedAt,
		HandoverDeadline:  m.HandoverDeadline,
	}

	if v := m.OwnershipVerification; v != nil {
		resp.OwnershipVerification = &OwnershipVerificationPayload{
			Phase:             v.Phase(),
			QuestionCount:     len(v.Questions),
			AttemptsUsed:      v.AttemptsUsed,
			AttemptsRemaining: v.AttemptsRemaining(),
		}
	}
	if r := m.Rejection; r != nil {
		resp.Rejection = &RejectionPayload{
			ReasonCode:       r.ReasonCode,
			DetailText:       r.DetailText,
			RejectedByUserID: r.RejectedByUserID,
			RejectedAt:       r.RejectedAt,
		}
	}
	if d := m.Dismissal; d != nil {
		resp.Dismissal = &DismissalPayload{Reason: d.Reason, DismissedAt: d.DismissedAt}
	}
	return resp
}
