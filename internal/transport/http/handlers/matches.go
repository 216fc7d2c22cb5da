package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/transport/http/middleware"
	"github.com/Ozonelabrada/resqhub-sub000/internal/usecase"
)

// MatchWorkflow is the subset of the workflow service the handlers drive.
type MatchWorkflow interface {
	ProposeMatch(ctx context.Context, sourceReportID, targetReportID, initiatorUserID string) (*domain.MatchRequest, error)
	GetMatch(ctx context.Context, matchID string) (*domain.MatchRequest, error)
	ListMatchesByReport(ctx context.Context, reportID string) ([]domain.MatchRequest, error)
	GetNextSecurityQuestion(ctx context.Context, matchID string) (domain.Question, error)
	SubmitSecurityAnswer(ctx context.Context, matchID, questionID, answer string) (usecase.AnswerOutcome, error)
	SetHandoverFlag(ctx context.Context, matchID, actingUserID, flagName string, value bool) (domain.HandoverChecklistState, error)
	ConfirmMatch(ctx context.Context, matchID string) (*domain.MatchRequest, error)
	RejectMatch(ctx context.Context, matchID, reasonCode, detailText, actingUserID string) (*domain.MatchRequest, error)
	DismissForVerificationFailure(ctx context.Context, matchID string) (*domain.MatchRequest, error)
}

// MatchHandler exposes the match workflow over REST.
type MatchHandler struct {
	workflow MatchWorkflow
}

func NewMatchHandler(workflow MatchWorkflow) *MatchHandler {
	return &MatchHandler{workflow: workflow}
}

// ProposeMatch opens a match between two reports on behalf of the caller.
func (h *MatchHandler) ProposeMatch(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid authentication"))
		return
	}

	var req ProposeMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid match payload"))
		return
	}

	match, err := h.workflow.ProposeMatch(c.Request.Context(), strings.TrimSpace(req.SourceReportID), strings.TrimSpace(req.TargetReportID), userID)
	if err != nil {
		respondWorkflowError(c, err, "failed to propose match")
		return
	}

	c.JSON(http.StatusCreated, newMatchResponse(*match))
}

// GetMatch returns a match, resolving its verification requirement on first read.
func (h *MatchHandler) GetMatch(c *gin.Context) {
	match, err := h.workflow.GetMatch(c.Request.Context(), c.Param("match_id"))
	if err != nil {
		respondWorkflowError(c, err, "failed to load match")
		return
	}

	c.JSON(http.StatusOK, newMatchResponse(*match))
}

// ListReportMatches lists matches that reference the report on either side.
func (h *MatchHandler) ListReportMatches(c *gin.Context) {
	matches, err := h.workflow.ListMatchesByReport(c.Request.Context(), c.Param("report_id"))
	if err != nil {
		respondWorkflowError(c, err, "failed to list matches")
		return
	}

	resp := MatchListResponse{Matches: make([]MatchResponse, 0, len(matches))}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, newMatchResponse(m))
	}
	c.JSON(http.StatusOK, resp)
}

// NextQuestion returns the pending security question.
func (h *MatchHandler) NextQuestion(c *gin.Context) {
	question, err := h.workflow.GetNextSecurityQuestion(c.Request.Context(), c.Param("match_id"))
	if err != nil {
		respondWorkflowError(c, err, "failed to load security question")
		return
	}

	c.JSON(http.StatusOK, QuestionResponse{QuestionID: question.ID, Text: question.Text})
}

// SubmitAnswer checks an answer to the pending question.
func (h *MatchHandler) SubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid answer payload"))
		return
	}

	outcome, err := h.workflow.SubmitSecurityAnswer(c.Request.Context(), c.Param("match_id"), req.QuestionID, req.Answer)
	if err != nil {
		respondWorkflowError(c, err, "failed to submit answer")
		return
	}

	c.JSON(http.StatusOK, AnswerResponse{
		Correct:           outcome.Correct,
		AttemptsRemaining: outcome.AttemptsRemaining,
		Status:            outcome.Status,
	})
}

// SetHandoverFlag sets or clears one handover checklist flag.
func (h *MatchHandler) SetHandoverFlag(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid authentication"))
		return
	}

	var req SetHandoverFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid handover payload"))
		return
	}

	state, err := h.workflow.SetHandoverFlag(c.Request.Context(), c.Param("match_id"), userID, c.Param("flag"), *req.Value)
	if err != nil {
		respondWorkflowError(c, err, "failed to update handover checklist")
		return
	}

	c.JSON(http.StatusOK, newChecklistPayload(state))
}

// ConfirmMatch confirms a match whose checklist is complete.
func (h *MatchHandler) ConfirmMatch(c *gin.Context) {
	match, err := h.workflow.ConfirmMatch(c.Request.Context(), c.Param("match_id"))
	if err != nil {
		respondWorkflowError(c, err, "failed to confirm match")
		return
	}

	c.JSON(http.StatusOK, newMatchResponse(*match))
}

// RejectMatch declines a match with a reason code.
func (h *MatchHandler) RejectMatch(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid authentication"))
		return
	}

	var req RejectMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid rejection payload"))
		return
	}

	match, err := h.workflow.RejectMatch(c.Request.Context(), c.Param("match_id"), strings.TrimSpace(req.ReasonCode), req.DetailText, userID)
	if err != nil {
		respondWorkflowError(c, err, "failed to reject match")
		return
	}

	c.JSON(http.StatusOK, newMatchResponse(*match))
}

// DismissMatch dismisses a match after failed ownership verification.
func (h *MatchHandler) DismissMatch(c *gin.Context) {
	match, err := h.workflow.DismissForVerificationFailure(c.Request.Context(), c.Param("match_id"))
	if err != nil {
		respondWorkflowError(c, err, "failed to dismiss match")
		return
	}

	c.JSON(http.StatusOK, newMatchResponse(*match))
}
