package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ozonelabrada/resqhub-sub000/internal/core/domain"
	"github.com/Ozonelabrada/resqhub-sub000/internal/repository"
	"github.com/Ozonelabrada/resqhub-sub000/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
// An empty Message echoes the error text.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			msg := cs.Message
			if msg == "" {
				msg = err.Error()
			}
			c.JSON(cs.Status, NewErrorResponse(c, msg))
			return
		}
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// workflowErrorCases is ordered most specific first: a lock conflict and a stale write are
// both concurrency conflicts but carry different messages.
var workflowErrorCases = []ErrorCase{
	{Err: repository.ErrNotFound, Status: http.StatusNotFound, Message: "not found"},
	{Err: repository.ErrDuplicate, Status: http.StatusConflict, Message: "match already exists for these reports"},
	{Err: usecase.ErrMatchLocked, Status: http.StatusConflict, Message: "match is being updated by another request, retry shortly"},
	{Err: domain.ErrConcurrencyConflict, Status: http.StatusConflict, Message: "match was modified concurrently, reload and retry"},
	{Err: domain.ErrValidation, Status: http.StatusBadRequest},
	{Err: domain.ErrInvalidState, Status: http.StatusConflict},
	{Err: domain.ErrPrecondition, Status: http.StatusPreconditionFailed},
}

func respondWorkflowError(c *gin.Context, err error, fallbackMessage string) {
	RespondWithMappedError(c, err, workflowErrorCases, http.StatusInternalServerError, fallbackMessage)
}
