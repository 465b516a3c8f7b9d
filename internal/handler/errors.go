package handler

import (
	"errors"
	"net/http"

	"github.com/stemsi/exstem-guard/internal/guard"
	"github.com/stemsi/exstem-guard/internal/response"
	"github.com/stemsi/exstem-guard/internal/service"
)

// submitError maps a submission pipeline error to its HTTP status and code.
// Anything unrecognized is an internal error.
func submitError(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, guard.ErrExamNotFoundOrUnpublished):
		return http.StatusNotFound, response.ErrExamNotAvailable
	case errors.Is(err, guard.ErrNotStarted):
		return http.StatusForbidden, response.ErrExamNotStarted
	case errors.Is(err, guard.ErrEnded):
		return http.StatusForbidden, response.ErrExamEnded
	case errors.Is(err, guard.ErrAttemptLimitExceeded):
		return http.StatusForbidden, response.ErrAttemptsExhausted
	case errors.Is(err, service.ErrPersistenceConflict):
		return http.StatusConflict, response.ErrSubmissionConflict
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, service.ErrSessionClosed):
		return http.StatusConflict, response.ErrSessionTerminated
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
