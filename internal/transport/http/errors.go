package http

import (
	"net/http"

	"github.com/pkg/errors"

	"quiz-attempt-service/internal/domain"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps domain errors onto HTTP statuses and stable error codes.
func statusFor(err error) (int, string) {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAttemptAlreadyActive):
		return http.StatusConflict, "attempt_already_active"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrUnknownQuestion):
		return http.StatusBadRequest, "unknown_question"
	case errors.Is(err, domain.ErrInvalidOptionIndex):
		return http.StatusBadRequest, "invalid_option_index"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, domain.ErrInvalidQuiz):
		return http.StatusUnprocessableEntity, "invalid_quiz"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func toErrorResponse(err error) (int, errorResponse) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	return status, errorResponse{Error: code, Message: msg}
}
