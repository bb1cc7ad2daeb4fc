// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/ledger/internal/accounting/shared"
)

// ErrForbidden marks requests rejected by the actor guard.
var ErrForbidden = errors.New("forbidden")

// Status maps a ledger error kind to its HTTP status and problem title.
func Status(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrDuplicateCode),
		errors.Is(err, shared.ErrDuplicatePeriod),
		errors.Is(err, shared.ErrDuplicateSource),
		errors.Is(err, shared.ErrAlreadyClosed),
		errors.Is(err, shared.ErrInvalidStatus):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, shared.ErrInvalidHierarchy),
		errors.Is(err, shared.ErrAccountNotPostable),
		errors.Is(err, shared.ErrPeriodClosed),
		errors.Is(err, shared.ErrUnbalanced),
		errors.Is(err, shared.ErrOverpayment):
		return http.StatusUnprocessableEntity, "Unprocessable Entity"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status, title := Status(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = ""
	}
	problem := ProblemDetail{Type: problemType(err), Title: title, Status: status, Detail: detail}
	var dup *shared.DuplicateSourceError
	if errors.As(err, &dup) {
		problem.EntryID = dup.EntryID
	}
	JSON(w, status, problem)
}

func problemType(err error) string {
	kinds := []struct {
		err  error
		name string
	}{
		{shared.ErrValidation, "validation"},
		{shared.ErrNotFound, "not-found"},
		{shared.ErrInvalidHierarchy, "invalid-hierarchy"},
		{shared.ErrDuplicateCode, "duplicate-code"},
		{shared.ErrAccountNotPostable, "account-not-postable"},
		{shared.ErrPeriodClosed, "period-closed"},
		{shared.ErrDuplicatePeriod, "duplicate-period"},
		{shared.ErrAlreadyClosed, "already-closed"},
		{shared.ErrUnbalanced, "unbalanced-entry"},
		{shared.ErrDuplicateSource, "duplicate-source"},
		{shared.ErrOverpayment, "overpayment"},
		{shared.ErrInvalidStatus, "invalid-status"},
	}
	for _, kind := range kinds {
		if errors.Is(err, kind.err) {
			return "/problems/" + kind.name
		}
	}
	return ""
}
