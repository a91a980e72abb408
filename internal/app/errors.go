package app

import (
	"fmt"
	"net/http"
)

// DomainError is an error with a fixed HTTP rendering: Status is the
// response code and Code the machine-readable "code" field of the body.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errRevisionNotFound(hash string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", "Revision not found", map[string]any{"hash": hash})
}

var errHistoryDisabled = domainError(http.StatusNotFound, "HISTORY_DISABLED", "History is not enabled", nil)
