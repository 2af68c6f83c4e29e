package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to callers.
const (
	CodeValidation             = "VALIDATION_FAILED"
	CodeNotFound               = "NOT_FOUND"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeInternal               = "INTERNAL_ERROR"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeConflictState          = "CONFLICT_STATE"
	CodeDuplicateActiveSession = "DUPLICATE_ACTIVE_SESSION"
	CodeAlreadyAssigned        = "ALREADY_ASSIGNED"
	CodeNoOperatorAvailable    = "NO_OPERATOR_AVAILABLE"
	CodeSessionNotFound        = "SESSION_NOT_FOUND"
	CodeDependencyTimeout      = "DEPENDENCY_TIMEOUT"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches on code so callers can test with errors.Is against the sentinel values below.
func (e *DomainError) Is(target error) bool {
	other, ok := target.(*DomainError)
	return ok && other.Message == "" && other.Code == e.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewSessionNotFound(sessionID string) error {
	return NewDomainError(CodeSessionNotFound, "session not found", http.StatusNotFound,
		map[string]any{"session_id": sessionID})
}

func NewInvalidTransition(sessionID string, from, to any) error {
	return NewDomainError(CodeInvalidTransition, "transition not allowed from current status", http.StatusConflict,
		map[string]any{"session_id": sessionID, "from": from, "to": to})
}

func NewConflictState(sessionID string, status any) error {
	return NewDomainError(CodeConflictState, "session already finished", http.StatusConflict,
		map[string]any{"session_id": sessionID, "status": status})
}

func NewDuplicateActiveSession(customerID, existingSessionID string) error {
	details := map[string]any{"customer_id": customerID}
	if existingSessionID != "" {
		details["session_id"] = existingSessionID
	}
	return NewDomainError(CodeDuplicateActiveSession, "customer already has an active session", http.StatusConflict, details)
}

func NewAlreadyAssigned(sessionID string, operatorID *string) error {
	details := map[string]any{"session_id": sessionID}
	if operatorID != nil {
		details["assigned_operator_id"] = *operatorID
	}
	return NewDomainError(CodeAlreadyAssigned, "session already assigned", http.StatusConflict, details)
}

func NewNoOperatorAvailable(sessionID string, department any) error {
	return NewDomainError(CodeNoOperatorAvailable, "no operator available", http.StatusServiceUnavailable,
		map[string]any{"session_id": sessionID, "department": department})
}

func NewDependencyTimeout(dependency string, err error) error {
	return &DomainError{
		Code:       CodeDependencyTimeout,
		Message:    dependency + " unavailable",
		HTTPStatus: http.StatusGatewayTimeout,
		Details:    map[string]any{"dependency": dependency},
		Err:        err,
	}
}

// Sentinels for errors.Is checks; they match any DomainError with the same code.
var (
	ErrInvalidTransition      = &DomainError{Code: CodeInvalidTransition}
	ErrConflictState          = &DomainError{Code: CodeConflictState}
	ErrDuplicateActiveSession = &DomainError{Code: CodeDuplicateActiveSession}
	ErrAlreadyAssigned        = &DomainError{Code: CodeAlreadyAssigned}
	ErrNoOperatorAvailable    = &DomainError{Code: CodeNoOperatorAvailable}
	ErrSessionNotFound        = &DomainError{Code: CodeSessionNotFound}
	ErrDependencyTimeout      = &DomainError{Code: CodeDependencyTimeout}
	ErrValidation             = &DomainError{Code: CodeValidation}
)

// CodeOf returns the domain code carried by err, or "" when err is not a DomainError.
func CodeOf(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
