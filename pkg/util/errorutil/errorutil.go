package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spec-kit/ticketdesk/internal/domain"
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

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

func NewRateLimited() error {
	return NewDomainError("RATE_LIMITED", "too many requests", http.StatusTooManyRequests, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts service errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}

	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		details := map[string]any{}
		if validation.Field != "" {
			details["field"] = validation.Field
		}
		return &DomainError{Code: "VALIDATION_FAILED", Message: validation.Error(), HTTPStatus: http.StatusBadRequest, Details: details, Err: err}
	}
	var duplicate *domain.DuplicateOpenTicketError
	if errors.As(err, &duplicate) {
		return &DomainError{
			Code:       "DUPLICATE_OPEN_TICKET",
			Message:    "an open ticket already exists",
			HTTPStatus: http.StatusConflict,
			Details:    map[string]any{"ticket_id": duplicate.TicketID},
			Err:        err,
		}
	}
	var gatewayErr *domain.GatewayError
	if errors.As(err, &gatewayErr) {
		return &DomainError{
			Code:       "GATEWAY_UNAVAILABLE",
			Message:    "messaging gateway unavailable",
			HTTPStatus: http.StatusBadGateway,
			Details:    map[string]any{"op": gatewayErr.Op},
			Err:        err,
		}
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return &DomainError{Code: "NOT_FOUND", Message: "ticket not found", HTTPStatus: http.StatusNotFound, Err: err}
	case errors.Is(err, domain.ErrAlreadyArchived):
		return &DomainError{Code: "ALREADY_ARCHIVED", Message: "ticket is already closed and archived", HTTPStatus: http.StatusConflict, Err: err}
	case errors.Is(err, domain.ErrInvalidTransition):
		return &DomainError{Code: "INVALID_TRANSITION", Message: err.Error(), HTTPStatus: http.StatusConflict, Err: err}
	case errors.Is(err, domain.ErrForbidden):
		return &DomainError{Code: "FORBIDDEN", Message: "staff only", HTTPStatus: http.StatusForbidden, Err: err}
	case errors.Is(err, domain.ErrRevisionConflict):
		return &DomainError{Code: "CONFLICT", Message: "ticket was modified concurrently", HTTPStatus: http.StatusConflict, Err: err}
	case errors.Is(err, domain.ErrStoreUnavailable):
		return &DomainError{Code: "STORE_UNAVAILABLE", Message: "record store unavailable", HTTPStatus: http.StatusServiceUnavailable, Err: err}
	case errors.Is(err, domain.ErrAllocatorExhausted):
		return &DomainError{Code: "ALLOCATOR_EXHAUSTED", Message: "no ticket ids left; operator intervention required", HTTPStatus: http.StatusServiceUnavailable, Err: err}
	}

	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}
