package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a ticket does not exist.
	ErrNotFound = errors.New("ticket not found")
	// ErrAlreadyArchived is returned for any event against a closed ticket.
	ErrAlreadyArchived = errors.New("ticket already archived")
	// ErrInvalidTransition is returned when an event's precondition does not hold.
	ErrInvalidTransition = errors.New("invalid ticket transition")
	// ErrStoreUnavailable is returned while the record store cannot be trusted.
	ErrStoreUnavailable = errors.New("record store unavailable")
	// ErrAllocatorExhausted is returned when no unused ticket id can be found.
	ErrAllocatorExhausted = errors.New("ticket id space exhausted")
	// ErrAlreadyIssued is returned by issued-id registries on a duplicate insert.
	ErrAlreadyIssued = errors.New("ticket id already issued")
	// ErrForbidden is returned when the actor may not perform the operation.
	ErrForbidden = errors.New("actor not permitted")
	// ErrRevisionConflict is returned when a put races another writer.
	ErrRevisionConflict = errors.New("ticket revision conflict")
)

// ValidationError describes malformed input from an actor.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// DuplicateOpenTicketError is returned when the owner already has a live ticket.
type DuplicateOpenTicketError struct {
	TicketID string
}

func (e *DuplicateOpenTicketError) Error() string {
	return fmt.Sprintf("owner already has open ticket %s", e.TicketID)
}

// GatewayError wraps a failed call to the messaging gateway.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
