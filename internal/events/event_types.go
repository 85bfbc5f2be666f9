package events

import (
	"time"

	"github.com/spec-kit/ticketdesk/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated      EventType = "ticket_created"
	EventTicketTransitioned EventType = "ticket_transitioned"
	EventTicketClosed       EventType = "ticket_closed"
	EventNoteAdded          EventType = "note_added"
	EventReminderFired      EventType = "reminder_fired"
	EventMessageRelayed     EventType = "message_relayed"
	EventGatewayFailed      EventType = "gateway_failed"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type domain.SubjectType `json:"type"`
	ID   string             `json:"id"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Category   string  `json:"category"`
	OwnerID    string  `json:"owner_id"`
	ExternalID *string `json:"external_id,omitempty"`
}

// TicketTransitionedPayload payload.
type TicketTransitionedPayload struct {
	Event           string             `json:"event"`
	OldState        domain.TicketState `json:"old_state"`
	NewState        domain.TicketState `json:"new_state"`
	RoutingCategory string             `json:"routing_category"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	Bucket     string `json:"bucket"`
	Reason     string `json:"reason"`
	SelfHealed bool   `json:"self_healed"`
}

// NoteAddedPayload payload.
type NoteAddedPayload struct {
	NoteCount int `json:"note_count"`
}

// ReminderFiredPayload payload.
type ReminderFiredPayload struct {
	Stage     int           `json:"stage"`
	Elapsed   time.Duration `json:"elapsed"`
	Delivered bool          `json:"delivered"`
}

// MessageRelayedPayload payload.
type MessageRelayedPayload struct {
	Outcome     string `json:"outcome"`
	Attachments int    `json:"attachments"`
}

// GatewayFailedPayload payload.
type GatewayFailedPayload struct {
	Op    string `json:"op"`
	Error string `json:"error"`
}
