package dto

import (
	"time"

	"github.com/spec-kit/ticketdesk/internal/domain"
)

// TicketResponse is the staff view of a ticket.
type TicketResponse struct {
	ID                string             `json:"id"`
	OwnerID           string             `json:"owner_id"`
	ChannelRef        string             `json:"channel_ref"`
	Category          string             `json:"category"`
	RoutingCategory   string             `json:"routing_category"`
	ExternalID        *string            `json:"external_id,omitempty"`
	Fields            map[string]string  `json:"fields,omitempty"`
	State             domain.TicketState `json:"state"`
	AssigneeID        *string            `json:"assignee_id,omitempty"`
	ArchiveBucket     *string            `json:"archive_bucket,omitempty"`
	CloseReason       *string            `json:"close_reason,omitempty"`
	ClosedBy          *string            `json:"closed_by,omitempty"`
	Notes             []NoteResponse     `json:"notes"`
	ReminderStage     int                `json:"reminder_stage"`
	ControlMessageRef *string            `json:"control_message_ref,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	ClosedAt          *time.Time         `json:"closed_at,omitempty"`
}

// NoteResponse is one staff note.
type NoteResponse struct {
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchResponse lists search matches and the tier that matched.
type SearchResponse struct {
	Query   string           `json:"query"`
	Tier    string           `json:"tier"`
	Tickets []TicketResponse `json:"tickets"`
}

// AddNoteRequest payload.
type AddNoteRequest struct {
	Text string `json:"text"`
}

// SendMessageRequest payload.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// ForceCloseRequest payload.
type ForceCloseRequest struct {
	Reason string `json:"reason"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	notes := make([]NoteResponse, 0, len(t.Notes))
	for _, n := range t.Notes {
		notes = append(notes, NoteResponse{AuthorID: n.AuthorID, Text: n.Text, CreatedAt: n.CreatedAt})
	}
	return TicketResponse{
		ID:                t.ID,
		OwnerID:           t.OwnerID,
		ChannelRef:        t.ChannelRef,
		Category:          t.Category,
		RoutingCategory:   t.RoutingCategory,
		ExternalID:        t.ExternalID,
		Fields:            t.Fields,
		State:             t.State,
		AssigneeID:        t.AssigneeID,
		ArchiveBucket:     t.ArchiveBucket,
		CloseReason:       t.CloseReason,
		ClosedBy:          t.ClosedBy,
		Notes:             notes,
		ReminderStage:     t.ReminderStage,
		ControlMessageRef: t.ControlMessageRef,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
		ClosedAt:          t.ClosedAt,
	}
}

// ActionRequest applies a lifecycle action, with the same values a control
// press would carry.
type ActionRequest struct {
	Action string            `json:"action"`
	Values map[string]string `json:"values"`
}
