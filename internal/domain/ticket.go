package domain

import "time"

// TicketState enumerates lifecycle states for tickets.
type TicketState string

const (
	TicketStateOpen    TicketState = "OPEN"
	TicketStateClaimed TicketState = "CLAIMED"
	TicketStatePending TicketState = "PENDING"
	TicketStateClosed  TicketState = "CLOSED"
)

// Valid reports whether s is a known state.
func (s TicketState) Valid() bool {
	switch s {
	case TicketStateOpen, TicketStateClaimed, TicketStatePending, TicketStateClosed:
		return true
	}
	return false
}

// SystemActorID marks mutations made by the service itself (self-healing closes).
const SystemActorID = "system"

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID                string            `json:"id"`
	OwnerID           string            `json:"owner_id"`
	ChannelRef        string            `json:"channel_ref"`
	Category          string            `json:"category"`
	ExternalID        *string           `json:"external_id,omitempty"`
	Fields            map[string]string `json:"fields,omitempty"`
	State             TicketState       `json:"state"`
	AssigneeID        *string           `json:"assignee_id,omitempty"`
	RoutingCategory   string            `json:"routing_category"`
	ArchiveBucket     *string           `json:"archive_bucket,omitempty"`
	CloseReason       *string           `json:"close_reason,omitempty"`
	ClosedBy          *string           `json:"closed_by,omitempty"`
	Notes             []Note            `json:"notes,omitempty"`
	ReminderStage     int               `json:"reminder_stage"`
	ControlMessageRef *string           `json:"control_message_ref,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	ClosedAt          *time.Time        `json:"closed_at,omitempty"`
	Revision          int64             `json:"revision"`
}

// Note is a staff-only annotation on a ticket.
type Note struct {
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// IsClosed reports whether the ticket reached its terminal state.
func (t *Ticket) IsClosed() bool {
	return t.State == TicketStateClosed
}

// AwaitingStaff reports whether the ticket is in a state that accrues reminders:
// open with nobody assigned, or pending.
func (t *Ticket) AwaitingStaff() bool {
	switch t.State {
	case TicketStateOpen:
		return t.AssigneeID == nil
	case TicketStatePending:
		return true
	}
	return false
}

// Clone returns a deep copy so callers never share slices or pointers with a store.
func (t Ticket) Clone() Ticket {
	out := t
	out.ExternalID = cloneString(t.ExternalID)
	out.AssigneeID = cloneString(t.AssigneeID)
	out.ArchiveBucket = cloneString(t.ArchiveBucket)
	out.CloseReason = cloneString(t.CloseReason)
	out.ClosedBy = cloneString(t.ClosedBy)
	out.ControlMessageRef = cloneString(t.ControlMessageRef)
	if t.ClosedAt != nil {
		closed := *t.ClosedAt
		out.ClosedAt = &closed
	}
	if t.Fields != nil {
		out.Fields = make(map[string]string, len(t.Fields))
		for k, v := range t.Fields {
			out.Fields[k] = v
		}
	}
	if t.Notes != nil {
		out.Notes = append([]Note(nil), t.Notes...)
	}
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
