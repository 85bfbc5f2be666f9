// Package lifecycle is the ticket state machine. It performs no I/O: Apply
// returns the next record and the gateway effects the caller must reflect.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/ticketdesk/internal/config"
	"github.com/spec-kit/ticketdesk/internal/domain"
)

// EventKind names a lifecycle event.
type EventKind string

const (
	EventClaim      EventKind = "claim"
	EventUnclaim    EventKind = "unclaim"
	EventSetPending EventKind = "pending"
	EventTransfer   EventKind = "transfer"
	EventClose      EventKind = "close"
	EventAddNote    EventKind = "note"
)

// Event is a request to move a ticket through its lifecycle.
type Event struct {
	Kind     EventKind
	Actor    domain.Actor
	Category string // Transfer target
	Bucket   string // Close destination
	Reason   string // Close reason
	Text     string // AddNote body
}

func Claim(actor domain.Actor) Event      { return Event{Kind: EventClaim, Actor: actor} }
func Unclaim(actor domain.Actor) Event    { return Event{Kind: EventUnclaim, Actor: actor} }
func SetPending(actor domain.Actor) Event { return Event{Kind: EventSetPending, Actor: actor} }

func Transfer(actor domain.Actor, category string) Event {
	return Event{Kind: EventTransfer, Actor: actor, Category: category}
}

func Close(actor domain.Actor, bucket, reason string) Event {
	return Event{Kind: EventClose, Actor: actor, Bucket: bucket, Reason: reason}
}

func AddNote(actor domain.Actor, text string) Event {
	return Event{Kind: EventAddNote, Actor: actor, Text: text}
}

// EffectKind names a gateway side effect.
type EffectKind string

const (
	EffectNotifyChannel   EffectKind = "notify_channel"
	EffectNotifyStaffRole EffectKind = "notify_staff_role"
	EffectRelabelControls EffectKind = "relabel_controls"
	EffectRenameChannel   EffectKind = "rename_channel"
	EffectMoveChannel     EffectKind = "move_channel"
	EffectStripControls   EffectKind = "strip_controls"
	EffectRestrictOwner   EffectKind = "restrict_owner"
	EffectNotifyOwner     EffectKind = "notify_owner"
	EffectRenderNotes     EffectKind = "render_notes"
)

// Effect is one instruction for the gateway. Only the fields relevant to
// Kind are set.
type Effect struct {
	Kind        EffectKind
	Text        string
	ChannelName string
	Destination string
}

// Result is the outcome of a successful Apply.
type Result struct {
	Ticket  domain.Ticket
	Effects []Effect
}

// Machine applies events against the configured catalog.
type Machine struct {
	catalog *config.Catalog
}

// New builds a Machine.
func New(catalog *config.Catalog) *Machine {
	return &Machine{catalog: catalog}
}

// Apply validates ev against t and returns the next record. Any event on a
// closed ticket fails with domain.ErrAlreadyArchived; failed preconditions
// wrap domain.ErrInvalidTransition. The input record is never modified.
func (m *Machine) Apply(t domain.Ticket, ev Event, now time.Time) (Result, error) {
	if t.IsClosed() {
		return Result{}, fmt.Errorf("%s on %s: %w", ev.Kind, t.ID, domain.ErrAlreadyArchived)
	}
	next := t.Clone()
	next.UpdatedAt = now
	mention := Mention(ev.Actor.ID)

	switch ev.Kind {
	case EventClaim:
		if (t.State != domain.TicketStateOpen && t.State != domain.TicketStatePending) || t.AssigneeID != nil {
			return Result{}, invalid(ev.Kind, t)
		}
		next.State = domain.TicketStateClaimed
		next.AssigneeID = domain.StringPtr(ev.Actor.ID)
		return Result{Ticket: next, Effects: []Effect{
			{Kind: EffectNotifyChannel, Text: fmt.Sprintf("%s has claimed this ticket!", mention)},
			{Kind: EffectRelabelControls},
			{Kind: EffectRenameChannel, ChannelName: ChannelName(next)},
		}}, nil

	case EventUnclaim:
		if t.State != domain.TicketStateClaimed {
			return Result{}, invalid(ev.Kind, t)
		}
		next.State = domain.TicketStateOpen
		next.AssigneeID = nil
		return Result{Ticket: next, Effects: []Effect{
			{Kind: EffectNotifyChannel, Text: fmt.Sprintf("This ticket has now been unclaimed by %s!", mention)},
			{Kind: EffectRelabelControls},
			{Kind: EffectRenameChannel, ChannelName: ChannelName(next)},
		}}, nil

	case EventSetPending:
		if t.State != domain.TicketStateOpen && t.State != domain.TicketStateClaimed {
			return Result{}, invalid(ev.Kind, t)
		}
		next.State = domain.TicketStatePending
		next.AssigneeID = nil
		return Result{Ticket: next, Effects: []Effect{
			{Kind: EffectNotifyStaffRole, Text: "This ticket is waiting for approval!"},
			{Kind: EffectRelabelControls},
			{Kind: EffectRenameChannel, ChannelName: ChannelName(next)},
		}}, nil

	case EventTransfer:
		cat, ok := m.catalog.Category(ev.Category)
		if !ok {
			return Result{}, domain.NewValidationError("category", fmt.Sprintf("unknown category %q", ev.Category))
		}
		if cat.Key == t.RoutingCategory {
			return Result{}, fmt.Errorf("ticket %s already routed to %s: %w", t.ID, cat.Key, domain.ErrInvalidTransition)
		}
		next.RoutingCategory = cat.Key
		return Result{Ticket: next, Effects: []Effect{
			{Kind: EffectMoveChannel, Destination: cat.Destination},
			{Kind: EffectNotifyChannel, Text: fmt.Sprintf("Ticket transferred to %s by %s.", cat.Label, mention)},
		}}, nil

	case EventClose:
		bucket, ok := m.catalog.Bucket(ev.Bucket)
		if !ok {
			return Result{}, domain.NewValidationError("bucket", fmt.Sprintf("unknown archive bucket %q", ev.Bucket))
		}
		reason := strings.TrimSpace(ev.Reason)
		if reason == "" {
			return Result{}, domain.NewValidationError("reason", "is required")
		}
		closedAt := now
		next.State = domain.TicketStateClosed
		next.AssigneeID = nil
		next.ArchiveBucket = domain.StringPtr(bucket.Key)
		next.CloseReason = domain.StringPtr(reason)
		next.ClosedBy = domain.StringPtr(ev.Actor.ID)
		next.ClosedAt = &closedAt
		return Result{Ticket: next, Effects: []Effect{
			{Kind: EffectStripControls},
			{Kind: EffectRenameChannel, ChannelName: ChannelName(next)},
			{Kind: EffectMoveChannel, Destination: bucket.Destination},
			{Kind: EffectRestrictOwner},
			{Kind: EffectNotifyOwner, Text: CloseNotice(next.ID, bucket.Label, reason)},
			{Kind: EffectNotifyChannel, Text: fmt.Sprintf("Ticket archived to %s by %s. Reason: %s", bucket.Label, mention, reason)},
		}}, nil

	case EventAddNote:
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return Result{}, domain.NewValidationError("text", "note must not be empty")
		}
		next.Notes = append(next.Notes, domain.Note{AuthorID: ev.Actor.ID, Text: text, CreatedAt: now})
		return Result{Ticket: next, Effects: []Effect{{Kind: EffectRenderNotes}}}, nil
	}

	return Result{}, fmt.Errorf("unknown event %q: %w", ev.Kind, domain.ErrInvalidTransition)
}

func invalid(kind EventKind, t domain.Ticket) error {
	return fmt.Errorf("cannot %s ticket %s in state %s: %w", kind, t.ID, t.State, domain.ErrInvalidTransition)
}

// ChannelName is the channel naming policy for a ticket in its current state.
func ChannelName(t domain.Ticket) string {
	switch t.State {
	case domain.TicketStateClaimed:
		return "claimed-" + t.ID
	case domain.TicketStatePending:
		return "pending-" + t.ID
	case domain.TicketStateClosed:
		return "archived-" + t.ID
	}
	return t.ID
}

// Mention formats a user reference the gateway renders as a ping.
func Mention(userID string) string {
	if userID == domain.SystemActorID {
		return "the system"
	}
	return "<@" + userID + ">"
}

// CloseNotice is the direct message sent to the owner when their ticket closes.
func CloseNotice(ticketID, bucketLabel, reason string) string {
	return fmt.Sprintf("Your Ticket Has Been Closed\nTicket #%s was archived to %s.\nReason: %s", ticketID, bucketLabel, reason)
}
