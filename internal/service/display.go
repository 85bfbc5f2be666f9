package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/gateway"
	"github.com/spec-kit/ticketdesk/internal/lifecycle"
)

const (
	controlPrefix = "ticket"
	noteTimeFmt   = "2006-01-02 15:04"
	ellipsis      = "…"

	displayScanLimit = 50
)

// EncodeControlID builds the opaque id carried by an interactive control.
func EncodeControlID(action lifecycle.Action, ticketID string) string {
	return controlPrefix + ":" + string(action) + ":" + ticketID
}

// DecodeControlID parses an id built by EncodeControlID.
func DecodeControlID(id string) (lifecycle.Action, string, error) {
	parts := strings.Split(id, ":")
	if len(parts) != 3 || parts[0] != controlPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", domain.NewValidationError("control_id", fmt.Sprintf("malformed control id %q", id))
	}
	switch action := lifecycle.Action(parts[1]); action {
	case lifecycle.ActionClaim, lifecycle.ActionUnclaim, lifecycle.ActionPending, lifecycle.ActionTransfer, lifecycle.ActionClose:
		return action, parts[2], nil
	}
	return "", "", domain.NewValidationError("control_id", fmt.Sprintf("unknown action %q", parts[1]))
}

// renderDisplay builds the status message for t. Closed tickets never carry
// controls.
func (s *TicketService) renderDisplay(t domain.Ticket, withControls bool) gateway.OutgoingMessage {
	limit := s.catalog.NoteDisplayLimit
	label := t.Category
	if cat, ok := s.catalog.Category(t.Category); ok {
		label = cat.Label
	}
	msg := gateway.OutgoingMessage{
		Content: displayHeader(t.ID) + label,
		Fields: []gateway.Field{
			{Name: "Status", Value: s.statusLine(t)},
			{Name: "Opened by", Value: lifecycle.Mention(t.OwnerID)},
		},
	}
	if t.RoutingCategory != t.Category {
		if cat, ok := s.catalog.Category(t.RoutingCategory); ok {
			msg.Fields = append(msg.Fields, gateway.Field{Name: "Routed to", Value: cat.Label})
		}
	}
	if cat, ok := s.catalog.Category(t.Category); ok {
		for _, f := range cat.Fields {
			if v, ok := t.Fields[f.Key]; ok {
				msg.Fields = append(msg.Fields, gateway.Field{Name: f.Label, Value: truncate(v, limit)})
			}
		}
	}
	msg.Fields = append(msg.Fields, gateway.Field{Name: "Notes", Value: RenderNotes(t.Notes, limit)})

	if withControls {
		for _, spec := range s.machine.Controls(t) {
			ctl := gateway.Control{
				ID:             EncodeControlID(spec.Action, t.ID),
				Label:          spec.Label,
				Disabled:       spec.Disabled,
				Danger:         spec.Danger,
				RequiresReason: spec.RequiresReason,
			}
			for _, opt := range spec.Options {
				ctl.Options = append(ctl.Options, gateway.Option{Value: opt.Value, Label: opt.Label})
			}
			msg.Controls = append(msg.Controls, ctl)
		}
	}
	return msg
}

func displayHeader(ticketID string) string {
	return "Ticket #" + ticketID + " | "
}

func (s *TicketService) statusLine(t domain.Ticket) string {
	switch t.State {
	case domain.TicketStateClaimed:
		if t.AssigneeID != nil {
			return "Claimed by " + lifecycle.Mention(*t.AssigneeID)
		}
		return "Claimed"
	case domain.TicketStatePending:
		return "Waiting for approval"
	case domain.TicketStateClosed:
		bucket := ""
		if t.ArchiveBucket != nil {
			bucket = *t.ArchiveBucket
			if b, ok := s.catalog.Bucket(bucket); ok {
				bucket = b.Label
			}
		}
		if t.CloseReason != nil {
			return fmt.Sprintf("Closed (%s): %s", bucket, *t.CloseReason)
		}
		return fmt.Sprintf("Closed (%s)", bucket)
	}
	return "Open"
}

// RenderNotes renders notes oldest first within limit characters. When they
// do not fit, the oldest notes are dropped and a marker says how many.
func RenderNotes(notes []domain.Note, limit int) string {
	if len(notes) == 0 {
		return "No notes yet."
	}
	lines := make([]string, len(notes))
	for i, n := range notes {
		lines[i] = fmt.Sprintf("[%s] %s: %s", n.CreatedAt.UTC().Format(noteTimeFmt), lifecycle.Mention(n.AuthorID), n.Text)
	}
	if limit <= 0 {
		return strings.Join(lines, "\n")
	}

	// walk back from the newest note until the next one would overflow
	start := len(lines)
	size := 0
	for i := len(lines) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(lines[i])
		if start < len(lines) {
			n++ // separator
		}
		omitted := i
		marker := 0
		if omitted > 0 {
			marker = utf8.RuneCountInString(omittedMarker(omitted)) + 1
		}
		if size+n+marker > limit {
			break
		}
		size += n
		start = i
	}
	if start == len(lines) {
		// even the newest note alone is too long
		marker := omittedMarker(len(lines)-1) + "\n"
		if len(lines) == 1 {
			marker = ""
		}
		return marker + truncate(lines[len(lines)-1], limit-utf8.RuneCountInString(marker))
	}
	out := strings.Join(lines[start:], "\n")
	if start > 0 {
		out = omittedMarker(start) + "\n" + out
	}
	return out
}

func omittedMarker(n int) string {
	if n == 1 {
		return ellipsis + " 1 earlier note omitted"
	}
	return fmt.Sprintf("%s %d earlier notes omitted", ellipsis, n)
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit == 1 {
		return ellipsis
	}
	r := []rune(s)
	return string(r[:limit-1]) + ellipsis
}
