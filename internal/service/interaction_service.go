package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/gateway"
	"github.com/spec-kit/ticketdesk/internal/lifecycle"
	"github.com/spec-kit/ticketdesk/pkg/util/errorutil"
)

// Staff command names.
const (
	CommandNote       = "ticket-note"
	CommandSend       = "ticket-send"
	CommandSearch     = "ticket-search"
	CommandForceClose = "ticket-forceclose"
	CommandRefresh    = "ticket-refresh"
)

const maxSearchLines = 10

// InteractionService turns platform events into ticket operations. Control
// presses are acknowledged at once and executed on the async runner.
type InteractionService struct {
	tickets *TicketService
	runner  *AsyncRunner
	staff   StaffDirectory
	gateway gateway.Gateway
	logger  *zap.Logger
}

// InteractionDependencies bundles collaborators for the interaction service.
type InteractionDependencies struct {
	Tickets *TicketService
	Runner  *AsyncRunner
	Staff   StaffDirectory
	Gateway gateway.Gateway
	Logger  *zap.Logger
}

var _ gateway.InboundHandler = (*InteractionService)(nil)

// NewInteractionService constructs the service.
func NewInteractionService(deps InteractionDependencies) *InteractionService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InteractionService{
		tickets: deps.Tickets,
		runner:  deps.Runner,
		staff:   deps.Staff,
		gateway: deps.Gateway,
		logger:  logger,
	}
}

// FormSubmitted validates the form synchronously and creates the ticket in
// the background. The owner hears back by direct message.
func (s *InteractionService) FormSubmitted(_ context.Context, in gateway.FormSubmission) (string, error) {
	cat, ok := s.tickets.Catalog().Category(in.Category)
	if !ok {
		return "", domain.NewValidationError("category", fmt.Sprintf("unknown category %q", in.Category))
	}
	if _, err := cat.NormalizeFields(in.Fields); err != nil {
		return "", err
	}
	started := s.runner.Go("create_ticket", func(ctx context.Context) {
		if _, err := s.tickets.CreateTicket(ctx, in.UserID, in.Category, in.Fields); err != nil {
			s.logger.Warn("create ticket failed", zap.String("owner_id", in.UserID), zap.Error(err))
			s.directMessage(ctx, in.UserID, "Could not open your ticket: "+Describe(err))
		}
	})
	if !started {
		return "", errShuttingDown
	}
	return fmt.Sprintf("Opening your %s ticket...", cat.Label), nil
}

// ControlActivated decodes a control press and applies it in the background.
// Failures are posted into the ticket channel.
func (s *InteractionService) ControlActivated(_ context.Context, in gateway.ControlActivation) (string, error) {
	action, ticketID, err := DecodeControlID(in.ControlID)
	if err != nil {
		return "", err
	}
	actor := s.staff.Actor(in.ActorID, in.ActorName)
	if !actor.IsStaff() {
		return "", fmt.Errorf("%s by %s: %w", action, in.ActorID, domain.ErrForbidden)
	}
	ev, err := EventForAction(action, actor, in.Values)
	if err != nil {
		return "", err
	}

	started := s.runner.Go("control_"+string(action), func(ctx context.Context) {
		_, err := s.tickets.ApplyEvent(ctx, ticketID, ev)
		if err == nil {
			return
		}
		s.logger.Warn("control failed",
			zap.String("ticket_id", ticketID),
			zap.String("action", string(action)),
			zap.String("actor_id", actor.ID),
			zap.Error(err))
		s.reportFailure(ctx, ticketID, in.ChannelRef, fmt.Sprintf("%s could not %s ticket #%s: %s",
			lifecycle.Mention(actor.ID), action, ticketID, Describe(err)))
	})
	if !started {
		return "", errShuttingDown
	}
	return "", nil
}

// DirectMessageReceived relays an owner's message into their ticket.
func (s *InteractionService) DirectMessageReceived(ctx context.Context, in gateway.InboundMessage) (string, error) {
	outcome, err := s.tickets.RelayInboundMessage(ctx, in)
	if err != nil {
		return "", err
	}
	switch outcome {
	case RelayNoOpenTicket:
		return "You do not have an open ticket. Use the support panel to open one.", nil
	case RelayTicketClosed:
		return "Your ticket has been closed. Open a new one if you still need help.", nil
	}
	return "", nil
}

// CommandInvoked runs a staff command synchronously.
func (s *InteractionService) CommandInvoked(ctx context.Context, in gateway.Command) (string, error) {
	actor := s.staff.Actor(in.ActorID, in.ActorName)
	if !actor.IsStaff() {
		return "", fmt.Errorf("%s by %s: %w", in.Name, in.ActorID, domain.ErrForbidden)
	}
	arg := func(key string) string { return strings.TrimSpace(in.Args[key]) }

	if in.Name == CommandSearch {
		res, err := s.tickets.Search(ctx, arg("query"))
		if err != nil {
			return "", err
		}
		return FormatSearch(res), nil
	}

	ticketID := arg("ticket")
	if ticketID == "" {
		return "", domain.NewValidationError("ticket", "is required")
	}
	switch in.Name {
	case CommandNote:
		if _, err := s.tickets.AddNote(ctx, ticketID, actor, arg("text")); err != nil {
			return "", err
		}
		return fmt.Sprintf("Note added to ticket #%s.", ticketID), nil
	case CommandSend:
		if err := s.tickets.SendToOwner(ctx, ticketID, actor, arg("text")); err != nil {
			return "", err
		}
		return fmt.Sprintf("Message sent to the owner of ticket #%s.", ticketID), nil
	case CommandForceClose:
		if _, err := s.tickets.ForceClose(ctx, ticketID, actor, arg("reason")); err != nil {
			return "", err
		}
		return fmt.Sprintf("Ticket #%s force-closed.", ticketID), nil
	case CommandRefresh:
		if _, err := s.tickets.RefreshControls(ctx, ticketID, actor); err != nil {
			return "", err
		}
		return fmt.Sprintf("Controls refreshed for ticket #%s.", ticketID), nil
	}
	return "", domain.NewValidationError("command", fmt.Sprintf("unknown command %q", in.Name))
}

func (s *InteractionService) reportFailure(ctx context.Context, ticketID, channelRef, text string) {
	if channelRef == "" {
		t, err := s.tickets.Get(ctx, ticketID)
		if err != nil {
			s.logger.Warn("cannot report control failure", zap.String("ticket_id", ticketID), zap.Error(err))
			return
		}
		channelRef = t.ChannelRef
	}
	if _, err := s.gateway.SendMessage(ctx, channelRef, gateway.OutgoingMessage{Content: text}); err != nil {
		s.logger.Warn("cannot report control failure", zap.String("ticket_id", ticketID), zap.Error(err))
	}
}

func (s *InteractionService) directMessage(ctx context.Context, userID, text string) {
	if err := s.gateway.SendDirectMessage(ctx, userID, text); err != nil {
		s.logger.Warn("direct message failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// EventForAction maps a control press onto a lifecycle event. A close without
// a typed reason records who pressed it.
func EventForAction(action lifecycle.Action, actor domain.Actor, values map[string]string) (lifecycle.Event, error) {
	switch action {
	case lifecycle.ActionClaim:
		return lifecycle.Claim(actor), nil
	case lifecycle.ActionUnclaim:
		return lifecycle.Unclaim(actor), nil
	case lifecycle.ActionPending:
		return lifecycle.SetPending(actor), nil
	case lifecycle.ActionTransfer:
		category := valueOr(values, "category")
		if category == "" {
			return lifecycle.Event{}, domain.NewValidationError("category", "is required")
		}
		return lifecycle.Transfer(actor, category), nil
	case lifecycle.ActionClose:
		bucket := valueOr(values, "bucket")
		if bucket == "" {
			return lifecycle.Event{}, domain.NewValidationError("bucket", "is required")
		}
		reason := strings.TrimSpace(values[gateway.ReasonValue])
		if reason == "" {
			reason = "Closed by " + actor.Name()
		}
		return lifecycle.Close(actor, bucket, reason), nil
	}
	return lifecycle.Event{}, domain.NewValidationError("action", fmt.Sprintf("unknown action %q", action))
}

// valueOr reads key, falling back to the option a select control reported.
func valueOr(values map[string]string, key string) string {
	if v := strings.TrimSpace(values[key]); v != "" {
		return v
	}
	return strings.TrimSpace(values[gateway.SelectedValue])
}

var errShuttingDown = errors.New("service is shutting down")

// Describe renders err for a chat reply.
func Describe(err error) string {
	if errors.Is(err, errShuttingDown) {
		return "The ticket desk is restarting, please try again shortly."
	}
	de := errorutil.ToDomainError(err)
	switch de.Code {
	case "DUPLICATE_OPEN_TICKET":
		return fmt.Sprintf("You already have an open ticket (#%v).", de.Details["ticket_id"])
	case "VALIDATION_FAILED", "INVALID_TRANSITION":
		var validation *domain.ValidationError
		if errors.As(err, &validation) {
			return validation.Error()
		}
		return "That action is not allowed in the ticket's current state."
	case "GATEWAY_UNAVAILABLE":
		return "The chat platform did not respond, please try again."
	}
	return de.Message
}

// FormatSearch renders search results as chat text.
func FormatSearch(res SearchResult) string {
	if res.Tier == SearchTierNone {
		return fmt.Sprintf("No tickets match %q.", res.Query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d ticket(s) matched by %s:", len(res.Tickets), strings.ReplaceAll(string(res.Tier), "_", " "))
	for i, t := range res.Tickets {
		if i == maxSearchLines {
			fmt.Fprintf(&b, "\n...and %d more", len(res.Tickets)-maxSearchLines)
			break
		}
		fmt.Fprintf(&b, "\n#%s %s %s opened by %s", t.ID, t.State, t.Category, lifecycle.Mention(t.OwnerID))
	}
	return b.String()
}

// CommandDefinitions lists the commands the platform should expose.
func CommandDefinitions() []gateway.CommandDefinition {
	return []gateway.CommandDefinition{
		{Name: CommandNote, Description: "Add a staff note to a ticket", Options: []string{"ticket", "text"}, StaffOnly: true},
		{Name: CommandSend, Description: "Send a message to the ticket owner", Options: []string{"ticket", "text"}, StaffOnly: true},
		{Name: CommandSearch, Description: "Search tickets by ticket id, external id or owner id", Options: []string{"query"}, StaffOnly: true},
		{Name: CommandForceClose, Description: "Force-close a ticket", Options: []string{"ticket", "reason"}, StaffOnly: true},
		{Name: CommandRefresh, Description: "Re-post a ticket's status and controls", Options: []string{"ticket"}, StaffOnly: true},
	}
}
