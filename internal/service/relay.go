package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/events"
	"github.com/spec-kit/ticketdesk/internal/gateway"
	"github.com/spec-kit/ticketdesk/internal/lifecycle"
)

// RelayOutcome is the result of forwarding an owner's direct message.
type RelayOutcome string

const (
	RelayDelivered    RelayOutcome = "delivered"
	RelayNoOpenTicket RelayOutcome = "no_open_ticket"
	RelayTicketClosed RelayOutcome = "ticket_closed"
)

// RelayInboundMessage forwards a direct message from userID into their open
// ticket's channel. It mutates nothing except a reconciliation close, so a
// retried relay only forwards again.
func (s *TicketService) RelayInboundMessage(ctx context.Context, in gateway.InboundMessage) (RelayOutcome, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.Attachments) == 0 {
		return "", domain.NewValidationError("content", "message must not be empty")
	}
	t, err := s.tickets.FindOpenByOwner(ctx, in.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return s.relayed(ctx, "", in, RelayNoOpenTicket), nil
	}
	if err != nil {
		return "", err
	}

	status, err := s.channelStatus(ctx, t)
	if err == nil && !status.live() {
		if _, err := s.selfHealClose(ctx, t.ID, status); err != nil {
			return "", err
		}
		return s.relayed(ctx, t.ID, in, RelayTicketClosed), nil
	}
	if err != nil {
		// liveness unknown; the send below decides
		s.logger.Warn("channel liveness check failed before relay", zap.String("ticket_id", t.ID), zap.Error(err))
	}

	msg := gateway.OutgoingMessage{
		Content:     fmt.Sprintf("%s: %s", lifecycle.Mention(in.UserID), content),
		Attachments: in.Attachments,
	}
	err = s.call(ctx, "send_message", func(ctx context.Context) error {
		_, err := s.gateway.SendMessage(ctx, t.ChannelRef, msg)
		return err
	})
	if errors.Is(err, gateway.ErrChannelNotFound) {
		if _, err := s.selfHealClose(ctx, t.ID, liveness{state: channelGone, bucket: s.catalog.DefaultArchiveBucket}); err != nil {
			return "", err
		}
		return s.relayed(ctx, t.ID, in, RelayTicketClosed), nil
	}
	if err != nil {
		return "", err
	}
	return s.relayed(ctx, t.ID, in, RelayDelivered), nil
}

func (s *TicketService) relayed(ctx context.Context, ticketID string, in gateway.InboundMessage, outcome RelayOutcome) RelayOutcome {
	s.publishEvent(ctx, events.Event{
		Type:     events.EventMessageRelayed,
		TicketID: ticketID,
		Actor:    events.Actor{Type: domain.SubjectTypeUser, ID: in.UserID},
		Payload:  events.MessageRelayedPayload{Outcome: string(outcome), Attachments: len(in.Attachments)},
	})
	return outcome
}
