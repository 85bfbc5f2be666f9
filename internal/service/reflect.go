package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/gateway"
	"github.com/spec-kit/ticketdesk/internal/lifecycle"
)

// reflect applies state machine effects to the gateway. The record is
// already committed, so each failure is logged and the rest still run.
func (s *TicketService) reflect(ctx context.Context, t *domain.Ticket, effects []lifecycle.Effect) {
	for _, eff := range effects {
		switch eff.Kind {
		case lifecycle.EffectNotifyChannel:
			s.say(ctx, t, eff.Text)
		case lifecycle.EffectNotifyStaffRole:
			s.say(ctx, t, strings.TrimSpace(s.catalog.StaffMention+" "+eff.Text))
		case lifecycle.EffectRelabelControls:
			s.updateDisplay(ctx, t)
			topic := s.topicFor(*t)
			s.bestEffort(ctx, t.ID, "set_channel_topic", func(ctx context.Context) error {
				return s.gateway.SetChannelTopic(ctx, t.ChannelRef, topic)
			})
		case lifecycle.EffectRenderNotes, lifecycle.EffectStripControls:
			s.updateDisplay(ctx, t)
		case lifecycle.EffectRenameChannel:
			name := eff.ChannelName
			s.bestEffort(ctx, t.ID, "rename_channel", func(ctx context.Context) error {
				return s.gateway.RenameChannel(ctx, t.ChannelRef, name)
			})
		case lifecycle.EffectMoveChannel:
			dest := eff.Destination
			s.bestEffort(ctx, t.ID, "set_channel_parent", func(ctx context.Context) error {
				return s.gateway.SetChannelParent(ctx, t.ChannelRef, dest)
			})
		case lifecycle.EffectRestrictOwner:
			s.bestEffort(ctx, t.ID, "set_member_access", func(ctx context.Context) error {
				return s.gateway.SetMemberAccess(ctx, t.ChannelRef, t.OwnerID, gateway.AccessReadOnly)
			})
		case lifecycle.EffectNotifyOwner:
			s.notifyOwner(ctx, t, eff.Text)
		}
	}
}

func (s *TicketService) say(ctx context.Context, t *domain.Ticket, text string) {
	s.bestEffort(ctx, t.ID, "send_message", func(ctx context.Context) error {
		_, err := s.gateway.SendMessage(ctx, t.ChannelRef, gateway.OutgoingMessage{Content: text})
		return err
	})
}

// notifyOwner direct-messages the owner. When that fails a visible warning
// goes to the ticket channel instead.
func (s *TicketService) notifyOwner(ctx context.Context, t *domain.Ticket, text string) {
	delivered := s.bestEffort(ctx, t.ID, "send_direct_message", func(ctx context.Context) error {
		return s.gateway.SendDirectMessage(ctx, t.OwnerID, text)
	})
	if !delivered {
		s.say(ctx, t, fmt.Sprintf("Could not send a direct message to %s. They may have direct messages disabled.", lifecycle.Mention(t.OwnerID)))
	}
}

// postDisplay sends the status display with controls and stores its message
// reference. The caller holds the ticket lock.
func (s *TicketService) postDisplay(ctx context.Context, t *domain.Ticket) {
	var messageID string
	ok := s.bestEffort(ctx, t.ID, "send_message", func(ctx context.Context) error {
		id, err := s.gateway.SendMessage(ctx, t.ChannelRef, s.renderDisplay(*t, true))
		messageID = id
		return err
	})
	if !ok {
		return
	}
	t.ControlMessageRef = domain.StringPtr(messageID)
	if err := s.tickets.Put(ctx, t); err != nil {
		// the ticket stays usable; refresh-controls posts a new display
		t.ControlMessageRef = nil
		s.logger.Warn("store control message reference failed", zap.String("ticket_id", t.ID), zap.Error(err))
	}
}

// updateDisplay edits the status display in place, or posts a new one when
// none was recorded.
func (s *TicketService) updateDisplay(ctx context.Context, t *domain.Ticket) {
	if t.ControlMessageRef == nil {
		if !t.IsClosed() {
			s.postDisplay(ctx, t)
		}
		return
	}
	messageID := *t.ControlMessageRef
	s.bestEffort(ctx, t.ID, "edit_message", func(ctx context.Context) error {
		return s.gateway.EditMessage(ctx, t.ChannelRef, messageID, s.renderDisplay(*t, true))
	})
}

func (s *TicketService) topicFor(t domain.Ticket) string {
	label := t.Category
	if cat, ok := s.catalog.Category(t.Category); ok {
		label = cat.Label
	}
	return channelTopic(t.ID, label, t.OwnerID) + " | " + s.statusLine(t)
}

// findDisplayMessage scans recent channel history for the status display of
// a ticket that has no stored message reference.
func (s *TicketService) findDisplayMessage(ctx context.Context, t *domain.Ticket) (string, bool) {
	var recent []gateway.Message
	ok := s.bestEffort(ctx, t.ID, "fetch_recent_messages", func(ctx context.Context) error {
		var err error
		recent, err = s.gateway.FetchRecentMessages(ctx, t.ChannelRef, displayScanLimit)
		return err
	})
	if !ok {
		return "", false
	}
	header := displayHeader(t.ID)
	for _, m := range recent {
		if strings.HasPrefix(m.Content, header) {
			return m.ID, true
		}
	}
	return "", false
}
