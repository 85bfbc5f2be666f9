package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/events"
	"github.com/spec-kit/ticketdesk/internal/gateway"
	"github.com/spec-kit/ticketdesk/internal/lifecycle"
	"github.com/spec-kit/ticketdesk/internal/lock"
)

type channelState int

const (
	channelLive channelState = iota
	channelGone
	channelArchived
)

// liveness is what the gateway says about a ticket's channel.
type liveness struct {
	state  channelState
	bucket string // archive bucket whose destination holds the channel
}

func (l liveness) live() bool {
	return l.state == channelLive
}

func (l liveness) closeReason() string {
	if l.state == channelGone {
		return "Channel no longer exists"
	}
	return "Channel was archived outside the bot"
}

// channelStatus reflects on the ticket's channel. A transient gateway error is
// returned as-is; callers must not treat it as proof of closure.
func (s *TicketService) channelStatus(ctx context.Context, t *domain.Ticket) (liveness, error) {
	var info gateway.ChannelInfo
	err := s.call(ctx, "channel_info", func(ctx context.Context) error {
		var err error
		info, err = s.gateway.ChannelInfo(ctx, t.ChannelRef)
		return err
	})
	if errors.Is(err, gateway.ErrChannelNotFound) {
		return liveness{state: channelGone, bucket: s.catalog.DefaultArchiveBucket}, nil
	}
	if err != nil {
		return liveness{}, err
	}
	if bucket, ok := s.catalog.BucketForDestination(info.Parent); ok {
		return liveness{state: channelArchived, bucket: bucket}, nil
	}
	return liveness{state: channelLive}, nil
}

// EnsureLive reports whether the ticket's channel still exists outside the
// archive. A dead channel closes the record as the system actor.
func (s *TicketService) EnsureLive(ctx context.Context, t *domain.Ticket) (bool, error) {
	status, err := s.channelStatus(ctx, t)
	if err != nil {
		return false, err
	}
	if status.live() {
		return true, nil
	}
	if _, err := s.selfHealClose(ctx, t.ID, status); err != nil {
		return false, err
	}
	return false, nil
}

// selfHealClose closes a ticket whose channel was removed or archived outside
// the bot. The channel is already gone or parked, so no gateway effects run.
func (s *TicketService) selfHealClose(ctx context.Context, ticketID string, status liveness) (*domain.Ticket, error) {
	unlock, err := s.locker.Lock(ctx, lock.TicketKey(ticketID))
	if err != nil {
		return nil, fmt.Errorf("lock ticket: %w", err)
	}
	defer unlock()

	current, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if current.IsClosed() {
		return current, nil
	}
	res, err := s.machine.Apply(*current, lifecycle.Close(domain.SystemActor(), status.bucket, status.closeReason()), s.now())
	if err != nil {
		return nil, err
	}
	next := res.Ticket
	if err := s.tickets.Put(ctx, &next); err != nil {
		return nil, fmt.Errorf("persist ticket %s: %w", ticketID, err)
	}

	s.logger.Warn("ticket closed by reconciliation",
		zap.String("ticket_id", ticketID),
		zap.String("channel_ref", next.ChannelRef),
		zap.String("bucket", status.bucket),
		zap.String("reason", status.closeReason()))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketClosed,
		TicketID: ticketID,
		Actor:    events.Actor{Type: domain.SubjectTypeStaff, ID: domain.SystemActorID},
		Payload: events.TicketClosedPayload{
			Bucket:     status.bucket,
			Reason:     status.closeReason(),
			SelfHealed: true,
		},
	})
	out := next.Clone()
	return &out, nil
}
