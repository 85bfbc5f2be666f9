package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/events"
	"github.com/spec-kit/ticketdesk/internal/gateway"
	"github.com/spec-kit/ticketdesk/internal/lock"
)

// ReminderStage is the number of thresholds at or below elapsed.
func ReminderStage(elapsed time.Duration, thresholds []time.Duration) int {
	stage := 0
	for _, th := range thresholds {
		if elapsed >= th {
			stage++
		}
	}
	return stage
}

// ReminderDue reports whether t should be re-checked by a sweep at now.
func ReminderDue(t domain.Ticket, thresholds []time.Duration, now time.Time) bool {
	if !t.AwaitingStaff() {
		return false
	}
	return ReminderStage(now.Sub(t.CreatedAt), thresholds) > t.ReminderStage
}

// AdvanceReminder raises the ticket's reminder stage to what its age calls
// for and sends one staff notification. The stage is persisted before the
// notification goes out, so a reminder is never repeated. It returns the new
// stage, or zero when nothing fired.
func (s *TicketService) AdvanceReminder(ctx context.Context, ticketID string, thresholds []time.Duration) (int, error) {
	unlock, err := s.locker.Lock(ctx, lock.TicketKey(ticketID))
	if err != nil {
		return 0, fmt.Errorf("lock ticket: %w", err)
	}
	defer unlock()

	t, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return 0, err
	}
	now := s.now()
	if !ReminderDue(*t, thresholds, now) {
		return 0, nil
	}
	elapsed := now.Sub(t.CreatedAt)
	t.ReminderStage = ReminderStage(elapsed, thresholds)
	t.UpdatedAt = now
	if err := s.tickets.Put(ctx, t); err != nil {
		return 0, fmt.Errorf("persist ticket %s: %w", ticketID, err)
	}

	ctx = committed(ctx)
	text := fmt.Sprintf("%s Ticket #%s has been waiting %s for a staff response.",
		s.catalog.StaffMention, t.ID, elapsed.Truncate(time.Minute))
	delivered := s.bestEffort(ctx, t.ID, "send_message", func(ctx context.Context) error {
		_, err := s.gateway.SendMessage(ctx, t.ChannelRef, gateway.OutgoingMessage{Content: text})
		return err
	})
	s.logger.Info("reminder fired",
		zap.String("ticket_id", t.ID),
		zap.Int("stage", t.ReminderStage),
		zap.Duration("elapsed", elapsed),
		zap.Bool("delivered", delivered))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventReminderFired,
		TicketID: t.ID,
		Actor:    events.Actor{Type: domain.SubjectTypeStaff, ID: domain.SystemActorID},
		Payload:  events.ReminderFiredPayload{Stage: t.ReminderStage, Elapsed: elapsed, Delivered: delivered},
	})
	return t.ReminderStage, nil
}

// ListTickets returns every ticket record.
func (s *TicketService) ListTickets(ctx context.Context) ([]domain.Ticket, error) {
	return s.tickets.All(ctx)
}
