package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/events"
	"github.com/spec-kit/ticketdesk/internal/observability"
)

// NotificationService turns domain events into audit logs and metrics.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, metrics *observability.Metrics) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketTransitioned, n.handleTicketTransitioned)
	n.dispatcher.Subscribe(events.EventTicketClosed, n.handleTicketClosed)
	n.dispatcher.Subscribe(events.EventNoteAdded, n.handleNoteAdded)
	n.dispatcher.Subscribe(events.EventReminderFired, n.handleReminderFired)
	n.dispatcher.Subscribe(events.EventMessageRelayed, n.handleMessageRelayed)
	n.dispatcher.Subscribe(events.EventGatewayFailed, n.handleGatewayFailed)
}

func (n *NotificationService) handleTicketCreated(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.TicketCreatedPayload)
	n.metrics.TicketCreated(payload.Category)
	n.audit(event, zap.String("category", payload.Category), zap.String("owner_id", payload.OwnerID))
	return nil
}

func (n *NotificationService) handleTicketTransitioned(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.TicketTransitionedPayload)
	n.metrics.Transition(payload.Event)
	n.audit(event,
		zap.String("event", payload.Event),
		zap.String("old_state", string(payload.OldState)),
		zap.String("new_state", string(payload.NewState)),
		zap.String("routing_category", payload.RoutingCategory))
	return nil
}

func (n *NotificationService) handleTicketClosed(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.TicketClosedPayload)
	n.metrics.TicketClosed(payload.Bucket, payload.SelfHealed)
	n.audit(event,
		zap.String("bucket", payload.Bucket),
		zap.String("reason", payload.Reason),
		zap.Bool("self_healed", payload.SelfHealed))
	return nil
}

func (n *NotificationService) handleNoteAdded(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.NoteAddedPayload)
	n.metrics.Transition("note")
	n.audit(event, zap.Int("note_count", payload.NoteCount))
	return nil
}

func (n *NotificationService) handleReminderFired(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.ReminderFiredPayload)
	n.metrics.ReminderFired(payload.Stage)
	n.audit(event, zap.Int("stage", payload.Stage), zap.Bool("delivered", payload.Delivered))
	return nil
}

func (n *NotificationService) handleMessageRelayed(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.MessageRelayedPayload)
	n.metrics.Relayed(payload.Outcome)
	n.logger.Debug("message relayed",
		zap.String("ticket_id", event.TicketID),
		zap.String("outcome", payload.Outcome),
		zap.Int("attachments", payload.Attachments))
	return nil
}

func (n *NotificationService) handleGatewayFailed(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.GatewayFailedPayload)
	n.metrics.GatewayFailure(payload.Op)
	return nil
}

func (n *NotificationService) audit(event events.Event, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.String("actor_id", event.Actor.ID),
		zap.Time("at", event.Timestamp),
	}
	n.logger.Info("ticket event", append(base, fields...)...)
}
