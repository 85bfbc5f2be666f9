package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/config"
	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/events"
	"github.com/spec-kit/ticketdesk/internal/gateway"
	"github.com/spec-kit/ticketdesk/internal/lifecycle"
	"github.com/spec-kit/ticketdesk/internal/lock"
	"github.com/spec-kit/ticketdesk/internal/repository"
)

const (
	// MaxSearchQueryLength bounds search input.
	MaxSearchQueryLength = 64
	// DefaultForceCloseReason is used when an admin force-closes without a reason.
	DefaultForceCloseReason = "Force-closed by admin"

	defaultGatewayTimeout = 10 * time.Second
)

// IDAllocator issues never-reused ticket ids.
type IDAllocator interface {
	Allocate(ctx context.Context) (string, error)
}

// TicketService coordinates ticket workflows. The record store is the commit
// point; gateway reflection after a successful put is best effort.
type TicketService struct {
	tickets    repository.TicketRepository
	allocator  IDAllocator
	locker     lock.KeyedLocker
	gateway    gateway.Gateway
	catalog    *config.Catalog
	machine    *lifecycle.Machine
	dispatcher events.Dispatcher
	logger     *zap.Logger
	gwTimeout  time.Duration
	now        func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo     repository.TicketRepository
	Allocator      IDAllocator
	Locker         lock.KeyedLocker
	Gateway        gateway.Gateway
	Catalog        *config.Catalog
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
	GatewayTimeout time.Duration
	Now            func() time.Time
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	s := &TicketService{
		tickets:    deps.TicketRepo,
		allocator:  deps.Allocator,
		locker:     deps.Locker,
		gateway:    deps.Gateway,
		catalog:    deps.Catalog,
		machine:    lifecycle.New(deps.Catalog),
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		gwTimeout:  deps.GatewayTimeout,
		now:        deps.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.gwTimeout <= 0 {
		s.gwTimeout = defaultGatewayTimeout
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Catalog returns the ticket catalog in use.
func (s *TicketService) Catalog() *config.Catalog {
	return s.catalog
}

// CreateTicket opens a ticket for ownerID. It rejects the request while the
// owner has a live open ticket.
func (s *TicketService) CreateTicket(ctx context.Context, ownerID, category string, fields map[string]string) (*domain.Ticket, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, domain.NewValidationError("owner_id", "is required")
	}
	cat, ok := s.catalog.Category(category)
	if !ok {
		return nil, domain.NewValidationError("category", fmt.Sprintf("unknown category %q", category))
	}
	answers, err := cat.NormalizeFields(fields)
	if err != nil {
		return nil, err
	}

	unlockOwner, err := s.locker.Lock(ctx, lock.OwnerKey(ownerID))
	if err != nil {
		return nil, fmt.Errorf("lock owner: %w", err)
	}
	defer unlockOwner()

	if err := s.ensureNoLiveTicket(ctx, ownerID); err != nil {
		return nil, err
	}

	id, err := s.allocator.Allocate(ctx)
	if err != nil {
		return nil, err
	}

	var channelRef string
	err = s.call(ctx, "create_channel", func(ctx context.Context) error {
		ref, err := s.gateway.CreateChannel(ctx, gateway.ChannelSpec{
			Name:    id,
			Parent:  cat.Destination,
			Topic:   channelTopic(id, cat.Label, ownerID),
			Members: []string{ownerID},
		})
		channelRef = ref
		return err
	})
	if err != nil {
		return nil, err
	}

	unlockTicket, err := s.locker.Lock(ctx, lock.TicketKey(id))
	if err != nil {
		s.teardownChannel(id, channelRef)
		return nil, fmt.Errorf("lock ticket: %w", err)
	}
	defer unlockTicket()

	now := s.now()
	ticket := domain.Ticket{
		ID:              id,
		OwnerID:         ownerID,
		ChannelRef:      channelRef,
		Category:        cat.Key,
		Fields:          answers,
		State:           domain.TicketStateOpen,
		RoutingCategory: cat.Key,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if cat.ExternalIDField != "" {
		if v, ok := answers[cat.ExternalIDField]; ok {
			ticket.ExternalID = domain.StringPtr(v)
		}
	}
	if err := s.tickets.Put(ctx, &ticket); err != nil {
		s.teardownChannel(id, channelRef)
		return nil, fmt.Errorf("persist ticket %s: %w", id, err)
	}

	ctx = committed(ctx)
	s.postDisplay(ctx, &ticket)
	if cat.Notice != "" {
		s.bestEffort(ctx, ticket.ID, "send_message", func(ctx context.Context) error {
			_, err := s.gateway.SendMessage(ctx, channelRef, gateway.OutgoingMessage{Content: cat.Notice})
			return err
		})
	}
	s.notifyOwner(ctx, &ticket, fmt.Sprintf("Your %s ticket #%s has been created. Staff will reply in <#%s>.", cat.Label, id, channelRef))

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: id,
		Actor:    events.Actor{Type: domain.SubjectTypeUser, ID: ownerID},
		Payload: events.TicketCreatedPayload{
			Category:   cat.Key,
			OwnerID:    ownerID,
			ExternalID: ticket.ExternalID,
		},
	})
	s.logger.Info("ticket created",
		zap.String("ticket_id", id),
		zap.String("owner_id", ownerID),
		zap.String("category", cat.Key),
		zap.String("channel_ref", channelRef))

	out := ticket.Clone()
	return &out, nil
}

// ensureNoLiveTicket enforces one open ticket per owner. A stale record whose
// channel is gone or parked in an archive destination is closed first. The
// caller holds the owner lock.
func (s *TicketService) ensureNoLiveTicket(ctx context.Context, ownerID string) error {
	existing, err := s.tickets.FindOpenByOwner(ctx, ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	status, err := s.channelStatus(ctx, existing)
	if err != nil {
		// an unverifiable channel counts as live
		return err
	}
	if status.live() {
		return &domain.DuplicateOpenTicketError{TicketID: existing.ID}
	}
	_, err = s.selfHealClose(ctx, existing.ID, status)
	return err
}

func (s *TicketService) teardownChannel(ticketID, channelRef string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.gwTimeout)
	defer cancel()
	if err := s.gateway.DeleteChannel(ctx, channelRef); err != nil {
		s.logger.Error("orphaned ticket channel; manual cleanup required",
			zap.String("ticket_id", ticketID),
			zap.String("channel_ref", channelRef),
			zap.Error(err))
		return
	}
	s.logger.Warn("ticket channel torn down after failed persist",
		zap.String("ticket_id", ticketID),
		zap.String("channel_ref", channelRef))
}

// ApplyEvent loads the ticket, runs ev through the state machine, persists the
// result and reflects it on the gateway, all under the ticket lock.
func (s *TicketService) ApplyEvent(ctx context.Context, ticketID string, ev lifecycle.Event) (*domain.Ticket, error) {
	if !ev.Actor.IsStaff() {
		return nil, fmt.Errorf("%s by %s: %w", ev.Kind, ev.Actor.ID, domain.ErrForbidden)
	}
	unlock, err := s.locker.Lock(ctx, lock.TicketKey(ticketID))
	if err != nil {
		return nil, fmt.Errorf("lock ticket: %w", err)
	}
	defer unlock()

	current, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	res, err := s.machine.Apply(*current, ev, s.now())
	if err != nil {
		return nil, err
	}
	next := res.Ticket
	if err := s.tickets.Put(ctx, &next); err != nil {
		return nil, fmt.Errorf("persist ticket %s: %w", ticketID, err)
	}

	ctx = committed(ctx)
	s.reflect(ctx, &next, res.Effects)
	s.publishTransition(ctx, *current, next, ev)

	out := next.Clone()
	return &out, nil
}

// AddNote appends a staff note and re-renders the note display.
func (s *TicketService) AddNote(ctx context.Context, ticketID string, author domain.Actor, text string) (*domain.Ticket, error) {
	return s.ApplyEvent(ctx, ticketID, lifecycle.AddNote(author, text))
}

// ForceClose closes a ticket into the default archive bucket. Admin only.
func (s *TicketService) ForceClose(ctx context.Context, ticketID string, actor domain.Actor, reason string) (*domain.Ticket, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("force close by %s: %w", actor.ID, domain.ErrForbidden)
	}
	if strings.TrimSpace(reason) == "" {
		reason = DefaultForceCloseReason
	}
	return s.ApplyEvent(ctx, ticketID, lifecycle.Close(actor, s.catalog.DefaultArchiveBucket, reason))
}

// Get returns one ticket.
func (s *TicketService) Get(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return s.tickets.Get(ctx, ticketID)
}

// SendToOwner delivers a staff reply to the ticket owner and echoes it in the
// ticket channel.
func (s *TicketService) SendToOwner(ctx context.Context, ticketID string, actor domain.Actor, text string) error {
	if !actor.IsStaff() {
		return fmt.Errorf("send by %s: %w", actor.ID, domain.ErrForbidden)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.NewValidationError("text", "message must not be empty")
	}
	unlock, err := s.locker.Lock(ctx, lock.TicketKey(ticketID))
	if err != nil {
		return fmt.Errorf("lock ticket: %w", err)
	}
	defer unlock()

	t, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.IsClosed() {
		return fmt.Errorf("send on %s: %w", ticketID, domain.ErrAlreadyArchived)
	}
	dm := fmt.Sprintf("Staff reply on ticket #%s from %s:\n%s", t.ID, actor.Name(), text)
	if err := s.call(ctx, "send_direct_message", func(ctx context.Context) error {
		return s.gateway.SendDirectMessage(ctx, t.OwnerID, dm)
	}); err != nil {
		return err
	}
	s.bestEffort(committed(ctx), t.ID, "send_message", func(ctx context.Context) error {
		_, err := s.gateway.SendMessage(ctx, t.ChannelRef, gateway.OutgoingMessage{
			Content: fmt.Sprintf("Sent to %s by %s: %s", lifecycle.Mention(t.OwnerID), lifecycle.Mention(actor.ID), text),
		})
		return err
	})
	return nil
}

// RefreshControls re-posts the status display and controls, replacing the
// stored control message.
func (s *TicketService) RefreshControls(ctx context.Context, ticketID string, actor domain.Actor) (*domain.Ticket, error) {
	if !actor.IsStaff() {
		return nil, fmt.Errorf("refresh by %s: %w", actor.ID, domain.ErrForbidden)
	}
	unlock, err := s.locker.Lock(ctx, lock.TicketKey(ticketID))
	if err != nil {
		return nil, fmt.Errorf("lock ticket: %w", err)
	}
	defer unlock()

	t, err := s.tickets.Get(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.IsClosed() {
		return nil, fmt.Errorf("refresh %s: %w", ticketID, domain.ErrAlreadyArchived)
	}

	previous := t.ControlMessageRef
	if previous == nil {
		if id, ok := s.findDisplayMessage(ctx, t); ok {
			previous = domain.StringPtr(id)
		}
	}
	var messageID string
	err = s.call(ctx, "send_message", func(ctx context.Context) error {
		id, err := s.gateway.SendMessage(ctx, t.ChannelRef, s.renderDisplay(*t, true))
		messageID = id
		return err
	})
	if err != nil {
		return nil, err
	}
	t.ControlMessageRef = domain.StringPtr(messageID)
	t.UpdatedAt = s.now()
	if err := s.tickets.Put(ctx, t); err != nil {
		return nil, fmt.Errorf("persist ticket %s: %w", ticketID, err)
	}
	if previous != nil {
		stale := *previous
		s.bestEffort(committed(ctx), t.ID, "edit_message", func(ctx context.Context) error {
			return s.gateway.EditMessage(ctx, t.ChannelRef, stale, s.renderDisplay(*t, false))
		})
	}
	out := t.Clone()
	return &out, nil
}

// committed detaches ctx from the caller's deadline once the record is
// stored. Each gateway call still gets its own timeout.
func committed(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// call runs one gateway operation with the configured timeout and wraps its
// error as a domain.GatewayError.
func (s *TicketService) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.gwTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		return &domain.GatewayError{Op: op, Err: err}
	}
	return nil
}

// bestEffort runs a gateway operation whose failure must not fail the caller.
func (s *TicketService) bestEffort(ctx context.Context, ticketID, op string, fn func(context.Context) error) bool {
	err := s.call(ctx, op, fn)
	if err == nil {
		return true
	}
	s.logger.Warn("gateway reflection failed",
		zap.String("ticket_id", ticketID),
		zap.String("op", op),
		zap.Error(err))
	s.publishEvent(ctx, events.Event{
		Type:     events.EventGatewayFailed,
		TicketID: ticketID,
		Actor:    events.Actor{Type: domain.SubjectTypeStaff, ID: domain.SystemActorID},
		Payload:  events.GatewayFailedPayload{Op: op, Error: err.Error()},
	})
	return false
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func (s *TicketService) publishTransition(ctx context.Context, before, after domain.Ticket, ev lifecycle.Event) {
	actor := events.Actor{Type: ev.Actor.Subject, ID: ev.Actor.ID}
	switch ev.Kind {
	case lifecycle.EventClose:
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketClosed,
			TicketID: after.ID,
			Actor:    actor,
			Payload:  events.TicketClosedPayload{Bucket: *after.ArchiveBucket, Reason: *after.CloseReason},
		})
	case lifecycle.EventAddNote:
		s.publishEvent(ctx, events.Event{
			Type:     events.EventNoteAdded,
			TicketID: after.ID,
			Actor:    actor,
			Payload:  events.NoteAddedPayload{NoteCount: len(after.Notes)},
		})
	default:
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketTransitioned,
			TicketID: after.ID,
			Actor:    actor,
			Payload: events.TicketTransitionedPayload{
				Event:           string(ev.Kind),
				OldState:        before.State,
				NewState:        after.State,
				RoutingCategory: after.RoutingCategory,
			},
		})
	}
}

func channelTopic(ticketID, categoryLabel, ownerID string) string {
	return fmt.Sprintf("Ticket #%s | %s | opened by %s", ticketID, categoryLabel, lifecycle.Mention(ownerID))
}
