package service

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/allocator"
	"github.com/spec-kit/ticketdesk/internal/config"
	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/events"
	"github.com/spec-kit/ticketdesk/internal/gateway"
	"github.com/spec-kit/ticketdesk/internal/gateway/gatewaytest"
	"github.com/spec-kit/ticketdesk/internal/lock"
	"github.com/spec-kit/ticketdesk/internal/persistence"
	"github.com/spec-kit/ticketdesk/internal/repository"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc        *TicketService
	gw         *gatewaytest.Fake
	tickets    repository.TicketRepository
	catalog    *config.Catalog
	clock      *fakeClock
	dispatcher events.Dispatcher
}

type harnessOption func(*TicketDependencies)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	dir := t.TempDir()
	catalog, err := config.LoadCatalog("")
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	ticketDoc, err := persistence.NewJSONDocument(filepath.Join(dir, "tickets.json"), false, zap.NewNop())
	if err != nil {
		t.Fatalf("tickets document: %v", err)
	}
	issuedDoc, err := persistence.NewJSONDocument(filepath.Join(dir, "issued.json"), false, zap.NewNop())
	if err != nil {
		t.Fatalf("issued document: %v", err)
	}
	locker := lock.NewMemoryLocker()
	clock := &fakeClock{now: testStart}
	h := &harness{
		gw:         gatewaytest.New(),
		tickets:    repository.NewFileTicketRepository(ticketDoc),
		catalog:    catalog,
		clock:      clock,
		dispatcher: events.NewInMemoryDispatcher(),
	}
	deps := TicketDependencies{
		TicketRepo: h.tickets,
		Allocator: allocator.New(allocator.Dependencies{
			Issued: repository.NewFileIssuedIDRepository(issuedDoc),
			Locker: locker,
			Now:    clock.Now,
		}),
		Locker:         locker,
		Gateway:        h.gw,
		Catalog:        catalog,
		Dispatcher:     h.dispatcher,
		Logger:         zap.NewNop(),
		GatewayTimeout: time.Second,
		Now:            clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.tickets = deps.TicketRepo
	h.svc = NewTicketService(deps)
	return h
}

func generalFields() map[string]string {
	return map[string]string{"steamid": "76561198000000000", "issue": "cannot join the server"}
}

func (h *harness) create(t *testing.T, owner string) *domain.Ticket {
	t.Helper()
	ticket, err := h.svc.CreateTicket(context.Background(), owner, "general", generalFields())
	if err != nil {
		t.Fatalf("create ticket for %s: %v", owner, err)
	}
	return ticket
}

func (h *harness) reload(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	ticket, err := h.tickets.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return ticket
}

func staff(id string) domain.Actor {
	role := domain.StaffRoleAgent
	return domain.Actor{ID: id, DisplayName: "Agent " + id, Subject: domain.SubjectTypeStaff, Role: &role}
}

func admin(id string) domain.Actor {
	role := domain.StaffRoleAdmin
	return domain.Actor{ID: id, DisplayName: "Admin " + id, Subject: domain.SubjectTypeStaff, Role: &role}
}

// failingPuts wraps a repository and fails Put once armed.
type failingPuts struct {
	repository.TicketRepository
	mu  sync.Mutex
	err error
}

func (f *failingPuts) arm(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *failingPuts) Put(ctx context.Context, t *domain.Ticket) error {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.TicketRepository.Put(ctx, t)
}

// slowGateway delays every call once a delay is set, honouring the call's
// context like a real platform client.
type slowGateway struct {
	gateway.Gateway
	delay atomic.Int64
}

func (g *slowGateway) slowDown(d time.Duration) { g.delay.Store(int64(d)) }

func (g *slowGateway) pause(ctx context.Context) error {
	d := time.Duration(g.delay.Load())
	if d == 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *slowGateway) CreateChannel(ctx context.Context, spec gateway.ChannelSpec) (string, error) {
	if err := g.pause(ctx); err != nil {
		return "", err
	}
	return g.Gateway.CreateChannel(ctx, spec)
}

func (g *slowGateway) DeleteChannel(ctx context.Context, ref string) error {
	if err := g.pause(ctx); err != nil {
		return err
	}
	return g.Gateway.DeleteChannel(ctx, ref)
}

func (g *slowGateway) RenameChannel(ctx context.Context, ref, name string) error {
	if err := g.pause(ctx); err != nil {
		return err
	}
	return g.Gateway.RenameChannel(ctx, ref, name)
}

func (g *slowGateway) SetChannelParent(ctx context.Context, ref, parent string) error {
	if err := g.pause(ctx); err != nil {
		return err
	}
	return g.Gateway.SetChannelParent(ctx, ref, parent)
}

func (g *slowGateway) SetChannelTopic(ctx context.Context, ref, topic string) error {
	if err := g.pause(ctx); err != nil {
		return err
	}
	return g.Gateway.SetChannelTopic(ctx, ref, topic)
}

func (g *slowGateway) SetMemberAccess(ctx context.Context, ref, userID string, access gateway.Access) error {
	if err := g.pause(ctx); err != nil {
		return err
	}
	return g.Gateway.SetMemberAccess(ctx, ref, userID, access)
}

func (g *slowGateway) SendMessage(ctx context.Context, ref string, msg gateway.OutgoingMessage) (string, error) {
	if err := g.pause(ctx); err != nil {
		return "", err
	}
	return g.Gateway.SendMessage(ctx, ref, msg)
}

func (g *slowGateway) EditMessage(ctx context.Context, ref, messageID string, msg gateway.OutgoingMessage) error {
	if err := g.pause(ctx); err != nil {
		return err
	}
	return g.Gateway.EditMessage(ctx, ref, messageID, msg)
}

func (g *slowGateway) SendDirectMessage(ctx context.Context, userID, content string) error {
	if err := g.pause(ctx); err != nil {
		return err
	}
	return g.Gateway.SendDirectMessage(ctx, userID, content)
}

func (g *slowGateway) FetchRecentMessages(ctx context.Context, ref string, limit int) ([]gateway.Message, error) {
	if err := g.pause(ctx); err != nil {
		return nil, err
	}
	return g.Gateway.FetchRecentMessages(ctx, ref, limit)
}

func (g *slowGateway) ChannelInfo(ctx context.Context, ref string) (gateway.ChannelInfo, error) {
	if err := g.pause(ctx); err != nil {
		return gateway.ChannelInfo{}, err
	}
	return g.Gateway.ChannelInfo(ctx, ref)
}
