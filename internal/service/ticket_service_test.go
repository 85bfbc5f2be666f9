package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/ticketdesk/internal/domain"
	"github.com/spec-kit/ticketdesk/internal/gateway"
	"github.com/spec-kit/ticketdesk/internal/gateway/gatewaytest"
	"github.com/spec-kit/ticketdesk/internal/lifecycle"
)

func TestCreateTicket_OpensChannelAndPersists(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")

	if len(ticket.ID) != 6 {
		t.Fatalf("expected six digit id, got %q", ticket.ID)
	}
	if ticket.State != domain.TicketStateOpen || ticket.RoutingCategory != "general" {
		t.Fatalf("unexpected ticket %+v", ticket)
	}
	if ticket.ExternalID == nil || *ticket.ExternalID != "76561198000000000" {
		t.Fatalf("expected external id from steamid field, got %v", ticket.ExternalID)
	}
	ch, ok := h.gw.Channel(ticket.ChannelRef)
	if !ok {
		t.Fatalf("channel %s missing", ticket.ChannelRef)
	}
	if ch.Name != ticket.ID || ch.Parent != "routing-general" {
		t.Fatalf("channel name/parent = %s/%s", ch.Name, ch.Parent)
	}
	if ch.Access["U1"] != gateway.AccessReadWrite {
		t.Fatalf("owner should have access, got %v", ch.Access)
	}

	stored := h.reload(t, ticket.ID)
	if stored.ControlMessageRef == nil {
		t.Fatal("expected control message reference to be stored")
	}
	display := ch.Messages[*stored.ControlMessageRef]
	if len(display.Controls) != 4 || display.Controls[0].ID != EncodeControlID(lifecycle.ActionClaim, ticket.ID) {
		t.Fatalf("unexpected controls %+v", display.Controls)
	}
	if closeCtl := display.Controls[3]; closeCtl.ID != EncodeControlID(lifecycle.ActionClose, ticket.ID) || !closeCtl.RequiresReason {
		t.Fatalf("close control should ask for a reason: %+v", closeCtl)
	}

	dms := h.gw.DirectMessages("U1")
	if len(dms) != 1 || !strings.Contains(dms[0], ticket.ID) {
		t.Fatalf("expected one confirmation DM, got %v", dms)
	}
}

func TestCreateTicket_RejectsInvalidForm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateTicket(ctx, "U1", "refund", generalFields())
	var validation *domain.ValidationError
	if !errors.As(err, &validation) || validation.Field != "category" {
		t.Fatalf("expected category validation error, got %v", err)
	}
	_, err = h.svc.CreateTicket(ctx, "U1", "general", map[string]string{"steamid": "7656"})
	if !errors.As(err, &validation) || validation.Field != "issue" {
		t.Fatalf("expected missing issue error, got %v", err)
	}
	if calls := h.gw.Calls(""); len(calls) != 0 {
		t.Fatalf("expected no gateway calls, got %d", len(calls))
	}
}

func TestCreateTicket_ConcurrentSameOwnerYieldsOneTicket(t *testing.T) {
	h := newHarness(t)
	const attempts = 10

	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.CreateTicket(context.Background(), "U1", "general", generalFields())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		var dup *domain.DuplicateOpenTicketError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &dup):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one success, got %d", succeeded)
	}
	if n := h.gw.ChannelCount(); n != 1 {
		t.Fatalf("expected one channel, got %d", n)
	}
}

func TestCreateTicket_DuplicateCarriesExistingID(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, "U1")

	_, err := h.svc.CreateTicket(context.Background(), "U1", "kit", map[string]string{"steamid": "1", "description": "lost kit"})
	var dup *domain.DuplicateOpenTicketError
	if !errors.As(err, &dup) || dup.TicketID != first.ID {
		t.Fatalf("expected duplicate of %s, got %v", first.ID, err)
	}
}

func TestCreateTicket_SelfHealsDeletedChannel(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, "U1")
	h.gw.DeleteExternally(first.ChannelRef)

	second := h.create(t, "U1")
	if second.ID == first.ID {
		t.Fatal("expected a new ticket id")
	}
	old := h.reload(t, first.ID)
	if !old.IsClosed() || *old.ClosedBy != domain.SystemActorID || *old.ArchiveBucket != "general" {
		t.Fatalf("stale ticket not self-healed: %+v", old)
	}
}

func TestCreateTicket_SelfHealsChannelParkedInArchive(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, "U1")
	h.gw.MoveExternally(first.ChannelRef, "archive-kit")

	h.create(t, "U1")
	old := h.reload(t, first.ID)
	if !old.IsClosed() || *old.ArchiveBucket != "kit" {
		t.Fatalf("expected closure into the kit bucket, got %+v", old)
	}
}

func TestCreateTicket_TransientCheckFailureRejects(t *testing.T) {
	h := newHarness(t)
	first := h.create(t, "U1")
	h.gw.Fail(gatewaytest.OpChannelInfo, errors.New("timeout"))

	_, err := h.svc.CreateTicket(context.Background(), "U1", "general", generalFields())
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if n := h.gw.ChannelCount(); n != 1 {
		t.Fatalf("expected no new channel, got %d", n)
	}
	if h.reload(t, first.ID).IsClosed() {
		t.Fatal("existing ticket must stay open on a transient failure")
	}
}

func TestCreateTicket_DirectMessageFailurePostsWarning(t *testing.T) {
	h := newHarness(t)
	h.gw.RejectDirectMessages("U1")

	ticket := h.create(t, "U1")
	var warned bool
	for _, msg := range h.gw.Messages(ticket.ChannelRef) {
		if strings.Contains(msg.Content, "Could not send a direct message to <@U1>") {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a visible warning in the ticket channel")
	}
}

func TestCreateTicket_PersistFailureTearsDownChannel(t *testing.T) {
	var repo *failingPuts
	h := newHarness(t, func(d *TicketDependencies) {
		repo = &failingPuts{TicketRepository: d.TicketRepo}
		d.TicketRepo = repo
	})
	repo.arm(domain.ErrStoreUnavailable)

	_, err := h.svc.CreateTicket(context.Background(), "U1", "general", generalFields())
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store error, got %v", err)
	}
	if n := h.gw.ChannelCount(); n != 0 {
		t.Fatalf("expected channel teardown, %d channels remain", n)
	}
	if len(h.gw.Calls(gatewaytest.OpDeleteChannel)) != 1 {
		t.Fatal("expected one delete call")
	}
	if len(h.gw.DirectMessages("U1")) != 0 {
		t.Fatal("owner must not be told about a ticket that was never stored")
	}
}

func TestApplyEvent_ClaimReflectsOnGateway(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")

	got, err := h.svc.ApplyEvent(context.Background(), ticket.ID, lifecycle.Claim(staff("S1")))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.State != domain.TicketStateClaimed || *got.AssigneeID != "S1" {
		t.Fatalf("unexpected ticket %+v", got)
	}
	ch, _ := h.gw.Channel(ticket.ChannelRef)
	if ch.Name != "claimed-"+ticket.ID {
		t.Fatalf("channel name = %s", ch.Name)
	}
	display := ch.Messages[*got.ControlMessageRef]
	if display.Controls[0].ID != EncodeControlID(lifecycle.ActionUnclaim, ticket.ID) {
		t.Fatalf("expected unclaim control, got %+v", display.Controls[0])
	}
	msgs := h.gw.Messages(ticket.ChannelRef)
	if last := msgs[len(msgs)-1].Content; last != "<@S1> has claimed this ticket!" {
		t.Fatalf("unexpected announcement %q", last)
	}
	if !strings.Contains(ch.Topic, "Claimed by <@S1>") {
		t.Fatalf("topic not updated: %q", ch.Topic)
	}
}

func TestApplyEvent_RejectsNonStaff(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")
	user := domain.Actor{ID: "U1", Subject: domain.SubjectTypeUser}

	_, err := h.svc.ApplyEvent(context.Background(), ticket.ID, lifecycle.Claim(user))
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestApplyEvent_InvalidTransitionLeavesRecord(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")
	ctx := context.Background()
	if _, err := h.svc.ApplyEvent(ctx, ticket.ID, lifecycle.Claim(staff("S1"))); err != nil {
		t.Fatalf("claim: %v", err)
	}
	before := h.reload(t, ticket.ID)

	_, err := h.svc.ApplyEvent(ctx, ticket.ID, lifecycle.Claim(staff("S2")))
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if after := h.reload(t, ticket.ID); after.Revision != before.Revision || *after.AssigneeID != "S1" {
		t.Fatalf("record changed: %+v", after)
	}
}

func TestApplyEvent_ClosedTicketRejectsEverythingWithoutGatewayCalls(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")
	ctx := context.Background()
	if _, err := h.svc.ApplyEvent(ctx, ticket.ID, lifecycle.Close(staff("S1"), "general", "resolved")); err != nil {
		t.Fatalf("close: %v", err)
	}
	callsBefore := len(h.gw.Calls(""))

	evs := []lifecycle.Event{
		lifecycle.Claim(staff("S1")),
		lifecycle.Unclaim(staff("S1")),
		lifecycle.SetPending(staff("S1")),
		lifecycle.Transfer(staff("S1"), "kit"),
		lifecycle.Close(staff("S1"), "general", "again"),
		lifecycle.AddNote(staff("S1"), "late note"),
	}
	for _, ev := range evs {
		if _, err := h.svc.ApplyEvent(ctx, ticket.ID, ev); !errors.Is(err, domain.ErrAlreadyArchived) {
			t.Fatalf("%s: expected already archived, got %v", ev.Kind, err)
		}
	}
	if after := len(h.gw.Calls("")); after != callsBefore {
		t.Fatalf("expected no gateway calls, got %d more", after-callsBefore)
	}
}

func TestApplyEvent_CloseNotifiesOwnerOnceAndArchives(t *testing.T) {
	h := newHarness(t)
	ticket, err := h.svc.CreateTicket(context.Background(), "U1", "cheater", map[string]string{
		"steamid": "76561198000000000", "reportedid": "76561198000000001", "reason": "aimbot", "evidence": "clip",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	closed, err := h.svc.ApplyEvent(context.Background(), ticket.ID, lifecycle.Close(staff("S1"), "cheater", "banned the reported player"))
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	var notices []string
	for _, dm := range h.gw.DirectMessages("U1") {
		if strings.HasPrefix(dm, "Your Ticket Has Been Closed") {
			notices = append(notices, dm)
		}
	}
	if len(notices) != 1 || !strings.Contains(notices[0], "banned the reported player") {
		t.Fatalf("expected one close notice with the reason, got %v", notices)
	}
	ch, _ := h.gw.Channel(ticket.ChannelRef)
	if ch.Parent != "archive-cheater" || ch.Name != "archived-"+ticket.ID {
		t.Fatalf("channel parent/name = %s/%s", ch.Parent, ch.Name)
	}
	if ch.Access["U1"] != gateway.AccessReadOnly {
		t.Fatalf("owner access = %s", ch.Access["U1"])
	}
	if display := ch.Messages[*closed.ControlMessageRef]; len(display.Controls) != 0 {
		t.Fatalf("closed ticket still shows controls: %+v", display.Controls)
	}
}

func TestApplyEvent_GatewayFailureDoesNotRollBack(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")
	h.gw.Fail(gatewaytest.OpRenameChannel, errors.New("rate limited"))

	if _, err := h.svc.ApplyEvent(context.Background(), ticket.ID, lifecycle.SetPending(staff("S1"))); err != nil {
		t.Fatalf("pending: %v", err)
	}
	if got := h.reload(t, ticket.ID); got.State != domain.TicketStatePending {
		t.Fatalf("expected pending record, got %s", got.State)
	}
	msgs := h.gw.Messages(ticket.ChannelRef)
	if last := msgs[len(msgs)-1].Content; last != "@support-staff This ticket is waiting for approval!" {
		t.Fatalf("unexpected staff ping %q", last)
	}
}

func TestApplyEvent_TransferMovesChannel(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")

	got, err := h.svc.ApplyEvent(context.Background(), ticket.ID, lifecycle.Transfer(staff("S1"), "unban"))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got.RoutingCategory != "unban" || got.Category != "general" {
		t.Fatalf("unexpected categories %s/%s", got.Category, got.RoutingCategory)
	}
	ch, _ := h.gw.Channel(ticket.ChannelRef)
	if ch.Parent != "routing-unban" {
		t.Fatalf("channel parent = %s", ch.Parent)
	}
}

func TestAddNote_RendersNotesInDisplay(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")

	got, err := h.svc.AddNote(context.Background(), ticket.ID, staff("S1"), "checked server logs")
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	ch, _ := h.gw.Channel(ticket.ChannelRef)
	display := ch.Messages[*got.ControlMessageRef]
	notes := display.Fields[len(display.Fields)-1]
	if notes.Name != "Notes" || !strings.Contains(notes.Value, "<@S1>: checked server logs") {
		t.Fatalf("unexpected notes field %+v", notes)
	}
}

func TestSearch_TierPrecedence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	byExternal := h.create(t, "U1")
	h.clock.Advance(time.Minute)
	// owner id equal to the first ticket's external id
	byOwner := h.create(t, "76561198000000000")

	res, err := h.svc.Search(ctx, byOwner.ID)
	if err != nil || res.Tier != SearchTierTicketID || res.Tickets[0].ID != byOwner.ID {
		t.Fatalf("ticket id tier: %+v %v", res, err)
	}
	res, err = h.svc.Search(ctx, "76561198000000000")
	if err != nil || res.Tier != SearchTierExternalID || len(res.Tickets) != 2 {
		t.Fatalf("external id tier: %+v %v", res, err)
	}
	if res.Tickets[0].ID != byExternal.ID {
		t.Fatalf("expected oldest first, got %s", res.Tickets[0].ID)
	}
	res, err = h.svc.Search(ctx, "U1")
	if err != nil || res.Tier != SearchTierOwnerID || len(res.Tickets) != 1 {
		t.Fatalf("owner tier: %+v %v", res, err)
	}
	res, err = h.svc.Search(ctx, "nobody")
	if err != nil || res.Tier != SearchTierNone || len(res.Tickets) != 0 {
		t.Fatalf("no match: %+v %v", res, err)
	}
}

func TestSearch_RejectsBadQueries(t *testing.T) {
	h := newHarness(t)
	for _, q := range []string{"", "   ", strings.Repeat("9", MaxSearchQueryLength+1)} {
		var validation *domain.ValidationError
		if _, err := h.svc.Search(context.Background(), q); !errors.As(err, &validation) {
			t.Fatalf("query %q: expected validation error, got %v", q, err)
		}
	}
}

func TestRelayInboundMessage_Outcomes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	outcome, err := h.svc.RelayInboundMessage(ctx, gateway.InboundMessage{UserID: "U9", Content: "hello?"})
	if err != nil || outcome != RelayNoOpenTicket {
		t.Fatalf("no ticket: %s %v", outcome, err)
	}

	ticket := h.create(t, "U1")
	in := gateway.InboundMessage{
		UserID:      "U1",
		Content:     "here is my screenshot",
		Attachments: []gateway.Attachment{{Name: "shot.png", URL: "https://files.example/shot.png"}},
	}
	for i := 0; i < 2; i++ {
		outcome, err = h.svc.RelayInboundMessage(ctx, in)
		if err != nil || outcome != RelayDelivered {
			t.Fatalf("relay %d: %s %v", i, outcome, err)
		}
	}
	var forwarded int
	for _, msg := range h.gw.Messages(ticket.ChannelRef) {
		if msg.Content == "<@U1>: here is my screenshot" && len(msg.Attachments) == 1 {
			forwarded++
		}
	}
	if forwarded != 2 {
		t.Fatalf("expected each relay forwarded, got %d", forwarded)
	}
	h.gw.DeleteExternally(ticket.ChannelRef)
	outcome, err = h.svc.RelayInboundMessage(ctx, in)
	if err != nil || outcome != RelayTicketClosed {
		t.Fatalf("deleted channel: %s %v", outcome, err)
	}
	if !h.reload(t, ticket.ID).IsClosed() {
		t.Fatal("expected self-heal close")
	}
	outcome, _ = h.svc.RelayInboundMessage(ctx, in)
	if outcome != RelayNoOpenTicket {
		t.Fatalf("after close: %s", outcome)
	}
}

func TestRelayInboundMessage_RejectsEmpty(t *testing.T) {
	h := newHarness(t)
	var validation *domain.ValidationError
	if _, err := h.svc.RelayInboundMessage(context.Background(), gateway.InboundMessage{UserID: "U1", Content: "  "}); !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSendToOwner(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")
	ctx := context.Background()

	if err := h.svc.SendToOwner(ctx, ticket.ID, staff("S1"), "please rejoin now"); err != nil {
		t.Fatalf("send: %v", err)
	}
	dms := h.gw.DirectMessages("U1")
	if last := dms[len(dms)-1]; !strings.Contains(last, "please rejoin now") || !strings.Contains(last, ticket.ID) {
		t.Fatalf("unexpected DM %q", last)
	}
	msgs := h.gw.Messages(ticket.ChannelRef)
	if last := msgs[len(msgs)-1].Content; !strings.HasPrefix(last, "Sent to <@U1> by <@S1>") {
		t.Fatalf("expected echo in channel, got %q", last)
	}

	if _, err := h.svc.ApplyEvent(ctx, ticket.ID, lifecycle.Close(staff("S1"), "general", "done")); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.svc.SendToOwner(ctx, ticket.ID, staff("S1"), "one more thing"); !errors.Is(err, domain.ErrAlreadyArchived) {
		t.Fatalf("expected already archived, got %v", err)
	}
}

func TestForceClose(t *testing.T) {
	h := newHarness(t)
	ticket, err := h.svc.CreateTicket(context.Background(), "U1", "kit", map[string]string{"steamid": "1", "description": "lost kit"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ctx := context.Background()

	if _, err := h.svc.ForceClose(ctx, ticket.ID, staff("S1"), ""); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("agent force close: expected forbidden, got %v", err)
	}
	got, err := h.svc.ForceClose(ctx, ticket.ID, admin("A1"), "")
	if err != nil {
		t.Fatalf("force close: %v", err)
	}
	if *got.ArchiveBucket != h.catalog.DefaultArchiveBucket || *got.CloseReason != DefaultForceCloseReason {
		t.Fatalf("unexpected close %s/%s", *got.ArchiveBucket, *got.CloseReason)
	}
}

func TestRefreshControls_ReplacesDisplay(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")
	original := *h.reload(t, ticket.ID).ControlMessageRef

	got, err := h.svc.RefreshControls(context.Background(), ticket.ID, staff("S1"))
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if *got.ControlMessageRef == original {
		t.Fatal("expected a new control message")
	}
	ch, _ := h.gw.Channel(ticket.ChannelRef)
	if len(ch.Messages[original].Controls) != 0 {
		t.Fatal("old display should lose its controls")
	}
	if len(ch.Messages[*got.ControlMessageRef].Controls) == 0 {
		t.Fatal("new display should carry controls")
	}
}

func TestRefreshControls_FindsDisplayWithoutStoredReference(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")
	stored := h.reload(t, ticket.ID)
	original := *stored.ControlMessageRef
	stored.ControlMessageRef = nil
	if err := h.tickets.Put(context.Background(), stored); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, err := h.svc.RefreshControls(context.Background(), ticket.ID, staff("S1")); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	ch, _ := h.gw.Channel(ticket.ChannelRef)
	if len(ch.Messages[original].Controls) != 0 {
		t.Fatal("display found through history should lose its controls")
	}
}

func TestAdvanceReminder_FiresOncePerStage(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")
	thresholds := []time.Duration{5 * time.Minute, 30 * time.Minute, time.Hour}
	ctx := context.Background()

	h.clock.Advance(35 * time.Minute)
	stage, err := h.svc.AdvanceReminder(ctx, ticket.ID, thresholds)
	if err != nil || stage != 2 {
		t.Fatalf("first advance: stage %d, %v", stage, err)
	}
	stage, err = h.svc.AdvanceReminder(ctx, ticket.ID, thresholds)
	if err != nil || stage != 0 {
		t.Fatalf("repeat advance: stage %d, %v", stage, err)
	}
	if got := h.reload(t, ticket.ID).ReminderStage; got != 2 {
		t.Fatalf("stored stage = %d", got)
	}

	var reminders int
	for _, msg := range h.gw.Messages(ticket.ChannelRef) {
		if strings.Contains(msg.Content, "has been waiting") {
			reminders++
		}
	}
	if reminders != 1 {
		t.Fatalf("expected one reminder, got %d", reminders)
	}
}

func TestApplyEvent_ConcurrentClaimsAndNotes(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")
	ctx := context.Background()

	const claimers, notes = 8, 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < claimers; i++ {
		id := fmt.Sprintf("S%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.ApplyEvent(ctx, ticket.ID, lifecycle.Claim(staff(id)))
			switch {
			case err == nil:
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
			case !errors.Is(err, domain.ErrInvalidTransition):
				t.Errorf("claim by %s: %v", id, err)
			}
		}()
	}
	for i := 0; i < notes; i++ {
		text := fmt.Sprintf("note %d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.AddNote(ctx, ticket.ID, staff("N1"), text); err != nil {
				t.Errorf("add %q: %v", text, err)
			}
		}()
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one successful claim, got %v", winners)
	}
	got := h.reload(t, ticket.ID)
	if got.State != domain.TicketStateClaimed || got.AssigneeID == nil || *got.AssigneeID != winners[0] {
		t.Fatalf("assignee lost: state %s assignee %v, winner %s", got.State, got.AssigneeID, winners[0])
	}
	if len(got.Notes) != notes {
		t.Fatalf("expected %d notes, got %d", notes, len(got.Notes))
	}
}

func TestAdvanceReminder_RacingClaimLosesNothing(t *testing.T) {
	h := newHarness(t)
	thresholds := []time.Duration{5 * time.Minute, 30 * time.Minute, time.Hour}
	ctx := context.Background()

	const rounds = 16
	tickets := make([]*domain.Ticket, rounds)
	for i := range tickets {
		tickets[i] = h.create(t, fmt.Sprintf("U%d", i))
	}
	h.clock.Advance(35 * time.Minute)

	stages := make([]int, rounds)
	var wg sync.WaitGroup
	for i, ticket := range tickets {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := h.svc.ApplyEvent(ctx, ticket.ID, lifecycle.Claim(staff("S1"))); err != nil {
				t.Errorf("claim %s: %v", ticket.ID, err)
			}
		}()
		go func() {
			defer wg.Done()
			stage, err := h.svc.AdvanceReminder(ctx, ticket.ID, thresholds)
			if err != nil {
				t.Errorf("advance %s: %v", ticket.ID, err)
			}
			stages[i] = stage
		}()
	}
	wg.Wait()

	for i, ticket := range tickets {
		got := h.reload(t, ticket.ID)
		if got.State != domain.TicketStateClaimed || got.AssigneeID == nil || *got.AssigneeID != "S1" {
			t.Fatalf("ticket %s lost its claim: %s %v", ticket.ID, got.State, got.AssigneeID)
		}
		// the reminder either ran before the claim and stored stage 2, or
		// saw the claim and did nothing
		if got.ReminderStage != stages[i] || (stages[i] != 0 && stages[i] != 2) {
			t.Fatalf("ticket %s stored stage %d, advance returned %d", ticket.ID, got.ReminderStage, stages[i])
		}
	}
}

func TestAdvanceReminder_SkipsClaimedTickets(t *testing.T) {
	h := newHarness(t)
	ticket := h.create(t, "U1")
	if _, err := h.svc.ApplyEvent(context.Background(), ticket.ID, lifecycle.Claim(staff("S1"))); err != nil {
		t.Fatalf("claim: %v", err)
	}
	h.clock.Advance(2 * time.Hour)
	stage, err := h.svc.AdvanceReminder(context.Background(), ticket.ID, []time.Duration{time.Minute})
	if err != nil || stage != 0 {
		t.Fatalf("claimed ticket fired stage %d, %v", stage, err)
	}
}

func TestReminderStage(t *testing.T) {
	thresholds := []time.Duration{5 * time.Minute, 30 * time.Minute, time.Hour}
	cases := map[time.Duration]int{
		0:                0,
		4 * time.Minute:  0,
		5 * time.Minute:  1,
		35 * time.Minute: 2,
		3 * time.Hour:    3,
	}
	for elapsed, want := range cases {
		if got := ReminderStage(elapsed, thresholds); got != want {
			t.Fatalf("ReminderStage(%s) = %d, want %d", elapsed, got, want)
		}
	}
}
