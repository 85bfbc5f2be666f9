package loggw

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/ticketdesk/internal/gateway"
)

func TestGateway_TracksChannelState(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	g := New(zap.New(core))
	ctx := context.Background()

	ref, err := g.CreateChannel(ctx, gateway.ChannelSpec{Name: "123456", Parent: "routing-general", Members: []string{"U1"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := g.SetChannelParent(ctx, ref, "archive-general"); err != nil {
		t.Fatalf("move: %v", err)
	}
	info, err := g.ChannelInfo(ctx, ref)
	if err != nil || info.Parent != "archive-general" || info.Name != "123456" {
		t.Fatalf("unexpected info %+v (%v)", info, err)
	}

	first, _ := g.SendMessage(ctx, ref, gateway.OutgoingMessage{Content: "first", Controls: []gateway.Control{{ID: "ticket:claim:123456"}}})
	if _, err := g.SendMessage(ctx, ref, gateway.OutgoingMessage{Content: "second"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := g.EditMessage(ctx, ref, first, gateway.OutgoingMessage{Content: "first edited"}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	recent, _ := g.FetchRecentMessages(ctx, ref, 10)
	if len(recent) != 2 || recent[0].Content != "second" || recent[1].Content != "first edited" {
		t.Fatalf("unexpected history %+v", recent)
	}

	if logs.FilterMessage("send message").Len() != 2 {
		t.Fatalf("expected two send logs, got %d", logs.FilterMessage("send message").Len())
	}
}

func TestGateway_DeletedChannelIsNotFound(t *testing.T) {
	g := New(nil)
	ctx := context.Background()
	ref, _ := g.CreateChannel(ctx, gateway.ChannelSpec{Name: "654321"})
	if err := g.DeleteChannel(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := g.ChannelInfo(ctx, ref); !errors.Is(err, gateway.ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
	if _, err := g.SendMessage(ctx, ref, gateway.OutgoingMessage{Content: "x"}); !errors.Is(err, gateway.ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound on send, got %v", err)
	}
}

func TestGateway_PublishCommandsLogsEach(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	g := New(zap.New(core))
	err := g.PublishCommands(context.Background(), []gateway.CommandDefinition{
		{Name: "ticket-note"}, {Name: "ticket-search"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if logs.FilterMessage("command").Len() != 2 {
		t.Fatalf("expected two command logs, got %d", logs.FilterMessage("command").Len())
	}
}
