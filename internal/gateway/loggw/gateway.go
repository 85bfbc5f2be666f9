// Package loggw is a dry-run gateway. It keeps channel state in memory so the
// ticket workflow behaves normally, and logs every platform call instead of
// sending it.
package loggw

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/gateway"
)

type channel struct {
	name     string
	parent   string
	topic    string
	messages []gateway.Message
}

// Gateway logs platform calls.
type Gateway struct {
	mu       sync.Mutex
	seq      int
	channels map[string]*channel
	logger   *zap.Logger
	now      func() time.Time
}

var (
	_ gateway.Gateway          = (*Gateway)(nil)
	_ gateway.CommandPublisher = (*Gateway)(nil)
)

// New builds a dry-run gateway.
func New(logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		channels: make(map[string]*channel),
		logger:   logger.Named("log_gateway"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (g *Gateway) lookup(ref string) (*channel, error) {
	ch, ok := g.channels[ref]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", ref, gateway.ErrChannelNotFound)
	}
	return ch, nil
}

func (g *Gateway) CreateChannel(_ context.Context, spec gateway.ChannelSpec) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	ref := fmt.Sprintf("log-%d", g.seq)
	g.channels[ref] = &channel{name: spec.Name, parent: spec.Parent, topic: spec.Topic}
	g.logger.Info("create channel",
		zap.String("ref", ref),
		zap.String("name", spec.Name),
		zap.String("parent", spec.Parent),
		zap.Strings("members", spec.Members))
	return ref, nil
}

func (g *Gateway) DeleteChannel(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.lookup(ref); err != nil {
		return err
	}
	delete(g.channels, ref)
	g.logger.Info("delete channel", zap.String("ref", ref))
	return nil
}

func (g *Gateway) RenameChannel(_ context.Context, ref, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, err := g.lookup(ref)
	if err != nil {
		return err
	}
	ch.name = name
	g.logger.Info("rename channel", zap.String("ref", ref), zap.String("name", name))
	return nil
}

func (g *Gateway) SetChannelParent(_ context.Context, ref, parent string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, err := g.lookup(ref)
	if err != nil {
		return err
	}
	ch.parent = parent
	g.logger.Info("move channel", zap.String("ref", ref), zap.String("parent", parent))
	return nil
}

func (g *Gateway) SetChannelTopic(_ context.Context, ref, topic string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, err := g.lookup(ref)
	if err != nil {
		return err
	}
	ch.topic = topic
	g.logger.Info("set topic", zap.String("ref", ref), zap.String("topic", topic))
	return nil
}

func (g *Gateway) SetMemberAccess(_ context.Context, ref, userID string, access gateway.Access) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.lookup(ref); err != nil {
		return err
	}
	g.logger.Info("set member access", zap.String("ref", ref), zap.String("user_id", userID), zap.String("access", string(access)))
	return nil
}

func (g *Gateway) SendMessage(_ context.Context, ref string, msg gateway.OutgoingMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, err := g.lookup(ref)
	if err != nil {
		return "", err
	}
	g.seq++
	id := fmt.Sprintf("msg-%d", g.seq)
	ch.messages = append(ch.messages, gateway.Message{ID: id, AuthorID: "bot", Content: msg.Content, CreatedAt: g.now()})
	g.logger.Info("send message", append([]zap.Field{zap.String("ref", ref), zap.String("message_id", id)}, messageFields(msg)...)...)
	return id, nil
}

func (g *Gateway) EditMessage(_ context.Context, ref, messageID string, msg gateway.OutgoingMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, err := g.lookup(ref)
	if err != nil {
		return err
	}
	for i := range ch.messages {
		if ch.messages[i].ID == messageID {
			ch.messages[i].Content = msg.Content
			g.logger.Info("edit message", append([]zap.Field{zap.String("ref", ref), zap.String("message_id", messageID)}, messageFields(msg)...)...)
			return nil
		}
	}
	return fmt.Errorf("message %s not found in %s", messageID, ref)
}

func (g *Gateway) SendDirectMessage(_ context.Context, userID, content string) error {
	g.logger.Info("direct message", zap.String("user_id", userID), zap.String("content", content))
	return nil
}

// FetchRecentMessages returns up to limit messages, newest first.
func (g *Gateway) FetchRecentMessages(_ context.Context, ref string, limit int) ([]gateway.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, err := g.lookup(ref)
	if err != nil {
		return nil, err
	}
	out := make([]gateway.Message, 0, limit)
	for i := len(ch.messages) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, ch.messages[i])
	}
	return out, nil
}

func (g *Gateway) ChannelInfo(_ context.Context, ref string) (gateway.ChannelInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, err := g.lookup(ref)
	if err != nil {
		return gateway.ChannelInfo{}, err
	}
	return gateway.ChannelInfo{Ref: ref, Name: ch.name, Parent: ch.parent}, nil
}

// PublishCommands logs the command list.
func (g *Gateway) PublishCommands(_ context.Context, defs []gateway.CommandDefinition) error {
	for _, def := range defs {
		g.logger.Info("command",
			zap.String("name", def.Name),
			zap.String("description", def.Description),
			zap.Strings("options", def.Options),
			zap.Bool("staff_only", def.StaffOnly))
	}
	return nil
}

func messageFields(msg gateway.OutgoingMessage) []zap.Field {
	controls := make([]string, 0, len(msg.Controls))
	for _, c := range msg.Controls {
		controls = append(controls, c.ID)
	}
	fields := make([]string, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		fields = append(fields, f.Name+"="+f.Value)
	}
	return []zap.Field{
		zap.String("content", msg.Content),
		zap.String("fields", strings.Join(fields, "; ")),
		zap.Strings("controls", controls),
		zap.Int("attachments", len(msg.Attachments)),
	}
}
