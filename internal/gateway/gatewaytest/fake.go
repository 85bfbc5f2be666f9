// Package gatewaytest provides an in-memory Gateway that records every call.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spec-kit/ticketdesk/internal/gateway"
)

// Operation names used for call recording and failure injection.
const (
	OpCreateChannel    = "create_channel"
	OpDeleteChannel    = "delete_channel"
	OpRenameChannel    = "rename_channel"
	OpSetChannelParent = "set_channel_parent"
	OpSetChannelTopic  = "set_channel_topic"
	OpSetMemberAccess  = "set_member_access"
	OpSendMessage      = "send_message"
	OpEditMessage      = "edit_message"
	OpSendDirect       = "send_direct_message"
	OpFetchMessages    = "fetch_recent_messages"
	OpChannelInfo      = "channel_info"
)

// Call is one recorded gateway invocation.
type Call struct {
	Op   string
	Ref  string
	Arg  string
	Msg  gateway.OutgoingMessage
	Time time.Time
}

// Channel is the fake's view of a platform channel.
type Channel struct {
	Ref      string
	Name     string
	Parent   string
	Topic    string
	Access   map[string]gateway.Access
	Messages map[string]gateway.OutgoingMessage
	Order    []string
}

// Fake implements gateway.Gateway in memory.
type Fake struct {
	mu       sync.Mutex
	seq      int
	channels map[string]*Channel
	dms      map[string][]string
	calls    []Call
	failures map[string]error
	dmFail   map[string]bool
}

// New builds an empty Fake.
func New() *Fake {
	return &Fake{
		channels: map[string]*Channel{},
		dms:      map[string][]string{},
		failures: map[string]error{},
		dmFail:   map[string]bool{},
	}
}

// Fail makes every call to op return err until cleared with a nil err.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op)
		return
	}
	f.failures[op] = err
}

// RejectDirectMessages makes direct messages to userID fail.
func (f *Fake) RejectDirectMessages(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dmFail[userID] = true
}

// DeleteExternally removes a channel as if someone deleted it on the platform.
func (f *Fake) DeleteExternally(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels, ref)
}

// MoveExternally changes a channel's parent without going through the core.
func (f *Fake) MoveExternally(ref, parent string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.channels[ref]; ok {
		ch.Parent = parent
	}
}

// Channel returns a snapshot of a channel.
func (f *Fake) Channel(ref string) (Channel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[ref]
	if !ok {
		return Channel{}, false
	}
	out := *ch
	out.Access = make(map[string]gateway.Access, len(ch.Access))
	for k, v := range ch.Access {
		out.Access[k] = v
	}
	out.Messages = make(map[string]gateway.OutgoingMessage, len(ch.Messages))
	for k, v := range ch.Messages {
		out.Messages[k] = v
	}
	out.Order = append([]string(nil), ch.Order...)
	return out, true
}

// ChannelCount returns how many channels exist.
func (f *Fake) ChannelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

// DirectMessages returns the direct messages delivered to userID.
func (f *Fake) DirectMessages(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dms[userID]...)
}

// Calls returns the recorded calls, optionally filtered to one op.
func (f *Fake) Calls(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Messages returns the contents posted to ref in order, including edits as
// they stand now.
func (f *Fake) Messages(ref string) []gateway.OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[ref]
	if !ok {
		return nil
	}
	out := make([]gateway.OutgoingMessage, 0, len(ch.Order))
	for _, id := range ch.Order {
		out = append(out, ch.Messages[id])
	}
	return out
}

func (f *Fake) record(c Call) error {
	c.Time = time.Now()
	f.calls = append(f.calls, c)
	return f.failures[c.Op]
}

func (f *Fake) channel(ref string) (*Channel, error) {
	ch, ok := f.channels[ref]
	if !ok {
		return nil, gateway.ErrChannelNotFound
	}
	return ch, nil
}

func (f *Fake) CreateChannel(_ context.Context, spec gateway.ChannelSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpCreateChannel, Arg: spec.Name}); err != nil {
		return "", err
	}
	f.seq++
	ref := fmt.Sprintf("C%04d", f.seq)
	access := map[string]gateway.Access{}
	for _, m := range spec.Members {
		access[m] = gateway.AccessReadWrite
	}
	f.channels[ref] = &Channel{
		Ref:      ref,
		Name:     spec.Name,
		Parent:   spec.Parent,
		Topic:    spec.Topic,
		Access:   access,
		Messages: map[string]gateway.OutgoingMessage{},
	}
	return ref, nil
}

func (f *Fake) DeleteChannel(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpDeleteChannel, Ref: ref}); err != nil {
		return err
	}
	if _, err := f.channel(ref); err != nil {
		return err
	}
	delete(f.channels, ref)
	return nil
}

func (f *Fake) RenameChannel(_ context.Context, ref, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpRenameChannel, Ref: ref, Arg: name}); err != nil {
		return err
	}
	ch, err := f.channel(ref)
	if err != nil {
		return err
	}
	ch.Name = name
	return nil
}

func (f *Fake) SetChannelParent(_ context.Context, ref, parent string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpSetChannelParent, Ref: ref, Arg: parent}); err != nil {
		return err
	}
	ch, err := f.channel(ref)
	if err != nil {
		return err
	}
	ch.Parent = parent
	return nil
}

func (f *Fake) SetChannelTopic(_ context.Context, ref, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpSetChannelTopic, Ref: ref, Arg: topic}); err != nil {
		return err
	}
	ch, err := f.channel(ref)
	if err != nil {
		return err
	}
	ch.Topic = topic
	return nil
}

func (f *Fake) SetMemberAccess(_ context.Context, ref, userID string, access gateway.Access) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpSetMemberAccess, Ref: ref, Arg: userID + "=" + string(access)}); err != nil {
		return err
	}
	ch, err := f.channel(ref)
	if err != nil {
		return err
	}
	ch.Access[userID] = access
	return nil
}

func (f *Fake) SendMessage(_ context.Context, ref string, msg gateway.OutgoingMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpSendMessage, Ref: ref, Arg: msg.Content, Msg: msg}); err != nil {
		return "", err
	}
	ch, err := f.channel(ref)
	if err != nil {
		return "", err
	}
	f.seq++
	id := fmt.Sprintf("M%04d", f.seq)
	ch.Messages[id] = msg
	ch.Order = append(ch.Order, id)
	return id, nil
}

func (f *Fake) EditMessage(_ context.Context, ref, messageID string, msg gateway.OutgoingMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpEditMessage, Ref: ref, Arg: messageID, Msg: msg}); err != nil {
		return err
	}
	ch, err := f.channel(ref)
	if err != nil {
		return err
	}
	if _, ok := ch.Messages[messageID]; !ok {
		return fmt.Errorf("message %s not found", messageID)
	}
	ch.Messages[messageID] = msg
	return nil
}

func (f *Fake) SendDirectMessage(_ context.Context, userID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpSendDirect, Ref: userID, Arg: content}); err != nil {
		return err
	}
	if f.dmFail[userID] {
		return fmt.Errorf("user %s does not accept direct messages", userID)
	}
	f.dms[userID] = append(f.dms[userID], content)
	return nil
}

func (f *Fake) FetchRecentMessages(_ context.Context, ref string, limit int) ([]gateway.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpFetchMessages, Ref: ref}); err != nil {
		return nil, err
	}
	ch, err := f.channel(ref)
	if err != nil {
		return nil, err
	}
	var out []gateway.Message
	for i := len(ch.Order) - 1; i >= 0 && len(out) < limit; i-- {
		id := ch.Order[i]
		out = append(out, gateway.Message{ID: id, Content: ch.Messages[id].Content})
	}
	return out, nil
}

func (f *Fake) ChannelInfo(_ context.Context, ref string) (gateway.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: OpChannelInfo, Ref: ref}); err != nil {
		return gateway.ChannelInfo{}, err
	}
	ch, err := f.channel(ref)
	if err != nil {
		return gateway.ChannelInfo{}, err
	}
	return gateway.ChannelInfo{Ref: ch.Ref, Name: ch.Name, Parent: ch.Parent}, nil
}
