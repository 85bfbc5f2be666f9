// Package gateway is the boundary to the chat platform. The core talks to
// channels, messages and direct messages only through Gateway.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrChannelNotFound means the channel no longer exists on the platform.
// Every other error from a Gateway is treated as transient.
var ErrChannelNotFound = errors.New("channel not found")

// Access is a member's permission level on a channel.
type Access string

const (
	AccessNone      Access = "none"
	AccessReadOnly  Access = "read_only"
	AccessReadWrite Access = "read_write"
)

// ChannelSpec describes a channel to create.
type ChannelSpec struct {
	Name   string
	Parent string // routing destination
	Topic  string
	// Members get read-write access; everyone else except staff is excluded.
	Members []string
}

// ChannelInfo is the live state of a channel.
type ChannelInfo struct {
	Ref    string
	Name   string
	Parent string
}

// Option is one choice of a select control.
type Option struct {
	Value string
	Label string
}

// Control is an interactive element attached to a message.
type Control struct {
	ID       string
	Label    string
	Disabled bool
	Danger   bool
	// RequiresReason asks the driver to collect a typed reason before it
	// reports the activation under ReasonValue.
	RequiresReason bool
	Options        []Option
}

// Field is a titled block of a status display.
type Field struct {
	Name  string
	Value string
}

// Attachment is a file forwarded by URL.
type Attachment struct {
	Name string
	URL  string
}

// OutgoingMessage is a message to post or an edit to apply. An edit with nil
// Controls removes all controls.
type OutgoingMessage struct {
	Content     string
	Fields      []Field
	Attachments []Attachment
	Controls    []Control
}

// Message is a message read back from a channel.
type Message struct {
	ID        string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

// Gateway is the outbound messaging contract.
type Gateway interface {
	CreateChannel(ctx context.Context, spec ChannelSpec) (string, error)
	DeleteChannel(ctx context.Context, ref string) error
	RenameChannel(ctx context.Context, ref, name string) error
	SetChannelParent(ctx context.Context, ref, parent string) error
	SetChannelTopic(ctx context.Context, ref, topic string) error
	SetMemberAccess(ctx context.Context, ref, userID string, access Access) error
	SendMessage(ctx context.Context, ref string, msg OutgoingMessage) (string, error)
	EditMessage(ctx context.Context, ref, messageID string, msg OutgoingMessage) error
	SendDirectMessage(ctx context.Context, userID, content string) error
	FetchRecentMessages(ctx context.Context, ref string, limit int) ([]Message, error)
	ChannelInfo(ctx context.Context, ref string) (ChannelInfo, error)
}

// CommandDefinition is a staff or user command exposed by the platform.
type CommandDefinition struct {
	Name        string
	Description string
	Options     []string
	StaffOnly   bool
}

// CommandPublisher is implemented by gateways that can register commands.
type CommandPublisher interface {
	PublishCommands(ctx context.Context, defs []CommandDefinition) error
}

// FormSubmission is a user opening a ticket.
type FormSubmission struct {
	UserID   string
	Category string
	Fields   map[string]string
}

// SelectedValue is the Values key a driver uses for the option picked on a
// select control.
const SelectedValue = "selected"

// ReasonValue is the Values key for a reason typed on a RequiresReason control.
const ReasonValue = "reason"

// ControlActivation is a press on an interactive control.
type ControlActivation struct {
	ControlID  string
	ActorID    string
	ActorName  string
	ChannelRef string
	Values     map[string]string
}

// InboundMessage is a direct message to the bot.
type InboundMessage struct {
	UserID      string
	Content     string
	Attachments []Attachment
}

// Command is a staff command invocation.
type Command struct {
	Name       string
	ActorID    string
	ActorName  string
	ChannelRef string
	Args       map[string]string
}

// InboundHandler receives platform events. Listeners call it and reply to the
// actor with the returned text when it is non-empty.
type InboundHandler interface {
	FormSubmitted(ctx context.Context, in FormSubmission) (string, error)
	ControlActivated(ctx context.Context, in ControlActivation) (string, error)
	DirectMessageReceived(ctx context.Context, in InboundMessage) (string, error)
	CommandInvoked(ctx context.Context, in Command) (string, error)
}
