package slackgw

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/config"
	"github.com/spec-kit/ticketdesk/internal/gateway"
)

// OpenTicketCommand is the user command that opens the category picker.
const OpenTicketCommand = "ticket"

const (
	formCallbackID   = "ticket_form"
	reasonCallbackID = "control_reason"
	openFormPrefix   = "open_form:"
	maxModalTitle    = 24
	maxReasonLength  = 1000
	handlerTimeout   = 30 * time.Second
)

// reasonRequest rides in the reason modal's private metadata so the
// submission can be replayed as the original activation.
type reasonRequest struct {
	ControlID string `json:"control_id"`
	Channel   string `json:"channel"`
	Selected  string `json:"selected,omitempty"`
}

// ListenerDependencies bundles collaborators for the listener.
type ListenerDependencies struct {
	API      slackAPI
	Handler  gateway.InboundHandler
	Catalog  *config.Catalog
	Commands []gateway.CommandDefinition
	// Describe renders a handler error as a reply to the actor.
	Describe func(error) string
	Logger   *zap.Logger
}

// Listener turns Socket Mode events into InboundHandler calls.
type Listener struct {
	api      slackAPI
	handler  gateway.InboundHandler
	catalog  *config.Catalog
	commands map[string]gateway.CommandDefinition
	describe func(error) string
	logger   *zap.Logger

	socket *socketmode.Client
	ack    func(req socketmode.Request, payload ...interface{})
}

// NewListener builds a listener. Run needs a socket client attached with
// WithSocket.
func NewListener(deps ListenerDependencies) *Listener {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	describe := deps.Describe
	if describe == nil {
		describe = func(err error) string { return err.Error() }
	}
	commands := make(map[string]gateway.CommandDefinition, len(deps.Commands))
	for _, def := range deps.Commands {
		commands[def.Name] = def
	}
	return &Listener{
		api:      deps.API,
		handler:  deps.Handler,
		catalog:  deps.Catalog,
		commands: commands,
		describe: describe,
		logger:   logger.Named("slack_listener"),
		ack:      func(socketmode.Request, ...interface{}) {},
	}
}

// WithSocket attaches a Socket Mode client built on client.
func (l *Listener) WithSocket(client *slack.Client, debug bool) *Listener {
	l.socket = socketmode.New(client, socketmode.OptionDebug(debug))
	l.ack = func(req socketmode.Request, payload ...interface{}) {
		l.socket.Ack(req, payload...)
	}
	return l
}

// Run processes events until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-l.socket.Events:
				if !ok {
					return
				}
				l.handleEvent(ctx, evt)
			}
		}
	}()
	return l.socket.RunContext(ctx)
}

func (l *Listener) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		l.logger.Info("connecting to socket mode")
	case socketmode.EventTypeConnected:
		l.logger.Info("connected to socket mode")
	case socketmode.EventTypeConnectionError:
		l.logger.Warn("socket mode connection error", zap.Any("data", evt.Data))

	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		l.ackRequest(evt)
		l.handleEventsAPI(ctx, apiEvent)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		l.ackRequest(evt)
		l.handleSlashCommand(ctx, cmd)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		l.ackRequest(evt)
		l.handleInteraction(ctx, callback)
	}
}

func (l *Listener) ackRequest(evt socketmode.Event) {
	if evt.Request != nil {
		l.ack(*evt.Request)
	}
}

func (l *Listener) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || ev.ChannelType != "im" || ev.BotID != "" {
		return
	}
	if ev.SubType != "" && ev.SubType != "file_share" {
		return
	}
	in := gateway.InboundMessage{UserID: ev.User, Content: ev.Text}
	for _, f := range ev.Files {
		in.Attachments = append(in.Attachments, gateway.Attachment{Name: f.Name, URL: f.URLPrivate})
	}

	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	reply, err := l.handler.DirectMessageReceived(hctx, in)
	if err != nil {
		reply = l.describe(err)
	}
	if reply != "" {
		l.post(hctx, ev.Channel, reply)
	}
}

func (l *Listener) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	name := strings.TrimPrefix(cmd.Command, "/")
	if name == OpenTicketCommand {
		category := strings.TrimSpace(cmd.Text)
		if category == "" {
			l.postPanel(hctx, cmd.ChannelID, cmd.UserID)
			return
		}
		l.openForm(hctx, cmd.TriggerID, cmd.ChannelID, cmd.UserID, category)
		return
	}

	def, ok := l.commands[name]
	if !ok {
		l.ephemeral(hctx, cmd.ChannelID, cmd.UserID, "Unknown command: "+cmd.Command)
		return
	}
	reply, err := l.handler.CommandInvoked(hctx, gateway.Command{
		Name:       name,
		ActorID:    cmd.UserID,
		ActorName:  cmd.UserName,
		ChannelRef: cmd.ChannelID,
		Args:       ParseCommandArgs(def.Options, cmd.Text),
	})
	if err != nil {
		reply = l.describe(err)
	}
	if reply != "" {
		l.ephemeral(hctx, cmd.ChannelID, cmd.UserID, reply)
	}
}

func (l *Listener) handleInteraction(ctx context.Context, callback slack.InteractionCallback) {
	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	switch callback.Type {
	case slack.InteractionTypeViewSubmission:
		switch callback.View.CallbackID {
		case formCallbackID:
			l.submitForm(hctx, callback)
		case reasonCallbackID:
			l.submitReason(hctx, callback)
		}
		return
	case slack.InteractionTypeBlockActions:
	default:
		return
	}

	for _, action := range callback.ActionCallback.BlockActions {
		if category, ok := strings.CutPrefix(action.ActionID, openFormPrefix); ok {
			l.openForm(hctx, callback.TriggerID, callback.Channel.ID, callback.User.ID, category)
			continue
		}
		if action.BlockID == reasonBlockID {
			l.openReason(hctx, callback.TriggerID, reasonRequest{
				ControlID: action.ActionID,
				Channel:   callback.Channel.ID,
				Selected:  action.SelectedOption.Value,
			})
			continue
		}
		values := map[string]string{}
		if action.SelectedOption.Value != "" {
			values[gateway.SelectedValue] = action.SelectedOption.Value
		}
		l.activate(hctx, callback.User, callback.Channel.ID, action.ActionID, values)
	}
}

func (l *Listener) activate(ctx context.Context, user slack.User, channelID, controlID string, values map[string]string) {
	reply, err := l.handler.ControlActivated(ctx, gateway.ControlActivation{
		ControlID:  controlID,
		ActorID:    user.ID,
		ActorName:  user.Name,
		ChannelRef: channelID,
		Values:     values,
	})
	if err != nil {
		reply = l.describe(err)
	}
	if reply != "" {
		l.ephemeral(ctx, channelID, user.ID, reply)
	}
}

func (l *Listener) openReason(ctx context.Context, triggerID string, req reasonRequest) {
	if _, err := l.api.OpenViewContext(ctx, triggerID, reasonView(req)); err != nil {
		l.logger.Warn("open reason modal failed", zap.String("control_id", req.ControlID), zap.Error(err))
	}
}

func (l *Listener) submitReason(ctx context.Context, callback slack.InteractionCallback) {
	var req reasonRequest
	if err := json.Unmarshal([]byte(callback.View.PrivateMetadata), &req); err != nil || req.ControlID == "" {
		l.logger.Warn("reason submission without a control", zap.String("user_id", callback.User.ID), zap.Error(err))
		return
	}
	values := map[string]string{}
	if req.Selected != "" {
		values[gateway.SelectedValue] = req.Selected
	}
	if callback.View.State != nil {
		if block, ok := callback.View.State.Values[gateway.ReasonValue]; ok {
			values[gateway.ReasonValue] = strings.TrimSpace(block[gateway.ReasonValue].Value)
		}
	}
	l.activate(ctx, callback.User, req.Channel, req.ControlID, values)
}

// reasonView builds the modal that collects a reason for req.
func reasonView(req reasonRequest) slack.ModalViewRequest {
	meta, _ := json.Marshal(req)
	input := slack.NewPlainTextInputBlockElement(nil, gateway.ReasonValue)
	input.Multiline = true
	input.MaxLength = maxReasonLength
	block := slack.NewInputBlock(gateway.ReasonValue, slack.NewTextBlockObject(slack.PlainTextType, "Reason", false, false), nil, input)
	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      reasonCallbackID,
		PrivateMetadata: string(meta),
		Title:           slack.NewTextBlockObject(slack.PlainTextType, "Reason required", false, false),
		Submit:          slack.NewTextBlockObject(slack.PlainTextType, "Confirm", false, false),
		Close:           slack.NewTextBlockObject(slack.PlainTextType, "Cancel", false, false),
		Blocks:          slack.Blocks{BlockSet: []slack.Block{block}},
	}
}

func (l *Listener) submitForm(ctx context.Context, callback slack.InteractionCallback) {
	category := callback.View.PrivateMetadata
	fields := map[string]string{}
	if l.catalog != nil && callback.View.State != nil {
		if cat, ok := l.catalog.Category(category); ok {
			for _, f := range cat.Fields {
				if block, ok := callback.View.State.Values[f.Key]; ok {
					fields[f.Key] = block[f.Key].Value
				}
			}
		}
	}
	reply, err := l.handler.FormSubmitted(ctx, gateway.FormSubmission{
		UserID:   callback.User.ID,
		Category: category,
		Fields:   fields,
	})
	if err != nil {
		reply = l.describe(err)
	}
	if reply != "" {
		l.directMessage(ctx, callback.User.ID, reply)
	}
}

// postPanel shows the user one button per category.
func (l *Listener) postPanel(ctx context.Context, channelID, userID string) {
	var buttons []slack.BlockElement
	for _, cat := range l.catalog.Categories {
		buttons = append(buttons, slack.NewButtonBlockElement(openFormPrefix+cat.Key, cat.Key,
			slack.NewTextBlockObject(slack.PlainTextType, cat.Label, false, false)))
	}
	blocks := []slack.Block{
		section("What do you need help with?"),
		slack.NewActionBlock("categories", buttons...),
	}
	if _, err := l.api.PostEphemeralContext(ctx, channelID, userID, slack.MsgOptionBlocks(blocks...)); err != nil {
		l.logger.Warn("post panel failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (l *Listener) openForm(ctx context.Context, triggerID, channelID, userID, category string) {
	cat, ok := l.catalog.Category(category)
	if !ok {
		l.ephemeral(ctx, channelID, userID, "Unknown ticket category: "+category)
		return
	}
	if _, err := l.api.OpenViewContext(ctx, triggerID, formView(cat)); err != nil {
		l.logger.Warn("open form failed", zap.String("category", category), zap.Error(err))
	}
}

// formView builds the modal for a category. Block and action ids are the
// field keys.
func formView(cat config.Category) slack.ModalViewRequest {
	blocks := make([]slack.Block, 0, len(cat.Fields))
	for _, f := range cat.Fields {
		var placeholder *slack.TextBlockObject
		if f.Placeholder != "" {
			placeholder = slack.NewTextBlockObject(slack.PlainTextType, f.Placeholder, false, false)
		}
		input := slack.NewPlainTextInputBlockElement(placeholder, f.Key)
		input.Multiline = f.Multiline
		input.MaxLength = f.MaxLength
		block := slack.NewInputBlock(f.Key, slack.NewTextBlockObject(slack.PlainTextType, f.Label, false, false), nil, input)
		block.Optional = !f.Required
		blocks = append(blocks, block)
	}
	title := cat.Label
	if utf8.RuneCountInString(title) > maxModalTitle {
		title = string([]rune(title)[:maxModalTitle])
	}
	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      formCallbackID,
		PrivateMetadata: cat.Key,
		Title:           slack.NewTextBlockObject(slack.PlainTextType, title, false, false),
		Submit:          slack.NewTextBlockObject(slack.PlainTextType, "Open ticket", false, false),
		Close:           slack.NewTextBlockObject(slack.PlainTextType, "Cancel", false, false),
		Blocks:          slack.Blocks{BlockSet: blocks},
	}
}

// ParseCommandArgs maps whitespace separated text onto the option names. The
// last option takes the rest of the text.
func ParseCommandArgs(options []string, text string) map[string]string {
	args := make(map[string]string, len(options))
	rest := strings.TrimSpace(text)
	for i, opt := range options {
		if rest == "" {
			break
		}
		if i == len(options)-1 {
			args[opt] = rest
			break
		}
		head, tail, _ := strings.Cut(rest, " ")
		args[opt] = head
		rest = strings.TrimSpace(tail)
	}
	return args
}

func (l *Listener) post(ctx context.Context, channelID, text string) {
	if _, _, err := l.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false)); err != nil {
		l.logger.Warn("reply failed", zap.String("channel", channelID), zap.Error(err))
	}
}

func (l *Listener) ephemeral(ctx context.Context, channelID, userID, text string) {
	if channelID == "" {
		l.directMessage(ctx, userID, text)
		return
	}
	if _, err := l.api.PostEphemeralContext(ctx, channelID, userID, slack.MsgOptionText(text, false)); err != nil {
		l.logger.Warn("ephemeral reply failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func (l *Listener) directMessage(ctx context.Context, userID, text string) {
	ch, _, _, err := l.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{userID}})
	if err != nil {
		l.logger.Warn("open im failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	l.post(ctx, ch.ID, text)
}
