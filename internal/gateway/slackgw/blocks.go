package slackgw

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/spec-kit/ticketdesk/internal/gateway"
)

// Slack rejects section text over 3000 characters and action blocks over 25
// elements.
const (
	maxSectionText    = 3000
	maxActionElements = 25
)

// Action block ids. Activations from reasonBlockID open the reason modal
// instead of reaching the handler directly.
const (
	controlsBlockID = "controls"
	reasonBlockID   = "controls_reason"
)

// messageOptions renders msg as plain text plus blocks. The text copy keeps
// the header searchable through conversation history.
func messageOptions(msg gateway.OutgoingMessage) []slack.MsgOption {
	return []slack.MsgOption{
		slack.MsgOptionText(msg.Content, false),
		slack.MsgOptionBlocks(buildBlocks(msg)...),
	}
}

func buildBlocks(msg gateway.OutgoingMessage) []slack.Block {
	var blocks []slack.Block
	if msg.Content != "" {
		blocks = append(blocks, section(msg.Content))
	}
	for _, f := range msg.Fields {
		blocks = append(blocks, section(fmt.Sprintf("*%s*\n%s", f.Name, f.Value)))
	}
	if len(msg.Attachments) > 0 {
		links := make([]slack.MixedElement, 0, len(msg.Attachments))
		for _, a := range msg.Attachments {
			links = append(links, slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("<%s|%s>", a.URL, a.Name), false, false))
		}
		blocks = append(blocks, slack.NewContextBlock("attachments", links...))
	}

	var direct, prompted []slack.BlockElement
	for _, ctl := range msg.Controls {
		if ctl.Disabled || len(direct)+len(prompted) == maxActionElements {
			continue
		}
		if ctl.RequiresReason {
			prompted = append(prompted, controlElement(ctl))
		} else {
			direct = append(direct, controlElement(ctl))
		}
	}
	if len(direct) > 0 {
		blocks = append(blocks, slack.NewActionBlock(controlsBlockID, direct...))
	}
	if len(prompted) > 0 {
		blocks = append(blocks, slack.NewActionBlock(reasonBlockID, prompted...))
	}
	return blocks
}

func section(text string) *slack.SectionBlock {
	if len(text) > maxSectionText {
		text = text[:maxSectionText-3] + "..."
	}
	return slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
}

func controlElement(ctl gateway.Control) slack.BlockElement {
	label := slack.NewTextBlockObject(slack.PlainTextType, ctl.Label, false, false)
	if len(ctl.Options) == 0 {
		btn := slack.NewButtonBlockElement(ctl.ID, ctl.ID, label)
		if ctl.Danger {
			btn = btn.WithStyle(slack.StyleDanger)
			if !ctl.RequiresReason {
				btn = btn.WithConfirm(confirmFor(ctl.Label))
			}
		}
		return btn
	}
	opts := make([]*slack.OptionBlockObject, 0, len(ctl.Options))
	for _, o := range ctl.Options {
		opts = append(opts, slack.NewOptionBlockObject(o.Value, slack.NewTextBlockObject(slack.PlainTextType, o.Label, false, false), nil))
	}
	sel := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, label, ctl.ID, opts...)
	if ctl.Danger && !ctl.RequiresReason {
		sel.Confirm = confirmFor(ctl.Label)
	}
	return sel
}

func confirmFor(label string) *slack.ConfirmationBlockObject {
	return slack.NewConfirmationBlockObject(
		slack.NewTextBlockObject(slack.PlainTextType, "Are you sure?", false, false),
		slack.NewTextBlockObject(slack.PlainTextType, strings.TrimSpace(label)+" this ticket?", false, false),
		slack.NewTextBlockObject(slack.PlainTextType, label, false, false),
		slack.NewTextBlockObject(slack.PlainTextType, "Cancel", false, false),
	)
}
