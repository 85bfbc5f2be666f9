// Package slackgw drives the messaging gateway over the Slack Web API and
// listens for interactions over Socket Mode.
//
// Slack has no channel categories, so a channel's routing or archive
// destination is kept in its purpose. Slack also has no read-only members;
// restricting the owner removes them from the channel.
package slackgw

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/spec-kit/ticketdesk/internal/config"
	"github.com/spec-kit/ticketdesk/internal/gateway"
)

const parentPrefix = "ticketdesk-parent:"

// slackAPI is the subset of *slack.Client the driver uses.
type slackAPI interface {
	CreateConversationContext(ctx context.Context, params slack.CreateConversationParams) (*slack.Channel, error)
	ArchiveConversationContext(ctx context.Context, channelID string) error
	RenameConversationContext(ctx context.Context, channelID, channelName string) (*slack.Channel, error)
	SetTopicOfConversationContext(ctx context.Context, channelID, topic string) (*slack.Channel, error)
	SetPurposeOfConversationContext(ctx context.Context, channelID, purpose string) (*slack.Channel, error)
	InviteUsersToConversationContext(ctx context.Context, channelID string, users ...string) (*slack.Channel, error)
	KickUserFromConversationContext(ctx context.Context, channelID string, user string) error
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	OpenViewContext(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error)
}

// NewClient builds a Slack client from configuration.
func NewClient(cfg config.GatewayConfig) *slack.Client {
	opts := []slack.Option{slack.OptionDebug(cfg.SlackDebug)}
	if cfg.SlackAppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(cfg.SlackAppToken))
	}
	return slack.New(cfg.SlackBotToken, opts...)
}

// Gateway implements gateway.Gateway on Slack.
type Gateway struct {
	api    slackAPI
	staff  []string
	logger *zap.Logger
}

var _ gateway.Gateway = (*Gateway)(nil)

// New builds the driver. Staff user ids are invited to every ticket channel.
func New(api slackAPI, staffIDs []string, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{api: api, staff: staffIDs, logger: logger.Named("slack")}
}

// CreateChannel opens a private channel for the owner and staff.
func (g *Gateway) CreateChannel(ctx context.Context, spec gateway.ChannelSpec) (string, error) {
	ch, err := g.api.CreateConversationContext(ctx, slack.CreateConversationParams{
		ChannelName: spec.Name,
		IsPrivate:   true,
	})
	if err != nil {
		return "", mapError(err)
	}
	ref := ch.ID
	if spec.Parent != "" {
		if _, err := g.api.SetPurposeOfConversationContext(ctx, ref, parentPrefix+spec.Parent); err != nil {
			return ref, mapError(err)
		}
	}
	if spec.Topic != "" {
		if _, err := g.api.SetTopicOfConversationContext(ctx, ref, spec.Topic); err != nil {
			return ref, mapError(err)
		}
	}
	members := append(append([]string{}, spec.Members...), g.staff...)
	if len(members) > 0 {
		if _, err := g.api.InviteUsersToConversationContext(ctx, ref, members...); err != nil && !isSlackError(err, "already_in_channel") {
			return ref, mapError(err)
		}
	}
	return ref, nil
}

// DeleteChannel archives the channel; bot tokens cannot delete conversations.
func (g *Gateway) DeleteChannel(ctx context.Context, ref string) error {
	if err := g.api.ArchiveConversationContext(ctx, ref); err != nil && !isSlackError(err, "already_archived") {
		return mapError(err)
	}
	return nil
}

func (g *Gateway) RenameChannel(ctx context.Context, ref, name string) error {
	_, err := g.api.RenameConversationContext(ctx, ref, name)
	return mapError(err)
}

func (g *Gateway) SetChannelParent(ctx context.Context, ref, parent string) error {
	_, err := g.api.SetPurposeOfConversationContext(ctx, ref, parentPrefix+parent)
	return mapError(err)
}

func (g *Gateway) SetChannelTopic(ctx context.Context, ref, topic string) error {
	_, err := g.api.SetTopicOfConversationContext(ctx, ref, topic)
	return mapError(err)
}

// SetMemberAccess invites the user for read-write access and removes them
// otherwise.
func (g *Gateway) SetMemberAccess(ctx context.Context, ref, userID string, access gateway.Access) error {
	if access == gateway.AccessReadWrite {
		_, err := g.api.InviteUsersToConversationContext(ctx, ref, userID)
		if isSlackError(err, "already_in_channel") {
			return nil
		}
		return mapError(err)
	}
	err := g.api.KickUserFromConversationContext(ctx, ref, userID)
	if isSlackError(err, "not_in_channel") {
		return nil
	}
	return mapError(err)
}

// SendMessage posts msg and returns its timestamp as the message id.
func (g *Gateway) SendMessage(ctx context.Context, ref string, msg gateway.OutgoingMessage) (string, error) {
	_, ts, err := g.api.PostMessageContext(ctx, ref, messageOptions(msg)...)
	if err != nil {
		return "", mapError(err)
	}
	return ts, nil
}

func (g *Gateway) EditMessage(ctx context.Context, ref, messageID string, msg gateway.OutgoingMessage) error {
	_, _, _, err := g.api.UpdateMessageContext(ctx, ref, messageID, messageOptions(msg)...)
	return mapError(err)
}

// SendDirectMessage opens or reuses the IM with userID.
func (g *Gateway) SendDirectMessage(ctx context.Context, userID, content string) error {
	ch, _, _, err := g.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{userID}})
	if err != nil {
		return fmt.Errorf("open im with %s: %w", userID, err)
	}
	if _, _, err := g.api.PostMessageContext(ctx, ch.ID, slack.MsgOptionText(content, false)); err != nil {
		return fmt.Errorf("post im to %s: %w", userID, err)
	}
	return nil
}

// FetchRecentMessages returns up to limit messages, newest first.
func (g *Gateway) FetchRecentMessages(ctx context.Context, ref string, limit int) ([]gateway.Message, error) {
	resp, err := g.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: ref,
		Limit:     limit,
	})
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]gateway.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, gateway.Message{
			ID:        m.Timestamp,
			AuthorID:  m.User,
			Content:   m.Text,
			CreatedAt: parseTimestamp(m.Timestamp),
		})
	}
	return out, nil
}

// ChannelInfo reports the channel's name and destination. Channels archived
// in Slack count as gone.
func (g *Gateway) ChannelInfo(ctx context.Context, ref string) (gateway.ChannelInfo, error) {
	ch, err := g.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: ref})
	if err != nil {
		return gateway.ChannelInfo{}, mapError(err)
	}
	if ch.IsArchived {
		return gateway.ChannelInfo{}, fmt.Errorf("channel %s archived: %w", ref, gateway.ErrChannelNotFound)
	}
	return gateway.ChannelInfo{
		Ref:    ch.ID,
		Name:   ch.Name,
		Parent: strings.TrimPrefix(ch.Purpose.Value, parentPrefix),
	}, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if isSlackError(err, "channel_not_found") || isSlackError(err, "is_archived") {
		return fmt.Errorf("%v: %w", err, gateway.ErrChannelNotFound)
	}
	return err
}

func isSlackError(err error, code string) bool {
	if err == nil {
		return false
	}
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		return se.Err == code
	}
	return false
}

// parseTimestamp converts a Slack "seconds.micros" timestamp.
func parseTimestamp(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		micros, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, micros*int64(time.Microsecond)).UTC()
}
