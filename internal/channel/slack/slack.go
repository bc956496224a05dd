// Package slack implements the Slack adapter: direct and group-direct
// conversation history for sync, chat.postMessage for sends, and a cached
// users.info lookup for display names.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/config"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

const (
	conversationPageSize = 1000
	historyPageSize      = 200
	maxHistoryPages      = 100
)

type Adapter struct {
	api    *slack.Client
	logger *zap.Logger

	mu      sync.Mutex
	botUser string
	names   map[string]string
}

// New builds the adapter. opts are passed to slack.New, which lets tests
// point the client at a local server with slack.OptionAPIURL.
func New(cfg config.SlackConfig, logger *zap.Logger, opts ...slack.Option) *Adapter {
	a := &Adapter{logger: logger, names: map[string]string{}}
	if cfg.Enabled() {
		a.api = slack.New(cfg.BotToken, opts...)
	}
	return a
}

func (a *Adapter) Channel() models.Channel { return models.ChannelSlack }

func (a *Adapter) Configured() bool { return a.api != nil }

// DisplayName returns the user's real name, then user name, falling back to
// the id itself. Results are cached for the life of the process.
func (a *Adapter) DisplayName(ctx context.Context, userID string) string {
	if userID == "" || a.api == nil {
		return userID
	}
	a.mu.Lock()
	name, ok := a.names[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	user, err := a.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		a.logger.Debug("slack users.info failed", zap.String("user", userID), zap.Error(err))
		return userID
	}
	name = user.RealName
	if name == "" {
		name = user.Profile.DisplayName
	}
	if name == "" {
		name = user.Name
	}
	if name == "" {
		name = userID
	}

	a.mu.Lock()
	a.names[userID] = name
	a.mu.Unlock()
	return name
}

func (a *Adapter) self(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.botUser != "" {
		return a.botUser, nil
	}
	resp, err := a.api.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("slack auth.test: %w", err)
	}
	a.botUser = resp.UserID
	return a.botUser, nil
}

// FetchMessages reads im and mpim history, following cursors. A failure on
// one conversation is logged and the rest are still read.
func (a *Adapter) FetchMessages(ctx context.Context, limit int) ([]channel.InboundMessage, error) {
	if !a.Configured() {
		return nil, channel.ErrNotConfigured
	}
	bot, err := a.self(ctx)
	if err != nil {
		return nil, err
	}

	convs, err := a.conversations(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]channel.InboundMessage, 0)
	for _, conv := range convs {
		if limit > 0 && len(out) >= limit {
			break
		}
		msgs, err := a.history(ctx, conv, bot, limit-len(out))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("slack history failed", zap.String("conversation", conv.ID), zap.Error(err))
			continue
		}
		out = append(out, msgs...)
	}
	return out, nil
}

func (a *Adapter) conversations(ctx context.Context) ([]slack.Channel, error) {
	var all []slack.Channel
	cursor := ""
	for {
		convs, next, err := a.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Types:           []string{"im", "mpim"},
			Limit:           conversationPageSize,
			Cursor:          cursor,
			ExcludeArchived: true,
		})
		if err != nil {
			return nil, fmt.Errorf("slack conversations.list: %w", err)
		}
		all = append(all, convs...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

func (a *Adapter) history(ctx context.Context, conv slack.Channel, bot string, remaining int) ([]channel.InboundMessage, error) {
	var out []channel.InboundMessage
	cursor := ""
	for pages := 0; pages < maxHistoryPages; pages++ {
		resp, err := a.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: conv.ID,
			Cursor:    cursor,
			Limit:     historyPageSize,
		})
		if err != nil {
			return out, err
		}
		for _, m := range resp.Messages {
			msg, ok := a.toInbound(ctx, conv, bot, m.Msg)
			if !ok {
				continue
			}
			out = append(out, msg)
			if remaining > 0 && len(out) >= remaining {
				return out, nil
			}
		}
		cursor = resp.ResponseMetaData.NextCursor
		if !resp.HasMore || cursor == "" {
			break
		}
	}
	return out, nil
}

func (a *Adapter) toInbound(ctx context.Context, conv slack.Channel, bot string, m slack.Msg) (channel.InboundMessage, bool) {
	if m.SubType != "" && m.SubType != "file_share" && m.SubType != "thread_broadcast" {
		return channel.InboundMessage{}, false
	}
	if m.User == "" {
		return channel.InboundMessage{}, false
	}

	msg := channel.InboundMessage{
		ExternalID: m.Timestamp,
		SenderID:   m.User,
		Text:       m.Text,
		MediaURLs:  FileURLs(m.Files),
		Timestamp:  ParseTimestamp(m.Timestamp),
		Direction:  models.DirectionInbound,
		Metadata: models.Metadata{
			models.MetaSlackChannel: conv.ID,
		},
	}
	if m.ThreadTimestamp != "" {
		msg.Metadata[models.MetaSlackThreadTs] = m.ThreadTimestamp
	}

	if m.User == bot {
		if conv.User == "" {
			// Our own message in a group DM has no single counterpart.
			return channel.InboundMessage{}, false
		}
		msg.Direction = models.DirectionOutbound
		msg.SenderID = conv.User
	}
	msg.SenderName = a.DisplayName(ctx, msg.SenderID)
	return msg, true
}

// Send posts to a user or conversation id. Media URLs are appended to the
// text, which Slack unfurls.
func (a *Adapter) Send(ctx context.Context, p channel.SendParams) channel.SendResult {
	if !a.Configured() {
		return channel.Failed("Slack is not configured: set SLACK_BOT_TOKEN")
	}
	if p.To == "" {
		return channel.Failed("channel id or user id is required")
	}

	text := p.Content
	if len(p.MediaURLs) > 0 {
		text = strings.TrimSpace(text + "\n" + strings.Join(p.MediaURLs, "\n"))
	}

	_, ts, err := a.api.PostMessageContext(ctx, p.To, slack.MsgOptionText(text, false))
	if err != nil {
		var slackErr slack.SlackErrorResponse
		if errors.As(err, &slackErr) {
			return channel.Failed(slackErr.Err)
		}
		return channel.Failed(err.Error())
	}
	return channel.Sent(ts)
}

// FileURLs returns the private download URLs of shared files.
func FileURLs(files []slack.File) []string {
	var urls []string
	for _, f := range files {
		if f.URLPrivate != "" {
			urls = append(urls, f.URLPrivate)
		}
	}
	return urls
}

// ParseTimestamp converts a Slack ts ("1700000000.000100") to a time.
func ParseTimestamp(ts string) time.Time {
	secs, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	whole := int64(secs)
	return time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC()
}
