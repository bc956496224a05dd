package meta

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"go.uber.org/zap"
)

// Adapter serves Facebook or Instagram; they share the Graph client and
// differ in which account owns the conversations.
type Adapter struct {
	graph  *Graph
	ch     models.Channel
	logger *zap.Logger
}

func NewFacebook(g *Graph, logger *zap.Logger) *Adapter {
	return &Adapter{graph: g, ch: models.ChannelFacebook, logger: logger}
}

func NewInstagram(g *Graph, logger *zap.Logger) *Adapter {
	return &Adapter{graph: g, ch: models.ChannelInstagram, logger: logger}
}

func (a *Adapter) Channel() models.Channel { return a.ch }

func (a *Adapter) Configured() bool { return a.graph.Configured() }

// owner returns the account id conversations and sends go through.
func (a *Adapter) owner(ctx context.Context) (string, error) {
	p, _, err := a.graph.resolvePage(ctx)
	if err != nil {
		return "", err
	}
	if a.ch == models.ChannelFacebook {
		return p.ID, nil
	}
	if p.InstagramID == "" {
		return "", errors.New("no Instagram business account is linked to the Facebook page")
	}
	return p.InstagramID, nil
}

func (a *Adapter) FetchMessages(ctx context.Context, limit int) ([]channel.InboundMessage, error) {
	if !a.Configured() {
		return nil, channel.ErrNotConfigured
	}
	owner, err := a.owner(ctx)
	if err != nil {
		return nil, err
	}
	_, api, _ := a.graph.resolvePage(ctx)

	query := url.Values{}
	if a.ch == models.ChannelInstagram {
		query.Set("platform", "instagram")
	}

	out := make([]channel.InboundMessage, 0)
	err = a.graph.conversations(ctx, api, owner, query, func(conv conversation, m graphMessage) bool {
		if m.Message == "" && len(m.Attachments.Data) == 0 {
			return true
		}
		out = append(out, a.toInbound(owner, conv, m))
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Adapter) toInbound(owner string, conv conversation, m graphMessage) channel.InboundMessage {
	msg := channel.InboundMessage{
		ExternalID: m.ID,
		SenderID:   m.From.ID,
		SenderName: m.From.displayName(),
		Text:       m.Message,
		MediaURLs:  m.mediaURLs(),
		Timestamp:  parseTime(m.CreatedTime),
		Direction:  models.DirectionInbound,
	}
	if m.From.ID == owner {
		// Sent by the page: the contact is the other participant.
		msg.Direction = models.DirectionOutbound
		msg.SenderID, msg.SenderName = "", ""
		for _, p := range conv.Participants.Data {
			if p.ID != owner {
				msg.SenderID, msg.SenderName = p.ID, p.displayName()
				break
			}
		}
	}
	return msg
}

// Send posts the text, then each media URL as its own attachment message.
// The id of the first accepted message is returned.
func (a *Adapter) Send(ctx context.Context, p channel.SendParams) channel.SendResult {
	if !a.Configured() {
		return channel.Failed(fmt.Sprintf("%s is not configured: set FACEBOOK_ACCESS_TOKEN", a.ch.Label()))
	}
	if p.To == "" {
		return channel.Failed("recipient id (page-scoped id) is required")
	}
	owner, err := a.owner(ctx)
	if err != nil {
		return channel.Failed(err.Error())
	}
	_, api, _ := a.graph.resolvePage(ctx)

	var firstID string
	if p.Content != "" {
		id, err := a.graph.send(ctx, api, owner, p.To, map[string]any{"text": p.Content})
		if err != nil {
			return channel.Failed(err.Error())
		}
		firstID = id
	}
	for _, u := range p.MediaURLs {
		id, err := a.graph.send(ctx, api, owner, p.To, map[string]any{
			"attachment": map[string]any{
				"type":    "image",
				"payload": map[string]any{"url": u, "is_reusable": true},
			},
		})
		if err != nil {
			return channel.Failed(fmt.Sprintf("attachment %s: %v", u, err))
		}
		if firstID == "" {
			firstID = id
		}
	}
	if firstID == "" {
		return channel.Failed("message has no content")
	}
	return channel.Sent(firstID)
}
