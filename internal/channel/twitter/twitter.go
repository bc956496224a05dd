// Package twitter implements the Twitter (X) direct message adapter over
// API v2.
package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/channel/restapi"
	"github.com/lalith-99/unifiedinbox/internal/config"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"go.uber.org/zap"
)

const (
	requestsPerSecond = 1
	maxPages          = 100
	pageSize          = 100
)

type Adapter struct {
	baseURL string
	api     *restapi.Client
	logger  *zap.Logger

	mu sync.Mutex
	me string
}

func New(cfg config.TwitterConfig, timeout time.Duration, logger *zap.Logger) *Adapter {
	a := &Adapter{baseURL: strings.TrimRight(cfg.APIURL, "/"), logger: logger}
	if cfg.Enabled() {
		a.api = restapi.New(cfg.BearerToken, timeout, requestsPerSecond, 3)
	}
	return a
}

func (a *Adapter) Channel() models.Channel { return models.ChannelTwitter }

func (a *Adapter) Configured() bool { return a.api != nil }

type apiErrors struct {
	Errors []struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	} `json:"errors"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e apiErrors) first() string {
	for _, x := range e.Errors {
		if x.Message != "" {
			return x.Message
		}
		if x.Detail != "" {
			return x.Detail
		}
	}
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}

func describe(err error) error {
	var apiErr *restapi.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := apiErr.Error()
	var body apiErrors
	if apiErr.Decode(&body) == nil && body.first() != "" {
		msg = body.first()
	}
	if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
		msg += " (direct messages require a user-context token with dm.read and dm.write scopes)"
	}
	return fmt.Errorf("twitter api: %s", msg)
}

// self returns the authenticated account id, cached after the first lookup.
func (a *Adapter) self(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.me != "" {
		return a.me, nil
	}
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := a.api.GetJSON(ctx, a.baseURL+"/2/users/me", &resp); err != nil {
		return "", describe(err)
	}
	if resp.Data.ID == "" {
		return "", errors.New("twitter api: could not determine the authenticated user")
	}
	a.me = resp.Data.ID
	return a.me, nil
}

type dmEvent struct {
	ID               string `json:"id"`
	EventType        string `json:"event_type"`
	Text             string `json:"text"`
	CreatedAt        string `json:"created_at"`
	SenderID         string `json:"sender_id"`
	DMConversationID string `json:"dm_conversation_id"`
	Attachments      struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
}

type dmPage struct {
	Data     []dmEvent `json:"data"`
	Includes struct {
		Media []struct {
			MediaKey string `json:"media_key"`
			URL      string `json:"url"`
		} `json:"media"`
	} `json:"includes"`
	Meta struct {
		NextToken string `json:"next_token"`
	} `json:"meta"`
}

// FetchMessages pages through the account's DM events with next_token.
func (a *Adapter) FetchMessages(ctx context.Context, limit int) ([]channel.InboundMessage, error) {
	if !a.Configured() {
		return nil, channel.ErrNotConfigured
	}
	me, err := a.self(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]channel.InboundMessage, 0)
	token := ""
	for pages := 0; pages < maxPages; pages++ {
		q := url.Values{
			"max_results":     {fmt.Sprint(pageSize)},
			"event_types":     {"MessageCreate"},
			"dm_event.fields": {"id,event_type,text,created_at,sender_id,dm_conversation_id,attachments"},
			"expansions":      {"attachments.media_keys"},
			"media.fields":    {"url"},
		}
		if token != "" {
			q.Set("pagination_token", token)
		}

		var page dmPage
		if err := a.api.GetJSON(ctx, a.baseURL+"/2/dm_events?"+q.Encode(), &page); err != nil {
			return nil, describe(err)
		}

		media := make(map[string]string, len(page.Includes.Media))
		for _, m := range page.Includes.Media {
			media[m.MediaKey] = m.URL
		}
		for _, ev := range page.Data {
			if ev.EventType != "" && ev.EventType != "MessageCreate" {
				continue
			}
			out = append(out, toInbound(me, ev, media))
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}

		token = page.Meta.NextToken
		if token == "" {
			break
		}
	}
	return out, nil
}

func toInbound(me string, ev dmEvent, media map[string]string) channel.InboundMessage {
	ts, _ := time.Parse(time.RFC3339, ev.CreatedAt)
	msg := channel.InboundMessage{
		ExternalID: ev.ID,
		SenderID:   ev.SenderID,
		Text:       ev.Text,
		Timestamp:  ts,
		Direction:  models.DirectionInbound,
	}
	for _, key := range ev.Attachments.MediaKeys {
		if u := media[key]; u != "" {
			msg.MediaURLs = append(msg.MediaURLs, u)
		}
	}
	if ev.SenderID == me {
		msg.Direction = models.DirectionOutbound
		msg.SenderID = otherParticipant(ev.DMConversationID, me)
	}
	return msg
}

// otherParticipant reads a one-to-one conversation id ("<a>-<b>").
func otherParticipant(conversationID, me string) string {
	for _, id := range strings.Split(conversationID, "-") {
		if id != "" && id != me {
			return id
		}
	}
	return ""
}

// Send posts a DM. Media URLs are appended to the text: API v2 only accepts
// media uploaded through the media endpoint.
func (a *Adapter) Send(ctx context.Context, p channel.SendParams) channel.SendResult {
	if !a.Configured() {
		return channel.Failed("Twitter is not configured: set TWITTER_BEARER_TOKEN")
	}
	if p.To == "" {
		return channel.Failed("recipient user id is required")
	}

	text := p.Content
	if len(p.MediaURLs) > 0 {
		text = strings.TrimSpace(text + "\n" + strings.Join(p.MediaURLs, "\n"))
	}

	var resp struct {
		Data struct {
			DMEventID string `json:"dm_event_id"`
		} `json:"data"`
	}
	endpoint := a.baseURL + "/2/dm_conversations/with/" + url.PathEscape(p.To) + "/messages"
	if err := a.api.PostJSON(ctx, endpoint, map[string]string{"text": text}, &resp); err != nil {
		return channel.Failed(describe(err).Error())
	}
	return channel.Sent(resp.Data.DMEventID)
}
