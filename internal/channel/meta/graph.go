// Package meta implements the Facebook Messenger and Instagram Direct
// adapters over the Graph API.
package meta

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lalith-99/unifiedinbox/internal/channel/restapi"
	"github.com/lalith-99/unifiedinbox/internal/config"
)

const (
	requestsPerSecond    = 5
	maxConversationPages = 100
	maxMessagePages      = 50
)

// page is the Facebook page the access token manages, plus its own token
// and linked Instagram business account.
type page struct {
	ID          string
	AccessToken string
	InstagramID string
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// describe turns a Graph error response into the vendor's own message.
func describe(err error) error {
	var apiErr *restapi.APIError
	if errors.As(err, &apiErr) {
		var ge graphError
		if apiErr.Decode(&ge) == nil && ge.Error.Message != "" {
			return fmt.Errorf("graph api (code %d): %s", ge.Error.Code, ge.Error.Message)
		}
	}
	return err
}

// Graph is shared by both adapters. The page lookup is cached after the
// first success.
type Graph struct {
	baseURL string
	token   string
	timeout time.Duration
	user    *restapi.Client

	mu      sync.Mutex
	page    *page
	pageAPI *restapi.Client
}

func NewGraph(cfg config.MetaConfig, timeout time.Duration) *Graph {
	g := &Graph{
		baseURL: strings.TrimRight(cfg.GraphURL, "/"),
		token:   cfg.AccessToken,
		timeout: timeout,
	}
	if cfg.Enabled() {
		g.user = restapi.New(cfg.AccessToken, timeout, requestsPerSecond, requestsPerSecond)
	}
	return g
}

func (g *Graph) Configured() bool {
	return g.user != nil
}

func (g *Graph) endpoint(path string, query url.Values) string {
	u := g.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// resolvePage returns the first page the token manages and a client bound
// to that page's token.
func (g *Graph) resolvePage(ctx context.Context) (*page, *restapi.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.page != nil {
		return g.page, g.pageAPI, nil
	}

	var accounts struct {
		Data []struct {
			ID          string `json:"id"`
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := g.user.GetJSON(ctx, g.endpoint("me/accounts", nil), &accounts); err != nil {
		return nil, nil, fmt.Errorf("list pages: %w", describe(err))
	}
	if len(accounts.Data) == 0 {
		return nil, nil, errors.New("no Facebook pages found for this access token")
	}

	p := &page{ID: accounts.Data[0].ID, AccessToken: accounts.Data[0].AccessToken}
	if p.AccessToken == "" {
		p.AccessToken = g.token
	}
	api := restapi.New(p.AccessToken, g.timeout, requestsPerSecond, requestsPerSecond)

	var ig struct {
		Account struct {
			ID string `json:"id"`
		} `json:"instagram_business_account"`
	}
	if err := api.GetJSON(ctx, g.endpoint(p.ID, url.Values{"fields": {"instagram_business_account"}}), &ig); err == nil {
		p.InstagramID = ig.Account.ID
	}

	g.page, g.pageAPI = p, api
	return p, api, nil
}

type participant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

func (p participant) displayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Username
}

type conversation struct {
	ID           string `json:"id"`
	Participants struct {
		Data []participant `json:"data"`
	} `json:"participants"`
}

type graphMessage struct {
	ID          string      `json:"id"`
	From        participant `json:"from"`
	Message     string      `json:"message"`
	CreatedTime string      `json:"created_time"`
	Attachments struct {
		Data []struct {
			ImageData struct {
				URL string `json:"url"`
			} `json:"image_data"`
			VideoData struct {
				URL string `json:"url"`
			} `json:"video_data"`
			FileURL string `json:"file_url"`
		} `json:"data"`
	} `json:"attachments"`
}

func (m graphMessage) mediaURLs() []string {
	var urls []string
	for _, a := range m.Attachments.Data {
		switch {
		case a.ImageData.URL != "":
			urls = append(urls, a.ImageData.URL)
		case a.VideoData.URL != "":
			urls = append(urls, a.VideoData.URL)
		case a.FileURL != "":
			urls = append(urls, a.FileURL)
		}
	}
	return urls
}

type paging struct {
	Next string `json:"next"`
}

// conversations walks every conversation of owner, following paging.next,
// and calls visit for each message until visit returns false.
func (g *Graph) conversations(ctx context.Context, api *restapi.Client, owner string, query url.Values, visit func(conversation, graphMessage) bool) error {
	query.Set("fields", "participants")
	query.Set("limit", "25")
	next := g.endpoint(owner+"/conversations", query)

	for pages := 0; next != "" && pages < maxConversationPages; pages++ {
		var resp struct {
			Data   []conversation `json:"data"`
			Paging paging         `json:"paging"`
		}
		if err := api.GetJSON(ctx, next, &resp); err != nil {
			return fmt.Errorf("list conversations: %w", describe(err))
		}
		for _, conv := range resp.Data {
			more, err := g.messages(ctx, api, conv, visit)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		next = resp.Paging.Next
	}
	return nil
}

func (g *Graph) messages(ctx context.Context, api *restapi.Client, conv conversation, visit func(conversation, graphMessage) bool) (bool, error) {
	next := g.endpoint(conv.ID+"/messages", url.Values{
		"fields": {"id,from,message,created_time,attachments"},
		"limit":  {"100"},
	})
	for pages := 0; next != "" && pages < maxMessagePages; pages++ {
		var resp struct {
			Data   []graphMessage `json:"data"`
			Paging paging         `json:"paging"`
		}
		if err := api.GetJSON(ctx, next, &resp); err != nil {
			return false, fmt.Errorf("list messages of %s: %w", conv.ID, describe(err))
		}
		for _, m := range resp.Data {
			if !visit(conv, m) {
				return false, nil
			}
		}
		next = resp.Paging.Next
	}
	return true, nil
}

// send posts one message from sender (page or Instagram account id).
func (g *Graph) send(ctx context.Context, api *restapi.Client, sender, recipient string, message map[string]any) (string, error) {
	body := map[string]any{
		"recipient":      map[string]string{"id": recipient},
		"message":        message,
		"messaging_type": "RESPONSE",
	}
	var resp struct {
		MessageID string `json:"message_id"`
		ID        string `json:"id"`
	}
	if err := api.PostJSON(ctx, g.endpoint(sender+"/messages", nil), body, &resp); err != nil {
		return "", describe(err)
	}
	if resp.MessageID != "" {
		return resp.MessageID, nil
	}
	return resp.ID, nil
}

// parseTime reads Graph timestamps ("2024-01-02T15:04:05+0000").
func parseTime(v string) time.Time {
	for _, layout := range []string{"2006-01-02T15:04:05-0700", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
