package twilio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/config"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

type fakeAPI struct {
	byTo      map[string][]openapi.ApiV2010Message
	byFrom    map[string][]openapi.ApiV2010Message
	media     map[string][]openapi.ApiV2010Media
	createErr error

	created []*openapi.CreateMessageParams
	calls   []*openapi.CreateCallParams
	lists   []*openapi.ListMessageParams
}

func (f *fakeAPI) CreateMessage(p *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.created = append(f.created, p)
	if f.createErr != nil {
		return nil, f.createErr
	}
	sid := "SM-out"
	return &openapi.ApiV2010Message{Sid: &sid}, nil
}

func (f *fakeAPI) ListMessage(p *openapi.ListMessageParams) ([]openapi.ApiV2010Message, error) {
	f.lists = append(f.lists, p)
	var recs []openapi.ApiV2010Message
	if p.To != nil {
		recs = f.byTo[*p.To]
	}
	if p.From != nil {
		recs = f.byFrom[*p.From]
	}
	if p.Limit != nil && len(recs) > *p.Limit {
		recs = recs[:*p.Limit]
	}
	return recs, nil
}

func (f *fakeAPI) ListMedia(sid string, _ *openapi.ListMediaParams) ([]openapi.ApiV2010Media, error) {
	return f.media[sid], nil
}

func (f *fakeAPI) CreateCall(p *openapi.CreateCallParams) (*openapi.ApiV2010Call, error) {
	f.calls = append(f.calls, p)
	sid := "CA-1"
	return &openapi.ApiV2010Call{Sid: &sid}, nil
}

func ptr(s string) *string { return &s }

func record(sid, from, to, body, direction, status string) openapi.ApiV2010Message {
	return openapi.ApiV2010Message{
		Sid:       ptr(sid),
		From:      ptr(from),
		To:        ptr(to),
		Body:      ptr(body),
		Direction: ptr(direction),
		Status:    ptr(status),
		DateSent:  ptr("Tue, 01 Jul 2025 10:00:00 +0000"),
		NumMedia:  ptr("0"),
	}
}

var testCfg = config.TwilioConfig{
	AccountSID:     "AC1",
	AuthToken:      "tok",
	PhoneNumber:    "+15550000000",
	WhatsAppNumber: "+14155238886",
}

func TestFetchMessagesSMS(t *testing.T) {
	inbound := record("SM1", "+15551234567", testCfg.PhoneNumber, "Hello", "inbound", "received")
	inbound.NumMedia = ptr("1")
	api := &fakeAPI{
		byTo: map[string][]openapi.ApiV2010Message{
			testCfg.PhoneNumber: {inbound},
		},
		byFrom: map[string][]openapi.ApiV2010Message{
			testCfg.PhoneNumber: {record("SM2", testCfg.PhoneNumber, "+15559999999", "Hi back", "outbound-api", "delivered")},
		},
		media: map[string][]openapi.ApiV2010Media{
			"SM1": {{Uri: ptr("/2010-04-01/Accounts/AC1/Messages/SM1/Media/ME1.json")}},
		},
	}
	a := NewSMS(testCfg, api, zap.NewNop())

	msgs, err := a.FetchMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "SM1", msgs[0].ExternalID)
	assert.Equal(t, "+15551234567", msgs[0].SenderID)
	assert.Equal(t, models.DirectionInbound, msgs[0].Direction)
	assert.Equal(t, time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC), msgs[0].Timestamp.UTC())
	assert.Equal(t, []string{"https://api.twilio.com/2010-04-01/Accounts/AC1/Messages/SM1/Media/ME1"}, msgs[0].MediaURLs)

	assert.Equal(t, "+15559999999", msgs[1].SenderID, "outbound rows resolve the recipient")
	assert.Equal(t, models.DirectionOutbound, msgs[1].Direction)
	assert.Equal(t, "delivered", msgs[1].VendorStatus)
}

func TestFetchMessagesRespectsLimit(t *testing.T) {
	api := &fakeAPI{
		byTo: map[string][]openapi.ApiV2010Message{
			testCfg.PhoneNumber: {
				record("SM1", "+1", testCfg.PhoneNumber, "a", "inbound", "received"),
				record("SM2", "+2", testCfg.PhoneNumber, "b", "inbound", "received"),
			},
		},
	}
	a := NewSMS(testCfg, api, zap.NewNop())

	msgs, err := a.FetchMessages(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	assert.Len(t, api.lists, 1, "outbound history is skipped once the limit is reached")
}

func TestWhatsAppStripsPrefix(t *testing.T) {
	from := withWhatsAppPrefix(testCfg.WhatsAppNumber)
	api := &fakeAPI{
		byTo: map[string][]openapi.ApiV2010Message{
			from: {record("SM9", "whatsapp:+15551234567", from, "hey", "inbound", "received")},
		},
	}
	a := NewWhatsApp(testCfg, api, zap.NewNop())

	msgs, err := a.FetchMessages(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "+15551234567", msgs[0].SenderID)
}

func TestNotConfigured(t *testing.T) {
	a := NewSMS(config.TwilioConfig{}, nil, zap.NewNop())
	assert.False(t, a.Configured())

	_, err := a.FetchMessages(context.Background(), 10)
	assert.ErrorIs(t, err, channel.ErrNotConfigured)

	res := a.Send(context.Background(), channel.SendParams{To: "+1555", Content: "x"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not configured")
}

func TestSendWhatsApp(t *testing.T) {
	api := &fakeAPI{}
	a := NewWhatsApp(testCfg, api, zap.NewNop())

	res := a.Send(context.Background(), channel.SendParams{
		To:        "+1 (555) 123-4567",
		Content:   "hello",
		MediaURLs: []string{"https://cdn.example.com/a.jpg"},
	})
	require.True(t, res.Success)
	assert.Equal(t, "SM-out", res.MessageID)

	require.Len(t, api.created, 1)
	p := api.created[0]
	assert.Equal(t, "whatsapp:+15551234567", *p.To)
	assert.Equal(t, "whatsapp:+14155238886", *p.From)
	assert.Equal(t, "hello", *p.Body)
	assert.Equal(t, []string{"https://cdn.example.com/a.jpg"}, *p.MediaUrl)
}

func TestSendFailureAddsMediaHint(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("Status: 400 - Invalid media URL")}
	a := NewSMS(testCfg, api, zap.NewNop())

	res := a.Send(context.Background(), channel.SendParams{To: "+15551234567", Content: "x"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Invalid media URL")
	assert.Contains(t, res.Error, "publicly accessible")
}

func TestCaller(t *testing.T) {
	api := &fakeAPI{}
	c := NewCaller(testCfg, api)

	res := c.Call(context.Background(), "+15551234567", "Your appointment is tomorrow")
	require.True(t, res.Success)
	assert.Equal(t, "CA-1", res.MessageID)

	require.Len(t, api.calls, 1)
	assert.Equal(t, "+15551234567", *api.calls[0].To)
	assert.Contains(t, *api.calls[0].Twiml, "<Say")
	assert.Contains(t, *api.calls[0].Twiml, "Your appointment is tomorrow")
}
