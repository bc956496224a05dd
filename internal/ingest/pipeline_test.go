package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/auth"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/identity"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/realtime"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"github.com/lalith-99/unifiedinbox/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store *memory.Store
	hub   *realtime.Hub
	p     *Pipeline
	ac    auth.AuthContext
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	u, err := store.Users().Ensure(context.Background(), "dev@inbox.local", "Dev")
	require.NoError(t, err)
	hub := realtime.NewHub()
	logger := zap.NewNop()
	return fixture{
		store: store,
		hub:   hub,
		p:     New(store, identity.NewResolver(store, logger), hub, logger),
		ac:    auth.System(u.ID),
	}
}

func (f fixture) messages(t *testing.T) []models.Message {
	t.Helper()
	msgs, err := f.store.Messages().List(context.Background(), repository.MessageFilter{})
	require.NoError(t, err)
	return msgs
}

func TestIngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	events := []channel.InboundMessage{{
		ExternalID: "SM123",
		SenderID:   "+15551234567",
		Text:       "Hello",
		Timestamp:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}}

	res, err := f.p.Ingest(ctx, f.ac, models.ChannelSMS, SourceWebhook, events)
	require.NoError(t, err)
	assert.Equal(t, Result{Ingested: 1}, res)

	res, err = f.p.Ingest(ctx, f.ac, models.ChannelSMS, SourceSync, events)
	require.NoError(t, err)
	assert.Equal(t, Result{Duplicates: 1}, res)

	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, "Hello", m.Content)
	assert.Equal(t, models.StatusDelivered, m.Status)
	assert.Equal(t, models.DirectionInbound, m.Direction)
	assert.Equal(t, "SM123", m.Metadata.String("twilioSid"))
	require.NotNil(t, m.DeliveredAt)

	contacts, err := f.store.Contacts().List(ctx, repository.ContactFilter{})
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, []string{"+15551234567"}, contacts[0].Phones)

	logs, err := f.store.Activity().ListByContact(ctx, contacts[0].ID, 10)
	require.NoError(t, err)
	actions := make([]models.ActivityAction, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	assert.ElementsMatch(t, []models.ActivityAction{models.ActivityContactCreated, models.ActivityMessageReceived}, actions)
}

func TestIngestOrdersByTimestamp(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	events := []channel.InboundMessage{
		{ExternalID: "c", SenderID: "U1", Text: "third", Timestamp: base.Add(2 * time.Minute)},
		{ExternalID: "a", SenderID: "U1", Text: "first", Timestamp: base},
		{ExternalID: "b", SenderID: "U1", Text: "second", Timestamp: base.Add(time.Minute)},
	}

	res, err := f.p.Ingest(context.Background(), f.ac, models.ChannelSlack, SourceSync, events)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Ingested)

	// List is newest id first, so insertion order reads backwards.
	msgs := f.messages(t)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"third", "second", "first"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
	assert.Equal(t, "c", events[0].ExternalID, "caller's slice is left untouched")
}

func TestIngestWithoutVendorIDUsesContentHash(t *testing.T) {
	f := newFixture(t)
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	ev := channel.InboundMessage{SenderID: "ann@example.com", Text: "no id here", Timestamp: ts}

	res, err := f.p.Ingest(context.Background(), f.ac, models.ChannelEmail, SourceWebhook, []channel.InboundMessage{ev, ev})
	require.NoError(t, err)
	assert.Equal(t, Result{Ingested: 1, Duplicates: 1}, res)

	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RefContentHash, msgs[0].ExternalRef.Kind)
	assert.NotEmpty(t, msgs[0].Metadata.String(string(models.RefContentHash)))
}

func TestIngestSkipsEventsWithoutSender(t *testing.T) {
	f := newFixture(t)
	res, err := f.p.Ingest(context.Background(), f.ac, models.ChannelFacebook, SourceWebhook, []channel.InboundMessage{
		{ExternalID: "m1", Text: "who?"},
		{ExternalID: "m2", SenderID: "   ", Text: "blank"},
	})
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 2}, res)
	assert.Empty(t, f.messages(t))
}

func TestIngestOutboundHistory(t *testing.T) {
	f := newFixture(t)
	ev := channel.InboundMessage{
		ExternalID:   "SM9",
		SenderID:     "+15550001111",
		SenderName:   "ignored for outbound",
		Text:         "we wrote this",
		Direction:    models.DirectionOutbound,
		VendorStatus: "undelivered",
		Timestamp:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	_, err := f.p.Ingest(context.Background(), f.ac, models.ChannelSMS, SourceSync, []channel.InboundMessage{ev})
	require.NoError(t, err)

	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.DirectionOutbound, msgs[0].Direction)
	assert.Equal(t, models.StatusFailed, msgs[0].Status)
	assert.Nil(t, msgs[0].DeliveredAt)
	assert.Empty(t, msgs[0].Metadata.String(models.MetaSenderName))

	c, err := f.store.Contacts().GetByID(context.Background(), msgs[0].ContactID)
	require.NoError(t, err)
	assert.Equal(t, "+15550001111", c.Name)
}

func TestIngestPublishesToOwner(t *testing.T) {
	f := newFixture(t)
	events, cancel := f.hub.Subscribe(f.ac.UserID)
	defer cancel()

	_, err := f.p.Ingest(context.Background(), f.ac, models.ChannelTwitter, SourceWebhook, []channel.InboundMessage{
		{ExternalID: "dm1", SenderID: "42", SenderName: "Jo", Text: "hey"},
	})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, realtime.MessageCreated, ev.Type)
		assert.Equal(t, "hey", ev.Message.Content)
		assert.Equal(t, "Jo", ev.Message.Metadata.String(models.MetaSenderName))
	default:
		t.Fatal("no event published")
	}
}

func TestApplyStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	contact, err := f.store.Contacts().Create(ctx, &models.Contact{UserID: f.ac.UserID, Name: "Ann", Phones: []string{"+15550002222"}})
	require.NoError(t, err)
	ref := models.TwilioSid("SMout")
	sent, err := f.store.Messages().Create(ctx, &models.Message{
		ContactID: contact.ID, UserID: f.ac.UserID, Channel: models.ChannelSMS,
		Direction: models.DirectionOutbound, Status: models.StatusSent, ExternalRef: &ref,
	})
	require.NoError(t, err)

	m, changed, err := f.p.ApplyStatus(ctx, models.ChannelSMS, StatusUpdate{ExternalID: "SMout", VendorStatus: "delivered"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusDelivered, m.Status)
	assert.NotNil(t, m.DeliveredAt)

	// Late "sent" callback does not move it back.
	_, changed, err = f.p.ApplyStatus(ctx, models.ChannelSMS, StatusUpdate{ExternalID: "SMout", VendorStatus: "sent"})
	require.NoError(t, err)
	assert.False(t, changed)

	m, changed, err = f.p.ApplyStatus(ctx, models.ChannelSMS, StatusUpdate{ExternalID: "SMout", VendorStatus: "undelivered", Error: "30005"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusFailed, m.Status)
	assert.Equal(t, "30005", m.Metadata.String(models.MetaError))

	stored, err := f.store.Messages().GetByID(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
}

func TestApplyStatusIgnoresUnknownAndInbound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	m, changed, err := f.p.ApplyStatus(ctx, models.ChannelSMS, StatusUpdate{ExternalID: "nope", VendorStatus: "delivered"})
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.False(t, changed)

	_, err = f.p.Ingest(ctx, f.ac, models.ChannelSMS, SourceWebhook, []channel.InboundMessage{{ExternalID: "SMin", SenderID: "+15550003333", Text: "hi"}})
	require.NoError(t, err)
	_, changed, err = f.p.ApplyStatus(ctx, models.ChannelSMS, StatusUpdate{ExternalID: "SMin", VendorStatus: "failed"})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.p.Ingest(ctx, f.ac, models.ChannelInstagram, SourceWebhook, []channel.InboundMessage{{ExternalID: "mid.1", SenderID: "ig-9", Text: "yo"}})
	require.NoError(t, err)

	c, err := f.store.Contacts().FindByIdentity(ctx, models.Identity{Kind: models.IdentityInstagram, Value: "ig-9"})
	require.NoError(t, err)
	require.NotNil(t, c)

	ok, err := f.p.Exists(ctx, c.ID, models.ChannelInstagram, models.InstagramID("mid.1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.p.Exists(ctx, uuid.New(), models.ChannelInstagram, models.InstagramID("mid.1"))
	require.NoError(t, err)
	assert.False(t, ok)
}
