package outbound

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/auth"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/channel/channeltest"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store *memory.Store
	sms   *channeltest.Fake
	email *channeltest.Fake
	voice *channeltest.Fake
	svc   *Service
	ac    auth.AuthContext
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	u, err := store.Users().Ensure(context.Background(), "dev@inbox.local", "Dev")
	require.NoError(t, err)

	f := &fixture{
		store: store,
		sms:   channeltest.New(models.ChannelSMS),
		email: channeltest.New(models.ChannelEmail),
		voice: channeltest.New(models.ChannelSMS),
		ac:    auth.User(u.ID, u.Email),
		now:   time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	reg := channel.NewRegistry()
	reg.MustRegister(f.sms, f.email)
	f.svc = New(store, reg, f.voice, nil, time.Second, zap.NewNop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) contact(t *testing.T, c models.Contact) *models.Contact {
	t.Helper()
	c.UserID = f.ac.UserID
	created, err := f.store.Contacts().Create(context.Background(), &c)
	require.NoError(t, err)
	return created
}

func TestSendSucceeds(t *testing.T) {
	f := newFixture(t)
	c := f.contact(t, models.Contact{Name: "Ann", Phones: []string{"+15551230000"}})

	m, err := f.svc.Send(context.Background(), f.ac, Request{
		ContactID: c.ID,
		Channel:   models.ChannelSMS,
		Content:   "hello",
		MediaURLs: []string{"https://cdn.example.com/a.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, m.Status)
	assert.Equal(t, models.DirectionOutbound, m.Direction)
	require.NotNil(t, m.SentAt)
	require.NotNil(t, m.ExternalRef)
	assert.Equal(t, models.TwilioSid("fake-1"), *m.ExternalRef)
	assert.Equal(t, "fake-1", m.Metadata.String("twilioSid"))

	require.Len(t, f.sms.Sent(), 1)
	assert.Equal(t, channel.SendParams{To: "+15551230000", Content: "hello", MediaURLs: []string{"https://cdn.example.com/a.png"}}, f.sms.Sent()[0])
}

func TestSendResolvesUploadedMedia(t *testing.T) {
	f := newFixture(t)
	f.svc.WithMediaBase("https://inbox.example.com")
	c := f.contact(t, models.Contact{Name: "Ann", Phones: []string{"+15551230000"}})

	m, err := f.svc.Send(context.Background(), f.ac, Request{
		ContactID: c.ID,
		Channel:   models.ChannelSMS,
		Content:   "look",
		MediaURLs: []string{"/uploads/a.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://inbox.example.com/uploads/a.png"}, m.MediaURLs)
	require.Len(t, f.sms.Sent(), 1)
	assert.Equal(t, []string{"https://inbox.example.com/uploads/a.png"}, f.sms.Sent()[0].MediaURLs)

	_, err = f.svc.Send(context.Background(), f.ac, Request{
		ContactID: c.ID,
		Channel:   models.ChannelSMS,
		Content:   "internal",
		MediaURLs: []string{"http://10.0.0.5/a.png"},
	})
	assert.ErrorIs(t, err, channel.ErrInvalidMediaURL)
	assert.Len(t, f.sms.Sent(), 1)
}

func TestSendFailureIsPersistedAndReturned(t *testing.T) {
	f := newFixture(t)
	f.sms.SendFunc = func(channel.SendParams) channel.SendResult { return channel.Failed("unreachable handset") }
	c := f.contact(t, models.Contact{Name: "Ann", Phones: []string{"+15551230000"}})

	m, err := f.svc.Send(context.Background(), f.ac, Request{ContactID: c.ID, Channel: models.ChannelSMS, Content: "hi"})
	var sendErr *SendFailedError
	require.True(t, errors.As(err, &sendErr))
	assert.Equal(t, "unreachable handset", sendErr.Reason)
	require.NotNil(t, m)
	assert.Equal(t, models.StatusFailed, m.Status)

	stored, err := f.store.Messages().GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, "unreachable handset", stored.Metadata.String(models.MetaError))
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	c := f.contact(t, models.Contact{Name: "Phone Only", Phones: []string{"+15551230000"}})
	ctx := context.Background()

	_, err := f.svc.Send(ctx, f.ac, Request{ContactID: c.ID, Channel: models.ChannelEmail, Content: "x"})
	assert.ErrorIs(t, err, ErrNoRecipient)

	_, err = f.svc.Send(ctx, f.ac, Request{ContactID: uuid.New(), Channel: models.ChannelSMS, Content: "x"})
	assert.ErrorIs(t, err, ErrContactNotFound)

	_, err = f.svc.Send(ctx, f.ac, Request{ContactID: c.ID, Channel: models.ChannelSMS, Content: "  "})
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = f.svc.Send(ctx, f.ac, Request{ContactID: c.ID, Channel: models.ChannelSMS, Content: "x", MediaURLs: []string{"data:image/png;base64,AAAA"}})
	assert.ErrorIs(t, err, channel.ErrInlineMedia)

	_, err = f.svc.Send(ctx, f.ac, Request{ContactID: c.ID, Channel: "PIGEON", Content: "x"})
	assert.Error(t, err)

	assert.Empty(t, f.sms.Sent())
}

func TestSendScheduled(t *testing.T) {
	f := newFixture(t)
	c := f.contact(t, models.Contact{Name: "Ann", Phones: []string{"+15551230000"}})
	at := f.now.Add(time.Hour)

	m, err := f.svc.Send(context.Background(), f.ac, Request{ContactID: c.ID, Channel: models.ChannelSMS, Content: "later", ScheduledFor: &at})
	require.NoError(t, err)
	assert.Equal(t, models.StatusScheduled, m.Status)
	require.NotNil(t, m.ScheduledFor)
	assert.True(t, at.Equal(*m.ScheduledFor))
	assert.Empty(t, f.sms.Sent())

	// A time already past is sent right away.
	past := f.now.Add(-time.Minute)
	m, err = f.svc.Send(context.Background(), f.ac, Request{ContactID: c.ID, Channel: models.ChannelSMS, Content: "now", ScheduledFor: &past})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, m.Status)
}

func TestSendEmailReplyThreads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.contact(t, models.Contact{Name: "Ann", Emails: []string{"ann@example.com"}})
	ref := models.EmailMessageID("<orig@mail.example.com>")
	orig, err := f.store.Messages().Create(ctx, &models.Message{
		ContactID: c.ID, UserID: f.ac.UserID, Channel: models.ChannelEmail,
		Direction: models.DirectionInbound, Status: models.StatusDelivered, ExternalRef: &ref,
		Metadata: models.Metadata{models.MetaEmailSubject: "Invoice 7"},
	})
	require.NoError(t, err)

	m, err := f.svc.Send(ctx, f.ac, Request{ContactID: c.ID, Channel: models.ChannelEmail, Content: "paid", ReplyToMessageID: &orig.ID})
	require.NoError(t, err)

	require.Len(t, f.email.Sent(), 1)
	p := f.email.Sent()[0]
	assert.Equal(t, "Re: Invoice 7", p.Subject)
	assert.Equal(t, "<orig@mail.example.com>", p.ReplyTo)
	assert.Equal(t, "Re: Invoice 7", m.Metadata.String(models.MetaEmailSubject))

	// Replying to a reply does not stack prefixes.
	orig2 := orig.ID
	_, err = f.svc.Send(ctx, f.ac, Request{ContactID: c.ID, Channel: models.ChannelEmail, Content: "again", Subject: "Re: Invoice 7", ReplyToMessageID: &orig2})
	require.NoError(t, err)
	assert.Equal(t, "Re: Invoice 7", f.email.Sent()[1].Subject)

	missing := int64(9999)
	_, err = f.svc.Send(ctx, f.ac, Request{ContactID: c.ID, Channel: models.ChannelEmail, Content: "x", ReplyToMessageID: &missing})
	assert.ErrorIs(t, err, ErrReplyNotFound)
}

func TestSendEmailDefaultSubject(t *testing.T) {
	f := newFixture(t)
	c := f.contact(t, models.Contact{Name: "Ann", Emails: []string{"ann@example.com"}})
	_, err := f.svc.Send(context.Background(), f.ac, Request{ContactID: c.ID, Channel: models.ChannelEmail, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Message from Unified Inbox", f.email.Sent()[0].Subject)
	assert.Empty(t, f.email.Sent()[0].ReplyTo)
}

func TestScheduleCall(t *testing.T) {
	f := newFixture(t)
	c := f.contact(t, models.Contact{Name: "Ann", Phones: []string{"+15551230000"}})
	at := f.now.Add(2 * time.Hour)

	m, err := f.svc.ScheduleCall(context.Background(), f.ac, c.ID, "Reminder call", at)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelSMS, m.Channel)
	assert.Equal(t, models.StatusScheduled, m.Status)
	assert.True(t, m.IsVoiceCall())
	assert.Equal(t, CallScheduled, m.Metadata.String(models.MetaCallType))
	assert.Empty(t, f.voice.Calls())

	noPhone := f.contact(t, models.Contact{Name: "Mail", Emails: []string{"m@example.com"}})
	_, err = f.svc.ScheduleCall(context.Background(), f.ac, noPhone.ID, "x", at)
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestCallNow(t *testing.T) {
	f := newFixture(t)
	c := f.contact(t, models.Contact{Name: "Ann", Phones: []string{"+15551230000"}})

	m, err := f.svc.CallNow(context.Background(), f.ac, c.ID, "Hello from the inbox")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, m.Status)
	assert.Equal(t, CallImmediate, m.Metadata.String(models.MetaCallType))
	assert.Equal(t, []string{"+15551230000|Hello from the inbox"}, f.voice.Calls())

	f.voice.Unconfigured = true
	_, err = f.svc.CallNow(context.Background(), f.ac, c.ID, "x")
	assert.ErrorIs(t, err, ErrVoiceDisabled)
}
