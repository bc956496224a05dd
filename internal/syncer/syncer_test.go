package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lalith-99/unifiedinbox/internal/auth"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/channel/channeltest"
	"github.com/lalith-99/unifiedinbox/internal/identity"
	"github.com/lalith-99/unifiedinbox/internal/ingest"
	"github.com/lalith-99/unifiedinbox/internal/lock"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func msgs(prefix string, n int) []channel.InboundMessage {
	out := make([]channel.InboundMessage, n)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = channel.InboundMessage{
			ExternalID: prefix + string(rune('a'+i)),
			SenderID:   prefix + "-sender",
			Text:       "hello",
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func newSyncer(t *testing.T, adapters ...channel.Adapter) (*Syncer, auth.AuthContext) {
	t.Helper()
	store := memory.New()
	u, err := store.Users().Ensure(context.Background(), "dev@inbox.local", "Dev")
	require.NoError(t, err)

	reg := channel.NewRegistry()
	reg.MustRegister(adapters...)
	logger := zap.NewNop()
	p := ingest.New(store, identity.NewResolver(store, logger), nil, logger)
	return New(reg, p, lock.NewLocal(), Config{Timeout: time.Second}, logger), auth.System(u.ID)
}

func TestRunIsolatesChannelFailures(t *testing.T) {
	sms := channeltest.New(models.ChannelSMS)
	sms.Messages = msgs("+1555000", 3)
	slack := channeltest.New(models.ChannelSlack)
	slack.Messages = msgs("U", 2)
	broken := channeltest.New(models.ChannelTwitter)
	broken.FetchErr = errors.New("429 too many requests")
	email := channeltest.New(models.ChannelEmail)
	email.Unconfigured = true

	s, ac := newSyncer(t, sms, slack, broken, email)
	res, err := s.Run(context.Background(), ac, Request{})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Synced)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Twitter sync error: 429 too many requests", res.Errors[0])

	byChannel := map[models.Channel]ChannelResult{}
	for _, cr := range res.Channels {
		byChannel[cr.Channel] = cr
	}
	assert.Equal(t, 3, byChannel[models.ChannelSMS].Ingested)
	assert.Equal(t, 2, byChannel[models.ChannelSlack].Ingested)
	assert.True(t, byChannel[models.ChannelEmail].Skipped)
	assert.Empty(t, byChannel[models.ChannelEmail].Error)

	assert.Same(t, res, s.Last())
}

func TestRunIsIdempotent(t *testing.T) {
	sms := channeltest.New(models.ChannelSMS)
	sms.Messages = msgs("+1555000", 4)
	s, ac := newSyncer(t, sms)

	first, err := s.Run(context.Background(), ac, Request{})
	require.NoError(t, err)
	assert.Equal(t, 4, first.Synced)

	second, err := s.Run(context.Background(), ac, Request{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Synced)
	assert.Equal(t, 4, second.Channels[0].Duplicates)
}

func TestRunRestrictsChannelsAndLimit(t *testing.T) {
	sms := channeltest.New(models.ChannelSMS)
	sms.Messages = msgs("+1555000", 5)
	slack := channeltest.New(models.ChannelSlack)
	slack.Messages = msgs("U", 2)
	s, ac := newSyncer(t, sms, slack)

	res, err := s.Run(context.Background(), ac, Request{Channels: []models.Channel{models.ChannelSMS}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Channels, 1)
	assert.Equal(t, models.ChannelSMS, res.Channels[0].Channel)
	assert.Equal(t, 2, res.Synced)
}

func TestRunReportsRequestedChannelsThatCannotSync(t *testing.T) {
	sms := channeltest.New(models.ChannelSMS)
	sms.Messages = msgs("+1555000", 1)
	email := channeltest.New(models.ChannelEmail)
	email.Unconfigured = true
	s, ac := newSyncer(t, sms, email)

	res, err := s.Run(context.Background(), ac, Request{
		Channels: []models.Channel{models.ChannelSMS, models.ChannelEmail, models.ChannelTwitter},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, []string{
		"Email sync error: channel not configured",
		"Twitter sync error: channel not configured",
	}, res.Errors)
	require.Len(t, res.Channels, 3)
	assert.True(t, res.Channels[1].Skipped)
	assert.True(t, res.Channels[2].Skipped)
}

type blockingAdapter struct {
	*channeltest.Fake
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAdapter) FetchMessages(ctx context.Context, limit int) ([]channel.InboundMessage, error) {
	close(b.entered)
	<-b.release
	return nil, nil
}

func TestRunRejectsOverlap(t *testing.T) {
	b := &blockingAdapter{
		Fake:    channeltest.New(models.ChannelSlack),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s, ac := newSyncer(t, b)

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background(), ac, Request{})
		done <- err
	}()
	<-b.entered

	_, err := s.Run(context.Background(), ac, Request{})
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(b.release)
	require.NoError(t, <-done)
}

func TestAutomaticRunsRespectMinInterval(t *testing.T) {
	sms := channeltest.New(models.ChannelSMS)
	s, ac := newSyncer(t, sms)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s.now = clock
	s.locker = lock.NewLocal().WithClock(clock)

	_, err := s.Run(context.Background(), ac, Request{Automatic: true})
	require.NoError(t, err)

	now = now.Add(10 * time.Second)
	_, err = s.Run(context.Background(), ac, Request{Automatic: true})
	assert.ErrorIs(t, err, ErrTooSoon)

	// Manual triggers are not throttled.
	_, err = s.Run(context.Background(), ac, Request{})
	assert.NoError(t, err)

	now = now.Add(DefaultMinInterval)
	_, err = s.Run(context.Background(), ac, Request{Automatic: true})
	assert.NoError(t, err)
}

func TestAutomaticRunsShareGate(t *testing.T) {
	locker := lock.NewLocal()
	_, err := locker.Acquire(context.Background(), autoGateKey, time.Minute)
	require.NoError(t, err)

	s, ac := newSyncer(t, channeltest.New(models.ChannelSMS))
	s.locker = locker

	_, err = s.Run(context.Background(), ac, Request{Automatic: true})
	assert.ErrorIs(t, err, ErrTooSoon)
}
