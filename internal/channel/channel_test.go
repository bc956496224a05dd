package channel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/channel/channeltest"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := channel.NewRegistry()
	require.NoError(t, r.Register(channeltest.New(models.ChannelSlack)))
	require.NoError(t, r.Register(channeltest.New(models.ChannelSMS)))

	assert.Error(t, r.Register(channeltest.New(models.ChannelSMS)), "duplicate channel")
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(channeltest.New(models.Channel("FAX"))))

	a, ok := r.Get(models.ChannelSlack)
	require.True(t, ok)
	assert.Equal(t, models.ChannelSlack, a.Channel())

	_, ok = r.Get(models.ChannelEmail)
	assert.False(t, ok)

	assert.Equal(t, []models.Channel{models.ChannelSMS, models.ChannelSlack}, r.Channels())
}

func TestRegistryConfigured(t *testing.T) {
	off := channeltest.New(models.ChannelEmail)
	off.Unconfigured = true

	r := channel.NewRegistry()
	r.MustRegister(channeltest.New(models.ChannelSMS), off)
	assert.Equal(t, []models.Channel{models.ChannelSMS}, r.Configured())
}

type slowAdapter struct {
	*channeltest.Fake
}

func (s slowAdapter) FetchMessages(ctx context.Context, limit int) ([]channel.InboundMessage, error) {
	time.Sleep(200 * time.Millisecond)
	return nil, nil
}

func (s slowAdapter) Send(ctx context.Context, p channel.SendParams) channel.SendResult {
	time.Sleep(200 * time.Millisecond)
	return channel.Sent("late")
}

type panicAdapter struct {
	*channeltest.Fake
}

func (p panicAdapter) FetchMessages(ctx context.Context, limit int) ([]channel.InboundMessage, error) {
	panic("vendor exploded")
}

func (p panicAdapter) Send(ctx context.Context, params channel.SendParams) channel.SendResult {
	panic("vendor exploded")
}

func TestFetchTimesOut(t *testing.T) {
	a := slowAdapter{channeltest.New(models.ChannelTwitter)}
	msgs, err := channel.Fetch(context.Background(), a, 10, 20*time.Millisecond)
	assert.Nil(t, msgs)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendTimesOut(t *testing.T) {
	a := slowAdapter{channeltest.New(models.ChannelTwitter)}
	res := channel.Send(context.Background(), a, channel.SendParams{To: "x"}, 20*time.Millisecond)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
}

func TestPanicsBecomeFailures(t *testing.T) {
	a := panicAdapter{channeltest.New(models.ChannelSlack)}

	_, err := channel.Fetch(context.Background(), a, 10, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	res := channel.Send(context.Background(), a, channel.SendParams{To: "x"}, time.Second)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "panicked")
}

func TestFetchPassesThroughErrors(t *testing.T) {
	f := channeltest.New(models.ChannelSMS)
	f.FetchErr = errors.New("401 unauthorized")
	_, err := channel.Fetch(context.Background(), f, 10, time.Second)
	assert.EqualError(t, err, "401 unauthorized")
}

func TestSendRejectsInlineMedia(t *testing.T) {
	f := channeltest.New(models.ChannelWhatsApp)
	res := channel.Send(context.Background(), f, channel.SendParams{
		To:        "+1555",
		MediaURLs: []string{"data:image/png;base64,iVBORw0KGgo="},
	}, time.Second)

	assert.False(t, res.Success)
	assert.Equal(t, channel.ErrInlineMedia.Error(), res.Error)
	assert.Empty(t, f.Sent(), "vendor must not be called")
}

func TestValidateMediaURLs(t *testing.T) {
	assert.NoError(t, channel.ValidateMediaURLs(nil))
	assert.NoError(t, channel.ValidateMediaURLs([]string{"https://cdn.example.com/a.png"}))
	assert.ErrorIs(t, channel.ValidateMediaURLs([]string{"DATA:text/plain,hi"}), channel.ErrInlineMedia)
	assert.Error(t, channel.ValidateMediaURLs([]string{"/relative/path.png"}))
	assert.ErrorIs(t, channel.ValidateMediaURLs([]string{"ftp://example.com/a.png"}), channel.ErrInvalidMediaURL)

	for _, raw := range []string{
		"http://127.0.0.1/a.png",
		"http://localhost:3000/a.png",
		"http://10.1.2.3/a.png",
		"https://192.168.0.10/a.png",
		"http://169.254.169.254/latest",
		"http://[::1]/a.png",
		"http://[::ffff:127.0.0.1]/a.png",
		"http://0.0.0.0/a.png",
	} {
		assert.ErrorIs(t, channel.ValidateMediaURLs([]string{raw}), channel.ErrInvalidMediaURL, raw)
	}
	assert.NoError(t, channel.ValidateMediaURLs([]string{"https://93.184.216.34/a.png"}))
}

func TestResolveMediaURLs(t *testing.T) {
	got, err := channel.ResolveMediaURLs("https://inbox.example.com/", []string{
		"/uploads/a.png",
		"https://cdn.example.com/b.png",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://inbox.example.com/uploads/a.png",
		"https://cdn.example.com/b.png",
	}, got)

	_, err = channel.ResolveMediaURLs("", []string{"/uploads/a.png"})
	assert.ErrorIs(t, err, channel.ErrInvalidMediaURL)

	_, err = channel.ResolveMediaURLs("http://localhost:3000", []string{"/uploads/a.png"})
	assert.ErrorIs(t, err, channel.ErrInvalidMediaURL)

	_, err = channel.ResolveMediaURLs("https://inbox.example.com", []string{"//evil.example/a.png"})
	assert.ErrorIs(t, err, channel.ErrInvalidMediaURL)

	_, err = channel.ResolveMediaURLs("https://inbox.example.com", []string{"data:image/png;base64,AA"})
	assert.ErrorIs(t, err, channel.ErrInlineMedia)

	got, err = channel.ResolveMediaURLs("https://inbox.example.com", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
