package status

import (
	"testing"

	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeTwilioOutbound(t *testing.T) {
	tests := []struct {
		vendor string
		want   models.Status
	}{
		{"delivered", models.StatusDelivered},
		{"sent", models.StatusSent},
		{"failed", models.StatusFailed},
		{"undelivered", models.StatusFailed},
		{"queued", models.StatusPending},
		{"sending", models.StatusPending},
		{"Delivered", models.StatusDelivered},
		{"receiving", models.StatusSent},
		{"", models.StatusSent},
	}
	for _, ch := range []models.Channel{models.ChannelSMS, models.ChannelWhatsApp} {
		for _, tt := range tests {
			t.Run(string(ch)+"/"+tt.vendor, func(t *testing.T) {
				assert.Equal(t, tt.want, Normalize(ch, models.DirectionOutbound, tt.vendor))
			})
		}
	}
}

func TestNormalizeInboundIsAlwaysDelivered(t *testing.T) {
	for _, ch := range models.AllChannels {
		for _, v := range []string{"", "failed", "queued", "read", "received"} {
			assert.Equal(t, models.StatusDelivered, Normalize(ch, models.DirectionInbound, v), "%s %q", ch, v)
		}
	}
}

func TestNormalizeChannelsWithoutVendorStatus(t *testing.T) {
	for _, ch := range []models.Channel{models.ChannelFacebook, models.ChannelInstagram, models.ChannelTwitter, models.ChannelSlack} {
		assert.Equal(t, models.StatusSent, Normalize(ch, models.DirectionOutbound, ""))
	}
}

func TestOutboundEmailEvents(t *testing.T) {
	s, ok := Outbound(models.ChannelEmail, "email.delivered")
	assert.True(t, ok)
	assert.Equal(t, models.StatusDelivered, s)

	s, ok = Outbound(models.ChannelEmail, "email.bounced")
	assert.True(t, ok)
	assert.Equal(t, models.StatusFailed, s)

	_, ok = Outbound(models.ChannelEmail, "email.clicked")
	assert.False(t, ok)
}

func TestAdvances(t *testing.T) {
	assert.True(t, Advances(models.StatusSent, models.StatusDelivered))
	assert.True(t, Advances(models.StatusDelivered, models.StatusFailed))
	assert.False(t, Advances(models.StatusDelivered, models.StatusSent))
	assert.False(t, Advances(models.StatusFailed, models.StatusDelivered))
	assert.False(t, Advances(models.StatusRead, models.StatusRead))
}
