package models

import (
	"fmt"
	"strings"
)

type Channel string

const (
	ChannelSMS       Channel = "SMS"
	ChannelWhatsApp  Channel = "WHATSAPP"
	ChannelEmail     Channel = "EMAIL"
	ChannelFacebook  Channel = "FACEBOOK"
	ChannelInstagram Channel = "INSTAGRAM"
	ChannelTwitter   Channel = "TWITTER"
	ChannelSlack     Channel = "SLACK"
)

// AllChannels is the default channel set for sync, in a stable order.
var AllChannels = []Channel{
	ChannelSMS,
	ChannelWhatsApp,
	ChannelEmail,
	ChannelFacebook,
	ChannelInstagram,
	ChannelTwitter,
	ChannelSlack,
}

var channelLabels = map[Channel]string{
	ChannelSMS:       "SMS",
	ChannelWhatsApp:  "WhatsApp",
	ChannelEmail:     "Email",
	ChannelFacebook:  "Facebook",
	ChannelInstagram: "Instagram",
	ChannelTwitter:   "Twitter",
	ChannelSlack:     "Slack",
}

// ParseChannel accepts any casing ("sms", "WhatsApp", "SLACK").
func ParseChannel(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.Valid() {
		return "", fmt.Errorf("unknown channel %q", s)
	}
	return ch, nil
}

func (c Channel) Valid() bool {
	_, ok := channelLabels[c]
	return ok
}

// Label is the human form used in placeholder names and error strings.
func (c Channel) Label() string {
	if l, ok := channelLabels[c]; ok {
		return l
	}
	return string(c)
}

type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusScheduled Status = "SCHEDULED"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusRead      Status = "READ"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusSent, StatusDelivered, StatusFailed, StatusRead:
		return true
	}
	return false
}
