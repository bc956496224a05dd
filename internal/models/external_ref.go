package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// ExternalRefKind tags which vendor id an ExternalRef carries. The string
// value doubles as the metadata key the id is mirrored under.
type ExternalRefKind string

const (
	RefTwilioSid      ExternalRefKind = "twilioSid"
	RefFacebookID     ExternalRefKind = "facebookId"
	RefInstagramID    ExternalRefKind = "instagramId"
	RefTwitterID      ExternalRefKind = "twitterId"
	RefEmailMessageID ExternalRefKind = "emailMessageId"
	RefSlackTs        ExternalRefKind = "slackTs"
	// RefContentHash stands in when the vendor supplied no id.
	RefContentHash ExternalRefKind = "contentHash"
)

// ExternalRef is the dedup key of a message: which vendor id and its value.
type ExternalRef struct {
	Kind  ExternalRefKind `json:"kind"`
	Value string          `json:"value"`
}

func TwilioSid(v string) ExternalRef      { return ExternalRef{Kind: RefTwilioSid, Value: v} }
func FacebookID(v string) ExternalRef     { return ExternalRef{Kind: RefFacebookID, Value: v} }
func InstagramID(v string) ExternalRef    { return ExternalRef{Kind: RefInstagramID, Value: v} }
func TwitterID(v string) ExternalRef      { return ExternalRef{Kind: RefTwitterID, Value: v} }
func EmailMessageID(v string) ExternalRef { return ExternalRef{Kind: RefEmailMessageID, Value: v} }
func SlackTs(v string) ExternalRef        { return ExternalRef{Kind: RefSlackTs, Value: v} }

// RefKindFor returns the vendor id kind used by ch.
func RefKindFor(ch Channel) ExternalRefKind {
	switch ch {
	case ChannelSMS, ChannelWhatsApp:
		return RefTwilioSid
	case ChannelFacebook:
		return RefFacebookID
	case ChannelInstagram:
		return RefInstagramID
	case ChannelTwitter:
		return RefTwitterID
	case ChannelEmail:
		return RefEmailMessageID
	case ChannelSlack:
		return RefSlackTs
	}
	return RefContentHash
}

// NewExternalRef builds the ref for a vendor id seen on ch.
func NewExternalRef(ch Channel, id string) ExternalRef {
	return ExternalRef{Kind: RefKindFor(ch), Value: id}
}

// ContentHashRef derives a best-effort key from sender, text and timestamp
// for events that arrive without a vendor id.
func ContentHashRef(ch Channel, sender, text string, ts time.Time) ExternalRef {
	h := sha256.New()
	h.Write([]byte(ch))
	h.Write([]byte{0})
	h.Write([]byte(sender))
	h.Write([]byte{0})
	h.Write([]byte(text))
	if !ts.IsZero() {
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	}
	return ExternalRef{Kind: RefContentHash, Value: hex.EncodeToString(h.Sum(nil))}
}

// MetadataKey is the key the ref value is mirrored under in Message.Metadata.
func (r ExternalRef) MetadataKey() string {
	return string(r.Kind)
}

func (r ExternalRef) IsZero() bool {
	return r.Value == ""
}
