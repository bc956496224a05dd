package models

import (
	"regexp"
	"strings"
)

// IdentityKind names the namespace a contact identifier lives in. SMS and
// WhatsApp share the phone namespace, so one person texting on both lands
// on the same contact.
type IdentityKind string

const (
	IdentityPhone     IdentityKind = "phone"
	IdentityEmail     IdentityKind = "email"
	IdentityFacebook  IdentityKind = "facebook"
	IdentityInstagram IdentityKind = "instagram"
	IdentityTwitter   IdentityKind = "twitter"
	IdentitySlack     IdentityKind = "slack"
)

// Social reports whether the kind is stored in Contact.Handles.
func (k IdentityKind) Social() bool {
	switch k {
	case IdentityFacebook, IdentityInstagram, IdentityTwitter, IdentitySlack:
		return true
	}
	return false
}

type Identity struct {
	Kind  IdentityKind `json:"kind"`
	Value string       `json:"value"`
}

func identityKindFor(ch Channel) (IdentityKind, bool) {
	switch ch {
	case ChannelSMS, ChannelWhatsApp:
		return IdentityPhone, true
	case ChannelEmail:
		return IdentityEmail, true
	case ChannelFacebook:
		return IdentityFacebook, true
	case ChannelInstagram:
		return IdentityInstagram, true
	case ChannelTwitter:
		return IdentityTwitter, true
	case ChannelSlack:
		return IdentitySlack, true
	}
	return "", false
}

// IdentityFor maps a sender identifier seen on ch to its normalized identity.
// ok is false when the channel is unknown or the identifier is empty after
// normalization.
func IdentityFor(ch Channel, identifier string) (Identity, bool) {
	kind, ok := identityKindFor(ch)
	if !ok {
		return Identity{}, false
	}
	var value string
	switch kind {
	case IdentityPhone:
		value = NormalizePhone(identifier)
	case IdentityEmail:
		value = NormalizeEmail(identifier)
	default:
		value = strings.TrimSpace(identifier)
	}
	if value == "" {
		return Identity{}, false
	}
	return Identity{Kind: kind, Value: value}, true
}

// Apply records the identity on the contact's phones, emails or handles.
func (id Identity) Apply(c *Contact) {
	switch id.Kind {
	case IdentityPhone:
		c.Phones = appendUnique(c.Phones, id.Value)
	case IdentityEmail:
		c.Emails = appendUnique(c.Emails, id.Value)
	default:
		if c.Handles == nil {
			c.Handles = map[string]string{}
		}
		c.Handles[string(id.Kind)] = id.Value
	}
}

var phoneJunk = regexp.MustCompile(`[\s\-().]`)

// NormalizePhone strips the Twilio "whatsapp:" prefix and punctuation.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "whatsapp:")
	return phoneJunk.ReplaceAllString(s, "")
}

var angleAddr = regexp.MustCompile(`<([^>]+)>`)

// NormalizeEmail extracts the address from `Name <addr>` and lowercases it.
func NormalizeEmail(s string) string {
	s = strings.TrimSpace(s)
	if m := angleAddr.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// PlaceholderName is the display name given to a contact first seen on ch
// when the vendor supplied none.
func PlaceholderName(ch Channel, identifier string) string {
	switch ch {
	case ChannelSMS, ChannelWhatsApp:
		return NormalizePhone(identifier)
	case ChannelEmail:
		addr := NormalizeEmail(identifier)
		if at := strings.IndexByte(addr, '@'); at > 0 {
			return addr[:at]
		}
		return addr
	default:
		return ch.Label() + " User " + identifier
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// UnionStrings keeps the order of a, then appends unseen values of b.
func UnionStrings(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		out = appendUnique(out, v)
	}
	for _, v := range b {
		out = appendUnique(out, v)
	}
	return out
}
