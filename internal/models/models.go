package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an operator of the inbox. Contacts, outbound messages, notes and
// activity entries are attributed to a user.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Contact is one external correspondent, reachable on any number of
// channels. Handles maps an identity kind ("slack", "facebook", ...) to the
// platform user id. Phones and emails are kept as ordered lists; the first
// entry is the one used for outbound sends.
//
// Every phone, email and handle is also recorded as an Identity with a
// unique (kind, value) pair, so two contacts can never claim the same one.
type Contact struct {
	ID        uuid.UUID         `json:"id"`
	UserID    uuid.UUID         `json:"user_id"`
	Name      string            `json:"name"`
	Phones    []string          `json:"phones"`
	Emails    []string          `json:"emails"`
	Handles   map[string]string `json:"social_handles"`
	Tags      []string          `json:"tags"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (c *Contact) PrimaryPhone() string {
	if len(c.Phones) == 0 {
		return ""
	}
	return c.Phones[0]
}

func (c *Contact) PrimaryEmail() string {
	if len(c.Emails) == 0 {
		return ""
	}
	return c.Emails[0]
}

// Recipient returns the address an outbound message on ch should go to,
// or "" when the contact cannot be reached there.
func (c *Contact) Recipient(ch Channel) string {
	switch ch {
	case ChannelSMS, ChannelWhatsApp:
		return c.PrimaryPhone()
	case ChannelEmail:
		return c.PrimaryEmail()
	case ChannelFacebook:
		if v := c.Handles[string(IdentityFacebook)]; v != "" {
			return v
		}
		return c.Handles["psid"]
	default:
		kind, ok := identityKindFor(ch)
		if !ok {
			return ""
		}
		return c.Handles[string(kind)]
	}
}

// Identities lists every (kind, value) pair the contact owns.
func (c *Contact) Identities() []Identity {
	out := make([]Identity, 0, len(c.Phones)+len(c.Emails)+len(c.Handles))
	for _, p := range c.Phones {
		if p = NormalizePhone(p); p != "" {
			out = append(out, Identity{Kind: IdentityPhone, Value: p})
		}
	}
	for _, e := range c.Emails {
		if e = NormalizeEmail(e); e != "" {
			out = append(out, Identity{Kind: IdentityEmail, Value: e})
		}
	}
	for k, v := range c.Handles {
		kind := IdentityKind(k)
		if !kind.Social() || v == "" {
			continue
		}
		out = append(out, Identity{Kind: kind, Value: v})
	}
	return out
}

// Message is one unit of communication on one channel. Inbound rows carry an
// ExternalRef; outbound rows gain one once the vendor accepts the send.
type Message struct {
	ID           int64        `json:"id"`
	ContactID    uuid.UUID    `json:"contact_id"`
	UserID       uuid.UUID    `json:"user_id"`
	Channel      Channel      `json:"channel"`
	Direction    Direction    `json:"direction"`
	Content      string       `json:"content"`
	MediaURLs    []string     `json:"media_urls"`
	Status       Status       `json:"status"`
	ExternalRef  *ExternalRef `json:"external_ref,omitempty"`
	Metadata     Metadata     `json:"metadata"`
	ScheduledFor *time.Time   `json:"scheduled_for,omitempty"`
	SentAt       *time.Time   `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time   `json:"delivered_at,omitempty"`
	ReadAt       *time.Time   `json:"read_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// IsVoiceCall reports whether the message stands for a text-to-speech call
// rather than a text send.
func (m *Message) IsVoiceCall() bool {
	return m.Metadata.Bool(MetaVoiceCall)
}

// Note is a free-text annotation on a contact.
type Note struct {
	ID        uuid.UUID `json:"id"`
	ContactID uuid.UUID `json:"contact_id"`
	UserID    uuid.UUID `json:"user_id"`
	Content   string    `json:"content"`
	IsPrivate bool      `json:"is_private"`
	Mentions  []string  `json:"mentions"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ActivityAction string

const (
	ActivityMessageReceived ActivityAction = "MESSAGE_RECEIVED"
	ActivityMessageSent     ActivityAction = "MESSAGE_SENT"
	ActivityMessageFailed   ActivityAction = "MESSAGE_FAILED"
	ActivityContactCreated  ActivityAction = "CONTACT_CREATED"
	ActivityContactsMerged  ActivityAction = "CONTACTS_MERGED"
	ActivityNoteCreated     ActivityAction = "NOTE_CREATED"
)

// ActivityLog is an append-only audit entry.
type ActivityLog struct {
	ID        int64          `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	ContactID *uuid.UUID     `json:"contact_id,omitempty"`
	Action    ActivityAction `json:"action"`
	Details   Metadata       `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}
