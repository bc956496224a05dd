// Package email implements the Email adapter: Resend (or SMTP) for sending
// and IMAP for reading the inbox.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strconv"
	"strings"

	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/config"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"go.uber.org/zap"
)

const (
	// SandboxSender can only deliver to the Resend account's own address.
	SandboxSender  = "onboarding@resend.dev"
	DefaultSubject = "Message from Unified Inbox"
	// NoSubject stands in for the subject of inbound mail that has none.
	NoSubject      = "No Subject"
	domainsURL     = "https://resend.com/domains"
)

type Adapter struct {
	sender   Sender
	fetcher  Fetcher
	from     string
	verified string
	logger   *zap.Logger
}

// New wires Resend when an API key is present, SMTP otherwise, and IMAP
// when its credentials are complete. Missing pieces leave the adapter
// partially configured.
func New(cfg config.EmailConfig, logger *zap.Logger) (*Adapter, error) {
	a := &Adapter{from: cfg.FromEmail, verified: cfg.VerifiedEmail, logger: logger}

	switch {
	case cfg.ResendAPIKey != "":
		s, err := NewResendSender(cfg.ResendAPIKey, "")
		if err != nil {
			return nil, err
		}
		a.sender = s
	case cfg.SMTPHost != "":
		a.sender = NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
		if a.from == SandboxSender && cfg.SMTPUser != "" {
			a.from = cfg.SMTPUser
		}
	}
	if cfg.FetchEnabled() {
		a.fetcher = NewIMAPFetcher(cfg.IMAPHost, cfg.IMAPPort, cfg.IMAPUser, cfg.IMAPPassword, cfg.IMAPInsecure, logger)
	}
	return a, nil
}

// NewWith builds an adapter from explicit parts.
func NewWith(sender Sender, fetcher Fetcher, from, verified string, logger *zap.Logger) *Adapter {
	return &Adapter{sender: sender, fetcher: fetcher, from: from, verified: verified, logger: logger}
}

func (a *Adapter) Channel() models.Channel { return models.ChannelEmail }

func (a *Adapter) Configured() bool {
	return a.sender != nil || a.fetcher != nil
}

func (a *Adapter) FetchMessages(ctx context.Context, limit int) ([]channel.InboundMessage, error) {
	if a.fetcher == nil {
		return nil, channel.ErrNotConfigured
	}
	fetched, err := a.fetcher.Fetch(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]channel.InboundMessage, 0, len(fetched))
	for _, f := range fetched {
		if f.Parsed.From == "" {
			continue
		}
		out = append(out, ToInbound(f.Parsed, strconv.FormatUint(uint64(f.UID), 10)))
	}
	return out, nil
}

// ToInbound converts a parsed email. fallbackID is used when the message
// has no Message-ID header.
func ToInbound(p *Parsed, fallbackID string) channel.InboundMessage {
	id := p.MessageID
	if id == "" {
		id = fallbackID
	}
	meta := models.Metadata{models.MetaEmailSubject: p.SubjectOrDefault()}
	if p.InReplyTo != "" {
		meta[models.MetaEmailInReplyTo] = p.InReplyTo
	}
	if len(p.References) > 0 {
		meta[models.MetaEmailRefs] = strings.Join(p.References, " ")
	}
	return channel.InboundMessage{
		ExternalID: id,
		SenderID:   p.From,
		SenderName: p.FromName,
		Text:       p.Content(),
		Timestamp:  p.Date,
		Direction:  models.DirectionInbound,
		Metadata:   meta,
	}
}

func (a *Adapter) Send(ctx context.Context, p channel.SendParams) channel.SendResult {
	if a.sender == nil {
		return channel.Failed("email sending is not configured: set RESEND_API_KEY or SMTP_HOST")
	}
	to, err := Address(p.To)
	if err != nil {
		return channel.Failed(err.Error())
	}
	if _, ok := a.sender.(*ResendSender); ok && a.from == SandboxSender && a.verified != "" && !strings.EqualFold(to, a.verified) {
		return channel.Failed(fmt.Sprintf(
			"Free tier limitation: with %s you can only send to your verified email (%s), not %s. Verify a domain at %s and set RESEND_FROM_EMAIL.",
			SandboxSender, a.verified, to, domainsURL))
	}

	subject := p.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	if p.ReplyTo != "" {
		subject = ReplySubject(subject)
	}

	body, err := renderHTML(p.Content, p.MediaURLs)
	if err != nil {
		return channel.Failed(fmt.Sprintf("render email: %v", err))
	}

	id, err := a.sender.Send(ctx, Mail{
		From:      a.from,
		To:        to,
		Subject:   subject,
		Text:      p.Content,
		HTML:      body,
		InReplyTo: p.ReplyTo,
	})
	if err != nil {
		return channel.Failed(withHint(err.Error()))
	}
	return channel.Sent(id)
}

// ReplySubject prefixes "Re: " unless the subject already has it.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

// withHint appends guidance to vendor errors that are otherwise cryptic.
func withHint(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "only send testing emails"), strings.Contains(lower, "verify a domain"), strings.Contains(lower, "only send to your own email"):
		return msg + ". Free tier limitation: the sandbox sender can only reach your own verified address. Verify a domain at " + domainsURL + " and set RESEND_FROM_EMAIL."
	case strings.Contains(lower, "domain"), strings.Contains(lower, "not verified"):
		return msg + ". Verify your domain at " + domainsURL
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "quota"):
		return msg + ". You may have exceeded your sending quota."
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "validation"):
		return msg + ". Check that the recipient email address is valid."
	}
	return msg
}

var bodyTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif;line-height:1.5">
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}{{range .Media}}<p><a href="{{.}}">{{.}}</a></p>
{{end}}</body></html>`))

func renderHTML(content string, media []string) (string, error) {
	var buf bytes.Buffer
	err := bodyTemplate.Execute(&buf, struct {
		Paragraphs []string
		Media      []string
	}{
		Paragraphs: strings.Split(strings.TrimSpace(content), "\n\n"),
		Media:      media,
	})
	return buf.String(), err
}
