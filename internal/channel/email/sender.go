package email

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/resend/resend-go/v2"
	gomail "github.com/wneessen/go-mail"
)

// Mail is one outgoing message.
type Mail struct {
	From      string
	To        string
	Subject   string
	Text      string
	HTML      string
	InReplyTo string
}

// Sender delivers a Mail and returns the provider's message id.
type Sender interface {
	Name() string
	Send(ctx context.Context, m Mail) (string, error)
}

type ResendSender struct {
	client *resend.Client
}

// NewResendSender builds a Resend client. baseURL overrides the API origin
// and is empty in production.
func NewResendSender(apiKey, baseURL string) (*ResendSender, error) {
	client := resend.NewClient(apiKey)
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse resend url: %w", err)
		}
		client.BaseURL = u
	}
	return &ResendSender{client: client}, nil
}

func (s *ResendSender) Name() string { return "resend" }

func (s *ResendSender) Send(ctx context.Context, m Mail) (string, error) {
	req := &resend.SendEmailRequest{
		From:    m.From,
		To:      []string{m.To},
		Subject: m.Subject,
		Text:    m.Text,
		Html:    m.HTML,
	}
	if m.InReplyTo != "" {
		req.Headers = map[string]string{
			"In-Reply-To": angle(m.InReplyTo),
			"References":  angle(m.InReplyTo),
		}
	}
	sent, err := s.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return "", err
	}
	return sent.Id, nil
}

// SMTPSender relays through a plain SMTP server when Resend is not set up.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	domain   string
}

func NewSMTPSender(host string, port int, username, password string) *SMTPSender {
	return &SMTPSender{host: host, port: port, username: username, password: password, domain: host}
}

func (s *SMTPSender) Name() string { return "smtp" }

func (s *SMTPSender) Send(ctx context.Context, m Mail) (string, error) {
	msg := gomail.NewMsg()
	if err := msg.From(m.From); err != nil {
		return "", fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return "", fmt.Errorf("set to: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, m.Text)
	if m.HTML != "" {
		msg.AddAlternativeString(gomail.TypeTextHTML, m.HTML)
	}
	if m.InReplyTo != "" {
		msg.SetGenHeader(gomail.HeaderInReplyTo, angle(m.InReplyTo))
		msg.SetGenHeader(gomail.HeaderReferences, angle(m.InReplyTo))
	}
	id := uuid.NewString() + "@" + s.domain
	msg.SetMessageIDWithValue(id)

	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
	}
	if s.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.username),
			gomail.WithPassword(s.password),
		)
	}
	client, err := gomail.NewClient(s.host, opts...)
	if err != nil {
		return "", fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", err
	}
	return id, nil
}
