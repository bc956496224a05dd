package email

import (
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
)

// Parsed is the part of an RFC 5322 message the inbox keeps.
type Parsed struct {
	From       string
	FromName   string
	Subject    string
	Text       string
	MessageID  string
	InReplyTo  string
	References []string
	Date       time.Time
}

// Parse reads a raw message. The first text/plain part wins; an HTML-only
// message is reduced to text.
func Parse(r io.Reader) (*Parsed, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	p := &Parsed{}
	h := mr.Header
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		p.From = strings.ToLower(from[0].Address)
		p.FromName = from[0].Name
	}
	p.Subject, _ = h.Subject()
	p.MessageID, _ = h.MessageID()
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		p.InReplyTo = ids[0]
	}
	p.References, _ = h.MsgIDList("References")
	p.Date, _ = h.Date()

	var plain, htmlBody string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return nil, fmt.Errorf("read part: %w", err)
		}
		ih, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := ih.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		switch {
		case ct == "text/plain" && plain == "":
			plain = string(body)
		case ct == "text/html" && htmlBody == "":
			htmlBody = string(body)
		}
	}

	p.Text = strings.TrimSpace(plain)
	if p.Text == "" && htmlBody != "" {
		p.Text = HTMLToText(htmlBody)
	}
	return p, nil
}

// Content is the message body stored for an inbound email.
func (p *Parsed) Content() string {
	return p.SubjectOrDefault() + "\n\n" + p.Text
}

// SubjectOrDefault substitutes NoSubject for an empty subject line.
func (p *Parsed) SubjectOrDefault() string {
	if strings.TrimSpace(p.Subject) == "" {
		return NoSubject
	}
	return p.Subject
}

var (
	blockBreak = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</li>|</tr>|</h[1-6]>`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)
	spaceRuns  = regexp.MustCompile(`[ \t\r\f]+`)
)

var strict = bluemonday.StrictPolicy()

// HTMLToText strips markup, keeping paragraph breaks.
func HTMLToText(s string) string {
	s = blockBreak.ReplaceAllString(s, "\n")
	s = html.UnescapeString(strict.Sanitize(s))
	s = strings.ReplaceAll(s, "\u00a0", " ")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(l, " "))
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankRuns.ReplaceAllString(s, "\n\n"))
}

var addrPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Address extracts and validates the address of "Name <addr>" or "addr".
func Address(s string) (string, error) {
	addr := s
	if a, err := mail.ParseAddress(s); err == nil {
		addr = a.Address
	}
	addr = strings.TrimSpace(addr)
	if !addrPattern.MatchString(addr) {
		return "", fmt.Errorf("invalid recipient email address: %s", strings.TrimSpace(s))
	}
	return addr, nil
}

// angle wraps a message id in <>, as the In-Reply-To header expects.
func angle(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}

// ParseSender splits "Name <addr>" into a lowercased address and the display name.
func ParseSender(s string) (addr, name string) {
	if a, err := mail.ParseAddress(s); err == nil {
		return strings.ToLower(a.Address), a.Name
	}
	return strings.ToLower(strings.TrimSpace(s)), ""
}
