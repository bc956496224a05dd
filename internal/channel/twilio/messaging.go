package twilio

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/config"
	"github.com/lalith-99/unifiedinbox/internal/models"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

const (
	// historyWindow bounds how far back sync looks.
	historyWindow  = 365 * 24 * time.Hour
	maxPageSize    = 1000
	mediaBaseURL   = "https://api.twilio.com"
	whatsappPrefix = "whatsapp:"
)

// Adapter sends and fetches SMS or WhatsApp messages. Both channels share
// one Twilio account and differ only in the sender number and the
// "whatsapp:" address prefix.
type Adapter struct {
	api    API
	ch     models.Channel
	from   string
	logger *zap.Logger
	now    func() time.Time
}

// NewSMS returns the SMS adapter. api may be nil, in which case the adapter
// reports itself as not configured.
func NewSMS(cfg config.TwilioConfig, api API, logger *zap.Logger) *Adapter {
	return &Adapter{api: api, ch: models.ChannelSMS, from: cfg.PhoneNumber, logger: logger, now: time.Now}
}

func NewWhatsApp(cfg config.TwilioConfig, api API, logger *zap.Logger) *Adapter {
	return &Adapter{api: api, ch: models.ChannelWhatsApp, from: withWhatsAppPrefix(cfg.WhatsAppNumber), logger: logger, now: time.Now}
}

func (a *Adapter) Channel() models.Channel { return a.ch }

func (a *Adapter) Configured() bool {
	return a.api != nil && a.from != ""
}

// FetchMessages lists messages received on our number, then messages sent
// from it, within the history window. Outbound rows carry the recipient as
// SenderID so they land on the right contact.
func (a *Adapter) FetchMessages(ctx context.Context, limit int) ([]channel.InboundMessage, error) {
	if !a.Configured() {
		return nil, channel.ErrNotConfigured
	}
	after := a.now().Add(-historyWindow)

	inbound, err := a.list(ctx, limit, after, func(p *openapi.ListMessageParams) { p.SetTo(a.from) })
	if err != nil {
		return nil, fmt.Errorf("list %s inbound: %w", a.ch.Label(), err)
	}
	if len(inbound) >= limit {
		return inbound[:limit], nil
	}

	outbound, err := a.list(ctx, limit-len(inbound), after, func(p *openapi.ListMessageParams) { p.SetFrom(a.from) })
	if err != nil {
		return nil, fmt.Errorf("list %s outbound: %w", a.ch.Label(), err)
	}
	return append(inbound, outbound...), nil
}

func (a *Adapter) list(ctx context.Context, limit int, after time.Time, filter func(*openapi.ListMessageParams)) ([]channel.InboundMessage, error) {
	params := &openapi.ListMessageParams{}
	filter(params)
	params.SetDateSentAfter(after)
	params.SetPageSize(min(limit, maxPageSize))
	params.SetLimit(limit)

	records, err := a.api.ListMessage(params)
	if err != nil {
		return nil, err
	}

	out := make([]channel.InboundMessage, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, a.toInbound(rec))
	}
	return out, nil
}

func (a *Adapter) toInbound(rec openapi.ApiV2010Message) channel.InboundMessage {
	direction := models.DirectionInbound
	party := str(rec.From)
	if strings.HasPrefix(str(rec.Direction), "outbound") {
		direction = models.DirectionOutbound
		party = str(rec.To)
	}

	msg := channel.InboundMessage{
		ExternalID:   str(rec.Sid),
		SenderID:     strings.TrimPrefix(party, whatsappPrefix),
		Text:         str(rec.Body),
		Timestamp:    parseDate(str(rec.DateSent), str(rec.DateCreated)),
		VendorStatus: str(rec.Status),
		Direction:    direction,
	}
	if n, _ := strconv.Atoi(str(rec.NumMedia)); n > 0 {
		msg.MediaURLs = a.mediaURLs(msg.ExternalID)
	}
	return msg
}

// mediaURLs is best effort: a failed lookup keeps the message without media.
func (a *Adapter) mediaURLs(sid string) []string {
	media, err := a.api.ListMedia(sid, &openapi.ListMediaParams{})
	if err != nil {
		a.logger.Warn("list twilio media", zap.String("sid", sid), zap.Error(err))
		return nil
	}
	urls := make([]string, 0, len(media))
	for _, m := range media {
		if uri := str(m.Uri); uri != "" {
			urls = append(urls, mediaBaseURL+strings.TrimSuffix(uri, ".json"))
		}
	}
	return urls
}

func (a *Adapter) Send(ctx context.Context, p channel.SendParams) channel.SendResult {
	if !a.Configured() {
		return channel.Failed(fmt.Sprintf("%s is not configured: set TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and the sender number", a.ch.Label()))
	}
	if strings.TrimSpace(p.To) == "" {
		return channel.Failed("recipient phone number is required")
	}

	to := models.NormalizePhone(p.To)
	if a.ch == models.ChannelWhatsApp {
		to = withWhatsAppPrefix(to)
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(a.from)
	params.SetBody(p.Content)
	if len(p.MediaURLs) > 0 {
		params.SetMediaUrl(p.MediaURLs)
	}

	resp, err := a.api.CreateMessage(params)
	if err != nil {
		msg := err.Error()
		if strings.Contains(strings.ToLower(msg), "media") {
			msg += " Twilio requires media URLs to be publicly accessible."
		}
		return channel.Failed(msg)
	}
	return channel.Sent(str(resp.Sid))
}

func withWhatsAppPrefix(number string) string {
	if number == "" || strings.HasPrefix(number, whatsappPrefix) {
		return number
	}
	return whatsappPrefix + number
}

// parseDate reads Twilio's RFC 2822 dates, falling back to the creation
// date and finally to the zero time.
func parseDate(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC1123Z, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
