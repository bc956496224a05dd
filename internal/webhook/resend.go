package webhook

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/channel/email"
	"github.com/lalith-99/unifiedinbox/internal/ingest"
	"github.com/lalith-99/unifiedinbox/internal/models"
	svix "github.com/svix/svix-webhooks/go"
	"go.uber.org/zap"
)

type resendPayload struct {
	Type string `json:"type"`
	Data struct {
		EmailID    string          `json:"email_id"`
		ID         string          `json:"id"`
		MessageID  string          `json:"message_id"`
		From       json.RawMessage `json:"from"`
		Subject    string          `json:"subject"`
		Text       string          `json:"text"`
		HTML       string          `json:"html"`
		Date       string          `json:"date"`
		CreatedAt  string          `json:"created_at"`
		InReplyTo  string          `json:"in_reply_to"`
		References json.RawMessage `json:"references"`
	} `json:"data"`
}

// from accepts either "Name <addr>" or {"email": ..., "name": ...}.
func (p resendPayload) from() (addr, name string) {
	var s string
	if json.Unmarshal(p.Data.From, &s) == nil {
		return email.ParseSender(s)
	}
	var obj struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if json.Unmarshal(p.Data.From, &obj) == nil {
		addr, parsed := email.ParseSender(obj.Email)
		if obj.Name != "" {
			parsed = obj.Name
		}
		return addr, parsed
	}
	return "", ""
}

func (p resendPayload) references() []string {
	var list []string
	if json.Unmarshal(p.Data.References, &list) == nil {
		return list
	}
	var s string
	if json.Unmarshal(p.Data.References, &s) == nil && s != "" {
		return strings.Fields(s)
	}
	return nil
}

// Resend handles inbound mail (email.received) and delivery events for mail
// we sent (email.delivered, email.bounced and friends). Resend delivers
// through svix: with a secret configured, the svix-id, svix-timestamp and
// svix-signature headers must verify before anything is parsed. After that
// it always answers 200 once the body is valid JSON.
func (h *Handler) Resend(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	if h.cfg.ResendSecret != "" {
		wh, err := svix.NewWebhook(h.cfg.ResendSecret)
		if err != nil {
			h.logger.Error("invalid resend webhook secret", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook verification misconfigured"})
			return
		}
		// Verify also rejects timestamps outside svix's five minute tolerance.
		if err := wh.Verify(body, c.Request.Header); err != nil {
			h.logger.Warn("rejected resend webhook", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var p resendPayload
	if err := json.Unmarshal(body, &p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	ctx := c.Request.Context()
	switch {
	case p.Type == "email.received":
		addr, name := p.from()
		if addr == "" {
			break
		}
		text := p.Data.Text
		if text == "" {
			text = email.HTMLToText(p.Data.HTML)
		}
		id := p.Data.MessageID
		if id == "" {
			id = p.Data.ID
		}
		if id == "" {
			id = p.Data.EmailID
		}
		parsed := &email.Parsed{
			From:       addr,
			FromName:   name,
			Subject:    p.Data.Subject,
			Text:       text,
			MessageID:  id,
			InReplyTo:  p.Data.InReplyTo,
			References: p.references(),
			Date:       resendTime(p.Data.Date, p.Data.CreatedAt),
		}
		_, _ = h.ingest(ctx, models.ChannelEmail, []channel.InboundMessage{email.ToInbound(parsed, "")})

	case strings.HasPrefix(p.Type, "email."):
		if p.Data.EmailID == "" {
			break
		}
		_, changed, err := h.pipeline.ApplyStatus(ctx, models.ChannelEmail, ingest.StatusUpdate{
			ExternalID:   p.Data.EmailID,
			VendorStatus: p.Type,
		})
		if err != nil {
			h.logger.Error("apply resend status", zap.Error(err))
			break
		}
		h.logger.Debug("resend status event",
			zap.String("type", p.Type),
			zap.String("email_id", p.Data.EmailID),
			zap.Bool("changed", changed))
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func resendTime(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC1123Z, time.RFC1123} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}
