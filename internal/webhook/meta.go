package webhook

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"go.uber.org/zap"
)

type metaPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Messaging []struct {
			Sender    struct{ ID string } `json:"sender"`
			Recipient struct{ ID string } `json:"recipient"`
			Timestamp int64               `json:"timestamp"`
			Message   *struct {
				Mid         string `json:"mid"`
				Text        string `json:"text"`
				IsEcho      bool   `json:"is_echo"`
				Attachments []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"attachments"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// MetaVerify answers the subscription handshake for both Facebook and
// Instagram.
func (h *Handler) MetaVerify(c *gin.Context) {
	if c.Query("hub.mode") == "subscribe" &&
		h.cfg.MetaVerifyToken != "" &&
		c.Query("hub.verify_token") == h.cfg.MetaVerifyToken {
		c.String(http.StatusOK, c.Query("hub.challenge"))
		return
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "verification failed"})
}

// Meta handles Messenger and Instagram Direct deliveries. Meta retries
// anything but a 200, so malformed bodies and processing errors are logged
// and acknowledged with EVENT_RECEIVED.
func (h *Handler) Meta(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}
	var p metaPayload
	if err := json.Unmarshal(body, &p); err != nil {
		// A 400 would only make Meta redeliver the same bytes.
		h.logger.Warn("unparseable meta webhook", zap.Error(err))
		c.String(http.StatusOK, "EVENT_RECEIVED")
		return
	}

	var ch models.Channel
	switch p.Object {
	case "page":
		ch = models.ChannelFacebook
	case "instagram":
		ch = models.ChannelInstagram
	default:
		c.String(http.StatusOK, "EVENT_RECEIVED")
		return
	}

	var events []channel.InboundMessage
	for _, entry := range p.Entry {
		for _, m := range entry.Messaging {
			// Echoes are our own sends, already recorded by the send path.
			if m.Message == nil || m.Message.IsEcho || m.Sender.ID == "" {
				continue
			}
			var ts time.Time
			if m.Timestamp > 0 {
				ts = time.UnixMilli(m.Timestamp).UTC()
			}
			ev := channel.InboundMessage{
				ExternalID: m.Message.Mid,
				SenderID:   m.Sender.ID,
				Text:       m.Message.Text,
				Timestamp:  ts,
				Direction:  models.DirectionInbound,
			}
			for _, a := range m.Message.Attachments {
				if a.Payload.URL != "" {
					ev.MediaURLs = append(ev.MediaURLs, a.Payload.URL)
				}
			}
			events = append(events, ev)
		}
	}

	if len(events) > 0 {
		if res, err := h.ingest(c.Request.Context(), ch, events); err == nil {
			h.logger.Debug("meta webhook processed",
				zap.String("channel", string(ch)),
				zap.Int("ingested", res.Ingested),
				zap.Int("duplicates", res.Duplicates))
		}
	}
	c.String(http.StatusOK, "EVENT_RECEIVED")
}
