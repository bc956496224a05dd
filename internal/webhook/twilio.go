package webhook

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/channel/twilio"
	"github.com/lalith-99/unifiedinbox/internal/ingest"
	"github.com/lalith-99/unifiedinbox/internal/models"
	twilioclient "github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
)

// Twilio handles POST /webhooks/twilio for SMS and WhatsApp. The same URL
// receives status callbacks, recognised by a MessageStatus field.
func (h *Handler) Twilio(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid form body"})
		return
	}
	form := c.Request.PostForm

	if h.cfg.ValidateTwilio && !h.validTwilioSignature(c, form) {
		h.logger.Warn("rejected twilio webhook with bad signature")
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
		return
	}

	if st := form.Get("MessageStatus"); st != "" {
		h.twilioStatus(c, form, st)
		return
	}

	from := form.Get("From")
	if from == "" || form.Get("MessageSid") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "From and MessageSid are required"})
		return
	}
	ch := twilioChannel(from)

	ev := channel.InboundMessage{
		ExternalID: form.Get("MessageSid"),
		SenderID:   from,
		SenderName: form.Get("ProfileName"),
		Text:       form.Get("Body"),
		Timestamp:  time.Now().UTC(),
		Direction:  models.DirectionInbound,
	}
	n, _ := strconv.Atoi(form.Get("NumMedia"))
	for i := 0; i < n; i++ {
		if u := form.Get("MediaUrl" + strconv.Itoa(i)); u != "" {
			ev.MediaURLs = append(ev.MediaURLs, u)
		}
	}

	if _, err := h.ingest(c.Request.Context(), ch, []channel.InboundMessage{ev}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook processing failed"})
		return
	}
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(twilio.EmptyResponse()))
}

func (h *Handler) twilioStatus(c *gin.Context, form url.Values, vendorStatus string) {
	// Callbacks describe our own send, so the other party is To.
	ch := twilioChannel(form.Get("To"))
	errText := form.Get("ErrorMessage")
	if errText == "" && form.Get("ErrorCode") != "" {
		errText = "Twilio error " + form.Get("ErrorCode")
	}

	_, changed, err := h.pipeline.ApplyStatus(c.Request.Context(), ch, ingest.StatusUpdate{
		ExternalID:   form.Get("MessageSid"),
		VendorStatus: vendorStatus,
		Error:        errText,
	})
	if err != nil {
		h.logger.Error("apply twilio status", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}
	h.logger.Debug("twilio status callback",
		zap.String("sid", form.Get("MessageSid")),
		zap.String("status", vendorStatus),
		zap.Bool("changed", changed))
	c.Status(http.StatusNoContent)
}

func twilioChannel(address string) models.Channel {
	if strings.HasPrefix(address, "whatsapp:") {
		return models.ChannelWhatsApp
	}
	return models.ChannelSMS
}

// validTwilioSignature checks X-Twilio-Signature against the URL Twilio
// called. Behind a proxy that is PUBLIC_BASE_URL plus the request path.
func (h *Handler) validTwilioSignature(c *gin.Context, form url.Values) bool {
	sig := c.GetHeader("X-Twilio-Signature")
	if sig == "" || h.cfg.TwilioAuthToken == "" {
		return false
	}
	base := strings.TrimRight(h.cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "https"
		if c.Request.TLS == nil && c.GetHeader("X-Forwarded-Proto") == "" {
			scheme = "http"
		}
		base = scheme + "://" + c.Request.Host
	}
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	v := twilioclient.NewRequestValidator(h.cfg.TwilioAuthToken)
	return v.Validate(base+c.Request.URL.RequestURI(), params, sig)
}
