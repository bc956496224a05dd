package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/models"
)

// GenericEvent is an already-normalized inbound message pushed by a bridge
// or a test harness.
type GenericEvent struct {
	ExternalID   string          `json:"externalId"`
	Sender       string          `json:"sender"`
	SenderName   string          `json:"senderName"`
	Text         string          `json:"text"`
	MediaURLs    []string        `json:"mediaUrls"`
	Timestamp    time.Time       `json:"timestamp"`
	VendorStatus string          `json:"vendorStatus"`
	Direction    string          `json:"direction"`
	Metadata     models.Metadata `json:"metadata"`
}

func (e GenericEvent) inbound() channel.InboundMessage {
	dir := models.DirectionInbound
	if strings.EqualFold(e.Direction, string(models.DirectionOutbound)) {
		dir = models.DirectionOutbound
	}
	return channel.InboundMessage{
		ExternalID:   e.ExternalID,
		SenderID:     e.Sender,
		SenderName:   e.SenderName,
		Text:         e.Text,
		MediaURLs:    e.MediaURLs,
		Timestamp:    e.Timestamp,
		VendorStatus: e.VendorStatus,
		Direction:    dir,
		Metadata:     e.Metadata,
	}
}

// Generic handles POST /webhooks/generic/:channel. The body is a single
// event or {"events": [...]}.
func (h *Handler) Generic(c *gin.Context) {
	ch, err := models.ParseChannel(c.Param("channel"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}
	if h.cfg.GenericSecret != "" && !validHMAC(h.cfg.GenericSecret, body, c.GetHeader("X-Signature-256")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var batch struct {
		Events []GenericEvent `json:"events"`
	}
	if err := json.Unmarshal(body, &batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if batch.Events == nil {
		var single GenericEvent
		if err := json.Unmarshal(body, &single); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}
		batch.Events = []GenericEvent{single}
	}

	events := make([]channel.InboundMessage, 0, len(batch.Events))
	for _, e := range batch.Events {
		events = append(events, e.inbound())
	}
	res, err := h.ingest(c.Request.Context(), ch, events)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

// validHMAC checks a "sha256=<hex>" signature over body.
func validHMAC(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
