package webhook

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	slackch "github.com/lalith-99/unifiedinbox/internal/channel/slack"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"
)

const slackReplayWindow = 5 * time.Minute

// Subtypes that still carry a human-authored message.
var slackSubtypes = map[string]bool{
	"":                 true,
	"file_share":       true,
	"thread_broadcast": true,
}

// Slack handles the Events API. Every request must carry a
// X-Slack-Request-Timestamp within slackReplayWindow of now, and a valid
// signature when a signing secret is configured. Slack retries non-2xx
// responses, so everything after verification acknowledges with 200.
func (h *Handler) Slack(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	// Without a signing secret only the replay window can be checked.
	// slack-go's verifier enforces the same window when a secret is set.
	if h.cfg.SlackSigningSecret == "" {
		if !slackFresh(c.GetHeader("X-Slack-Request-Timestamp"), time.Now()) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or stale timestamp"})
			return
		}
	} else {
		sv, err := slack.NewSecretsVerifier(c.Request.Header, h.cfg.SlackSigningSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or stale signature"})
			return
		}
		if _, err := sv.Write(body); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not verify signature"})
			return
		}
		if err := sv.Ensure(); err != nil {
			h.logger.Warn("rejected slack webhook with bad signature")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	if !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		h.logger.Warn("unparseable slack event", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid challenge"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"challenge": challenge.Challenge})
		return
	case slackevents.CallbackEvent:
		if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			h.slackMessage(c, ev, body)
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) slackMessage(c *gin.Context, ev *slackevents.MessageEvent, body []byte) {
	if ev.BotID != "" || ev.User == "" || !slackSubtypes[ev.SubType] {
		return
	}

	var files struct {
		Event struct {
			Files []slack.File `json:"files"`
		} `json:"event"`
	}
	_ = json.Unmarshal(body, &files)

	name := ""
	if h.names != nil {
		if n := h.names.DisplayName(c.Request.Context(), ev.User); n != ev.User {
			name = n
		}
	}

	meta := models.Metadata{models.MetaSlackChannel: ev.Channel}
	if ev.ThreadTimeStamp != "" {
		meta[models.MetaSlackThreadTs] = ev.ThreadTimeStamp
	}
	msg := channel.InboundMessage{
		ExternalID: ev.TimeStamp,
		SenderID:   ev.User,
		SenderName: name,
		Text:       ev.Text,
		MediaURLs:  slackch.FileURLs(files.Event.Files),
		Timestamp:  slackch.ParseTimestamp(ev.TimeStamp),
		Direction:  models.DirectionInbound,
		Metadata:   meta,
	}
	_, _ = h.ingest(c.Request.Context(), models.ChannelSlack, []channel.InboundMessage{msg})
}

// slackFresh reports whether the unix-seconds header value is within the
// replay window of now. A missing or malformed value is never fresh.
func slackFresh(header string, now time.Time) bool {
	sec, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return false
	}
	d := now.Sub(time.Unix(sec, 0))
	return d <= slackReplayWindow && d >= -slackReplayWindow
}
