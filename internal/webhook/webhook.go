// Package webhook receives vendor push notifications and hands the parsed
// events to the ingestion pipeline. Every handler runs as the system
// AuthContext.
package webhook

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/unifiedinbox/internal/auth"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/ingest"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"go.uber.org/zap"
)

// maxBody caps webhook payloads.
const maxBody = 5 << 20

type Config struct {
	TwilioAuthToken    string
	ValidateTwilio     bool
	PublicBaseURL      string
	MetaVerifyToken    string
	SlackSigningSecret string
	ResendSecret       string
	GenericSecret      string
}

// NameResolver looks up a Slack user's display name.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) string
}

type Handler struct {
	pipeline *ingest.Pipeline
	ac       auth.AuthContext
	cfg      Config
	names    NameResolver
	logger   *zap.Logger
}

func New(pipeline *ingest.Pipeline, ac auth.AuthContext, cfg Config, names NameResolver, logger *zap.Logger) *Handler {
	return &Handler{pipeline: pipeline, ac: ac, cfg: cfg, names: names, logger: logger}
}

// Register mounts every webhook route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/twilio", h.Twilio)
	r.GET("/facebook", h.MetaVerify)
	r.POST("/facebook", h.Meta)
	r.GET("/instagram", h.MetaVerify)
	r.POST("/instagram", h.Meta)
	r.POST("/slack", h.Slack)
	r.POST("/resend", h.Resend)
	r.POST("/generic/:channel", h.Generic)
}

func (h *Handler) ingest(ctx context.Context, ch models.Channel, events []channel.InboundMessage) (ingest.Result, error) {
	res, err := h.pipeline.Ingest(ctx, h.ac, ch, ingest.SourceWebhook, events)
	if err != nil {
		h.logger.Error("webhook ingest failed",
			zap.String("channel", string(ch)),
			zap.Int("failed", res.Failed),
			zap.Error(err))
	}
	return res, err
}

func readBody(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read body"})
		return nil, false
	}
	return body, true
}
