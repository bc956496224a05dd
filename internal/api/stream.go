package api

import (
	"github.com/gin-gonic/gin"
	"github.com/lalith-99/unifiedinbox/internal/middleware"
	"github.com/lalith-99/unifiedinbox/internal/realtime"
	"go.uber.org/zap"
)

type StreamHandler struct {
	hub    *realtime.Hub
	logger *zap.Logger
}

func NewStreamHandler(hub *realtime.Hub, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, logger: logger}
}

// Stream handles GET /v1/stream, upgrading to a websocket that receives the
// caller's message events.
func (h *StreamHandler) Stream(c *gin.Context) {
	h.hub.Serve(c.Writer, c.Request, middleware.GetUserID(c), h.logger)
}
