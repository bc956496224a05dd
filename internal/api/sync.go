package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/middleware"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/syncer"
	"go.uber.org/zap"
)

type SyncHandler struct {
	syncer   *syncer.Syncer
	registry *channel.Registry
	logger   *zap.Logger
}

func NewSyncHandler(s *syncer.Syncer, registry *channel.Registry, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{syncer: s, registry: registry, logger: logger}
}

// Run handles POST /v1/sync. The body is optional:
//
//	{"channels": ["SMS", "SLACK"], "limit": 500, "automatic": true}
func (h *SyncHandler) Run(c *gin.Context) {
	var req syncer.Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for i, raw := range req.Channels {
		ch, err := models.ParseChannel(string(raw))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Channels[i] = ch
	}

	res, err := h.syncer.Run(c.Request.Context(), middleware.GetAuth(c), req)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, syncer.ErrTooSoon):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("sync failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
	default:
		c.JSON(http.StatusOK, res)
	}
}

// Status handles GET /v1/sync
func (h *SyncHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"available":  h.registry.Channels(),
		"configured": h.registry.Configured(),
		"last":       h.syncer.Last(),
	})
}
