package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/middleware"
	"github.com/lalith-99/unifiedinbox/internal/outbound"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"go.uber.org/zap"
)

// CallHandler places and schedules text-to-speech voice calls.
type CallHandler struct {
	store  repository.Store
	sender *outbound.Service
	logger *zap.Logger
}

func NewCallHandler(store repository.Store, sender *outbound.Service, logger *zap.Logger) *CallHandler {
	return &CallHandler{store: store, sender: sender, logger: logger}
}

type callRequest struct {
	ContactID    uuid.UUID  `json:"contactId" binding:"required"`
	Text         string     `json:"text" binding:"required"`
	ScheduledFor *time.Time `json:"scheduledFor"`
}

// Call handles POST /v1/calls
func (h *CallHandler) Call(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := ownedContact(c, h.store.Contacts(), req.ContactID, h.logger); !ok {
		return
	}
	msg, err := h.sender.CallNow(c.Request.Context(), middleware.GetAuth(c), req.ContactID, req.Text)
	if err != nil {
		writeSendError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// Schedule handles POST /v1/calls/schedule. The dispatcher places the call
// once scheduledFor passes.
func (h *CallHandler) Schedule(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ScheduledFor == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduledFor is required"})
		return
	}
	if _, ok := ownedContact(c, h.store.Contacts(), req.ContactID, h.logger); !ok {
		return
	}
	msg, err := h.sender.ScheduleCall(c.Request.Context(), middleware.GetAuth(c), req.ContactID, req.Text, *req.ScheduledFor)
	if err != nil {
		writeSendError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
