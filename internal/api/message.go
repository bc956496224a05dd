package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/channel"
	"github.com/lalith-99/unifiedinbox/internal/middleware"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/outbound"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"go.uber.org/zap"
)

type MessageHandler struct {
	store  repository.Store
	sender *outbound.Service
	logger *zap.Logger
}

func NewMessageHandler(store repository.Store, sender *outbound.Service, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{store: store, sender: sender, logger: logger}
}

// List handles GET /v1/messages?contactId=&channel=&before=123&limit=50
//
// Newest first. "before" is a message id cursor; 0 starts from the latest.
func (h *MessageHandler) List(c *gin.Context) {
	f := repository.MessageFilter{UserID: middleware.GetUserID(c)}
	if v := c.Query("contactId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'contactId' parameter"})
			return
		}
		f.ContactID = id
	}
	h.list(c, f)
}

// ListByContact handles GET /v1/contacts/:id/messages
func (h *MessageHandler) ListByContact(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if _, ok := ownedContact(c, h.store.Contacts(), id, h.logger); !ok {
		return
	}
	h.list(c, repository.MessageFilter{UserID: middleware.GetUserID(c), ContactID: id})
}

func (h *MessageHandler) list(c *gin.Context, f repository.MessageFilter) {
	if v := c.Query("channel"); v != "" {
		ch, err := models.ParseChannel(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Channel = ch
	}
	if b := c.Query("before"); b != "" {
		before, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' parameter"})
			return
		}
		f.Before = before
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	f.Limit = limit

	messages, err := h.store.Messages().List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, messages)
}

// Send handles POST /v1/messages. A message scheduled for later comes back
// as 201 with status SCHEDULED; a vendor rejection comes back as 502 with
// the stored FAILED row.
func (h *MessageHandler) Send(c *gin.Context) {
	var req outbound.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch, err := models.ParseChannel(string(req.Channel))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Channel = ch
	if _, ok := ownedContact(c, h.store.Contacts(), req.ContactID, h.logger); !ok {
		return
	}

	msg, err := h.sender.Send(c.Request.Context(), middleware.GetAuth(c), req)
	if err != nil {
		writeSendError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// writeSendError maps outbound errors to responses.
func writeSendError(c *gin.Context, err error, logger *zap.Logger) {
	var failed *outbound.SendFailedError
	switch {
	case errors.As(err, &failed):
		c.JSON(http.StatusBadGateway, gin.H{"error": failed.Reason, "message": failed.Message})
	case errors.Is(err, outbound.ErrContactNotFound), errors.Is(err, outbound.ErrReplyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, outbound.ErrNoRecipient),
		errors.Is(err, outbound.ErrEmptyContent),
		errors.Is(err, channel.ErrInlineMedia),
		errors.Is(err, channel.ErrInvalidMediaURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, outbound.ErrVoiceDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.Error("send failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
	}
}
