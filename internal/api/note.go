package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/unifiedinbox/internal/middleware"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"go.uber.org/zap"
)

type NoteHandler struct {
	store  repository.Store
	logger *zap.Logger
}

func NewNoteHandler(store repository.Store, logger *zap.Logger) *NoteHandler {
	return &NoteHandler{store: store, logger: logger}
}

type createNoteRequest struct {
	Content   string `json:"content" binding:"required"`
	IsPrivate bool   `json:"is_private"`
}

// Create handles POST /v1/contacts/:id/notes
func (h *NoteHandler) Create(c *gin.Context) {
	contactID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req createNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if _, ok := ownedContact(c, h.store.Contacts(), contactID, h.logger); !ok {
		return
	}

	userID := middleware.GetUserID(c)
	note, err := h.store.Notes().Create(c.Request.Context(), &models.Note{
		ContactID: contactID,
		UserID:    userID,
		Content:   content,
		IsPrivate: req.IsPrivate,
		Mentions:  models.ExtractMentions(content),
	})
	if err != nil {
		h.logger.Error("failed to create note", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create note"})
		return
	}

	if err := h.store.Activity().Append(c.Request.Context(), &models.ActivityLog{
		UserID:    userID,
		ContactID: &contactID,
		Action:    models.ActivityNoteCreated,
		Details:   models.Metadata{"noteId": note.ID.String(), "mentions": note.Mentions},
	}); err != nil {
		h.logger.Warn("failed to log note creation", zap.Error(err))
	}
	c.JSON(http.StatusCreated, note)
}

// List handles GET /v1/contacts/:id/notes. Other users' private notes are
// left out.
func (h *NoteHandler) List(c *gin.Context) {
	contactID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if _, ok := ownedContact(c, h.store.Contacts(), contactID, h.logger); !ok {
		return
	}
	notes, err := h.store.Notes().ListByContact(c.Request.Context(), contactID, middleware.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to list notes", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notes"})
		return
	}
	c.JSON(http.StatusOK, notes)
}

// Delete handles DELETE /v1/notes/:id
func (h *NoteHandler) Delete(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	err := h.store.Notes().Delete(c.Request.Context(), id, middleware.GetUserID(c))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "note not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to delete note", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete note"})
		return
	}
	c.Status(http.StatusNoContent)
}
