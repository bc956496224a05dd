package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/middleware"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// queryLimit reads ?limit=, defaulting to 50 and capping at 200. It writes
// a 400 and returns false when the value is not a positive integer.
func queryLimit(c *gin.Context) (int, bool) {
	l := c.Query("limit")
	if l == "" {
		return defaultLimit, true
	}
	limit, err := strconv.Atoi(l)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
		return 0, false
	}
	return min(limit, maxLimit), true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// ownedContact loads the contact and checks it belongs to the caller.
// Someone else's contact is reported as missing.
func ownedContact(c *gin.Context, contacts repository.ContactRepository, id uuid.UUID, logger *zap.Logger) (*models.Contact, bool) {
	contact, err := contacts.GetByID(c.Request.Context(), id)
	if err != nil {
		logger.Error("failed to get contact", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get contact"})
		return nil, false
	}
	if contact == nil || contact.UserID != middleware.GetUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		return nil, false
	}
	return contact, true
}
