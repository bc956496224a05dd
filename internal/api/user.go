package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/unifiedinbox/internal/middleware"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"go.uber.org/zap"
)

type UserHandler struct {
	repo   repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, logger: logger}
}

// GetMe handles GET /v1/me
//
// The response says which kind of AuthContext served the request, so a
// client running on the anonymous fallback can tell.
func (h *UserHandler) GetMe(c *gin.Context) {
	ac := middleware.GetAuth(c)

	user, err := h.repo.GetByID(c.Request.Context(), ac.UserID)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user, "auth": ac.Kind})
}
