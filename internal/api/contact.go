package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/unifiedinbox/internal/identity"
	"github.com/lalith-99/unifiedinbox/internal/middleware"
	"github.com/lalith-99/unifiedinbox/internal/models"
	"github.com/lalith-99/unifiedinbox/internal/realtime"
	"github.com/lalith-99/unifiedinbox/internal/repository"
	"go.uber.org/zap"
)

type ContactHandler struct {
	store    repository.Store
	resolver *identity.Resolver
	pub      realtime.Publisher
	logger   *zap.Logger
}

func NewContactHandler(store repository.Store, resolver *identity.Resolver, pub realtime.Publisher, logger *zap.Logger) *ContactHandler {
	if pub == nil {
		pub = realtime.Nop{}
	}
	return &ContactHandler{store: store, resolver: resolver, pub: pub, logger: logger}
}

type contactRequest struct {
	Name    *string           `json:"name"`
	Phones  []string          `json:"phones"`
	Emails  []string          `json:"emails"`
	Handles map[string]string `json:"social_handles"`
	Tags    []string          `json:"tags"`
}

// apply writes the fields present in the request onto c. Phones and emails
// are normalized the same way ingestion records them.
func (r contactRequest) apply(c *models.Contact) {
	if r.Name != nil {
		c.Name = strings.TrimSpace(*r.Name)
	}
	if r.Phones != nil {
		c.Phones = normalizeAll(r.Phones, models.NormalizePhone)
	}
	if r.Emails != nil {
		c.Emails = normalizeAll(r.Emails, models.NormalizeEmail)
	}
	if r.Handles != nil {
		c.Handles = make(map[string]string, len(r.Handles))
		for k, v := range r.Handles {
			if v = strings.TrimSpace(v); v != "" {
				c.Handles[strings.ToLower(k)] = v
			}
		}
	}
	if r.Tags != nil {
		c.Tags = models.UnionStrings(nil, r.Tags)
	}
}

func normalizeAll(values []string, norm func(string) string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = norm(v); v != "" {
			out = models.UnionStrings(out, []string{v})
		}
	}
	return out
}

// Create handles POST /v1/contacts
func (h *ContactHandler) Create(c *gin.Context) {
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	ac := middleware.GetAuth(c)
	contact := &models.Contact{UserID: ac.UserID}
	req.apply(contact)

	created, err := h.store.Contacts().Create(c.Request.Context(), contact)
	if errors.Is(err, repository.ErrDuplicate) {
		c.JSON(http.StatusConflict, gin.H{"error": "a phone, email or handle already belongs to another contact"})
		return
	}
	if err != nil {
		h.logger.Error("failed to create contact", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create contact"})
		return
	}

	if err := h.store.Activity().Append(c.Request.Context(), &models.ActivityLog{
		UserID:    ac.UserID,
		ContactID: &created.ID,
		Action:    models.ActivityContactCreated,
		Details:   models.Metadata{"source": "api"},
	}); err != nil {
		h.logger.Warn("failed to log contact creation", zap.Error(err))
	}
	c.JSON(http.StatusCreated, created)
}

// List handles GET /v1/contacts?q=ada&limit=50&offset=0
func (h *ContactHandler) List(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'offset' parameter"})
		return
	}

	contacts, err := h.store.Contacts().List(c.Request.Context(), repository.ContactFilter{
		UserID: middleware.GetUserID(c),
		Query:  strings.TrimSpace(c.Query("q")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.logger.Error("failed to list contacts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list contacts"})
		return
	}
	c.JSON(http.StatusOK, contacts)
}

// Get handles GET /v1/contacts/:id
func (h *ContactHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	contact, ok := ownedContact(c, h.store.Contacts(), id, h.logger)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, contact)
}

// Update handles PATCH /v1/contacts/:id. Omitted fields keep their value.
func (h *ContactHandler) Update(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req contactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contact, ok := ownedContact(c, h.store.Contacts(), id, h.logger)
	if !ok {
		return
	}
	req.apply(contact)
	if contact.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
		return
	}

	updated, err := h.store.Contacts().Update(c.Request.Context(), contact)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "a phone, email or handle already belongs to another contact"})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
	case err != nil:
		h.logger.Error("failed to update contact", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update contact"})
	default:
		c.JSON(http.StatusOK, updated)
	}
}

// Delete handles DELETE /v1/contacts/:id. Messages and notes go with it.
func (h *ContactHandler) Delete(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if _, ok := ownedContact(c, h.store.Contacts(), id, h.logger); !ok {
		return
	}
	err := h.store.Contacts().Delete(c.Request.Context(), id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		h.logger.Error("failed to delete contact", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete contact"})
		return
	}
	c.Status(http.StatusNoContent)
}

type mergeRequest struct {
	SourceID uuid.UUID `json:"sourceId" binding:"required"`
}

// Merge handles POST /v1/contacts/:id/merge {"sourceId": "..."}. The path
// contact is the one that survives.
func (h *ContactHandler) Merge(c *gin.Context) {
	targetID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := ownedContact(c, h.store.Contacts(), targetID, h.logger); !ok {
		return
	}
	if _, ok := ownedContact(c, h.store.Contacts(), req.SourceID, h.logger); !ok {
		return
	}

	ac := middleware.GetAuth(c)
	res, err := h.resolver.Merge(c.Request.Context(), ac, req.SourceID, targetID)
	switch {
	case errors.Is(err, identity.ErrSameContact):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, identity.ErrContactNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "merged identifiers conflict with another contact"})
	case err != nil:
		h.logger.Error("failed to merge contacts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to merge contacts"})
	default:
		h.pub.Publish(ac.UserID, realtime.Event{Type: realtime.ContactMerged, Contact: res.Contact})
		c.JSON(http.StatusOK, res)
	}
}

// Activity handles GET /v1/contacts/:id/activity
func (h *ContactHandler) Activity(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		return
	}
	if _, ok := ownedContact(c, h.store.Contacts(), id, h.logger); !ok {
		return
	}
	logs, err := h.store.Activity().ListByContact(c.Request.Context(), id, limit)
	if err != nil {
		h.logger.Error("failed to list activity", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list activity"})
		return
	}
	c.JSON(http.StatusOK, logs)
}
