package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/keypool-dev/geminipool/internal/store"
)

type createKeyRequest struct {
	Name     string `json:"name" binding:"required"`
	KeyValue string `json:"keyValue" binding:"required"`
}

// ListKeys returns the key pool. With `page`/`per_page` query parameters the
// listing is paginated (per_page capped at 100); without them every key is
// returned.
func (h *Handler) ListKeys(c *gin.Context) {
	if c.Query("page") == "" && c.Query("per_page") == "" {
		keys, err := h.store.ListKeys(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list keys"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"keys": keys})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	keys, total, err := h.store.ListKeysPage(c.Request.Context(), page, perPage)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list keys"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"keys":       keys,
		"totalCount": total,
		"page":       page,
		"perPage":    perPage,
	})
}

// CreateKey adds a credential to the pool.
func (h *Handler) CreateKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and keyValue are required"})
		return
	}

	key, err := h.store.CreateKey(c.Request.Context(), req.Name, req.KeyValue)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create key"})
		return
	}
	log.Infof("api key created: %s", key.Name)
	c.JSON(http.StatusCreated, key)
}

// UpdateKey applies a partial update (name, active flag) to one key.
func (h *Handler) UpdateKey(c *gin.Context) {
	var update store.KeyUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update payload"})
		return
	}

	key, err := h.store.UpdateKey(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update key"})
		return
	}
	if key == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, key)
}

// DeleteKey removes one key from the pool.
func (h *Handler) DeleteKey(c *gin.Context) {
	deleted, err := h.store.DeleteKey(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete key"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "key not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
