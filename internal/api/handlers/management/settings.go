package management

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/keypool-dev/geminipool/internal/store"
)

type setAuthKeyRequest struct {
	Secret string `json:"secret" binding:"required,min=6"`
}

type setRetryCountRequest struct {
	RetryCount int `json:"retryCount" binding:"required"`
}

// SetAuthKey replaces the inbound shared secret.
func (h *Handler) SetAuthKey(c *gin.Context) {
	var req setAuthKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "secret is required (min 6 chars)"})
		return
	}
	if err := h.store.SetAuthKey(c.Request.Context(), req.Secret); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store secret"})
		return
	}
	log.Info("inbound secret updated")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ClearAuthKey removes the inbound shared secret; proxied requests are
// rejected until a new one is set.
func (h *Handler) ClearAuthKey(c *gin.Context) {
	if err := h.store.ClearAuthKey(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear secret"})
		return
	}
	log.Warn("inbound secret cleared; all proxied requests will be rejected")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetAuthKeyStatus reports whether an inbound secret is configured. The
// secret itself is never returned.
func (h *Handler) GetAuthKeyStatus(c *gin.Context) {
	configured, err := h.store.HasAuthKey(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configured": configured})
}

// GetRetryCount returns the upstream retry count.
func (h *Handler) GetRetryCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"retryCount": h.store.RetryCount(c.Request.Context())})
}

// SetRetryCount stores the upstream retry count (minimum 1, no maximum).
func (h *Handler) SetRetryCount(c *gin.Context) {
	var req setRetryCountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "retryCount is required"})
		return
	}
	if err := h.store.SetRetryCount(c.Request.Context(), req.RetryCount); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store retry count"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetProxySettings returns the egress proxy block with the password elided.
func (h *Handler) GetProxySettings(c *gin.Context) {
	settings, err := h.store.ProxySettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read settings"})
		return
	}
	settings.Password = ""
	c.JSON(http.StatusOK, settings)
}

// SetProxySettings stores the egress proxy block. It takes effect on the
// next upstream attempt; no restart is needed.
func (h *Handler) SetProxySettings(c *gin.Context) {
	var settings store.ProxySettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid proxy settings payload"})
		return
	}
	if err := h.store.SetProxySettings(c.Request.Context(), &settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
