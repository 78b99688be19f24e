package management

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ListLogs returns one page of the request audit trail, newest first.
func (h *Handler) ListLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))

	logs, total, err := h.store.ListLogsPage(c.Request.Context(), page, perPage)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list logs"})
		return
	}

	if perPage < 1 {
		perPage = 1
	}
	totalPages := (total + int64(perPage) - 1) / int64(perPage)
	c.JSON(http.StatusOK, gin.H{
		"logs":       logs,
		"totalCount": total,
		"page":       page,
		"perPage":    perPage,
		"totalPages": totalPages,
	})
}

// GetLog returns one audit row including its captured bodies.
func (h *Handler) GetLog(c *gin.Context) {
	entry, err := h.store.GetLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read log"})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "log not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// Usage returns aggregate and per-key statistics over the audit trail.
func (h *Handler) Usage(c *gin.Context) {
	stats, err := h.store.UsageStats(c.Request.Context(), time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute usage stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
