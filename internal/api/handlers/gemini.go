// Package handlers implements the proxied Gemini API surface: model listing
// and retrieval, unary content generation, and the SSE streaming relay.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/keypool-dev/geminipool/internal/audit"
	"github.com/keypool-dev/geminipool/internal/buildinfo"
	"github.com/keypool-dev/geminipool/internal/keypool"
	"github.com/keypool-dev/geminipool/internal/proxy"
)

// keepAliveInterval paces SSE heartbeats on otherwise-idle streams.
const keepAliveInterval = 30 * time.Second

// keepAliveText is the comment payload of SSE heartbeats.
const keepAliveText = "keep-alive-text"

// GeminiHandler serves the proxied Gemini endpoints.
type GeminiHandler struct {
	forwarder *proxy.Forwarder
	audit     *audit.Logger
}

// NewGeminiHandler creates the proxied-route handler set.
func NewGeminiHandler(forwarder *proxy.Forwarder, auditLog *audit.Logger) *GeminiHandler {
	return &GeminiHandler{forwarder: forwarder, audit: auditLog}
}

// Health is the unauthenticated liveness probe.
func (h *GeminiHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// APIInfo describes the proxy and its supported endpoints.
func (h *GeminiHandler) APIInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Gemini API Proxy",
		"version":     buildinfo.Version,
		"description": "Proxy service for Google Gemini API",
		"status":      "ok",
		"endpoints": []string{
			"/v1/models",
			"/v1/models/{model}",
			"/v1/models/{model}:generateContent",
			"/v1/models/{model}:streamGenerateContent",
		},
	})
}

// ListModels forwards the model listing unchanged (modulo the /v1 rewrite).
func (h *GeminiHandler) ListModels(c *gin.Context) {
	h.forwardUnary(c, nil)
}

// GetModel forwards a single-model lookup. Paths carrying a colon are action
// paths and belong to POST; they miss here.
func (h *GeminiHandler) GetModel(c *gin.Context) {
	action := strings.TrimPrefix(c.Param("action"), "/")
	if strings.Contains(action, ":") {
		h.audit.HandlerError(c.Request.Context(), "", c.Request.Method, c.Request.URL.Path,
			"action paths are routed to POST", http.StatusNotFound, time.Time{}, nil)
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	h.forwardUnary(c, nil)
}

// Generate dispatches POST model actions: :generateContent is unary,
// :streamGenerateContent streams, anything else is a route-shape miss.
func (h *GeminiHandler) Generate(c *gin.Context) {
	action := strings.TrimPrefix(c.Param("action"), "/")

	body, err := c.GetRawData()
	if err != nil {
		h.writeError(c, http.StatusInternalServerError, "failed to read request body: "+err.Error(), time.Now(), nil)
		return
	}

	switch {
	case strings.HasSuffix(action, ":generateContent"):
		h.forwardUnary(c, body)
	case strings.HasSuffix(action, ":streamGenerateContent"):
		h.forwardStream(c, body)
	default:
		h.audit.HandlerError(c.Request.Context(), "", c.Request.Method, c.Request.URL.Path,
			"unsupported model action: "+action, http.StatusNotFound, time.Time{}, nil)
		c.AbortWithStatus(http.StatusNotFound)
	}
}

// NotFound records unmatched paths (multi-segment model names included)
// before returning the bare 404.
func (h *GeminiHandler) NotFound(c *gin.Context) {
	h.audit.HandlerError(c.Request.Context(), "", c.Request.Method, c.Request.URL.Path,
		"no route for path", http.StatusNotFound, time.Time{}, nil)
	c.AbortWithStatus(http.StatusNotFound)
}

func (h *GeminiHandler) forwardUnary(c *gin.Context, body []byte) {
	started := time.Now()
	method := c.Request.Method
	path := c.Request.URL.Path

	response, status, err := h.forwarder.Forward(c.Request.Context(), method, path, body)
	if err != nil {
		h.handleForwardError(c, err, started, body)
		return
	}

	c.Data(status, "application/json", response)
}

func (h *GeminiHandler) forwardStream(c *gin.Context, body []byte) {
	started := time.Now()
	method := c.Request.Method
	path := c.Request.URL.Path

	data, errs, err := h.forwarder.ForwardStream(c.Request.Context(), method, path, body)
	if err != nil {
		h.handleForwardError(c, err, started, body)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.writeError(c, http.StatusInternalServerError, "streaming unsupported by connection", started, body)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case chunk, open := <-data:
			if !open {
				// A terminal error is buffered before the channels close;
				// drain it so the in-band event is not lost to select order.
				select {
				case errStream, openErr := <-errs:
					if openErr && errStream != nil {
						h.emitStreamError(c, errStream, flusher)
					}
				default:
				}
				return
			}
			h.relayChunk(c, chunk)
			flusher.Flush()
		case errStream, open := <-errs:
			if open && errStream != nil {
				h.emitStreamError(c, errStream, flusher)
			}
			return
		case <-keepAlive.C:
			_, _ = fmt.Fprintf(c.Writer, ": %s\n\n", keepAliveText)
			flusher.Flush()
		}
	}
}

// emitStreamError surfaces a relay failure in-band. The headers are already
// committed, so the connection stays open and the error rides as an event.
func (h *GeminiHandler) emitStreamError(c *gin.Context, errStream error, flusher http.Flusher) {
	payload, _ := json.Marshal(gin.H{"error": errStream.Error()})
	_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
	flusher.Flush()
	log.Errorf("stream relay error: %v", errStream)
}

// relayChunk re-frames one upstream chunk as SSE events: data-prefixed lines
// are re-emitted with [DONE] and empty payloads suppressed; chunks without
// any data-prefixed line are forwarded as a single event of trimmed text.
func (h *GeminiHandler) relayChunk(c *gin.Context, chunk []byte) {
	text := string(chunk)
	sawDataLine := false
	for _, line := range strings.Split(text, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		sawDataLine = true
		payload := line[len("data: "):]
		if payload == "" || payload == "[DONE]" {
			continue
		}
		_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
	}
	if !sawDataLine {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", trimmed)
		}
	}
}

// handleForwardError maps forwarder failures onto inbound statuses. Retried
// attempts already wrote their own audit rows; everything else writes exactly
// one here.
func (h *GeminiHandler) handleForwardError(c *gin.Context, err error, started time.Time, body []byte) {
	var validation *proxy.ValidationError
	var exhausted *proxy.ExhaustedError

	switch {
	case errors.As(err, &validation):
		h.writeError(c, http.StatusBadRequest, validation.Error(), started, body)
	case errors.Is(err, keypool.ErrNoActiveKeys):
		h.writeError(c, http.StatusInternalServerError, err.Error(), started, body)
	case errors.As(err, &exhausted):
		log.Errorf("upstream retries exhausted: %v", err)
		c.JSON(http.StatusInternalServerError,
			json.RawMessage(audit.ErrorEnvelope(http.StatusInternalServerError, exhausted.Error())))
		c.Abort()
	default:
		h.writeError(c, http.StatusInternalServerError, err.Error(), started, body)
	}
}

// writeError appends one audit row and returns the error envelope.
func (h *GeminiHandler) writeError(c *gin.Context, status int, message string, started time.Time, body []byte) {
	var requestBody *string
	if c.Request.Method != http.MethodGet {
		requestBody = audit.PrettyBody(body)
	}
	h.audit.HandlerError(c.Request.Context(), "", c.Request.Method, c.Request.URL.Path,
		message, status, started, requestBody)
	c.JSON(status, json.RawMessage(audit.ErrorEnvelope(status, message)))
	c.Abort()
}
