// Package middleware provides gin middleware for the proxy's HTTP surface:
// inbound shared-secret authentication for proxied routes and session-token
// authentication for the management API.
package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/keypool-dev/geminipool/internal/audit"
	"github.com/keypool-dev/geminipool/internal/store"
)

// bearerPrefix is matched case-sensitively per the wire contract.
const bearerPrefix = "Bearer "

// InboundAuth validates the shared inbound secret on every proxied route.
// Rejections return a bare status; the details land in the audit trail.
type InboundAuth struct {
	store *store.Store
	audit *audit.Logger
}

// NewInboundAuth creates the inbound authentication middleware.
func NewInboundAuth(s *store.Store, auditLog *audit.Logger) *InboundAuth {
	return &InboundAuth{store: s, audit: auditLog}
}

// extractSecret pulls the presented secret from the Authorization header
// (Bearer scheme) or, failing that, the `key` query parameter. The header
// wins when both are present.
func extractSecret(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		return header[len(bearerPrefix):], true
	}
	if key := r.URL.Query().Get("key"); key != "" {
		return key, true
	}
	return "", false
}

// maskSecret hides the middle of a presented secret in log messages.
func maskSecret(secret string) string {
	if len(secret) > 8 {
		return secret[:4] + "****" + secret[len(secret)-4:]
	}
	return "****"
}

// Handler returns the gin middleware. For POST requests the body is buffered
// so it can be captured on rejection and replayed downstream.
func (a *InboundAuth) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		path := c.Request.URL.Path

		var requestBody *string
		if method == http.MethodPost && c.Request.Body != nil {
			data, err := io.ReadAll(c.Request.Body)
			if err == nil {
				if len(data) > 0 {
					body := string(data)
					requestBody = &body
				}
				c.Request.Body = io.NopCloser(bytes.NewReader(data))
			} else {
				c.Request.Body = io.NopCloser(bytes.NewReader(nil))
			}
		}

		secret, present := extractSecret(c.Request)
		if !present {
			a.audit.AuthError(c.Request.Context(), method, path,
				"No authorization provided (neither header nor query param)",
				http.StatusUnauthorized, requestBody)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		storedHash, ok, err := a.store.AuthKeyHash(c.Request.Context())
		if err != nil {
			a.audit.AuthError(c.Request.Context(), method, path,
				"Failed to validate inbound secret: "+err.Error(),
				http.StatusInternalServerError, requestBody)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		// A missing stored secret rejects everything; initialization happens
		// in a setup hook at migration time, never here.
		if !ok || store.HashSecret(secret) != storedHash {
			a.audit.AuthError(c.Request.Context(), method, path,
				"Invalid inbound secret provided: "+maskSecret(secret),
				http.StatusForbidden, requestBody)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		c.Next()
	}
}
