// Package management implements the operator API: login, key pool CRUD,
// request-log queries, usage statistics, and runtime settings. All routes
// except login require a bearer session token issued at login.
package management

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/keypool-dev/geminipool/internal/store"
)

// sessionTTL bounds how long an issued management session stays valid.
const sessionTTL = 24 * time.Hour

// Handler carries the shared state for all management endpoints.
type Handler struct {
	store    *store.Store
	sessions *sessionStore
}

// NewHandler creates the management handler set.
func NewHandler(s *store.Store) *Handler {
	return &Handler{
		store:    s,
		sessions: newSessionStore(),
	}
}

// sessionStore keeps issued session tokens in memory. Sessions do not
// survive a restart; operators log in again.
type sessionStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{tokens: make(map[string]time.Time)}
}

// Issue mints a new session token.
func (s *sessionStore) Issue() string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = time.Now().Add(sessionTTL)
	s.mu.Unlock()
	return token
}

// Valid reports whether the token is a live session, pruning expired ones.
func (s *sessionStore) Valid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(s.tokens, token)
		return false
	}
	return true
}

// RequireSession guards management routes with the bearer session token.
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !h.sessions.Valid(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}
		c.Next()
	}
}
