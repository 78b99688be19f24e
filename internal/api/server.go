// Package api wires the HTTP surface: the proxied Gemini routes behind
// inbound authentication, the unauthenticated health and info endpoints, and
// the management API.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/keypool-dev/geminipool/internal/api/handlers"
	"github.com/keypool-dev/geminipool/internal/api/handlers/management"
	"github.com/keypool-dev/geminipool/internal/api/middleware"
	"github.com/keypool-dev/geminipool/internal/audit"
	"github.com/keypool-dev/geminipool/internal/config"
	"github.com/keypool-dev/geminipool/internal/logging"
	"github.com/keypool-dev/geminipool/internal/proxy"
	"github.com/keypool-dev/geminipool/internal/store"
)

// Server hosts the proxy's single TCP listener.
type Server struct {
	engine *gin.Engine
	http   *http.Server
}

// New assembles the gin engine and all routes.
func New(cfg *config.Config, s *store.Store, forwarder *proxy.Forwarder, auditLog *audit.Logger) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogger(), logging.GinRecovery(), corsMiddleware())

	gemini := handlers.NewGeminiHandler(forwarder, auditLog)
	inboundAuth := middleware.NewInboundAuth(s, auditLog).Handler()

	// Unauthenticated surface: liveness and endpoint discovery.
	engine.GET("/health", gemini.Health)
	engine.GET("/v1", gemini.APIInfo)

	// Proxied surface. Model paths are single segments; action paths
	// (model:generateContent) are dispatched inside the POST handler.
	for _, prefix := range []string{"/v1", "/v1beta"} {
		group := engine.Group(prefix, inboundAuth)
		group.GET("/models", gemini.ListModels)
		group.GET("/models/:action", gemini.GetModel)
		group.POST("/models/:action", gemini.Generate)
	}

	registerManagement(engine, s)

	// Anything else (multi-segment model names included) is a route-shape
	// miss and still earns an audit row.
	engine.NoRoute(gemini.NotFound)

	return &Server{engine: engine}
}

// registerManagement mounts the operator API under /v0/management.
func registerManagement(engine *gin.Engine, s *store.Store) {
	m := management.NewHandler(s)

	root := engine.Group("/v0/management")
	root.POST("/login", m.Login)

	authed := root.Group("", m.RequireSession())
	authed.PUT("/password", m.ChangePassword)

	authed.GET("/keys", m.ListKeys)
	authed.POST("/keys", m.CreateKey)
	authed.PATCH("/keys/:id", m.UpdateKey)
	authed.DELETE("/keys/:id", m.DeleteKey)

	authed.GET("/logs", m.ListLogs)
	authed.GET("/logs/:id", m.GetLog)
	authed.GET("/usage", m.Usage)

	authed.GET("/auth-key", m.GetAuthKeyStatus)
	authed.PUT("/auth-key", m.SetAuthKey)
	authed.DELETE("/auth-key", m.ClearAuthKey)

	authed.GET("/retry-count", m.GetRetryCount)
	authed.PUT("/retry-count", m.SetRetryCount)

	authed.GET("/proxy", m.GetProxySettings)
	authed.PUT("/proxy", m.SetProxySettings)
}

// corsMiddleware allows any origin, method, and header; the proxy fronts
// local client applications.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves on addr until the listener fails or Shutdown is called.
func (s *Server) Run(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
