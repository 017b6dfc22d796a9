// Package api assembles the Gin HTTP server: routing, middleware, client
// authentication, and graceful shutdown.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/loomino-brkh/claude-proxy/internal/api/handlers"
	"github.com/loomino-brkh/claude-proxy/internal/buildinfo"
	"github.com/loomino-brkh/claude-proxy/internal/config"
	"github.com/loomino-brkh/claude-proxy/internal/logging"
	"github.com/loomino-brkh/claude-proxy/internal/util"
)

// Server hosts the translation proxy endpoints.
type Server struct {
	mu         sync.RWMutex
	cfg        *config.Config
	engine     *gin.Engine
	httpServer *http.Server
	proxy      *handlers.ProxyHandler
}

// NewServer builds the Gin engine, middleware chain, and routes for the
// provided configuration.
func NewServer(cfg *config.Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:   cfg,
		proxy: handlers.NewProxyHandler(cfg),
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(logging.GinLogrusLogger())

	engine.GET("/", s.handleIndex)
	engine.GET("/health", s.handleHealth)

	authed := engine.Group("/", s.clientAuth())
	authed.POST("/v1/messages", s.proxy.Messages)
	authed.POST("/v1/responses", s.proxy.Responses)

	s.engine = engine
	return s
}

// UpdateConfig swaps the active configuration. Safe for concurrent use with
// request handling; used by the config file watcher.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.proxy.UpdateConfig(cfg)
	log.Info("server configuration updated")
}

func (s *Server) currentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.mu.RLock()
	addr := s.cfg.Addr()
	s.mu.RUnlock()

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("claude-proxy %s listening on %s", buildinfo.Version, addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// clientAuth rejects requests whose credentials are not in the configured
// api-keys list. An empty list disables client authentication.
func (s *Server) clientAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := s.currentConfig()
		if len(cfg.APIKeys) == 0 {
			c.Next()
			return
		}

		key := strings.TrimSpace(c.GetHeader("x-api-key"))
		if key == "" {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		}

		if key == "" || !util.InArray(cfg.APIKeys, key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"type": "error",
				"error": gin.H{
					"type":    "authentication_error",
					"message": "invalid api key",
				},
			})
			return
		}
		c.Next()
	}
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>claude-proxy</title></head>
<body>
<h1>claude-proxy</h1>
<p>Anthropic Messages API translation proxy for OpenRouter.</p>
<p>POST /v1/messages &middot; POST /v1/responses &middot; GET /health</p>
</body>
</html>
`

func (s *Server) handleIndex(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, indexPage)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}
