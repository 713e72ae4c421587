package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sparkyapp/sparky/pkg/event"
	"github.com/sparkyapp/sparky/pkg/handler"
	"github.com/sparkyapp/sparky/pkg/service"
	"github.com/sparkyapp/sparky/pkg/utils"
)

// Server is the HTTP boundary the presentation layer talks to: a JSON API
// plus the WebSocket event feed.
type Server struct {
	ginEngine *gin.Engine
	emitter   *event.Emitter
	logger    *slog.Logger
	host      string
	port      int
}

// ServerDeps bundles the services the routes are built from.
type ServerDeps struct {
	Chat       *service.ChatService
	Settings   *service.SettingsService
	Activation *service.ActivationService
}

func NewServer(host string, port int, emitter *event.Emitter, deps ServerDeps) *Server {
	gin.SetMode(gin.ReleaseMode)
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: the surface shell loads from a local dev server or a
	// custom scheme, so allow localhost origins and echo custom schemes.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// If there's no Origin header, it's not a browser CORS request.
		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1") ||
				strings.HasPrefix(origin, "app://")

			if allowed {
				// Echo the Origin to satisfy browsers on custom schemes.
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			} else {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		ginEngine: ginEngine,
		emitter:   emitter,
		logger:    utils.GetLogger(),
		host:      host,
		port:      port,
	}

	server.SetupRoutes(deps)

	return server
}

// Start listens and serves in the background; ctx cancellation shuts the
// server down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	// Attempt to listen first; if the port is occupied return immediately.
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	// Listen for context cancellation for graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	// Non-blocking: surface immediate startup failures, otherwise let main
	// continue.
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}

	s.logger.Info("Server listening", "addr", addr)
	return nil
}

func (s *Server) SetupRoutes(deps ServerDeps) {
	chatHandler := handler.NewChatHandler(deps.Chat)
	settingsHandler := handler.NewSettingsHandler(deps.Settings)
	activationHandler := handler.NewActivationHandler(deps.Activation)
	wsHandler := event.NewWSHandler(s.emitter)

	// API group
	// /api/v1
	apiGroup := s.ginEngine.Group("/api/v1")

	chatHandler.RegisterRoutes(apiGroup)
	settingsHandler.RegisterRoutes(apiGroup)
	activationHandler.RegisterRoutes(apiGroup)

	// Event feed for the presentation layer
	// /api/v1/events/ws
	apiGroup.GET("/events/ws", wsHandler.Handle)
}
