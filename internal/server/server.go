package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ageniuscoder/codecollab/backend/internal/auth"
	"github.com/ageniuscoder/codecollab/backend/internal/chat"
	"github.com/ageniuscoder/codecollab/backend/internal/config"
	"github.com/ageniuscoder/codecollab/backend/internal/conversations"
	"github.com/ageniuscoder/codecollab/backend/internal/feature"
	"github.com/ageniuscoder/codecollab/backend/internal/messages"
	"github.com/ageniuscoder/codecollab/backend/internal/presence"
	"github.com/ageniuscoder/codecollab/backend/internal/profile"
	"github.com/ageniuscoder/codecollab/backend/internal/storage/sqlstore"
	"github.com/ageniuscoder/codecollab/backend/internal/uploads"
	"github.com/ageniuscoder/codecollab/backend/internal/users"
)

// Components are the collaborators the HTTP surface is built on.
type Components struct {
	Store    *sqlstore.Store
	Registry *presence.Registry
	Hub      *chat.Hub
	Pipeline *messages.Pipeline
}

// Server defines fields used in HTTP processing
type Server struct {
	logger          *zap.SugaredLogger
	httpServer      *http.Server
	shutdownTimeout time.Duration
	afterShutdown   []func()
}

// NewServer builds the gin engine with every route mounted.
func NewServer(logger *zap.SugaredLogger, cfg config.Config, comp Components) (*Server, error) {
	engine, err := newEngine(logger, cfg, comp)
	if err != nil {
		return nil, err
	}
	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

func newEngine(logger *zap.SugaredLogger, cfg config.Config, comp Components) (*gin.Engine, error) {
	r := gin.New()
	r.Use(requestLog(logger.Desugar()), gin.Recovery(), cors(cfg.AllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := comp.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": comp.Hub.ClientCount()})
	})

	users.RegisterPublic(r.Group("/api/users"), users.Service{
		Store:     comp.Store,
		JWTSecret: cfg.JWTSecret,
		JWTTTLMin: cfg.JWTTTLMin,
		Logger:    logger,

		ReservedEmails: []string{cfg.AssistantEmail},
	})

	api := r.Group("/api", auth.JWTMiddleware(cfg.JWTSecret))
	profile.Register(api, profile.Service{Store: comp.Store, Logger: logger})
	feature.Register(api, feature.Service{Store: comp.Store, Presence: comp.Registry, Logger: logger})
	conversations.Register(api, conversations.Service{Store: comp.Store, Notifier: comp.Hub, Logger: logger})
	messages.Register(api, comp.Pipeline)
	if err := uploads.Register(r, api, uploads.Service{
		Dir:      cfg.UploadDir,
		MaxBytes: cfg.MaxUploadMB << 20,
		Logger:   logger,
	}); err != nil {
		return nil, fmt.Errorf("preparing upload dir: %w", err)
	}

	chat.RegisterWS(r.Group(""), comp.Hub, cfg.JWTSecret, cfg.AllowedOrigins)
	return r, nil
}

// RegisterAfterShutdown registers a function to call after the HTTP server stopped.
func (s *Server) RegisterAfterShutdown(f func()) {
	s.afterShutdown = append(s.afterShutdown, f)
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start calls ListenAndServe and shuts down gracefully on SIGINT or SIGTERM.
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		s.logger.Info("Shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for i := len(s.afterShutdown) - 1; i >= 0; i-- {
		s.afterShutdown[i]()
	}
	return nil
}
