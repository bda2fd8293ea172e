// Package server exposes the AI commands of the hub over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nhle/notifyhub/internal/ai"
	"github.com/nhle/notifyhub/internal/hub"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP surface of the hub.
type Server struct {
	router *gin.Engine
	hub    *hub.Hub
	logger *zap.Logger
}

// New creates a server with its routes registered.
func New(h *hub.Hub, logger *zap.Logger) *Server {
	router := gin.New()
	logger = logger.Named("server")
	router.Use(requestLogger(logger))
	router.Use(recovery(logger))

	s := &Server{
		router: router,
		hub:    h,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.POST("/analyze", s.handleAnalyze())
		api.POST("/generate", s.handleGenerate())
		api.POST("/search", s.handleSearch())
	}

	s.router.GET("/health", s.handleHealth())
}

// contentRequest is the body of analyze and generate.
type contentRequest struct {
	Content   string `json:"content"`
	APIKey    string `json:"apiKey"`
	ServiceID string `json:"serviceId"`
}

// searchRequest is the body of search.
type searchRequest struct {
	Query     string `json:"query"`
	APIKey    string `json:"apiKey"`
	ServiceID string `json:"serviceId"`
}

func (s *Server) handleAnalyze() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req contentRequest
		if !bind(c, &req) {
			return
		}
		respond(c, s.hub.Analyze(c.Request.Context(), ai.Request{
			Content:   req.Content,
			APIKey:    req.APIKey,
			ServiceID: req.ServiceID,
		}))
	}
}

func (s *Server) handleGenerate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req contentRequest
		if !bind(c, &req) {
			return
		}
		respond(c, s.hub.Generate(c.Request.Context(), ai.Request{
			Content:   req.Content,
			APIKey:    req.APIKey,
			ServiceID: req.ServiceID,
		}))
	}
}

func (s *Server) handleSearch() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req searchRequest
		if !bind(c, &req) {
			return
		}
		respond(c, s.hub.Search(c.Request.Context(), ai.Request{
			Content:   req.Query,
			APIKey:    req.APIKey,
			ServiceID: req.ServiceID,
		}))
	}
}

func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		respond(c, s.hub.Health(c.Request.Context()))
	}
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, ai.Envelope[struct{}]{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// respond writes res as an envelope with the status of its error code.
func respond[T any](c *gin.Context, res hub.Result[T]) {
	if res.OK() {
		c.JSON(http.StatusOK, ai.Envelope[T]{Success: true, Response: res.Data})
		return
	}
	c.JSON(statusFor(res.Error.Code), ai.Envelope[T]{Error: res.Error.Message})
}

func statusFor(code string) int {
	switch code {
	case hub.CodeValidation:
		return http.StatusBadRequest
	case hub.CodeAuth:
		return http.StatusUnauthorized
	case hub.CodeNotFound:
		return http.StatusNotFound
	case hub.CodeInvalidState:
		return http.StatusConflict
	case hub.CodeService:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
