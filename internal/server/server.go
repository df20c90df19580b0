// Package server exposes the routing engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"switchboard/internal/logging"
	"switchboard/internal/observability"
	"switchboard/internal/router"
	"switchboard/internal/session"
)

// Server serves the routing API.
type Server struct {
	router  *router.Router
	metrics *observability.Metrics
	logger  logging.Logger
	engine  *gin.Engine
	httpSrv *http.Server
}

// Option customizes the server.
type Option func(*Server)

// WithMetrics mounts the prometheus scrape endpoint.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Server) { s.metrics = metrics }
}

// WithLogger sets the log sink.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New builds the HTTP server around a router facade.
func New(r *router.Router, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: r,
		logger: logging.NewComponentLogger("Server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	engine.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := engine.Group("/api")
	{
		api.POST("/route", s.handleRoute)
		api.POST("/route/confirm", s.handleConfirm)
		api.POST("/sessions", s.handleCreateSession)
		api.GET("/sessions/:id", s.handleGetSession)
		api.POST("/sessions/:id/messages", s.handleAppendMessage)
	}

	s.engine = engine
	return s
}

// Run starts serving until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.OrNop(s.logger).Info("Listening on %s", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRoute(c *gin.Context) {
	var req router.RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.router.Route(c.Request.Context(), req)
	if err != nil && !errors.Is(err, router.ErrStoreFailure) {
		s.writeError(c, err)
		return
	}
	// A store failure is reported in-band: the decision stands.
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleConfirm(c *gin.Context) {
	var req router.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.router.Confirm(c.Request.Context(), req)
	if err != nil && !errors.Is(err, router.ErrStoreFailure) {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type createSessionRequest struct {
	ModelMaxTokens int `json:"model_max_tokens"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := s.router.StartSession(c.Request.Context(), req.ModelMaxTokens)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (s *Server) handleGetSession(c *gin.Context) {
	conv, err := s.router.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

type appendMessageRequest struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
}

func (s *Server) handleAppendMessage(c *gin.Context) {
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := session.Message{
		Role:      req.Role,
		Content:   req.Content,
		Timestamp: time.Now(),
	}
	if err := s.router.Append(c.Request.Context(), c.Param("id"), msg); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusNoContent, nil)
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, session.ErrNotFound) {
		status = http.StatusNotFound
	}
	logging.OrNop(s.logger).Warn("Request failed: %v", err)
	c.JSON(status, gin.H{"error": err.Error()})
}
