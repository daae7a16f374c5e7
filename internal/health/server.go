package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clubkit/botguard/internal/gate"
)

// checkTimeout bounds a single readiness probe round.
const checkTimeout = 5 * time.Second

// StatusProvider supplies the security overview for the /status endpoint.
type StatusProvider interface {
	Overview(ctx context.Context) (*gate.Status, error)
}

// Server is the operational HTTP server: liveness, readiness, metrics and
// the security overview.
type Server struct {
	checker  *Checker
	status   StatusProvider
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	srv      *http.Server
}

// ServerOption is a functional option for the server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer sets the Prometheus gatherer backing /metrics.
func WithGatherer(gatherer prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

// NewServer creates the ops server bound to addr.
func NewServer(addr string, checker *Checker, status StatusProvider, opts ...ServerOption) *Server {
	s := &Server{
		checker:  checker,
		status:   status,
		gatherer: prometheus.DefaultGatherer,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.handleLiveness)
	router.GET("/readyz", s.handleReadiness)
	router.GET("/status", s.handleStatus)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the router. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until Shutdown is called. It blocks; run it in its own
// goroutine.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", zap.String("addr", s.srv.Addr))

	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	results, healthy := s.checker.Check(ctx)

	code := http.StatusOK
	status := "ready"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "not ready"
	}

	c.JSON(code, gin.H{
		"status": status,
		"checks": results,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "status unavailable"})
		return
	}

	overview, err := s.status.Overview(c.Request.Context())
	if err != nil {
		s.logger.Error("status overview failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status overview failed"})
		return
	}

	c.JSON(http.StatusOK, overview)
}
